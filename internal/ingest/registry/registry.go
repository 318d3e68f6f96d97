// Package registry implements the Adapter Registry (C3): a fixed, ordered
// sequence of adapters with a single dispatch operation. The registry is a
// plain ordered sequence, not a base class — adapters are a capability set
// {SourceType, Supports, Parse} implemented as an interface.
package registry

import (
	"github.com/patiently/ingestpipeline/internal/ingest/model"
	"github.com/patiently/ingestpipeline/internal/ingest/source"
)

// Adapter is the capability set every source adapter implements.
type Adapter interface {
	// SourceType returns a stable tag identifying the adapter.
	SourceType() string
	// Supports is a cheap, side-effect-free shape check. It must not panic
	// on malformed or unreadable input — return false instead.
	Supports(in source.Input) bool
	// Parse parses an input this adapter has already claimed via Supports.
	Parse(in source.Input) (model.AdapterResult, error)
}

// Registry holds adapters in detection-priority order.
type Registry struct {
	adapters []Adapter
}

// New builds a Registry from adapters in the order they should be probed.
func New(adapters ...Adapter) *Registry {
	return &Registry{adapters: adapters}
}

// Dispatch returns the result of the first adapter whose Supports is true.
// matched is false when no adapter claims the input (a silent skip, per
// §4.2: "supports=false is silent"). When matched is true and err is
// non-nil, the claiming adapter's Parse failed — there is no fallback to
// later adapters, since detection is authoritative.
func (r *Registry) Dispatch(in source.Input) (result model.AdapterResult, matched bool, err error) {
	for _, a := range r.adapters {
		if !safeSupports(a, in) {
			continue
		}
		res, parseErr := a.Parse(in)
		return res, true, parseErr
	}
	return model.AdapterResult{}, false, nil
}

// safeSupports guards against a Supports implementation that panics on
// unreadable input, honoring the contract that Supports must not raise.
func safeSupports(a Adapter, in source.Input) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return a.Supports(in)
}
