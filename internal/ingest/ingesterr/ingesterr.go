// Package ingesterr defines the error taxonomy the ingestion pipeline
// classifies failures into, so the driver can tally a summary by kind
// without inspecting error strings.
package ingesterr

import "fmt"

// Kind is one of the taxonomy entries from the error handling design.
type Kind string

const (
	InvalidInput          Kind = "InvalidInput"
	ParseFailed           Kind = "ParseFailed"
	InconsistentSampling  Kind = "InconsistentSampling"
	AdapterTimeout        Kind = "AdapterTimeout"
	BundleMissingPatient  Kind = "BundleMissingPatient"
	UnknownResourceType   Kind = "UnknownResourceType"
)

// Error wraps an underlying cause with a taxonomy Kind and the offending
// location (a file path, segment name, or field name, as applicable).
type Error struct {
	Kind     Kind
	Location string
	Cause    error
}

func (e *Error) Error() string {
	if e.Location != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Location, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New constructs a classified Error wrapping cause with %w-style semantics.
func New(kind Kind, location string, cause error) *Error {
	return &Error{Kind: kind, Location: location, Cause: cause}
}

// Newf constructs a classified Error from a format string, matching the
// fmt.Errorf idiom used throughout the adapters.
func Newf(kind Kind, location, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Location: location, Cause: fmt.Errorf(format, args...)}
}
