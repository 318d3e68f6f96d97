// Package pipeline implements the Pipeline Driver (C6): the end-to-end
// orchestration of dispatch, linking, and bundling across one file or an
// entire directory tree, grounded on the teacher's runServer bootstrap
// style (zerolog logger construction, cobra-invoked entry point) adapted
// from a long-lived HTTP server into a single synchronous batch run.
package pipeline

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/patiently/ingestpipeline/internal/ingest/bundler"
	"github.com/patiently/ingestpipeline/internal/ingest/fhirbuild"
	"github.com/patiently/ingestpipeline/internal/ingest/ingesterr"
	"github.com/patiently/ingestpipeline/internal/ingest/linker"
	"github.com/patiently/ingestpipeline/internal/ingest/model"
	"github.com/patiently/ingestpipeline/internal/ingest/registry"
	"github.com/patiently/ingestpipeline/internal/ingest/source"
	"github.com/patiently/ingestpipeline/internal/platform/fhir"
)

// Driver ties the adapter registry, linker, and bundler together into the
// operations the CLI exposes. It holds no state across calls to Run or
// IngestDirectory — each call starts a fresh Linker, per the concurrency
// model's "no shared mutable state" contract.
type Driver struct {
	Registry *registry.Registry
	Codes    fhirbuild.CodeSystems
	Logger   zerolog.Logger

	// Scenario is an opaque label threaded through into run diagnostics
	// (the summary log line). The pipeline never generates data for it —
	// scenario-driven simulation is an external collaborator's concern.
	Scenario string
}

// New builds a Driver from a pre-wired registry.
func New(reg *registry.Registry, codes fhirbuild.CodeSystems, logger zerolog.Logger) *Driver {
	return &Driver{Registry: reg, Codes: codes, Logger: logger}
}

// Summary tallies one IngestDirectory run for a closing log line.
type Summary struct {
	FilesSeen    int
	FilesMatched int
	FilesSkipped int // no adapter claimed the input
	Errors       map[ingesterr.Kind]int
	Cancelled    bool
}

func newSummary() Summary {
	return Summary{Errors: map[ingesterr.Kind]int{}}
}

// BundleResult pairs one linker cluster's canonical id with its built
// Bundle, since a Bundle by itself carries no patient identifier.
type BundleResult struct {
	CanonicalID string
	Bundle      *fhir.Bundle
}

// IngestFile dispatches one input through the registry. A nil result with a
// nil error means no adapter claimed the input (a silent skip); a non-nil
// error means the claiming adapter's Parse failed.
func (d *Driver) IngestFile(path string) (*model.AdapterResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ingesterr.New(ingesterr.InvalidInput, path, err)
	}

	result, matched, err := d.Registry.Dispatch(source.Input{Path: path, Data: data})
	if err != nil {
		return nil, err
	}
	if !matched {
		return nil, nil
	}
	return &result, nil
}

// IngestDirectory recursively walks root in lexicographic order, skipping
// hidden entries and symlinks, dispatches every regular file, feeds results
// to a Linker in traversal order, and emits one Bundle per resulting
// cluster. ctx is checked between files; cancellation abandons pending
// files but still bundles every cluster absorbed so far.
func (d *Driver) IngestDirectory(ctx context.Context, root string) ([]BundleResult, Summary, error) {
	summary := newSummary()
	l := linker.New(d.Codes)

	paths, err := listFilesLexicographic(root)
	if err != nil {
		return nil, summary, err
	}

	for _, path := range paths {
		select {
		case <-ctx.Done():
			summary.Cancelled = true
			d.Logger.Warn().Str("root", root).Msg("ingest_directory cancelled, flushing already-linked clusters")
		default:
		}
		if summary.Cancelled {
			break
		}

		summary.FilesSeen++
		result, err := d.IngestFile(path)
		if err != nil {
			summary.Errors[classify(err)]++
			d.Logger.Warn().Err(err).Str("path", path).Msg("ingest_file failed")
			continue
		}
		if result == nil {
			summary.FilesSkipped++
			d.Logger.Debug().Str("path", path).Msg("no adapter claimed input")
			continue
		}

		summary.FilesMatched++
		d.Logger.Info().Str("path", path).Str("source_type", result.SourceType).Msg("ingest_file succeeded")
		l.Absorb(*result)
	}

	var bundles []BundleResult
	for _, cluster := range l.Clusters() {
		bundle, err := bundler.Build(cluster)
		if err != nil {
			summary.Errors[classify(err)]++
			d.Logger.Warn().Err(err).Str("canonical_id", cluster.CanonicalID).Msg("bundle failed")
			continue
		}
		bundles = append(bundles, BundleResult{CanonicalID: cluster.CanonicalID, Bundle: bundle})
	}

	errorsByKind := zerolog.Dict()
	for kind, n := range summary.Errors {
		errorsByKind.Int(string(kind), n)
	}
	d.Logger.Info().
		Int("files_seen", summary.FilesSeen).
		Int("files_matched", summary.FilesMatched).
		Int("files_skipped", summary.FilesSkipped).
		Int("bundles_written", len(bundles)).
		Dict("errors_by_kind", errorsByKind).
		Bool("cancelled", summary.Cancelled).
		Str("scenario", d.Scenario).
		Msg("ingest_directory summary")

	return bundles, summary, nil
}

// Run ingests input_root end to end and serializes each resulting Bundle as
// JSON into output_dir/<canonical_id>.json, overwriting any pre-existing
// file, returning the list of paths written.
func (d *Driver) Run(ctx context.Context, inputRoot, outputDir string) ([]string, error) {
	bundles, _, err := d.IngestDirectory(ctx, inputRoot)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, ingesterr.New(ingesterr.InvalidInput, outputDir, err)
	}

	var written []string
	for _, br := range bundles {
		raw, err := json.MarshalIndent(br.Bundle, "", "  ")
		if err != nil {
			return nil, ingesterr.New(ingesterr.ParseFailed, br.CanonicalID, err)
		}
		outPath := filepath.Join(outputDir, br.CanonicalID+".json")
		if err := os.WriteFile(outPath, raw, 0o644); err != nil {
			return nil, ingesterr.New(ingesterr.InvalidInput, outPath, err)
		}
		written = append(written, outPath)
	}

	d.Logger.Info().Int("bundle_count", len(written)).Str("output_dir", outputDir).Msg("run complete")
	return written, nil
}

// listFilesLexicographic walks root recursively, returning regular files in
// lexicographic path order and skipping hidden entries and symlinks.
func listFilesLexicographic(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

func classify(err error) ingesterr.Kind {
	if ierr, ok := err.(*ingesterr.Error); ok {
		return ierr.Kind
	}
	return ingesterr.ParseFailed
}
