package pipeline

import (
	"github.com/patiently/ingestpipeline/internal/ingest/adapters/ambulanceems"
	"github.com/patiently/ingestpipeline/internal/ingest/adapters/handwrittennotes"
	"github.com/patiently/ingestpipeline/internal/ingest/adapters/hospitalehr"
	"github.com/patiently/ingestpipeline/internal/ingest/adapters/realtimevitals"
	"github.com/patiently/ingestpipeline/internal/ingest/adapters/scanslabs"
	"github.com/patiently/ingestpipeline/internal/ingest/adapters/wearable"
	"github.com/patiently/ingestpipeline/internal/ingest/fhirbuild"
	"github.com/patiently/ingestpipeline/internal/ingest/registry"
	"github.com/patiently/ingestpipeline/internal/ingest/vlm"
)

// WireRegistry builds the Adapter Registry in the fixed detection-priority
// order: hospital_ehr, wearable, ambulance_ems, realtime_vitals,
// scans_labs, handwritten_notes. Order matters — Dispatch commits to the
// first adapter whose Supports is true and never falls back.
func WireRegistry(codes fhirbuild.CodeSystems, vlmClient vlm.Client) *registry.Registry {
	return registry.New(
		hospitalehr.New(codes),
		wearable.New(codes),
		ambulanceems.New(codes),
		realtimevitals.New(codes),
		scanslabs.New(codes),
		handwrittennotes.New(codes, vlmClient),
	)
}
