// Package bundler implements the Bundler (C5): turns one LinkedPatient into
// a FHIR transaction Bundle, grounded on the teacher's NewTransactionBundle
// and FormatReference helpers, generalized from a per-request HTTP handler
// into a pure function over an accumulated cluster.
package bundler

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/patiently/ingestpipeline/internal/ingest/ingesterr"
	"github.com/patiently/ingestpipeline/internal/ingest/model"
	"github.com/patiently/ingestpipeline/internal/platform/fhir"
)

// knownResourceTypes is the fixed schema this pipeline's adapters and
// builders ever emit. A resource type outside this set fails the bundle
// with UnknownResourceType rather than being silently passed through.
var knownResourceTypes = map[string]bool{
	"Patient":           true,
	"Observation":       true,
	"Condition":         true,
	"Encounter":         true,
	"DocumentReference": true,
	"ImagingStudy":      true,
	"DiagnosticReport":  true,
}

// Build constructs one transaction Bundle from a linked patient: a fresh
// urn:uuid: per entry, Patient first, every subject/patient-shaped
// reference rewritten to the Patient's urn:uuid:, and the accumulated
// resources' relative order preserved — which preserves each adapter's own
// emission order, in adapter dispatch order.
func Build(patient *model.LinkedPatient) (*fhir.Bundle, error) {
	if patient.FHIRPatient == nil {
		return nil, ingesterr.Newf(ingesterr.BundleMissingPatient, patient.CanonicalID, "linked patient has no fhir_patient")
	}

	patientFullURL := "urn:uuid:" + uuid.New().String()
	resolve := map[string]string{model.PatientReferenceSentinel: patientFullURL}

	type pendingEntry struct {
		fullURL      string
		resourceType string
		payload      map[string]interface{}
	}
	pending := make([]pendingEntry, 0, len(patient.AllResources)+1)
	pending = append(pending, pendingEntry{fullURL: patientFullURL, resourceType: "Patient", payload: patient.FHIRPatient})

	for _, r := range patient.AllResources {
		if !knownResourceTypes[r.ResourceType] {
			return nil, ingesterr.Newf(ingesterr.UnknownResourceType, r.LocalID, "resource type %q is not part of the bundled schema", r.ResourceType)
		}
		fullURL := "urn:uuid:" + uuid.New().String()
		resolve["urn:local:"+r.LocalID] = fullURL
		pending = append(pending, pendingEntry{fullURL: fullURL, resourceType: r.ResourceType, payload: r.Payload})
	}

	bundle := fhir.NewTransactionBundle()
	for _, p := range pending {
		// Rewrite references on a copy so the cluster's own payloads are
		// left unchanged.
		raw, err := json.Marshal(p.payload)
		if err != nil {
			return nil, ingesterr.New(ingesterr.ParseFailed, patient.CanonicalID, err)
		}
		var payload map[string]interface{}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, ingesterr.New(ingesterr.ParseFailed, patient.CanonicalID, err)
		}
		model.RewriteReferences(payload, func(ref string) (string, bool) {
			target, ok := resolve[ref]
			return target, ok
		})

		raw, err = json.Marshal(payload)
		if err != nil {
			return nil, ingesterr.New(ingesterr.ParseFailed, patient.CanonicalID, err)
		}

		bundle.Entry = append(bundle.Entry, fhir.BundleEntry{
			FullURL:  p.fullURL,
			Resource: raw,
			Request:  &fhir.BundleRequest{Method: "POST", URL: p.resourceType},
		})
	}

	return bundle, nil
}
