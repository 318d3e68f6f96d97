package handwrittennotes

import (
	"errors"
	"testing"
	"time"

	"github.com/patiently/ingestpipeline/internal/ingest/clockutil"
	"github.com/patiently/ingestpipeline/internal/ingest/fhirbuild"
	"github.com/patiently/ingestpipeline/internal/ingest/ingesterr"
	"github.com/patiently/ingestpipeline/internal/ingest/source"
	"github.com/patiently/ingestpipeline/internal/ingest/vlm"
)

func testCodes() fhirbuild.CodeSystems {
	return fhirbuild.CodeSystems{
		LOINC:  "http://loinc.org",
		SNOMED: "http://snomed.info/sct",
		ICD10:  "http://hl7.org/fhir/sid/icd-10",
		UCUM:   "http://unitsofmeasure.org",
		MRN:    "http://terminology.hl7.org/CodeSystem/v2-0203",
		ABHA:   "https://healthid.ndhm.gov.in",
	}
}

func asIngestErr(t *testing.T, err error) *ingesterr.Error {
	t.Helper()
	ierr, ok := err.(*ingesterr.Error)
	if !ok {
		t.Fatalf("expected *ingesterr.Error, got %T (%v)", err, err)
	}
	return ierr
}

func TestSupports_ImageExtensions(t *testing.T) {
	a := New(testCodes(), vlm.NewStubClient())
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp"} {
		if !a.Supports(source.Input{Path: "note" + ext, Data: []byte("x")}) {
			t.Errorf("expected adapter to claim %s", ext)
		}
	}
}

func TestSupports_RejectsNonImage(t *testing.T) {
	a := New(testCodes(), vlm.NewStubClient())
	if a.Supports(source.Input{Path: "note.txt", Data: []byte("x")}) {
		t.Fatal("expected adapter to reject .txt")
	}
}

func TestParse_StubExtraction(t *testing.T) {
	a := New(testCodes(), vlm.NewStubClient())
	result, err := a.Parse(source.Input{Path: "sim_note.png", Data: []byte("fake-image-bytes")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.PatientIdentity.GivenName != "Rajesh" || result.PatientIdentity.FamilyName != "Kumar" {
		t.Errorf("expected Rajesh/Kumar, got %s/%s", result.PatientIdentity.GivenName, result.PatientIdentity.FamilyName)
	}
	if result.PatientIdentity.HasCanonicalKey() {
		t.Error("expected name-only identity to carry no canonical key (weak key)")
	}

	var documents, conditions, observations int
	for _, r := range result.FHIRResources {
		switch r.ResourceType {
		case "DocumentReference":
			documents++
		case "Condition":
			conditions++
		case "Observation":
			observations++
		}
	}
	if documents != 1 {
		t.Errorf("expected 1 DocumentReference, got %d", documents)
	}
	if conditions != 1 {
		t.Errorf("expected 1 Condition, got %d", conditions)
	}
	if observations != 6 {
		t.Errorf("expected 6 vital Observations, got %d", observations)
	}
}

func TestParse_ClientErrorIsAdapterTimeout(t *testing.T) {
	failing := vlm.StubClient{Err: errors.New("upstream unavailable")}
	a := New(testCodes(), failing)
	_, err := a.Parse(source.Input{Path: "sim_note.png", Data: []byte("x")})
	if err == nil {
		t.Fatal("expected error when VLM client fails")
	}
	if asIngestErr(t, err).Kind != ingesterr.AdapterTimeout {
		t.Errorf("expected AdapterTimeout, got %v", asIngestErr(t, err).Kind)
	}
}

func TestParse_EmptyNameYieldsNoIdentity(t *testing.T) {
	empty := vlm.StubClient{Note: vlm.StructuredNote{}}
	a := New(testCodes(), empty)
	result, err := a.Parse(source.Input{Path: "sim_note.png", Data: []byte("x")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.PatientIdentity.FullName != "" {
		t.Errorf("expected empty full name, got %q", result.PatientIdentity.FullName)
	}
	if len(result.FHIRResources) != 2 {
		t.Errorf("expected Patient + DocumentReference only, got %d", len(result.FHIRResources))
	}
}

func TestParse_VitalsUseInjectedClockForEffectiveTime(t *testing.T) {
	fixed := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	a := New(testCodes(), vlm.NewStubClient())
	a.Clock = clockutil.Fixed{At: fixed}

	result, err := a.Parse(source.Input{Path: "sim_note.png", Data: []byte("x")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var found bool
	for _, r := range result.FHIRResources {
		if r.ResourceType != "Observation" {
			continue
		}
		found = true
		if r.Payload["effectiveDateTime"] != fixed.Format(time.RFC3339) {
			t.Errorf("expected effectiveDateTime to come from the injected clock, got %v", r.Payload["effectiveDateTime"])
		}
	}
	if !found {
		t.Fatal("expected at least one Observation")
	}
}

func TestNew_PanicsOnNilClient(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when client is nil")
		}
	}()
	New(testCodes(), nil)
}
