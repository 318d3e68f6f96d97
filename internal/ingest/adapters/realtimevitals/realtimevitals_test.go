package realtimevitals

import (
	"strings"
	"testing"

	"github.com/patiently/ingestpipeline/internal/ingest/fhirbuild"
	"github.com/patiently/ingestpipeline/internal/ingest/ingesterr"
	"github.com/patiently/ingestpipeline/internal/ingest/source"
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

const bedsideJSON = `{
  "subject": {"mrn": "MRN-2024-001234"},
  "samples": [
    {"timestamp": "2024-01-15T08:00:00Z", "heart_rate": 78, "spo2": 97},
    {"timestamp": "2024-01-15T08:01:00Z", "heart_rate": 80, "systolic_bp": 130, "diastolic_bp": 85}
  ]
}`

func asIngestErr(t *testing.T, err error) *ingesterr.Error {
	t.Helper()
	ierr, ok := err.(*ingesterr.Error)
	if !ok {
		t.Fatalf("expected *ingesterr.Error, got %T (%v)", err, err)
	}
	return ierr
}

func TestSupports_BedsideJSON(t *testing.T) {
	a := New(testCodes())
	if !a.Supports(source.Input{Path: "sim_bedside.json", Data: []byte(bedsideJSON)}) {
		t.Fatal("expected adapter to claim bedside JSON with samples[]")
	}
}

func TestSupports_RejectsJSONWithoutSamples(t *testing.T) {
	a := New(testCodes())
	if a.Supports(source.Input{Path: "other.json", Data: []byte(`{"foo": "bar"}`)}) {
		t.Fatal("expected adapter to reject JSON without samples[]")
	}
}

func TestSupports_ECGHeader(t *testing.T) {
	a := New(testCodes())
	csvData := "timestamp_ms,mV\n0,0.1\n4,0.2\n"
	if !a.Supports(source.Input{Path: "sim_ecg.csv", Data: []byte(csvData)}) {
		t.Fatal("expected adapter to claim CSV with timestamp_ms header")
	}
}

func TestSupports_RejectsOtherCSV(t *testing.T) {
	a := New(testCodes())
	csvData := "name,value\nfoo,1\n"
	if a.Supports(source.Input{Path: "other.csv", Data: []byte(csvData)}) {
		t.Fatal("expected adapter to reject CSV without timestamp_ms header")
	}
}

func TestParse_BedsideJSON(t *testing.T) {
	a := New(testCodes())
	result, err := a.Parse(source.Input{Path: "sim_bedside.json", Data: []byte(bedsideJSON)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.PatientIdentity.MRN != "MRN-2024-001234" {
		t.Errorf("expected MRN-2024-001234, got %q", result.PatientIdentity.MRN)
	}

	var observations int
	for _, r := range result.FHIRResources {
		if r.ResourceType == "Observation" {
			observations++
		}
	}
	// sample 1: heart_rate, spo2 = 2; sample 2: heart_rate, systolic_bp, diastolic_bp = 3
	if observations != 5 {
		t.Errorf("expected 5 Observations, got %d", observations)
	}
}

func TestParse_BedsideJSON_RequiresMRN(t *testing.T) {
	a := New(testCodes())
	doc := `{"subject": {}, "samples": []}`
	_, err := a.Parse(source.Input{Path: "no_mrn.json", Data: []byte(doc)})
	if err == nil {
		t.Fatal("expected error for missing subject.mrn")
	}
	if asIngestErr(t, err).Kind != ingesterr.InvalidInput {
		t.Errorf("expected InvalidInput, got %v", asIngestErr(t, err).Kind)
	}
}

func uniformECG() string {
	var b strings.Builder
	b.WriteString("timestamp_ms,mV\n")
	for i := 0; i < 10; i++ {
		b.WriteString(intToStr(i*4) + ",0.1\n")
	}
	return b.String()
}

func jitteryECG() string {
	var b strings.Builder
	b.WriteString("timestamp_ms,mV\n")
	deltas := []int{4, 4, 4, 20, 4, 4, 4, 4, 4, 4}
	ts := 0
	for _, d := range deltas {
		b.WriteString(intToStr(ts) + ",0.1\n")
		ts += d
	}
	return b.String()
}

func intToStr(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestParse_ECGWaveform_UniformSampling(t *testing.T) {
	a := New(testCodes())
	result, err := a.Parse(source.Input{Path: "sim_ecg.csv", Data: []byte(uniformECG())})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var sampledData int
	for _, r := range result.FHIRResources {
		if r.ResourceType == "Observation" {
			if _, ok := r.Payload["valueSampledData"]; ok {
				sampledData++
			}
		}
	}
	if sampledData != 1 {
		t.Errorf("expected exactly one SampledData Observation, got %d", sampledData)
	}
}

func TestParse_ECGWaveform_JitterFailsWithInconsistentSampling(t *testing.T) {
	a := New(testCodes())
	_, err := a.Parse(source.Input{Path: "sim_ecg_jittery.csv", Data: []byte(jitteryECG())})
	if err == nil {
		t.Fatal("expected InconsistentSampling error for jittery timestamps")
	}
	if asIngestErr(t, err).Kind != ingesterr.InconsistentSampling {
		t.Errorf("expected InconsistentSampling, got %v", asIngestErr(t, err).Kind)
	}
}

func TestParse_ECGWaveform_MissingColumnsFails(t *testing.T) {
	a := New(testCodes())
	csvData := "foo,bar\n1,2\n"
	_, err := a.Parse(source.Input{Path: "bad.csv", Data: []byte(csvData)})
	if err == nil {
		t.Fatal("expected parse failure for missing timestamp_ms/mV columns")
	}
}
