package wearable

import (
	"testing"

	"github.com/patiently/ingestpipeline/internal/ingest/fhirbuild"
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

const appleHealthXML = `<?xml version="1.0" encoding="UTF-8"?>
<HealthData>
  <Me HKCharacteristicTypeIdentifierDateOfBirth="1975-08-15" HKCharacteristicTypeIdentifierBiologicalSex="HKBiologicalSexMale"/>
  <Record type="HKQuantityTypeIdentifierHeartRate" startDate="2024-01-15 08:00:00 -0500" value="72" unit="count/min"/>
  <Record type="HKQuantityTypeIdentifierHeartRate" startDate="2024-01-15 08:05:00 -0500" value="74" unit="count/min"/>
  <Record type="HKQuantityTypeIdentifierHeartRate" startDate="2024-01-15 08:10:00 -0500" value="75" unit="count/min"/>
  <Record type="HKQuantityTypeIdentifierHeartRate" startDate="2024-01-15 08:15:00 -0500" value="73" unit="count/min"/>
  <Record type="HKQuantityTypeIdentifierHeartRate" startDate="2024-01-15 08:20:00 -0500" value="76" unit="count/min"/>
</HealthData>`

const googleFitJSON = `{
  "dataSourceId": "derived:com.google.heart_rate.bpm:com.google.android.gms:merged",
  "bucket": [
    {"dataset": [{"dataTypeName": "com.google.heart_rate.bpm", "point": [
      {"startTimeNanos": "1705305600000000000", "value": [{"fpVal": 80.0}]},
      {"startTimeNanos": "1705305900000000000", "value": [{"fpVal": 82.0}]}
    ]}]}
  ],
  "patientFullName": "Priya Sharma",
  "patientGender": "female"
}`

func TestSupports_AppleHealthXML(t *testing.T) {
	a := New(testCodes())
	in := source.Input{Path: "sim_apple_health.xml", Data: []byte(appleHealthXML)}
	if !a.Supports(in) {
		t.Fatal("expected adapter to claim HealthData XML")
	}
}

func TestSupports_RejectsOtherXML(t *testing.T) {
	a := New(testCodes())
	in := source.Input{Path: "other.xml", Data: []byte("<Other/>")}
	if a.Supports(in) {
		t.Fatal("expected adapter to reject non-HealthData XML")
	}
}

func TestSupports_GoogleFitJSON(t *testing.T) {
	a := New(testCodes())
	in := source.Input{Path: "sim_google_fit.json", Data: []byte(googleFitJSON)}
	if !a.Supports(in) {
		t.Fatal("expected adapter to claim Google Fit JSON")
	}
}

func TestParse_AppleHealth(t *testing.T) {
	a := New(testCodes())
	in := source.Input{Path: "sim_apple_health.xml", Data: []byte(appleHealthXML)}
	result, err := a.Parse(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.PatientIdentity.BirthDate != "1975-08-15" {
		t.Errorf("expected birth date from Me element, got %q", result.PatientIdentity.BirthDate)
	}
	if result.PatientIdentity.Gender != "male" {
		t.Errorf("expected male gender, got %q", result.PatientIdentity.Gender)
	}

	var observations int
	for _, r := range result.FHIRResources {
		if r.ResourceType == "Observation" {
			observations++
		}
	}
	if observations != 5 {
		t.Errorf("expected 5 heart-rate Observations, got %d", observations)
	}
}

func TestParse_GoogleFit(t *testing.T) {
	a := New(testCodes())
	in := source.Input{Path: "sim_google_fit.json", Data: []byte(googleFitJSON)}
	result, err := a.Parse(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.PatientIdentity.FullName != "Priya Sharma" {
		t.Errorf("expected full name Priya Sharma, got %q", result.PatientIdentity.FullName)
	}
	if result.PatientIdentity.Gender != "female" {
		t.Errorf("expected female gender, got %q", result.PatientIdentity.Gender)
	}

	var observations int
	for _, r := range result.FHIRResources {
		if r.ResourceType == "Observation" {
			observations++
		}
	}
	if observations != 2 {
		t.Errorf("expected 2 Observations, got %d", observations)
	}
}

func TestParse_GoogleFit_ZeroPointsStillEmitsPatient(t *testing.T) {
	doc := `{"dataSourceId": "x", "bucket": [{"dataset": [{"dataTypeName": "com.google.heart_rate.bpm", "point": []}]}]}`
	a := New(testCodes())
	result, err := a.Parse(source.Input{Path: "empty.json", Data: []byte(doc)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.FHIRResources) != 1 {
		t.Fatalf("expected exactly the Patient resource, got %d resources", len(result.FHIRResources))
	}
	if result.FHIRResources[0].ResourceType != "Patient" {
		t.Errorf("expected Patient resource, got %q", result.FHIRResources[0].ResourceType)
	}
}
