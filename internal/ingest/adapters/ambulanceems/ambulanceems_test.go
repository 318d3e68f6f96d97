package ambulanceems

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

const nemsisXML = `<?xml version="1.0" encoding="UTF-8"?>
<EMSDataSet xmlns="http://www.nemsis.org/media/nemsis_v3/release-3.5.0/XSDs/NEMSIS_NAT_XSD/NEMSIS_NAT_v3.5.0.250403_20250403_XSD/">
  <PatientCareReport>
    <ePatient>
      <ePatient.PatientNameGroup>
        <ePatient.01>Kumar</ePatient.01>
        <ePatient.02>Rajesh</ePatient.02>
      </ePatient.PatientNameGroup>
      <ePatient.13>9906001</ePatient.13>
      <ePatient.17>1975-08-15</ePatient.17>
      <ePatient.MRN>MRN-2024-001234</ePatient.MRN>
    </ePatient>
    <eTimes.01>2024-01-15T07:45:00Z</eTimes.01>
    <eTimes.07>2024-01-15T08:05:00Z</eTimes.07>
    <eVitals.VitalGroup>
      <eVitals.01>2024-01-15T07:50:00Z</eVitals.01>
      <eVitals.06>138</eVitals.06>
      <eVitals.07>86</eVitals.07>
      <eVitals.10>92</eVitals.10>
      <eVitals.12>97</eVitals.12>
      <eVitals.14>20</eVitals.14>
      <eVitals.24>37.0</eVitals.24>
    </eVitals.VitalGroup>
    <eVitals.VitalGroup>
      <eVitals.01>2024-01-15T07:55:00Z</eVitals.01>
      <eVitals.06>135</eVitals.06>
      <eVitals.07>84</eVitals.07>
      <eVitals.10>90</eVitals.10>
      <eVitals.12>97</eVitals.12>
      <eVitals.14>19</eVitals.14>
      <eVitals.24>36.9</eVitals.24>
    </eVitals.VitalGroup>
    <eVitals.VitalGroup>
      <eVitals.01>2024-01-15T08:00:00Z</eVitals.01>
      <eVitals.06>132</eVitals.06>
      <eVitals.07>82</eVitals.07>
      <eVitals.10>88</eVitals.10>
      <eVitals.12>98</eVitals.12>
      <eVitals.14>18</eVitals.14>
    </eVitals.VitalGroup>
  </PatientCareReport>
</EMSDataSet>`

func TestSupports_NEMSISNamespace(t *testing.T) {
	a := New(testCodes())
	in := source.Input{Path: "sim_ambulance.xml", Data: []byte(nemsisXML)}
	if !a.Supports(in) {
		t.Fatal("expected adapter to claim NEMSIS-namespaced XML")
	}
}

func TestSupports_RejectsOtherNamespace(t *testing.T) {
	a := New(testCodes())
	in := source.Input{Path: "other.xml", Data: []byte(`<Foo xmlns="http://example.com/other"/>`)}
	if a.Supports(in) {
		t.Fatal("expected adapter to reject a non-NEMSIS namespace")
	}
}

func TestParse_Ambulance(t *testing.T) {
	a := New(testCodes())
	result, err := a.Parse(source.Input{Path: "sim_ambulance.xml", Data: []byte(nemsisXML)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	id := result.PatientIdentity
	if id.FamilyName != "Kumar" || id.GivenName != "Rajesh" {
		t.Errorf("expected Kumar/Rajesh, got %s/%s", id.FamilyName, id.GivenName)
	}
	if id.MRN != "MRN-2024-001234" {
		t.Errorf("expected MRN-2024-001234, got %q", id.MRN)
	}

	var encounters, observations int
	for _, r := range result.FHIRResources {
		switch r.ResourceType {
		case "Encounter":
			encounters++
		case "Observation":
			observations++
		}
	}
	if encounters != 1 {
		t.Errorf("expected 1 emergency Encounter, got %d", encounters)
	}
	// 3 groups: first two have 6 vitals, third has 5 (no temperature) = 17.
	if observations != 17 {
		t.Errorf("expected 17 Observations across 3 vital groups, got %d", observations)
	}
	if len(result.FHIRResources) < 10 {
		t.Errorf("expected at least 10 resources total, got %d", len(result.FHIRResources))
	}
}
