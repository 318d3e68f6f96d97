package linker

import (
	"testing"

	"github.com/patiently/ingestpipeline/internal/ingest/fhirbuild"
	"github.com/patiently/ingestpipeline/internal/ingest/model"
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

func resultWithIdentity(sourceType string, id model.PatientIdentity, extra ...model.ResourceEnvelope) model.AdapterResult {
	return model.AdapterResult{PatientIdentity: id, SourceType: sourceType, FHIRResources: extra}
}

func TestAbsorb_SameMRNMergesIntoOneCluster(t *testing.T) {
	l := New(testCodes())
	l.Absorb(resultWithIdentity("hospital_ehr", model.PatientIdentity{SourceID: "a", MRN: "MRN-001", FamilyName: "Kumar"}))
	l.Absorb(resultWithIdentity("wearable", model.PatientIdentity{SourceID: "b", MRN: "MRN-001", GivenName: "Rajesh"}))

	clusters := l.Clusters()
	if len(clusters) != 1 {
		t.Fatalf("expected 1 cluster, got %d", len(clusters))
	}
	if clusters[0].FHIRPatient["id"] == nil {
		t.Error("expected merged Patient payload to carry an id")
	}
	if len(clusters[0].Identities) != 2 {
		t.Errorf("expected 2 absorbed identities, got %d", len(clusters[0].Identities))
	}
	if !clusters[0].SourceTypes["hospital_ehr"] || !clusters[0].SourceTypes["wearable"] {
		t.Error("expected both source types recorded")
	}
}

func TestAbsorb_DifferentMRNsFormDistinctClusters(t *testing.T) {
	l := New(testCodes())
	l.Absorb(resultWithIdentity("hospital_ehr", model.PatientIdentity{SourceID: "a", MRN: "MRN-001"}))
	l.Absorb(resultWithIdentity("hospital_ehr", model.PatientIdentity{SourceID: "b", MRN: "MRN-002"}))

	if len(l.Clusters()) != 2 {
		t.Fatalf("expected 2 distinct clusters, got %d", len(l.Clusters()))
	}
}

func TestAbsorb_NameDOBTripleMatchesAcrossSources(t *testing.T) {
	l := New(testCodes())
	l.Absorb(resultWithIdentity("wearable", model.PatientIdentity{
		SourceID: "a", GivenName: "Rajesh", FamilyName: "Kumar", BirthDate: "1975-08-15",
	}))
	l.Absorb(resultWithIdentity("ambulance_ems", model.PatientIdentity{
		SourceID: "b", GivenName: "rajesh", FamilyName: "KUMAR", BirthDate: "1975-08-15", Phone: "+91-98765-43210",
	}))

	if len(l.Clusters()) != 1 {
		t.Fatalf("expected name+dob to merge across case differences, got %d clusters", len(l.Clusters()))
	}
}

func TestAbsorb_AbhaIDOutranksMRN(t *testing.T) {
	l := New(testCodes())
	l.Absorb(resultWithIdentity("hospital_ehr", model.PatientIdentity{SourceID: "a", AbhaID: "ABHA-1", MRN: "MRN-001"}))
	l.Absorb(resultWithIdentity("wearable", model.PatientIdentity{SourceID: "b", AbhaID: "ABHA-1", MRN: "MRN-999"}))

	clusters := l.Clusters()
	if len(clusters) != 1 {
		t.Fatalf("expected abha_id match to win over mismatched mrn, got %d clusters", len(clusters))
	}
}

func TestAbsorb_ConflictingFieldKeepsEarlierValue(t *testing.T) {
	l := New(testCodes())
	l.Absorb(resultWithIdentity("hospital_ehr", model.PatientIdentity{SourceID: "a", MRN: "MRN-001", FamilyName: "Kumar"}))
	l.Absorb(resultWithIdentity("wearable", model.PatientIdentity{SourceID: "b", MRN: "MRN-001", FamilyName: "Kumarr"}))

	clusters := l.Clusters()
	if len(clusters[0].Conflicts) != 1 {
		t.Fatalf("expected 1 recorded conflict, got %d", len(clusters[0].Conflicts))
	}
	c := clusters[0].Conflicts[0]
	if c.Field != "family_name" || c.Kept != "Kumar" || c.Rejected != "Kumarr" {
		t.Errorf("unexpected conflict record: %+v", c)
	}
}

func TestAbsorb_NoCanonicalKeyFormsSingleton(t *testing.T) {
	l := New(testCodes())
	l.Absorb(resultWithIdentity("scans_labs", model.PatientIdentity{SourceID: "report1.pdf"}))
	l.Absorb(resultWithIdentity("scans_labs", model.PatientIdentity{SourceID: "report2.pdf"}))

	if len(l.Clusters()) != 2 {
		t.Fatalf("expected 2 singleton clusters, got %d", len(l.Clusters()))
	}
}

func TestAbsorb_NonPatientResourcesAccumulate(t *testing.T) {
	l := New(testCodes())
	obs := model.ResourceEnvelope{ResourceType: "Observation", LocalID: "observation-1", Payload: map[string]interface{}{"resourceType": "Observation"}}
	l.Absorb(resultWithIdentity("hospital_ehr", model.PatientIdentity{SourceID: "a", MRN: "MRN-001"}, obs))

	clusters := l.Clusters()
	if len(clusters[0].AllResources) != 1 {
		t.Fatalf("expected 1 accumulated resource, got %d", len(clusters[0].AllResources))
	}
}

func TestClusters_DeterministicOrderForFixedInput(t *testing.T) {
	build := func() []string {
		l := New(testCodes())
		l.Absorb(resultWithIdentity("hospital_ehr", model.PatientIdentity{SourceID: "a", MRN: "MRN-001"}))
		l.Absorb(resultWithIdentity("hospital_ehr", model.PatientIdentity{SourceID: "b", MRN: "MRN-002"}))
		l.Absorb(resultWithIdentity("hospital_ehr", model.PatientIdentity{SourceID: "c", MRN: "MRN-003"}))
		var ids []string
		for _, c := range l.Clusters() {
			ids = append(ids, c.CanonicalID)
		}
		return ids
	}
	first := build()
	second := build()
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("expected 3 clusters each run, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("cluster order not deterministic at index %d: %q vs %q", i, first[i], second[i])
		}
	}
}
