// Package fhirbuild implements the Resource Builders (C1): a small, closed
// set of constructors producing conformant clinical resources from scalar
// field values. Grounded on the teacher's domain ToFHIR() methods
// (identity.Patient, clinical.Observation, encounter.Encounter,
// diagnostics.ServiceRequest, documents.DocumentReference), generalized
// from per-request HTTP handlers into pure builder functions.
package fhirbuild

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/patiently/ingestpipeline/internal/ingest/ingesterr"
	"github.com/patiently/ingestpipeline/internal/ingest/model"
	"github.com/patiently/ingestpipeline/pkg/fhirmodels"
)

// CodeSystems holds the fixed coding-system URIs the builders stamp onto
// generated resources, sourced from config at driver construction.
type CodeSystems struct {
	LOINC  string
	SNOMED string
	ICD10  string
	UCUM   string
	MRN    string
	ABHA   string
}

// Builder constructs resources and assigns each a deterministic local id,
// scoped to one adapter invocation. Local ids are never random — they are
// a per-type running count so that re-parsing the same input yields the
// same ids (the "ingest_file is pure" property).
type Builder struct {
	Codes   CodeSystems
	counts  map[string]int
}

// NewBuilder creates a Builder for one adapter invocation.
func NewBuilder(codes CodeSystems) *Builder {
	return &Builder{Codes: codes, counts: map[string]int{}}
}

func (b *Builder) nextID(resourceType string) string {
	b.counts[resourceType]++
	return fmt.Sprintf("%s-%d", strings.ToLower(resourceType), b.counts[resourceType])
}

// NextLocalID allocates a deterministic local id for a resource type this
// Builder has no dedicated Make* constructor for (e.g. a string-valued
// Observation variant assembled inline by an adapter).
func (b *Builder) NextLocalID(resourceType string) string {
	return b.nextID(resourceType)
}

func invalidInput(location, format string, args ...interface{}) error {
	return ingesterr.Newf(ingesterr.InvalidInput, location, format, args...)
}

// requireISOInstant validates that instant includes a zone offset, per the
// builder contract ("ISO instants must include offset").
func requireISOInstant(location, instant string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, instant)
	if err != nil {
		return time.Time{}, invalidInput(location, "instant %q is not a valid offset-qualified ISO instant: %w", instant, err)
	}
	return t, nil
}

// MakePatient builds a Patient resource from an identity's demographics.
func (b *Builder) MakePatient(identity model.PatientIdentity) (model.ResourceEnvelope, error) {
	id := b.nextID("Patient")

	payload := map[string]interface{}{
		"resourceType": "Patient",
		"id":           id,
	}

	if identity.GivenName != "" || identity.FamilyName != "" {
		name := map[string]interface{}{}
		if identity.FamilyName != "" {
			name["family"] = identity.FamilyName
		}
		if identity.GivenName != "" {
			name["given"] = []string{identity.GivenName}
		}
		payload["name"] = []interface{}{name}
	}

	if identity.BirthDate != "" {
		payload["birthDate"] = identity.BirthDate
	}

	gender := identity.Gender
	if gender == "" {
		gender = model.GenderUnknown
	}
	payload["gender"] = string(gender)

	var identifiers []interface{}
	if identity.MRN != "" {
		identifiers = append(identifiers, map[string]interface{}{
			"system": b.Codes.MRN,
			"value":  identity.MRN,
			"type": map[string]interface{}{
				"coding": []interface{}{
					map[string]interface{}{
						"system": "http://terminology.hl7.org/CodeSystem/v2-0203",
						"code":   "MR",
					},
				},
			},
		})
	}
	if identity.AbhaID != "" {
		identifiers = append(identifiers, map[string]interface{}{
			"system": b.Codes.ABHA,
			"value":  identity.AbhaID,
		})
	}
	if len(identifiers) > 0 {
		payload["identifier"] = identifiers
	}

	if identity.Phone != "" || identity.Email != "" {
		var telecom []interface{}
		if identity.Phone != "" {
			telecom = append(telecom, map[string]interface{}{"system": "phone", "value": identity.Phone})
		}
		if identity.Email != "" {
			telecom = append(telecom, map[string]interface{}{"system": "email", "value": identity.Email})
		}
		payload["telecom"] = telecom
	}

	if identity.AddressLine != "" {
		payload["address"] = []interface{}{
			map[string]interface{}{"text": identity.AddressLine},
		}
	}

	return model.ResourceEnvelope{ResourceType: "Patient", LocalID: id, Payload: payload}, nil
}

// MakeObservationVital builds a categorized vital-signs Observation.
func (b *Builder) MakeObservationVital(subjectRef, loincCode string, numericValue float64, displayUnit, ucumCode, isoInstant string) (model.ResourceEnvelope, error) {
	if loincCode == "" {
		return model.ResourceEnvelope{}, invalidInput("MakeObservationVital", "loinc_code is required")
	}
	if math.IsNaN(numericValue) || math.IsInf(numericValue, 0) {
		return model.ResourceEnvelope{}, invalidInput("MakeObservationVital", "numeric_value must be finite, got %v", numericValue)
	}
	t, err := requireISOInstant("MakeObservationVital", isoInstant)
	if err != nil {
		return model.ResourceEnvelope{}, err
	}

	id := b.nextID("Observation")
	payload := map[string]interface{}{
		"resourceType": "Observation",
		"id":           id,
		"status":       "final",
		"category": []interface{}{
			map[string]interface{}{
				"coding": []interface{}{
					map[string]interface{}{
						"system":  "http://terminology.hl7.org/CodeSystem/observation-category",
						"code":    fhirmodels.ObsCategoryVitalSigns,
						"display": "Vital Signs",
					},
				},
			},
		},
		"code": map[string]interface{}{
			"coding": []interface{}{
				map[string]interface{}{"system": b.Codes.LOINC, "code": loincCode},
			},
		},
		"subject":        map[string]interface{}{"reference": subjectRef},
		"effectiveDateTime": t.Format(time.RFC3339),
		"valueQuantity": map[string]interface{}{
			"value":  numericValue,
			"unit":   displayUnit,
			"system": b.Codes.UCUM,
			"code":   ucumCode,
		},
	}

	return model.ResourceEnvelope{ResourceType: "Observation", LocalID: id, Payload: payload}, nil
}

// MakeCondition builds a Condition coded in ICD-10 or SNOMED CT.
func (b *Builder) MakeCondition(subjectRef, codeSystem, code, display, clinicalStatus string) (model.ResourceEnvelope, error) {
	if code == "" {
		return model.ResourceEnvelope{}, invalidInput("MakeCondition", "code is required")
	}
	switch clinicalStatus {
	case fhirmodels.ConditionActive, fhirmodels.ConditionResolved, fhirmodels.ConditionInactive:
	default:
		return model.ResourceEnvelope{}, invalidInput("MakeCondition", "clinical_status must be active, resolved, or inactive, got %q", clinicalStatus)
	}
	system := b.resolveCodeSystem(codeSystem)
	if system == "" {
		return model.ResourceEnvelope{}, invalidInput("MakeCondition", "unsupported code_system %q", codeSystem)
	}

	id := b.nextID("Condition")
	payload := map[string]interface{}{
		"resourceType": "Condition",
		"id":           id,
		"clinicalStatus": map[string]interface{}{
			"coding": []interface{}{
				map[string]interface{}{
					"system": "http://terminology.hl7.org/CodeSystem/condition-clinical",
					"code":   clinicalStatus,
				},
			},
		},
		"code": map[string]interface{}{
			"coding": []interface{}{
				map[string]interface{}{"system": system, "code": code, "display": display},
			},
		},
		"subject": map[string]interface{}{"reference": subjectRef},
	}

	return model.ResourceEnvelope{ResourceType: "Condition", LocalID: id, Payload: payload}, nil
}

func (b *Builder) resolveCodeSystem(tag string) string {
	switch strings.ToLower(tag) {
	case "icd-10", "icd10":
		return b.Codes.ICD10
	case "snomed", "snomed-ct", "snomedct":
		return b.Codes.SNOMED
	case "loinc":
		return b.Codes.LOINC
	default:
		return ""
	}
}

// MakeEncounter builds an Encounter with the given class and status.
func (b *Builder) MakeEncounter(subjectRef, class string, periodStart time.Time, periodEnd *time.Time, status string) (model.ResourceEnvelope, error) {
	classCode, ok := encounterClassCode(class)
	if !ok {
		return model.ResourceEnvelope{}, invalidInput("MakeEncounter", "class must be inpatient, outpatient, or emergency, got %q", class)
	}
	switch status {
	case "planned", "in-progress", "finished", "cancelled":
	default:
		return model.ResourceEnvelope{}, invalidInput("MakeEncounter", "status must be planned, in-progress, finished, or cancelled, got %q", status)
	}
	if periodStart.IsZero() {
		return model.ResourceEnvelope{}, invalidInput("MakeEncounter", "period_start is required")
	}

	id := b.nextID("Encounter")
	period := map[string]interface{}{"start": periodStart.Format(time.RFC3339)}
	if periodEnd != nil {
		period["end"] = periodEnd.Format(time.RFC3339)
	}

	payload := map[string]interface{}{
		"resourceType": "Encounter",
		"id":           id,
		"status":       status,
		"class": map[string]interface{}{
			"system": "http://terminology.hl7.org/CodeSystem/v3-ActCode",
			"code":   classCode,
		},
		"subject": map[string]interface{}{"reference": subjectRef},
		"period":  period,
	}

	return model.ResourceEnvelope{ResourceType: "Encounter", LocalID: id, Payload: payload}, nil
}

func encounterClassCode(class string) (string, bool) {
	switch class {
	case "inpatient":
		return fhirmodels.EncounterClassInpatient, true
	case "outpatient":
		return fhirmodels.EncounterClassAmbulatory, true
	case "emergency":
		return fhirmodels.EncounterClassEmergency, true
	default:
		return "", false
	}
}

// MakeDocumentReference builds a DocumentReference over either inline
// content bytes or a reference URL — exactly one of contentBytes/contentURL
// should be non-empty.
func (b *Builder) MakeDocumentReference(subjectRef, mimeType string, contentBytes []byte, contentURL, description string) (model.ResourceEnvelope, error) {
	if mimeType == "" {
		return model.ResourceEnvelope{}, invalidInput("MakeDocumentReference", "mime_type is required")
	}
	if len(contentBytes) == 0 && contentURL == "" {
		return model.ResourceEnvelope{}, invalidInput("MakeDocumentReference", "either content bytes or a content url is required")
	}

	id := b.nextID("DocumentReference")
	attachment := map[string]interface{}{"contentType": mimeType}
	if contentURL != "" {
		attachment["url"] = contentURL
	} else {
		attachment["size"] = len(contentBytes)
	}
	if description != "" {
		attachment["title"] = description
	}

	payload := map[string]interface{}{
		"resourceType": "DocumentReference",
		"id":           id,
		"status":       "current",
		"subject":      map[string]interface{}{"reference": subjectRef},
		"content": []interface{}{
			map[string]interface{}{"attachment": attachment},
		},
	}
	if description != "" {
		payload["description"] = description
	}

	return model.ResourceEnvelope{ResourceType: "DocumentReference", LocalID: id, Payload: payload}, nil
}

// MakeImagingStudy builds an ImagingStudy for a DICOM series.
func (b *Builder) MakeImagingStudy(subjectRef, modality, studyInstanceUID string, seriesCount int, started time.Time) (model.ResourceEnvelope, error) {
	if studyInstanceUID == "" {
		return model.ResourceEnvelope{}, invalidInput("MakeImagingStudy", "study_instance_uid is required")
	}
	if seriesCount < 0 {
		return model.ResourceEnvelope{}, invalidInput("MakeImagingStudy", "series_count must not be negative, got %d", seriesCount)
	}

	id := b.nextID("ImagingStudy")
	payload := map[string]interface{}{
		"resourceType": "ImagingStudy",
		"id":           id,
		"status":       "available",
		"identifier": []interface{}{
			map[string]interface{}{
				"system": "urn:dicom:uid",
				"value":  "urn:oid:" + studyInstanceUID,
			},
		},
		"subject":     map[string]interface{}{"reference": subjectRef},
		"numberOfSeries": seriesCount,
	}
	if modality != "" {
		payload["modality"] = []interface{}{
			map[string]interface{}{"system": "http://dicom.nema.org/resources/ontology/DCM", "code": modality},
		}
	}
	if !started.IsZero() {
		payload["started"] = started.Format(time.RFC3339)
	}

	return model.ResourceEnvelope{ResourceType: "ImagingStudy", LocalID: id, Payload: payload}, nil
}

// MakeDiagnosticReport builds a DiagnosticReport referencing its result
// Observations by local id (rewritten to those Observations' urn:uuid:
// fullUrls at bundling time like any other reference).
func (b *Builder) MakeDiagnosticReport(subjectRef, codeSystem, code string, resultRefs []string, issued time.Time) (model.ResourceEnvelope, error) {
	if code == "" {
		return model.ResourceEnvelope{}, invalidInput("MakeDiagnosticReport", "code is required")
	}
	system := b.resolveCodeSystem(codeSystem)
	if system == "" {
		system = b.Codes.LOINC
	}

	id := b.nextID("DiagnosticReport")
	var result []interface{}
	for _, r := range resultRefs {
		result = append(result, map[string]interface{}{"reference": r})
	}

	payload := map[string]interface{}{
		"resourceType": "DiagnosticReport",
		"id":           id,
		"status":       "final",
		"code": map[string]interface{}{
			"coding": []interface{}{
				map[string]interface{}{"system": system, "code": code},
			},
		},
		"subject": map[string]interface{}{"reference": subjectRef},
	}
	if len(result) > 0 {
		payload["result"] = result
	}
	if !issued.IsZero() {
		payload["issued"] = issued.Format(time.RFC3339)
	}

	return model.ResourceEnvelope{ResourceType: "DiagnosticReport", LocalID: id, Payload: payload}, nil
}

// ParseFiniteFloat parses a numeric field from source text, used by
// adapters to validate OBX/NM-style values before handing them to
// MakeObservationVital.
func ParseFiniteFloat(location, raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, invalidInput(location, "value %q is not numeric: %w", raw, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, invalidInput(location, "value %q is not finite", raw)
	}
	return v, nil
}
