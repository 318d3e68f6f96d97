// Package hospitalehr implements the hospital_ehr source adapter: pipe-
// delimited HL7v2 segment messages, ADT admissions and ORU lab results
// alike, grounded on the teacher's internal/platform/hl7v2 parser.
package hospitalehr

import (
	"fmt"
	"strings"
	"time"

	"github.com/patiently/ingestpipeline/internal/ingest/fhirbuild"
	"github.com/patiently/ingestpipeline/internal/ingest/ingesterr"
	"github.com/patiently/ingestpipeline/internal/ingest/model"
	"github.com/patiently/ingestpipeline/internal/ingest/source"
	"github.com/patiently/ingestpipeline/internal/platform/hl7v2"
)

const SourceType = "hospital_ehr"

// detectionPrefix is the authoritative shape check: the first non-blank
// bytes of the input must be the standard MSH field-separator preamble.
const detectionPrefix = `MSH|^~\&|`

// Adapter parses HL7v2 ADT admission and ORU lab-result messages.
type Adapter struct {
	Codes fhirbuild.CodeSystems
}

func New(codes fhirbuild.CodeSystems) *Adapter {
	return &Adapter{Codes: codes}
}

func (a *Adapter) SourceType() string { return SourceType }

func (a *Adapter) Supports(in source.Input) bool {
	prefix := in.TrimmedPrefix(len(detectionPrefix))
	return string(prefix) == detectionPrefix
}

func (a *Adapter) Parse(in source.Input) (model.AdapterResult, error) {
	msg, err := hl7v2.Parse(in.Data)
	if err != nil {
		return model.AdapterResult{}, ingesterr.New(ingesterr.ParseFailed, in.Path, err)
	}

	identity, err := buildIdentity(msg, in.Path)
	if err != nil {
		return model.AdapterResult{}, err
	}

	builder := fhirbuild.NewBuilder(a.Codes)
	patientEnv, err := builder.MakePatient(identity)
	if err != nil {
		return model.AdapterResult{}, err
	}
	subjectRef := "urn:local:" + patientEnv.LocalID

	var resources []model.ResourceEnvelope
	raw := model.RawMetadata{"message_type": msg.Type, "control_id": msg.ControlID}

	messageType := strings.ToUpper(msg.Type)
	switch {
	case strings.HasPrefix(messageType, "ADT"):
		resources, err = parseAdmission(builder, msg, subjectRef, in.Path)
	case strings.HasPrefix(messageType, "ORU"):
		resources, err = parseLabResults(builder, msg, subjectRef, in.Path)
	default:
		// Unknown message type: still emit the identity with no derived
		// resources rather than rejecting outright — the PID segment was
		// parseable regardless of the event type.
		raw["unhandled_message_type"] = msg.Type
	}
	if err != nil {
		return model.AdapterResult{}, err
	}

	return model.AdapterResult{
		PatientIdentity: identity,
		FHIRPatient:     nil,
		FHIRResources:   append([]model.ResourceEnvelope{patientEnv}, resources...),
		SourceType:      SourceType,
		RawMetadata:     raw,
	}, nil
}

func buildIdentity(msg *hl7v2.Message, location string) (model.PatientIdentity, error) {
	pid := msg.GetSegment("PID")
	if pid == nil {
		return model.PatientIdentity{}, ingesterr.Newf(ingesterr.ParseFailed, location, "message has no PID segment")
	}

	mrn := pid.GetComponent(3, 1)
	family, given := msg.PatientName()
	birthDate := reformatHL7Date(pid.GetField(7))
	gender := mapGender(pid.GetField(8))
	// HL7 PID-11 splits on '^' but the component order is not documented
	// by this message set; preserved as a single joined string rather
	// than guessed apart into line/city/state (spec open question).
	addressLine := strings.TrimSpace(strings.ReplaceAll(pid.GetField(11), "^", " "))
	phone := pid.GetField(13)

	identity := model.PatientIdentity{
		SourceID:     mrn,
		SourceSystem: SourceType,
		FullName:     strings.TrimSpace(given + " " + family),
		GivenName:    given,
		FamilyName:   family,
		BirthDate:    birthDate,
		Gender:       gender,
		Phone:        phone,
		MRN:          mrn,
		AddressLine:  addressLine,
	}

	if !identity.HasCanonicalKey() {
		return model.PatientIdentity{}, ingesterr.Newf(ingesterr.InvalidInput, location, "PID segment carries no canonical identity key")
	}
	if identity.SourceID == "" {
		identity.SourceID = location
	}

	return identity, nil
}

func mapGender(code string) model.Gender {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "M":
		return model.GenderMale
	case "F":
		return model.GenderFemale
	case "":
		return model.GenderUnknown
	default:
		return model.GenderOther
	}
}

func reformatHL7Date(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) < 8 {
		return ""
	}
	return fmt.Sprintf("%s-%s-%s", raw[0:4], raw[4:6], raw[6:8])
}

func parseAdmission(builder *fhirbuild.Builder, msg *hl7v2.Message, subjectRef, location string) ([]model.ResourceEnvelope, error) {
	var resources []model.ResourceEnvelope

	if pv1 := msg.GetSegment("PV1"); pv1 != nil {
		class, ok := mapEncounterClass(pv1.GetField(2))
		if ok {
			start := msg.Timestamp
			if start.IsZero() {
				start = time.Now().UTC()
			}
			enc, err := builder.MakeEncounter(subjectRef, class, start, nil, "in-progress")
			if err != nil {
				return nil, err
			}
			resources = append(resources, enc)
		}
	}

	for _, dg1 := range msg.GetSegments("DG1") {
		code := dg1.GetComponent(3, 1)
		display := dg1.GetComponent(3, 2)
		if code == "" {
			continue
		}
		system := codeSystemForDiagnosisCode(code)
		cond, err := builder.MakeCondition(subjectRef, system, code, display, "active")
		if err != nil {
			return nil, ingesterr.New(ingesterr.ParseFailed, location, err)
		}
		resources = append(resources, cond)
	}

	obsResources, err := parseObservations(builder, msg, subjectRef, msg.Timestamp)
	if err != nil {
		return nil, err
	}
	resources = append(resources, obsResources...)

	return resources, nil
}

func parseLabResults(builder *fhirbuild.Builder, msg *hl7v2.Message, subjectRef, location string) ([]model.ResourceEnvelope, error) {
	var resources []model.ResourceEnvelope

	obsResources, err := parseObservations(builder, msg, subjectRef, msg.Timestamp)
	if err != nil {
		return nil, err
	}
	resources = append(resources, obsResources...)

	if obr := msg.GetSegment("OBR"); obr != nil {
		var resultRefs []string
		for _, r := range obsResources {
			resultRefs = append(resultRefs, "urn:local:"+r.LocalID)
		}
		code := obr.GetComponent(4, 1)
		if code != "" {
			issued := msg.Timestamp
			report, err := builder.MakeDiagnosticReport(subjectRef, "loinc", code, resultRefs, issued)
			if err != nil {
				return nil, ingesterr.New(ingesterr.ParseFailed, location, err)
			}
			resources = append(resources, report)
		}
	}

	return resources, nil
}

func parseObservations(builder *fhirbuild.Builder, msg *hl7v2.Message, subjectRef string, instant time.Time) ([]model.ResourceEnvelope, error) {
	var resources []model.ResourceEnvelope
	if instant.IsZero() {
		instant = time.Now().UTC()
	}

	for _, obx := range msg.GetSegments("OBX") {
		valueType := obx.GetField(2)
		loincCode := obx.GetComponent(3, 1)
		rawValue := obx.GetField(5)
		unit := obx.GetComponent(6, 1)

		if loincCode == "" || rawValue == "" {
			continue
		}

		switch strings.ToUpper(valueType) {
		case "NM":
			value, err := fhirbuild.ParseFiniteFloat("OBX-5", rawValue)
			if err != nil {
				return nil, err
			}
			env, err := builder.MakeObservationVital(subjectRef, loincCode, value, unit, unit, instant.Format(time.RFC3339))
			if err != nil {
				return nil, err
			}
			resources = append(resources, env)
		case "ST", "":
			// String-valued observations still get a local id and subject
			// reference; stored as valueString rather than valueQuantity.
			env := stringObservation(builder, subjectRef, loincCode, rawValue, instant)
			resources = append(resources, env)
		}
	}

	return resources, nil
}

func stringObservation(builder *fhirbuild.Builder, subjectRef, loincCode, value string, instant time.Time) model.ResourceEnvelope {
	id := builder.NextLocalID("Observation")
	return model.ResourceEnvelope{
		ResourceType: "Observation",
		LocalID:      id,
		Payload: map[string]interface{}{
			"resourceType":      "Observation",
			"id":                id,
			"status":            "final",
			"code":              map[string]interface{}{"coding": []interface{}{map[string]interface{}{"system": builder.Codes.LOINC, "code": loincCode}}},
			"subject":           map[string]interface{}{"reference": subjectRef},
			"effectiveDateTime": instant.Format(time.RFC3339),
			"valueString":       value,
		},
	}
}

func mapEncounterClass(code string) (string, bool) {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "I":
		return "inpatient", true
	case "E":
		return "emergency", true
	case "O":
		return "outpatient", true
	default:
		return "", false
	}
}

func codeSystemForDiagnosisCode(code string) string {
	if len(code) == 0 {
		return "icd-10"
	}
	r := rune(code[0])
	if r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' {
		return "icd-10"
	}
	return "snomed"
}
