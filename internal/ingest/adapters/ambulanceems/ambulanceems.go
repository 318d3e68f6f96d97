// Package ambulanceems implements the ambulance_ems source adapter: NEMSIS
// namespace-qualified XML patient care reports.
package ambulanceems

import (
	"strings"
	"time"

	libxml "github.com/ECUST-XX/xml"

	"github.com/patiently/ingestpipeline/internal/ingest/fhirbuild"
	"github.com/patiently/ingestpipeline/internal/ingest/ingesterr"
	"github.com/patiently/ingestpipeline/internal/ingest/model"
	"github.com/patiently/ingestpipeline/internal/ingest/source"
)

const SourceType = "ambulance_ems"

const nemsisNamespacePrefix = "http://www.nemsis.org/"

type Adapter struct {
	Codes fhirbuild.CodeSystems
}

func New(codes fhirbuild.CodeSystems) *Adapter {
	return &Adapter{Codes: codes}
}

func (a *Adapter) SourceType() string { return SourceType }

func (a *Adapter) Supports(in source.Input) bool {
	if in.Ext() != ".xml" {
		return false
	}
	var probe struct {
		XMLName libxml.Name `xml:"EMSDataSet"`
	}
	if err := libxml.Unmarshal(in.Data, &probe); err != nil {
		return false
	}
	return strings.HasPrefix(probe.XMLName.Space, nemsisNamespacePrefix)
}

type nemsisPatient struct {
	NameGroup struct {
		Given  string `xml:"ePatient.02"`
		Family string `xml:"ePatient.01"`
	} `xml:"ePatient.PatientNameGroup"`
	Sex       string `xml:"ePatient.13"`
	AbhaID    string `xml:"ePatient.15"`
	BirthDate string `xml:"ePatient.17"`
	MRN       string `xml:"ePatient.MRN"`
}

type nemsisVitalGroup struct {
	Timestamp        string `xml:"eVitals.01"`
	SystolicBP       string `xml:"eVitals.06"`
	DiastolicBP      string `xml:"eVitals.07"`
	HeartRate        string `xml:"eVitals.10"`
	SpO2             string `xml:"eVitals.12"`
	RespiratoryRate  string `xml:"eVitals.14"`
	Temperature      string `xml:"eVitals.24"`
}

type nemsisReport struct {
	XMLName   libxml.Name `xml:"EMSDataSet"`
	Patient   nemsisPatient `xml:"PatientCareReport>ePatient"`
	Dispatch  string        `xml:"PatientCareReport>eTimes.01"`
	Arrival   string        `xml:"PatientCareReport>eTimes.07"`
	VitalGroups []nemsisVitalGroup `xml:"PatientCareReport>eVitals.VitalGroup"`
}

func (a *Adapter) Parse(in source.Input) (model.AdapterResult, error) {
	var doc nemsisReport
	if err := libxml.Unmarshal(in.Data, &doc); err != nil {
		return model.AdapterResult{}, ingesterr.New(ingesterr.ParseFailed, in.Path, err)
	}

	identity := model.PatientIdentity{
		SourceSystem: SourceType,
		GivenName:    doc.Patient.NameGroup.Given,
		FamilyName:   doc.Patient.NameGroup.Family,
		Gender:       mapNEMSISSex(doc.Patient.Sex),
		AbhaID:       doc.Patient.AbhaID,
		MRN:          doc.Patient.MRN,
		BirthDate:    doc.Patient.BirthDate,
	}
	identity.FullName = strings.TrimSpace(identity.GivenName + " " + identity.FamilyName)
	if !identity.HasCanonicalKey() {
		return model.AdapterResult{}, ingesterr.Newf(ingesterr.InvalidInput, in.Path, "NEMSIS report carries no canonical identity key")
	}
	identity.SourceID = firstNonEmpty(identity.MRN, identity.AbhaID, in.Path)

	builder := fhirbuild.NewBuilder(a.Codes)
	patientEnv, err := builder.MakePatient(identity)
	if err != nil {
		return model.AdapterResult{}, err
	}
	subjectRef := "urn:local:" + patientEnv.LocalID
	resources := []model.ResourceEnvelope{patientEnv}

	dispatchTime, dispErr := parseNEMSISTime(doc.Dispatch)
	arrivalTime, arrErr := parseNEMSISTime(doc.Arrival)
	if dispErr == nil {
		var end *time.Time
		if arrErr == nil {
			end = &arrivalTime
		}
		enc, err := builder.MakeEncounter(subjectRef, "emergency", dispatchTime, end, "finished")
		if err != nil {
			return model.AdapterResult{}, err
		}
		resources = append(resources, enc)
	}

	for _, vg := range doc.VitalGroups {
		instant, err := parseNEMSISTime(vg.Timestamp)
		if err != nil {
			instant = dispatchTime
		}
		obsResources, err := vitalsFromGroup(builder, subjectRef, vg, instant)
		if err != nil {
			return model.AdapterResult{}, err
		}
		resources = append(resources, obsResources...)
	}

	return model.AdapterResult{
		PatientIdentity: identity,
		FHIRResources:   resources,
		SourceType:      SourceType,
		RawMetadata:     model.RawMetadata{"vital_group_count": len(doc.VitalGroups)},
	}, nil
}

func vitalsFromGroup(builder *fhirbuild.Builder, subjectRef string, vg nemsisVitalGroup, instant time.Time) ([]model.ResourceEnvelope, error) {
	var resources []model.ResourceEnvelope
	entries := []struct {
		raw  string
		code string
		unit string
	}{
		{vg.HeartRate, "8867-4", "/min"},
		{vg.SystolicBP, "8480-6", "mm[Hg]"},
		{vg.DiastolicBP, "8462-4", "mm[Hg]"},
		{vg.SpO2, "2708-6", "%"},
		{vg.RespiratoryRate, "9279-1", "/min"},
		{vg.Temperature, "8310-5", "Cel"},
	}
	for _, e := range entries {
		if strings.TrimSpace(e.raw) == "" {
			continue
		}
		value, err := fhirbuild.ParseFiniteFloat("eVitals.VitalGroup", e.raw)
		if err != nil {
			return nil, err
		}
		obs, err := builder.MakeObservationVital(subjectRef, e.code, value, e.unit, e.unit, instant.Format(time.RFC3339))
		if err != nil {
			return nil, err
		}
		resources = append(resources, obs)
	}
	return resources, nil
}

func mapNEMSISSex(code string) model.Gender {
	switch strings.TrimSpace(code) {
	case "9906001":
		return model.GenderMale
	case "9906003":
		return model.GenderFemale
	case "":
		return model.GenderUnknown
	default:
		return model.GenderOther
	}
}

func parseNEMSISTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, ingesterr.Newf(ingesterr.ParseFailed, "eTimes", "empty timestamp")
	}
	return time.Parse(time.RFC3339, raw)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
