// Package wearable implements the wearable source adapter: Apple Health
// export XML and Google Fit JSON exports, each flattened into vital-signs
// Observations via a fixed LOINC mapping table.
package wearable

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	libxml "github.com/ECUST-XX/xml"

	"github.com/patiently/ingestpipeline/internal/ingest/fhirbuild"
	"github.com/patiently/ingestpipeline/internal/ingest/ingesterr"
	"github.com/patiently/ingestpipeline/internal/ingest/model"
	"github.com/patiently/ingestpipeline/internal/ingest/source"
)

const SourceType = "wearable"

type Adapter struct {
	Codes fhirbuild.CodeSystems
}

func New(codes fhirbuild.CodeSystems) *Adapter {
	return &Adapter{Codes: codes}
}

func (a *Adapter) SourceType() string { return SourceType }

func (a *Adapter) Supports(in source.Input) bool {
	switch in.Ext() {
	case ".xml":
		return looksLikeAppleHealth(in.Data)
	case ".json":
		return looksLikeGoogleFit(in.Data)
	default:
		return false
	}
}

func (a *Adapter) Parse(in source.Input) (model.AdapterResult, error) {
	switch in.Ext() {
	case ".xml":
		return parseAppleHealth(a.Codes, in)
	case ".json":
		return parseGoogleFit(a.Codes, in)
	default:
		return model.AdapterResult{}, ingesterr.Newf(ingesterr.InvalidInput, in.Path, "unsupported wearable extension %q", in.Ext())
	}
}

func looksLikeAppleHealth(data []byte) bool {
	var probe struct {
		XMLName libxml.Name `xml:"HealthData"`
	}
	if err := libxml.Unmarshal(data, &probe); err != nil {
		return false
	}
	return probe.XMLName.Local == "HealthData"
}

func looksLikeGoogleFit(data []byte) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	_, hasBucket := probe["bucket"]
	_, hasDataSource := probe["dataSourceId"]
	return hasBucket && hasDataSource
}

// appleLOINC maps Apple HealthKit quantity type identifiers to LOINC
// codes, per the fixed mapping table in the adapter contract.
var appleLOINC = map[string]struct {
	Code    string
	UCUM    string
}{
	"HKQuantityTypeIdentifierHeartRate":              {"8867-4", "/min"},
	"HKQuantityTypeIdentifierBloodPressureSystolic":  {"8480-6", "mm[Hg]"},
	"HKQuantityTypeIdentifierBloodPressureDiastolic": {"8462-4", "mm[Hg]"},
	"HKQuantityTypeIdentifierOxygenSaturation":       {"2708-6", "%"},
	"HKQuantityTypeIdentifierRespiratoryRate":        {"9279-1", "/min"},
	"HKQuantityTypeIdentifierBodyTemperature":        {"8310-5", "Cel"},
	"HKQuantityTypeIdentifierBodyMass":               {"29463-7", "kg"},
	"HKQuantityTypeIdentifierHeight":                 {"8302-2", "cm"},
}

type appleRecord struct {
	Type      string `xml:"type,attr"`
	StartDate string `xml:"startDate,attr"`
	Value     string `xml:"value,attr"`
	Unit      string `xml:"unit,attr"`
}

type appleMe struct {
	DateOfBirth   string `xml:"HKCharacteristicTypeIdentifierDateOfBirth,attr"`
	BiologicalSex string `xml:"HKCharacteristicTypeIdentifierBiologicalSex,attr"`
}

type appleHealthDoc struct {
	XMLName libxml.Name   `xml:"HealthData"`
	Me      []appleMe     `xml:"Me"`
	Records []appleRecord `xml:"Record"`
}

func parseAppleHealth(codes fhirbuild.CodeSystems, in source.Input) (model.AdapterResult, error) {
	var doc appleHealthDoc
	if err := libxml.Unmarshal(in.Data, &doc); err != nil {
		return model.AdapterResult{}, ingesterr.New(ingesterr.ParseFailed, in.Path, err)
	}

	identity := model.PatientIdentity{SourceSystem: SourceType}
	if len(doc.Me) > 0 {
		identity.BirthDate = doc.Me[0].DateOfBirth
		identity.Gender = mapAppleSex(doc.Me[0].BiologicalSex)
	}
	identity.SourceID = in.Path

	builder := fhirbuild.NewBuilder(codes)
	patientEnv, err := builder.MakePatient(identity)
	if err != nil {
		return model.AdapterResult{}, err
	}
	subjectRef := "urn:local:" + patientEnv.LocalID

	resources := []model.ResourceEnvelope{patientEnv}
	for _, rec := range doc.Records {
		mapping, ok := appleLOINC[rec.Type]
		if !ok {
			continue
		}
		value, err := fhirbuild.ParseFiniteFloat("Record.value", rec.Value)
		if err != nil {
			return model.AdapterResult{}, err
		}
		instant, err := parseAppleTimestamp(rec.StartDate)
		if err != nil {
			return model.AdapterResult{}, ingesterr.New(ingesterr.ParseFailed, in.Path, err)
		}
		obs, err := builder.MakeObservationVital(subjectRef, mapping.Code, value, rec.Unit, mapping.UCUM, instant.Format(time.RFC3339))
		if err != nil {
			return model.AdapterResult{}, err
		}
		resources = append(resources, obs)
	}

	return model.AdapterResult{
		PatientIdentity: identity,
		FHIRResources:   resources,
		SourceType:      SourceType,
		RawMetadata:     model.RawMetadata{"record_count": len(doc.Records)},
	}, nil
}

func mapAppleSex(code string) model.Gender {
	switch code {
	case "HKBiologicalSexMale":
		return model.GenderMale
	case "HKBiologicalSexFemale":
		return model.GenderFemale
	case "":
		return model.GenderUnknown
	default:
		return model.GenderOther
	}
}

func parseAppleTimestamp(raw string) (time.Time, error) {
	// Apple Health exports "2024-01-15 08:00:00 -0500"; fall back to RFC3339.
	layouts := []string{"2006-01-02 15:04:05 -0700", time.RFC3339}
	var lastErr error
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}

// googleFitLOINC maps Google Fit dataTypeName values to LOINC codes.
var googleFitLOINC = map[string]struct {
	Code string
	UCUM string
}{
	"com.google.heart_rate.bpm":         {"8867-4", "/min"},
	"com.google.blood_pressure":         {"8480-6", "mm[Hg]"},
	"com.google.oxygen_saturation":      {"2708-6", "%"},
	"com.google.body_temperature":       {"8310-5", "Cel"},
	"com.google.weight":                 {"29463-7", "kg"},
	"com.google.height":                 {"8302-2", "cm"},
}

type googleFitDoc struct {
	DataSourceID string `json:"dataSourceId"`
	Bucket       []struct {
		Dataset []struct {
			DataTypeName string `json:"dataTypeName"`
			Point        []struct {
				StartTimeNanos string `json:"startTimeNanos"`
				Value          []struct {
					FpVal  *float64 `json:"fpVal"`
					IntVal *int64   `json:"intVal"`
				} `json:"value"`
			} `json:"point"`
		} `json:"dataset"`
	} `json:"bucket"`
	PatientFullName string `json:"patientFullName"`
	PatientGender   string `json:"patientGender"`
	MRN             string `json:"mrn"`
}

func parseGoogleFit(codes fhirbuild.CodeSystems, in source.Input) (model.AdapterResult, error) {
	var doc googleFitDoc
	if err := json.Unmarshal(in.Data, &doc); err != nil {
		return model.AdapterResult{}, ingesterr.New(ingesterr.ParseFailed, in.Path, err)
	}

	identity := model.PatientIdentity{
		SourceSystem: SourceType,
		FullName:     doc.PatientFullName,
		MRN:          doc.MRN,
	}
	if doc.PatientGender != "" {
		identity.Gender = model.Gender(strings.ToLower(doc.PatientGender))
	}
	if identity.FullName != "" {
		parts := strings.SplitN(identity.FullName, " ", 2)
		identity.GivenName = parts[0]
		if len(parts) > 1 {
			identity.FamilyName = parts[1]
		}
	}
	identity.SourceID = in.Path

	builder := fhirbuild.NewBuilder(codes)
	patientEnv, err := builder.MakePatient(identity)
	if err != nil {
		return model.AdapterResult{}, err
	}
	subjectRef := "urn:local:" + patientEnv.LocalID

	resources := []model.ResourceEnvelope{patientEnv}
	for _, bucket := range doc.Bucket {
		for _, dataset := range bucket.Dataset {
			mapping, ok := googleFitLOINC[dataset.DataTypeName]
			if !ok {
				continue
			}
			for _, point := range dataset.Point {
				var value float64
				switch {
				case len(point.Value) == 0:
					continue
				case point.Value[0].FpVal != nil:
					value = *point.Value[0].FpVal
				case point.Value[0].IntVal != nil:
					value = float64(*point.Value[0].IntVal)
				default:
					continue
				}
				instant, err := nanosToTime(point.StartTimeNanos)
				if err != nil {
					return model.AdapterResult{}, ingesterr.New(ingesterr.ParseFailed, in.Path, err)
				}
				obs, err := builder.MakeObservationVital(subjectRef, mapping.Code, value, "", mapping.UCUM, instant.Format(time.RFC3339))
				if err != nil {
					return model.AdapterResult{}, err
				}
				resources = append(resources, obs)
			}
		}
	}

	return model.AdapterResult{
		PatientIdentity: identity,
		FHIRResources:   resources,
		SourceType:      SourceType,
		RawMetadata:     model.RawMetadata{"bucket_count": len(doc.Bucket)},
	}, nil
}

func nanosToTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now().UTC(), nil
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, nanos).UTC(), nil
}
