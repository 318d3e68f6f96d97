// Package realtimevitals implements the realtime_vitals source adapter:
// bedside monitor JSON samples and ECG waveform CSV, grounded on the
// observation builder's SampledData contract (spec §4.2).
package realtimevitals

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/patiently/ingestpipeline/internal/ingest/fhirbuild"
	"github.com/patiently/ingestpipeline/internal/ingest/ingesterr"
	"github.com/patiently/ingestpipeline/internal/ingest/model"
	"github.com/patiently/ingestpipeline/internal/ingest/source"
)

const SourceType = "realtime_vitals"

// jitterTolerance is the maximum fraction of the median inter-sample delta
// the CSV waveform's timestamps may deviate by before the adapter rejects
// the input as inconsistently sampled.
const jitterTolerance = 0.02

type Adapter struct {
	Codes fhirbuild.CodeSystems
}

func New(codes fhirbuild.CodeSystems) *Adapter {
	return &Adapter{Codes: codes}
}

func (a *Adapter) SourceType() string { return SourceType }

func (a *Adapter) Supports(in source.Input) bool {
	switch in.Ext() {
	case ".json":
		var probe struct {
			Samples []json.RawMessage `json:"samples"`
		}
		if err := json.Unmarshal(in.Data, &probe); err != nil {
			return false
		}
		return probe.Samples != nil
	case ".csv":
		lines := strings.SplitN(string(in.Data), "\n", 2)
		if len(lines) == 0 {
			return false
		}
		header := strings.Split(strings.TrimSpace(lines[0]), ",")
		return len(header) > 0 && header[0] == "timestamp_ms"
	default:
		return false
	}
}

func (a *Adapter) Parse(in source.Input) (model.AdapterResult, error) {
	switch in.Ext() {
	case ".json":
		return parseBedsideJSON(a.Codes, in)
	case ".csv":
		return parseECGWaveform(a.Codes, in)
	default:
		return model.AdapterResult{}, ingesterr.Newf(ingesterr.InvalidInput, in.Path, "unsupported realtime_vitals extension %q", in.Ext())
	}
}

var bedsideLOINC = map[string]struct {
	Code string
	Unit string
	UCUM string
}{
	"heart_rate":       {"8867-4", "bpm", "/min"},
	"systolic_bp":      {"8480-6", "mmHg", "mm[Hg]"},
	"diastolic_bp":     {"8462-4", "mmHg", "mm[Hg]"},
	"spo2":             {"2708-6", "%", "%"},
	"respiratory_rate": {"9279-1", "breaths/min", "/min"},
	"temperature":      {"8310-5", "C", "Cel"},
}

type bedsideDoc struct {
	Subject struct {
		MRN string `json:"mrn"`
	} `json:"subject"`
	Samples []map[string]interface{} `json:"samples"`
}

func parseBedsideJSON(codes fhirbuild.CodeSystems, in source.Input) (model.AdapterResult, error) {
	var doc bedsideDoc
	if err := json.Unmarshal(in.Data, &doc); err != nil {
		return model.AdapterResult{}, ingesterr.New(ingesterr.ParseFailed, in.Path, err)
	}
	if doc.Subject.MRN == "" {
		return model.AdapterResult{}, ingesterr.Newf(ingesterr.InvalidInput, in.Path, "subject.mrn is required")
	}

	identity := model.PatientIdentity{SourceSystem: SourceType, MRN: doc.Subject.MRN, SourceID: doc.Subject.MRN}

	builder := fhirbuild.NewBuilder(codes)
	patientEnv, err := builder.MakePatient(identity)
	if err != nil {
		return model.AdapterResult{}, err
	}
	subjectRef := "urn:local:" + patientEnv.LocalID
	resources := []model.ResourceEnvelope{patientEnv}

	for _, sample := range doc.Samples {
		instant := sampleTimestamp(sample)
		for key, mapping := range bedsideLOINC {
			raw, ok := sample[key]
			if !ok {
				continue
			}
			value, ok := toFloat(raw)
			if !ok {
				continue
			}
			obs, err := builder.MakeObservationVital(subjectRef, mapping.Code, value, mapping.Unit, mapping.UCUM, instant.Format(time.RFC3339))
			if err != nil {
				return model.AdapterResult{}, err
			}
			resources = append(resources, obs)
		}
	}

	return model.AdapterResult{
		PatientIdentity: identity,
		FHIRResources:   resources,
		SourceType:      SourceType,
		RawMetadata:     model.RawMetadata{"sample_count": len(doc.Samples)},
	}, nil
}

func sampleTimestamp(sample map[string]interface{}) time.Time {
	if raw, ok := sample["timestamp"]; ok {
		if s, ok := raw.(string); ok {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				return t
			}
		}
	}
	return time.Now().UTC()
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func parseECGWaveform(codes fhirbuild.CodeSystems, in source.Input) (model.AdapterResult, error) {
	reader := csv.NewReader(strings.NewReader(string(in.Data)))
	records, err := reader.ReadAll()
	if err != nil {
		return model.AdapterResult{}, ingesterr.New(ingesterr.ParseFailed, in.Path, err)
	}
	if len(records) < 2 {
		return model.AdapterResult{}, ingesterr.Newf(ingesterr.ParseFailed, in.Path, "ECG waveform has no sample rows")
	}

	header := records[0]
	tsIdx, mvIdx := -1, -1
	for i, col := range header {
		switch strings.TrimSpace(col) {
		case "timestamp_ms":
			tsIdx = i
		case "mV":
			mvIdx = i
		}
	}
	if tsIdx == -1 || mvIdx == -1 {
		return model.AdapterResult{}, ingesterr.Newf(ingesterr.ParseFailed, in.Path, "ECG waveform CSV missing timestamp_ms or mV column")
	}

	rows := records[1:]
	var timestamps []float64
	var samples []string
	for _, row := range rows {
		ts, err := strconv.ParseFloat(strings.TrimSpace(row[tsIdx]), 64)
		if err != nil {
			return model.AdapterResult{}, ingesterr.New(ingesterr.ParseFailed, in.Path, err)
		}
		timestamps = append(timestamps, ts)
		samples = append(samples, strings.TrimSpace(row[mvIdx]))
	}

	if err := checkUniformSampling(timestamps); err != nil {
		return model.AdapterResult{}, ingesterr.New(ingesterr.InconsistentSampling, in.Path, err)
	}

	periodMs := timestamps[1] - timestamps[0]
	periodSeconds := periodMs / 1000.0

	identity := model.PatientIdentity{SourceSystem: SourceType, SourceID: in.Path}
	builder := fhirbuild.NewBuilder(codes)
	patientEnv, err := builder.MakePatient(identity)
	if err != nil {
		return model.AdapterResult{}, err
	}
	subjectRef := "urn:local:" + patientEnv.LocalID

	waveformID := builder.NextLocalID("Observation")
	waveform := model.ResourceEnvelope{
		ResourceType: "Observation",
		LocalID:      waveformID,
		Payload: map[string]interface{}{
			"resourceType": "Observation",
			"id":           waveformID,
			"status":       "final",
			"category": []interface{}{
				map[string]interface{}{
					"coding": []interface{}{
						map[string]interface{}{"system": "http://terminology.hl7.org/CodeSystem/observation-category", "code": "vital-signs"},
					},
				},
			},
			"code": map[string]interface{}{
				"coding": []interface{}{
					map[string]interface{}{"system": codes.LOINC, "code": "131328-3", "display": "ECG waveform"},
				},
			},
			"subject": map[string]interface{}{"reference": subjectRef},
			"valueSampledData": map[string]interface{}{
				"origin":     map[string]interface{}{"value": 0, "unit": "mV"},
				"period":     periodSeconds,
				"factor":     1,
				"dimensions": 1,
				"data":       strings.Join(samples, " "),
			},
		},
	}

	return model.AdapterResult{
		PatientIdentity: identity,
		FHIRResources:   []model.ResourceEnvelope{patientEnv, waveform},
		SourceType:      SourceType,
		RawMetadata:     model.RawMetadata{"sample_count": len(samples)},
	}, nil
}

// checkUniformSampling infers the sample rate from the median inter-sample
// delta and fails if any delta deviates from it by more than 2%.
func checkUniformSampling(timestamps []float64) error {
	if len(timestamps) < 2 {
		return nil
	}
	deltas := make([]float64, 0, len(timestamps)-1)
	for i := 1; i < len(timestamps); i++ {
		deltas = append(deltas, timestamps[i]-timestamps[i-1])
	}
	median := medianOf(deltas)
	if median == 0 {
		return fmt.Errorf("median inter-sample delta is zero")
	}
	tolerance := math.Abs(median) * jitterTolerance
	for _, d := range deltas {
		if math.Abs(d-median) > tolerance {
			return fmt.Errorf("inter-sample delta %v deviates from median %v by more than %.0f%%", d, median, jitterTolerance*100)
		}
	}
	return nil
}

func medianOf(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
