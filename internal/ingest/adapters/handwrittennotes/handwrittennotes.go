// Package handwrittennotes implements the handwritten_notes source adapter:
// scanned clinical note images, text-extracted via an injected VLM client.
package handwrittennotes

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/patiently/ingestpipeline/internal/ingest/clockutil"
	"github.com/patiently/ingestpipeline/internal/ingest/fhirbuild"
	"github.com/patiently/ingestpipeline/internal/ingest/ingesterr"
	"github.com/patiently/ingestpipeline/internal/ingest/model"
	"github.com/patiently/ingestpipeline/internal/ingest/source"
	"github.com/patiently/ingestpipeline/internal/ingest/vlm"
)

const SourceType = "handwritten_notes"

var supportedExtensions = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".bmp":  "image/bmp",
}

// vitalLOINC maps the vital tags a VLM extraction may populate to LOINC
// codes, the same mapping the other vital-producing adapters use.
var vitalLOINC = map[string]struct {
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

type Adapter struct {
	Codes  fhirbuild.CodeSystems
	Client vlm.Client
	Clock  clockutil.Clock
}

func New(codes fhirbuild.CodeSystems, client vlm.Client) *Adapter {
	if client == nil {
		panic("handwrittennotes.New: client must not be nil")
	}
	return &Adapter{Codes: codes, Client: client, Clock: clockutil.System{}}
}

func (a *Adapter) SourceType() string { return SourceType }

// clock returns a.Clock, defaulting to the system wall clock for an Adapter
// constructed outside New (e.g. a zero-value struct literal in a test).
func (a *Adapter) clock() clockutil.Clock {
	if a.Clock == nil {
		return clockutil.System{}
	}
	return a.Clock
}

func (a *Adapter) Supports(in source.Input) bool {
	_, ok := supportedExtensions[strings.ToLower(filepath.Ext(in.Path))]
	return ok
}

func (a *Adapter) Parse(in source.Input) (model.AdapterResult, error) {
	mimeType, ok := supportedExtensions[strings.ToLower(filepath.Ext(in.Path))]
	if !ok {
		return model.AdapterResult{}, ingesterr.Newf(ingesterr.InvalidInput, in.Path, "unsupported handwritten_notes extension %q", filepath.Ext(in.Path))
	}

	ctx, cancel := vlm.WithDefaultTimeout(context.Background())
	defer cancel()

	note, err := a.Client.Extract(ctx, in.Data, mimeType)
	if err != nil {
		return model.AdapterResult{}, ingesterr.New(ingesterr.AdapterTimeout, in.Path, err)
	}

	identity := identityFromNote(note, in.Path)

	builder := fhirbuild.NewBuilder(a.Codes)
	patientEnv, err := builder.MakePatient(identity)
	if err != nil {
		return model.AdapterResult{}, err
	}
	subjectRef := "urn:local:" + patientEnv.LocalID
	resources := []model.ResourceEnvelope{patientEnv}

	docRef, err := builder.MakeDocumentReference(subjectRef, mimeType, in.Data, "", "handwritten clinical note")
	if err != nil {
		return model.AdapterResult{}, err
	}
	resources = append(resources, docRef)

	now := a.clock().Now().UTC().Format(time.RFC3339)
	for _, diagnosis := range note.Diagnoses {
		condition, err := builder.MakeCondition(subjectRef, codeSystemForDiagnosis(diagnosis), diagnosis, "", "active")
		if err != nil {
			return model.AdapterResult{}, err
		}
		resources = append(resources, condition)
	}

	// Sort vital keys for deterministic ordering across repeated parses of
	// the same note (map iteration order is not stable).
	keys := make([]string, 0, len(note.Vitals))
	for key := range note.Vitals {
		keys = append(keys, key)
	}
	sortStrings(keys)
	for _, key := range keys {
		mapping, ok := vitalLOINC[key]
		if !ok {
			continue
		}
		obs, err := builder.MakeObservationVital(subjectRef, mapping.Code, note.Vitals[key], mapping.Unit, mapping.UCUM, now)
		if err != nil {
			return model.AdapterResult{}, err
		}
		resources = append(resources, obs)
	}

	return model.AdapterResult{
		PatientIdentity: identity,
		FHIRResources:   resources,
		SourceType:      SourceType,
		RawMetadata: model.RawMetadata{
			"chief_complaint": note.ChiefComplaint,
			"weak_identity":   identity.MRN == "" && identity.BirthDate == "",
		},
	}, nil
}

// identityFromNote extracts a candidate identity from a VLM's structured
// note. When only patient_name is present (no DOB or MRN is ever recovered
// from a handwritten note) this still yields a name-only identity rather
// than discarding an otherwise usable note. A name without a birth date is
// not a canonical key, so the linker places such an identity in its own
// singleton cluster and never merges it with another source.
func identityFromNote(note vlm.StructuredNote, path string) model.PatientIdentity {
	identity := model.PatientIdentity{SourceSystem: SourceType, SourceID: path, FullName: strings.TrimSpace(note.PatientName)}
	if identity.FullName != "" {
		parts := strings.SplitN(identity.FullName, " ", 2)
		identity.GivenName = parts[0]
		if len(parts) > 1 {
			identity.FamilyName = parts[1]
		}
	}
	return identity
}

func codeSystemForDiagnosis(code string) string {
	if code == "" {
		return "icd-10"
	}
	if code[0] >= 'A' && code[0] <= 'Z' {
		return "icd-10"
	}
	return "snomed"
}

func sortStrings(values []string) {
	for i := 1; i < len(values); i++ {
		for j := i; j > 0 && values[j-1] > values[j]; j-- {
			values[j-1], values[j] = values[j], values[j-1]
		}
	}
}
