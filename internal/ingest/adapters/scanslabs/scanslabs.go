// Package scanslabs implements the scans_labs source adapter: DICOM imaging
// studies (Part 10 file parsed with the go-radx dicom package) and scanned
// lab-report PDFs.
package scanslabs

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/codeninja55/go-radx/dicom"
	"github.com/codeninja55/go-radx/dicom/tag"

	"github.com/patiently/ingestpipeline/internal/ingest/fhirbuild"
	"github.com/patiently/ingestpipeline/internal/ingest/ingesterr"
	"github.com/patiently/ingestpipeline/internal/ingest/model"
	"github.com/patiently/ingestpipeline/internal/ingest/source"
)

const SourceType = "scans_labs"

const dicomPreambleLen = 128

var dicomLiteral = []byte("DICM")
var pdfSignature = []byte("%PDF-")

type Adapter struct {
	Codes fhirbuild.CodeSystems
}

func New(codes fhirbuild.CodeSystems) *Adapter {
	return &Adapter{Codes: codes}
}

func (a *Adapter) SourceType() string { return SourceType }

func (a *Adapter) Supports(in source.Input) bool {
	return looksLikeDICOM(in.Data) || bytes.HasPrefix(in.Data, pdfSignature)
}

func (a *Adapter) Parse(in source.Input) (model.AdapterResult, error) {
	switch {
	case looksLikeDICOM(in.Data):
		return parseDICOM(a.Codes, in)
	case bytes.HasPrefix(in.Data, pdfSignature):
		return parsePDF(a.Codes, in)
	default:
		return model.AdapterResult{}, ingesterr.Newf(ingesterr.InvalidInput, in.Path, "input is neither DICOM nor PDF")
	}
}

// looksLikeDICOM is a cheap Part-10 preamble sniff used for dispatch — it
// does not attempt to decode the file meta-header, that's dicom.ParseReader's
// job once this adapter has claimed the input.
func looksLikeDICOM(data []byte) bool {
	if len(data) < dicomPreambleLen+4 {
		return false
	}
	return bytes.Equal(data[dicomPreambleLen:dicomPreambleLen+4], dicomLiteral)
}

var (
	tagPatientName = tag.New(0x0010, 0x0010)
	tagPatientMRN  = tag.New(0x0010, 0x0020)
	tagModality    = tag.New(0x0008, 0x0060)
	tagStudyUID    = tag.New(0x0020, 0x000D)
	tagStudyDate   = tag.New(0x0008, 0x0020)
	tagSeriesCount = tag.New(0x0020, 0x1206)
)

// elementString returns the trimmed string form of the element at t in ds,
// or "" if ds has no such element — most of the tags read here are optional
// in a real study and Get's error just means "absent", not malformed input.
func elementString(ds *dicom.DataSet, t tag.Tag) string {
	elem, err := ds.Get(t)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(elem.Value().String())
}

// parseDICOM parses the Part 10 file (preamble, file meta-header, and
// dataset, decompressing a deflated transfer syntax if present) and extracts
// the handful of tags the adapter contract names. It does not touch pixel
// data.
func parseDICOM(codes fhirbuild.CodeSystems, in source.Input) (model.AdapterResult, error) {
	ds, err := dicom.ParseReader(bytes.NewReader(in.Data))
	if err != nil {
		return model.AdapterResult{}, ingesterr.Newf(ingesterr.InvalidInput, in.Path, "DICOM parse failed: %v", err)
	}

	studyUID := elementString(ds, tagStudyUID)
	if studyUID == "" {
		return model.AdapterResult{}, ingesterr.Newf(ingesterr.InvalidInput, in.Path, "DICOM dataset has no StudyInstanceUID (0020,000D)")
	}

	mrn := elementString(ds, tagPatientMRN)
	identity := model.PatientIdentity{
		SourceSystem: SourceType,
		MRN:          mrn,
		SourceID:     mrn,
	}
	if name := elementString(ds, tagPatientName); name != "" {
		identity.FullName = dicomPersonNameToDisplay(name)
		identity.GivenName, identity.FamilyName = splitDicomPersonName(name)
	}
	if identity.SourceID == "" {
		identity.SourceID = studyUID
	}

	builder := fhirbuild.NewBuilder(codes)
	patientEnv, err := builder.MakePatient(identity)
	if err != nil {
		return model.AdapterResult{}, err
	}
	subjectRef := "urn:local:" + patientEnv.LocalID

	var started time.Time
	if raw := elementString(ds, tagStudyDate); len(raw) == 8 {
		if t, err := time.Parse("20060102", raw); err == nil {
			started = t
		}
	}

	seriesCount := 1
	if raw := elementString(ds, tagSeriesCount); raw != "" {
		var n int
		if _, err := fmt.Sscanf(raw, "%d", &n); err == nil {
			seriesCount = n
		}
	}

	modality := elementString(ds, tagModality)
	imagingStudy, err := builder.MakeImagingStudy(subjectRef, modality, studyUID, seriesCount, started)
	if err != nil {
		return model.AdapterResult{}, err
	}

	docRef, err := builder.MakeDocumentReference(subjectRef, "application/dicom", in.Data, "", "DICOM study "+studyUID)
	if err != nil {
		return model.AdapterResult{}, err
	}

	return model.AdapterResult{
		PatientIdentity: identity,
		FHIRResources:   []model.ResourceEnvelope{patientEnv, imagingStudy, docRef},
		SourceType:      SourceType,
		RawMetadata:     model.RawMetadata{"modality": modality, "study_instance_uid": studyUID},
	}, nil
}

// dicomPersonNameToDisplay renders a DICOM PN value ("Family^Given") as a
// single display string.
func dicomPersonNameToDisplay(raw string) string {
	given, family := splitDicomPersonName(raw)
	if given == "" {
		return family
	}
	return given + " " + family
}

func splitDicomPersonName(raw string) (given, family string) {
	parts := bytes.SplitN([]byte(raw), []byte("^"), 2)
	family = string(parts[0])
	if len(parts) > 1 {
		given = string(parts[1])
	}
	return given, family
}

// parsePDF treats the whole file as an opaque scanned document with no
// recoverable demographics — the adapter contract requires a single
// DocumentReference and no Patient identity fields beyond a source id.
func parsePDF(codes fhirbuild.CodeSystems, in source.Input) (model.AdapterResult, error) {
	identity := model.PatientIdentity{SourceSystem: SourceType, SourceID: in.Path}

	builder := fhirbuild.NewBuilder(codes)
	patientEnv, err := builder.MakePatient(identity)
	if err != nil {
		return model.AdapterResult{}, err
	}
	subjectRef := "urn:local:" + patientEnv.LocalID

	docRef, err := builder.MakeDocumentReference(subjectRef, "application/pdf", in.Data, "", "scanned lab report")
	if err != nil {
		return model.AdapterResult{}, err
	}

	return model.AdapterResult{
		PatientIdentity: identity,
		FHIRResources:   []model.ResourceEnvelope{patientEnv, docRef},
		SourceType:      SourceType,
		RawMetadata:     model.RawMetadata{"byte_count": len(in.Data)},
	}, nil
}
