// Package model defines the data shapes shared across the ingestion
// pipeline: the identity an adapter harvests from one source, the result of
// parsing one input, and the canonical patient produced by the linker.
package model

import "github.com/patiently/ingestpipeline/internal/platform/fhir"

// Gender is the normalized gender tag used on PatientIdentity and the built
// Patient resource.
type Gender string

const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderOther   Gender = "other"
	GenderUnknown Gender = "unknown"
)

// PatientIdentity is a candidate identity harvested from one source. Its
// canonical keys are MRN, AbhaID, the (GivenName ∧ FamilyName ∧ BirthDate)
// triple, Phone and Email. The hospital_ehr and ambulance_ems adapters, and
// realtime_vitals for bedside JSON, reject input whose identity has none of
// them; the other sources can yield an identity with no canonical key, which
// the linker keeps in its own singleton cluster.
type PatientIdentity struct {
	SourceID     string
	SourceSystem string

	FullName   string
	GivenName  string
	FamilyName string
	BirthDate  string // ISO YYYY-MM-DD
	Gender     Gender
	Phone      string
	Email      string
	MRN        string
	AbhaID     string

	AddressLine string
	City        string
	State       string
	PostalCode  string
}

// HasCanonicalKey reports whether the identity carries at least one of the
// keys the linker clusters on.
func (p PatientIdentity) HasCanonicalKey() bool {
	if p.AbhaID != "" || p.MRN != "" || p.Phone != "" || p.Email != "" {
		return true
	}
	return p.GivenName != "" && p.FamilyName != "" && p.BirthDate != ""
}

// RawMetadata is the opaque, string-keyed diagnostics bag an adapter or the
// linker may attach to a result. Values are scalars, string slices, or
// nested RawMetadata — never leaked through the public contract except as
// diagnostics.
type RawMetadata map[string]interface{}

// AdapterResult is one adapter's parse output: an identity plus the
// resources derived from it. FHIRResources use adapter-local ids for
// internal references (e.g. Observation.subject); the bundler rewrites
// these to Patient-relative references at bundling time.
type AdapterResult struct {
	PatientIdentity PatientIdentity
	FHIRPatient     *fhir.Resource
	FHIRResources   []ResourceEnvelope
	SourceType      string
	RawMetadata     RawMetadata
}

// ResourceEnvelope pairs a built resource with its wire-level JSON payload
// and declared FHIR resource type, so the bundler and linker can inspect
// the type without re-parsing JSON.
type ResourceEnvelope struct {
	ResourceType string
	LocalID      string
	Payload      map[string]interface{}
}

// LinkedPatient is one canonical patient after clustering. It is mutable
// while the linker is absorbing identities and becomes immutable once
// handed to the bundler.
type LinkedPatient struct {
	CanonicalID string
	Identities  []PatientIdentity
	FHIRPatient map[string]interface{}
	AllResources []ResourceEnvelope
	SourceTypes map[string]bool
	Conflicts   []Conflict
}

// Conflict records a field where an incoming identity's value disagreed
// with the value already adopted by the cluster. The earlier value always
// wins; the alternative is recorded here for diagnostics.
type Conflict struct {
	Field    string
	Kept     string
	Rejected string
}

// NewLinkedPatient starts a new cluster seeded by the given identity.
func NewLinkedPatient(canonicalID string, identity PatientIdentity) *LinkedPatient {
	return &LinkedPatient{
		CanonicalID: canonicalID,
		Identities:  []PatientIdentity{identity},
		SourceTypes: map[string]bool{},
	}
}
