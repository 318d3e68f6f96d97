// Package linker implements the Patient Identity Linker (C4): clustering
// AdapterResults that describe the same real-world patient into one
// LinkedPatient per canonical identity, using a priority-ordered canonical
// key scheme and an in-memory inverted index.
package linker

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/patiently/ingestpipeline/internal/ingest/fhirbuild"
	"github.com/patiently/ingestpipeline/internal/ingest/model"
)

// Linker accumulates AdapterResults into clusters. It holds all state
// privately — the inverted index never escapes the instance — so the core
// stays single-threaded and free of shared mutable state per the
// concurrency model.
type Linker struct {
	codes       fhirbuild.CodeSystems
	index       map[string]string // canonical key -> cluster id
	order       []string          // cluster ids in creation order
	clusters    map[string]*clusterEntry
	anonCount   int // counts identities with neither a canonical key nor a source id
	batchCount  int // counts absorbed AdapterResults, to qualify local ids uniquely
}

type clusterEntry struct {
	patient *model.LinkedPatient
	merged  model.PatientIdentity
}

// New creates an empty Linker.
func New(codes fhirbuild.CodeSystems) *Linker {
	return &Linker{
		codes:    codes,
		index:    map[string]string{},
		clusters: map[string]*clusterEntry{},
	}
}

// canonicalKey is one named, normalized key extracted from an identity, in
// descending priority order.
type canonicalKey struct {
	name  string
	value string
}

// canonicalKeys returns the present canonical keys for identity, in
// descending priority: abha_id, mrn, normalized (family, given, birth_date)
// triple, phone, email.
func canonicalKeys(id model.PatientIdentity) []canonicalKey {
	var keys []canonicalKey
	if id.AbhaID != "" {
		keys = append(keys, canonicalKey{"abha", normalizeExact(id.AbhaID)})
	}
	if id.MRN != "" {
		keys = append(keys, canonicalKey{"mrn", normalizeExact(id.MRN)})
	}
	if id.GivenName != "" && id.FamilyName != "" && id.BirthDate != "" {
		composite := normalizeName(id.FamilyName) + "|" + normalizeName(id.GivenName) + "|" + normalizeExact(id.BirthDate)
		keys = append(keys, canonicalKey{"name_dob", composite})
	}
	if id.Phone != "" {
		keys = append(keys, canonicalKey{"phone", normalizePhone(id.Phone)})
	}
	if id.Email != "" {
		keys = append(keys, canonicalKey{"email", normalizeEmail(id.Email)})
	}
	return keys
}

func (k canonicalKey) indexKey() string {
	return k.name + ":" + k.value
}

// Absorb links one adapter's result into a cluster, creating a new one if
// no canonical key matches an existing cluster. An identity with no
// canonical key at all forms a singleton cluster keyed by its source id and
// is never merged, per the boundary rule.
func (l *Linker) Absorb(result model.AdapterResult) {
	identity := result.PatientIdentity
	keys := canonicalKeys(identity)

	var clusterID string
	if len(keys) == 0 {
		if identity.SourceID == "" {
			l.anonCount++
		}
		clusterID = singletonID(identity.SourceID, l.anonCount)
	} else {
		clusterID = l.resolveCluster(keys)
	}

	entry, exists := l.clusters[clusterID]
	if !exists {
		entry = &clusterEntry{
			patient: model.NewLinkedPatient(clusterID, identity),
			merged:  identity,
		}
		l.clusters[clusterID] = entry
		l.order = append(l.order, clusterID)
	} else {
		merged, conflicts := mergeIdentity(entry.merged, identity)
		entry.merged = merged
		entry.patient.Identities = append(entry.patient.Identities, identity)
		entry.patient.Conflicts = append(entry.patient.Conflicts, conflicts...)
	}
	entry.patient.SourceTypes[result.SourceType] = true

	batchID := fmt.Sprintf("b%d", l.batchCount)
	l.batchCount++
	qualify := func(ref string) (string, bool) {
		if ref == model.PatientReferenceSentinel || !strings.HasPrefix(ref, "urn:local:") {
			return "", false
		}
		return "urn:local:" + batchID + ":" + strings.TrimPrefix(ref, "urn:local:"), true
	}

	for _, r := range result.FHIRResources {
		if r.ResourceType == "Patient" {
			continue
		}
		model.ForceTopLevelReference(r.Payload, "subject", model.PatientReferenceSentinel)
		model.ForceTopLevelReference(r.Payload, "patient", model.PatientReferenceSentinel)
		model.RewriteReferences(r.Payload, qualify)
		r.LocalID = batchID + ":" + r.LocalID
		entry.patient.AllResources = append(entry.patient.AllResources, r)
	}

	l.rebuildPatient(entry, clusterID)

	for _, k := range keys {
		l.index[k.indexKey()] = clusterID
	}
}

// resolveCluster probes the index for each of an identity's present keys in
// priority order. The first hit identifies the cluster; when keys land on
// different existing clusters, the cluster sharing the most keys wins, with
// ties broken by earliest-priority key.
func (l *Linker) resolveCluster(keys []canonicalKey) string {
	matchCount := map[string]int{}
	firstSeen := map[string]int{}
	for i, k := range keys {
		cid, ok := l.index[k.indexKey()]
		if !ok {
			continue
		}
		matchCount[cid]++
		if _, seen := firstSeen[cid]; !seen {
			firstSeen[cid] = i
		}
	}
	if len(matchCount) == 0 {
		return sha1Trunc(keys[0].value)
	}

	best, bestCount, bestFirst := "", -1, len(keys)
	for cid, count := range matchCount {
		fs := firstSeen[cid]
		if count > bestCount || (count == bestCount && fs < bestFirst) {
			best, bestCount, bestFirst = cid, count, fs
		}
	}
	return best
}

// rebuildPatient regenerates the cluster's FHIR Patient payload from its
// fully merged identity view. Rebuilding from scratch each time (rather
// than patching fields in place) keeps the merge rule ("missing fields
// accept incoming values; conflicts keep the earlier value") in one place —
// mergeIdentity — instead of splitting it across two code paths.
func (l *Linker) rebuildPatient(entry *clusterEntry, clusterID string) {
	builder := fhirbuild.NewBuilder(l.codes)
	patientEnv, _ := builder.MakePatient(entry.merged) // MakePatient never errors
	patientEnv.Payload["id"] = clusterID
	entry.patient.FHIRPatient = patientEnv.Payload
}

// mergeIdentity merges incoming into existing: missing fields on existing
// accept incoming's value; fields present and differing on both sides keep
// existing's value and record the rejected alternative.
func mergeIdentity(existing, incoming model.PatientIdentity) (model.PatientIdentity, []model.Conflict) {
	var conflicts []model.Conflict
	merge := func(field, existingVal, incomingVal string) string {
		if existingVal == "" {
			return incomingVal
		}
		if incomingVal == "" || incomingVal == existingVal {
			return existingVal
		}
		conflicts = append(conflicts, model.Conflict{Field: field, Kept: existingVal, Rejected: incomingVal})
		return existingVal
	}

	merged := existing
	merged.FullName = merge("full_name", existing.FullName, incoming.FullName)
	merged.GivenName = merge("given_name", existing.GivenName, incoming.GivenName)
	merged.FamilyName = merge("family_name", existing.FamilyName, incoming.FamilyName)
	merged.BirthDate = merge("birth_date", existing.BirthDate, incoming.BirthDate)
	merged.Gender = model.Gender(merge("gender", string(existing.Gender), string(incoming.Gender)))
	merged.Phone = merge("phone", existing.Phone, incoming.Phone)
	merged.Email = merge("email", existing.Email, incoming.Email)
	merged.MRN = merge("mrn", existing.MRN, incoming.MRN)
	merged.AbhaID = merge("abha_id", existing.AbhaID, incoming.AbhaID)
	merged.AddressLine = merge("address_line", existing.AddressLine, incoming.AddressLine)
	merged.City = merge("city", existing.City, incoming.City)
	merged.State = merge("state", existing.State, incoming.State)
	merged.PostalCode = merge("postal_code", existing.PostalCode, incoming.PostalCode)

	return merged, conflicts
}

// Clusters returns every accumulated cluster in creation order, which is
// deterministic for a fixed input order.
func (l *Linker) Clusters() []*model.LinkedPatient {
	out := make([]*model.LinkedPatient, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.clusters[id].patient)
	}
	return out
}

func sha1Trunc(value string) string {
	sum := sha1.Sum([]byte(value))
	return hex.EncodeToString(sum[:8])
}

func singletonID(sourceID string, anonOrdinal int) string {
	if sourceID == "" {
		return "singleton-" + sha1Trunc(fmt.Sprintf("anonymous-%d", anonOrdinal))
	}
	return "singleton-" + sha1Trunc(sourceID)
}
