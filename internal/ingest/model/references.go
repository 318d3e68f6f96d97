package model

// PatientReferenceSentinel replaces every subject/patient-shaped reference
// an adapter emits. The adapter's own per-invocation Patient resource is
// discarded once the linker absorbs it into a shared cluster Patient, so
// the sentinel stands in for "the cluster's Patient, whichever fullUrl the
// bundler eventually mints" rather than any id the adapter actually used.
const PatientReferenceSentinel = "urn:local:__patient__"

// ForceTopLevelReference overwrites payload[field] (when present) with a
// reference to ref, discarding whatever value the producing adapter set.
func ForceTopLevelReference(payload map[string]interface{}, field, ref string) {
	if _, ok := payload[field]; ok {
		payload[field] = map[string]interface{}{"reference": ref}
	}
}

// RewriteReferences walks payload's nested maps and slices, and for every
// "reference" string field calls rewrite; when rewrite reports ok, the
// field is replaced with the returned value. Used both to qualify a batch's
// local ids into globally-unique ones at absorption time, and to resolve
// every remaining local id to its bundle fullUrl at bundling time.
func RewriteReferences(payload map[string]interface{}, rewrite func(ref string) (string, bool)) {
	walkValue(payload, rewrite)
}

func walkValue(v interface{}, rewrite func(ref string) (string, bool)) {
	switch node := v.(type) {
	case map[string]interface{}:
		if ref, ok := node["reference"].(string); ok {
			if newRef, changed := rewrite(ref); changed {
				node["reference"] = newRef
			}
		}
		for key, child := range node {
			if key == "reference" {
				continue
			}
			walkValue(child, rewrite)
		}
	case []interface{}:
		for _, child := range node {
			walkValue(child, rewrite)
		}
	}
}
