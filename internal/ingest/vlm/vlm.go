// Package vlm defines the vision-language model abstraction the
// handwritten_notes adapter delegates text extraction to, plus a real
// Bedrock-backed implementation and a deterministic stub for tests.
package vlm

import (
	"context"
	"time"
)

// StructuredNote is the structured record a VLM extracts from a
// handwritten clinical note image.
type StructuredNote struct {
	PatientName    string
	ChiefComplaint string
	Diagnoses      []string
	Vitals         map[string]float64 // keyed by a vital tag, e.g. "heart_rate", "spo2"
}

// Client is the injected VLM abstraction. Implementations: a real
// vision-language API (Bedrock) and a deterministic stub.
type Client interface {
	Extract(ctx context.Context, imageBytes []byte, mimeType string) (StructuredNote, error)
}

// DefaultTimeout is the enforced deadline applied to a VLM call absent an
// explicit context deadline, per the concurrency model (§5): "default 30s".
const DefaultTimeout = 30 * time.Second

// WithDefaultTimeout returns ctx unchanged if it already carries a
// deadline, otherwise attaches DefaultTimeout.
func WithDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultTimeout)
}
