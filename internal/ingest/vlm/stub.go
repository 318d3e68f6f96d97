package vlm

import "context"

// StubClient returns a fixed StructuredNote for every call, regardless of
// image bytes. Used by the driver to run deterministic tests and demos
// without a live Bedrock connection.
type StubClient struct {
	Note StructuredNote
	Err  error
}

func (s StubClient) Extract(ctx context.Context, imageBytes []byte, mimeType string) (StructuredNote, error) {
	if s.Err != nil {
		return StructuredNote{}, s.Err
	}
	return s.Note, nil
}

// NewStubClient returns a StubClient seeded with a representative
// handwritten-note extraction.
func NewStubClient() StubClient {
	return StubClient{
		Note: StructuredNote{
			PatientName:    "Rajesh Kumar",
			ChiefComplaint: "chest pain",
			Diagnoses:      []string{"I21.4"},
			Vitals: map[string]float64{
				"heart_rate":        88,
				"spo2":              96,
				"systolic_bp":       138,
				"diastolic_bp":      86,
				"respiratory_rate":  18,
				"temperature":       37.1,
			},
		},
	}
}
