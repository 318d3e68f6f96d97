package vlm

import (
	"context"
	"errors"
	"testing"
)

func TestStubClient_ReturnsFixedNote(t *testing.T) {
	c := NewStubClient()
	note, err := c.Extract(context.Background(), []byte("fake-image-bytes"), "image/png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if note.PatientName != "Rajesh Kumar" {
		t.Errorf("expected fixed patient name, got %q", note.PatientName)
	}
	if len(note.Diagnoses) != 1 {
		t.Errorf("expected one diagnosis, got %d", len(note.Diagnoses))
	}
	if len(note.Vitals) != 6 {
		t.Errorf("expected 6 vitals, got %d", len(note.Vitals))
	}
}

func TestStubClient_PropagatesConfiguredError(t *testing.T) {
	wantErr := errors.New("boom")
	c := StubClient{Err: wantErr}
	_, err := c.Extract(context.Background(), nil, "image/png")
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected configured error, got %v", err)
	}
}

func TestParseStructuredNote_StripsCodeFence(t *testing.T) {
	raw := "```json\n{\"patient_name\":\"Jane Doe\",\"chief_complaint\":\"fever\",\"diagnoses\":[\"R50.9\"],\"vitals\":{\"heart_rate\":80}}\n```"
	note, err := parseStructuredNote(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if note.PatientName != "Jane Doe" {
		t.Errorf("expected parsed patient name, got %q", note.PatientName)
	}
	if note.Vitals["heart_rate"] != 80 {
		t.Errorf("expected heart_rate 80, got %v", note.Vitals["heart_rate"])
	}
}

func TestParseStructuredNote_RejectsInvalidJSON(t *testing.T) {
	_, err := parseStructuredNote("not json at all")
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestBedrockImageFormat_UnsupportedMime(t *testing.T) {
	_, err := bedrockImageFormat("application/pdf")
	if err == nil {
		t.Fatal("expected error for unsupported mime type")
	}
}

func TestBedrockImageFormat_Known(t *testing.T) {
	cases := map[string]string{
		"image/png":  "png",
		"image/jpeg": "jpeg",
	}
	for mime, want := range cases {
		got, err := bedrockImageFormat(mime)
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", mime, err)
		}
		if string(got) != want {
			t.Errorf("%s: expected format %q, got %q", mime, want, got)
		}
	}
}
