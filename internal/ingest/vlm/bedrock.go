package vlm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// converseAPI is the subset of the Bedrock runtime client the VLM client
// depends on, narrowed to Converse so tests can supply a fake.
type converseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// extractionPrompt instructs the model to return the structured note as a
// single JSON object, matching the shape of StructuredNote.
const extractionPrompt = `Read the attached handwritten clinical note image and return ONLY a JSON object with keys: patient_name (string), chief_complaint (string), diagnoses (array of strings), vitals (object mapping vital tag to numeric value, using tags from {heart_rate, spo2, systolic_bp, diastolic_bp, respiratory_rate, temperature}). Do not include any text outside the JSON object.`

// BedrockClient implements Client using Bedrock's Converse API with an
// image content block, modeled on BedrockLLMClient.Complete but extended
// for multimodal (image + text) input.
type BedrockClient struct {
	api     converseAPI
	modelID string
}

// NewBedrockClient constructs a BedrockClient. Panics on a nil api, matching
// the teacher's constructor-guard idiom.
func NewBedrockClient(api converseAPI, modelID string) *BedrockClient {
	if api == nil {
		panic("vlm: bedrock converse client cannot be nil")
	}
	return &BedrockClient{api: api, modelID: modelID}
}

func (c *BedrockClient) Extract(ctx context.Context, imageBytes []byte, mimeType string) (StructuredNote, error) {
	ctx, cancel := WithDefaultTimeout(ctx)
	defer cancel()

	format, err := bedrockImageFormat(mimeType)
	if err != nil {
		return StructuredNote{}, err
	}

	message := brtypes.Message{
		Role: brtypes.ConversationRoleUser,
		Content: []brtypes.ContentBlock{
			&brtypes.ContentBlockMemberText{Value: extractionPrompt},
			&brtypes.ContentBlockMemberImage{
				Value: brtypes.ImageBlock{
					Format: format,
					Source: &brtypes.ImageSourceMemberBytes{Value: imageBytes},
				},
			},
		},
	}

	out, err := c.api.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:  aws.String(c.modelID),
		Messages: []brtypes.Message{message},
	})
	if err != nil {
		if ctx.Err() != nil {
			return StructuredNote{}, fmt.Errorf("vlm: bedrock call exceeded deadline: %w", ctx.Err())
		}
		return StructuredNote{}, err
	}

	text, err := bedrockExtractText(out)
	if err != nil {
		return StructuredNote{}, err
	}

	return parseStructuredNote(text)
}

func bedrockImageFormat(mimeType string) (brtypes.ImageFormat, error) {
	switch strings.ToLower(mimeType) {
	case "image/png":
		return brtypes.ImageFormatPng, nil
	case "image/jpeg", "image/jpg":
		return brtypes.ImageFormatJpeg, nil
	case "image/tiff":
		return "tiff", nil
	case "image/bmp":
		return "bmp", nil
	default:
		return "", fmt.Errorf("vlm: unsupported image mime type %q", mimeType)
	}
}

func bedrockExtractText(out *bedrockruntime.ConverseOutput) (string, error) {
	if out == nil {
		return "", errors.New("vlm: bedrock response is nil")
	}
	msgOut, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.New("vlm: bedrock response did not include a message output")
	}

	var builder strings.Builder
	for _, block := range msgOut.Value.Content {
		if textBlock, ok := block.(*brtypes.ContentBlockMemberText); ok {
			builder.WriteString(textBlock.Value)
		}
	}
	text := strings.TrimSpace(builder.String())
	if text == "" {
		return "", errors.New("vlm: bedrock response contained no text content blocks")
	}
	return text, nil
}

type structuredNoteWire struct {
	PatientName    string             `json:"patient_name"`
	ChiefComplaint string             `json:"chief_complaint"`
	Diagnoses      []string           `json:"diagnoses"`
	Vitals         map[string]float64 `json:"vitals"`
}

func parseStructuredNote(text string) (StructuredNote, error) {
	// The model is instructed to return bare JSON but may still wrap it in
	// a fenced code block; strip fencing defensively.
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var wire structuredNoteWire
	if err := json.Unmarshal([]byte(text), &wire); err != nil {
		return StructuredNote{}, fmt.Errorf("vlm: could not parse structured note JSON: %w", err)
	}

	return StructuredNote{
		PatientName:    wire.PatientName,
		ChiefComplaint: wire.ChiefComplaint,
		Diagnoses:      wire.Diagnoses,
		Vitals:         wire.Vitals,
	}, nil
}
