// Package gemini is the Google Gemini backend, built on the official
// google.golang.org/genai SDK.
package gemini

import (
	"context"
	"encoding/base64"
	"fmt"

	"google.golang.org/genai"

	"github.com/vbonduro/imgprompt/internal/vision"
)

// DefaultModel is the model the application was designed around.
const DefaultModel = "gemini-2.5-flash"

type GeminiBackend struct {
	client *genai.Client
	model  string
}

var _ vision.Backend = (*GeminiBackend)(nil)

// NewGeminiBackend creates a backend for the Gemini API. The key must be
// passed explicitly; an empty key is rejected rather than letting the SDK
// fall back to GOOGLE_API_KEY / GEMINI_API_KEY. baseURL overrides the API
// endpoint and is left empty in production.
func NewGeminiBackend(ctx context.Context, apiKey, model, baseURL string) (*GeminiBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: %w", vision.ErrMissingCredential)
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions.BaseURL = baseURL
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiBackend{client: client, model: model}, nil
}

func (b *GeminiBackend) Generate(ctx context.Context, payload, mediaType, instruction string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("failed to decode payload: %w", err)
	}

	contents := []*genai.Content{{
		Role: string(genai.RoleUser),
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{Data: data, MIMEType: mediaType}},
			{Text: instruction},
		},
	}}

	result, err := b.client.Models.GenerateContent(ctx, b.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("generation failed: %w", err)
	}
	if result == nil || len(result.Candidates) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}

	candidate := result.Candidates[0]
	switch candidate.FinishReason {
	case "", genai.FinishReasonUnspecified, genai.FinishReasonStop:
	default:
		return "", fmt.Errorf("generation stopped early (finish reason: %s)", candidate.FinishReason)
	}
	return result.Text(), nil
}
