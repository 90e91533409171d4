package vision

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// InstructionPrompt is the shared instruction sent alongside every image.
const InstructionPrompt = `You are an expert image prompt generator. Analyze this image in extreme detail. 
Create a concise but highly descriptive prompt that could be used to regenerate this image with an AI image generator. 
Describe everything with rich keywords separated by commas: 
- Subject: What is the main subject? Describe their appearance, clothing, action, and expression.
- Environment: Where is the subject? Describe the background, foreground, and any notable objects.
- Lighting: Describe the lighting style (e.g., soft light, golden hour, cinematic lighting, neon glow).
- Colors: What is the overall color palette? Mention dominant and accent colors.
- Composition: Describe the camera angle (e.g., low angle shot, eye-level, wide shot) and lens (e.g., wide-angle, macro, 35mm). Mention composition techniques (e.g., rule of thirds, leading lines).
- Style: What is the artistic style (e.g., photorealistic, impressionistic, futuristic, retro, anime).`

var (
	// ErrGenerationFailure is the single error kind callers of Client see.
	ErrGenerationFailure = errors.New("failed to communicate with the generation backend")

	// ErrMissingCredential is returned by backend constructors when no API
	// key is supplied.
	ErrMissingCredential = errors.New("API key is not set")
)

// Backend is one provider adapter. payload is standard base64.
type Backend interface {
	Generate(ctx context.Context, payload, mediaType, instruction string) (string, error)
}

// Generator is what the workflow depends on.
type Generator interface {
	Generate(ctx context.Context, payload, mediaType string) (string, error)
}

// Client attaches InstructionPrompt to each request and collapses every
// backend failure into ErrGenerationFailure. The original error is only
// logged.
type Client struct {
	backend Backend
	name    string
	logger  *slog.Logger
}

var _ Generator = (*Client)(nil)

func NewClient(backend Backend, name string, logger *slog.Logger) *Client {
	return &Client{backend: backend, name: name, logger: logger}
}

// Generate sends the image and instruction to the backend and returns the
// trimmed response text.
func (c *Client) Generate(ctx context.Context, payload, mediaType string) (string, error) {
	if payload == "" {
		c.logger.Error("generation skipped: empty image payload", "backend", c.name, "mime_type", mediaType)
		return "", ErrGenerationFailure
	}

	c.logger.Info("generation started", "backend", c.name, "mime_type", mediaType, "payload_bytes", len(payload))
	text, err := c.backend.Generate(ctx, payload, mediaType, InstructionPrompt)
	if err != nil {
		c.logger.Error("error generating prompt from backend", "backend", c.name, "error", err)
		return "", ErrGenerationFailure
	}

	text = strings.TrimSpace(text)
	if text == "" {
		c.logger.Error("backend returned no text", "backend", c.name)
		return "", ErrGenerationFailure
	}
	c.logger.Info("generation complete", "backend", c.name, "chars", len(text))
	return text, nil
}
