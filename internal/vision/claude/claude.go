package claude

import (
	"context"
	"fmt"

	"github.com/liushuangls/go-anthropic/v2"

	"github.com/vbonduro/imgprompt/internal/vision"
)

// maxTokens comfortably fits a comma-separated prompt of a few hundred words.
const maxTokens = 1024

type ClaudeBackend struct {
	client *anthropic.Client
	model  string
}

var _ vision.Backend = (*ClaudeBackend)(nil)

// NewClaudeBackend builds a backend for the Anthropic Messages API. Extra
// client options (base URL, HTTP client) are passed through.
func NewClaudeBackend(apiKey, model string, opts ...anthropic.ClientOption) (*ClaudeBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("claude: %w", vision.ErrMissingCredential)
	}
	return &ClaudeBackend{
		client: anthropic.NewClient(apiKey, opts...),
		model:  model,
	}, nil
}

// buildMessages puts the image block before the instruction text.
func buildMessages(payload, mediaType, instruction string) []anthropic.Message {
	return []anthropic.Message{{
		Role: anthropic.RoleUser,
		Content: []anthropic.MessageContent{
			anthropic.NewImageMessageContent(anthropic.MessageContentSource{
				Type:      anthropic.MessagesContentSourceTypeBase64,
				MediaType: normaliseMIME(mediaType),
				Data:      payload,
			}),
			anthropic.NewTextMessageContent(instruction),
		},
	}}
}

func (b *ClaudeBackend) Generate(ctx context.Context, payload, mediaType, instruction string) (string, error) {
	resp, err := b.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(b.model),
		MaxTokens: maxTokens,
		Messages:  buildMessages(payload, mediaType, instruction),
	})
	if err != nil {
		return "", fmt.Errorf("failed to call claude: %w", err)
	}

	for _, blk := range resp.Content {
		if blk.Type == anthropic.MessagesContentTypeText {
			return blk.GetText(), nil
		}
	}
	return "", fmt.Errorf("claude response has no text block")
}

// normaliseMIME maps browser MIME types to the values the Anthropic API accepts.
// Unknown types are coerced to jpeg; the web layer only admits png, jpeg and
// webp so this is a fallback.
func normaliseMIME(mimeType string) string {
	switch mimeType {
	case "image/png", "image/gif", "image/webp":
		return mimeType
	default:
		return "image/jpeg"
	}
}
