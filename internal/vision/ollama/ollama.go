package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/vbonduro/imgprompt/internal/vision"
)

type OllamaBackend struct {
	host   string
	model  string
	client *http.Client
}

var _ vision.Backend = (*OllamaBackend)(nil)

func NewOllamaBackend(host, model string) *OllamaBackend {
	return &OllamaBackend{
		host:   host,
		model:  model,
		client: &http.Client{},
	}
}

func (b *OllamaBackend) Generate(ctx context.Context, payload, mediaType, instruction string) (string, error) {
	// Ollama takes raw base64 images and sniffs the format itself.
	reqBody := map[string]interface{}{
		"model":  b.model,
		"prompt": instruction,
		"images": []string{payload},
		"stream": false,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	var respBody struct {
		Response string `json:"response"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&respBody); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	return respBody.Response, nil
}
