package claude

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/imgprompt/internal/vision"
)

func newTestBackend(t *testing.T, handler http.HandlerFunc) *ClaudeBackend {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	backend, err := NewClaudeBackend("sk-test", "claude-opus-4-6", anthropic.WithBaseURL(server.URL))
	require.NoError(t, err)
	return backend
}

func TestClaudeGenerate(t *testing.T) {
	var got map[string]interface{}
	backend := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk-test", r.Header.Get("x-api-key"))
		_ = json.NewDecoder(r.Body).Decode(&got)

		resp := map[string]interface{}{
			"id":    "msg_1",
			"type":  "message",
			"role":  "assistant",
			"model": "claude-opus-4-6",
			"content": []map[string]interface{}{
				{"type": "text", "text": "a red bicycle, studio lighting, photorealistic"},
			},
			"stop_reason": "end_turn",
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	text, err := backend.Generate(context.Background(), "/9j/", "image/jpeg", "describe")
	require.NoError(t, err)
	assert.Equal(t, "a red bicycle, studio lighting, photorealistic", text)
	assert.Equal(t, "claude-opus-4-6", got["model"])

	messages, ok := got["messages"].([]interface{})
	require.True(t, ok)
	require.Len(t, messages, 1)
	content := messages[0].(map[string]interface{})["content"].([]interface{})
	require.Len(t, content, 2)
	assert.Equal(t, "image", content[0].(map[string]interface{})["type"])
	assert.Equal(t, "text", content[1].(map[string]interface{})["type"])
	assert.Equal(t, "describe", content[1].(map[string]interface{})["text"])
}

func TestClaudeGenerateAPIError(t *testing.T) {
	backend := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})

	_, err := backend.Generate(context.Background(), "/9j/", "image/jpeg", "describe")
	assert.Error(t, err)
}

func TestNewClaudeBackendMissingKey(t *testing.T) {
	_, err := NewClaudeBackend("", "claude-opus-4-6")
	assert.ErrorIs(t, err, vision.ErrMissingCredential)
}

func TestNormaliseMIME(t *testing.T) {
	assert.Equal(t, "image/png", normaliseMIME("image/png"))
	assert.Equal(t, "image/webp", normaliseMIME("image/webp"))
	assert.Equal(t, "image/jpeg", normaliseMIME("image/jpeg"))
	assert.Equal(t, "image/jpeg", normaliseMIME("image/bmp"))
}
