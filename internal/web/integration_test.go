package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vbonduro/imgprompt/internal/previewstore/memory"
	"github.com/vbonduro/imgprompt/internal/session"
	"github.com/vbonduro/imgprompt/internal/vision"
	"github.com/vbonduro/imgprompt/internal/web"
	"github.com/vbonduro/imgprompt/internal/web/templates"
	"github.com/vbonduro/imgprompt/internal/workflow"
)

// minimalJPEG is 512 bytes with the JPEG magic bytes header followed by zeros.
// http.DetectContentType identifies JPEG from the leading 0xFF 0xD8 bytes.
var minimalJPEG = func() []byte {
	b := make([]byte, 512)
	b[0] = 0xFF
	b[1] = 0xD8
	b[2] = 0xFF
	b[3] = 0xE0
	return b
}()

// recordingGenerator captures the payload passed to it and returns a
// pre-configured result. When gate is non-nil it blocks until gate closes.
type recordingGenerator struct {
	mu          sync.Mutex
	lastPayload string
	text        string
	err         error
	started     chan struct{}
	gate        chan struct{}
}

func (g *recordingGenerator) Generate(_ context.Context, payload, _ string) (string, error) {
	g.mu.Lock()
	g.lastPayload = payload
	g.mu.Unlock()
	if g.started != nil {
		g.started <- struct{}{}
	}
	if g.gate != nil {
		<-g.gate
	}
	return g.text, g.err
}

func (g *recordingGenerator) LastPayload() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastPayload
}

type stateResponse struct {
	State   string `json:"state"`
	Loading bool   `json:"loading"`
	Image   *struct {
		Name       string `json:"name"`
		MimeType   string `json:"mimeType"`
		PreviewURL string `json:"previewUrl"`
	} `json:"image"`
	Result string `json:"result"`
	Error  string `json:"error"`
	Copied bool   `json:"copied"`
}

// newTestServer sets up a real web.Server backed by an in-memory preview
// store and the provided generator stub.
func newTestServer(t *testing.T, gen vision.Generator) (*httptest.Server, *memory.MemoryPreviewStore) {
	t.Helper()
	store := memory.NewMemoryPreviewStore()
	registry := session.NewRegistry(func() *workflow.Controller {
		return workflow.NewController(store, gen, slog.Default())
	}, time.Hour, slog.Default())

	srv := httptest.NewServer(web.NewServer(registry, templates.FS, store, slog.Default()))
	t.Cleanup(srv.Close)
	return srv, store
}

// newClient returns a client that keeps the session cookie.
func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &http.Client{Jar: jar}
}

// buildMultipartBody creates a multipart/form-data body with an "image" field.
func buildMultipartBody(t *testing.T, filename string, imageData []byte) (body *bytes.Buffer, contentType string) {
	t.Helper()
	body = &bytes.Buffer{}
	w := multipart.NewWriter(body)
	fw, err := w.CreateFormFile("image", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(imageData); err != nil {
		t.Fatalf("write image data: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return body, w.FormDataContentType()
}

func decodeState(t *testing.T, resp *http.Response) stateResponse {
	t.Helper()
	var st stateResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return st
}

func uploadImage(t *testing.T, client *http.Client, srv *httptest.Server, filename string, data []byte) *http.Response {
	t.Helper()
	body, contentType := buildMultipartBody(t, filename, data)
	resp, err := client.Post(srv.URL+"/image", contentType, body)
	if err != nil {
		t.Fatalf("POST /image: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func post(t *testing.T, client *http.Client, url string) *http.Response {
	t.Helper()
	resp, err := client.Post(url, "", nil)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestIntegration_Index(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	srv, _ := newTestServer(t, &recordingGenerator{})

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), "Image Prompt Extractor") {
		t.Errorf("page does not contain title:\n%s", b)
	}
	if got := resp.Header.Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
	if len(resp.Cookies()) == 0 {
		t.Error("expected a session cookie")
	}
}

// TestIntegration_EndToEnd walks upload -> generate -> copy and checks the
// exact prompt text comes back.
func TestIntegration_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	gen := &recordingGenerator{text: "a red bicycle, studio lighting, photorealistic"}
	srv, _ := newTestServer(t, gen)
	client := newClient(t)

	resp := uploadImage(t, client, srv, "photo.jpg", minimalJPEG)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, b)
	}
	st := decodeState(t, resp)
	if st.State != "selected" || st.Image == nil || st.Image.Name != "photo.jpg" || st.Image.MimeType != "image/jpeg" {
		t.Fatalf("unexpected state after upload: %+v", st)
	}

	preview, err := client.Get(srv.URL + st.Image.PreviewURL)
	if err != nil {
		t.Fatalf("GET preview: %v", err)
	}
	t.Cleanup(func() { _ = preview.Body.Close() })
	previewBytes, _ := io.ReadAll(preview.Body)
	if preview.StatusCode != http.StatusOK || !bytes.Equal(previewBytes, minimalJPEG) {
		t.Fatalf("preview status %d, %d bytes", preview.StatusCode, len(previewBytes))
	}

	st = decodeState(t, post(t, client, srv.URL+"/generate"))
	if st.State != "completed" || st.Loading {
		t.Fatalf("unexpected state after generate: %+v", st)
	}
	if st.Result != "a red bicycle, studio lighting, photorealistic" {
		t.Errorf("result = %q", st.Result)
	}
	if gen.LastPayload() == "" {
		t.Error("generator received an empty payload")
	}

	copyResp := post(t, client, srv.URL+"/copy")
	copied, _ := io.ReadAll(copyResp.Body)
	if string(copied) != st.Result {
		t.Errorf("copy returned %q, want %q", copied, st.Result)
	}

	state, err := client.Get(srv.URL + "/state")
	if err != nil {
		t.Fatalf("GET /state: %v", err)
	}
	t.Cleanup(func() { _ = state.Body.Close() })
	if st := decodeState(t, state); !st.Copied {
		t.Error("expected copied indicator to be raised")
	}
}

func TestIntegration_GenerateWithoutImage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	srv, _ := newTestServer(t, &recordingGenerator{text: "unused"})
	client := newClient(t)

	resp := post(t, client, srv.URL+"/generate")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	st := decodeState(t, resp)
	if st.State != "empty" || st.Error != workflow.NoImageMessage {
		t.Errorf("unexpected state: %+v", st)
	}
}

// TestIntegration_GenerateFailure checks that a transport error surfaces as
// the generic message with a 200 and never as a server error.
func TestIntegration_GenerateFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	gen := &recordingGenerator{err: errors.New("connection reset by peer")}
	srv, _ := newTestServer(t, gen)
	client := newClient(t)

	uploadImage(t, client, srv, "photo.jpg", minimalJPEG)
	resp := post(t, client, srv.URL+"/generate")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	st := decodeState(t, resp)
	if st.State != "failed" || st.Error != workflow.FailureMessage || st.Result != "" || st.Loading {
		t.Errorf("unexpected state: %+v", st)
	}
}

func TestIntegration_GenerateInProgress(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	gen := &recordingGenerator{text: "ok", started: make(chan struct{}), gate: make(chan struct{})}
	srv, _ := newTestServer(t, gen)
	client := newClient(t)
	uploadImage(t, client, srv, "photo.jpg", minimalJPEG)

	done := make(chan int, 1)
	go func() {
		resp, err := client.Post(srv.URL+"/generate", "", nil)
		if err != nil {
			done <- 0
			return
		}
		_ = resp.Body.Close()
		done <- resp.StatusCode
	}()
	<-gen.started

	state, err := client.Get(srv.URL + "/state")
	if err != nil {
		t.Fatalf("GET /state: %v", err)
	}
	t.Cleanup(func() { _ = state.Body.Close() })
	if st := decodeState(t, state); st.State != "generating" || !st.Loading {
		t.Errorf("expected generating state, got %+v", st)
	}

	if resp := post(t, client, srv.URL+"/generate"); resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for second submit, got %d", resp.StatusCode)
	}

	close(gen.gate)
	if code := <-done; code != http.StatusOK {
		t.Errorf("first generate status = %d", code)
	}
}

func TestIntegration_UnsupportedImage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	srv, store := newTestServer(t, &recordingGenerator{})
	client := newClient(t)

	resp := uploadImage(t, client, srv, "doc.pdf", []byte("%PDF-1.4 not an image"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if store.Len() != 0 {
		t.Errorf("rejected upload was stored")
	}
}

// TestIntegration_ResetReleasesPreview verifies reset empties the session
// and the old preview URL stops resolving.
func TestIntegration_ResetReleasesPreview(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	srv, store := newTestServer(t, &recordingGenerator{text: "ok"})
	client := newClient(t)

	st := decodeState(t, uploadImage(t, client, srv, "photo.jpg", minimalJPEG))
	previewURL := st.Image.PreviewURL

	st = decodeState(t, post(t, client, srv.URL+"/reset"))
	if st.State != "empty" || st.Image != nil || st.Result != "" || st.Error != "" {
		t.Errorf("unexpected state after reset: %+v", st)
	}
	if store.Len() != 0 {
		t.Errorf("preview not released, %d left", store.Len())
	}

	resp, err := client.Get(srv.URL + previewURL)
	if err != nil {
		t.Fatalf("GET preview: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for released preview, got %d", resp.StatusCode)
	}
}

func TestIntegration_PreviewIsPrivate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	srv, _ := newTestServer(t, &recordingGenerator{})
	owner := newClient(t)
	st := decodeState(t, uploadImage(t, owner, srv, "photo.jpg", minimalJPEG))

	resp, err := newClient(t).Get(srv.URL + st.Image.PreviewURL)
	if err != nil {
		t.Fatalf("GET preview: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for another session's preview, got %d", resp.StatusCode)
	}
}

func TestIntegration_HTMXPartial(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	srv, _ := newTestServer(t, &recordingGenerator{text: "misty forest, volumetric light"})
	client := newClient(t)
	uploadImage(t, client, srv, "photo.jpg", minimalJPEG)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/generate", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("HX-Request", "true")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("POST /generate: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), "misty forest, volumetric light") {
		t.Errorf("partial does not contain the prompt:\n%s", b)
	}
	if !strings.Contains(string(b), "/preview/") {
		t.Errorf("partial does not reference the preview:\n%s", b)
	}
}

func TestIntegration_CopyWithoutResult(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	srv, _ := newTestServer(t, &recordingGenerator{})
	resp := post(t, newClient(t), srv.URL+"/copy")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}
