package web

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/vbonduro/imgprompt/internal/previewstore"
)

const maxImageSize = 20 * 1024 * 1024 // 20 MB

// allowedImageTypes is the set of MIME types accepted for uploaded images.
// net/http.DetectContentType handles JPEG and PNG via magic-byte sniffing.
// WebP is detected separately because the WHATWG sniff spec (and therefore
// the stdlib) does not include a WebP signature.
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// isWebP reports whether data is a WebP image (RIFF container with "WEBP" at
// offset 8).
func isWebP(data []byte) bool {
	return len(data) >= 12 &&
		string(data[0:4]) == "RIFF" &&
		string(data[8:12]) == "WEBP"
}

// allowedImageMIME returns the detected MIME type and true if the data is an
// accepted image format, or ("", false) otherwise.
func allowedImageMIME(data []byte) (string, bool) {
	if isWebP(data) {
		return "image/webp", true
	}
	mime := http.DetectContentType(data)
	if allowedImageTypes[mime] {
		return mime, true
	}
	return "", false
}

func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageSize+1024*1024)
	if err := r.ParseMultipartForm(maxImageSize); err != nil {
		http.Error(w, "failed to parse form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "image file required", http.StatusBadRequest)
		return
	}
	defer closeWithLog(file, "upload file", s.logger)

	imageData, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "failed to read file", http.StatusInternalServerError)
		s.logger.Error("read upload failed", "error", err)
		return
	}

	mimeType, ok := allowedImageMIME(imageData)
	if !ok {
		http.Error(w, "unsupported image format", http.StatusBadRequest)
		return
	}

	ctrl := s.controllerFor(w, r)
	if err := ctrl.Upload(r.Context(), header.Filename, mimeType, bytes.NewReader(imageData)); err != nil {
		http.Error(w, "failed to store image", http.StatusInternalServerError)
		s.logger.Error("upload image failed", "error", err)
		return
	}

	s.respondView(w, r, http.StatusOK, ctrl.View())
}

// handleGetPreview serves the caller's own current preview only.
func (s *Server) handleGetPreview(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	ctrl, ok := s.existingController(r)
	if !ok || !ctrl.OwnsPreview(key) {
		http.NotFound(w, r)
		return
	}

	reader, mimeType, err := s.previews.Get(r.Context(), key)
	if err != nil {
		if !errors.Is(err, previewstore.ErrNotFound) {
			s.logger.Error("get preview failed", "preview_key", key, "error", err)
		}
		http.NotFound(w, r)
		return
	}
	defer closeWithLog(reader, "preview reader", s.logger)

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Cache-Control", "private, no-store")
	if _, err := io.Copy(w, reader); err != nil {
		s.logger.Error("write preview failed", "preview_key", key, "error", err)
	}
}

// closeWithLog closes c and logs any error, using label to identify the resource.
func closeWithLog(c io.Closer, label string, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Error("failed to close resource", "label", label, "error", err)
	}
}
