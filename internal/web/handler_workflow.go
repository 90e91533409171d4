package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vbonduro/imgprompt/internal/workflow"
)

type imageJSON struct {
	Name       string `json:"name"`
	MimeType   string `json:"mimeType"`
	Size       int64  `json:"size"`
	PreviewURL string `json:"previewUrl"`
}

type viewJSON struct {
	State   string     `json:"state"`
	Loading bool       `json:"loading"`
	Image   *imageJSON `json:"image,omitempty"`
	Result  string     `json:"result"`
	Error   string     `json:"error,omitempty"`
	Copied  bool       `json:"copied"`
}

func toJSON(v workflow.View) viewJSON {
	out := viewJSON{
		State:   v.State.String(),
		Loading: v.Loading,
		Result:  v.Result,
		Error:   v.Error,
		Copied:  v.Copied,
	}
	if v.Selection != nil {
		out.Image = &imageJSON{
			Name:       v.Selection.Name,
			MimeType:   v.Selection.MediaType,
			Size:       v.Selection.Size,
			PreviewURL: previewURL(v.Selection.PreviewKey),
		}
	}
	return out
}

// respondView renders the workspace partial for htmx and JSON otherwise.
// htmx only swaps 2xx responses, so the partial is always sent with 200.
func (s *Server) respondView(w http.ResponseWriter, r *http.Request, status int, v workflow.View) {
	if isHTMX(r) {
		if err := s.renderPartial(w, "partials/workspace.html", v); err != nil {
			s.logger.Error("render partial failed", "error", err)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(toJSON(v)); err != nil {
		s.logger.Error("encode view failed", "error", err)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ctrl := s.controllerFor(w, r)
	if err := s.renderPage(w, ctrl.View(),
		"base.html", "pages/index.html", "partials/workspace.html",
	); err != nil {
		s.logger.Error("render page failed", "error", err)
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	ctrl := s.controllerFor(w, r)
	s.respondView(w, r, http.StatusOK, ctrl.View())
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	ctrl := s.controllerFor(w, r)

	// A generation cannot be cancelled once started, so it must outlive the
	// request if the client goes away.
	err := ctrl.Submit(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, workflow.ErrNoImageSelected):
		s.respondView(w, r, http.StatusBadRequest, ctrl.View())
	case errors.Is(err, workflow.ErrSubmitInProgress):
		http.Error(w, "generation already in progress", http.StatusConflict)
	case err != nil:
		http.Error(w, "failed to generate prompt", http.StatusInternalServerError)
		s.logger.Error("generate failed", "error", err)
	default:
		s.respondView(w, r, http.StatusOK, ctrl.View())
	}
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	ctrl := s.controllerFor(w, r)
	ctrl.Reset(r.Context())
	s.respondView(w, r, http.StatusOK, ctrl.View())
}

// handleCopy returns the prompt as plain text for the page's clipboard
// script and raises the copied indicator.
func (s *Server) handleCopy(w http.ResponseWriter, r *http.Request) {
	ctrl := s.controllerFor(w, r)
	text, err := ctrl.Copy()
	if err != nil {
		http.Error(w, "nothing to copy", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write([]byte(text)); err != nil {
		s.logger.Error("write copy response failed", "error", err)
	}
}
