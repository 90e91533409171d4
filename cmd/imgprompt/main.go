package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vbonduro/imgprompt/internal/config"
	"github.com/vbonduro/imgprompt/internal/logging"
	"github.com/vbonduro/imgprompt/internal/previewstore"
	"github.com/vbonduro/imgprompt/internal/previewstore/local"
	"github.com/vbonduro/imgprompt/internal/previewstore/memory"
	"github.com/vbonduro/imgprompt/internal/session"
	"github.com/vbonduro/imgprompt/internal/vision"
	claudevision "github.com/vbonduro/imgprompt/internal/vision/claude"
	geminivision "github.com/vbonduro/imgprompt/internal/vision/gemini"
	ollamavision "github.com/vbonduro/imgprompt/internal/vision/ollama"
	"github.com/vbonduro/imgprompt/internal/web"
	"github.com/vbonduro/imgprompt/internal/web/templates"
	"github.com/vbonduro/imgprompt/internal/workflow"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, cleanup, err := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer cleanup()

	// A missing credential stops startup before anything is served.
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := newBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize vision backend", "error", err)
		return err
	}
	generator := vision.NewClient(backend, cfg.VisionBackend, logger)

	previews, closePreviews, err := newPreviewStore(cfg)
	if err != nil {
		logger.Error("failed to initialize preview store", "error", err)
		return err
	}
	defer closePreviews()

	registry := session.NewRegistry(func() *workflow.Controller {
		return workflow.NewController(previews, generator, logger)
	}, cfg.SessionIdleTTL, logger)

	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		registry.Run(ctx, sweepInterval(cfg.SessionIdleTTL))
	}()

	server := web.NewServer(registry, templates.FS, previews, logger)
	srv := server.HTTPServer(cfg.ListenAddr)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.ListenAddr, "backend", cfg.VisionBackend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
			<-sweepDone
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}
	<-sweepDone
	return nil
}

func newBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (vision.Backend, error) {
	switch cfg.VisionBackend {
	case "claude":
		logger.Info("using Claude vision backend", "model", cfg.ClaudeModel)
		return claudevision.NewClaudeBackend(cfg.ClaudeAPIKey, cfg.ClaudeModel)
	case "ollama":
		logger.Info("using Ollama vision backend", "model", cfg.OllamaModel)
		return ollamavision.NewOllamaBackend(cfg.OllamaHost, cfg.OllamaModel), nil
	default:
		logger.Info("using Gemini vision backend", "model", cfg.GeminiModel)
		return geminivision.NewGeminiBackend(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, "")
	}
}

func newPreviewStore(cfg *config.Config) (previewstore.Store, func(), error) {
	if cfg.PreviewBackend == "local" {
		store, err := local.NewLocalPreviewStore(cfg.PreviewPath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				slog.Error("failed to remove preview spool", "error", err)
			}
		}, nil
	}
	return memory.NewMemoryPreviewStore(), func() {}, nil
}

// sweepInterval checks for idle sessions a few times per TTL.
func sweepInterval(ttl time.Duration) time.Duration {
	if interval := ttl / 4; interval > time.Second {
		return interval
	}
	return time.Second
}
