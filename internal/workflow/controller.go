// Package workflow drives one user's upload, generate, copy and reset cycle.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/vbonduro/imgprompt/internal/encoder"
	"github.com/vbonduro/imgprompt/internal/previewstore"
	"github.com/vbonduro/imgprompt/internal/vision"
)

const previewPrefix = "preview"

type Option func(*Controller)

// WithCopiedTTL overrides DefaultCopiedTTL.
func WithCopiedTTL(d time.Duration) Option {
	return func(c *Controller) { c.copiedTTL = d }
}

// Controller is safe for concurrent use. State changes happen under mu;
// the preview read and the remote call run without it, so a View taken
// mid-generation reports Generating.
type Controller struct {
	previews  previewstore.Store
	generator vision.Generator
	logger    *slog.Logger
	copiedTTL time.Duration

	mu        sync.Mutex
	state     State
	selection *Selection
	result    string
	errMsg    string
	copied    bool
	copyTimer *time.Timer
	copySeq   uint64
	// epoch changes on every upload, submit and reset. A submission only
	// applies its outcome if the epoch is still the one it started with.
	epoch uint64
}

func NewController(previews previewstore.Store, generator vision.Generator, logger *slog.Logger, opts ...Option) *Controller {
	c := &Controller{
		previews:  previews,
		generator: generator,
		logger:    logger,
		copiedTTL: DefaultCopiedTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// countingReader tracks bytes read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Upload replaces the current image. Any previous result and error are
// cleared and the previous preview is released. An upload while a
// generation is in flight supersedes it.
func (c *Controller) Upload(ctx context.Context, name, mediaType string, r io.Reader) error {
	cr := &countingReader{r: r}
	key, err := c.previews.Save(ctx, previewPrefix, mediaType, cr)
	if err != nil {
		return fmt.Errorf("failed to store preview: %w", err)
	}

	c.mu.Lock()
	prev := c.selection
	c.selection = &Selection{Name: name, MediaType: mediaType, Size: cr.n, PreviewKey: key}
	c.result = ""
	c.errMsg = ""
	c.clearCopiedLocked()
	c.epoch++
	c.state = Selected
	c.mu.Unlock()

	c.logger.Info("image selected", "name", name, "mime_type", mediaType, "bytes", cr.n)
	c.release(ctx, prev)
	return nil
}

// Submit encodes the selected image and asks the generator for a prompt.
// It blocks until the request resolves. A failed generation is reported
// through View, not as a returned error; the returned errors are
// ErrNoImageSelected and ErrSubmitInProgress, both of which leave the state
// unchanged.
func (c *Controller) Submit(ctx context.Context) error {
	c.mu.Lock()
	if c.selection == nil {
		c.errMsg = NoImageMessage
		c.mu.Unlock()
		return ErrNoImageSelected
	}
	if c.state == Generating {
		c.mu.Unlock()
		return ErrSubmitInProgress
	}
	sel := *c.selection
	c.state = Generating
	c.result = ""
	c.errMsg = ""
	c.clearCopiedLocked()
	c.epoch++
	epoch := c.epoch
	c.mu.Unlock()

	text, err := c.generate(ctx, sel)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		c.logger.Info("discarding superseded generation", "name", sel.Name)
		return nil
	}
	if err != nil {
		c.logger.Error("prompt generation failed", "name", sel.Name, "error", err)
		c.state = Failed
		c.errMsg = FailureMessage
		return nil
	}
	c.state = Completed
	c.result = text
	return nil
}

// generate runs the encoder then the generator. Every failure here is a
// generation failure from the user's point of view.
func (c *Controller) generate(ctx context.Context, sel Selection) (string, error) {
	rc, _, err := c.previews.Get(ctx, sel.PreviewKey)
	if err != nil {
		return "", fmt.Errorf("failed to open preview: %w", err)
	}
	req, err := encoder.Encode(ctx, rc, sel.MediaType)
	if cerr := rc.Close(); cerr != nil {
		c.logger.Error("failed to close preview reader", "error", cerr)
	}
	if err != nil {
		return "", err
	}
	if req.Empty() {
		return "", fmt.Errorf("%w: empty payload", vision.ErrGenerationFailure)
	}
	return c.generator.Generate(ctx, req.Payload, req.MediaType)
}

// Reset returns the controller to Empty and releases the preview.
func (c *Controller) Reset(ctx context.Context) {
	c.mu.Lock()
	prev := c.selection
	c.selection = nil
	c.result = ""
	c.errMsg = ""
	c.clearCopiedLocked()
	c.epoch++
	c.state = Empty
	c.mu.Unlock()

	c.release(ctx, prev)
}

// Close releases everything the controller holds.
func (c *Controller) Close(ctx context.Context) {
	c.Reset(ctx)
}

// Copy returns the current result and raises the copied indicator for
// copiedTTL. A later copy restarts the timer.
func (c *Controller) Copy() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == "" {
		return "", ErrNothingToCopy
	}

	c.clearCopiedLocked()
	c.copied = true
	seq := c.copySeq
	c.copyTimer = time.AfterFunc(c.copiedTTL, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.copySeq == seq {
			c.copied = false
			c.copyTimer = nil
		}
	})
	return c.result, nil
}

// View returns a consistent snapshot of the controller.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := View{
		State:   c.state,
		Loading: c.state == Generating,
		Result:  c.result,
		Error:   c.errMsg,
		Copied:  c.copied,
	}
	if c.selection != nil {
		sel := *c.selection
		v.Selection = &sel
	}
	return v
}

// OwnsPreview reports whether key is this controller's current preview.
func (c *Controller) OwnsPreview(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selection != nil && c.selection.PreviewKey == key
}

// clearCopiedLocked drops the copied indicator and invalidates any pending
// timer. c.mu must be held.
func (c *Controller) clearCopiedLocked() {
	c.copied = false
	c.copySeq++
	if c.copyTimer != nil {
		c.copyTimer.Stop()
		c.copyTimer = nil
	}
}

func (c *Controller) release(ctx context.Context, sel *Selection) {
	if sel == nil {
		return
	}
	if err := c.previews.Delete(ctx, sel.PreviewKey); err != nil && !errors.Is(err, previewstore.ErrNotFound) {
		c.logger.Error("failed to release preview", "preview_key", sel.PreviewKey, "error", err)
	}
}
