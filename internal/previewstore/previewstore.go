// Package previewstore holds the bytes behind each session's preview handle
// until the handle is released.
package previewstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned for keys that were never saved or already released.
var ErrNotFound = errors.New("preview not found")

type Store interface {
	Save(ctx context.Context, prefix, mimeType string, r io.Reader) (key string, err error)
	Get(ctx context.Context, key string) (io.ReadCloser, string, error)
	Delete(ctx context.Context, key string) error
}
