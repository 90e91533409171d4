// Package memory keeps previews in process memory.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/vbonduro/imgprompt/internal/previewstore"
)

type entry struct {
	data     []byte
	mimeType string
}

type MemoryPreviewStore struct {
	mu      sync.RWMutex
	entries map[string]entry
}

var _ previewstore.Store = (*MemoryPreviewStore)(nil)

func NewMemoryPreviewStore() *MemoryPreviewStore {
	return &MemoryPreviewStore{entries: make(map[string]entry)}
}

func (s *MemoryPreviewStore) Save(ctx context.Context, prefix, mimeType string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read preview: %w", err)
	}

	key := prefix + "_" + uuid.NewString()
	s.mu.Lock()
	s.entries[key] = entry{data: data, mimeType: mimeType}
	s.mu.Unlock()
	return key, nil
}

func (s *MemoryPreviewStore) Get(ctx context.Context, key string) (io.ReadCloser, string, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, "", previewstore.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(e.data)), e.mimeType, nil
}

func (s *MemoryPreviewStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return previewstore.ErrNotFound
	}
	delete(s.entries, key)
	return nil
}

// Len reports how many previews are currently held.
func (s *MemoryPreviewStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
