// Package file provides a [store.Store] that keeps everything in a single
// JSON document on disk. It suits local development and single-instance
// deployments with a handful of users.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/MrWong99/parley/internal/store"
	"github.com/MrWong99/parley/internal/store/memory"
)

// Compile-time assertion that Store satisfies store.Store.
var _ store.Store = (*Store)(nil)

// Store persists a [memory.Document] to a file. Every write rewrites the
// whole document through a temporary file and a rename, so readers of the
// file never observe a partial write.
// Thread-safe for concurrent use.
type Store struct {
	path string

	mu  sync.Mutex // serialises mutate+flush
	mem *memory.Store
}

// Open loads the document at path. A missing file starts an empty store; the
// file is created on the first write.
func Open(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &Store{path: path, mem: memory.New()}, nil
	case err != nil:
		return nil, fmt.Errorf("file store: read %s: %w", path, err)
	}

	var doc memory.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("file store: decode %s: %w", path, err)
	}
	return &Store{path: path, mem: memory.FromDocument(doc)}, nil
}

// flush writes the current document. Callers hold mu.
func (s *Store) flush() error {
	data, err := json.MarshalIndent(s.mem.Document(), "", "  ")
	if err != nil {
		return fmt.Errorf("file store: marshal: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("file store: create dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("file store: write: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("file store: rename: %w", err)
	}
	return nil
}

// Save implements [store.Store.Save].
func (s *Store) Save(ctx context.Context, r store.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.Save(ctx, r); err != nil {
		return err
	}
	return s.flush()
}

// Get implements [store.Store.Get].
func (s *Store) Get(ctx context.Context, id string) (store.Record, error) {
	return s.mem.Get(ctx, id)
}

// ListByUser implements [store.Store.ListByUser].
func (s *Store) ListByUser(ctx context.Context, userID string) ([]store.Summary, error) {
	return s.mem.ListByUser(ctx, userID)
}

// GetProfile implements [store.Store.GetProfile].
func (s *Store) GetProfile(ctx context.Context, userID string) (store.Profile, error) {
	return s.mem.GetProfile(ctx, userID)
}

// SaveProfile implements [store.Store.SaveProfile].
func (s *Store) SaveProfile(ctx context.Context, p store.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.SaveProfile(ctx, p); err != nil {
		return err
	}
	return s.flush()
}

// ListPresets implements [store.Store.ListPresets].
func (s *Store) ListPresets(ctx context.Context, userID string) ([]store.Preset, error) {
	return s.mem.ListPresets(ctx, userID)
}

// SavePreset implements [store.Store.SavePreset].
func (s *Store) SavePreset(ctx context.Context, p store.Preset) (store.Preset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	saved, err := s.mem.SavePreset(ctx, p)
	if err != nil {
		return store.Preset{}, err
	}
	return saved, s.flush()
}

// Ping implements [store.Store.Ping] by checking that the target directory
// exists or can be created.
func (s *Store) Ping(context.Context) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("file store: %w", err)
	}
	return nil
}

// Close implements [store.Store.Close]. Every write is already durable.
func (s *Store) Close() error { return nil }
