// Package memory provides an in-process [store.Store] for tests and local
// development. Its [Document] form is also the on-disk format of the file
// backend.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/parley/internal/store"
)

// Compile-time assertion that Store satisfies store.Store.
var _ store.Store = (*Store)(nil)

// Document is the complete contents of a Store.
type Document struct {
	Sessions map[string]store.Record  `json:"sessions"`
	Profiles map[string]store.Profile `json:"profiles"`
	Presets  map[string]store.Preset  `json:"presets"`
}

// Store is a thread-safe, in-memory implementation of [store.Store].
// The zero value is ready to use.
type Store struct {
	mu  sync.RWMutex
	doc Document
	now func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{}
}

// FromDocument returns a Store holding doc. The Store takes ownership of the
// maps.
func FromDocument(doc Document) *Store {
	s := &Store{doc: doc}
	s.init()
	return s
}

// init allocates nil maps. Callers hold mu.
func (s *Store) init() {
	if s.doc.Sessions == nil {
		s.doc.Sessions = make(map[string]store.Record)
	}
	if s.doc.Profiles == nil {
		s.doc.Profiles = make(map[string]store.Profile)
	}
	if s.doc.Presets == nil {
		s.doc.Presets = make(map[string]store.Preset)
	}
	if s.now == nil {
		s.now = time.Now
	}
}

// Document returns a copy of the Store's contents.
func (s *Store) Document() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Document{
		Sessions: make(map[string]store.Record, len(s.doc.Sessions)),
		Profiles: make(map[string]store.Profile, len(s.doc.Profiles)),
		Presets:  make(map[string]store.Preset, len(s.doc.Presets)),
	}
	for k, v := range s.doc.Sessions {
		out.Sessions[k] = v
	}
	for k, v := range s.doc.Profiles {
		out.Profiles[k] = v
	}
	for k, v := range s.doc.Presets {
		out.Presets[k] = v
	}
	return out
}

// Save implements [store.Store.Save].
func (s *Store) Save(_ context.Context, r store.Record) error {
	r.Transcript = slices.Clone(r.Transcript)
	r.Metrics = slices.Clone(r.Metrics)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	s.doc.Sessions[r.ID] = r
	return nil
}

// Get implements [store.Store.Get].
func (s *Store) Get(_ context.Context, id string) (store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.doc.Sessions[id]
	if !ok {
		return store.Record{}, store.ErrNotFound
	}
	r.Transcript = slices.Clone(r.Transcript)
	r.Metrics = slices.Clone(r.Metrics)
	return r, nil
}

// ListByUser implements [store.Store.ListByUser].
func (s *Store) ListByUser(_ context.Context, userID string) ([]store.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Summary, 0)
	for _, r := range s.doc.Sessions {
		if r.UserID == userID {
			out = append(out, store.Summarize(r))
		}
	}
	return store.SortSummaries(out), nil
}

// GetProfile implements [store.Store.GetProfile].
func (s *Store) GetProfile(_ context.Context, userID string) (store.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.doc.Profiles[userID]
	if !ok {
		return store.Profile{}, store.ErrNotFound
	}
	return p, nil
}

// SaveProfile implements [store.Store.SaveProfile].
func (s *Store) SaveProfile(_ context.Context, p store.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	if p.LastUpdated.IsZero() {
		p.LastUpdated = s.now()
	}
	s.doc.Profiles[p.UserID] = p
	return nil
}

// ListPresets implements [store.Store.ListPresets].
func (s *Store) ListPresets(_ context.Context, userID string) ([]store.Preset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Preset, 0)
	for _, p := range s.doc.Presets {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return store.SortPresets(out), nil
}

// SavePreset implements [store.Store.SavePreset].
func (s *Store) SavePreset(_ context.Context, p store.Preset) (store.Preset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.LastUsedAt.IsZero() {
		p.LastUsedAt = s.now()
	}
	s.doc.Presets[p.ID] = p
	return p, nil
}

// Ping implements [store.Store.Ping]. It always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close implements [store.Store.Close]. It is a no-op.
func (s *Store) Close() error { return nil }
