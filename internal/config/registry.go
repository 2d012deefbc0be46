package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/s2s"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// is registered under the entry's name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its config entry.
type Factory[P any] func(ProviderEntry) (P, error)

// factories is one kind's name to factory table.
type factories[P any] struct {
	kind string
	mu   sync.RWMutex
	m    map[string]Factory[P]
}

func (f *factories[P]) register(name string, fn Factory[P]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.m == nil {
		f.m = make(map[string]Factory[P])
	}
	f.m[name] = fn
}

func (f *factories[P]) create(entry ProviderEntry) (P, error) {
	f.mu.RLock()
	fn, ok := f.m[entry.Name]
	f.mu.RUnlock()
	if !ok {
		var zero P
		return zero, fmt.Errorf("%w: %s %q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	p, err := fn(entry)
	if err != nil {
		var zero P
		return zero, fmt.Errorf("config: %s %q: %w", f.kind, entry.Name, err)
	}
	return p, nil
}

func (f *factories[P]) names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Sorted(maps.Keys(f.m))
}

// Registry resolves [ProviderEntry] names to constructors: text models for
// analysis and speech-to-speech models for the upstream. A later
// registration under the same name replaces the earlier one. Safe for
// concurrent use.
type Registry struct {
	llm factories[llm.Provider]
	s2s factories[s2s.Provider]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		llm: factories[llm.Provider]{kind: "analysis"},
		s2s: factories[s2s.Provider]{kind: "upstream"},
	}
}

// RegisterLLM registers an analysis model factory.
func (r *Registry) RegisterLLM(name string, fn Factory[llm.Provider]) { r.llm.register(name, fn) }

// RegisterS2S registers an upstream voice model factory.
func (r *Registry) RegisterS2S(name string, fn Factory[s2s.Provider]) { r.s2s.register(name, fn) }

// CreateLLM builds the analysis model named by entry.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) { return r.llm.create(entry) }

// CreateS2S builds the upstream voice model named by entry.
func (r *Registry) CreateS2S(entry ProviderEntry) (s2s.Provider, error) { return r.s2s.create(entry) }

// LLMNames returns the registered analysis model names, sorted.
func (r *Registry) LLMNames() []string { return r.llm.names() }

// S2SNames returns the registered upstream model names, sorted.
func (r *Registry) S2SNames() []string { return r.s2s.names() }
