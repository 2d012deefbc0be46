package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/mode"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Modes:  []mode.Definition{{Name: "drill", Prompt: "drill.md"}},
		Voices: []string{"Kore"},
	}
	d := config.Diff(cfg, cfg)
	if !d.Empty() {
		t.Errorf("expected empty diff for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if d.ModesChanged || d.VoicesChanged {
		t.Errorf("unexpected changes: %+v", d)
	}
}

func TestDiff_Modes(t *testing.T) {
	t.Parallel()
	pitch := mode.Defaults()[0]
	faster := pitch
	faster.Hints.MaxWordsPerMinute = 140
	faster.HardTimeout = 5 * time.Minute

	old := &config.Config{Modes: []mode.Definition{
		{Name: "drill", Prompt: "drill.md"},
		{Name: "standup", Prompt: "standup.md"},
	}}
	new := &config.Config{Modes: []mode.Definition{
		faster,
		{Name: "drill", Prompt: "drill-v2.md"},
		{Name: "retro", Prompt: "retro.md"},
	}}

	d := config.Diff(old, new)
	if !d.ModesChanged {
		t.Fatal("expected ModesChanged=true")
	}
	want := []config.ModeDiff{
		{Name: "drill", PromptChanged: true},
		{Name: pitch.Name, TimeoutChanged: true, HintsChanged: true},
		{Name: "retro", Added: true},
		{Name: "standup", Removed: true},
	}
	if !slices.Equal(d.ModeChanges, want) {
		t.Errorf("ModeChanges:\n got %+v\nwant %+v", d.ModeChanges, want)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server:   config.ServerConfig{ListenAddr: ":8080"},
		Upstream: config.ProviderEntry{Name: "gemini-live", APIKey: "a"},
		Store:    config.StoreConfig{Backend: config.StoreMemory},
	}
	new := &config.Config{
		Server:            config.ServerConfig{ListenAddr: ":9090"},
		Upstream:          config.ProviderEntry{Name: "gemini-live", APIKey: "b"},
		AnalysisFallbacks: []config.ProviderEntry{{Name: "openai"}},
		Store:             config.StoreConfig{Backend: config.StoreFile, Path: "s.json"},
		Cache:             config.CacheConfig{RedisURL: "redis://localhost"},
	}

	d := config.Diff(old, new)
	want := []string{"server", "upstream", "analysis", "store", "cache"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
	if d.Empty() {
		t.Error("diff with restart-only changes should not be empty")
	}
}

func TestDiff_VoicesChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Voices: []string{"Kore", "Puck"}}
	new := &config.Config{Voices: []string{"Puck", "Kore"}}
	if d := config.Diff(old, new); !d.VoicesChanged {
		t.Error("expected VoicesChanged=true for reordered voices")
	}
}
