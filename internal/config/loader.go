package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "PARLEY_"

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"upstream": {"gemini-live"},
	"analysis": {"gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment
// overrides and defaults, and validates the result. An empty document is a
// valid config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if (cfg.Server.TLS.CertFile == "") != (cfg.Server.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls needs both cert_file and key_file"))
	}
	if cfg.Server.ReadLimit < 0 {
		errs = append(errs, fmt.Errorf("server.read_limit %d must not be negative", cfg.Server.ReadLimit))
	}

	// Providers
	if cfg.Upstream.Name == "" {
		errs = append(errs, errors.New("upstream.name is required"))
	}
	validateProviderName("upstream", cfg.Upstream.Name)
	validateProviderName("analysis", cfg.Analysis.Name)
	if cfg.Upstream.APIKey == "" {
		slog.Warn("upstream.api_key is empty; sessions will fail to connect (set PARLEY_UPSTREAM_API_KEY)")
	}
	for i, fb := range cfg.AnalysisFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("analysis_fallbacks[%d].name is required", i))
		}
		validateProviderName("analysis", fb.Name)
	}
	if len(cfg.AnalysisFallbacks) > 0 && cfg.Analysis.Name == "" {
		errs = append(errs, errors.New("analysis_fallbacks needs analysis.name"))
	}
	if cfg.Breaker.Threshold < 0 || cfg.Breaker.Cooldown < 0 {
		errs = append(errs, errors.New("breaker.threshold and breaker.cooldown must not be negative"))
	}
	if cfg.Analysis.Name == "" {
		slog.Warn("analysis provider not configured; reports fall back and tone analysis is disabled")
	}

	// Store
	switch {
	case cfg.Store.Backend != "" && !cfg.Store.Backend.IsValid():
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: memory, file, postgres", cfg.Store.Backend))
	case cfg.Store.Backend == StoreFile && cfg.Store.Path == "":
		errs = append(errs, errors.New("store.path is required when backend is file"))
	case cfg.Store.Backend == StorePostgres && cfg.Store.PostgresDSN == "":
		errs = append(errs, errors.New("store.postgres_dsn is required when backend is postgres"))
	}
	if cfg.Cache.TTL < 0 {
		errs = append(errs, fmt.Errorf("cache.ttl %s must not be negative", cfg.Cache.TTL))
	}

	// Session
	s := cfg.Session
	for name, v := range map[string]int64{
		"max_duration":          int64(s.MaxDuration),
		"user_flush_words":      int64(s.UserFlushWords),
		"assistant_flush_words": int64(s.AssistantFlushWords),
		"tone_interval":         int64(s.ToneInterval),
		"tone_min_words":        int64(s.ToneMinWords),
		"tone_text_limit":       int64(s.ToneTextLimit),
		"connect_attempts":      int64(s.ConnectAttempts),
		"connect_backoff":       int64(s.ConnectBackoff),
		"finalize_timeout":      int64(s.FinalizeTimeout),
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("session.%s must not be negative", name))
		}
	}

	// Modes
	seen := make(map[string]int, len(cfg.Modes))
	for i, def := range cfg.Modes {
		prefix := fmt.Sprintf("modes[%d]", i)
		if prev, ok := seen[def.Name]; ok && def.Name != "" {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of modes[%d]", prefix, def.Name, prev))
		}
		seen[def.Name] = i
		if err := def.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
		}
	}

	// Voices
	for i, v := range cfg.Voices {
		if v == "" {
			errs = append(errs, fmt.Errorf("voices[%d] is empty", i))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a custom registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
