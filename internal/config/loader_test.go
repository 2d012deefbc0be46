package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/parley/internal/config"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr []string
	}{
		{
			name:    "invalid log level",
			yaml:    "server:\n  log_level: bananas\n",
			wantErr: []string{"server.log_level"},
		},
		{
			name:    "half tls",
			yaml:    "server:\n  tls:\n    cert_file: cert.pem\n",
			wantErr: []string{"server.tls"},
		},
		{
			name:    "unknown backend",
			yaml:    "store:\n  backend: firestore\n",
			wantErr: []string{"store.backend"},
		},
		{
			name:    "postgres without dsn",
			yaml:    "store:\n  backend: postgres\n",
			wantErr: []string{"store.postgres_dsn"},
		},
		{
			name:    "negative durations",
			yaml:    "session:\n  max_duration: -1s\n  tone_interval: -5s\ncache:\n  ttl: -1m\n",
			wantErr: []string{"session.max_duration", "session.tone_interval", "cache.ttl"},
		},
		{
			name: "duplicate and invalid modes",
			yaml: `
modes:
  - name: drill
    prompt: drill.md
  - name: drill
    prompt: drill2.md
  - name: broken
    feedback: true
    produces_report: true
    prompt: broken.md
`,
			wantErr: []string{"duplicate", "feedback modes cannot produce reports"},
		},
		{
			name:    "fallback without primary",
			yaml:    "analysis_fallbacks:\n  - name: openai\n  - model: x\n",
			wantErr: []string{"analysis_fallbacks[1].name", "analysis_fallbacks needs analysis.name"},
		},
		{
			name:    "negative breaker",
			yaml:    "breaker:\n  threshold: -1\n",
			wantErr: []string{"breaker.threshold"},
		},
		{
			name:    "empty voice",
			yaml:    "voices: [Kore, \"\"]\n",
			wantErr: []string{"voices[1]"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error should mention %q, got: %v", want, err)
				}
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: "loud"},
		Store:  config.StoreConfig{Backend: "tape"},
		Voices: []string{""},
	}
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"log_level", "store.backend", "upstream.name", "voices[0]"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}
