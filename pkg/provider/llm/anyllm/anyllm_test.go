package anyllm

import (
	"slices"
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

func TestParams(t *testing.T) {
	tests := []struct {
		name      string
		req       llm.CompletionRequest
		wantMsgs  int
		wantSys   string
		wantTemp  bool
		wantLimit bool
	}{
		{
			name:     "system prompt leads",
			req:      llm.CompletionRequest{SystemPrompt: "Be terse.", Messages: []llm.Message{{Role: llm.RoleUser, Content: "Rate my pitch."}}},
			wantMsgs: 2,
			wantSys:  "Be terse.",
		},
		{
			name:     "no empty system message",
			req:      llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}},
			wantMsgs: 1,
		},
		{
			name: "json steered through system prompt",
			req: llm.CompletionRequest{
				SystemPrompt: "Analyse.",
				Messages:     []llm.Message{{Role: llm.RoleUser, Content: "x"}},
				JSON:         true,
				Temperature:  0.2,
				MaxTokens:    512,
			},
			wantMsgs:  2,
			wantSys:   "Analyse.\n\n" + llm.JSONInstruction,
			wantTemp:  true,
			wantLimit: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Provider{name: "ollama", model: "llama3"}
			got := p.params(tt.req)

			if got.Model != "llama3" {
				t.Errorf("model = %q, want llama3", got.Model)
			}
			if len(got.Messages) != tt.wantMsgs {
				t.Fatalf("got %d messages, want %d", len(got.Messages), tt.wantMsgs)
			}
			if tt.wantSys != "" {
				if got.Messages[0].Role != anyllmlib.RoleSystem || got.Messages[0].ContentString() != tt.wantSys {
					t.Errorf("first message = %+v, want system %q", got.Messages[0], tt.wantSys)
				}
			} else if got.Messages[0].Role == anyllmlib.RoleSystem {
				t.Error("unexpected system message")
			}
			last := got.Messages[len(got.Messages)-1]
			if last.Role != llm.RoleUser {
				t.Errorf("last role = %q, want user", last.Role)
			}
			if (got.Temperature != nil) != tt.wantTemp {
				t.Errorf("temperature set = %v, want %v", got.Temperature != nil, tt.wantTemp)
			}
			if tt.wantTemp && *got.Temperature != tt.req.Temperature {
				t.Errorf("temperature = %v, want %v", *got.Temperature, tt.req.Temperature)
			}
			if (got.MaxTokens != nil) != tt.wantLimit {
				t.Errorf("max tokens set = %v, want %v", got.MaxTokens != nil, tt.wantLimit)
			}
		})
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		backend  string
		model    string
		opts     []anyllmlib.Option
		wantName string
		wantErr  string
	}{
		{name: "missing backend", model: "m", wantErr: "backend name is required"},
		{name: "missing model", backend: "ollama", wantErr: "model is required"},
		{name: "unknown backend", backend: "fakecloud", model: "m", wantErr: `unknown backend "fakecloud"`},
		{name: "case insensitive", backend: "Anthropic", model: "claude-3-5-haiku-latest", opts: []anyllmlib.Option{anyllmlib.WithAPIKey("sk-ant-test")}, wantName: "anyllm/anthropic"},
		{name: "local server", backend: "ollama", model: "llama3", wantName: "anyllm/ollama"},
		{name: "llamacpp", backend: "llamacpp", model: "llama3", wantName: "anyllm/llamacpp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.backend, tt.model, tt.opts...)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("New() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error: %v", err)
			}
			if p.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", p.Name(), tt.wantName)
			}
		})
	}
}

func TestNew_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o-mini"); err == nil {
		t.Fatal("New() without key succeeded, want error")
	}
}

func TestBackends(t *testing.T) {
	got := Backends()
	if !slices.IsSorted(got) {
		t.Errorf("Backends() = %v, not sorted", got)
	}
	for _, want := range []string{"anthropic", "groq", "ollama"} {
		if !slices.Contains(got, want) {
			t.Errorf("Backends() lacks %q", want)
		}
	}
}
