package transcript_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/parley/internal/transcript"
)

func TestTryFlush_Terminators(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		role  transcript.Role
		input string
		want  bool
	}{
		{"user period", transcript.RoleUser, "I agree.", true},
		{"user question", transcript.RoleUser, " Why not? ", true},
		{"user exclamation", transcript.RoleUser, "Great!", true},
		{"user colon is not a terminator", transcript.RoleUser, "Here is the plan:", false},
		{"ai colon", transcript.RoleAssistant, "Here is the plan:", true},
		{"ai closing quote", transcript.RoleAssistant, `He said "no"`, true},
		{"user closing quote", transcript.RoleUser, `He said "no"`, false},
		{"no terminator", transcript.RoleUser, "well I think", false},
		{"whitespace only", transcript.RoleUser, "   ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := transcript.NewBuffer(tt.role, 0)
			b.Append(tt.input)
			text, ok := b.TryFlush()
			if ok != tt.want {
				t.Fatalf("TryFlush ok = %v; want %v", ok, tt.want)
			}
			if ok && text != strings.TrimSpace(tt.input) {
				t.Errorf("text = %q; want %q", text, strings.TrimSpace(tt.input))
			}
		})
	}
}

func TestTryFlush_WordThresholdFlushesExactlyOnce(t *testing.T) {
	t.Parallel()

	b := transcript.NewBuffer(transcript.RoleUser, 0)
	fragments := []string{"so", " I", " was", " thinking", " that", " we", " could", " maybe", " try"}
	for _, f := range fragments {
		b.Append(f)
		if _, ok := b.TryFlush(); ok {
			t.Fatalf("flushed early after %q", f)
		}
	}

	b.Append(" again")
	text, ok := b.TryFlush()
	if !ok {
		t.Fatal("expected flush at threshold")
	}
	if want := "so I was thinking that we could maybe try again"; text != want {
		t.Errorf("text = %q; want %q", text, want)
	}
	if _, ok := b.TryFlush(); ok {
		t.Error("buffer should be empty after flush")
	}
	if _, ok := b.ForceFlush(); ok {
		t.Error("ForceFlush after flush should return nothing")
	}
}

func TestTryFlush_AssistantThreshold(t *testing.T) {
	t.Parallel()

	b := transcript.NewBuffer(transcript.RoleAssistant, 0)
	b.Append(strings.Repeat("word ", 14))
	if _, ok := b.TryFlush(); ok {
		t.Fatal("14 words should not flush the assistant buffer")
	}
	b.Append("word")
	if _, ok := b.TryFlush(); !ok {
		t.Fatal("15 words should flush the assistant buffer")
	}
}

func TestTryFlush_CustomThreshold(t *testing.T) {
	t.Parallel()

	b := transcript.NewBuffer(transcript.RoleUser, 3)
	b.Append("one two three")
	if _, ok := b.TryFlush(); !ok {
		t.Fatal("expected flush at custom threshold")
	}
}

func TestForceFlush_Idempotent(t *testing.T) {
	t.Parallel()

	b := transcript.NewBuffer(transcript.RoleAssistant, 0)
	b.Append("  trailing partial ")
	text, ok := b.ForceFlush()
	if !ok || text != "trailing partial" {
		t.Fatalf("ForceFlush = %q, %v", text, ok)
	}
	if text, ok := b.ForceFlush(); ok || text != "" {
		t.Errorf("second ForceFlush = %q, %v; want empty", text, ok)
	}
}

func TestWordCount(t *testing.T) {
	t.Parallel()
	if got := transcript.WordCount("  a b\tc\nd  "); got != 4 {
		t.Errorf("WordCount = %d; want 4", got)
	}
	if got := transcript.WordCount(""); got != 0 {
		t.Errorf("WordCount(\"\") = %d; want 0", got)
	}
}
