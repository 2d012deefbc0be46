// Package transcript segments the incremental transcription fragments of a
// live conversation into sentences for display and storage.
//
// Each speaker gets its own [Buffer]. Fragments are appended as they arrive
// and [Buffer.TryFlush] releases the accumulated text once it ends a sentence
// or grows past the role's word threshold, whichever comes first. The word
// threshold bounds latency when punctuation never arrives.
//
// Buffers are owned by a single session goroutine and are not safe for
// concurrent use.
package transcript

import "strings"

// Role identifies the speaker of a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "ai"
)

// Default word thresholds.
const (
	DefaultUserThreshold      = 10
	DefaultAssistantThreshold = 15
)

const (
	userTerminators      = ".?!"
	assistantTerminators = ".?!:\""
)

// Entry is one flushed segment in a session's transcript log. Timestamp is
// the session's elapsed seconds at flush time.
type Entry struct {
	Role      Role   `json:"role"`
	Text      string `json:"text"`
	Timestamp int    `json:"timestamp"`
}

// Buffer accumulates raw text for one role.
type Buffer struct {
	role        Role
	threshold   int
	terminators string
	buf         strings.Builder
}

// NewBuffer returns a buffer with the flush policy of role. A threshold <= 0
// selects the role default.
func NewBuffer(role Role, threshold int) *Buffer {
	b := &Buffer{role: role, threshold: threshold}
	switch role {
	case RoleAssistant:
		b.terminators = assistantTerminators
		if b.threshold <= 0 {
			b.threshold = DefaultAssistantThreshold
		}
	default:
		b.terminators = userTerminators
		if b.threshold <= 0 {
			b.threshold = DefaultUserThreshold
		}
	}
	return b
}

// Role returns the speaker this buffer collects.
func (b *Buffer) Role() Role { return b.role }

// Append concatenates text to the buffer verbatim. Transcription fragments
// carry their own leading spaces.
func (b *Buffer) Append(text string) {
	b.buf.WriteString(text)
}

// TryFlush returns the trimmed buffer and clears it if the text ends with one
// of the role's terminators or has at least threshold words. Otherwise the
// buffer is left intact and ok is false.
func (b *Buffer) TryFlush() (text string, ok bool) {
	text = strings.TrimSpace(b.buf.String())
	if text == "" {
		return "", false
	}
	if !strings.ContainsRune(b.terminators, rune(text[len(text)-1])) &&
		len(strings.Fields(text)) < b.threshold {
		return "", false
	}
	b.buf.Reset()
	return text, true
}

// ForceFlush drains the buffer regardless of policy. It reports false when
// nothing but whitespace was buffered.
func (b *Buffer) ForceFlush() (text string, ok bool) {
	text = strings.TrimSpace(b.buf.String())
	b.buf.Reset()
	return text, text != ""
}

// WordCount splits text on whitespace.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
