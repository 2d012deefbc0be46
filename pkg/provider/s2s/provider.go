// Package s2s defines the Provider interface for Speech-to-Speech (S2S) backends.
//
// An S2S provider wraps a real-time voice AI service that accepts raw audio and
// video input and returns synthesised audio output together with transcripts of
// both speakers in a single, stateful session.
//
// The central abstraction is SessionHandle: an open session that accepts media
// and text turns and reports everything the service does as a single ordered
// stream of [Event] values. A single ordered stream lets the consumer apply
// events to its own state without additional locking.
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"
	"fmt"
)

// Role identifies the speaker of a transcript fragment.
type Role string

const (
	// RoleUser is the human talking to the assistant.
	RoleUser Role = "user"

	// RoleAssistant is the voice model.
	RoleAssistant Role = "ai"
)

// MediaKind is the type of a realtime media chunk sent to the provider.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// EventType discriminates [Event] values.
type EventType int

const (
	// EventReady is emitted once the provider accepted the session setup and is
	// ready for turns.
	EventReady EventType = iota + 1

	// EventTranscript carries an incremental transcription fragment for one role.
	EventTranscript

	// EventAudio carries a chunk of synthesised audio (16-bit PCM).
	EventAudio

	// EventTurnComplete marks the end of a model turn.
	EventTurnComplete

	// EventInterrupted signals barge-in: the model's in-flight output is cancelled.
	EventInterrupted

	// EventToolCall reports a function call requested by the model.
	EventToolCall

	// EventError reports a non-fatal provider error. The session stays open.
	EventError

	// EventClosed is the final event before the stream is closed.
	EventClosed
)

// String returns a lower-case name suitable for logs and metric attributes.
func (t EventType) String() string {
	switch t {
	case EventReady:
		return "ready"
	case EventTranscript:
		return "transcript"
	case EventAudio:
		return "audio"
	case EventTurnComplete:
		return "turn_complete"
	case EventInterrupted:
		return "interrupted"
	case EventToolCall:
		return "tool_call"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID   string
	Name string
	Args string // JSON-encoded arguments
}

// Event is one item of a session's event stream. Only the fields relevant to
// Type are populated.
type Event struct {
	Type EventType

	// Role and Text are set for EventTranscript.
	Role Role
	Text string

	// Audio is set for EventAudio.
	Audio []byte

	// ToolCall is set for EventToolCall.
	ToolCall *ToolCall

	// Err is set for EventError.
	Err error

	// Code and Reason are set for EventClosed. Code follows RFC 6455 close
	// codes; 1000 means the provider ended the session normally.
	Code   int
	Reason string
}

// SessionConfig is the initial configuration for a new S2S session.
type SessionConfig struct {
	// Voice is the provider's prebuilt voice name (e.g. "Kore").
	Voice string

	// Instructions is the system-level prompt that defines the persona and the
	// scenario.
	Instructions string

	// Transcribe requests transcription of both the user's input audio and the
	// model's output audio.
	Transcribe bool
}

// Capabilities describes static properties of the S2S provider.
type Capabilities struct {
	// MaxSessionDurationMs is the hard upper bound on session lifetime in
	// milliseconds, as imposed by the provider. Zero means no documented limit.
	MaxSessionDurationMs int

	// Voices lists the prebuilt voice names available for this provider.
	Voices []string
}

// SessionHandle represents an open S2S session. It is an interface so that test
// code can supply mock implementations without a live provider connection.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// Events returns the session's event stream. The last event before the
	// channel is closed is always an EventClosed. Consumers must drain the
	// channel promptly to avoid stalling the provider's receive loop.
	Events() <-chan Event

	// SendText issues a complete user-role text turn.
	SendText(ctx context.Context, text string) error

	// SendMedia forwards a realtime media chunk. Audio must be 16 kHz 16-bit
	// mono PCM; video must be a single JPEG frame.
	SendMedia(ctx context.Context, kind MediaKind, data []byte) error

	// Close terminates the session and releases all resources. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any S2S backend.
type Provider interface {
	// Connect opens a new session. The returned handle accepts media
	// immediately; EventReady reports when the provider has processed the
	// setup.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about the provider.
	Capabilities() Capabilities
}
