package protocol

import "encoding/json"

// Message is a server-to-client control message.
type Message interface {
	// MessageType returns the value of the "type" discriminator.
	MessageType() string
}

// Encode marshals msg into a text frame payload.
func Encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// SessionStarted announces that the upstream is ready.
type SessionStarted struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Mode      string `json:"mode"`
}

// NewSessionStarted returns a session_started message.
func NewSessionStarted(sessionID, mode string) SessionStarted {
	return SessionStarted{Type: "session_started", SessionID: sessionID, Mode: mode}
}

func (SessionStarted) MessageType() string { return "session_started" }

// TranscriptCue carries one flushed transcript segment. Timestamp is the
// session's elapsed seconds at flush time.
type TranscriptCue struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	Timestamp int    `json:"timestamp"`
}

// NewTranscriptCue returns a transcript_cue message.
func NewTranscriptCue(text string, elapsed int) TranscriptCue {
	return TranscriptCue{Type: "transcript_cue", Text: text, Timestamp: elapsed}
}

func (TranscriptCue) MessageType() string { return "transcript_cue" }

// Metrics carries a metric snapshot.
type Metrics struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// NewMetrics returns a metrics message.
func NewMetrics(data any) Metrics { return Metrics{Type: "metrics", Data: data} }

func (Metrics) MessageType() string { return "metrics" }

// Report carries the post-session report.
type Report struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// NewReport returns a report message.
func NewReport(data any) Report { return Report{Type: "report", Data: data} }

func (Report) MessageType() string { return "report" }

// Signal is a message with no payload besides its type.
type Signal struct {
	Type string `json:"type"`
}

// TurnComplete returns a turn_complete message.
func TurnComplete() Signal { return Signal{Type: "turn_complete"} }

// Interrupted returns an interrupted message.
func Interrupted() Signal { return Signal{Type: "interrupted"} }

func (s Signal) MessageType() string { return s.Type }

// Notice is a message carrying a human-readable text.
type Notice struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Error returns an error message.
func Error(text string) Notice { return Notice{Type: "error", Message: text} }

// AIDisconnected returns an ai_disconnected message.
func AIDisconnected(text string) Notice { return Notice{Type: "ai_disconnected", Message: text} }

func (n Notice) MessageType() string { return n.Type }
