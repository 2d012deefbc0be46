// Package protocol implements the wire format spoken between a browser client
// and the session server over a single WebSocket connection.
//
// Two message classes share the connection:
//
//   - Text frames carry UTF-8 JSON control messages with a "type"
//     discriminator. The server sends session_started, transcript_cue,
//     metrics, turn_complete, interrupted, error, report and ai_disconnected;
//     the client sends end_session, pause_session and resume_session.
//   - Binary frames carry media. Client frames are self-describing: a JSON
//     header such as {"type":"audio"} terminated by a single '\n', followed by
//     the raw payload. Server frames are raw PCM audio with no header.
//
// Malformed client frames decode to an error wrapping one of the package
// sentinels; callers drop them and keep the connection open.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Decode errors. Use [errors.Is] to classify.
var (
	ErrMissingHeader = errors.New("protocol: binary frame has no header terminator")
	ErrInvalidHeader = errors.New("protocol: unparsable frame header")
	ErrUnknownType   = errors.New("protocol: unknown message type")
)

// MediaKind is the payload type named by a binary frame header.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// Media is a decoded client binary frame.
type Media struct {
	Kind    MediaKind
	Payload []byte
}

// CommandType is the type of a client control message.
type CommandType string

const (
	CommandEndSession    CommandType = "end_session"
	CommandPauseSession  CommandType = "pause_session"
	CommandResumeSession CommandType = "resume_session"
)

type header struct {
	Type string `json:"type"`
}

// DecodeMedia parses a client binary frame. The returned payload aliases data.
func DecodeMedia(data []byte) (Media, error) {
	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		return Media{}, ErrMissingHeader
	}
	var h header
	if err := json.Unmarshal(data[:i], &h); err != nil {
		return Media{}, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	switch kind := MediaKind(h.Type); kind {
	case MediaAudio, MediaVideo:
		return Media{Kind: kind, Payload: data[i+1:]}, nil
	default:
		return Media{}, fmt.Errorf("%w: %q", ErrUnknownType, h.Type)
	}
}

// EncodeMedia builds a client binary frame. The server never sends headered
// frames; this exists for clients and tests.
func EncodeMedia(kind MediaKind, payload []byte) []byte {
	h, _ := json.Marshal(header{Type: string(kind)})
	out := make([]byte, 0, len(h)+1+len(payload))
	out = append(out, h...)
	out = append(out, '\n')
	return append(out, payload...)
}

// DecodeCommand parses a client text frame.
func DecodeCommand(data []byte) (CommandType, error) {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	switch ct := CommandType(h.Type); ct {
	case CommandEndSession, CommandPauseSession, CommandResumeSession:
		return ct, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownType, h.Type)
	}
}

// DecodeErrorKind returns a short label for err suitable as a metric
// attribute.
func DecodeErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrMissingHeader):
		return "missing_header"
	case errors.Is(err, ErrInvalidHeader):
		return "invalid_header"
	case errors.Is(err, ErrUnknownType):
		return "unknown_type"
	default:
		return "other"
	}
}
