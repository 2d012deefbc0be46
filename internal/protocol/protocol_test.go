package protocol_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/MrWong99/parley/internal/protocol"
)

func TestDecodeMedia(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		frame   []byte
		kind    protocol.MediaKind
		payload string
		wantErr error
	}{
		{name: "audio", frame: []byte("{\"type\":\"audio\"}\n\x01\x02"), kind: protocol.MediaAudio, payload: "\x01\x02"},
		{name: "video", frame: []byte("{\"type\":\"video\"}\n\xff\xd8"), kind: protocol.MediaVideo, payload: "\xff\xd8"},
		{name: "empty payload", frame: []byte("{\"type\":\"audio\"}\n"), kind: protocol.MediaAudio, payload: ""},
		{name: "payload containing newline", frame: []byte("{\"type\":\"audio\"}\n\n\n"), kind: protocol.MediaAudio, payload: "\n\n"},
		{name: "no newline", frame: []byte(`{"type":"audio"}`), wantErr: protocol.ErrMissingHeader},
		{name: "bad json header", frame: []byte("{type:audio\n\x01"), wantErr: protocol.ErrInvalidHeader},
		{name: "unknown type", frame: []byte("{\"type\":\"text\"}\n\x01"), wantErr: protocol.ErrUnknownType},
		{name: "empty frame", frame: nil, wantErr: protocol.ErrMissingHeader},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m, err := protocol.DecodeMedia(tt.frame)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v; want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if m.Kind != tt.kind {
				t.Errorf("kind = %q; want %q", m.Kind, tt.kind)
			}
			if string(m.Payload) != tt.payload {
				t.Errorf("payload = %q; want %q", m.Payload, tt.payload)
			}
		})
	}
}

func TestEncodeMedia_DecodesBack(t *testing.T) {
	t.Parallel()
	frame := protocol.EncodeMedia(protocol.MediaVideo, []byte{9, 8, 7})
	m, err := protocol.DecodeMedia(frame)
	if err != nil {
		t.Fatalf("DecodeMedia: %v", err)
	}
	if m.Kind != protocol.MediaVideo || string(m.Payload) != "\x09\x08\x07" {
		t.Errorf("got %+v", m)
	}
}

func TestDecodeCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    protocol.CommandType
		wantErr error
	}{
		{in: `{"type":"end_session"}`, want: protocol.CommandEndSession},
		{in: `{"type":"pause_session"}`, want: protocol.CommandPauseSession},
		{in: `{"type":"resume_session","extra":1}`, want: protocol.CommandResumeSession},
		{in: `{"type":"reboot"}`, wantErr: protocol.ErrUnknownType},
		{in: `not json`, wantErr: protocol.ErrInvalidHeader},
	}

	for _, tt := range tests {
		got, err := protocol.DecodeCommand([]byte(tt.in))
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("DecodeCommand(%s) err = %v; want %v", tt.in, err, tt.wantErr)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("DecodeCommand(%s) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestDecodeErrorKind(t *testing.T) {
	t.Parallel()
	_, err := protocol.DecodeMedia([]byte("x"))
	if got := protocol.DecodeErrorKind(err); got != "missing_header" {
		t.Errorf("kind = %q; want missing_header", got)
	}
	_, err = protocol.DecodeCommand([]byte(`{"type":"x"}`))
	if got := protocol.DecodeErrorKind(err); got != "unknown_type" {
		t.Errorf("kind = %q; want unknown_type", got)
	}
}

func TestEncode_ServerMessages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		msg  protocol.Message
		want string
	}{
		{protocol.NewSessionStarted("s1", "veritalk"), `{"type":"session_started","sessionId":"s1","mode":"veritalk"}`},
		{protocol.NewTranscriptCue("[User]: hi.", 0), `{"type":"transcript_cue","text":"[User]: hi.","timestamp":0}`},
		{protocol.NewMetrics(map[string]int{"talk_ratio": 40}), `{"type":"metrics","data":{"talk_ratio":40}}`},
		{protocol.TurnComplete(), `{"type":"turn_complete"}`},
		{protocol.Interrupted(), `{"type":"interrupted"}`},
		{protocol.Error("boom"), `{"type":"error","message":"boom"}`},
		{protocol.AIDisconnected("Session completed"), `{"type":"ai_disconnected","message":"Session completed"}`},
		{protocol.NewReport(nil), `{"type":"report","data":null}`},
	}

	for _, tt := range tests {
		data, err := protocol.Encode(tt.msg)
		if err != nil {
			t.Fatalf("Encode(%s): %v", tt.msg.MessageType(), err)
		}
		if string(data) != tt.want {
			t.Errorf("Encode(%s) = %s; want %s", tt.msg.MessageType(), data, tt.want)
		}
		var h struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(data, &h)
		if h.Type != tt.msg.MessageType() {
			t.Errorf("type field %q != MessageType %q", h.Type, tt.msg.MessageType())
		}
	}
}
