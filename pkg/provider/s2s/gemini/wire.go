package gemini

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/MrWong99/parley/pkg/provider/s2s"
)

// BidiGenerateContent frames, client side.

type clientFrame struct {
	Setup         *setup         `json:"setup,omitempty"`
	RealtimeInput *realtimeInput `json:"realtimeInput,omitempty"`
	ClientContent *clientContent `json:"clientContent,omitempty"`
}

type setup struct {
	Model                    string           `json:"model"`
	GenerationConfig         generationConfig `json:"generationConfig"`
	SystemInstruction        *content         `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}        `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}        `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig struct {
		PrebuiltVoiceConfig struct {
			VoiceName string `json:"voiceName"`
		} `json:"prebuiltVoiceConfig"`
	} `json:"voiceConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

// blob carries base64 media.
type blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type realtimeInput struct {
	Audio *blob `json:"audio,omitempty"`
	Video *blob `json:"video,omitempty"`
}

type clientContent struct {
	Turns        []content `json:"turns"`
	TurnComplete bool      `json:"turnComplete"`
}

// Server side.

type serverFrame struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	ToolCall      *struct {
		FunctionCalls []struct {
			ID   string          `json:"id"`
			Name string          `json:"name"`
			Args json.RawMessage `json:"args"`
		} `json:"functionCalls"`
	} `json:"toolCall,omitempty"`
	GoAway *struct {
		TimeLeft string `json:"timeLeft"`
	} `json:"goAway,omitempty"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type serverContent struct {
	ModelTurn           *content `json:"modelTurn,omitempty"`
	TurnComplete        bool     `json:"turnComplete,omitempty"`
	Interrupted         bool     `json:"interrupted,omitempty"`
	InputTranscription  *text    `json:"inputTranscription,omitempty"`
	OutputTranscription *text    `json:"outputTranscription,omitempty"`
}

type text struct {
	Text string `json:"text"`
}

// setupFrame is the first frame of every session.
func setupFrame(model string, cfg s2s.SessionConfig) clientFrame {
	s := &setup{
		Model:            "models/" + model,
		GenerationConfig: generationConfig{ResponseModalities: []string{"AUDIO"}},
	}
	if cfg.Instructions != "" {
		s.SystemInstruction = &content{Parts: []part{{Text: cfg.Instructions}}}
	}
	if cfg.Voice != "" {
		sc := &speechConfig{}
		sc.VoiceConfig.PrebuiltVoiceConfig.VoiceName = cfg.Voice
		s.GenerationConfig.SpeechConfig = sc
	}
	if cfg.Transcribe {
		s.InputAudioTranscription = &struct{}{}
		s.OutputAudioTranscription = &struct{}{}
	}
	return clientFrame{Setup: s}
}

// mediaFrame wraps one realtime chunk.
func mediaFrame(kind s2s.MediaKind, data []byte) (clientFrame, error) {
	b := &blob{Data: base64.StdEncoding.EncodeToString(data)}
	in := &realtimeInput{}
	switch kind {
	case s2s.MediaAudio:
		b.MIMEType = audioMIMEType
		in.Audio = b
	case s2s.MediaVideo:
		b.MIMEType = videoMIMEType
		in.Video = b
	default:
		return clientFrame{}, fmt.Errorf("gemini: unsupported media kind %q", kind)
	}
	return clientFrame{RealtimeInput: in}, nil
}

// textFrame sends a complete user turn.
func textFrame(s string) clientFrame {
	return clientFrame{ClientContent: &clientContent{
		Turns:        []content{{Role: "user", Parts: []part{{Text: s}}}},
		TurnComplete: true,
	}}
}

// translate maps one server frame to events in stream order: ready, error,
// go-away, transcripts, audio, turn end, tool calls. Barge-in drops the
// remainder of its server content. Undecodable audio parts are skipped.
func translate(f *serverFrame) []s2s.Event {
	var evs []s2s.Event
	if f.SetupComplete != nil {
		evs = append(evs, s2s.Event{Type: s2s.EventReady})
	}
	if e := f.Error; e != nil {
		msg := e.Message
		if msg == "" {
			msg = fmt.Sprintf("error code %d", e.Code)
		}
		evs = append(evs, s2s.Event{Type: s2s.EventError, Err: fmt.Errorf("gemini: %s", msg)})
	}
	if g := f.GoAway; g != nil {
		evs = append(evs, s2s.Event{Type: s2s.EventError, Err: fmt.Errorf("gemini: server closing session in %s", g.TimeLeft)})
	}

	if sc := f.ServerContent; sc != nil {
		switch {
		case sc.Interrupted:
			evs = append(evs, s2s.Event{Type: s2s.EventInterrupted})
		default:
			if t := sc.InputTranscription; t != nil && t.Text != "" {
				evs = append(evs, s2s.Event{Type: s2s.EventTranscript, Role: s2s.RoleUser, Text: t.Text})
			}
			if t := sc.OutputTranscription; t != nil && t.Text != "" {
				evs = append(evs, s2s.Event{Type: s2s.EventTranscript, Role: s2s.RoleAssistant, Text: t.Text})
			}
			if sc.ModelTurn != nil {
				for _, p := range sc.ModelTurn.Parts {
					if p.InlineData == nil {
						continue
					}
					audio, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
					if err != nil || len(audio) == 0 {
						continue
					}
					evs = append(evs, s2s.Event{Type: s2s.EventAudio, Audio: audio})
				}
			}
			if sc.TurnComplete {
				evs = append(evs, s2s.Event{Type: s2s.EventTurnComplete})
			}
		}
	}

	if tc := f.ToolCall; tc != nil {
		for _, fc := range tc.FunctionCalls {
			args := string(fc.Args)
			if args == "" {
				args = "{}"
			}
			evs = append(evs, s2s.Event{Type: s2s.EventToolCall, ToolCall: &s2s.ToolCall{ID: fc.ID, Name: fc.Name, Args: args}})
		}
	}
	return evs
}
