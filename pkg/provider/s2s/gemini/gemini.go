// Package gemini is the [s2s.Provider] for the Gemini Live
// BidiGenerateContent WebSocket API. Frames are JSON; media travels base64
// encoded as realtime input, and every server frame is translated into the
// session's single ordered event stream.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/pkg/provider/s2s"
)

const (
	defaultModel   = "gemini-2.0-flash-live-001"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"
	bidiPath       = "/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	audioMIMEType = "audio/pcm;rate=16000"
	videoMIMEType = "image/jpeg"

	// Model audio turns are far larger than the 32 KiB default read limit.
	readLimit = 16 << 20

	pingInterval = 20 * time.Second
	pingTimeout  = 5 * time.Second
	eventBuffer  = 64
)

// ErrClosed is returned by sends on a closed session.
var ErrClosed = errors.New("gemini: session closed")

var (
	_ s2s.Provider      = (*Provider)(nil)
	_ s2s.SessionHandle = (*session)(nil)
)

// Option configures a [Provider].
type Option func(*Provider)

// WithModel selects the live model, without the "models/" prefix.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL replaces the wss endpoint root, e.g. for a local test server.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// Provider dials one Gemini Live session per [Provider.Connect].
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New returns a Provider authenticating with apiKey.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{apiKey: apiKey, model: defaultModel, baseURL: defaultBaseURL}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities reports the prebuilt voices and the service's session cap.
func (p *Provider) Capabilities() s2s.Capabilities {
	return s2s.Capabilities{
		MaxSessionDurationMs: int((15 * time.Minute).Milliseconds()),
		Voices:               []string{"Aoede", "Charon", "Fenrir", "Kore", "Puck"},
	}
}

// Connect dials the endpoint and sends the setup frame. Media may be sent
// right away; the server's setup acknowledgement arrives as
// [s2s.EventReady]. ctx bounds only the dial and setup.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	endpoint := p.baseURL + bidiPath + "?key=" + url.QueryEscape(p.apiKey)
	conn, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	runCtx, cancel := context.WithCancel(context.Background())
	s := &session{conn: conn, events: make(chan s2s.Event, eventBuffer), ctx: runCtx, cancel: cancel}
	if err := s.send(ctx, setupFrame(p.model, cfg)); err != nil {
		cancel()
		_ = conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}

	go s.read()
	go s.ping()
	return s, nil
}

type session struct {
	conn   *websocket.Conn
	events chan s2s.Event

	// ctx is cancelled by Close; it stops both loops.
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

func (s *session) Events() <-chan s2s.Event { return s.events }

// SendText sends text as a complete user turn.
func (s *session) SendText(ctx context.Context, text string) error {
	return s.send(ctx, textFrame(text))
}

// SendMedia forwards a realtime audio or video chunk.
func (s *session) SendMedia(ctx context.Context, kind s2s.MediaKind, data []byte) error {
	f, err := mediaFrame(kind, data)
	if err != nil {
		return err
	}
	return s.send(ctx, f)
}

// Close ends the session. The event stream still ends with EventClosed.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

func (s *session) send(ctx context.Context, f clientFrame) error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("gemini: encode: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// read owns the events channel. It closes it after a final EventClosed.
// Malformed frames are skipped.
func (s *session) read() {
	defer close(s.events)
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			s.closed(err)
			return
		}
		var f serverFrame
		if json.Unmarshal(data, &f) != nil {
			continue
		}
		for _, ev := range translate(&f) {
			select {
			case s.events <- ev:
			case <-s.ctx.Done():
				s.closed(nil)
				return
			}
		}
	}
}

// closed emits the terminal event. A local Close reads as a normal closure.
// A remote close waits for room in the stream so a burst of queued audio
// cannot push it out; only Close stops the wait.
func (s *session) closed(err error) {
	ev := s2s.Event{Type: s2s.EventClosed, Code: int(websocket.StatusNormalClosure)}
	if s.ctx.Err() == nil && err != nil {
		var ce websocket.CloseError
		if errors.As(err, &ce) {
			ev.Code, ev.Reason = int(ce.Code), ce.Reason
		} else {
			ev.Code, ev.Reason = int(websocket.StatusAbnormalClosure), err.Error()
		}
	}
	if s.ctx.Err() != nil {
		// Closed locally: the consumer may already have stopped reading.
		select {
		case s.events <- ev:
		default:
		}
		return
	}
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *session) ping() {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(s.ctx, pingTimeout)
			_ = s.conn.Ping(ctx)
			cancel()
		}
	}
}
