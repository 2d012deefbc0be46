// Package mock provides test doubles for the s2s package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions.
// Use Session to script the event stream and inspect what the caller sent.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Push(s2s.Event{Type: s2s.EventReady})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/s2s"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Cfg is the SessionConfig passed to Connect.
	Cfg s2s.SessionConfig
}

// Provider is a mock implementation of s2s.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect returns
	// a fresh [NewSession].
	Session s2s.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// Block, if non-nil, makes Connect wait until it is closed or ctx is done.
	Block chan struct{}

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities s2s.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Cfg: cfg})
	block := p.Block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Capabilities returns ProviderCapabilities.
func (p *Provider) Capabilities() s2s.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderCapabilities
}

// Calls returns a copy of the recorded Connect calls. Thread-safe.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ConnectCall(nil), p.ConnectCalls...)
}

// Ensure Provider implements s2s.Provider at compile time.
var _ s2s.Provider = (*Provider)(nil)

// SendMediaCall records a single invocation of Session.SendMedia.
type SendMediaCall struct {
	Kind s2s.MediaKind
	// Data is a copy of the bytes that were passed to SendMedia.
	Data []byte
}

// Session is a mock implementation of s2s.SessionHandle. Tests drive it with
// Push and inspect the recorded calls.
type Session struct {
	mu sync.Mutex

	events    chan s2s.Event
	closeOnce sync.Once

	// SendErr, if non-nil, is returned by SendText and SendMedia.
	SendErr error

	// TextCalls records every SendText argument in order.
	TextCalls []string

	// MediaCalls records every SendMedia call in order.
	MediaCalls []SendMediaCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewSession returns a Session with a buffered event stream.
func NewSession() *Session {
	return &Session{events: make(chan s2s.Event, 64)}
}

// Push delivers ev on the event stream. It must not be called after Close.
func (s *Session) Push(ev s2s.Event) {
	s.events <- ev
}

// Hangup simulates the provider closing the connection: it pushes an
// EventClosed with the given code and closes the stream.
func (s *Session) Hangup(code int, reason string) {
	s.closeOnce.Do(func() {
		s.events <- s2s.Event{Type: s2s.EventClosed, Code: code, Reason: reason}
		close(s.events)
	})
}

// Drop closes the stream without an EventClosed, as a provider does when its
// connection dies before the close could be reported.
func (s *Session) Drop() {
	s.closeOnce.Do(func() { close(s.events) })
}

// Events returns the scripted event stream.
func (s *Session) Events() <-chan s2s.Event { return s.events }

// SendText records the call and returns SendErr.
func (s *Session) SendText(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TextCalls = append(s.TextCalls, text)
	return s.SendErr
}

// SendMedia records the call and returns SendErr.
func (s *Session) SendMedia(_ context.Context, kind s2s.MediaKind, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MediaCalls = append(s.MediaCalls, SendMediaCall{Kind: kind, Data: append([]byte(nil), data...)})
	return s.SendErr
}

// Close records the call and closes the event stream with a normal closure.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	s.mu.Unlock()
	s.Hangup(1000, "session closed")
	return nil
}

// Texts returns a copy of the recorded SendText arguments. Thread-safe.
func (s *Session) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.TextCalls...)
}

// Media returns a copy of the recorded SendMedia calls. Thread-safe.
func (s *Session) Media() []SendMediaCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SendMediaCall(nil), s.MediaCalls...)
}

// Closes returns how many times Close was called. Thread-safe.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

// Ensure Session implements s2s.SessionHandle at compile time.
var _ s2s.SessionHandle = (*Session)(nil)
