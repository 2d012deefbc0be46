package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/MrWong99/parley/internal/session"
)

// ErrShuttingDown is returned by [SessionManager.Run] once shutdown began.
var ErrShuttingDown = errors.New("app: server is shutting down")

// SessionManager tracks the live sessions of the process so shutdown can end
// them and wait for their reports to be saved. All exported methods are safe
// for concurrent use.
type SessionManager struct {
	mu       sync.Mutex
	closed   bool
	sessions map[string]*session.Session
	wg       sync.WaitGroup
}

// NewSessionManager returns an empty manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[string]*session.Session)}
}

// Run registers s and drives it to completion over client. It returns
// [ErrShuttingDown] without starting s once [SessionManager.Shutdown] was
// called.
func (sm *SessionManager) Run(ctx context.Context, s *session.Session, client session.ClientConn) error {
	sm.mu.Lock()
	if sm.closed {
		sm.mu.Unlock()
		return ErrShuttingDown
	}
	sm.sessions[s.ID()] = s
	sm.wg.Add(1)
	sm.mu.Unlock()

	defer func() {
		sm.mu.Lock()
		delete(sm.sessions, s.ID())
		sm.mu.Unlock()
		sm.wg.Done()
	}()

	return s.Run(ctx, client)
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// Shutdown refuses new sessions, ends every live one with
// [session.EndShutdown] and waits until they are closed and their detached
// work (profile updates) has finished, or ctx expires.
func (sm *SessionManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	sm.closed = true
	live := make([]*session.Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		live = append(live, s)
	}
	sm.mu.Unlock()

	slog.Info("ending live sessions", "count", len(live))
	for _, s := range live {
		s.RequestEnd(session.EndShutdown)
	}

	done := make(chan struct{})
	go func() {
		sm.wg.Wait()
		for _, s := range live {
			s.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		sm.mu.Lock()
		remaining := len(sm.sessions)
		sm.mu.Unlock()
		slog.Warn("session shutdown deadline exceeded", "remaining", remaining)
		return ctx.Err()
	}
}
