// Package session runs one live coaching conversation: it bridges a client
// WebSocket to the upstream voice model, segments both speakers' transcripts,
// derives live metrics and, when the conversation ends, persists the session
// and delivers its report.
//
// Each [Session] is an actor. A reader goroutine feeds client frames to a
// single event loop that also consumes the upstream event stream, tone
// classification results and the final report. Only the event loop touches
// the session's [State], so no state is shared between goroutines.
//
// The lifecycle is linear: connecting, active, ending, closed. Every end
// trigger (client command, timeouts, disconnects, shutdown) funnels into the
// same begin-end step, which only the first trigger executes.
package session

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/parley/internal/analytics"
	"github.com/MrWong99/parley/internal/mode"
	"github.com/MrWong99/parley/internal/store"
	"github.com/MrWong99/parley/internal/transcript"
)

// Status is the lifecycle position of a session.
type Status int32

const (
	StatusConnecting Status = iota
	StatusActive
	StatusEnding
	StatusClosed
)

// String returns the lower-case status name.
func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusActive:
		return "active"
	case StatusEnding:
		return "ending"
	case StatusClosed:
		return "closed"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// EndReason records what ended a session.
type EndReason string

const (
	EndClient        EndReason = "client"
	EndTimeout       EndReason = "timeout"
	EndMaxDuration   EndReason = "max_duration"
	EndDisconnect    EndReason = "disconnect"
	EndShutdown      EndReason = "shutdown"
	EndConnectFailed EndReason = "connect_failed"
)

// State is the mutable data of one session. It is owned by the session's
// event loop and is not safe for concurrent use.
type State struct {
	ID           string
	UserID       string
	Mode         mode.Definition
	StartedAt    time.Time
	VoiceName    string
	Instructions string

	status Status

	// clockStart is set by the first completed assistant turn; the opening
	// turn is not timed.
	clockStart time.Time

	userBuf *transcript.Buffer
	aiBuf   *transcript.Buffer

	// Transcript is the ordered log of flushed segments.
	Transcript []transcript.Entry

	// Metrics holds the snapshots emitted after each user segment.
	Metrics []analytics.Snapshot

	// MediaFrames counts client media frames accepted for forwarding.
	MediaFrames int64
}

// NewState returns a connecting session state. Thresholds <= 0 select the
// transcript defaults.
func NewState(id, userID string, def mode.Definition, startedAt time.Time, userThreshold, aiThreshold int) *State {
	return &State{
		ID:        id,
		UserID:    userID,
		Mode:      def,
		StartedAt: startedAt,
		status:    StatusConnecting,
		userBuf:   transcript.NewBuffer(transcript.RoleUser, userThreshold),
		aiBuf:     transcript.NewBuffer(transcript.RoleAssistant, aiThreshold),
	}
}

// Status returns the current lifecycle position.
func (s *State) Status() Status { return s.status }

// advance moves the state forward to next. Moving backwards or standing
// still is refused.
func (s *State) advance(next Status) bool {
	if next <= s.status {
		return false
	}
	s.status = next
	return true
}

// startClock starts the elapsed-time clock at now. Later calls are no-ops.
func (s *State) startClock(now time.Time) bool {
	if !s.clockStart.IsZero() {
		return false
	}
	s.clockStart = now
	return true
}

// Elapsed returns the seconds since the first completed assistant turn,
// rounded to the nearest second. It is 0 until the clock has started.
func (s *State) Elapsed(now time.Time) int {
	if s.clockStart.IsZero() {
		return 0
	}
	return int(math.Round(now.Sub(s.clockStart).Seconds()))
}

// buffer returns the transcript buffer of role.
func (s *State) buffer(role transcript.Role) *transcript.Buffer {
	if role == transcript.RoleAssistant {
		return s.aiBuf
	}
	return s.userBuf
}

// appendEntry records a flushed segment.
func (s *State) appendEntry(role transcript.Role, text string, elapsed int) transcript.Entry {
	e := transcript.Entry{Role: role, Text: text, Timestamp: elapsed}
	s.Transcript = append(s.Transcript, e)
	return e
}

// TextByRole joins every logged segment of role with single spaces.
func (s *State) TextByRole(role transcript.Role) string {
	var parts []string
	for _, e := range s.Transcript {
		if e.Role == role {
			parts = append(parts, e.Text)
		}
	}
	return strings.Join(parts, " ")
}

// Record returns an immutable copy of the session for persistence.
func (s *State) Record(report *store.Report) store.Record {
	return store.Record{
		ID:         s.ID,
		UserID:     s.UserID,
		Mode:       s.Mode.Name,
		StartedAt:  s.StartedAt,
		Transcript: slices.Clone(s.Transcript),
		Metrics:    slices.Clone(s.Metrics),
		Report:     report,
		VoiceName:  s.VoiceName,
	}
}
