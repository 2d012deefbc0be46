// Package store defines the persistence contract for finished sessions, user
// profiles and interview presets, together with the record types shared by
// every backend.
//
// Saving a record replaces any previous record with the same id. Reads of a
// single record are consistent; listings may lag behind recent saves.
//
// Backends live in sub-packages: memory (tests, development), file (single
// JSON document), postgres (pgx) and rediscache (a caching decorator).
package store

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/MrWong99/parley/internal/analytics"
	"github.com/MrWong99/parley/internal/transcript"
)

// ErrNotFound is returned when a session or profile does not exist.
var ErrNotFound = errors.New("store: not found")

// Listing limits.
const (
	MaxSummaries = 50
	MaxPresets   = 20
)

// DefaultVoiceName is shown for sessions recorded without a voice.
const DefaultVoiceName = "AI Coach"

// Store is the persistence contract. Implementations must be safe for
// concurrent use.
type Store interface {
	// Save inserts or replaces the record with r.ID.
	Save(ctx context.Context, r Record) error

	// Get returns the record with the given id or ErrNotFound.
	Get(ctx context.Context, id string) (Record, error)

	// ListByUser returns up to MaxSummaries summaries of the user's sessions,
	// newest first.
	ListByUser(ctx context.Context, userID string) ([]Summary, error)

	// GetProfile returns the user's profile or ErrNotFound.
	GetProfile(ctx context.Context, userID string) (Profile, error)

	// SaveProfile inserts or replaces the profile of p.UserID.
	SaveProfile(ctx context.Context, p Profile) error

	// ListPresets returns up to MaxPresets presets of the user, most recently
	// used first.
	ListPresets(ctx context.Context, userID string) ([]Preset, error)

	// SavePreset inserts or replaces a preset. An empty ID is assigned and a
	// zero LastUsedAt is set to now; the stored preset is returned.
	SavePreset(ctx context.Context, p Preset) (Preset, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Record is a finished session.
type Record struct {
	ID         string               `json:"id"`
	UserID     string               `json:"userId"`
	Mode       string               `json:"mode"`
	StartedAt  time.Time            `json:"startedAt"`
	Transcript []transcript.Entry   `json:"transcript"`
	Metrics    []analytics.Snapshot `json:"metrics"`
	Report     *Report              `json:"report,omitempty"`
	VoiceName  string               `json:"voiceName,omitempty"`
}

// TranscriptLines renders the transcript as "[User] ..." and "[AI] ..." lines.
func (r Record) TranscriptLines() []string {
	lines := make([]string, 0, len(r.Transcript))
	for _, e := range r.Transcript {
		lines = append(lines, SpeakerLabel(e.Role)+" "+e.Text)
	}
	return lines
}

// SpeakerLabel returns the bracketed label used in rendered transcripts.
func SpeakerLabel(role transcript.Role) string {
	if role == transcript.RoleAssistant {
		return "[AI]"
	}
	return "[User]"
}

// Summary is the listing view of a Record.
type Summary struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	Mode            string    `json:"mode"`
	StartedAt       time.Time `json:"startedAt"`
	DurationSeconds int       `json:"duration_seconds"`
	OverallScore    int       `json:"overall_score"`
	PreviewText     string    `json:"preview_text"`
	VoiceName       string    `json:"voiceName"`
}

// Summarize derives the listing view of r.
func Summarize(r Record) Summary {
	s := Summary{
		ID:        r.ID,
		UserID:    r.UserID,
		Mode:      r.Mode,
		StartedAt: r.StartedAt,
		VoiceName: r.VoiceName,
	}
	if s.VoiceName == "" {
		s.VoiceName = DefaultVoiceName
	}
	if r.Report != nil {
		s.DurationSeconds = r.Report.DurationSeconds
		s.OverallScore = r.Report.OverallScore
		if r.Report.SocialShareTexts != nil {
			s.PreviewText = r.Report.SocialShareTexts.PerformanceCardSummary
		}
	}
	return s
}

// SortSummaries orders summaries newest first and truncates to MaxSummaries.
func SortSummaries(s []Summary) []Summary {
	slices.SortStableFunc(s, func(a, b Summary) int { return b.StartedAt.Compare(a.StartedAt) })
	if len(s) > MaxSummaries {
		s = s[:MaxSummaries]
	}
	return s
}

// SortPresets orders presets most recently used first and truncates to
// MaxPresets.
func SortPresets(p []Preset) []Preset {
	slices.SortStableFunc(p, func(a, b Preset) int { return b.LastUsedAt.Compare(a.LastUsedAt) })
	if len(p) > MaxPresets {
		p = p[:MaxPresets]
	}
	return p
}

// Profile is the long-lived coaching profile of a user.
type Profile struct {
	UserID         string    `json:"userId"`
	FactualSummary string    `json:"factualSummary"`
	CoachingNotes  string    `json:"coachingNotes"`
	LastUpdated    time.Time `json:"lastUpdated"`
}

// Preset is a saved interview scenario.
type Preset struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	PresetName   string    `json:"presetName"`
	Organization string    `json:"organization"`
	Role         string    `json:"role"`
	Background   string    `json:"background,omitempty"`
	LastUsedAt   time.Time `json:"lastUsedAt"`
}
