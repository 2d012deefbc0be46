// Package sharekey implements capability links for finished sessions.
//
// Every session has two share keys derived from its id and owner: the basic
// key exposes the report and metrics, the full key additionally exposes the
// transcript. Keys are recomputed on every request and never stored, so they
// cannot expire or be revoked; anyone holding a key keeps its access.
package sharekey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/MrWong99/parley/internal/analytics"
	"github.com/MrWong99/parley/internal/store"
	"github.com/MrWong99/parley/internal/transcript"
)

// KeyLength is the number of hex characters in a share key.
const KeyLength = 24

const fullSalt = "full_transcript"

// Access errors. A missing session is reported as [store.ErrNotFound].
var (
	ErrMissingCredential = errors.New("sharekey: userId or key required")
	ErrForbidden         = errors.New("sharekey: forbidden")
)

// AccessLevel is what a caller may see of a session.
type AccessLevel string

const (
	// None is returned alongside errors.
	None       AccessLevel = ""
	Owner      AccessLevel = "owner"
	BasicShare AccessLevel = "basic_share"
	FullShare  AccessLevel = "full_share"
)

// ShowsTranscript reports whether l may read the raw transcript.
func (l AccessLevel) ShowsTranscript() bool {
	return l == Owner || l == FullShare
}

// Keys are the two share keys of a session.
type Keys struct {
	Basic string `json:"basic"`
	Full  string `json:"full"`
}

// Compute derives the share keys of the session sessionID owned by userID.
func Compute(sessionID, userID string) Keys {
	return Keys{
		Basic: digest(sessionID + userID),
		Full:  digest(sessionID + userID + fullSalt),
	}
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:KeyLength]
}

// Validate returns the share level key grants on the session, or None.
// A session without an owner has no share keys: its keys would derive from
// the public id alone. Comparisons take constant time.
func Validate(sessionID, userID, key string) AccessLevel {
	if userID == "" {
		return None
	}
	k := Compute(sessionID, userID)
	switch {
	case equal(key, k.Full):
		return FullShare
	case equal(key, k.Basic):
		return BasicShare
	default:
		return None
	}
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Credentials is what a caller presented. Either field may be empty.
type Credentials struct {
	UserID string
	Key    string
}

// Authorize loads the session id and decides the caller's access level. The
// owner always gets [Owner] regardless of the key. Without credentials it
// returns [ErrMissingCredential] before touching the store.
func Authorize(ctx context.Context, st store.Store, id string, c Credentials) (store.Record, AccessLevel, error) {
	if c.UserID == "" && c.Key == "" {
		return store.Record{}, None, ErrMissingCredential
	}
	rec, err := st.Get(ctx, id)
	if err != nil {
		return store.Record{}, None, fmt.Errorf("sharekey: load session %s: %w", id, err)
	}
	level, err := Level(rec, c)
	if err != nil {
		return store.Record{}, None, err
	}
	return rec, level, nil
}

// Level decides the access level of c on an already loaded record.
func Level(rec store.Record, c Credentials) (AccessLevel, error) {
	if c.UserID != "" && equal(c.UserID, rec.UserID) {
		return Owner, nil
	}
	if c.Key != "" {
		if l := Validate(rec.ID, rec.UserID, c.Key); l != None {
			return l, nil
		}
		return None, ErrForbidden
	}
	if c.UserID == "" {
		return None, ErrMissingCredential
	}
	return None, ErrForbidden
}

// View is the read model of a session returned to a caller. Transcript is
// nil when withheld. UserID is only set for the owner: together with the id
// it derives both keys, so a share holder must never see it.
type View struct {
	ID          string               `json:"id"`
	UserID      string               `json:"userId,omitempty"`
	Mode        string               `json:"mode"`
	StartedAt   string               `json:"startedAt"`
	VoiceName   string               `json:"voiceName,omitempty"`
	Transcript  []transcript.Entry   `json:"transcript,omitempty"`
	Metrics     []analytics.Snapshot `json:"metrics"`
	Report      *store.Report        `json:"report,omitempty"`
	AccessLevel AccessLevel          `json:"accessLevel"`
}

// NewView filters rec for level.
func NewView(rec store.Record, level AccessLevel) View {
	v := View{
		ID:          rec.ID,
		Mode:        rec.Mode,
		StartedAt:   rec.StartedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		VoiceName:   rec.VoiceName,
		Metrics:     rec.Metrics,
		Report:      rec.Report,
		AccessLevel: level,
	}
	if v.Metrics == nil {
		v.Metrics = []analytics.Snapshot{}
	}
	if level == Owner {
		v.UserID = rec.UserID
	}
	if level.ShowsTranscript() {
		v.Transcript = rec.Transcript
	}
	return v
}
