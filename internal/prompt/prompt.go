// Package prompt composes the system instructions sent to the voice model at
// session start.
//
// A mode's persona template is read from the prompts directory and falls back
// to a built-in text when the file does not exist. Templates reference the
// session context through {{ORGANIZATION}}, {{ROLE}}, {{BACKGROUND}} and
// {{USER_PROFILE}} placeholders, replaced verbatim by [Render].
//
// All functions are pure apart from [Loader.Load], which reads the file system.
package prompt

import (
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/MrWong99/parley/internal/mode"
	"github.com/MrWong99/parley/internal/store"
)

// Placeholder defaults.
const (
	DefaultOrganization = "Unknown Company"
	DefaultRole         = "Unknown Role"
	NoProfile           = "No previous profile data available."
)

// FeedbackTranscriptLines is how many trailing transcript lines of the
// original session a feedback prompt includes.
const FeedbackTranscriptLines = 20

// Context is the per-connection data substituted into a template.
type Context struct {
	Organization string
	Role         string
	Background   string
	// UserProfile is the rendered profile, see [ProfileText].
	UserProfile string
}

// Loader reads persona templates from a directory.
type Loader struct {
	dir string
}

// NewLoader returns a loader for dir. An empty dir serves built-in templates
// only.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Load returns the template of def. A missing file yields the built-in text;
// any other read error is returned.
func (l *Loader) Load(def mode.Definition) (string, error) {
	if l.dir != "" {
		data, err := os.ReadFile(filepath.Join(l.dir, filepath.Base(def.Prompt)))
		switch {
		case err == nil:
			return string(data), nil
		case !errors.Is(err, fs.ErrNotExist):
			return "", fmt.Errorf("prompt: load %s: %w", def.Prompt, err)
		}
	}
	if t, ok := builtin[def.Name]; ok {
		return t, nil
	}
	return genericTemplate, nil
}

// Render substitutes the placeholders of tmpl. Empty organization and role
// fall back to their defaults.
func Render(tmpl string, c Context) string {
	org := c.Organization
	if org == "" {
		org = DefaultOrganization
	}
	role := c.Role
	if role == "" {
		role = DefaultRole
	}
	profile := c.UserProfile
	if profile == "" {
		profile = NoProfile
	}
	r := strings.NewReplacer(
		"{{ORGANIZATION}}", org,
		"{{ROLE}}", role,
		"{{BACKGROUND}}", c.Background,
		"{{USER_PROFILE}}", profile,
	)
	return r.Replace(tmpl)
}

// ProfileText renders a stored profile for {{USER_PROFILE}}. A nil or empty
// profile yields [NoProfile].
func ProfileText(p *store.Profile) string {
	if p == nil || (p.FactualSummary == "" && p.CoachingNotes == "") {
		return NoProfile
	}
	return "\nFACTUAL SUMMARY:\n" + p.FactualSummary + "\n\nCOACHING NOTES:\n" + p.CoachingNotes
}

// FeedbackContext renders the section a feedback session prepends to its
// instructions: the original mode, a one-line report summary and the last
// [FeedbackTranscriptLines] transcript lines.
func FeedbackContext(orig store.Record) string {
	var sb strings.Builder
	sb.WriteString("\n## ORIGINAL SESSION CONTEXT\n")
	sb.WriteString("Below is the content and metrics from the session you are providing feedback on.\n")
	fmt.Fprintf(&sb, "MODE: %s\n", orig.Mode)
	sb.WriteString(ReportSummary(orig.Report))
	sb.WriteString("\n\nTRANSCRIPT (Last 20 lines):\n")

	lines := orig.TranscriptLines()
	if len(lines) > FeedbackTranscriptLines {
		lines = lines[len(lines)-FeedbackTranscriptLines:]
	}
	sb.WriteString(strings.Join(lines, "\n"))
	sb.WriteString("\n")
	return sb.String()
}

// ReportSummary renders "Report Summary: Overall Score N/10. Categories:
// clarity:7, ...". Known categories come first in display order, others
// follow alphabetically. A nil report yields "".
func ReportSummary(r *store.Report) string {
	if r == nil {
		return ""
	}
	names := make([]string, 0, len(r.Categories))
	for _, c := range store.Categories {
		if _, ok := r.Categories[c]; ok {
			names = append(names, c)
		}
	}
	var rest []string
	for name := range r.Categories {
		if !slices.Contains(store.Categories, name) {
			rest = append(rest, name)
		}
	}
	slices.Sort(rest)
	names = append(names, rest...)

	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf("%s:%d", n, r.Categories[n].Score)
	}
	return fmt.Sprintf("Report Summary: Overall Score %d/10. Categories: %s", r.OverallScore, strings.Join(parts, ", "))
}

// WithFeedback prepends a feedback context to instructions.
func WithFeedback(instructions, feedbackContext string) string {
	if feedbackContext == "" {
		return instructions
	}
	return feedbackContext + "\n" + instructions
}

// PickVoice returns a random entry of voices, or "" when there are none.
func PickVoice(voices []string) string {
	if len(voices) == 0 {
		return ""
	}
	return voices[rand.IntN(len(voices))]
}
