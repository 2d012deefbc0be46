package insight

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/parley/internal/mode"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/store"
	"github.com/MrWong99/parley/internal/transcript"
	"github.com/MrWong99/parley/pkg/provider/llm"
)

// profileTemperature keeps profile rewrites close to the source material.
const profileTemperature = 0.2

const noneRecorded = "None recorded yet."

const profileSystemPrompt = `You are a specialized behavioral analyst and professional coach.
Your task is to analyze a practice session and extract key insights to build the user's persistent profile.

You will receive:
1. The user's EXISTING profile (Factual Summary & Coaching Notes).
2. The transcript of their LATEST session.

You must return a JSON object containing:
1. factualSummary: %s
2. coachingNotes: An updated set of bullet points detailing the user's communication style, strengths, and areas for improvement. Focus on behavioral patterns (e.g., "Rattles when interrupted", "Needs to use the STAR method"). Merge new observations with existing ones. Drop notes if the user has clearly fixed the issue. If the user barely spoke or provided no new behavioral data, YOU MUST RETURN THE EXACT EXISTING COACHING NOTES verbatim.

OUTPUT FORMAT:
{
  "factualSummary": "...",
  "coachingNotes": "..."
}`

const (
	factsUpdatable = `An updated, concise paragraph summarizing the user's professional background, experience, and the specific projects or roles they have pitched. Add new facts from this session but KEEP previous facts. If the user provided no new factual information, YOU MUST RETURN THE EXACT EXISTING FACTUAL SUMMARY verbatim.`
	factsFrozen    = `DO NOT EXTRACT ANY NEW FACTUAL INFORMATION from this session, because it was a fictional roleplay (mode: %s). YOU MUST RETURN THE EXACT EXISTING FACTUAL SUMMARY verbatim.`
)

// ProfileInput is a finished session to fold into the user's profile.
type ProfileInput struct {
	UserID     string
	Mode       mode.Definition
	Transcript []transcript.Entry
}

// Profiler maintains the coaching profile of each user.
type Profiler struct {
	base
	store store.Store
	now   func() time.Time
}

// NewProfiler returns a profiler reading and writing profiles in st.
func NewProfiler(p llm.Provider, st store.Store, opts ...Option) *Profiler {
	return &Profiler{base: newBase(p, opts), store: st, now: time.Now}
}

type profileReply struct {
	FactualSummary string `json:"factualSummary"`
	CoachingNotes  string `json:"coachingNotes"`
}

// Update folds a finished session into the user's profile and saves it. An
// empty transcript leaves the profile untouched. On a model failure the prior
// profile is returned unchanged together with the error; nothing is written.
// Only modes with UpdatesFacts may change the factual summary.
func (p *Profiler) Update(ctx context.Context, in ProfileInput) (store.Profile, error) {
	existing, err := p.store.GetProfile(ctx, in.UserID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		existing = store.Profile{UserID: in.UserID}
	case err != nil:
		return store.Profile{}, fmt.Errorf("insight: load profile: %w", err)
	}
	if len(in.Transcript) == 0 {
		return existing, nil
	}

	facts, notes := existing.FactualSummary, existing.CoachingNotes
	if facts == "" {
		facts = noneRecorded
	}
	if notes == "" {
		notes = noneRecorded
	}
	lines := make([]string, len(in.Transcript))
	for i, e := range in.Transcript {
		lines[i] = store.SpeakerLabel(e.Role) + " " + e.Text
	}
	prompt := fmt.Sprintf("EXISTING FACTUAL SUMMARY:\n%s\n\nEXISTING COACHING NOTES:\n%s\n\n-- LATEST SESSION TRANSCRIPT --\n%s\n",
		facts, notes, strings.Join(lines, "\n"))

	var reply profileReply
	if err := p.completeJSON(ctx, "profile", llm.CompletionRequest{
		SystemPrompt: profilePromptFor(in.Mode),
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature:  profileTemperature,
	}, &reply); err != nil {
		return existing, err
	}

	updated := store.Profile{
		UserID:         in.UserID,
		FactualSummary: existing.FactualSummary,
		CoachingNotes:  keepIfPlaceholder(reply.CoachingNotes, existing.CoachingNotes),
		LastUpdated:    p.now(),
	}
	if in.Mode.UpdatesFacts {
		updated.FactualSummary = keepIfPlaceholder(reply.FactualSummary, existing.FactualSummary)
	}
	if err := p.store.SaveProfile(ctx, updated); err != nil {
		return existing, fmt.Errorf("insight: save profile: %w", err)
	}
	observe.Logger(ctx).Info("profile updated", "user_id", in.UserID, "mode", in.Mode.Name)
	return updated, nil
}

func profilePromptFor(def mode.Definition) string {
	facts := factsUpdatable
	if !def.UpdatesFacts {
		facts = fmt.Sprintf(factsFrozen, def.Name)
	}
	return fmt.Sprintf(profileSystemPrompt, facts)
}

// keepIfPlaceholder returns prev when the model echoed the placeholder or
// returned nothing.
func keepIfPlaceholder(v, prev string) string {
	v = strings.TrimSpace(v)
	if v == "" || v == noneRecorded {
		return prev
	}
	return v
}
