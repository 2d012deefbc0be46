// Package mode describes the coaching scenarios a session can run in.
//
// A [Definition] names the persona prompt, decides whether a report is
// produced when the session ends, and carries the live-hint heuristics of the
// scenario. The built-in definitions from [Defaults] can be overridden or
// extended from configuration with [Merge]; the resulting set is served by a
// [Registry] that can be swapped atomically on config reload.
package mode

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/analytics"
)

// Built-in mode names.
const (
	PitchPerfect             = "pitch_perfect"
	EmpathyTrainer           = "empathy_trainer"
	Veritalk                 = "veritalk"
	ProfessionalIntroduction = "professional_introduction"
	Feedback                 = "feedback"
)

// FeedbackTimeout is the wall-clock limit of a feedback session.
const FeedbackTimeout = 60 * time.Second

// Hints configures the live improvement hints of a mode.
type Hints struct {
	MaxWordsPerMinute int  `yaml:"max_wpm"`
	MaxTalkRatio      int  `yaml:"max_talk_ratio"`
	AskQuestions      bool `yaml:"ask_questions"`
}

// Rules converts h into the rule set understood by [analytics.Extract].
func (h Hints) Rules() analytics.HintRules {
	return analytics.HintRules{
		MaxWordsPerMinute: h.MaxWordsPerMinute,
		MaxTalkRatio:      h.MaxTalkRatio,
		AskQuestions:      h.AskQuestions,
	}
}

// Definition describes one mode.
type Definition struct {
	// Name is the identifier clients pass as the mode query parameter.
	Name string `yaml:"name"`

	// Title is a human-readable label.
	Title string `yaml:"title"`

	// Prompt is the file name of the persona template, relative to the
	// prompts directory.
	Prompt string `yaml:"prompt"`

	// ProducesReport enables report generation and profile updates when the
	// session ends.
	ProducesReport bool `yaml:"produces_report"`

	// HardTimeout ends the session after this wall-clock duration. Zero
	// leaves only the global session limit.
	HardTimeout time.Duration `yaml:"hard_timeout"`

	Hints Hints `yaml:"hints"`

	// DisplayMetrics lists the metric keys a client should show in the report.
	DisplayMetrics []string `yaml:"display_metrics"`

	// ExtraFields are additional report keys the analysis model is asked to
	// fill in for this mode.
	ExtraFields []string `yaml:"extra_fields"`

	// UpdatesFacts allows the profiler to rewrite the user's factual summary.
	UpdatesFacts bool `yaml:"updates_facts"`

	// Feedback marks a debrief of an earlier session. The original session's
	// transcript and report are appended to the prompt.
	Feedback bool `yaml:"feedback"`
}

// Validate reports the problems of d joined into one error.
func (d Definition) Validate() error {
	var errs []error
	if d.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if d.Prompt == "" {
		errs = append(errs, fmt.Errorf("mode %q: prompt is required", d.Name))
	}
	if d.HardTimeout < 0 {
		errs = append(errs, fmt.Errorf("mode %q: hard_timeout must not be negative", d.Name))
	}
	if d.Hints.MaxTalkRatio < 0 || d.Hints.MaxTalkRatio > 100 {
		errs = append(errs, fmt.Errorf("mode %q: hints.max_talk_ratio must be within [0, 100]", d.Name))
	}
	if d.Hints.MaxWordsPerMinute < 0 {
		errs = append(errs, fmt.Errorf("mode %q: hints.max_wpm must not be negative", d.Name))
	}
	if d.Feedback && d.ProducesReport {
		errs = append(errs, fmt.Errorf("mode %q: feedback modes cannot produce reports", d.Name))
	}
	return errors.Join(errs...)
}

var defaultMetrics = []string{"filler_words", "words_per_minute", "tone", "talk_ratio", "clarity_score"}

// Defaults returns the built-in modes in display order.
func Defaults() []Definition {
	return []Definition{
		{
			Name:           PitchPerfect,
			Title:          "Pitch Perfect",
			Prompt:         "pitch_perfect.md",
			ProducesReport: true,
			Hints:          Hints{MaxWordsPerMinute: 180},
			DisplayMetrics: defaultMetrics,
		},
		{
			Name:           EmpathyTrainer,
			Title:          "Empathy Trainer",
			Prompt:         "empathy_trainer.md",
			ProducesReport: true,
			Hints:          Hints{MaxTalkRatio: 65},
			DisplayMetrics: defaultMetrics,
		},
		{
			Name:           Veritalk,
			Title:          "Veritalk",
			Prompt:         "veritalk.md",
			ProducesReport: true,
			Hints:          Hints{AskQuestions: true},
			DisplayMetrics: defaultMetrics,
		},
		{
			Name:           ProfessionalIntroduction,
			Title:          "Professional Introduction",
			Prompt:         "professional_introduction.md",
			ProducesReport: true,
			DisplayMetrics: []string{"filler_words", "words_per_minute", "clarity_score"},
			ExtraFields:    []string{"strongest_asset", "weakest_moment"},
			UpdatesFacts:   true,
		},
		{
			Name:        Feedback,
			Title:       "Feedback",
			Prompt:      "feedback.md",
			HardTimeout: FeedbackTimeout,
			Feedback:    true,
		},
	}
}

// Merge returns base with overrides applied. An override replaces the base
// definition of the same name in place; unknown names are appended.
func Merge(base, overrides []Definition) []Definition {
	out := slices.Clone(base)
	for _, o := range overrides {
		i := slices.IndexFunc(out, func(d Definition) bool { return d.Name == o.Name })
		if i >= 0 {
			out[i] = o
			continue
		}
		out = append(out, o)
	}
	return out
}

// Registry is the set of modes available to new sessions. It is safe for
// concurrent use.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	byName map[string]Definition
}

// NewRegistry validates defs and returns a registry serving them.
func NewRegistry(defs []Definition) (*Registry, error) {
	r := &Registry{}
	if err := r.Replace(defs); err != nil {
		return nil, err
	}
	return r, nil
}

// Replace swaps the served definitions. On error the registry is unchanged.
func (r *Registry) Replace(defs []Definition) error {
	byName := make(map[string]Definition, len(defs))
	order := make([]string, 0, len(defs))
	var errs []error
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := byName[d.Name]; dup {
			errs = append(errs, fmt.Errorf("mode %q: duplicate name", d.Name))
			continue
		}
		byName[d.Name] = d
		order = append(order, d.Name)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("mode: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName = byName
	r.order = order
	return nil
}

// Lookup returns the definition named name.
func (r *Registry) Lookup(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

// List returns all definitions in registration order.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.byName[n])
	}
	return out
}
