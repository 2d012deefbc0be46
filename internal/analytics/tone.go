package analytics

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Tone scheduler defaults.
const (
	DefaultToneInterval  = 15 * time.Second
	DefaultToneMinWords  = 10
	DefaultToneTextLimit = 800

	// InitialTone is reported until the first successful classification.
	InitialTone = "Neutral"
)

// ToneResult is a successful classification.
type ToneResult struct {
	Tone string
	Hint string
}

// ToneOutcome is what a background classification delivers.
type ToneOutcome struct {
	Result ToneResult
	Err    error
}

// Classifier labels the tone of a text excerpt. Implementations are usually
// backed by an LLM.
type Classifier interface {
	ClassifyTone(ctx context.Context, excerpt string) (ToneResult, error)
}

// ToneScheduler bounds tone classification requests to one per interval,
// independent of how fast the user speaks. All methods are safe for
// concurrent use.
type ToneScheduler struct {
	classifier Classifier
	interval   time.Duration
	minWords   int
	textLimit  int
	now        func() time.Time

	mu        sync.Mutex
	lastCheck time.Time
	tone      string
	hint      string
}

// ToneOption configures a ToneScheduler.
type ToneOption func(*ToneScheduler)

// WithToneInterval sets the minimum time between classifications.
func WithToneInterval(d time.Duration) ToneOption {
	return func(s *ToneScheduler) { s.interval = d }
}

// WithToneMinWords sets the word count the text must exceed.
func WithToneMinWords(n int) ToneOption {
	return func(s *ToneScheduler) { s.minWords = n }
}

// WithToneTextLimit sets how many trailing characters are classified.
func WithToneTextLimit(n int) ToneOption {
	return func(s *ToneScheduler) { s.textLimit = n }
}

// WithClock overrides time.Now. Used in tests.
func WithClock(now func() time.Time) ToneOption {
	return func(s *ToneScheduler) { s.now = now }
}

// NewToneScheduler returns a scheduler whose interval starts now.
func NewToneScheduler(c Classifier, opts ...ToneOption) *ToneScheduler {
	s := &ToneScheduler{
		classifier: c,
		interval:   DefaultToneInterval,
		minWords:   DefaultToneMinWords,
		textLimit:  DefaultToneTextLimit,
		now:        time.Now,
		tone:       InitialTone,
	}
	for _, o := range opts {
		o(s)
	}
	s.lastCheck = s.now()
	return s
}

// TryAnalyze starts a classification of the tail of text if the interval has
// elapsed and text has more than the minimum number of words. It reports
// whether a request was started. The outcome is sent on results unless ctx
// is cancelled first; results should be buffered or drained promptly.
//
// The check timestamp is claimed before the request starts, so concurrent
// callers can never start two requests for the same interval.
func (s *ToneScheduler) TryAnalyze(ctx context.Context, text string, results chan<- ToneOutcome) bool {
	if s.classifier == nil {
		return false
	}

	s.mu.Lock()
	now := s.now()
	if now.Sub(s.lastCheck) <= s.interval || len(strings.Fields(text)) <= s.minWords {
		s.mu.Unlock()
		return false
	}
	s.lastCheck = now
	s.mu.Unlock()

	excerpt := tail(text, s.textLimit)
	go func() {
		res, err := s.classifier.ClassifyTone(ctx, excerpt)
		select {
		case results <- ToneOutcome{Result: res, Err: err}:
		case <-ctx.Done():
		}
	}()
	return true
}

// Apply stores a successful result. Results with an empty tone are ignored.
func (s *ToneScheduler) Apply(r ToneResult) {
	if r.Tone == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tone = r.Tone
	s.hint = r.Hint
}

// Current returns the last known tone and hint.
func (s *ToneScheduler) Current() (tone, hint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tone, s.hint
}

func tail(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return string(r[len(r)-limit:])
}
