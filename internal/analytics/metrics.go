// Package analytics derives live speech metrics from a conversation's
// cumulative transcript.
//
// [Extract] is a pure function: given the same [Input] it always returns the
// same [Snapshot]. [ToneScheduler] rate-limits the one expensive signal, an
// LLM tone classification, and delivers its results asynchronously.
package analytics

import (
	"math"
	"regexp"
	"strings"
)

// Fillers is the lexicon of filler words and phrases, in hint priority order.
var Fillers = []string{"um", "uh", "like", "you know", "basically", "actually", "so", "right", "well", "i mean"}

var (
	fillerPatterns = compileFillers(Fillers)
	nonWord        = regexp.MustCompile(`[^\w\s]`)
)

func compileFillers(words []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(words))
	for i, w := range words {
		out[i] = regexp.MustCompile(`\b` + regexp.QuoteMeta(w) + `\b`)
	}
	return out
}

// minMinutes floors elapsed time so WPM stays finite at session start.
const minMinutes = 0.1

// Improvement hints produced by the heuristics.
const (
	HintSlowDown    = "You are speaking very fast. Take a breath and slow down."
	HintListenMore  = "Try to listen more. Let the other person speak."
	HintAskQuestion = "Try flipping the defense: ask them a clarifying question."
)

// HintRules configures the mode-specific heuristics used when no external
// hint is available. Zero values disable a rule.
type HintRules struct {
	// MaxWordsPerMinute triggers HintSlowDown when exceeded.
	MaxWordsPerMinute int
	// MaxTalkRatio triggers HintListenMore when exceeded.
	MaxTalkRatio int
	// AskQuestions triggers HintAskQuestion when the user has not asked
	// anything yet.
	AskQuestions bool
}

// Snapshot is one metrics sample. Later snapshots of a session are computed
// over more text, they are not deltas.
type Snapshot struct {
	FillerWords     map[string]int `json:"filler_words"`
	WordsPerMinute  int            `json:"words_per_minute"`
	Tone            string         `json:"tone"`
	KeyPhrases      []string       `json:"key_phrases"`
	ImprovementHint string         `json:"improvement_hint"`
	Timestamp       int64          `json:"timestamp"` // unix milliseconds
	TalkRatio       int            `json:"talk_ratio"`
	ClarityScore    int            `json:"clarity_score"`
}

// Input is everything Extract looks at.
type Input struct {
	UserText        string
	CounterpartText string
	ElapsedSeconds  float64
	Rules           HintRules
	Tone            string
	Hint            string
	// Timestamp is copied into the snapshot, in unix milliseconds.
	Timestamp int64
}

// Extract computes a snapshot from the cumulative transcript.
func Extract(in Input) Snapshot {
	lower := strings.ToLower(in.UserText)

	fillers := make(map[string]int)
	firstFiller := ""
	for i, re := range fillerPatterns {
		if n := len(re.FindAllStringIndex(lower, -1)); n > 0 {
			fillers[Fillers[i]] = n
			if firstFiller == "" {
				firstFiller = Fillers[i]
			}
		}
	}

	userWords := len(strings.Fields(in.UserText))
	otherWords := len(strings.Fields(in.CounterpartText))

	wpm := WordsPerMinute(userWords, in.ElapsedSeconds)
	talkRatio := int(math.Round(float64(userWords) / float64(max(userWords+otherWords, 1)) * 100))
	clarity := clarityScore(lower, userWords)

	hint := in.Hint
	if hint == "" {
		switch {
		case in.Rules.MaxWordsPerMinute > 0 && wpm > in.Rules.MaxWordsPerMinute:
			hint = HintSlowDown
		case in.Rules.MaxTalkRatio > 0 && talkRatio > in.Rules.MaxTalkRatio:
			hint = HintListenMore
		case firstFiller != "":
			hint = `Try reducing filler words like "` + firstFiller + `"`
		case in.Rules.AskQuestions && !strings.Contains(in.UserText, "?"):
			hint = HintAskQuestion
		}
	}

	return Snapshot{
		FillerWords:     fillers,
		WordsPerMinute:  wpm,
		Tone:            in.Tone,
		KeyPhrases:      []string{},
		ImprovementHint: hint,
		Timestamp:       in.Timestamp,
		TalkRatio:       talkRatio,
		ClarityScore:    clarity,
	}
}

// WordsPerMinute divides words by elapsed minutes, flooring the elapsed time
// at six seconds.
func WordsPerMinute(words int, elapsedSeconds float64) int {
	minutes := max(elapsedSeconds/60, minMinutes)
	return int(math.Round(float64(words) / minutes))
}

// clarityScore is the percentage of distinct words among all user words.
func clarityScore(lowerText string, userWords int) int {
	if userWords == 0 {
		return 100
	}
	unique := make(map[string]struct{})
	for _, w := range strings.Fields(nonWord.ReplaceAllString(lowerText, "")) {
		unique[w] = struct{}{}
	}
	return min(100, int(math.Round(float64(len(unique))/float64(userWords)*100)))
}

// TotalFillers sums the counts of a snapshot's filler map.
func TotalFillers(s Snapshot) int {
	total := 0
	for _, n := range s.FillerWords {
		total += n
	}
	return total
}
