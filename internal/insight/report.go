package insight

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/MrWong99/parley/internal/analytics"
	"github.com/MrWong99/parley/internal/mode"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/store"
	"github.com/MrWong99/parley/internal/transcript"
	"github.com/MrWong99/parley/pkg/provider/llm"
)

// Fallback report texts.
const (
	FallbackFeedback = "Report generation failed."
	FallbackTip      = "Unable to generate report. Please try again."
	UnknownTone      = "unknown"
)

const reportSystemPrompt = `You are an expert speech coach analyzing a completed coaching session.

Evaluate the USER's performance ONLY, never the AI coach. Lines labelled [User] are what the person being coached said; [AI] lines are context.
If the user did not speak or said very little, score them LOW (1-3) and encourage them to participate actively.

Return a JSON object with this exact structure:
{
  "overall_score": <number 1-10>,
  "categories": {
    "clarity": {"score": <1-10>, "feedback": "<2-3 sentences>"},
    "confidence": {"score": <1-10>, "feedback": "<2-3 sentences>"},
    "persuasiveness": {"score": <1-10>, "feedback": "<2-3 sentences>"},
    "composure": {"score": <1-10>, "feedback": "<2-3 sentences>"}
  },
  "metrics": {"interruption_recovery_avg_ms": <estimated number>},
  "key_moments": [
    {"timestamp": "<mm:ss>", "type": "strength"|"weakness", "note": "<the user's moment>"}
  ],
  "improvement_tips": ["<tip 1>", "<tip 2>", "<tip 3>"],
  "social_share_texts": {
    "performance_card_summary": "<one upbeat sentence>",
    "linkedin_template": "<short post>",
    "twitter_template": "<under 280 characters>",
    "facebook_template": "<short post>"
  }%s
}`

// ReportInput is what a report is generated from.
type ReportInput struct {
	SessionID       string
	Mode            mode.Definition
	Transcript      []transcript.Entry
	Metrics         []analytics.Snapshot
	DurationSeconds int
	VoiceName       string
}

// Reporter scores finished sessions.
type Reporter struct {
	base
}

// NewReporter returns a reporter backed by p. A nil p always yields the
// fallback report.
func NewReporter(p llm.Provider, opts ...Option) *Reporter {
	return &Reporter{base: newBase(p, opts)}
}

type replyScore struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

type reportReply struct {
	OverallScore float64               `json:"overall_score"`
	Categories   map[string]replyScore `json:"categories"`
	Metrics      struct {
		InterruptionRecoveryAvgMs float64 `json:"interruption_recovery_avg_ms"`
	} `json:"metrics"`
	KeyMoments       []store.KeyMoment `json:"key_moments"`
	ImprovementTips  []string          `json:"improvement_tips"`
	SocialShareTexts *store.ShareTexts `json:"social_share_texts"`
	Extra            map[string]any    `json:"extra"`
}

// Generate produces the report of a session. The returned report is always
// usable: on a model or decode error it is [FallbackReport] and the error is
// returned alongside.
func (r *Reporter) Generate(ctx context.Context, in ReportInput) (store.Report, error) {
	log := observe.Logger(ctx).With("session_id", in.SessionID, "mode", in.Mode.Name)

	var reply reportReply
	err := r.completeJSON(ctx, "report", llm.CompletionRequest{
		SystemPrompt: systemPromptFor(in.Mode),
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: reportPrompt(in)}},
	}, &reply)
	if err != nil {
		log.Error("report generation failed", "err", err)
		r.metrics.ReportFailures.Add(ctx, 1)
		return FallbackReport(in), err
	}

	rep := newReport(in)
	rep.OverallScore = clampScore(reply.OverallScore)
	for _, name := range store.Categories {
		c, ok := reply.Categories[name]
		if !ok {
			rep.Categories[name] = store.CategoryScore{Feedback: "No feedback available."}
			continue
		}
		rep.Categories[name] = store.CategoryScore{Score: clampScore(c.Score), Feedback: c.Feedback}
	}
	rep.Metrics.InterruptionRecoveryAvgMs = int(math.Round(max(reply.Metrics.InterruptionRecoveryAvgMs, 0)))
	if reply.KeyMoments != nil {
		rep.KeyMoments = reply.KeyMoments
	}
	if reply.ImprovementTips != nil {
		rep.ImprovementTips = reply.ImprovementTips
	}
	rep.SocialShareTexts = reply.SocialShareTexts
	rep.Extra = pickExtra(reply.Extra, in.Mode.ExtraFields)
	log.Info("report generated", "overall_score", rep.OverallScore)
	return rep, nil
}

// FallbackReport is the zeroed report returned when generation fails.
func FallbackReport(in ReportInput) store.Report {
	rep := newReport(in)
	rep.Metrics = store.ReportMetrics{DominantTone: UnknownTone}
	for _, name := range store.Categories {
		rep.Categories[name] = store.CategoryScore{Feedback: FallbackFeedback}
	}
	rep.ImprovementTips = []string{FallbackTip}
	return rep
}

func newReport(in ReportInput) store.Report {
	return store.Report{
		SessionID:       in.SessionID,
		Mode:            in.Mode.Name,
		DurationSeconds: in.DurationSeconds,
		Categories:      make(map[string]store.CategoryScore, len(store.Categories)),
		Metrics:         Aggregate(in.Metrics),
		KeyMoments:      []store.KeyMoment{},
		ImprovementTips: []string{},
		DisplayMetrics:  in.Mode.DisplayMetrics,
		VoiceName:       in.VoiceName,
	}
}

// Aggregate summarises a session's metric snapshots. Snapshots are
// cumulative, so filler totals come from the last one; rates are averaged.
// The dominant tone is the most frequent one, ties going to the earliest.
func Aggregate(snaps []analytics.Snapshot) store.ReportMetrics {
	if len(snaps) == 0 {
		return store.ReportMetrics{DominantTone: UnknownTone}
	}
	var wpm, talk, clarity int
	counts := make(map[string]int)
	dominant, best := UnknownTone, 0
	for _, s := range snaps {
		wpm += s.WordsPerMinute
		talk += s.TalkRatio
		clarity += s.ClarityScore
		if s.Tone == "" {
			continue
		}
		counts[s.Tone]++
		if counts[s.Tone] > best {
			dominant, best = s.Tone, counts[s.Tone]
		}
	}
	n := float64(len(snaps))
	return store.ReportMetrics{
		TotalFillerWords:  analytics.TotalFillers(snaps[len(snaps)-1]),
		AvgWordsPerMinute: int(math.Round(float64(wpm) / n)),
		DominantTone:      dominant,
		AvgTalkRatio:      int(math.Round(float64(talk) / n)),
		AvgClarityScore:   int(math.Round(float64(clarity) / n)),
	}
}

func systemPromptFor(def mode.Definition) string {
	if len(def.ExtraFields) == 0 {
		return fmt.Sprintf(reportSystemPrompt, "")
	}
	fields := make([]string, len(def.ExtraFields))
	for i, f := range def.ExtraFields {
		fields[i] = fmt.Sprintf("%q: \"<short text>\"", f)
	}
	return fmt.Sprintf(reportSystemPrompt, ",\n  \"extra\": {"+strings.Join(fields, ", ")+"}")
}

func reportPrompt(in ReportInput) string {
	var user, ai []string
	for _, e := range in.Transcript {
		line := store.SpeakerLabel(e.Role) + " " + e.Text
		if e.Role == transcript.RoleAssistant {
			ai = append(ai, line)
		} else {
			user = append(user, line)
		}
	}
	userSpeech := "(The user did not speak during this session)"
	if len(user) > 0 {
		userSpeech = strings.Join(user, "\n")
	}
	aiSpeech := "(No AI responses recorded)"
	if len(ai) > 0 {
		aiSpeech = strings.Join(ai, "\n")
	}
	agg := Aggregate(in.Metrics)

	var sb strings.Builder
	fmt.Fprintf(&sb, "MODE: %s\nDURATION: %d seconds\n\n", in.Mode.Name, in.DurationSeconds)
	fmt.Fprintf(&sb, "=== USER'S SPEECH (evaluate THIS) ===\n%s\n\n", userSpeech)
	fmt.Fprintf(&sb, "=== AI COACH'S SPEECH (context only, do NOT evaluate) ===\n%s\n\n", aiSpeech)
	sb.WriteString("USER'S AGGREGATED METRICS:\n")
	fmt.Fprintf(&sb, "- Total filler words used by user: %d\n", agg.TotalFillerWords)
	fmt.Fprintf(&sb, "- Average words per minute: %d\n", agg.AvgWordsPerMinute)
	fmt.Fprintf(&sb, "- Dominant tone: %s\n", agg.DominantTone)
	fmt.Fprintf(&sb, "- Average talk ratio: %d%%\n", agg.AvgTalkRatio)
	fmt.Fprintf(&sb, "- User transcript entries: %d\n", len(user))
	return sb.String()
}

func clampScore(v float64) int {
	return int(math.Round(min(max(v, 0), 10)))
}

func pickExtra(extra map[string]any, fields []string) map[string]any {
	if len(fields) == 0 || len(extra) == 0 {
		return nil
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := extra[f]; ok {
			out[f] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
