package insight

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/analytics"
	"github.com/MrWong99/parley/internal/mode"
	"github.com/MrWong99/parley/internal/store"
	"github.com/MrWong99/parley/internal/store/memory"
	"github.com/MrWong99/parley/internal/transcript"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/llm/mock"
)

func reply(content string) *mock.Provider {
	return &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: content}}
}

func defaultMode(t *testing.T, name string) mode.Definition {
	t.Helper()
	for _, d := range mode.Defaults() {
		if d.Name == name {
			return d
		}
	}
	t.Fatalf("no default mode %q", name)
	return mode.Definition{}
}

// ── decodeJSON ───────────────────────────────────────────────────────────────

func TestDecodeJSON(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"plain", `{"tone":"Calm"}`, "Calm", false},
		{"fenced", "```json\n{\"tone\":\"Calm\"}\n```", "Calm", false},
		{"bare fence", "```\n{\"tone\":\"Calm\"}```", "Calm", false},
		{"chatter", `Sure! {"tone":"Calm"} Hope that helps.`, "Calm", false},
		{"empty", "  ", "", true},
		{"garbage", "not json", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var out toneReply
			err := decodeJSON(tt.in, &out)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if out.Tone != tt.want {
				t.Errorf("tone = %q, want %q", out.Tone, tt.want)
			}
		})
	}
}

func TestCompleteJSON_NoProvider(t *testing.T) {
	t.Parallel()
	b := newBase(nil, nil)
	var out toneReply
	if err := b.completeJSON(context.Background(), "tone", llm.CompletionRequest{}, &out); !errors.Is(err, errNoProvider) {
		t.Errorf("err = %v, want errNoProvider", err)
	}
}

// ── Reporter ─────────────────────────────────────────────────────────────────

func TestAggregate(t *testing.T) {
	t.Parallel()
	snaps := []analytics.Snapshot{
		{FillerWords: map[string]int{"um": 1}, WordsPerMinute: 100, Tone: "Nervous", TalkRatio: 40, ClarityScore: 90},
		{FillerWords: map[string]int{"um": 2, "so": 1}, WordsPerMinute: 120, Tone: "Confident", TalkRatio: 50, ClarityScore: 80},
		{FillerWords: map[string]int{"um": 3, "so": 1}, WordsPerMinute: 141, Tone: "Confident", TalkRatio: 61, ClarityScore: 71},
	}
	got := Aggregate(snaps)
	want := store.ReportMetrics{
		TotalFillerWords:  4,
		AvgWordsPerMinute: 120,
		DominantTone:      "Confident",
		AvgTalkRatio:      50,
		AvgClarityScore:   80,
	}
	if got != want {
		t.Errorf("Aggregate = %+v, want %+v", got, want)
	}

	if empty := Aggregate(nil); empty.DominantTone != UnknownTone || empty.AvgWordsPerMinute != 0 {
		t.Errorf("Aggregate(nil) = %+v", empty)
	}
}

func TestReporter_Generate(t *testing.T) {
	t.Parallel()
	p := reply("```json\n" + `{
		"overall_score": 7.6,
		"categories": {
			"clarity": {"score": 8, "feedback": "Clear."},
			"confidence": {"score": 12, "feedback": "Bold."},
			"persuasiveness": {"score": 6, "feedback": "Okay."}
		},
		"metrics": {"interruption_recovery_avg_ms": 850, "avg_words_per_minute": 999},
		"key_moments": [{"timestamp": "00:42", "type": "strength", "note": "Strong close."}],
		"improvement_tips": ["Pause more."],
		"social_share_texts": {"performance_card_summary": "Nailed it."},
		"extra": {"strongest_asset": "Story", "ignored": true}
	}` + "\n```")
	r := NewReporter(p)

	in := ReportInput{
		SessionID:       "s1",
		Mode:            defaultMode(t, mode.ProfessionalIntroduction),
		DurationSeconds: 95,
		VoiceName:       "Kore",
		Transcript: []transcript.Entry{
			{Role: transcript.RoleAssistant, Text: "Tell me about yourself."},
			{Role: transcript.RoleUser, Text: "I build voice products."},
		},
		Metrics: []analytics.Snapshot{{WordsPerMinute: 130, Tone: "Calm"}},
	}
	rep, err := r.Generate(context.Background(), in)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if rep.SessionID != "s1" || rep.Mode != mode.ProfessionalIntroduction || rep.DurationSeconds != 95 || rep.VoiceName != "Kore" {
		t.Errorf("identity fields = %+v", rep)
	}
	if rep.OverallScore != 8 {
		t.Errorf("OverallScore = %d, want 8", rep.OverallScore)
	}
	if rep.Categories["confidence"].Score != 10 {
		t.Errorf("confidence not clamped: %+v", rep.Categories["confidence"])
	}
	if c, ok := rep.Categories["composure"]; !ok || c.Score != 0 {
		t.Errorf("missing category not filled: %+v", rep.Categories)
	}
	if rep.Metrics.AvgWordsPerMinute != 130 || rep.Metrics.InterruptionRecoveryAvgMs != 850 || rep.Metrics.DominantTone != "Calm" {
		t.Errorf("metrics = %+v", rep.Metrics)
	}
	if len(rep.KeyMoments) != 1 || len(rep.ImprovementTips) != 1 {
		t.Errorf("moments/tips = %+v / %+v", rep.KeyMoments, rep.ImprovementTips)
	}
	if rep.SocialShareTexts == nil || rep.SocialShareTexts.PerformanceCardSummary != "Nailed it." {
		t.Errorf("share texts = %+v", rep.SocialShareTexts)
	}
	if len(rep.Extra) != 1 || rep.Extra["strongest_asset"] != "Story" {
		t.Errorf("extra = %+v", rep.Extra)
	}
	if len(rep.DisplayMetrics) == 0 {
		t.Error("display metrics not copied from mode")
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	req := calls[0].Req
	if !req.JSON {
		t.Error("report request not in JSON mode")
	}
	if !strings.Contains(req.SystemPrompt, `"strongest_asset"`) {
		t.Error("extra fields not requested")
	}
	user := req.Messages[0].Content
	if !strings.Contains(user, "[User] I build voice products.") || !strings.Contains(user, "[AI] Tell me about yourself.") {
		t.Errorf("transcript not split by speaker:\n%s", user)
	}
}

func TestReporter_FallbackOnError(t *testing.T) {
	t.Parallel()
	r := NewReporter(&mock.Provider{CompleteErr: errors.New("quota")})
	rep, err := r.Generate(context.Background(), ReportInput{SessionID: "s2", Mode: defaultMode(t, mode.Veritalk), DurationSeconds: 10})
	if err == nil {
		t.Error("expected the model error alongside the fallback")
	}

	if rep.SessionID != "s2" || rep.OverallScore != 0 {
		t.Errorf("fallback = %+v", rep)
	}
	for _, c := range store.Categories {
		if rep.Categories[c].Feedback != FallbackFeedback {
			t.Errorf("category %s = %+v", c, rep.Categories[c])
		}
	}
	if rep.Metrics.DominantTone != UnknownTone {
		t.Errorf("DominantTone = %q", rep.Metrics.DominantTone)
	}
	if len(rep.ImprovementTips) != 1 || rep.ImprovementTips[0] != FallbackTip {
		t.Errorf("tips = %+v", rep.ImprovementTips)
	}
}

func TestReporter_EmptyTranscriptStillReports(t *testing.T) {
	t.Parallel()
	p := reply(`{"overall_score": 1, "categories": {}}`)
	rep, err := NewReporter(p).Generate(context.Background(), ReportInput{SessionID: "s3", Mode: defaultMode(t, mode.PitchPerfect)})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if rep.OverallScore != 1 || len(rep.Categories) != len(store.Categories) {
		t.Errorf("report = %+v", rep)
	}
	if !strings.Contains(p.Calls()[0].Req.Messages[0].Content, "did not speak") {
		t.Error("empty user speech not called out")
	}
}

func TestReporter_UndecodableReply(t *testing.T) {
	t.Parallel()
	rep, err := NewReporter(reply("I cannot help with that.")).Generate(context.Background(), ReportInput{Mode: defaultMode(t, mode.Veritalk)})
	if err == nil || rep.ImprovementTips[0] != FallbackTip {
		t.Errorf("expected fallback, got %+v", rep)
	}
}

// ── Profiler ─────────────────────────────────────────────────────────────────

func sampleTranscript() []transcript.Entry {
	return []transcript.Entry{
		{Role: transcript.RoleAssistant, Text: "Introduce yourself."},
		{Role: transcript.RoleUser, Text: "I'm a backend engineer with eight years of Go."},
	}
}

func TestProfiler_UpdatesFacts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New()
	_ = st.SaveProfile(ctx, store.Profile{UserID: "u1", FactualSummary: "Engineer.", CoachingNotes: "- Talks fast"})

	p := reply(`{"factualSummary": "Backend engineer, 8y Go.", "coachingNotes": "- Talks fast\n- Good structure"}`)
	prof := NewProfiler(p, st)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	prof.now = func() time.Time { return fixed }

	got, err := prof.Update(ctx, ProfileInput{UserID: "u1", Mode: defaultMode(t, mode.ProfessionalIntroduction), Transcript: sampleTranscript()})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.FactualSummary != "Backend engineer, 8y Go." || !got.LastUpdated.Equal(fixed) {
		t.Errorf("profile = %+v", got)
	}

	saved, _ := st.GetProfile(ctx, "u1")
	if saved.CoachingNotes != "- Talks fast\n- Good structure" {
		t.Errorf("saved = %+v", saved)
	}

	req := p.Calls()[0].Req
	if req.Temperature != profileTemperature || !req.JSON {
		t.Errorf("request = %+v", req)
	}
	if !strings.Contains(req.Messages[0].Content, "EXISTING FACTUAL SUMMARY:\nEngineer.") {
		t.Errorf("prompt = %q", req.Messages[0].Content)
	}
}

func TestProfiler_RoleplayKeepsFacts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New()
	_ = st.SaveProfile(ctx, store.Profile{UserID: "u1", FactualSummary: "Engineer."})

	p := reply(`{"factualSummary": "Astronaut.", "coachingNotes": "- Rattles when interrupted"}`)
	got, err := NewProfiler(p, st).Update(ctx, ProfileInput{UserID: "u1", Mode: defaultMode(t, mode.PitchPerfect), Transcript: sampleTranscript()})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.FactualSummary != "Engineer." {
		t.Errorf("roleplay rewrote facts: %q", got.FactualSummary)
	}
	if got.CoachingNotes != "- Rattles when interrupted" {
		t.Errorf("notes = %q", got.CoachingNotes)
	}
	if !strings.Contains(p.Calls()[0].Req.SystemPrompt, "DO NOT EXTRACT ANY NEW FACTUAL INFORMATION") {
		t.Error("roleplay prompt should forbid new facts")
	}
}

func TestProfiler_EmptyTranscriptSkipsModel(t *testing.T) {
	t.Parallel()
	p := reply(`{}`)
	got, err := NewProfiler(p, memory.New()).Update(context.Background(), ProfileInput{UserID: "new", Mode: defaultMode(t, mode.Veritalk)})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.UserID != "new" || got.FactualSummary != "" {
		t.Errorf("profile = %+v", got)
	}
	if len(p.Calls()) != 0 {
		t.Error("model called for empty transcript")
	}
}

func TestProfiler_FailurePreservesProfile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New()
	prior := store.Profile{UserID: "u1", FactualSummary: "Engineer.", CoachingNotes: "- Calm"}
	_ = st.SaveProfile(ctx, prior)

	got, err := NewProfiler(&mock.Provider{CompleteErr: errors.New("timeout")}, st).
		Update(ctx, ProfileInput{UserID: "u1", Mode: defaultMode(t, mode.ProfessionalIntroduction), Transcript: sampleTranscript()})
	if err == nil {
		t.Fatal("expected error")
	}
	if got.FactualSummary != prior.FactualSummary || got.CoachingNotes != prior.CoachingNotes {
		t.Errorf("returned = %+v, want prior", got)
	}
	saved, _ := st.GetProfile(ctx, "u1")
	if saved.CoachingNotes != "- Calm" {
		t.Errorf("stored profile changed: %+v", saved)
	}
}

// ── ToneClassifier ───────────────────────────────────────────────────────────

func TestToneClassifier(t *testing.T) {
	t.Parallel()
	p := reply(`{"tone": " Confident! ", "hint": " Keep going. "}`)
	res, err := NewToneClassifier(p).ClassifyTone(context.Background(), "I know exactly what we need.")
	if err != nil {
		t.Fatalf("ClassifyTone: %v", err)
	}
	if res.Tone != "Confident" || res.Hint != "Keep going." {
		t.Errorf("result = %+v", res)
	}
	if !strings.Contains(p.Calls()[0].Req.Messages[0].Content, "I know exactly what we need.") {
		t.Error("excerpt not sent")
	}
}

func TestToneClassifier_Error(t *testing.T) {
	t.Parallel()
	_, err := NewToneClassifier(&mock.Provider{CompleteErr: errors.New("boom")}).ClassifyTone(context.Background(), "x")
	if err == nil {
		t.Fatal("expected error")
	}
}
