package store

// Report is the post-session evaluation attached to a Record.
type Report struct {
	SessionID        string                   `json:"session_id"`
	Mode             string                   `json:"mode"`
	DurationSeconds  int                      `json:"duration_seconds"`
	OverallScore     int                      `json:"overall_score"`
	Categories       map[string]CategoryScore `json:"categories"`
	Metrics          ReportMetrics            `json:"metrics"`
	KeyMoments       []KeyMoment              `json:"key_moments"`
	ImprovementTips  []string                 `json:"improvement_tips"`
	SocialShareTexts *ShareTexts              `json:"social_share_texts,omitempty"`
	Extra            map[string]any           `json:"extra,omitempty"`
	DisplayMetrics   []string                 `json:"displayMetrics,omitempty"`
	VoiceName        string                   `json:"voiceName,omitempty"`
}

// CategoryScore is a 1-10 score with a short justification.
type CategoryScore struct {
	Score    int    `json:"score"`
	Feedback string `json:"feedback"`
}

// ReportMetrics aggregates the live metric snapshots of a session.
type ReportMetrics struct {
	TotalFillerWords          int    `json:"total_filler_words"`
	AvgWordsPerMinute         int    `json:"avg_words_per_minute"`
	DominantTone              string `json:"dominant_tone"`
	InterruptionRecoveryAvgMs int    `json:"interruption_recovery_avg_ms"`
	AvgTalkRatio              int    `json:"avg_talk_ratio"`
	AvgClarityScore           int    `json:"avg_clarity_score"`
}

// KeyMoment highlights one strength or weakness. Timestamp is "mm:ss".
type KeyMoment struct {
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Note      string `json:"note"`
}

// ShareTexts are ready-made texts for sharing a report.
type ShareTexts struct {
	PerformanceCardSummary string `json:"performance_card_summary"`
	LinkedInTemplate       string `json:"linkedin_template"`
	TwitterTemplate        string `json:"twitter_template"`
	FacebookTemplate       string `json:"facebook_template"`
}

// Report categories.
const (
	CategoryClarity        = "clarity"
	CategoryConfidence     = "confidence"
	CategoryPersuasiveness = "persuasiveness"
	CategoryComposure      = "composure"
)

// Categories lists the report categories in display order.
var Categories = []string{CategoryClarity, CategoryConfidence, CategoryPersuasiveness, CategoryComposure}
