package insight

import (
	"context"
	"strings"
	"unicode"

	"github.com/MrWong99/parley/internal/analytics"
	"github.com/MrWong99/parley/pkg/provider/llm"
)

const toneSystemPrompt = `You classify the emotional tone of a user in a speech training session.
Return a JSON object with two fields:
"tone": exactly one word describing the speaker's tone, e.g. Confident, Nervous, Defensive, Excited, Thoughtful, Frustrated.
"hint": a very short, one-sentence actionable training hint based on the current context, or "" if none is needed.`

// ToneClassifier labels the tone of live speech. It implements
// [analytics.Classifier].
type ToneClassifier struct {
	base
}

var _ analytics.Classifier = (*ToneClassifier)(nil)

// NewToneClassifier returns a classifier backed by p.
func NewToneClassifier(p llm.Provider, opts ...Option) *ToneClassifier {
	return &ToneClassifier{base: newBase(p, opts)}
}

type toneReply struct {
	Tone string `json:"tone"`
	Hint string `json:"hint"`
}

// ClassifyTone asks the model for the tone of excerpt. The tone is reduced to
// ASCII letters; an empty tone is returned as-is and ignored by the
// scheduler.
func (c *ToneClassifier) ClassifyTone(ctx context.Context, excerpt string) (analytics.ToneResult, error) {
	var reply toneReply
	err := c.completeJSON(ctx, "tone", llm.CompletionRequest{
		SystemPrompt: toneSystemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "Text: \"" + excerpt + "\""}},
	}, &reply)
	if err != nil {
		return analytics.ToneResult{}, err
	}
	return analytics.ToneResult{
		Tone: lettersOnly(reply.Tone),
		Hint: strings.TrimSpace(reply.Hint),
	}, nil
}

func lettersOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && unicode.IsLetter(r) {
			return r
		}
		return -1
	}, s)
}
