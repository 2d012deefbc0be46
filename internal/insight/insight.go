// Package insight turns finished or running conversations into coaching
// output with a text model: the post-session [Reporter], the long-lived
// [Profiler] and the live [ToneClassifier].
//
// Every component degrades instead of failing the session: the reporter
// returns a zeroed fallback report, the profiler keeps the prior profile and
// the classifier's errors leave the last known tone in place.
//
// All exported types are safe for concurrent use.
package insight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/provider/llm"
)

// DefaultTimeout bounds a single model call.
const DefaultTimeout = 60 * time.Second

var errNoProvider = errors.New("insight: no text model configured")

// Option configures the components of this package.
type Option func(*base)

// WithMetrics records model calls on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(b *base) { b.metrics = m }
}

// WithTimeout bounds each model call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(b *base) { b.timeout = d }
}

// base holds what the components share: the model and the instruments.
type base struct {
	llm     llm.Provider
	metrics *observe.Metrics
	timeout time.Duration
}

func newBase(p llm.Provider, opts []Option) base {
	b := base{llm: p, timeout: DefaultTimeout}
	for _, o := range opts {
		o(&b)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	return b
}

// completeJSON runs one JSON-mode completion for task and decodes the reply
// into out.
func (b *base) completeJSON(ctx context.Context, task string, req llm.CompletionRequest, out any) error {
	if b.llm == nil {
		return errNoProvider
	}
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	ctx, span := observe.StartSpan(ctx, "insight."+task)
	defer span.End()

	req.JSON = true
	start := time.Now()
	resp, err := b.llm.Complete(ctx, req)
	b.metrics.RecordLLMCall(ctx, b.llm.Name(), task, time.Since(start).Seconds(), err)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("insight: %s: %w", task, err)
	}
	if err := decodeJSON(resp.Content, out); err != nil {
		span.RecordError(err)
		return fmt.Errorf("insight: %s: %w", task, err)
	}
	return nil
}

// decodeJSON parses a model reply, tolerating markdown code fences and
// chatter around the object.
func decodeJSON(reply string, out any) error {
	cleaned := stripFences(reply)
	if cleaned == "" {
		return errors.New("empty reply")
	}
	err := json.Unmarshal([]byte(cleaned), out)
	if err == nil {
		return nil
	}
	start, end := strings.IndexByte(cleaned, '{'), strings.LastIndexByte(cleaned, '}')
	if start < 0 || end <= start {
		return fmt.Errorf("decode reply: %w", err)
	}
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), out); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}

var fenceReplacer = strings.NewReplacer("```json\n", "", "```json", "", "```\n", "", "```", "")

func stripFences(s string) string {
	return strings.TrimSpace(fenceReplacer.Replace(s))
}
