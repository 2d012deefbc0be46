package resilience

import (
	"context"
	"strings"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

// AnalysisFailover is an [llm.Provider] that answers from the first healthy
// backend of an ordered list.
type AnalysisFailover struct {
	group *Group[llm.Provider]
	names []string
}

var _ llm.Provider = (*AnalysisFailover)(nil)

// NewAnalysisFailover returns a failover whose preferred backend is primary.
func NewAnalysisFailover(primary llm.Provider, cfg BreakerConfig) *AnalysisFailover {
	return &AnalysisFailover{
		group: NewGroup(primary, primary.Name(), cfg),
		names: []string{primary.Name()},
	}
}

// Add registers a fallback backend.
func (f *AnalysisFailover) Add(p llm.Provider) {
	f.group.Add(p.Name(), p)
	f.names = append(f.names, p.Name())
}

// Complete sends req to the first backend that answers.
func (f *AnalysisFailover) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Call(ctx, f.group, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// Name joins the member names with "+", e.g. "gemini+openai".
func (f *AnalysisFailover) Name() string { return strings.Join(f.names, "+") }

// Backends lists the member names in failover order.
func (f *AnalysisFailover) Backends() []string {
	return append([]string(nil), f.names...)
}

// Ping fails while every backend's circuit is open, so readiness can report
// that reports and tone analysis are degraded.
func (f *AnalysisFailover) Ping(context.Context) error { return f.group.Available() }
