package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/provider/llm"
	llmmock "github.com/MrWong99/parley/pkg/provider/llm/mock"
)

var errTest = errors.New("test error")

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock { return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)} }

func fail() error { return errTest }
func pass() error { return nil }

func TestNewBreaker_Defaults(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test"})
	if b.threshold != 3 || b.cooldown != 30*time.Second || b.probes != 1 {
		t.Errorf("defaults = %d/%v/%d, want 3/30s/1", b.threshold, b.cooldown, b.probes)
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{Threshold: 2, Now: newClock().Now})

	_ = b.Do(fail, nil)
	if b.State() != StateClosed {
		t.Fatalf("state after 1 failure = %v, want closed", b.State())
	}
	_ = b.Do(fail, nil)
	if b.State() != StateOpen {
		t.Fatalf("state after 2 failures = %v, want open", b.State())
	}

	called := false
	err := b.Do(func() error { called = true; return nil }, nil)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Do() = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn ran while open")
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b := NewBreaker(BreakerConfig{Threshold: 2})
	_ = b.Do(fail, nil)
	_ = b.Do(pass, nil)
	_ = b.Do(fail, nil)
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_IgnoredErrorsDoNotCount(t *testing.T) {
	b := NewBreaker(BreakerConfig{Threshold: 1})
	ignore := func(err error) bool { return errors.Is(err, context.Canceled) }
	err := b.Do(func() error { return context.Canceled }, ignore)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() = %v, want context.Canceled", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_HalfOpen(t *testing.T) {
	tests := []struct {
		name  string
		probe func() error
		want  State
	}{
		{name: "probe succeeds", probe: pass, want: StateClosed},
		{name: "probe fails", probe: fail, want: StateOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newClock()
			b := NewBreaker(BreakerConfig{Threshold: 1, Cooldown: time.Minute, Now: clock.Now})
			_ = b.Do(fail, nil)

			clock.Advance(time.Minute)
			if b.State() != StateHalfOpen {
				t.Fatalf("state after cool-down = %v, want half-open", b.State())
			}
			_ = b.Do(tt.probe, nil)
			if got := b.State(); got != tt.want {
				t.Errorf("state after probe = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBreaker_SingleProbeInFlight(t *testing.T) {
	clock := newClock()
	b := NewBreaker(BreakerConfig{Threshold: 1, Cooldown: time.Second, Now: clock.Now})
	_ = b.Do(fail, nil)
	clock.Advance(time.Second)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(func() error {
			close(entered)
			<-release
			return nil
		}, nil)
	}()
	<-entered

	if err := b.Do(pass, nil); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("concurrent probe = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe error: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	b := NewBreaker(BreakerConfig{Threshold: 1, Cooldown: time.Hour})
	_ = b.Do(fail, nil)
	b.Reset()
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
	if err := b.Do(pass, nil); err != nil {
		t.Errorf("Do() after reset = %v", err)
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(9):      "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}

func TestCall_FailsOver(t *testing.T) {
	g := NewGroup("a", "a", BreakerConfig{Threshold: 1, Cooldown: time.Hour})
	g.Add("b", "b")

	var tried []string
	got, err := Call(context.Background(), g, func(_ context.Context, name string) (string, error) {
		tried = append(tried, name)
		if name == "a" {
			return "", errTest
		}
		return "from " + name, nil
	})
	if err != nil {
		t.Fatalf("Call() error: %v", err)
	}
	if got != "from b" {
		t.Errorf("Call() = %q, want from b", got)
	}

	// a is now open and skipped without being called.
	tried = nil
	_, _ = Call(context.Background(), g, func(_ context.Context, name string) (string, error) {
		tried = append(tried, name)
		return name, nil
	})
	if len(tried) != 1 || tried[0] != "b" {
		t.Errorf("tried = %v, want [b]", tried)
	}
}

func TestCall_AllFailed(t *testing.T) {
	g := NewGroup(1, "one", BreakerConfig{})
	g.Add("two", 2)
	_, err := Call(context.Background(), g, func(context.Context, int) (int, error) { return 0, errTest })
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest) {
		t.Errorf("Call() = %v, want ErrAllFailed wrapping errTest", err)
	}
}

func TestCall_CancelledContext(t *testing.T) {
	g := NewGroup(1, "one", BreakerConfig{Threshold: 1})
	g.Add("two", 2)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Call(ctx, g, func(ctx context.Context, _ int) (int, error) {
		calls++
		cancel()
		return 0, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Call() = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if st := g.members[0].breaker.State(); st != StateClosed {
		t.Errorf("breaker after cancel = %v, want closed", st)
	}
}

func TestAnalysisFailover(t *testing.T) {
	primary := &llmmock.Provider{ProviderName: "gemini", CompleteErr: errTest}
	backup := &llmmock.Provider{
		ProviderName:     "openai",
		CompleteResponse: &llm.CompletionResponse{Content: `{"tone":"Calm"}`},
	}
	f := NewAnalysisFailover(primary, BreakerConfig{Threshold: 1, Cooldown: time.Hour})
	f.Add(backup)

	if got := f.Name(); got != "gemini+openai" {
		t.Errorf("Name() = %q", got)
	}
	if got := f.Backends(); len(got) != 2 || got[1] != "openai" {
		t.Errorf("Backends() = %v", got)
	}

	req := llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, JSON: true}
	for range 2 {
		resp, err := f.Complete(context.Background(), req)
		if err != nil {
			t.Fatalf("Complete() error: %v", err)
		}
		if resp.Content != `{"tone":"Calm"}` {
			t.Errorf("Content = %q", resp.Content)
		}
	}
	if n := len(primary.Calls()); n != 1 {
		t.Errorf("primary calls = %d, want 1 (breaker open after first failure)", n)
	}
	if calls := backup.Calls(); len(calls) != 2 || !calls[0].Req.JSON {
		t.Errorf("backup calls = %+v", calls)
	}
}

func TestAnalysisFailover_Ping(t *testing.T) {
	clock := newClock()
	primary := &llmmock.Provider{ProviderName: "gemini", CompleteErr: errTest}
	backup := &llmmock.Provider{ProviderName: "openai", CompleteErr: errTest}
	f := NewAnalysisFailover(primary, BreakerConfig{Threshold: 1, Cooldown: time.Minute, Now: clock.Now})
	f.Add(backup)

	if err := f.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() before failures = %v, want nil", err)
	}

	req := llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}}
	if _, err := f.Complete(context.Background(), req); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("Complete() error = %v, want ErrAllFailed", err)
	}
	if err := f.Ping(context.Background()); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Ping() with all circuits open = %v, want ErrCircuitOpen", err)
	}

	clock.Advance(time.Minute)
	if err := f.Ping(context.Background()); err != nil {
		t.Errorf("Ping() after cool-down = %v, want nil", err)
	}
}
