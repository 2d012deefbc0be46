package session

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/provider/s2s"
)

// Default upstream connect retry parameters.
const (
	defaultConnectAttempts = 3
	defaultBackoff         = 500 * time.Millisecond
	defaultMaxBackoff      = 5 * time.Second
)

// RetryPolicy bounds how often the upstream connection is attempted.
type RetryPolicy struct {
	// Attempts is the total number of Connect calls. Defaults to 3 if zero.
	Attempts int

	// Backoff is the wait after the first failure. It doubles after each
	// further failure up to MaxBackoff. Defaults to 500ms if zero.
	Backoff time.Duration

	// MaxBackoff caps the wait between attempts. Defaults to 5s if zero.
	MaxBackoff time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = defaultConnectAttempts
	}
	if p.Backoff <= 0 {
		p.Backoff = defaultBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = defaultMaxBackoff
	}
	return p
}

// connectUpstream opens the upstream session, retrying with exponential
// backoff. It gives up early when ctx is done.
func connectUpstream(ctx context.Context, p s2s.Provider, cfg s2s.SessionConfig, policy RetryPolicy, m *observe.Metrics) (s2s.SessionHandle, error) {
	policy = policy.withDefaults()
	log := observe.Logger(ctx)
	backoff := policy.Backoff

	var lastErr error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		start := time.Now()
		h, err := p.Connect(ctx, cfg)
		m.UpstreamConnectDuration.Record(ctx, time.Since(start).Seconds())
		if err == nil {
			m.RecordProviderRequest(ctx, "upstream", "s2s", "ok")
			return h, nil
		}
		lastErr = err
		m.RecordProviderRequest(ctx, "upstream", "s2s", "error")
		m.RecordProviderError(ctx, "upstream", "s2s")
		if ctx.Err() != nil || attempt == policy.Attempts {
			break
		}

		log.Warn("upstream connect failed, retrying",
			"attempt", attempt,
			"max_attempts", policy.Attempts,
			"backoff", backoff,
			"err", err,
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("session: connect upstream: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, policy.MaxBackoff)
	}
	return nil, fmt.Errorf("session: connect upstream: %w", lastErr)
}
