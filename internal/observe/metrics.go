// Package observe provides application-wide observability primitives for
// Parley: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [Init] wires
// them to a Prometheus registry served at /metrics. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Parley metrics.
const meterName = "github.com/MrWong99/parley"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// UpstreamConnectDuration tracks how long the live model takes to accept
	// a session setup.
	UpstreamConnectDuration metric.Float64Histogram

	// LLMDuration tracks text model latency. Use with attribute:
	//   attribute.String("task", ...) // report, profile, tone
	LLMDuration metric.Float64Histogram

	// SessionDuration tracks the wall-clock length of finished sessions.
	SessionDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// SessionsStarted counts accepted sessions. Use with attribute:
	//   attribute.String("mode", ...)
	SessionsStarted metric.Int64Counter

	// SessionsEnded counts sessions reaching the closed state. Use with
	// attributes:
	//   attribute.String("mode", ...), attribute.String("reason", ...)
	SessionsEnded metric.Int64Counter

	// ToneAnalyses counts tone classification runs. Use with attribute:
	//   attribute.String("status", ...)
	ToneAnalyses metric.Int64Counter

	// TranscriptFlushes counts transcript buffer flushes. Use with
	// attributes:
	//   attribute.String("role", ...), attribute.Bool("forced", ...)
	TranscriptFlushes metric.Int64Counter

	// DecodeErrors counts dropped client frames. Use with attribute:
	//   attribute.String("kind", ...) // missing_header, invalid_header, unknown_type, other
	DecodeErrors metric.Int64Counter

	// UpstreamEvents counts events received from the live model. Use with
	// attribute:
	//   attribute.String("type", ...)
	UpstreamEvents metric.Int64Counter

	// ReportFailures counts reports that fell back to the placeholder.
	ReportFailures metric.Int64Counter

	// ShareAccess counts granted session reads. Use with attribute:
	//   attribute.String("level", ...) // owner, basic_share, full_share
	ShareAccess metric.Int64Counter

	// MediaFrames counts client media frames. Use with attribute:
	//   attribute.String("kind", ...) // audio, video, dropped
	MediaFrames metric.Int64Counter

	// CacheLookups counts store cache reads. Use with attribute:
	//   attribute.String("result", ...) // hit, miss, error
	CacheLookups metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live coaching sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// provider calls. Report generation routinely takes several seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40,
}

// sessionBuckets defines histogram bucket boundaries (in seconds) for whole
// sessions.
var sessionBuckets = []float64{
	10, 30, 60, 120, 300, 600, 900, 1800,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.UpstreamConnectDuration, err = m.Float64Histogram("parley.upstream.connect.duration",
		metric.WithDescription("Latency of establishing a live model session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("parley.llm.duration",
		metric.WithDescription("Latency of text model calls by task."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("parley.session.duration",
		metric.WithDescription("Wall-clock length of finished coaching sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("parley.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("parley.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.SessionsStarted, err = m.Int64Counter("parley.sessions.started",
		metric.WithDescription("Total sessions accepted by mode."),
	); err != nil {
		return nil, err
	}
	if met.SessionsEnded, err = m.Int64Counter("parley.sessions.ended",
		metric.WithDescription("Total sessions closed by mode and end reason."),
	); err != nil {
		return nil, err
	}
	if met.ToneAnalyses, err = m.Int64Counter("parley.tone.analyses",
		metric.WithDescription("Total tone classification runs by status."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptFlushes, err = m.Int64Counter("parley.transcript.flushes",
		metric.WithDescription("Total transcript buffer flushes by role and whether forced."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("parley.protocol.decode_errors",
		metric.WithDescription("Total dropped client frames by error kind."),
	); err != nil {
		return nil, err
	}
	if met.UpstreamEvents, err = m.Int64Counter("parley.upstream.events",
		metric.WithDescription("Total live model events by type."),
	); err != nil {
		return nil, err
	}
	if met.ReportFailures, err = m.Int64Counter("parley.report.failures",
		metric.WithDescription("Total reports replaced by the fallback report."),
	); err != nil {
		return nil, err
	}
	if met.ShareAccess, err = m.Int64Counter("parley.share.access",
		metric.WithDescription("Total granted session reads by access level."),
	); err != nil {
		return nil, err
	}
	if met.MediaFrames, err = m.Int64Counter("parley.media.frames",
		metric.WithDescription("Total client media frames by kind."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("parley.cache.lookups",
		metric.WithDescription("Total store cache lookups by result."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("parley.active_sessions",
		metric.WithDescription("Number of live coaching sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("parley.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordSessionStart records an accepted session.
func (m *Metrics) RecordSessionStart(ctx context.Context, mode string) {
	m.SessionsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

// RecordSessionEnd records a closed session and its wall-clock duration.
func (m *Metrics) RecordSessionEnd(ctx context.Context, mode, reason string, seconds float64) {
	m.SessionsEnded.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("reason", reason),
		),
	)
	m.SessionDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("mode", mode)))
}

// RecordToneAnalysis records a tone classification run.
func (m *Metrics) RecordToneAnalysis(ctx context.Context, status string) {
	m.ToneAnalyses.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordTranscriptFlush records a transcript buffer flush.
func (m *Metrics) RecordTranscriptFlush(ctx context.Context, role string, forced bool) {
	m.TranscriptFlushes.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("role", role),
			attribute.Bool("forced", forced),
		),
	)
}

// RecordDecodeError records a dropped client frame.
func (m *Metrics) RecordDecodeError(ctx context.Context, kind string) {
	m.DecodeErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordUpstreamEvent records an event received from the live model.
func (m *Metrics) RecordUpstreamEvent(ctx context.Context, typ string) {
	m.UpstreamEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("type", typ)))
}

// RecordLLMCall records the latency of a text model call and its outcome.
func (m *Metrics) RecordLLMCall(ctx context.Context, provider, task string, seconds float64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.RecordProviderError(ctx, provider, "llm")
	}
	m.LLMDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("task", task)))
	m.RecordProviderRequest(ctx, provider, "llm", status)
}

// RecordShareAccess records a granted session read.
func (m *Metrics) RecordShareAccess(ctx context.Context, level string) {
	m.ShareAccess.Add(ctx, 1, metric.WithAttributes(attribute.String("level", level)))
}

// RecordMediaFrame records a client media frame of the given kind.
func (m *Metrics) RecordMediaFrame(ctx context.Context, kind string) {
	m.MediaFrames.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordCacheLookup records a store cache lookup result.
func (m *Metrics) RecordCacheLookup(ctx context.Context, result string) {
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
