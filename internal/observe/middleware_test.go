package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type middlewareEnv struct {
	reader *sdkmetric.ManualReader
	spans  *tracetest.InMemoryExporter
	router chi.Router
}

// newMiddlewareEnv returns a chi router wrapped like the API router:
// RequestID first, then [Middleware].
func newMiddlewareEnv(t *testing.T, withRequestID bool) *middlewareEnv {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	tp, exp := newTestTracerProvider(t)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	r := chi.NewRouter()
	if withRequestID {
		r.Use(chimiddleware.RequestID)
	}
	r.Use(Middleware(m))
	r.Get("/api/sessions/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/api/share/{key}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {})
	return &middlewareEnv{reader: reader, spans: exp, router: r}
}

func (e *middlewareEnv) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// durationPoints returns the attribute sets recorded on the request histogram.
func (e *middlewareEnv) durationPoints(t *testing.T) []attribute.Set {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := e.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "parley.http.request.duration")
	if met == nil {
		t.Fatal("parley.http.request.duration not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("duration data = %T, want histogram", met.Data)
	}
	var sets []attribute.Set
	for _, dp := range hist.DataPoints {
		sets = append(sets, dp.Attributes)
	}
	return sets
}

func TestMiddleware_RouteLabels(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		wantRoute string
		wantCode  int
	}{
		{name: "session id hidden", path: "/api/sessions/6f1c2a", wantRoute: "/api/sessions/{id}", wantCode: http.StatusOK},
		{name: "share key hidden", path: "/api/share/deadbeef", wantRoute: "/api/share/{key}", wantCode: http.StatusForbidden},
		{name: "unknown path", path: "/nope", wantRoute: "unmatched", wantCode: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newMiddlewareEnv(t, false)
			rec := env.serve(httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}

			points := env.durationPoints(t)
			if len(points) != 1 {
				t.Fatalf("got %d data points, want 1", len(points))
			}
			if v, _ := points[0].Value("path"); v.AsString() != tt.wantRoute {
				t.Errorf("path label = %q, want %q", v.AsString(), tt.wantRoute)
			}
			if v, _ := points[0].Value("method"); v.AsString() != http.MethodGet {
				t.Errorf("method label = %q, want GET", v.AsString())
			}

			spans := env.spans.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("got %d spans, want 1", len(spans))
			}
			if want := "HTTP GET " + tt.wantRoute; spans[0].Name != want {
				t.Errorf("span name = %q, want %q", spans[0].Name, want)
			}
			var code int64
			for _, a := range spans[0].Attributes {
				if a.Key == "http.response.status_code" {
					code = a.Value.AsInt64()
				}
			}
			if code != int64(tt.wantCode) {
				t.Errorf("span status attribute = %d, want %d", code, tt.wantCode)
			}
		})
	}
}

func TestMiddleware_CorrelationHeader(t *testing.T) {
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	t.Run("request id wins", func(t *testing.T) {
		env := newMiddlewareEnv(t, true)
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("X-Request-Id", "client-req-1")
		rec := env.serve(req)
		if got := rec.Header().Get("X-Correlation-ID"); got != "client-req-1" {
			t.Errorf("X-Correlation-ID = %q, want client-req-1", got)
		}
	})

	t.Run("falls back to incoming trace", func(t *testing.T) {
		env := newMiddlewareEnv(t, false)
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
		rec := env.serve(req)
		if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
			t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
		}
		if tp := rec.Header().Get("traceparent"); !strings.Contains(tp, traceID) {
			t.Errorf("response traceparent = %q, want trace %s", tp, traceID)
		}
	})
}

func TestMiddleware_WriterUnwraps(t *testing.T) {
	env := newMiddlewareEnv(t, false)

	var unwrapped bool
	env.router.Get("/ws", func(w http.ResponseWriter, _ *http.Request) {
		u, ok := w.(interface{ Unwrap() http.ResponseWriter })
		unwrapped = ok && u.Unwrap() != nil
	})
	env.serve(httptest.NewRequest(http.MethodGet, "/ws", nil))

	if !unwrapped {
		t.Error("middleware writer does not expose Unwrap")
	}
}

func TestMiddleware_ProbesLogAtDebug(t *testing.T) {
	env := newMiddlewareEnv(t, false)
	buf := captureLogs(t)

	env.serve(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if strings.Contains(buf.String(), "request completed") {
		t.Errorf("probe request logged at info: %s", buf.String())
	}

	env.serve(httptest.NewRequest(http.MethodGet, "/api/sessions/x", nil))
	out := buf.String()
	for _, want := range []string{"request completed", "route=/api/sessions/{id}", "status=200"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q: %s", want, out)
		}
	}
}
