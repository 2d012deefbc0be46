// Package api serves the HTTP surface of the bridge: the client WebSocket,
// the session history and share-link endpoints, profiles, presets and the
// operational endpoints.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/mode"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/prompt"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/internal/store"
)

// SessionRunner runs a live session to completion. The app's session manager
// implements it.
type SessionRunner interface {
	Run(ctx context.Context, s *session.Session, client session.ClientConn) error
}

// Config holds the dependencies of the router.
type Config struct {
	Store   store.Store
	Modes   *mode.Registry
	Prompts *prompt.Loader

	// Voices returns the current voice pool. It is called once per
	// connection so reloads apply to new sessions.
	Voices func() []string

	// SessionDefaults is copied into every new session. Per-connection
	// fields (ID, UserID, Mode, VoiceName, Instructions) are overwritten.
	SessionDefaults session.Config

	Sessions SessionRunner

	// Health is optional. When set, /healthz and /readyz are served.
	Health *health.Handler

	Metrics *observe.Metrics

	// MetricsHandler is optional. When set, it is served at /metrics.
	MetricsHandler http.Handler

	// AllowedOrigins lists the host patterns accepted for cross-origin
	// WebSocket upgrades. Same-origin requests are always accepted.
	AllowedOrigins []string

	// ReadLimit bounds a single client frame. Zero keeps the library default.
	ReadLimit int64
}

type handler struct {
	cfg     Config
	metrics *observe.Metrics
}

// New returns the HTTP handler of the bridge.
func New(cfg Config) http.Handler {
	h := &handler{cfg: cfg, metrics: cfg.Metrics}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	if h.cfg.Voices == nil {
		h.cfg.Voices = func() []string { return nil }
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(observe.Middleware(h.metrics))

	if cfg.Health != nil {
		cfg.Health.Register(r)
	}
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	r.Get("/ws", h.serveWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/modes", h.listModes)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", h.listSessions)
			r.Get("/{id}", h.getSession)
			r.Get("/{id}/report", h.getReport)
			r.Get("/{id}/share", h.getShareKeys)
		})
		r.Get("/share/{id}/{key}", h.getShared)

		r.Get("/profiles/{userId}", h.getProfile)

		r.Get("/presets", h.listPresets)
		r.Post("/presets", h.savePreset)
	})

	return r
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
