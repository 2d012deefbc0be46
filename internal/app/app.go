// Package app wires all Parley subsystems into a running server.
//
// The App struct owns the full lifecycle: New builds the store, the mode
// registry, the analysis components and the HTTP surface, Run serves until
// its context is cancelled, and Shutdown tears everything down in order.
//
// For testing, inject implementations via functional options (WithStore,
// WithMetrics, ...). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/parley/internal/analytics"
	"github.com/MrWong99/parley/internal/api"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/insight"
	"github.com/MrWong99/parley/internal/mode"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/prompt"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/internal/store"
	"github.com/MrWong99/parley/internal/store/file"
	"github.com/MrWong99/parley/internal/store/memory"
	"github.com/MrWong99/parley/internal/store/postgres"
	"github.com/MrWong99/parley/internal/store/rediscache"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/s2s"
)

// readHeaderTimeout bounds the request header read of every connection.
const readHeaderTimeout = 10 * time.Second

// Providers holds one interface value per provider slot. Populated by
// main.go via the config registry.
type Providers struct {
	// Upstream is the live voice model. Required.
	Upstream s2s.Provider

	// Analysis scores sessions, updates profiles and classifies tone. Nil
	// leaves fallback reports and disables tone analysis and profiles.
	Analysis llm.Provider
}

// App owns all subsystem lifetimes of the bridge.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	store          store.Store
	modes          *mode.Registry
	prompts        *prompt.Loader
	sessions       *SessionManager
	health         *health.Handler
	metrics        *observe.Metrics
	metricsHandler http.Handler
	logLevel       *slog.LevelVar
	handler        http.Handler
	server         *http.Server

	voices atomic.Pointer[[]string]

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a store instead of creating one from config. The caller
// keeps ownership; Shutdown does not close it.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects the instruments used by every subsystem.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogLevel lets [App.ApplyConfig] change the level of the process logger.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Upstream == nil {
		return nil, errors.New("app: upstream provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Store ─────────────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Modes, prompts and voices ─────────────────────────────────────
	modes, err := mode.NewRegistry(cfg.ModeDefinitions())
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init modes: %w", err)
	}
	a.modes = modes
	a.prompts = prompt.NewLoader(cfg.Prompts.Dir)
	voices := slices.Clone(cfg.Voices)
	a.voices.Store(&voices)

	// ── 3. Sessions ──────────────────────────────────────────────────────
	a.sessions = NewSessionManager()

	// ── 4. HTTP surface ──────────────────────────────────────────────────
	checks := []health.Checker{health.PingChecker("store", a.store)}
	if p, ok := a.providers.Analysis.(health.Pinger); ok {
		checks = append(checks, health.OptionalPingChecker("analysis", p))
	}
	a.health = health.New(checks...)
	a.handler = api.New(api.Config{
		Store:           a.store,
		Modes:           a.modes,
		Prompts:         a.prompts,
		Voices:          a.currentVoices,
		SessionDefaults: a.sessionDefaults(),
		Sessions:        a.sessions,
		Health:          a.health,
		Metrics:         a.metrics,
		MetricsHandler:  a.metricsHandler,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		ReadLimit:       cfg.Server.ReadLimit,
	})
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the configured backend unless one was injected, and puts
// the Redis cache in front of it when enabled.
func (a *App) initStore(ctx context.Context) error {
	owned := a.store == nil
	if owned {
		var (
			st  store.Store
			err error
		)
		switch a.cfg.Store.Backend {
		case config.StoreFile:
			st, err = file.Open(a.cfg.Store.Path)
		case config.StorePostgres:
			st, err = postgres.New(ctx, a.cfg.Store.PostgresDSN)
		default:
			st = memory.New()
		}
		if err != nil {
			return err
		}
		a.store = st
		slog.Info("store opened", "backend", a.cfg.Store.Backend)
	}

	if !a.cfg.Cache.Enabled() {
		if owned {
			a.closers = append(a.closers, a.store.Close)
		}
		return nil
	}

	client, err := rediscache.Dial(ctx, a.cfg.Cache.RedisURL)
	if err != nil {
		if owned {
			_ = a.store.Close()
		}
		return err
	}
	cacheOpts := []rediscache.Option{
		rediscache.WithMetrics(a.metrics),
		rediscache.WithTTL(a.cfg.Cache.TTL),
	}
	if a.cfg.Cache.Prefix != "" {
		cacheOpts = append(cacheOpts, rediscache.WithPrefix(a.cfg.Cache.Prefix))
	}
	if owned {
		// The decorator then closes the backend and the client.
		cacheOpts = append(cacheOpts, rediscache.WithCloser(client.Close))
	}
	cached := rediscache.New(a.store, client, cacheOpts...)
	a.store = cached
	if owned {
		a.closers = append(a.closers, cached.Close)
	} else {
		a.closers = append(a.closers, client.Close)
	}
	slog.Info("redis cache enabled", "addr", client.Options().Addr)
	return nil
}

// sessionDefaults builds the per-session settings shared by every
// connection.
func (a *App) sessionDefaults() session.Config {
	sc := a.cfg.Session
	analysis := a.providers.Analysis

	cfg := session.Config{
		Upstream:           a.providers.Upstream,
		Store:              a.store,
		Reporter:           insight.NewReporter(analysis, insight.WithMetrics(a.metrics)),
		Metrics:            a.metrics,
		MaxDuration:        sc.MaxDuration,
		UserThreshold:      sc.UserFlushWords,
		AssistantThreshold: sc.AssistantFlushWords,
		Retry: session.RetryPolicy{
			Attempts: sc.ConnectAttempts,
			Backoff:  sc.ConnectBackoff,
		},
		FinalizeTimeout: sc.FinalizeTimeout,
	}
	if sc.ToneInterval > 0 {
		cfg.ToneOptions = append(cfg.ToneOptions, analytics.WithToneInterval(sc.ToneInterval))
	}
	if sc.ToneMinWords > 0 {
		cfg.ToneOptions = append(cfg.ToneOptions, analytics.WithToneMinWords(sc.ToneMinWords))
	}
	if sc.ToneTextLimit > 0 {
		cfg.ToneOptions = append(cfg.ToneOptions, analytics.WithToneTextLimit(sc.ToneTextLimit))
	}
	if analysis != nil {
		cfg.Profiler = insight.NewProfiler(analysis, a.store, insight.WithMetrics(a.metrics))
		cfg.Classifier = insight.NewToneClassifier(analysis, insight.WithMetrics(a.metrics))
	}
	return cfg
}

func (a *App) currentVoices() []string {
	return *a.voices.Load()
}

// Handler returns the HTTP handler of the app.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the live session tracker.
func (a *App) Sessions() *SessionManager { return a.sessions }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on the configured address and serves until ctx is cancelled or
// the server fails. Call Shutdown afterwards to drain sessions.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		tls := a.cfg.Server.TLS
		if tls.Enabled() {
			errCh <- a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- a.server.Serve(ln)
	}()

	slog.Info("app running",
		"addr", ln.Addr().String(),
		"tls", a.cfg.Server.TLS.Enabled(),
		"modes", len(a.modes.List()),
	)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of cfg: modes, voices and the
// log level. Live sessions keep the settings they started with.
func (a *App) ApplyConfig(d config.ConfigDiff, cfg *config.Config) {
	if d.ModesChanged {
		if err := a.modes.Replace(cfg.ModeDefinitions()); err != nil {
			slog.Warn("mode reload rejected", "err", err)
		} else {
			slog.Info("modes reloaded", "changes", len(d.ModeChanges))
		}
	}
	if d.VoicesChanged {
		voices := slices.Clone(cfg.Voices)
		a.voices.Store(&voices)
		slog.Info("voices reloaded", "count", len(voices))
	}
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
}

// SlogLevel converts a config log level to its slog equivalent.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown drains the server. Readiness fails first, then the listener stops
// accepting connections, then live sessions are ended and their reports
// saved, and finally the closers run in order. It respects the context
// deadline: if ctx expires, remaining steps are skipped and the context error
// is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.sessions.Count(), "closers", len(a.closers))

		a.health.SetDraining()

		// Hijacked websocket connections are not tracked by the server, so
		// this returns once plain requests are done.
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
		}

		if err := a.sessions.Shutdown(ctx); err != nil {
			shutdownErr = err
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers registered so far. Used when New fails halfway.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}
