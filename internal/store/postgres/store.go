package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/parley/internal/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store is a PostgreSQL implementation of [store.Store] holding a single
// [pgxpool.Pool]. All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New parses dsn, opens a connection pool, verifies connectivity and runs
// [Migrate].
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Save implements [store.Store.Save] as an upsert on the session id.
func (s *Store) Save(ctx context.Context, r store.Record) error {
	transcriptJSON, err := json.Marshal(nonNil(r.Transcript))
	if err != nil {
		return fmt.Errorf("postgres store: marshal transcript: %w", err)
	}
	metricsJSON, err := json.Marshal(nonNil(r.Metrics))
	if err != nil {
		return fmt.Errorf("postgres store: marshal metrics: %w", err)
	}
	var reportJSON []byte
	if r.Report != nil {
		if reportJSON, err = json.Marshal(r.Report); err != nil {
			return fmt.Errorf("postgres store: marshal report: %w", err)
		}
	}

	sum := store.Summarize(r)
	const q = `
		INSERT INTO sessions
		    (id, user_id, mode, started_at, voice_name, transcript, metrics, report,
		     duration_seconds, overall_score, preview_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
		    user_id          = EXCLUDED.user_id,
		    mode             = EXCLUDED.mode,
		    started_at       = EXCLUDED.started_at,
		    voice_name       = EXCLUDED.voice_name,
		    transcript       = EXCLUDED.transcript,
		    metrics          = EXCLUDED.metrics,
		    report           = EXCLUDED.report,
		    duration_seconds = EXCLUDED.duration_seconds,
		    overall_score    = EXCLUDED.overall_score,
		    preview_text     = EXCLUDED.preview_text`

	_, err = s.pool.Exec(ctx, q,
		r.ID, r.UserID, r.Mode, r.StartedAt, r.VoiceName,
		transcriptJSON, metricsJSON, reportJSON,
		sum.DurationSeconds, sum.OverallScore, sum.PreviewText,
	)
	if err != nil {
		return fmt.Errorf("postgres store: save session: %w", err)
	}
	return nil
}

// Get implements [store.Store.Get].
func (s *Store) Get(ctx context.Context, id string) (store.Record, error) {
	const q = `
		SELECT id, user_id, mode, started_at, voice_name, transcript, metrics, report
		FROM   sessions
		WHERE  id = $1`

	var (
		r                           store.Record
		transcriptJSON, metricsJSON []byte
		reportJSON                  []byte
	)
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&r.ID, &r.UserID, &r.Mode, &r.StartedAt, &r.VoiceName,
		&transcriptJSON, &metricsJSON, &reportJSON,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, fmt.Errorf("postgres store: get session: %w", err)
	}

	if err := json.Unmarshal(transcriptJSON, &r.Transcript); err != nil {
		return store.Record{}, fmt.Errorf("postgres store: decode transcript: %w", err)
	}
	if err := json.Unmarshal(metricsJSON, &r.Metrics); err != nil {
		return store.Record{}, fmt.Errorf("postgres store: decode metrics: %w", err)
	}
	if len(reportJSON) > 0 {
		r.Report = new(store.Report)
		if err := json.Unmarshal(reportJSON, r.Report); err != nil {
			return store.Record{}, fmt.Errorf("postgres store: decode report: %w", err)
		}
	}
	return r, nil
}

// ListByUser implements [store.Store.ListByUser].
func (s *Store) ListByUser(ctx context.Context, userID string) ([]store.Summary, error) {
	const q = `
		SELECT id, user_id, mode, started_at, duration_seconds, overall_score,
		       preview_text, voice_name
		FROM   sessions
		WHERE  user_id = $1
		ORDER  BY started_at DESC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, userID, store.MaxSummaries)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list sessions: %w", err)
	}
	defer rows.Close()

	out := make([]store.Summary, 0)
	for rows.Next() {
		var sum store.Summary
		if err := rows.Scan(&sum.ID, &sum.UserID, &sum.Mode, &sum.StartedAt,
			&sum.DurationSeconds, &sum.OverallScore, &sum.PreviewText, &sum.VoiceName); err != nil {
			return nil, fmt.Errorf("postgres store: scan summary: %w", err)
		}
		if sum.VoiceName == "" {
			sum.VoiceName = store.DefaultVoiceName
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: list sessions: %w", err)
	}
	return out, nil
}

// GetProfile implements [store.Store.GetProfile].
func (s *Store) GetProfile(ctx context.Context, userID string) (store.Profile, error) {
	const q = `
		SELECT user_id, factual_summary, coaching_notes, last_updated
		FROM   profiles
		WHERE  user_id = $1`

	var p store.Profile
	err := s.pool.QueryRow(ctx, q, userID).Scan(&p.UserID, &p.FactualSummary, &p.CoachingNotes, &p.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Profile{}, store.ErrNotFound
	}
	if err != nil {
		return store.Profile{}, fmt.Errorf("postgres store: get profile: %w", err)
	}
	return p, nil
}

// SaveProfile implements [store.Store.SaveProfile].
func (s *Store) SaveProfile(ctx context.Context, p store.Profile) error {
	if p.LastUpdated.IsZero() {
		p.LastUpdated = time.Now()
	}
	const q = `
		INSERT INTO profiles (user_id, factual_summary, coaching_notes, last_updated)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
		    factual_summary = EXCLUDED.factual_summary,
		    coaching_notes  = EXCLUDED.coaching_notes,
		    last_updated    = EXCLUDED.last_updated`

	if _, err := s.pool.Exec(ctx, q, p.UserID, p.FactualSummary, p.CoachingNotes, p.LastUpdated); err != nil {
		return fmt.Errorf("postgres store: save profile: %w", err)
	}
	return nil
}

// ListPresets implements [store.Store.ListPresets].
func (s *Store) ListPresets(ctx context.Context, userID string) ([]store.Preset, error) {
	const q = `
		SELECT id, user_id, preset_name, organization, role, background, last_used_at
		FROM   presets
		WHERE  user_id = $1
		ORDER  BY last_used_at DESC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, userID, store.MaxPresets)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list presets: %w", err)
	}
	defer rows.Close()

	out := make([]store.Preset, 0)
	for rows.Next() {
		var p store.Preset
		if err := rows.Scan(&p.ID, &p.UserID, &p.PresetName, &p.Organization, &p.Role, &p.Background, &p.LastUsedAt); err != nil {
			return nil, fmt.Errorf("postgres store: scan preset: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: list presets: %w", err)
	}
	return out, nil
}

// SavePreset implements [store.Store.SavePreset].
func (s *Store) SavePreset(ctx context.Context, p store.Preset) (store.Preset, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.LastUsedAt.IsZero() {
		p.LastUsedAt = time.Now()
	}
	const q = `
		INSERT INTO presets (id, user_id, preset_name, organization, role, background, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
		    user_id      = EXCLUDED.user_id,
		    preset_name  = EXCLUDED.preset_name,
		    organization = EXCLUDED.organization,
		    role         = EXCLUDED.role,
		    background   = EXCLUDED.background,
		    last_used_at = EXCLUDED.last_used_at`

	if _, err := s.pool.Exec(ctx, q, p.ID, p.UserID, p.PresetName, p.Organization, p.Role, p.Background, p.LastUsedAt); err != nil {
		return store.Preset{}, fmt.Errorf("postgres store: save preset: %w", err)
	}
	return p, nil
}

// Ping implements [store.Store.Ping].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
