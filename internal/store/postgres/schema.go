// Package postgres provides a PostgreSQL-backed [store.Store].
//
// Session records are stored one row per session with the transcript, the
// metric snapshots and the report as JSONB columns. Listing columns
// (duration, score, preview) are denormalised at save time so that
// [Store.ListByUser] never has to decode a report.
//
// Usage:
//
//	st, err := postgres.New(ctx, dsn)
//	if err != nil { … }
//	defer st.Close()
//	_ = st.Save(ctx, record)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    id               TEXT         PRIMARY KEY,
    user_id          TEXT         NOT NULL,
    mode             TEXT         NOT NULL,
    started_at       TIMESTAMPTZ  NOT NULL,
    voice_name       TEXT         NOT NULL DEFAULT '',
    transcript       JSONB        NOT NULL DEFAULT '[]',
    metrics          JSONB        NOT NULL DEFAULT '[]',
    report           JSONB,
    duration_seconds INTEGER      NOT NULL DEFAULT 0,
    overall_score    INTEGER      NOT NULL DEFAULT 0,
    preview_text     TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_sessions_user_started
    ON sessions (user_id, started_at DESC);
`

const ddlProfiles = `
CREATE TABLE IF NOT EXISTS profiles (
    user_id          TEXT         PRIMARY KEY,
    factual_summary  TEXT         NOT NULL DEFAULT '',
    coaching_notes   TEXT         NOT NULL DEFAULT '',
    last_updated     TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlPresets = `
CREATE TABLE IF NOT EXISTS presets (
    id               TEXT         PRIMARY KEY,
    user_id          TEXT         NOT NULL,
    preset_name      TEXT         NOT NULL,
    organization     TEXT         NOT NULL DEFAULT '',
    role             TEXT         NOT NULL DEFAULT '',
    background       TEXT         NOT NULL DEFAULT '',
    last_used_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_presets_user_last_used
    ON presets (user_id, last_used_at DESC);
`

// Migrate creates all required tables and indexes. It is idempotent
// (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS) and safe to call
// on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlSessions, ddlProfiles, ddlPresets} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
