package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/parley/internal/analytics"
	"github.com/MrWong99/parley/internal/store"
	"github.com/MrWong99/parley/internal/store/postgres"
	"github.com/MrWong99/parley/internal/transcript"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if PARLEY_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("PARLEY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PARLEY_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] on a clean schema and closes
// it when the test finishes.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	for _, tbl := range []string{"sessions", "profiles", "presets"} {
		if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS "+tbl+" CASCADE"); err != nil {
			t.Fatalf("drop %s: %v", tbl, err)
		}
	}
	pool.Close()

	st, err := postgres.New(ctx, dsn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// The tests below share one database and therefore do not run in parallel.

func TestStore_SessionRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.Get(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get(missing) err = %v; want ErrNotFound", err)
	}

	started := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	rec := store.Record{
		ID: "s1", UserID: "u1", Mode: "veritalk", StartedAt: started, VoiceName: "Puck",
		Transcript: []transcript.Entry{{Role: transcript.RoleUser, Text: "Is that so?", Timestamp: 3}},
		Metrics:    []analytics.Snapshot{{WordsPerMinute: 120, FillerWords: map[string]int{"so": 1}}},
	}
	if err := st.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := st.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Report != nil {
		t.Error("Report should be nil before a report is attached")
	}
	if len(got.Transcript) != 1 || got.Transcript[0].Text != "Is that so?" {
		t.Errorf("transcript = %+v", got.Transcript)
	}
	if len(got.Metrics) != 1 || got.Metrics[0].FillerWords["so"] != 1 {
		t.Errorf("metrics = %+v", got.Metrics)
	}

	rec.Report = &store.Report{
		SessionID: "s1", DurationSeconds: 61, OverallScore: 7,
		SocialShareTexts: &store.ShareTexts{PerformanceCardSummary: "Sharp rebuttals"},
	}
	if err := st.Save(ctx, rec); err != nil {
		t.Fatalf("Save with report: %v", err)
	}

	list, err := st.ListByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("len = %d; want 1 (save must replace)", len(list))
	}
	if list[0].OverallScore != 7 || list[0].DurationSeconds != 61 || list[0].PreviewText != "Sharp rebuttals" {
		t.Errorf("summary = %+v", list[0])
	}
}

func TestStore_ProfilesAndPresets(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.GetProfile(ctx, "u1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetProfile err = %v; want ErrNotFound", err)
	}
	if err := st.SaveProfile(ctx, store.Profile{UserID: "u1", FactualSummary: "Engineer"}); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
	if err := st.SaveProfile(ctx, store.Profile{UserID: "u1", FactualSummary: "Staff engineer"}); err != nil {
		t.Fatalf("SaveProfile update: %v", err)
	}
	p, err := st.GetProfile(ctx, "u1")
	if err != nil || p.FactualSummary != "Staff engineer" {
		t.Errorf("profile = %+v, %v", p, err)
	}

	old, err := st.SavePreset(ctx, store.Preset{UserID: "u1", PresetName: "Acme", LastUsedAt: time.Unix(100, 0)})
	if err != nil {
		t.Fatalf("SavePreset: %v", err)
	}
	recent, _ := st.SavePreset(ctx, store.Preset{UserID: "u1", PresetName: "Globex", LastUsedAt: time.Unix(200, 0)})
	presets, err := st.ListPresets(ctx, "u1")
	if err != nil {
		t.Fatalf("ListPresets: %v", err)
	}
	if len(presets) != 2 || presets[0].ID != recent.ID || presets[1].ID != old.ID {
		t.Errorf("presets = %+v", presets)
	}
	if err := st.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
