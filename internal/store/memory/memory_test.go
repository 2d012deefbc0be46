package memory_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/store"
	"github.com/MrWong99/parley/internal/store/memory"
	"github.com/MrWong99/parley/internal/transcript"
)

func TestStore_SaveGetReplaces(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get(missing) err = %v; want ErrNotFound", err)
	}

	rec := store.Record{ID: "s1", UserID: "u1", Mode: "veritalk", StartedAt: time.Unix(100, 0)}
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	rec.Transcript = []transcript.Entry{{Role: transcript.RoleUser, Text: "hi.", Timestamp: 1}}
	rec.Report = &store.Report{OverallScore: 7}
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save again: %v", err)
	}

	got, err := s.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Transcript) != 1 || got.Report == nil || got.Report.OverallScore != 7 {
		t.Errorf("Get = %+v; want replaced record", got)
	}

	// Mutating the returned record must not alter the stored one.
	got.Transcript[0].Text = "changed"
	again, _ := s.Get(ctx, "s1")
	if again.Transcript[0].Text != "hi." {
		t.Error("stored transcript aliased caller slice")
	}
}

func TestStore_ListByUser(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()

	base := time.Unix(1_000_000, 0)
	for i := range 55 {
		_ = s.Save(ctx, store.Record{ID: fmt.Sprintf("s%d", i), UserID: "u1", StartedAt: base.Add(time.Duration(i) * time.Minute)})
	}
	_ = s.Save(ctx, store.Record{
		ID: "other", UserID: "u2", StartedAt: base,
		VoiceName: "Kore",
		Report: &store.Report{
			DurationSeconds: 90, OverallScore: 8,
			SocialShareTexts: &store.ShareTexts{PerformanceCardSummary: "Nailed it"},
		},
	})

	list, err := s.ListByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(list) != store.MaxSummaries {
		t.Fatalf("len = %d; want %d", len(list), store.MaxSummaries)
	}
	if list[0].ID != "s54" {
		t.Errorf("first = %s; want newest s54", list[0].ID)
	}
	if list[0].VoiceName != store.DefaultVoiceName {
		t.Errorf("VoiceName = %q; want default", list[0].VoiceName)
	}

	other, _ := s.ListByUser(ctx, "u2")
	if len(other) != 1 {
		t.Fatalf("u2 len = %d; want 1", len(other))
	}
	want := store.Summary{
		ID: "other", UserID: "u2", StartedAt: base, DurationSeconds: 90,
		OverallScore: 8, PreviewText: "Nailed it", VoiceName: "Kore",
	}
	if other[0] != want {
		t.Errorf("summary = %+v; want %+v", other[0], want)
	}

	none, err := s.ListByUser(ctx, "nobody")
	if err != nil || none == nil || len(none) != 0 {
		t.Errorf("ListByUser(nobody) = %v, %v; want empty non-nil", none, err)
	}
}

func TestStore_Profiles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()

	if _, err := s.GetProfile(ctx, "u1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetProfile err = %v; want ErrNotFound", err)
	}
	if err := s.SaveProfile(ctx, store.Profile{UserID: "u1", CoachingNotes: "- pace"}); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
	p, err := s.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if p.CoachingNotes != "- pace" || p.LastUpdated.IsZero() {
		t.Errorf("profile = %+v", p)
	}
}

func TestStore_Presets(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()

	first, err := s.SavePreset(ctx, store.Preset{UserID: "u1", PresetName: "Acme", LastUsedAt: time.Unix(10, 0)})
	if err != nil {
		t.Fatalf("SavePreset: %v", err)
	}
	if first.ID == "" {
		t.Fatal("SavePreset should assign an id")
	}
	second, _ := s.SavePreset(ctx, store.Preset{UserID: "u1", PresetName: "Globex", LastUsedAt: time.Unix(20, 0)})
	_, _ = s.SavePreset(ctx, store.Preset{UserID: "u2", PresetName: "Initech"})

	list, err := s.ListPresets(ctx, "u1")
	if err != nil {
		t.Fatalf("ListPresets: %v", err)
	}
	if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
		t.Errorf("ListPresets = %+v; want Globex then Acme", list)
	}

	// Saving with an existing id replaces the preset.
	first.LastUsedAt = time.Unix(30, 0)
	_, _ = s.SavePreset(ctx, first)
	list, _ = s.ListPresets(ctx, "u1")
	if len(list) != 2 || list[0].ID != first.ID {
		t.Errorf("after touch = %+v; want Acme first", list)
	}
}

func TestFromDocument_NilMaps(t *testing.T) {
	t.Parallel()
	s := memory.FromDocument(memory.Document{})
	if err := s.Save(context.Background(), store.Record{ID: "x"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if len(s.Document().Sessions) != 1 {
		t.Error("expected one session in document")
	}
}
