package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/prdesk/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "data", "prdesk.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func TestProfileOwnerFallsBackToShared(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	shared := &domain.Profile{ID: "acme", Name: "Acme", Facts: map[string]any{"industry": "logistics"}}
	if err := s.UpsertProfile(ctx, shared); err != nil {
		t.Fatalf("UpsertProfile shared: %v", err)
	}

	got, err := s.GetProfile(ctx, "owner-1", "acme")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if got == nil || !got.IsShared() || got.Facts["industry"] != "logistics" {
		t.Fatalf("expected shared profile, got %+v", got)
	}

	own := &domain.Profile{ID: "acme", OwnerID: "owner-1", Name: "Acme EU", Facts: map[string]any{"industry": "retail"}}
	if err := s.UpsertProfile(ctx, own); err != nil {
		t.Fatalf("UpsertProfile owned: %v", err)
	}

	got, err = s.GetProfile(ctx, "owner-1", "acme")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if got.OwnerID != "owner-1" || got.Name != "Acme EU" {
		t.Fatalf("expected owner profile to win, got %+v", got)
	}

	got, err = s.GetProfile(ctx, "owner-2", "acme")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if got == nil || got.Name != "Acme" {
		t.Fatalf("expected other owner to see shared profile, got %+v", got)
	}
}

func TestGetProfileMissing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetProfile(context.Background(), "owner-1", "nope")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestUpsertProfileUpdates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	p := &domain.Profile{ID: "p1", OwnerID: "owner-1", Name: "First"}
	if err := s.UpsertProfile(ctx, p); err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}
	p.Name = "Second"
	p.Facts = map[string]any{"goals": []any{"grow"}}
	if err := s.UpsertProfile(ctx, p); err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}

	list, err := s.ListProfiles(ctx, "owner-1")
	if err != nil {
		t.Fatalf("ListProfiles: %v", err)
	}
	if len(list) != 1 || list[0].Name != "Second" {
		t.Fatalf("expected one updated profile, got %+v", list)
	}
	if seed := list[0].Seed(); len(seed.Goals) != 1 || seed.Goals[0] != "grow" {
		t.Fatalf("expected goals to round-trip, got %+v", seed.Goals)
	}
}

func TestListProfilesOrdersOwnerFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, p := range []*domain.Profile{
		{ID: "a-shared", Name: "Shared"},
		{ID: "z-own", OwnerID: "owner-1", Name: "Own"},
		{ID: "other", OwnerID: "owner-2", Name: "Other"},
	} {
		if err := s.UpsertProfile(ctx, p); err != nil {
			t.Fatalf("UpsertProfile: %v", err)
		}
	}

	list, err := s.ListProfiles(ctx, "owner-1")
	if err != nil {
		t.Fatalf("ListProfiles: %v", err)
	}
	if len(list) != 2 || list[0].ID != "z-own" || list[1].ID != "a-shared" {
		t.Fatalf("unexpected profiles: %+v", list)
	}
}

func TestArtifactArchive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	first := domain.Artifact{
		OwnerID: "owner-1", SessionID: "s1", Seq: 1, Type: "feature", Title: "Login",
		GeneratedContent: map[string]any{"steps": []any{"a", "b"}},
		Metadata:         map[string]any{"priority": "high"},
		CreatedAt:        base,
	}
	second := domain.Artifact{OwnerID: "owner-1", SessionID: "s1", Seq: 2, Type: "epic", Title: "Billing", CreatedAt: base.Add(time.Minute)}
	foreign := domain.Artifact{OwnerID: "owner-2", SessionID: "s2", Seq: 1, Type: "feature", CreatedAt: base}

	for _, a := range []domain.Artifact{first, second, foreign, first} {
		if err := s.SaveArtifact(ctx, a); err != nil {
			t.Fatalf("SaveArtifact: %v", err)
		}
	}

	got, err := s.ListArtifacts(ctx, "owner-1", 10)
	if err != nil {
		t.Fatalf("ListArtifacts: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(got))
	}
	if got[0].Title != "Billing" || got[1].Title != "Login" {
		t.Fatalf("expected newest first, got %q, %q", got[0].Title, got[1].Title)
	}
	content, ok := got[1].GeneratedContent.(map[string]any)
	if !ok || len(content["steps"].([]any)) != 2 {
		t.Fatalf("content did not round-trip: %#v", got[1].GeneratedContent)
	}
	if got[1].Metadata["priority"] != "high" {
		t.Fatalf("metadata did not round-trip: %#v", got[1].Metadata)
	}
	if !got[1].CreatedAt.Equal(base) {
		t.Fatalf("created_at did not round-trip: %v", got[1].CreatedAt)
	}

	limited, err := s.ListArtifacts(ctx, "owner-1", 1)
	if err != nil {
		t.Fatalf("ListArtifacts: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
}

func TestLoadProfileSeed(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	path := filepath.Join(t.TempDir(), "profiles.yaml")
	seed := `profiles:
  - id: acme
    name: Acme Corp
    facts:
      industry: logistics
      goals: [faster onboarding, fewer tickets]
  - id: private
    owner: owner-1
    name: Private Co
`
	if err := os.WriteFile(path, []byte(seed), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	n, err := LoadProfileSeed(ctx, s, path)
	if err != nil {
		t.Fatalf("LoadProfileSeed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 profiles, got %d", n)
	}

	acme, err := s.GetProfile(ctx, "owner-9", "acme")
	if err != nil || acme == nil {
		t.Fatalf("GetProfile acme: %v %+v", err, acme)
	}
	c := acme.Seed()
	if c.CompanyName != "Acme Corp" || c.Industry != "logistics" || len(c.Goals) != 2 {
		t.Fatalf("unexpected seeded context: %+v", c)
	}

	if p, _ := s.GetProfile(ctx, "owner-9", "private"); p != nil {
		t.Fatalf("private profile leaked to another owner: %+v", p)
	}
}

func TestLoadProfileSeedMissingFile(t *testing.T) {
	s := newTestStore(t)
	n, err := LoadProfileSeed(context.Background(), s, filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil || n != 0 {
		t.Fatalf("expected no-op, got n=%d err=%v", n, err)
	}
}
