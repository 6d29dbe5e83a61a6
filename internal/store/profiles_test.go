package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lazypower/persona/internal/chat"
	"github.com/lazypower/persona/internal/profile"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newProfile(t *testing.T, userID, name string) *profile.Profile {
	t.Helper()
	p, err := profile.New(userID, name, "fitness", t0)
	if err != nil {
		t.Fatalf("profile.New: %v", err)
	}
	return p
}

func TestSaveLoadProfileRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	p := newProfile(t, "u1", "Coach")
	p.Data.Goals = []string{"run 10k"}
	if _, err := p.AddMemory(profile.MemoryInput{
		Type: profile.MemoryGoal, Content: "run 10k by summer", Source: profile.SourceInterview,
	}, t0); err != nil {
		t.Fatalf("AddMemory: %v", err)
	}

	if err := db.SaveProfile(ctx, p); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
	if p.Version != 1 {
		t.Errorf("Version after insert = %d, want 1", p.Version)
	}

	got, err := db.LoadProfile(ctx, p.ID)
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if got.Name != "Coach" || got.Version != 1 {
		t.Errorf("loaded = %+v", got)
	}
	if len(got.Memories) != 1 || got.Memories[0].Content != "run 10k by summer" {
		t.Errorf("memories = %+v", got.Memories)
	}
	if len(got.Data.Goals) != 1 {
		t.Errorf("goals = %v", got.Data.Goals)
	}
}

func TestLoadProfileNotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.LoadProfile(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveProfileVersionConflict(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	p := newProfile(t, "u1", "Coach")
	if err := db.SaveProfile(ctx, p); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}

	a, _ := db.LoadProfile(ctx, p.ID)
	b, _ := db.LoadProfile(ctx, p.ID)

	a.Stats.TotalMessages = 1
	if err := db.SaveProfile(ctx, a); err != nil {
		t.Fatalf("first writer: %v", err)
	}
	b.Stats.TotalMessages = 2
	if err := db.SaveProfile(ctx, b); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("second writer err = %v, want ErrVersionConflict", err)
	}
	if b.Version != 1 {
		t.Errorf("failed save must not advance version, got %d", b.Version)
	}

	got, _ := db.LoadProfile(ctx, p.ID)
	if got.Stats.TotalMessages != 1 || got.Version != 2 {
		t.Errorf("stored = messages %d version %d", got.Stats.TotalMessages, got.Version)
	}

	dup := newProfile(t, "u1", "Dup")
	dup.ID = p.ID
	if err := db.SaveProfile(ctx, dup); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("duplicate insert err = %v, want ErrVersionConflict", err)
	}
}

func TestSaveProfileMissingRow(t *testing.T) {
	db := openTestDB(t)
	p := newProfile(t, "u1", "Ghost")
	p.Version = 3
	if err := db.SaveProfile(context.Background(), p); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListProfiles(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for _, spec := range []struct{ user, name string }{{"u1", "A"}, {"u1", "B"}, {"u2", "C"}} {
		if err := db.SaveProfile(ctx, newProfile(t, spec.user, spec.name)); err != nil {
			t.Fatalf("SaveProfile: %v", err)
		}
	}

	mine, err := db.ListProfiles(ctx, "u1")
	if err != nil {
		t.Fatalf("ListProfiles: %v", err)
	}
	if len(mine) != 2 {
		t.Errorf("u1 profiles = %d, want 2", len(mine))
	}

	all, err := db.ListProfiles(ctx, "")
	if err != nil {
		t.Fatalf("ListProfiles all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all profiles = %d, want 3", len(all))
	}

	ids, err := db.ListProfileIDs(ctx)
	if err != nil {
		t.Fatalf("ListProfileIDs: %v", err)
	}
	if len(ids) != 3 {
		t.Errorf("ids = %d, want 3", len(ids))
	}
}

func TestDeleteProfileCascadesChats(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	p := newProfile(t, "u1", "Coach")
	if err := db.SaveProfile(ctx, p); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
	c := chat.New(p.ID, t0)
	if err := db.SaveChat(ctx, c); err != nil {
		t.Fatalf("SaveChat: %v", err)
	}

	if err := db.DeleteProfile(ctx, p.ID); err != nil {
		t.Fatalf("DeleteProfile: %v", err)
	}
	if _, err := db.LoadChat(ctx, c.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("chat after delete err = %v, want ErrNotFound", err)
	}
	if err := db.DeleteProfile(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}
