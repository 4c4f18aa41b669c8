package user

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/notepid/twilight_dm/internal/db"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	bcryptCost = bcrypt.MinCost

	d, err := db.Open(filepath.Join(t.TempDir(), "dm.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return NewRepo(d.DB)
}

func TestCreateAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)

	u, err := r.Create(ctx, "alice", "secret1", "Alice A.")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if u.ID == "" {
		t.Fatalf("expected generated id")
	}

	got, err := r.Authenticate(ctx, "ALICE", "secret1")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("expected id %s, got %s", u.ID, got.ID)
	}

	if _, err := r.Authenticate(ctx, "alice", "wrong"); err == nil {
		t.Fatalf("expected bad password to fail")
	}
	if _, err := r.Authenticate(ctx, "nobody", "secret1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}
}

func TestCreateDuplicateUsername(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)

	if _, err := r.Create(ctx, "bob", "pw1234", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := r.Create(ctx, "Bob", "pw1234", ""); err == nil {
		t.Fatalf("expected case-insensitive duplicate to fail")
	}
	if !r.Exists(ctx, "BOB") {
		t.Fatalf("expected Exists to be case-insensitive")
	}
}

func TestLookupProfilesSkipsMissing(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)

	a, _ := r.Create(ctx, "alice", "pw1234", "Alice")
	b, _ := r.Create(ctx, "bob", "pw1234", "")

	profiles, err := r.LookupProfiles(ctx, []string{a.ID, b.ID, "ghost"})
	if err != nil {
		t.Fatalf("LookupProfiles: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}
	if profiles[a.ID].Name() != "Alice" {
		t.Fatalf("expected display name Alice, got %q", profiles[a.ID].Name())
	}
	if profiles[b.ID].Name() != "bob" {
		t.Fatalf("expected username fallback bob, got %q", profiles[b.ID].Name())
	}
	if _, ok := profiles["ghost"]; ok {
		t.Fatalf("expected unknown id to be absent")
	}

	empty, err := r.LookupProfiles(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty result for no ids, got %v %v", empty, err)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)

	u, _ := r.Create(ctx, "carol", "pw1234", "")
	if err := r.UpdateDisplayName(ctx, u.ID, "Carol C."); err != nil {
		t.Fatalf("UpdateDisplayName: %v", err)
	}
	if err := r.UpdatePassword(ctx, u.ID, "newpass"); err != nil {
		t.Fatalf("UpdatePassword: %v", err)
	}
	if _, err := r.Authenticate(ctx, "carol", "newpass"); err != nil {
		t.Fatalf("expected new password to work: %v", err)
	}
	if err := r.Delete(ctx, u.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := r.Delete(ctx, u.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}

	users, err := r.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(users) != 0 {
		t.Fatalf("expected no users, got %d", len(users))
	}
}
