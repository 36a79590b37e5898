package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/tidepool/internal/auth"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func putTestUser(t *testing.T, store *Store, id string) auth.User {
	t.Helper()
	user := auth.User{
		ID:        id,
		Name:      "Ada",
		Email:     id + "@example.com",
		CreatedAt: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	if err := store.PutUser(context.Background(), user); err != nil {
		t.Fatalf("put user: %v", err)
	}
	return user
}

func TestUserPutGet(t *testing.T) {
	store := openTestStore(t)
	user := putTestUser(t, store, "user-1")

	loaded, err := store.GetUser(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if loaded.Name != user.Name || loaded.Email != user.Email {
		t.Fatalf("expected %+v, got %+v", user, loaded)
	}
	if !loaded.CreatedAt.Equal(user.CreatedAt) {
		t.Fatalf("expected created_at %v, got %v", user.CreatedAt, loaded.CreatedAt)
	}

	byEmail, err := store.GetUserByEmail(context.Background(), user.Email)
	if err != nil {
		t.Fatalf("get user by email: %v", err)
	}
	if byEmail.ID != user.ID {
		t.Fatalf("expected id %q, got %q", user.ID, byEmail.ID)
	}

	if _, err := store.GetUser(context.Background(), "missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	store := openTestStore(t)
	user := putTestUser(t, store, "user-1")
	ctx := context.Background()

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	session := auth.Session{
		ID:        "sess-1",
		UserID:    user.ID,
		TokenHash: "hash-a",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	if err := store.PutSession(ctx, session); err != nil {
		t.Fatalf("put session: %v", err)
	}

	loaded, err := store.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if loaded.TokenHash != "hash-a" || loaded.UserID != user.ID {
		t.Fatalf("expected session %+v, got %+v", session, loaded)
	}
	if !loaded.Live(now) {
		t.Fatal("expected fresh session to be live")
	}
	if loaded.Live(now.Add(2 * time.Hour)) {
		t.Fatal("expected expired session to not be live")
	}

	rotatedExpiry := now.Add(3 * time.Hour)
	if err := store.UpdateSessionToken(ctx, session.ID, "hash-b", rotatedExpiry); err != nil {
		t.Fatalf("update session token: %v", err)
	}
	loaded, err = store.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("get session after rotate: %v", err)
	}
	if loaded.TokenHash != "hash-b" || !loaded.ExpiresAt.Equal(rotatedExpiry) {
		t.Fatalf("expected rotated hash and expiry, got %+v", loaded)
	}

	revokeAt := now.Add(time.Minute)
	if err := store.RevokeSession(ctx, session.ID, revokeAt); err != nil {
		t.Fatalf("revoke session: %v", err)
	}
	loaded, err = store.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("get session after revoke: %v", err)
	}
	if loaded.RevokedAt == nil || !loaded.RevokedAt.Equal(revokeAt) {
		t.Fatalf("expected revoked at %v, got %v", revokeAt, loaded.RevokedAt)
	}
	if loaded.Live(now.Add(2 * time.Minute)) {
		t.Fatal("expected revoked session to not be live")
	}

	// Revoking again keeps the first revocation time.
	if err := store.RevokeSession(ctx, session.ID, revokeAt.Add(time.Hour)); err != nil {
		t.Fatalf("revoke session twice: %v", err)
	}
	loaded, err = store.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !loaded.RevokedAt.Equal(revokeAt) {
		t.Fatalf("expected first revocation time kept, got %v", loaded.RevokedAt)
	}
}

func TestSessionNotFound(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.GetSession(ctx, "missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.RevokeSession(ctx, "missing", time.Now()); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.UpdateSessionToken(ctx, "missing", "h", time.Now()); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.db")
	first, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	putTestUser(t, first, "user-1")
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second, err := Open(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer second.Close()

	if _, err := second.GetUser(context.Background(), "user-1"); err != nil {
		t.Fatalf("get user after reopen: %v", err)
	}
}
