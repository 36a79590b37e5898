package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/tidepool/internal/auth"
	"github.com/louisbranch/tidepool/internal/auth/token"
	apperrors "github.com/louisbranch/tidepool/internal/errors"
	"github.com/louisbranch/tidepool/internal/platform/requestctx"
)

// memoryStore is an in-memory auth.UserStore and auth.SessionStore.
type memoryStore struct {
	mu       sync.Mutex
	users    map[string]auth.User
	sessions map[string]auth.Session
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users:    make(map[string]auth.User),
		sessions: make(map[string]auth.Session),
	}
}

func (m *memoryStore) PutUser(ctx context.Context, user auth.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
	return nil
}

func (m *memoryStore) GetUser(ctx context.Context, id string) (auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return user, nil
}

func (m *memoryStore) GetUserByEmail(ctx context.Context, email string) (auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Email == email {
			return user, nil
		}
	}
	return auth.User{}, auth.ErrNotFound
}

func (m *memoryStore) PutSession(ctx context.Context, session auth.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = session
	return nil
}

func (m *memoryStore) GetSession(ctx context.Context, id string) (auth.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return auth.Session{}, auth.ErrNotFound
	}
	return session, nil
}

func (m *memoryStore) UpdateSessionToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return auth.ErrNotFound
	}
	session.TokenHash = tokenHash
	session.ExpiresAt = expiresAt
	m.sessions[id] = session
	return nil
}

func (m *memoryStore) RevokeSession(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return auth.ErrNotFound
	}
	if session.RevokedAt == nil {
		session.RevokedAt = &at
	}
	m.sessions[id] = session
	return nil
}

type testEnv struct {
	service *Service
	store   *memoryStore
	now     *time.Time
}

func newTestEnv(t *testing.T, rotate bool) *testEnv {
	t.Helper()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	codec, err := token.NewCodec("test-secret", token.WithClock(clock))
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	store := newMemoryStore()
	service, err := New(Config{
		Users:                     store,
		Sessions:                  store,
		Codec:                     codec,
		SessionTTL:                time.Hour,
		RotateOnVerificationError: rotate,
	}, WithClock(clock))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &testEnv{service: service, store: store, now: &now}
}

func (e *testEnv) createUser(t *testing.T) auth.User {
	t.Helper()
	user, err := e.service.CreateUser(context.Background(), "Ada", "ada@example.com")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func TestIssueAndVerify(t *testing.T) {
	env := newTestEnv(t, false)
	user := env.createUser(t)
	ctx := context.Background()

	raw, ref, err := env.service.Issue(ctx, user.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if ref.UserID != user.ID {
		t.Fatalf("expected ref for %s, got %s", user.ID, ref.UserID)
	}

	verification, err := env.service.VerifyToken(ctx, raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verification.Ref.SessionID != ref.SessionID || verification.Ref.UserID != user.ID {
		t.Fatalf("expected %+v, got %+v", ref, verification.Ref)
	}
	if verification.Rotated != "" {
		t.Fatalf("expected no rotation for a fresh token, got %q", verification.Rotated)
	}
}

func TestIssueUnknownUser(t *testing.T) {
	env := newTestEnv(t, false)

	_, _, err := env.service.Issue(context.Background(), "ghost")
	if !apperrors.IsCode(err, apperrors.CodeUnauthenticated) {
		t.Fatalf("expected %s, got %v", apperrors.CodeUnauthenticated, err)
	}
}

func TestVerifyGarbageToken(t *testing.T) {
	env := newTestEnv(t, false)

	_, err := env.service.VerifyToken(context.Background(), "garbage")
	if !apperrors.IsCode(err, apperrors.CodeUnauthenticated) {
		t.Fatalf("expected %s, got %v", apperrors.CodeUnauthenticated, err)
	}
}

func TestSignOutRevokesSession(t *testing.T) {
	env := newTestEnv(t, false)
	user := env.createUser(t)
	ctx := context.Background()

	raw, _, err := env.service.Issue(ctx, user.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := env.service.SignOut(ctx, raw); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if _, err := env.service.VerifyToken(ctx, raw); !apperrors.IsCode(err, apperrors.CodeUnauthenticated) {
		t.Fatalf("expected %s after sign-out, got %v", apperrors.CodeUnauthenticated, err)
	}

	// Idempotent; an invalid token is also a no-op.
	if err := env.service.SignOut(ctx, raw); err != nil {
		t.Fatalf("second sign out: %v", err)
	}
	if err := env.service.SignOut(ctx, "garbage"); err != nil {
		t.Fatalf("sign out with garbage token: %v", err)
	}
}

func TestVerifyExpiredWithoutRotation(t *testing.T) {
	env := newTestEnv(t, false)
	user := env.createUser(t)
	ctx := context.Background()

	raw, _, err := env.service.Issue(ctx, user.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	*env.now = env.now.Add(2 * time.Hour)
	if _, err := env.service.VerifyToken(ctx, raw); !apperrors.IsCode(err, apperrors.CodeUnauthenticated) {
		t.Fatalf("expected %s for expired token, got %v", apperrors.CodeUnauthenticated, err)
	}
}

func TestVerifyRotatesExpiredToken(t *testing.T) {
	env := newTestEnv(t, true)
	user := env.createUser(t)
	ctx := context.Background()

	raw, ref, err := env.service.Issue(ctx, user.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	*env.now = env.now.Add(2 * time.Hour)
	verification, err := env.service.VerifyToken(ctx, raw)
	if err != nil {
		t.Fatalf("verify expired token with rotation: %v", err)
	}
	if verification.Rotated == "" {
		t.Fatal("expected a rotated replacement token")
	}
	if verification.Ref.SessionID != ref.SessionID {
		t.Fatalf("expected same session %s, got %s", ref.SessionID, verification.Ref.SessionID)
	}

	// The replacement verifies and the superseded token no longer does.
	if _, err := env.service.VerifyToken(ctx, verification.Rotated); err != nil {
		t.Fatalf("verify rotated token: %v", err)
	}
	if _, err := env.service.VerifyToken(ctx, raw); !apperrors.IsCode(err, apperrors.CodeUnauthenticated) {
		t.Fatalf("expected superseded token to fail, got %v", err)
	}
}

func TestVerifyDoesNotRotateBeyondGrace(t *testing.T) {
	env := newTestEnv(t, true)
	user := env.createUser(t)
	ctx := context.Background()

	raw, _, err := env.service.Issue(ctx, user.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	*env.now = env.now.Add(time.Hour + rotationGrace + time.Minute)
	if _, err := env.service.VerifyToken(ctx, raw); !apperrors.IsCode(err, apperrors.CodeUnauthenticated) {
		t.Fatalf("expected %s beyond grace, got %v", apperrors.CodeUnauthenticated, err)
	}
}

func TestVerifyDoesNotRotateRevokedSession(t *testing.T) {
	env := newTestEnv(t, true)
	user := env.createUser(t)
	ctx := context.Background()

	raw, _, err := env.service.Issue(ctx, user.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := env.service.SignOut(ctx, raw); err != nil {
		t.Fatalf("sign out: %v", err)
	}

	*env.now = env.now.Add(2 * time.Hour)
	if _, err := env.service.VerifyToken(ctx, raw); !apperrors.IsCode(err, apperrors.CodeUnauthenticated) {
		t.Fatalf("expected revoked session to never rotate, got %v", err)
	}
}

func TestAuthUser(t *testing.T) {
	env := newTestEnv(t, false)
	user := env.createUser(t)

	resolved := requestctx.WithResolution(context.Background(), auth.Resolution{
		State: auth.StateResolved,
		Ref:   auth.SessionRef{SessionID: "sess-1", UserID: user.ID},
	})
	loaded, err := env.service.AuthUser(resolved)
	if err != nil {
		t.Fatalf("auth user: %v", err)
	}
	if loaded.ID != user.ID || loaded.Name != "Ada" {
		t.Fatalf("expected %+v, got %+v", user, loaded)
	}

	if _, err := env.service.AuthUser(context.Background()); !apperrors.IsCode(err, apperrors.CodeUnauthenticated) {
		t.Fatalf("expected %s for anonymous request, got %v", apperrors.CodeUnauthenticated, err)
	}
}

func TestSafeAuthUser(t *testing.T) {
	env := newTestEnv(t, false)
	user := env.createUser(t)

	safe, err := env.service.SafeAuthUser(context.Background())
	if err != nil {
		t.Fatalf("safe auth user: %v", err)
	}
	if safe != nil {
		t.Fatalf("expected nil user for anonymous request, got %+v", safe)
	}

	resolved := requestctx.WithResolution(context.Background(), auth.Resolution{
		State: auth.StateResolved,
		Ref:   auth.SessionRef{SessionID: "sess-1", UserID: user.ID},
	})
	safe, err = env.service.SafeAuthUser(resolved)
	if err != nil {
		t.Fatalf("safe auth user: %v", err)
	}
	if safe == nil || safe.ID != user.ID {
		t.Fatalf("expected resolved user, got %+v", safe)
	}
}
