package auth

import (
	"context"
	"time"

	apperrors "github.com/louisbranch/tidepool/internal/errors"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// Session is a persisted session row. Tokens are stored hashed; the raw
// token only ever lives on the client.
type Session struct {
	ID        string
	UserID    string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// Live reports whether the session is usable at the given instant.
func (s Session) Live(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// SessionStore persists sessions.
type SessionStore interface {
	PutSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	// UpdateSessionToken swaps the stored token hash and expiry, used by
	// rotation.
	UpdateSessionToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error
	RevokeSession(ctx context.Context, id string, at time.Time) error
}

// UserStore persists user accounts.
type UserStore interface {
	PutUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
}
