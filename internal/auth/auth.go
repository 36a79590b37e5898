// Package auth defines the credential boundary: evidence extracted from a
// request, the resolution state machine that turns evidence into an
// identity, and the origin allow-list checked before any verification work.
package auth

import (
	"context"
	"time"
)

// SessionCookieName is the cookie carrying the session token.
const SessionCookieName = "tp_session"

// SessionRef identifies a verified session.
type SessionRef struct {
	SessionID string
	UserID    string
	ExpiresAt time.Time
}

// User is the account a session resolves to.
type User struct {
	ID        string
	Name      string
	Email     string
	CreatedAt time.Time
}

// Evidence is the credential material extracted from a request. It is a
// sealed variant: exactly one of the concrete types below.
type Evidence interface {
	isEvidence()
}

// CookieEvidence carries a raw Cookie header.
type CookieEvidence struct {
	Header string
}

func (CookieEvidence) isEvidence() {}

// BearerEvidence carries a bearer token from an Authorization header.
type BearerEvidence struct {
	Token string
}

func (BearerEvidence) isEvidence() {}

// CachedEvidence carries a session already resolved earlier in the same
// request lifecycle; resolving it never re-verifies.
type CachedEvidence struct {
	Ref SessionRef
}

func (CachedEvidence) isEvidence() {}

// Request is one credential resolution request.
type Request struct {
	// Origin is the caller's origin; empty for server-to-server calls.
	Origin   string
	Evidence Evidence
}

// State is the outcome of a resolution. The machine moves from Unresolved
// to exactly one terminal state.
type State int

const (
	// StateUnresolved means no resolution has happened yet.
	StateUnresolved State = iota
	// StateResolved means the evidence verified to a live session.
	StateResolved
	// StateAnonymous means no usable credentials were present or they
	// failed verification.
	StateAnonymous
	// StateRejected means the origin is not trusted; credentials were
	// never inspected.
	StateRejected
)

// Resolution is the terminal outcome of resolving a request.
type Resolution struct {
	State State
	// Ref is set only for StateResolved.
	Ref SessionRef
	// RotatedToken carries a replacement session token when verification
	// reissued one; the transport propagates it back to the client.
	RotatedToken string
}

// Verification is a successful token check, possibly with a rotated
// replacement token.
type Verification struct {
	Ref SessionRef
	// Rotated is non-empty when the presented token was reissued.
	Rotated string
}

// Verifier checks a session token against the identity provider. Invalid
// or revoked tokens fail with an UNAUTHENTICATED code; infrastructure
// failures carry other codes.
type Verifier interface {
	VerifyToken(ctx context.Context, token string) (Verification, error)
}
