// Package service implements the identity provider boundary: session
// issuance, token verification with optional rotation, sign-out, and
// current-user lookups.
package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/tidepool/internal/auth"
	"github.com/louisbranch/tidepool/internal/auth/token"
	apperrors "github.com/louisbranch/tidepool/internal/errors"
	"github.com/louisbranch/tidepool/internal/platform/id"
	"github.com/louisbranch/tidepool/internal/platform/requestctx"
)

// DefaultSessionTTL is the session lifetime when none is configured.
const DefaultSessionTTL = 7 * 24 * time.Hour

// rotationGrace is how long past expiry a token can still be exchanged for
// a fresh one when rotation is enabled.
const rotationGrace = 24 * time.Hour

var errUnauthenticated = apperrors.New(apperrors.CodeUnauthenticated, "invalid session token")

// Config wires the service dependencies.
type Config struct {
	Users    auth.UserStore
	Sessions auth.SessionStore
	Codec    *token.Codec
	// SessionTTL is the lifetime of issued sessions.
	SessionTTL time.Duration
	// RotateOnVerificationError reissues tokens that expired within the
	// grace window while their session row is still unrevoked.
	RotateOnVerificationError bool
}

// Service implements auth.Verifier on top of the stores and token codec.
type Service struct {
	users    auth.UserStore
	sessions auth.SessionStore
	codec    *token.Codec
	ttl      time.Duration
	rotate   bool

	clock       func() time.Time
	idGenerator func() (string, error)
}

// Option configures service behavior.
type Option func(*Service)

// WithClock overrides the service clock, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithIDGenerator overrides id generation, primarily for tests.
func WithIDGenerator(generator func() (string, error)) Option {
	return func(s *Service) {
		if generator != nil {
			s.idGenerator = generator
		}
	}
}

// New builds a service from the config.
func New(cfg Config, opts ...Option) (*Service, error) {
	if cfg.Users == nil || cfg.Sessions == nil {
		return nil, fmt.Errorf("user and session stores are required")
	}
	if cfg.Codec == nil {
		return nil, fmt.Errorf("token codec is required")
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	s := &Service{
		users:       cfg.Users,
		sessions:    cfg.Sessions,
		codec:       cfg.Codec,
		ttl:         ttl,
		rotate:      cfg.RotateOnVerificationError,
		clock:       time.Now,
		idGenerator: id.NewID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateUser registers a new account.
func (s *Service) CreateUser(ctx context.Context, name, email string) (auth.User, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if name == "" || email == "" {
		return auth.User{}, apperrors.New(apperrors.CodeInvalidArgument, "name and email are required")
	}

	userID, err := s.idGenerator()
	if err != nil {
		return auth.User{}, fmt.Errorf("generate user id: %w", err)
	}
	user := auth.User{
		ID:        userID,
		Name:      name,
		Email:     email,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.users.PutUser(ctx, user); err != nil {
		return auth.User{}, fmt.Errorf("put user: %w", err)
	}
	return user, nil
}

// Issue starts a session for the user and returns the signed token.
func (s *Service) Issue(ctx context.Context, userID string) (string, auth.SessionRef, error) {
	if _, err := s.users.GetUser(ctx, userID); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return "", auth.SessionRef{}, apperrors.New(apperrors.CodeUnauthenticated, "unknown user")
		}
		return "", auth.SessionRef{}, fmt.Errorf("get user: %w", err)
	}

	sessionID, err := s.idGenerator()
	if err != nil {
		return "", auth.SessionRef{}, fmt.Errorf("generate session id: %w", err)
	}

	now := s.clock().UTC()
	ref := auth.SessionRef{
		SessionID: sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(s.ttl),
	}
	raw, err := s.codec.Encode(ref)
	if err != nil {
		return "", auth.SessionRef{}, err
	}

	session := auth.Session{
		ID:        sessionID,
		UserID:    userID,
		TokenHash: hashToken(raw),
		CreatedAt: now,
		ExpiresAt: ref.ExpiresAt,
	}
	if err := s.sessions.PutSession(ctx, session); err != nil {
		return "", auth.SessionRef{}, fmt.Errorf("put session: %w", err)
	}
	return raw, ref, nil
}

// VerifyToken implements auth.Verifier. A valid token maps to its live
// session. An expired token is reissued when rotation is enabled, the
// expiry falls within the grace window, and the session row is unrevoked.
func (s *Service) VerifyToken(ctx context.Context, raw string) (auth.Verification, error) {
	ref, err := s.codec.Decode(raw)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return s.rotateExpired(ctx, raw, ref)
		}
		return auth.Verification{}, errUnauthenticated
	}

	session, err := s.loadSessionFor(ctx, raw, ref)
	if err != nil {
		return auth.Verification{}, err
	}
	if !session.Live(s.clock().UTC()) {
		return auth.Verification{}, errUnauthenticated
	}
	return auth.Verification{Ref: ref}, nil
}

// rotateExpired exchanges a freshly expired token for a new one.
func (s *Service) rotateExpired(ctx context.Context, raw string, ref auth.SessionRef) (auth.Verification, error) {
	now := s.clock().UTC()
	if !s.rotate || now.Sub(ref.ExpiresAt) > rotationGrace {
		return auth.Verification{}, errUnauthenticated
	}

	session, err := s.loadSessionFor(ctx, raw, ref)
	if err != nil {
		return auth.Verification{}, err
	}
	if session.RevokedAt != nil {
		return auth.Verification{}, errUnauthenticated
	}

	rotated := auth.SessionRef{
		SessionID: ref.SessionID,
		UserID:    ref.UserID,
		ExpiresAt: now.Add(s.ttl),
	}
	replacement, err := s.codec.Encode(rotated)
	if err != nil {
		return auth.Verification{}, err
	}
	if err := s.sessions.UpdateSessionToken(ctx, rotated.SessionID, hashToken(replacement), rotated.ExpiresAt); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return auth.Verification{}, errUnauthenticated
		}
		return auth.Verification{}, fmt.Errorf("rotate session token: %w", err)
	}
	return auth.Verification{Ref: rotated, Rotated: replacement}, nil
}

// loadSessionFor loads the session behind a decoded token and checks that
// the presented token is the one the session currently trusts.
func (s *Service) loadSessionFor(ctx context.Context, raw string, ref auth.SessionRef) (auth.Session, error) {
	session, err := s.sessions.GetSession(ctx, ref.SessionID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return auth.Session{}, errUnauthenticated
		}
		return auth.Session{}, fmt.Errorf("get session: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(session.TokenHash), []byte(hashToken(raw))) != 1 {
		return auth.Session{}, errUnauthenticated
	}
	if session.UserID != ref.UserID {
		return auth.Session{}, errUnauthenticated
	}
	return session, nil
}

// SignOut revokes the session behind the token. Invalid or already revoked
// tokens are a no-op; sign-out is idempotent.
func (s *Service) SignOut(ctx context.Context, raw string) error {
	ref, err := s.codec.Decode(raw)
	if err != nil && !errors.Is(err, token.ErrExpired) {
		return nil
	}
	if ref.SessionID == "" {
		return nil
	}
	if err := s.sessions.RevokeSession(ctx, ref.SessionID, s.clock().UTC()); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// AuthUser returns the request's resolved user, failing UNAUTHENTICATED
// when the request is anonymous.
func (s *Service) AuthUser(ctx context.Context) (auth.User, error) {
	userID := requestctx.UserID(ctx)
	if userID == "" {
		return auth.User{}, apperrors.New(apperrors.CodeUnauthenticated, "not signed in")
	}
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return auth.User{}, apperrors.New(apperrors.CodeUnauthenticated, "not signed in")
		}
		return auth.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// SafeAuthUser returns the request's resolved user, or nil for anonymous
// requests. It errors only on infrastructure failure.
func (s *Service) SafeAuthUser(ctx context.Context) (*auth.User, error) {
	user, err := s.AuthUser(ctx)
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeUnauthenticated) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
