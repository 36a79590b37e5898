// Package token encodes session references as signed HS256 tokens.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/louisbranch/tidepool/internal/auth"
)

// Codec signs and verifies session tokens with a shared secret.
type Codec struct {
	secret []byte
	clock  func() time.Time
}

// Option configures a codec.
type Option func(*Codec)

// WithClock overrides the validation clock, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(c *Codec) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// NewCodec builds a codec over the signing secret.
func NewCodec(secret string, opts ...Option) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("signing secret is required")
	}
	c := &Codec{secret: []byte(secret), clock: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type sessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Encode signs a token for the session reference.
func (c *Codec) Encode(ref auth.SessionRef) (string, error) {
	now := c.clock()
	claims := sessionClaims{
		SessionID: ref.SessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ref.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(ref.ExpiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// ErrExpired reports a token that is valid in every way except its expiry.
// Callers use it to decide on rotation.
var ErrExpired = errors.New("session token expired")

// Decode verifies the signature and claims and returns the session
// reference. An expired but otherwise valid token fails with ErrExpired and
// still returns the reference so rotation can inspect it.
func (c *Codec) Decode(raw string) (auth.SessionRef, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(t *jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.clock),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return refFromClaims(claims), ErrExpired
		}
		return auth.SessionRef{}, fmt.Errorf("parse session token: %w", err)
	}
	if claims.SessionID == "" || claims.Subject == "" {
		return auth.SessionRef{}, errors.New("session token is missing identity claims")
	}
	return refFromClaims(claims), nil
}

func refFromClaims(claims sessionClaims) auth.SessionRef {
	ref := auth.SessionRef{
		SessionID: claims.SessionID,
		UserID:    claims.Subject,
	}
	if claims.ExpiresAt != nil {
		ref.ExpiresAt = claims.ExpiresAt.Time
	}
	return ref
}
