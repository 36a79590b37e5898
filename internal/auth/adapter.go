package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/louisbranch/tidepool/internal/errors"
	"github.com/louisbranch/tidepool/internal/platform/timeouts"
)

// Adapter resolves request evidence into an identity: origin check first,
// then credential verification under a bounded timeout.
type Adapter struct {
	verifier Verifier
	origins  OriginList
	timeout  time.Duration
}

// AdapterOption configures an adapter.
type AdapterOption func(*Adapter)

// WithVerifyTimeout overrides the credential verification deadline,
// primarily for tests.
func WithVerifyTimeout(timeout time.Duration) AdapterOption {
	return func(a *Adapter) {
		if timeout > 0 {
			a.timeout = timeout
		}
	}
}

// NewAdapter builds an adapter over the verifier and trusted-origin list.
func NewAdapter(verifier Verifier, origins OriginList, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		verifier: verifier,
		origins:  origins,
		timeout:  timeouts.CredentialVerify,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Resolve runs the resolution state machine. An untrusted origin rejects
// before credentials are inspected. Missing or failed credentials resolve
// anonymous; only malformed transport or a verification that could not run
// returns an error.
func (a *Adapter) Resolve(ctx context.Context, req Request) (Resolution, error) {
	if err := ctx.Err(); err != nil {
		return Resolution{}, err
	}

	if !a.origins.Allows(req.Origin) {
		return Resolution{State: StateRejected}, nil
	}

	token := ""
	switch evidence := req.Evidence.(type) {
	case nil:
		return Resolution{State: StateAnonymous}, nil
	case CachedEvidence:
		return Resolution{State: StateResolved, Ref: evidence.Ref}, nil
	case BearerEvidence:
		token = evidence.Token
	case CookieEvidence:
		cookies, err := http.ParseCookie(evidence.Header)
		if err != nil {
			return Resolution{}, apperrors.Wrap(apperrors.CodeAdapterMalformedCookie,
				"cookie header is not parseable", err)
		}
		for _, cookie := range cookies {
			if cookie.Name == SessionCookieName {
				token = cookie.Value
				break
			}
		}
	default:
		return Resolution{}, fmt.Errorf("unsupported evidence type %T", evidence)
	}

	if token == "" {
		return Resolution{State: StateAnonymous}, nil
	}

	verifyCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	verification, err := a.verifier.VerifyToken(verifyCtx, token)
	switch {
	case err == nil:
		return Resolution{
			State:        StateResolved,
			Ref:          verification.Ref,
			RotatedToken: verification.Rotated,
		}, nil
	case apperrors.IsCode(err, apperrors.CodeUnauthenticated):
		// Invalid, expired, or revoked credentials are an anonymous
		// caller, not a failure.
		return Resolution{State: StateAnonymous}, nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return Resolution{}, apperrors.Wrap(apperrors.CodeAdapterVerifyTimeout,
			"credential verification timed out", err)
	default:
		return Resolution{}, apperrors.Wrap(apperrors.CodeAdapterVerifyUnavailable,
			"credential verification failed", err)
	}
}

// ParseAuthorization extracts the bearer token from an Authorization header.
// An absent header yields ok=false; a present header with a non-bearer
// scheme or a missing token is malformed.
func ParseAuthorization(header string) (string, bool, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false, nil
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false, apperrors.New(apperrors.CodeAdapterMalformedAuthorization,
			"authorization header must use the Bearer scheme")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false, apperrors.New(apperrors.CodeAdapterMalformedAuthorization,
			"authorization header carries no token")
	}
	return token, true, nil
}
