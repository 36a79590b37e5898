// Package requestctx carries request-scoped identity through context values.
//
// The credential resolution for a request is computed once at the transport
// boundary and cached here so downstream layers (gateway, services) never
// repeat verification round-trips within one logical request.
package requestctx

import (
	"context"

	"github.com/louisbranch/tidepool/internal/auth"
)

// requestContextKey is the context key for the raw credential request.
type requestContextKey struct{}

// resolutionContextKey is the context key for the cached credential resolution.
type resolutionContextKey struct{}

// WithRequest stores the transport credential request in context.
func WithRequest(ctx context.Context, req auth.Request) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestContextKey{}, req)
}

// RequestFromContext returns the credential request stored in context.
func RequestFromContext(ctx context.Context) (auth.Request, bool) {
	if ctx == nil {
		return auth.Request{}, false
	}
	req, ok := ctx.Value(requestContextKey{}).(auth.Request)
	return req, ok
}

// WithResolution stores a terminal credential resolution in context.
func WithResolution(ctx context.Context, res auth.Resolution) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, resolutionContextKey{}, res)
}

// ResolutionFromContext returns the credential resolution stored in context.
func ResolutionFromContext(ctx context.Context) (auth.Resolution, bool) {
	if ctx == nil {
		return auth.Resolution{}, false
	}
	res, ok := ctx.Value(resolutionContextKey{}).(auth.Resolution)
	return res, ok
}

// UserID returns the authenticated user id for the request, or "" when the
// request resolved anonymous or was never resolved.
func UserID(ctx context.Context) string {
	res, ok := ResolutionFromContext(ctx)
	if !ok || res.State != auth.StateResolved {
		return ""
	}
	return res.Ref.UserID
}
