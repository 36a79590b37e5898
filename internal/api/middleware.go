package api

import (
	"net/http"
	"time"

	"github.com/louisbranch/tidepool/internal/auth"
	apperrors "github.com/louisbranch/tidepool/internal/errors"
	"github.com/louisbranch/tidepool/internal/platform/requestctx"
)

// rotatedTokenHeader carries a reissued session token back to bearer-token
// clients; cookie clients receive a refreshed cookie instead.
const rotatedTokenHeader = "X-Session-Token"

// withCredentials resolves the request's credentials once and caches both
// the raw request and the terminal resolution in context. Evidence
// extraction prefers an Authorization header over cookies, matching native
// clients that attach tokens explicitly.
func (h *Handler) withCredentials(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		evidence, err := extractEvidence(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		req := auth.Request{
			Origin:   r.Header.Get("Origin"),
			Evidence: evidence,
		}
		resolution, err := h.adapter.Resolve(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		// A rejected origin never reaches a handler, so untrusted pages
		// cannot read auth state or revoke sessions.
		if resolution.State == auth.StateRejected {
			writeError(w, r, apperrors.New(apperrors.CodeOriginRejected, "origin is not trusted"))
			return
		}

		if resolution.RotatedToken != "" {
			propagateRotatedToken(w, r, resolution)
		}

		ctx := requestctx.WithRequest(r.Context(), req)
		ctx = requestctx.WithResolution(ctx, resolution)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractEvidence(r *http.Request) (auth.Evidence, error) {
	token, ok, err := auth.ParseAuthorization(r.Header.Get("Authorization"))
	if err != nil {
		return nil, err
	}
	if ok {
		return auth.BearerEvidence{Token: token}, nil
	}
	if header := r.Header.Get("Cookie"); header != "" {
		return auth.CookieEvidence{Header: header}, nil
	}
	return nil, nil
}

// propagateRotatedToken hands a reissued token back on the transport the
// credential arrived on.
func propagateRotatedToken(w http.ResponseWriter, r *http.Request, resolution auth.Resolution) {
	if _, ok, _ := auth.ParseAuthorization(r.Header.Get("Authorization")); ok {
		w.Header().Set(rotatedTokenHeader, resolution.RotatedToken)
		return
	}
	http.SetCookie(w, sessionCookie(resolution.RotatedToken, resolution.Ref.ExpiresAt))
}

func sessionCookie(token string, expiresAt time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// clearSessionCookie expires the session cookie on sign-out.
func clearSessionCookie(w http.ResponseWriter) {
	cookie := sessionCookie("", time.Unix(0, 0))
	cookie.MaxAge = -1
	http.SetCookie(w, cookie)
}
