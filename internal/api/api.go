// Package api exposes the posts and auth operations over HTTP: JSON request
// and response bodies, cookie and bearer credential transports, and an SSE
// stream for the live posts list.
package api

import (
	"net/http"

	"github.com/louisbranch/tidepool/internal/auth"
	"github.com/louisbranch/tidepool/internal/auth/service"
	"github.com/louisbranch/tidepool/internal/posts"
)

// Handler builds the API routes behind the credential middleware.
type Handler struct {
	posts   *posts.Service
	auth    *service.Service
	adapter *auth.Adapter
}

// New builds the API handler.
func New(postsService *posts.Service, authService *service.Service, adapter *auth.Adapter) *Handler {
	return &Handler{
		posts:   postsService,
		auth:    authService,
		adapter: adapter,
	}
}

// Routes returns the routed handler with middleware applied.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/posts", h.handleListPosts)
	mux.HandleFunc("POST /api/posts", h.handleCreatePost)
	mux.HandleFunc("GET /api/posts/watch", h.handleWatchPosts)
	mux.HandleFunc("GET /api/posts/{id}", h.handleGetPost)
	mux.HandleFunc("DELETE /api/posts/{id}", h.handleDeletePost)

	mux.HandleFunc("GET /api/auth/user", h.handleAuthUser)
	mux.HandleFunc("POST /api/auth/signout", h.handleSignOut)

	return h.withCredentials(mux)
}
