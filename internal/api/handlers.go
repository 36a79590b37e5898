package api

import (
	"encoding/json"
	"net/http"

	"github.com/louisbranch/tidepool/internal/auth"
	apperrors "github.com/louisbranch/tidepool/internal/errors"
	"github.com/louisbranch/tidepool/internal/posts"
)

type createPostRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type postPayload struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

func toPostPayload(post posts.Post) postPayload {
	return postPayload{
		ID:        post.ID,
		Title:     post.Title,
		Content:   post.Content,
		CreatedAt: post.CreatedAt.UnixMilli(),
		UpdatedAt: post.UpdatedAt.UnixMilli(),
	}
}

func toPostPayloads(list []posts.Post) []postPayload {
	payloads := make([]postPayload, 0, len(list))
	for _, post := range list {
		payloads = append(payloads, toPostPayload(post))
	}
	return payloads
}

func (h *Handler) handleListPosts(w http.ResponseWriter, r *http.Request) {
	listed, err := h.posts.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": toPostPayloads(listed)})
}

func (h *Handler) handleGetPost(w http.ResponseWriter, r *http.Request) {
	post, found, err := h.posts.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !found {
		writeError(w, r, apperrors.New(apperrors.CodeNotFound, "post not found"))
		return
	}
	writeJSON(w, http.StatusOK, toPostPayload(post))
}

func (h *Handler) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	var req createPostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperrors.New(apperrors.CodeInvalidArgument, "request body is not valid JSON"))
		return
	}
	post, err := h.posts.Create(r.Context(), req.Title, req.Content)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPostPayload(post))
}

func (h *Handler) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	if err := h.posts.Remove(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type userPayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	CreatedAt int64  `json:"createdAt"`
}

// handleAuthUser is the non-erroring current-user lookup: anonymous
// requests receive a null user, not a failure.
func (h *Handler) handleAuthUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.SafeAuthUser(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if user == nil {
		writeJSON(w, http.StatusOK, map[string]any{"user": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": userPayload{
		ID:        user.ID,
		Name:      user.Name,
		Email:     user.Email,
		CreatedAt: user.CreatedAt.UnixMilli(),
	}})
}

// handleSignOut revokes the presented session and clears the cookie.
// Sign-out is idempotent; a request without credentials still succeeds.
func (h *Handler) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if token := presentedToken(r); token != "" {
		if err := h.auth.SignOut(r.Context(), token); err != nil {
			writeError(w, r, err)
			return
		}
	}
	clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func presentedToken(r *http.Request) string {
	if token, ok, _ := auth.ParseAuthorization(r.Header.Get("Authorization")); ok {
		return token
	}
	if cookie, err := r.Cookie(auth.SessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}
