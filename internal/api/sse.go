package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/louisbranch/tidepool/internal/live"
	"github.com/louisbranch/tidepool/internal/posts"
)

// watchEvent is one SSE payload on the posts watch stream.
type watchEvent struct {
	State string        `json:"state"`
	Posts []postPayload `json:"posts,omitempty"`
	Seq   uint64        `json:"seq"`
}

func stateName(state live.State) string {
	switch state {
	case live.StateActive:
		return "active"
	case live.StateDisconnected:
		return "disconnected"
	case live.StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// handleWatchPosts streams live list snapshots as server-sent events. The
// subscription is torn down when the client disconnects; a terminal
// unavailable snapshot ends the stream.
func (h *Handler) handleWatchPosts(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	sub, err := h.posts.Watch(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer sub.Unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for snap := range sub.Updates() {
		event := watchEvent{
			State: stateName(snap.State),
			Seq:   snap.Seq,
		}
		if snap.State == live.StateActive {
			event.Posts = toPostPayloads(posts.FromDocuments(snap.Docs))
		}

		payload, err := json.Marshal(event)
		if err != nil {
			log.Printf("api: marshal watch event: %v", err)
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return
		}
		flusher.Flush()

		if snap.State == live.StateUnavailable {
			return
		}
	}
}
