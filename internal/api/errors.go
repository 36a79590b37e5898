package api

import (
	"encoding/json"
	"log"
	"net/http"

	apperrors "github.com/louisbranch/tidepool/internal/errors"
)

// errorPayload is the wire shape of a failed call. The code lets clients
// distinguish "log in to continue" from generic failure.
type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	httpErr := apperrors.ToHTTP(err, localeFor(r))
	if httpErr.Status >= http.StatusInternalServerError {
		log.Printf("api: %s %s failed: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, httpErr.Status, errorPayload{
		Code:    string(httpErr.Code),
		Message: httpErr.Message,
	})
}

func localeFor(r *http.Request) string {
	return r.Header.Get("Accept-Language")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}
