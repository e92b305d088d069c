package errors

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// New builds an APIError tagged with the request id assigned by chi.
func New(r *http.Request, code, message string) APIError {
	apiErr := APIError{Code: code, Message: message}
	if r != nil {
		apiErr.RequestID = chimiddleware.GetReqID(r.Context())
	}
	return apiErr
}

func Write(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteRetryable answers with a Retry-After hint rounded up to whole seconds.
func WriteRetryable(w http.ResponseWriter, status int, retryAfter time.Duration, payload any) {
	if retryAfter > 0 {
		seconds := int64((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
	}
	Write(w, status, payload)
}
