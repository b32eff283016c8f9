package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"pdf-form-drop/internal/store"
)

var (
	errBodyTooLarge  = errors.New("request body too large")
	errMalformedForm = errors.New("malformed multipart form")
	errRateLimited   = errors.New("rate limit exceeded, please try again later")
	errInternal      = errors.New("internal server error")
)

// MapHTTPStatus converts store and request errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case store.IsValidation(err), errors.Is(err, errMalformedForm):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func isBodyTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return true
	}
	// multipart wraps some read errors without %w.
	return err != nil && strings.Contains(err.Error(), "request body too large")
}

// respondJSON writes data without HTML escaping so stored values come back
// byte for byte.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(data)
}

// respondError writes {"error": msg}.
func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// respondText writes msg verbatim, without the newline http.Error adds.
func respondText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg)
}
