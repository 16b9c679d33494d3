package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
)

// serverErrorBody is the only failure detail clients ever see.
const serverErrorBody = "Server error"

// writeJSON writes v as JSON with the given HTTP status code.
// Logs a warning if JSON encoding fails.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("writeJSON: encoding response")
	}
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// writeServerError logs err against the request and answers with
// the fixed generic failure.
func writeServerError(w http.ResponseWriter, r *http.Request, err error) {
	ev := log.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path)
	if isContextError(err) {
		ev = ev.Bool("timeout", true)
	}
	ev.Msg("request failed")
	writeText(w, http.StatusInternalServerError, serverErrorBody)
}

// isContextError reports whether err came from a cancelled or
// expired request context.
func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// nonNil returns an empty slice in place of nil so collections
// always encode as [].
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
