package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const requestIDHeader = "X-Request-ID"

// withTimeout bounds the request context by the configured
// request timeout. A query cut short by the deadline fails like
// any other store error.
func (s *Server) withTimeout(h http.HandlerFunc) http.Handler {
	timeout := s.cfg.RequestTimeout
	delay := s.handlerDelay
	return http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			if timeout > 0 {
				ctx, cancel := context.WithTimeout(r.Context(), timeout)
				defer cancel()
				r = r.WithContext(ctx)
			}
			if delay > 0 {
				time.Sleep(delay)
			}
			h(w, r)
		},
	)
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusRecorder) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// logMiddleware tags each request with an id, attaches a request
// logger to its context, logs API requests and records request
// metrics.
func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		logger := log.With().Str("request_id", id).Logger()
		r = r.WithContext(logger.WithContext(r.Context()))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		s.metrics.RecordHTTPRequest(
			s.endpoint(r), r.Method, strconv.Itoa(rec.status), elapsed,
		)
		if strings.HasPrefix(r.URL.Path, "/api/") {
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("elapsed", elapsed).
				Msg("request")
		}
	})
}

// endpoint labels a request by its route pattern so agent ids
// never become metric labels.
func (s *Server) endpoint(r *http.Request) string {
	if r.Method == http.MethodOptions {
		return "preflight"
	}
	_, pattern := s.mux.Handler(r)
	if pattern == "" {
		return "unmatched"
	}
	return pattern
}
