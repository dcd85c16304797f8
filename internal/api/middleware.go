// SPDX-License-Identifier: MIT

package api

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/unshackle-dl/unshackle/internal/apierr"
	"github.com/unshackle-dl/unshackle/internal/log"
	"github.com/unshackle-dl/unshackle/internal/metrics"
)

// requestIDMiddleware assigns every request a correlation id, honouring a
// client-supplied X-Request-ID.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(log.ContextWithRequestID(r.Context(), id)))
	})
}

// accessLogMiddleware emits one structured line per request.
func accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Int("bytes", ww.BytesWritten()).
			Msg("request")
	})
}

// metricsMiddleware observes request latency per route pattern and status
// class.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		status := fmt.Sprintf("%dxx", ww.Status()/100)
		metrics.HTTPRequestDuration.WithLabelValues(route, status).Observe(time.Since(start).Seconds())
	})
}

// recoverMiddleware turns handler panics into INTERNAL_ERROR envelopes.
func recoverMiddleware(debugMode bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler { //nolint:errorlint // sentinel panic value
						panic(rec)
					}
					logger := log.WithComponentFromContext(r.Context(), "api")
					logger.Error().
						Interface("panic", rec).
						Bytes("stack", debug.Stack()).
						Msg("handler panic")
					ae := apierr.New(apierr.CodeInternalError, "internal server error")
					if debugMode {
						ae.Traceback = string(debug.Stack())
					}
					writeJSON(w, ae.HTTPStatus, ae.ToEnvelope(debugMode))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
