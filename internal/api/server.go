// SPDX-License-Identifier: MIT

// Package api exposes the daemon's HTTP surface: health, service listing,
// title/track inspection and the download job lifecycle.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unshackle-dl/unshackle/internal/apierr"
	"github.com/unshackle-dl/unshackle/internal/health"
	"github.com/unshackle-dl/unshackle/internal/log"
	"github.com/unshackle-dl/unshackle/internal/scheduler"
	"github.com/unshackle-dl/unshackle/internal/service"
)

// Deps are the collaborators the handlers dispatch into.
type Deps struct {
	Scheduler *scheduler.Manager
	Registry  *service.Registry
	Health    *health.Manager

	// GlobalServiceConfig is merged under every adapter's own config.
	GlobalServiceConfig map[string]any

	// Debug includes debug_info in error envelopes.
	Debug bool

	// RequestsPerMinute rate-limits clients by IP; zero disables.
	RequestsPerMinute int
}

// Server is the HTTP API server.
type Server struct {
	deps   Deps
	router chi.Router
}

// NewServer builds the server and its routes.
func NewServer(deps Deps) *Server {
	s := &Server{deps: deps}
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware(s.deps.Debug))
	r.Use(accessLogMiddleware)
	r.Use(metricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}))
	if s.deps.RequestsPerMinute > 0 {
		r.Use(httprate.Limit(
			s.deps.RequestsPerMinute,
			time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, req *http.Request) {
				s.writeError(w, req, apierr.New(apierr.CodeRateLimited, "too many requests"))
			}),
		))
	}

	r.Get("/health", s.handleHealth)
	r.Get("/services", s.handleServices)
	r.Post("/list-titles", s.handleListTitles)
	r.Post("/list-tracks", s.handleListTracks)
	r.Post("/download", s.handleDownload)
	r.Get("/download/jobs", s.handleListJobs)
	r.Get("/download/jobs/{id}", s.handleGetJob)
	r.Delete("/download/jobs/{id}", s.handleCancelJob)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

// Run serves the API on addr until ctx is done, then shuts down gracefully
// within shutdownTimeout.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger := log.WithComponent("api")
		logger.Info().Str("addr", addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
