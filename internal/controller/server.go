// Package controller serves the zigcheck HTTP API.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"zigcheck/internal/controller/handlers"
	"zigcheck/internal/controller/middleware"
	"zigcheck/internal/metadata"
)

// Server is the HTTP server for the zigcheck API.
type Server struct {
	httpServer *http.Server
}

// Options configures New. MetricsHandler may be nil.
type Options struct {
	Addr           string
	Store          handlers.StoreFactory
	Orchestrator   handlers.Orchestrator
	Lookup         metadata.Lookup
	Logger         *slog.Logger
	RateLimiter    *middleware.RateLimiter
	MetricsHandler http.Handler
}

// New creates a new server.
func New(opts Options) *Server {
	h := handlers.New(opts.Store, opts.Orchestrator, opts.Lookup, opts.Logger)
	limiter := opts.RateLimiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter()
	}
	limit := limiter.Middleware()

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", opts.MetricsHandler)
	}

	// Submissions trigger container builds and are limited per client IP.
	mux.Handle("POST /packages", limit(http.HandlerFunc(h.SubmitPackage)))
	mux.HandleFunc("GET /packages", h.ListPackages)
	mux.HandleFunc("GET /packages/{id}", h.GetPackage)
	mux.HandleFunc("GET /packages/{id}/builds", h.GetPackageBuilds)
	mux.HandleFunc("POST /packages/{id}/rebuild", h.RebuildPackage)

	return &Server{
		httpServer: &http.Server{
			Addr:         opts.Addr,
			Handler:      middleware.RequestID(mux),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
