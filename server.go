package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tableqa/internal/app"
	"tableqa/internal/observability"
)

const shutdownTimeout = 10 * time.Second

// newRouter wires the API routes and middleware.
func newRouter(h *APIHandler, logger *slog.Logger, requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(observability.RequestIDMiddleware)
	r.Use(middleware.Logger)
	r.Use(observability.LoggingMiddleware(logger))
	r.Use(observability.MetricsMiddleware)
	r.Use(middleware.Recoverer)
	if requestTimeout > 0 {
		r.Use(middleware.Timeout(requestTimeout))
	}

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", observability.Handler())

	// API handlers (JSON responses)
	r.Route("/api", func(r chi.Router) {
		r.Post("/answer", h.Answer)
		r.Post("/query", h.Query)
		r.Get("/schema", h.Schema)
		r.Post("/sessions/{id}/messages", h.SessionMessage)
	})
	return r
}

// StartServer serves the API until SIGINT or SIGTERM, then drains in-flight
// requests.
func StartServer(a *app.App, addr string) error {
	h := &APIHandler{
		Orchestrator: a.Orchestrator,
		Engine:       a.Engine,
		Sessions:     newSessionStore(a.Config.HTTP.SessionTTL),
		Logger:       a.Logger,
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(h, a.Logger, a.Config.HTTP.WriteTimeout),
		ReadHeaderTimeout: a.Config.HTTP.ReadTimeout,
		ReadTimeout:       a.Config.HTTP.ReadTimeout,
		WriteTimeout:      a.Config.HTTP.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("Server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.Logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
