// Package server exposes search, source listing, placeholder resolution and
// the download proxy over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lepinkainen/folio/internal/book"
	"github.com/lepinkainen/folio/internal/config"
	"github.com/lepinkainen/folio/internal/proxy"
)

const shutdownTimeout = 10 * time.Second

// Searcher is the search surface the API needs.
type Searcher interface {
	Search(ctx context.Context, q book.Query) (book.Result, error)
	ValidateSource(id string) error
	Sources(query string) []book.SourceInfo
	DirectLink(id, query string) (string, error)
}

// Downloader opens validated downloads.
type Downloader interface {
	Open(ctx context.Context, rawURL string) (*proxy.Download, error)
}

// Server is the folio HTTP API.
type Server struct {
	cfg      config.ServerConfig
	search   Searcher
	resolver proxy.Resolver
	download Downloader
	handler  http.Handler
}

// New wires the router.
func New(cfg config.ServerConfig, s Searcher, r proxy.Resolver, d Downloader) *Server {
	srv := &Server{cfg: cfg, search: s, resolver: r, download: d}
	srv.handler = srv.routes()
	return srv
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(permissiveCORS())

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(rateLimit(s.cfg.RateLimitRequests, s.cfg.RateLimitWindow))
		r.Use(instrument)

		r.Get("/search", s.handleSearch)
		r.Get("/sources", s.handleSources)
		r.Get("/sources/{id}/link", s.handleSourceLink)
		r.Get("/resolve", s.handleResolve)
		r.Get("/download", s.handleDownload)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no route for "+r.URL.Path)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", s.cfg.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}
