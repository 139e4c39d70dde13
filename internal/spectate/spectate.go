// Package spectate serves a read-only view of a running tournament:
// the live manifest, computed standings and Prometheus metrics. It
// exists for humans and dashboards watching a run; nothing here can
// mutate tournament state.
package spectate

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mousetraptech/llmtourney/internal/tournament"
)

// Server exposes tournament progress over HTTP.
type Server struct {
	store  *tournament.ManifestStore
	logger *zap.SugaredLogger
	http   *http.Server
}

// New builds a server bound to addr, reading from the manifest store.
func New(addr string, store *tournament.ManifestStore, logger *zap.Logger) *Server {
	s := &Server{
		store:  store,
		logger: logger.Sugar(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/manifest", s.handleManifest)
	r.Get("/standings", s.handleStandings)
	r.Handle("/metrics", promhttp.Handler())

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves in a background goroutine until Shutdown.
func (s *Server) Start() {
	go func() {
		s.logger.Infow("Spectate server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorw("Spectate server failed", "error", err)
		}
	}()
}

// Shutdown stops the server, waiting briefly for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *Server) handleStandings(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()
	standings := snap.Standings
	if standings == nil {
		standings = tournament.ComputeStandings(snap.Fixtures)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tournament": snap.Tournament,
		"status":     snap.Status,
		"standings":  standings,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
