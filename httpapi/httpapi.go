// CLAUDE:SUMMARY Read-only HTTP API over the results cache and run log: deals, per-neighborhood results, stats, runs.
// Package httpapi serves the analysis results.
//
// The API is read-only: runs are driven from the command line, the
// server only exposes what previous runs persisted.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/denicheur/cache"
	"github.com/hazyhaar/denicheur/observability"
	"github.com/hazyhaar/denicheur/shield"
)

// Server bundles the handlers' dependencies.
type Server struct {
	store  *cache.Store
	runs   *observability.RunLog // nil disables the /api/runs routes
	logger *slog.Logger
}

// New builds a server over the cache store and optional run log.
func New(store *cache.Store, runs *observability.RunLog, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: store, runs: runs, logger: logger}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(s.logger) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Get("/api/deals", s.handleDeals)
	r.Get("/api/results/{neighborhood}", s.handleResults)
	r.Get("/api/stats", s.handleStats)
	r.Get("/api/listings/{id}/price-history", s.handlePriceHistory)

	if s.runs != nil {
		r.Get("/api/runs", s.handleRuns)
		r.Get("/api/runs/{runID}/failures", s.handleRunFailures)
	}

	return r
}

func (s *Server) handleDeals(w http.ResponseWriter, r *http.Request) {
	deals, err := s.store.TopDeals(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		s.fail(w, "deals", err)
		return
	}
	if deals == nil {
		deals = []cache.Deal{}
	}
	writeJSON(w, 200, deals)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	neighborhood := chi.URLParam(r, "neighborhood")
	deals, err := s.store.ResultsForNeighborhood(r.Context(), neighborhood)
	if err != nil {
		s.fail(w, "results", err)
		return
	}
	if deals == nil {
		deals = []cache.Deal{}
	}
	writeJSON(w, 200, deals)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.ReadStats(r.Context())
	if err != nil {
		s.fail(w, "stats", err)
		return
	}
	writeJSON(w, 200, st)
}

func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entry, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.fail(w, "price history", err)
		return
	}
	if entry == nil {
		writeJSON(w, 404, map[string]string{"error": "unknown listing"})
		return
	}
	history, err := s.store.PriceHistory(r.Context(), id)
	if err != nil {
		s.fail(w, "price history", err)
		return
	}
	if history == nil {
		history = []cache.PriceChange{}
	}
	writeJSON(w, 200, history)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runs.ListRuns(r.Context(), queryInt(r, "limit", 20))
	if err != nil {
		s.fail(w, "runs", err)
		return
	}
	if runs == nil {
		runs = []observability.RunRecord{}
	}
	writeJSON(w, 200, runs)
}

func (s *Server) handleRunFailures(w http.ResponseWriter, r *http.Request) {
	failures, err := s.runs.Failures(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.fail(w, "run failures", err)
		return
	}
	if failures == nil {
		failures = []observability.RunFailure{}
	}
	writeJSON(w, 200, failures)
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	s.logger.Error("request failed", "op", op, "error", err)
	writeJSON(w, 500, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
