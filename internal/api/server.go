// Package api provides the read-only HTTP API over stored runs.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/talgya/stratasim/internal/compare"
	"github.com/talgya/stratasim/internal/engine"
	"github.com/talgya/stratasim/internal/persistence"
	"github.com/talgya/stratasim/internal/social"
)

// maxCompareRuns caps how many runs one comparison may load.
const maxCompareRuns = 10

// Server serves stored runs over HTTP.
type Server struct {
	Store *persistence.Store
	Port  int
	Log   *slog.Logger

	compareLimiter *RateLimiter
}

// NewServer creates a server over store listening on port.
func NewServer(store *persistence.Store, port int, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		Store:          store,
		Port:           port,
		Log:            log,
		compareLimiter: NewRateLimiter(60, time.Minute),
	}
}

// TrustProxies lets the listed proxies (IPs or CIDRs) name the client in
// X-Forwarded-For for rate limiting.
func (s *Server) TrustProxies(proxies ...string) error {
	return s.compareLimiter.TrustProxies(proxies...)
}

// Handler returns the routed API with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/metrics", s.handleMetrics)
	mux.HandleFunc("GET /api/v1/runs", s.handleRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", s.handleRun)
	mux.HandleFunc("GET /api/v1/runs/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /api/v1/runs/{id}/events", s.handleEvents)

	// Comparisons load whole trajectories.
	mux.HandleFunc("GET /api/v1/compare", RateLimitMiddleware(s.compareLimiter, s.handleCompare))

	return corsMiddleware(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.Log.Info("HTTP API starting", "addr", srv.Addr)

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Log.Info("HTTP API stopping")
		return srv.Shutdown(shutdownCtx)
	}
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set STRATASIM_CORS_ORIGINS to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("STRATASIM_CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	runs, err := s.Store.ListRuns(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"name":    "stratasim",
		"runs":    len(runs),
		"metrics": len(social.MetricNames()),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, social.MetricNames())
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.Store.ListRuns(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	if state := r.URL.Query().Get("state"); state != "" {
		filtered := runs[:0]
		for _, run := range runs {
			if run.State.String() == state {
				filtered = append(filtered, run)
			}
		}
		runs = filtered
	}
	writeJSON(w, runs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sum, err := s.Store.GetRun(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	res, err := s.Store.LoadTrajectory(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}

	type runDetail struct {
		persistence.RunSummary
		Config   any               `json:"config"`
		Baseline social.Aggregates `json:"baseline"`
		Final    social.Aggregates `json:"final"`
	}
	writeJSON(w, runDetail{
		RunSummary: sum,
		Config:     res.Config,
		Baseline:   res.Baseline.Aggregates,
		Final:      res.Final().Aggregates,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := intParam(q.Get("from"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "from: "+err.Error())
		return
	}
	to, err := intParam(q.Get("to"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "to: "+err.Error())
		return
	}
	withAgents := false
	if a := q.Get("agents"); a != "" {
		if withAgents, err = strconv.ParseBool(a); err != nil {
			writeError(w, http.StatusBadRequest, "agents: "+err.Error())
			return
		}
	}

	hist, err := s.Store.LoadHistory(r.Context(), r.PathValue("id"), from, to, withAgents)
	if err != nil {
		s.fail(w, err)
		return
	}
	if hist == nil {
		hist = []social.Snapshot{}
	}
	writeJSON(w, hist)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), 100)
	if err != nil || limit > 1000 {
		writeError(w, http.StatusBadRequest, "limit must be an integer up to 1000")
		return
	}
	events, err := s.Store.Events(r.Context(), r.PathValue("id"), q.Get("category"), limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, events)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ids := splitList(q.Get("runs"))
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "runs is required")
		return
	}
	if len(ids) > maxCompareRuns {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d runs per comparison", maxCompareRuns))
		return
	}

	results := make([]*engine.Result, 0, len(ids))
	for _, id := range ids {
		res, err := s.Store.LoadTrajectory(r.Context(), id)
		if err != nil {
			s.fail(w, err)
			return
		}
		results = append(results, res)
	}

	table, err := compare.Align(results, splitList(q.Get("metrics"))...)
	if err != nil {
		s.fail(w, err)
		return
	}

	switch q.Get("format") {
	case "", "json":
		writeJSON(w, table)
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		if err := table.WriteCSV(w); err != nil {
			s.Log.Error("compare csv write failed", "error", err)
		}
	case "summary":
		writeJSON(w, table.Summarize())
	default:
		writeError(w, http.StatusBadRequest, "format must be json, csv or summary")
	}
}

// fail maps store and comparison errors to HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, persistence.ErrRunNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, compare.ErrUnknownMetric):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.Log.Error("api request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("must be non-negative, got %d", n)
	}
	return n, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
