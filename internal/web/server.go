package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cirelab/recipeforge/internal/config"
	"github.com/cirelab/recipeforge/internal/metrics"
	"github.com/cirelab/recipeforge/internal/store"
)

// Server exposes the build database over a small JSON API. It reads the
// same SQLite file the pipeline writes; the pipeline itself never talks to
// the server.
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	searcher *store.Searcher
}

func NewServer(cfg *config.Config, logger *slog.Logger) *Server {
	searcher, err := store.NewSearcher(cfg.StatePath())
	if err != nil {
		logger.Warn("build database unavailable", "error", err)
	}
	return &Server{
		cfg:      cfg,
		logger:   logger,
		searcher: searcher,
	}
}

func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("listening", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// Handler builds the route table. Split from ListenAndServe for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/builds", s.handleBuilds)
	mux.HandleFunc("/api/builds/", s.handleBuildLog)
	mux.HandleFunc("/api/search", s.handleSearch)
	mux.Handle("/manifest.json", http.FileServer(http.Dir(s.cfg.OutputDir)))
	mux.Handle("/metrics", metrics.Handler())
	return s.logRequests(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"channels": s.cfg.ChannelNames(),
	})
}

type buildView struct {
	ID       string `json:"id"`
	Package  string `json:"package"`
	Version  string `json:"version"`
	Channel  string `json:"channel"`
	Status   string `json:"status"`
	Duration string `json:"duration"`
	Created  string `json:"created"`
}

func (s *Server) handleBuilds(w http.ResponseWriter, r *http.Request) {
	if s.searcher == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "build database unavailable"})
		return
	}

	limit := parseIntQuery(r, "limit", 50)
	builds, err := s.searcher.Recent(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	views := make([]buildView, 0, len(builds))
	for _, b := range builds {
		views = append(views, buildView{
			ID:       b.ID,
			Package:  b.Package,
			Version:  b.Version,
			Channel:  b.Channel,
			Status:   b.Status,
			Duration: b.Duration.String(),
			Created:  b.Created.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"builds": views})
}

// handleBuildLog serves /api/builds/{id}/log as plain text.
func (s *Server) handleBuildLog(w http.ResponseWriter, r *http.Request) {
	if s.searcher == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "build database unavailable"})
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/builds/")
	id, ok := strings.CutSuffix(rest, "/log")
	if !ok || id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	log, err := s.searcher.Log(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(log))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.searcher == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "build database unavailable"})
		return
	}

	query := r.URL.Query().Get("q")
	pkg := r.URL.Query().Get("package")
	status := r.URL.Query().Get("status")
	limit := parseIntQuery(r, "limit", 50)
	offset := parseIntQuery(r, "offset", 0)

	results, err := s.searcher.Search(r.Context(), query, pkg, status, limit, offset)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.statusCode = http.StatusOK
		rw.written = true
	}
	return rw.ResponseWriter.Write(b)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w}
		next.ServeHTTP(rw, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", filepath.Clean(r.URL.Path),
			"status", rw.statusCode,
			"duration", time.Since(start),
		)
	})
}

func parseIntQuery(r *http.Request, key string, fallback int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
