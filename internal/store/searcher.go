package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// ErrNotFound marks lookups for builds that are not in the database.
var ErrNotFound = errors.New("build not found")

// Result is one log search hit.
type Result struct {
	ID      string `json:"id"`
	Package string `json:"package"`
	Version string `json:"version"`
	Status  string `json:"status"`
}

type SearchResponse struct {
	Total   uint64   `json:"total"`
	Results []Result `json:"results"`
}

// Searcher answers read-only queries against the build database.
type Searcher struct {
	db *sql.DB
}

// NewSearcher opens an existing build database read-only. Unlike the
// recorder it never creates the file: a missing database means no pipeline
// run has happened yet.
func NewSearcher(path string) (*Searcher, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("build db: %w", err)
	}
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	return &Searcher{db: db}, nil
}

func (s *Searcher) Close() error {
	return s.db.Close()
}

// Recent returns the latest build records, newest first.
func (s *Searcher) Recent(ctx context.Context, limit int) ([]Build, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, package, version, channel, status, duration_ms, created_at
		 FROM builds ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent builds query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	builds := make([]Build, 0)
	for rows.Next() {
		var b Build
		var durationMS int64
		var created string
		if err := rows.Scan(&b.ID, &b.Package, &b.Version, &b.Channel, &b.Status, &durationMS, &created); err != nil {
			return nil, fmt.Errorf("scan build: %w", err)
		}
		b.Duration = time.Duration(durationMS) * time.Millisecond
		if ts, err := time.Parse(time.RFC3339, created); err == nil {
			b.Created = ts
		}
		builds = append(builds, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate builds: %w", err)
	}
	return builds, nil
}

// Log returns the stored log text for one build.
func (s *Searcher) Log(ctx context.Context, id string) (string, error) {
	var log string
	err := s.db.QueryRowContext(ctx, `SELECT log FROM builds WHERE id = ?`, id).Scan(&log)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("build %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("build log query: %w", err)
	}
	return log, nil
}

// Search runs a full-text query over build logs, optionally filtered by
// package and status.
func (s *Searcher) Search(ctx context.Context, queryString string, pkg string, status string, limit int, offset int) (SearchResponse, error) {
	queryString = sanitizeQuery(queryString)
	if queryString == "" {
		return SearchResponse{Results: make([]Result, 0)}, nil
	}
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT b.id, b.package, b.version, b.status, COUNT(*) OVER() AS total
		 FROM builds_fts f
		 JOIN builds b ON b.rowid = f.rowid
		 WHERE builds_fts MATCH ?`
	args := []any{queryString}

	if pkg != "" {
		query += ` AND b.package = ?`
		args = append(args, pkg)
	}
	if status != "" {
		query += ` AND b.status = ?`
		args = append(args, status)
	}

	query += ` ORDER BY f.rank LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return SearchResponse{}, fmt.Errorf("search query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var resp SearchResponse
	resp.Results = make([]Result, 0)

	for rows.Next() {
		var r Result
		var total uint64
		if err := rows.Scan(&r.ID, &r.Package, &r.Version, &r.Status, &total); err != nil {
			return SearchResponse{}, fmt.Errorf("scan result: %w", err)
		}
		resp.Total = total
		resp.Results = append(resp.Results, r)
	}
	if err := rows.Err(); err != nil {
		return SearchResponse{}, fmt.Errorf("iterate results: %w", err)
	}

	return resp, nil
}

func sanitizeQuery(q string) string {
	q = strings.TrimSpace(q)
	if q == "" {
		return ""
	}

	var b strings.Builder
	for _, r := range q {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == ' ', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	q = strings.TrimSpace(b.String())
	if q == "" {
		return ""
	}

	terms := strings.Fields(q)
	for i, t := range terms {
		upper := strings.ToUpper(t)
		if upper == "AND" || upper == "OR" || upper == "NOT" {
			terms[i] = ""
			continue
		}
		terms[i] = `"` + t + `"` + "*"
	}

	var filtered []string
	for _, t := range terms {
		if t != "" {
			filtered = append(filtered, t)
		}
	}
	if len(filtered) == 0 {
		return ""
	}
	return strings.Join(filtered, " ")
}
