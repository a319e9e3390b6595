package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Build statuses as stored.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// Build is one recorded pipeline outcome for a package.
type Build struct {
	ID       string        `json:"id"`
	Package  string        `json:"package"`
	Version  string        `json:"version"`
	Channel  string        `json:"channel,omitempty"`
	Status   string        `json:"status"`
	Duration time.Duration `json:"duration"`
	Log      string        `json:"-"`
	Created  time.Time     `json:"created_at"`
}

// Recorder writes build records. Safe for concurrent use by the pipeline's
// per-recipe goroutines.
type Recorder struct {
	mu         sync.Mutex
	db         *sql.DB
	insertStmt *sql.Stmt
}

func NewRecorder(path string) (*Recorder, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	stmt, err := db.Prepare(`INSERT INTO builds (id, package, version, channel, status, duration_ms, log, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("prepare insert: %w", err)
	}

	return &Recorder{db: db, insertStmt: stmt}, nil
}

func (r *Recorder) Record(ctx context.Context, build Build) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if build.ID == "" {
		build.ID = uuid.NewString()
	}
	if build.Created.IsZero() {
		build.Created = time.Now().UTC()
	}

	_, err := r.insertStmt.ExecContext(ctx,
		build.ID,
		build.Package,
		build.Version,
		build.Channel,
		build.Status,
		build.Duration.Milliseconds(),
		build.Log,
		build.Created.Format(time.RFC3339),
	)
	if err != nil {
		return "", fmt.Errorf("record build %s: %w", build.Package, err)
	}
	return build.ID, nil
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_ = r.insertStmt.Close()
	return r.db.Close()
}
