package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// schema creates the build history tables. Build records persist across
// runs, so creation is idempotent rather than drop-and-recreate.
const schema = `
CREATE TABLE IF NOT EXISTS builds (
	id TEXT PRIMARY KEY,
	package TEXT NOT NULL,
	version TEXT NOT NULL,
	channel TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	log TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS builds_package_idx ON builds(package, created_at);

CREATE VIRTUAL TABLE IF NOT EXISTS builds_fts USING fts5(
	package, log,
	content='builds',
	content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS builds_ai AFTER INSERT ON builds BEGIN
	INSERT INTO builds_fts(rowid, package, log)
	VALUES (new.rowid, new.package, new.log);
END;

CREATE TRIGGER IF NOT EXISTS builds_ad AFTER DELETE ON builds BEGIN
	INSERT INTO builds_fts(builds_fts, rowid, package, log)
	VALUES ('delete', old.rowid, old.package, old.log);
END;

CREATE TRIGGER IF NOT EXISTS builds_au AFTER UPDATE ON builds BEGIN
	INSERT INTO builds_fts(builds_fts, rowid, package, log)
	VALUES ('delete', old.rowid, old.package, old.log);
	INSERT INTO builds_fts(rowid, package, log)
	VALUES (new.rowid, new.package, new.log);
END;
`

func openDB(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open build db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	return db, nil
}
