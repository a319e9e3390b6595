package workspace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// Workspace manages the on-disk output tree: per-package build logs, the
// rebuild cache, and install prefixes.
type Workspace struct {
	Root string
}

func New(root string) *Workspace {
	return &Workspace{Root: root}
}

// Fingerprint identifies a recipe+source combination. A matching cached
// fingerprint means the package output is current and the build can be
// skipped.
func Fingerprint(recipeRaw []byte, sourceID string) string {
	h := sha256.New()
	h.Write(recipeRaw)
	h.Write([]byte{0})
	h.Write([]byte(sourceID))
	return hex.EncodeToString(h.Sum(nil))
}

func (w *Workspace) CheckCache(pkgName string, fingerprint string) bool {
	data, err := os.ReadFile(w.cachePath(pkgName))
	return err == nil && string(data) == fingerprint
}

func (w *Workspace) WriteCache(ctx context.Context, pkgName string, fingerprint string) error {
	if pkgName == "" {
		return fmt.Errorf("cache package name required")
	}
	return w.writeFile(w.cachePath(pkgName), []byte(fingerprint))
}

// WriteLog stores the combined build/test output for a package and returns
// the log path.
func (w *Workspace) WriteLog(ctx context.Context, pkgName string, content []byte) (string, error) {
	path := filepath.Join(w.Root, "logs", pkgName+".log")
	if err := w.writeFile(path, content); err != nil {
		return "", err
	}
	return path, nil
}

// Prefix returns the install prefix directory for a package, creating it.
func (w *Workspace) Prefix(pkgName string) (string, error) {
	path := filepath.Join(w.Root, "prefixes", pkgName)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("create prefix: %w", err)
	}
	return path, nil
}

func (w *Workspace) cachePath(pkgName string) string {
	return filepath.Join(w.Root, ".cache", pkgName)
}

// writeFile writes atomically so a crashed run never leaves a torn cache
// entry or log behind.
func (w *Workspace) writeFile(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	if err := renameio.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}
