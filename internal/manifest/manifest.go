package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/renameio/v2"
)

// PackageRecord is one built package in the archive manifest.
type PackageRecord struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	BuildNumber int       `json:"build_number"`
	Status      string    `json:"status"`
	License     string    `json:"license,omitempty"`
	BuiltAt     time.Time `json:"built_at"`
}

// Document is the manifest file layout.
type Document struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Archive     string          `json:"archive"`
	Packages    []PackageRecord `json:"packages"`
}

// Generator writes the archive manifest summarizing a pipeline run. The
// manifest is advisory: a failed write never fails the run.
type Generator struct {
	Root    string
	Archive string
	Logger  *slog.Logger
}

// Generate writes {Root}/manifest.json atomically, packages sorted by name.
func (g *Generator) Generate(ctx context.Context, records []PackageRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(g.Root, 0o755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}

	sorted := append([]PackageRecord(nil), records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	doc := Document{
		GeneratedAt: time.Now().UTC(),
		Archive:     g.Archive,
		Packages:    sorted,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(g.Root, "manifest.json")
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	if g.Logger != nil {
		g.Logger.Info("manifest written", "path", path, "packages", len(sorted))
	}
	return nil
}

// Load reads a previously generated manifest.
func Load(root string) (*Document, error) {
	raw, err := os.ReadFile(filepath.Join(root, "manifest.json"))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &doc, nil
}
