package builder

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// SourceExtractor unpacks downloaded source archives into per-build
// temporary directories.
type SourceExtractor struct {
	WorkDir string
}

func NewSourceExtractor(workDir string) *SourceExtractor {
	return &SourceExtractor{WorkDir: workDir}
}

// Extract unpacks an archive and returns the source root along with a
// cleanup function. When the archive contains a single top-level directory
// (the usual sdist layout) that directory is the root.
func (e *SourceExtractor) Extract(ctx context.Context, archivePath string) (string, func() error, error) {
	tempDir, err := os.MkdirTemp(e.WorkDir, "source-")
	if err != nil {
		return "", nil, fmt.Errorf("create temp dir: %w", err)
	}

	cleanup := func() error {
		return os.RemoveAll(tempDir)
	}

	cmd := exec.CommandContext(ctx, "tar", "-xaf", archivePath, "-C", tempDir)
	if output, err := cmd.CombinedOutput(); err != nil {
		_ = cleanup()
		return "", nil, fmt.Errorf("extract source: %w: %s", err, strings.TrimSpace(string(output)))
	}

	root, err := sourceRoot(tempDir)
	if err != nil {
		_ = cleanup()
		return "", nil, err
	}

	return root, cleanup, nil
}

func sourceRoot(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read extracted dir: %w", err)
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dir, entries[0].Name()), nil
	}
	return dir, nil
}
