package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FetchArtifact downloads a source archive into workDir, retrying transient
// failures, and verifies its SHA256 checksum. It returns the path of the
// downloaded file.
func (c *Client) FetchArtifact(ctx context.Context, url string, wantSHA256 string, workDir string) (string, error) {
	if workDir == "" {
		workDir = os.TempDir()
	}

	fileName := filepath.Base(strings.TrimSuffix(url, "/"))
	destPath := filepath.Join(workDir, fileName)

	if c.Logger != nil {
		c.Logger.Debug("downloading artifact", "url", url)
	}

	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}

	var lastErr error
	for attempt := range 3 {
		if attempt > 0 {
			if c.Logger != nil {
				c.Logger.Warn("retrying download", "url", url, "attempt", attempt+1, "error", lastErr)
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		lastErr = c.downloadOnce(ctx, url, wantSHA256, workDir, destPath)
		if lastErr == nil {
			return destPath, nil
		}
		if ctx.Err() != nil {
			return "", lastErr
		}
	}
	return "", lastErr
}

func (c *Client) downloadOnce(ctx context.Context, url string, wantSHA256 string, workDir string, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("download artifact: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("download artifact: status %s", resp.Status)
	}

	tmp, err := os.CreateTemp(workDir, ".artifact-*")
	if err != nil {
		return fmt.Errorf("create temp artifact file: %w", err)
	}
	tmpPath := tmp.Name()

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, hasher), resp.Body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write artifact file: %w", err)
	}
	_ = tmp.Close()

	if wantSHA256 != "" {
		got := hex.EncodeToString(hasher.Sum(nil))
		if !strings.EqualFold(got, wantSHA256) {
			_ = os.Remove(tmpPath)
			return fmt.Errorf("artifact checksum mismatch: got %s, want %s", got, wantSHA256)
		}
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename artifact file: %w", err)
	}
	return nil
}
