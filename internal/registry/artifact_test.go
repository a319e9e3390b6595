package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
)

func TestFetchArtifactVerifiesChecksum(t *testing.T) {
	body := []byte("source-tarball")
	sum := sha256.Sum256(body)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	}))
	defer server.Close()

	client := New(server.URL, []string{"main"}, []string{"linux-64"})
	client.HTTP = server.Client()

	path, err := client.FetchArtifact(context.Background(), server.URL+"/pool/p/pkg-1.0.tar.gz",
		hex.EncodeToString(sum[:]), t.TempDir())
	if err != nil {
		t.Fatalf("FetchArtifact: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(body) {
		t.Errorf("content mismatch: %q", got)
	}
}

func TestFetchArtifactRejectsBadChecksum(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("tampered"))
	}))
	defer server.Close()

	client := New(server.URL, []string{"main"}, []string{"linux-64"})
	client.HTTP = server.Client()

	wrong := "0000000000000000000000000000000000000000000000000000000000000000"
	if _, err := client.FetchArtifact(context.Background(), server.URL+"/pkg.tar.gz", wrong, t.TempDir()); err == nil {
		t.Fatal("expected checksum mismatch error")
	}
}

func TestFetchArtifactRetriesOnConnectionReset(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		if n == 1 {
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Fatal("server doesn't support hijacking")
			}
			conn, _, err := hj.Hijack()
			if err != nil {
				t.Fatal(err)
			}
			_ = conn.(*net.TCPConn).SetLinger(0)
			_ = conn.Close()
			return
		}
		_, _ = w.Write([]byte("artifact"))
	}))
	defer server.Close()

	client := New(server.URL, []string{"main"}, []string{"linux-64"})
	client.HTTP = server.Client()

	path, err := client.FetchArtifact(context.Background(), server.URL+"/pkg.tar.gz", "", t.TempDir())
	if err != nil {
		t.Fatalf("FetchArtifact failed: %v", err)
	}
	if path == "" {
		t.Fatal("expected non-empty path")
	}
	if got := attempts.Load(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestFetchArtifactFailsAfterAllRetries(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(server.URL, []string{"main"}, []string{"linux-64"})
	client.HTTP = server.Client()

	if _, err := client.FetchArtifact(context.Background(), server.URL+"/pkg.tar.gz", "", t.TempDir()); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if got := attempts.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}
