package registry

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func makeIndexGz(entries []Entry) []byte {
	var buf bytes.Buffer
	for _, e := range entries {
		fmt.Fprintf(&buf, "Name: %s\nVersion: %s\nFilename: %s\nSHA256: %s\n",
			e.Name, e.Version, e.Filename, e.SHA256)
		if len(e.Depends) > 0 {
			fmt.Fprintf(&buf, "Depends: ")
			for i, d := range e.Depends {
				if i > 0 {
					fmt.Fprintf(&buf, ", ")
				}
				fmt.Fprintf(&buf, "%s", d)
			}
			fmt.Fprintf(&buf, "\n")
		}
		fmt.Fprintf(&buf, "\n")
	}
	var gz bytes.Buffer
	w := gzip.NewWriter(&gz)
	_, _ = w.Write(buf.Bytes())
	_ = w.Close()
	return gz.Bytes()
}

func TestFetchIndexMergesChannels(t *testing.T) {
	main := makeIndexGz([]Entry{
		{Name: "numpy", Version: "1.26.4", Filename: "pool/n/numpy-1.26.4.tar.gz", SHA256: "aaa"},
		{Name: "pint", Version: "0.23", Filename: "pool/p/pint-0.23.tar.gz", SHA256: "bbb"},
	})
	testing_ := makeIndexGz([]Entry{
		{Name: "numpy", Version: "2.0.0", Filename: "pool/n/numpy-2.0.0.tar.gz", SHA256: "ccc"},
		{Name: "cantera", Version: "3.0.1", Filename: "pool/c/cantera-3.0.1.tar.gz", SHA256: "ddd",
			Depends: []string{"numpy >=1.24", "sundials"}},
	})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/channels/main/linux-64/index.gz":
			_, _ = w.Write(main)
		case "/channels/testing/linux-64/index.gz":
			_, _ = w.Write(testing_)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := New(server.URL, []string{"main", "testing"}, []string{"linux-64"})
	client.HTTP = server.Client()

	index, err := client.FetchIndex(context.Background())
	if err != nil {
		t.Fatalf("FetchIndex: %v", err)
	}

	if len(index) != 3 {
		t.Fatalf("expected 3 packages, got %d", len(index))
	}
	// numpy 2.0.0 should win over 1.26.4
	if index["numpy"].Version != "2.0.0" {
		t.Errorf("numpy version = %q, want 2.0.0", index["numpy"].Version)
	}
	if got := index["cantera"].Depends; len(got) != 2 || got[0] != "numpy >=1.24" {
		t.Errorf("cantera depends = %v", got)
	}
	if index["pint"].Channel != "main" {
		t.Errorf("pint channel = %q", index["pint"].Channel)
	}
}

func TestFetchIndexMissingChannelFails(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	client := New(server.URL, []string{"main"}, []string{"linux-64"})
	client.HTTP = server.Client()

	if _, err := client.FetchIndex(context.Background()); err == nil {
		t.Fatal("expected resolution failure for missing index")
	}
}

func TestFetchIndexUsesCache(t *testing.T) {
	var hits atomic.Int32
	payload := makeIndexGz([]Entry{{Name: "sympy", Version: "1.12", Filename: "pool/s/sympy.tar.gz", SHA256: "eee"}})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	client := New(server.URL, []string{"main"}, []string{"linux-64"})
	client.HTTP = server.Client()

	for range 3 {
		if _, err := client.FetchIndex(context.Background()); err != nil {
			t.Fatalf("FetchIndex: %v", err)
		}
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("expected 1 upstream fetch, got %d", got)
	}
}

func TestParseIndexSkipsIncompleteStanzas(t *testing.T) {
	raw := "Name: broken\n\nName: good\nVersion: 1.0\nFilename: pool/g/good.tar.gz\nSHA256: fff\n\n"
	entries, err := parseIndex(bytes.NewReader([]byte(raw)), "main")
	if err != nil {
		t.Fatalf("parseIndex: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "good" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestVersionGreater(t *testing.T) {
	tests := []struct {
		left, right string
		want        bool
	}{
		{"2.0", "1.0", true},
		{"1.0", "2.0", false},
		{"1.0", "1.0", false},
		{"1:1.0", "2.0", true},
		{"1.26.4", "1.26.4~rc1", true},
		{"1.0", "", true},
		{"", "1.0", false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_gt_%s", tt.left, tt.right), func(t *testing.T) {
			if got := versionGreater(tt.left, tt.right); got != tt.want {
				t.Errorf("versionGreater(%q, %q) = %v, want %v", tt.left, tt.right, got, tt.want)
			}
		})
	}
}
