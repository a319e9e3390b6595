package registry

import (
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	debversion "pault.ag/go/debian/version"
)

// Entry is a single package candidate in an archive channel index.
type Entry struct {
	Name     string
	Version  string
	Filename string
	SHA256   string
	Channel  string
	Depends  []string
}

// Index maps package names to the preferred candidate after merging all
// channels and platforms.
type Index map[string]Entry

// Client fetches and parses archive channel indexes. Indexes are served as
// gzip-compressed stanza files at
// {archive}/channels/{channel}/{platform}/index.gz.
type Client struct {
	Archive   string
	Channels  []string
	Platforms []string
	HTTP      *http.Client
	Logger    *slog.Logger

	cacheOnce sync.Once
	cache     *lru.Cache[string, []Entry]
}

func New(archive string, channels []string, platforms []string) *Client {
	return &Client{
		Archive:   archive,
		Channels:  channels,
		Platforms: platforms,
		HTTP:      http.DefaultClient,
	}
}

const indexCacheSize = 32

// FetchIndex downloads every channel/platform index concurrently and merges
// them, preferring the newest version of each package. Channel order in the
// client fixes the fan-out order so merge results are deterministic.
func (c *Client) FetchIndex(ctx context.Context) (Index, error) {
	if len(c.Channels) == 0 || len(c.Platforms) == 0 {
		return nil, errors.New("registry client requires channels and platforms")
	}

	type fetchResult struct {
		entries []Entry
		err     error
	}

	type workItem struct {
		index    int
		channel  string
		platform string
	}
	var items []workItem
	for _, channel := range c.Channels {
		for _, platform := range c.Platforms {
			items = append(items, workItem{len(items), channel, platform})
		}
	}

	results := make([]fetchResult, len(items))
	var wg sync.WaitGroup
	for _, item := range items {
		wg.Add(1)
		go func(it workItem) {
			defer wg.Done()
			if c.Logger != nil {
				c.Logger.Info("fetching index", "channel", it.channel, "platform", it.platform)
			}
			entries, err := c.channelEntries(ctx, it.channel, it.platform)
			if err != nil {
				results[it.index] = fetchResult{err: fmt.Errorf("index %s/%s: %w", it.channel, it.platform, err)}
				return
			}
			if c.Logger != nil {
				c.Logger.Info("parsed index", "count", len(entries), "channel", it.channel, "platform", it.platform)
			}
			results[it.index] = fetchResult{entries: entries}
		}(item)
	}
	wg.Wait()

	merged := make(Index)
	for _, r := range results {
		if r.err != nil {
			return nil, r.err
		}
		for _, candidate := range r.entries {
			current, ok := merged[candidate.Name]
			if !ok || versionGreater(candidate.Version, current.Version) {
				merged[candidate.Name] = candidate
			}
		}
	}

	return merged, nil
}

// channelEntries returns the parsed entries for one channel/platform pair,
// consulting the in-process cache first so repeated resolutions in a single
// run do not re-fetch.
func (c *Client) channelEntries(ctx context.Context, channel string, platform string) ([]Entry, error) {
	c.cacheOnce.Do(func() {
		c.cache, _ = lru.New[string, []Entry](indexCacheSize)
	})

	url := c.indexURL(channel, platform)
	if cached, ok := c.cache.Get(url); ok {
		return cached, nil
	}

	reader, err := c.openIndex(ctx, url)
	if err != nil {
		return nil, err
	}
	entries, err := parseIndex(reader, channel)
	_ = reader.Close()
	if err != nil {
		return nil, err
	}

	c.cache.Add(url, entries)
	return entries, nil
}

func (c *Client) indexURL(channel string, platform string) string {
	return strings.TrimSuffix(c.Archive, "/") + "/channels/" + channel + "/" + platform + "/index.gz"
}

func (c *Client) openIndex(ctx context.Context, url string) (io.ReadCloser, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build index request: %w", err)
	}

	resp, err := c.HTTP.Do(request)
	if err != nil {
		return nil, fmt.Errorf("download index: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("download index: status %s", resp.Status)
	}

	return wrapGzipReader(resp.Body)
}

func wrapGzipReader(r io.ReadCloser) (io.ReadCloser, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	return &gzipReadCloser{ReadCloser: r, Reader: gz}, nil
}

type gzipReadCloser struct {
	io.ReadCloser
	Reader *gzip.Reader
}

func (g *gzipReadCloser) Read(p []byte) (int, error) {
	return g.Reader.Read(p)
}

func (g *gzipReadCloser) Close() error {
	_ = g.Reader.Close()
	return g.ReadCloser.Close()
}

func parseIndex(reader io.Reader, channel string) ([]Entry, error) {
	scanner := bufio.NewScanner(reader)
	buf := make([]byte, 0, 1024*1024)
	scanner.Buffer(buf, 10*1024*1024)
	fields := map[string]string{}
	var results []Entry

	flush := func() {
		if fields["Name"] == "" || fields["Version"] == "" {
			fields = map[string]string{}
			return
		}
		entry := Entry{
			Name:     fields["Name"],
			Version:  fields["Version"],
			Filename: fields["Filename"],
			SHA256:   fields["SHA256"],
			Channel:  channel,
		}
		if depends := fields["Depends"]; depends != "" {
			for _, dep := range strings.Split(depends, ",") {
				if dep = strings.TrimSpace(dep); dep != "" {
					entry.Depends = append(entry.Depends, dep)
				}
			}
		}
		results = append(results, entry)
		fields = map[string]string{}
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			flush()
			continue
		}
		parts := strings.SplitN(line, ": ", 2)
		if len(parts) != 2 {
			continue
		}
		key, value := parts[0], parts[1]
		switch key {
		case "Name", "Version", "Filename", "SHA256", "Depends":
			fields[key] = value
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan index: %w", err)
	}

	return results, nil
}

func versionGreater(left string, right string) bool {
	if right == "" {
		return true
	}
	l, err := debversion.Parse(left)
	if err != nil {
		return false
	}
	r, err := debversion.Parse(right)
	if err != nil {
		return false
	}
	return debversion.Compare(l, r) > 0
}
