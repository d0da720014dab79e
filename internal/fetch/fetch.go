// Package fetch downloads remote artifacts to a writer, with an optional
// on-disk cache keyed by URL. Transfers have no internal timeout: an
// installer run is expected to be bounded by its caller, not by this layer.
package fetch

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
)

// Fetcher retrieves URLs. With a cache directory configured, successful
// fetches are stored and replayed; without one every call hits the network.
type Fetcher struct {
	client   *http.Client
	cacheDir string
	log      hclog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithCacheDir enables the on-disk response cache rooted at dir.
func WithCacheDir(dir string) Option {
	return func(f *Fetcher) {
		f.cacheDir = dir
	}
}

// WithClient sets a custom HTTP client.
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.client = c
	}
}

// New creates a Fetcher.
func New(log hclog.Logger, opts ...Option) *Fetcher {
	f := &Fetcher{
		client: http.DefaultClient,
		log:    log,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.cacheDir != "" {
		f.log.Info("using fetch cache", "dir", f.cacheDir)
	} else {
		f.log.Info("making uncached requests")
	}
	return f
}

// Fetch writes the body of url to w. A non-2xx response is an error; there
// are no retries.
func (f *Fetcher) Fetch(url string, w io.Writer) error {
	if f.cacheDir != "" {
		if err := f.fetchCached(url, w); err != nil {
			return err
		}
		return nil
	}
	return f.fetchDirect(url, w)
}

func (f *Fetcher) fetchCached(url string, w io.Writer) error {
	path := f.cachePath(url)
	if cached, err := os.Open(path); err == nil {
		defer cached.Close()
		f.log.Debug("cache hit", "url", url)
		_, err := io.Copy(w, cached)
		return err
	}

	if err := os.MkdirAll(f.cacheDir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(f.cacheDir, ".fetch-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := f.fetchDirect(url, tmp); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	cached, err := os.Open(path)
	if err != nil {
		return err
	}
	defer cached.Close()
	_, err = io.Copy(w, cached)
	return err
}

func (f *Fetcher) fetchDirect(url string, w io.Writer) error {
	f.log.Debug("fetching", "url", url)
	resp, err := f.client.Get(url)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("fetch %s: unexpected status %s", url, resp.Status)
	}
	f.log.Info("fetching", "url", url, "bytes", resp.ContentLength)
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	f.log.Info("fetched", "url", url, "bytes", n)
	return nil
}

func (f *Fetcher) cachePath(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:]))
}
