// Package metadata retrieves the mirror status document, keeping a copy on
// disk that is reused while it is younger than the caller's TTL.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/BadgerOps/reflector/internal/mirror"
	"github.com/BadgerOps/reflector/internal/safety"
)

// DefaultURL is the upstream mirror status endpoint.
const DefaultURL = "https://archlinux.org/mirrors/status/json/"

// DefaultFileName is the cache file name inside the user cache directory.
const DefaultFileName = "mirrorstatus.json"

// ErrCacheCorrupt is returned when a fresh cache file cannot be decoded.
var ErrCacheCorrupt = errors.New("cached mirror status is unreadable")

// HTTPStatusError is returned when the status endpoint answers with anything
// other than 200 OK.
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %s for %s", e.Status, e.URL)
}

// Result is a retrieved status document and where it came from.
type Result struct {
	Status *mirror.Status
	// Retrieved is the cache file's modification time on a cache hit, or the
	// time of the network fetch otherwise.
	Retrieved time.Time
	FromCache bool
}

// Cache is a cache-or-fetch gate in front of the status endpoint. It does not
// interpret the document.
type Cache struct {
	client *http.Client
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// NewCache creates a cache backed by the file at path. An empty path disables
// the on-disk copy: every Fetch goes to the network and nothing is written.
func NewCache(client *http.Client, path string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		client: client,
		path:   path,
		logger: logger,
		now:    time.Now,
	}
}

// Path returns the cache file location.
func (c *Cache) Path() string {
	return c.path
}

// DefaultCachePath resolves the platform cache directory and returns the
// status cache file inside it.
func DefaultCachePath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("resolving user cache directory: %w", err)
	}
	return filepath.Join(dir, DefaultFileName), nil
}

// Fetch returns the status document. A cache file modified within ttl of now
// is decoded and returned without touching the network; otherwise url is
// fetched and the cache file is overwritten with the new document.
//
// A failed refetch is fatal: there is no fallback to the stale copy.
func (c *Cache) Fetch(ctx context.Context, url string, ttl time.Duration) (*Result, error) {
	if c.path != "" {
		if mtime, fresh := c.fresh(ttl); fresh {
			c.logger.Debug("using cached mirror status", "path", c.path, "modified", mtime)
			status, err := c.load()
			if err != nil {
				return nil, err
			}
			return &Result{Status: status, Retrieved: mtime, FromCache: true}, nil
		}
	}

	c.logger.Debug("fetching mirror status", "url", url)
	retrieved := c.now()
	data, err := c.download(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetching mirror status: %w", err)
	}

	status, err := mirror.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("parsing mirror status from %s: %w", url, err)
	}

	if c.path != "" {
		if err := c.store(status); err != nil {
			return nil, fmt.Errorf("writing mirror status cache: %w", err)
		}
		c.logger.Debug("mirror status cached", "path", c.path, "mirrors", len(status.URLs))
	}

	return &Result{Status: status, Retrieved: retrieved}, nil
}

// fresh reports whether the cache file is younger than ttl. Any problem
// reading the modification time counts as stale.
func (c *Cache) fresh(ttl time.Duration) (time.Time, bool) {
	info, err := os.Stat(c.path)
	if err != nil {
		return time.Time{}, false
	}
	mtime := info.ModTime()
	age := c.now().Sub(mtime)
	if age < 0 || age > ttl {
		return mtime, false
	}
	return mtime, true
}

func (c *Cache) load() (*mirror.Status, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheCorrupt, err)
	}
	status, err := mirror.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCacheCorrupt, c.path, err)
	}
	return status, nil
}

// store replaces the cache file through a temporary file in the same
// directory so readers never observe a partial document.
func (c *Cache) store(status *mirror.Status) error {
	data, err := mirror.Encode(status)
	if err != nil {
		return err
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating cache directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".mirrorstatus-*.json")
	if err != nil {
		return fmt.Errorf("creating temp cache file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp cache file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("setting cache file mode: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("replacing cache file: %w", err)
	}
	return nil
}

// download performs the GET and returns the bounded response body.
func (c *Cache) download(ctx context.Context, url string) ([]byte, error) {
	if _, err := safety.ValidateHTTPURL(url); err != nil {
		return nil, fmt.Errorf("invalid status URL: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "reflector/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPStatusError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := safety.ReadAllWithLimit(resp.Body, mirror.MaxStatusBytes)
	if err != nil {
		if errors.Is(err, safety.ErrBodyTooLarge) {
			return nil, fmt.Errorf("response exceeded %d bytes for %s: %w", mirror.MaxStatusBytes, url, err)
		}
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return body, nil
}
