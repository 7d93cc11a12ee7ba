// Package imagecache maintains the shared cache of read-only base images.
//
// Images are content-addressed by the trailing path segment of their
// source URL. Cached files are never re-validated or mutated; delete
// the cache directory to force a re-download.
package imagecache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// FetchError reports a failed or interrupted image transfer.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch image %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Cache resolves remote image references to local files.
type Cache struct {
	dir    string
	client *http.Client
	log    *logrus.Logger
}

// New creates a cache rooted at dir. The directory is created lazily on
// first Resolve.
func New(dir string, log *logrus.Logger) *Cache {
	return &Cache{
		dir:    dir,
		client: &http.Client{Timeout: 30 * time.Minute},
		log:    log,
	}
}

// Key derives the cache filename for an image reference: the trailing
// path segment of the URL, or the whole reference if it has no slash.
func Key(ref string) string {
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		return ref[i+1:]
	}
	return ref
}

// Resolve returns the local path for an image reference, downloading it
// on a cache miss. Hits are returned unchanged with no integrity check.
//
// Downloads go to a temporary name and are renamed into place on
// completion, so a failed transfer never leaves a half-written file
// visible under the final name.
func (c *Cache) Resolve(ctx context.Context, ref string) (string, error) {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("create image cache dir %s: %w", c.dir, err)
	}

	dest := filepath.Join(c.dir, Key(ref))
	if fi, err := os.Stat(dest); err == nil && fi.Mode().IsRegular() {
		c.log.WithField("image", dest).Info("using cached image")
		return dest, nil
	}

	c.log.WithField("url", ref).Info("downloading image")
	if err := c.fetch(ctx, ref, dest); err != nil {
		return "", &FetchError{URL: ref, Err: err}
	}
	return dest, nil
}

func (c *Cache) fetch(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	tmp := dest + ".partial-" + uuid.NewString()
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
