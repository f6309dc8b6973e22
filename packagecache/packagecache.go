// Package packagecache manages a cache of extracted conda packages on disk,
// coalescing concurrent requests for the same package into a single fetch.
//
// The cache does not know how to populate itself: callers supply a Fetch
// function invoked only when the requested package is neither already on
// disk (and valid) nor being fetched by another caller.
package packagecache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/quay/zlog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	rattler "github.com/mamba-org/rattler-go"
	"github.com/mamba-org/rattler-go/internal/singleflight"
	"github.com/mamba-org/rattler-go/validate"
)

// FetchFunc populates dst with the extracted contents of the package named
// by key. It is invoked with a destination directory that does not yet
// exist (or that failed validation and was cleared).
type FetchFunc func(ctx context.Context, dst string) error

// Cache manages a directory of extracted package directories, keyed by
// [rattler.CacheKey].
type Cache struct {
	root string

	mu      sync.Mutex
	entries map[rattler.CacheKey]string // committed, validated destinations

	sf singleflight.Group[rattler.CacheKey, string]
}

// New constructs a Cache rooted at dir. The directory is created if it does
// not already exist.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("packagecache: creating cache root: %w", err)
	}
	return &Cache{
		root:    dir,
		entries: make(map[rattler.CacheKey]string),
	}, nil
}

// Dir returns the on-disk directory a package named by key would occupy,
// whether or not it has been populated yet.
func (c *Cache) Dir(key rattler.CacheKey) string {
	return filepath.Join(c.root, key.String())
}

// GetOrFetch returns the directory containing the extracted contents of the
// package named by key. If the directory already exists and validates, it
// is returned immediately. If another caller is already fetching the same
// key, the request is coalesced onto that fetch. Otherwise fetch is called
// to populate the cache.
func (c *Cache) GetOrFetch(ctx context.Context, key rattler.CacheKey, fetch FetchFunc) (_ string, err error) {
	ctx, span := tracer.Start(ctx, "Cache.GetOrFetch", trace.WithAttributes(
		attribute.String("key", key.String()),
	))
	defer span.End()
	defer func() {
		span.RecordError(err)
		if err == nil {
			span.SetStatus(codes.Ok, "")
		} else {
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	c.mu.Lock()
	if dst, ok := c.entries[key]; ok {
		c.mu.Unlock()
		getOrFetchCounter.WithLabelValues("hit").Inc()
		return dst, nil
	}
	c.mu.Unlock()

	dst := c.Dir(key)
	ch := c.sf.DoChan(key, func() (string, error) {
		if err := validateOrFetch(ctx, dst, fetch); err != nil {
			return "", err
		}
		c.mu.Lock()
		c.entries[key] = dst
		c.mu.Unlock()
		return dst, nil
	})

	select {
	case res := <-ch:
		switch {
		case res.Err != nil:
			getOrFetchCounter.WithLabelValues("error").Inc()
		case res.Shared:
			getOrFetchCounter.WithLabelValues("coalesced").Inc()
		default:
			getOrFetchCounter.WithLabelValues("fetched").Inc()
		}
		return res.Val, res.Err
	case <-ctx.Done():
		c.sf.Forget(key)
		getOrFetchCounter.WithLabelValues("error").Inc()
		return "", context.Cause(ctx)
	}
}

// validateOrFetch checks whether path already holds a validated package
// directory, and only calls fetch when it doesn't.
func validateOrFetch(ctx context.Context, path string, fetch FetchFunc) error {
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		if _, err := validate.Directory(path); err == nil {
			zlog.Debug(ctx).Str("path", path).Msg("packagecache: cache hit")
			return nil
		} else {
			zlog.Warn(ctx).Str("path", path).Err(err).Msg("packagecache: invalid cache entry, refetching")
			if err := os.RemoveAll(path); err != nil {
				return fmt.Errorf("packagecache: clearing invalid entry: %w", err)
			}
		}
	}
	if err := fetch(ctx, path); err != nil {
		return fmt.Errorf("packagecache: fetch: %w", err)
	}
	return nil
}

// Identifier names a package independent of where it came from: the triple
// that forms its cache key text, parsed from an archive filename or URL.
type Identifier struct {
	Name    string
	Version string
	Build   string
}

// String renders the identifier in "<name>-<version>-<build>" form.
func (id Identifier) String() string {
	return fmt.Sprintf("%s-%s-%s", id.Name, id.Version, id.Build)
}

// IdentifierFromFilename parses an archive filename of the form
// "<name>-<version>-<build>.tar.bz2" or "<name>-<version>-<build>.conda"
// into its constituent parts.
func IdentifierFromFilename(filename string) (Identifier, bool) {
	base := filename
	for _, ext := range []string{".tar.bz2", ".conda"} {
		if strings.HasSuffix(base, ext) {
			base = strings.TrimSuffix(base, ext)
			break
		}
	}
	parts := strings.Split(base, "-")
	if len(parts) < 3 {
		return Identifier{}, false
	}
	n := len(parts)
	build := parts[n-1]
	version := parts[n-2]
	name := strings.Join(parts[:n-2], "-")
	if name == "" || version == "" || build == "" {
		return Identifier{}, false
	}
	return Identifier{Name: name, Version: version, Build: build}, true
}

// IdentifierFromURL parses the final path segment of a URL as an archive
// filename.
func IdentifierFromURL(url string) (Identifier, bool) {
	s := url
	if i := strings.LastIndexAny(s, "/\\"); i != -1 {
		s = s[i+1:]
	}
	return IdentifierFromFilename(s)
}
