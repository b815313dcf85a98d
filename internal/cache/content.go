package cache

import (
	"context"
	"fmt"

	"github.com/aweris/dirmirror/internal/backend"
	"github.com/aweris/dirmirror/internal/ignore"
	"github.com/aweris/dirmirror/internal/progress"
)

// ComputeFunc produces the content id of the file at path, normally
// Backend.AddBlob.
type ComputeFunc func(ctx context.Context, path string) (backend.ContentID, error)

// FreshnessFunc decides whether a cached id may still be used for path.
// Returning false forces a recompute and overwrites the entry.
type FreshnessFunc func(path string, cached backend.ContentID) bool

// ContentCache is a read-through cache from file path to content id.
//
// A hit is trusted as is: nothing checks whether the file changed since the
// entry was written. If a path starts holding different content between runs
// the stale id is returned until the entry is forgotten or Freshness is set.
// Paths matched by the ignore filter never touch the cache.
type ContentCache struct {
	bucket    Bucket
	ignore    *ignore.Filter
	observer  progress.Observer
	freshness FreshnessFunc
}

// Option configures a ContentCache.
type Option func(*ContentCache)

// WithIgnore sets the filter of paths that bypass the cache.
func WithIgnore(f *ignore.Filter) Option {
	return func(c *ContentCache) { c.ignore = f }
}

// WithObserver sets the receiver of hit and miss events.
func WithObserver(o progress.Observer) Option {
	return func(c *ContentCache) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithFreshness installs a staleness check for cache hits.
func WithFreshness(fn FreshnessFunc) Option {
	return func(c *ContentCache) { c.freshness = fn }
}

// NewContentCache returns a cache over bucket. A nil bucket disables caching.
func NewContentCache(bucket Bucket, opts ...Option) *ContentCache {
	if bucket == nil {
		bucket = Nop{}
	}
	c := &ContentCache{bucket: bucket, observer: progress.Nop{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached id for path.
func (c *ContentCache) Get(path string) (backend.ContentID, bool, error) {
	v, ok, err := c.bucket.Get(path)
	return backend.ContentID(v), ok, err
}

// Put stores id for path.
func (c *ContentCache) Put(path string, id backend.ContentID) error {
	return c.bucket.Put(path, string(id))
}

// Forget drops the entry for path so the next run recomputes it.
func (c *ContentCache) Forget(path string) error {
	return c.bucket.Delete(path)
}

// Ignored reports whether path, under root, bypasses the cache.
func (c *ContentCache) Ignored(root, path string) bool {
	return c.ignore.Matches(root, path)
}

// Resolve returns the content id of path, consulting the cache unless path
// is ignored relative to root.
func (c *ContentCache) Resolve(ctx context.Context, root, path string, compute ComputeFunc) (backend.ContentID, error) {
	if c.Ignored(root, path) {
		id, err := compute(ctx, path)
		if err != nil {
			return "", err
		}
		c.observer.OnMiss(path)
		return id, nil
	}

	id, ok, err := c.Get(path)
	if err != nil {
		return "", err
	}
	if ok && (c.freshness == nil || c.freshness(path, id)) {
		c.observer.OnHit(path)
		return id, nil
	}

	id, err = compute(ctx, path)
	if err != nil {
		return "", err
	}
	if err := c.Put(path, id); err != nil {
		return "", fmt.Errorf("store %s: %w", path, err)
	}
	c.observer.OnMiss(path)
	return id, nil
}
