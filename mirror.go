package dirmirror

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/aweris/dirmirror/internal/backend"
	"github.com/aweris/dirmirror/internal/cache"
	"github.com/aweris/dirmirror/internal/ignore"
	"github.com/aweris/dirmirror/internal/progress"
	"github.com/aweris/dirmirror/internal/store"
	"github.com/aweris/dirmirror/internal/tree"
)

// Mirror ties a backend to the path cache and merge memo.
type Mirror struct {
	opts     *Options
	db       *cache.DB // nil when caching is disabled
	scope    string    // backend identity the cached ids belong to
	backend  Backend
	memo     *cache.MergeMemo
	observer Observer
	log      *logrus.Entry
	fs       afero.Fs
	closed   atomic.Bool
}

// Open prepares a mirror. Without WithBackend a local store is opened in
// the store directory.
func Open(opts ...Option) (*Mirror, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	m := &Mirror{
		opts:     options,
		observer: options.Observer,
		log:      options.Logger,
		fs:       options.FS,
	}
	if m.log == nil {
		m.log = logrus.NewEntry(logrus.StandardLogger())
	}
	if m.observer == nil {
		m.observer = progress.Nop{}
	}
	if m.fs == nil {
		m.fs = afero.NewOsFs()
	}

	if options.CacheDir != "" {
		dir := expandPath(options.CacheDir)
		db, err := cache.Open(dir)
		switch {
		case err == nil:
			m.db = db
		case options.RequireCache:
			return nil, fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
		default:
			m.log.WithError(err).WithField("dir", dir).Warn("cache unavailable, continuing without it")
		}
	}

	m.backend = options.Backend
	if m.backend == nil {
		s, err := store.Open(expandPath(options.StoreDir), store.Options{
			Compression: options.Compression,
			Source:      m.fs,
		})
		if err != nil {
			_ = m.closeDB()
			return nil, fmt.Errorf("open store: %w", err)
		}
		m.backend = s
	}

	m.scope = backend.Identity(m.backend)
	if m.db != nil {
		m.log.WithField("scope", m.scope).Debug("cache scoped to backend")
	}
	m.memo = cache.NewMergeMemo(m.bucket(cache.MergeBucket), m.backend)
	return m, nil
}

// Backend returns the content store the mirror writes to.
func (m *Mirror) Backend() Backend { return m.backend }

// Cached reports whether a cache database is open.
func (m *Mirror) Cached() bool { return m.db != nil }

// Run mirrors the directory at root and returns its content id.
func (m *Mirror) Run(ctx context.Context, root string) (ContentID, error) {
	if m.closed.Load() {
		return "", ErrClosed
	}

	root, err := m.abs(root)
	if err != nil {
		return "", err
	}

	ignoreFile := m.opts.IgnoreFile
	if ignoreFile == "" {
		ignoreFile = filepath.Join(root, ignore.DefaultFile)
	}
	filter, err := ignore.Load(m.fs, expandPath(ignoreFile))
	if err != nil {
		return "", err
	}

	log := m.log.WithField("root", root)
	log.WithField("patterns", filter.Len()).Debug("mirroring")

	walker := &tree.Walker{
		FS:       m.fs,
		Cache:    m.contentCache(filter),
		Backend:  m.backend,
		Observer: m.observer,
		Log:      log,
		Jobs:     m.opts.Jobs,
	}
	t, err := walker.Walk(ctx, root)
	if err != nil {
		return "", err
	}

	id, err := tree.NewResolver(m.backend, m.memo, m.observer).Resolve(ctx, root, t)
	if err != nil {
		return "", err
	}

	hits, misses := m.memo.Stats()
	log.WithFields(logrus.Fields{
		"id":          id,
		"files":       t.FileCount(),
		"dirs":        len(t),
		"memo_hits":   hits,
		"memo_misses": misses,
	}).Info("mirrored")
	return id, nil
}

// Add adds a single file through the path cache.
func (m *Mirror) Add(ctx context.Context, path string) (ContentID, error) {
	if m.closed.Load() {
		return "", ErrClosed
	}
	path, err := m.abs(path)
	if err != nil {
		return "", err
	}
	return m.contentCache(nil).Resolve(ctx, filepath.Dir(path), path, m.backend.AddBlob)
}

// Empty returns the id of the empty directory.
func (m *Mirror) Empty(ctx context.Context) (ContentID, error) {
	if m.closed.Load() {
		return "", ErrClosed
	}
	return m.backend.NewEmptyDirectory(ctx)
}

// Merge attaches target to dir under name and returns the new directory.
func (m *Mirror) Merge(ctx context.Context, dir ContentID, name string, target ContentID) (ContentID, error) {
	if m.closed.Load() {
		return "", ErrClosed
	}
	return m.memo.Attach(ctx, dir, target, name)
}

func (m *Mirror) Stat(ctx context.Context, id ContentID) (ObjectStat, error) {
	if m.closed.Load() {
		return ObjectStat{}, ErrClosed
	}
	return m.backend.StatObject(ctx, id)
}

// Forget drops the cached id of path so the next run re-adds it.
func (m *Mirror) Forget(path string) error {
	if m.closed.Load() {
		return ErrClosed
	}
	path, err := m.abs(path)
	if err != nil {
		return err
	}
	return m.contentCache(nil).Forget(path)
}

// Close closes the cache database and the backend.
func (m *Mirror) Close() error {
	if m.closed.Swap(true) {
		return nil
	}

	var result *multierror.Error
	if err := m.closeDB(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close cache: %w", err))
	}
	if c, ok := m.backend.(io.Closer); ok {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close backend: %w", err))
		}
	}
	return result.ErrorOrNil()
}

func (m *Mirror) closeDB() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

func (m *Mirror) bucket(name string) cache.Bucket {
	if m.db == nil {
		return cache.Nop{}
	}
	return m.db.ScopedBucket(m.scope, name)
}

func (m *Mirror) contentCache(filter *ignore.Filter) *cache.ContentCache {
	opts := []cache.Option{cache.WithObserver(m.observer)}
	if filter != nil {
		opts = append(opts, cache.WithIgnore(filter))
	}
	if m.opts.Freshness != nil {
		opts = append(opts, cache.WithFreshness(m.opts.Freshness))
	}
	return cache.NewContentCache(m.bucket(cache.PathBucket), opts...)
}

func (m *Mirror) abs(path string) (string, error) {
	abs, err := filepath.Abs(expandPath(path))
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", path, err)
	}
	return abs, nil
}
