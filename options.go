package dirmirror

import (
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/aweris/dirmirror/internal/compression"
)

// Options configures a Mirror.
type Options struct {
	// CacheDir holds cache.db. Empty disables caching.
	CacheDir string
	// RequireCache turns a cache that cannot be opened into an error
	// instead of a warning.
	RequireCache bool

	// Backend receives blobs and directories. When nil a local store is
	// opened in StoreDir.
	Backend     Backend
	StoreDir    string
	Compression compression.Level

	Observer Observer
	Logger   *logrus.Entry
	Jobs     int

	// IgnoreFile defaults to <root>/.mirrorignore.
	IgnoreFile string
	Freshness  FreshnessFunc
	FS         afero.Fs
}

// Option is a functional option for configuring Open.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		StoreDir:    DefaultStoreDir(),
		Compression: compression.LevelDefault,
		Jobs:        1,
	}
}

// WithCacheDir sets the directory holding the path cache and merge memo.
func WithCacheDir(dir string) Option {
	return func(o *Options) { o.CacheDir = dir }
}

func WithRequireCache(required bool) Option {
	return func(o *Options) { o.RequireCache = required }
}

// WithBackend sets the content store. The mirror closes it on Close if it
// implements io.Closer.
func WithBackend(b Backend) Option {
	return func(o *Options) { o.Backend = b }
}

// WithStoreDir sets where the default local store keeps its objects.
func WithStoreDir(dir string) Option {
	return func(o *Options) { o.StoreDir = dir }
}

func WithCompression(level compression.Level) Option {
	return func(o *Options) { o.Compression = level }
}

func WithObserver(obs Observer) Option {
	return func(o *Options) { o.Observer = obs }
}

func WithLogger(log *logrus.Entry) Option {
	return func(o *Options) { o.Logger = log }
}

// WithJobs sets how many files are added in parallel.
func WithJobs(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.Jobs = n
		}
	}
}

func WithIgnoreFile(path string) Option {
	return func(o *Options) { o.IgnoreFile = path }
}

// WithFreshness installs a check run on every path cache hit. Returning
// false discards the hit and re-adds the file.
func WithFreshness(fn FreshnessFunc) Option {
	return func(o *Options) { o.Freshness = fn }
}

// WithFS sets the filesystem trees are read from.
func WithFS(fsys afero.Fs) Option {
	return func(o *Options) { o.FS = fsys }
}

// DefaultCacheDir is $XDG_CACHE_HOME/dirmirror.
func DefaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "dirmirror")
	}
	if home, err := homedir.Dir(); err == nil {
		return filepath.Join(home, ".cache", "dirmirror")
	}
	return ".dirmirror-cache"
}

// DefaultStoreDir is $XDG_DATA_HOME/dirmirror.
func DefaultStoreDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "dirmirror")
	}
	if home, err := homedir.Dir(); err == nil {
		return filepath.Join(home, ".local", "share", "dirmirror")
	}
	return ".dirmirror"
}

func expandPath(path string) string {
	if expanded, err := homedir.Expand(path); err == nil {
		return expanded
	}
	return path
}
