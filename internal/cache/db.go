// Package cache implements the durable state of the mirror: the
// path→content-id cache and the merge memo.
//
// Both live in one LevelDB database under <dir>/cache.db, separated by key
// prefix. Every Put is committed on its own, so an interrupted run keeps
// everything it wrote and simply recomputes the rest next time.
package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Bucket names used by the mirror.
const (
	PathBucket  = "path"
	MergeBucket = "merge"
)

const dbName = "cache.db"

// Bucket is a namespaced string key-value store.
type Bucket interface {
	Get(key string) (value string, ok bool, err error)
	Put(key, value string) error
	Delete(key string) error
}

// DB is an open cache database.
type DB struct {
	db   *leveldb.DB
	path string
}

// Open opens or creates the cache database inside dir.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	path := filepath.Join(dir, dbName)
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", path, err)
	}
	return &DB{db: db, path: path}, nil
}

// OpenMemory returns a database that lives only as long as the process.
func OpenMemory() (*DB, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open memory cache: %w", err)
	}
	return &DB{db: db}, nil
}

// Path returns the on-disk location, empty for memory databases.
func (d *DB) Path() string { return d.path }

// Bucket returns the namespace called name.
func (d *DB) Bucket(name string) Bucket {
	return &levelBucket{db: d.db, prefix: []byte(name + "/")}
}

// ScopedBucket returns the namespace called name inside scope. Buckets of
// different scopes never see each other's keys. An empty scope is Bucket.
func (d *DB) ScopedBucket(scope, name string) Bucket {
	return d.Bucket(scopedName(scope, name))
}

func scopedName(scope, name string) string {
	if scope == "" {
		return name
	}
	return scope + "\x00" + name
}

// Len counts the keys stored in bucket name.
func (d *DB) Len(name string) (int, error) {
	it := d.db.NewIterator(util.BytesPrefix([]byte(name+"/")), nil)
	defer it.Release()

	n := 0
	for it.Next() {
		n++
	}
	return n, it.Error()
}

func (d *DB) Close() error {
	return d.db.Close()
}

type levelBucket struct {
	db     *leveldb.DB
	prefix []byte
}

func (b *levelBucket) key(k string) []byte {
	out := make([]byte, 0, len(b.prefix)+len(k))
	out = append(out, b.prefix...)
	return append(out, k...)
}

func (b *levelBucket) Get(key string) (string, bool, error) {
	v, err := b.db.Get(b.key(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache get %q: %w", key, err)
	}
	return string(v), true, nil
}

func (b *levelBucket) Put(key, value string) error {
	if err := b.db.Put(b.key(key), []byte(value), nil); err != nil {
		return fmt.Errorf("cache put %q: %w", key, err)
	}
	return nil
}

func (b *levelBucket) Delete(key string) error {
	if err := b.db.Delete(b.key(key), nil); err != nil {
		return fmt.Errorf("cache delete %q: %w", key, err)
	}
	return nil
}

// Nop is the bucket used when caching is disabled. Lookups always miss and
// writes are dropped.
type Nop struct{}

func (Nop) Get(string) (string, bool, error) { return "", false, nil }
func (Nop) Put(string, string) error         { return nil }
func (Nop) Delete(string) error              { return nil }
