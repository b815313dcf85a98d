package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/aweris/dirmirror/internal/backend"
	"github.com/aweris/dirmirror/internal/compression"
)

var (
	ErrLocked   = errors.New("store: locked by another process")
	ErrNotFound = errors.New("store: object not found")
	ErrNotTree  = errors.New("store: object is not a directory")
)

// DefaultCacheSize is the number of decoded objects kept in memory.
const DefaultCacheSize = 4096

// Options configures a LocalStore.
type Options struct {
	CacheSize   int
	Compression compression.Level

	// Source is the filesystem AddBlob reads files from.
	Source afero.Fs
}

// LocalStore keeps objects on the local filesystem and implements
// backend.Backend.
type LocalStore struct {
	dir        string
	identity   string
	lock       *flock.Flock
	cache      Cache
	compressor *compression.Compressor
	source     afero.Fs
}

var (
	_ backend.Backend    = (*LocalStore)(nil)
	_ backend.Identifier = (*LocalStore)(nil)
	_ Objects            = (*LocalStore)(nil)
)

// Open opens or creates the store in dir and takes its lock.
func Open(dir string, opts Options) (*LocalStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve store dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "objects"), 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	lock := flock.New(filepath.Join(dir, "LOCK"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock store: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", dir, ErrLocked)
	}

	instance, err := instanceID(dir)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	level := opts.Compression
	if level == "" {
		level = compression.LevelDefault
	}
	compressor, err := compression.NewCompressor(level)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("create compressor: %w", err)
	}

	size := opts.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	source := opts.Source
	if source == nil {
		source = afero.NewOsFs()
	}

	return &LocalStore{
		dir:        dir,
		identity:   "local:" + abs + "#" + instance,
		lock:       lock,
		cache:      NewLRUCache(size),
		compressor: compressor,
		source:     source,
	}, nil
}

// Identity names this store by its absolute directory and the instance id
// written when the store was created, so a wiped store is a new store.
func (s *LocalStore) Identity() string { return s.identity }

// instanceID reads dir/ID, creating it on first open.
func instanceID(dir string) (string, error) {
	path := filepath.Join(dir, "ID")
	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("read store id: %w", err)
	}

	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write store id: %w", err)
	}
	return id, nil
}

// Dir returns the store directory.
func (s *LocalStore) Dir() string { return s.dir }

// Close releases the lock. The store must not be used afterwards.
func (s *LocalStore) Close() error {
	_ = s.compressor.Close()
	return s.lock.Unlock()
}

// Get retrieves an object by id.
func (s *LocalStore) Get(ctx context.Context, id string) ([]byte, error) {
	if _, err := parseHash(id); err != nil {
		return nil, err
	}
	if data, ok := s.cache.Get(id); ok {
		return data, nil
	}

	compressed, err := os.ReadFile(s.objectPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("read object: %w", err)
	}

	data, err := s.compressor.Decompress(compressed)
	if err != nil {
		return nil, fmt.Errorf("decompress object %s: %w", id, err)
	}

	s.cache.Add(id, data)
	return data, nil
}

// Put stores an encoded object and returns its id.
func (s *LocalStore) Put(ctx context.Context, data []byte) (string, error) {
	id := hashObject(data)
	if err := s.write(id, data); err != nil {
		return "", err
	}
	return id, nil
}

func (s *LocalStore) write(id string, data []byte) error {
	path := s.objectPath(id)
	if _, err := os.Stat(path); err == nil {
		s.cache.Add(id, data)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}

	// rename keeps readers from seeing half-written objects after an interrupt
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create object: %w", err)
	}
	_, err = tmp.Write(s.compressor.Compress(data))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write object: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write object: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("commit object: %w", err)
	}

	s.cache.Add(id, data)
	return nil
}

// Has checks if an object exists.
func (s *LocalStore) Has(ctx context.Context, id string) (bool, error) {
	if _, err := parseHash(id); err != nil {
		return false, err
	}
	if s.cache.Has(id) {
		return true, nil
	}

	_, err := os.Stat(s.objectPath(id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// AddBlob stores the file at path as a blob.
func (s *LocalStore) AddBlob(ctx context.Context, path string) (backend.ContentID, error) {
	content, err := afero.ReadFile(s.source, path)
	if err != nil {
		return "", backend.Fail("add", path, err)
	}

	id, err := s.Put(ctx, encodeBlob(content))
	if err != nil {
		return "", backend.Fail("add", path, err)
	}
	return backend.ContentID(id), nil
}

// NewEmptyDirectory stores and returns the tree with no entries.
func (s *LocalStore) NewEmptyDirectory(ctx context.Context) (backend.ContentID, error) {
	id, err := s.Put(ctx, encodeTree(nil))
	if err != nil {
		return "", backend.Fail("new-dir", "", err)
	}
	return backend.ContentID(id), nil
}

// AttachLink stores a copy of tree dir with name pointing at target,
// replacing an existing entry of the same name.
func (s *LocalStore) AttachLink(ctx context.Context, dir backend.ContentID, name string, target backend.ContentID) (backend.ContentID, error) {
	id, err := s.attachLink(ctx, string(dir), name, string(target))
	if err != nil {
		return "", backend.Fail("add-link", name, err)
	}
	return backend.ContentID(id), nil
}

func (s *LocalStore) attachLink(ctx context.Context, dir, name, target string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsRune(name, '/') {
		return "", fmt.Errorf("invalid link name %q", name)
	}

	entries, err := s.readTree(ctx, dir)
	if err != nil {
		return "", err
	}

	hash, err := parseHash(target)
	if err != nil {
		return "", err
	}
	data, err := s.Get(ctx, target)
	if err != nil {
		return "", err
	}
	kind, _, err := splitObject(data)
	if err != nil {
		return "", err
	}

	entry := treeEntry{Name: name, Mode: fileMode, Hash: hash}
	if kind == treeType {
		entry.Mode = dirMode
	}

	replaced := false
	for i := range entries {
		if entries[i].Name == name {
			entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, entry)
	}

	return s.Put(ctx, encodeTree(entries))
}

func (s *LocalStore) readTree(ctx context.Context, id string) ([]treeEntry, error) {
	data, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	kind, payload, err := splitObject(data)
	if err != nil {
		return nil, err
	}
	if kind != treeType {
		return nil, fmt.Errorf("%s: %w", id, ErrNotTree)
	}
	return decodeTree(payload)
}

// StatObject reports sizes for id. CumulativeSize counts every encoded
// object reachable from id once per link, like a recursive listing would.
func (s *LocalStore) StatObject(ctx context.Context, id backend.ContentID) (backend.ObjectStat, error) {
	seen := make(map[string]int64)
	stat, err := s.stat(ctx, string(id), seen)
	if err != nil {
		return backend.ObjectStat{}, backend.Fail("stat", string(id), err)
	}
	return stat, nil
}

func (s *LocalStore) stat(ctx context.Context, id string, seen map[string]int64) (backend.ObjectStat, error) {
	if err := ctx.Err(); err != nil {
		return backend.ObjectStat{}, err
	}

	data, err := s.Get(ctx, id)
	if err != nil {
		return backend.ObjectStat{}, err
	}
	kind, payload, err := splitObject(data)
	if err != nil {
		return backend.ObjectStat{}, err
	}

	stat := backend.ObjectStat{ID: backend.ContentID(id), CumulativeSize: int64(len(data))}
	if kind == blobType {
		stat.Kind = backend.KindBlob
		stat.Size = int64(len(payload))
		return stat, nil
	}

	entries, err := decodeTree(payload)
	if err != nil {
		return backend.ObjectStat{}, err
	}
	stat.Kind = backend.KindDirectory
	stat.Size = int64(len(data))
	stat.Links = len(entries)

	for _, e := range entries {
		child := fmt.Sprintf("%x", e.Hash)
		size, ok := seen[child]
		if !ok {
			cs, err := s.stat(ctx, child, seen)
			if err != nil {
				return backend.ObjectStat{}, err
			}
			size = cs.CumulativeSize
			seen[child] = size
		}
		stat.CumulativeSize += size
	}
	return stat, nil
}

// Collect returns every encoded object reachable from root, keyed by id.
func (s *LocalStore) Collect(ctx context.Context, root string) (map[string][]byte, error) {
	objects := make(map[string][]byte)
	if err := s.collect(ctx, root, objects); err != nil {
		return nil, err
	}
	return objects, nil
}

func (s *LocalStore) collect(ctx context.Context, id string, objects map[string][]byte) error {
	if _, ok := objects[id]; ok {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	objects[id] = data

	kind, payload, err := splitObject(data)
	if err != nil {
		return err
	}
	if kind != treeType {
		return nil
	}

	entries, err := decodeTree(payload)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := s.collect(ctx, fmt.Sprintf("%x", e.Hash), objects); err != nil {
			return err
		}
	}
	return nil
}

// Import stores objects received from elsewhere, checking each id.
func (s *LocalStore) Import(ctx context.Context, objects map[string][]byte) error {
	for id, data := range objects {
		if err := ctx.Err(); err != nil {
			return err
		}
		if got := hashObject(data); got != id {
			return fmt.Errorf("import %s: %w: content hashes to %s", id, errBadObject, got)
		}
		if err := s.write(id, data); err != nil {
			return fmt.Errorf("import %s: %w", id, err)
		}
	}
	return nil
}

// objectPath shards objects by the first two hex digits: objects/ab/cd123...
func (s *LocalStore) objectPath(id string) string {
	if len(id) < 2 {
		return filepath.Join(s.dir, "objects", id)
	}
	return filepath.Join(s.dir, "objects", id[:2], id[2:])
}
