package cache_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/dirmirror/internal/backend"
	"github.com/aweris/dirmirror/internal/backend/backendtest"
	"github.com/aweris/dirmirror/internal/cache"
	"github.com/aweris/dirmirror/internal/ignore"
	"github.com/aweris/dirmirror/internal/progress"
)

func openMemory(t *testing.T) *cache.DB {
	t.Helper()
	db, err := cache.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestResolve_HitSkipsCompute(t *testing.T) {
	t.Parallel()

	db := openMemory(t)
	counters := &progress.Counters{}
	c := cache.NewContentCache(db.Bucket(cache.PathBucket), cache.WithObserver(counters))
	require.NoError(t, c.Put("/a/b.txt", "ID1"))

	stub := backendtest.New()
	stub.Blobs["/a/b.txt"] = "ID2"

	id, err := c.Resolve(context.Background(), "/a", "/a/b.txt", stub.AddBlob)
	require.NoError(t, err)
	assert.Equal(t, backend.ContentID("ID1"), id)
	assert.Empty(t, stub.Adds())
	assert.Equal(t, int64(1), counters.Summary().Hits)
}

func TestResolve_MissStoresResult(t *testing.T) {
	t.Parallel()

	db := openMemory(t)
	counters := &progress.Counters{}
	c := cache.NewContentCache(db.Bucket(cache.PathBucket), cache.WithObserver(counters))
	stub := backendtest.New()

	id, err := c.Resolve(context.Background(), "/a", "/a/b.txt", stub.AddBlob)
	require.NoError(t, err)
	assert.Equal(t, backend.ContentID("H(b.txt)"), id)

	cached, ok, err := c.Get("/a/b.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, cached)
	assert.Equal(t, int64(1), counters.Summary().Misses)

	_, err = c.Resolve(context.Background(), "/a", "/a/b.txt", stub.AddBlob)
	require.NoError(t, err)
	assert.Len(t, stub.Adds(), 1)
}

func TestResolve_IgnoredNeverTouchesCache(t *testing.T) {
	t.Parallel()

	db := openMemory(t)
	bucket := db.Bucket(cache.PathBucket)
	c := cache.NewContentCache(bucket, cache.WithIgnore(ignore.New("gen.txt")))
	require.NoError(t, bucket.Put("/r/gen.txt", "STALE"))

	stub := backendtest.New()
	for i := 0; i < 3; i++ {
		id, err := c.Resolve(context.Background(), "/r", "/r/gen.txt", stub.AddBlob)
		require.NoError(t, err)
		assert.Equal(t, backend.ContentID("H(gen.txt)"), id)
	}
	assert.Len(t, stub.Adds(), 3)

	v, ok, err := bucket.Get("/r/gen.txt")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "STALE", v)
}

func TestResolve_ComputeErrorStoresNothing(t *testing.T) {
	t.Parallel()

	db := openMemory(t)
	c := cache.NewContentCache(db.Bucket(cache.PathBucket))
	stub := backendtest.New()
	stub.Err = errors.New("daemon not running")

	_, err := c.Resolve(context.Background(), "/r", "/r/a", stub.AddBlob)
	var bse *backend.BackingStoreError
	require.ErrorAs(t, err, &bse)
	assert.Equal(t, "add", bse.Op)

	_, ok, err := c.Get("/r/a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolve_Freshness(t *testing.T) {
	t.Parallel()

	db := openMemory(t)
	stale := true
	c := cache.NewContentCache(db.Bucket(cache.PathBucket), cache.WithFreshness(func(string, backend.ContentID) bool {
		return !stale
	}))
	require.NoError(t, c.Put("/r/a", "OLD"))

	stub := backendtest.New()
	id, err := c.Resolve(context.Background(), "/r", "/r/a", stub.AddBlob)
	require.NoError(t, err)
	assert.Equal(t, backend.ContentID("H(a)"), id)

	stale = false
	id, err = c.Resolve(context.Background(), "/r", "/r/a", stub.AddBlob)
	require.NoError(t, err)
	assert.Equal(t, backend.ContentID("H(a)"), id)
	assert.Len(t, stub.Adds(), 1)
}

func TestNopBucket(t *testing.T) {
	t.Parallel()

	c := cache.NewContentCache(nil)
	require.NoError(t, c.Put("/r/a", "X"))

	_, ok, err := c.Get("/r/a")
	require.NoError(t, err)
	assert.False(t, ok)

	stub := backendtest.New()
	for i := 0; i < 2; i++ {
		_, err := c.Resolve(context.Background(), "/r", "/r/a", stub.AddBlob)
		require.NoError(t, err)
	}
	assert.Len(t, stub.Adds(), 2)
}

func TestForget(t *testing.T) {
	t.Parallel()

	db := openMemory(t)
	c := cache.NewContentCache(db.Bucket(cache.PathBucket))
	require.NoError(t, c.Put("/r/a", "X"))
	require.NoError(t, c.Forget("/r/a"))

	_, ok, err := c.Get("/r/a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDB_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	db, err := cache.Open(dir)
	require.NoError(t, err)
	require.NoError(t, db.Bucket(cache.PathBucket).Put("/r/a", "ID"))
	require.NoError(t, db.Bucket(cache.MergeBucket).Put("k", "v"))
	require.NoError(t, db.Close())

	db, err = cache.Open(dir)
	require.NoError(t, err)
	defer db.Close()

	v, ok, err := db.Bucket(cache.PathBucket).Get("/r/a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ID", v)

	_, ok, err = db.Bucket(cache.MergeBucket).Get("/r/a")
	require.NoError(t, err)
	assert.False(t, ok, "buckets are separate namespaces")

	n, err := db.Len(cache.PathBucket)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDB_ScopedBucketsAreIsolated(t *testing.T) {
	t.Parallel()

	db := openMemory(t)
	a := db.ScopedBucket("local:/s1", cache.PathBucket)
	b := db.ScopedBucket("local:/s2", cache.PathBucket)
	require.NoError(t, a.Put("/r/a.txt", "ID1"))

	_, ok, err := b.Get("/r/a.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = db.Bucket(cache.PathBucket).Get("/r/a.txt")
	require.NoError(t, err)
	assert.False(t, ok, "unscoped bucket is separate too")

	v, ok, err := db.ScopedBucket("", cache.PathBucket).Get("/r/a.txt")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, v)

	v, ok, err = db.ScopedBucket("local:/s1", cache.PathBucket).Get("/r/a.txt")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ID1", v)
}

func TestMergeMemo_SecondFoldIsFree(t *testing.T) {
	t.Parallel()

	db := openMemory(t)
	stub := backendtest.New()
	memo := cache.NewMergeMemo(db.Bucket(cache.MergeBucket), stub)
	ctx := context.Background()

	fold := func() backend.ContentID {
		id := backend.ContentID(backendtest.Empty)
		for _, l := range []struct{ name, id string }{{"a.txt", "H1"}, {"b.txt", "H2"}} {
			var err error
			id, err = memo.Attach(ctx, id, backend.ContentID(l.id), l.name)
			require.NoError(t, err)
		}
		return id
	}

	first := fold()
	calls := stub.Attaches()
	require.Len(t, calls, 2)
	assert.Equal(t, backendtest.Call{Dir: backendtest.Empty, Name: "a.txt", Target: "H1"}, calls[0])

	stub.Reset()
	second := fold()
	assert.Equal(t, first, second)
	assert.Empty(t, stub.Attaches())

	hits, misses := memo.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(2), misses)
}

func TestMergeMemo_KeyIncludesName(t *testing.T) {
	t.Parallel()

	db := openMemory(t)
	stub := backendtest.New()
	memo := cache.NewMergeMemo(db.Bucket(cache.MergeBucket), stub)
	ctx := context.Background()

	a, err := memo.Attach(ctx, backendtest.Empty, "H", "x")
	require.NoError(t, err)
	b, err := memo.Attach(ctx, backendtest.Empty, "H", "y")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, stub.Attaches(), 2)
}
