package tree_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/dirmirror/internal/backend"
	"github.com/aweris/dirmirror/internal/backend/backendtest"
	"github.com/aweris/dirmirror/internal/cache"
	"github.com/aweris/dirmirror/internal/ignore"
	"github.com/aweris/dirmirror/internal/progress"
	"github.com/aweris/dirmirror/internal/tree"
)

// reversedFs lists directory entries in reverse name order.
type reversedFs struct {
	afero.Fs
}

func (r reversedFs) Open(name string) (afero.File, error) {
	f, err := r.Fs.Open(name)
	if err != nil {
		return nil, err
	}
	return reversedFile{f}, nil
}

type reversedFile struct {
	afero.File
}

func (f reversedFile) Readdir(n int) ([]os.FileInfo, error) {
	infos, err := f.File.Readdir(n)
	for i, j := 0, len(infos)-1; i < j; i, j = i+1, j-1 {
		infos[i], infos[j] = infos[j], infos[i]
	}
	return infos, err
}

func writeFiles(t *testing.T, fsys afero.Fs, files map[string]string) {
	t.Helper()
	for path, content := range files {
		require.NoError(t, fsys.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, afero.WriteFile(fsys, path, []byte(content), 0o644))
	}
}

type run struct {
	fsys   afero.Fs
	db     *cache.DB
	stub   *backendtest.Backend
	ignore *ignore.Filter
	jobs   int
}

func (r run) mirror(t *testing.T, root string) (backend.ContentID, tree.Tree) {
	t.Helper()
	id, tr, err := r.try(context.Background(), root)
	require.NoError(t, err)
	return id, tr
}

func (r run) try(ctx context.Context, root string) (backend.ContentID, tree.Tree, error) {
	var paths, merges cache.Bucket
	if r.db != nil {
		paths, merges = r.db.Bucket(cache.PathBucket), r.db.Bucket(cache.MergeBucket)
	}

	w := &tree.Walker{
		FS:      r.fsys,
		Cache:   cache.NewContentCache(paths, cache.WithIgnore(r.ignore)),
		Backend: r.stub,
		Jobs:    r.jobs,
	}
	tr, err := w.Walk(ctx, root)
	if err != nil {
		return "", nil, err
	}

	res := tree.NewResolver(r.stub, cache.NewMergeMemo(merges, r.stub), nil)
	id, err := res.Resolve(ctx, root, tr)
	return id, tr, err
}

func newRun(t *testing.T, fsys afero.Fs) run {
	t.Helper()
	db, err := cache.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return run{fsys: fsys, db: db, stub: backendtest.New(), jobs: 1}
}

func TestMirror_EndToEnd(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	writeFiles(t, fsys, map[string]string{
		"/r/a.txt":     "a",
		"/r/sub/b.txt": "b",
	})

	r := newRun(t, fsys)
	r.stub.Links[backendtest.Call{Dir: "EMPTY", Name: "b.txt", Target: "H(b.txt)"}] = "D1"
	r.stub.Links[backendtest.Call{Dir: "EMPTY", Name: "a.txt", Target: "H(a.txt)"}] = "D2"
	r.stub.Links[backendtest.Call{Dir: "D2", Name: "sub", Target: "D1"}] = "ROOT"

	id, tr := r.mirror(t, "/r")
	assert.Equal(t, backend.ContentID("ROOT"), id)
	assert.Equal(t, backend.ContentID("D1"), tr["/r"].Entries["sub"])
	assert.Equal(t, []string{"/r/a.txt", "/r/sub/b.txt"}, r.stub.Adds())
	assert.Equal(t, []backendtest.Call{
		{Dir: "EMPTY", Name: "b.txt", Target: "H(b.txt)"},
		{Dir: "EMPTY", Name: "a.txt", Target: "H(a.txt)"},
		{Dir: "D2", Name: "sub", Target: "D1"},
	}, r.stub.Attaches())
}

func TestMirror_Idempotent(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	writeFiles(t, fsys, map[string]string{
		"/r/a.txt":         "a",
		"/r/sub/b.txt":     "b",
		"/r/sub/deep/c.md": "c",
	})

	r := newRun(t, fsys)
	first, _ := r.mirror(t, "/r")

	r.stub.Reset()
	second, _ := r.mirror(t, "/r")

	assert.Equal(t, first, second)
	assert.Empty(t, r.stub.Adds())
	assert.Empty(t, r.stub.Attaches())
}

func TestMirror_IndependentOfListingOrder(t *testing.T) {
	t.Parallel()

	files := map[string]string{
		"/r/z.txt":    "z",
		"/r/a.txt":    "a",
		"/r/m/b.txt":  "b",
		"/r/m/a.txt":  "a",
		"/r/b/x/y.go": "y",
	}
	fsys := afero.NewMemMapFs()
	writeFiles(t, fsys, files)

	plain := newRun(t, fsys)
	want, _ := plain.mirror(t, "/r")

	reversed := newRun(t, reversedFs{fsys})
	got, _ := reversed.mirror(t, "/r")

	assert.Equal(t, want, got)
	assert.Equal(t, plain.stub.Attaches(), reversed.stub.Attaches())
}

func TestMirror_ParallelMatchesSequential(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	files := map[string]string{}
	for _, d := range []string{"a", "b", "c"} {
		for _, f := range []string{"1", "2", "3", "4"} {
			files["/r/"+d+"/"+f+".txt"] = d + f
		}
	}
	writeFiles(t, fsys, files)

	seq := newRun(t, fsys)
	want, _ := seq.mirror(t, "/r")

	par := newRun(t, fsys)
	par.jobs = 8
	got, tr := par.mirror(t, "/r")

	assert.Equal(t, want, got)
	assert.Equal(t, 12, tr.FileCount())
}

func TestMirror_IgnoredFilesAreAlwaysAdded(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	writeFiles(t, fsys, map[string]string{
		"/r/a.txt":         "a",
		"/r/build/out.bin": "o",
	})

	r := newRun(t, fsys)
	r.ignore = ignore.New("build/")

	for i := 0; i < 3; i++ {
		r.mirror(t, "/r")
	}

	adds := r.stub.Adds()
	assert.Equal(t, 1, count(adds, "/r/a.txt"))
	assert.Equal(t, 3, count(adds, "/r/build/out.bin"))

	_, ok, err := r.db.Bucket(cache.PathBucket).Get("/r/build/out.bin")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMirror_SharedSubtreesHitTheMemo(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	writeFiles(t, fsys, map[string]string{
		"/r/x/f": "same",
		"/r/y/f": "same",
	})

	r := newRun(t, fsys)
	_, tr := r.mirror(t, "/r")

	assert.Equal(t, tr["/r"].Entries["x"], tr["/r"].Entries["y"])
	// one attach for x, none for y, two for the root
	assert.Len(t, r.stub.Attaches(), 3)
}

func TestMirror_EmptyDirectory(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/r", 0o755))

	r := newRun(t, fsys)
	id, _ := r.mirror(t, "/r")

	assert.Equal(t, backendtest.Empty, id)
	assert.Empty(t, r.stub.Attaches())
	assert.Equal(t, 1, r.stub.Empties())
}

func TestMirror_NestedEmptyDirectoryIsLinked(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/r/e", 0o755))

	r := newRun(t, fsys)
	id, _ := r.mirror(t, "/r")

	assert.Equal(t, backend.ContentID("EMPTY+e=EMPTY"), id)
	assert.Equal(t, 1, r.stub.Empties(), "empty directory id is fetched once per run")
}

func TestMirror_BackendFailureAborts(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	writeFiles(t, fsys, map[string]string{"/r/a.txt": "a"})

	r := newRun(t, fsys)
	r.stub.Err = errors.New("connection refused")

	_, _, err := r.try(context.Background(), "/r")
	var bse *backend.BackingStoreError
	require.ErrorAs(t, err, &bse)
}

func TestMirror_Cancelled(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	writeFiles(t, fsys, map[string]string{"/r/a.txt": "a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newRun(t, fsys)
	_, _, err := r.try(ctx, "/r")
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, r.stub.Adds())
}

func TestWalk_RootMustBeDirectory(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	writeFiles(t, fsys, map[string]string{"/r": "file"})

	w := &tree.Walker{FS: fsys, Backend: backendtest.New()}
	_, err := w.Walk(context.Background(), "/r")
	require.ErrorIs(t, err, tree.ErrNotDirectory)
}

func TestResolve_UnknownDirectory(t *testing.T) {
	t.Parallel()

	stub := backendtest.New()
	res := tree.NewResolver(stub, nil, nil)
	_, err := res.Resolve(context.Background(), "/nowhere", tree.Tree{})
	require.ErrorIs(t, err, tree.ErrUnknownDir)
}

func count(list []string, s string) int {
	n := 0
	for _, v := range list {
		if v == s {
			n++
		}
	}
	return n
}

// progressLog records OnProgress calls. Early calls are slowed down so a
// late worker overtakes them unless calls are serialised.
type progressLog struct {
	progress.Nop

	mu    sync.Mutex
	total int
	done  []int
}

func (p *progressLog) OnProgress(done, total int) {
	if done > 0 {
		time.Sleep(time.Duration(total-done) * 100 * time.Microsecond)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = total
	p.done = append(p.done, done)
}

func TestWalk_ProgressIsOrdered(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	files := map[string]string{}
	for i := 0; i < 32; i++ {
		files[fmt.Sprintf("/r/d%d/f%02d.txt", i%8, i)] = "x"
	}
	writeFiles(t, fsys, files)

	obs := &progressLog{}
	w := &tree.Walker{
		FS:       fsys,
		Backend:  backendtest.New(),
		Observer: obs,
		Jobs:     8,
	}
	_, err := w.Walk(context.Background(), "/r")
	require.NoError(t, err)

	require.Len(t, obs.done, 33)
	assert.Equal(t, 32, obs.total)
	for i, n := range obs.done {
		assert.Equal(t, i, n, "progress event %d", i)
	}

	c := &progress.Counters{}
	w.Observer = c
	_, err = w.Walk(context.Background(), "/r")
	require.NoError(t, err)
	assert.Equal(t, int64(32), c.Summary().Done)
}
