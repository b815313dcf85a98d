package tree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"

	"github.com/aweris/dirmirror/internal/backend"
	"github.com/aweris/dirmirror/internal/cache"
	"github.com/aweris/dirmirror/internal/progress"
)

// Walker scans a directory tree and resolves every file it finds through
// the content cache.
type Walker struct {
	FS       afero.Fs
	Cache    *cache.ContentCache
	Backend  backend.Backend
	Observer progress.Observer
	Log      *logrus.Entry

	// Jobs bounds how many files are hashed at once. Values below 1 mean 1.
	Jobs int
}

type fileJob struct {
	node *DirNode
	name string
	path string
}

// Walk scans root and returns its tree with every file resolved.
//
// The scan runs first and counts files, then files are resolved on a worker
// pool. Names are sorted per directory, so the result never depends on the
// order the filesystem lists entries in.
func (w *Walker) Walk(ctx context.Context, root string) (Tree, error) {
	info, err := w.FS.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", root, ErrNotDirectory)
	}

	t := make(Tree)
	if err := w.scan(ctx, root, t); err != nil {
		return nil, err
	}

	var jobs []fileJob
	for _, p := range t.Paths() {
		node := t[p]
		for _, name := range node.Files {
			jobs = append(jobs, fileJob{node: node, name: name, path: filepath.Join(p, name)})
		}
	}

	w.log().WithFields(logrus.Fields{"dirs": len(t), "files": len(jobs)}).Debug("scanned")

	if err := w.resolveFiles(ctx, root, jobs); err != nil {
		return nil, err
	}
	return t, nil
}

func (w *Walker) scan(ctx context.Context, dir string, t Tree) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := w.FS.Open(dir)
	if err != nil {
		return fmt.Errorf("open %s: %w", dir, err)
	}
	infos, err := f.Readdir(-1)
	if cerr := f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("read dir %s: %w", dir, err)
	}

	node := newDirNode(dir)
	t[dir] = node

	for _, info := range infos {
		name := info.Name()
		path := filepath.Join(dir, name)

		if info.Mode()&os.ModeSymlink != 0 {
			target, err := w.FS.Stat(path)
			if err != nil || !target.Mode().IsRegular() {
				w.log().WithField("path", path).Debug("skipping symlink")
				continue
			}
			info = target
		}

		switch {
		case info.IsDir():
			node.Dirs = append(node.Dirs, name)
		case info.Mode().IsRegular():
			node.Files = append(node.Files, name)
			w.observer().OnSizeKnown(path, info.Size())
		default:
			w.log().WithField("path", path).Debug("skipping special file")
		}
	}

	sort.Strings(node.Dirs)
	sort.Strings(node.Files)

	for _, name := range node.Dirs {
		if err := w.scan(ctx, filepath.Join(dir, name), t); err != nil {
			return err
		}
	}
	return nil
}

func (w *Walker) resolveFiles(ctx context.Context, root string, jobs []fileJob) error {
	total := len(jobs)
	w.observer().OnProgress(0, total)
	if total == 0 {
		return nil
	}

	c := w.Cache
	if c == nil {
		c = cache.NewContentCache(nil)
	}

	var (
		mu   sync.Mutex
		done int
	)

	p := pool.New().WithMaxGoroutines(w.jobs()).WithContext(ctx).WithCancelOnError().WithFirstError()
	for _, j := range jobs {
		j := j
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}

			id, err := c.Resolve(ctx, root, j.path, w.Backend.AddBlob)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", j.path, err)
			}

			// Progress is reported under the lock so observers see done
			// strictly increasing.
			mu.Lock()
			defer mu.Unlock()
			j.node.Entries[j.name] = id
			done++
			w.observer().OnProgress(done, total)
			return nil
		})
	}
	return p.Wait()
}

func (w *Walker) jobs() int {
	if w.Jobs < 1 {
		return 1
	}
	return w.Jobs
}

func (w *Walker) observer() progress.Observer {
	if w.Observer == nil {
		return progress.Nop{}
	}
	return w.Observer
}

func (w *Walker) log() *logrus.Entry {
	if w.Log == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return w.Log
}
