package tree

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/aweris/dirmirror/internal/backend"
	"github.com/aweris/dirmirror/internal/cache"
	"github.com/aweris/dirmirror/internal/progress"
)

// Resolver folds a Tree into directory objects, children before parents.
type Resolver struct {
	backend  backend.Backend
	memo     *cache.MergeMemo
	observer progress.Observer

	empty backend.ContentID
}

// NewResolver returns a resolver assembling directories on b. A nil memo
// sends every attach straight to the backend.
func NewResolver(b backend.Backend, memo *cache.MergeMemo, o progress.Observer) *Resolver {
	if memo == nil {
		memo = cache.NewMergeMemo(nil, b)
	}
	if o == nil {
		o = progress.Nop{}
	}
	return &Resolver{backend: b, memo: memo, observer: o}
}

// Resolve returns the content id of the directory at path in t. Resolved
// subdirectory ids are written back into their parent's Entries.
func (r *Resolver) Resolve(ctx context.Context, path string, t Tree) (backend.ContentID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	node, ok := t[path]
	if !ok {
		return "", fmt.Errorf("%s: %w", path, ErrUnknownDir)
	}

	for _, name := range node.Dirs {
		id, err := r.Resolve(ctx, filepath.Join(path, name), t)
		if err != nil {
			return "", err
		}
		node.Entries[name] = id
	}

	id, err := r.emptyDir(ctx)
	if err != nil {
		return "", err
	}

	for _, name := range node.Names() {
		id, err = r.memo.Attach(ctx, id, node.Entries[name], name)
		if err != nil {
			return "", fmt.Errorf("link %s: %w", filepath.Join(path, name), err)
		}
	}

	r.observer.OnResolved(path, id)
	return id, nil
}

func (r *Resolver) emptyDir(ctx context.Context) (backend.ContentID, error) {
	if r.empty != "" {
		return r.empty, nil
	}
	id, err := r.backend.NewEmptyDirectory(ctx)
	if err != nil {
		return "", err
	}
	r.empty = id
	return id, nil
}
