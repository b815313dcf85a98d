package cache

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/aweris/dirmirror/internal/backend"
)

// MergeMemo remembers the result of attaching a link to a directory.
//
// Directories are assembled by folding links one at a time into an
// accumulator id. AttachLink is deterministic, so the same (accumulator,
// child, name) triple always yields the same directory and the backend call
// can be skipped on a repeat.
type MergeMemo struct {
	bucket  Bucket
	backend backend.Backend

	hits   atomic.Int64
	misses atomic.Int64
}

// NewMergeMemo returns a memo over bucket. A nil bucket disables memoization.
func NewMergeMemo(bucket Bucket, b backend.Backend) *MergeMemo {
	if bucket == nil {
		bucket = Nop{}
	}
	return &MergeMemo{bucket: bucket, backend: b}
}

func memoKey(current, child backend.ContentID, name string) string {
	return strings.Join([]string{string(current), string(child), name}, "\x00")
}

// Attach returns the directory current with link name → child added.
func (m *MergeMemo) Attach(ctx context.Context, current, child backend.ContentID, name string) (backend.ContentID, error) {
	key := memoKey(current, child, name)

	v, ok, err := m.bucket.Get(key)
	if err != nil {
		return "", err
	}
	if ok {
		m.hits.Add(1)
		return backend.ContentID(v), nil
	}

	id, err := m.backend.AttachLink(ctx, current, name, child)
	if err != nil {
		return "", err
	}
	if err := m.bucket.Put(key, string(id)); err != nil {
		return "", err
	}
	m.misses.Add(1)
	return id, nil
}

// Stats returns how many Attach calls were served from the memo and how
// many went to the backend.
func (m *MergeMemo) Stats() (hits, misses int64) {
	return m.hits.Load(), m.misses.Load()
}
