// Package backendtest provides a recording Backend for tests.
package backendtest

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aweris/dirmirror/internal/backend"
)

// Empty is the identifier the stub hands out for the empty directory.
const Empty backend.ContentID = "EMPTY"

// Call is one recorded AttachLink invocation.
type Call struct {
	Dir    backend.ContentID
	Name   string
	Target backend.ContentID
}

// Backend is an in-memory Backend that records every call.
//
// By default AddBlob returns "H(<basename>)" and AttachLink returns
// "<dir>+<name>=<target>", so identifiers spell out how they were built.
// Blobs and Links override those results for specific inputs.
type Backend struct {
	Blobs map[string]backend.ContentID // keyed by full path
	Links map[Call]backend.ContentID
	Err   error // returned by every call when set

	mu      sync.Mutex
	adds    []string
	attach  []Call
	empties int
}

// New returns an empty stub.
func New() *Backend {
	return &Backend{
		Blobs: make(map[string]backend.ContentID),
		Links: make(map[Call]backend.ContentID),
	}
}

func (b *Backend) AddBlob(_ context.Context, path string) (backend.ContentID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.adds = append(b.adds, path)
	if b.Err != nil {
		return "", backend.Fail("add", path, b.Err)
	}
	if id, ok := b.Blobs[path]; ok {
		return id, nil
	}
	return backend.ContentID(fmt.Sprintf("H(%s)", filepath.Base(path))), nil
}

func (b *Backend) NewEmptyDirectory(context.Context) (backend.ContentID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.empties++
	if b.Err != nil {
		return "", backend.Fail("new-dir", "", b.Err)
	}
	return Empty, nil
}

func (b *Backend) AttachLink(_ context.Context, dir backend.ContentID, name string, target backend.ContentID) (backend.ContentID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	call := Call{Dir: dir, Name: name, Target: target}
	b.attach = append(b.attach, call)
	if b.Err != nil {
		return "", backend.Fail("add-link", name, b.Err)
	}
	if id, ok := b.Links[call]; ok {
		return id, nil
	}
	return backend.ContentID(fmt.Sprintf("%s+%s=%s", dir, name, target)), nil
}

func (b *Backend) StatObject(_ context.Context, id backend.ContentID) (backend.ObjectStat, error) {
	if b.Err != nil {
		return backend.ObjectStat{}, backend.Fail("stat", string(id), b.Err)
	}
	kind := backend.KindBlob
	if id == Empty || strings.Contains(string(id), "+") {
		kind = backend.KindDirectory
	}
	return backend.ObjectStat{ID: id, Kind: kind, Size: int64(len(id)), CumulativeSize: int64(len(id))}, nil
}

// Adds returns the paths passed to AddBlob, sorted.
func (b *Backend) Adds() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := append([]string(nil), b.adds...)
	sort.Strings(out)
	return out
}

// Attaches returns the AttachLink calls in call order.
func (b *Backend) Attaches() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.attach...)
}

// Empties returns how many times NewEmptyDirectory was called.
func (b *Backend) Empties() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.empties
}

// Reset forgets recorded calls but keeps configured results.
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.adds = nil
	b.attach = nil
	b.empties = 0
}
