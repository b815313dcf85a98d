// Package tree scans a directory into memory and folds it bottom-up into a
// single content id.
//
// The Tree is an arena keyed by directory path. Nodes refer to their
// subdirectories by name, so there are no pointer cycles and the whole
// structure is dropped after one run.
package tree

import (
	"errors"
	"sort"

	"github.com/aweris/dirmirror/internal/backend"
)

var (
	ErrNotDirectory = errors.New("tree: root is not a directory")
	ErrUnknownDir   = errors.New("tree: directory missing from tree")
)

// DirNode is one scanned directory.
type DirNode struct {
	Path  string
	Dirs  []string // immediate subdirectories, sorted
	Files []string // immediate regular files, sorted

	// Entries maps a child name to its content id. Files are filled in by
	// the Walker, subdirectories by the Resolver.
	Entries map[string]backend.ContentID
}

func newDirNode(path string) *DirNode {
	return &DirNode{
		Path:    path,
		Entries: make(map[string]backend.ContentID),
	}
}

// Names returns the names in Entries, sorted.
func (n *DirNode) Names() []string {
	names := make([]string, 0, len(n.Entries))
	for name := range n.Entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tree maps every directory path of a mirrored root to its node.
type Tree map[string]*DirNode

// FileCount returns the number of regular files in the tree.
func (t Tree) FileCount() int {
	n := 0
	for _, node := range t {
		n += len(node.Files)
	}
	return n
}

// Paths returns every directory path, sorted.
func (t Tree) Paths() []string {
	paths := make([]string, 0, len(t))
	for p := range t {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
