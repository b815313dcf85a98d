// Package dirmirror mirrors a directory tree into a content-addressable
// store and returns the identifier of its root.
//
// Files are added as blobs and directories are assembled by attaching one
// named link at a time, starting from the empty directory. Two persistent
// memos make repeated runs cheap: a path cache maps file paths to their
// content ids, and a merge memo remembers the result of every attach.
//
// Basic usage:
//
//	m, _ := dirmirror.Open(
//		dirmirror.WithCacheDir("~/.cache/dirmirror"),
//		dirmirror.WithStoreDir("~/.local/share/dirmirror"),
//	)
//	defer m.Close()
//
//	root, _ := m.Run(ctx, "./docs")
//	fmt.Println(root)
//
//	// Individual operations
//	id, _ := m.Add(ctx, "./docs/index.md")
//	dir, _ := m.Empty(ctx)
//	dir, _ = m.Merge(ctx, dir, "index.md", id)
//	stat, _ := m.Stat(ctx, dir)
//
// The path cache trusts its entries: a file edited in place keeps its old
// id until it is forgotten (Forget) or a freshness check (WithFreshness)
// rejects the cached value.
package dirmirror
