// Package store is a local content-addressable object store that can back
// a mirror.
//
// Objects are git-like: a file becomes "blob <size>\0<bytes>", a directory
// becomes "tree <size>\0<entries>". An object's id is the hex SHA-256 of its
// encoded form, so the same tree always gets the same id no matter in which
// order its links were attached.
//
// Storage layout:
//
//	dir/
//	  LOCK          (held while the store is open)
//	  ID            (instance id, see LocalStore.Identity)
//	  objects/
//	    ab/cd123... (zstd-compressed objects)
package store

import "context"

// Objects is raw object access, used to move objects between stores and
// remotes.
type Objects interface {
	// Get retrieves an encoded object by id.
	Get(ctx context.Context, id string) ([]byte, error)

	// Put stores an encoded object and returns its id.
	Put(ctx context.Context, data []byte) (id string, err error)

	// Has checks if an object exists.
	Has(ctx context.Context, id string) (bool, error)
}
