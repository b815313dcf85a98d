// Package backend defines the contract between the mirror core and the
// content-addressable store it writes into.
//
// The core never hashes content or builds directory objects itself. It asks
// a Backend to ingest a file, to produce the canonical empty directory and to
// derive a new directory by attaching one named link to an existing one.
package backend

import (
	"context"
	"fmt"
)

// ContentID is an opaque identifier returned by a Backend for a blob or a
// directory object. Equal IDs imply equal content.
type ContentID string

func (id ContentID) String() string { return string(id) }

// ObjectKind tells blobs and directories apart in an ObjectStat.
type ObjectKind string

const (
	KindBlob      ObjectKind = "blob"
	KindDirectory ObjectKind = "directory"
)

// ObjectStat is the metadata a Backend reports for a stored object.
type ObjectStat struct {
	ID             ContentID
	Kind           ObjectKind
	Size           int64 // payload size of this object alone
	CumulativeSize int64 // this object plus everything it links to
	Links          int
}

// Backend is the content-addressable store a tree is mirrored into.
type Backend interface {
	// AddBlob ingests the bytes of the file at path.
	AddBlob(ctx context.Context, path string) (ContentID, error)

	// NewEmptyDirectory returns the identifier of a directory with no links.
	NewEmptyDirectory(ctx context.Context) (ContentID, error)

	// AttachLink returns the identifier of a directory equal to dir plus a
	// link called name pointing at target.
	AttachLink(ctx context.Context, dir ContentID, name string, target ContentID) (ContentID, error)

	// StatObject reports size metadata for id.
	StatObject(ctx context.Context, id ContentID) (ObjectStat, error)
}

// Identifier is implemented by backends whose ids only mean something to
// one store. Caches of ids are kept per identity.
type Identifier interface {
	Identity() string
}

// Identity returns the identity of b, or "" when b does not report one.
func Identity(b Backend) string {
	if id, ok := b.(Identifier); ok {
		return id.Identity()
	}
	return ""
}

// BackingStoreError reports a failed Backend call. It is fatal for the
// file or directory being processed and aborts the mirror run.
type BackingStoreError struct {
	Op  string
	Arg string
	Err error
}

func (e *BackingStoreError) Error() string {
	if e.Arg == "" {
		return fmt.Sprintf("backing store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("backing store %s %q: %v", e.Op, e.Arg, e.Err)
}

func (e *BackingStoreError) Unwrap() error { return e.Err }

// Fail wraps err as a BackingStoreError. A nil err stays nil.
func Fail(op, arg string, err error) error {
	if err == nil {
		return nil
	}
	return &BackingStoreError{Op: op, Arg: arg, Err: err}
}
