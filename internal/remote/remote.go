// Package remote publishes a mirrored tree to an OCI registry and fetches
// it back.
//
// The objects reachable from a root are packed into zstd layers of an
// otherwise empty image whose config carries the root id as a label, so
// any registry can hold a mirror:
//
//   - objects are grouped into layers of a few megabytes (see BuildLayerPlan)
//   - layers are pushed and pulled in parallel
//   - registry calls are retried with exponential backoff
package remote

import "context"

// Remote moves encoded objects to and from a registry.
type Remote interface {
	// Push uploads objects and records root as the published tree.
	Push(ctx context.Context, root string, objects map[string][]byte) error

	// Pull downloads the published tree.
	Pull(ctx context.Context) (root string, objects map[string][]byte, err error)
}
