package dirmirror

import (
	"github.com/aweris/dirmirror/internal/backend"
	"github.com/aweris/dirmirror/internal/cache"
	"github.com/aweris/dirmirror/internal/progress"
)

// Re-exported from internal packages for convenience.
type (
	ContentID         = backend.ContentID
	ObjectKind        = backend.ObjectKind
	ObjectStat        = backend.ObjectStat
	Backend           = backend.Backend
	BackingStoreError = backend.BackingStoreError

	Observer      = progress.Observer
	FreshnessFunc = cache.FreshnessFunc
)

const (
	KindBlob      = backend.KindBlob
	KindDirectory = backend.KindDirectory
)
