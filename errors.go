package dirmirror

import "errors"

var (
	ErrCacheUnavailable = errors.New("dirmirror: cache unavailable")
	ErrClosed           = errors.New("dirmirror: mirror is closed")
)
