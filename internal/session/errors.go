package session

import "errors"

// ErrClosed is returned by Hydrate and Wait on a closed cache.
var ErrClosed = errors.New("session closed")
