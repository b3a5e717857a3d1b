package sinksocket

import "errors"

// Sentinel errors for the sink domain.
var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNotFound          = errors.New("not found")
	ErrBadRequest        = errors.New("bad request")
	ErrStopTimeout       = errors.New("timed out waiting for service worker to stop")
	ErrPortDisabled      = errors.New("port disabled")
	ErrNoPeer            = errors.New("no connected peer")
	ErrCircuitOpen       = errors.New("circuit open")
	ErrBadConnectionType = errors.New("unknown connection type")
	ErrNotInitialized    = errors.New("component not initialized")
)
