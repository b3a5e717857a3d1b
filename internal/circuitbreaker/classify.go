package circuitbreaker

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"
)

// Classify returns the failure weight of a dial or write error.
//
// Weights:
//   - nil, context.Canceled -> 0.0 (success, or we gave up ourselves)
//   - timeouts -> 1.5
//   - anything else (refused, reset, DNS) -> 1.0
func Classify(err error) float64 {
	if err == nil || errors.Is(err, context.Canceled) {
		return 0
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return 1.5
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return 1.5
	}
	return 1.0
}

// Refused reports whether err means nothing is listening at the peer.
func Refused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}
