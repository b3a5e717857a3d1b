// Package worker provides the periodic service driver and the background task
// infrastructure for the sink service.
package worker

import "context"

// Worker is a long-running background task.
type Worker interface {
	// Run blocks until ctx is cancelled or an unrecoverable error occurs.
	Run(ctx context.Context) error
}

// Named is implemented by workers that report an identifier for logging.
type Named interface {
	Name() string
}
