package worker

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Runner supervises background workers. The first failure cancels the rest.
type Runner struct {
	workers []Worker
}

// NewRunner returns a Runner over workers, skipping nil entries so optional
// workers can be passed unconditionally.
func NewRunner(workers ...Worker) *Runner {
	r := &Runner{workers: make([]Worker, 0, len(workers))}
	for _, w := range workers {
		if w == nil {
			continue
		}
		r.workers = append(r.workers, w)
	}
	return r
}

// Run blocks until every worker has returned. A worker error is wrapped
// with the worker name and returned after the others stop.
func (r *Runner) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range r.workers {
		name := workerName(w)
		g.Go(func() error {
			slog.LogAttrs(gctx, slog.LevelInfo, "worker started", slog.String("worker", name))
			if err := w.Run(gctx); err != nil {
				slog.LogAttrs(gctx, slog.LevelError, "worker failed",
					slog.String("worker", name),
					slog.String("error", err.Error()),
				)
				return fmt.Errorf("%s: %w", name, err)
			}
			slog.LogAttrs(gctx, slog.LevelDebug, "worker stopped", slog.String("worker", name))
			return nil
		})
	}
	return g.Wait()
}

func workerName(w Worker) string {
	if n, ok := w.(Named); ok {
		return n.Name()
	}
	return "unknown"
}
