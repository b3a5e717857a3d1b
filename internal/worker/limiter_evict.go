package worker

import (
	"context"
	"log/slog"
	"time"
)

const (
	limiterEvictInterval = 10 * time.Minute
	limiterIdleTTL       = time.Hour
)

// Evicter drops state unused since a cutoff. *ratelimit.Registry satisfies it.
type Evicter interface {
	EvictStale(cutoff time.Time) int
}

// LimiterEvictWorker periodically drops ingest limiters of callers that have
// gone quiet.
type LimiterEvictWorker struct {
	registry Evicter
	interval time.Duration
	idle     time.Duration
}

// NewLimiterEvictWorker creates an eviction worker with the default 10m
// interval and 1h idle TTL.
func NewLimiterEvictWorker(registry Evicter) *LimiterEvictWorker {
	return &LimiterEvictWorker{registry: registry, interval: limiterEvictInterval, idle: limiterIdleTTL}
}

// Name returns the worker identifier.
func (w *LimiterEvictWorker) Name() string { return "limiter_evict" }

// Run evicts idle limiters on every tick until ctx is cancelled.
func (w *LimiterEvictWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if n := w.registry.EvictStale(now.Add(-w.idle)); n > 0 {
				slog.LogAttrs(ctx, slog.LevelDebug, "evicted idle ingest limiters", slog.Int("count", n))
			}
		}
	}
}
