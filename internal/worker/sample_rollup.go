package worker

import (
	"context"
	"log/slog"
	"time"

	sinksocket "github.com/eugener/sinksocket/internal"
)

const rollupInterval = 5 * time.Minute

// RollupStore is the persistence interface consumed by SampleRollupWorker.
type RollupStore interface {
	QuerySamples(ctx context.Context, filter sinksocket.SampleFilter) ([]sinksocket.ThroughputSample, error)
	UpsertRollups(ctx context.Context, rollups []sinksocket.ThroughputRollup) error
	PurgeSamples(ctx context.Context, before time.Time) (int64, error)
}

// SampleRollupWorker periodically aggregates throughput samples into hourly
// per-stream rollups. Each pass recomputes whole hours, so the store replaces
// existing rollups rather than adding to them. Samples older than the
// retention period are deleted after each pass.
type SampleRollupWorker struct {
	store     RollupStore
	interval  time.Duration
	retention time.Duration
}

// NewSampleRollupWorker creates a rollup worker. A non-positive interval uses
// the default of 5m; a non-positive retention keeps samples forever.
func NewSampleRollupWorker(store RollupStore, interval, retention time.Duration) *SampleRollupWorker {
	if interval <= 0 {
		interval = rollupInterval
	}
	if retention > 0 {
		// Never purge samples the next pass still needs.
		retention = max(retention, 2*time.Hour)
	}
	return &SampleRollupWorker{store: store, interval: interval, retention: retention}
}

// Name returns the worker identifier.
func (w *SampleRollupWorker) Name() string { return "sample_rollup" }

// Run aggregates samples into hourly rollups on a periodic schedule.
func (w *SampleRollupWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			now := time.Now().UTC()
			w.rollup(ctx, now)
			w.purge(ctx, now)
		}
	}
}

func (w *SampleRollupWorker) rollup(ctx context.Context, now time.Time) {
	// The previous hour plus the one in progress.
	since := now.Add(-time.Hour).Truncate(time.Hour).Format(time.RFC3339)
	until := now.Truncate(time.Hour).Add(time.Hour).Format(time.RFC3339)

	samples, err := w.store.QuerySamples(ctx, sinksocket.SampleFilter{
		Since: since,
		Until: until,
		Limit: 100_000,
	})
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "rollup query failed",
			slog.String("error", err.Error()),
		)
		return
	}
	if len(samples) == 0 {
		return
	}

	type key struct {
		ComponentID string
		StreamID    string
		Bucket      string
	}
	agg := make(map[key]*sinksocket.ThroughputRollup)
	for _, s := range samples {
		bucket := s.CreatedAt.UTC().Truncate(time.Hour).Format(time.RFC3339)
		k := key{ComponentID: s.ComponentID, StreamID: s.StreamID, Bucket: bucket}
		ru, ok := agg[k]
		if !ok {
			ru = &sinksocket.ThroughputRollup{
				ComponentID: s.ComponentID,
				StreamID:    s.StreamID,
				Period:      "hourly",
				Bucket:      bucket,
			}
			agg[k] = ru
		}
		ru.SampleCount++
		ru.Bytes += s.Bytes
		ru.Packets += s.Packets
		ru.PeakRate = max(ru.PeakRate, s.BytesPerSec)
	}

	rollups := make([]sinksocket.ThroughputRollup, 0, len(agg))
	for _, r := range agg {
		rollups = append(rollups, *r)
	}

	if err := w.store.UpsertRollups(ctx, rollups); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "rollup upsert failed",
			slog.String("error", err.Error()),
		)
		return
	}
	slog.LogAttrs(ctx, slog.LevelDebug, "rollup complete",
		slog.Int("samples", len(samples)),
		slog.Int("rollups", len(rollups)),
	)
}

func (w *SampleRollupWorker) purge(ctx context.Context, now time.Time) {
	if w.retention <= 0 {
		return
	}
	n, err := w.store.PurgeSamples(ctx, now.Add(-w.retention))
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "sample purge failed",
			slog.String("error", err.Error()),
		)
		return
	}
	if n > 0 {
		slog.LogAttrs(ctx, slog.LevelDebug, "samples purged", slog.Int64("count", n))
	}
}
