// Package storage defines persistence interfaces for the sink service.
package storage

import (
	"context"
	"time"

	sinksocket "github.com/eugener/sinksocket/internal"
)

// SampleStore manages throughput sample persistence.
type SampleStore interface {
	InsertSamples(ctx context.Context, samples []sinksocket.ThroughputSample) error
	QuerySamples(ctx context.Context, f sinksocket.SampleFilter) ([]sinksocket.ThroughputSample, error)
	CountSamples(ctx context.Context, f sinksocket.SampleFilter) (int, error)
	PurgeSamples(ctx context.Context, before time.Time) (int64, error)
}

// RollupStore manages hourly throughput rollups.
type RollupStore interface {
	UpsertRollups(ctx context.Context, rollups []sinksocket.ThroughputRollup) error
	QueryRollups(ctx context.Context, f sinksocket.RollupFilter) ([]sinksocket.ThroughputRollup, error)
}

// SRIStore manages persisted stream descriptors.
type SRIStore interface {
	SaveSRI(ctx context.Context, s sinksocket.StreamSRI) error
	GetSRI(ctx context.Context, streamID string) (sinksocket.StreamSRI, error)
	ListSRIs(ctx context.Context) ([]sinksocket.StreamSRI, error)
	DeleteSRI(ctx context.Context, streamID string) error
}

// Store combines all storage interfaces.
type Store interface {
	SampleStore
	RollupStore
	SRIStore
	Ping(ctx context.Context) error
	Close() error
}
