package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	sinksocket "github.com/eugener/sinksocket/internal"
)

const (
	sampleChanSize   = 1000
	sampleBatchSize  = 100
	sampleFlushEvery = 5 * time.Second
	sampleDrainTime  = 10 * time.Second
)

// SampleStore is the persistence interface consumed by SampleRecorder.
type SampleStore interface {
	InsertSamples(ctx context.Context, samples []sinksocket.ThroughputSample) error
}

// SampleRecorder buffers throughput samples and batch-flushes them to the store.
// Samples are dropped if the channel is full so the service loop never blocks
// on a slow database.
type SampleRecorder struct {
	ch         chan sinksocket.ThroughputSample
	store      SampleStore
	flushEvery time.Duration
	onDepth    func(int)
}

// NewSampleRecorder creates a SampleRecorder backed by store. A non-positive
// flushEvery uses the default of 5s.
func NewSampleRecorder(store SampleStore, flushEvery time.Duration) *SampleRecorder {
	if flushEvery <= 0 {
		flushEvery = sampleFlushEvery
	}
	return &SampleRecorder{
		ch:         make(chan sinksocket.ThroughputSample, sampleChanSize),
		store:      store,
		flushEvery: flushEvery,
	}
}

// OnQueueDepth registers fn to receive the queue length after every flush.
func (r *SampleRecorder) OnQueueDepth(fn func(int)) { r.onDepth = fn }

// Name returns the worker identifier.
func (r *SampleRecorder) Name() string { return "sample_recorder" }

// Record enqueues a sample. It never blocks; drops on full channel.
func (r *SampleRecorder) Record(s sinksocket.ThroughputSample) {
	select {
	case r.ch <- s:
	default:
		slog.Warn("throughput sample dropped, channel full")
	}
}

// Run processes samples until ctx is cancelled, then drains remaining samples.
func (r *SampleRecorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.flushEvery)
	defer ticker.Stop()

	buf := make([]sinksocket.ThroughputSample, 0, sampleBatchSize)

	for {
		select {
		case s := <-r.ch:
			buf = append(buf, s)
			if len(buf) >= sampleBatchSize {
				r.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ticker.C:
			if len(buf) > 0 {
				r.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ctx.Done():
			r.drain(buf)
			return nil
		}
	}
}

func (r *SampleRecorder) drain(buf []sinksocket.ThroughputSample) {
	ctx, cancel := context.WithTimeout(context.Background(), sampleDrainTime)
	defer cancel()

	for {
		select {
		case s := <-r.ch:
			buf = append(buf, s)
			if len(buf) >= sampleBatchSize {
				r.flush(ctx, buf)
				buf = buf[:0]
			}
		default:
			if len(buf) > 0 {
				r.flush(ctx, buf)
			}
			return
		}
	}
}

func (r *SampleRecorder) flush(ctx context.Context, buf []sinksocket.ThroughputSample) {
	batch := make([]sinksocket.ThroughputSample, len(buf))
	copy(batch, buf)

	for i := range batch {
		if batch[i].ID == "" {
			batch[i].ID = uuid.Must(uuid.NewV7()).String()
		}
		if batch[i].CreatedAt.IsZero() {
			batch[i].CreatedAt = time.Now().UTC()
		}
	}

	if err := r.store.InsertSamples(ctx, batch); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "sample flush failed",
			slog.Int("count", len(batch)),
			slog.String("error", err.Error()),
		)
	}
	if r.onDepth != nil {
		r.onDepth(len(r.ch))
	}
}
