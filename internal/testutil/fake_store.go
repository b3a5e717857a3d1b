package testutil

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	sinksocket "github.com/eugener/sinksocket/internal"
	"github.com/eugener/sinksocket/internal/storage"
)

// FakeStore is an in-memory implementation of storage.Store for testing.
type FakeStore struct {
	PingErr error

	mu      sync.RWMutex
	samples []sinksocket.ThroughputSample
	rollups []sinksocket.ThroughputRollup
	sris    map[string]sinksocket.StreamSRI
}

var _ storage.Store = (*FakeStore)(nil)

// NewFakeStore returns a FakeStore with empty collections.
func NewFakeStore() *FakeStore {
	return &FakeStore{sris: make(map[string]sinksocket.StreamSRI)}
}

// --- SampleStore ---

// InsertSamples appends samples.
func (s *FakeStore) InsertSamples(_ context.Context, samples []sinksocket.ThroughputSample) error {
	s.mu.Lock()
	s.samples = append(s.samples, samples...)
	s.mu.Unlock()
	return nil
}

// QuerySamples returns matching samples, newest first.
func (s *FakeStore) QuerySamples(_ context.Context, f sinksocket.SampleFilter) ([]sinksocket.ThroughputSample, error) {
	s.mu.RLock()
	var out []sinksocket.ThroughputSample
	for _, r := range s.samples {
		if sampleMatches(r, f) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b sinksocket.ThroughputSample) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

// CountSamples returns the number of matching samples.
func (s *FakeStore) CountSamples(_ context.Context, f sinksocket.SampleFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.samples {
		if sampleMatches(r, f) {
			n++
		}
	}
	return n, nil
}

// PurgeSamples deletes samples older than before.
func (s *FakeStore) PurgeSamples(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.samples)
	s.samples = slices.DeleteFunc(s.samples, func(r sinksocket.ThroughputSample) bool {
		return r.CreatedAt.Before(before)
	})
	return int64(n - len(s.samples)), nil
}

// Samples returns a copy of every stored sample.
func (s *FakeStore) Samples() []sinksocket.ThroughputSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.samples)
}

func sampleMatches(r sinksocket.ThroughputSample, f sinksocket.SampleFilter) bool {
	ts := r.CreatedAt.UTC().Format(time.RFC3339)
	return (f.ComponentID == "" || r.ComponentID == f.ComponentID) &&
		(f.StreamID == "" || r.StreamID == f.StreamID) &&
		(f.Since == "" || ts >= f.Since) &&
		(f.Until == "" || ts < f.Until)
}

// --- RollupStore ---

// UpsertRollups replaces rollups with the same key and appends new ones.
func (s *FakeStore) UpsertRollups(_ context.Context, rollups []sinksocket.ThroughputRollup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rollups {
		i := slices.IndexFunc(s.rollups, func(e sinksocket.ThroughputRollup) bool {
			return e.ComponentID == r.ComponentID && e.StreamID == r.StreamID &&
				e.Period == r.Period && e.Bucket == r.Bucket
		})
		if i >= 0 {
			s.rollups[i] = r
		} else {
			s.rollups = append(s.rollups, r)
		}
	}
	return nil
}

// QueryRollups returns matching rollups, newest bucket first.
func (s *FakeStore) QueryRollups(_ context.Context, f sinksocket.RollupFilter) ([]sinksocket.ThroughputRollup, error) {
	s.mu.RLock()
	var out []sinksocket.ThroughputRollup
	for _, r := range s.rollups {
		if (f.ComponentID == "" || r.ComponentID == f.ComponentID) &&
			(f.StreamID == "" || r.StreamID == f.StreamID) &&
			(f.Period == "" || r.Period == f.Period) &&
			(f.Since == "" || r.Bucket >= f.Since) &&
			(f.Until == "" || r.Bucket < f.Until) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()
	slices.SortStableFunc(out, func(a, b sinksocket.ThroughputRollup) int {
		return cmp.Compare(b.Bucket, a.Bucket)
	})
	return out, nil
}

// --- SRIStore ---

// SaveSRI stores a descriptor.
func (s *FakeStore) SaveSRI(_ context.Context, d sinksocket.StreamSRI) error {
	s.mu.Lock()
	s.sris[d.StreamID] = d
	s.mu.Unlock()
	return nil
}

// GetSRI looks up a descriptor.
func (s *FakeStore) GetSRI(_ context.Context, streamID string) (sinksocket.StreamSRI, error) {
	s.mu.RLock()
	d, ok := s.sris[streamID]
	s.mu.RUnlock()
	if !ok {
		return sinksocket.StreamSRI{}, sinksocket.ErrNotFound
	}
	return d, nil
}

// ListSRIs returns every descriptor ordered by stream ID.
func (s *FakeStore) ListSRIs(context.Context) ([]sinksocket.StreamSRI, error) {
	s.mu.RLock()
	out := make([]sinksocket.StreamSRI, 0, len(s.sris))
	for _, d := range s.sris {
		out = append(out, d)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b sinksocket.StreamSRI) int { return cmp.Compare(a.StreamID, b.StreamID) })
	return out, nil
}

// DeleteSRI removes a descriptor.
func (s *FakeStore) DeleteSRI(_ context.Context, streamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sris[streamID]; !ok {
		return sinksocket.ErrNotFound
	}
	delete(s.sris, streamID)
	return nil
}

// --- Lifecycle ---

// Ping returns PingErr.
func (s *FakeStore) Ping(context.Context) error { return s.PingErr }

// Close is a no-op.
func (s *FakeStore) Close() error { return nil }
