package sink

import (
	"maps"
	"slices"
	"sync"
	"time"

	sinksocket "github.com/eugener/sinksocket/internal"
)

type streamCount struct {
	bytes   int64
	packets int64
}

// throughput keeps the running byte total and the per-window rate.
type throughput struct {
	window time.Duration

	mu          sync.Mutex
	total       float64
	rate        float32
	start       time.Time
	windowBytes int64
	streams     map[string]*streamCount
}

func newThroughput(window time.Duration) throughput {
	return throughput{window: window, streams: make(map[string]*streamCount)}
}

// add counts n bytes for streamID. complete marks the end of a packet, so a
// packet split across a failed write and its retry is counted once.
func (t *throughput) add(streamID string, n int64, complete bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.start.IsZero() {
		t.start = time.Now()
	}
	t.total += float64(n)
	t.windowBytes += n
	sc, ok := t.streams[streamID]
	if !ok {
		sc = &streamCount{}
		t.streams[streamID] = sc
	}
	sc.bytes += n
	if complete {
		sc.packets++
	}
}

// roll closes the current window once it is at least one window long, or
// immediately when force is set. It returns one sample per stream that wrote
// bytes and the aggregate rate. ok is false when no window was closed.
func (t *throughput) roll(now time.Time, force bool) ([]sinksocket.ThroughputSample, float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.start.IsZero() {
		t.start = now
		return nil, 0, false
	}
	elapsed := now.Sub(t.start)
	if !force && elapsed < t.window {
		return nil, 0, false
	}
	secs := max(elapsed.Seconds(), 1e-3)
	rate := float64(t.windowBytes) / secs
	t.rate = float32(rate)

	ids := slices.Sorted(maps.Keys(t.streams))
	samples := make([]sinksocket.ThroughputSample, 0, len(ids))
	for _, id := range ids {
		sc := t.streams[id]
		samples = append(samples, sinksocket.ThroughputSample{
			StreamID:    id,
			Bytes:       sc.bytes,
			Packets:     sc.packets,
			BytesPerSec: float64(sc.bytes) / secs,
			WindowMs:    elapsed.Milliseconds(),
		})
	}

	t.start = now
	if force {
		// The next window starts with the next write or tick.
		t.start = time.Time{}
	}
	t.windowBytes = 0
	clear(t.streams)
	return samples, rate, true
}

func (t *throughput) snapshot() (float64, float32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total, t.rate
}
