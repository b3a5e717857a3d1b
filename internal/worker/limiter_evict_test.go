package worker

import (
	"context"
	"sync"
	"testing"
	"time"
)

type recordingEvicter struct {
	mu      sync.Mutex
	cutoffs []time.Time
}

func (e *recordingEvicter) EvictStale(cutoff time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cutoffs = append(e.cutoffs, cutoff)
	return 1
}

func (e *recordingEvicter) calls() []time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]time.Time(nil), e.cutoffs...)
}

func TestLimiterEvictWorker(t *testing.T) {
	t.Parallel()

	ev := &recordingEvicter{}
	w := NewLimiterEvictWorker(ev)
	w.interval = 5 * time.Millisecond
	w.idle = time.Minute

	if w.Name() != "limiter_evict" {
		t.Errorf("Name = %q", w.Name())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(ev.calls()) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("evicter not called twice before deadline")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run = %v, want nil", err)
	}

	// The cutoff trails the tick time by the idle TTL.
	for _, c := range ev.calls() {
		if lag := time.Since(c); lag < time.Minute {
			t.Errorf("cutoff %v is only %v in the past, want >= 1m", c, lag)
		}
	}
}
