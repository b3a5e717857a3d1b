package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/dnscache"
)

type countingRefresher struct {
	calls atomic.Int32
	clear atomic.Bool
}

func (r *countingRefresher) Refresh(clearUnused bool) {
	r.calls.Add(1)
	r.clear.Store(clearUnused)
}

func TestDNSRefreshWorker_Ticks(t *testing.T) {
	t.Parallel()

	r := &countingRefresher{}
	w := NewDNSRefreshWorker(r, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitFor(t, 2*time.Second, func() bool { return r.calls.Load() >= 2 })
	cancel()

	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}
	if !r.clear.Load() {
		t.Error("Refresh called without clearUnused")
	}
}

func TestDNSRefreshWorker_DefaultInterval(t *testing.T) {
	t.Parallel()

	w := NewDNSRefreshWorker(&dnscache.Resolver{}, 0)
	if w.interval != dnsRefreshInterval {
		t.Errorf("interval = %v, want %v", w.interval, dnsRefreshInterval)
	}
	if w.Name() != "dns_refresh" {
		t.Errorf("Name() = %q", w.Name())
	}
}
