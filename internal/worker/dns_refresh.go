package worker

import (
	"context"
	"log/slog"
	"time"
)

const dnsRefreshInterval = 5 * time.Minute

// Refresher is the cache-refresh surface of a DNS resolver. *dnscache.Resolver
// satisfies it.
type Refresher interface {
	Refresh(clearUnused bool)
}

// DNSRefreshWorker periodically refreshes cached DNS entries so a client-mode
// sink redialing its peer picks up address changes.
type DNSRefreshWorker struct {
	resolver Refresher
	interval time.Duration
}

// NewDNSRefreshWorker creates a refresh worker. A non-positive interval uses
// the default of 5m.
func NewDNSRefreshWorker(resolver Refresher, interval time.Duration) *DNSRefreshWorker {
	if interval <= 0 {
		interval = dnsRefreshInterval
	}
	return &DNSRefreshWorker{resolver: resolver, interval: interval}
}

// Name returns the worker identifier.
func (w *DNSRefreshWorker) Name() string { return "dns_refresh" }

// Run refreshes the resolver on every tick, dropping entries unused since the
// previous tick.
func (w *DNSRefreshWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.resolver.Refresh(true)
			slog.LogAttrs(ctx, slog.LevelDebug, "dns cache refreshed")
		}
	}
}
