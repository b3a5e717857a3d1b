// Package port implements the dataOctet input port: a bounded packet queue
// plus the table of stream descriptors seen on it.
package port

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	sinksocket "github.com/eugener/sinksocket/internal"
	"github.com/eugener/sinksocket/internal/cache"
	"github.com/eugener/sinksocket/internal/sri"
	"github.com/eugener/sinksocket/internal/telemetry"
)

// Name is the port name used in logs and the admin API.
const Name = "dataOctet"

// Defaults applied by New for zero Options fields.
const (
	DefaultQueueDepth = 100
	DefaultMaxStreams = 1024
	DefaultStreamIdle = 30 * time.Minute
)

// Options configures an OctetPort.
type Options struct {
	QueueDepth int
	MaxStreams int
	StreamIdle time.Duration
	Metrics    *telemetry.Metrics // optional
}

// Stats is a point-in-time view of the port counters.
type Stats struct {
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	Received      uint64 `json:"packets_received"`
	Dropped       uint64 `json:"packets_dropped"`
	Flushes       uint64 `json:"queue_flushes"`
	ActiveStreams int    `json:"active_streams"`
	Enabled       bool   `json:"enabled"`
}

type streamState struct {
	sri     sinksocket.StreamSRI
	changed bool
}

// OctetPort receives byte packets and stream descriptors from producers and
// hands them to a single consumer through GetPacket.
//
// When the queue is full, a push for a stream whose descriptor sets Blocking
// waits for space. Any other push flushes the queue and the next packet
// handed out carries InputQueueFlushed.
type OctetPort struct {
	queue   chan *sinksocket.Packet
	streams cache.Table[string, streamState]
	metrics *telemetry.Metrics

	mu      sync.Mutex // guards streams updates and flushes
	flushed bool

	enabled  atomic.Bool
	received atomic.Uint64
	dropped  atomic.Uint64
	flushes  atomic.Uint64
}

// New creates an enabled port.
func New(opts Options) (*OctetPort, error) {
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = DefaultQueueDepth
	}
	if opts.MaxStreams <= 0 {
		opts.MaxStreams = DefaultMaxStreams
	}
	if opts.StreamIdle <= 0 {
		opts.StreamIdle = DefaultStreamIdle
	}
	streams, err := cache.NewMemory[string, streamState](opts.MaxStreams, opts.StreamIdle)
	if err != nil {
		return nil, fmt.Errorf("stream table: %w", err)
	}
	p := &OctetPort{
		queue:   make(chan *sinksocket.Packet, opts.QueueDepth),
		streams: streams,
		metrics: opts.Metrics,
	}
	p.enabled.Store(true)
	return p, nil
}

// Enable lets pushes through.
func (p *OctetPort) Enable() { p.enabled.Store(true) }

// Disable makes every push fail with ErrPortDisabled. Queued packets stay.
func (p *OctetPort) Disable() { p.enabled.Store(false) }

// Enabled reports whether pushes are accepted.
func (p *OctetPort) Enabled() bool { return p.enabled.Load() }

// PushSRI records the descriptor for its stream. If it differs from the one
// already tracked, the next packet of that stream is marked SRIChanged.
func (p *OctetPort) PushSRI(s sinksocket.StreamSRI) error {
	if !p.enabled.Load() {
		return sinksocket.ErrPortDisabled
	}
	if s.StreamID == "" {
		return fmt.Errorf("%w: streamID is required", sinksocket.ErrBadRequest)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	prev, ok := p.streams.Get(s.StreamID)
	switch {
	case !ok:
		slog.LogAttrs(context.Background(), slog.LevelDebug, "new stream",
			slog.String("stream_id", s.StreamID),
		)
	case sri.Equal(prev.sri, s):
		return nil
	default:
		slog.LogAttrs(context.Background(), slog.LevelDebug, "stream descriptor changed",
			slog.String("stream_id", s.StreamID),
			slog.Any("fields", sri.Diff(prev.sri, s)),
		)
	}
	p.streams.Set(s.StreamID, streamState{sri: s, changed: true})
	p.observeStreams()
	return nil
}

// PushPacket queues data for streamID. Packets for a stream with no tracked
// descriptor get sri.Default. An EOS packet removes the stream from the table
// once queued. A blocking push waits until space frees up or ctx is done.
func (p *OctetPort) PushPacket(ctx context.Context, data []byte, t time.Time, eos bool, streamID string) error {
	if !p.enabled.Load() {
		return sinksocket.ErrPortDisabled
	}

	pkt := &sinksocket.Packet{Data: data, Time: t, EOS: eos, StreamID: streamID}

	p.mu.Lock()
	st, ok := p.streams.Get(streamID)
	if !ok {
		st = streamState{sri: sri.Default(streamID), changed: true}
	}
	pkt.SRI = st.sri
	pkt.SRIChanged = st.changed
	if eos {
		p.streams.Delete(streamID)
	} else if st.changed {
		p.streams.Set(streamID, streamState{sri: st.sri})
	}
	p.observeStreams()
	p.mu.Unlock()

	p.received.Add(1)
	if p.metrics != nil {
		p.metrics.PacketsReceived.Inc()
	}

	if pkt.SRI.Blocking {
		select {
		case p.queue <- pkt:
		case <-ctx.Done():
			return ctx.Err()
		}
		p.observeDepth()
		return nil
	}

	select {
	case p.queue <- pkt:
		p.observeDepth()
		return nil
	default:
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.drain()
	p.flushed = true
	p.flushes.Add(1)
	slog.LogAttrs(ctx, slog.LevelWarn, "input queue flushed",
		slog.String("port", Name),
		slog.String("stream_id", streamID),
		slog.Int("dropped", n),
	)
	if p.metrics != nil {
		p.metrics.QueueFlushes.Inc()
	}
	select {
	case p.queue <- pkt:
	default:
		// Blocking producers refilled the queue first.
		p.countDropped(1)
	}
	p.observeDepth()
	return nil
}

// GetPacket returns the next queued packet without blocking.
func (p *OctetPort) GetPacket() (*sinksocket.Packet, bool) {
	select {
	case pkt := <-p.queue:
		p.mu.Lock()
		if p.flushed {
			pkt.InputQueueFlushed = true
			p.flushed = false
		}
		p.mu.Unlock()
		p.observeDepth()
		return pkt, true
	default:
		return nil, false
	}
}

// ActiveSRIs returns the tracked descriptors ordered by stream ID.
func (p *OctetPort) ActiveSRIs() []sinksocket.StreamSRI {
	var out []sinksocket.StreamSRI
	for _, st := range p.streams.All() {
		out = append(out, st.sri)
	}
	slices.SortFunc(out, func(a, b sinksocket.StreamSRI) int {
		return cmp.Compare(a.StreamID, b.StreamID)
	})
	return out
}

// Stats returns the current counters.
func (p *OctetPort) Stats() Stats {
	return Stats{
		QueueDepth:    len(p.queue),
		QueueCapacity: cap(p.queue),
		Received:      p.received.Load(),
		Dropped:       p.dropped.Load(),
		Flushes:       p.flushes.Load(),
		ActiveStreams: p.streams.Len(),
		Enabled:       p.enabled.Load(),
	}
}

// Reset discards queued packets and forgets every stream.
func (p *OctetPort) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drain()
	p.flushed = false
	p.streams.Purge()
	p.observeStreams()
	p.observeDepth()
}

// drain empties the queue and returns the number of packets discarded.
// Callers hold p.mu.
func (p *OctetPort) drain() int {
	n := 0
	for {
		select {
		case <-p.queue:
			n++
		default:
			p.countDropped(n)
			return n
		}
	}
}

func (p *OctetPort) countDropped(n int) {
	if n == 0 {
		return
	}
	p.dropped.Add(uint64(n))
	if p.metrics != nil {
		p.metrics.PacketsDropped.Add(float64(n))
	}
}

func (p *OctetPort) observeDepth() {
	if p.metrics != nil {
		p.metrics.QueueDepth.Set(float64(len(p.queue)))
	}
}

func (p *OctetPort) observeStreams() {
	if p.metrics != nil {
		p.metrics.ActiveStreams.Set(float64(p.streams.Len()))
	}
}
