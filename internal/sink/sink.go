// Package sink implements the socket sink component: it drains the dataOctet
// port on a PeriodicWorker and writes every packet to a TCP transport.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/dnscache"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	sinksocket "github.com/eugener/sinksocket/internal"
	"github.com/eugener/sinksocket/internal/circuitbreaker"
	"github.com/eugener/sinksocket/internal/netio"
	"github.com/eugener/sinksocket/internal/port"
	"github.com/eugener/sinksocket/internal/telemetry"
	"github.com/eugener/sinksocket/internal/worker"
)

const (
	defaultDelay       = 100 * time.Millisecond
	defaultStopTimeout = 3 * time.Second
	defaultWindow      = time.Second
)

// SampleRecorder receives one throughput sample per stream per window.
// *worker.SampleRecorder satisfies it.
type SampleRecorder interface {
	Record(s sinksocket.ThroughputSample)
}

// Dialer opens a transport. netio.Dial is the default.
type Dialer func(ctx context.Context, cfg netio.Config) (netio.Conn, error)

// Options configures a Component.
type Options struct {
	ID           string // generated when empty
	Properties   sinksocket.Properties
	Port         port.Options
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	Resolver     *dnscache.Resolver
	Breaker      circuitbreaker.Config
	Window       time.Duration // throughput window, default 1s
	Metrics      *telemetry.Metrics
	Recorder     SampleRecorder
	Dial         Dialer

	// Delay overrides Properties.Delay and may be zero. When nil, a zero
	// Properties.Delay falls back to 100ms.
	Delay *time.Duration
}

// Component is one socket sink instance.
type Component struct {
	id       string
	opts     Options
	port     *port.OctetPort
	worker   *worker.PeriodicWorker
	metrics  *telemetry.Metrics
	recorder SampleRecorder
	dial     Dialer

	mu    sync.Mutex // serializes lifecycle and Configure
	props sinksocket.Properties

	connMu sync.RWMutex
	conn   netio.Conn

	stopOnEOS atomic.Bool
	status    atomic.Value // string

	// Touched only by the worker goroutine.
	pending *sinksocket.Packet
	retried bool

	tp throughput
}

// New creates a component in the startup state. The transport is not opened
// until Initialize.
func New(opts Options) (*Component, error) {
	if opts.ID == "" {
		opts.ID = uuid.Must(uuid.NewV7()).String()
	}
	if opts.Dial == nil {
		opts.Dial = netio.Dial
	}
	if opts.Window <= 0 {
		opts.Window = defaultWindow
	}
	props := opts.Properties
	if props.ConnectionType == "" {
		props.ConnectionType = sinksocket.ConnServer
	}
	switch {
	case opts.Delay != nil:
		props.Delay = *opts.Delay
	case props.Delay == 0:
		props.Delay = defaultDelay
	}
	if props.StopTimeout <= 0 {
		props.StopTimeout = defaultStopTimeout
	}
	if err := validate(props); err != nil {
		return nil, err
	}

	if opts.Port.Metrics == nil {
		opts.Port.Metrics = opts.Metrics
	}
	p, err := port.New(opts.Port)
	if err != nil {
		return nil, fmt.Errorf("create port: %w", err)
	}
	// Only Start opens the port.
	p.Disable()

	c := &Component{
		id:       opts.ID,
		opts:     opts,
		port:     p,
		metrics:  opts.Metrics,
		recorder: opts.Recorder,
		dial:     opts.Dial,
		props:    props,
		tp:       newThroughput(opts.Window),
	}
	c.stopOnEOS.Store(props.StopOnEOS)
	c.status.Store(sinksocket.StatusStartup)
	c.worker = worker.NewPeriodicWorker(c, props.Delay,
		worker.WithName("sinksocket:"+c.id),
		worker.WithObserver(c.observe),
	)
	return c, nil
}

func validate(p sinksocket.Properties) error {
	switch p.ConnectionType {
	case sinksocket.ConnClient:
		if p.IPAddress == "" {
			return fmt.Errorf("%w: client mode needs ip_address", sinksocket.ErrBadRequest)
		}
	case sinksocket.ConnServer:
	default:
		return fmt.Errorf("%w: %q", sinksocket.ErrBadConnectionType, p.ConnectionType)
	}
	if p.Delay < 0 || p.StopTimeout < 0 {
		return fmt.Errorf("%w: negative duration", sinksocket.ErrBadRequest)
	}
	return nil
}

// ID returns the component instance ID.
func (c *Component) ID() string { return c.id }

// Port returns the dataOctet input port.
func (c *Component) Port() *port.OctetPort { return c.port }

// Running reports whether the service worker goroutine is executing.
func (c *Component) Running() bool { return c.worker.Alive() }

// Initialize opens the transport. Calling it again reopens.
func (c *Component) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reopenLocked(ctx, "sink.initialize")
}

// Start enables the port and launches the service worker. It is a no-op when
// already running.
func (c *Component) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connMu.RLock()
	initialized := c.conn != nil
	c.connMu.RUnlock()
	if !initialized {
		return sinksocket.ErrNotInitialized
	}

	c.port.Enable()
	c.worker.Start()
	if c.Status() == sinksocket.StatusStopped {
		c.setStatus(sinksocket.StatusWaiting)
	}
	slog.Info("sink started", "component_id", c.id, "connection_type", string(c.props.ConnectionType))
	return nil
}

// Stop disables the port and waits up to stop_timeout for the service worker.
// On timeout the worker stays owned and ErrStopTimeout is returned; calling
// Stop again resumes the wait.
func (c *Component) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.port.Disable()
	if !c.worker.Release(c.props.StopTimeout) {
		if c.metrics != nil {
			c.metrics.ReleaseTimeouts.Inc()
		}
		return fmt.Errorf("%w after %s", sinksocket.ErrStopTimeout, c.props.StopTimeout)
	}
	c.closeWindow(time.Now())
	c.setStatus(sinksocket.StatusStopped)
	slog.Info("sink stopped", "component_id", c.id)
	return nil
}

// ReleaseObject stops the worker without a deadline, closes the transport and
// drops all port state. The component can be initialized again afterwards.
func (c *Component) ReleaseObject(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.port.Disable()
	c.worker.Release(0)
	c.closeWindow(time.Now())
	c.port.Reset()
	c.pending = nil
	c.retried = false

	c.connMu.Lock()
	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	c.setStatus(sinksocket.StatusStopped)
	slog.LogAttrs(ctx, slog.LevelInfo, "sink released", slog.String("component_id", c.id))
	return err
}

// Close is ReleaseObject with a background context.
func (c *Component) Close() error {
	return c.ReleaseObject(context.Background())
}

// Configure applies the writable properties of p. Read-only fields are
// ignored. A change of connection_type, ip_address or port reopens an
// initialized transport; a delay change, zero included, takes effect at the
// next idle sleep. A zero stop_timeout keeps the current one.
func (c *Component) Configure(ctx context.Context, p sinksocket.Properties) error {
	if err := validate(p); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.props
	c.props.ConnectionType = p.ConnectionType
	c.props.IPAddress = p.IPAddress
	c.props.Port = p.Port
	c.props.StopOnEOS = p.StopOnEOS
	c.stopOnEOS.Store(p.StopOnEOS)
	if p.StopTimeout > 0 {
		c.props.StopTimeout = p.StopTimeout
	}
	if p.Delay != old.Delay {
		c.props.Delay = p.Delay
		c.worker.UpdateDelay(p.Delay)
	}

	transportChanged := old.ConnectionType != p.ConnectionType ||
		old.IPAddress != p.IPAddress ||
		old.Port != p.Port

	c.connMu.RLock()
	initialized := c.conn != nil
	c.connMu.RUnlock()

	if transportChanged && initialized {
		return c.reopenLocked(ctx, "sink.reconfigure")
	}
	return nil
}

// reopenLocked replaces the transport. Callers hold c.mu.
func (c *Component) reopenLocked(ctx context.Context, spanName string) error {
	ctx, span := telemetry.Tracer("sinksocket/sink").Start(ctx, spanName)
	defer span.End()
	span.SetAttributes(
		attribute.String("sink.component_id", c.id),
		attribute.String("sink.connection_type", string(c.props.ConnectionType)),
		attribute.String("sink.ip_address", c.props.IPAddress),
		attribute.Int("sink.port", int(c.props.Port)),
	)

	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			slog.LogAttrs(ctx, slog.LevelWarn, "close transport",
				slog.String("component_id", c.id),
				slog.String("error", err.Error()),
			)
		}
		c.conn = nil
	}

	conn, err := c.dial(ctx, netio.Config{
		Type:         c.props.ConnectionType,
		Host:         c.props.IPAddress,
		Port:         c.props.Port,
		DialTimeout:  c.opts.DialTimeout,
		WriteTimeout: c.opts.WriteTimeout,
		Resolver:     c.opts.Resolver,
		Breaker:      c.opts.Breaker,
		Metrics:      c.metrics,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.setStatus(sinksocket.StatusErrorPrefix + err.Error())
		return fmt.Errorf("open transport: %w", err)
	}
	c.conn = conn
	c.setStatus(sinksocket.StatusWaiting)
	slog.LogAttrs(ctx, slog.LevelInfo, "transport opened",
		slog.String("component_id", c.id),
		slog.String("connection_type", string(c.props.ConnectionType)),
		slog.String("addr", conn.Addr()),
	)
	return nil
}

// Query returns the current properties including the read-only ones.
func (c *Component) Query() sinksocket.Properties {
	c.mu.Lock()
	p := c.props
	c.mu.Unlock()

	p.Status = c.Status()
	p.TotalBytes, p.BytesPerSec = c.tp.snapshot()
	return p
}

// Status returns the status property.
func (c *Component) Status() string {
	s, _ := c.status.Load().(string)
	return s
}

func (c *Component) setStatus(s string) {
	if prev := c.status.Swap(s); prev != s {
		slog.LogAttrs(context.Background(), slog.LevelDebug, "sink status changed",
			slog.String("component_id", c.id),
			slog.String("status", s),
		)
	}
}

// ServiceFunction moves at most one packet from the port to the transport.
func (c *Component) ServiceFunction() worker.WorkResult {
	now := time.Now()
	c.tickWindow(now)

	pkt := c.pending
	if pkt == nil {
		var ok bool
		pkt, ok = c.port.GetPacket()
		if !ok {
			c.refreshStatus()
			return worker.NoWork
		}
		c.noteFlags(pkt)
	}

	if len(pkt.Data) > 0 {
		if n, err := c.write(pkt); err != nil {
			if !c.retried {
				// The retry resends only what the peer has not received.
				if n > 0 {
					rest := *pkt
					rest.Data = pkt.Data[n:]
					pkt = &rest
				}
				c.pending, c.retried = pkt, true
				return worker.NoWork
			}
			slog.LogAttrs(context.Background(), slog.LevelWarn, "dropping packet after retry",
				slog.String("component_id", c.id),
				slog.String("stream_id", pkt.StreamID),
				slog.Int("bytes", len(pkt.Data)),
				slog.String("error", err.Error()),
			)
			c.pending, c.retried = nil, false
			if pkt.EOS && c.stopOnEOS.Load() {
				return worker.Done
			}
			return worker.NoWork
		}
	}
	c.pending, c.retried = nil, false

	if pkt.EOS {
		slog.LogAttrs(context.Background(), slog.LevelInfo, "end of stream",
			slog.String("component_id", c.id),
			slog.String("stream_id", pkt.StreamID),
		)
		if c.stopOnEOS.Load() {
			c.closeWindow(time.Now())
			return worker.Done
		}
	}
	return worker.ProgressMade
}

// write sends pkt.Data and returns how many bytes the transport accepted,
// which can be non-zero on error.
func (c *Component) write(pkt *sinksocket.Packet) (int, error) {
	c.connMu.RLock()
	conn := c.conn
	if conn == nil {
		c.connMu.RUnlock()
		return 0, sinksocket.ErrNotInitialized
	}
	n, err := conn.Write(context.Background(), pkt.Data)
	c.connMu.RUnlock()

	if n > 0 {
		c.tp.add(pkt.StreamID, int64(n), err == nil)
		if c.metrics != nil {
			c.metrics.BytesWritten.Add(float64(n))
		}
	}
	if err != nil {
		if c.metrics != nil {
			c.metrics.WriteErrors.Inc()
		}
		c.setStatus(statusFor(err))
		slog.LogAttrs(context.Background(), slog.LevelDebug, "write failed",
			slog.String("component_id", c.id),
			slog.String("stream_id", pkt.StreamID),
			slog.Int("written", n),
			slog.String("error", err.Error()),
		)
		return n, err
	}

	c.setStatus(sinksocket.StatusConnected)
	return n, nil
}

// statusFor maps a write error to the status property. A missing peer is the
// normal waiting state; anything else is reported as an error.
func statusFor(err error) string {
	if errors.Is(err, sinksocket.ErrNoPeer) || circuitbreaker.Refused(err) {
		return sinksocket.StatusWaiting
	}
	return sinksocket.StatusErrorPrefix + err.Error()
}

func (c *Component) refreshStatus() {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return
	}
	switch {
	case conn.Connected():
		c.setStatus(sinksocket.StatusConnected)
	case c.Status() == sinksocket.StatusConnected:
		c.setStatus(sinksocket.StatusWaiting)
	}
}

func (c *Component) noteFlags(pkt *sinksocket.Packet) {
	if pkt.InputQueueFlushed {
		slog.LogAttrs(context.Background(), slog.LevelWarn, "input queue was flushed",
			slog.String("component_id", c.id),
			slog.String("stream_id", pkt.StreamID),
		)
	}
	if pkt.SRIChanged {
		slog.LogAttrs(context.Background(), slog.LevelDebug, "stream descriptor in effect",
			slog.String("component_id", c.id),
			slog.String("stream_id", pkt.StreamID),
			slog.Float64("xdelta", pkt.SRI.XDelta),
			slog.Int("mode", int(pkt.SRI.Mode)),
		)
	}
}

func (c *Component) observe(r worker.WorkResult) {
	if c.metrics != nil {
		c.metrics.ServiceCycles.WithLabelValues(r.String()).Inc()
	}
}

// tickWindow closes the throughput window if it has run its length.
func (c *Component) tickWindow(now time.Time) {
	if samples, rate, ok := c.tp.roll(now, false); ok {
		c.emit(samples, rate)
	}
}

// closeWindow closes the current window regardless of its age.
func (c *Component) closeWindow(now time.Time) {
	if samples, rate, ok := c.tp.roll(now, true); ok {
		c.emit(samples, rate)
	}
}

func (c *Component) emit(samples []sinksocket.ThroughputSample, rate float64) {
	if c.metrics != nil {
		c.metrics.BytesPerSec.Set(rate)
	}
	if c.recorder == nil {
		return
	}
	for _, s := range samples {
		s.ComponentID = c.id
		c.recorder.Record(s)
	}
}
