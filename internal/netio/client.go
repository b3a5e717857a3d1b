package netio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/dnscache"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/eugener/sinksocket/internal/circuitbreaker"
	"github.com/eugener/sinksocket/internal/telemetry"
)

// Client writes to a single remote peer. It dials on the first write and
// again after any write failure, with a circuit breaker keeping a dead peer
// from being redialed on every call.
type Client struct {
	cfg      Config
	resolver *dnscache.Resolver
	breaker  *circuitbreaker.Breaker

	mu     sync.Mutex
	conn   net.Conn
	closed bool

	connected atomic.Bool
}

// NewClient returns an unconnected client for cfg.Host:cfg.Port.
func NewClient(cfg Config) *Client {
	addr := cfg.addr()
	return &Client{
		cfg:      cfg,
		resolver: cfg.Resolver,
		breaker: circuitbreaker.NewBreaker(cfg.Breaker,
			circuitbreaker.WithStateChange(func(from, to circuitbreaker.State) {
				slog.LogAttrs(context.Background(), slog.LevelWarn, "peer circuit state changed",
					slog.String("addr", addr),
					slog.String("from", from.String()),
					slog.String("to", to.String()),
				)
			}),
		),
	}
}

// Write sends p to the peer, dialing first if needed.
func (c *Client) Write(ctx context.Context, p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, net.ErrClosed
	}

	if c.conn == nil {
		if err := c.breaker.Allow(); err != nil {
			return 0, err
		}
		conn, err := c.dial(ctx)
		c.breaker.Record(err)
		if err != nil {
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.ConnectFailures.WithLabelValues(string(c.cfg.Type)).Inc()
			}
			return 0, fmt.Errorf("dial %s: %w", c.Addr(), err)
		}
		c.conn = conn
		c.setConnected(true)
		slog.LogAttrs(ctx, slog.LevelInfo, "connected to peer",
			slog.String("addr", c.Addr()),
			slog.String("remote", conn.RemoteAddr().String()),
		)
	}

	if err := c.conn.SetWriteDeadline(writeDeadline(ctx, c.cfg.WriteTimeout)); err != nil {
		c.dropLocked()
		return 0, fmt.Errorf("set write deadline: %w", err)
	}
	n, err := c.conn.Write(p)
	if err != nil {
		c.breaker.Record(err)
		c.dropLocked()
		return n, fmt.Errorf("write %s: %w", c.Addr(), err)
	}
	return n, nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	ctx, span := telemetry.Tracer("sinksocket/netio").Start(ctx, "netio.dial")
	defer span.End()
	span.SetAttributes(attribute.String("net.peer.name", c.cfg.Host))

	d := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := c.dialResolved(ctx, &d)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return conn, nil
}

// dialResolved tries each cached address for the host in turn.
func (c *Client) dialResolved(ctx context.Context, d *net.Dialer) (net.Conn, error) {
	if c.resolver == nil {
		return d.DialContext(ctx, "tcp", c.Addr())
	}
	ips, err := c.resolver.LookupHost(ctx, c.cfg.Host)
	if err != nil {
		return nil, err
	}
	port := strconv.Itoa(int(c.cfg.Port))
	var errs []error
	for _, ip := range ips {
		conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(ip, port))
		if err == nil {
			return conn, nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}

func (c *Client) dropLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.setConnected(false)
}

func (c *Client) setConnected(v bool) {
	if c.connected.Swap(v) == v || c.cfg.Metrics == nil {
		return
	}
	if v {
		c.cfg.Metrics.ConnectedPeers.Inc()
	} else {
		c.cfg.Metrics.ConnectedPeers.Dec()
	}
}

// Connected reports whether a connection is currently open.
func (c *Client) Connected() bool { return c.connected.Load() }

// Breaker exposes the peer circuit breaker state.
func (c *Client) Breaker() circuitbreaker.State { return c.breaker.State() }

// Addr returns host:port as configured.
func (c *Client) Addr() string { return c.cfg.addr() }

// Close closes the connection. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.dropLocked()
	return nil
}
