// Package netio provides the sink's TCP transports: a client that dials out to
// a peer and a server that fans writes out to every accepted peer.
package netio

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rs/dnscache"

	sinksocket "github.com/eugener/sinksocket/internal"
	"github.com/eugener/sinksocket/internal/circuitbreaker"
	"github.com/eugener/sinksocket/internal/telemetry"
)

// Conn is a byte sink backed by one or more TCP connections.
type Conn interface {
	// Write sends p to the peer(s). It returns the number of bytes accepted.
	Write(ctx context.Context, p []byte) (int, error)
	// Connected reports whether at least one peer is attached.
	Connected() bool
	// Close releases the listener or connection. Further writes fail.
	Close() error
	// Addr is the configured or bound address.
	Addr() string
}

// Config selects and configures a transport.
type Config struct {
	Type         sinksocket.ConnectionType
	Host         string
	Port         uint16
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	Resolver     *dnscache.Resolver    // client mode; nil uses the system resolver
	Breaker      circuitbreaker.Config // client mode
	Metrics      *telemetry.Metrics    // optional
}

func (c Config) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))
}

// Dial opens the transport selected by cfg.Type. Client transports connect
// lazily on first write; server transports bind immediately.
func Dial(ctx context.Context, cfg Config) (Conn, error) {
	switch cfg.Type {
	case sinksocket.ConnClient:
		if cfg.Host == "" {
			return nil, fmt.Errorf("%w: client mode needs ip_address", sinksocket.ErrBadRequest)
		}
		return NewClient(cfg), nil
	case sinksocket.ConnServer:
		s, err := Listen(ctx, cfg)
		if err != nil {
			if cfg.Metrics != nil {
				cfg.Metrics.ConnectFailures.WithLabelValues(string(cfg.Type)).Inc()
			}
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", sinksocket.ErrBadConnectionType, cfg.Type)
	}
}

// writeDeadline returns the earlier of ctx's deadline and now+timeout, or the
// zero time if neither applies.
func writeDeadline(ctx context.Context, timeout time.Duration) time.Time {
	var d time.Time
	if timeout > 0 {
		d = time.Now().Add(timeout)
	}
	if cd, ok := ctx.Deadline(); ok && (d.IsZero() || cd.Before(d)) {
		d = cd
	}
	return d
}
