// Package testutil provides configurable test fakes for sink interfaces.
package testutil

import (
	"bytes"
	"context"
	"sync"

	sinksocket "github.com/eugener/sinksocket/internal"
)

// FakeConn is an in-memory netio.Conn. Writes are appended to an internal
// buffer unless WriteFn is set.
type FakeConn struct {
	WriteFn func(ctx context.Context, p []byte) (int, error)
	Address string

	mu        sync.Mutex
	buf       bytes.Buffer
	writes    int
	connected bool
	closed    bool
}

// NewFakeConn returns a connected FakeConn.
func NewFakeConn() *FakeConn {
	return &FakeConn{Address: "fake:0", connected: true}
}

// Write delegates to WriteFn or records p.
func (c *FakeConn) Write(ctx context.Context, p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, sinksocket.ErrNoPeer
	}
	c.writes++
	if c.WriteFn != nil {
		return c.WriteFn(ctx, p)
	}
	return c.buf.Write(p)
}

// SetConnected changes what Connected reports.
func (c *FakeConn) SetConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// Connected reports the configured connection state.
func (c *FakeConn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && !c.closed
}

// Close marks the conn closed.
func (c *FakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (c *FakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Addr returns Address.
func (c *FakeConn) Addr() string { return c.Address }

// Bytes returns a copy of everything written so far.
func (c *FakeConn) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Clone(c.buf.Bytes())
}

// Writes returns the number of Write calls, failed ones included.
func (c *FakeConn) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}
