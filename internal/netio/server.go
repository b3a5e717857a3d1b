package netio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	sinksocket "github.com/eugener/sinksocket/internal"
)

// Server accepts any number of peers and copies every write to all of them.
// A peer whose write fails, or that closes its end, is dropped.
type Server struct {
	cfg Config
	ln  net.Listener

	mu     sync.Mutex
	peers  map[net.Conn]struct{}
	closed bool

	wg sync.WaitGroup
}

// Listen binds cfg.Host:cfg.Port and starts accepting peers in the background.
// An empty host listens on all interfaces.
func Listen(ctx context.Context, cfg Config) (*Server, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", cfg.addr())
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.addr(), err)
	}
	s := &Server{
		cfg:   cfg,
		ln:    ln,
		peers: make(map[net.Conn]struct{}),
	}
	s.wg.Go(s.acceptLoop)
	slog.Info("sink listening", "addr", ln.Addr().String())
	return s, nil
}

func (s *Server) acceptLoop() {
	var backoff time.Duration
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
			slog.LogAttrs(context.Background(), slog.LevelWarn, "accept failed",
				slog.String("error", err.Error()),
				slog.Duration("backoff", backoff),
			)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		if !s.add(conn) {
			_ = conn.Close()
			return
		}
		slog.LogAttrs(context.Background(), slog.LevelInfo, "peer connected",
			slog.String("remote", conn.RemoteAddr().String()),
			slog.Int("peers", s.PeerCount()),
		)
		s.wg.Go(func() { s.watch(conn) })
	}
}

// watch discards anything the peer sends and drops it once its end closes.
func (s *Server) watch(conn net.Conn) {
	_, _ = io.Copy(io.Discard, conn)
	if s.remove(conn) {
		slog.LogAttrs(context.Background(), slog.LevelInfo, "peer disconnected",
			slog.String("remote", conn.RemoteAddr().String()),
		)
	}
}

func (s *Server) add(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.peers[conn] = struct{}{}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ConnectedPeers.Inc()
	}
	return true
}

// remove closes conn and reports whether it was still registered.
func (s *Server) remove(conn net.Conn) bool {
	s.mu.Lock()
	_, ok := s.peers[conn]
	delete(s.peers, conn)
	if ok && s.cfg.Metrics != nil {
		s.cfg.Metrics.ConnectedPeers.Dec()
	}
	s.mu.Unlock()
	_ = conn.Close()
	return ok
}

// Write copies p to every peer. It fails with ErrNoPeer when no peer is
// attached or every peer write failed.
func (s *Server) Write(ctx context.Context, p []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, net.ErrClosed
	}
	peers := make([]net.Conn, 0, len(s.peers))
	for c := range s.peers {
		peers = append(peers, c)
	}
	s.mu.Unlock()

	if len(peers) == 0 {
		return 0, sinksocket.ErrNoPeer
	}

	deadline := writeDeadline(ctx, s.cfg.WriteTimeout)
	delivered := 0
	var lastErr error
	for _, c := range peers {
		_ = c.SetWriteDeadline(deadline)
		if _, err := c.Write(p); err != nil {
			lastErr = err
			slog.LogAttrs(ctx, slog.LevelWarn, "peer write failed, dropping",
				slog.String("remote", c.RemoteAddr().String()),
				slog.String("error", err.Error()),
			)
			s.remove(c)
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return 0, fmt.Errorf("%w: %w", sinksocket.ErrNoPeer, lastErr)
	}
	return len(p), nil
}

// Connected reports whether at least one peer is attached.
func (s *Server) Connected() bool { return s.PeerCount() > 0 }

// PeerCount returns the number of attached peers.
func (s *Server) PeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Addr returns the bound listener address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Close stops accepting, disconnects every peer and waits for the
// background goroutines.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	peers := make([]net.Conn, 0, len(s.peers))
	for c := range s.peers {
		peers = append(peers, c)
	}
	s.mu.Unlock()

	err := s.ln.Close()
	for _, c := range peers {
		s.remove(c)
	}
	s.wg.Wait()
	return err
}
