// Package circuitbreaker guards a socket peer. After enough weighted failures
// in a sliding window the breaker opens and the sink stops dialing until the
// open timeout passes, then a single probe decides whether to close again.
package circuitbreaker

import (
	"fmt"
	"sync"
	"time"

	sinksocket "github.com/eugener/sinksocket/internal"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed allows all attempts through.
	StateClosed State = iota
	// StateOpen rejects all attempts.
	StateOpen
	// StateHalfOpen allows a single probe.
	StateHalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker parameters.
type Config struct {
	FailureRatio  float64       // weighted failure ratio to trip
	MinAttempts   int           // attempts in the window before the breaker may open
	WindowSeconds int           // sliding window length, at most 60
	OpenTimeout   time.Duration // time in OPEN before a probe is allowed
}

// DefaultConfig returns defaults suited to a single TCP peer: three straight
// failures open the breaker for five seconds.
func DefaultConfig() Config {
	return Config{
		FailureRatio:  0.5,
		MinAttempts:   3,
		WindowSeconds: 30,
		OpenTimeout:   5 * time.Second,
	}
}

// Breaker is a circuit breaker state machine for one peer.
type Breaker struct {
	mu       sync.Mutex
	cfg      Config
	state    State
	window   window
	openedAt time.Time
	probing  bool
	now      func() time.Time
	onChange func(from, to State)
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock replaces time.Now. Tests use it to step through the open timeout.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithStateChange registers fn, called with the lock held on every transition.
func WithStateChange(fn func(from, to State)) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg Config, opts ...Option) *Breaker {
	b := &Breaker{
		cfg:    cfg,
		window: newWindow(cfg.WindowSeconds),
		now:    time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow returns nil if an attempt may proceed, or an error wrapping
// sinksocket.ErrCircuitOpen.
func (b *Breaker) Allow() error {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if wait := b.cfg.OpenTimeout - now.Sub(b.openedAt); wait > 0 {
			return fmt.Errorf("%w: retry in %s", sinksocket.ErrCircuitOpen, wait.Round(time.Millisecond))
		}
		b.transition(StateHalfOpen)
		b.probing = true
		return nil
	default:
		if b.probing {
			return fmt.Errorf("%w: probe in flight", sinksocket.ErrCircuitOpen)
		}
		b.probing = true
		return nil
	}
}

// Record feeds the outcome of an allowed attempt back into the breaker.
// Errors are weighted by Classify; a zero weight counts as success.
func (b *Breaker) Record(err error) {
	weight := Classify(err)
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.window.record(weight, now)

	switch b.state {
	case StateClosed:
		if weight == 0 {
			return
		}
		ratio, attempts := b.window.ratio(now)
		if attempts >= b.cfg.MinAttempts && ratio >= b.cfg.FailureRatio {
			b.openedAt = now
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.probing = false
		if weight == 0 {
			b.window.reset()
			b.transition(StateClosed)
			return
		}
		b.openedAt = now
		b.transition(StateOpen)
	}
}

// Reset closes the breaker and forgets its history.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.window.reset()
	b.probing = false
	b.transition(StateClosed)
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onChange != nil {
		b.onChange(from, to)
	}
}
