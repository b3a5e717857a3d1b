package worker

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// WorkResult is the outcome of one ServiceFunction call.
type WorkResult int

const (
	// NoWork means nothing was available; the worker sleeps the idle delay.
	NoWork WorkResult = iota
	// Done means the target has finished for good; the worker exits.
	Done
	// ProgressMade means useful work happened; the worker loops immediately.
	ProgressMade
)

// String returns the snake_case name used in logs and metric labels.
func (r WorkResult) String() string {
	switch r {
	case NoWork:
		return "no_work"
	case Done:
		return "done"
	case ProgressMade:
		return "progress_made"
	default:
		return "unknown"
	}
}

// Target supplies the unit of work polled by a PeriodicWorker.
// ServiceFunction is always called from the worker goroutine.
type Target interface {
	ServiceFunction() WorkResult
}

// TargetFunc adapts a plain function to Target.
type TargetFunc func() WorkResult

// ServiceFunction calls f.
func (f TargetFunc) ServiceFunction() WorkResult { return f() }

// Option configures a PeriodicWorker.
type Option func(*PeriodicWorker)

// WithName sets the name used in log records.
func WithName(name string) Option {
	return func(w *PeriodicWorker) { w.name = name }
}

// WithObserver registers fn to be called on the worker goroutine after every
// ServiceFunction call, before any idle sleep.
func WithObserver(fn func(WorkResult)) Option {
	return func(w *PeriodicWorker) { w.observe = fn }
}

// PeriodicWorker drives a Target from a single dedicated goroutine.
//
// Start spawns the goroutine, which calls ServiceFunction until the target
// reports Done or Release clears the running flag. Release waits for the
// goroutine, optionally bounded; a bounded wait that times out leaves the
// goroutine owned so a later Release can resume waiting on it.
type PeriodicWorker struct {
	target  Target
	name    string
	observe func(WorkResult)

	delay   atomic.Int64 // nanoseconds
	running atomic.Bool

	mu   sync.Mutex
	done chan struct{} // non-nil while a goroutine is owned; closed when it returns
}

// NewPeriodicWorker returns a stopped worker for target. Negative delays are
// treated as zero.
func NewPeriodicWorker(target Target, delay time.Duration, opts ...Option) *PeriodicWorker {
	w := &PeriodicWorker{target: target, name: "periodic"}
	for _, o := range opts {
		o(w)
	}
	w.UpdateDelay(delay)
	return w
}

// Start launches the worker goroutine. It is a no-op while a goroutine is owned.
func (w *PeriodicWorker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done != nil {
		return
	}
	w.running.Store(true)
	done := make(chan struct{})
	w.done = done
	go w.run(done)
}

func (w *PeriodicWorker) run(done chan struct{}) {
	defer close(done)
	slog.Debug("service worker started", "name", w.name)

	state := ProgressMade
	for w.running.Load() && state != Done {
		state = w.target.ServiceFunction()
		if w.observe != nil {
			w.observe(state)
		}
		if state == NoWork {
			time.Sleep(w.Delay())
		}
	}

	slog.Debug("service worker exited", "name", w.name, "last_result", state.String())
}

// Release clears the running flag and waits for the worker goroutine to exit.
// A timeout <= 0 waits indefinitely. It returns false if a bounded wait
// elapses first; the goroutine is then still owned and Release may be called
// again. With no goroutine owned Release changes nothing and returns true.
func (w *PeriodicWorker) Release(timeout time.Duration) bool {
	// Start raises the flag under mu, so it is cleared under mu too.
	w.mu.Lock()
	done := w.done
	if done != nil {
		w.running.Store(false)
	}
	w.mu.Unlock()
	if done == nil {
		return true
	}

	if timeout <= 0 {
		<-done
	} else {
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case <-done:
		case <-t.C:
			slog.Warn("service worker did not stop in time",
				"name", w.name,
				"timeout", timeout,
			)
			return false
		}
	}

	// Concurrent Release calls wait on the same channel; the first one clears it.
	w.mu.Lock()
	if w.done == done {
		w.done = nil
	}
	w.mu.Unlock()
	return true
}

// ReleaseAfter is Release with the deadline given as seconds plus
// microseconds. (0, 0) waits indefinitely.
func (w *PeriodicWorker) ReleaseAfter(secs, usecs uint64) bool {
	return w.Release(time.Duration(secs)*time.Second + time.Duration(usecs)*time.Microsecond)
}

// Close releases the worker without a deadline. It always returns nil.
func (w *PeriodicWorker) Close() error {
	w.Release(0)
	return nil
}

// UpdateDelay replaces the idle delay used by subsequent sleeps. A sleep
// already in progress is not affected.
func (w *PeriodicWorker) UpdateDelay(d time.Duration) {
	w.delay.Store(int64(max(0, d)))
}

// Delay returns the current idle delay.
func (w *PeriodicWorker) Delay() time.Duration {
	return time.Duration(w.delay.Load())
}

// Running reports the running flag. It stays true after the target returns
// Done until Release is called.
func (w *PeriodicWorker) Running() bool { return w.running.Load() }

// Alive reports whether the worker goroutine is still executing.
func (w *PeriodicWorker) Alive() bool {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}
