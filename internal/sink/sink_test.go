package sink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sinksocket "github.com/eugener/sinksocket/internal"
	"github.com/eugener/sinksocket/internal/netio"
	"github.com/eugener/sinksocket/internal/port"
	"github.com/eugener/sinksocket/internal/testutil"
	"github.com/eugener/sinksocket/internal/worker"
)

type recordingRecorder struct {
	mu      sync.Mutex
	samples []sinksocket.ThroughputSample
}

func (r *recordingRecorder) Record(s sinksocket.ThroughputSample) {
	r.mu.Lock()
	r.samples = append(r.samples, s)
	r.mu.Unlock()
}

func (r *recordingRecorder) all() []sinksocket.ThroughputSample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sinksocket.ThroughputSample(nil), r.samples...)
}

// fakeDialer hands out conns from a list and records the configs it saw.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*testutil.FakeConn
	cfgs  []netio.Config
	err   error
}

func (d *fakeDialer) dial(_ context.Context, cfg netio.Config) (netio.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfgs = append(d.cfgs, cfg)
	if d.err != nil {
		return nil, d.err
	}
	c := testutil.NewFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) last() *testutil.FakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

func newComponent(t *testing.T, props sinksocket.Properties, rec SampleRecorder) (*Component, *fakeDialer) {
	t.Helper()
	d := &fakeDialer{}
	c, err := New(Options{
		ID:         "c1",
		Properties: props,
		Port:       port.Options{QueueDepth: 16},
		Window:     20 * time.Millisecond,
		Recorder:   rec,
		Dial:       d.dial,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c, d
}

// initialized opens the transport and the port without starting the worker,
// so tests can drive ServiceFunction by hand.
func initialized(t *testing.T, c *Component) {
	t.Helper()
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	c.Port().Enable()
}

func push(t *testing.T, c *Component, data string, eos bool, stream string) {
	t.Helper()
	if err := c.Port().PushPacket(context.Background(), []byte(data), time.Now(), eos, stream); err != nil {
		t.Fatalf("push: %v", err)
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	c, _ := newComponent(t, sinksocket.Properties{}, nil)
	p := c.Query()
	if p.ConnectionType != sinksocket.ConnServer {
		t.Errorf("connection_type = %q, want server", p.ConnectionType)
	}
	if p.Delay != defaultDelay || p.StopTimeout != defaultStopTimeout {
		t.Errorf("delay/stop_timeout = %v/%v", p.Delay, p.StopTimeout)
	}
	if p.Status != sinksocket.StatusStartup {
		t.Errorf("status = %q, want startup", p.Status)
	}
}

func TestNew_Invalid(t *testing.T) {
	t.Parallel()

	_, err := New(Options{Properties: sinksocket.Properties{ConnectionType: "pipe"}})
	if !errors.Is(err, sinksocket.ErrBadConnectionType) {
		t.Errorf("err = %v, want ErrBadConnectionType", err)
	}
	_, err = New(Options{Properties: sinksocket.Properties{ConnectionType: sinksocket.ConnClient}})
	if !errors.Is(err, sinksocket.ErrBadRequest) {
		t.Errorf("client without ip: err = %v, want ErrBadRequest", err)
	}
}

func TestNew_PortClosedUntilStart(t *testing.T) {
	t.Parallel()

	c, _ := newComponent(t, sinksocket.Properties{}, nil)
	if c.Port().Enabled() {
		t.Fatal("port enabled on a new component")
	}
	err := c.Port().PushPacket(context.Background(), []byte("early"), time.Now(), false, "rx")
	if !errors.Is(err, sinksocket.ErrPortDisabled) {
		t.Errorf("push before Start = %v, want ErrPortDisabled", err)
	}
	if err := c.Port().PushSRI(sinksocket.StreamSRI{StreamID: "rx"}); !errors.Is(err, sinksocket.ErrPortDisabled) {
		t.Errorf("PushSRI before Start = %v, want ErrPortDisabled", err)
	}

	// Initialize alone does not open the port either.
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.Port().Enabled() {
		t.Error("port enabled after Initialize")
	}
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	if err := c.Port().PushPacket(context.Background(), []byte("late"), time.Now(), false, "rx"); err != nil {
		t.Errorf("push after Start: %v", err)
	}
}

func TestNew_ZeroDelay(t *testing.T) {
	t.Parallel()

	zero := time.Duration(0)
	c, err := New(Options{
		Properties: sinksocket.Properties{Delay: time.Second},
		Delay:      &zero,
		Dial:       (&fakeDialer{}).dial,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if got := c.Query().Delay; got != 0 {
		t.Errorf("delay = %v, want 0", got)
	}
	if got := c.worker.Delay(); got != 0 {
		t.Errorf("worker delay = %v, want 0", got)
	}
}

func TestStart_RequiresInitialize(t *testing.T) {
	t.Parallel()

	c, _ := newComponent(t, sinksocket.Properties{}, nil)
	if err := c.Start(); !errors.Is(err, sinksocket.ErrNotInitialized) {
		t.Errorf("Start before Initialize = %v, want ErrNotInitialized", err)
	}
}

func TestServiceFunction_WritesAndCounts(t *testing.T) {
	t.Parallel()

	rec := &recordingRecorder{}
	c, d := newComponent(t, sinksocket.Properties{}, rec)
	initialized(t, c)

	if got := c.ServiceFunction(); got != worker.NoWork {
		t.Fatalf("empty port: %v, want NoWork", got)
	}

	push(t, c, "hello", false, "s1")
	push(t, c, "world", false, "s2")
	for range 2 {
		if got := c.ServiceFunction(); got != worker.ProgressMade {
			t.Fatalf("ServiceFunction = %v, want ProgressMade", got)
		}
	}
	if got := string(d.last().Bytes()); got != "helloworld" {
		t.Errorf("written = %q, want helloworld", got)
	}

	p := c.Query()
	if p.TotalBytes != 10 {
		t.Errorf("total_bytes = %v, want 10", p.TotalBytes)
	}
	if p.Status != sinksocket.StatusConnected {
		t.Errorf("status = %q, want connected", p.Status)
	}

	// Close the window and check the samples.
	time.Sleep(30 * time.Millisecond)
	c.ServiceFunction()
	if c.Query().BytesPerSec <= 0 {
		t.Error("bytes_per_sec not updated after window")
	}
	samples := rec.all()
	if len(samples) != 2 {
		t.Fatalf("samples = %d, want 2", len(samples))
	}
	for _, s := range samples {
		if s.ComponentID != "c1" || s.Bytes != 5 || s.Packets != 1 {
			t.Errorf("sample = %+v", s)
		}
	}
}

func TestServiceFunction_RetryOnceThenDrop(t *testing.T) {
	t.Parallel()

	c, d := newComponent(t, sinksocket.Properties{}, nil)
	initialized(t, c)
	conn := d.last()
	conn.WriteFn = func(context.Context, []byte) (int, error) { return 0, sinksocket.ErrNoPeer }

	push(t, c, "a", false, "s")
	push(t, c, "b", false, "s")

	if got := c.ServiceFunction(); got != worker.NoWork {
		t.Fatalf("first failure: %v, want NoWork", got)
	}
	if c.Status() != sinksocket.StatusWaiting {
		t.Errorf("status = %q, want waiting", c.Status())
	}
	if got := c.ServiceFunction(); got != worker.NoWork {
		t.Fatalf("retry failure: %v, want NoWork", got)
	}
	if n := conn.Writes(); n != 2 {
		t.Errorf("writes = %d, want 2 (same packet retried once)", n)
	}

	// "a" was dropped; "b" is next and goes through.
	conn.WriteFn = nil
	if got := c.ServiceFunction(); got != worker.ProgressMade {
		t.Fatalf("after recovery: %v, want ProgressMade", got)
	}
	if got := string(conn.Bytes()); got != "b" {
		t.Errorf("written = %q, want b", got)
	}
}

func TestServiceFunction_PartialWriteResendsRemainder(t *testing.T) {
	t.Parallel()

	c, d := newComponent(t, sinksocket.Properties{}, nil)
	initialized(t, c)

	var received []byte
	calls := 0
	d.last().WriteFn = func(_ context.Context, p []byte) (int, error) {
		calls++
		if calls == 1 {
			received = append(received, p[:3]...)
			return 3, errors.New("connection reset")
		}
		received = append(received, p...)
		return len(p), nil
	}

	push(t, c, "abcdefgh", false, "s")
	if got := c.ServiceFunction(); got != worker.NoWork {
		t.Fatalf("partial write: %v, want NoWork", got)
	}
	if got := c.ServiceFunction(); got != worker.ProgressMade {
		t.Fatalf("retry: %v, want ProgressMade", got)
	}
	if string(received) != "abcdefgh" {
		t.Errorf("peer received %q, want abcdefgh", received)
	}
	if got := c.Query().TotalBytes; got != 8 {
		t.Errorf("total_bytes = %v, want 8", got)
	}
}

func TestServiceFunction_ErrorStatus(t *testing.T) {
	t.Parallel()

	c, d := newComponent(t, sinksocket.Properties{}, nil)
	initialized(t, c)
	d.last().WriteFn = func(context.Context, []byte) (int, error) { return 0, errors.New("broken pipe") }
	push(t, c, "a", false, "s")
	c.ServiceFunction()
	if got := c.Status(); got != sinksocket.StatusErrorPrefix+"broken pipe" {
		t.Errorf("status = %q", got)
	}
}

func TestServiceFunction_EOS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		stopOnEOS bool
		want      worker.WorkResult
	}{
		{"continue", false, worker.ProgressMade},
		{"stop", true, worker.Done},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, _ := newComponent(t, sinksocket.Properties{StopOnEOS: tt.stopOnEOS}, nil)
			initialized(t, c)
			push(t, c, "", true, "s")
			if got := c.ServiceFunction(); got != tt.want {
				t.Errorf("ServiceFunction = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLifecycle_StartStop(t *testing.T) {
	t.Parallel()

	c, d := newComponent(t, sinksocket.Properties{Delay: time.Millisecond}, nil)
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	if !c.Running() {
		t.Fatal("not running after Start")
	}

	push(t, c, "payload", false, "s")
	deadline := time.Now().Add(2 * time.Second)
	for string(d.last().Bytes()) != "payload" {
		if time.Now().After(deadline) {
			t.Fatal("worker never wrote the packet")
		}
		time.Sleep(time.Millisecond)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if c.Running() {
		t.Error("still running after Stop")
	}
	if got := c.Status(); got != sinksocket.StatusStopped {
		t.Errorf("status = %q, want stopped", got)
	}
	err := c.Port().PushPacket(context.Background(), []byte("x"), time.Now(), false, "s")
	if !errors.Is(err, sinksocket.ErrPortDisabled) {
		t.Errorf("push after Stop = %v, want ErrPortDisabled", err)
	}

	// Restart works.
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	if !c.Running() {
		t.Error("not running after restart")
	}
}

func TestLifecycle_StopTimeout(t *testing.T) {
	t.Parallel()

	c, d := newComponent(t, sinksocket.Properties{StopTimeout: 5 * time.Millisecond}, nil)
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	block := make(chan struct{})
	entered := make(chan struct{}, 1)
	d.last().WriteFn = func(_ context.Context, p []byte) (int, error) {
		entered <- struct{}{}
		<-block
		return len(p), nil
	}
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	push(t, c, "slow", false, "s")
	<-entered

	if err := c.Stop(); !errors.Is(err, sinksocket.ErrStopTimeout) {
		t.Fatalf("Stop during slow write = %v, want ErrStopTimeout", err)
	}
	if !c.Running() {
		t.Error("worker should still be owned after a timed-out Stop")
	}

	close(block)
	if err := c.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if c.Running() {
		t.Error("still running after second Stop")
	}
}

func TestConfigure_ReopensTransport(t *testing.T) {
	t.Parallel()

	c, d := newComponent(t, sinksocket.Properties{Port: 5000}, nil)
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	first := d.last()

	p := c.Query()
	p.Delay = 7 * time.Millisecond
	if err := c.Configure(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if len(d.cfgs) != 1 {
		t.Errorf("delay change reopened the transport")
	}
	if got := c.worker.Delay(); got != 7*time.Millisecond {
		t.Errorf("worker delay = %v, want 7ms", got)
	}

	p.Delay = 0
	if err := c.Configure(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if got := c.worker.Delay(); got != 0 {
		t.Errorf("worker delay = %v, want 0 after configuring zero", got)
	}

	p.ConnectionType = sinksocket.ConnClient
	p.IPAddress = "10.0.0.1"
	p.Port = 6000
	if err := c.Configure(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if !first.Closed() {
		t.Error("old transport not closed")
	}
	if len(d.cfgs) != 2 {
		t.Fatalf("dials = %d, want 2", len(d.cfgs))
	}
	cfg := d.cfgs[1]
	if cfg.Type != sinksocket.ConnClient || cfg.Host != "10.0.0.1" || cfg.Port != 6000 {
		t.Errorf("reopen config = %+v", cfg)
	}

	if err := c.Configure(context.Background(), sinksocket.Properties{ConnectionType: "bogus"}); !errors.Is(err, sinksocket.ErrBadConnectionType) {
		t.Errorf("bad configure = %v, want ErrBadConnectionType", err)
	}
}

func TestInitialize_DialError(t *testing.T) {
	t.Parallel()

	c, d := newComponent(t, sinksocket.Properties{}, nil)
	d.err = errors.New("address in use")
	if err := c.Initialize(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if got := c.Status(); got != sinksocket.StatusErrorPrefix+"address in use" {
		t.Errorf("status = %q", got)
	}
}

func TestReleaseObject(t *testing.T) {
	t.Parallel()

	c, d := newComponent(t, sinksocket.Properties{Delay: time.Millisecond}, nil)
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	if err := c.Port().PushSRI(sinksocket.StreamSRI{StreamID: "s", HVersion: 1}); err != nil {
		t.Fatal(err)
	}

	if err := c.ReleaseObject(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.Running() {
		t.Error("running after ReleaseObject")
	}
	if !d.last().Closed() {
		t.Error("transport not closed")
	}
	if n := len(c.Port().ActiveSRIs()); n != 0 {
		t.Errorf("active streams = %d, want 0", n)
	}
	if err := c.Start(); !errors.Is(err, sinksocket.ErrNotInitialized) {
		t.Errorf("Start after release = %v, want ErrNotInitialized", err)
	}
}
