package server

import (
	"net/http"
	"testing"
	"time"

	sinksocket "github.com/eugener/sinksocket/internal"
)

func TestGetComponent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/v1/component", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rec.Code, rec.Body.String())
	}
	var v componentView
	decodeBody(t, rec, &v)

	if v.ID != "sink-1" {
		t.Errorf("id = %q, want sink-1", v.ID)
	}
	if v.ConnectionType != sinksocket.ConnServer {
		t.Errorf("connection_type = %q, want server", v.ConnectionType)
	}
	if v.Status != sinksocket.StatusStartup {
		t.Errorf("status = %q, want %q", v.Status, sinksocket.StatusStartup)
	}
	if v.Delay != "5ms" || v.StopTimeout != "1s" {
		t.Errorf("durations = %q/%q, want 5ms/1s", v.Delay, v.StopTimeout)
	}
	if v.Running || v.Input.Enabled {
		t.Errorf("fresh component running=%v port enabled=%v", v.Running, v.Input.Enabled)
	}
	if v.Input.QueueCapacity != 8 {
		t.Errorf("queue capacity = %d, want 8", v.Input.QueueCapacity)
	}
}

func TestPatchComponent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPatch, "/v1/component", `{"delay":"250ms","stop_on_eos":true,"port":4100}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rec.Code, rec.Body.String())
	}
	var v componentView
	decodeBody(t, rec, &v)
	if v.Delay != "250ms" || !v.StopOnEOS || v.Port != 4100 {
		t.Errorf("patched view = %+v", v)
	}
	// Untouched fields keep their values.
	if v.StopTimeout != "1s" || v.ConnectionType != sinksocket.ConnServer {
		t.Errorf("unpatched fields changed: %+v", v)
	}

	p := env.sink.Query()
	if p.Delay != 250*time.Millisecond {
		t.Errorf("sink delay = %v, want 250ms", p.Delay)
	}
}

func TestPatchComponentZeroDelay(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPatch, "/v1/component", `{"delay":"0s"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rec.Code, rec.Body.String())
	}
	if got := env.sink.Query().Delay; got != 0 {
		t.Errorf("sink delay = %v, want 0", got)
	}
}

func TestPatchComponentErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{`, http.StatusBadRequest},
		{"bad duration", `{"delay":"soon"}`, http.StatusBadRequest},
		{"zero stop timeout", `{"stop_timeout":"0s"}`, http.StatusBadRequest},
		{"negative delay", `{"delay":"-1ms"}`, http.StatusBadRequest},
		{"unknown connection type", `{"connection_type":"udp"}`, http.StatusBadRequest},
		{"client without address", `{"connection_type":"client"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, nil)
			rec := env.do(t, http.MethodPatch, "/v1/component", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d; body = %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestComponentLifecycle(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	// Start before Initialize is a conflict.
	if rec := env.do(t, http.MethodPost, "/v1/component/start", ""); rec.Code != http.StatusConflict {
		t.Fatalf("start before initialize: status = %d, want %d", rec.Code, http.StatusConflict)
	}

	rec := env.do(t, http.MethodPost, "/v1/component/initialize", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("initialize: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	var v componentView
	decodeBody(t, rec, &v)
	if v.Status != sinksocket.StatusWaiting {
		t.Errorf("status after initialize = %q, want %q", v.Status, sinksocket.StatusWaiting)
	}

	rec = env.do(t, http.MethodPost, "/v1/component/start", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("start: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &v)
	if !v.Running || !v.Input.Enabled {
		t.Errorf("after start running=%v port enabled=%v", v.Running, v.Input.Enabled)
	}

	rec = env.do(t, http.MethodPost, "/v1/component/stop", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stop: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &v)
	if v.Running || v.Status != sinksocket.StatusStopped {
		t.Errorf("after stop running=%v status=%q", v.Running, v.Status)
	}

	rec = env.do(t, http.MethodPost, "/v1/component/release", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("release: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	if !env.conn.Closed() {
		t.Error("transport not closed by release")
	}
	if rec := env.do(t, http.MethodPost, "/v1/component/start", ""); rec.Code != http.StatusConflict {
		t.Errorf("start after release: status = %d, want %d", rec.Code, http.StatusConflict)
	}
}
