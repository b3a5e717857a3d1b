package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/eugener/sinksocket/internal/sri"
)

func startSink(t testing.TB, env *testEnv) {
	t.Helper()
	if rec := env.do(t, http.MethodPost, "/v1/component/initialize", ""); rec.Code != http.StatusOK {
		t.Fatalf("initialize: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	if rec := env.do(t, http.MethodPost, "/v1/component/start", ""); rec.Code != http.StatusOK {
		t.Fatalf("start: status = %d; body = %s", rec.Code, rec.Body.String())
	}
}

func TestPushSRI(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	startSink(t, env)

	body := `{"streamID":"rx","xdelta":0.5,"keywords":[{"id":"COL_RF","type":"double","value":1.5e9}]}`
	rec := env.do(t, http.MethodPost, "/v1/ports/dataOctet/sri", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rec.Code, rec.Body.String())
	}

	stored, err := env.store.GetSRI(context.Background(), "rx")
	if err != nil {
		t.Fatal("descriptor not persisted:", err)
	}
	if stored.XDelta != 0.5 || len(stored.Keywords) != 1 {
		t.Errorf("stored = %+v", stored)
	}

	rec = env.do(t, http.MethodGet, "/v1/streams", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status = %d", rec.Code)
	}
	var list struct {
		Data []json.RawMessage `json:"data"`
	}
	decodeBody(t, rec, &list)
	if len(list.Data) != 1 {
		t.Fatalf("active streams = %d, want 1", len(list.Data))
	}
	got, err := sri.Decode(list.Data[0])
	if err != nil {
		t.Fatal(err)
	}
	if !sri.Equal(got, stored) {
		t.Errorf("active descriptor differs in %v", sri.Diff(got, stored))
	}

	rec = env.do(t, http.MethodGet, "/v1/streams/rx", "")
	if rec.Code != http.StatusOK {
		t.Errorf("get stream: status = %d", rec.Code)
	}
}

func TestPushSRIErrors(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	// Port is disabled until start.
	rec := env.do(t, http.MethodPost, "/v1/ports/dataOctet/sri", `{"streamID":"rx"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("disabled port: status = %d, want %d", rec.Code, http.StatusConflict)
	}

	startSink(t, env)
	for _, body := range []string{`not json`, `{"xdelta":1}`, `{"streamID":"rx","keywords":[{"id":"N","type":"short","value":99999}]}`} {
		rec := env.do(t, http.MethodPost, "/v1/ports/dataOctet/sri", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want %d", body, rec.Code, http.StatusBadRequest)
		}
	}
}

func TestPushPacket(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	startSink(t, env)

	rec := env.do(t, http.MethodPost, "/v1/ports/dataOctet/packets?stream_id=rx", "hello")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d; body = %s", rec.Code, rec.Body.String())
	}
	var resp pushResponse
	decodeBody(t, rec, &resp)
	if resp.StreamID != "rx" || resp.Bytes != 5 || resp.EOS {
		t.Errorf("response = %+v", resp)
	}

	deadline := time.Now().Add(2 * time.Second)
	for string(env.conn.Bytes()) != "hello" {
		if time.Now().After(deadline) {
			t.Fatalf("transport got %q, want %q", env.conn.Bytes(), "hello")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec = env.do(t, http.MethodPost, "/v1/ports/dataOctet/packets?stream_id=rx&eos=true", "!")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("eos push: status = %d", rec.Code)
	}
	decodeBody(t, rec, &resp)
	if !resp.EOS {
		t.Error("eos flag not echoed")
	}
}

func TestPushPacketErrors(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(d *Deps) { d.MaxPacketBytes = 4 })

	rec := env.do(t, http.MethodPost, "/v1/ports/dataOctet/packets?stream_id=rx", "abc")
	if rec.Code != http.StatusConflict {
		t.Errorf("disabled port: status = %d, want %d", rec.Code, http.StatusConflict)
	}

	startSink(t, env)
	tests := []struct {
		target string
		body   string
		want   int
	}{
		{"/v1/ports/dataOctet/packets", "abc", http.StatusBadRequest},
		{"/v1/ports/dataOctet/packets?stream_id=rx&eos=maybe", "abc", http.StatusBadRequest},
		{"/v1/ports/dataOctet/packets?stream_id=rx&time=yesterday", "abc", http.StatusBadRequest},
		{"/v1/ports/dataOctet/packets?stream_id=rx", strings.Repeat("x", 5), http.StatusRequestEntityTooLarge},
		{"/v1/ports/dataOctet/packets?stream_id=rx&time=2026-01-02T03:04:05.5Z", "abc", http.StatusAccepted},
	}
	for _, tt := range tests {
		rec := env.do(t, http.MethodPost, tt.target, tt.body)
		if rec.Code != tt.want {
			t.Errorf("POST %s: status = %d, want %d; body = %s", tt.target, rec.Code, tt.want, rec.Body.String())
		}
	}
}

func TestStreamNotFoundAndDelete(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	if rec := env.do(t, http.MethodGet, "/v1/streams/absent", ""); rec.Code != http.StatusNotFound {
		t.Errorf("get absent: status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if rec := env.do(t, http.MethodDelete, "/v1/streams/absent", ""); rec.Code != http.StatusNotFound {
		t.Errorf("delete absent: status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	if err := env.store.SaveSRI(context.Background(), sri.Default("rx")); err != nil {
		t.Fatal(err)
	}
	if rec := env.do(t, http.MethodDelete, "/v1/streams/rx", ""); rec.Code != http.StatusNoContent {
		t.Errorf("delete: status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if _, err := env.store.GetSRI(context.Background(), "rx"); err == nil {
		t.Error("descriptor still stored after delete")
	}
}

func TestStreamsWithoutStore(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(d *Deps) { d.Store = nil })

	if rec := env.do(t, http.MethodGet, "/v1/streams/rx", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	// Pushing a descriptor still works without persistence.
	startSink(t, env)
	if rec := env.do(t, http.MethodPost, "/v1/ports/dataOctet/sri", `{"streamID":"rx"}`); rec.Code != http.StatusOK {
		t.Errorf("push sri: status = %d; body = %s", rec.Code, rec.Body.String())
	}
}
