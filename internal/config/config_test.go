package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sinksocket "github.com/eugener/sinksocket/internal"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
server:
  addr: ":9090"
  read_timeout: 10s
database:
  dsn: ":memory:"
component:
  id: sink-1
  connection_type: client
  ip_address: 10.0.0.7
  port: 4000
  delay: 250ms
  stop_timeout: 1s
  stop_on_eos: true
streams:
  - stream_id: rx
    xdelta: 0.001
    blocking: true
    keywords:
      - id: COL_RF
        type: double
        value: 1.5e9
      - id: CHAN
        type: long
        value: 7
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q, want %q", cfg.Server.Addr, ":9090")
	}
	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("read_timeout = %v, want 10s", cfg.Server.ReadTimeout)
	}
	if cfg.Server.WriteTimeout != 30*time.Second {
		t.Errorf("write_timeout = %v, want default 30s", cfg.Server.WriteTimeout)
	}
	if cfg.Database.DSN != ":memory:" {
		t.Errorf("dsn = %q, want %q", cfg.Database.DSN, ":memory:")
	}

	props := cfg.Component.Properties()
	want := sinksocket.Properties{
		ConnectionType: sinksocket.ConnClient,
		IPAddress:      "10.0.0.7",
		Port:           4000,
		Delay:          250 * time.Millisecond,
		StopTimeout:    time.Second,
		StopOnEOS:      true,
	}
	if props != want {
		t.Errorf("properties = %+v, want %+v", props, want)
	}

	if len(cfg.Streams) != 1 {
		t.Fatalf("streams count = %d, want 1", len(cfg.Streams))
	}
	desc, err := cfg.Streams[0].SRI()
	if err != nil {
		t.Fatal(err)
	}
	if desc.StreamID != "rx" || desc.XDelta != 0.001 || !desc.Blocking {
		t.Errorf("sri header = %+v", desc)
	}
	if desc.HVersion != 1 {
		t.Errorf("hversion = %d, want default 1", desc.HVersion)
	}
	if len(desc.Keywords) != 2 {
		t.Fatalf("keywords = %d, want 2", len(desc.Keywords))
	}
	if v, ok := desc.Keywords[0].Value.V.(float64); !ok || v != 1.5e9 {
		t.Errorf("COL_RF = %#v, want float64 1.5e9", desc.Keywords[0].Value.V)
	}
	if v, ok := desc.Keywords[1].Value.V.(int32); !ok || v != 7 {
		t.Errorf("CHAN = %#v, want int32 7", desc.Keywords[1].Value.V)
	}
}

func TestExpandEnv(t *testing.T) {
	// Cannot use t.Parallel() with t.Setenv
	t.Setenv("TEST_ADMIN_KEY", "sks_secret-123")

	result := expandEnv([]byte("key: ${TEST_ADMIN_KEY} other: ${TEST_UNSET_VAR_XYZ}"))
	if want := "key: sks_secret-123 other: ${TEST_UNSET_VAR_XYZ}"; string(result) != want {
		t.Errorf("expandEnv = %q, want %q", string(result), want)
	}

	path := writeConfig(t, "auth:\n  admin_key: ${TEST_ADMIN_KEY}\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if keys := cfg.Auth.Keys(); len(keys) != 1 || keys[0] != "sks_secret-123" {
		t.Errorf("admin keys = %v, want [sks_secret-123]", keys)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, `{}`))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("default addr = %q, want %q", cfg.Server.Addr, ":8080")
	}
	if cfg.Database.DSN != "sinksocket.db" {
		t.Errorf("default dsn = %q, want %q", cfg.Database.DSN, "sinksocket.db")
	}
	if cfg.Component.ConnectionType != sinksocket.ConnServer {
		t.Errorf("default connection type = %q, want server", cfg.Component.ConnectionType)
	}
	if cfg.Component.StopTimeout != 3*time.Second {
		t.Errorf("default stop_timeout = %v, want 3s", cfg.Component.StopTimeout)
	}
	if cfg.Port.QueueDepth != 100 {
		t.Errorf("default queue depth = %d, want 100", cfg.Port.QueueDepth)
	}
	if len(cfg.Auth.Keys()) != 0 {
		t.Errorf("default admin keys = %v, want none", cfg.Auth.Keys())
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown connection type",
			yaml:    "component:\n  connection_type: multicast\n",
			wantErr: "connection_type",
		},
		{
			name:    "client without address",
			yaml:    "component:\n  connection_type: client\n",
			wantErr: "ip_address",
		},
		{
			name:    "negative delay",
			yaml:    "component:\n  delay: -1s\n",
			wantErr: "negative",
		},
		{
			name:    "negative ingest limit",
			yaml:    "ingest:\n  bytes_per_minute: -5\n",
			wantErr: "ingest",
		},
		{
			name:    "tracing without endpoint",
			yaml:    "telemetry:\n  tracing:\n    enabled: true\n",
			wantErr: "endpoint",
		},
		{
			name:    "stream without id",
			yaml:    "streams:\n  - xdelta: 1\n",
			wantErr: "stream_id",
		},
		{
			name:    "duplicate stream",
			yaml:    "streams:\n  - stream_id: a\n  - stream_id: a\n",
			wantErr: "duplicate",
		},
		{
			name:    "malformed yaml",
			yaml:    "server: [",
			wantErr: "parse config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestStreamEntryBadKeyword(t *testing.T) {
	t.Parallel()

	e := StreamEntry{
		StreamID: "rx",
		Keywords: []KeywordEntry{{ID: "N", Type: "short", Value: 1 << 20}},
	}
	_, err := e.SRI()
	if !errors.Is(err, sinksocket.ErrBadRequest) {
		t.Fatalf("error = %v, want ErrBadRequest", err)
	}
	if !strings.Contains(err.Error(), `stream "rx"`) {
		t.Errorf("error = %q, want stream id in message", err)
	}
}

func TestParseDigest(t *testing.T) {
	t.Parallel()

	data := []byte("component:\n  delay: 1s\n")
	a, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Parse(append([]byte(nil), data...))
	if err != nil {
		t.Fatal(err)
	}
	if a.Digest() != b.Digest() {
		t.Error("same bytes produced different digests")
	}
	c, err := Parse([]byte("component:\n  delay: 2s\n"))
	if err != nil {
		t.Fatal(err)
	}
	if a.Digest() == c.Digest() {
		t.Error("different bytes produced the same digest")
	}
	if Default().Digest() != ([32]byte{}) {
		t.Error("Default has a non-zero digest")
	}
}
