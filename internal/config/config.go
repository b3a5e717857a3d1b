// Package config handles YAML configuration loading with environment variable
// expansion, first-run database seeding, and hot reload.
package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"

	sinksocket "github.com/eugener/sinksocket/internal"
	"github.com/eugener/sinksocket/internal/sri"
)

// Config is the top-level sink service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Component ComponentConfig `yaml:"component"`
	Port      PortConfig      `yaml:"port"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	DNS       DNSConfig       `yaml:"dns"`
	Stats     StatsConfig     `yaml:"stats"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Streams   []StreamEntry   `yaml:"streams"`

	digest [sha256.Size]byte // of the raw file bytes, zero for Default
}

// ServerConfig holds admin HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxPacketBytes  int64         `yaml:"max_packet_bytes"` // body limit for packet pushes
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// AuthConfig holds admin API authentication settings. With no keys the admin
// API is open.
type AuthConfig struct {
	AdminKey  string   `yaml:"admin_key"`
	AdminKeys []string `yaml:"admin_keys"`
}

// Keys returns every configured admin key.
func (a AuthConfig) Keys() []string {
	keys := make([]string, 0, len(a.AdminKeys)+1)
	if a.AdminKey != "" {
		keys = append(keys, a.AdminKey)
	}
	return append(keys, a.AdminKeys...)
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// ComponentConfig holds the sink component properties.
type ComponentConfig struct {
	ID             string                    `yaml:"id"`
	ConnectionType sinksocket.ConnectionType `yaml:"connection_type"`
	IPAddress      string                    `yaml:"ip_address"`
	Port           uint16                    `yaml:"port"`
	Delay          time.Duration             `yaml:"delay"`
	StopTimeout    time.Duration             `yaml:"stop_timeout"`
	StopOnEOS      bool                      `yaml:"stop_on_eos"`
	DialTimeout    time.Duration             `yaml:"dial_timeout"`
	WriteTimeout   time.Duration             `yaml:"write_timeout"`
	AutoStart      bool                      `yaml:"auto_start"`
}

// Properties returns the writable component properties.
func (c ComponentConfig) Properties() sinksocket.Properties {
	return sinksocket.Properties{
		ConnectionType: c.ConnectionType,
		IPAddress:      c.IPAddress,
		Port:           c.Port,
		Delay:          c.Delay,
		StopTimeout:    c.StopTimeout,
		StopOnEOS:      c.StopOnEOS,
	}
}

// PortConfig sizes the dataOctet input port.
type PortConfig struct {
	QueueDepth int           `yaml:"queue_depth"`
	MaxStreams int           `yaml:"max_streams"`
	StreamIdle time.Duration `yaml:"stream_idle"`
}

// BreakerConfig tunes the client-mode peer circuit breaker.
type BreakerConfig struct {
	FailureRatio  float64       `yaml:"failure_ratio"`
	MinAttempts   int           `yaml:"min_attempts"`
	WindowSeconds int           `yaml:"window_seconds"`
	OpenTimeout   time.Duration `yaml:"open_timeout"`
}

// DNSConfig controls client-mode DNS caching.
type DNSConfig struct {
	Cache           bool          `yaml:"cache"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	LookupTimeout   time.Duration `yaml:"lookup_timeout"`
}

// StatsConfig controls throughput accounting and persistence.
type StatsConfig struct {
	Window         time.Duration `yaml:"window"`
	FlushInterval  time.Duration `yaml:"flush_interval"`
	RollupInterval time.Duration `yaml:"rollup_interval"`
	Retention      time.Duration `yaml:"retention"`
}

// IngestConfig limits packet pushes per admin caller. Zero means unlimited.
type IngestConfig struct {
	PushesPerMinute int64 `yaml:"pushes_per_minute"`
	BytesPerMinute  int64 `yaml:"bytes_per_minute"`
}

// StreamEntry is a preconfigured stream descriptor. Field names match the
// JSON wire form so an entry converts through sri.Decode.
type StreamEntry struct {
	StreamID string         `yaml:"stream_id" json:"streamID"`
	HVersion *int32         `yaml:"hversion"  json:"hversion,omitempty"`
	XStart   float64        `yaml:"xstart"    json:"xstart"`
	XDelta   *float64       `yaml:"xdelta"    json:"xdelta,omitempty"`
	XUnits   int16          `yaml:"xunits"    json:"xunits"`
	Subsize  int32          `yaml:"subsize"   json:"subsize"`
	YStart   float64        `yaml:"ystart"    json:"ystart"`
	YDelta   float64        `yaml:"ydelta"    json:"ydelta"`
	YUnits   int16          `yaml:"yunits"    json:"yunits"`
	Mode     int16          `yaml:"mode"      json:"mode"`
	Blocking bool           `yaml:"blocking"  json:"blocking"`
	Keywords []KeywordEntry `yaml:"keywords"  json:"keywords,omitempty"`
}

// KeywordEntry is one typed keyword of a StreamEntry.
type KeywordEntry struct {
	ID    string `yaml:"id"    json:"id"`
	Type  string `yaml:"type"  json:"type"`
	Value any    `yaml:"value" json:"value"`
}

// SRI converts the entry to a stream descriptor.
func (e StreamEntry) SRI() (sinksocket.StreamSRI, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return sinksocket.StreamSRI{}, fmt.Errorf("stream %q: %w", e.StreamID, err)
	}
	s, err := sri.Decode(raw)
	if err != nil {
		return sinksocket.StreamSRI{}, fmt.Errorf("stream %q: %w", e.StreamID, err)
	}
	return s, nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Default returns the configuration used for every field the file omits.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxPacketBytes:  4 << 20,
		},
		Database: DatabaseConfig{
			DSN: "sinksocket.db",
		},
		Telemetry: TelemetryConfig{
			Metrics: MetricsConfig{Enabled: true},
		},
		Component: ComponentConfig{
			ConnectionType: sinksocket.ConnServer,
			Port:           32191,
			Delay:          100 * time.Millisecond,
			StopTimeout:    3 * time.Second,
			DialTimeout:    5 * time.Second,
			WriteTimeout:   5 * time.Second,
			AutoStart:      true,
		},
		Port: PortConfig{
			QueueDepth: 100,
			MaxStreams: 1024,
			StreamIdle: 30 * time.Minute,
		},
		Breaker: BreakerConfig{
			FailureRatio:  0.5,
			MinAttempts:   3,
			WindowSeconds: 30,
			OpenTimeout:   5 * time.Second,
		},
		DNS: DNSConfig{
			Cache:           true,
			RefreshInterval: 5 * time.Minute,
			LookupTimeout:   2 * time.Second,
		},
		Stats: StatsConfig{
			Window:         time.Second,
			FlushInterval:  5 * time.Second,
			RollupInterval: 5 * time.Minute,
			Retention:      7 * 24 * time.Hour,
		},
	}
}

// Load reads and parses a YAML config file, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(expandEnv(data), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.digest = sha256.Sum256(data)
	return cfg, nil
}

// Digest returns the SHA-256 of the bytes the config was parsed from.
func (c *Config) Digest() [sha256.Size]byte { return c.digest }

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	switch c.Component.ConnectionType {
	case sinksocket.ConnServer:
	case sinksocket.ConnClient:
		if c.Component.IPAddress == "" {
			return fmt.Errorf("config: component.ip_address is required for client mode")
		}
	default:
		return fmt.Errorf("config: component.connection_type %q: %w", c.Component.ConnectionType, sinksocket.ErrBadConnectionType)
	}
	if c.Component.Delay < 0 || c.Component.StopTimeout < 0 {
		return fmt.Errorf("config: component durations must not be negative")
	}
	if c.Ingest.PushesPerMinute < 0 || c.Ingest.BytesPerMinute < 0 {
		return fmt.Errorf("config: ingest limits must not be negative")
	}
	if c.Telemetry.Tracing.Enabled && c.Telemetry.Tracing.Endpoint == "" {
		return fmt.Errorf("config: telemetry.tracing.endpoint is required when tracing is enabled")
	}
	seen := make(map[string]bool, len(c.Streams))
	for i, s := range c.Streams {
		if s.StreamID == "" {
			return fmt.Errorf("config: streams[%d].stream_id is required", i)
		}
		if seen[s.StreamID] {
			return fmt.Errorf("config: duplicate stream %q", s.StreamID)
		}
		seen[s.StreamID] = true
	}
	return nil
}
