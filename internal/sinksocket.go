// Package sinksocket defines domain types for the socket sink service.
// This package has no project imports -- it is the dependency root.
package sinksocket

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"
)

// --- Stream descriptors ---

// ValueKind identifies the type carried by a keyword Value.
type ValueKind string

// Supported keyword value kinds. Names follow the IDL basic types.
const (
	KindBool      ValueKind = "bool"
	KindChar      ValueKind = "char"
	KindOctet     ValueKind = "octet"
	KindShort     ValueKind = "short"
	KindUShort    ValueKind = "ushort"
	KindLong      ValueKind = "long"
	KindULong     ValueKind = "ulong"
	KindLongLong  ValueKind = "longlong"
	KindULongLong ValueKind = "ulonglong"
	KindFloat     ValueKind = "float"
	KindDouble    ValueKind = "double"
	KindString    ValueKind = "string"
	KindDoubleSeq ValueKind = "double_seq"
	KindLongSeq   ValueKind = "long_seq"
	KindStringSeq ValueKind = "string_seq"
	KindOctetSeq  ValueKind = "octet_seq"
)

// Value is a typed keyword value. V holds the Go type matching Kind:
// bool, string (char and string), uint8, int16, uint16, int32, uint32,
// int64, uint64, float32, float64, []float64, []int32, []string, []byte.
type Value struct {
	Kind ValueKind `json:"type"`
	V    any       `json:"value"`
}

// Keyword is a named stream attribute.
type Keyword struct {
	ID    string `json:"id"`
	Value Value  `json:"value"`
}

// StreamSRI describes a stream: signal-related information carried alongside data.
type StreamSRI struct {
	HVersion int32     `json:"hversion"`
	XStart   float64   `json:"xstart"`
	XDelta   float64   `json:"xdelta"`
	XUnits   int16     `json:"xunits"`
	Subsize  int32     `json:"subsize"`
	YStart   float64   `json:"ystart"`
	YDelta   float64   `json:"ydelta"`
	YUnits   int16     `json:"yunits"`
	Mode     int16     `json:"mode"`
	StreamID string    `json:"streamID"`
	Blocking bool      `json:"blocking"`
	Keywords []Keyword `json:"keywords"`
}

// Packet is one unit of data taken from an input port.
type Packet struct {
	Data              []byte
	Time              time.Time
	EOS               bool
	StreamID          string
	SRI               StreamSRI
	SRIChanged        bool
	InputQueueFlushed bool
}

// --- Component properties ---

// ConnectionType selects how the sink reaches its peer.
type ConnectionType string

const (
	// ConnClient dials out to ip_address:port.
	ConnClient ConnectionType = "client"
	// ConnServer listens on port and serves every connected peer.
	ConnServer ConnectionType = "server"
)

// Properties is the externally visible configuration and state of a sink.
// Status, TotalBytes and BytesPerSec are read-only; Configure ignores them.
type Properties struct {
	ConnectionType ConnectionType `json:"connection_type"`
	IPAddress      string         `json:"ip_address"`
	Port           uint16         `json:"port"`
	Status         string         `json:"status"`
	TotalBytes     float64        `json:"total_bytes"`
	BytesPerSec    float32        `json:"bytes_per_sec"`
	Delay          time.Duration  `json:"delay"`
	StopTimeout    time.Duration  `json:"stop_timeout"`
	StopOnEOS      bool           `json:"stop_on_eos"`
}

// Status strings reported through Properties.Status.
const (
	StatusStartup     = "startup"
	StatusWaiting     = "waiting"
	StatusConnected   = "connected"
	StatusStopped     = "stopped"
	StatusErrorPrefix = "error: "
)

// --- Throughput accounting ---

// ThroughputSample is one measurement window of bytes written by a sink.
type ThroughputSample struct {
	ID          string    `json:"id"`
	ComponentID string    `json:"component_id"`
	StreamID    string    `json:"stream_id"`
	Bytes       int64     `json:"bytes"`
	Packets     int64     `json:"packets"`
	BytesPerSec float64   `json:"bytes_per_sec"`
	WindowMs    int64     `json:"window_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

// SampleFilter selects throughput samples.
type SampleFilter struct {
	ComponentID string
	StreamID    string
	Since       string // RFC3339, inclusive
	Until       string // RFC3339, exclusive
	Offset      int
	Limit       int
}

// ThroughputRollup aggregates samples per component, stream and hour.
type ThroughputRollup struct {
	ComponentID string  `json:"component_id"`
	StreamID    string  `json:"stream_id"`
	Period      string  `json:"period"`
	Bucket      string  `json:"bucket"`
	SampleCount int64   `json:"sample_count"`
	Bytes       int64   `json:"bytes"`
	Packets     int64   `json:"packets"`
	PeakRate    float64 `json:"peak_bytes_per_sec"`
}

// RollupFilter selects rollups.
type RollupFilter struct {
	ComponentID string
	StreamID    string
	Period      string
	Since       string
	Until       string
}

// --- Admin identity ---

// Identity is the authenticated caller of the admin API.
type Identity struct {
	Subject    string `json:"subject"`
	AuthMethod string `json:"auth_method"` // "admin_key" or "none"
}

// Authenticator validates admin API credentials from an HTTP request.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
}

// --- Context keys ---

type contextKey int

const (
	ctxKeyRequestID contextKey = iota
	ctxKeyIdentity
)

// IdentityFromContext extracts the caller identity, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(ctxKeyIdentity).(*Identity)
	return id
}

// ContextWithIdentity returns a context carrying id.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity, id)
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

// HashKey returns the hex-encoded SHA-256 hash of a raw admin key.
func HashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
