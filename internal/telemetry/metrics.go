// Package telemetry provides observability primitives for the socket sink.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the sink service.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	ActiveRequests    prometheus.Gauge
	ServiceCycles     *prometheus.CounterVec
	BytesWritten      prometheus.Counter
	BytesPerSec       prometheus.Gauge
	WriteErrors       prometheus.Counter
	PacketsReceived   prometheus.Counter
	PacketsDropped    prometheus.Counter
	QueueFlushes      prometheus.Counter
	QueueDepth        prometheus.Gauge
	ActiveStreams     prometheus.Gauge
	ConnectedPeers    prometheus.Gauge
	ConnectFailures   *prometheus.CounterVec
	ReleaseTimeouts   prometheus.Counter
	SampleQueueLength prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sinksocket",
			Name:      "requests_total",
			Help:      "Total number of admin HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "sinksocket",
			Name:                            "request_duration_seconds",
			Help:                            "Admin HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sinksocket",
			Name:      "active_requests",
			Help:      "Number of currently active admin requests.",
		}),

		ServiceCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sinksocket",
			Name:      "service_cycles_total",
			Help:      "Service function calls by result.",
		}, []string{"result"}),

		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sinksocket",
			Name:      "bytes_written_total",
			Help:      "Total bytes written to the socket.",
		}),

		BytesPerSec: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sinksocket",
			Name:      "bytes_per_second",
			Help:      "Write throughput over the last completed window.",
		}),

		WriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sinksocket",
			Name:      "write_errors_total",
			Help:      "Total failed socket writes.",
		}),

		PacketsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sinksocket",
			Name:      "packets_received_total",
			Help:      "Total packets pushed to the input port.",
		}),

		PacketsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sinksocket",
			Name:      "packets_dropped_total",
			Help:      "Total packets discarded by queue flushes.",
		}),

		QueueFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sinksocket",
			Name:      "queue_flushes_total",
			Help:      "Total input queue flushes.",
		}),

		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sinksocket",
			Name:      "queue_depth",
			Help:      "Current number of queued packets.",
		}),

		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sinksocket",
			Name:      "active_streams",
			Help:      "Number of streams with a tracked descriptor.",
		}),

		ConnectedPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sinksocket",
			Name:      "connected_peers",
			Help:      "Number of connected socket peers.",
		}),

		ConnectFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sinksocket",
			Name:      "connect_failures_total",
			Help:      "Total failed dial or listen attempts.",
		}, []string{"connection_type"}),

		ReleaseTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sinksocket",
			Name:      "release_timeouts_total",
			Help:      "Total stop requests whose bounded wait elapsed.",
		}),

		SampleQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sinksocket",
			Name:      "sample_queue_length",
			Help:      "Current number of queued throughput samples.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.ServiceCycles,
		m.BytesWritten,
		m.BytesPerSec,
		m.WriteErrors,
		m.PacketsReceived,
		m.PacketsDropped,
		m.QueueFlushes,
		m.QueueDepth,
		m.ActiveStreams,
		m.ConnectedPeers,
		m.ConnectFailures,
		m.ReleaseTimeouts,
		m.SampleQueueLength,
	)

	return m
}
