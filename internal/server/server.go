// Package server implements the admin HTTP API of the socket sink.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	sinksocket "github.com/eugener/sinksocket/internal"
	"github.com/eugener/sinksocket/internal/port"
	"github.com/eugener/sinksocket/internal/ratelimit"
	"github.com/eugener/sinksocket/internal/sink"
	"github.com/eugener/sinksocket/internal/storage"
	"github.com/eugener/sinksocket/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Auth           sinksocket.Authenticator
	Sink           *sink.Component
	Store          storage.Store       // nil = no persistence endpoints
	ReadyCheck     ReadyChecker        // nil = always ready (for tests)
	Metrics        *telemetry.Metrics  // nil = no request metrics
	MetricsHandler http.Handler        // nil = no /metrics route
	MaxPacketBytes int64               // packet push body limit, default 4 MB
	Ingest         *ratelimit.Registry // nil = no ingest limiting
	IngestLimits   ratelimit.Limits
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	if deps.MaxPacketBytes <= 0 {
		deps.MaxPacketBytes = defaultMaxPacketBytes
	}
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}
	r.Use(s.logging)

	// System endpoints (no auth)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// Admin API
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Get("/v1/component", s.handleGetComponent)
		r.Patch("/v1/component", s.handlePatchComponent)
		r.Post("/v1/component/initialize", s.handleInitialize)
		r.Post("/v1/component/start", s.handleStart)
		r.Post("/v1/component/stop", s.handleStop)
		r.Post("/v1/component/release", s.handleRelease)

		r.Post("/v1/ports/"+port.Name+"/sri", s.handlePushSRI)
		r.With(s.ingestLimit).Post("/v1/ports/"+port.Name+"/packets", s.handlePushPacket)

		r.Get("/v1/streams", s.handleListStreams)
		r.Get("/v1/streams/{id}", s.handleGetStream)
		r.Delete("/v1/streams/{id}", s.handleDeleteStream)

		r.Get("/v1/stats/samples", s.handleQuerySamples)
		r.Get("/v1/stats/rollups", s.handleQueryRollups)
	})

	return r
}

type server struct {
	deps Deps
}
