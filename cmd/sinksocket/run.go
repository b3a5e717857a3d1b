package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"

	sinksocket "github.com/eugener/sinksocket/internal"
	"github.com/eugener/sinksocket/internal/auth"
	"github.com/eugener/sinksocket/internal/circuitbreaker"
	"github.com/eugener/sinksocket/internal/config"
	"github.com/eugener/sinksocket/internal/port"
	"github.com/eugener/sinksocket/internal/ratelimit"
	"github.com/eugener/sinksocket/internal/server"
	"github.com/eugener/sinksocket/internal/sink"
	"github.com/eugener/sinksocket/internal/storage"
	"github.com/eugener/sinksocket/internal/storage/sqlite"
	"github.com/eugener/sinksocket/internal/telemetry"
	"github.com/eugener/sinksocket/internal/worker"
)

func run(configPath string) error {
	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting sinksocket", "version", version, "addr", cfg.Server.Addr,
		"connection_type", string(cfg.Component.ConnectionType))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Open database
	store, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	// Bootstrap from config
	if err := config.Bootstrap(ctx, cfg, store); err != nil {
		return err
	}

	// Telemetry
	var (
		metrics        *telemetry.Metrics
		metricsHandler http.Handler
	)
	if cfg.Telemetry.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = telemetry.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	// Sample persistence
	recorder := worker.NewSampleRecorder(store, cfg.Stats.FlushInterval)
	if metrics != nil {
		recorder.OnQueueDepth(func(n int) { metrics.SampleQueueLength.Set(float64(n)) })
	}

	var resolver *dnscache.Resolver
	if cfg.DNS.Cache && cfg.Component.ConnectionType == sinksocket.ConnClient {
		resolver = &dnscache.Resolver{Timeout: cfg.DNS.LookupTimeout}
	}

	// Component
	component, err := sink.New(sink.Options{
		ID:         cfg.Component.ID,
		Properties: cfg.Component.Properties(),
		Delay:      &cfg.Component.Delay,
		Port: port.Options{
			QueueDepth: cfg.Port.QueueDepth,
			MaxStreams: cfg.Port.MaxStreams,
			StreamIdle: cfg.Port.StreamIdle,
		},
		DialTimeout:  cfg.Component.DialTimeout,
		WriteTimeout: cfg.Component.WriteTimeout,
		Resolver:     resolver,
		Breaker: circuitbreaker.Config{
			FailureRatio:  cfg.Breaker.FailureRatio,
			MinAttempts:   cfg.Breaker.MinAttempts,
			WindowSeconds: cfg.Breaker.WindowSeconds,
			OpenTimeout:   cfg.Breaker.OpenTimeout,
		},
		Window:   cfg.Stats.Window,
		Metrics:  metrics,
		Recorder: recorder,
	})
	if err != nil {
		return err
	}

	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(ctx, telemetry.TracingOptions{
			Endpoint:   cfg.Telemetry.Tracing.Endpoint,
			SampleRate: cfg.Telemetry.Tracing.SampleRate,
			InstanceID: component.ID(),
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				slog.Warn("tracing shutdown", "error", err)
			}
		}()
	}

	// Initialize failures leave the component in an error status; the admin
	// API can retry.
	if err := component.Initialize(ctx); err != nil {
		slog.Error("initialize component", "component_id", component.ID(), "error", err)
	} else if cfg.Component.AutoStart {
		if err := component.Start(); err != nil {
			return err
		}
		restoreStreams(ctx, component, store)
	}

	// Admin authentication
	var authn sinksocket.Authenticator = auth.Open{}
	if keys := cfg.Auth.Keys(); len(keys) > 0 {
		authn = auth.NewAdminKeyAuth(keys...)
	} else {
		slog.Warn("no admin key configured, admin API is unauthenticated")
	}

	ingestLimits := ratelimit.Limits{
		PushesPerMin: cfg.Ingest.PushesPerMinute,
		BytesPerMin:  cfg.Ingest.BytesPerMinute,
	}
	var ingest *ratelimit.Registry
	if !ingestLimits.Unlimited() {
		ingest = ratelimit.NewRegistry()
	}

	handler := server.New(server.Deps{
		Auth:           authn,
		Sink:           component,
		Store:          store,
		ReadyCheck:     readyCheck(store, component),
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		MaxPacketBytes: cfg.Server.MaxPacketBytes,
		Ingest:         ingest,
		IngestLimits:   ingestLimits,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	workers := []worker.Worker{
		&httpWorker{srv: srv, shutdownTimeout: cfg.Server.ShutdownTimeout},
		recorder,
		worker.NewSampleRollupWorker(store, cfg.Stats.RollupInterval, cfg.Stats.Retention),
		config.NewWatcher(configPath, cfg, func(next *config.Config) {
			applyConfig(ctx, component, store, next)
		}),
	}
	if resolver != nil {
		workers = append(workers, worker.NewDNSRefreshWorker(resolver, cfg.DNS.RefreshInterval))
	}
	if ingest != nil {
		workers = append(workers, worker.NewLimiterEvictWorker(ingest))
	}

	// Workers outlive the signal context so the recorder can still persist
	// the final throughput window after the component is released.
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	errCh := make(chan error, 1)
	go func() { errCh <- worker.NewRunner(workers...).Run(runCtx) }()

	slog.Info("sinksocket ready", "addr", cfg.Server.Addr, "component_id", component.ID())

	// Wait for signal
	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case runErr = <-errCh:
		if runErr != nil {
			slog.Error("worker failed", "error", runErr)
		}
	}

	// Shutdown
	if err := component.Close(); err != nil {
		slog.Warn("release component", "error", err)
	}
	cancelRun()
	if runErr == nil {
		runErr = <-errCh
	}

	slog.Info("sinksocket stopped")
	return runErr
}

// restoreStreams pushes persisted descriptors into the started port so a
// restart does not fall back to default descriptors.
func restoreStreams(ctx context.Context, c *sink.Component, store storage.SRIStore) {
	descs, err := store.ListSRIs(ctx)
	if err != nil {
		slog.Warn("restore streams", "error", err)
		return
	}
	for _, d := range descs {
		if err := c.Port().PushSRI(d); err != nil {
			slog.Warn("restore stream", "stream_id", d.StreamID, "error", err)
		}
	}
	if len(descs) > 0 {
		slog.Info("streams restored", "count", len(descs))
	}
}

// applyConfig re-applies the writable component properties and seeds new
// stream descriptors after a config file change.
func applyConfig(ctx context.Context, c *sink.Component, store storage.SRIStore, cfg *config.Config) {
	if err := c.Configure(ctx, cfg.Component.Properties()); err != nil {
		slog.Error("apply component config", "component_id", c.ID(), "error", err)
	}
	if err := config.Bootstrap(ctx, cfg, store); err != nil {
		slog.Error("apply stream config", "error", err)
	}
}

// readyCheck reports ready when the database answers and the component is
// not in an error state.
func readyCheck(store storage.Store, c *sink.Component) server.ReadyChecker {
	return func(ctx context.Context) error {
		if err := store.Ping(ctx); err != nil {
			return err
		}
		if status := c.Status(); strings.HasPrefix(status, sinksocket.StatusErrorPrefix) {
			return errors.New(status)
		}
		return nil
	}
}

// httpWorker runs the admin HTTP server under the worker Runner.
type httpWorker struct {
	srv             *http.Server
	shutdownTimeout time.Duration
}

func (w *httpWorker) Name() string { return "admin_http" }

func (w *httpWorker) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := w.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), w.shutdownTimeout)
	defer cancel()
	return w.srv.Shutdown(shutdownCtx)
}
