package server

import (
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eugener/sinksocket/internal/telemetry"
)

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	metrics := telemetry.NewMetrics(reg)
	env := newTestEnv(t, func(d *Deps) {
		d.Metrics = metrics
		d.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	})

	// Hit an admin endpoint first to generate metrics.
	if rec := env.do(t, http.MethodGet, "/v1/component", ""); rec.Code != http.StatusOK {
		t.Fatalf("component: status = %d; body = %s", rec.Code, rec.Body.String())
	}

	rec := env.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	for _, name := range []string{"sinksocket_requests_total", "sinksocket_request_duration_seconds"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics should contain %s", name)
		}
	}
}

func TestMetricsMiddleware_IncrementsCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	metrics := telemetry.NewMetrics(reg)
	env := newTestEnv(t, func(d *Deps) { d.Metrics = metrics })

	for range 3 {
		env.do(t, http.MethodGet, "/healthz", "")
	}
	env.do(t, http.MethodGet, "/v1/streams/missing", "")

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}

	counts := map[string]float64{}
	for _, f := range families {
		if f.GetName() != "sinksocket_requests_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			var path, status string
			for _, l := range m.GetLabel() {
				switch l.GetName() {
				case "path":
					path = l.GetValue()
				case "status":
					status = l.GetValue()
				}
			}
			counts[path+" "+status] += m.GetCounter().GetValue()
		}
	}
	if got := counts["/healthz 200"]; got != 3 {
		t.Errorf("requests_total{/healthz,200} = %v, want 3", got)
	}
	// Route patterns keep label cardinality bounded.
	if got := counts["/v1/streams/{id} 404"]; got != 1 {
		t.Errorf("requests_total{/v1/streams/{id},404} = %v, want 1; all = %v", got, counts)
	}
}
