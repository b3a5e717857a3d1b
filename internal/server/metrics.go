package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eugener/sinksocket/internal/telemetry"
)

// statusText maps HTTP status codes to pre-allocated label values.
var statusText [600]string

func init() {
	for i := range statusText {
		statusText[i] = strconv.Itoa(i)
	}
}

// metricsMiddleware records request duration, status, and active count.
func metricsMiddleware(m *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.ActiveRequests.Inc()
			defer m.ActiveRequests.Dec()
			start := time.Now()

			sw := acquireStatusWriter(w)
			next.ServeHTTP(sw, r)
			status := sw.status
			releaseStatusWriter(sw)

			pattern := routePattern(r)
			m.RequestsTotal.WithLabelValues(r.Method, pattern, statusLabel(status)).Inc()
			m.RequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
		})
	}
}

func statusLabel(code int) string {
	if code >= 0 && code < len(statusText) {
		return statusText[code]
	}
	return strconv.Itoa(code)
}

// routePattern returns the chi route pattern for bounded cardinality,
// falling back to the raw path for non-chi routes.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}
