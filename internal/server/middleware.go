package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	sinksocket "github.com/eugener/sinksocket/internal"
)

// statusWriterPool recycles the wrappers used by logging and metrics.
// Fields are reset on Get; ResponseWriter is cleared on Put.
var statusWriterPool = sync.Pool{
	New: func() any { return &statusWriter{} },
}

func acquireStatusWriter(w http.ResponseWriter) *statusWriter {
	sw := statusWriterPool.Get().(*statusWriter)
	sw.ResponseWriter = w
	sw.status = http.StatusOK
	sw.written = 0
	sw.wroteHeader = false
	return sw
}

func releaseStatusWriter(sw *statusWriter) {
	sw.ResponseWriter = nil
	statusWriterPool.Put(sw)
}

// recovery turns a handler panic into a 500 JSON error.
func (s *server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.LogAttrs(r.Context(), slog.LevelError, "panic recovered",
					slog.Any("error", rec),
					slog.String("path", r.URL.Path),
				)
				writeJSON(w, http.StatusInternalServerError, errorResponse(http.StatusInternalServerError, "internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader is in canonical MIME form so the header map can be indexed
// directly.
const requestIDHeader = "X-Request-Id"

// maxRequestIDLen bounds caller-supplied IDs before they reach logs.
const maxRequestIDLen = 128

// requestID tags the request with an ID, keeping a caller-supplied one when it
// is short enough, otherwise minting a UUID v7.
func (s *server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if vals := r.Header[requestIDHeader]; len(vals) > 0 && vals[0] != "" && len(vals[0]) <= maxRequestIDLen {
			id = vals[0]
		} else {
			id = uuid.Must(uuid.NewV7()).String()
		}
		w.Header()[requestIDHeader] = []string{id}
		ctx := sinksocket.ContextWithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// isProbe reports paths polled by orchestrators and scrapers; they are
// logged at debug so packet traffic stays readable.
func isProbe(path string) bool {
	switch path {
	case "/healthz", "/readyz", "/metrics":
		return true
	}
	return false
}

// logging emits one record per request once the handler returns.
func (s *server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := acquireStatusWriter(w)
		next.ServeHTTP(sw, r)

		level := slog.LevelInfo
		if isProbe(r.URL.Path) {
			level = slog.LevelDebug
		}
		slog.LogAttrs(r.Context(), level, "request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", sw.status),
			slog.Int64("request_bytes", max(r.ContentLength, 0)),
			slog.Int64("response_bytes", sw.written),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.String("request_id", sinksocket.RequestIDFromContext(r.Context())),
		)
		releaseStatusWriter(sw)
	})
}

// authenticate validates credentials and injects Identity into context.
func (s *server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.deps.Auth.Authenticate(r.Context(), r)
		if err != nil {
			slog.LogAttrs(r.Context(), slog.LevelWarn, "admin auth rejected",
				slog.String("path", r.URL.Path),
				slog.String("remote", r.RemoteAddr),
			)
			status := errorStatus(err)
			writeJSON(w, status, errorResponse(status, err.Error()))
			return
		}
		next.ServeHTTP(w, r.WithContext(sinksocket.ContextWithIdentity(r.Context(), identity)))
	})
}

// statusWriter records the status code and body size of a response.
// Only the first WriteHeader counts, as in net/http.
type statusWriter struct {
	http.ResponseWriter
	status      int
	written     int64
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	sw.wroteHeader = true
	n, err := sw.ResponseWriter.Write(b)
	sw.written += int64(n)
	return n, err
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}
