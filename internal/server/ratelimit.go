package server

import (
	"math"
	"net/http"
	"strconv"

	sinksocket "github.com/eugener/sinksocket/internal"
)

// ingestLimit charges each packet push against the caller's push and byte
// budgets. The byte charge uses Content-Length; bodies without one are
// charged as pushes only and remain capped by MaxPacketBytes.
func (s *server) ingestLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Ingest == nil || s.deps.IngestLimits.Unlimited() {
			next.ServeHTTP(w, r)
			return
		}
		subject := "anonymous"
		if id := sinksocket.IdentityFromContext(r.Context()); id != nil {
			subject = id.Subject
		}

		res := s.deps.Ingest.GetOrCreate(subject, s.deps.IngestLimits).Allow(max(0, r.ContentLength))
		if !res.Allowed {
			w.Header()["Retry-After"] = []string{strconv.Itoa(int(math.Ceil(res.RetryAfterSeconds)))}
			w.Header()["X-Ratelimit-Limit"] = []string{strconv.FormatInt(res.Limit, 10)}
			writeJSON(w, http.StatusTooManyRequests, errorResponse(http.StatusTooManyRequests, "ingest rate limit exceeded"))
			return
		}
		if res.Limit > 0 {
			w.Header()["X-Ratelimit-Limit"] = []string{strconv.FormatInt(res.Limit, 10)}
			w.Header()["X-Ratelimit-Remaining"] = []string{strconv.FormatInt(res.Remaining, 10)}
		}
		next.ServeHTTP(w, r)
	})
}
