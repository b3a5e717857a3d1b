package server

import (
	"log/slog"
	"net/http"
)

// sinkStatusHeader carries the component status string on probe responses.
const sinkStatusHeader = "X-Sink-Status"

var plainCT = []string{"text/plain"}

func writeProbe(w http.ResponseWriter, status int, body string) {
	w.Header()["Content-Type"] = plainCT
	w.WriteHeader(status)
	w.Write([]byte(body))
}

// handleHealthz answers liveness probes. The process is alive whenever the
// router runs, so the sink status is informational only.
func (s *server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Sink != nil {
		w.Header().Set(sinkStatusHeader, s.deps.Sink.Query().Status)
	}
	writeProbe(w, http.StatusOK, "ok")
}

func (s *server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sink != nil {
		w.Header().Set(sinkStatusHeader, s.deps.Sink.Query().Status)
	}
	if s.deps.ReadyCheck == nil {
		writeProbe(w, http.StatusOK, "ok")
		return
	}
	if err := s.deps.ReadyCheck(r.Context()); err != nil {
		slog.LogAttrs(r.Context(), slog.LevelWarn, "readiness check failed",
			slog.String("error", err.Error()),
		)
		writeProbe(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeProbe(w, http.StatusOK, "ok")
}
