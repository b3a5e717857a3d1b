package server

import (
	"net/http"

	sinksocket "github.com/eugener/sinksocket/internal"
)

// handleQuerySamples lists throughput samples, newest first. component_id
// defaults to the served component.
func (s *server) handleQuerySamples(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	since, until, ok := parseSinceUntil(w, r)
	if !ok {
		return
	}
	offset, limit := parsePagination(r)
	q := r.URL.Query()

	componentID := q.Get("component_id")
	if componentID == "" {
		componentID = s.deps.Sink.ID()
	}
	filter := sinksocket.SampleFilter{
		ComponentID: componentID,
		StreamID:    q.Get("stream_id"),
		Since:       since,
		Until:       until,
		Offset:      offset,
		Limit:       limit,
	}

	samples, err := s.deps.Store.QuerySamples(r.Context(), filter)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	total, err := s.deps.Store.CountSamples(r.Context(), filter)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	if samples == nil {
		samples = []sinksocket.ThroughputSample{}
	}
	writeJSON(w, http.StatusOK, listResponse{
		Data:       samples,
		Pagination: pagination{Offset: offset, Limit: limit, Total: total},
	})
}

// handleQueryRollups lists hourly aggregates for the served component.
func (s *server) handleQueryRollups(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	since, until, ok := parseSinceUntil(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	componentID := q.Get("component_id")
	if componentID == "" {
		componentID = s.deps.Sink.ID()
	}
	period := q.Get("period")
	if period == "" {
		period = "hourly"
	}

	rollups, err := s.deps.Store.QueryRollups(r.Context(), sinksocket.RollupFilter{
		ComponentID: componentID,
		StreamID:    q.Get("stream_id"),
		Period:      period,
		Since:       since,
		Until:       until,
	})
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	if rollups == nil {
		rollups = []sinksocket.ThroughputRollup{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rollups})
}
