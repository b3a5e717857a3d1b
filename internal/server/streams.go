package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	sinksocket "github.com/eugener/sinksocket/internal"
	"github.com/eugener/sinksocket/internal/sri"
)

// readBody reads at most limit bytes of the request body. It writes 413 or
// 400 and returns false on failure.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse(http.StatusRequestEntityTooLarge, "request body too large"))
			return nil, false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse(http.StatusBadRequest, "invalid request body"))
		return nil, false
	}
	return body, true
}

// encodeSRIs renders descriptors in their wire form.
func encodeSRIs(list []sinksocket.StreamSRI) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(list))
	for _, d := range list {
		raw, err := sri.Encode(d)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

// handlePushSRI decodes a descriptor, hands it to the input port, and
// persists it so it is restored on the next start.
func (s *server) handlePushSRI(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r, maxAdminBody)
	if !ok {
		return
	}
	desc, err := sri.Decode(body)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	if err := s.deps.Sink.Port().PushSRI(desc); err != nil {
		writeAdminError(w, r, err)
		return
	}
	if s.deps.Store != nil {
		if err := s.deps.Store.SaveSRI(r.Context(), desc); err != nil {
			writeAdminError(w, r, err)
			return
		}
	}
	raw, err := sri.Encode(desc)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, json.RawMessage(raw))
}

type pushResponse struct {
	StreamID string `json:"stream_id"`
	Bytes    int    `json:"bytes"`
	EOS      bool   `json:"eos"`
}

// handlePushPacket queues the raw request body as one packet. A push to a
// blocking stream with a full queue waits until space frees up or the
// client goes away.
func (s *server) handlePushPacket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	streamID := q.Get("stream_id")
	if streamID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse(http.StatusBadRequest, "stream_id is required"))
		return
	}
	var eos bool
	if raw := q.Get("eos"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse(http.StatusBadRequest, "invalid eos flag"))
			return
		}
		eos = v
	}
	ts := time.Now()
	if raw := q.Get("time"); raw != "" {
		v, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse(http.StatusBadRequest, "invalid time format, use RFC3339"))
			return
		}
		ts = v
	}

	data, ok := readBody(w, r, s.deps.MaxPacketBytes)
	if !ok {
		return
	}
	if err := s.deps.Sink.Port().PushPacket(r.Context(), data, ts, eos, streamID); err != nil {
		if r.Context().Err() != nil {
			slog.LogAttrs(r.Context(), slog.LevelDebug, "packet push abandoned",
				slog.String("stream_id", streamID),
			)
			return
		}
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, pushResponse{StreamID: streamID, Bytes: len(data), EOS: eos})
}

// handleListStreams lists the descriptors currently tracked by the port.
func (s *server) handleListStreams(w http.ResponseWriter, r *http.Request) {
	active := s.deps.Sink.Port().ActiveSRIs()
	data, err := encodeSRIs(active)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{
		Data:       data,
		Pagination: pagination{Offset: 0, Limit: len(data), Total: len(data)},
	})
}

// handleGetStream returns a persisted descriptor.
func (s *server) handleGetStream(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	desc, err := s.deps.Store.GetSRI(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	raw, err := sri.Encode(desc)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, json.RawMessage(raw))
}

// handleDeleteStream forgets a persisted descriptor. The port keeps tracking
// the stream until its EOS or idle expiry.
func (s *server) handleDeleteStream(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	if err := s.deps.Store.DeleteSRI(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeAdminError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
