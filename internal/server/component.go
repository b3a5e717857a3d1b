package server

import (
	"fmt"
	"net/http"
	"time"

	sinksocket "github.com/eugener/sinksocket/internal"
	"github.com/eugener/sinksocket/internal/port"
)

// componentView is the JSON form of the sink properties. Durations are Go
// duration strings.
type componentView struct {
	ID             string                    `json:"id"`
	Running        bool                      `json:"running"`
	ConnectionType sinksocket.ConnectionType `json:"connection_type"`
	IPAddress      string                    `json:"ip_address"`
	Port           uint16                    `json:"port"`
	Status         string                    `json:"status"`
	TotalBytes     float64                   `json:"total_bytes"`
	BytesPerSec    float32                   `json:"bytes_per_sec"`
	Delay          string                    `json:"delay"`
	StopTimeout    string                    `json:"stop_timeout"`
	StopOnEOS      bool                      `json:"stop_on_eos"`
	Input          port.Stats                `json:"dataOctet"`
}

// componentPatch carries the writable properties. Absent fields keep their
// current value.
type componentPatch struct {
	ConnectionType *sinksocket.ConnectionType `json:"connection_type"`
	IPAddress      *string                    `json:"ip_address"`
	Port           *uint16                    `json:"port"`
	Delay          *string                    `json:"delay"`
	StopTimeout    *string                    `json:"stop_timeout"`
	StopOnEOS      *bool                      `json:"stop_on_eos"`
}

func (s *server) view() componentView {
	c := s.deps.Sink
	p := c.Query()
	return componentView{
		ID:             c.ID(),
		Running:        c.Running(),
		ConnectionType: p.ConnectionType,
		IPAddress:      p.IPAddress,
		Port:           p.Port,
		Status:         p.Status,
		TotalBytes:     p.TotalBytes,
		BytesPerSec:    p.BytesPerSec,
		Delay:          p.Delay.String(),
		StopTimeout:    p.StopTimeout.String(),
		StopOnEOS:      p.StopOnEOS,
		Input:          c.Port().Stats(),
	}
}

func (s *server) handleGetComponent(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.view())
}

func (s *server) handlePatchComponent(w http.ResponseWriter, r *http.Request) {
	var req componentPatch
	if !decodeJSON(w, r, &req) {
		return
	}

	p := s.deps.Sink.Query()
	if req.ConnectionType != nil {
		p.ConnectionType = *req.ConnectionType
	}
	if req.IPAddress != nil {
		p.IPAddress = *req.IPAddress
	}
	if req.Port != nil {
		p.Port = *req.Port
	}
	if req.StopOnEOS != nil {
		p.StopOnEOS = *req.StopOnEOS
	}
	var err error
	if req.Delay != nil {
		if p.Delay, err = parseDuration("delay", *req.Delay, true); err != nil {
			writeAdminError(w, r, err)
			return
		}
	}
	if req.StopTimeout != nil {
		if p.StopTimeout, err = parseDuration("stop_timeout", *req.StopTimeout, false); err != nil {
			writeAdminError(w, r, err)
			return
		}
	}

	if err := s.deps.Sink.Configure(r.Context(), p); err != nil {
		writeTransportError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view())
}

// parseDuration rejects negative values, and zero unless allowZero is set.
func parseDuration(field, raw string, allowZero bool) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s %q", sinksocket.ErrBadRequest, field, raw)
	}
	if d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("%w: %s must be positive", sinksocket.ErrBadRequest, field)
	}
	return d, nil
}

func (s *server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Sink.Initialize(r.Context()); err != nil {
		writeTransportError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view())
}

func (s *server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Sink.Start(); err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view())
}

// handleStop answers 504 when the worker misses stop_timeout. The worker is
// still owned then, and a repeated stop resumes waiting for it.
func (s *server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Sink.Stop(); err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view())
}

func (s *server) handleRelease(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Sink.ReleaseObject(r.Context()); err != nil {
		writeTransportError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view())
}
