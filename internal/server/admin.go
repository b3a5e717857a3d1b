package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	sinksocket "github.com/eugener/sinksocket/internal"
)

const (
	// maxAdminBody is the maximum allowed JSON request body size (1 MB).
	maxAdminBody = 1 << 20

	defaultMaxPacketBytes = 4 << 20
)

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func errorResponse(status int, msg string) apiError {
	var e apiError
	e.Error.Message = msg
	e.Error.Type = "invalid_request_error"
	if status >= http.StatusInternalServerError {
		e.Error.Type = "server_error"
	}
	return e
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, sinksocket.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, sinksocket.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, sinksocket.ErrBadRequest), errors.Is(err, sinksocket.ErrBadConnectionType):
		return http.StatusBadRequest
	case errors.Is(err, sinksocket.ErrPortDisabled), errors.Is(err, sinksocket.ErrNotInitialized):
		return http.StatusConflict
	case errors.Is(err, sinksocket.ErrStopTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, sinksocket.ErrNoPeer), errors.Is(err, sinksocket.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// jsonCT is assigned directly into the header map.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// decodeJSON limits body size, decodes JSON into v, and writes a 400 on error.
// Returns true if decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxAdminBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(http.StatusBadRequest, "invalid request body"))
		return false
	}
	return true
}

// writeAdminError maps err to a status. Server-side failures are logged and
// returned as a generic message so storage details do not leak.
func writeAdminError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		slog.LogAttrs(r.Context(), slog.LevelError, "admin error",
			slog.String("error", err.Error()),
			slog.String("request_id", sinksocket.RequestIDFromContext(r.Context())),
		)
		writeJSON(w, status, errorResponse(status, "internal error"))
		return
	}
	writeJSON(w, status, errorResponse(status, err.Error()))
}

// writeTransportError reports a failure to open the sink transport. Unknown
// errors come from the network, not storage, so the message is kept.
func writeTransportError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		status = http.StatusBadGateway
	}
	slog.LogAttrs(r.Context(), slog.LevelWarn, "transport error",
		slog.String("error", err.Error()),
		slog.String("request_id", sinksocket.RequestIDFromContext(r.Context())),
	)
	writeJSON(w, status, errorResponse(status, err.Error()))
}

// --- Pagination helpers ---

type pagination struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
	Total  int `json:"total"`
}

type listResponse struct {
	Data       any        `json:"data"`
	Pagination pagination `json:"pagination"`
}

func parsePagination(r *http.Request) (offset, limit int) {
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return
}

// parseSinceUntil validates optional since/until RFC3339 query params.
// Writes 400 and returns false on invalid format.
func parseSinceUntil(w http.ResponseWriter, r *http.Request) (since, until string, ok bool) {
	q := r.URL.Query()
	since, until = q.Get("since"), q.Get("until")
	// SQLite compares the raw strings, so a malformed bound would silently
	// match nothing.
	if since != "" {
		if _, err := time.Parse(time.RFC3339, since); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse(http.StatusBadRequest, "invalid since format, use RFC3339"))
			return "", "", false
		}
	}
	if until != "" {
		if _, err := time.Parse(time.RFC3339, until); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse(http.StatusBadRequest, "invalid until format, use RFC3339"))
			return "", "", false
		}
	}
	return since, until, true
}

// requireStore writes 503 and returns false when persistence is not wired.
func (s *server) requireStore(w http.ResponseWriter) bool {
	if s.deps.Store == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse(http.StatusServiceUnavailable, "storage not configured"))
		return false
	}
	return true
}
