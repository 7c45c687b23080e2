package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/signalsfoundry/terrain-visibility/core"
	"github.com/signalsfoundry/terrain-visibility/internal/history"
	"github.com/signalsfoundry/terrain-visibility/internal/logging"
)

var (
	errBadRequest  = errors.New("bad request")
	errUnavailable = errors.New("not configured")
	errNotFound    = errors.New("not found")
	errTooMany     = errors.New("limit reached")
)

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// StatusFor maps an error onto an HTTP status code.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, errBadRequest), errors.Is(err, core.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, history.ErrNotFound), errors.Is(err, errNotFound):
		return http.StatusNotFound
	case errors.Is(err, errTooMany):
		return http.StatusTooManyRequests
	case errors.Is(err, errUnavailable):
		return http.StatusNotImplemented
	case errors.Is(err, core.ErrCancelled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	case errors.Is(err, core.ErrSamplingUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	log := logging.FromContext(r.Context(), s.log)
	if status >= http.StatusInternalServerError {
		log.Error(r.Context(), "request failed", logging.Int("status", status), logging.Err(err))
	} else {
		log.Debug(r.Context(), "request rejected", logging.Int("status", status), logging.Err(err))
	}
	writeJSON(w, status, errorBody{Error: err.Error(), RequestID: logging.RequestIDFromContext(r.Context())})
}
