package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"ytdl-server/internal/errors"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusFor maps a job error onto an HTTP status and client message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errors.ErrBadRequest):
		return http.StatusBadRequest, badRequestMessage(err)
	case errors.Is(err, errors.ErrRateLimited):
		return http.StatusTooManyRequests, "Daily limit reached"
	case errors.Is(err, errors.ErrConflict):
		return http.StatusConflict, "Token in use"
	case errors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound, "Invalid or expired token"
	case errors.Is(err, errors.ErrForbidden):
		return http.StatusForbidden, "Forbidden"
	case errors.Is(err, errors.ErrNotReady):
		return http.StatusConflict, "Not ready"
	case errors.Is(err, errors.ErrGone):
		return http.StatusGone, "Expired"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// badRequestMessage strips the sentinel suffix from NewBadRequest errors.
func badRequestMessage(err error) string {
	return strings.TrimSuffix(err.Error(), ": "+errors.ErrBadRequest.Error())
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("trace_id", traceIDFrom(r)),
			zap.Error(err),
		)
	}
	respondError(w, status, message)
}
