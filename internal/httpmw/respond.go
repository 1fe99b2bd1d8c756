// SPDX-License-Identifier: LGPL-3.0-or-later

package httpmw

import (
	"encoding/json"
	"errors"
	"net/http"

	"camofleet/internal/dto"
	"camofleet/internal/logger"
)

// JSON writes data as the response body, generalizing the teacher's
// jsonResponse helper.
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Error logs msg at warn level and writes {"error": msg}, generalizing
// the teacher's errorResponse helper.
func Error(log logger.Logger, w http.ResponseWriter, status int, msg string) {
	log.Warn("api error", "status", status, "message", msg)
	JSON(w, status, map[string]string{"error": msg})
}

// StatusForError maps a sentinel error from internal/dto onto the HTTP
// status spec §7 assigns it. Unmatched errors default to 500.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, dto.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dto.ErrConfigInvalid):
		return http.StatusBadRequest
	case errors.Is(err, dto.ErrVNCUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, dto.ErrNoCapacity):
		return http.StatusServiceUnavailable
	case errors.Is(err, dto.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, dto.ErrUpstreamUnreachable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
