package apihttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"hyperstream/internal/domain"
	"hyperstream/internal/usecase"
)

type errorEnvelope struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeStreamError maps the streaming error taxonomy onto a status and the
// JSON error envelope.
func writeStreamError(w http.ResponseWriter, err error) {
	status, code := classifyError(err)
	message := http.StatusText(status)
	if status < http.StatusInternalServerError {
		message = err.Error()
	}
	writeError(w, status, code, message)
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrBadIdentifier):
		return http.StatusBadRequest, "bad_identifier"
	case errors.Is(err, domain.ErrInvalidRange):
		return http.StatusBadRequest, "invalid_range"
	case errors.Is(err, domain.ErrUnknownSession):
		return http.StatusNotFound, "unknown_session"
	case errors.Is(err, domain.ErrRangeNotSatisfiable):
		return http.StatusRequestedRangeNotSatisfiable, "range_not_satisfiable"
	case errors.Is(err, domain.ErrPieceUnavailable):
		return http.StatusServiceUnavailable, "piece_unavailable"
	case errors.Is(err, domain.ErrMetadataUnavailable):
		return http.StatusServiceUnavailable, "metadata_unavailable"
	case errors.Is(err, domain.ErrSourceRead):
		return http.StatusInternalServerError, "source_read_failure"
	case errors.Is(err, domain.ErrTranscodeSpawn):
		return http.StatusInternalServerError, "transcode_spawn_failure"
	case errors.Is(err, domain.ErrTranscodeRuntime):
		return http.StatusBadGateway, "transcode_runtime_failure"
	case errors.Is(err, domain.ErrSessionClosed):
		return http.StatusNotFound, "unknown_session"
	case errors.Is(err, usecase.ErrEngine):
		return http.StatusBadGateway, "engine_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeRangeNotSatisfiable answers 416 with the unsatisfied-range form of
// Content-Range and an empty body.
func writeRangeNotSatisfiable(w http.ResponseWriter, size int64) {
	w.Header().Set("Content-Range", "bytes */"+strconv.FormatInt(size, 10))
	w.Header().Set("Accept-Ranges", "bytes")
	w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorPayload{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func methodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}
