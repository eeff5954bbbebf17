package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/starford/todosync/internal/apperr"
)

type errResponse struct {
	Error string `json:"error"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("api: json encode failed", slog.String("error", err.Error()))
	}
}

// statusFor maps a domain error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrRemoteQuery), errors.Is(err, apperr.ErrRemoteWrite):
		return http.StatusBadGateway
	case errors.Is(err, apperr.ErrConfiguration), errors.Is(err, apperr.ErrNoWorkspace):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes the JSON error body for err. Server-side failures are
// logged under op and reported without detail.
func writeError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	switch status {
	case http.StatusNotFound:
		writeJSON(w, status, errorBody("not found"))
	case http.StatusInternalServerError:
		slog.Error("api: "+op+" failed", slog.String("error", err.Error()))
		writeJSON(w, status, errorBody("internal error"))
	default:
		slog.Warn("api: "+op+" failed", slog.String("error", err.Error()))
		writeJSON(w, status, errorBody(err.Error()))
	}
}

// intParam returns a non-negative integer query parameter, 0 when absent or
// malformed.
func intParam(r *http.Request, name string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
