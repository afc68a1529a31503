package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"intralink/internal/domain"
	"intralink/internal/observability/middleware"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return false
	}
	return true
}

// classifyStatus maps service errors onto status codes. Authentication
// failures share one generic message so callers cannot tell their causes apart.
func classifyStatus(err error) (int, string) {
	switch {
	case domain.IsAuthFailure(err):
		return http.StatusUnauthorized, "invalid or expired credentials"
	case errors.Is(err, domain.ErrUserDisabled):
		return http.StatusForbidden, "account disabled"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "temporarily unavailable"
	}
	return http.StatusInternalServerError, "internal error"
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := classifyStatus(err)
	switch {
	case status == http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
		slog.Warn("store unavailable", append([]any{"path", r.URL.Path, "err", err}, middleware.LogAttrs(r.Context())...)...)
	case status >= http.StatusInternalServerError:
		slog.Error("request failed", append([]any{"path", r.URL.Path, "err", err}, middleware.LogAttrs(r.Context())...)...)
	}
	writeJSON(w, status, errorBody{Error: msg})
}
