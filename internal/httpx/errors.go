package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/domain"
)

// writeError writes a JSON error body with given status code.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg})
	if cid, ok := GetCorrelationID(ctx); ok {
		h.log().Debug("wrote error response", "cid", cid, "status", code, "msg", msg)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

// mapServiceError maps domain errors to HTTP responses.
func (h *Handler) mapServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	cid, _ := GetCorrelationID(ctx)
	switch {
	case errors.Is(err, domain.ErrInvalidID), errors.Is(err, domain.ErrInvalidMetadata):
		h.log().Warn("service error", "cid", cid, "code", "invalid_request")
		h.writeError(ctx, w, http.StatusBadRequest, "invalid request")
	case errors.Is(err, domain.ErrNotFound):
		h.log().Info("service error", "cid", cid, "code", "not_found")
		h.writeError(ctx, w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrNotInitialized):
		h.log().Warn("service error", "cid", cid, "code", "not_initialized")
		h.writeError(ctx, w, http.StatusServiceUnavailable, "not initialized")
	default:
		h.log().Error("unhandled service error", "cid", cid, "code", "unhandled", "err", err)
		h.writeError(ctx, w, http.StatusInternalServerError, "internal")
	}
}
