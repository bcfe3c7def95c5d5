package httpx

import "net/http"

// handleHealth returns liveness.
func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReady reports 503 until the vault key is loaded and the optional
// probe passes.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.Service != nil && !h.Service.Ready() {
		h.writeError(r.Context(), w, http.StatusServiceUnavailable, "not ready")
		return
	}
	if h.Readiness != nil {
		if err := h.Readiness(r.Context()); err != nil {
			h.log().Warn("readiness probe failed", "err", err)
			h.writeError(r.Context(), w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
