package httpx

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/domain"
)

// maxSyncBody bounds the POST /v1/sync request.
const maxSyncBody = 64 << 10

// attachmentView is the metadata-only projection returned by GET /v1/attachments.
type attachmentView struct {
	ID           string    `json:"id"`
	OriginalName string    `json:"originalName"`
	MimeType     string    `json:"mimeType"`
	Size         int64     `json:"size"`
	CaseID       string    `json:"caseId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	LastAccessed time.Time `json:"lastAccessed"`
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Service.GetStats(r.Context())
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	h.writeJSON(w, stats)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Service.ListOffline(r.Context(), r.URL.Query().Get("case"))
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	out := make([]attachmentView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, attachmentView{
			ID:           rec.ID,
			OriginalName: rec.OriginalName,
			MimeType:     rec.MimeType,
			Size:         rec.Size,
			CaseID:       rec.CaseID,
			CreatedAt:    rec.CreatedAt,
			LastAccessed: rec.LastAccessed,
		})
	}
	h.writeJSON(w, out)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseID(r.PathValue("id"))
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	st, ok := h.Service.GetDownloadStatus(id)
	if !ok {
		h.mapServiceError(r.Context(), w, domain.ErrNotFound)
		return
	}
	h.writeJSON(w, st)
}

type syncRequest struct {
	CaseIDs []string `json:"caseIds"`
}

// handleSync runs a batch sync synchronously and returns its summary. A sync
// already in flight yields 409 with the skipped result.
func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxSyncBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil || len(req.CaseIDs) == 0 {
		h.writeError(r.Context(), w, http.StatusBadRequest, "caseIds required")
		return
	}
	res := h.Service.SyncMany(r.Context(), req.CaseIDs)
	if res.Skipped {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(res)
		return
	}
	cid, _ := GetCorrelationID(r.Context())
	h.log().Info("sync via http", "cid", cid, "run_id", res.RunID, "succeeded", res.Succeeded, "failed", res.Failed)
	h.writeJSON(w, res)
}
