// Package httpx is the local operations surface of attachvault: liveness and
// readiness probes, the metrics snapshot, and read-only views of the offline
// store plus a sync trigger. Attachment bytes are never served over HTTP.
package httpx

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/app"
	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/domain"
)

// ServicePort abstracts the subset of app.Service used by the HTTP layer.
type ServicePort interface {
	Ready() bool
	GetStats(ctx context.Context) (domain.StorageStats, error)
	ListOffline(ctx context.Context, caseID string) ([]domain.AttachmentRecord, error)
	GetDownloadStatus(id string) (domain.DownloadStatus, bool)
	SyncMany(ctx context.Context, caseIDs []string) app.SyncResult
}

var _ ServicePort = (*app.Service)(nil)

// Handler wires the ops endpoints. Zero-value is not valid; construct via New.
type Handler struct {
	Service   ServicePort
	Metrics   http.Handler                // mounted at /metrics when set
	Readiness func(context.Context) error // optional extra readiness probe
	Token     string                      // bearer token for /metrics and /v1; empty disables auth
	Logger    *slog.Logger
}

// New returns a Handler for svc. An empty token leaves the /v1 routes open.
func New(svc ServicePort, token string, readiness func(context.Context) error) *Handler {
	return &Handler{Service: svc, Token: token, Readiness: readiness}
}

// Router returns the mux with all routes mounted behind the correlation and
// security header middleware.
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("GET /readyz", h.handleReady)
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.requireToken(h.Metrics))
	}
	mux.Handle("GET /v1/stats", h.requireToken(http.HandlerFunc(h.handleStats)))
	mux.Handle("GET /v1/attachments", h.requireToken(http.HandlerFunc(h.handleList)))
	mux.Handle("GET /v1/attachments/{id}/status", h.requireToken(http.HandlerFunc(h.handleStatus)))
	mux.Handle("POST /v1/sync", h.requireToken(http.HandlerFunc(h.handleSync)))
	return CorrelationIDMiddleware(h.secureHeaders(mux))
}

func (h *Handler) log() *slog.Logger {
	l := h.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With("domain", "httpx")
}
