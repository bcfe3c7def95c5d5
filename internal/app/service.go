package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/domain"
	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/metrics"
)

var _ MetricsRecorder = (*metrics.Manager)(nil)

// DownloadRequest describes one attachment to bring offline.
type DownloadRequest struct {
	ID      string
	Locator string
	Meta    domain.Metadata
	// Fetcher overrides Service.Remote for this request.
	Fetcher Fetcher
}

// SyncResult summarizes a SyncMany run. Skipped is set when another sync was
// already running and this call did nothing.
type SyncResult struct {
	RunID     string `json:"runId,omitempty"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Skipped   bool   `json:"skipped"`
}

// Service is the offline orchestrator. Store and Keys are required; Remote,
// Metrics, Clock and Logger are optional. The zero value of the unexported
// state is ready to use, so a Service may be built as a struct literal.
type Service struct {
	Store   RecordStore
	Keys    KeyLifecycle
	Remote  RemoteSource
	Metrics MetricsRecorder
	Clock   Clock
	Logger  *slog.Logger

	syncing atomic.Bool

	mu       sync.Mutex
	statuses map[string]domain.DownloadStatus
}

// Init loads or creates the master key. Until it succeeds every operation
// that touches attachments fails with domain.ErrNotInitialized.
func (s *Service) Init(ctx context.Context) error {
	if s.Keys == nil || s.Store == nil {
		return fmt.Errorf("%w: service missing store or key manager", domain.ErrInitialization)
	}
	if err := s.Keys.Initialize(ctx); err != nil {
		s.log().Error("initialization failed", "err", err)
		return err
	}
	s.log().Info("offline store ready")
	return nil
}

// Ready reports whether Init has succeeded and the key is still loaded.
func (s *Service) Ready() bool {
	return s.Keys != nil && s.Store != nil && s.Keys.Initialized()
}

func (s *Service) ensureReady() error {
	if !s.Ready() {
		return domain.ErrNotInitialized
	}
	return nil
}

// Download fetches an attachment and stores it encrypted. An attachment that
// is already offline is not fetched again; its record is returned as is.
// Every failure is reported as domain.ErrDownload wrapping the cause, and
// the attempt's status ends in failed.
func (s *Service) Download(ctx context.Context, req DownloadRequest) (*domain.AttachmentRecord, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	id, err := domain.ParseID(req.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrDownload, err)
	}
	log := s.log().With("id", id)
	s.setStatus(id, domain.StatePending, 0, "")

	existing, err := s.Store.Metadata(ctx, id)
	switch {
	case err == nil:
		s.setStatus(id, domain.StateCompleted, 100, "")
		log.Debug("already offline")
		return existing, nil
	case errors.Is(err, domain.ErrNotFound):
	case errors.Is(err, domain.ErrIntegrity):
		log.Warn("replacing unreadable record", "err", err)
	default:
		return nil, s.fail(id, err)
	}

	fetcher := req.Fetcher
	if fetcher == nil && s.Remote != nil {
		fetcher = s.Remote
	}
	if fetcher == nil {
		return nil, s.fail(id, errors.New("no remote source configured"))
	}

	s.setStatus(id, domain.StateDownloading, 0, "")
	data, err := fetcher.Fetch(ctx, id, req.Locator, func(p int) {
		s.setStatus(id, domain.StateDownloading, p, "")
	})
	if err != nil {
		return nil, s.fail(id, err)
	}
	s.inc(metrics.CounterAttachmentsDownloaded, 1)

	rec, err := s.Store.Put(ctx, id, data, req.Meta)
	if err != nil {
		return nil, s.fail(id, err)
	}
	s.inc(metrics.CounterAttachmentsStored, 1)
	s.setStatus(id, domain.StateCompleted, 100, "")
	log.Info("attachment available offline", "size", rec.Size, "case", rec.CaseID)
	return rec, nil
}

func (s *Service) fail(id string, cause error) error {
	s.setStatus(id, domain.StateFailed, 0, cause.Error())
	s.inc(metrics.CounterDownloadFailures, 1)
	s.log().Warn("download failed", "id", id, "err", cause)
	return fmt.Errorf("%w: %w", domain.ErrDownload, cause)
}

// SyncMany brings every remote attachment of the given cases offline. Only
// one sync runs at a time; an overlapping call returns immediately with
// Skipped set. A case whose listing fails counts as one failure and the
// batch continues.
func (s *Service) SyncMany(ctx context.Context, caseIDs []string) SyncResult {
	if !s.syncing.CompareAndSwap(false, true) {
		s.log().Info("sync already in progress")
		return SyncResult{Skipped: true}
	}
	defer s.syncing.Store(false)

	res := SyncResult{RunID: uuid.NewString()}
	log := s.log().With("run_id", res.RunID)
	s.inc(metrics.CounterSyncRuns, 1)

	if err := s.ensureReady(); err != nil {
		log.Error("sync aborted", "err", err)
		res.Failed = len(caseIDs)
		return res
	}
	if s.Remote == nil {
		log.Error("sync aborted", "err", "no remote source configured")
		res.Failed = len(caseIDs)
		return res
	}

	log.Info("sync started", "cases", len(caseIDs))
	for _, caseID := range caseIDs {
		list, err := s.Remote.ListCaseAttachments(ctx, caseID)
		if err != nil {
			log.Warn("listing case failed", "case", caseID, "err", err)
			res.Failed++
			continue
		}
		for _, ra := range list {
			if ra.CaseID == "" {
				ra.CaseID = caseID
			}
			if s.IsAvailableOffline(ctx, ra.ID) {
				continue
			}
			if _, err := s.Download(ctx, DownloadRequest{ID: ra.ID, Locator: ra.Locator, Meta: ra.Metadata()}); err != nil {
				res.Failed++
				continue
			}
			res.Succeeded++
		}
	}
	log.Info("sync finished", "succeeded", res.Succeeded, "failed", res.Failed)
	return res
}

// IsAvailableOffline reports whether a readable record exists for id.
func (s *Service) IsAvailableOffline(ctx context.Context, id string) bool {
	if s.ensureReady() != nil {
		return false
	}
	_, err := s.Store.Metadata(ctx, id)
	return err == nil
}

// GetOfflineAttachment returns the decrypted bytes and metadata for id.
func (s *Service) GetOfflineAttachment(ctx context.Context, id string) ([]byte, *domain.AttachmentRecord, error) {
	if err := s.ensureReady(); err != nil {
		return nil, nil, err
	}
	data, rec, err := s.Store.Get(ctx, id)
	if errors.Is(err, domain.ErrIntegrity) {
		s.inc(metrics.CounterIntegrityFailures, 1)
		s.log().Error("integrity check failed", "id", id, "err", err)
	}
	return data, rec, err
}

// ListOffline returns stored records, optionally restricted to one case.
func (s *Service) ListOffline(ctx context.Context, caseID string) ([]domain.AttachmentRecord, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	return s.Store.List(ctx, caseID)
}

// RemoveOffline deletes the stored copy of id and forgets its status.
func (s *Service) RemoveOffline(ctx context.Context, id string) (bool, error) {
	if err := s.ensureReady(); err != nil {
		return false, err
	}
	existed, err := s.Store.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	s.dropStatus(id)
	if existed {
		s.inc(metrics.CounterAttachmentsDeleted, 1)
	}
	return existed, nil
}

// GetStats returns storage totals.
func (s *Service) GetStats(ctx context.Context) (domain.StorageStats, error) {
	if err := s.ensureReady(); err != nil {
		return domain.StorageStats{}, err
	}
	return s.Store.Stats(ctx)
}

// ClearAll deletes every stored attachment, unreadable ones included, along
// with the cache and all statuses. The deletion is all or nothing: ok is
// false only when err is set and nothing was removed.
func (s *Service) ClearAll(ctx context.Context) (bool, error) {
	if s.Store == nil {
		return false, domain.ErrNotInitialized
	}
	deleted, err := s.Store.Clear(ctx)
	if err != nil {
		s.log().Error("clearing offline data failed", "err", err)
		return false, err
	}
	s.mu.Lock()
	s.statuses = nil
	s.mu.Unlock()
	s.inc(metrics.CounterAttachmentsDeleted, int64(deleted))
	s.log().Info("offline data cleared", "deleted", deleted)
	return true, nil
}

// ResetSecurity removes all offline data and destroys the master key. The
// service is not ready again until Init runs and creates a new key.
func (s *Service) ResetSecurity(ctx context.Context) error {
	if s.Keys == nil {
		return fmt.Errorf("%w: no key manager", domain.ErrInitialization)
	}
	if _, err := s.ClearAll(ctx); err != nil {
		return err
	}
	if err := s.Keys.Reset(ctx); err != nil {
		return err
	}
	s.log().Warn("security reset completed")
	return nil
}

// GetDownloadStatus returns the latest status recorded for id.
func (s *Service) GetDownloadStatus(id string) (domain.DownloadStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[id]
	return st, ok
}

func (s *Service) setStatus(id string, state domain.DownloadState, progress int, msg string) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statuses == nil {
		s.statuses = make(map[string]domain.DownloadStatus)
	}
	s.statuses[id] = domain.DownloadStatus{
		ID:        id,
		State:     state,
		Progress:  domain.ClampProgress(progress),
		Error:     msg,
		UpdatedAt: now,
	}
}

func (s *Service) dropStatus(id string) {
	s.mu.Lock()
	delete(s.statuses, id)
	s.mu.Unlock()
}

func (s *Service) inc(name string, delta int64) {
	if s.Metrics != nil && delta > 0 {
		s.Metrics.Inc(name, delta)
	}
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return SystemClock{}.Now()
	}
	return s.Clock.Now()
}

func (s *Service) log() *slog.Logger {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With("domain", "offline")
}
