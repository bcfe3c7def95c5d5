// Package app defines the application layer "ports" (interfaces) and simple
// data contracts that the offline attachment use-cases depend upon. It follows
// a hexagonal (ports & adapters) design: this package declares what the core
// needs, while adapter packages (SQLite medium, remote sources, janitor jobs)
// provide concrete implementations. Service is the orchestrator exposed to
// callers.
package app

import (
	"context"
	"time"

	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/domain"
)

// Clock abstracts time to enable deterministic testing of cache expiry and
// age-based cleanup.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time
}

// SystemClock implements Clock using time.Now in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Txn is the view of the medium handed to an Update callback. Writes made
// through it become visible together when the callback returns nil and are
// discarded otherwise.
type Txn interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// Medium is the durable key-value port. Key namespacing is the caller's
// responsibility; the medium treats keys as opaque strings.
type Medium interface {
	// Get returns the value for key. The boolean is false when the key is absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	// Remove deletes key; removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	// ListKeys returns every key currently stored, in no particular order.
	ListKeys(ctx context.Context) ([]string, error)
	// Update runs fn atomically: all writes made through the Txn are applied
	// as a unit or not at all.
	Update(ctx context.Context, fn func(tx Txn) error) error
}

// ProgressFunc receives download progress as a percentage in [0, 100].
type ProgressFunc func(percent int)

// Fetcher produces the original bytes of an attachment. Implementations
// should report progress through the callback when it is non-nil and must
// honor ctx cancellation.
type Fetcher interface {
	Fetch(ctx context.Context, id, locator string, progress ProgressFunc) ([]byte, error)
}

// RemoteSource is a Fetcher that can also enumerate the attachments a case
// holds on the remote backend.
type RemoteSource interface {
	Fetcher
	ListCaseAttachments(ctx context.Context, caseID string) ([]domain.RemoteAttachment, error)
}

// RecordStore is the persistence port the orchestrator drives. The concrete
// implementation lives in package store.
type RecordStore interface {
	Put(ctx context.Context, id string, plaintext []byte, meta domain.Metadata) (*domain.AttachmentRecord, error)
	Get(ctx context.Context, id string) ([]byte, *domain.AttachmentRecord, error)
	Metadata(ctx context.Context, id string) (*domain.AttachmentRecord, error)
	Delete(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, caseID string) ([]domain.AttachmentRecord, error)
	Cleanup(ctx context.Context, maxAge time.Duration) (int, error)
	Stats(ctx context.Context) (domain.StorageStats, error)
	Clear(ctx context.Context) (int, error)
	ClearCache()
}

// KeyLifecycle is the subset of the key manager the orchestrator needs to
// report readiness and perform a security wipe.
type KeyLifecycle interface {
	Initialize(ctx context.Context) error
	Initialized() bool
	Reset(ctx context.Context) error
}

// MetricsRecorder receives counter increments. Implementations must be cheap
// and non-blocking.
type MetricsRecorder interface {
	Inc(name string, delta int64)
}
