// Package janitor runs periodic age-based cleanup of offline attachments and
// reconciliation of the record store. It is independent of the orchestrator
// so lifecycle concerns stay out of the read and download paths.
package janitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/metrics"
)

// Store is the subset of the record store the Janitor drives.
type Store interface {
	// Cleanup deletes records not accessed within maxAge and returns how many.
	Cleanup(ctx context.Context, maxAge time.Duration) (int, error)
	// Reconcile removes orphaned entries and rebuilds totals.
	Reconcile(ctx context.Context) error
}

// Recorder receives persisted metrics. metrics.Manager satisfies it.
type Recorder interface {
	Inc(name string, delta int64)
	Observe(name string, value int64)
}

// Config holds tunables for the Janitor.
type Config struct {
	Interval time.Duration // how often a cycle begins
	MaxAge   time.Duration // records idle longer than this are removed
	Logger   *slog.Logger  // optional logger (defaults to slog.Default())
}

// DefaultMaxAge is used when Config.MaxAge is unset.
const DefaultMaxAge = 30 * 24 * time.Hour

// MetricsView is a read-only snapshot of in-process cycle statistics.
type MetricsView struct {
	Cycles              uint64
	Deleted             uint64
	Failures            uint64
	CycleLastDurationMS int64
}

// Janitor encapsulates the background cleanup loop.
type Janitor struct {
	store    Store
	recorder Recorder
	cfg      Config

	mu    sync.Mutex
	stats MetricsView

	ticker *time.Ticker
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// New constructs but does not start a Janitor. recorder may be nil.
func New(store Store, recorder Recorder, cfg Config) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Janitor{
		store:    store,
		recorder: recorder,
		cfg:      cfg,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the janitor loop in a new goroutine.
func (j *Janitor) Start(ctx context.Context) {
	if j.ticker != nil {
		return
	} // already started
	j.ticker = time.NewTicker(j.cfg.Interval)
	go j.loop(ctx)
}

// Stop signals the loop to exit and waits for completion. Stop on a janitor
// that was never started returns immediately.
func (j *Janitor) Stop() {
	j.once.Do(func() { close(j.stopCh) })
	if j.ticker == nil {
		return
	}
	<-j.doneCh
}

// MetricsSnapshot returns a copy of current cycle statistics.
func (j *Janitor) MetricsSnapshot() MetricsView {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stats
}

func (j *Janitor) loop(ctx context.Context) {
	log := j.cfg.Logger.With("domain", "janitor")
	defer func() {
		j.ticker.Stop()
		close(j.doneCh)
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info("janitor stop", "reason", "context_cancel")
			return
		case <-j.stopCh:
			log.Info("janitor stop", "reason", "stop_signal")
			return
		case <-j.ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce performs one cleanup + reconcile cycle and returns the number of
// records removed by age.
func (j *Janitor) RunOnce(ctx context.Context) int {
	start := time.Now()
	log := j.cfg.Logger.With("domain", "janitor", "action", "cycle")
	failed := false
	count, err := j.store.Cleanup(ctx, j.cfg.MaxAge)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("cleanup", "error", err)
		failed = true
	}
	if rerr := j.store.Reconcile(ctx); rerr != nil && !errors.Is(rerr, context.Canceled) {
		log.Error("reconcile", "error", rerr)
		failed = true
	}
	elapsed := time.Since(start)

	j.mu.Lock()
	j.stats.Cycles++
	if count > 0 {
		j.stats.Deleted += uint64(count)
	}
	if failed {
		j.stats.Failures++
	}
	j.stats.CycleLastDurationMS = elapsed.Milliseconds()
	j.mu.Unlock()

	if j.recorder != nil {
		j.recorder.Inc(metrics.CounterAttachmentsExpired, int64(count))
		j.recorder.Observe(metrics.SummaryJanitorDeletedPerCycle, int64(count))
	}
	log.Info("cycle complete", "deleted", count, "max_age", j.cfg.MaxAge, "ms", elapsed.Milliseconds())
	return count
}
