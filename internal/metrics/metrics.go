// Package metrics provides a lightweight persistent metrics manager. It
// batches counter and summary observations in memory and periodically
// flushes them to the vault's SQLite database. Only monotonic counters and
// (count,sum,min,max) summaries are supported. The tables are created by the
// medium's migrations.
package metrics

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Counter names.
const (
	CounterAttachmentsStored     = "attachments_stored_total"
	CounterAttachmentsDownloaded = "attachments_downloaded_total"
	CounterDownloadFailures      = "attachment_download_failures_total"
	CounterAttachmentsDeleted    = "attachments_deleted_total"
	CounterIntegrityFailures     = "attachment_integrity_failures_total"
	CounterAttachmentsExpired    = "attachments_expired_deleted_total"
	CounterSyncRuns              = "sync_runs_total"
)

// Summary names.
const (
	SummaryJanitorDeletedPerCycle = "janitor_deleted_per_cycle"
)

// Config controls flush cadence and logging.
type Config struct {
	FlushInterval time.Duration
	Logger        *slog.Logger
}

// Summary aggregates observations of one named value.
type Summary struct {
	Count int64 `json:"count"`
	Sum   int64 `json:"sum"`
	Min   int64 `json:"min"`
	Max   int64 `json:"max"`
}

func (s *Summary) merge(o Summary) {
	if s.Count == 0 {
		*s = o
		return
	}
	if o.Count == 0 {
		return
	}
	s.Count += o.Count
	s.Sum += o.Sum
	s.Min = min(s.Min, o.Min)
	s.Max = max(s.Max, o.Max)
}

// Snapshot is the combined persisted and pending state.
type Snapshot struct {
	Counters  map[string]int64   `json:"counters"`
	Summaries map[string]Summary `json:"summaries"`
}

// Manager aggregates metric events and flushes them.
type Manager struct {
	cfg    Config
	db     *sql.DB
	events chan event
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once

	mu        sync.Mutex
	started   bool
	counters  map[string]int64
	summaries map[string]Summary
}

type eventKind int

const (
	eventInc eventKind = iota + 1
	eventObserve
)

type event struct {
	kind eventKind
	name string
	v    int64
}

// New creates a Manager. Call Start to begin background flushing.
func New(db *sql.DB, cfg Config) *Manager {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		cfg:       cfg,
		db:        db,
		events:    make(chan event, 1024),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		counters:  make(map[string]int64),
		summaries: make(map[string]Summary),
	}
}

// Start launches the background flush loop. Later calls are no-ops.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	go m.loop(ctx)
}

// Stop ends the flush loop, applies queued events and performs a final flush.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if started {
		m.once.Do(func() { close(m.stop) })
		<-m.done
	}
	m.drain()
	if err := m.flush(ctx); err != nil {
		m.cfg.Logger.With("domain", "metrics").Error("final flush", "error", err)
	}
}

// Inc increments a counter by delta (>=1). It never blocks; when the queue
// is full the event is dropped.
func (m *Manager) Inc(name string, delta int64) {
	if delta <= 0 {
		return
	}
	select {
	case m.events <- event{kind: eventInc, name: name, v: delta}:
	default:
	}
}

// Observe records a summary observation.
func (m *Manager) Observe(name string, value int64) {
	select {
	case m.events <- event{kind: eventObserve, name: name, v: value}:
	default:
	}
}

func (m *Manager) loop(ctx context.Context) {
	log := m.cfg.Logger.With("domain", "metrics")
	ticker := time.NewTicker(m.cfg.FlushInterval)
	defer func() {
		ticker.Stop()
		close(m.done)
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info("metrics stop", "reason", "context_cancel")
			return
		case <-m.stop:
			log.Info("metrics stop", "reason", "stop_signal")
			return
		case ev := <-m.events:
			m.apply(ev)
		case <-ticker.C:
			if err := m.flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("flush", "error", err)
			}
		}
	}
}

func (m *Manager) drain() {
	for {
		select {
		case ev := <-m.events:
			m.apply(ev)
		default:
			return
		}
	}
}

func (m *Manager) apply(ev event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch ev.kind {
	case eventInc:
		m.counters[ev.name] += ev.v
	case eventObserve:
		agg := m.summaries[ev.name]
		agg.merge(Summary{Count: 1, Sum: ev.v, Min: ev.v, Max: ev.v})
		m.summaries[ev.name] = agg
	}
}

// Snapshot returns persisted values with pending deltas layered on top.
// Queued events that the loop has not consumed yet are not included.
func (m *Manager) Snapshot(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Counters: make(map[string]int64), Summaries: make(map[string]Summary)}
	rows, err := m.db.QueryContext(ctx, `SELECT name, value FROM metrics_counters`)
	if err != nil {
		return Snapshot{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var n string
		var v int64
		if err := rows.Scan(&n, &v); err != nil {
			return Snapshot{}, err
		}
		snap.Counters[n] = v
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, err
	}
	srows, err := m.db.QueryContext(ctx, `SELECT name, count, sum, min, max FROM metrics_summaries`)
	if err != nil {
		return Snapshot{}, err
	}
	defer srows.Close()
	for srows.Next() {
		var n string
		var s Summary
		if err := srows.Scan(&n, &s.Count, &s.Sum, &s.Min, &s.Max); err != nil {
			return Snapshot{}, err
		}
		snap.Summaries[n] = s
	}
	if err := srows.Err(); err != nil {
		return Snapshot{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for n, v := range m.counters {
		snap.Counters[n] += v
	}
	for n, agg := range m.summaries {
		cur := snap.Summaries[n]
		cur.merge(agg)
		snap.Summaries[n] = cur
	}
	return snap, nil
}

// flush writes pending deltas in one transaction. On failure the deltas are
// put back so nothing is lost.
func (m *Manager) flush(ctx context.Context) (err error) {
	m.mu.Lock()
	if len(m.counters) == 0 && len(m.summaries) == 0 {
		m.mu.Unlock()
		return nil
	}
	counters, summaries := m.counters, m.summaries
	m.counters = make(map[string]int64)
	m.summaries = make(map[string]Summary)
	m.mu.Unlock()

	defer func() {
		if err != nil {
			m.restore(counters, summaries)
		}
	}()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for name, delta := range counters {
		if _, err = tx.ExecContext(ctx, `INSERT INTO metrics_counters(name,value) VALUES(?,?) ON CONFLICT(name) DO UPDATE SET value = value + excluded.value`, name, delta); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	for name, agg := range summaries {
		if _, err = tx.ExecContext(ctx, `INSERT INTO metrics_summaries(name,count,sum,min,max) VALUES(?,?,?,?,?) ON CONFLICT(name) DO UPDATE SET count = metrics_summaries.count + excluded.count, sum = metrics_summaries.sum + excluded.sum, min = MIN(metrics_summaries.min, excluded.min), max = MAX(metrics_summaries.max, excluded.max)`, name, agg.Count, agg.Sum, agg.Min, agg.Max); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (m *Manager) restore(counters map[string]int64, summaries map[string]Summary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for n, v := range counters {
		m.counters[n] += v
	}
	for n, agg := range summaries {
		cur := m.summaries[n]
		cur.merge(agg)
		m.summaries[n] = cur
	}
}
