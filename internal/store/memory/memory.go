// Package memory provides an in-process app.Medium used by tests and by the
// CLI's ephemeral mode. Nothing survives the process.
package memory

import (
	"context"
	"sync"

	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/app"
)

var _ app.Medium = (*Medium)(nil)

// Medium is a map guarded by a RWMutex. Values are copied on the way in and
// out so callers cannot alias stored bytes.
type Medium struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New returns an empty Medium.
func New() *Medium { return &Medium{data: make(map[string][]byte)} }

func (m *Medium) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return clone(v), true, nil
}

func (m *Medium) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	m.data[key] = clone(value)
	m.mu.Unlock()
	return nil
}

func (m *Medium) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *Medium) ListKeys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys, nil
}

// Update stages writes in an overlay and applies them only if fn succeeds.
// The write lock is held for the duration, so updates are serialized.
func (m *Medium) Update(ctx context.Context, fn func(tx app.Txn) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &txn{base: m.data, writes: make(map[string][]byte)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for k, v := range tx.writes {
		if v == nil {
			delete(m.data, k)
			continue
		}
		m.data[k] = v
	}
	return nil
}

// Len reports the number of stored keys.
func (m *Medium) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// txn records pending writes; a nil value marks a removal.
type txn struct {
	base   map[string][]byte
	writes map[string][]byte
}

func (t *txn) Get(_ context.Context, key string) ([]byte, bool, error) {
	if v, ok := t.writes[key]; ok {
		if v == nil {
			return nil, false, nil
		}
		return clone(v), true, nil
	}
	v, ok := t.base[key]
	if !ok {
		return nil, false, nil
	}
	return clone(v), true, nil
}

func (t *txn) Set(_ context.Context, key string, value []byte) error {
	t.writes[key] = clone(value)
	return nil
}

func (t *txn) Remove(_ context.Context, key string) error {
	t.writes[key] = nil
	return nil
}

// clone never returns nil so that a stored empty value stays distinct from a
// removal marker.
func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
