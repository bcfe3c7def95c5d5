// Package keys owns the device master key: generation, persistence, loading
// and secure clearing. A Manager is the explicit context object shared by the
// cipher engine and the record store; there is no package-level key state.
package keys

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/app"
	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/domain"
)

const (
	// KeyLength is the master key size in bytes (AES-256).
	KeyLength = 32
	// MediumKey is where the derived master key is persisted.
	MediumKey = "vault:master_key"
	// DefaultIterations is the PBKDF2 iteration count for master key derivation.
	DefaultIterations = 100_000

	seedLength    = 32
	masterContext = "attachvault/master-key/v1"
)

// Config holds tunables for the Manager.
type Config struct {
	Iterations  int           // PBKDF2 iterations; defaults to DefaultIterations
	Fingerprint func() []byte // device entropy source; defaults to Fingerprint
	Random      io.Reader     // defaults to crypto/rand.Reader
	Clock       app.Clock     // timestamp source; defaults to app.SystemClock
	Logger      *slog.Logger  // defaults to slog.Default()
}

// Manager holds the active master key in memory and persists it through the
// medium. It is safe for concurrent use.
type Manager struct {
	medium app.Medium
	cfg    Config

	mu  sync.RWMutex
	key []byte
}

var _ app.KeyLifecycle = (*Manager)(nil)

// New constructs a Manager. No key is loaded until Initialize runs.
func New(medium app.Medium, cfg Config) *Manager {
	if cfg.Iterations <= 0 {
		cfg.Iterations = DefaultIterations
	}
	if cfg.Fingerprint == nil {
		cfg.Fingerprint = Fingerprint
	}
	if cfg.Random == nil {
		cfg.Random = rand.Reader
	}
	if cfg.Clock == nil {
		cfg.Clock = app.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{medium: medium, cfg: cfg}
}

// Initialize loads the persisted master key or, on first run, generates and
// persists a new one. Calling it again while a key is loaded is a no-op.
// Every failure is reported as domain.ErrInitialization wrapping the cause.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.key != nil {
		return nil
	}
	log := m.cfg.Logger.With("domain", "keys")
	if m.medium == nil {
		return fmt.Errorf("%w: no medium configured", domain.ErrInitialization)
	}
	raw, ok, err := m.medium.Get(ctx, MediumKey)
	if err != nil {
		return fmt.Errorf("%w: load master key: %w", domain.ErrInitialization, err)
	}
	if ok {
		if len(raw) != KeyLength {
			return fmt.Errorf("%w: persisted master key has %d bytes, want %d", domain.ErrInitialization, len(raw), KeyLength)
		}
		m.key = append([]byte(nil), raw...)
		Wipe(raw)
		log.Info("master key loaded")
		return nil
	}
	key, err := m.generate()
	if err != nil {
		return fmt.Errorf("%w: generate master key: %w", domain.ErrInitialization, err)
	}
	if err := m.medium.Set(ctx, MediumKey, key); err != nil {
		Wipe(key)
		return fmt.Errorf("%w: persist master key: %w", domain.ErrInitialization, err)
	}
	m.key = key
	log.Info("master key generated", "iterations", m.cfg.Iterations)
	return nil
}

// generate combines a random seed, the device fingerprint and a timestamp and
// stretches them with PBKDF2 under a fixed context salt.
func (m *Manager) generate() ([]byte, error) {
	seed := make([]byte, seedLength)
	if _, err := io.ReadFull(m.cfg.Random, seed); err != nil {
		return nil, err
	}
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(m.cfg.Clock.Now().UnixNano()))

	material := make([]byte, 0, len(seed)+64)
	material = append(material, seed...)
	material = append(material, m.cfg.Fingerprint()...)
	material = append(material, ts[:]...)
	defer Wipe(material)
	defer Wipe(seed)

	return pbkdf2.Key(material, []byte(masterContext), m.cfg.Iterations, KeyLength, sha256.New), nil
}

// MasterKey returns a copy of the active key. Callers should Wipe it when done.
func (m *Manager) MasterKey() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.key == nil {
		return nil, domain.ErrNotInitialized
	}
	return append([]byte(nil), m.key...), nil
}

// Initialized reports whether a master key is loaded.
func (m *Manager) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.key != nil
}

// Clear zeroes and drops the in-memory key. The persisted key is untouched,
// so a later Initialize loads the same key again.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	Wipe(m.key)
	m.key = nil
}

// Reset deletes the persisted key and clears memory. The next Initialize
// produces a new key; everything encrypted under the old one becomes
// permanently undecryptable.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	Wipe(m.key)
	m.key = nil
	if m.medium == nil {
		return fmt.Errorf("%w: no medium configured", domain.ErrInitialization)
	}
	if err := m.medium.Remove(ctx, MediumKey); err != nil {
		return fmt.Errorf("%w: remove master key: %w", domain.ErrIO, err)
	}
	m.cfg.Logger.With("domain", "keys").Warn("master key reset")
	return nil
}

// Wipe overwrites b with zeros. A nil slice is a no-op.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
