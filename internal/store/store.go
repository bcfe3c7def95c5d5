package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/app"
	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/cache"
	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/domain"
)

// Options tunes a Store. Zero values select sensible defaults.
type Options struct {
	Clock      app.Clock
	Cache      *cache.Cache
	Compressor Compressor
	// MaxBytes caps the plaintext size accepted by Put. Zero means unlimited.
	MaxBytes int64
	Logger   *slog.Logger
}

// Store implements app.RecordStore on top of an app.Medium.
//
// Mutations (Put, Delete, Cleanup, Reconcile, Clear and the access-time
// touch in Get) are serialized by mu so that the medium and the cache always change
// together. Metadata reads and decryption run outside the lock.
type Store struct {
	medium     app.Medium
	sealer     Sealer
	cache      *cache.Cache
	clock      app.Clock
	compressor Compressor
	maxBytes   int64
	log        *slog.Logger

	mu sync.Mutex
}

var _ app.RecordStore = (*Store)(nil)

// New returns a Store persisting through medium and encrypting with sealer.
func New(medium app.Medium, sealer Sealer, opts Options) *Store {
	if opts.Clock == nil {
		opts.Clock = app.SystemClock{}
	}
	if opts.Cache == nil {
		opts.Cache = cache.New(cache.DefaultTTL, opts.Clock)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		medium:     medium,
		sealer:     sealer,
		cache:      opts.Cache,
		clock:      opts.Clock,
		compressor: opts.Compressor,
		maxBytes:   opts.MaxBytes,
		log:        opts.Logger.With("domain", "store"),
	}
}

// Put encrypts and persists plaintext under id. An existing record with the
// same id is replaced; stats move by the difference between the two.
func (s *Store) Put(ctx context.Context, id string, plaintext []byte, meta domain.Metadata) (*domain.AttachmentRecord, error) {
	id, err := domain.ParseID(id)
	if err != nil {
		return nil, err
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	if s.maxBytes > 0 && int64(len(plaintext)) > s.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", domain.ErrTooLarge, len(plaintext), s.maxBytes)
	}
	if meta.MimeType == "" {
		meta.MimeType = mimetype.Detect(plaintext).String()
	}

	sum := sha256.Sum256(plaintext)
	payload, compressed, err := s.compress(plaintext)
	if err != nil {
		return nil, err
	}
	ciphertext, salt, err := s.sealer.Encrypt(payload, id)
	if err != nil {
		return nil, err
	}
	attachmentKey, err := s.sealer.DeriveRecordKey(id)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	rec := domain.AttachmentRecord{
		Version:       domain.RecordVersion,
		ID:            id,
		OriginalName:  meta.OriginalName,
		MimeType:      meta.MimeType,
		Size:          int64(len(plaintext)),
		CaseID:        meta.CaseID,
		EncryptedSize: int64(len(ciphertext)),
		Salt:          salt,
		AttachmentKey: attachmentKey,
		Checksum:      hex.EncodeToString(sum[:]),
		Compressed:    compressed,
		CreatedAt:     now,
		LastAccessed:  now,
	}
	encoded, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: encode record: %w", domain.ErrIO, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	replaced := false
	err = s.medium.Update(ctx, func(tx app.Txn) error {
		stats, err := loadStats(ctx, tx)
		if err != nil {
			return err
		}
		prev, ok, err := loadRecord(ctx, tx, id)
		switch {
		case err != nil && !errors.Is(err, domain.ErrIntegrity):
			return err
		case err != nil:
			s.log.Warn("replacing unreadable record", "id", id, "err", err)
		case ok:
			stats.Add(*prev, -1)
			replaced = true
		}
		stats.Add(rec, 1)
		if err := tx.Set(ctx, metaKey(id), encoded); err != nil {
			return err
		}
		if err := tx.Set(ctx, dataKey(id), ciphertext); err != nil {
			return err
		}
		return saveStats(ctx, tx, stats)
	})
	if err != nil {
		return nil, ioErr("put", err)
	}
	s.cache.Put(id, plaintext)
	s.log.Debug("attachment stored", "id", id, "size", rec.Size, "encrypted_size", rec.EncryptedSize, "compressed", compressed, "replaced", replaced)
	return &rec, nil
}

func (s *Store) compress(plaintext []byte) ([]byte, bool, error) {
	if s.compressor == nil || len(plaintext) == 0 {
		return plaintext, false, nil
	}
	c, err := s.compressor.Compress(plaintext)
	if err != nil {
		return nil, false, fmt.Errorf("%w: compress: %w", domain.ErrIO, err)
	}
	if len(c) >= len(plaintext) {
		return plaintext, false, nil
	}
	return c, true, nil
}

// Get returns the decrypted bytes and metadata for id, refreshing its access
// time. Cached plaintext is served without touching the ciphertext.
func (s *Store) Get(ctx context.Context, id string) ([]byte, *domain.AttachmentRecord, error) {
	rec, err := s.Metadata(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if data, ok := s.cache.Get(rec.ID); ok {
		s.mu.Lock()
		s.touch(ctx, rec)
		s.mu.Unlock()
		return data, rec, nil
	}

	// Metadata and ciphertext are read in one transaction so a concurrent
	// overwrite cannot pair a new salt with old ciphertext.
	var ciphertext []byte
	err = s.medium.Update(ctx, func(tx app.Txn) error {
		cur, ok, err := loadRecord(ctx, tx, rec.ID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrNotFound
		}
		ct, ok, err := tx.Get(ctx, dataKey(rec.ID))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: ciphertext missing for %s", domain.ErrIntegrity, rec.ID)
		}
		rec, ciphertext = cur, ct
		return nil
	})
	if err != nil {
		return nil, nil, ioErr("load", err)
	}
	plaintext, err := s.open(rec, ciphertext)
	if err != nil {
		s.log.Warn("attachment failed verification", "id", rec.ID, "err", err)
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.touch(ctx, rec) {
		s.cache.Put(rec.ID, plaintext)
	}
	return plaintext, rec, nil
}

// open decrypts and verifies a ciphertext against its record. A stored
// ciphertext that no longer decrypts has been altered or was sealed under
// another key, so decryption errors carry ErrIntegrity as well.
func (s *Store) open(rec *domain.AttachmentRecord, ciphertext []byte) ([]byte, error) {
	plaintext, err := s.sealer.Decrypt(ciphertext, rec.Salt, rec.ID)
	if errors.Is(err, domain.ErrCryptoFailure) {
		return nil, fmt.Errorf("%w: %w", domain.ErrIntegrity, err)
	}
	if err != nil {
		return nil, err
	}
	if rec.Compressed {
		if s.compressor == nil {
			return nil, fmt.Errorf("%w: record %s is compressed but no decompressor is configured", domain.ErrIntegrity, rec.ID)
		}
		if plaintext, err = s.compressor.Decompress(plaintext); err != nil {
			return nil, fmt.Errorf("%w: decompress: %w", domain.ErrIntegrity, err)
		}
	}
	sum := sha256.Sum256(plaintext)
	if hex.EncodeToString(sum[:]) != rec.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch for %s", domain.ErrIntegrity, rec.ID)
	}
	if int64(len(plaintext)) != rec.Size {
		return nil, fmt.Errorf("%w: size %d does not match recorded %d", domain.ErrIntegrity, len(plaintext), rec.Size)
	}
	return plaintext, nil
}

// touch refreshes LastAccessed on the stored record if it is still the one
// rec describes, and reports whether it was. Failures are logged; a read
// never fails because of them. Callers hold s.mu.
func (s *Store) touch(ctx context.Context, rec *domain.AttachmentRecord) bool {
	now := s.clock.Now()
	current := false
	err := s.medium.Update(ctx, func(tx app.Txn) error {
		cur, ok, err := loadRecord(ctx, tx, rec.ID)
		if err != nil || !ok || !bytes.Equal(cur.Salt, rec.Salt) {
			return err
		}
		current = true
		cur.LastAccessed = now
		encoded, err := json.Marshal(cur)
		if err != nil {
			return err
		}
		return tx.Set(ctx, metaKey(rec.ID), encoded)
	})
	if err != nil {
		s.log.Warn("touch failed", "id", rec.ID, "err", err)
		return false
	}
	if current {
		rec.LastAccessed = now
	}
	return current
}

// Metadata returns the stored record without its payload.
func (s *Store) Metadata(ctx context.Context, id string) (*domain.AttachmentRecord, error) {
	id, err := domain.ParseID(id)
	if err != nil {
		return nil, err
	}
	rec, ok, err := loadRecord(ctx, s.medium, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrNotFound
	}
	return rec, nil
}

// Delete removes the record, its ciphertext and cache entry. It reports
// whether a record existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	id, err := domain.ParseID(id)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existed := false
	err = s.medium.Update(ctx, func(tx app.Txn) error {
		var err error
		existed, err = deleteTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return false, ioErr("delete", err)
	}
	s.cache.Delete(id)
	return existed, nil
}

// deleteTx removes both keys for id and moves the stats. A record whose
// metadata cannot be decoded still counts as existing.
func deleteTx(ctx context.Context, tx app.Txn, id string) (bool, error) {
	prev, ok, decodeErr := loadRecord(ctx, tx, id)
	if decodeErr != nil && !errors.Is(decodeErr, domain.ErrIntegrity) {
		return false, decodeErr
	}
	existed := ok || decodeErr != nil
	if ok {
		stats, err := loadStats(ctx, tx)
		if err != nil {
			return false, err
		}
		stats.Add(*prev, -1)
		if err := saveStats(ctx, tx, stats); err != nil {
			return false, err
		}
	}
	if err := tx.Remove(ctx, metaKey(id)); err != nil {
		return false, err
	}
	if err := tx.Remove(ctx, dataKey(id)); err != nil {
		return false, err
	}
	return existed, nil
}

// List returns every record, or only those of caseID when it is non-empty,
// most recently accessed first. Unreadable records are skipped.
func (s *Store) List(ctx context.Context, caseID string) ([]domain.AttachmentRecord, error) {
	recs, err := s.records(ctx)
	if err != nil {
		return nil, err
	}
	out := recs[:0]
	for _, r := range recs {
		if caseID == "" || r.CaseID == caseID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastAccessed.Equal(out[j].LastAccessed) {
			return out[i].LastAccessed.After(out[j].LastAccessed)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) records(ctx context.Context) ([]domain.AttachmentRecord, error) {
	keys, err := s.medium.ListKeys(ctx)
	if err != nil {
		return nil, ioErr("list keys", err)
	}
	var recs []domain.AttachmentRecord
	for _, k := range keys {
		kind, id := splitKey(k)
		if kind != "meta" {
			continue
		}
		rec, ok, err := loadRecord(ctx, s.medium, id)
		if err != nil {
			if errors.Is(err, domain.ErrIntegrity) {
				s.log.Warn("skipping unreadable record", "id", id, "err", err)
				continue
			}
			return nil, err
		}
		if ok {
			recs = append(recs, *rec)
		}
	}
	return recs, nil
}

// Cleanup deletes records whose last access is strictly older than maxAge
// and stamps LastCleanup. It returns the number of records removed.
func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	cutoff := now.Add(-maxAge)
	recs, err := s.records(ctx)
	if err != nil {
		return 0, err
	}
	var expired []string
	for _, r := range recs {
		if r.LastAccessed.Before(cutoff) {
			expired = append(expired, r.ID)
		}
	}
	err = s.medium.Update(ctx, func(tx app.Txn) error {
		for _, id := range expired {
			if _, err := deleteTx(ctx, tx, id); err != nil {
				return err
			}
		}
		stats, err := loadStats(ctx, tx)
		if err != nil {
			return err
		}
		stats.LastCleanup = now
		return saveStats(ctx, tx, stats)
	})
	if err != nil {
		return 0, ioErr("cleanup", err)
	}
	for _, id := range expired {
		s.cache.Delete(id)
	}
	if len(expired) > 0 {
		s.log.Info("expired attachments removed", "count", len(expired), "cutoff", cutoff)
	}
	return len(expired), nil
}

// Stats returns the persisted totals.
func (s *Store) Stats(ctx context.Context) (domain.StorageStats, error) {
	st, err := loadStats(ctx, s.medium)
	if err != nil {
		return domain.StorageStats{}, ioErr("stats", err)
	}
	return *st, nil
}

// Reconcile removes ciphertext without metadata, metadata without
// ciphertext and undecodable metadata, then rebuilds the totals from the
// surviving records. LastCleanup is preserved.
func (s *Store) Reconcile(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys, err := s.medium.ListKeys(ctx)
	if err != nil {
		return ioErr("list keys", err)
	}
	metas := make(map[string]struct{})
	datas := make(map[string]struct{})
	for _, k := range keys {
		switch kind, id := splitKey(k); kind {
		case "meta":
			metas[id] = struct{}{}
		case "data":
			datas[id] = struct{}{}
		}
	}
	var removed []string
	err = s.medium.Update(ctx, func(tx app.Txn) error {
		removed = removed[:0]
		prev, err := loadStats(ctx, tx)
		if err != nil {
			return err
		}
		fresh := domain.StorageStats{LastCleanup: prev.LastCleanup}
		for id := range datas {
			if _, ok := metas[id]; !ok {
				if err := tx.Remove(ctx, dataKey(id)); err != nil {
					return err
				}
				removed = append(removed, id)
			}
		}
		for id := range metas {
			rec, ok, err := loadRecord(ctx, tx, id)
			_, hasData := datas[id]
			if err != nil && !errors.Is(err, domain.ErrIntegrity) {
				return err
			}
			if err != nil || !ok || !hasData {
				if err := tx.Remove(ctx, metaKey(id)); err != nil {
					return err
				}
				if err := tx.Remove(ctx, dataKey(id)); err != nil {
					return err
				}
				removed = append(removed, id)
				continue
			}
			fresh.Add(*rec, 1)
		}
		return saveStats(ctx, tx, &fresh)
	})
	if err != nil {
		return ioErr("reconcile", err)
	}
	for _, id := range removed {
		s.cache.Delete(id)
	}
	if len(removed) > 0 {
		s.log.Info("reconcile removed orphans", "count", len(removed))
	}
	return nil
}

// Clear removes every metadata and ciphertext key in one transaction,
// including undecodable records and orphans, and zeroes the totals while
// keeping LastCleanup. It returns the number of distinct ids removed.
func (s *Store) Clear(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys, err := s.medium.ListKeys(ctx)
	if err != nil {
		return 0, ioErr("list keys", err)
	}
	ids := make(map[string]struct{})
	err = s.medium.Update(ctx, func(tx app.Txn) error {
		for _, k := range keys {
			kind, id := splitKey(k)
			if kind == "" {
				continue
			}
			if err := tx.Remove(ctx, k); err != nil {
				return err
			}
			ids[id] = struct{}{}
		}
		prev, err := loadStats(ctx, tx)
		if err != nil {
			return err
		}
		return saveStats(ctx, tx, &domain.StorageStats{LastCleanup: prev.LastCleanup})
	})
	s.cache.Clear()
	if err != nil {
		return 0, ioErr("clear", err)
	}
	return len(ids), nil
}

// ClearCache drops every cached plaintext.
func (s *Store) ClearCache() { s.cache.Clear() }

type reader interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
}

// loadRecord decodes the metadata for id. Decoding problems are reported as
// domain.ErrIntegrity; medium failures are returned unchanged.
func loadRecord(ctx context.Context, r reader, id string) (*domain.AttachmentRecord, bool, error) {
	raw, ok, err := r.Get(ctx, metaKey(id))
	if err != nil {
		return nil, false, ioErr("load metadata", err)
	}
	if !ok {
		return nil, false, nil
	}
	var rec domain.AttachmentRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, fmt.Errorf("%w: decode metadata for %s: %w", domain.ErrIntegrity, id, err)
	}
	if rec.Version != domain.RecordVersion {
		return nil, false, fmt.Errorf("%w: record %s has unsupported version %d", domain.ErrIntegrity, id, rec.Version)
	}
	if rec.ID != id {
		return nil, false, fmt.Errorf("%w: record stored under %s claims id %s", domain.ErrIntegrity, id, rec.ID)
	}
	return &rec, true, nil
}

func loadStats(ctx context.Context, r reader) (*domain.StorageStats, error) {
	raw, ok, err := r.Get(ctx, StatsKey)
	if err != nil {
		return nil, err
	}
	var st domain.StorageStats
	if !ok {
		return &st, nil
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		// Corrupt totals are recoverable through Reconcile; start from zero.
		return &domain.StorageStats{}, nil
	}
	return &st, nil
}

func saveStats(ctx context.Context, tx app.Txn, st *domain.StorageStats) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return tx.Set(ctx, StatsKey, raw)
}

// ioErr tags medium failures with domain.ErrIO unless they already carry a
// domain category.
func ioErr(op string, err error) error {
	for _, known := range []error{domain.ErrIO, domain.ErrNotFound, domain.ErrIntegrity, domain.ErrCryptoFailure, domain.ErrNotInitialized} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrIO, op, err)
}
