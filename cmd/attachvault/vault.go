package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/app"
	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/cache"
	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/cipher"
	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/config"
	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/janitor"
	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/keys"
	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/metrics"
	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/remote/filesource"
	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/remote/httpsource"
	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/remote/s3source"
	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/store"
	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/store/memory"
	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/store/sqlite"
)

// vault is the assembled object graph behind every command.
type vault struct {
	cfg     *config.Config
	db      *sql.DB // nil when ephemeral
	keys    *keys.Manager
	store   *store.Store
	svc     *app.Service
	metrics *metrics.Manager // nil when ephemeral
	closers []func()
}

func newLogger(cfg *config.Config, verbose int, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	if verbose > 0 {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func ensureDataDir(dir string) error {
	st, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("stat data directory: %w", err)
	case !st.IsDir():
		return fmt.Errorf("data path %s is not a directory", dir)
	}
	return nil
}

// openVault builds the medium, key manager, cipher, store and service and
// loads (or creates) the device key. Callers must Close the result.
func openVault(ctx context.Context, cfg *config.Config, ephemeral bool, logger *slog.Logger) (_ *vault, err error) {
	v := &vault{cfg: cfg}
	defer func() {
		if err != nil {
			v.Close()
		}
	}()

	var medium app.Medium
	if ephemeral {
		medium = memory.New()
	} else {
		if err := ensureDataDir(cfg.DataDir); err != nil {
			return nil, err
		}
		m, err := sqlite.Open(ctx, cfg.SQLiteDSN())
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		v.closers = append(v.closers, func() { _ = m.Close() })
		v.db = m.DB()
		medium = m

		v.metrics = metrics.New(v.db, metrics.Config{FlushInterval: cfg.MetricsFlushInterval, Logger: logger})
		v.metrics.Start(ctx)
		v.closers = append(v.closers, func() { v.metrics.Stop(context.Background()) })
	}

	clock := app.SystemClock{}
	v.keys = keys.New(medium, keys.Config{Iterations: cfg.MasterKDFIterations, Clock: clock, Logger: logger})
	v.closers = append(v.closers, v.keys.Clear)

	engine, err := cipher.New(v.keys, cipher.Config{
		RecordIterations: cfg.RecordKDFIterations,
		MasterIterations: cfg.MasterKDFIterations,
	})
	if err != nil {
		return nil, err
	}

	opts := store.Options{
		Clock:    clock,
		Cache:    cache.New(cfg.CacheTTL, clock),
		MaxBytes: cfg.MaxAttachmentBytes.Int64(),
		Logger:   logger,
	}
	// The decompressor is always wired so records written with compression
	// stay readable after it is switched off.
	z, err := store.NewZstd()
	if err != nil {
		return nil, err
	}
	v.closers = append(v.closers, z.Close)
	opts.Compressor = z
	if !cfg.Compress {
		opts.Compressor = decompressOnly{z}
	}
	v.store = store.New(medium, engine, opts)

	v.svc = &app.Service{Store: v.store, Keys: v.keys, Clock: clock, Logger: logger}
	if v.metrics != nil {
		v.svc.Metrics = v.metrics
	}
	src, closeSrc, err := newRemote(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if src != nil {
		v.svc.Remote = src
		v.closers = append(v.closers, closeSrc)
	}
	if err := v.svc.Init(ctx); err != nil {
		return nil, err
	}
	return v, nil
}

// recorder returns the janitor's metrics sink, or nil without metrics.
func (v *vault) recorder() janitor.Recorder {
	if v.metrics == nil {
		return nil
	}
	return v.metrics
}

func (v *vault) readiness(ctx context.Context) error {
	if v.db == nil {
		return nil
	}
	return v.db.PingContext(ctx)
}

// Close releases resources in reverse order of acquisition.
func (v *vault) Close() {
	for i := len(v.closers) - 1; i >= 0; i-- {
		v.closers[i]()
	}
	v.closers = nil
}

// decompressOnly reads compressed records but never compresses new ones.
type decompressOnly struct{ z *store.Zstd }

func (d decompressOnly) Compress(in []byte) ([]byte, error) { return in, nil }

func (d decompressOnly) Decompress(in []byte) ([]byte, error) { return d.z.Decompress(in) }

// newRemote builds the configured remote source. The returned func releases
// it and is never nil when err is nil.
func newRemote(ctx context.Context, cfg *config.Config) (app.RemoteSource, func(), error) {
	noop := func() {}
	maxBytes := cfg.MaxAttachmentBytes.Int64()
	switch cfg.Remote {
	case config.RemoteHTTP:
		src, err := httpsource.New(httpsource.Config{
			BaseURL:  cfg.RemoteBaseURL,
			Token:    cfg.RemoteToken,
			Timeout:  cfg.RemoteTimeout,
			MaxBytes: maxBytes,
		})
		return src, noop, err
	case config.RemoteS3:
		src, err := s3source.New(ctx, s3source.Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Prefix:    cfg.S3Prefix,
			MaxBytes:  maxBytes,
		})
		return src, noop, err
	case config.RemoteFile:
		src, err := filesource.New(cfg.RemoteDir, maxBytes)
		if err != nil {
			return nil, noop, err
		}
		return src, func() { _ = src.Close() }, nil
	default:
		return nil, noop, nil
	}
}
