// Package sqlite provides a SQLite-backed implementation of the app.Medium
// port. Every entry lives in a single key/value table whose schema is managed
// by embedded goose migrations.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/app"
	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/store/sqlite/migrations"

	// database/sql SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

var (
	_ app.Medium = (*Medium)(nil)
	_ app.Txn    = kv{}
)

// dbtx is the subset of database/sql shared by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// kv implements the single-key operations against either the pool or an
// open transaction.
type kv struct{ db dbtx }

func (k kv) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := k.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, true, nil
}

func (k kv) Set(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	const q = `INSERT INTO kv (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := k.db.ExecContext(ctx, q, key, value); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

func (k kv) Remove(ctx context.Context, key string) error {
	if _, err := k.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}

// Medium implements app.Medium on a *sql.DB. It is safe for concurrent use;
// database/sql manages connection pooling and SQLite serializes writers.
type Medium struct {
	kv
	db *sql.DB
}

// Open opens the database at dsn and migrates it to the latest schema.
func Open(ctx context.Context, dsn string) (*Medium, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	m, err := New(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return m, nil
}

// New wraps an existing handle, applying pending migrations first.
func New(ctx context.Context, db *sql.DB) (*Medium, error) {
	if err := Migrate(ctx, db); err != nil {
		return nil, err
	}
	return &Medium{kv: kv{db: db}, db: db}, nil
}

// Migrate applies the embedded migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// ListKeys returns every stored key.
func (m *Medium) ListKeys(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT key FROM kv`)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var key string
		if err = rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// Update runs fn inside a transaction. It commits when fn returns nil and
// rolls back on error or panic; panics are rethrown.
func (m *Medium) Update(ctx context.Context, fn func(tx app.Txn) error) (err error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	err = fn(kv{db: tx})
	return err
}

// Close releases the underlying database handle.
func (m *Medium) Close() error { return m.db.Close() }

// DB exposes the handle so the metrics tables can share the vault database.
func (m *Medium) DB() *sql.DB { return m.db }
