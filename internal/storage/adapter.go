// Package storage provides the per-project embedded store. Each project owns
// exactly one Adapter; adapters for different projects are fully independent.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/forgeline/gamekernel/internal/apperr"
)

type txMarker struct{}

// Adapter wraps one SQLite database file configured for serialized writes and
// concurrent reads (WAL).
type Adapter struct {
	db   *sqlx.DB
	path string
	log  zerolog.Logger

	// writeMu serializes transactions; SQLite allows a single writer.
	writeMu sync.Mutex

	closeMu sync.Mutex
	closed  bool
}

// Open opens (creating if needed) the database file at path. Parent
// directories are created as required.
func Open(path string, log zerolog.Logger) (*Adapter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	a := &Adapter{db: db, path: path, log: log}
	log.Debug().Str("path", path).Msg("database opened")
	return a, nil
}

// Path returns the database file path.
func (a *Adapter) Path() string { return a.path }

// Exec runs a single statement.
func (a *Adapter) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := a.db.ExecContext(ctx, query, args...)
	return res, mapErr(err)
}

// Query scans all rows into dest, which must be a pointer to a slice.
func (a *Adapter) Query(ctx context.Context, dest any, query string, args ...any) error {
	return mapErr(a.db.SelectContext(ctx, dest, query, args...))
}

// QueryOne scans a single row into dest. A missing row surfaces as
// sql.ErrNoRows for the caller to classify.
func (a *Adapter) QueryOne(ctx context.Context, dest any, query string, args ...any) error {
	return mapErr(a.db.GetContext(ctx, dest, query, args...))
}

// Tx is the handle passed to a Transaction body. Internal helpers that need
// to participate in an ongoing transaction accept a Tx rather than starting
// their own.
type Tx struct {
	tx *sqlx.Tx
}

func (t *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	return res, mapErr(err)
}

func (t *Tx) Query(ctx context.Context, dest any, query string, args ...any) error {
	return mapErr(t.tx.SelectContext(ctx, dest, query, args...))
}

func (t *Tx) QueryOne(ctx context.Context, dest any, query string, args ...any) error {
	return mapErr(t.tx.GetContext(ctx, dest, query, args...))
}

// Transaction runs fn inside a single database transaction, committing on nil
// return and rolling back on error or panic. It is not reentrant: calling
// Transaction from inside fn (the context carries the marker) fails with
// invalidState.
func (a *Adapter) Transaction(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	if ctx.Value(txMarker{}) != nil {
		return apperr.InvalidState("nested transaction")
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return mapErr(err)
	}

	inner := context.WithValue(ctx, txMarker{}, true)
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				a.log.Warn().Err(rbErr).Msg("transaction rollback failed")
			}
		}
	}()

	if err := fn(inner, &Tx{tx: tx}); err != nil {
		return mapErr(err)
	}
	if err := tx.Commit(); err != nil {
		return mapErr(err)
	}
	committed = true
	return nil
}

// Close releases the underlying connection pool. Safe to call twice.
func (a *Adapter) Close() error {
	a.closeMu.Lock()
	defer a.closeMu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.log.Debug().Str("path", a.path).Msg("database closed")
	return a.db.Close()
}

// mapErr classifies driver and context errors so handlers surface the right
// wire kind. Typed errors pass through untouched.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.Timeout("storage operation exceeded request deadline").Wrap(err)
	default:
		return err
	}
}
