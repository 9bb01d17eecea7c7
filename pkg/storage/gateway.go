// Package storage is the persistence gateway: a single WithTx primitive
// that opens a transaction, hands the caller a typed handle for the
// rows in spec.md §6, and commits or rolls back atomically. Grounded on
// Klingon-tech-klingdex's SQLite storage layer, generalized from a
// peer/swap schema to VegaExchange's balance/symbol/pool/order/trade
// schema.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/davidting0918/vegaexchange/pkg/vegaerr"
)

// Gateway owns the database handle and bootstraps the schema on open.
type Gateway struct {
	db *sql.DB
}

// Open creates (or opens) a SQLite database at path and ensures the
// schema exists. WAL mode and a single-writer connection pool match the
// teacher's storage idiom for SQLite.
func Open(path string) (*Gateway, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite supports a single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	g := &Gateway{db: db}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return g, nil
}

// Close closes the underlying database connection.
func (g *Gateway) Close() error { return g.db.Close() }

// DB exposes the raw connection for read-only snapshot queries that
// don't need transactional semantics (symbol/position listings).
func (g *Gateway) DB() *sql.DB { return g.db }

// WithTx opens a transaction, runs f with a Tx handle, and commits on
// success or rolls back on any error f returns. No partial state is
// ever visible to other callers (spec.md §4.3).
func (g *Gateway) WithTx(ctx context.Context, f func(tx *Tx) error) error {
	sqlTx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return vegaerr.StorageError(err)
	}

	tx := &Tx{tx: sqlTx}
	if err := f(tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return vegaerr.StorageError(fmt.Errorf("rollback after %w: %v", err, rbErr))
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return vegaerr.StorageError(err)
	}
	return nil
}

// Tx is the typed handle passed to WithTx callbacks.
type Tx struct {
	tx *sql.Tx
}
