/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

INTERFACES IMPLEMENTED:
  fund.TxStore:         card accounts, recharge requests, audit log
  expense.ExpenseStore: imported expenses
  expense.BatchStore:   import batches and their lines

KEY TABLES:
  card_accounts:     cards with balance and pending (decimal TEXT)
  recharge_requests: top-up workflow records
  audit_entries:     append-only who-did-what-when
  expenses:          unique on (company_id, dedup_hash)
  expense_batches:   one row per import run
  batch_lines:       one row per imported data row, keyed (batch_id, sequence)

CONCURRENCY:
  The database is opened with a single connection and every write
  transaction starts with BEGIN IMMEDIATE, so a MutateAccount
  read-modify-write cannot interleave with another one. A mutex serializes
  transactions inside the process as well.

MIGRATIONS:
  Versioned SQL files under migrations/ are embedded and applied with
  golang-migrate on New().

USAGE:
  store, err := sqlite.New("./data/fuel.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := fund.NewLedger(store)

SEE ALSO:
  - fund/store.go, expense/store.go: interface contracts
  - store/postgres: the same interfaces on PostgreSQL
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/mattn/go-sqlite3"

	"github.com/warp/fuel-ledger/expense"
	"github.com/warp/fuel-ledger/fund"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds every statement. Bound to the DB it serves plain calls;
// bound to a Tx it is the Store handed to WithTx callbacks.
type queries struct {
	q querier
}

var (
	_ fund.TxStore         = (*Store)(nil)
	_ fund.Store           = (*queries)(nil)
	_ expense.ExpenseStore = (*Store)(nil)
	_ expense.BatchStore   = (*Store)(nil)
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	*queries
	db *sql.DB
	mu sync.Mutex
}

// New opens (or creates) the database at dbPath and applies migrations.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: an in-memory database exists per connection, and
	// SQLite has a single writer anyway.
	db.SetMaxOpenConns(1)

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{queries: &queries{q: db}, db: db}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return err
	}
	// m.Close would close db as well; the Store owns it.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// =============================================================================
// TRANSACTIONS (fund.TxStore)
// =============================================================================

// WithTx executes fn within a database transaction. Every read and write fn
// makes through the given Store uses that transaction.
func (s *Store) WithTx(ctx context.Context, fn func(fund.Store) error) error {
	return s.inTx(ctx, func(q *queries) error { return fn(q) })
}

// MutateAccount wraps the read-modify-write in its own transaction.
func (s *Store) MutateAccount(ctx context.Context, id fund.CardID, fn fund.AccountMutation) (fund.CardAccount, error) {
	var out fund.CardAccount
	err := s.inTx(ctx, func(q *queries) error {
		var err error
		out, err = q.MutateAccount(ctx, id, fn)
		return err
	})
	return out, err
}

func (s *Store) inTx(ctx context.Context, fn func(*queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&queries{q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// Reset clears all data (for demos).
func (s *Store) Reset(ctx context.Context) error {
	return s.inTx(ctx, func(q *queries) error {
		for _, table := range []string{
			"batch_lines", "expenses", "expense_batches",
			"audit_entries", "recharge_requests", "card_accounts",
		} {
			if _, err := q.q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return err
			}
		}
		return nil
	})
}

// =============================================================================
// HELPERS
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
