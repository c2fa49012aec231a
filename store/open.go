// Package store selects the persistence backend named in the configuration.
package store

import (
	"context"
	"fmt"

	"github.com/warp/fuel-ledger/config"
	"github.com/warp/fuel-ledger/expense"
	"github.com/warp/fuel-ledger/fund"
	"github.com/warp/fuel-ledger/store/postgres"
	"github.com/warp/fuel-ledger/store/sqlite"
)

// Backend is implemented by both sqlite.Store and postgres.Store.
type Backend interface {
	fund.TxStore
	expense.ExpenseStore
	expense.BatchStore
	Ping(ctx context.Context) error
	Reset(ctx context.Context) error
	Close() error
}

var (
	_ Backend = (*sqlite.Store)(nil)
	_ Backend = (*postgres.Store)(nil)
)

// Open connects to the configured database and applies migrations.
func Open(ctx context.Context, cfg *config.Config) (Backend, error) {
	switch cfg.DBDriver {
	case config.DriverSQLite:
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverPostgres:
		s, err := postgres.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.DBDriver)
	}
}
