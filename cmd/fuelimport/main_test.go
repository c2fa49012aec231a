package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fuel-ledger/config"
	"github.com/warp/fuel-ledger/expense"
	"github.com/warp/fuel-ledger/fund"
	"github.com/warp/fuel-ledger/store/sqlite"
)

func setup(t *testing.T) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		DBDriver:   config.DriverSQLite,
		SQLitePath: filepath.Join(dir, "fuel.db"),
	}

	s, err := sqlite.New(cfg.SQLitePath)
	require.NoError(t, err)
	_, err = fund.NewCardService(s, nil).Create(context.Background(), fund.NewCard{
		CardUID:        "7001",
		CompanyID:      "acme",
		OpeningBalance: decimal.NewFromInt(100),
	}, "admin")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	return cfg, dir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRun_ReportsEveryRow(t *testing.T) {
	// GIVEN: A database with one card and a file with one bad row
	cfg, dir := setup(t)
	path := writeFile(t, dir, "may.csv",
		"card_uid,expense_date,amount,liter_qty\n7001,2026-05-02,10,5\n7002,2026-05-02,10,5\n")
	var out bytes.Buffer

	// WHEN: The file is imported
	code := run(context.Background(), cfg, quietLogger(), &out, expense.ImportRequest{
		Filename:  "may.csv",
		CompanyID: "acme",
		Actor:     "tester",
	}, path)

	// THEN: The exit status flags the failed row and both rows are listed
	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), "Import finished with errors: 1 created, 0 skipped, 1 errors")
	assert.Contains(t, out.String(), "card 7002 not found")

	// WHEN: The same file is imported again
	out.Reset()
	code = run(context.Background(), cfg, quietLogger(), &out, expense.ImportRequest{
		Filename:  "may.csv",
		CompanyID: "acme",
		Actor:     "tester",
	}, path)

	// THEN: The good row is skipped as a duplicate
	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), "0 created, 1 skipped, 1 errors")
}

func TestRun_CleanImportExitsZero(t *testing.T) {
	cfg, dir := setup(t)
	path := writeFile(t, dir, "ok.csv", "card_uid,expense_date,amount,liter_qty\n7001,2026-05-02,10,5\n")
	var out bytes.Buffer

	code := run(context.Background(), cfg, quietLogger(), &out, expense.ImportRequest{
		Filename:  "ok.csv",
		CompanyID: "acme",
		Actor:     "tester",
	}, path)

	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "Import succeeded: 1 created")
}

func TestRun_RefusedFile(t *testing.T) {
	cfg, dir := setup(t)
	path := writeFile(t, dir, "bad.csv", "card_uid,amount\n7001,10\n")
	var out bytes.Buffer

	code := run(context.Background(), cfg, quietLogger(), &out, expense.ImportRequest{
		Filename:  "bad.csv",
		CompanyID: "acme",
		Actor:     "tester",
	}, path)

	assert.Equal(t, 2, code)
	assert.Contains(t, out.String(), "missing required columns")
}

func TestRun_MissingFile(t *testing.T) {
	cfg, dir := setup(t)

	code := run(context.Background(), cfg, quietLogger(), io.Discard, expense.ImportRequest{
		Filename:  "nope.csv",
		CompanyID: "acme",
		Actor:     "tester",
	}, filepath.Join(dir, "nope.csv"))

	assert.Equal(t, 2, code)
}
