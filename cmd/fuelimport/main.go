/*
main.go - One-shot expense import

PURPOSE:
  Imports one CSV/XLSX station export into the configured store without
  running the HTTP server, then prints the summary banner and one line per
  row. Uses the same configuration as cmd/server.

COMMAND-LINE FLAGS:
  -file     Path to the .csv or .xlsx file (required)
  -company  Company the cards belong to (required)
  -actor    Name recorded on the batch (default: $USER)
  -note     Free text stored on the batch
  -batch    Existing batch to append the rows to
  -db       SQLite database path (overrides SQLITE_PATH)

EXIT STATUS:
  0  every row was created or skipped as a duplicate
  1  the file was read but at least one row failed
  2  the file was refused, the import could not run or it stopped part way

EXAMPLE:
  ./fuelimport -company=acme -file=./exports/may.csv
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/warp/fuel-ledger/config"
	"github.com/warp/fuel-ledger/expense"
	"github.com/warp/fuel-ledger/fund"
	"github.com/warp/fuel-ledger/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(2)
	}

	file := flag.String("file", "", "file to import (.csv or .xlsx)")
	company := flag.String("company", "", "company id")
	actor := flag.String("actor", os.Getenv("USER"), "actor recorded on the batch")
	note := flag.String("note", "", "note stored on the batch")
	batch := flag.String("batch", "", "existing batch id to append to")
	dbPath := flag.String("db", cfg.SQLitePath, "SQLite database path")
	flag.Parse()
	cfg.SQLitePath = *dbPath

	if *file == "" || *company == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *actor == "" {
		*actor = "cli"
	}

	// Progress goes to stderr; the report goes to stdout.
	logger := cfg.NewLogger(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, cfg, logger, os.Stdout, expense.ImportRequest{
		Filename:  filepath.Base(*file),
		CompanyID: fund.CompanyID(*company),
		Actor:     fund.Actor(*actor),
		Note:      *note,
		BatchID:   expense.BatchID(*batch),
	}, *file)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer, req expense.ImportRequest, path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("cannot read file", "path", path, "error", err)
		return 2
	}
	req.Data = data

	db, err := store.Open(ctx, cfg)
	if err != nil {
		logger.Error("cannot open database", "error", err)
		return 2
	}
	defer db.Close()

	importer := expense.NewImporter(db, db, db, cfg.Import(), logger)
	res, err := importer.Import(ctx, req)
	switch {
	case err != nil && res == nil:
		logger.Error("import failed", "error", err)
		return 2
	case errors.Is(err, expense.ErrValidation):
		fmt.Fprintf(out, "Import refused (batch %s): %v\n", res.Job.ID, err)
		return 2
	case err != nil:
		fmt.Fprintf(out, "Import stopped (batch %s): %v\n", res.Job.ID, err)
		report(out, res)
		return 2
	}

	report(out, res)
	if res.Job.State == expense.BatchError {
		return 1
	}
	return 0
}

func report(out io.Writer, res *expense.Result) {
	fmt.Fprintf(out, "%s\nbatch %s\n\n", res.Summary.Banner(), res.Job.ID)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROW\tSTATE\tEXPENSE\tMESSAGE")
	for _, l := range res.Lines {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", l.Sequence, l.State, l.ExpenseID, l.Message)
	}
	tw.Flush()
}
