/*
importer.go - Batch import of fuel expenses

PURPOSE:
  Importer.Import runs one BatchJob over one file:

    1. create the job (draft), or load the job to append to, then move it
       to processing
    2. parse the file; a missing column, an empty or unreadable file fails
       the whole job before any row is touched
    3. for each data row, in order:
         resolve card -> normalize -> hash -> dedup -> create expense
       and append exactly one BatchLine (done, skipped or error)
    4. count the lines and finish the job (done if no errors, else error)

  Cancellation and a line that cannot be stored stop the run; the job is
  still finished, in error, with the reason in its Log.

ROW ISOLATION:
  A row error, including a panic while handling the row, becomes an error
  line and processing continues with the next row. Rows already created
  stay created.

DEDUP:
  A row whose hash already exists for the company is skipped, not
  duplicated. The store's unique constraint backs the lookup: losing a race
  against a concurrent import of the same row also ends as a skip.

  Imported expenses are left in draft. Spending against the card happens
  when an expense is validated (validation.go), never on import.
*/
package expense

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/fuel-ledger/fund"
)

// ImportRequest is one uploaded file.
type ImportRequest struct {
	Filename  string
	Data      []byte
	CompanyID fund.CompanyID
	Actor     fund.Actor
	Name      string // defaults to the file name
	Note      string

	// BatchID, when set, appends this file to an existing job of the same
	// company instead of creating a new one. Line numbers continue after
	// the job's existing lines.
	BatchID BatchID
}

// Result is the finished job, the lines of this run and their aggregate.
// Job counts cover every line of the job, including earlier runs.
type Result struct {
	Job     BatchJob
	Lines   []BatchLine
	Summary Summary
}

// LineObserver is notified of every line as it is logged.
type LineObserver func(BatchLine)

type Importer struct {
	Cards    CardResolver
	Expenses ExpenseStore
	Batches  BatchStore
	Config   ImportConfig
	Logger   *slog.Logger
	Now      func() time.Time

	// OnLine, when set, is called after each line is stored.
	OnLine LineObserver
}

func NewImporter(cards CardResolver, expenses ExpenseStore, batches BatchStore, cfg ImportConfig, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{
		Cards:    cards,
		Expenses: expenses,
		Batches:  batches,
		Config:   cfg,
		Logger:   logger,
		Now:      time.Now,
	}
}

func (im *Importer) now() time.Time {
	if im.Now == nil {
		return time.Now().UTC()
	}
	return im.Now().UTC()
}

// Import runs a batch job. A schema failure returns the failed job in the
// Result together with a *SchemaError; row failures never produce an error
// here, they are reported through the lines. When the run stops early, on
// cancellation or because a line cannot be stored, the job is finished in
// error and the partial Result is returned with the error.
func (im *Importer) Import(ctx context.Context, req ImportRequest) (*Result, error) {
	if req.Actor == "" {
		return nil, fund.ErrMissingActor
	}

	job, prior, err := im.start(ctx, req)
	if err != nil {
		return nil, err
	}

	log := im.Logger.With("batch_id", job.ID, "company_id", job.CompanyID, "file", req.Filename)
	log.InfoContext(ctx, "import started", "bytes", len(req.Data), "existing_lines", len(prior))

	table, err := ParseTable(req.Filename, req.Data, im.Config.RequiredColumns())
	if err != nil {
		job.Log = err.Error()
		log.WarnContext(ctx, "import rejected", "error", err)
		return im.complete(ctx, &job, prior, nil, err)
	}

	var lines []BatchLine
	for i, row := range table.Rows {
		if err := ctx.Err(); err != nil {
			job.Log = fmt.Sprintf("interrupted after %d of %d rows: %v", i, len(table.Rows), err)
			log.WarnContext(ctx, "import interrupted", "rows_done", i, "error", err)
			return im.complete(ctx, &job, prior, lines, err)
		}

		line := im.processRow(ctx, job, len(prior)+i+1, row)
		line.CreatedAt = im.now()
		if err := im.Batches.AppendLine(ctx, line); err != nil {
			err = fmt.Errorf("append line %d: %w", line.Sequence, err)
			job.Log = fmt.Sprintf("stopped after %d of %d rows: %v", i, len(table.Rows), err)
			log.ErrorContext(ctx, "import aborted", "error", err)
			return im.complete(ctx, &job, prior, lines, err)
		}
		lines = append(lines, line)
		if im.OnLine != nil {
			im.OnLine(line)
		}
	}

	res, err := im.complete(ctx, &job, prior, lines, nil)
	if err != nil {
		return res, err
	}
	log.InfoContext(ctx, "import finished",
		"state", job.State, "created", res.Summary.Created,
		"skipped", res.Summary.Skipped, "errors", res.Summary.Errors)
	return res, nil
}

// start creates a draft job, or loads the job named by req.BatchID, and
// moves it to processing. The conditional state write makes sure only one
// run holds a job at a time.
func (im *Importer) start(ctx context.Context, req ImportRequest) (BatchJob, []BatchLine, error) {
	now := im.now()
	var (
		job   BatchJob
		prior []BatchLine
	)

	if req.BatchID == "" {
		job = BatchJob{
			ID:        BatchID(uuid.NewString()),
			Name:      req.Name,
			Filename:  req.Filename,
			CompanyID: req.CompanyID,
			CreatedBy: req.Actor,
			Note:      req.Note,
			State:     BatchDraft,
			CreatedAt: now,
		}
		if job.Name == "" {
			job.Name = "Import " + req.Filename
		}
		if err := im.Batches.CreateBatch(ctx, job); err != nil {
			return BatchJob{}, nil, fmt.Errorf("create batch: %w", err)
		}
	} else {
		var err error
		job, err = im.Batches.GetBatch(ctx, req.BatchID)
		if err != nil {
			return BatchJob{}, nil, err
		}
		if req.CompanyID != "" && req.CompanyID != job.CompanyID {
			return BatchJob{}, nil, fmt.Errorf("%w: %s", ErrBatchNotFound, req.BatchID)
		}
		if job.State == BatchProcessing {
			return BatchJob{}, nil, BatchConflict(job.ID, job.State)
		}
		if prior, err = im.Batches.ListLines(ctx, job.ID); err != nil {
			return BatchJob{}, nil, fmt.Errorf("list lines: %w", err)
		}
		job.Filename = req.Filename
		if req.Note != "" {
			job.Note = req.Note
		}
	}

	from := job.State
	job.State = BatchProcessing
	job.StartedAt = &now
	job.FinishedAt = nil
	job.Log = ""
	if err := im.Batches.UpdateBatch(ctx, job, from); err != nil {
		return BatchJob{}, nil, fmt.Errorf("start batch: %w", err)
	}
	return job, prior, nil
}

// complete finishes the job from the lines of this run and those it
// already had. The job state reflects this run only: error when a line
// failed or job.Log records a job-level failure, done otherwise. cause is
// returned alongside the Result when the run did not get through the file.
func (im *Importer) complete(ctx context.Context, job *BatchJob, prior, lines []BatchLine, cause error) (*Result, error) {
	run := Summarize(lines)
	state := run.FinalState()
	if job.Log != "" {
		state = BatchError
	}

	total := Summarize(slices.Concat(prior, lines))
	if err := im.finish(context.WithoutCancel(ctx), job, total, state); err != nil {
		im.Logger.ErrorContext(ctx, "finish batch failed", "batch_id", job.ID, "error", err)
		cause = errors.Join(cause, fmt.Errorf("finish batch: %w", err))
	}
	return &Result{Job: *job, Lines: lines, Summary: run}, cause
}

func (im *Importer) finish(ctx context.Context, job *BatchJob, s Summary, state BatchState) error {
	s.apply(job)
	job.State = state
	finished := im.now()
	job.FinishedAt = &finished
	return im.Batches.UpdateBatch(ctx, *job, BatchProcessing)
}

// =============================================================================
// ROW PROCESSING
// =============================================================================

// processRow never returns an error: every outcome is a line.
func (im *Importer) processRow(ctx context.Context, job BatchJob, seq int, row Row) (line BatchLine) {
	line = BatchLine{BatchID: job.ID, Sequence: seq}
	defer func() {
		if r := recover(); r != nil {
			im.Logger.ErrorContext(ctx, "row handling panicked", "batch_id", job.ID, "row", seq, "panic", r)
			line.State = LineError
			line.Message = fmt.Sprintf("row %d: internal error: %v", seq, r)
			line.ExpenseID = ""
		}
	}()

	rec, err := im.buildRecord(ctx, job, seq, row)
	if err != nil {
		line.State = LineError
		line.Message = err.Error()
		return line
	}
	line.DedupHash = rec.DedupHash

	if existing, err := im.Expenses.FindExpenseByHash(ctx, job.CompanyID, rec.DedupHash); err == nil {
		return skippedLine(line, existing)
	} else if !errors.Is(err, ErrExpenseNotFound) {
		line.State = LineError
		line.Message = (&RowError{Row: seq, Err: err}).Error()
		return line
	}

	if err := im.Expenses.CreateExpense(ctx, rec); err != nil {
		if errors.Is(err, ErrDuplicateHash) {
			existing, ferr := im.Expenses.FindExpenseByHash(ctx, job.CompanyID, rec.DedupHash)
			if ferr == nil {
				return skippedLine(line, existing)
			}
		}
		line.State = LineError
		line.Message = (&RowError{Row: seq, Err: err}).Error()
		return line
	}

	line.State = LineDone
	line.ExpenseID = rec.ID
	line.Message = fmt.Sprintf("Created expense %s", rec.ID)
	return line
}

func skippedLine(line BatchLine, existing ExpenseRecord) BatchLine {
	line.State = LineSkipped
	line.ExpenseID = existing.ID
	line.Message = fmt.Sprintf("Duplicate of expense %s", existing.ID)
	return line
}

// buildRecord resolves the card, then normalizes the row's values.
func (im *Importer) buildRecord(ctx context.Context, job BatchJob, seq int, row Row) (ExpenseRecord, error) {
	cfg := im.Config
	cardCol := normalizeHeader(cfg.CardColumn)

	uid := row.Get(cardCol)
	if uid == "" {
		return ExpenseRecord{}, &RowError{Row: seq, Column: cardCol, Err: errors.New("card number is empty")}
	}
	card, err := im.Cards.FindAccountByUID(ctx, job.CompanyID, uid)
	if err != nil {
		if errors.Is(err, fund.ErrAccountNotFound) {
			return ExpenseRecord{}, &RowError{Row: seq, Column: cardCol, Err: fmt.Errorf("card %s not found", uid)}
		}
		return ExpenseRecord{}, &RowError{Row: seq, Err: err}
	}

	dateCol := normalizeHeader(cfg.DateColumn)
	date, err := ParseDate(row.Get(dateCol), cfg.DateLayouts)
	if err != nil {
		return ExpenseRecord{}, &RowError{Row: seq, Column: dateCol, Err: err}
	}

	amountCol := normalizeHeader(cfg.AmountColumn)
	amount, err := ParseDecimal(row.Get(amountCol))
	if err != nil {
		return ExpenseRecord{}, &RowError{Row: seq, Column: amountCol, Err: err}
	}
	if !amount.IsPositive() {
		return ExpenseRecord{}, &RowError{Row: seq, Column: amountCol, Err: fmt.Errorf("amount must be positive, got %s", amount)}
	}

	qtyCol := normalizeHeader(cfg.QuantityColumn)
	qty, err := optionalDecimal(row.Get(qtyCol))
	if err != nil {
		return ExpenseRecord{}, &RowError{Row: seq, Column: qtyCol, Err: err}
	}
	if qty.IsNegative() {
		return ExpenseRecord{}, &RowError{Row: seq, Column: qtyCol, Err: fmt.Errorf("quantity cannot be negative")}
	}

	rec := ExpenseRecord{
		ID:          ExpenseID(uuid.NewString()),
		CardID:      card.ID,
		CardUID:     card.CardUID,
		CompanyID:   job.CompanyID,
		Currency:    card.Currency,
		ExpenseDate: date,
		Amount:      amount,
		Quantity:    qty,
		StationName: row.Get(colStation...),
		Notes:       row.Get(colNotes...),
		DedupHash:   DedupHash(card.ID, date, amount, qty),
		BatchID:     job.ID,
		State:       ExpenseDraft,
		CreatedAt:   im.now(),
	}

	if raw := row.Get(colOdometer...); raw != "" {
		odo, err := ParseDecimal(raw)
		if err != nil {
			return ExpenseRecord{}, &RowError{Row: seq, Column: colOdometer[0], Err: err}
		}
		if odo.IsNegative() {
			return ExpenseRecord{}, &RowError{Row: seq, Column: colOdometer[0], Err: fmt.Errorf("odometer cannot be negative")}
		}
		rec.Odometer = &odo
	}

	if raw := row.Get(colReceipt...); raw != "" {
		receipt, err := DecodeReceipt(raw)
		if err != nil {
			return ExpenseRecord{}, &RowError{Row: seq, Column: colReceipt[0], Err: err}
		}
		rec.Receipt = receipt
		rec.ReceiptFilename = receiptFilename(row.Get(colFilename...), card.CardUID, date)
	}
	return rec, nil
}

// optionalDecimal treats an empty cell as zero.
func optionalDecimal(raw string) (decimal.Decimal, error) {
	d, err := ParseDecimal(raw)
	if errors.Is(err, errEmptyValue) {
		return decimal.Zero, nil
	}
	return d, err
}

func receiptFilename(given, cardUID string, date time.Time) string {
	if name := filepath.Base(strings.TrimSpace(given)); given != "" && name != "." && name != "/" {
		return name
	}
	return fmt.Sprintf("receipt_%s_%s.bin", cardUID, date.Format(time.DateOnly))
}
