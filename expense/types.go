/*
Package expense imports fuel expenses from spreadsheet exports.

PURPOSE:
  Station and card-provider exports arrive as CSV or XLSX. A BatchJob
  reads one file, turns each row into an ExpenseRecord in draft state, and
  logs one BatchLine per row saying what happened to it. A row that fails
  never stops the rows after it.

KEY CONCEPTS:
  ExpenseRecord: one fuel purchase on a card
  DedupHash:     fingerprint of (card, date, amount, quantity) used to skip
                 rows already imported
  BatchJob:      one import run and its aggregate counts
  BatchLine:     per-row outcome (done, skipped, error)

IMPORT FLOW:
  parse file ──▶ check required columns ──▶ for each row:
     resolve card ──▶ normalize values ──▶ hash ──▶ dedup ──▶ create
  then count the lines and finish the job.

SEE ALSO:
  - importer.go:   the batch job runner
  - parse.go:      CSV/XLSX table reader
  - normalize.go:  locale-tolerant number and date parsing
  - validation.go: draft -> validated, which spends on the card
*/
package expense

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/fuel-ledger/fund"
)

type ExpenseID string
type BatchID string

// =============================================================================
// EXPENSE RECORD
// =============================================================================

type ExpenseState string

const (
	ExpenseDraft     ExpenseState = "draft"
	ExpenseValidated ExpenseState = "validated"
	ExpenseRejected  ExpenseState = "rejected"
)

type ExpenseRecord struct {
	ID        ExpenseID
	CardID    fund.CardID
	CardUID   string
	CompanyID fund.CompanyID
	Currency  string

	ExpenseDate time.Time
	Amount      decimal.Decimal
	Quantity    decimal.Decimal  // liters
	Odometer    *decimal.Decimal // km, optional
	StationName string
	Notes       string

	// DedupHash is unique per company.
	DedupHash string

	Receipt         []byte
	ReceiptFilename string

	BatchID BatchID // empty for manually entered expenses

	State           ExpenseState
	ValidatedBy     *fund.Actor
	ValidatedAt     *time.Time
	RejectionReason string

	CreatedAt time.Time
}

// PricePerUnit is amount / quantity, or zero when no quantity was recorded.
func (e ExpenseRecord) PricePerUnit() decimal.Decimal {
	if e.Quantity.IsZero() {
		return decimal.Zero
	}
	return e.Amount.DivRound(e.Quantity, 4)
}

// =============================================================================
// BATCH JOB
// =============================================================================

type BatchState string

const (
	BatchDraft      BatchState = "draft"
	BatchProcessing BatchState = "processing"
	BatchDone       BatchState = "done"
	BatchError      BatchState = "error"
)

// BatchJob is one import run. The counts are derived from its lines when
// the job finishes.
type BatchJob struct {
	ID        BatchID
	Name      string
	Filename  string
	CompanyID fund.CompanyID
	CreatedBy fund.Actor
	Note      string
	State     BatchState

	StartedAt  *time.Time
	FinishedAt *time.Time

	LineCount    int
	SuccessCount int
	SkippedCount int
	ErrorCount   int

	// Log holds a job-level failure message, such as a schema error.
	Log string

	CreatedAt time.Time
}

type LineState string

const (
	LineDone    LineState = "done"
	LineSkipped LineState = "skipped"
	LineError   LineState = "error"
)

// BatchLine is the outcome of one data row. Sequence starts at 1 with the
// first row after the header.
type BatchLine struct {
	BatchID   BatchID
	Sequence  int
	State     LineState
	Message   string
	ExpenseID ExpenseID // set for done and skipped lines
	DedupHash string
	CreatedAt time.Time
}
