/*
store.go - Persistence interfaces for expenses and import batches

DEDUP CONTRACT:
  CreateExpense must reject a second expense with the same
  (CompanyID, DedupHash) with ErrDuplicateHash. The importer looks the hash
  up first; the unique constraint is what keeps two concurrent imports of
  the same file from both creating the row.

BATCH LINES:
  AppendLine assigns nothing: the importer numbers lines itself.
  ListLines returns lines in Sequence order.

IMPLEMENTATIONS:
  - expense/store/memory.go
  - store/sqlite/sqlite.go
  - store/postgres/postgres.go
*/
package expense

import (
	"context"

	"github.com/warp/fuel-ledger/fund"
)

// CardResolver resolves the card number printed on an export row.
type CardResolver interface {
	FindAccountByUID(ctx context.Context, company fund.CompanyID, cardUID string) (fund.CardAccount, error)
}

type ExpenseStore interface {
	CreateExpense(ctx context.Context, e ExpenseRecord) error
	GetExpense(ctx context.Context, id ExpenseID) (ExpenseRecord, error)
	FindExpenseByHash(ctx context.Context, company fund.CompanyID, hash string) (ExpenseRecord, error)
	ListExpenses(ctx context.Context, filter ExpenseFilter) ([]ExpenseRecord, error)

	// UpdateExpenseState persists State, ValidatedBy, ValidatedAt and
	// RejectionReason, but only while the stored state is still from.
	// Otherwise it fails with ErrInvalidExpenseTransition. Other fields are
	// immutable after creation.
	UpdateExpenseState(ctx context.Context, e ExpenseRecord, from ExpenseState) error
}

type ExpenseFilter struct {
	CompanyID *fund.CompanyID
	CardID    *fund.CardID
	BatchID   *BatchID
	States    []ExpenseState
}

func (f ExpenseFilter) Matches(e ExpenseRecord) bool {
	if f.CompanyID != nil && e.CompanyID != *f.CompanyID {
		return false
	}
	if f.CardID != nil && e.CardID != *f.CardID {
		return false
	}
	if f.BatchID != nil && e.BatchID != *f.BatchID {
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	for _, s := range f.States {
		if e.State == s {
			return true
		}
	}
	return false
}

type BatchStore interface {
	CreateBatch(ctx context.Context, b BatchJob) error
	// UpdateBatch replaces the job only while its stored state is still
	// from, failing with ErrBatchConflict otherwise.
	UpdateBatch(ctx context.Context, b BatchJob, from BatchState) error
	GetBatch(ctx context.Context, id BatchID) (BatchJob, error)
	ListBatches(ctx context.Context, filter BatchFilter) ([]BatchJob, error)

	AppendLine(ctx context.Context, l BatchLine) error
	ListLines(ctx context.Context, id BatchID) ([]BatchLine, error)
}

type BatchFilter struct {
	CompanyID *fund.CompanyID
	States    []BatchState
}

func (f BatchFilter) Matches(b BatchJob) bool {
	if f.CompanyID != nil && b.CompanyID != *f.CompanyID {
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	for _, s := range f.States {
		if b.State == s {
			return true
		}
	}
	return false
}
