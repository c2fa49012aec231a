package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/fuel-ledger/expense"
	"github.com/warp/fuel-ledger/fund"
)

// =============================================================================
// EXPENSES (expense.ExpenseStore)
// =============================================================================

const expenseColumns = `id, card_id, card_uid, company_id, currency, expense_date, amount::text,
	quantity::text, odometer::text, station_name, notes, dedup_hash, receipt, receipt_filename,
	batch_id, state, validated_by, validated_at, rejection_reason, created_at`

func (q *queries) CreateExpense(ctx context.Context, e expense.ExpenseRecord) error {
	var odometer *string
	if e.Odometer != nil {
		s := e.Odometer.String()
		odometer = &s
	}
	_, err := q.q.Exec(ctx, `
		INSERT INTO expenses (id, card_id, card_uid, company_id, currency, expense_date, amount,
			quantity, odometer, station_name, notes, dedup_hash, receipt, receipt_filename,
			batch_id, state, validated_by, validated_at, rejection_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		string(e.ID), string(e.CardID), e.CardUID, string(e.CompanyID), e.Currency, e.ExpenseDate,
		e.Amount.String(), e.Quantity.String(), odometer, e.StationName, e.Notes, e.DedupHash,
		e.Receipt, e.ReceiptFilename, nullable(string(e.BatchID)), string(e.State),
		actorArg(e.ValidatedBy), e.ValidatedAt, e.RejectionReason, e.CreatedAt,
	)
	if isUniqueViolation(err) {
		return expense.ErrDuplicateHash
	}
	return err
}

func (q *queries) GetExpense(ctx context.Context, id expense.ExpenseID) (expense.ExpenseRecord, error) {
	row := q.q.QueryRow(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE id = $1`, string(id))
	return scanExpense(row)
}

func (q *queries) FindExpenseByHash(ctx context.Context, company fund.CompanyID, hash string) (expense.ExpenseRecord, error) {
	row := q.q.QueryRow(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE company_id = $1 AND dedup_hash = $2`,
		string(company), hash)
	return scanExpense(row)
}

func (q *queries) ListExpenses(ctx context.Context, filter expense.ExpenseFilter) ([]expense.ExpenseRecord, error) {
	var w where
	if filter.CompanyID != nil {
		w.eq("company_id", string(*filter.CompanyID))
	}
	if filter.CardID != nil {
		w.eq("card_id", string(*filter.CardID))
	}
	if filter.BatchID != nil {
		w.eq("batch_id", string(*filter.BatchID))
	}
	w.in("state", strs(filter.States))

	rows, err := q.q.Query(ctx, `SELECT `+expenseColumns+` FROM expenses`+w.String()+` ORDER BY seq`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []expense.ExpenseRecord
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (q *queries) UpdateExpenseState(ctx context.Context, e expense.ExpenseRecord, from expense.ExpenseState) error {
	tag, err := q.q.Exec(ctx, `
		UPDATE expenses
		SET state = $1, validated_by = $2, validated_at = $3, rejection_reason = $4
		WHERE id = $5 AND state = $6`,
		string(e.State), actorArg(e.ValidatedBy), e.ValidatedAt, e.RejectionReason, string(e.ID), string(from),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		cur, err := q.GetExpense(ctx, e.ID)
		if err != nil {
			return err
		}
		return expense.StateConflict(e.ID, cur.State, from)
	}
	return nil
}

func scanExpense(row pgx.Row) (expense.ExpenseRecord, error) {
	var (
		e                            expense.ExpenseRecord
		id, card, company, state     string
		amount, qty                  string
		odometer, batchID, validated *string
	)
	err := row.Scan(&id, &card, &e.CardUID, &company, &e.Currency, &e.ExpenseDate, &amount, &qty,
		&odometer, &e.StationName, &e.Notes, &e.DedupHash, &e.Receipt, &e.ReceiptFilename,
		&batchID, &state, &validated, &e.ValidatedAt, &e.RejectionReason, &e.CreatedAt)
	if err != nil {
		return expense.ExpenseRecord{}, notFound(err, expense.ErrExpenseNotFound)
	}
	e.ID = expense.ExpenseID(id)
	e.CardID = fund.CardID(card)
	e.CompanyID = fund.CompanyID(company)
	e.State = expense.ExpenseState(state)
	e.ValidatedBy = actorOf(validated)
	if batchID != nil {
		e.BatchID = expense.BatchID(*batchID)
	}
	e.ExpenseDate = time.Date(e.ExpenseDate.Year(), e.ExpenseDate.Month(), e.ExpenseDate.Day(), 0, 0, 0, 0, time.UTC)

	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return expense.ExpenseRecord{}, fmt.Errorf("expense %s amount: %w", e.ID, err)
	}
	if e.Quantity, err = decimal.NewFromString(qty); err != nil {
		return expense.ExpenseRecord{}, fmt.Errorf("expense %s quantity: %w", e.ID, err)
	}
	if odometer != nil {
		odo, err := decimal.NewFromString(*odometer)
		if err != nil {
			return expense.ExpenseRecord{}, fmt.Errorf("expense %s odometer: %w", e.ID, err)
		}
		e.Odometer = &odo
	}
	return e, nil
}

// =============================================================================
// IMPORT BATCHES (expense.BatchStore)
// =============================================================================

const batchColumns = `id, name, filename, company_id, created_by, note, state, started_at, finished_at,
	line_count, success_count, skipped_count, error_count, log, created_at`

func (q *queries) CreateBatch(ctx context.Context, b expense.BatchJob) error {
	_, err := q.q.Exec(ctx, `
		INSERT INTO expense_batches (`+batchColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		string(b.ID), b.Name, b.Filename, string(b.CompanyID), string(b.CreatedBy), b.Note, string(b.State),
		b.StartedAt, b.FinishedAt, b.LineCount, b.SuccessCount, b.SkippedCount, b.ErrorCount,
		b.Log, b.CreatedAt,
	)
	return err
}

func (q *queries) UpdateBatch(ctx context.Context, b expense.BatchJob, from expense.BatchState) error {
	tag, err := q.q.Exec(ctx, `
		UPDATE expense_batches
		SET filename = $1, note = $2, state = $3, started_at = $4, finished_at = $5, line_count = $6,
		    success_count = $7, skipped_count = $8, error_count = $9, log = $10
		WHERE id = $11 AND state = $12`,
		b.Filename, b.Note, string(b.State), b.StartedAt, b.FinishedAt, b.LineCount,
		b.SuccessCount, b.SkippedCount, b.ErrorCount, b.Log, string(b.ID), string(from),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		cur, err := q.GetBatch(ctx, b.ID)
		if err != nil {
			return err
		}
		return expense.BatchConflict(b.ID, cur.State)
	}
	return nil
}

func (q *queries) GetBatch(ctx context.Context, id expense.BatchID) (expense.BatchJob, error) {
	row := q.q.QueryRow(ctx, `SELECT `+batchColumns+` FROM expense_batches WHERE id = $1`, string(id))
	return scanBatch(row)
}

func (q *queries) ListBatches(ctx context.Context, filter expense.BatchFilter) ([]expense.BatchJob, error) {
	var w where
	if filter.CompanyID != nil {
		w.eq("company_id", string(*filter.CompanyID))
	}
	w.in("state", strs(filter.States))

	rows, err := q.q.Query(ctx,
		`SELECT `+batchColumns+` FROM expense_batches`+w.String()+` ORDER BY created_at DESC`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []expense.BatchJob
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBatch(row pgx.Row) (expense.BatchJob, error) {
	var (
		b                         expense.BatchJob
		id, company, actor, state string
	)
	err := row.Scan(&id, &b.Name, &b.Filename, &company, &actor, &b.Note, &state,
		&b.StartedAt, &b.FinishedAt, &b.LineCount, &b.SuccessCount, &b.SkippedCount, &b.ErrorCount,
		&b.Log, &b.CreatedAt)
	if err != nil {
		return expense.BatchJob{}, notFound(err, expense.ErrBatchNotFound)
	}
	b.ID = expense.BatchID(id)
	b.CompanyID = fund.CompanyID(company)
	b.CreatedBy = fund.Actor(actor)
	b.State = expense.BatchState(state)
	return b, nil
}

func (q *queries) AppendLine(ctx context.Context, l expense.BatchLine) error {
	_, err := q.q.Exec(ctx, `
		INSERT INTO batch_lines (batch_id, sequence, state, message, expense_id, dedup_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(l.BatchID), l.Sequence, string(l.State), l.Message,
		nullable(string(l.ExpenseID)), l.DedupHash, l.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("batch %s line %d already logged: %w", l.BatchID, l.Sequence, err)
	}
	return err
}

func (q *queries) ListLines(ctx context.Context, id expense.BatchID) ([]expense.BatchLine, error) {
	if _, err := q.GetBatch(ctx, id); err != nil {
		return nil, err
	}
	rows, err := q.q.Query(ctx, `
		SELECT sequence, state, message, expense_id, dedup_hash, created_at
		FROM batch_lines WHERE batch_id = $1 ORDER BY sequence`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []expense.BatchLine
	for rows.Next() {
		var (
			l         expense.BatchLine
			state     string
			expenseID *string
		)
		if err := rows.Scan(&l.Sequence, &state, &l.Message, &expenseID, &l.DedupHash, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.BatchID = id
		l.State = expense.LineState(state)
		if expenseID != nil {
			l.ExpenseID = expense.ExpenseID(*expenseID)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
