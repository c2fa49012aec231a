package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/fuel-ledger/expense"
	"github.com/warp/fuel-ledger/fund"
)

// =============================================================================
// EXPENSES (expense.ExpenseStore)
// =============================================================================

const expenseColumns = `id, card_id, card_uid, company_id, currency, expense_date, amount, quantity,
	odometer, station_name, notes, dedup_hash, receipt, receipt_filename, batch_id, state,
	validated_by, validated_at, rejection_reason, created_at`

func (q *queries) CreateExpense(ctx context.Context, e expense.ExpenseRecord) error {
	var odometer sql.NullString
	if e.Odometer != nil {
		odometer = sql.NullString{String: e.Odometer.String(), Valid: true}
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO expenses (`+expenseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CardID, e.CardUID, e.CompanyID, e.Currency, formatDate(e.ExpenseDate),
		e.Amount.String(), e.Quantity.String(), odometer, e.StationName, e.Notes,
		e.DedupHash, e.Receipt, e.ReceiptFilename, nullString(string(e.BatchID)), e.State,
		actorPtr(e.ValidatedBy), formatTimePtr(e.ValidatedAt), e.RejectionReason,
		formatTime(e.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return expense.ErrDuplicateHash
	}
	return err
}

func (q *queries) GetExpense(ctx context.Context, id expense.ExpenseID) (expense.ExpenseRecord, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE id = ?`, id)
	return scanExpense(row)
}

func (q *queries) FindExpenseByHash(ctx context.Context, company fund.CompanyID, hash string) (expense.ExpenseRecord, error) {
	row := q.q.QueryRowContext(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE company_id = ? AND dedup_hash = ?`, company, hash)
	return scanExpense(row)
}

func (q *queries) ListExpenses(ctx context.Context, filter expense.ExpenseFilter) ([]expense.ExpenseRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.CompanyID != nil {
		where = append(where, "company_id = ?")
		args = append(args, *filter.CompanyID)
	}
	if filter.CardID != nil {
		where = append(where, "card_id = ?")
		args = append(args, *filter.CardID)
	}
	if filter.BatchID != nil {
		where = append(where, "batch_id = ?")
		args = append(args, *filter.BatchID)
	}
	if len(filter.States) > 0 {
		where = append(where, "state IN ("+placeholders(len(filter.States))+")")
		for _, s := range filter.States {
			args = append(args, s)
		}
	}

	query := `SELECT ` + expenseColumns + ` FROM expenses`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY rowid"

	rows, err := q.q.QueryContext(ctx, query, args...)
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
	res, err := q.q.ExecContext(ctx, `
		UPDATE expenses
		SET state = ?, validated_by = ?, validated_at = ?, rejection_reason = ?
		WHERE id = ? AND state = ?`,
		e.State, actorPtr(e.ValidatedBy), formatTimePtr(e.ValidatedAt), e.RejectionReason, e.ID, from,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		cur, err := q.GetExpense(ctx, e.ID)
		if err != nil {
			return err
		}
		return expense.StateConflict(e.ID, cur.State, from)
	}
	return nil
}

func scanExpense(sc scanner) (expense.ExpenseRecord, error) {
	var (
		e                    expense.ExpenseRecord
		date, amount, qty    string
		odometer, batchID    sql.NullString
		validatedBy, validAt sql.NullString
		created              string
	)
	err := sc.Scan(&e.ID, &e.CardID, &e.CardUID, &e.CompanyID, &e.Currency, &date, &amount, &qty,
		&odometer, &e.StationName, &e.Notes, &e.DedupHash, &e.Receipt, &e.ReceiptFilename, &batchID,
		&e.State, &validatedBy, &validAt, &e.RejectionReason, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return expense.ExpenseRecord{}, expense.ErrExpenseNotFound
	}
	if err != nil {
		return expense.ExpenseRecord{}, err
	}

	e.ExpenseDate = parseDate(date)
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return expense.ExpenseRecord{}, fmt.Errorf("expense %s amount: %w", e.ID, err)
	}
	if e.Quantity, err = decimal.NewFromString(qty); err != nil {
		return expense.ExpenseRecord{}, fmt.Errorf("expense %s quantity: %w", e.ID, err)
	}
	if odometer.Valid {
		odo, err := decimal.NewFromString(odometer.String)
		if err != nil {
			return expense.ExpenseRecord{}, fmt.Errorf("expense %s odometer: %w", e.ID, err)
		}
		e.Odometer = &odo
	}
	e.BatchID = expense.BatchID(batchID.String)
	e.ValidatedBy = parseActor(validatedBy)
	e.ValidatedAt = parseTimePtr(validAt)
	e.CreatedAt = parseTime(created)
	return e, nil
}

// =============================================================================
// IMPORT BATCHES (expense.BatchStore)
// =============================================================================

const batchColumns = `id, name, filename, company_id, created_by, note, state, started_at, finished_at,
	line_count, success_count, skipped_count, error_count, log, created_at`

func (q *queries) CreateBatch(ctx context.Context, b expense.BatchJob) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO expense_batches (`+batchColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Name, b.Filename, b.CompanyID, b.CreatedBy, b.Note, b.State,
		formatTimePtr(b.StartedAt), formatTimePtr(b.FinishedAt),
		b.LineCount, b.SuccessCount, b.SkippedCount, b.ErrorCount, b.Log,
		formatTime(b.CreatedAt),
	)
	return err
}

func (q *queries) UpdateBatch(ctx context.Context, b expense.BatchJob, from expense.BatchState) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE expense_batches
		SET filename = ?, note = ?, state = ?, started_at = ?, finished_at = ?, line_count = ?,
		    success_count = ?, skipped_count = ?, error_count = ?, log = ?
		WHERE id = ? AND state = ?`,
		b.Filename, b.Note, b.State, formatTimePtr(b.StartedAt), formatTimePtr(b.FinishedAt),
		b.LineCount, b.SuccessCount, b.SkippedCount, b.ErrorCount, b.Log, b.ID, from,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		cur, err := q.GetBatch(ctx, b.ID)
		if err != nil {
			return err
		}
		return expense.BatchConflict(b.ID, cur.State)
	}
	return nil
}

func (q *queries) GetBatch(ctx context.Context, id expense.BatchID) (expense.BatchJob, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM expense_batches WHERE id = ?`, id)
	return scanBatch(row)
}

func (q *queries) ListBatches(ctx context.Context, filter expense.BatchFilter) ([]expense.BatchJob, error) {
	var (
		where []string
		args  []any
	)
	if filter.CompanyID != nil {
		where = append(where, "company_id = ?")
		args = append(args, *filter.CompanyID)
	}
	if len(filter.States) > 0 {
		where = append(where, "state IN ("+placeholders(len(filter.States))+")")
		for _, s := range filter.States {
			args = append(args, s)
		}
	}

	query := `SELECT ` + batchColumns + ` FROM expense_batches`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"

	rows, err := q.q.QueryContext(ctx, query, args...)
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

func scanBatch(sc scanner) (expense.BatchJob, error) {
	var (
		b                 expense.BatchJob
		started, finished sql.NullString
		created           string
	)
	err := sc.Scan(&b.ID, &b.Name, &b.Filename, &b.CompanyID, &b.CreatedBy, &b.Note, &b.State,
		&started, &finished, &b.LineCount, &b.SuccessCount, &b.SkippedCount, &b.ErrorCount,
		&b.Log, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return expense.BatchJob{}, expense.ErrBatchNotFound
	}
	if err != nil {
		return expense.BatchJob{}, err
	}
	b.StartedAt = parseTimePtr(started)
	b.FinishedAt = parseTimePtr(finished)
	b.CreatedAt = parseTime(created)
	return b, nil
}

func (q *queries) AppendLine(ctx context.Context, l expense.BatchLine) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO batch_lines (batch_id, sequence, state, message, expense_id, dedup_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.BatchID, l.Sequence, l.State, l.Message, nullString(string(l.ExpenseID)),
		l.DedupHash, formatTime(l.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("batch %s line %d already logged: %w", l.BatchID, l.Sequence, err)
	}
	return err
}

func (q *queries) ListLines(ctx context.Context, id expense.BatchID) ([]expense.BatchLine, error) {
	if _, err := q.GetBatch(ctx, id); err != nil {
		return nil, err
	}
	rows, err := q.q.QueryContext(ctx, `
		SELECT batch_id, sequence, state, message, expense_id, dedup_hash, created_at
		FROM batch_lines WHERE batch_id = ? ORDER BY sequence`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []expense.BatchLine
	for rows.Next() {
		var (
			l         expense.BatchLine
			expenseID sql.NullString
			created   string
		)
		if err := rows.Scan(&l.BatchID, &l.Sequence, &l.State, &l.Message, &expenseID, &l.DedupHash, &created); err != nil {
			return nil, err
		}
		l.ExpenseID = expense.ExpenseID(expenseID.String)
		l.CreatedAt = parseTime(created)
		out = append(out, l)
	}
	return out, rows.Err()
}
