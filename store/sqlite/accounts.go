package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/fuel-ledger/fund"
)

// =============================================================================
// CARD ACCOUNTS (fund.AccountStore)
// =============================================================================

const accountColumns = `id, card_uid, name, company_id, currency, state, balance, pending,
	activation_date, expiration_date, created_at, updated_at`

func (q *queries) CreateAccount(ctx context.Context, a fund.CardAccount) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO card_accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.CardUID, a.Name, a.CompanyID, a.Currency, a.State,
		a.Balance.String(), a.Pending.String(),
		formatDatePtr(a.ActivationDate), formatDatePtr(a.ExpirationDate),
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		return fund.ErrDuplicateCard
	}
	return err
}

func (q *queries) GetAccount(ctx context.Context, id fund.CardID) (fund.CardAccount, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM card_accounts WHERE id = ?`, id)
	return scanAccount(row)
}

func (q *queries) FindAccountByUID(ctx context.Context, company fund.CompanyID, uid string) (fund.CardAccount, error) {
	row := q.q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM card_accounts WHERE company_id = ? AND card_uid = ?`, company, uid)
	return scanAccount(row)
}

func (q *queries) ListAccounts(ctx context.Context, filter fund.AccountFilter) ([]fund.CardAccount, error) {
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

	query := `SELECT ` + accountColumns + ` FROM card_accounts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY card_uid"

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []fund.CardAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// MutateAccount reads and rewrites the row with the same querier. Called
// on the Store it runs in its own transaction (see Store.MutateAccount).
func (q *queries) MutateAccount(ctx context.Context, id fund.CardID, fn fund.AccountMutation) (fund.CardAccount, error) {
	a, err := q.GetAccount(ctx, id)
	if err != nil {
		return fund.CardAccount{}, err
	}
	if err := fn(&a); err != nil {
		return fund.CardAccount{}, err
	}
	a.UpdatedAt = time.Now().UTC()

	_, err = q.q.ExecContext(ctx, `
		UPDATE card_accounts
		SET name = ?, state = ?, balance = ?, pending = ?,
		    activation_date = ?, expiration_date = ?, updated_at = ?
		WHERE id = ?`,
		a.Name, a.State, a.Balance.String(), a.Pending.String(),
		formatDatePtr(a.ActivationDate), formatDatePtr(a.ExpirationDate),
		formatTime(a.UpdatedAt), a.ID,
	)
	if err != nil {
		return fund.CardAccount{}, fmt.Errorf("update card %s: %w", id, err)
	}
	return a, nil
}

func scanAccount(sc scanner) (fund.CardAccount, error) {
	var (
		a                  fund.CardAccount
		balance, pending   string
		activation, expiry sql.NullString
		created, updated   string
	)
	err := sc.Scan(&a.ID, &a.CardUID, &a.Name, &a.CompanyID, &a.Currency, &a.State,
		&balance, &pending, &activation, &expiry, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return fund.CardAccount{}, fund.ErrAccountNotFound
	}
	if err != nil {
		return fund.CardAccount{}, err
	}

	if a.Balance, err = decimal.NewFromString(balance); err != nil {
		return fund.CardAccount{}, fmt.Errorf("card %s balance: %w", a.ID, err)
	}
	if a.Pending, err = decimal.NewFromString(pending); err != nil {
		return fund.CardAccount{}, fmt.Errorf("card %s pending: %w", a.ID, err)
	}
	a.ActivationDate = parseDatePtr(activation)
	a.ExpirationDate = parseDatePtr(expiry)
	a.CreatedAt = parseTime(created)
	a.UpdatedAt = parseTime(updated)
	return a, nil
}

// =============================================================================
// TIME ENCODING
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func formatDate(t time.Time) string {
	return t.Format(time.DateOnly)
}

func parseDate(s string) time.Time {
	t, _ := time.Parse(time.DateOnly, s)
	return t
}

func formatDatePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatDate(*t), Valid: true}
}

func parseDatePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseDate(s.String)
	return &t
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
