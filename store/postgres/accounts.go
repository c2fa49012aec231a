package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/fuel-ledger/fund"
)

// =============================================================================
// CARD ACCOUNTS (fund.AccountStore)
// =============================================================================

// Numeric columns are read back as text so decimal values round-trip
// without going through float64.
const accountColumns = `id, card_uid, name, company_id, currency, state, balance::text, pending::text,
	activation_date, expiration_date, created_at, updated_at`

func (q *queries) CreateAccount(ctx context.Context, a fund.CardAccount) error {
	_, err := q.q.Exec(ctx, `
		INSERT INTO card_accounts (id, card_uid, name, company_id, currency, state, balance, pending,
			activation_date, expiration_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		string(a.ID), a.CardUID, a.Name, string(a.CompanyID), a.Currency, string(a.State),
		a.Balance.String(), a.Pending.String(),
		a.ActivationDate, a.ExpirationDate, a.CreatedAt, a.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fund.ErrDuplicateCard
	}
	return err
}

func (q *queries) GetAccount(ctx context.Context, id fund.CardID) (fund.CardAccount, error) {
	row := q.q.QueryRow(ctx, `SELECT `+accountColumns+` FROM card_accounts WHERE id = $1`, string(id))
	return scanAccount(row)
}

func (q *queries) FindAccountByUID(ctx context.Context, company fund.CompanyID, uid string) (fund.CardAccount, error) {
	row := q.q.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM card_accounts WHERE company_id = $1 AND card_uid = $2`,
		string(company), uid)
	return scanAccount(row)
}

func (q *queries) ListAccounts(ctx context.Context, filter fund.AccountFilter) ([]fund.CardAccount, error) {
	var w where
	if filter.CompanyID != nil {
		w.eq("company_id", string(*filter.CompanyID))
	}
	w.in("state", strs(filter.States))

	rows, err := q.q.Query(ctx, `SELECT `+accountColumns+` FROM card_accounts`+w.String()+` ORDER BY card_uid`, w.args...)
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

// MutateAccount locks the row for the rest of the enclosing transaction.
// Called on the Store it opens that transaction itself.
func (q *queries) MutateAccount(ctx context.Context, id fund.CardID, fn fund.AccountMutation) (fund.CardAccount, error) {
	row := q.q.QueryRow(ctx, `SELECT `+accountColumns+` FROM card_accounts WHERE id = $1 FOR UPDATE`, string(id))
	a, err := scanAccount(row)
	if err != nil {
		return fund.CardAccount{}, err
	}
	if err := fn(&a); err != nil {
		return fund.CardAccount{}, err
	}
	a.UpdatedAt = time.Now().UTC()

	_, err = q.q.Exec(ctx, `
		UPDATE card_accounts
		SET name = $1, state = $2, balance = $3, pending = $4,
		    activation_date = $5, expiration_date = $6, updated_at = $7
		WHERE id = $8`,
		a.Name, string(a.State), a.Balance.String(), a.Pending.String(),
		a.ActivationDate, a.ExpirationDate, a.UpdatedAt, string(a.ID),
	)
	if err != nil {
		return fund.CardAccount{}, fmt.Errorf("update card %s: %w", id, err)
	}
	return a, nil
}

func scanAccount(row pgx.Row) (fund.CardAccount, error) {
	var (
		a                  fund.CardAccount
		id, company, state string
		balance, pending   string
		activation, expiry *time.Time
	)
	err := row.Scan(&id, &a.CardUID, &a.Name, &company, &a.Currency, &state,
		&balance, &pending, &activation, &expiry, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fund.CardAccount{}, notFound(err, fund.ErrAccountNotFound)
	}
	a.ID = fund.CardID(id)
	a.CompanyID = fund.CompanyID(company)
	a.State = fund.CardState(state)

	if a.Balance, err = decimal.NewFromString(balance); err != nil {
		return fund.CardAccount{}, fmt.Errorf("card %s balance: %w", a.ID, err)
	}
	if a.Pending, err = decimal.NewFromString(pending); err != nil {
		return fund.CardAccount{}, fmt.Errorf("card %s pending: %w", a.ID, err)
	}
	a.ActivationDate = utcDate(activation)
	a.ExpirationDate = utcDate(expiry)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

func utcDate(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &d
}
