package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/fuel-ledger/fund"
)

// =============================================================================
// RECHARGE REQUESTS (fund.RechargeStore)
// =============================================================================

const rechargeColumns = `id, reference, card_id, company_id, currency, amount, recharge_date,
	description, state, requested_by, approved_by, approved_at, posted_by, posted_at,
	created_at, updated_at`

func (q *queries) SaveRecharge(ctx context.Context, r fund.RechargeRequest) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO recharge_requests (`+rechargeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			reference = excluded.reference,
			amount = excluded.amount,
			recharge_date = excluded.recharge_date,
			description = excluded.description,
			state = excluded.state,
			approved_by = excluded.approved_by,
			approved_at = excluded.approved_at,
			posted_by = excluded.posted_by,
			posted_at = excluded.posted_at,
			updated_at = excluded.updated_at`,
		r.ID, r.Reference, r.CardID, r.CompanyID, r.Currency, r.Amount.String(),
		formatDate(r.RechargeDate), r.Description, r.State, r.RequestedBy,
		actorPtr(r.ApprovedBy), formatTimePtr(r.ApprovedAt),
		actorPtr(r.PostedBy), formatTimePtr(r.PostedAt),
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	return err
}

func (q *queries) GetRecharge(ctx context.Context, id fund.RechargeID) (fund.RechargeRequest, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+rechargeColumns+` FROM recharge_requests WHERE id = ?`, id)
	return scanRecharge(row)
}

func (q *queries) ListRecharges(ctx context.Context, filter fund.RechargeFilter) ([]fund.RechargeRequest, error) {
	var (
		where []string
		args  []any
	)
	if filter.CardID != nil {
		where = append(where, "card_id = ?")
		args = append(args, *filter.CardID)
	}
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

	query := `SELECT ` + rechargeColumns + ` FROM recharge_requests`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, rowid"

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []fund.RechargeRequest
	for rows.Next() {
		r, err := scanRecharge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q *queries) DeleteRecharge(ctx context.Context, id fund.RechargeID) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM recharge_requests WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fund.ErrRechargeNotFound
	}
	return nil
}

func scanRecharge(sc scanner) (fund.RechargeRequest, error) {
	var (
		r                    fund.RechargeRequest
		amount, date         string
		approvedBy, postedBy sql.NullString
		approvedAt, postedAt sql.NullString
		created, updated     string
	)
	err := sc.Scan(&r.ID, &r.Reference, &r.CardID, &r.CompanyID, &r.Currency, &amount, &date,
		&r.Description, &r.State, &r.RequestedBy, &approvedBy, &approvedAt, &postedBy, &postedAt,
		&created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return fund.RechargeRequest{}, fund.ErrRechargeNotFound
	}
	if err != nil {
		return fund.RechargeRequest{}, err
	}

	if r.Amount, err = decimal.NewFromString(amount); err != nil {
		return fund.RechargeRequest{}, fmt.Errorf("recharge %s amount: %w", r.ID, err)
	}
	r.RechargeDate = parseDate(date)
	r.ApprovedBy = parseActor(approvedBy)
	r.ApprovedAt = parseTimePtr(approvedAt)
	r.PostedBy = parseActor(postedBy)
	r.PostedAt = parseTimePtr(postedAt)
	r.CreatedAt = parseTime(created)
	r.UpdatedAt = parseTime(updated)
	return r, nil
}

func actorPtr(a *fund.Actor) sql.NullString {
	if a == nil {
		return sql.NullString{}
	}
	return nullString(string(*a))
}

func parseActor(s sql.NullString) *fund.Actor {
	if !s.Valid {
		return nil
	}
	a := fund.Actor(s.String)
	return &a
}

// =============================================================================
// AUDIT LOG (fund.AuditLog)
// =============================================================================

func (q *queries) AppendAudit(ctx context.Context, e fund.AuditEntry) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO audit_entries (id, at, actor, action, card_id, recharge_id, amount, note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, formatTime(e.At), e.Actor, e.Action, e.CardID,
		nullString(string(e.RechargeID)), e.Amount.String(), e.Note,
	)
	return err
}

func (q *queries) ListAudit(ctx context.Context, filter fund.AuditFilter) ([]fund.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if filter.CardID != nil {
		where = append(where, "card_id = ?")
		args = append(args, *filter.CardID)
	}
	if filter.RechargeID != nil {
		where = append(where, "recharge_id = ?")
		args = append(args, *filter.RechargeID)
	}
	if len(filter.Actions) > 0 {
		where = append(where, "action IN ("+placeholders(len(filter.Actions))+")")
		for _, a := range filter.Actions {
			args = append(args, a)
		}
	}

	query := `SELECT id, at, actor, action, card_id, recharge_id, amount, note FROM audit_entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY rowid"

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []fund.AuditEntry
	for rows.Next() {
		var (
			e          fund.AuditEntry
			at, amount string
			rechargeID sql.NullString
		)
		if err := rows.Scan(&e.ID, &at, &e.Actor, &e.Action, &e.CardID, &rechargeID, &amount, &e.Note); err != nil {
			return nil, err
		}
		e.At = parseTime(at)
		e.RechargeID = fund.RechargeID(rechargeID.String)
		e.Amount, _ = decimal.NewFromString(amount)
		out = append(out, e)
	}
	return out, rows.Err()
}
