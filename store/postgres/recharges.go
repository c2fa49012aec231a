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
// RECHARGE REQUESTS (fund.RechargeStore)
// =============================================================================

const rechargeColumns = `id, reference, card_id, company_id, currency, amount::text, recharge_date,
	description, state, requested_by, approved_by, approved_at, posted_by, posted_at,
	created_at, updated_at`

func (q *queries) SaveRecharge(ctx context.Context, r fund.RechargeRequest) error {
	_, err := q.q.Exec(ctx, `
		INSERT INTO recharge_requests (id, reference, card_id, company_id, currency, amount,
			recharge_date, description, state, requested_by, approved_by, approved_at,
			posted_by, posted_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			reference = EXCLUDED.reference,
			amount = EXCLUDED.amount,
			recharge_date = EXCLUDED.recharge_date,
			description = EXCLUDED.description,
			state = EXCLUDED.state,
			approved_by = EXCLUDED.approved_by,
			approved_at = EXCLUDED.approved_at,
			posted_by = EXCLUDED.posted_by,
			posted_at = EXCLUDED.posted_at,
			updated_at = EXCLUDED.updated_at`,
		string(r.ID), r.Reference, string(r.CardID), string(r.CompanyID), r.Currency, r.Amount.String(),
		r.RechargeDate, r.Description, string(r.State), string(r.RequestedBy),
		actorArg(r.ApprovedBy), r.ApprovedAt, actorArg(r.PostedBy), r.PostedAt,
		r.CreatedAt, r.UpdatedAt,
	)
	return err
}

func (q *queries) GetRecharge(ctx context.Context, id fund.RechargeID) (fund.RechargeRequest, error) {
	query := `SELECT ` + rechargeColumns + ` FROM recharge_requests WHERE id = $1`
	if q.locking {
		query += ` FOR UPDATE`
	}
	return scanRecharge(q.q.QueryRow(ctx, query, string(id)))
}

func (q *queries) ListRecharges(ctx context.Context, filter fund.RechargeFilter) ([]fund.RechargeRequest, error) {
	var w where
	if filter.CardID != nil {
		w.eq("card_id", string(*filter.CardID))
	}
	if filter.CompanyID != nil {
		w.eq("company_id", string(*filter.CompanyID))
	}
	w.in("state", strs(filter.States))

	rows, err := q.q.Query(ctx,
		`SELECT `+rechargeColumns+` FROM recharge_requests`+w.String()+` ORDER BY created_at, seq`, w.args...)
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
	tag, err := q.q.Exec(ctx, `DELETE FROM recharge_requests WHERE id = $1`, string(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fund.ErrRechargeNotFound
	}
	return nil
}

func scanRecharge(row pgx.Row) (fund.RechargeRequest, error) {
	var (
		r                        fund.RechargeRequest
		id, card, company, state string
		requestedBy, amount      string
		approvedBy, postedBy     *string
	)
	err := row.Scan(&id, &r.Reference, &card, &company, &r.Currency, &amount, &r.RechargeDate,
		&r.Description, &state, &requestedBy, &approvedBy, &r.ApprovedAt, &postedBy, &r.PostedAt,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return fund.RechargeRequest{}, notFound(err, fund.ErrRechargeNotFound)
	}
	r.ID = fund.RechargeID(id)
	r.CardID = fund.CardID(card)
	r.CompanyID = fund.CompanyID(company)
	r.State = fund.RechargeState(state)
	r.RequestedBy = fund.Actor(requestedBy)
	r.ApprovedBy = actorOf(approvedBy)
	r.PostedBy = actorOf(postedBy)
	if r.Amount, err = decimal.NewFromString(amount); err != nil {
		return fund.RechargeRequest{}, fmt.Errorf("recharge %s amount: %w", r.ID, err)
	}
	r.RechargeDate = time.Date(r.RechargeDate.Year(), r.RechargeDate.Month(), r.RechargeDate.Day(), 0, 0, 0, 0, time.UTC)
	return r, nil
}

// =============================================================================
// AUDIT LOG (fund.AuditLog)
// =============================================================================

func (q *queries) AppendAudit(ctx context.Context, e fund.AuditEntry) error {
	_, err := q.q.Exec(ctx, `
		INSERT INTO audit_entries (id, at, actor, action, card_id, recharge_id, amount, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.At, string(e.Actor), string(e.Action), string(e.CardID),
		nullable(string(e.RechargeID)), e.Amount.String(), e.Note,
	)
	return err
}

func (q *queries) ListAudit(ctx context.Context, filter fund.AuditFilter) ([]fund.AuditEntry, error) {
	var w where
	if filter.CardID != nil {
		w.eq("card_id", string(*filter.CardID))
	}
	if filter.RechargeID != nil {
		w.eq("recharge_id", string(*filter.RechargeID))
	}
	w.in("action", strs(filter.Actions))

	rows, err := q.q.Query(ctx, `
		SELECT id, at, actor, action, card_id, recharge_id, amount::text, note
		FROM audit_entries`+w.String()+` ORDER BY seq`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []fund.AuditEntry
	for rows.Next() {
		var (
			e                           fund.AuditEntry
			actor, action, card, amount string
			rechargeID                  *string
		)
		if err := rows.Scan(&e.ID, &e.At, &actor, &action, &card, &rechargeID, &amount, &e.Note); err != nil {
			return nil, err
		}
		e.Actor = fund.Actor(actor)
		e.Action = fund.AuditAction(action)
		e.CardID = fund.CardID(card)
		if rechargeID != nil {
			e.RechargeID = fund.RechargeID(*rechargeID)
		}
		e.Amount, _ = decimal.NewFromString(amount)
		e.At = e.At.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
