/*
recharge.go - Top-up request lifecycle

PURPOSE:
  A recharge request moves money onto a card in two steps: the amount is
  held as pending while the request is reviewed, then committed to the
  balance when it is posted.

STATE MACHINE:
  ┌───────┐  submit   ┌───────────┐  approve  ┌──────────┐  post   ┌────────┐
  │ draft │ ────────▶ │ submitted │ ────────▶ │ approved │ ──────▶ │ posted │
  └───────┘           └───────────┘           └──────────┘         └────────┘
      │   └────────────── approve ───────────────▲    │
      │ cancel                │ cancel               │ cancel
      ▼                       ▼                      ▼
  ┌──────────────────────────────────────────────────────┐
  │                      cancelled                       │
  └──────────────────────────────────────────────────────┘

LEDGER EFFECTS:
  submit:  Reserve(amount)
  approve: none
  post:    Release(amount), then CommitDelta(+amount)
  cancel:  Release(amount) if the request was submitted or approved

  Approving straight from draft skips the reservation; the later post still
  releases amount, which the clamped Release turns into a no-op on an
  otherwise empty pending. Pending held by other requests on the same card
  is reduced in that case.

ATOMICITY:
  Each transition runs inside Store.WithTx: the state change, the ledger
  effect and the audit entry commit together or not at all.

SEE ALSO:
  - ledger.go: the primitive operations
  - store.go:  RechargeStore and AuditLog
*/
package fund

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// RECHARGE REQUEST
// =============================================================================

type RechargeState string

const (
	RechargeDraft     RechargeState = "draft"
	RechargeSubmitted RechargeState = "submitted"
	RechargeApproved  RechargeState = "approved"
	RechargePosted    RechargeState = "posted"
	RechargeCancelled RechargeState = "cancelled"
)

type RechargeAction string

const (
	ActionSubmit  RechargeAction = "submit"
	ActionApprove RechargeAction = "approve"
	ActionPost    RechargeAction = "post"
	ActionCancel  RechargeAction = "cancel"
	ActionDelete  RechargeAction = "delete"
)

// allowedFrom lists the states each action may start from. Cancelling an
// already cancelled request is accepted and changes nothing.
var allowedFrom = map[RechargeAction][]RechargeState{
	ActionSubmit:  {RechargeDraft},
	ActionApprove: {RechargeDraft, RechargeSubmitted},
	ActionPost:    {RechargeApproved},
	ActionCancel:  {RechargeDraft, RechargeSubmitted, RechargeApproved, RechargeCancelled},
	ActionDelete:  {RechargeDraft},
}

// RechargeRequest asks for Amount to be added to a card's balance.
type RechargeRequest struct {
	ID           RechargeID
	Reference    string
	CardID       CardID
	CompanyID    CompanyID
	Currency     string
	Amount       decimal.Decimal
	RechargeDate time.Time
	Description  string
	State        RechargeState

	RequestedBy Actor
	ApprovedBy  *Actor
	ApprovedAt  *time.Time
	PostedBy    *Actor
	PostedAt    *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Allows reports whether action may be applied in the current state.
func (r RechargeRequest) Allows(action RechargeAction) bool {
	return slices.Contains(allowedFrom[action], r.State)
}

func (r RechargeRequest) checkTransition(action RechargeAction) error {
	if r.Allows(action) {
		return nil
	}
	return &InvalidTransitionError{RechargeID: r.ID, From: r.State, Action: action}
}

// holdsFunds reports whether the request currently has amount reserved.
func (r RechargeRequest) holdsFunds() bool {
	return r.State == RechargeSubmitted || r.State == RechargeApproved
}

// =============================================================================
// RECHARGE SERVICE
// =============================================================================

// NewRecharge is the input to RechargeService.Create.
type NewRecharge struct {
	CardID       CardID
	Amount       decimal.Decimal
	RechargeDate time.Time // zero means today
	Description  string
	Reference    string // generated when empty
}

type RechargeService struct {
	Store  TxStore
	Logger *slog.Logger
	Now    func() time.Time
}

func NewRechargeService(store TxStore, logger *slog.Logger) *RechargeService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RechargeService{Store: store, Logger: logger, Now: time.Now}
}

func (rs *RechargeService) now() time.Time {
	if rs.Now == nil {
		return time.Now().UTC()
	}
	return rs.Now().UTC()
}

// Create records a draft request. No ledger effect.
func (rs *RechargeService) Create(ctx context.Context, in NewRecharge, actor Actor) (*RechargeRequest, error) {
	if actor == "" {
		return nil, ErrMissingActor
	}
	if !in.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidAmount, in.Amount)
	}

	now := rs.now()
	var out RechargeRequest
	err := rs.Store.WithTx(ctx, func(tx Store) error {
		card, err := tx.GetAccount(ctx, in.CardID)
		if err != nil {
			return err
		}

		id := uuid.NewString()
		r := RechargeRequest{
			ID:           RechargeID(id),
			Reference:    in.Reference,
			CardID:       card.ID,
			CompanyID:    card.CompanyID,
			Currency:     card.Currency,
			Amount:       in.Amount,
			RechargeDate: in.RechargeDate,
			Description:  in.Description,
			State:        RechargeDraft,
			RequestedBy:  actor,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if r.Reference == "" {
			r.Reference = "RCH-" + id[:8]
		}
		if r.RechargeDate.IsZero() {
			r.RechargeDate = truncateDay(now)
		}

		if err := tx.SaveRecharge(ctx, r); err != nil {
			return err
		}
		out = r
		return tx.AppendAudit(ctx, rs.audit(r, actor, AuditRechargeCreated, now, ""))
	})
	if err != nil {
		return nil, err
	}

	rs.Logger.InfoContext(ctx, "recharge created",
		"recharge_id", out.ID, "card_id", out.CardID, "amount", out.Amount.String(), "actor", actor)
	return &out, nil
}

// Submit moves a draft to submitted and reserves the amount.
func (rs *RechargeService) Submit(ctx context.Context, id RechargeID, actor Actor) (*RechargeRequest, error) {
	return rs.transition(ctx, id, actor, ActionSubmit, AuditRechargeSubmitted,
		func(r *RechargeRequest, ledger *Ledger, _ time.Time) error {
			if _, err := ledger.Reserve(ctx, r.CardID, r.Amount); err != nil {
				return err
			}
			r.State = RechargeSubmitted
			return nil
		})
}

// Approve accepts a draft or submitted request and stamps the approver.
func (rs *RechargeService) Approve(ctx context.Context, id RechargeID, actor Actor) (*RechargeRequest, error) {
	return rs.transition(ctx, id, actor, ActionApprove, AuditRechargeApproved,
		func(r *RechargeRequest, _ *Ledger, now time.Time) error {
			r.State = RechargeApproved
			r.ApprovedBy = &actor
			r.ApprovedAt = &now
			return nil
		})
}

// Post releases the hold and commits the amount to the balance.
func (rs *RechargeService) Post(ctx context.Context, id RechargeID, actor Actor) (*RechargeRequest, error) {
	return rs.transition(ctx, id, actor, ActionPost, AuditRechargePosted,
		func(r *RechargeRequest, ledger *Ledger, now time.Time) error {
			if _, err := ledger.Release(ctx, r.CardID, r.Amount); err != nil {
				return err
			}
			if _, err := ledger.CommitDelta(ctx, r.CardID, r.Amount); err != nil {
				return err
			}
			r.State = RechargePosted
			r.PostedBy = &actor
			r.PostedAt = &now
			return nil
		})
}

// Cancel abandons a request that has not been posted, releasing its hold
// if it had one.
func (rs *RechargeService) Cancel(ctx context.Context, id RechargeID, actor Actor) (*RechargeRequest, error) {
	return rs.transition(ctx, id, actor, ActionCancel, AuditRechargeCancelled,
		func(r *RechargeRequest, ledger *Ledger, _ time.Time) error {
			if r.holdsFunds() {
				if _, err := ledger.Release(ctx, r.CardID, r.Amount); err != nil {
					return err
				}
			}
			r.State = RechargeCancelled
			return nil
		})
}

// Delete removes a draft request. Requests that have touched the ledger
// cannot be deleted, only cancelled.
func (rs *RechargeService) Delete(ctx context.Context, id RechargeID, actor Actor) error {
	if actor == "" {
		return ErrMissingActor
	}
	now := rs.now()
	err := rs.Store.WithTx(ctx, func(tx Store) error {
		r, err := tx.GetRecharge(ctx, id)
		if err != nil {
			return err
		}
		if err := r.checkTransition(ActionDelete); err != nil {
			return err
		}
		if err := tx.DeleteRecharge(ctx, id); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, rs.audit(r, actor, AuditRechargeDeleted, now, ""))
	})
	if err != nil {
		return err
	}
	rs.Logger.InfoContext(ctx, "recharge deleted", "recharge_id", id, "actor", actor)
	return nil
}

func (rs *RechargeService) Get(ctx context.Context, id RechargeID) (*RechargeRequest, error) {
	r, err := rs.Store.GetRecharge(ctx, id)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (rs *RechargeService) List(ctx context.Context, filter RechargeFilter) ([]RechargeRequest, error) {
	return rs.Store.ListRecharges(ctx, filter)
}

// transition loads the request, checks the action is allowed, applies the
// change with a ledger bound to the same transaction, then saves and audits.
func (rs *RechargeService) transition(
	ctx context.Context,
	id RechargeID,
	actor Actor,
	action RechargeAction,
	auditAction AuditAction,
	apply func(r *RechargeRequest, ledger *Ledger, now time.Time) error,
) (*RechargeRequest, error) {
	if actor == "" {
		return nil, ErrMissingActor
	}

	now := rs.now()
	var (
		out  RechargeRequest
		from RechargeState
	)
	err := rs.Store.WithTx(ctx, func(tx Store) error {
		r, err := tx.GetRecharge(ctx, id)
		if err != nil {
			return err
		}
		if err := r.checkTransition(action); err != nil {
			return err
		}

		from = r.State
		ledger := &Ledger{Accounts: tx, Logger: rs.Logger}
		if err := apply(&r, ledger, now); err != nil {
			return err
		}
		r.UpdatedAt = now

		if err := tx.SaveRecharge(ctx, r); err != nil {
			return err
		}
		out = r
		return tx.AppendAudit(ctx, rs.audit(r, actor, auditAction, now, string(from)+" -> "+string(r.State)))
	})
	if err != nil {
		rs.Logger.WarnContext(ctx, "recharge transition refused",
			"recharge_id", id, "action", action, "actor", actor, "error", err)
		return nil, err
	}

	rs.Logger.InfoContext(ctx, "recharge transitioned",
		"recharge_id", out.ID, "action", action, "from", from, "to", out.State, "actor", actor)
	return &out, nil
}

func (rs *RechargeService) audit(r RechargeRequest, actor Actor, action AuditAction, at time.Time, note string) AuditEntry {
	return AuditEntry{
		ID:         uuid.NewString(),
		At:         at,
		Actor:      actor,
		Action:     action,
		CardID:     r.CardID,
		RechargeID: r.ID,
		Amount:     r.Amount,
		Note:       note,
	}
}
