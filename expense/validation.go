package expense

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/fuel-ledger/fund"
)

// Spender is the part of fund.Ledger that expense validation uses.
type Spender interface {
	Spend(ctx context.Context, id fund.CardID, amount decimal.Decimal) (fund.CardAccount, error)
}

// ExpenseService moves expenses out of draft. Validating an expense is the
// moment its amount is spent from the card.
type ExpenseService struct {
	Store  ExpenseStore
	Ledger Spender
	Logger *slog.Logger
	Now    func() time.Time
}

func NewExpenseService(store ExpenseStore, ledger Spender, logger *slog.Logger) *ExpenseService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpenseService{Store: store, Ledger: ledger, Logger: logger, Now: time.Now}
}

func (es *ExpenseService) now() time.Time {
	if es.Now == nil {
		return time.Now().UTC()
	}
	return es.Now().UTC()
}

// Validate spends the expense amount on its card and marks it validated.
// The expense is claimed with a conditional state write before the spend,
// so two overlapping validations cannot both charge the card. Insufficient
// funds hand the expense back to draft.
func (es *ExpenseService) Validate(ctx context.Context, id ExpenseID, actor fund.Actor) (*ExpenseRecord, error) {
	if actor == "" {
		return nil, fund.ErrMissingActor
	}
	draft, err := es.Store.GetExpense(ctx, id)
	if err != nil {
		return nil, err
	}
	if draft.State != ExpenseDraft {
		return nil, fmt.Errorf("%w: cannot validate expense in state %s", ErrInvalidExpenseTransition, draft.State)
	}

	now := es.now()
	e := draft
	e.State = ExpenseValidated
	e.ValidatedBy = &actor
	e.ValidatedAt = &now
	e.RejectionReason = ""
	if err := es.Store.UpdateExpenseState(ctx, e, ExpenseDraft); err != nil {
		return nil, err
	}

	if _, err := es.Ledger.Spend(ctx, e.CardID, e.Amount); err != nil {
		if rerr := es.Store.UpdateExpenseState(context.WithoutCancel(ctx), draft, ExpenseValidated); rerr != nil {
			es.Logger.ErrorContext(ctx, "returning expense to draft after failed spend also failed",
				"expense_id", id, "card_id", e.CardID, "amount", e.Amount.String(), "error", rerr)
			return nil, errors.Join(err, rerr)
		}
		return nil, err
	}

	es.Logger.InfoContext(ctx, "expense validated",
		"expense_id", id, "card_id", e.CardID, "amount", e.Amount.String(), "actor", actor)
	return &e, nil
}

// Reject closes a draft expense without touching the card.
func (es *ExpenseService) Reject(ctx context.Context, id ExpenseID, actor fund.Actor, reason string) (*ExpenseRecord, error) {
	if actor == "" {
		return nil, fund.ErrMissingActor
	}
	e, err := es.Store.GetExpense(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.State != ExpenseDraft {
		return nil, fmt.Errorf("%w: cannot reject expense in state %s", ErrInvalidExpenseTransition, e.State)
	}

	e.State = ExpenseRejected
	e.RejectionReason = reason
	if err := es.Store.UpdateExpenseState(ctx, e, ExpenseDraft); err != nil {
		return nil, err
	}
	es.Logger.InfoContext(ctx, "expense rejected", "expense_id", id, "actor", actor, "reason", reason)
	return &e, nil
}

// ResetToDraft reopens a rejected expense.
func (es *ExpenseService) ResetToDraft(ctx context.Context, id ExpenseID, actor fund.Actor) (*ExpenseRecord, error) {
	if actor == "" {
		return nil, fund.ErrMissingActor
	}
	e, err := es.Store.GetExpense(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.State != ExpenseRejected {
		return nil, fmt.Errorf("%w: cannot reset expense in state %s", ErrInvalidExpenseTransition, e.State)
	}

	e.State = ExpenseDraft
	e.RejectionReason = ""
	if err := es.Store.UpdateExpenseState(ctx, e, ExpenseRejected); err != nil {
		return nil, err
	}
	es.Logger.InfoContext(ctx, "expense reset to draft", "expense_id", id, "actor", actor)
	return &e, nil
}
