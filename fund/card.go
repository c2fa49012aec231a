package fund

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NewCard is the input to CardService.Create.
type NewCard struct {
	CardUID        string
	Name           string
	CompanyID      CompanyID
	Currency       string
	ActivationDate *time.Time
	ExpirationDate *time.Time
	OpeningBalance decimal.Decimal
}

// CardStore is what card administration needs from persistence.
type CardStore interface {
	AccountStore
	AuditLog
}

// CardService administers card records: creation and lifecycle state.
// It never changes Balance or Pending after creation.
type CardService struct {
	Store  CardStore
	Logger *slog.Logger
	Now    func() time.Time
}

func NewCardService(store CardStore, logger *slog.Logger) *CardService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CardService{Store: store, Logger: logger, Now: time.Now}
}

func (cs *CardService) now() time.Time {
	if cs.Now == nil {
		return time.Now().UTC()
	}
	return cs.Now().UTC()
}

// Create registers a card in draft state.
func (cs *CardService) Create(ctx context.Context, in NewCard, actor Actor) (*CardAccount, error) {
	if actor == "" {
		return nil, ErrMissingActor
	}
	uid := strings.TrimSpace(in.CardUID)
	if uid == "" {
		return nil, ErrMissingCardUID
	}
	if in.OpeningBalance.IsNegative() {
		return nil, fmt.Errorf("%w: opening balance %s", ErrNegativeBalance, in.OpeningBalance)
	}

	now := cs.now()
	acc := CardAccount{
		ID:             CardID(uuid.NewString()),
		CardUID:        uid,
		Name:           in.Name,
		CompanyID:      in.CompanyID,
		Currency:       in.Currency,
		State:          CardDraft,
		Balance:        in.OpeningBalance,
		Pending:        decimal.Zero,
		ActivationDate: in.ActivationDate,
		ExpirationDate: in.ExpirationDate,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if acc.Name == "" {
		acc.Name = uid
	}
	if err := acc.CheckInvariants(); err != nil {
		return nil, err
	}
	if err := cs.Store.CreateAccount(ctx, acc); err != nil {
		return nil, err
	}
	cs.appendAudit(ctx, acc, actor, AuditCardCreated, now, "opening balance "+acc.Balance.String())

	cs.Logger.InfoContext(ctx, "card created", "card_id", acc.ID, "card_uid", uid, "company_id", acc.CompanyID)
	return &acc, nil
}

// Activate puts a draft or suspended card into service. A card without an
// activation date gets today's, or its expiration date if that is earlier.
func (cs *CardService) Activate(ctx context.Context, id CardID, actor Actor) (*CardAccount, error) {
	return cs.setState(ctx, id, actor, CardActive, func(a *CardAccount, today time.Time) {
		if a.ActivationDate != nil {
			return
		}
		if a.ExpirationDate != nil && a.ExpirationDate.Before(today) {
			today = *a.ExpirationDate
		}
		a.ActivationDate = &today
	}, CardDraft, CardSuspended)
}

// Suspend takes a draft or active card out of service.
func (cs *CardService) Suspend(ctx context.Context, id CardID, actor Actor) (*CardAccount, error) {
	return cs.setState(ctx, id, actor, CardSuspended, nil, CardDraft, CardActive)
}

// MarkExpired retires a card. Expired is terminal. A card without an
// expiration date gets today's, or its activation date if that is later.
func (cs *CardService) MarkExpired(ctx context.Context, id CardID, actor Actor) (*CardAccount, error) {
	return cs.setState(ctx, id, actor, CardExpired, func(a *CardAccount, today time.Time) {
		if a.ExpirationDate != nil {
			return
		}
		if a.ActivationDate != nil && a.ActivationDate.After(today) {
			today = *a.ActivationDate
		}
		a.ExpirationDate = &today
	}, CardDraft, CardActive, CardSuspended)
}

// ExpireDue marks every active card whose expiration date has passed as
// expired and returns how many were changed.
func (cs *CardService) ExpireDue(ctx context.Context, asOf time.Time) (int, error) {
	active, err := cs.Store.ListAccounts(ctx, AccountFilter{States: []CardState{CardActive}})
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, acc := range active {
		if !acc.IsExpiredAt(asOf) {
			continue
		}
		if _, err := cs.MarkExpired(ctx, acc.ID, SystemActor); err != nil {
			return expired, fmt.Errorf("expire card %s: %w", acc.ID, err)
		}
		expired++
	}
	return expired, nil
}

// stampFunc fills in dates that a state change implies.
type stampFunc func(a *CardAccount, today time.Time)

func (cs *CardService) setState(ctx context.Context, id CardID, actor Actor, to CardState, stamp stampFunc, from ...CardState) (*CardAccount, error) {
	if actor == "" {
		return nil, ErrMissingActor
	}
	now := cs.now()
	var prev CardState
	acc, err := cs.Store.MutateAccount(ctx, id, func(a *CardAccount) error {
		prev = a.State
		allowed := false
		for _, s := range from {
			if a.State == s {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidCardTransition, a.State, to)
		}
		a.State = to
		a.UpdatedAt = now
		if stamp != nil {
			stamp(a, truncateDay(now))
		}
		return a.CheckInvariants()
	})
	if err != nil {
		return nil, err
	}
	cs.appendAudit(ctx, acc, actor, AuditCardStateChanged, now, string(prev)+" -> "+string(to))

	cs.Logger.InfoContext(ctx, "card state changed",
		"card_id", id, "from", prev, "to", to, "actor", actor)
	return &acc, nil
}

// appendAudit is best-effort: the card change has already committed.
func (cs *CardService) appendAudit(ctx context.Context, acc CardAccount, actor Actor, action AuditAction, at time.Time, note string) {
	err := cs.Store.AppendAudit(ctx, AuditEntry{
		ID:     uuid.NewString(),
		At:     at,
		Actor:  actor,
		Action: action,
		CardID: acc.ID,
		Amount: acc.Balance,
		Note:   note,
	})
	if err != nil {
		cs.Logger.WarnContext(ctx, "audit append failed", "card_id", acc.ID, "action", action, "error", err)
	}
}
