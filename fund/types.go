/*
Package fund tracks the money loaded on fleet fuel cards.

PURPOSE:
  A fuel card carries committed funds (Balance) and funds held for top-up
  requests that are still going through approval (Pending). Everything that
  changes those two numbers goes through the Ledger; everything else
  (recharge workflow, card administration, HTTP handlers) calls the Ledger.

KEY CONCEPTS IN THIS FILE (types.go):
  - CardAccount: the fund-bearing card record
  - Available:   Balance - Pending, derived, never stored
  - Actor:       explicit identity used for audit stamping

INVARIANTS:
  1. Balance >= 0 at all times
  2. Pending >= 0 at all times
  3. ExpirationDate, when set, is not before ActivationDate

SEE ALSO:
  - ledger.go:   the only writer of Balance and Pending
  - recharge.go: top-up approval workflow
  - card.go:     card administration (state, dates)
  - store.go:    persistence interfaces
*/
package fund

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CardID string
type CompanyID string
type RechargeID string

// Actor identifies who performed an action. There is no ambient "current
// user": every workflow call receives one explicitly.
type Actor string

// SystemActor is used for scheduler-driven changes.
const SystemActor Actor = "system"

// =============================================================================
// CARD ACCOUNT
// =============================================================================

type CardState string

const (
	CardDraft     CardState = "draft"
	CardActive    CardState = "active"
	CardSuspended CardState = "suspended"
	CardExpired   CardState = "expired"
)

// CardAccount is a fuel card and the funds loaded on it.
//
// Balance and Pending are written only by Ledger. Card administration
// (state, dates, name) goes through CardService.
type CardAccount struct {
	ID        CardID
	CardUID   string // number printed on the card, unique
	Name      string
	CompanyID CompanyID
	Currency  string
	State     CardState

	Balance decimal.Decimal // committed funds
	Pending decimal.Decimal // reserved for requests under approval

	ActivationDate *time.Time
	ExpirationDate *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Available is the spending ceiling at this instant.
func (a CardAccount) Available() decimal.Decimal {
	return a.Balance.Sub(a.Pending)
}

// CheckInvariants returns an error if the account is in a state that must
// never be persisted.
func (a CardAccount) CheckInvariants() error {
	if a.Balance.IsNegative() {
		return fmt.Errorf("%w: card %s balance %s", ErrNegativeBalance, a.ID, a.Balance)
	}
	if a.Pending.IsNegative() {
		return fmt.Errorf("%w: card %s pending %s", ErrNegativePending, a.ID, a.Pending)
	}
	if a.ActivationDate != nil && a.ExpirationDate != nil && a.ExpirationDate.Before(*a.ActivationDate) {
		return ErrInvalidCardDates
	}
	return nil
}

// IsExpiredAt reports whether an active card's expiration date lies
// strictly before asOf (compared by calendar day).
func (a CardAccount) IsExpiredAt(asOf time.Time) bool {
	if a.ExpirationDate == nil {
		return false
	}
	return truncateDay(*a.ExpirationDate).Before(truncateDay(asOf))
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
