/*
errors.go - Error types for the fund ledger and recharge workflow

ERROR CATEGORIES:
  1. Ledger errors   - AccountNotFound, InsufficientFunds, invariant violations
  2. Workflow errors - InvalidTransition on recharge requests and cards
  3. Input errors    - InvalidAmount, DuplicateCard

Every error here is fatal to the single call that returned it: no partial
mutation is left behind.
*/
package fund

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrAccountNotFound  = errors.New("card account not found")
	ErrRechargeNotFound = errors.New("recharge request not found")

	// ErrInsufficientFunds is returned by Spend when the amount exceeds
	// balance - pending.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidTransition is returned when a recharge request is asked to
	// move from a state that does not allow it.
	ErrInvalidTransition = errors.New("invalid transition")

	ErrInvalidCardTransition = errors.New("invalid card state transition")

	ErrNegativeBalance  = errors.New("card balance cannot be negative")
	ErrNegativePending  = errors.New("card pending amount cannot be negative")
	ErrInvalidCardDates = errors.New("expiration date must not precede activation date")

	ErrInvalidAmount = errors.New("amount must be positive")
	ErrDuplicateCard = errors.New("card number already exists")
	ErrMissingActor  = errors.New("actor is required")

	ErrMissingCardUID = errors.New("card number is required")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientFundsError details a rejected spend.
type InsufficientFundsError struct {
	CardID    CardID
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds on card %s: available %s, requested %s",
		e.CardID, e.Available, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// InvalidTransitionError names the request, its state and the refused action.
type InvalidTransitionError struct {
	RechargeID RechargeID
	From       RechargeState
	Action     RechargeAction
	Reason     string
}

func (e *InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot %s recharge %s: %s", e.Action, e.RechargeID, e.Reason)
	}
	return fmt.Sprintf("cannot %s recharge %s in state %s", e.Action, e.RechargeID, e.From)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is caused by the caller's input or
// by the current state of the records it targets.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrInvalidCardTransition) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrDuplicateCard) ||
		errors.Is(err, ErrInvalidCardDates) ||
		errors.Is(err, ErrNegativeBalance) ||
		errors.Is(err, ErrMissingActor) ||
		errors.Is(err, ErrMissingCardUID)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrRechargeNotFound)
}
