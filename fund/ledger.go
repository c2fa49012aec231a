/*
ledger.go - The four primitive balance operations

PURPOSE:
  Ledger is the single place where Balance and Pending change. Each
  operation is one MutateAccount call, so it is atomic with respect to
  every other operation on the same card, whatever process issues it.

OPERATIONS:
  Reserve(amount):     pending += amount          (no-op when amount <= 0)
  Release(amount):     pending -= amount, floor 0 (no-op when amount <= 0)
  CommitDelta(amount): balance += amount          (signed, may be zero)
  Spend(amount):       balance -= amount, refused when amount > available
                       (no-op when amount <= 0)

  Reserve does not check available funds. Recharges are additions: the
  hold tracks money that is expected, not money being taken out.

EXAMPLE (a recharge of 300 on a card holding 1000):
  Reserve(300)      balance 1000, pending 300, available 700
  Release(300)      balance 1000, pending 0
  CommitDelta(300)  balance 1300, pending 0, available 1300

SEE ALSO:
  - store.go:    MutateAccount contract
  - recharge.go: the workflow composed from these primitives
*/
package fund

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"
)

// Ledger applies balance operations to card accounts.
type Ledger struct {
	Accounts AccountStore
	Logger   *slog.Logger
}

// NewLedger creates a ledger over the given store. Inside WithTx, pass the
// transactional Store so ledger writes join the transaction.
func NewLedger(accounts AccountStore) *Ledger {
	return &Ledger{Accounts: accounts, Logger: slog.Default()}
}

func (l *Ledger) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

// Reserve places a hold on funds pending approval.
func (l *Ledger) Reserve(ctx context.Context, id CardID, amount decimal.Decimal) (CardAccount, error) {
	if !amount.IsPositive() {
		return l.Accounts.GetAccount(ctx, id)
	}
	acc, err := l.Accounts.MutateAccount(ctx, id, func(a *CardAccount) error {
		a.Pending = a.Pending.Add(amount)
		return a.CheckInvariants()
	})
	if err != nil {
		return CardAccount{}, err
	}
	l.logger().DebugContext(ctx, "funds reserved",
		"card_id", id, "amount", amount.String(), "pending", acc.Pending.String())
	return acc, nil
}

// Release drops a hold. Releasing more than is pending clamps pending at
// zero instead of failing.
func (l *Ledger) Release(ctx context.Context, id CardID, amount decimal.Decimal) (CardAccount, error) {
	if !amount.IsPositive() {
		return l.Accounts.GetAccount(ctx, id)
	}
	acc, err := l.Accounts.MutateAccount(ctx, id, func(a *CardAccount) error {
		a.Pending = decimal.Max(decimal.Zero, a.Pending.Sub(amount))
		return a.CheckInvariants()
	})
	if err != nil {
		return CardAccount{}, err
	}
	l.logger().DebugContext(ctx, "funds released",
		"card_id", id, "amount", amount.String(), "pending", acc.Pending.String())
	return acc, nil
}

// CommitDelta adds a signed amount to the committed balance. A delta that
// would take the balance below zero is refused with ErrNegativeBalance.
func (l *Ledger) CommitDelta(ctx context.Context, id CardID, amount decimal.Decimal) (CardAccount, error) {
	acc, err := l.Accounts.MutateAccount(ctx, id, func(a *CardAccount) error {
		a.Balance = a.Balance.Add(amount)
		return a.CheckInvariants()
	})
	if err != nil {
		return CardAccount{}, err
	}
	l.logger().DebugContext(ctx, "balance committed",
		"card_id", id, "delta", amount.String(), "balance", acc.Balance.String())
	return acc, nil
}

// Spend deducts from the committed balance if the available amount covers
// it. The check and the deduction happen under the same lock. A zero or
// negative amount changes nothing.
func (l *Ledger) Spend(ctx context.Context, id CardID, amount decimal.Decimal) (CardAccount, error) {
	if !amount.IsPositive() {
		return l.Accounts.GetAccount(ctx, id)
	}
	acc, err := l.Accounts.MutateAccount(ctx, id, func(a *CardAccount) error {
		if available := a.Available(); amount.GreaterThan(available) {
			return &InsufficientFundsError{CardID: id, Available: available, Requested: amount}
		}
		a.Balance = a.Balance.Sub(amount)
		return a.CheckInvariants()
	})
	if err != nil {
		return CardAccount{}, err
	}
	l.logger().DebugContext(ctx, "funds spent",
		"card_id", id, "amount", amount.String(), "balance", acc.Balance.String())
	return acc, nil
}
