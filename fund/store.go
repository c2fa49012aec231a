/*
store.go - Persistence interfaces for card accounts, recharge requests and audit

PURPOSE:
  Defines the boundary between fund logic and the database. The ledger
  never reads-then-writes on its own: it hands a mutation function to
  MutateAccount and the store runs it atomically against the current row.

KEY INTERFACES:
  AccountStore:  card accounts, including the atomic MutateAccount
  RechargeStore: recharge request records
  AuditLog:      append-only who-did-what-when entries
  Store:         the three above together
  TxStore:       Store plus WithTx for multi-record atomic operations

ATOMICITY CONTRACT:
  MutateAccount(ctx, id, fn):
    - loads the account under a per-account exclusive lock
    - calls fn with a copy
    - persists the copy only if fn returns nil
  Two concurrent MutateAccount calls on the same card never interleave.
  WithTx(ctx, fn):
    - a recharge read through the Store passed to fn cannot be changed by
      another transaction before fn returns

IMPLEMENTATIONS:
  - fund/store/memory.go:         in-memory, for tests and demos
  - store/sqlite/sqlite.go:       SQLite
  - store/postgres/postgres.go:   PostgreSQL with SELECT ... FOR UPDATE

SEE ALSO:
  - ledger.go:   the only caller that touches Balance and Pending
  - recharge.go: runs each transition inside WithTx
*/
package fund

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ACCOUNT STORE
// =============================================================================

// AccountMutation changes an account in place. Returning an error aborts
// the mutation and nothing is written.
type AccountMutation func(*CardAccount) error

type AccountStore interface {
	// CreateAccount persists a new card. Returns ErrDuplicateCard if the
	// card number is already used.
	CreateAccount(ctx context.Context, account CardAccount) error

	// GetAccount returns ErrAccountNotFound for unknown IDs.
	GetAccount(ctx context.Context, id CardID) (CardAccount, error)

	// FindAccountByUID resolves a card number within a company.
	FindAccountByUID(ctx context.Context, company CompanyID, cardUID string) (CardAccount, error)

	ListAccounts(ctx context.Context, filter AccountFilter) ([]CardAccount, error)

	// MutateAccount atomically applies fn to the stored account and returns
	// the persisted result.
	MutateAccount(ctx context.Context, id CardID, fn AccountMutation) (CardAccount, error)
}

type AccountFilter struct {
	CompanyID *CompanyID
	States    []CardState
}

// Matches reports whether the account passes the filter.
func (f AccountFilter) Matches(a CardAccount) bool {
	if f.CompanyID != nil && a.CompanyID != *f.CompanyID {
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	for _, s := range f.States {
		if a.State == s {
			return true
		}
	}
	return false
}

// =============================================================================
// RECHARGE STORE
// =============================================================================

type RechargeStore interface {
	// SaveRecharge inserts or replaces a request.
	SaveRecharge(ctx context.Context, r RechargeRequest) error

	// GetRecharge returns ErrRechargeNotFound for unknown IDs. Inside
	// WithTx no other transaction may change the request until commit.
	GetRecharge(ctx context.Context, id RechargeID) (RechargeRequest, error)

	ListRecharges(ctx context.Context, filter RechargeFilter) ([]RechargeRequest, error)

	DeleteRecharge(ctx context.Context, id RechargeID) error
}

type RechargeFilter struct {
	CardID    *CardID
	CompanyID *CompanyID
	States    []RechargeState
}

func (f RechargeFilter) Matches(r RechargeRequest) bool {
	if f.CardID != nil && r.CardID != *f.CardID {
		return false
	}
	if f.CompanyID != nil && r.CompanyID != *f.CompanyID {
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	for _, s := range f.States {
		if r.State == s {
			return true
		}
	}
	return false
}

// =============================================================================
// AUDIT LOG - Separate from balances, tracks who did what when
// =============================================================================

type AuditAction string

const (
	AuditCardCreated       AuditAction = "card_created"
	AuditCardStateChanged  AuditAction = "card_state_changed"
	AuditRechargeCreated   AuditAction = "recharge_created"
	AuditRechargeSubmitted AuditAction = "recharge_submitted"
	AuditRechargeApproved  AuditAction = "recharge_approved"
	AuditRechargePosted    AuditAction = "recharge_posted"
	AuditRechargeCancelled AuditAction = "recharge_cancelled"
	AuditRechargeDeleted   AuditAction = "recharge_deleted"
)

type AuditEntry struct {
	ID         string
	At         time.Time
	Actor      Actor
	Action     AuditAction
	CardID     CardID
	RechargeID RechargeID // empty for card-level entries
	Amount     decimal.Decimal
	Note       string
}

// AuditLog is append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	ListAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	CardID     *CardID
	RechargeID *RechargeID
	Actions    []AuditAction
}

func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.CardID != nil && e.CardID != *f.CardID {
		return false
	}
	if f.RechargeID != nil && e.RechargeID != *f.RechargeID {
		return false
	}
	if len(f.Actions) == 0 {
		return true
	}
	for _, a := range f.Actions {
		if e.Action == a {
			return true
		}
	}
	return false
}

// =============================================================================
// COMBINED + TRANSACTIONAL STORE
// =============================================================================

type Store interface {
	AccountStore
	RechargeStore
	AuditLog
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the Store passed to fn
	// is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
