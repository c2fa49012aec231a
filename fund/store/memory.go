// Package store provides in-memory fund.TxStore implementations.
package store

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/warp/fuel-ledger/fund"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

var (
	_ fund.TxStore = (*Memory)(nil)
	_ fund.Store   = (*txMemoryView)(nil)
)

// Memory keeps every record in maps behind one mutex. A single store-wide
// lock also gives MutateAccount its per-account exclusivity.
type Memory struct {
	mu        sync.RWMutex
	accounts  map[fund.CardID]fund.CardAccount
	recharges map[fund.RechargeID]fund.RechargeRequest
	audit     []fund.AuditEntry
}

func NewMemory() *Memory {
	return &Memory{
		accounts:  make(map[fund.CardID]fund.CardAccount),
		recharges: make(map[fund.RechargeID]fund.RechargeRequest),
	}
}

func (m *Memory) CreateAccount(_ context.Context, a fund.CardAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createAccountLocked(a)
}

func (m *Memory) createAccountLocked(a fund.CardAccount) error {
	for _, existing := range m.accounts {
		if existing.CardUID == a.CardUID {
			return fund.ErrDuplicateCard
		}
	}
	m.accounts[a.ID] = a
	return nil
}

func (m *Memory) GetAccount(_ context.Context, id fund.CardID) (fund.CardAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAccountLocked(id)
}

func (m *Memory) getAccountLocked(id fund.CardID) (fund.CardAccount, error) {
	a, ok := m.accounts[id]
	if !ok {
		return fund.CardAccount{}, fund.ErrAccountNotFound
	}
	return a, nil
}

func (m *Memory) FindAccountByUID(_ context.Context, company fund.CompanyID, uid string) (fund.CardAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findAccountByUIDLocked(company, uid)
}

func (m *Memory) findAccountByUIDLocked(company fund.CompanyID, uid string) (fund.CardAccount, error) {
	for _, a := range m.accounts {
		if a.CompanyID == company && a.CardUID == uid {
			return a, nil
		}
	}
	return fund.CardAccount{}, fund.ErrAccountNotFound
}

func (m *Memory) ListAccounts(_ context.Context, filter fund.AccountFilter) ([]fund.CardAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listAccountsLocked(filter), nil
}

func (m *Memory) listAccountsLocked(filter fund.AccountFilter) []fund.CardAccount {
	var out []fund.CardAccount
	for _, a := range m.accounts {
		if filter.Matches(a) {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b fund.CardAccount) int { return strings.Compare(a.CardUID, b.CardUID) })
	return out
}

func (m *Memory) MutateAccount(_ context.Context, id fund.CardID, fn fund.AccountMutation) (fund.CardAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutateAccountLocked(id, fn)
}

func (m *Memory) mutateAccountLocked(id fund.CardID, fn fund.AccountMutation) (fund.CardAccount, error) {
	a, ok := m.accounts[id]
	if !ok {
		return fund.CardAccount{}, fund.ErrAccountNotFound
	}
	if err := fn(&a); err != nil {
		return fund.CardAccount{}, err
	}
	a.UpdatedAt = time.Now().UTC()
	m.accounts[id] = a
	return a, nil
}

func (m *Memory) SaveRecharge(_ context.Context, r fund.RechargeRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recharges[r.ID] = r
	return nil
}

func (m *Memory) GetRecharge(_ context.Context, id fund.RechargeID) (fund.RechargeRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getRechargeLocked(id)
}

func (m *Memory) getRechargeLocked(id fund.RechargeID) (fund.RechargeRequest, error) {
	r, ok := m.recharges[id]
	if !ok {
		return fund.RechargeRequest{}, fund.ErrRechargeNotFound
	}
	return r, nil
}

func (m *Memory) ListRecharges(_ context.Context, filter fund.RechargeFilter) ([]fund.RechargeRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listRechargesLocked(filter), nil
}

func (m *Memory) listRechargesLocked(filter fund.RechargeFilter) []fund.RechargeRequest {
	var out []fund.RechargeRequest
	for _, r := range m.recharges {
		if filter.Matches(r) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b fund.RechargeRequest) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

func (m *Memory) DeleteRecharge(_ context.Context, id fund.RechargeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteRechargeLocked(id)
}

func (m *Memory) deleteRechargeLocked(id fund.RechargeID) error {
	if _, ok := m.recharges[id]; !ok {
		return fund.ErrRechargeNotFound
	}
	delete(m.recharges, id)
	return nil
}

func (m *Memory) AppendAudit(_ context.Context, e fund.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, e)
	return nil
}

func (m *Memory) ListAudit(_ context.Context, filter fund.AuditFilter) ([]fund.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listAuditLocked(filter), nil
}

func (m *Memory) listAuditLocked(filter fund.AuditFilter) []fund.AuditEntry {
	var out []fund.AuditEntry
	for _, e := range m.audit {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The store lock is held for the whole of fn.
func (m *Memory) WithTx(_ context.Context, fn func(fund.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txMemoryView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	accounts  map[fund.CardID]fund.CardAccount
	recharges map[fund.RechargeID]fund.RechargeRequest
	audit     []fund.AuditEntry
}

func (m *Memory) snapshot() memorySnapshot {
	return memorySnapshot{
		accounts:  maps.Clone(m.accounts),
		recharges: maps.Clone(m.recharges),
		audit:     slices.Clone(m.audit),
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.accounts = s.accounts
	m.recharges = s.recharges
	m.audit = s.audit
}

// txMemoryView runs against the parent's maps while WithTx holds the lock.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) CreateAccount(_ context.Context, a fund.CardAccount) error {
	return tv.parent.createAccountLocked(a)
}

func (tv *txMemoryView) GetAccount(_ context.Context, id fund.CardID) (fund.CardAccount, error) {
	return tv.parent.getAccountLocked(id)
}

func (tv *txMemoryView) FindAccountByUID(_ context.Context, company fund.CompanyID, uid string) (fund.CardAccount, error) {
	return tv.parent.findAccountByUIDLocked(company, uid)
}

func (tv *txMemoryView) ListAccounts(_ context.Context, filter fund.AccountFilter) ([]fund.CardAccount, error) {
	return tv.parent.listAccountsLocked(filter), nil
}

func (tv *txMemoryView) MutateAccount(_ context.Context, id fund.CardID, fn fund.AccountMutation) (fund.CardAccount, error) {
	return tv.parent.mutateAccountLocked(id, fn)
}

func (tv *txMemoryView) SaveRecharge(_ context.Context, r fund.RechargeRequest) error {
	tv.parent.recharges[r.ID] = r
	return nil
}

func (tv *txMemoryView) GetRecharge(_ context.Context, id fund.RechargeID) (fund.RechargeRequest, error) {
	return tv.parent.getRechargeLocked(id)
}

func (tv *txMemoryView) ListRecharges(_ context.Context, filter fund.RechargeFilter) ([]fund.RechargeRequest, error) {
	return tv.parent.listRechargesLocked(filter), nil
}

func (tv *txMemoryView) DeleteRecharge(_ context.Context, id fund.RechargeID) error {
	return tv.parent.deleteRechargeLocked(id)
}

func (tv *txMemoryView) AppendAudit(_ context.Context, e fund.AuditEntry) error {
	tv.parent.audit = append(tv.parent.audit, e)
	return nil
}

func (tv *txMemoryView) ListAudit(_ context.Context, filter fund.AuditFilter) ([]fund.AuditEntry, error) {
	return tv.parent.listAuditLocked(filter), nil
}
