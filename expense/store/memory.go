// Package store provides an in-memory expense and batch store.
package store

import (
	"context"
	"slices"
	"sync"

	"github.com/warp/fuel-ledger/expense"
	"github.com/warp/fuel-ledger/fund"
)

var (
	_ expense.ExpenseStore = (*Memory)(nil)
	_ expense.BatchStore   = (*Memory)(nil)
)

type hashKey struct {
	company fund.CompanyID
	hash    string
}

// Memory implements expense.ExpenseStore and expense.BatchStore.
type Memory struct {
	mu       sync.RWMutex
	expenses map[expense.ExpenseID]expense.ExpenseRecord
	byHash   map[hashKey]expense.ExpenseID
	order    []expense.ExpenseID
	batches  map[expense.BatchID]expense.BatchJob
	lines    map[expense.BatchID][]expense.BatchLine
}

func NewMemory() *Memory {
	return &Memory{
		expenses: make(map[expense.ExpenseID]expense.ExpenseRecord),
		byHash:   make(map[hashKey]expense.ExpenseID),
		batches:  make(map[expense.BatchID]expense.BatchJob),
		lines:    make(map[expense.BatchID][]expense.BatchLine),
	}
}

func (m *Memory) CreateExpense(_ context.Context, e expense.ExpenseRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := hashKey{company: e.CompanyID, hash: e.DedupHash}
	if _, exists := m.byHash[k]; exists {
		return expense.ErrDuplicateHash
	}
	m.expenses[e.ID] = e
	m.byHash[k] = e.ID
	m.order = append(m.order, e.ID)
	return nil
}

func (m *Memory) GetExpense(_ context.Context, id expense.ExpenseID) (expense.ExpenseRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.expenses[id]
	if !ok {
		return expense.ExpenseRecord{}, expense.ErrExpenseNotFound
	}
	return e, nil
}

func (m *Memory) FindExpenseByHash(_ context.Context, company fund.CompanyID, hash string) (expense.ExpenseRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byHash[hashKey{company: company, hash: hash}]
	if !ok {
		return expense.ExpenseRecord{}, expense.ErrExpenseNotFound
	}
	return m.expenses[id], nil
}

func (m *Memory) ListExpenses(_ context.Context, filter expense.ExpenseFilter) ([]expense.ExpenseRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []expense.ExpenseRecord
	for _, id := range m.order {
		if e := m.expenses[id]; filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) UpdateExpenseState(_ context.Context, e expense.ExpenseRecord, from expense.ExpenseState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.expenses[e.ID]
	if !ok {
		return expense.ErrExpenseNotFound
	}
	if cur.State != from {
		return expense.StateConflict(e.ID, cur.State, from)
	}
	cur.State = e.State
	cur.ValidatedBy = e.ValidatedBy
	cur.ValidatedAt = e.ValidatedAt
	cur.RejectionReason = e.RejectionReason
	m.expenses[e.ID] = cur
	return nil
}

func (m *Memory) CreateBatch(_ context.Context, b expense.BatchJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches[b.ID] = b
	return nil
}

func (m *Memory) UpdateBatch(_ context.Context, b expense.BatchJob, from expense.BatchState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.batches[b.ID]
	if !ok {
		return expense.ErrBatchNotFound
	}
	if cur.State != from {
		return expense.BatchConflict(b.ID, cur.State)
	}
	m.batches[b.ID] = b
	return nil
}

func (m *Memory) GetBatch(_ context.Context, id expense.BatchID) (expense.BatchJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.batches[id]
	if !ok {
		return expense.BatchJob{}, expense.ErrBatchNotFound
	}
	return b, nil
}

func (m *Memory) ListBatches(_ context.Context, filter expense.BatchFilter) ([]expense.BatchJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []expense.BatchJob
	for _, b := range m.batches {
		if filter.Matches(b) {
			out = append(out, b)
		}
	}
	slices.SortFunc(out, func(a, b expense.BatchJob) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func (m *Memory) AppendLine(_ context.Context, l expense.BatchLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.batches[l.BatchID]; !ok {
		return expense.ErrBatchNotFound
	}
	m.lines[l.BatchID] = append(m.lines[l.BatchID], l)
	return nil
}

func (m *Memory) ListLines(_ context.Context, id expense.BatchID) ([]expense.BatchLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.batches[id]; !ok {
		return nil, expense.ErrBatchNotFound
	}
	out := slices.Clone(m.lines[id])
	slices.SortFunc(out, func(a, b expense.BatchLine) int { return a.Sequence - b.Sequence })
	return out, nil
}
