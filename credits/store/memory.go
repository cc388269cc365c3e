// Package store provides an in-memory credits.Store implementation
// (for testing/dev).
package store

import (
	"context"
	"sync"

	"github.com/steeped/credit-engine/credits"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps records and the transaction log in maps under one mutex.
// It implements credits.Store, credits.Watcher and credits.Reporter.
type Memory struct {
	mu           sync.RWMutex
	records      map[credits.AccountID]credits.AccountCredits
	transactions []credits.Transaction
	subscribers  map[credits.AccountID]map[int]chan credits.AccountCredits
	nextSub      int
}

func NewMemory() *Memory {
	return &Memory{
		records:     make(map[credits.AccountID]credits.AccountCredits),
		subscribers: make(map[credits.AccountID]map[int]chan credits.AccountCredits),
	}
}

// =============================================================================
// RECORDS
// =============================================================================

func (m *Memory) GetRecord(_ context.Context, id credits.AccountID) (*credits.AccountCredits, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *Memory) CreateRecord(_ context.Context, rec credits.AccountCredits) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[rec.AccountID]; ok {
		return credits.ErrAlreadyInitialized
	}
	m.records[rec.AccountID] = rec
	m.notifyLocked(rec)
	return nil
}

// UpdateRecord applies fn to a copy of the record under the write lock
// and swaps the copy in only when fn succeeds. An fn error aborts the
// update with nothing written.
func (m *Memory) UpdateRecord(_ context.Context, id credits.AccountID, fn func(*credits.AccountCredits) error) (*credits.AccountCredits, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, credits.ErrAccountNotFound
	}

	updated := rec
	if err := fn(&updated); err != nil {
		return nil, err
	}
	m.records[id] = updated
	m.notifyLocked(updated)

	result := updated
	return &result, nil
}

func (m *Memory) FindByReferralCode(_ context.Context, code string) (*credits.AccountCredits, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, rec := range m.records {
		if rec.ReferralCode == code {
			result := rec
			return &result, nil
		}
	}
	return nil, nil
}

// =============================================================================
// TRANSACTION LOG
// =============================================================================

func (m *Memory) AppendTransaction(_ context.Context, tx credits.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx.Source == credits.SourceReferral {
		for _, existing := range m.transactions {
			if existing.Source == credits.SourceReferral &&
				existing.AccountID == tx.AccountID &&
				existing.ReferralAccountID == tx.ReferralAccountID {
				return credits.ErrReferralAlreadyCredited
			}
		}
	}

	m.transactions = append(m.transactions, tx)
	return nil
}

func (m *Memory) TransactionsByAccount(_ context.Context, id credits.AccountID, limit int) ([]credits.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Log is append-ordered; walk backwards for newest-first.
	var result []credits.Transaction
	for i := len(m.transactions) - 1; i >= 0; i-- {
		if m.transactions[i].AccountID != id {
			continue
		}
		result = append(result, m.transactions[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *Memory) HasReferralBonus(_ context.Context, referrerID, referredID credits.AccountID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, tx := range m.transactions {
		if tx.Source == credits.SourceReferral &&
			tx.AccountID == referrerID &&
			tx.ReferralAccountID == referredID {
			return true, nil
		}
	}
	return false, nil
}

// =============================================================================
// WATCHER
// =============================================================================

// Subscribe registers a balance feed for one account. The channel is
// buffered with capacity 1 and delivery is latest-wins: a pending,
// unread update is replaced rather than blocking the writer.
func (m *Memory) Subscribe(id credits.AccountID) (<-chan credits.AccountCredits, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan credits.AccountCredits, 1)
	subID := m.nextSub
	m.nextSub++

	if m.subscribers[id] == nil {
		m.subscribers[id] = make(map[int]chan credits.AccountCredits)
	}
	m.subscribers[id][subID] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if subs, ok := m.subscribers[id]; ok {
			if _, ok := subs[subID]; ok {
				delete(subs, subID)
				close(ch)
			}
		}
	}
	return ch, cancel
}

func (m *Memory) notifyLocked(rec credits.AccountCredits) {
	for _, ch := range m.subscribers[rec.AccountID] {
		// Drop the stale pending value so the latest always fits.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- rec:
		default:
		}
	}
}

// =============================================================================
// REPORTER
// =============================================================================

func (m *Memory) ListRecords(_ context.Context) ([]credits.AccountCredits, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]credits.AccountCredits, 0, len(m.records))
	for _, rec := range m.records {
		result = append(result, rec)
	}
	return result, nil
}

func (m *Memory) AllTransactions(_ context.Context, limit int) ([]credits.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []credits.Transaction
	for i := len(m.transactions) - 1; i >= 0; i-- {
		result = append(result, m.transactions[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}
