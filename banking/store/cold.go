package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/compte-engine/banking"
)

// =============================================================================
// MEMORY COLD STORE - In-memory archive tier (for testing/dev)
// =============================================================================

type coldAccount struct {
	acc        *banking.Account
	restoredAt *time.Time
}

type MemoryCold struct {
	mu       sync.RWMutex
	accounts map[banking.AccountID]*coldAccount
	clients  map[banking.ClientID]*banking.Client

	// FailArchive makes ArchiveAccount fail for the given ids. Used to
	// exercise partial-failure handling in sweeps.
	FailArchive map[banking.AccountID]error
}

var _ banking.ColdStore = (*MemoryCold)(nil)

func NewMemoryCold() *MemoryCold {
	return &MemoryCold{
		accounts:    make(map[banking.AccountID]*coldAccount),
		clients:     make(map[banking.ClientID]*banking.Client),
		FailArchive: make(map[banking.AccountID]error),
	}
}

func (m *MemoryCold) GetAccount(_ context.Context, id banking.AccountID) (*banking.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ca, ok := m.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s (cold)", banking.ErrNotFound, id)
	}
	return ca.acc.Clone(), nil
}

func (m *MemoryCold) GetAccountByNumber(_ context.Context, number string) (*banking.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ca := range m.accounts {
		if ca.acc.Number == number {
			return ca.acc.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: number %s (cold)", banking.ErrNotFound, number)
}

func (m *MemoryCold) GetClient(_ context.Context, id banking.ClientID) (*banking.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s (cold)", banking.ErrClientNotFound, id)
	}
	return c.Clone(), nil
}

func (m *MemoryCold) ArchiveClient(_ context.Context, c *banking.Client, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[c.ID]; !ok {
		m.clients[c.ID] = c.Clone()
	}
	return nil
}

func (m *MemoryCold) ArchiveAccount(_ context.Context, a *banking.Account, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailArchive[a.ID]; err != nil {
		return &banking.StorageError{Op: "archive account", Err: err}
	}
	cp := a.Clone()
	cp.Status = banking.StatusArchived
	cp.ArchivedAt = banking.TimePtr(at)
	if cur, ok := m.accounts[a.ID]; ok && cur.restoredAt == nil {
		cp.ArchivedAt = cur.acc.ArchivedAt
	}
	m.accounts[a.ID] = &coldAccount{acc: cp}
	return nil
}

func (m *MemoryCold) UnarchiveCandidates(_ context.Context, now time.Time) ([]*banking.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*banking.Account
	for _, ca := range m.accounts {
		if ca.restoredAt == nil && banking.UnarchiveEligible(ca.acc, now) {
			out = append(out, ca.acc.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryCold) MarkRestored(_ context.Context, id banking.AccountID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ca, ok := m.accounts[id]
	if !ok {
		return fmt.Errorf("%w: %s (cold)", banking.ErrNotFound, id)
	}
	ca.acc.Status = banking.StatusActive
	ca.restoredAt = banking.TimePtr(at)
	return nil
}

// IsRestored reports whether the cold copy has been marked restored.
func (m *MemoryCold) IsRestored(id banking.AccountID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ca, ok := m.accounts[id]
	return ok && ca.restoredAt != nil
}
