// Package store provides in-memory implementations of the banking store
// interfaces for tests and local development.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/warp/compte-engine/banking"
)

// =============================================================================
// MEMORY STORE - In-memory primary tier (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	st *state
}

var _ banking.TxStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

// state holds the maps. Its methods assume the caller holds Memory.mu.
type state struct {
	accounts map[banking.AccountID]*banking.Account
	numbers  map[string]banking.AccountID
	clients  map[banking.ClientID]*banking.Client
	entries  []banking.Entry
	audit    []banking.AuditRecord
}

func newState() *state {
	return &state{
		accounts: make(map[banking.AccountID]*banking.Account),
		numbers:  make(map[string]banking.AccountID),
		clients:  make(map[banking.ClientID]*banking.Client),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.accounts {
		c.accounts[k] = v.Clone()
	}
	for k, v := range s.numbers {
		c.numbers[k] = v
	}
	for k, v := range s.clients {
		c.clients[k] = v.Clone()
	}
	c.entries = append([]banking.Entry(nil), s.entries...)
	c.audit = append([]banking.AuditRecord(nil), s.audit...)
	return c
}

// WithTx runs fn against a snapshot and swaps it in only on success.
func (m *Memory) WithTx(ctx context.Context, fn func(banking.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.st.clone()
	if err := fn(&view{st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.st = work
	return nil
}

func (m *Memory) read(fn func(*view) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&view{st: m.st})
}

func (m *Memory) write(fn func(*view) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&view{st: m.st})
}

// =============================================================================
// Store methods on Memory delegate to a view under the right lock.
// =============================================================================

func (m *Memory) GetAccount(ctx context.Context, id banking.AccountID) (a *banking.Account, err error) {
	err = m.read(func(v *view) error { a, err = v.GetAccount(ctx, id); return err })
	return a, err
}

func (m *Memory) GetAccountByNumber(ctx context.Context, number string) (a *banking.Account, err error) {
	err = m.read(func(v *view) error { a, err = v.GetAccountByNumber(ctx, number); return err })
	return a, err
}

func (m *Memory) AccountNumberExists(ctx context.Context, number string) (ok bool, err error) {
	err = m.read(func(v *view) error { ok, err = v.AccountNumberExists(ctx, number); return err })
	return ok, err
}

func (m *Memory) CreateAccount(ctx context.Context, a *banking.Account) error {
	return m.write(func(v *view) error { return v.CreateAccount(ctx, a) })
}

func (m *Memory) UpdateAccount(ctx context.Context, a *banking.Account) error {
	return m.write(func(v *view) error { return v.UpdateAccount(ctx, a) })
}

func (m *Memory) ListAccounts(ctx context.Context, f banking.AccountFilter) (out []*banking.Account, total int, err error) {
	err = m.read(func(v *view) error { out, total, err = v.ListAccounts(ctx, f); return err })
	return out, total, err
}

func (m *Memory) ArchiveCandidates(ctx context.Context, now time.Time) (out []*banking.Account, err error) {
	err = m.read(func(v *view) error { out, err = v.ArchiveCandidates(ctx, now); return err })
	return out, err
}

func (m *Memory) GetClient(ctx context.Context, id banking.ClientID) (c *banking.Client, err error) {
	err = m.read(func(v *view) error { c, err = v.GetClient(ctx, id); return err })
	return c, err
}

func (m *Memory) FindClientByContact(ctx context.Context, email, phone string) (c *banking.Client, err error) {
	err = m.read(func(v *view) error { c, err = v.FindClientByContact(ctx, email, phone); return err })
	return c, err
}

func (m *Memory) CreateClient(ctx context.Context, c *banking.Client) error {
	return m.write(func(v *view) error { return v.CreateClient(ctx, c) })
}

func (m *Memory) UpdateClient(ctx context.Context, c *banking.Client) error {
	return m.write(func(v *view) error { return v.UpdateClient(ctx, c) })
}

func (m *Memory) AppendEntry(ctx context.Context, e banking.Entry) error {
	return m.write(func(v *view) error { return v.AppendEntry(ctx, e) })
}

func (m *Memory) GetEntry(ctx context.Context, id banking.EntryID) (e *banking.Entry, err error) {
	err = m.read(func(v *view) error { e, err = v.GetEntry(ctx, id); return err })
	return e, err
}

func (m *Memory) SetEntryStatus(ctx context.Context, id banking.EntryID, from, to banking.EntryStatus) error {
	return m.write(func(v *view) error { return v.SetEntryStatus(ctx, id, from, to) })
}

func (m *Memory) EntriesForAccount(ctx context.Context, id banking.AccountID) (out []banking.Entry, err error) {
	err = m.read(func(v *view) error { out, err = v.EntriesForAccount(ctx, id); return err })
	return out, err
}

func (m *Memory) AppendAudit(ctx context.Context, r banking.AuditRecord) error {
	return m.write(func(v *view) error { return v.AppendAudit(ctx, r) })
}

func (m *Memory) QueryAudit(ctx context.Context, f banking.AuditFilter) (out []banking.AuditRecord, err error) {
	err = m.read(func(v *view) error { out, err = v.QueryAudit(ctx, f); return err })
	return out, err
}

// =============================================================================
// VIEW - the actual logic, shared by direct calls and WithTx
// =============================================================================

type view struct {
	st *state
}

func (v *view) GetAccount(_ context.Context, id banking.AccountID) (*banking.Account, error) {
	a, ok := v.st.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", banking.ErrNotFound, id)
	}
	return a.Clone(), nil
}

func (v *view) GetAccountByNumber(ctx context.Context, number string) (*banking.Account, error) {
	id, ok := v.st.numbers[number]
	if !ok {
		return nil, fmt.Errorf("%w: number %s", banking.ErrNotFound, number)
	}
	return v.GetAccount(ctx, id)
}

func (v *view) AccountNumberExists(_ context.Context, number string) (bool, error) {
	_, ok := v.st.numbers[number]
	return ok, nil
}

func (v *view) CreateAccount(_ context.Context, a *banking.Account) error {
	if _, ok := v.st.numbers[a.Number]; ok {
		return fmt.Errorf("%w: %s", banking.ErrDuplicateAccountNumber, a.Number)
	}
	if _, ok := v.st.accounts[a.ID]; ok {
		return fmt.Errorf("%w: account %s already exists", banking.ErrInvalidSpec, a.ID)
	}
	if a.Version == 0 {
		a.Version = 1
	}
	v.st.accounts[a.ID] = a.Clone()
	v.st.numbers[a.Number] = a.ID
	return nil
}

func (v *view) UpdateAccount(_ context.Context, a *banking.Account) error {
	cur, ok := v.st.accounts[a.ID]
	if !ok {
		return fmt.Errorf("%w: %s", banking.ErrNotFound, a.ID)
	}
	if cur.Version != a.Version {
		return fmt.Errorf("%w: account %s at version %d, have %d",
			banking.ErrConcurrentModification, a.ID, cur.Version, a.Version)
	}
	next := a.Clone()
	// Immutable columns
	next.InitialBalance = cur.InitialBalance
	next.Number = cur.Number
	next.Type = cur.Type
	next.ClientID = cur.ClientID
	next.CreatedAt = cur.CreatedAt
	next.Version = cur.Version + 1
	v.st.accounts[a.ID] = next
	a.Version = next.Version
	return nil
}

func (v *view) ListAccounts(_ context.Context, f banking.AccountFilter) ([]*banking.Account, int, error) {
	f = f.Normalize()
	search := strings.ToLower(strings.TrimSpace(f.Search))

	var matched []*banking.Account
	for _, a := range v.st.accounts {
		if !f.IncludeDeleted && a.DeletedAt != nil {
			continue
		}
		if f.ClientID != "" && a.ClientID != f.ClientID {
			continue
		}
		if f.Type != "" && a.Type != f.Type {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if search != "" {
			name := ""
			if c, ok := v.st.clients[a.ClientID]; ok {
				name = strings.ToLower(c.Name)
			}
			if !strings.Contains(strings.ToLower(a.Number), search) && !strings.Contains(name, search) {
				continue
			}
		}
		matched = append(matched, a)
	}

	sort.Slice(matched, func(i, j int) bool {
		less := lessBy(f.Sort, matched[i], matched[j])
		if f.Desc {
			return lessBy(f.Sort, matched[j], matched[i])
		}
		return less
	})

	total := len(matched)
	if f.Offset >= total {
		return []*banking.Account{}, total, nil
	}
	end := f.Offset + f.Limit
	if end > total {
		end = total
	}
	out := make([]*banking.Account, 0, end-f.Offset)
	for _, a := range matched[f.Offset:end] {
		out = append(out, a.Clone())
	}
	return out, total, nil
}

func lessBy(col string, a, b *banking.Account) bool {
	switch col {
	case "number":
		return a.Number < b.Number
	case "type":
		return a.Type < b.Type
	case "status":
		return a.Status < b.Status
	case "initial_balance":
		return a.InitialBalance.LessThan(b.InitialBalance)
	default:
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	}
}

func (v *view) ArchiveCandidates(_ context.Context, now time.Time) ([]*banking.Account, error) {
	var out []*banking.Account
	for _, a := range v.st.accounts {
		if banking.ArchiveEligible(a, now) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *view) GetClient(_ context.Context, id banking.ClientID) (*banking.Client, error) {
	c, ok := v.st.clients[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", banking.ErrClientNotFound, id)
	}
	return c.Clone(), nil
}

func (v *view) FindClientByContact(_ context.Context, email, phone string) (*banking.Client, error) {
	var ids []string
	for id := range v.st.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		c := v.st.clients[id]
		if (email != "" && strings.EqualFold(c.Email, email)) || (phone != "" && c.Phone == phone) {
			return c.Clone(), nil
		}
	}
	return nil, banking.ErrClientNotFound
}

func (v *view) CreateClient(_ context.Context, c *banking.Client) error {
	if _, ok := v.st.clients[c.ID]; ok {
		return fmt.Errorf("%w: client %s already exists", banking.ErrInvalidSpec, c.ID)
	}
	for _, other := range v.st.clients {
		if c.Email != "" && strings.EqualFold(other.Email, c.Email) {
			return fmt.Errorf("%w: email %s already registered", banking.ErrInvalidSpec, c.Email)
		}
	}
	v.st.clients[c.ID] = c.Clone()
	return nil
}

func (v *view) UpdateClient(_ context.Context, c *banking.Client) error {
	if _, ok := v.st.clients[c.ID]; !ok {
		return fmt.Errorf("%w: %s", banking.ErrClientNotFound, c.ID)
	}
	for id, other := range v.st.clients {
		if id != c.ID && c.Email != "" && strings.EqualFold(other.Email, c.Email) {
			return fmt.Errorf("%w: email %s already registered", banking.ErrInvalidSpec, c.Email)
		}
	}
	v.st.clients[c.ID] = c.Clone()
	return nil
}

func (v *view) AppendEntry(_ context.Context, e banking.Entry) error {
	for _, existing := range v.st.entries {
		if existing.ID == e.ID || (e.Number != "" && existing.Number == e.Number) {
			return fmt.Errorf("%w: entry %s already recorded", banking.ErrInvalidSpec, e.ID)
		}
	}
	v.st.entries = append(v.st.entries, e)
	return nil
}

func (v *view) GetEntry(_ context.Context, id banking.EntryID) (*banking.Entry, error) {
	for _, e := range v.st.entries {
		if e.ID == id {
			cp := e
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", banking.ErrEntryNotFound, id)
}

func (v *view) SetEntryStatus(_ context.Context, id banking.EntryID, from, to banking.EntryStatus) error {
	for i := range v.st.entries {
		if v.st.entries[i].ID != id {
			continue
		}
		if v.st.entries[i].Status != from {
			return fmt.Errorf("%w: entry %s is %s", banking.ErrConcurrentModification, id, v.st.entries[i].Status)
		}
		v.st.entries[i].Status = to
		return nil
	}
	return fmt.Errorf("%w: %s", banking.ErrEntryNotFound, id)
}

func (v *view) EntriesForAccount(_ context.Context, id banking.AccountID) ([]banking.Entry, error) {
	var out []banking.Entry
	for _, e := range v.st.entries {
		if e.Touches(id) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

func (v *view) AppendAudit(_ context.Context, r banking.AuditRecord) error {
	v.st.audit = append(v.st.audit, r)
	return nil
}

func (v *view) QueryAudit(_ context.Context, f banking.AuditFilter) ([]banking.AuditRecord, error) {
	ops := make(map[banking.AuditOperation]bool, len(f.Operations))
	for _, op := range f.Operations {
		ops[op] = true
	}
	var out []banking.AuditRecord
	for _, r := range v.st.audit {
		if f.AccountID != "" && r.AccountID != f.AccountID {
			continue
		}
		if f.ActorID != "" && r.ActorID != f.ActorID {
			continue
		}
		if len(ops) > 0 && !ops[r.Operation] {
			continue
		}
		if f.From != nil && r.At.Before(*f.From) {
			continue
		}
		if f.To != nil && r.At.After(*f.To) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}
