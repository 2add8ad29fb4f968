/*
store.go - Persistence, locking and audit interfaces

PURPOSE:
  Defines the boundary between the engine and its storage tiers.

  Primary store: live accounts, clients, the ledger and the audit log.
  Cold store:    archived copies of blocked savings accounts and their clients.

  The service picks a tier by status: lookups hit primary first and fall
  back to cold. Only the sweeps write to cold.

KEY INTERFACES:
  Store:     primary-tier reads and writes
  TxStore:   Store + WithTx for atomic multi-row changes
  ColdStore: archive tier, insert-if-absent semantics
  Locker:    per-account mutual exclusion (in-process or redis)

LEDGER CONTRACT:
  Entries are append-only. The only mutation is a status change from
  pending to a terminal status, guarded by the expected current status.

OPTIMISTIC LOCKING:
  UpdateAccount compares Account.Version with the stored version and bumps
  it on success. A mismatch returns ErrConcurrentModification.

IMPLEMENTATIONS:
  - store/sqlite: primary on SQLite
  - store/cold: cold on gorm (postgres, sqlite in tests)
  - banking/store: in-memory primary and cold for tests
  - store/redislock: distributed Locker

SEE ALSO:
  - account/service.go: uses TxStore, ColdStore, Locker
  - sweep/: moves accounts between tiers
*/
package banking

import (
	"context"
	"encoding/json"
	"time"
)

// =============================================================================
// FILTERS
// =============================================================================

// AccountFilter drives listing. Zero values mean "no constraint".
type AccountFilter struct {
	ClientID       ClientID
	Type           AccountType
	Status         AccountStatus
	Search         string // matches number or holder name
	Sort           string // created_at | number | type | status | initial_balance
	Desc           bool
	Limit          int
	Offset         int
	IncludeDeleted bool
}

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

var sortColumns = map[string]bool{
	"created_at": true, "number": true, "type": true, "status": true, "initial_balance": true,
}

// Normalize clamps pagination and defaults sorting.
func (f AccountFilter) Normalize() AccountFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if !sortColumns[f.Sort] {
		f.Sort = "created_at"
		f.Desc = true
	}
	return f
}

// =============================================================================
// PRIMARY STORE
// =============================================================================

type AccountStore interface {
	// GetAccount returns the account including soft-deleted rows, or ErrNotFound.
	GetAccount(ctx context.Context, id AccountID) (*Account, error)
	GetAccountByNumber(ctx context.Context, number string) (*Account, error)
	AccountNumberExists(ctx context.Context, number string) (bool, error)
	CreateAccount(ctx context.Context, a *Account) error
	// UpdateAccount never writes InitialBalance, Number, Type or ClientID.
	UpdateAccount(ctx context.Context, a *Account) error
	ListAccounts(ctx context.Context, f AccountFilter) ([]*Account, int, error)
	// ArchiveCandidates returns blocked savings accounts with BlockStart <= now
	// and no ArchivedAt.
	ArchiveCandidates(ctx context.Context, now time.Time) ([]*Account, error)
}

type ClientStore interface {
	// GetClient returns ErrClientNotFound when absent.
	GetClient(ctx context.Context, id ClientID) (*Client, error)
	// FindClientByContact matches email OR phone; ErrClientNotFound when none.
	FindClientByContact(ctx context.Context, email, phone string) (*Client, error)
	CreateClient(ctx context.Context, c *Client) error
	UpdateClient(ctx context.Context, c *Client) error
}

type LedgerStore interface {
	AppendEntry(ctx context.Context, e Entry) error
	GetEntry(ctx context.Context, id EntryID) (*Entry, error)
	// SetEntryStatus changes status only if the stored status equals from.
	SetEntryStatus(ctx context.Context, id EntryID, from, to EntryStatus) error
	// EntriesForAccount returns entries where the account is source or
	// destination, ordered by OccurredAt.
	EntriesForAccount(ctx context.Context, id AccountID) ([]Entry, error)
}

type Store interface {
	AccountStore
	ClientStore
	LedgerStore
	AuditLog
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// COLD STORE
// =============================================================================

type ColdStore interface {
	GetAccount(ctx context.Context, id AccountID) (*Account, error)
	GetAccountByNumber(ctx context.Context, number string) (*Account, error)
	GetClient(ctx context.Context, id ClientID) (*Client, error)

	// ArchiveClient inserts the client if absent.
	ArchiveClient(ctx context.Context, c *Client, at time.Time) error
	// ArchiveAccount writes the account, overwriting an existing copy with the
	// given state. The first ArchivedAt of a copy not yet restored is kept.
	ArchiveAccount(ctx context.Context, a *Account, at time.Time) error

	// UnarchiveCandidates returns archived savings copies with BlockEnd <= now
	// that have not been restored yet.
	UnarchiveCandidates(ctx context.Context, now time.Time) ([]*Account, error)
	// MarkRestored flags the copy as active so later sweeps skip it.
	MarkRestored(ctx context.Context, id AccountID, at time.Time) error
}

// =============================================================================
// LOCKER
// =============================================================================

// Locker serializes lifecycle changes per account. Implementations must
// acquire multiple ids in ascending order and release them all via unlock.
type Locker interface {
	Lock(ctx context.Context, ids ...AccountID) (func(), error)
}

// =============================================================================
// AUDIT LOG - Append-only record of who changed what
// =============================================================================

type AuditOperation string

const (
	AuditAccountCreated  AuditOperation = "account_created"
	AuditAccountUpdated  AuditOperation = "account_updated"
	AuditAccountBlocked  AuditOperation = "account_blocked"
	AuditAccountUnlocked AuditOperation = "account_unblocked"
	AuditAccountDeleted  AuditOperation = "account_deleted"
	AuditAccountArchived AuditOperation = "account_archived"
	AuditAccountRestored AuditOperation = "account_restored"
	AuditEntryRecorded   AuditOperation = "entry_recorded"
	AuditEntryStatus     AuditOperation = "entry_status_changed"
)

type AuditRecord struct {
	ID        string
	At        time.Time
	Operation AuditOperation
	ActorID   string
	ActorRole Role
	AccountID AccountID
	Before    json.RawMessage // nil for creations
	After     json.RawMessage
}

type AuditFilter struct {
	AccountID  AccountID
	ActorID    string
	Operations []AuditOperation
	From       *time.Time
	To         *time.Time
}

type AuditLog interface {
	AppendAudit(ctx context.Context, r AuditRecord) error
	QueryAudit(ctx context.Context, f AuditFilter) ([]AuditRecord, error)
}
