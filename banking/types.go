/*
Package banking provides the core of the compte engine.

PURPOSE:
  This package holds the domain types and pure algorithms shared by every
  other package: accounts (comptes), clients, ledger entries, the balance
  calculator and the lifecycle state machine. Nothing here performs I/O;
  storage, locking and auditing are reached through the interfaces in
  store.go.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: a compte with an immutable initial balance and a lifecycle status
  - Entry: an append-only ledger movement touching one or two accounts
  - Client: the holder of one or more accounts
  - Actor: who is calling (admin or account owner)

DESIGN PRINCIPLES:
  1. Balance is never stored, it is replayed from InitialBalance + entries
  2. Precision: amounts are decimal.Decimal, never float64
  3. Entry amounts are always positive; direction comes from Type
  4. Accounts are never hard-deleted (closed + DeletedAt)

USAGE:
  acc := &banking.Account{Type: banking.AccountSavings, InitialBalance: decimal.NewFromInt(500000)}
  bal := banking.ComputeBalance(acc, entries)

SEE ALSO:
  - balance.go: balance replay and rounding rule
  - lifecycle.go: block/unblock/archive/unarchive/delete transitions
  - store.go: repository, lock and audit interfaces
*/
package banking

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is used when an account or entry is created without one.
const DefaultCurrency = "FCFA"

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID = string
type ClientID = string
type EntryID = string

// =============================================================================
// ACCOUNT
// =============================================================================

type AccountType string

const (
	AccountChecking AccountType = "checking"
	AccountSavings  AccountType = "savings"
	AccountCurrent  AccountType = "current"
)

func (t AccountType) Valid() bool {
	switch t {
	case AccountChecking, AccountSavings, AccountCurrent:
		return true
	}
	return false
}

type AccountStatus string

const (
	StatusActive   AccountStatus = "active"
	StatusInactive AccountStatus = "inactive"
	StatusBlocked  AccountStatus = "blocked"
	StatusArchived AccountStatus = "archived"
	StatusClosed   AccountStatus = "closed"
)

func (s AccountStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusBlocked, StatusArchived, StatusClosed:
		return true
	}
	return false
}

type Account struct {
	ID             AccountID
	Number         string
	Type           AccountType
	Currency       string
	InitialBalance decimal.Decimal
	Status         AccountStatus
	ClientID       ClientID

	// Block metadata, set while blocked
	BlockReason string
	BlockStart  *time.Time
	BlockEnd    *time.Time

	// Unblock metadata, set by the last unblock/unarchive
	UnblockReason string
	UnblockedAt   *time.Time

	ArchivedAt *time.Time
	DeletedAt  *time.Time

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy so callers can mutate without aliasing time pointers.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	c.BlockStart = cloneTime(a.BlockStart)
	c.BlockEnd = cloneTime(a.BlockEnd)
	c.UnblockedAt = cloneTime(a.UnblockedAt)
	c.ArchivedAt = cloneTime(a.ArchivedAt)
	c.DeletedAt = cloneTime(a.DeletedAt)
	return &c
}

// IsDeleted reports whether the account was soft-deleted.
func (a *Account) IsDeleted() bool { return a.DeletedAt != nil }

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TimePtr is a small helper for optional timestamps.
func TimePtr(t time.Time) *time.Time { return &t }

// =============================================================================
// CLIENT
// =============================================================================

type ClientStatus string

const (
	ClientActive    ClientStatus = "active"
	ClientInactive  ClientStatus = "inactive"
	ClientSuspended ClientStatus = "suspended"
)

type Client struct {
	ID             ClientID
	Name           string
	NationalID     string
	Email          string
	Phone          string
	Address        string
	Status         ClientStatus
	PasswordHash   string
	ActivationCode string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (c *Client) Clone() *Client {
	if c == nil {
		return nil
	}
	v := *c
	return &v
}

// =============================================================================
// LEDGER ENTRY - Append-only movement
// =============================================================================

type EntryType string

const (
	EntryDeposit          EntryType = "deposit"
	EntryWithdrawal       EntryType = "withdrawal"
	EntryTransfer         EntryType = "transfer"
	EntryInternalTransfer EntryType = "internal-transfer"
	EntryFee              EntryType = "fee"
)

func (t EntryType) Valid() bool {
	switch t {
	case EntryDeposit, EntryWithdrawal, EntryTransfer, EntryInternalTransfer, EntryFee:
		return true
	}
	return false
}

// IsTransfer reports whether the entry moves money between two accounts.
func (t EntryType) IsTransfer() bool {
	return t == EntryTransfer || t == EntryInternalTransfer
}

// Debits reports whether the entry reduces the source account balance.
func (t EntryType) Debits() bool {
	return t == EntryWithdrawal || t == EntryFee || t.IsTransfer()
}

type EntryStatus string

const (
	EntryPending   EntryStatus = "pending"
	EntryValidated EntryStatus = "validated"
	EntryRejected  EntryStatus = "rejected"
	EntryCancelled EntryStatus = "cancelled"
)

func (s EntryStatus) Valid() bool {
	switch s {
	case EntryPending, EntryValidated, EntryRejected, EntryCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further status change is allowed.
func (s EntryStatus) IsTerminal() bool { return s != EntryPending }

type Entry struct {
	ID                   EntryID
	Number               string
	Type                 EntryType
	Amount               decimal.Decimal
	Currency             string
	Status               EntryStatus
	Description          string
	OccurredAt           time.Time
	SourceAccountID      AccountID
	DestinationAccountID AccountID // empty unless Type.IsTransfer()
	CreatedAt            time.Time
}

// Touches reports whether the entry references the account on either side.
func (e Entry) Touches(id AccountID) bool {
	return e.SourceAccountID == id || (e.DestinationAccountID != "" && e.DestinationAccountID == id)
}

// =============================================================================
// ACTOR - Caller identity, resolved by the (external) auth layer
// =============================================================================

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleClient Role = "client"
	RoleSystem Role = "system"
)

type Actor struct {
	ID   string
	Role Role
	// ClientID is set for RoleClient actors.
	ClientID ClientID
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin || a.Role == RoleSystem }

// SystemActor is used by the scheduler for sweep audit records.
var SystemActor = Actor{ID: "lifecycle-scheduler", Role: RoleSystem}
