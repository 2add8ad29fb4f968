/*
lifecycle.go - Account lifecycle state machine

PURPOSE:
  Pure transitions on *Account. Each function validates the preconditions
  against the account as given and mutates it in place on success. On error
  the account is left untouched. Callers (account.Service, sweep) are
  responsible for running the transition under the account lock and inside
  a store transaction.

STATES & EVENTS:

  active   --block-->     blocked    (savings only)
  blocked  --unblock-->   active
  blocked  --archive-->   archived   (block start reached, not yet archived)
  archived --unarchive--> active     (block end reached)
  active   --delete-->    closed     (soft delete)

  inactive has no outgoing transition in this engine.

SEE ALSO:
  - account/service.go: Block/Unblock/Delete entry points
  - sweep/archive.go, sweep/unarchive.go: scheduled transitions
*/
package banking

import (
	"fmt"
	"strings"
	"time"
)

const (
	MinBlockDuration  = 1
	MaxBlockDuration  = 365
	MaxBlockReasonLen = 500

	// ExpiredUnblockReason is recorded when the unarchive sweep reactivates
	// an account whose block period ended.
	ExpiredUnblockReason = "block period expired"
)

type Event string

const (
	EventBlock     Event = "block"
	EventUnblock   Event = "unblock"
	EventArchive   Event = "archive"
	EventUnarchive Event = "unarchive"
	EventDelete    Event = "delete"
)

var transitions = map[AccountStatus]map[Event]AccountStatus{
	StatusActive: {
		EventBlock:  StatusBlocked,
		EventDelete: StatusClosed,
	},
	StatusBlocked: {
		EventUnblock: StatusActive,
		EventArchive: StatusArchived,
	},
	StatusArchived: {
		EventUnarchive: StatusActive,
	},
}

// CanTransition reports whether event is legal from status, ignoring
// type and time preconditions.
func CanTransition(from AccountStatus, ev Event) bool {
	_, ok := transitions[from][ev]
	return ok
}

// AllowedEvents lists the events legal from an account's current state,
// including the savings-only restriction.
func AllowedEvents(a *Account) []Event {
	var out []Event
	for _, ev := range []Event{EventBlock, EventUnblock, EventArchive, EventUnarchive, EventDelete} {
		if !CanTransition(a.Status, ev) {
			continue
		}
		if (ev == EventBlock || ev == EventUnblock) && a.Type != AccountSavings {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// BlockRequest describes a time-bounded block.
type BlockRequest struct {
	Reason   string
	Duration int
	Unit     DurationUnit
	Start    *time.Time // nil means now
}

// Validate checks the request on its own, independent of any account.
func (r BlockRequest) Validate() error {
	reason := strings.TrimSpace(r.Reason)
	if reason == "" {
		return fmt.Errorf("%w: block reason is required", ErrInvalidSpec)
	}
	if len([]rune(reason)) > MaxBlockReasonLen {
		return fmt.Errorf("%w: block reason exceeds %d characters", ErrInvalidSpec, MaxBlockReasonLen)
	}
	if r.Duration < MinBlockDuration || r.Duration > MaxBlockDuration {
		return fmt.Errorf("%w: duration %d not in [%d, %d]", ErrInvalidDuration, r.Duration, MinBlockDuration, MaxBlockDuration)
	}
	if !r.Unit.Valid() {
		return fmt.Errorf("%w: unknown unit %q", ErrInvalidDuration, r.Unit)
	}
	return nil
}

func requireSavings(a *Account, op string) error {
	if a.Type != AccountSavings {
		return fmt.Errorf("%w: cannot %s a %s account", ErrInvalidAccountType, op, a.Type)
	}
	return nil
}

func requireStatus(a *Account, op string, want AccountStatus) error {
	if a.Status != want {
		return &InvalidStateError{AccountID: a.ID, Operation: op, Status: a.Status}
	}
	return nil
}

// Block moves a savings account from active to blocked.
func Block(a *Account, req BlockRequest, now time.Time) error {
	if err := requireSavings(a, "block"); err != nil {
		return err
	}
	if err := requireStatus(a, "block", StatusActive); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}

	start := now
	if req.Start != nil {
		start = *req.Start
	}
	end := req.Unit.AddTo(start, req.Duration)

	a.Status = StatusBlocked
	a.BlockReason = strings.TrimSpace(req.Reason)
	a.BlockStart = TimePtr(start)
	a.BlockEnd = TimePtr(end)
	a.UnblockReason = ""
	a.UnblockedAt = nil
	a.UpdatedAt = now
	return nil
}

// Unblock moves a blocked savings account back to active.
func Unblock(a *Account, reason string, now time.Time) error {
	if err := requireSavings(a, "unblock"); err != nil {
		return err
	}
	if err := requireStatus(a, "unblock", StatusBlocked); err != nil {
		return err
	}
	if len([]rune(reason)) > MaxBlockReasonLen {
		return fmt.Errorf("%w: unblock reason exceeds %d characters", ErrInvalidSpec, MaxBlockReasonLen)
	}

	a.Status = StatusActive
	clearBlock(a)
	a.UnblockReason = strings.TrimSpace(reason)
	a.UnblockedAt = TimePtr(now)
	a.UpdatedAt = now
	return nil
}

// ArchiveEligible reports whether the archive sweep should pick the account.
func ArchiveEligible(a *Account, now time.Time) bool {
	return a.Status == StatusBlocked &&
		a.Type == AccountSavings &&
		a.BlockStart != nil && !a.BlockStart.After(now) &&
		a.ArchivedAt == nil
}

// Archive moves a blocked account whose block has started to archived.
func Archive(a *Account, now time.Time) error {
	if err := requireStatus(a, "archive", StatusBlocked); err != nil {
		return err
	}
	if !ArchiveEligible(a, now) {
		return &InvalidStateError{AccountID: a.ID, Operation: "archive", Status: a.Status}
	}
	a.Status = StatusArchived
	a.ArchivedAt = TimePtr(now)
	a.UpdatedAt = now
	return nil
}

// UnarchiveEligible reports whether the block period of an archived account
// has ended.
func UnarchiveEligible(a *Account, now time.Time) bool {
	return a.Status == StatusArchived &&
		a.Type == AccountSavings &&
		a.BlockEnd != nil && !a.BlockEnd.After(now)
}

// Unarchive reactivates an archived account whose block period ended.
func Unarchive(a *Account, now time.Time) error {
	if err := requireStatus(a, "unarchive", StatusArchived); err != nil {
		return err
	}
	if !UnarchiveEligible(a, now) {
		return &InvalidStateError{AccountID: a.ID, Operation: "unarchive", Status: a.Status}
	}
	a.Status = StatusActive
	clearBlock(a)
	a.ArchivedAt = nil
	a.DeletedAt = nil
	a.UnblockedAt = TimePtr(now)
	a.UnblockReason = ExpiredUnblockReason
	a.UpdatedAt = now
	return nil
}

// SoftDelete closes an active account. The row is kept.
func SoftDelete(a *Account, now time.Time) error {
	if err := requireStatus(a, "delete", StatusActive); err != nil {
		return err
	}
	a.Status = StatusClosed
	a.DeletedAt = TimePtr(now)
	a.UpdatedAt = now
	return nil
}

func clearBlock(a *Account) {
	a.BlockReason = ""
	a.BlockStart = nil
	a.BlockEnd = nil
}
