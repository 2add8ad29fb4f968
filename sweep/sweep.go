/*
Package sweep runs the time-based lifecycle transitions of savings accounts.

PURPOSE:
  Blocked savings accounts move to the cold store once their block has
  started, and come back to the primary store once it has ended. Nobody
  triggers these moves by hand; a Scheduler runs both sweeps periodically
  and the admin API can force a run.

ARCHIVE SWEEP:
  candidates: primary, blocked savings, BlockStart <= now, not archived
  per account: lock -> re-read in tx -> banking.Archive -> cold client
               -> cold account -> primary update -> audit

UNARCHIVE SWEEP:
  candidates: cold, archived savings, BlockEnd <= now, not restored
  per account: lock -> primary tx (re-insert client/account if missing)
               -> banking.Unarchive -> primary update -> audit
               -> cold MarkRestored

FAILURES:
  Each account is processed on its own. A failure is logged, counted in
  Result.Failed and the sweep moves on. Cold account writes are upserts
  keyed by id, so a retried account never duplicates its archive copy and
  the copy always carries the block period primary holds.

SEE ALSO:
  - banking/lifecycle.go: Archive, Unarchive and their eligibility
  - banking/store.go: ColdStore contract
  - scheduler.go: periodic runner
*/
package sweep

import (
	"github.com/google/uuid"

	"github.com/warp/compte-engine/banking"
)

// Result counts what a sweep did.
type Result struct {
	Scanned   int `json:"scanned"`
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

type Deps struct {
	Store  banking.TxStore
	Cold   banking.ColdStore
	Locker banking.Locker
	Clock  banking.Clock
	NewID  func() string
	// Actor is recorded in the audit log. Defaults to banking.SystemActor.
	Actor *banking.Actor
}

// Sweeper owns both sweeps. It shares the store and locker with the
// account service so sweeps and manual operations serialize per account.
type Sweeper struct {
	store  banking.TxStore
	cold   banking.ColdStore
	locker banking.Locker
	clock  banking.Clock
	newID  func() string
	actor  banking.Actor
}

func New(d Deps) *Sweeper {
	s := &Sweeper{
		store:  d.Store,
		cold:   d.Cold,
		locker: d.Locker,
		clock:  d.Clock,
		newID:  d.NewID,
		actor:  banking.SystemActor,
	}
	if s.locker == nil {
		s.locker = banking.NewKeyedLocker()
	}
	if s.clock == nil {
		s.clock = banking.SystemClock{}
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if d.Actor != nil {
		s.actor = *d.Actor
	}
	return s
}
