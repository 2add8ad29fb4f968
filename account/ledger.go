package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/compte-engine/banking"
)

// =============================================================================
// BALANCE
// =============================================================================

// ComputeBalance derives the current balance from the initial balance and
// the validated entries touching the account. Account and entries are read
// in one transaction.
func (s *Service) ComputeBalance(ctx context.Context, id banking.AccountID) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.store.WithTx(ctx, func(tx banking.Store) error {
		acc, err := tx.GetAccount(ctx, id)
		if errors.Is(err, banking.ErrNotFound) && s.cold != nil {
			acc, err = s.cold.GetAccount(ctx, id)
			if errors.Is(err, banking.ErrNotFound) {
				err = fmt.Errorf("%w: %s", banking.ErrNotFound, id)
			}
		}
		if err != nil {
			return err
		}
		entries, err := tx.EntriesForAccount(ctx, id)
		if err != nil {
			return err
		}
		balance = banking.ComputeBalance(acc, entries)
		return nil
	})
	return balance, err
}

// Statement is an account with its derived balance and ledger.
type Statement struct {
	Account *banking.Account
	Balance decimal.Decimal
	Entries []banking.Entry
}

// GetStatement is the access-checked read used by the API.
func (s *Service) GetStatement(ctx context.Context, id banking.AccountID, actor banking.Actor) (*Statement, error) {
	acc, err := s.GetAccount(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.EntriesForAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Statement{
		Account: acc,
		Balance: banking.ComputeBalance(acc, entries),
		Entries: entries,
	}, nil
}

// =============================================================================
// POSTING
// =============================================================================

type EntrySpec struct {
	Type                 banking.EntryType
	Amount               decimal.Decimal
	Currency             string
	Description          string
	SourceAccountID      banking.AccountID
	DestinationAccountID banking.AccountID
	OccurredAt           *time.Time
	// Pending records the entry without affecting the balance until it is
	// validated with SetEntryStatus.
	Pending bool
}

func (e EntrySpec) validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("%w: unknown entry type %q", banking.ErrInvalidSpec, e.Type)
	}
	if !e.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", banking.ErrInvalidSpec)
	}
	if e.SourceAccountID == "" {
		return fmt.Errorf("%w: source account is required", banking.ErrInvalidSpec)
	}
	if e.Type.IsTransfer() {
		if e.DestinationAccountID == "" {
			return fmt.Errorf("%w: %s requires a destination account", banking.ErrInvalidSpec, e.Type)
		}
		if e.DestinationAccountID == e.SourceAccountID {
			return fmt.Errorf("%w: source and destination must differ", banking.ErrInvalidSpec)
		}
	} else if e.DestinationAccountID != "" {
		return fmt.Errorf("%w: %s cannot have a destination account", banking.ErrInvalidSpec, e.Type)
	}
	if len(e.Description) > 500 {
		return fmt.Errorf("%w: description too long", banking.ErrInvalidSpec)
	}
	return nil
}

// RecordEntry appends a ledger entry after checking that the accounts can
// transact: all referenced accounts active, and enough funds for debits.
func (s *Service) RecordEntry(ctx context.Context, actor banking.Actor, spec EntrySpec) (*banking.Entry, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, spec.SourceAccountID, spec.DestinationAccountID)
	if err != nil {
		return nil, fmt.Errorf("lock accounts: %w", err)
	}
	defer unlock()

	var (
		recorded *banking.Entry
		audited  banking.AuditRecord
	)
	err = s.store.WithTx(ctx, func(tx banking.Store) error {
		now := s.clock.Now()

		src, err := tx.GetAccount(ctx, spec.SourceAccountID)
		if err != nil {
			return err
		}
		if err := authorizeRead(actor, src); err != nil {
			return err
		}
		if err := requireTransactable(src); err != nil {
			return err
		}
		currency := spec.Currency
		if currency == "" {
			currency = src.Currency
		}
		if !strings.EqualFold(currency, src.Currency) {
			return fmt.Errorf("%w: currency %s does not match account currency %s", banking.ErrInvalidSpec, currency, src.Currency)
		}

		if spec.DestinationAccountID != "" {
			dst, err := tx.GetAccount(ctx, spec.DestinationAccountID)
			if err != nil {
				return err
			}
			if err := requireTransactable(dst); err != nil {
				return err
			}
			if !strings.EqualFold(dst.Currency, src.Currency) {
				return fmt.Errorf("%w: cross-currency transfer %s -> %s", banking.ErrInvalidSpec, src.Currency, dst.Currency)
			}
		}

		status := banking.EntryValidated
		if spec.Pending {
			status = banking.EntryPending
		}
		if status == banking.EntryValidated && spec.Type.Debits() {
			if err := s.checkFunds(ctx, tx, src, spec.Amount); err != nil {
				return err
			}
		}

		occurredAt := now
		if spec.OccurredAt != nil {
			occurredAt = *spec.OccurredAt
		}
		e := banking.Entry{
			ID:                   s.newID(),
			Number:               s.numbers.TransactionNumber(now),
			Type:                 spec.Type,
			Amount:               spec.Amount,
			Currency:             src.Currency,
			Status:               status,
			Description:          spec.Description,
			OccurredAt:           occurredAt,
			SourceAccountID:      spec.SourceAccountID,
			DestinationAccountID: spec.DestinationAccountID,
			CreatedAt:            now,
		}
		if err := tx.AppendEntry(ctx, e); err != nil {
			return err
		}
		rec, err := s.audit(ctx, tx, actor, banking.AuditEntryRecorded, e.SourceAccountID, nil, entrySnapshotOf(&e))
		if err != nil {
			return err
		}
		recorded, audited = &e, rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	LogAudit(audited)

	zap.L().Info("Entry recorded",
		zap.String("entry_id", recorded.ID),
		zap.String("number", recorded.Number),
		zap.String("type", string(recorded.Type)),
		zap.String("amount", recorded.Amount.String()),
		zap.String("status", string(recorded.Status)),
		zap.String("source_account_id", recorded.SourceAccountID))
	return recorded, nil
}

// SetEntryStatus settles a pending entry. Validating a debit re-checks funds.
func (s *Service) SetEntryStatus(ctx context.Context, actor banking.Actor, entryID banking.EntryID, to banking.EntryStatus) (*banking.Entry, error) {
	if err := requireAdmin(actor, "settle entry"); err != nil {
		return nil, err
	}
	if !to.Valid() || !to.IsTerminal() {
		return nil, fmt.Errorf("%w: cannot move an entry to %q", banking.ErrInvalidSpec, to)
	}

	e, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	unlock, err := s.locker.Lock(ctx, e.SourceAccountID, e.DestinationAccountID)
	if err != nil {
		return nil, fmt.Errorf("lock accounts: %w", err)
	}
	defer unlock()

	var (
		updated *banking.Entry
		audited banking.AuditRecord
	)
	err = s.store.WithTx(ctx, func(tx banking.Store) error {
		cur, err := tx.GetEntry(ctx, entryID)
		if err != nil {
			return err
		}
		if cur.Status != banking.EntryPending {
			return fmt.Errorf("%w: entry %s is already %s", banking.ErrInvalidState, entryID, cur.Status)
		}
		if to == banking.EntryValidated && cur.Type.Debits() {
			src, err := tx.GetAccount(ctx, cur.SourceAccountID)
			if err != nil {
				return err
			}
			if err := requireTransactable(src); err != nil {
				return err
			}
			if err := s.checkFunds(ctx, tx, src, cur.Amount); err != nil {
				return err
			}
		}
		before := *cur
		if err := tx.SetEntryStatus(ctx, entryID, banking.EntryPending, to); err != nil {
			return err
		}
		cur.Status = to
		rec, err := s.audit(ctx, tx, actor, banking.AuditEntryStatus, cur.SourceAccountID, entrySnapshotOf(&before), entrySnapshotOf(cur))
		if err != nil {
			return err
		}
		updated, audited = cur, rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	LogAudit(audited)
	return updated, nil
}

func requireTransactable(a *banking.Account) error {
	if a.Status != banking.StatusActive {
		return &banking.InvalidStateError{AccountID: a.ID, Operation: "transact on", Status: a.Status}
	}
	return nil
}

func (s *Service) checkFunds(ctx context.Context, tx banking.Store, acc *banking.Account, amount decimal.Decimal) error {
	entries, err := tx.EntriesForAccount(ctx, acc.ID)
	if err != nil {
		return err
	}
	balance := banking.ComputeBalance(acc, entries)
	if balance.LessThan(amount) {
		return &banking.InsufficientFundsError{
			AccountID: acc.ID,
			Available: balance.StringFixed(banking.BalancePlaces),
			Requested: amount.StringFixed(banking.BalancePlaces),
		}
	}
	return nil
}
