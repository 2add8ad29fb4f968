package sweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/warp/compte-engine/account"
	"github.com/warp/compte-engine/banking"
)

// RunUnarchiveSweep reactivates archived savings accounts whose block
// period has ended and flags their cold copies as restored.
func (s *Sweeper) RunUnarchiveSweep(ctx context.Context) (Result, error) {
	var res Result
	if s.cold == nil {
		return res, fmt.Errorf("%w: unarchive sweep needs a cold store", banking.ErrStorageFailure)
	}

	now := s.clock.Now()
	candidates, err := s.cold.UnarchiveCandidates(ctx, now)
	if err != nil {
		return res, fmt.Errorf("list unarchive candidates: %w", err)
	}
	res.Scanned = len(candidates)

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		err := s.unarchiveOne(ctx, c, now)
		switch {
		case err == nil:
			res.Processed++
		case errors.Is(err, errSkip):
			res.Skipped++
		default:
			res.Failed++
			zap.L().Error("Unarchive failed",
				zap.String("account_id", c.ID),
				zap.String("number", c.Number),
				zap.Error(err))
		}
	}

	zap.L().Info("Unarchive sweep completed",
		zap.Time("now", now),
		zap.Int("scanned", res.Scanned),
		zap.Int("processed", res.Processed),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed))
	return res, nil
}

func (s *Sweeper) unarchiveOne(ctx context.Context, coldCopy *banking.Account, now time.Time) error {
	id := coldCopy.ID
	unlock, err := s.locker.Lock(ctx, id)
	if err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	defer unlock()

	var audited []banking.AuditRecord
	err = s.store.WithTx(ctx, func(tx banking.Store) error {
		acc, err := tx.GetAccount(ctx, id)
		if errors.Is(err, banking.ErrNotFound) {
			acc, err = s.reinsert(ctx, tx, coldCopy)
		}
		if err != nil {
			return err
		}

		// Primary already moved on (earlier run restored it but the cold
		// flag was not written). Only the flag is left to do.
		if acc.Status != banking.StatusArchived {
			return nil
		}
		if !banking.UnarchiveEligible(acc, now) {
			return errSkip
		}

		before := acc.Clone()
		if err := banking.Unarchive(acc, now); err != nil {
			return err
		}
		if err := tx.UpdateAccount(ctx, acc); err != nil {
			return err
		}
		rec, err := account.Audit(ctx, tx, s.newID(), now, s.actor, banking.AuditAccountRestored, id,
			account.AccountSnapshot(before), account.AccountSnapshot(acc))
		if err != nil {
			return err
		}
		audited = append(audited, rec)
		return nil
	})
	if err != nil {
		return err
	}
	account.LogAudit(audited...)

	if err := s.cold.MarkRestored(ctx, id, now); err != nil {
		return fmt.Errorf("mark restored: %w", err)
	}
	return nil
}

// reinsert puts the cold copy back in primary, restoring its client first
// when primary lost it too.
func (s *Sweeper) reinsert(ctx context.Context, tx banking.Store, coldCopy *banking.Account) (*banking.Account, error) {
	if _, err := tx.GetClient(ctx, coldCopy.ClientID); err != nil {
		if !errors.Is(err, banking.ErrClientNotFound) {
			return nil, err
		}
		c, err := s.cold.GetClient(ctx, coldCopy.ClientID)
		if err != nil {
			return nil, fmt.Errorf("restore client: %w", err)
		}
		if err := tx.CreateClient(ctx, c); err != nil {
			return nil, fmt.Errorf("restore client: %w", err)
		}
	}

	acc := coldCopy.Clone()
	acc.Status = banking.StatusArchived
	if err := tx.CreateAccount(ctx, acc); err != nil {
		return nil, fmt.Errorf("restore account: %w", err)
	}
	zap.L().Warn("Account re-inserted from cold store",
		zap.String("account_id", acc.ID),
		zap.String("client_id", acc.ClientID))
	return acc, nil
}
