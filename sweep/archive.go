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

// errSkip marks an account that stopped being eligible between the
// candidate scan and the locked re-read.
var errSkip = errors.New("no longer eligible")

// RunArchiveSweep copies every blocked savings account whose block has
// started to the cold store and marks it archived in primary.
func (s *Sweeper) RunArchiveSweep(ctx context.Context) (Result, error) {
	var res Result
	if s.cold == nil {
		return res, fmt.Errorf("%w: archive sweep needs a cold store", banking.ErrStorageFailure)
	}

	now := s.clock.Now()
	candidates, err := s.store.ArchiveCandidates(ctx, now)
	if err != nil {
		return res, fmt.Errorf("list archive candidates: %w", err)
	}
	res.Scanned = len(candidates)

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		err := s.archiveOne(ctx, c.ID, now)
		switch {
		case err == nil:
			res.Processed++
		case errors.Is(err, errSkip):
			res.Skipped++
		default:
			res.Failed++
			zap.L().Error("Archive failed",
				zap.String("account_id", c.ID),
				zap.String("number", c.Number),
				zap.Error(err))
		}
	}

	zap.L().Info("Archive sweep completed",
		zap.Time("now", now),
		zap.Int("scanned", res.Scanned),
		zap.Int("processed", res.Processed),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed))
	return res, nil
}

func (s *Sweeper) archiveOne(ctx context.Context, id banking.AccountID, now time.Time) error {
	unlock, err := s.locker.Lock(ctx, id)
	if err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	defer unlock()

	var audited banking.AuditRecord
	err = s.store.WithTx(ctx, func(tx banking.Store) error {
		acc, err := tx.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		if !banking.ArchiveEligible(acc, now) {
			return errSkip
		}
		before := acc.Clone()
		if err := banking.Archive(acc, now); err != nil {
			return err
		}

		client, err := tx.GetClient(ctx, acc.ClientID)
		if err != nil {
			return err
		}
		if err := s.cold.ArchiveClient(ctx, client, now); err != nil {
			return fmt.Errorf("archive client %s: %w", client.ID, err)
		}
		if err := s.cold.ArchiveAccount(ctx, acc, now); err != nil {
			return fmt.Errorf("archive account: %w", err)
		}

		if err := tx.UpdateAccount(ctx, acc); err != nil {
			return err
		}
		audited, err = account.Audit(ctx, tx, s.newID(), now, s.actor, banking.AuditAccountArchived, id,
			account.AccountSnapshot(before), account.AccountSnapshot(acc))
		return err
	})
	if err != nil {
		return err
	}
	account.LogAudit(audited)
	return nil
}
