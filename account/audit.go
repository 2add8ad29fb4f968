package account

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/warp/compte-engine/banking"
)

// =============================================================================
// AUDIT SNAPSHOTS
// =============================================================================

type accountSnapshot struct {
	Status        banking.AccountStatus `json:"status"`
	Type          banking.AccountType   `json:"type"`
	Number        string                `json:"number"`
	BlockReason   string                `json:"block_reason,omitempty"`
	BlockStart    *time.Time            `json:"block_start,omitempty"`
	BlockEnd      *time.Time            `json:"block_end,omitempty"`
	UnblockReason string                `json:"unblock_reason,omitempty"`
	UnblockedAt   *time.Time            `json:"unblocked_at,omitempty"`
	ArchivedAt    *time.Time            `json:"archived_at,omitempty"`
	DeletedAt     *time.Time            `json:"deleted_at,omitempty"`
	Version       int64                 `json:"version"`
}

func accountSnapshotOf(a *banking.Account) *accountSnapshot {
	if a == nil {
		return nil
	}
	return &accountSnapshot{
		Status:        a.Status,
		Type:          a.Type,
		Number:        a.Number,
		BlockReason:   a.BlockReason,
		BlockStart:    a.BlockStart,
		BlockEnd:      a.BlockEnd,
		UnblockReason: a.UnblockReason,
		UnblockedAt:   a.UnblockedAt,
		ArchivedAt:    a.ArchivedAt,
		DeletedAt:     a.DeletedAt,
		Version:       a.Version,
	}
}

// clientSnapshot never includes credentials.
type clientSnapshot struct {
	Name       string               `json:"name"`
	NationalID string               `json:"national_id,omitempty"`
	Email      string               `json:"email,omitempty"`
	Phone      string               `json:"phone,omitempty"`
	Address    string               `json:"address,omitempty"`
	Status     banking.ClientStatus `json:"status"`
}

func clientSnapshotOf(c *banking.Client) *clientSnapshot {
	if c == nil {
		return nil
	}
	return &clientSnapshot{
		Name:       c.Name,
		NationalID: c.NationalID,
		Email:      c.Email,
		Phone:      c.Phone,
		Address:    c.Address,
		Status:     c.Status,
	}
}

type entrySnapshot struct {
	Number      string              `json:"number"`
	Type        banking.EntryType   `json:"type"`
	Amount      string              `json:"amount"`
	Currency    string              `json:"currency"`
	Status      banking.EntryStatus `json:"status"`
	Source      string              `json:"source_account_id"`
	Destination string              `json:"destination_account_id,omitempty"`
}

func entrySnapshotOf(e *banking.Entry) *entrySnapshot {
	if e == nil {
		return nil
	}
	return &entrySnapshot{
		Number:      e.Number,
		Type:        e.Type,
		Amount:      e.Amount.String(),
		Currency:    e.Currency,
		Status:      e.Status,
		Source:      e.SourceAccountID,
		Destination: e.DestinationAccountID,
	}
}

// =============================================================================
// AUDIT WRITER
// =============================================================================

// Audit appends a record through the given store (normally the open tx).
// Callers pass the record to LogAudit once the tx has committed. Exported
// for the sweeps.
func Audit(ctx context.Context, st banking.AuditLog, id string, at time.Time, actor banking.Actor,
	op banking.AuditOperation, accountID banking.AccountID, before, after any) (banking.AuditRecord, error) {

	rec := banking.AuditRecord{
		ID:        id,
		At:        at,
		Operation: op,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		AccountID: accountID,
	}
	var err error
	if rec.Before, err = marshalSnapshot(before); err != nil {
		return banking.AuditRecord{}, err
	}
	if rec.After, err = marshalSnapshot(after); err != nil {
		return banking.AuditRecord{}, err
	}
	if err := st.AppendAudit(ctx, rec); err != nil {
		return banking.AuditRecord{}, fmt.Errorf("append audit %s: %w", op, err)
	}
	return rec, nil
}

// LogAudit mirrors committed audit records to the log.
func LogAudit(recs ...banking.AuditRecord) {
	for _, rec := range recs {
		zap.L().Info("Audit",
			zap.String("operation", string(rec.Operation)),
			zap.String("account_id", rec.AccountID),
			zap.String("actor_id", rec.ActorID),
			zap.String("actor_role", string(rec.ActorRole)),
			zap.ByteString("before", rec.Before),
			zap.ByteString("after", rec.After))
	}
}

func (s *Service) audit(ctx context.Context, st banking.AuditLog, actor banking.Actor,
	op banking.AuditOperation, accountID banking.AccountID, before, after any) (banking.AuditRecord, error) {
	return Audit(ctx, st, s.newID(), s.clock.Now(), actor, op, accountID, before, after)
}

func marshalSnapshot(v any) (json.RawMessage, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case *accountSnapshot:
		if s == nil {
			return nil, nil
		}
	case *clientSnapshot:
		if s == nil {
			return nil, nil
		}
	case *entrySnapshot:
		if s == nil {
			return nil, nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal audit snapshot: %w", err)
	}
	return raw, nil
}

// AccountSnapshot is the audit representation of an account, for callers
// outside this package.
func AccountSnapshot(a *banking.Account) any { return accountSnapshotOf(a) }
