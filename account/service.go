/*
Package account orchestrates the compte engine.

PURPOSE:
  Service is the single entry point used by the HTTP layer. It enforces
  access rules, resolves clients, generates numbers, runs lifecycle
  transitions under the per-account lock inside a store transaction, and
  writes an audit record for every change.

FLOW OF A WRITE:
  1. check the actor may perform the operation
  2. Locker.Lock(account ids, ascending)
  3. TxStore.WithTx: re-read, apply banking transition, persist, audit
  4. unlock; side effects (credential notification) after commit

TIERS:
  Reads go to the primary store first and fall back to the cold store, so
  an archived account is still visible to its owner and to admins.

SEE ALSO:
  - banking/lifecycle.go: the transitions themselves
  - banking/balance.go: balance replay
  - sweep/: scheduled archive/unarchive using the same store and locker
*/
package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/compte-engine/banking"
)

// Deps wires the service. Store is required; the rest have defaults.
type Deps struct {
	Store       banking.TxStore
	Cold        banking.ColdStore
	Locker      banking.Locker
	Clock       banking.Clock
	Numbers     *banking.NumberGenerator
	Credentials CredentialIssuer
	Notifier    CredentialNotifier
	NewID       func() string
}

type Service struct {
	store       banking.TxStore
	cold        banking.ColdStore
	locker      banking.Locker
	clock       banking.Clock
	numbers     *banking.NumberGenerator
	credentials CredentialIssuer
	notifier    CredentialNotifier
	newID       func() string
}

func NewService(d Deps) *Service {
	s := &Service{
		store:       d.Store,
		cold:        d.Cold,
		locker:      d.Locker,
		clock:       d.Clock,
		numbers:     d.Numbers,
		credentials: d.Credentials,
		notifier:    d.Notifier,
		newID:       d.NewID,
	}
	if s.locker == nil {
		s.locker = banking.NewKeyedLocker()
	}
	if s.clock == nil {
		s.clock = banking.SystemClock{}
	}
	if s.numbers == nil {
		s.numbers = banking.NewNumberGenerator()
	}
	if s.credentials == nil {
		s.credentials = NewBcryptIssuer(0, 0, 0)
	}
	if s.notifier == nil {
		s.notifier = LogNotifier{}
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// Clock exposes the service clock so callers (API, scenarios) share "now".
func (s *Service) Clock() banking.Clock { return s.clock }

// =============================================================================
// LOOKUPS
// =============================================================================

// GetAccount returns the account from the primary store, or from the cold
// store when absent from primary. Non-admins may only read their own.
func (s *Service) GetAccount(ctx context.Context, id banking.AccountID, actor banking.Actor) (*banking.Account, error) {
	acc, err := s.findAccount(ctx, func(ctx context.Context, st accountReader) (*banking.Account, error) {
		return st.GetAccount(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	if err := authorizeRead(actor, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// GetAccountByNumber is GetAccount keyed by the CB... number.
func (s *Service) GetAccountByNumber(ctx context.Context, number string, actor banking.Actor) (*banking.Account, error) {
	acc, err := s.findAccount(ctx, func(ctx context.Context, st accountReader) (*banking.Account, error) {
		return st.GetAccountByNumber(ctx, number)
	})
	if err != nil {
		return nil, err
	}
	if err := authorizeRead(actor, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

type accountReader interface {
	GetAccount(ctx context.Context, id banking.AccountID) (*banking.Account, error)
	GetAccountByNumber(ctx context.Context, number string) (*banking.Account, error)
}

func (s *Service) findAccount(ctx context.Context, get func(context.Context, accountReader) (*banking.Account, error)) (*banking.Account, error) {
	acc, err := get(ctx, s.store)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, banking.ErrNotFound) || s.cold == nil {
		return nil, err
	}
	acc, coldErr := get(ctx, s.cold)
	if coldErr != nil {
		if errors.Is(coldErr, banking.ErrNotFound) {
			return nil, err
		}
		return nil, coldErr
	}
	return acc, nil
}

// GetClient returns a client from primary or cold. Non-admins may only read
// themselves.
func (s *Service) GetClient(ctx context.Context, id banking.ClientID, actor banking.Actor) (*banking.Client, error) {
	if !actor.IsAdmin() && actor.ClientID != id {
		return nil, fmt.Errorf("%w: client %s", banking.ErrAccessDenied, id)
	}
	c, err := s.store.GetClient(ctx, id)
	if errors.Is(err, banking.ErrClientNotFound) && s.cold != nil {
		if cc, coldErr := s.cold.GetClient(ctx, id); coldErr == nil {
			return cc, nil
		}
	}
	return c, err
}

// ListAccounts pages through primary accounts. Non-admins only see theirs.
func (s *Service) ListAccounts(ctx context.Context, actor banking.Actor, f banking.AccountFilter) ([]*banking.Account, int, error) {
	if !actor.IsAdmin() {
		if actor.ClientID == "" {
			return nil, 0, fmt.Errorf("%w: no client bound to actor %s", banking.ErrAccessDenied, actor.ID)
		}
		f.ClientID = actor.ClientID
	}
	if f.Type != "" && !f.Type.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown account type %q", banking.ErrInvalidSpec, f.Type)
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", banking.ErrInvalidSpec, f.Status)
	}
	return s.store.ListAccounts(ctx, f.Normalize())
}

// ListAccountsByClientPhone returns the accounts of the client registered
// with phone.
func (s *Service) ListAccountsByClientPhone(ctx context.Context, phone string, actor banking.Actor) (*banking.Client, []*banking.Account, error) {
	if phone == "" {
		return nil, nil, fmt.Errorf("%w: phone is required", banking.ErrInvalidSpec)
	}
	client, err := s.store.FindClientByContact(ctx, "", phone)
	if err != nil {
		return nil, nil, err
	}
	if !actor.IsAdmin() && actor.ClientID != client.ID {
		return nil, nil, fmt.Errorf("%w: client %s", banking.ErrAccessDenied, client.ID)
	}
	accounts, _, err := s.store.ListAccounts(ctx, banking.AccountFilter{
		ClientID: client.ID,
		Limit:    banking.MaxPageSize,
		Sort:     "created_at",
	})
	if err != nil {
		return nil, nil, err
	}
	return client, accounts, nil
}

// AuditTrail returns the audit records of an account. Admin only.
func (s *Service) AuditTrail(ctx context.Context, id banking.AccountID, actor banking.Actor) ([]banking.AuditRecord, error) {
	if err := requireAdmin(actor, "read audit trail"); err != nil {
		return nil, err
	}
	return s.store.QueryAudit(ctx, banking.AuditFilter{AccountID: id})
}

// =============================================================================
// LOCKED MUTATION
// =============================================================================

// mutate loads the account under lock inside a transaction, applies fn and
// persists the result with an audit record.
func (s *Service) mutate(ctx context.Context, actor banking.Actor, id banking.AccountID, op banking.AuditOperation,
	fn func(acc *banking.Account, now time.Time) error) (*banking.Account, error) {

	unlock, err := s.locker.Lock(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lock account %s: %w", id, err)
	}
	defer unlock()

	var (
		out     *banking.Account
		audited banking.AuditRecord
	)
	err = s.store.WithTx(ctx, func(tx banking.Store) error {
		acc, err := tx.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		before := acc.Clone()
		now := s.clock.Now()

		if err := fn(acc, now); err != nil {
			return err
		}
		if err := tx.UpdateAccount(ctx, acc); err != nil {
			return err
		}
		rec, err := s.audit(ctx, tx, actor, op, id, accountSnapshotOf(before), accountSnapshotOf(acc))
		if err != nil {
			return err
		}
		out, audited = acc, rec
		return nil
	})
	if err != nil {
		zap.L().Warn("Account operation failed",
			zap.String("operation", string(op)),
			zap.String("account_id", id),
			zap.String("actor_id", actor.ID),
			zap.Error(err))
		return nil, err
	}
	LogAudit(audited)
	return out, nil
}
