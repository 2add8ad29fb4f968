package account

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/compte-engine/banking"
)

// ClientSpec describes a holder for a new account when no client id is given.
type ClientSpec struct {
	Name       string
	NationalID string
	Email      string
	Phone      string
	Address    string
}

type CreateAccountSpec struct {
	Type           banking.AccountType
	Currency       string
	InitialBalance decimal.Decimal
	// ClientID selects an existing client. When empty, Client is matched by
	// email or phone, or created.
	ClientID banking.ClientID
	Client   *ClientSpec
}

func (s CreateAccountSpec) validate() error {
	if !s.Type.Valid() {
		return fmt.Errorf("%w: unknown account type %q", banking.ErrInvalidSpec, s.Type)
	}
	if s.InitialBalance.IsNegative() {
		return fmt.Errorf("%w: initial balance must not be negative", banking.ErrInvalidSpec)
	}
	if s.InitialBalance.Exponent() < -banking.BalancePlaces {
		return fmt.Errorf("%w: initial balance has more than %d decimals", banking.ErrInvalidSpec, banking.BalancePlaces)
	}
	if s.Currency != "" && !validCurrency(s.Currency) {
		return fmt.Errorf("%w: invalid currency %q", banking.ErrInvalidSpec, s.Currency)
	}
	if s.ClientID == "" && s.Client == nil {
		return fmt.Errorf("%w: client id or client details required", banking.ErrInvalidSpec)
	}
	return nil
}

// validCurrency accepts ISO-like codes (XOF) and the local FCFA.
func validCurrency(c string) bool {
	if len(c) < 3 || len(c) > 4 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func (c ClientSpec) validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: client name is required", banking.ErrInvalidSpec)
	}
	if c.Email == "" && c.Phone == "" {
		return fmt.Errorf("%w: client email or phone is required", banking.ErrInvalidSpec)
	}
	if c.Email != "" {
		if _, err := mail.ParseAddress(c.Email); err != nil {
			return fmt.Errorf("%w: invalid email %q", banking.ErrInvalidSpec, c.Email)
		}
	}
	return nil
}

// CreateAccount opens an account, resolving or creating its client.
func (s *Service) CreateAccount(ctx context.Context, actor banking.Actor, spec CreateAccountSpec) (*banking.Account, error) {
	if err := requireAdmin(actor, "create account"); err != nil {
		return nil, err
	}
	if err := spec.validate(); err != nil {
		return nil, err
	}
	currency := spec.Currency
	if currency == "" {
		currency = banking.DefaultCurrency
	}

	var (
		created   *banking.Account
		audited   banking.AuditRecord
		newClient *banking.Client
		newCreds  Credentials
	)
	err := s.store.WithTx(ctx, func(tx banking.Store) error {
		now := s.clock.Now()

		client, isNew, creds, err := s.resolveClient(ctx, tx, spec, now)
		if err != nil {
			return err
		}

		number, err := s.numbers.UniqueAccountNumber(ctx, now, tx.AccountNumberExists)
		if err != nil {
			return err
		}

		acc := &banking.Account{
			ID:             s.newID(),
			Number:         number,
			Type:           spec.Type,
			Currency:       currency,
			InitialBalance: spec.InitialBalance,
			Status:         banking.StatusActive,
			ClientID:       client.ID,
			Version:        1,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.CreateAccount(ctx, acc); err != nil {
			return err
		}
		rec, err := s.audit(ctx, tx, actor, banking.AuditAccountCreated, acc.ID, nil, accountSnapshotOf(acc))
		if err != nil {
			return err
		}

		created, audited = acc, rec
		if isNew {
			newClient, newCreds = client, creds
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	LogAudit(audited)

	zap.L().Info("Account created",
		zap.String("account_id", created.ID),
		zap.String("number", created.Number),
		zap.String("client_id", created.ClientID),
		zap.String("type", string(created.Type)))

	if newClient != nil {
		if err := s.notifier.CredentialsIssued(ctx, newClient, newCreds); err != nil {
			zap.L().Warn("Credential notification failed",
				zap.String("client_id", newClient.ID), zap.Error(err))
		}
	}
	return created, nil
}

// resolveClient: explicit id, else match by email or phone, else create.
func (s *Service) resolveClient(ctx context.Context, tx banking.Store, spec CreateAccountSpec, now time.Time) (*banking.Client, bool, Credentials, error) {
	if spec.ClientID != "" {
		c, err := tx.GetClient(ctx, spec.ClientID)
		return c, false, Credentials{}, err
	}

	cs := *spec.Client
	cs.Email = strings.TrimSpace(cs.Email)
	cs.Phone = strings.TrimSpace(cs.Phone)
	if cs.Email != "" || cs.Phone != "" {
		existing, err := tx.FindClientByContact(ctx, cs.Email, cs.Phone)
		if err == nil {
			return existing, false, Credentials{}, nil
		}
		if !banking.IsNotFound(err) {
			return nil, false, Credentials{}, err
		}
	}

	if err := cs.validate(); err != nil {
		return nil, false, Credentials{}, err
	}
	creds, err := s.credentials.Issue()
	if err != nil {
		return nil, false, Credentials{}, err
	}
	c := &banking.Client{
		ID:             s.newID(),
		Name:           strings.TrimSpace(cs.Name),
		NationalID:     cs.NationalID,
		Email:          cs.Email,
		Phone:          cs.Phone,
		Address:        cs.Address,
		Status:         banking.ClientActive,
		PasswordHash:   creds.PasswordHash,
		ActivationCode: creds.Code,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := tx.CreateClient(ctx, c); err != nil {
		return nil, false, Credentials{}, err
	}
	return c, true, creds, nil
}

// UpdateAccountSpec carries client field changes. Nil means unchanged.
type UpdateAccountSpec struct {
	Name       *string
	NationalID *string
	Email      *string
	Phone      *string
	Address    *string
}

func (u UpdateAccountSpec) empty() bool {
	return u.Name == nil && u.NationalID == nil && u.Email == nil && u.Phone == nil && u.Address == nil
}

// UpdateAccount changes the holder's details. Account fields are never
// touched here.
func (s *Service) UpdateAccount(ctx context.Context, id banking.AccountID, actor banking.Actor, spec UpdateAccountSpec) (*banking.Account, *banking.Client, error) {
	if err := requireAdmin(actor, "update account"); err != nil {
		return nil, nil, err
	}
	if spec.empty() {
		return nil, nil, fmt.Errorf("%w: no fields to update", banking.ErrInvalidSpec)
	}
	if spec.Name != nil && strings.TrimSpace(*spec.Name) == "" {
		return nil, nil, fmt.Errorf("%w: client name cannot be empty", banking.ErrInvalidSpec)
	}
	if spec.Email != nil && *spec.Email != "" {
		if _, err := mail.ParseAddress(*spec.Email); err != nil {
			return nil, nil, fmt.Errorf("%w: invalid email %q", banking.ErrInvalidSpec, *spec.Email)
		}
	}

	unlock, err := s.locker.Lock(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("lock account %s: %w", id, err)
	}
	defer unlock()

	var (
		acc     *banking.Account
		client  *banking.Client
		audited banking.AuditRecord
	)
	err = s.store.WithTx(ctx, func(tx banking.Store) error {
		a, err := tx.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		c, err := tx.GetClient(ctx, a.ClientID)
		if err != nil {
			return err
		}
		before := c.Clone()

		if spec.Name != nil {
			c.Name = strings.TrimSpace(*spec.Name)
		}
		if spec.NationalID != nil {
			c.NationalID = *spec.NationalID
		}
		if spec.Email != nil {
			c.Email = strings.TrimSpace(*spec.Email)
		}
		if spec.Phone != nil {
			c.Phone = strings.TrimSpace(*spec.Phone)
		}
		if spec.Address != nil {
			c.Address = *spec.Address
		}
		c.UpdatedAt = s.clock.Now()

		if err := tx.UpdateClient(ctx, c); err != nil {
			return err
		}
		rec, err := s.audit(ctx, tx, actor, banking.AuditAccountUpdated, id, clientSnapshotOf(before), clientSnapshotOf(c))
		if err != nil {
			return err
		}
		acc, client, audited = a, c, rec
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	LogAudit(audited)
	return acc, client, nil
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// BlockAccount blocks a savings account for a bounded period.
func (s *Service) BlockAccount(ctx context.Context, id banking.AccountID, actor banking.Actor, req banking.BlockRequest) (*banking.Account, error) {
	if err := requireAdmin(actor, "block account"); err != nil {
		return nil, err
	}
	acc, err := s.mutate(ctx, actor, id, banking.AuditAccountBlocked, func(a *banking.Account, now time.Time) error {
		return banking.Block(a, req, now)
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("Account blocked",
		zap.String("account_id", id),
		zap.Timep("block_start", acc.BlockStart),
		zap.Timep("block_end", acc.BlockEnd))
	return acc, nil
}

// UnblockAccount lifts a block before it expires.
func (s *Service) UnblockAccount(ctx context.Context, id banking.AccountID, actor banking.Actor, reason string) (*banking.Account, error) {
	if err := requireAdmin(actor, "unblock account"); err != nil {
		return nil, err
	}
	return s.mutate(ctx, actor, id, banking.AuditAccountUnlocked, func(a *banking.Account, now time.Time) error {
		return banking.Unblock(a, reason, now)
	})
}

// DeleteAccount soft-deletes an active account.
func (s *Service) DeleteAccount(ctx context.Context, id banking.AccountID, actor banking.Actor) (*banking.Account, error) {
	if err := requireAdmin(actor, "delete account"); err != nil {
		return nil, err
	}
	return s.mutate(ctx, actor, id, banking.AuditAccountDeleted, func(a *banking.Account, now time.Time) error {
		return banking.SoftDelete(a, now)
	})
}
