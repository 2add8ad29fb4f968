/*
Package cold provides the archive tier for blocked savings accounts.

PURPOSE:
  Holds copies of accounts (and their clients) that the archive sweep moved
  out of the live path. The unarchive sweep reads due copies back and flags
  them restored. The tier runs on gorm so the same code serves the managed
  Postgres deployment and a local SQLite file.

TABLES:
  clients:  mirror of the primary clients table plus archived_at
  accounts: mirror of the primary accounts table plus archived_at and
            restored_at (set once the account is reactivated)

WRITE SEMANTICS:
  ArchiveClient is insert-if-absent (ON CONFLICT DO NOTHING).
  ArchiveAccount upserts: the primary row is authoritative, so an existing
  copy takes its block fields and status. archived_at is kept while the copy
  is still archived and reset when a restored copy is archived again.

SEE ALSO:
  - banking/store.go: ColdStore interface
  - sweep/: the only writer
*/
package cold

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/warp/compte-engine/banking"
)

// =============================================================================
// MODELS
// =============================================================================

type clientModel struct {
	ID             string     `gorm:"column:id;primaryKey"`
	Name           string     `gorm:"column:name"`
	NationalID     string     `gorm:"column:national_id"`
	Email          string     `gorm:"column:email"`
	Phone          string     `gorm:"column:phone"`
	Address        string     `gorm:"column:address"`
	Status         string     `gorm:"column:status"`
	PasswordHash   string     `gorm:"column:password_hash"`
	ActivationCode string     `gorm:"column:activation_code"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at"`
	ArchivedAt     *time.Time `gorm:"column:archived_at"`
}

func (clientModel) TableName() string { return "clients" }

type accountModel struct {
	ID             string          `gorm:"column:id;primaryKey"`
	Number         string          `gorm:"column:number;uniqueIndex"`
	Type           string          `gorm:"column:type;index:idx_cold_due,priority:2"`
	Currency       string          `gorm:"column:currency"`
	InitialBalance decimal.Decimal `gorm:"column:initial_balance;type:numeric(15,2)"`
	Status         string          `gorm:"column:status;index:idx_cold_due,priority:1"`
	ClientID       string          `gorm:"column:client_id;index"`
	BlockReason    string          `gorm:"column:block_reason"`
	BlockStart     *time.Time      `gorm:"column:block_start"`
	BlockEnd       *time.Time      `gorm:"column:block_end;index:idx_cold_due,priority:3"`
	UnblockReason  string          `gorm:"column:unblock_reason"`
	UnblockedAt    *time.Time      `gorm:"column:unblocked_at"`
	DeletedAt      *time.Time      `gorm:"column:deleted_at"`
	Version        int64           `gorm:"column:version"`
	CreatedAt      time.Time       `gorm:"column:created_at"`
	UpdatedAt      time.Time       `gorm:"column:updated_at"`
	ArchivedAt     *time.Time      `gorm:"column:archived_at"`
	RestoredAt     *time.Time      `gorm:"column:restored_at"`
}

func (accountModel) TableName() string { return "accounts" }

// =============================================================================
// STORE
// =============================================================================

type Store struct {
	db *gorm.DB
}

var _ banking.ColdStore = (*Store)(nil)

// Options configures Open.
type Options struct {
	Driver       string // "postgres" or "sqlite"
	DSN          string
	MaxOpenConns int
	PingTimeout  time.Duration
}

// Open connects to the archive database and migrates the schema.
func Open(ctx context.Context, opts Options) (*Store, error) {
	var dialector gorm.Dialector
	switch opts.Driver {
	case "postgres", "":
		dialector = postgres.Open(opts.DSN)
	case "sqlite":
		dialector = sqlite.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("cold store: unsupported driver %q", opts.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("connect cold store: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm sql db: %w", err)
	}
	switch {
	case opts.Driver == "sqlite" && opts.DSN == ":memory:":
		sqlDB.SetMaxOpenConns(1)
	case opts.MaxOpenConns > 0:
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
		sqlDB.SetMaxIdleConns(opts.MaxOpenConns / 2)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	pingTimeout := opts.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping cold store: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&clientModel{}, &accountModel{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate cold store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping reports whether the archive database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) GetAccount(ctx context.Context, id banking.AccountID) (*banking.Account, error) {
	var m accountModel
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s (cold)", banking.ErrNotFound, id)
	}
	if err != nil {
		return nil, banking.WrapStorage("cold get account", err)
	}
	return toAccount(m), nil
}

func (s *Store) GetAccountByNumber(ctx context.Context, number string) (*banking.Account, error) {
	var m accountModel
	err := s.db.WithContext(ctx).Where("number = ?", number).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: number %s (cold)", banking.ErrNotFound, number)
	}
	if err != nil {
		return nil, banking.WrapStorage("cold get account by number", err)
	}
	return toAccount(m), nil
}

func (s *Store) GetClient(ctx context.Context, id banking.ClientID) (*banking.Client, error) {
	var m clientModel
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s (cold)", banking.ErrClientNotFound, id)
	}
	if err != nil {
		return nil, banking.WrapStorage("cold get client", err)
	}
	return toClient(m), nil
}

func (s *Store) ArchiveClient(ctx context.Context, c *banking.Client, at time.Time) error {
	m := fromClient(c)
	m.ArchivedAt = banking.TimePtr(at.UTC())
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&m).Error
	return banking.WrapStorage("cold archive client", err)
}

func (s *Store) ArchiveAccount(ctx context.Context, a *banking.Account, at time.Time) error {
	m := fromAccount(a)
	m.Status = string(banking.StatusArchived)
	m.ArchivedAt = banking.TimePtr(at.UTC())
	m.RestoredAt = nil

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: append(clause.AssignmentColumns([]string{
				"status", "currency", "block_reason", "block_start", "block_end",
				"unblock_reason", "unblocked_at", "deleted_at", "version",
				"updated_at", "restored_at",
			}), clause.Assignment{
				Column: clause.Column{Name: "archived_at"},
				Value:  gorm.Expr("CASE WHEN accounts.restored_at IS NULL THEN accounts.archived_at ELSE excluded.archived_at END"),
			}),
		}).
		Create(&m).Error
	return banking.WrapStorage("cold archive account", err)
}

func (s *Store) UnarchiveCandidates(ctx context.Context, now time.Time) ([]*banking.Account, error) {
	var rows []accountModel
	err := s.db.WithContext(ctx).
		Where("status = ? AND type = ?", banking.StatusArchived, banking.AccountSavings).
		Where("block_end IS NOT NULL AND block_end <= ?", now.UTC()).
		Where("restored_at IS NULL").
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, banking.WrapStorage("cold unarchive candidates", err)
	}
	out := make([]*banking.Account, 0, len(rows))
	for _, m := range rows {
		out = append(out, toAccount(m))
	}
	return out, nil
}

func (s *Store) MarkRestored(ctx context.Context, id banking.AccountID, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&accountModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":      string(banking.StatusActive),
			"restored_at": at.UTC(),
			"updated_at":  at.UTC(),
		})
	if res.Error != nil {
		return banking.WrapStorage("cold mark restored", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s (cold)", banking.ErrNotFound, id)
	}
	return nil
}

// =============================================================================
// MAPPERS
// =============================================================================

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func fromAccount(a *banking.Account) accountModel {
	return accountModel{
		ID:             a.ID,
		Number:         a.Number,
		Type:           string(a.Type),
		Currency:       a.Currency,
		InitialBalance: a.InitialBalance,
		Status:         string(a.Status),
		ClientID:       a.ClientID,
		BlockReason:    a.BlockReason,
		BlockStart:     utcPtr(a.BlockStart),
		BlockEnd:       utcPtr(a.BlockEnd),
		UnblockReason:  a.UnblockReason,
		UnblockedAt:    utcPtr(a.UnblockedAt),
		DeletedAt:      utcPtr(a.DeletedAt),
		Version:        a.Version,
		CreatedAt:      a.CreatedAt.UTC(),
		UpdatedAt:      a.UpdatedAt.UTC(),
		ArchivedAt:     utcPtr(a.ArchivedAt),
	}
}

func toAccount(m accountModel) *banking.Account {
	return &banking.Account{
		ID:             m.ID,
		Number:         m.Number,
		Type:           banking.AccountType(m.Type),
		Currency:       m.Currency,
		InitialBalance: m.InitialBalance,
		Status:         banking.AccountStatus(m.Status),
		ClientID:       m.ClientID,
		BlockReason:    m.BlockReason,
		BlockStart:     utcPtr(m.BlockStart),
		BlockEnd:       utcPtr(m.BlockEnd),
		UnblockReason:  m.UnblockReason,
		UnblockedAt:    utcPtr(m.UnblockedAt),
		ArchivedAt:     utcPtr(m.ArchivedAt),
		DeletedAt:      utcPtr(m.DeletedAt),
		Version:        m.Version,
		CreatedAt:      m.CreatedAt.UTC(),
		UpdatedAt:      m.UpdatedAt.UTC(),
	}
}

func fromClient(c *banking.Client) clientModel {
	return clientModel{
		ID:             c.ID,
		Name:           c.Name,
		NationalID:     c.NationalID,
		Email:          c.Email,
		Phone:          c.Phone,
		Address:        c.Address,
		Status:         string(c.Status),
		PasswordHash:   c.PasswordHash,
		ActivationCode: c.ActivationCode,
		CreatedAt:      c.CreatedAt.UTC(),
		UpdatedAt:      c.UpdatedAt.UTC(),
	}
}

func toClient(m clientModel) *banking.Client {
	return &banking.Client{
		ID:             m.ID,
		Name:           m.Name,
		NationalID:     m.NationalID,
		Email:          m.Email,
		Phone:          m.Phone,
		Address:        m.Address,
		Status:         banking.ClientStatus(m.Status),
		PasswordHash:   m.PasswordHash,
		ActivationCode: m.ActivationCode,
		CreatedAt:      m.CreatedAt.UTC(),
		UpdatedAt:      m.UpdatedAt.UTC(),
	}
}
