/*
Package sqlite provides the SQLite-backed primary store.

PURPOSE:
  Implements banking.TxStore (accounts, clients, ledger entries and the
  audit log) on database/sql with mattn/go-sqlite3. The same SQL runs on
  PostgreSQL with minor dialect changes.

APPEND-ONLY ENFORCEMENT:
  - entries: INSERT plus a guarded status UPDATE (pending -> terminal), no DELETE
  - audit_log: INSERT only
  - accounts: UPDATE never touches number, type, client_id or initial_balance

KEY TABLES:
  clients:   account holders, unique email
  accounts:  comptes with lifecycle columns and an optimistic version
  entries:   the transaction ledger
  audit_log: who changed what, with before/after JSON

ENCODING:
  Timestamps are UTC text with a fixed nine-digit fraction, so they keep
  nanoseconds and still order lexicographically. Decimals are text to keep
  exact precision.

WAL MODE:
  Opened with WAL and a busy timeout so readers do not block the writer.
  ":memory:" databases are pinned to a single connection since every
  connection would otherwise get its own empty database.

USAGE:
  store, err := sqlite.New("./data/comptes.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool with versioned migrations.

SEE ALSO:
  - banking/store.go: interface definitions
  - banking/store/memory.go: in-memory implementation for testing
  - store/cold: archive tier
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/compte-engine/banking"
)

// Options tunes the connection pool. Zero values keep database/sql defaults.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

// Store implements banking.TxStore using SQLite.
type Store struct {
	db *sql.DB
	queries
}

var _ banking.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	return Open(dbPath, Options{})
}

// Open creates a store with explicit pool settings.
func Open(dbPath string, opts Options) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	} else if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	pingTimeout := opts.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db: db, queries: queries{q: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		national_id TEXT,
		email TEXT UNIQUE,
		phone TEXT,
		address TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		password_hash TEXT,
		activation_code TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_clients_phone ON clients(phone);

	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		currency TEXT NOT NULL,
		initial_balance TEXT NOT NULL,
		status TEXT NOT NULL,
		client_id TEXT NOT NULL REFERENCES clients(id),
		block_reason TEXT,
		block_start TEXT,
		block_end TEXT,
		unblock_reason TEXT,
		unblocked_at TEXT,
		archived_at TEXT,
		deleted_at TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_client ON accounts(client_id);

	-- Archive sweep scan
	CREATE INDEX IF NOT EXISTS idx_accounts_lifecycle
		ON accounts(status, type, block_start)
		WHERE archived_at IS NULL;

	-- Ledger (append-only, status may move pending -> terminal)
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		description TEXT,
		occurred_at TEXT NOT NULL,
		source_account_id TEXT NOT NULL REFERENCES accounts(id),
		destination_account_id TEXT REFERENCES accounts(id),
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_source ON entries(source_account_id, occurred_at);
	CREATE INDEX IF NOT EXISTS idx_entries_destination ON entries(destination_account_id, occurred_at);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		at TEXT NOT NULL,
		operation TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		actor_role TEXT NOT NULL,
		account_id TEXT,
		before_json TEXT,
		after_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_account ON audit_log(account_id, at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (banking.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. Every call made
// through the Store handed to fn runs on the same *sql.Tx.
func (s *Store) WithTx(ctx context.Context, fn func(store banking.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return banking.WrapStorage("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return banking.WrapStorage("commit transaction", err)
	}
	return nil
}

// Reset wipes all rows. Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	for _, table := range []string{"audit_log", "entries", "accounts", "clients"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return banking.WrapStorage("reset "+table, err)
		}
	}
	return nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds every statement; Store embeds one bound to the pool, WithTx
// builds one bound to the transaction.
type queries struct {
	q queryer
}

// =============================================================================
// ACCOUNTS
// =============================================================================

const accountColumns = `
	a.id, a.number, a.type, a.currency, a.initial_balance, a.status, a.client_id,
	a.block_reason, a.block_start, a.block_end, a.unblock_reason, a.unblocked_at,
	a.archived_at, a.deleted_at, a.version, a.created_at, a.updated_at`

func (s *queries) GetAccount(ctx context.Context, id banking.AccountID) (*banking.Account, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM accounts a WHERE a.id = ?", id)
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", banking.ErrNotFound, id)
	}
	return acc, banking.WrapStorage("get account", err)
}

func (s *queries) GetAccountByNumber(ctx context.Context, number string) (*banking.Account, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM accounts a WHERE a.number = ?", number)
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: number %s", banking.ErrNotFound, number)
	}
	return acc, banking.WrapStorage("get account by number", err)
}

func (s *queries) AccountNumberExists(ctx context.Context, number string) (bool, error) {
	var count int
	err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM accounts WHERE number = ?", number).Scan(&count)
	return count > 0, banking.WrapStorage("check account number", err)
}

func (s *queries) CreateAccount(ctx context.Context, a *banking.Account) error {
	if a.Version == 0 {
		a.Version = 1
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO accounts
		(id, number, type, currency, initial_balance, status, client_id,
		 block_reason, block_start, block_end, unblock_reason, unblocked_at,
		 archived_at, deleted_at, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Number, a.Type, a.Currency, a.InitialBalance.String(), a.Status, a.ClientID,
		nullString(a.BlockReason), nullTime(a.BlockStart), nullTime(a.BlockEnd),
		nullString(a.UnblockReason), nullTime(a.UnblockedAt),
		nullTime(a.ArchivedAt), nullTime(a.DeletedAt), a.Version,
		fmtTime(a.CreatedAt), fmtTime(a.UpdatedAt),
	)
	if isUniqueConstraintError(err) && strings.Contains(err.Error(), "accounts.number") {
		return fmt.Errorf("%w: %s", banking.ErrDuplicateAccountNumber, a.Number)
	}
	return banking.WrapStorage("create account", err)
}

func (s *queries) UpdateAccount(ctx context.Context, a *banking.Account) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE accounts SET
			currency = ?, status = ?,
			block_reason = ?, block_start = ?, block_end = ?,
			unblock_reason = ?, unblocked_at = ?,
			archived_at = ?, deleted_at = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		a.Currency, a.Status,
		nullString(a.BlockReason), nullTime(a.BlockStart), nullTime(a.BlockEnd),
		nullString(a.UnblockReason), nullTime(a.UnblockedAt),
		nullTime(a.ArchivedAt), nullTime(a.DeletedAt),
		fmtTime(a.UpdatedAt),
		a.ID, a.Version,
	)
	if err != nil {
		return banking.WrapStorage("update account", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return banking.WrapStorage("update account", err)
	}
	if n == 0 {
		if _, getErr := s.GetAccount(ctx, a.ID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: account %s version %d", banking.ErrConcurrentModification, a.ID, a.Version)
	}
	a.Version++
	return nil
}

var orderColumns = map[string]string{
	"created_at":      "a.created_at",
	"number":          "a.number",
	"type":            "a.type",
	"status":          "a.status",
	"initial_balance": "CAST(a.initial_balance AS REAL)",
}

func (s *queries) ListAccounts(ctx context.Context, f banking.AccountFilter) ([]*banking.Account, int, error) {
	f = f.Normalize()

	var (
		where []string
		args  []any
	)
	if !f.IncludeDeleted {
		where = append(where, "a.deleted_at IS NULL")
	}
	if f.ClientID != "" {
		where = append(where, "a.client_id = ?")
		args = append(args, f.ClientID)
	}
	if f.Type != "" {
		where = append(where, "a.type = ?")
		args = append(args, f.Type)
	}
	if f.Status != "" {
		where = append(where, "a.status = ?")
		args = append(args, f.Status)
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		where = append(where, "(a.number LIKE ? OR c.name LIKE ?)")
		like := "%" + q + "%"
		args = append(args, like, like)
	}

	from := " FROM accounts a LEFT JOIN clients c ON c.id = a.client_id"
	if len(where) > 0 {
		from += " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.q.QueryRowContext(ctx, "SELECT COUNT(*)"+from, args...).Scan(&total); err != nil {
		return nil, 0, banking.WrapStorage("count accounts", err)
	}

	dir := "ASC"
	if f.Desc {
		dir = "DESC"
	}
	query := "SELECT " + accountColumns + from +
		fmt.Sprintf(" ORDER BY %s %s, a.id %s LIMIT ? OFFSET ?", orderColumns[f.Sort], dir, dir)
	rows, err := s.q.QueryContext(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, banking.WrapStorage("list accounts", err)
	}
	defer rows.Close()

	out := []*banking.Account{}
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, 0, banking.WrapStorage("scan account", err)
		}
		out = append(out, acc)
	}
	return out, total, banking.WrapStorage("list accounts", rows.Err())
}

func (s *queries) ArchiveCandidates(ctx context.Context, now time.Time) ([]*banking.Account, error) {
	rows, err := s.q.QueryContext(ctx, "SELECT "+accountColumns+`
		FROM accounts a
		WHERE a.status = ? AND a.type = ?
		  AND a.block_start IS NOT NULL AND a.block_start <= ?
		  AND a.archived_at IS NULL
		ORDER BY a.id`,
		banking.StatusBlocked, banking.AccountSavings, fmtTime(now),
	)
	if err != nil {
		return nil, banking.WrapStorage("archive candidates", err)
	}
	defer rows.Close()

	var out []*banking.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, banking.WrapStorage("scan account", err)
		}
		out = append(out, acc)
	}
	return out, banking.WrapStorage("archive candidates", rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*banking.Account, error) {
	var a banking.Account
	var initial, createdAt, updatedAt string
	var blockReason, unblockReason, blockStart, blockEnd, unblockedAt, archivedAt, deletedAt sql.NullString
	err := row.Scan(
		&a.ID, &a.Number, &a.Type, &a.Currency, &initial, &a.Status, &a.ClientID,
		&blockReason, &blockStart, &blockEnd, &unblockReason, &unblockedAt,
		&archivedAt, &deletedAt, &a.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.InitialBalance, err = decimal.NewFromString(initial)
	if err != nil {
		return nil, fmt.Errorf("account %s: bad initial balance %q: %w", a.ID, initial, err)
	}
	a.BlockReason = blockReason.String
	a.UnblockReason = unblockReason.String

	var td timeDecoder
	a.BlockStart = td.nullable(blockStart)
	a.BlockEnd = td.nullable(blockEnd)
	a.UnblockedAt = td.nullable(unblockedAt)
	a.ArchivedAt = td.nullable(archivedAt)
	a.DeletedAt = td.nullable(deletedAt)
	a.CreatedAt = td.at(createdAt)
	a.UpdatedAt = td.at(updatedAt)
	if td.err != nil {
		return nil, fmt.Errorf("account %s: %w", a.ID, td.err)
	}
	return &a, nil
}

// =============================================================================
// CLIENTS
// =============================================================================

const clientColumns = `id, name, national_id, email, phone, address, status,
	password_hash, activation_code, created_at, updated_at`

func (s *queries) GetClient(ctx context.Context, id banking.ClientID) (*banking.Client, error) {
	c, err := scanClient(s.q.QueryRowContext(ctx, "SELECT "+clientColumns+" FROM clients WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", banking.ErrClientNotFound, id)
	}
	return c, banking.WrapStorage("get client", err)
}

func (s *queries) FindClientByContact(ctx context.Context, email, phone string) (*banking.Client, error) {
	if email == "" && phone == "" {
		return nil, banking.ErrClientNotFound
	}
	c, err := scanClient(s.q.QueryRowContext(ctx, "SELECT "+clientColumns+`
		FROM clients
		WHERE (? <> '' AND email = ? COLLATE NOCASE) OR (? <> '' AND phone = ?)
		ORDER BY id LIMIT 1`,
		email, email, phone, phone,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, banking.ErrClientNotFound
	}
	return c, banking.WrapStorage("find client", err)
}

func (s *queries) CreateClient(ctx context.Context, c *banking.Client) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO clients (`+clientColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, nullString(c.NationalID), nullString(c.Email), nullString(c.Phone),
		nullString(c.Address), c.Status, nullString(c.PasswordHash), nullString(c.ActivationCode),
		fmtTime(c.CreatedAt), fmtTime(c.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: client email %s already registered", banking.ErrInvalidSpec, c.Email)
	}
	return banking.WrapStorage("create client", err)
}

func (s *queries) UpdateClient(ctx context.Context, c *banking.Client) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE clients SET name = ?, national_id = ?, email = ?, phone = ?, address = ?,
			status = ?, updated_at = ?
		WHERE id = ?`,
		c.Name, nullString(c.NationalID), nullString(c.Email), nullString(c.Phone),
		nullString(c.Address), c.Status, fmtTime(c.UpdatedAt), c.ID,
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: client email %s already registered", banking.ErrInvalidSpec, c.Email)
	}
	if err != nil {
		return banking.WrapStorage("update client", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", banking.ErrClientNotFound, c.ID)
	}
	return nil
}

func scanClient(row scanner) (*banking.Client, error) {
	var c banking.Client
	var createdAt, updatedAt string
	var nationalID, email, phone, address, passwordHash, activationCode sql.NullString
	err := row.Scan(&c.ID, &c.Name, &nationalID, &email, &phone, &address, &c.Status,
		&passwordHash, &activationCode, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	c.NationalID = nationalID.String
	c.Email = email.String
	c.Phone = phone.String
	c.Address = address.String
	c.PasswordHash = passwordHash.String
	c.ActivationCode = activationCode.String
	var td timeDecoder
	c.CreatedAt = td.at(createdAt)
	c.UpdatedAt = td.at(updatedAt)
	if td.err != nil {
		return nil, fmt.Errorf("client %s: %w", c.ID, td.err)
	}
	return &c, nil
}

// =============================================================================
// LEDGER
// =============================================================================

const entryColumns = `id, number, type, amount, currency, status, description,
	occurred_at, source_account_id, destination_account_id, created_at`

func (s *queries) AppendEntry(ctx context.Context, e banking.Entry) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Number, e.Type, e.Amount.String(), e.Currency, e.Status, nullString(e.Description),
		fmtTime(e.OccurredAt), e.SourceAccountID, nullString(e.DestinationAccountID), fmtTime(e.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: entry %s already recorded", banking.ErrInvalidSpec, e.ID)
	}
	return banking.WrapStorage("append entry", err)
}

func (s *queries) GetEntry(ctx context.Context, id banking.EntryID) (*banking.Entry, error) {
	e, err := scanEntry(s.q.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM entries WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", banking.ErrEntryNotFound, id)
	}
	return e, banking.WrapStorage("get entry", err)
}

func (s *queries) SetEntryStatus(ctx context.Context, id banking.EntryID, from, to banking.EntryStatus) error {
	res, err := s.q.ExecContext(ctx, "UPDATE entries SET status = ? WHERE id = ? AND status = ?", to, id, from)
	if err != nil {
		return banking.WrapStorage("set entry status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		cur, err := s.GetEntry(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: entry %s is %s", banking.ErrConcurrentModification, id, cur.Status)
	}
	return nil
}

func (s *queries) EntriesForAccount(ctx context.Context, id banking.AccountID) ([]banking.Entry, error) {
	rows, err := s.q.QueryContext(ctx, "SELECT "+entryColumns+`
		FROM entries
		WHERE source_account_id = ? OR destination_account_id = ?
		ORDER BY occurred_at ASC, created_at ASC, id ASC`, id, id)
	if err != nil {
		return nil, banking.WrapStorage("load entries", err)
	}
	defer rows.Close()

	var out []banking.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, banking.WrapStorage("scan entry", err)
		}
		out = append(out, *e)
	}
	return out, banking.WrapStorage("load entries", rows.Err())
}

func scanEntry(row scanner) (*banking.Entry, error) {
	var e banking.Entry
	var amount, occurredAt, createdAt string
	var description, destination sql.NullString
	err := row.Scan(&e.ID, &e.Number, &e.Type, &amount, &e.Currency, &e.Status, &description,
		&occurredAt, &e.SourceAccountID, &destination, &createdAt)
	if err != nil {
		return nil, err
	}
	e.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("entry %s: bad amount %q: %w", e.ID, amount, err)
	}
	e.Description = description.String
	e.DestinationAccountID = destination.String
	var td timeDecoder
	e.OccurredAt = td.at(occurredAt)
	e.CreatedAt = td.at(createdAt)
	if td.err != nil {
		return nil, fmt.Errorf("entry %s: %w", e.ID, td.err)
	}
	return &e, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (s *queries) AppendAudit(ctx context.Context, r banking.AuditRecord) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO audit_log (id, at, operation, actor_id, actor_role, account_id, before_json, after_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, fmtTime(r.At), r.Operation, r.ActorID, r.ActorRole, nullString(r.AccountID),
		nullString(string(r.Before)), nullString(string(r.After)),
	)
	return banking.WrapStorage("append audit", err)
}

func (s *queries) QueryAudit(ctx context.Context, f banking.AuditFilter) ([]banking.AuditRecord, error) {
	var (
		where = []string{"1 = 1"}
		args  []any
	)
	if f.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.ActorID != "" {
		where = append(where, "actor_id = ?")
		args = append(args, f.ActorID)
	}
	if len(f.Operations) > 0 {
		marks := make([]string, len(f.Operations))
		for i, op := range f.Operations {
			marks[i] = "?"
			args = append(args, op)
		}
		where = append(where, "operation IN ("+strings.Join(marks, ", ")+")")
	}
	if f.From != nil {
		where = append(where, "at >= ?")
		args = append(args, fmtTime(*f.From))
	}
	if f.To != nil {
		where = append(where, "at <= ?")
		args = append(args, fmtTime(*f.To))
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT id, at, operation, actor_id, actor_role, account_id, before_json, after_json
		FROM audit_log WHERE `+strings.Join(where, " AND ")+` ORDER BY at ASC, rowid ASC`, args...)
	if err != nil {
		return nil, banking.WrapStorage("query audit", err)
	}
	defer rows.Close()

	var out []banking.AuditRecord
	for rows.Next() {
		var (
			r                        banking.AuditRecord
			at                       string
			accountID, before, after sql.NullString
		)
		if err := rows.Scan(&r.ID, &at, &r.Operation, &r.ActorID, &r.ActorRole, &accountID, &before, &after); err != nil {
			return nil, banking.WrapStorage("scan audit", err)
		}
		var td timeDecoder
		r.At = td.at(at)
		if td.err != nil {
			return nil, banking.WrapStorage("scan audit", fmt.Errorf("audit %s: %w", r.ID, td.err))
		}
		r.AccountID = accountID.String
		if before.Valid {
			r.Before = json.RawMessage(before.String)
		}
		if after.Valid {
			r.After = json.RawMessage(after.String)
		}
		out = append(out, r)
	}
	return out, banking.WrapStorage("query audit", rows.Err())
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// timeLayout is RFC3339 with a fixed-width fraction. RFC3339Nano trims
// trailing zeros, which breaks text ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fmtTime(*t), Valid: true}
}

// timeDecoder parses stored timestamps and keeps the first failure.
type timeDecoder struct {
	err error
}

func (d *timeDecoder) at(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil && d.err == nil {
		d.err = fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t
}

func (d *timeDecoder) nullable(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := d.at(s.String)
	return &t
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
