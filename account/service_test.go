package account_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/compte-engine/account"
	"github.com/warp/compte-engine/banking"
	"github.com/warp/compte-engine/banking/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	t0    = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	admin = banking.Actor{ID: "admin-1", Role: banking.RoleAdmin}
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []account.Credentials
}

func (r *recordingNotifier) CredentialsIssued(_ context.Context, _ *banking.Client, c account.Credentials) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	return nil
}

type fixture struct {
	svc      *account.Service
	primary  *store.Memory
	cold     *store.MemoryCold
	clock    *banking.FixedClock
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		primary:  store.NewMemory(),
		cold:     store.NewMemoryCold(),
		clock:    banking.NewFixedClock(t0),
		notifier: &recordingNotifier{},
	}
	f.svc = account.NewService(account.Deps{
		Store:       f.primary,
		Cold:        f.cold,
		Clock:       f.clock,
		Numbers:     banking.NewSeededNumberGenerator(42, 0),
		Credentials: account.NewBcryptIssuer(4, 0, 0),
		Notifier:    f.notifier,
	})
	return f
}

func (f *fixture) open(t *testing.T, typ banking.AccountType, initial string, client account.ClientSpec) *banking.Account {
	t.Helper()
	acc, err := f.svc.CreateAccount(context.Background(), admin, account.CreateAccountSpec{
		Type:           typ,
		InitialBalance: decimal.RequireFromString(initial),
		Client:         &client,
	})
	require.NoError(t, err)
	return acc
}

func owner(acc *banking.Account) banking.Actor {
	return banking.Actor{ID: "user-" + acc.ClientID, Role: banking.RoleClient, ClientID: acc.ClientID}
}

var alice = account.ClientSpec{Name: "Alice Diop", Email: "alice@example.com", Phone: "+221770000001"}
var bob = account.ClientSpec{Name: "Bob Ndiaye", Email: "bob@example.com", Phone: "+221770000002"}

// =============================================================================
// CREATE / RESOLVE CLIENT
// =============================================================================

func TestCreateAccount_NewClientGetsCredentials(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// WHEN: an account is opened for an unknown client
	acc := f.open(t, banking.AccountSavings, "500000", alice)

	// THEN: the account is active, numbered, and the client received credentials
	assert.Equal(t, banking.StatusActive, acc.Status)
	assert.Regexp(t, `^CB2503\d{8}$`, acc.Number)
	assert.Equal(t, banking.DefaultCurrency, acc.Currency)
	require.Len(t, f.notifier.calls, 1)
	creds := f.notifier.calls[0]
	assert.Len(t, creds.Password, 12)
	assert.Len(t, creds.Code, 8)

	client, err := f.svc.GetClient(ctx, acc.ClientID, admin)
	require.NoError(t, err)
	assert.True(t, account.VerifyPassword(client.PasswordHash, creds.Password))
	assert.NotEqual(t, creds.Password, client.PasswordHash)
}

func TestCreateAccount_ReusesClientByContact(t *testing.T) {
	f := newFixture(t)
	first := f.open(t, banking.AccountSavings, "100", alice)

	// WHEN: a second account is opened with the same phone but no email
	second := f.open(t, banking.AccountChecking, "0", account.ClientSpec{Name: "A. Diop", Phone: alice.Phone})

	// THEN: both belong to the same client and no new credentials were issued
	assert.Equal(t, first.ClientID, second.ClientID)
	assert.NotEqual(t, first.Number, second.Number)
	assert.Len(t, f.notifier.calls, 1)
}

func TestCreateAccount_ExplicitClientID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.open(t, banking.AccountSavings, "100", alice)

	acc, err := f.svc.CreateAccount(ctx, admin, account.CreateAccountSpec{
		Type:     banking.AccountCurrent,
		ClientID: first.ClientID,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ClientID, acc.ClientID)

	_, err = f.svc.CreateAccount(ctx, admin, account.CreateAccountSpec{
		Type:     banking.AccountCurrent,
		ClientID: "missing",
	})
	assert.ErrorIs(t, err, banking.ErrClientNotFound)
}

func TestCreateAccount_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cases := map[string]account.CreateAccountSpec{
		"unknown type":     {Type: "loan", Client: &alice},
		"negative balance": {Type: banking.AccountSavings, InitialBalance: decimal.NewFromInt(-1), Client: &alice},
		"three decimals":   {Type: banking.AccountSavings, InitialBalance: decimal.RequireFromString("1.005"), Client: &alice},
		"no client":        {Type: banking.AccountSavings},
		"no contact":       {Type: banking.AccountSavings, Client: &account.ClientSpec{Name: "X"}},
		"bad email":        {Type: banking.AccountSavings, Client: &account.ClientSpec{Name: "X", Email: "not-an-email"}},
		"bad currency":     {Type: banking.AccountSavings, Currency: "eur", Client: &alice},
	}
	for name, spec := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.CreateAccount(ctx, admin, spec)
			assert.ErrorIs(t, err, banking.ErrInvalidSpec)
		})
	}
}

func TestCreateAccount_NumberExhaustion(t *testing.T) {
	ctx := context.Background()
	primary := store.NewMemory()
	svc := account.NewService(account.Deps{
		Store:       primary,
		Clock:       banking.NewFixedClock(t0),
		Numbers:     banking.NewSeededNumberGenerator(7, 3),
		Credentials: account.NewBcryptIssuer(4, 0, 0),
	})

	// GIVEN: the numbers a generator with the same seed will produce are taken
	probe := banking.NewSeededNumberGenerator(7, 3)
	for i := 0; i < 3; i++ {
		require.NoError(t, primary.CreateAccount(ctx, &banking.Account{
			ID: "taken-" + string(rune('a'+i)), Number: probe.AccountNumber(t0),
			Type: banking.AccountSavings, Status: banking.StatusActive,
		}))
	}

	// WHEN/THEN: creation gives up after the configured attempts
	_, err := svc.CreateAccount(ctx, admin, account.CreateAccountSpec{Type: banking.AccountSavings, Client: &alice})
	assert.ErrorIs(t, err, banking.ErrDuplicateAccountNumber)

	// AND: the new client was rolled back with the failed account
	_, err = primary.FindClientByContact(ctx, alice.Email, "")
	assert.ErrorIs(t, err, banking.ErrClientNotFound)
}

// =============================================================================
// ACCESS CONTROL
// =============================================================================

func TestAccess_ClientReadsOnlyOwnAccounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.open(t, banking.AccountSavings, "100", alice)
	b := f.open(t, banking.AccountSavings, "100", bob)

	got, err := f.svc.GetAccount(ctx, a.ID, owner(a))
	require.NoError(t, err)
	assert.Equal(t, a.Number, got.Number)

	_, err = f.svc.GetAccount(ctx, b.ID, owner(a))
	assert.ErrorIs(t, err, banking.ErrAccessDenied)

	_, err = f.svc.GetAccountByNumber(ctx, b.Number, owner(a))
	assert.ErrorIs(t, err, banking.ErrAccessDenied)

	// AND: listing is forced to the caller's client
	list, total, err := f.svc.ListAccounts(ctx, owner(a), banking.AccountFilter{ClientID: b.ClientID})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, list, 1)
	assert.Equal(t, a.ID, list[0].ID)
}

func TestAccess_WritesRequireAdmin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.open(t, banking.AccountSavings, "100", alice)
	req := banking.BlockRequest{Reason: "fraud check", Duration: 30, Unit: banking.UnitDays}

	_, err := f.svc.BlockAccount(ctx, a.ID, owner(a), req)
	assert.ErrorIs(t, err, banking.ErrAccessDenied)
	_, err = f.svc.DeleteAccount(ctx, a.ID, owner(a))
	assert.ErrorIs(t, err, banking.ErrAccessDenied)
	_, err = f.svc.CreateAccount(ctx, owner(a), account.CreateAccountSpec{Type: banking.AccountSavings, ClientID: a.ClientID})
	assert.ErrorIs(t, err, banking.ErrAccessDenied)
	_, err = f.svc.AuditTrail(ctx, a.ID, owner(a))
	assert.ErrorIs(t, err, banking.ErrAccessDenied)
}

func TestGetAccount_FallsBackToColdStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// GIVEN: an account that only exists in the cold store
	end := t0.AddDate(0, 0, 30)
	archived := &banking.Account{
		ID: "cold-1", Number: "CB250300000099", Type: banking.AccountSavings,
		Status: banking.StatusBlocked, ClientID: "c-cold", Currency: banking.DefaultCurrency,
		BlockStart: banking.TimePtr(t0), BlockEnd: &end,
	}
	require.NoError(t, f.cold.ArchiveAccount(ctx, archived, t0))

	// THEN: lookups by id and number find it
	got, err := f.svc.GetAccount(ctx, "cold-1", admin)
	require.NoError(t, err)
	assert.Equal(t, banking.StatusArchived, got.Status)

	got, err = f.svc.GetAccountByNumber(ctx, "CB250300000099", admin)
	require.NoError(t, err)
	assert.Equal(t, "cold-1", got.ID)

	// AND: a missing account is reported as not found
	_, err = f.svc.GetAccount(ctx, "nowhere", admin)
	assert.ErrorIs(t, err, banking.ErrNotFound)
}

func TestListAccountsByClientPhone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.open(t, banking.AccountSavings, "100", alice)
	f.open(t, banking.AccountChecking, "0", alice)
	f.open(t, banking.AccountSavings, "100", bob)

	client, accounts, err := f.svc.ListAccountsByClientPhone(ctx, alice.Phone, admin)
	require.NoError(t, err)
	assert.Equal(t, a.ClientID, client.ID)
	assert.Len(t, accounts, 2)

	_, _, err = f.svc.ListAccountsByClientPhone(ctx, bob.Phone, owner(a))
	assert.ErrorIs(t, err, banking.ErrAccessDenied)

	_, _, err = f.svc.ListAccountsByClientPhone(ctx, "+000", admin)
	assert.ErrorIs(t, err, banking.ErrClientNotFound)
}

// =============================================================================
// UPDATE / LIFECYCLE
// =============================================================================

func TestUpdateAccount_ChangesClientOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.open(t, banking.AccountSavings, "500000", alice)

	name := "Alice Diop-Sarr"
	addr := "Dakar, Plateau"
	acc, client, err := f.svc.UpdateAccount(ctx, a.ID, admin, account.UpdateAccountSpec{Name: &name, Address: &addr})
	require.NoError(t, err)

	assert.Equal(t, name, client.Name)
	assert.Equal(t, addr, client.Address)
	assert.Equal(t, alice.Email, client.Email)
	assert.True(t, decimal.NewFromInt(500000).Equal(acc.InitialBalance))
	assert.Equal(t, a.Number, acc.Number)

	_, _, err = f.svc.UpdateAccount(ctx, a.ID, admin, account.UpdateAccountSpec{})
	assert.ErrorIs(t, err, banking.ErrInvalidSpec)
}

func TestBlockAccount_ThirtyDays(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.open(t, banking.AccountSavings, "100", alice)

	acc, err := f.svc.BlockAccount(ctx, a.ID, admin, banking.BlockRequest{Reason: "court order", Duration: 30, Unit: banking.UnitDays})
	require.NoError(t, err)

	assert.Equal(t, banking.StatusBlocked, acc.Status)
	require.NotNil(t, acc.BlockEnd)
	assert.Equal(t, t0.AddDate(0, 0, 30), *acc.BlockEnd)
	assert.Equal(t, int64(2), acc.Version)
}

func TestBlockAccount_RejectsNonSavings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.open(t, banking.AccountCurrent, "100", alice)

	_, err := f.svc.BlockAccount(ctx, a.ID, admin, banking.BlockRequest{Reason: "x", Duration: 30, Unit: banking.UnitDays})
	assert.ErrorIs(t, err, banking.ErrInvalidAccountType)

	// AND: the account is unchanged
	got, err := f.svc.GetAccount(ctx, a.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, banking.StatusActive, got.Status)
}

func TestBlockAccount_ConcurrentCallsOneWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.open(t, banking.AccountSavings, "100", alice)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.BlockAccount(ctx, a.ID, admin, banking.BlockRequest{Reason: "race", Duration: 10, Unit: banking.UnitDays})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, banking.ErrInvalidState)
	}
	assert.Equal(t, 1, ok)
}

// cancellingClock cancels the request context the first time the service
// reads the time, which happens inside the transaction.
type cancellingClock struct {
	banking.Clock
	cancel context.CancelFunc
}

func (c cancellingClock) Now() time.Time {
	c.cancel()
	return c.Clock.Now()
}

func TestBlockAccount_CancelledMidTransactionLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	acc := f.open(t, banking.AccountSavings, "500000", alice)

	core, logs := observer.New(zapcore.InfoLevel)
	defer zap.ReplaceGlobals(zap.New(core))()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := account.NewService(account.Deps{
		Store:       f.primary,
		Cold:        f.cold,
		Clock:       cancellingClock{Clock: f.clock, cancel: cancel},
		Credentials: account.NewBcryptIssuer(4, 0, 0),
	})

	// WHEN: the caller goes away while the block is being applied
	_, err := svc.BlockAccount(ctx, acc.ID, admin, banking.BlockRequest{Reason: "savings lock", Duration: 30, Unit: banking.UnitDays})
	require.ErrorIs(t, err, context.Canceled)

	// THEN: neither the status change nor its audit record is visible
	assert.Zero(t, logs.FilterMessage("Audit").Len())
	got, err := f.primary.GetAccount(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.Equal(t, banking.StatusActive, got.Status)
	assert.Nil(t, got.BlockEnd)
	assert.Equal(t, int64(1), got.Version)

	trail, err := f.svc.AuditTrail(context.Background(), acc.ID, admin)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, banking.AuditAccountCreated, trail[0].Operation)

	// AND: once committed, the record is logged
	_, err = f.svc.BlockAccount(context.Background(), acc.ID, admin, banking.BlockRequest{Reason: "savings lock", Duration: 30, Unit: banking.UnitDays})
	require.NoError(t, err)
	audits := logs.FilterMessage("Audit").All()
	require.Len(t, audits, 1)
	assert.Equal(t, string(banking.AuditAccountBlocked), audits[0].ContextMap()["operation"])
}

func TestUnblockAndDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.open(t, banking.AccountSavings, "100", alice)

	_, err := f.svc.UnblockAccount(ctx, a.ID, admin, "not blocked")
	assert.ErrorIs(t, err, banking.ErrInvalidState)

	_, err = f.svc.BlockAccount(ctx, a.ID, admin, banking.BlockRequest{Reason: "audit", Duration: 2, Unit: banking.UnitMonths})
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)
	acc, err := f.svc.UnblockAccount(ctx, a.ID, admin, "cleared")
	require.NoError(t, err)
	assert.Equal(t, banking.StatusActive, acc.Status)
	assert.Equal(t, "cleared", acc.UnblockReason)
	assert.Nil(t, acc.BlockEnd)

	acc, err = f.svc.DeleteAccount(ctx, a.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, banking.StatusClosed, acc.Status)
	require.NotNil(t, acc.DeletedAt)

	_, err = f.svc.DeleteAccount(ctx, a.ID, admin)
	assert.ErrorIs(t, err, banking.ErrInvalidState)
}

func TestAuditTrail_RecordsEveryChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.open(t, banking.AccountSavings, "100", alice)
	_, err := f.svc.BlockAccount(ctx, a.ID, admin, banking.BlockRequest{Reason: "kyc", Duration: 5, Unit: banking.UnitDays})
	require.NoError(t, err)

	// A refused change leaves no record
	_, err = f.svc.DeleteAccount(ctx, a.ID, admin)
	require.Error(t, err)

	trail, err := f.svc.AuditTrail(ctx, a.ID, admin)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, banking.AuditAccountCreated, trail[0].Operation)
	assert.Nil(t, trail[0].Before)
	assert.Equal(t, banking.AuditAccountBlocked, trail[1].Operation)
	assert.Equal(t, admin.ID, trail[1].ActorID)
	assert.Contains(t, string(trail[1].Before), `"status":"active"`)
	assert.Contains(t, string(trail[1].After), `"status":"blocked"`)
	assert.NotContains(t, string(trail[0].After), "password")
}

// =============================================================================
// LEDGER
// =============================================================================

func deposit(t *testing.T, f *fixture, acc *banking.Account, amount string) {
	t.Helper()
	_, err := f.svc.RecordEntry(context.Background(), admin, account.EntrySpec{
		Type: banking.EntryDeposit, Amount: decimal.RequireFromString(amount), SourceAccountID: acc.ID,
	})
	require.NoError(t, err)
}

func TestLedger_ReferenceBalance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.open(t, banking.AccountSavings, "500000", alice)

	deposit(t, f, a, "100000")
	_, err := f.svc.RecordEntry(ctx, admin, account.EntrySpec{
		Type: banking.EntryWithdrawal, Amount: decimal.NewFromInt(30000), SourceAccountID: a.ID,
	})
	require.NoError(t, err)
	pending, err := f.svc.RecordEntry(ctx, admin, account.EntrySpec{
		Type: banking.EntryDeposit, Amount: decimal.NewFromInt(50000), SourceAccountID: a.ID, Pending: true,
	})
	require.NoError(t, err)
	assert.Regexp(t, `^TX250310\d{6}$`, pending.Number)

	bal, err := f.svc.ComputeBalance(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "570000.00", bal.StringFixed(2))

	// WHEN: the pending deposit is validated
	_, err = f.svc.SetEntryStatus(ctx, admin, pending.ID, banking.EntryValidated)
	require.NoError(t, err)

	bal, err = f.svc.ComputeBalance(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "620000.00", bal.StringFixed(2))

	// AND: it cannot be settled twice
	_, err = f.svc.SetEntryStatus(ctx, admin, pending.ID, banking.EntryCancelled)
	assert.ErrorIs(t, err, banking.ErrInvalidState)
}

func TestLedger_TransferMovesFunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.open(t, banking.AccountSavings, "1000", alice)
	b := f.open(t, banking.AccountChecking, "0", bob)

	// WHEN: the owner of a transfers to b
	_, err := f.svc.RecordEntry(ctx, owner(a), account.EntrySpec{
		Type: banking.EntryTransfer, Amount: decimal.RequireFromString("250.75"),
		SourceAccountID: a.ID, DestinationAccountID: b.ID,
	})
	require.NoError(t, err)

	balA, err := f.svc.ComputeBalance(ctx, a.ID)
	require.NoError(t, err)
	balB, err := f.svc.ComputeBalance(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "749.25", balA.StringFixed(2))
	assert.Equal(t, "250.75", balB.StringFixed(2))

	// AND: the owner of b cannot post from a
	_, err = f.svc.RecordEntry(ctx, owner(b), account.EntrySpec{
		Type: banking.EntryTransfer, Amount: decimal.NewFromInt(1),
		SourceAccountID: a.ID, DestinationAccountID: b.ID,
	})
	assert.ErrorIs(t, err, banking.ErrAccessDenied)

	st, err := f.svc.GetStatement(ctx, b.ID, owner(b))
	require.NoError(t, err)
	assert.Len(t, st.Entries, 1)
	assert.Equal(t, "250.75", st.Balance.StringFixed(2))
}

func TestLedger_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.open(t, banking.AccountSavings, "100", alice)
	b := f.open(t, banking.AccountSavings, "0", bob)

	_, err := f.svc.RecordEntry(ctx, admin, account.EntrySpec{
		Type: banking.EntryWithdrawal, Amount: decimal.NewFromInt(101), SourceAccountID: a.ID,
	})
	var insufficient *banking.InsufficientFundsError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, "100.00", insufficient.Available)
	assert.ErrorIs(t, err, banking.ErrInsufficientFunds)

	_, err = f.svc.RecordEntry(ctx, admin, account.EntrySpec{
		Type: banking.EntryDeposit, Amount: decimal.Zero, SourceAccountID: a.ID,
	})
	assert.ErrorIs(t, err, banking.ErrInvalidSpec)

	_, err = f.svc.RecordEntry(ctx, admin, account.EntrySpec{
		Type: banking.EntryTransfer, Amount: decimal.NewFromInt(1), SourceAccountID: a.ID, DestinationAccountID: a.ID,
	})
	assert.ErrorIs(t, err, banking.ErrInvalidSpec)

	_, err = f.svc.RecordEntry(ctx, admin, account.EntrySpec{
		Type: banking.EntryDeposit, Amount: decimal.NewFromInt(1), SourceAccountID: a.ID, DestinationAccountID: b.ID,
	})
	assert.ErrorIs(t, err, banking.ErrInvalidSpec)

	// A blocked account cannot receive a transfer
	_, err = f.svc.BlockAccount(ctx, b.ID, admin, banking.BlockRequest{Reason: "hold", Duration: 1, Unit: banking.UnitDays})
	require.NoError(t, err)
	_, err = f.svc.RecordEntry(ctx, admin, account.EntrySpec{
		Type: banking.EntryTransfer, Amount: decimal.NewFromInt(1), SourceAccountID: a.ID, DestinationAccountID: b.ID,
	})
	assert.ErrorIs(t, err, banking.ErrInvalidState)
}
