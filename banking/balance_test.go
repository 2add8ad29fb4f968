package banking_test

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/warp/compte-engine/banking"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func savings(id, initial string) *banking.Account {
	return &banking.Account{
		ID:             id,
		Type:           banking.AccountSavings,
		Status:         banking.StatusActive,
		Currency:       banking.DefaultCurrency,
		InitialBalance: dec(initial),
	}
}

func entry(typ banking.EntryType, amount string, src, dst string, status banking.EntryStatus) banking.Entry {
	return banking.Entry{
		ID:                   src + "-" + string(typ) + "-" + amount,
		Type:                 typ,
		Amount:               dec(amount),
		Status:               status,
		SourceAccountID:      src,
		DestinationAccountID: dst,
		OccurredAt:           time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// =============================================================================
// BALANCE TESTS
// =============================================================================

func TestComputeBalance_NoEntries_ReturnsInitial(t *testing.T) {
	acc := savings("A", "1250.50")
	assert.True(t, dec("1250.50").Equal(banking.ComputeBalance(acc, nil)))
}

func TestComputeBalance_ReferenceScenario(t *testing.T) {
	// GIVEN: initial 500,000, deposit 100,000, withdrawal 30,000, pending deposit 50,000
	acc := savings("A", "500000")
	entries := []banking.Entry{
		entry(banking.EntryDeposit, "100000", "A", "", banking.EntryValidated),
		entry(banking.EntryWithdrawal, "30000", "A", "", banking.EntryValidated),
		entry(banking.EntryDeposit, "50000", "A", "", banking.EntryPending),
	}

	// THEN: the pending deposit is ignored
	assert.True(t, dec("570000").Equal(banking.ComputeBalance(acc, entries)))
}

func TestComputeBalance_NonValidatedEntriesIgnored(t *testing.T) {
	acc := savings("A", "100")
	for _, st := range []banking.EntryStatus{banking.EntryPending, banking.EntryRejected, banking.EntryCancelled} {
		entries := []banking.Entry{entry(banking.EntryWithdrawal, "40", "A", "", st)}
		assert.True(t, dec("100").Equal(banking.ComputeBalance(acc, entries)), "status %s", st)
	}
}

func TestComputeBalance_FeeDebits(t *testing.T) {
	acc := savings("A", "100")
	entries := []banking.Entry{entry(banking.EntryFee, "2.5", "A", "", banking.EntryValidated)}
	assert.True(t, dec("97.5").Equal(banking.ComputeBalance(acc, entries)))
}

func TestComputeBalance_TransferSides(t *testing.T) {
	// GIVEN: a transfer of 25 from A to B
	a := savings("A", "100")
	b := savings("B", "100")
	entries := []banking.Entry{
		entry(banking.EntryTransfer, "25", "A", "B", banking.EntryValidated),
		entry(banking.EntryInternalTransfer, "5", "B", "A", banking.EntryValidated),
	}

	// THEN: source is debited and destination credited
	assert.True(t, dec("80").Equal(banking.ComputeBalance(a, entries)))
	assert.True(t, dec("120").Equal(banking.ComputeBalance(b, entries)))
}

func TestComputeBalance_SelfTransferNetsZero(t *testing.T) {
	acc := savings("A", "100")
	entries := []banking.Entry{
		entry(banking.EntryTransfer, "60", "A", "A", banking.EntryValidated),
		entry(banking.EntryInternalTransfer, "10", "A", "A", banking.EntryValidated),
	}
	assert.True(t, dec("100").Equal(banking.ComputeBalance(acc, entries)))
}

func TestComputeBalance_DepositOnlyAffectsSource(t *testing.T) {
	// GIVEN: a deposit on A that (incorrectly) names B as destination
	b := savings("B", "10")
	entries := []banking.Entry{entry(banking.EntryDeposit, "99", "A", "B", banking.EntryValidated)}

	// THEN: B is unaffected
	assert.True(t, dec("10").Equal(banking.ComputeBalance(b, entries)))
}

func TestComputeBalance_OrderIndependent(t *testing.T) {
	acc := savings("A", "1000")
	entries := []banking.Entry{
		entry(banking.EntryDeposit, "10.10", "A", "", banking.EntryValidated),
		entry(banking.EntryWithdrawal, "3.33", "A", "", banking.EntryValidated),
		entry(banking.EntryTransfer, "7.77", "A", "B", banking.EntryValidated),
		entry(banking.EntryTransfer, "1.01", "B", "A", banking.EntryValidated),
		entry(banking.EntryFee, "0.50", "A", "", banking.EntryValidated),
		entry(banking.EntryDeposit, "100", "A", "", banking.EntryPending),
	}
	want := banking.ComputeBalance(acc, entries)

	r := rand.New(rand.NewPCG(7, 7))
	for i := 0; i < 20; i++ {
		shuffled := append([]banking.Entry(nil), entries...)
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		assert.True(t, want.Equal(banking.ComputeBalance(acc, shuffled)))
	}
	assert.True(t, dec("999.51").Equal(want))
}

func TestRoundBalance_HalfAwayFromZero(t *testing.T) {
	cases := map[string]string{
		"10.005":  "10.01",
		"-10.005": "-10.01",
		"10.004":  "10",
		"2.675":   "2.68",
		"-0.125":  "-0.13",
		"0.115":   "0.12",
	}
	for in, want := range cases {
		assert.True(t, dec(want).Equal(banking.RoundBalance(dec(in))), "%s -> %s", in, want)
	}
}

func TestComputeBalance_Rounded(t *testing.T) {
	acc := savings("A", "0")
	entries := []banking.Entry{entry(banking.EntryDeposit, "10.005", "A", "", banking.EntryValidated)}
	assert.Equal(t, "10.01", banking.ComputeBalance(acc, entries).StringFixed(2))
}
