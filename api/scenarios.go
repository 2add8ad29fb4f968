/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Populates the primary store with small, realistic data sets that show
  one engine feature each. Everything goes through account.Service, so a
  scenario exercises the same rules and audit trail as real traffic.

AVAILABLE SCENARIOS:
  reference-balance:   500,000 opening + 100,000 - 30,000, 50,000 pending
  blocked-savings:     savings account blocked for 30 days, ready to archive
  expired-block:       block started 40 days ago for 30 days; one sweep tick
                       archives it, the next restores it
  household-transfers: two clients, transfers, a fee and a rejected entry

HOW SCENARIOS WORK:
  1. Reset the primary store
  2. Open accounts (clients are created on the fly)
  3. Post entries and lifecycle changes

USAGE VIA API:
  POST /api/v1/scenarios/load
  {"scenario_id": "reference-balance"}

NOTE:
  Scenarios reset the primary store. The cold store is left alone. Only use
  in development/demo environments.

SEE ALSO:
  - handlers.go: sweep endpoints to move scenario accounts between tiers
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/compte-engine/account"
	"github.com/warp/compte-engine/banking"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "reference-balance",
		Name:        "Reference Balance",
		Description: "Savings account at 570,000 FCFA with one pending deposit",
	},
	{
		ID:          "blocked-savings",
		Name:        "Blocked Savings",
		Description: "Savings account blocked for 30 days, picked by the next archive sweep",
	},
	{
		ID:          "expired-block",
		Name:        "Expired Block",
		Description: "Block already over: archive then unarchive on consecutive sweeps",
	},
	{
		ID:          "household-transfers",
		Name:        "Household Transfers",
		Description: "Two clients, checking and savings, transfers and fees",
	},
}

var scenarioActor = banking.Actor{ID: "scenario-loader", Role: banking.RoleAdmin}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the primary store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	if !requireAdminActor(w, r) {
		return
	}
	if h.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "Scenarios need a resettable store", nil)
		return
	}
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "reference-balance":
		load = h.loadReferenceBalance
	case "blocked-savings":
		load = h.loadBlockedSavings
	case "expired-block":
		load = h.loadExpiredBlock
	case "household-transfers":
		load = h.loadHouseholdTransfers
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears the primary store.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if !requireAdminActor(w, r) {
		return
	}
	if h.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "Store is not resettable", nil)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) open(ctx context.Context, typ banking.AccountType, initial int64, client account.ClientSpec) (*banking.Account, error) {
	return h.Service.CreateAccount(ctx, scenarioActor, account.CreateAccountSpec{
		Type:           typ,
		InitialBalance: decimal.NewFromInt(initial),
		Client:         &client,
	})
}

func (h *Handler) post(ctx context.Context, typ banking.EntryType, amount int64, src, dst banking.AccountID, desc string, pending bool) (*banking.Entry, error) {
	return h.Service.RecordEntry(ctx, scenarioActor, account.EntrySpec{
		Type:                 typ,
		Amount:               decimal.NewFromInt(amount),
		Description:          desc,
		SourceAccountID:      src,
		DestinationAccountID: dst,
		Pending:              pending,
	})
}

var (
	aminata = account.ClientSpec{Name: "Aminata Sow", NationalID: "1752198500123", Email: "aminata.sow@example.com", Phone: "+221771234567", Address: "Dakar, Mermoz"}
	moussa  = account.ClientSpec{Name: "Moussa Fall", NationalID: "1881199000456", Email: "moussa.fall@example.com", Phone: "+221781112233", Address: "Thies, Centre"}
)

func (h *Handler) loadReferenceBalance(ctx context.Context) error {
	acc, err := h.open(ctx, banking.AccountSavings, 500000, aminata)
	if err != nil {
		return err
	}
	steps := []struct {
		typ     banking.EntryType
		amount  int64
		desc    string
		pending bool
	}{
		{banking.EntryDeposit, 100000, "Salary", false},
		{banking.EntryWithdrawal, 30000, "ATM withdrawal", false},
		{banking.EntryDeposit, 50000, "Cheque deposit awaiting clearance", true},
	}
	for _, s := range steps {
		if _, err := h.post(ctx, s.typ, s.amount, acc.ID, "", s.desc, s.pending); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadBlockedSavings(ctx context.Context) error {
	acc, err := h.open(ctx, banking.AccountSavings, 1000000, aminata)
	if err != nil {
		return err
	}
	if _, err := h.open(ctx, banking.AccountChecking, 75000, aminata); err != nil {
		return err
	}
	_, err = h.Service.BlockAccount(ctx, acc.ID, scenarioActor, banking.BlockRequest{
		Reason:   "Term savings lock requested by client",
		Duration: 30,
		Unit:     banking.UnitDays,
	})
	return err
}

func (h *Handler) loadExpiredBlock(ctx context.Context) error {
	acc, err := h.open(ctx, banking.AccountSavings, 250000, moussa)
	if err != nil {
		return err
	}
	start := h.Service.Clock().Now().Add(-40 * 24 * time.Hour)
	_, err = h.Service.BlockAccount(ctx, acc.ID, scenarioActor, banking.BlockRequest{
		Reason:   "Dormant account review",
		Duration: 30,
		Unit:     banking.UnitDays,
		Start:    &start,
	})
	return err
}

func (h *Handler) loadHouseholdTransfers(ctx context.Context) error {
	aChecking, err := h.open(ctx, banking.AccountChecking, 400000, aminata)
	if err != nil {
		return err
	}
	aSavings, err := h.open(ctx, banking.AccountSavings, 0, aminata)
	if err != nil {
		return err
	}
	mCurrent, err := h.open(ctx, banking.AccountCurrent, 50000, moussa)
	if err != nil {
		return err
	}

	if _, err := h.post(ctx, banking.EntryInternalTransfer, 150000, aChecking.ID, aSavings.ID, "Monthly savings", false); err != nil {
		return err
	}
	if _, err := h.post(ctx, banking.EntryTransfer, 60000, aChecking.ID, mCurrent.ID, "Rent share", false); err != nil {
		return err
	}
	if _, err := h.post(ctx, banking.EntryFee, 1500, aChecking.ID, "", "Account maintenance", false); err != nil {
		return err
	}
	rejected, err := h.post(ctx, banking.EntryWithdrawal, 20000, mCurrent.ID, "", "Disputed card payment", true)
	if err != nil {
		return err
	}
	_, err = h.Service.SetEntryStatus(ctx, scenarioActor, rejected.ID, banking.EntryRejected)
	return err
}
