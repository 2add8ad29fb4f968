/*
handlers_test.go - HTTP tests for the compte API

Runs the full router against SQLite (primary) and gorm/SQLite (cold) in
memory. Covers:
- Actor headers and access control
- Account CRUD and lifecycle error mapping
- Ledger posting and derived balance
- Manual sweeps
*/
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/compte-engine/account"
	"github.com/warp/compte-engine/api"
	"github.com/warp/compte-engine/banking"
	"github.com/warp/compte-engine/store/cold"
	"github.com/warp/compte-engine/store/sqlite"
	"github.com/warp/compte-engine/sweep"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var t0 = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

type actorHeaders struct {
	id, role, clientID string
}

var adminHdr = actorHeaders{id: "admin-1", role: "admin"}

func clientHdr(clientID string) actorHeaders {
	return actorHeaders{id: "user-" + clientID, role: "client", clientID: clientID}
}

type testServer struct {
	t      *testing.T
	router http.Handler
	clock  *banking.FixedClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	primary, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { primary.Close() })

	archive, err := cold.Open(context.Background(), cold.Options{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { archive.Close() })

	clock := banking.NewFixedClock(t0)
	locker := banking.NewKeyedLocker()
	svc := account.NewService(account.Deps{
		Store:       primary,
		Cold:        archive,
		Locker:      locker,
		Clock:       clock,
		Credentials: account.NewBcryptIssuer(4, 0, 0),
	})
	sweeper := sweep.New(sweep.Deps{Store: primary, Cold: archive, Locker: locker, Clock: clock})
	sched := sweep.NewScheduler(sweeper, time.Hour, time.Minute)

	h := api.NewHandler(svc, sweeper, sched, primary)
	return &testServer{t: t, router: api.NewRouter(h, api.RouterOptions{}), clock: clock}
}

func (s *testServer) do(method, path string, who *actorHeaders, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if who != nil {
		req.Header.Set(api.HeaderActorID, who.id)
		req.Header.Set(api.HeaderActorRole, who.role)
		if who.clientID != "" {
			req.Header.Set(api.HeaderActorClientID, who.clientID)
		}
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (s *testServer) openAccount(typ, initial, name, email, phone string) api.AccountDTO {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/v1/comptes", &adminHdr, map[string]any{
		"type":            typ,
		"initial_balance": initial,
		"client":          map[string]string{"name": name, "email": email, "phone": phone},
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[api.AccountDTO](s.t, rec)
}

// =============================================================================
// IDENTITY / ACCESS
// =============================================================================

func TestHealth_NeedsNoActor(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/api/v1/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestActorHeaders_Required(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/v1/comptes", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/comptes", &actorHeaders{id: "x", role: "root"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/comptes", &actorHeaders{id: "x", role: "client"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetAccount_AccessControl(t *testing.T) {
	s := newTestServer(t)
	a := s.openAccount("savings", "1000", "Awa Diop", "awa@example.com", "+221770000001")
	b := s.openAccount("checking", "0", "Ibrahima Ba", "iba@example.com", "+221770000002")

	owner := clientHdr(a.ClientID)
	rec := s.do(http.MethodGet, "/api/v1/comptes/"+a.ID, &owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[api.AccountDTO](t, rec)
	assert.Equal(t, a.Number, got.Number)
	assert.Equal(t, "1000.00", got.InitialBalance)
	assert.ElementsMatch(t, []string{"block", "delete"}, got.AllowedEvents)

	rec = s.do(http.MethodGet, "/api/v1/comptes/"+b.ID, &owner, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "access_denied", decodeBody[api.ErrorResponse](t, rec).Code)

	rec = s.do(http.MethodGet, "/api/v1/comptes/number/"+a.Number, &owner, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/comptes/does-not-exist", &adminHdr, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Writes are admin only
	rec = s.do(http.MethodDelete, "/api/v1/comptes/"+a.ID, &owner, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetAccountHolder(t *testing.T) {
	s := newTestServer(t)
	a := s.openAccount("savings", "1000", "Awa Diop", "awa@example.com", "+221770000001")
	b := s.openAccount("checking", "0", "Ibrahima Ba", "iba@example.com", "+221770000002")

	owner := clientHdr(a.ClientID)
	rec := s.do(http.MethodGet, "/api/v1/comptes/"+a.ID+"/client", &owner, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	holder := decodeBody[api.ClientDTO](t, rec)
	assert.Equal(t, a.ClientID, holder.ID)
	assert.Equal(t, "Awa Diop", holder.Name)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = s.do(http.MethodGet, "/api/v1/comptes/"+b.ID+"/client", &owner, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func TestCreateAccount_InvalidInput(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/v1/comptes", &adminHdr, map[string]any{"type": "loan", "client_id": "c"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/comptes", &adminHdr, map[string]any{"type": "savings", "unexpected": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/comptes", &adminHdr, map[string]any{"type": "savings", "client_id": "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAccounts_FilterAndPage(t *testing.T) {
	s := newTestServer(t)
	a := s.openAccount("savings", "100", "Awa Diop", "awa@example.com", "+221770000001")
	s.openAccount("checking", "200", "Awa Diop", "awa@example.com", "+221770000001")
	s.openAccount("savings", "300", "Ibrahima Ba", "iba@example.com", "+221770000002")

	rec := s.do(http.MethodGet, "/api/v1/comptes?type=savings&sort=initial_balance&order=asc", &adminHdr, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decodeBody[api.AccountListResponse](t, rec)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "100.00", page.Items[0].InitialBalance)

	rec = s.do(http.MethodGet, "/api/v1/comptes?limit=1&offset=1", &adminHdr, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page = decodeBody[api.AccountListResponse](t, rec)
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Items, 1)

	// A client only sees its own accounts
	owner := clientHdr(a.ClientID)
	rec = s.do(http.MethodGet, "/api/v1/comptes", &owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decodeBody[api.AccountListResponse](t, rec).Total)

	rec = s.do(http.MethodGet, "/api/v1/clients/+221770000001/comptes", &adminHdr, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[api.ClientAccountsResponse](t, rec).Accounts, 2)

	rec = s.do(http.MethodGet, "/api/v1/comptes?limit=abc", &adminHdr, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateAccount_ChangesHolder(t *testing.T) {
	s := newTestServer(t)
	a := s.openAccount("savings", "100", "Awa Diop", "awa@example.com", "+221770000001")

	rec := s.do(http.MethodPut, "/api/v1/comptes/"+a.ID, &adminHdr, map[string]any{"address": "Saint-Louis"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[api.UpdateAccountResponse](t, rec)
	assert.Equal(t, "Saint-Louis", resp.Client.Address)
	assert.Equal(t, "Awa Diop", resp.Client.Name)
	assert.Equal(t, "100.00", resp.Account.InitialBalance)
}

func TestBlockUnblock_ErrorMapping(t *testing.T) {
	s := newTestServer(t)
	savings := s.openAccount("savings", "100", "Awa Diop", "awa@example.com", "+221770000001")
	current := s.openAccount("current", "100", "Awa Diop", "awa@example.com", "+221770000001")
	block := map[string]any{"reason": "court order", "duration": 30, "unit": "jours"}

	rec := s.do(http.MethodPost, "/api/v1/comptes/"+current.ID+"/block", &adminHdr, block)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_account_type", decodeBody[api.ErrorResponse](t, rec).Code)

	rec = s.do(http.MethodPost, "/api/v1/comptes/"+savings.ID+"/block", &adminHdr,
		map[string]any{"reason": "x", "duration": 400, "unit": "days"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_duration", decodeBody[api.ErrorResponse](t, rec).Code)

	rec = s.do(http.MethodPost, "/api/v1/comptes/"+savings.ID+"/block", &adminHdr,
		map[string]any{"reason": "x", "duration": 3, "unit": "weeks"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/comptes/"+savings.ID+"/block", &adminHdr, block)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	blocked := decodeBody[api.AccountDTO](t, rec)
	assert.Equal(t, "blocked", blocked.Status)
	require.NotNil(t, blocked.BlockEnd)
	assert.True(t, t0.AddDate(0, 0, 30).Equal(*blocked.BlockEnd))

	rec = s.do(http.MethodPost, "/api/v1/comptes/"+savings.ID+"/block", &adminHdr, block)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/comptes/"+savings.ID+"/unblock", &adminHdr, map[string]any{"reason": "released"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "active", decodeBody[api.AccountDTO](t, rec).Status)

	rec = s.do(http.MethodGet, "/api/v1/comptes/"+savings.ID+"/audit", &adminHdr, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]api.AuditRecordDTO](t, rec), 3)
}

// =============================================================================
// LEDGER
// =============================================================================

func TestLedger_ReferenceBalanceOverHTTP(t *testing.T) {
	s := newTestServer(t)
	a := s.openAccount("savings", "500000", "Awa Diop", "awa@example.com", "+221770000001")
	path := "/api/v1/comptes/" + a.ID + "/transactions"

	for _, body := range []map[string]any{
		{"type": "deposit", "amount": "100000"},
		{"type": "withdrawal", "amount": "30000"},
		{"type": "deposit", "amount": "50000", "pending": true},
	} {
		rec := s.do(http.MethodPost, path, &adminHdr, body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	owner := clientHdr(a.ClientID)
	rec := s.do(http.MethodGet, "/api/v1/comptes/"+a.ID+"/balance", &owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "570000.00", decodeBody[api.BalanceDTO](t, rec).Balance)

	rec = s.do(http.MethodGet, path, &owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decodeBody[api.StatementResponse](t, rec)
	require.Len(t, st.Entries, 3)

	var pendingID string
	for _, e := range st.Entries {
		if e.Status == "pending" {
			pendingID = e.ID
			assert.Equal(t, "0.00", e.Delta)
		}
	}
	require.NotEmpty(t, pendingID)

	rec = s.do(http.MethodPost, "/api/v1/transactions/"+pendingID+"/status", &adminHdr, map[string]any{"status": "validated"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/v1/comptes/"+a.ID+"/balance", &owner, nil)
	assert.Equal(t, "620000.00", decodeBody[api.BalanceDTO](t, rec).Balance)
}

func TestLedger_InsufficientFunds(t *testing.T) {
	s := newTestServer(t)
	a := s.openAccount("checking", "10", "Awa Diop", "awa@example.com", "+221770000001")

	rec := s.do(http.MethodPost, "/api/v1/comptes/"+a.ID+"/transactions", &adminHdr,
		map[string]any{"type": "withdrawal", "amount": "10.01"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "insufficient_funds", decodeBody[api.ErrorResponse](t, rec).Code)
}

// =============================================================================
// SWEEPS
// =============================================================================

func TestSweeps_ArchiveThenRestore(t *testing.T) {
	s := newTestServer(t)
	a := s.openAccount("savings", "1000", "Awa Diop", "awa@example.com", "+221770000001")
	rec := s.do(http.MethodPost, "/api/v1/comptes/"+a.ID+"/block", &adminHdr,
		map[string]any{"reason": "term lock", "duration": 1, "unit": "months"})
	require.Equal(t, http.StatusOK, rec.Code)

	owner := clientHdr(a.ClientID)
	rec = s.do(http.MethodPost, "/api/v1/admin/sweeps/archive", &owner, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/admin/sweeps/archive", &adminHdr, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decodeBody[sweep.Result](t, rec).Processed)

	rec = s.do(http.MethodGet, "/api/v1/comptes/"+a.ID, &owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "archived", decodeBody[api.AccountDTO](t, rec).Status)

	s.clock.Set(t0.AddDate(0, 1, 0))
	rec = s.do(http.MethodPost, "/api/v1/admin/sweeps/unarchive", &adminHdr, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decodeBody[sweep.Result](t, rec).Processed)

	rec = s.do(http.MethodGet, "/api/v1/comptes/"+a.ID, &owner, nil)
	got := decodeBody[api.AccountDTO](t, rec)
	assert.Equal(t, "active", got.Status)
	assert.Equal(t, banking.ExpiredUnblockReason, got.UnblockReason)

	rec = s.do(http.MethodPost, "/api/v1/admin/sweeps/run", &adminHdr, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tick := decodeBody[sweep.TickResult](t, rec)
	assert.Equal(t, 0, tick.Archive.Processed+tick.Unarchive.Processed)

	rec = s.do(http.MethodGet, "/api/v1/admin/sweeps/last", &adminHdr, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
