/*
handlers.go - HTTP API handlers for the compte engine

PURPOSE:
  Exposes the account service via REST API. Handles HTTP request/response,
  JSON serialization, and delegates every rule to account.Service.

ENDPOINTS:
  Accounts:
    GET    /api/v1/comptes                      List (filter, sort, page)
    POST   /api/v1/comptes                      Open an account
    GET    /api/v1/comptes/{id}                 Account details
    PUT    /api/v1/comptes/{id}                 Update holder details
    DELETE /api/v1/comptes/{id}                 Soft delete
    GET    /api/v1/comptes/number/{number}      Lookup by CB... number
    POST   /api/v1/comptes/{id}/block           Block a savings account
    POST   /api/v1/comptes/{id}/unblock         Lift a block early
    GET    /api/v1/comptes/{id}/balance         Derived balance
    GET    /api/v1/comptes/{id}/transactions    Statement
    POST   /api/v1/comptes/{id}/transactions    Post an entry
    GET    /api/v1/comptes/{id}/audit           Audit trail (admin)
    GET    /api/v1/comptes/{id}/client          Account holder

  Clients:
    GET    /api/v1/clients/{phone}/comptes      Accounts of a client

  Ledger:
    POST   /api/v1/transactions/{id}/status     Settle a pending entry

  Admin:
    POST   /api/v1/admin/sweeps/archive         Run the archive sweep
    POST   /api/v1/admin/sweeps/unarchive       Run the unarchive sweep
    POST   /api/v1/admin/sweeps/run             Run both, like a tick
    GET    /api/v1/admin/sweeps/last            Last scheduler tick

ERROR HANDLING:
  Errors are returned as JSON with a status derived from the error kind:
  - 400: invalid spec, type or duration
  - 401: missing actor headers
  - 403: access denied
  - 404: account, client or entry not found
  - 409: invalid state, concurrent modification, duplicate number
  - 422: insufficient funds
  - 500: unexpected errors
  - 503: storage failures and timeouts (retryable kinds carry Retry-After)

SEE ALSO:
  - dto.go: Request/response data structures
  - middleware.go: Actor extraction, request logging
  - scenarios.go: Demo data loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/compte-engine/account"
	"github.com/warp/compte-engine/banking"
	"github.com/warp/compte-engine/sweep"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter clears the primary store. Only the scenario loader uses it.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service   *account.Service
	Sweeper   *sweep.Sweeper
	Scheduler *sweep.Scheduler
	Store     Resetter

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler. Scheduler and store may be nil: the
// corresponding endpoints then answer 503.
func NewHandler(svc *account.Service, sweeper *sweep.Sweeper, sched *sweep.Scheduler, store Resetter) *Handler {
	return &Handler{
		Service:   svc,
		Sweeper:   sweeper,
		Scheduler: sched,
		Store:     store,
	}
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// ListAccounts returns one page of accounts.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := banking.AccountFilter{
		ClientID:       q.Get("client_id"),
		Type:           banking.AccountType(q.Get("type")),
		Status:         banking.AccountStatus(q.Get("status")),
		Search:         q.Get("search"),
		Sort:           q.Get("sort"),
		Desc:           strings.EqualFold(q.Get("order"), "desc"),
		IncludeDeleted: q.Get("include_deleted") == "true",
	}
	var err error
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	if f.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid offset", err)
		return
	}
	f = f.Normalize()

	accounts, total, err := h.Service.ListAccounts(r.Context(), actorFrom(r), f)
	if err != nil {
		writeServiceError(w, r, "Failed to list accounts", err)
		return
	}
	writeJSON(w, http.StatusOK, AccountListResponse{
		Items:  toAccountDTOs(accounts),
		Total:  total,
		Limit:  f.Limit,
		Offset: f.Offset,
	})
}

// CreateAccount opens an account for an existing or new client.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if !decode(w, r, &req) {
		return
	}
	spec := account.CreateAccountSpec{
		Type:           banking.AccountType(req.Type),
		Currency:       req.Currency,
		InitialBalance: req.InitialBalance,
		ClientID:       req.ClientID,
	}
	if req.Client != nil {
		spec.Client = req.Client.toSpec()
	}

	acc, err := h.Service.CreateAccount(r.Context(), actorFrom(r), spec)
	if err != nil {
		writeServiceError(w, r, "Failed to create account", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(acc))
}

// GetAccount returns an account from either tier.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := h.Service.GetAccount(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
	if err != nil {
		writeServiceError(w, r, "Failed to get account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acc))
}

// GetAccountHolder returns the client owning an account, archived ones included.
func (h *Handler) GetAccountHolder(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	acc, err := h.Service.GetAccount(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		writeServiceError(w, r, "Failed to get account", err)
		return
	}
	client, err := h.Service.GetClient(r.Context(), acc.ClientID, actor)
	if err != nil {
		writeServiceError(w, r, "Failed to get client", err)
		return
	}
	writeJSON(w, http.StatusOK, toClientDTO(client))
}

func (h *Handler) GetAccountByNumber(w http.ResponseWriter, r *http.Request) {
	acc, err := h.Service.GetAccountByNumber(r.Context(), chi.URLParam(r, "number"), actorFrom(r))
	if err != nil {
		writeServiceError(w, r, "Failed to get account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acc))
}

// UpdateAccount changes the holder's details.
func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	var req UpdateAccountRequest
	if !decode(w, r, &req) {
		return
	}
	acc, client, err := h.Service.UpdateAccount(r.Context(), chi.URLParam(r, "id"), actorFrom(r), account.UpdateAccountSpec{
		Name:       req.Name,
		NationalID: req.NationalID,
		Email:      req.Email,
		Phone:      req.Phone,
		Address:    req.Address,
	})
	if err != nil {
		writeServiceError(w, r, "Failed to update account", err)
		return
	}
	writeJSON(w, http.StatusOK, UpdateAccountResponse{Account: toAccountDTO(acc), Client: toClientDTO(client)})
}

func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := h.Service.DeleteAccount(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
	if err != nil {
		writeServiceError(w, r, "Failed to delete account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acc))
}

// BlockAccount blocks a savings account for a bounded period.
func (h *Handler) BlockAccount(w http.ResponseWriter, r *http.Request) {
	var req BlockAccountRequest
	if !decode(w, r, &req) {
		return
	}
	unit, ok := banking.ParseDurationUnit(req.Unit)
	if !ok {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: "Invalid duration unit", Code: "invalid_duration", Details: req.Unit,
		})
		return
	}
	acc, err := h.Service.BlockAccount(r.Context(), chi.URLParam(r, "id"), actorFrom(r), banking.BlockRequest{
		Reason:   req.Reason,
		Duration: req.Duration,
		Unit:     unit,
		Start:    req.Start,
	})
	if err != nil {
		writeServiceError(w, r, "Failed to block account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acc))
}

func (h *Handler) UnblockAccount(w http.ResponseWriter, r *http.Request) {
	var req UnblockAccountRequest
	if !decode(w, r, &req) {
		return
	}
	acc, err := h.Service.UnblockAccount(r.Context(), chi.URLParam(r, "id"), actorFrom(r), req.Reason)
	if err != nil {
		writeServiceError(w, r, "Failed to unblock account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acc))
}

// ListClientAccounts returns the accounts of the client registered with a phone.
func (h *Handler) ListClientAccounts(w http.ResponseWriter, r *http.Request) {
	client, accounts, err := h.Service.ListAccountsByClientPhone(r.Context(), chi.URLParam(r, "phone"), actorFrom(r))
	if err != nil {
		writeServiceError(w, r, "Failed to list client accounts", err)
		return
	}
	writeJSON(w, http.StatusOK, ClientAccountsResponse{Client: toClientDTO(client), Accounts: toAccountDTOs(accounts)})
}

// GetAuditTrail returns the audit records of an account.
func (h *Handler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	records, err := h.Service.AuditTrail(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
	if err != nil {
		writeServiceError(w, r, "Failed to read audit trail", err)
		return
	}
	out := make([]AuditRecordDTO, len(records))
	for i, rec := range records {
		out[i] = AuditRecordDTO{
			ID:        rec.ID,
			At:        rec.At,
			Operation: string(rec.Operation),
			ActorID:   rec.ActorID,
			ActorRole: string(rec.ActorRole),
		}
		if len(rec.Before) > 0 {
			out[i].Before = json.RawMessage(rec.Before)
		}
		if len(rec.After) > 0 {
			out[i].After = json.RawMessage(rec.After)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// GetBalance returns the balance derived from the ledger.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	st, err := h.Service.GetStatement(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
	if err != nil {
		writeServiceError(w, r, "Failed to compute balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(st.Account, st.Balance))
}

// GetTransactions returns the statement of an account.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	st, err := h.Service.GetStatement(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
	if err != nil {
		writeServiceError(w, r, "Failed to list transactions", err)
		return
	}
	entries := make([]EntryDTO, len(st.Entries))
	for i, e := range st.Entries {
		entries[i] = toEntryDTO(e, st.Account.ID)
	}
	writeJSON(w, http.StatusOK, StatementResponse{Account: toBalanceDTO(st.Account, st.Balance), Entries: entries})
}

// RecordEntry posts an entry with the path account as source.
func (h *Handler) RecordEntry(w http.ResponseWriter, r *http.Request) {
	var req RecordEntryRequest
	if !decode(w, r, &req) {
		return
	}
	accountID := chi.URLParam(r, "id")
	e, err := h.Service.RecordEntry(r.Context(), actorFrom(r), account.EntrySpec{
		Type:                 banking.EntryType(req.Type),
		Amount:               req.Amount,
		Currency:             req.Currency,
		Description:          req.Description,
		SourceAccountID:      accountID,
		DestinationAccountID: req.DestinationAccountID,
		OccurredAt:           req.OccurredAt,
		Pending:              req.Pending,
	})
	if err != nil {
		writeServiceError(w, r, "Failed to record transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(*e, accountID))
}

// SetEntryStatus settles a pending entry.
func (h *Handler) SetEntryStatus(w http.ResponseWriter, r *http.Request) {
	var req EntryStatusRequest
	if !decode(w, r, &req) {
		return
	}
	e, err := h.Service.SetEntryStatus(r.Context(), actorFrom(r), chi.URLParam(r, "id"), banking.EntryStatus(req.Status))
	if err != nil {
		writeServiceError(w, r, "Failed to update transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(*e, e.SourceAccountID))
}

// =============================================================================
// ADMIN: SWEEPS
// =============================================================================

func (h *Handler) RunArchiveSweep(w http.ResponseWriter, r *http.Request) {
	h.runSweep(w, r, h.Sweeper.RunArchiveSweep)
}

func (h *Handler) RunUnarchiveSweep(w http.ResponseWriter, r *http.Request) {
	h.runSweep(w, r, h.Sweeper.RunUnarchiveSweep)
}

func (h *Handler) runSweep(w http.ResponseWriter, r *http.Request, run func(context.Context) (sweep.Result, error)) {
	if !requireAdminActor(w, r) {
		return
	}
	res, err := run(r.Context())
	if err != nil {
		writeServiceError(w, r, "Sweep failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RunScheduler runs one scheduler tick now.
func (h *Handler) RunScheduler(w http.ResponseWriter, r *http.Request) {
	if !requireAdminActor(w, r) {
		return
	}
	if h.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "Scheduler not configured", nil)
		return
	}
	writeJSON(w, http.StatusOK, h.Scheduler.RunNow(r.Context()))
}

func (h *Handler) LastSchedulerRun(w http.ResponseWriter, r *http.Request) {
	if !requireAdminActor(w, r) {
		return
	}
	if h.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "Scheduler not configured", nil)
		return
	}
	writeJSON(w, http.StatusOK, h.Scheduler.Last())
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("Failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps the banking error taxonomy onto HTTP.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, banking.ErrNotFound),
		errors.Is(err, banking.ErrClientNotFound),
		errors.Is(err, banking.ErrEntryNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, banking.ErrAccessDenied):
		return http.StatusForbidden, "access_denied"
	case errors.Is(err, banking.ErrInvalidAccountType):
		return http.StatusBadRequest, "invalid_account_type"
	case errors.Is(err, banking.ErrInvalidDuration):
		return http.StatusBadRequest, "invalid_duration"
	case errors.Is(err, banking.ErrInvalidSpec):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, banking.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "insufficient_funds"
	case errors.Is(err, banking.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, banking.ErrConcurrentModification):
		return http.StatusConflict, "concurrent_modification"
	case errors.Is(err, banking.ErrDuplicateAccountNumber):
		return http.StatusConflict, "duplicate_number"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "timeout"
	case errors.Is(err, banking.ErrStorageFailure):
		return http.StatusServiceUnavailable, "storage_unavailable"
	case banking.IsClientError(err):
		return http.StatusBadRequest, "invalid_request"
	}
	return http.StatusInternalServerError, "internal"
}

func writeServiceError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error(message,
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	if banking.IsRetryable(err) {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: err.Error()})
}

// decode reads a JSON body, answering 400 itself on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func requireAdminActor(w http.ResponseWriter, r *http.Request) bool {
	if actorFrom(r).IsAdmin() {
		return true
	}
	writeJSON(w, http.StatusForbidden, ErrorResponse{Error: "Admin role required", Code: "access_denied"})
	return false
}
