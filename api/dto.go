/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the banking model from the external contract:
  - Amounts leave the API as fixed two-decimal strings
  - Credentials never leave the API
  - Optional fields on update are pointers (absent = unchanged)

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Wrappers (lists, sweeps)

VALIDATION:
  Validation is done by the account service, not in DTOs. DTOs are pure
  data carriers; handlers only parse and convert.

SEE ALSO:
  - handlers.go: Uses these types
  - banking/types.go: Domain model
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/compte-engine/account"
	"github.com/warp/compte-engine/banking"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

// AccountDTO represents an account in API responses.
type AccountDTO struct {
	ID             string     `json:"id"`
	Number         string     `json:"number"`
	Type           string     `json:"type"`
	Currency       string     `json:"currency"`
	InitialBalance string     `json:"initial_balance"`
	Status         string     `json:"status"`
	ClientID       string     `json:"client_id"`
	BlockReason    string     `json:"block_reason,omitempty"`
	BlockStart     *time.Time `json:"block_start,omitempty"`
	BlockEnd       *time.Time `json:"block_end,omitempty"`
	UnblockReason  string     `json:"unblock_reason,omitempty"`
	UnblockedAt    *time.Time `json:"unblocked_at,omitempty"`
	ArchivedAt     *time.Time `json:"archived_at,omitempty"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	Version        int64      `json:"version"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	AllowedEvents  []string   `json:"allowed_events"`
}

// ClientDTO never carries the password hash or activation code.
type ClientDTO struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	NationalID string    `json:"national_id,omitempty"`
	Email      string    `json:"email,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	Address    string    `json:"address,omitempty"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

type ClientRequest struct {
	Name       string `json:"name"`
	NationalID string `json:"national_id"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
}

// CreateAccountRequest opens an account. Either client_id or client is set.
type CreateAccountRequest struct {
	Type           string          `json:"type"`
	Currency       string          `json:"currency"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	ClientID       string          `json:"client_id"`
	Client         *ClientRequest  `json:"client"`
}

// UpdateAccountRequest changes holder details. Absent fields are unchanged.
type UpdateAccountRequest struct {
	Name       *string `json:"name"`
	NationalID *string `json:"national_id"`
	Email      *string `json:"email"`
	Phone      *string `json:"phone"`
	Address    *string `json:"address"`
}

type UpdateAccountResponse struct {
	Account AccountDTO `json:"account"`
	Client  ClientDTO  `json:"client"`
}

type BlockAccountRequest struct {
	Reason   string     `json:"reason"`
	Duration int        `json:"duration"`
	Unit     string     `json:"unit"`
	Start    *time.Time `json:"start,omitempty"`
}

type UnblockAccountRequest struct {
	Reason string `json:"reason"`
}

// AccountListResponse is one page of accounts.
type AccountListResponse struct {
	Items  []AccountDTO `json:"items"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

type ClientAccountsResponse struct {
	Client   ClientDTO    `json:"client"`
	Accounts []AccountDTO `json:"accounts"`
}

// =============================================================================
// LEDGER
// =============================================================================

type BalanceDTO struct {
	AccountID string `json:"account_id"`
	Number    string `json:"number"`
	Currency  string `json:"currency"`
	Balance   string `json:"balance"`
	Status    string `json:"status"`
}

// EntryDTO represents a ledger entry in API responses.
type EntryDTO struct {
	ID                   string    `json:"id"`
	Number               string    `json:"number"`
	Type                 string    `json:"type"`
	Amount               string    `json:"amount"`
	Currency             string    `json:"currency"`
	Status               string    `json:"status"`
	Description          string    `json:"description,omitempty"`
	OccurredAt           time.Time `json:"occurred_at"`
	SourceAccountID      string    `json:"source_account_id"`
	DestinationAccountID string    `json:"destination_account_id,omitempty"`
	// Delta is the signed effect on the account the statement was requested for.
	Delta string `json:"delta"`
}

type StatementResponse struct {
	Account BalanceDTO `json:"account"`
	Entries []EntryDTO `json:"entries"`
}

type RecordEntryRequest struct {
	Type                 string          `json:"type"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	Description          string          `json:"description"`
	DestinationAccountID string          `json:"destination_account_id"`
	OccurredAt           *time.Time      `json:"occurred_at,omitempty"`
	Pending              bool            `json:"pending"`
}

type EntryStatusRequest struct {
	Status string `json:"status"`
}

// =============================================================================
// AUDIT / SCENARIOS / ERRORS
// =============================================================================

type AuditRecordDTO struct {
	ID        string    `json:"id"`
	At        time.Time `json:"at"`
	Operation string    `json:"operation"`
	ActorID   string    `json:"actor_id"`
	ActorRole string    `json:"actor_role"`
	Before    any       `json:"before,omitempty"`
	After     any       `json:"after,omitempty"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toAccountDTO(a *banking.Account) AccountDTO {
	events := banking.AllowedEvents(a)
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = string(ev)
	}
	return AccountDTO{
		ID:             a.ID,
		Number:         a.Number,
		Type:           string(a.Type),
		Currency:       a.Currency,
		InitialBalance: a.InitialBalance.StringFixed(banking.BalancePlaces),
		Status:         string(a.Status),
		ClientID:       a.ClientID,
		BlockReason:    a.BlockReason,
		BlockStart:     a.BlockStart,
		BlockEnd:       a.BlockEnd,
		UnblockReason:  a.UnblockReason,
		UnblockedAt:    a.UnblockedAt,
		ArchivedAt:     a.ArchivedAt,
		DeletedAt:      a.DeletedAt,
		Version:        a.Version,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
		AllowedEvents:  names,
	}
}

func toAccountDTOs(accs []*banking.Account) []AccountDTO {
	out := make([]AccountDTO, len(accs))
	for i, a := range accs {
		out[i] = toAccountDTO(a)
	}
	return out
}

func toClientDTO(c *banking.Client) ClientDTO {
	return ClientDTO{
		ID:         c.ID,
		Name:       c.Name,
		NationalID: c.NationalID,
		Email:      c.Email,
		Phone:      c.Phone,
		Address:    c.Address,
		Status:     string(c.Status),
		CreatedAt:  c.CreatedAt,
	}
}

func toEntryDTO(e banking.Entry, forAccount banking.AccountID) EntryDTO {
	return EntryDTO{
		ID:                   e.ID,
		Number:               e.Number,
		Type:                 string(e.Type),
		Amount:               e.Amount.StringFixed(banking.BalancePlaces),
		Currency:             e.Currency,
		Status:               string(e.Status),
		Description:          e.Description,
		OccurredAt:           e.OccurredAt,
		SourceAccountID:      e.SourceAccountID,
		DestinationAccountID: e.DestinationAccountID,
		Delta:                banking.EntryDelta(forAccount, e).StringFixed(banking.BalancePlaces),
	}
}

func toBalanceDTO(a *banking.Account, balance decimal.Decimal) BalanceDTO {
	return BalanceDTO{
		AccountID: a.ID,
		Number:    a.Number,
		Currency:  a.Currency,
		Balance:   balance.StringFixed(banking.BalancePlaces),
		Status:    string(a.Status),
	}
}

func (r ClientRequest) toSpec() *account.ClientSpec {
	return &account.ClientSpec{
		Name:       r.Name,
		NationalID: r.NationalID,
		Email:      r.Email,
		Phone:      r.Phone,
		Address:    r.Address,
	}
}
