/*
balance.go - Balance derivation from the ledger

PURPOSE:
  An account's balance is never stored. It is always derived:

    balance = InitialBalance + Σ delta(entry) for validated entries

  where delta depends on the entry type and on which side of the entry the
  account sits.

SIGN RULES:
  deposit            +amount
  withdrawal         -amount
  fee                -amount
  transfer           +amount if the account is the destination, else -amount
  internal-transfer  same as transfer
  source == dest     0 (self-transfer nets out)

  Deposits, withdrawals and fees only count against their source account.
  Entries that do not reference the account contribute nothing.

ROUNDING:
  The result is rounded to 2 decimal places, half away from zero
  (decimal.Round): 10.005 -> 10.01, -10.005 -> -10.01.

SEE ALSO:
  - types.go: Entry, EntryType
  - account/service.go: loads entries and calls ComputeBalance
*/
package banking

import (
	"github.com/shopspring/decimal"
)

// BalancePlaces is the number of fractional digits kept in balances.
const BalancePlaces = 2

// ComputeBalance replays validated entries on top of the initial balance.
// It is pure and order independent.
func ComputeBalance(account *Account, entries []Entry) decimal.Decimal {
	total := account.InitialBalance
	for _, e := range entries {
		total = total.Add(EntryDelta(account.ID, e))
	}
	return RoundBalance(total)
}

// EntryDelta returns the signed contribution of one entry to an account.
func EntryDelta(accountID AccountID, e Entry) decimal.Decimal {
	if e.Status != EntryValidated {
		return decimal.Zero
	}

	if e.Type.IsTransfer() {
		isSource := e.SourceAccountID == accountID
		isDest := e.DestinationAccountID != "" && e.DestinationAccountID == accountID
		switch {
		case isSource && isDest:
			return decimal.Zero
		case isDest:
			return e.Amount
		case isSource:
			return e.Amount.Neg()
		default:
			return decimal.Zero
		}
	}

	if e.SourceAccountID != accountID {
		return decimal.Zero
	}
	switch e.Type {
	case EntryDeposit:
		return e.Amount
	case EntryWithdrawal, EntryFee:
		return e.Amount.Neg()
	}
	return decimal.Zero
}

// RoundBalance applies the engine's rounding rule (half away from zero).
func RoundBalance(d decimal.Decimal) decimal.Decimal {
	return d.Round(BalancePlaces)
}
