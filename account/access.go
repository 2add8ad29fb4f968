package account

import (
	"fmt"

	"github.com/warp/compte-engine/banking"
)

// Admins read and change everything. Clients read their own accounts and
// post entries from them. Everything else is admin only.

func authorizeRead(actor banking.Actor, acc *banking.Account) error {
	if actor.IsAdmin() {
		return nil
	}
	if actor.Role == banking.RoleClient && actor.ClientID != "" && actor.ClientID == acc.ClientID {
		return nil
	}
	return fmt.Errorf("%w: account %s", banking.ErrAccessDenied, acc.ID)
}

func requireAdmin(actor banking.Actor, op string) error {
	if actor.IsAdmin() {
		return nil
	}
	return fmt.Errorf("%w: %s requires admin", banking.ErrAccessDenied, op)
}
