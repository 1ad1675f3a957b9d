package issuer

import (
	"fmt"

	"github.com/nainovate/license-authority/internal/store"
)

// RevokeTarget selects whether a revoke call targets a single machine or
// an entire customer.
type RevokeTarget struct {
	MachineID  string
	CustomerID string
}

// Revoke marks the target revoked. Irreversible through this engine — there
// is no un-revoke operation.
func (e *Engine) Revoke(target RevokeTarget) error {
	if target.MachineID != "" {
		if err := e.store.RevokeMachine(target.MachineID); err != nil {
			return fmt.Errorf("revoke machine: %w", err)
		}
		return nil
	}
	if target.CustomerID != "" {
		if err := e.store.RevokeCustomer(target.CustomerID); err != nil {
			return fmt.Errorf("revoke customer: %w", err)
		}
		return nil
	}
	return store.ErrNotFound
}
