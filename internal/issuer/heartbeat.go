package issuer

import (
	"fmt"

	"github.com/nainovate/license-authority/internal/store"
)

// HeartbeatRequest is heartbeat's input.
type HeartbeatRequest struct {
	Fingerprint string
	Service     string
}

// HeartbeatOutcome is heartbeat's result: a lightweight valid/reason pair
// plus display fields for the Enforcer's offline UI.
type HeartbeatOutcome struct {
	Valid        bool
	Reason       string
	CustomerName string
	Tier         string
}

// Heartbeat touches last_seen and reports whether the machine and its
// customer remain in good standing. Deliberately does not re-verify the
// certificate's cryptographic material — that is validate's job; heartbeat
// must stay safe to call at high frequency.
func (e *Engine) Heartbeat(req HeartbeatRequest) (*HeartbeatOutcome, error) {
	machine, err := e.store.GetMachineByFingerprint(req.Fingerprint)
	if err != nil {
		if err == store.ErrNotFound {
			return &HeartbeatOutcome{Reason: ReasonMachineNotFound}, nil
		}
		return nil, fmt.Errorf("lookup machine: %w", err)
	}
	if machine.Status == store.MachineRevoked {
		return &HeartbeatOutcome{Reason: ReasonMachineRevoked}, nil
	}

	customer, err := e.store.GetCustomer(machine.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("lookup customer: %w", err)
	}
	if customer.Revoked {
		return &HeartbeatOutcome{Reason: ReasonCustomerRevoked}, nil
	}

	machine.LastSeen = e.clock.Now()
	if err := e.store.UpdateMachine(*machine); err != nil {
		return nil, fmt.Errorf("touch last_seen: %w", err)
	}

	return &HeartbeatOutcome{
		Valid:        true,
		Reason:       ReasonOK,
		CustomerName: customer.DisplayName,
		Tier:         string(customer.Tier),
	}, nil
}
