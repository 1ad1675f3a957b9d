package issuer

import (
	"encoding/json"
	"fmt"

	"github.com/nainovate/license-authority/internal/certs"
	"github.com/nainovate/license-authority/internal/metrics"
	"github.com/nainovate/license-authority/internal/store"
)

// SweepResult summarizes one pass of Sweep, for logging.
type SweepResult struct {
	MachinesExpired int
	ActiveMachines  int
	ActiveCustomers int
}

// Sweep marks machines whose certificate has passed its grace period as
// expired and refreshes the active-count gauges. It never revokes a
// certificate or touches the Issuer's signing material — expiry is a
// bookkeeping label the Issuer applies to its own records; the Enforcer
// independently reaches the same INVALID/TERMINATED conclusion offline by
// reading validity directly off the certificate it already holds, so this
// sweep is cosmetic, not authoritative.
func (e *Engine) Sweep() (*SweepResult, error) {
	machines, err := e.store.ListMachines()
	if err != nil {
		return nil, fmt.Errorf("list machines: %w", err)
	}

	now := e.clock.Now()
	result := &SweepResult{}

	for _, m := range machines {
		if m.Status != store.MachineActive {
			continue
		}
		var cert certs.Certificate
		if err := json.Unmarshal(m.CertificateBlob, &cert); err != nil {
			continue
		}
		graceUntil := cert.Validity.ValidUntil.AddDate(0, 0, cert.Validity.GracePeriodDays)
		if now.Before(graceUntil) {
			result.ActiveMachines++
			continue
		}
		m.Status = store.MachineExpired
		if err := e.store.UpdateMachine(m); err != nil {
			return nil, fmt.Errorf("mark machine %s expired: %w", m.ID, err)
		}
		result.MachinesExpired++
	}

	customers, err := e.store.ListCustomers()
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	for _, c := range customers {
		if !c.Revoked {
			result.ActiveCustomers++
		}
	}

	metrics.ActiveMachines.Set(float64(result.ActiveMachines))
	metrics.ActiveCustomers.Set(float64(result.ActiveCustomers))

	return result, nil
}
