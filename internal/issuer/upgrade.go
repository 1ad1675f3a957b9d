package issuer

import (
	"encoding/json"
	"fmt"

	"github.com/nainovate/license-authority/internal/certs"
	"github.com/nainovate/license-authority/internal/metrics"
	"github.com/nainovate/license-authority/internal/store"
	"github.com/nainovate/license-authority/internal/tiers"
)

// UpgradeRequest is upgrade's exact option bag.
type UpgradeRequest struct {
	Fingerprint        string
	NewTier            tiers.Name
	AdditionalDays     int
	NewMachineLimit    int
	AdditionalServices []string
	NewImageTags       map[string]string
}

// UpgradeOutcome carries the prior and new tier plus the freshly minted
// certificate, or a reason code if the machine can't be found or is not
// active.
type UpgradeOutcome struct {
	Reason      string
	OldTier     string
	NewTier     string
	Certificate *certs.Certificate
}

// Upgrade loads the current certificate, additively merges the requested
// changes (certs.Upgrade), and replaces the stored blob, linking the new
// certificate to the old one via parent_certificate_id.
func (e *Engine) Upgrade(req UpgradeRequest) (*UpgradeOutcome, error) {
	machine, err := e.store.GetMachineByFingerprint(req.Fingerprint)
	if err != nil {
		if err == store.ErrNotFound {
			return &UpgradeOutcome{Reason: ReasonNotActivated}, nil
		}
		return nil, fmt.Errorf("lookup machine: %w", err)
	}
	if machine.Status != store.MachineActive {
		return &UpgradeOutcome{Reason: ReasonMachineRevoked}, nil
	}

	var oldCert certs.Certificate
	if err := json.Unmarshal(machine.CertificateBlob, &oldCert); err != nil {
		return nil, fmt.Errorf("decode current certificate: %w", err)
	}

	newCert, err := certs.Upgrade(e.keys, &oldCert, certs.UpgradeParams{
		NewTier:            req.NewTier,
		AdditionalDays:     req.AdditionalDays,
		NewMachineLimit:    req.NewMachineLimit,
		AdditionalServices: req.AdditionalServices,
		NewImageTags:       req.NewImageTags,
	}, e.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("mint upgraded certificate: %w", err)
	}
	metrics.SigningOperations.Inc()

	blob, err := json.Marshal(newCert)
	if err != nil {
		return nil, fmt.Errorf("marshal upgraded certificate: %w", err)
	}

	machine.CertificateBlob = blob
	machine.ProductKey = newCert.Customer.ProductKey
	if err := e.store.UpdateMachine(*machine); err != nil {
		return nil, fmt.Errorf("persist upgraded certificate: %w", err)
	}

	if req.NewTier != "" {
		customer, err := e.store.GetCustomer(machine.CustomerID)
		if err != nil {
			return nil, fmt.Errorf("lookup customer: %w", err)
		}
		customer.Tier = req.NewTier
		if req.NewMachineLimit > 0 {
			customer.MachineQuota = req.NewMachineLimit
		}
		if err := e.store.UpdateCustomer(*customer); err != nil {
			return nil, fmt.Errorf("persist customer tier change: %w", err)
		}
	}

	return &UpgradeOutcome{
		Reason:      ReasonOK,
		OldTier:     oldCert.Tier,
		NewTier:     newCert.Tier,
		Certificate: newCert,
	}, nil
}
