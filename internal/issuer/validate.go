package issuer

import (
	"encoding/json"
	"fmt"

	"github.com/nainovate/license-authority/internal/certs"
	"github.com/nainovate/license-authority/internal/store"
)

// ValidateRequest is validate's input. CertificateJSON is
// the raw document as submitted by the Enforcer; it is parsed here so a
// malformed document yields certificate_corrupt rather than an infra error.
type ValidateRequest struct {
	CertificateJSON []byte
	Fingerprint     string
	Service         string
	DockerImage     string // "<image>:<tag>" form, or ""
}

// ValidateOutcome carries the verdict plus a reason code from the closed
// set in ReasonOK and its siblings.
type ValidateOutcome struct {
	Valid           bool
	Reason          string
	Tier            string
	ExpiresAt       string
	ServicesEnabled []string
}

// Validate implements validate. Business-rule rejections are
// returned as values, never as errors; only infrastructure failures
// (store I/O) use the error return.
func (e *Engine) Validate(req ValidateRequest) (*ValidateOutcome, error) {
	var cert certs.Certificate
	if err := json.Unmarshal(req.CertificateJSON, &cert); err != nil {
		return &ValidateOutcome{Reason: ReasonCertificateCorrupt}, nil
	}

	if cert.Machine.MachineID == "" {
		return &ValidateOutcome{Reason: ReasonMachineIDMissing}, nil
	}
	if cert.Machine.MachineFingerprint == "" {
		return &ValidateOutcome{Reason: ReasonCertFPMissing}, nil
	}
	if cert.Machine.MachineFingerprint != req.Fingerprint {
		return &ValidateOutcome{Reason: ReasonFingerprintMismatch}, nil
	}

	machine, err := e.store.GetMachineByFingerprint(req.Fingerprint)
	if err != nil {
		if err == store.ErrNotFound {
			return &ValidateOutcome{Reason: ReasonNotActivated}, nil
		}
		return nil, fmt.Errorf("lookup machine: %w", err)
	}
	if machine.Status == store.MachineRevoked {
		return &ValidateOutcome{Reason: ReasonRevoked}, nil
	}
	if machine.Status != store.MachineActive {
		return &ValidateOutcome{Reason: ReasonNotActivated}, nil
	}

	customer, err := e.store.GetCustomer(machine.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("lookup customer: %w", err)
	}
	if customer.Revoked {
		return &ValidateOutcome{Reason: ReasonRevoked}, nil
	}

	result, err := certs.Verify(e.keys.Public, &cert)
	if err != nil {
		return &ValidateOutcome{Reason: ReasonCertificateCorrupt}, nil
	}
	if !result.SignatureValid {
		return &ValidateOutcome{Reason: ReasonInvalidSignature}, nil
	}
	if !result.HMACValid {
		return &ValidateOutcome{Reason: ReasonHMACMismatch}, nil
	}

	if cert.Validity.ValidUntil.IsZero() {
		return &ValidateOutcome{Reason: ReasonNoExpiryDate}, nil
	}

	now := e.clock.Now()
	graceUntil := cert.Validity.ValidUntil.AddDate(0, 0, cert.Validity.GracePeriodDays)

	var timeReason string
	switch {
	case now.Before(cert.Validity.ValidUntil):
		timeReason = ReasonOK
	case now.Before(graceUntil):
		timeReason = ReasonGracePeriod
	default:
		return &ValidateOutcome{Reason: ReasonExpired}, nil
	}

	if req.Service != "" {
		perm, ok := cert.Services[req.Service]
		dockerSvc, hasDocker := cert.Docker.Services[req.Service]
		switch {
		case ok && perm.Enabled:
			// logical service permission present and enabled
		case hasDocker && dockerSvc.Enabled:
			// docker service present and enabled
		default:
			return &ValidateOutcome{Reason: ReasonServiceNotAllowed}, nil
		}
	}

	if req.DockerImage != "" {
		allowed := false
		for _, svc := range cert.Docker.Services {
			if !svc.Enabled {
				continue
			}
			if req.DockerImage == svc.Image+":"+svc.Tag {
				allowed = true
				break
			}
		}
		if !allowed {
			return &ValidateOutcome{Reason: ReasonDockerImageDenied}, nil
		}
	}

	machine.LastSeen = now
	if err := e.store.UpdateMachine(*machine); err != nil {
		return nil, fmt.Errorf("touch last_seen: %w", err)
	}

	return &ValidateOutcome{
		Valid:           true,
		Reason:          timeReason,
		Tier:            cert.Tier,
		ExpiresAt:       cert.Validity.ValidUntil.Format("2006-01-02T15:04:05Z07:00"),
		ServicesEnabled: enabledServiceNames(&cert),
	}, nil
}

func enabledServiceNames(cert *certs.Certificate) []string {
	var out []string
	for name, svc := range cert.Docker.Services {
		if svc.Enabled {
			out = append(out, name)
		}
	}
	return out
}
