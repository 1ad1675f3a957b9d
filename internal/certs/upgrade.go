package certs

import (
	"time"

	"github.com/nainovate/license-authority/internal/tiers"
)

// UpgradeParams carries the exact option bag recognized for upgrade:
// {machine_fingerprint, new_tier, additional_days, new_machine_limit,
// additional_services, new_image_tags}. Unknown keys are rejected at the
// wire-decoding layer (internal/wire), not here.
type UpgradeParams struct {
	NewTier            tiers.Name // empty means keep current tier
	AdditionalDays     int        // 0 means none
	NewMachineLimit    int        // 0 means keep current
	AdditionalServices []string
	NewImageTags       map[string]string
}

// Upgrade mints a replacement certificate that additively merges onto old,
// preserving the chain-monotonicity property: the new certificate's
// parent_certificate_id is old's id and upgrade_count is old's + 1.
// Additional days add to the *previous* valid_until, not to wall-clock now.
func Upgrade(kp *KeyPair, old *Certificate, p UpgradeParams, now time.Time) (*Certificate, error) {
	tier := tiers.Name(old.Tier)
	if p.NewTier != "" {
		tier = p.NewTier
	}

	var validDays int
	if p.AdditionalDays > 0 {
		newValidUntil := old.Validity.ValidUntil.AddDate(0, 0, p.AdditionalDays)
		validDays = int(newValidUntil.Sub(now.UTC()).Hours() / 24)
		if validDays < 1 {
			validDays = 1
		}
	} else {
		validDays = int(old.Validity.ValidUntil.Sub(now.UTC()).Hours() / 24)
		if validDays < 1 {
			validDays = 1
		}
	}

	machineLimit := old.Limits.MaxMachines
	if p.NewMachineLimit > 0 {
		machineLimit = p.NewMachineLimit
	}

	oldEnabled := enabledDockerServices(old)
	allowedServices := unionStrings(unionStrings(oldEnabled, tiers.AllowedDockerServices(tier)), p.AdditionalServices)

	imageTags := make(map[string]string, len(old.Docker.Services))
	for name, svc := range old.Docker.Services {
		imageTags[name] = svc.Tag
	}
	for name, tag := range p.NewImageTags {
		imageTags[name] = tag
	}

	params := MintParams{
		CustomerID:           old.Customer.CustomerID,
		CustomerName:         old.Customer.CustomerName,
		ProductKey:           old.Customer.ProductKey,
		Fingerprint:          old.Machine.MachineFingerprint,
		Hostname:             old.Machine.Hostname,
		Tier:                 tier,
		ValidDays:            validDays,
		MachineLimit:         machineLimit,
		AllowedServices:      allowedServices,
		ImageTags:            imageTags,
		ParentCertificateID:  old.CertificateID,
		UpgradeCount:         old.UpgradeChain.UpgradeCount + 1,
		RegistryURL:          old.Docker.Registry.URL,
		RegistryUsername:     old.Docker.Registry.Username,
		Metadata: map[string]any{
			"upgrade_from_tier": old.Tier,
			"upgrade_to_tier":   string(tier),
			"upgrade_reason":    "customer_upgrade",
			"upgraded_at":       now.UTC().Format(time.RFC3339Nano),
		},
	}

	return Mint(kp, params, now)
}

func enabledDockerServices(c *Certificate) []string {
	var out []string
	for name, svc := range c.Docker.Services {
		if svc.Enabled {
			out = append(out, name)
		}
	}
	return out
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
