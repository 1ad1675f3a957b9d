package certs

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nainovate/license-authority/internal/tiers"
)

// MintParams are the inputs to minting a fresh certificate, covering both
// a first activation and a subsequent upgrade.
type MintParams struct {
	CustomerID   string
	CustomerName string
	ProductKey   string
	Fingerprint  string
	Hostname     string
	Tier         tiers.Name

	ValidDays    int // 0 means use the tier default
	MachineLimit int // 0 means use the tier default

	// AllowedServices overrides the tier default docker-service set when
	// non-nil (used by upgrade's additive service union).
	AllowedServices []string
	// ImageTags overrides default image tags per docker service name.
	ImageTags map[string]string

	ParentCertificateID string
	UpgradeCount        int
	Metadata            map[string]any

	RegistryURL      string
	RegistryUsername string
}

// Mint builds, HMACs, and signs a brand new certificate. now is injected
// so callers can drive it from clock.Clock.
func Mint(kp *KeyPair, p MintParams, now time.Time) (*Certificate, error) {
	limits := tiers.LimitsFor(p.Tier)

	validDays := p.ValidDays
	if validDays == 0 {
		validDays = limits.ValidDays
	}
	machineLimit := p.MachineLimit
	if machineLimit == 0 {
		machineLimit = limits.MaxMachines
	}

	allowed := p.AllowedServices
	if allowed == nil {
		allowed = tiers.AllowedDockerServices(p.Tier)
	}

	issuedAt := now.UTC()
	validUntil := issuedAt.AddDate(0, 0, validDays)

	cert := &Certificate{
		CertificateID:      newCertificateID(),
		CertificateVersion: CertificateVersion,
		CertificateType:    CertificateType,
		Tier:               string(p.Tier),

		Customer: CustomerBlock{
			CustomerID:   p.CustomerID,
			CustomerName: p.CustomerName,
			ProductKey:   p.ProductKey,
		},
		Machine: MachineBlock{
			MachineID:            newMachineID(),
			MachineFingerprint:   p.Fingerprint,
			Hostname:             p.Hostname,
			FingerprintAlgorithm: "SHA3-512",
		},
		Validity: ValidityBlock{
			IssuedAt:        issuedAt,
			ValidUntil:      validUntil,
			ValidDays:       validDays,
			GracePeriodDays: 7,
			Timezone:        "UTC",
		},
		Limits: LimitsBlock{
			MaxMachines:          machineLimit,
			CurrentMachineNumber: 1,
			ConcurrentSessions:   limits.ConcurrentSessions,
			APIRateLimitPerHour:  limits.APIRateLimitPerHour,
		},

		Services: servicePermissionsJSON(p.Tier),
		Docker:   buildDockerBlock(p.Tier, allowed, p.ImageTags, p.RegistryURL, p.RegistryUsername),
		Features: featureFlagsJSON(p.Tier),

		UpgradeChain: UpgradeChainBlock{
			ParentCertificateID: p.ParentCertificateID,
			UpgradeCount:        p.UpgradeCount,
			IsUpgrade:           p.ParentCertificateID != "",
			CanUpgrade:          p.Tier != tiers.Enterprise,
		},
		Security: SecurityBlock{
			EncryptionAlgorithm: AlgEncryption,
			SignatureAlgorithm:  AlgSignature,
			IntegrityAlgorithm:  AlgIntegrity,
			BindingMethod:       AlgBinding,
		},
		Metadata: p.Metadata,
	}

	cert.Security.FingerprintHash = fingerprintHashHex(p.Fingerprint)

	if err := sealCertificate(kp.Private, cert, func() string { return now.UTC().Format(time.RFC3339Nano) }); err != nil {
		return nil, fmt.Errorf("seal certificate: %w", err)
	}

	return cert, nil
}

func newCertificateID() string {
	return "CERT-" + shortHex(uuid.New())
}

func newMachineID() string {
	return "MACHINE-" + shortHex(uuid.New())[:12]
}

func shortHex(id uuid.UUID) string {
	raw := id[:]
	return toUpperHex(raw)[:16]
}

func toUpperHex(b []byte) string {
	const hextable = "0123456789ABCDEF"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0x0f]
	}
	return string(out)
}

func servicePermissionsJSON(t tiers.Name) map[string]ServicePermission {
	src := tiers.ServicePermissions(t)
	out := make(map[string]ServicePermission, len(src))
	for k, v := range src {
		out[k] = ServicePermission{Enabled: v.Enabled, TierRequired: string(v.TierRequired)}
	}
	return out
}

func featureFlagsJSON(t tiers.Name) map[string]FeatureFlag {
	src := tiers.FeatureFlags(t)
	out := make(map[string]FeatureFlag, len(src))
	for k, v := range src {
		out[k] = FeatureFlag{Enabled: v.Enabled, Extra: v.Extra}
	}
	return out
}

func buildDockerBlock(t tiers.Name, allowed []string, imageTags map[string]string, registryURL, registryUsername string) DockerBlock {
	order, defs := tiers.DockerServiceDefs()

	allowedSet := make(map[string]bool, len(allowed))
	for _, s := range allowed {
		allowedSet[s] = true
	}

	services := make(map[string]DockerServiceEntry, len(order))
	for _, name := range order {
		def := defs[name]
		tag := def.DefaultTag
		if imageTags != nil {
			if override, ok := imageTags[name]; ok {
				tag = override
			}
		}
		if allowedSet[name] {
			services[name] = DockerServiceEntry{
				Enabled:       true,
				Image:         def.Image,
				Tag:           tag,
				ContainerPort: def.ContainerPort,
				HostPort:      def.HostPort,
				Required:      def.Required,
				Description:   def.Description,
			}
		} else {
			services[name] = DockerServiceEntry{
				Enabled:        false,
				Image:          def.Image,
				Tag:            def.DefaultTag,
				ContainerPort:  def.ContainerPort,
				HostPort:       def.HostPort,
				Required:       false,
				Description:    def.Description,
				ReasonDisabled: fmt.Sprintf("Not included in %s tier", t),
			}
		}
	}

	return DockerBlock{
		Registry:    RegistryBlock{URL: registryURL, Username: registryUsername},
		Services:    services,
		ComposeVer:  "3.8",
		NetworkName: "license-network",
	}
}

// fingerprintHashHex is SHA3-512(fingerprint) as hex.
func fingerprintHashHex(fp string) string {
	return sha3Hex(fp)
}
