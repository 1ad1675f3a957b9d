// Package certs implements the certificate schema and its signing/HMAC
// contract: the data model and the signing primitives and minting logic
// that produce it, using the standard Go PEM/x509 key-handling idiom,
// adapted from ECDSA mTLS certificates to RSA-4096 PSS-signed license
// documents.
package certs

import "time"

// Certificate is the signed artifact. Field order and JSON tags define the
// exact document shape canon.Encode operates over; every signed/HMACed byte
// sequence is derived from this struct via canon.ToMap, never hand-built.
type Certificate struct {
	CertificateID      string `json:"certificate_id"`
	CertificateVersion string `json:"certificate_version"`
	CertificateType    string `json:"certificate_type"`
	Tier               string `json:"tier"`

	Customer CustomerBlock `json:"customer"`
	Machine  MachineBlock  `json:"machine"`
	Validity ValidityBlock `json:"validity"`
	Limits   LimitsBlock   `json:"limits"`

	Services map[string]ServicePermission `json:"services"`
	Docker   DockerBlock                  `json:"docker"`
	Features map[string]FeatureFlag       `json:"features"`

	UpgradeChain UpgradeChainBlock `json:"upgrade_chain"`
	Security     SecurityBlock     `json:"security"`

	Metadata map[string]any `json:"metadata,omitempty"`

	// Signature and SignatureTimestamp are absent from the HMAC preimage
	// (security block is also stripped there) and from the signature
	// preimage itself (they are what the signature covers everything else
	// up to, invariant 1).
	Signature          string `json:"signature,omitempty"`
	SignatureTimestamp string `json:"signature_timestamp,omitempty"`
}

type CustomerBlock struct {
	CustomerID   string `json:"customer_id"`
	CustomerName string `json:"customer_name"`
	ProductKey   string `json:"product_key"`
}

type MachineBlock struct {
	MachineID            string `json:"machine_id"`
	MachineFingerprint   string `json:"machine_fingerprint"`
	Hostname             string `json:"hostname"`
	FingerprintAlgorithm string `json:"fingerprint_algorithm"`
}

type ValidityBlock struct {
	IssuedAt        time.Time `json:"issued_at"`
	ValidUntil      time.Time `json:"valid_until"`
	ValidDays       int       `json:"valid_days"`
	GracePeriodDays int       `json:"grace_period_days"`
	Timezone        string    `json:"timezone"`
}

type LimitsBlock struct {
	MaxMachines          int `json:"max_machines"`
	CurrentMachineNumber int `json:"current_machine_number"`
	ConcurrentSessions   int `json:"concurrent_sessions"`
	APIRateLimitPerHour  int `json:"api_rate_limit_per_hour"`
}

// ServicePermission mirrors tiers.ServicePermission for JSON marshaling.
type ServicePermission struct {
	Enabled      bool   `json:"enabled"`
	TierRequired string `json:"tier_required"`
}

type DockerBlock struct {
	Registry    RegistryBlock                 `json:"registry"`
	Services    map[string]DockerServiceEntry `json:"services"`
	ComposeVer  string                        `json:"compose_version"`
	NetworkName string                        `json:"network_name"`
}

type RegistryBlock struct {
	URL      string `json:"url"`
	Username string `json:"username"`
}

type DockerServiceEntry struct {
	Enabled        bool   `json:"enabled"`
	Image          string `json:"image"`
	Tag            string `json:"tag"`
	ContainerPort  int    `json:"container_port"`
	HostPort       int    `json:"host_port"`
	Required       bool   `json:"required"`
	Description    string `json:"description"`
	ReasonDisabled string `json:"reason_disabled,omitempty"`
}

// FeatureFlag mirrors tiers.FeatureFlag for JSON marshaling; Extra's
// sub-fields are flattened inline rather than nested, matching the original
// Python shape ({"enabled": ..., "max_offline_days": ...}).
type FeatureFlag struct {
	Enabled bool           `json:"enabled"`
	Extra   map[string]any `json:"-"`
}

type UpgradeChainBlock struct {
	ParentCertificateID string `json:"parent_certificate_id,omitempty"`
	UpgradeCount        int    `json:"upgrade_count"`
	IsUpgrade           bool   `json:"is_upgrade"`
	CanUpgrade          bool   `json:"can_upgrade"`
}

// SecurityBlock carries the certificate's signature and HMAC metadata.
// HMACKey is base64 in transit/storage; this is the field that makes the
// HMAC an embedded-key corruption checksum rather than an adversarial MAC —
// preserved as-documented, not "fixed".
type SecurityBlock struct {
	EncryptionAlgorithm string `json:"encryption_algorithm"`
	SignatureAlgorithm  string `json:"signature_algorithm"`
	IntegrityAlgorithm  string `json:"integrity_algorithm"`
	BindingMethod       string `json:"binding_method"`
	FingerprintHash     string `json:"fingerprint_hash"`
	HMAC                string `json:"hmac"`
	HMACKey             string `json:"hmac_key"`
}

const (
	AlgEncryption = "AES-256-GCM"
	AlgSignature  = "RSA-4096-SHA512"
	AlgIntegrity  = "HMAC-SHA512"
	AlgBinding    = "machine_fingerprint"

	CertificateVersion = "3.1"
	CertificateType    = "machine_license"
)
