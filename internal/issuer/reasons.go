// Package issuer implements the Issuer's six logical operations: create-
// customer, activate, validate, heartbeat, upgrade, revoke — request-
// scoped operations over a store handle, with no per-client long-lived
// state.
package issuer

// Activation reason codes, a closed set.
const (
	ReasonOK                   = "ok"
	ReasonProductKeyNotFound   = "product_key_not_found"
	ReasonCustomerRevoked      = "customer_revoked"
	ReasonMachineLimitExceeded = "machine_limit_exceeded"
	ReasonDifferentProductKey  = "different_product_key"
)

// Validation reason codes, a closed set.
const (
	ReasonNotActivated        = "not_activated"
	ReasonCertificateCorrupt  = "certificate_corrupt"
	ReasonMachineIDMissing    = "machine_id_missing"
	ReasonFingerprintMismatch = "fingerprint_mismatch"
	ReasonCertFPMissing       = "cert_fingerprint_missing"
	ReasonInvalidSignature    = "invalid_signature"
	ReasonHMACMismatch        = "hmac_mismatch"
	ReasonExpired             = "expired"
	ReasonGracePeriod         = "grace_period"
	ReasonNoExpiryDate        = "no_expiry_date"
	ReasonServiceNotAllowed   = "service_not_allowed"
	ReasonDockerImageDenied   = "docker_image_not_allowed"
	ReasonRevoked             = "revoked"
)

// Heartbeat reason codes, a closed set.
// ReasonServerCheckSkipped is client-side only (Enforcer offline fallback);
// the Issuer never returns it.
const (
	ReasonMachineNotFound    = "machine_not_found"
	ReasonMachineRevoked     = "machine_revoked"
	ReasonServerCheckSkipped = "server_check_skipped"
)
