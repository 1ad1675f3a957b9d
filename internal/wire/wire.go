// Package wire defines the JSON request/response DTOs for the seven HTTP
// endpoints, shared by the Issuer's HTTP server (internal/web) and the
// Enforcer's HTTP client (internal/enforcer): plain exported structs
// decoded via encoding/json, no third-party validation library.
//
// ValidateActivateKeys/ValidateUpgradeKeys enumerate the recognized
// option-bag keys exactly for activate and upgrade and report the first
// unrecognized key, which internal/web rejects instead of silently
// ignoring it, preserving the canonical-form contract across revisions.
package wire

// ActivateRequest is POST /api/v1/activate's body. Recognized keys exactly:
// product_key, machine_fingerprint, hostname, os_info, app_version.
type ActivateRequest struct {
	ProductKey         string `json:"product_key"`
	MachineFingerprint string `json:"machine_fingerprint"`
	Hostname           string `json:"hostname"`
	OSInfo             string `json:"os_info"`
	AppVersion         string `json:"app_version"`
}

// DockerCredentialsDTO is the encrypted registry-credential envelope
// embedded in an activation bundle response.
type DockerCredentialsDTO struct {
	EncryptedCredentials string `json:"encrypted_credentials"`
	EncryptionMethod     string `json:"encryption_method"`
	KeyDerivation        string `json:"key_derivation"`
}

// BundleDTO is the activation bundle delivered to the Enforcer.
type BundleDTO struct {
	Certificate       map[string]any       `json:"certificate"`
	DockerCredentials DockerCredentialsDTO `json:"docker_credentials"`
	ComposeFile       string               `json:"compose_file"`
	PublicKey         string               `json:"public_key"`
}

// ActivateResponse is POST /api/v1/activate's 200 body.
type ActivateResponse struct {
	Success         bool      `json:"success"`
	Reason          string    `json:"reason"`
	Bundle          BundleDTO `json:"bundle,omitempty"`
	Tier            string    `json:"tier,omitempty"`
	CustomerName    string    `json:"customer_name,omitempty"`
	ServicesEnabled []string  `json:"services_enabled,omitempty"`
	CurrentCount    int       `json:"current,omitempty"`
	MaxCount        int       `json:"max,omitempty"`
}

// ValidateRequest is POST /api/v1/validate's body.
type ValidateRequest struct {
	Certificate        map[string]any `json:"certificate"`
	MachineFingerprint string         `json:"machine_fingerprint"`
	Service            string         `json:"service,omitempty"`
	DockerImage        string         `json:"docker_image,omitempty"`
}

// ValidateResponse is POST /api/v1/validate's 200 body. Validation
// negatives are always HTTP 200 with valid:false, never a non-2xx status.
type ValidateResponse struct {
	Valid           bool     `json:"valid"`
	Reason          string   `json:"reason"`
	Tier            string   `json:"tier,omitempty"`
	ExpiresAt       string   `json:"expires_at,omitempty"`
	ServicesEnabled []string `json:"services_enabled,omitempty"`
}

// HeartbeatRequest is POST /api/v1/heartbeat's body.
type HeartbeatRequest struct {
	MachineFingerprint string `json:"machine_fingerprint"`
	ServiceName        string `json:"service_name,omitempty"`
}

// HeartbeatResponse is POST /api/v1/heartbeat's 200 body.
type HeartbeatResponse struct {
	Valid        bool   `json:"valid"`
	Reason       string `json:"reason"`
	CustomerName string `json:"customer_name,omitempty"`
	Tier         string `json:"tier,omitempty"`
}

// UpgradeRequest is POST /api/v1/upgrade's body. Recognized keys exactly:
// machine_fingerprint, new_tier, additional_days, new_machine_limit,
// additional_services, new_image_tags.
type UpgradeRequest struct {
	MachineFingerprint string            `json:"machine_fingerprint"`
	NewTier            string            `json:"new_tier,omitempty"`
	AdditionalDays     int               `json:"additional_days,omitempty"`
	NewMachineLimit    int               `json:"new_machine_limit,omitempty"`
	AdditionalServices []string          `json:"additional_services,omitempty"`
	NewImageTags       map[string]string `json:"new_image_tags,omitempty"`
}

// UpgradeResponse is POST /api/v1/upgrade's 200 body.
type UpgradeResponse struct {
	Success bool      `json:"success"`
	Reason  string    `json:"reason"`
	OldTier string    `json:"old_tier,omitempty"`
	NewTier string    `json:"new_tier,omitempty"`
	Bundle  BundleDTO `json:"bundle,omitempty"`
}

// HealthResponse is GET /health's body.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

// activateKeys/upgradeKeys are the exactly-recognized option-bag keys for
// activate and upgrade requests.
var activateKeys = map[string]bool{
	"product_key": true, "machine_fingerprint": true, "hostname": true,
	"os_info": true, "app_version": true,
}

var upgradeKeys = map[string]bool{
	"machine_fingerprint": true, "new_tier": true, "additional_days": true,
	"new_machine_limit": true, "additional_services": true, "new_image_tags": true,
}

// ValidateActivateKeys reports the first unrecognized key in raw, or ""
// if every key is recognized.
func ValidateActivateKeys(raw map[string]any) string {
	return firstUnknownKey(raw, activateKeys)
}

// ValidateUpgradeKeys reports the first unrecognized key in raw, or ""
// if every key is recognized.
func ValidateUpgradeKeys(raw map[string]any) string {
	return firstUnknownKey(raw, upgradeKeys)
}

func firstUnknownKey(raw map[string]any, allowed map[string]bool) string {
	for k := range raw {
		if !allowed[k] {
			return k
		}
	}
	return ""
}
