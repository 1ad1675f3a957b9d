package issuer

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/nainovate/license-authority/internal/certs"
	"github.com/nainovate/license-authority/internal/clock"
	"github.com/nainovate/license-authority/internal/metrics"
	"github.com/nainovate/license-authority/internal/store"
	"github.com/nainovate/license-authority/internal/tiers"
)

// Engine is the Issuer's request-scoped operations surface. It owns no
// per-client state between calls; every operation suspends only at the
// store boundary. The signing key pair is an injected
// singleton, loaded once at process start and never mutated.
type Engine struct {
	store *store.Store
	keys  *certs.KeyPair
	clock clock.Clock

	registryURL      string
	registryUsername string
	registryToken    string
}

// NewEngine wires the Issuer engine. registryURL/registryUsername populate
// every minted certificate's docker.registry block; they are operator
// configuration, not per-customer data. registryToken is the operator's
// single registry pull token, shared across every customer — it never
// appears in a minted certificate, only in the out-of-band docker
// credentials bundle DockerCredentials carries.
func NewEngine(s *store.Store, keys *certs.KeyPair, clk clock.Clock, registryURL, registryUsername, registryToken string) *Engine {
	return &Engine{store: s, keys: keys, clock: clk, registryURL: registryURL, registryUsername: registryUsername, registryToken: registryToken}
}

// DockerCredentials returns the operator's registry pull credentials for
// embedding in an activation/upgrade bundle response.
func (e *Engine) DockerCredentials() (registry, username, token string) {
	return e.registryURL, e.registryUsername, e.registryToken
}

// PublicKeyPEM returns the Issuer's current signing public key as PEM text.
func (e *Engine) PublicKeyPEM() ([]byte, error) {
	return e.keys.PublicKeyPEM()
}

// CertificateForFingerprint loads the currently persisted certificate for
// an already-activated machine, for endpoints (e.g. on-demand compose
// regeneration) that need the document without going through activate.
func (e *Engine) CertificateForFingerprint(fp string) (*certs.Certificate, error) {
	machine, err := e.store.GetMachineByFingerprint(fp)
	if err != nil {
		return nil, fmt.Errorf("lookup machine: %w", err)
	}
	var cert certs.Certificate
	if err := json.Unmarshal(machine.CertificateBlob, &cert); err != nil {
		return nil, fmt.Errorf("decode certificate: %w", err)
	}
	return &cert, nil
}

// CreateCustomerRequest is create-customer's input.
type CreateCustomerRequest struct {
	DisplayName     string
	Tier            tiers.Name
	MachineQuota    int // 0 means use tier default
	ValidDays       int // 0 means use tier default
	AllowedServices []string
}

// CreateCustomerResult is create-customer's output.
type CreateCustomerResult struct {
	CustomerID string
	ProductKey string
}

// CreateCustomer persists a new customer record with a freshly generated,
// globally unique product key. No idempotency: duplicate display names are
// allowed.
func (e *Engine) CreateCustomer(req CreateCustomerRequest) (*CreateCustomerResult, error) {
	now := e.clock.Now()

	limits := tiers.LimitsFor(req.Tier)
	quota := req.MachineQuota
	if quota == 0 {
		quota = limits.MaxMachines
	}
	validDays := req.ValidDays
	if validDays == 0 {
		validDays = limits.ValidDays
	}
	allowed := req.AllowedServices
	if allowed == nil {
		allowed = tiers.AllowedDockerServices(req.Tier)
	}

	productKey, err := GenerateProductKey(req.DisplayName, now)
	if err != nil {
		return nil, fmt.Errorf("generate product key: %w", err)
	}

	c := store.Customer{
		ID:              newCustomerID(),
		DisplayName:     req.DisplayName,
		ProductKey:      productKey,
		Tier:            req.Tier,
		MachineQuota:    quota,
		ValidDays:       validDays,
		AllowedServices: allowed,
		CreatedAt:       now,
	}

	if err := e.store.CreateCustomer(c); err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}

	return &CreateCustomerResult{CustomerID: c.ID, ProductKey: productKey}, nil
}

// ActivateRequest is activate's exact option bag.
type ActivateRequest struct {
	ProductKey         string
	MachineFingerprint string
	Hostname           string
	OSInfo             string
	AppVersion         string
	ClientIP           string
}

// ActivateOutcome is activate's result: either a reason-code rejection or a
// minted/idempotently-returned certificate.
type ActivateOutcome struct {
	Reason       string
	Certificate  *certs.Certificate
	CustomerName string
	Tier         tiers.Name
	CurrentCount int
	MaxCount     int
}

// Activate implements activate's four-step sequence. The
// quota-check-plus-insert critical section lives inside
// store.ActivateMachine's single bbolt transaction.
func (e *Engine) Activate(req ActivateRequest) (*ActivateOutcome, error) {
	customer, err := e.store.GetCustomerByProductKey(req.ProductKey)
	if err != nil {
		if err == store.ErrNotFound {
			return &ActivateOutcome{Reason: ReasonProductKeyNotFound}, nil
		}
		return nil, fmt.Errorf("lookup customer: %w", err)
	}
	if customer.Revoked {
		return &ActivateOutcome{Reason: ReasonCustomerRevoked}, nil
	}

	now := e.clock.Now()

	if existing, err := e.store.GetMachineByFingerprint(req.MachineFingerprint); err == nil {
		if existing.CustomerID != customer.ID || existing.ProductKey != req.ProductKey {
			return &ActivateOutcome{Reason: ReasonDifferentProductKey}, nil
		}
		existing.LastSeen = now
		existing.Hostname = req.Hostname
		existing.OSInfo = req.OSInfo
		existing.AgentVersion = req.AppVersion
		if err := e.store.UpdateMachine(*existing); err != nil {
			return nil, fmt.Errorf("touch existing machine: %w", err)
		}

		var cert certs.Certificate
		if err := json.Unmarshal(existing.CertificateBlob, &cert); err != nil {
			return nil, fmt.Errorf("decode persisted certificate: %w", err)
		}
		return &ActivateOutcome{
			Reason:       ReasonOK,
			Certificate:  &cert,
			CustomerName: customer.DisplayName,
			Tier:         customer.Tier,
		}, nil
	} else if err != store.ErrNotFound {
		return nil, fmt.Errorf("lookup machine by fingerprint: %w", err)
	}

	cert, err := certs.Mint(e.keys, certs.MintParams{
		CustomerID:       customer.ID,
		CustomerName:     customer.DisplayName,
		ProductKey:       customer.ProductKey,
		Fingerprint:      req.MachineFingerprint,
		Hostname:         req.Hostname,
		Tier:             customer.Tier,
		ValidDays:        customer.ValidDays,
		MachineLimit:     customer.MachineQuota,
		AllowedServices:  customer.AllowedServices,
		RegistryURL:      e.registryURL,
		RegistryUsername: e.registryUsername,
	}, now)
	if err != nil {
		return nil, fmt.Errorf("mint certificate: %w", err)
	}
	metrics.SigningOperations.Inc()

	blob, err := json.Marshal(cert)
	if err != nil {
		return nil, fmt.Errorf("marshal certificate blob: %w", err)
	}

	result, err := e.store.ActivateMachine(store.Machine{
		ID:              cert.Machine.MachineID,
		CustomerID:      customer.ID,
		Fingerprint:     req.MachineFingerprint,
		Hostname:        req.Hostname,
		OSInfo:          req.OSInfo,
		AgentVersion:    req.AppVersion,
		FirstSeenIP:     req.ClientIP,
		CertificateBlob: blob,
		ProductKey:      req.ProductKey,
		Status:          store.MachineActive,
		CreatedAt:       now,
		LastSeen:        now,
	}, customer.MachineQuota)
	if err != nil {
		return nil, fmt.Errorf("activate machine: %w", err)
	}

	if result.QuotaExceeded {
		return &ActivateOutcome{
			Reason:       ReasonMachineLimitExceeded,
			CurrentCount: result.CurrentCount,
			MaxCount:     customer.MachineQuota,
		}, nil
	}

	// A race let a concurrent activation for this fingerprint win between our
	// lookup above and the transaction; treat it the same as the idempotent
	// path rather than surfacing a spurious duplicate.
	if result.Existing != nil {
		var existingCert certs.Certificate
		if err := json.Unmarshal(result.Existing.CertificateBlob, &existingCert); err != nil {
			return nil, fmt.Errorf("decode raced certificate: %w", err)
		}
		return &ActivateOutcome{Reason: ReasonOK, Certificate: &existingCert, CustomerName: customer.DisplayName, Tier: customer.Tier}, nil
	}

	return &ActivateOutcome{
		Reason:       ReasonOK,
		Certificate:  cert,
		CustomerName: customer.DisplayName,
		Tier:         customer.Tier,
	}, nil
}

func newCustomerID() string {
	return "CUST-" + uuidHex(uuid.New())[:16]
}

func uuidHex(id uuid.UUID) string {
	const hextable = "0123456789ABCDEF"
	b := id[:]
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0x0f]
	}
	return string(out)
}
