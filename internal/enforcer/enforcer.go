package enforcer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nainovate/license-authority/internal/bundle"
	"github.com/nainovate/license-authority/internal/certs"
	"github.com/nainovate/license-authority/internal/clock"
	"github.com/nainovate/license-authority/internal/dockerctl"
	"github.com/nainovate/license-authority/internal/fingerprint"
	"github.com/nainovate/license-authority/internal/logging"
	"github.com/nainovate/license-authority/internal/wire"
)

// Enforcer holds the Enforcer's local runtime state: the bundle directory,
// the pinned fingerprint, the Issuer client, and the docker collaborator
// used to terminate protected services. It is safe for concurrent use by
// the startup check and the background revalidation loop.
type Enforcer struct {
	installDir  string
	serviceName string
	issuer      *IssuerClient
	docker      dockerctl.API
	clk         clock.Clock
	log         *logging.Logger

	mu         sync.Mutex
	state      State
	lastReason string
	terminated bool
}

// Config bundles the construction-time parameters NewEnforcer needs.
type Config struct {
	InstallDir  string // root of the on-disk bundle layout
	ServiceName string // the service this host protects ("" = no service gate)
	IssuerURL   string
	Docker      dockerctl.API
	Clock       clock.Clock
	Log         *logging.Logger
}

// New builds an Enforcer from cfg.
func New(cfg Config) *Enforcer {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &Enforcer{
		installDir:  cfg.InstallDir,
		serviceName: cfg.ServiceName,
		issuer:      NewIssuerClient(cfg.IssuerURL),
		docker:      cfg.Docker,
		clk:         clk,
		log:         cfg.Log,
		state:       StateUnactivated,
	}
}

// State returns the Enforcer's current state and last-observed reason.
func (e *Enforcer) State() (State, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.lastReason
}

func (e *Enforcer) setState(s State, reason string) {
	e.mu.Lock()
	e.state = s
	e.lastReason = reason
	e.mu.Unlock()
}

// Activate performs a first (or idempotently repeated) activation against
// the Issuer and persists the resulting bundle, driving the
// UNACTIVATED -> VALIDATING transition.
func (e *Enforcer) Activate(ctx context.Context, productKey, hostname, osInfo, appVersion string) error {
	paths := bundle.ResolvePaths(e.installDir)
	if err := os.MkdirAll(paths.LicenseDir, 0700); err != nil {
		return fmt.Errorf("create license dir: %w", err)
	}

	fp, pinned, err := fingerprint.EnsurePinned(paths.MachineIDFile, fingerprint.CollectProbe())
	if err != nil {
		return fmt.Errorf("derive fingerprint: %w", err)
	}
	if !pinned {
		return fmt.Errorf("fingerprint mismatch against existing pin — refusing activation on substituted hardware")
	}

	resp, status, err := e.issuer.Activate(ctx, wire.ActivateRequest{
		ProductKey:         productKey,
		MachineFingerprint: fp,
		Hostname:           hostname,
		OSInfo:             osInfo,
		AppVersion:         appVersion,
	})
	if err != nil {
		return fmt.Errorf("activate call: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("activation refused (http %d): %s", status, resp.Reason)
	}

	if err := e.persistBundle(fp, hostname, resp.Bundle); err != nil {
		return fmt.Errorf("persist bundle: %w", err)
	}

	e.setState(StateValidating, ReasonOK)
	return nil
}

// persistBundle decodes the wire bundle DTO and writes it to disk via
// internal/bundle's atomic writer.
func (e *Enforcer) persistBundle(fp, hostname string, b wire.BundleDTO) error {
	certJSON, err := json.Marshal(b.Certificate)
	if err != nil {
		return fmt.Errorf("encode certificate: %w", err)
	}
	var cert certs.Certificate
	if err := json.Unmarshal(certJSON, &cert); err != nil {
		return fmt.Errorf("parse certificate: %w", err)
	}

	pub, err := certs.ParsePublicKeyPEM([]byte(b.PublicKey))
	if err != nil {
		return fmt.Errorf("parse public key: %w", err)
	}

	creds, err := bundle.OpenDockerCredentials(fp, b.DockerCredentials.EncryptedCredentials)
	if err != nil {
		return fmt.Errorf("open docker credentials: %w", err)
	}

	return bundle.Write(e.installDir, &cert, pub, creds, fp, hostname)
}

// Evaluate runs one full local-plus-server check round, covering both the
// VALIDATING -> RUNNING transition conditions and the revalidation loop's
// repeated check sequence. Every outcome, including an unreadable bundle or
// pin file, is reported through the returned CheckResult's state and
// reason; the error return is always nil.
func (e *Enforcer) Evaluate(ctx context.Context) (CheckResult, error) {
	paths := bundle.ResolvePaths(e.installDir)

	if _, err := os.Stat(paths.CertificateJSON); errors.Is(err, os.ErrNotExist) {
		return e.settle(StateUnactivated, ReasonNotActivated), nil
	}

	fp, ok, err := fingerprint.EnsurePinned(paths.MachineIDFile, fingerprint.CollectProbe())
	if err != nil {
		return e.settle(StateInvalid, ReasonFingerprintMismatch), nil
	}
	if !ok {
		return e.settle(StateInvalid, ReasonFingerprintMismatch), nil
	}

	cert, err := bundle.ReadCertificate(e.installDir, fp)
	if err != nil {
		return e.settle(StateInvalid, ReasonCertificateCorrupt), nil
	}

	pubPEM, err := os.ReadFile(paths.PublicKeyFile)
	if err != nil {
		return e.settle(StateInvalid, ReasonCertificateCorrupt), nil
	}
	pub, err := certs.ParsePublicKeyPEM(pubPEM)
	if err != nil {
		return e.settle(StateInvalid, ReasonCertificateCorrupt), nil
	}

	result, err := certs.Verify(pub, cert)
	if err != nil {
		return e.settle(StateInvalid, ReasonCertificateCorrupt), nil
	}
	if !result.SignatureValid {
		return e.settle(StateInvalid, ReasonInvalidSignature), nil
	}
	if !result.HMACValid {
		return e.settle(StateInvalid, ReasonHMACMismatch), nil
	}

	if cert.Machine.MachineFingerprint == "" {
		return e.settle(StateInvalid, ReasonCertFPMissing), nil
	}
	if cert.Machine.MachineFingerprint != fp {
		return e.settle(StateInvalid, ReasonFingerprintMismatch), nil
	}

	now := e.clk.Now()
	graceUntil := cert.Validity.ValidUntil.AddDate(0, 0, cert.Validity.GracePeriodDays)

	var timeState State
	var timeReason string
	switch {
	case now.Before(cert.Validity.ValidUntil):
		timeState, timeReason = StateRunning, ReasonOK
	case now.Before(graceUntil):
		timeState, timeReason = StateGrace, ReasonGracePeriod
	default:
		return e.settle(StateInvalid, ReasonExpired), nil
	}

	if e.serviceName != "" {
		if !serviceEnabled(cert, e.serviceName) {
			return e.settle(StateInvalid, ReasonServiceNotAllowed), nil
		}
	}

	// Best-effort server heartbeat. Network failure never demotes
	// RUNNING/GRACE on its own; only an affirmative revoked verdict does.
	hbResp, hbErr := e.issuer.Heartbeat(ctx, wire.HeartbeatRequest{MachineFingerprint: fp, ServiceName: e.serviceName})
	if hbErr != nil {
		if e.log != nil {
			e.log.Warn("heartbeat unreachable, continuing offline", "error", hbErr)
		}
		return e.settle(timeState, timeReason), nil
	}
	if !hbResp.Valid && isRevoked(hbResp.Reason) {
		return e.settle(StateInvalid, ReasonRevoked), nil
	}

	return e.settle(timeState, timeReason), nil
}

func isRevoked(reason string) bool {
	return reason == "machine_revoked" || reason == "customer_revoked" || reason == "revoked"
}

// settle updates e's state, terminating protected services exactly once
// if the new state is INVALID, so duplicate invalid signals are
// idempotent.
func (e *Enforcer) settle(s State, reason string) CheckResult {
	e.setState(s, reason)
	if s == StateInvalid {
		e.terminate()
	}
	return CheckResult{State: s, Reason: reason}
}

// terminate stops every protected service exactly once. Safe to call
// repeatedly — duplicate signals are idempotent.
func (e *Enforcer) terminate() {
	e.mu.Lock()
	if e.terminated {
		e.mu.Unlock()
		return
	}
	e.terminated = true
	reason := e.lastReason
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cert, err := bundle.ReadCertificate(e.installDir, e.lastKnownFingerprint())
	if err != nil || cert == nil || e.docker == nil {
		return
	}
	if err := dockerctl.StopServices(ctx, e.docker, cert); err != nil && e.log != nil {
		e.log.Error("failed to stop protected services", "error", err)
	}
	e.setState(StateTerminated, reason)
}

func (e *Enforcer) lastKnownFingerprint() string {
	paths := bundle.ResolvePaths(e.installDir)
	pin, err := fingerprint.LoadPin(paths.MachineIDFile)
	if err != nil || pin == nil {
		return ""
	}
	return pin.Fingerprint
}

func serviceEnabled(cert *certs.Certificate, service string) bool {
	if svc, ok := cert.Docker.Services[service]; ok && svc.Enabled {
		return true
	}
	if perm, ok := cert.Services[service]; ok && perm.Enabled {
		return true
	}
	return false
}
