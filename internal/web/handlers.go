package web

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/nainovate/license-authority/internal/bundle"
	"github.com/nainovate/license-authority/internal/certs"
	"github.com/nainovate/license-authority/internal/issuer"
	"github.com/nainovate/license-authority/internal/metrics"
	"github.com/nainovate/license-authority/internal/tiers"
	"github.com/nainovate/license-authority/internal/wire"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, wire.HealthResponse{
		Status:    "ok",
		Version:   s.deps.Version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	pem, err := s.deps.Engine.PublicKeyPEM()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read public key")
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pem)
}

// handleCompose regenerates a machine's compose descriptor on demand. The
// installDir baked into the returned YAML is a placeholder — the Enforcer
// that actually deploys the bundle regenerates it locally against its real
// install directory via bundle.Write, so the exact path here only needs to
// be syntactically valid, not authoritative.
func (s *Server) handleCompose(w http.ResponseWriter, r *http.Request) {
	fp := r.PathValue("fingerprint")
	cert, err := s.deps.Engine.CertificateForFingerprint(fp)
	if err != nil {
		writeError(w, http.StatusNotFound, "machine not found")
		return
	}

	yaml, err := bundle.GenerateCompose(cert, "/opt/license-agent")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to render compose file")
		return
	}
	w.Header().Set("Content-Type", "text/yaml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(yaml)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	raw, body, err := decodeRaw(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if bad := wire.ValidateActivateKeys(raw); bad != "" {
		writeError(w, http.StatusBadRequest, "unrecognized field: "+bad)
		return
	}

	var req wire.ActivateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	outcome, err := s.deps.Engine.Activate(issuer.ActivateRequest{
		ProductKey:         req.ProductKey,
		MachineFingerprint: req.MachineFingerprint,
		Hostname:           req.Hostname,
		OSInfo:             req.OSInfo,
		AppVersion:         req.AppVersion,
		ClientIP:           clientIP(r),
	})
	if err != nil {
		s.deps.Log.Error("activate failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	metrics.ActivationsTotal.WithLabelValues(outcome.Reason).Inc()

	if outcome.Reason != issuer.ReasonOK {
		writeJSON(w, activateStatus(outcome.Reason), wire.ActivateResponse{
			Success:      false,
			Reason:       outcome.Reason,
			CurrentCount: outcome.CurrentCount,
			MaxCount:     outcome.MaxCount,
		})
		return
	}

	bundleDTO, err := s.buildBundle(outcome.Certificate)
	if err != nil {
		s.deps.Log.Error("build bundle failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, wire.ActivateResponse{
		Success:         true,
		Reason:          issuer.ReasonOK,
		Bundle:          bundleDTO,
		Tier:            string(outcome.Tier),
		CustomerName:    outcome.CustomerName,
		ServicesEnabled: enabledDockerServices(outcome.Certificate),
	})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req wire.ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	certJSON, err := json.Marshal(req.Certificate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed certificate")
		return
	}

	outcome, err := s.deps.Engine.Validate(issuer.ValidateRequest{
		CertificateJSON: certJSON,
		Fingerprint:     req.MachineFingerprint,
		Service:         req.Service,
		DockerImage:     req.DockerImage,
	})
	if err != nil {
		s.deps.Log.Error("validate failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	metrics.ValidationsTotal.WithLabelValues(outcome.Reason).Inc()

	writeJSON(w, http.StatusOK, wire.ValidateResponse{
		Valid:           outcome.Valid,
		Reason:          outcome.Reason,
		Tier:            outcome.Tier,
		ExpiresAt:       outcome.ExpiresAt,
		ServicesEnabled: outcome.ServicesEnabled,
	})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req wire.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	outcome, err := s.deps.Engine.Heartbeat(issuer.HeartbeatRequest{
		Fingerprint: req.MachineFingerprint,
		Service:     req.ServiceName,
	})
	if err != nil {
		s.deps.Log.Error("heartbeat failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	metrics.HeartbeatsTotal.WithLabelValues(outcome.Reason).Inc()

	writeJSON(w, http.StatusOK, wire.HeartbeatResponse{
		Valid:        outcome.Valid,
		Reason:       outcome.Reason,
		CustomerName: outcome.CustomerName,
		Tier:         outcome.Tier,
	})
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	raw, body, err := decodeRaw(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if bad := wire.ValidateUpgradeKeys(raw); bad != "" {
		writeError(w, http.StatusBadRequest, "unrecognized field: "+bad)
		return
	}

	var req wire.UpgradeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	outcome, err := s.deps.Engine.Upgrade(issuer.UpgradeRequest{
		Fingerprint:        req.MachineFingerprint,
		NewTier:            tiers.Name(req.NewTier),
		AdditionalDays:     req.AdditionalDays,
		NewMachineLimit:    req.NewMachineLimit,
		AdditionalServices: req.AdditionalServices,
		NewImageTags:       req.NewImageTags,
	})
	if err != nil {
		s.deps.Log.Error("upgrade failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	metrics.UpgradesTotal.WithLabelValues(outcome.Reason).Inc()

	if outcome.Reason != issuer.ReasonOK {
		writeJSON(w, upgradeStatus(outcome.Reason), wire.UpgradeResponse{Success: false, Reason: outcome.Reason})
		return
	}

	bundleDTO, err := s.buildBundle(outcome.Certificate)
	if err != nil {
		s.deps.Log.Error("build bundle failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, wire.UpgradeResponse{
		Success: true,
		Reason:  issuer.ReasonOK,
		OldTier: outcome.OldTier,
		NewTier: outcome.NewTier,
		Bundle:  bundleDTO,
	})
}

// buildBundle assembles the wire bundle DTO for a freshly minted or
// refreshed certificate: the certificate itself, the sealed docker
// credentials (never shipped in plaintext, per internal/bundle's
// SealDockerCredentials contract), the public key, and a compose file.
func (s *Server) buildBundle(cert *certs.Certificate) (wire.BundleDTO, error) {
	certMap, err := toMap(cert)
	if err != nil {
		return wire.BundleDTO{}, err
	}

	registry, username, token := s.deps.Engine.DockerCredentials()
	sealed, err := bundle.SealDockerCredentials(cert.Machine.MachineFingerprint, bundle.DockerCredentials{
		Registry:    registry,
		Username:    username,
		Token:       token,
		GeneratedAt: time.Now().UTC(),
	})
	if err != nil {
		return wire.BundleDTO{}, err
	}

	pub, err := s.deps.Engine.PublicKeyPEM()
	if err != nil {
		return wire.BundleDTO{}, err
	}

	composeYAML, err := bundle.GenerateCompose(cert, "/opt/license-agent")
	if err != nil {
		return wire.BundleDTO{}, err
	}

	return wire.BundleDTO{
		Certificate: certMap,
		DockerCredentials: wire.DockerCredentialsDTO{
			EncryptedCredentials: sealed,
			EncryptionMethod:     certs.AlgEncryption,
			KeyDerivation:        "SHA256(machine_fingerprint)",
		},
		ComposeFile: string(composeYAML),
		PublicKey:   string(pub),
	}, nil
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func enabledDockerServices(cert *certs.Certificate) []string {
	var out []string
	for name, svc := range cert.Docker.Services {
		if svc.Enabled {
			out = append(out, name)
		}
	}
	return out
}

// activateStatus maps activate's reason codes to the HTTP status the wire
// contract mandates: 404 for an unknown product key, 403 for a revoked
// customer or a quota/binding conflict, never a non-2xx for success.
func activateStatus(reason string) int {
	switch reason {
	case issuer.ReasonProductKeyNotFound:
		return http.StatusNotFound
	case issuer.ReasonCustomerRevoked, issuer.ReasonMachineLimitExceeded, issuer.ReasonDifferentProductKey:
		return http.StatusForbidden
	default:
		return http.StatusOK
	}
}

// upgradeStatus mirrors activateStatus for upgrade's smaller reason set:
// an unactivated/unknown machine is 404, a revoked machine is 403.
func upgradeStatus(reason string) int {
	switch reason {
	case issuer.ReasonNotActivated:
		return http.StatusNotFound
	case issuer.ReasonMachineRevoked:
		return http.StatusForbidden
	default:
		return http.StatusOK
	}
}

func decodeRaw(r *http.Request) (map[string]any, []byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, nil, err
	}
	return raw, body, nil
}
