package issuer

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nainovate/license-authority/internal/certs"
	"github.com/nainovate/license-authority/internal/clock"
	"github.com/nainovate/license-authority/internal/store"
	"github.com/nainovate/license-authority/internal/tiers"
)

func newTestEngine(t *testing.T) (*Engine, *clock.Fake) {
	t.Helper()
	dir := t.TempDir()

	s, err := store.Open(filepath.Join(dir, "issuer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	keys, err := certs.EnsureKeyPair(filepath.Join(dir, "keys"))
	require.NoError(t, err)

	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return NewEngine(s, keys, fc, "registry.nainovate.io", "deploy", "tok-abc"), fc
}

func TestHappyPath(t *testing.T) {
	e, _ := newTestEngine(t)

	created, err := e.CreateCustomer(CreateCustomerRequest{DisplayName: "Acme", Tier: tiers.Pro})
	require.NoError(t, err)

	act, err := e.Activate(ActivateRequest{ProductKey: created.ProductKey, MachineFingerprint: "F1", Hostname: "acme-1"})
	require.NoError(t, err)
	require.Equal(t, ReasonOK, act.Reason)
	require.Equal(t, "F1", act.Certificate.Machine.MachineFingerprint)
	require.ElementsMatch(t, []string{"frontend", "backend", "analytics"}, enabledServiceNames(act.Certificate))

	blob, err := jsonMarshal(act.Certificate)
	require.NoError(t, err)

	v, err := e.Validate(ValidateRequest{CertificateJSON: blob, Fingerprint: "F1", Service: "backend"})
	require.NoError(t, err)
	require.True(t, v.Valid)
	require.Equal(t, ReasonOK, v.Reason)

	v2, err := e.Validate(ValidateRequest{CertificateJSON: blob, Fingerprint: "F1", Service: "monitoring"})
	require.NoError(t, err)
	require.False(t, v2.Valid)
	require.Equal(t, ReasonServiceNotAllowed, v2.Reason)
}

func TestQuotaEnforcement(t *testing.T) {
	e, _ := newTestEngine(t)
	created, err := e.CreateCustomer(CreateCustomerRequest{DisplayName: "Trial", Tier: tiers.Trial})
	require.NoError(t, err)

	_, err = e.Activate(ActivateRequest{ProductKey: created.ProductKey, MachineFingerprint: "F1"})
	require.NoError(t, err)

	act2, err := e.Activate(ActivateRequest{ProductKey: created.ProductKey, MachineFingerprint: "F2"})
	require.NoError(t, err)
	require.Equal(t, ReasonMachineLimitExceeded, act2.Reason)
	require.Equal(t, 1, act2.CurrentCount)
	require.Equal(t, 1, act2.MaxCount)
}

func TestIdempotentReactivation(t *testing.T) {
	e, _ := newTestEngine(t)
	created, err := e.CreateCustomer(CreateCustomerRequest{DisplayName: "Acme", Tier: tiers.Basic})
	require.NoError(t, err)

	first, err := e.Activate(ActivateRequest{ProductKey: created.ProductKey, MachineFingerprint: "F1"})
	require.NoError(t, err)

	second, err := e.Activate(ActivateRequest{ProductKey: created.ProductKey, MachineFingerprint: "F1"})
	require.NoError(t, err)

	require.Equal(t, first.Certificate.CertificateID, second.Certificate.CertificateID)
	count, err := e.store.CountActiveMachines(created.CustomerID)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestCrossKeyRefusal(t *testing.T) {
	e, _ := newTestEngine(t)
	a, err := e.CreateCustomer(CreateCustomerRequest{DisplayName: "CustA", Tier: tiers.Basic})
	require.NoError(t, err)
	b, err := e.CreateCustomer(CreateCustomerRequest{DisplayName: "CustB", Tier: tiers.Basic})
	require.NoError(t, err)

	_, err = e.Activate(ActivateRequest{ProductKey: a.ProductKey, MachineFingerprint: "F1"})
	require.NoError(t, err)

	act, err := e.Activate(ActivateRequest{ProductKey: b.ProductKey, MachineFingerprint: "F1"})
	require.NoError(t, err)
	require.Equal(t, ReasonDifferentProductKey, act.Reason)
}

func TestExpiryPastGrace(t *testing.T) {
	e, fc := newTestEngine(t)
	created, err := e.CreateCustomer(CreateCustomerRequest{DisplayName: "Acme", Tier: tiers.Basic, ValidDays: 10})
	require.NoError(t, err)

	act, err := e.Activate(ActivateRequest{ProductKey: created.ProductKey, MachineFingerprint: "F1"})
	require.NoError(t, err)
	blob, err := jsonMarshal(act.Certificate)
	require.NoError(t, err)

	fc.Advance(13 * 24 * time.Hour) // 3 days past valid_until (grace_days=7)
	v, err := e.Validate(ValidateRequest{CertificateJSON: blob, Fingerprint: "F1"})
	require.NoError(t, err)
	require.True(t, v.Valid)
	require.Equal(t, ReasonGracePeriod, v.Reason)

	fc.Advance(10 * 24 * time.Hour) // now 13 days past valid_until, past 7-day grace
	v2, err := e.Validate(ValidateRequest{CertificateJSON: blob, Fingerprint: "F1"})
	require.NoError(t, err)
	require.False(t, v2.Valid)
	require.Equal(t, ReasonExpired, v2.Reason)
}

func TestRevocationDuringOfflineOperation(t *testing.T) {
	e, _ := newTestEngine(t)
	created, err := e.CreateCustomer(CreateCustomerRequest{DisplayName: "Acme", Tier: tiers.Basic})
	require.NoError(t, err)
	act, err := e.Activate(ActivateRequest{ProductKey: created.ProductKey, MachineFingerprint: "F1"})
	require.NoError(t, err)

	require.NoError(t, e.Revoke(RevokeTarget{CustomerID: created.CustomerID}))

	hb, err := e.Heartbeat(HeartbeatRequest{Fingerprint: "F1"})
	require.NoError(t, err)
	require.False(t, hb.Valid)
	require.Equal(t, ReasonCustomerRevoked, hb.Reason)
	_ = act
}

func TestUpgradeChainMonotonicity(t *testing.T) {
	e, _ := newTestEngine(t)
	created, err := e.CreateCustomer(CreateCustomerRequest{DisplayName: "Acme", Tier: tiers.Basic})
	require.NoError(t, err)
	act, err := e.Activate(ActivateRequest{ProductKey: created.ProductKey, MachineFingerprint: "F1"})
	require.NoError(t, err)

	up, err := e.Upgrade(UpgradeRequest{Fingerprint: "F1", NewTier: tiers.Pro, AdditionalDays: 30})
	require.NoError(t, err)
	require.Equal(t, ReasonOK, up.Reason)
	require.Equal(t, act.Certificate.CertificateID, up.Certificate.UpgradeChain.ParentCertificateID)
	require.Equal(t, act.Certificate.UpgradeChain.UpgradeCount+1, up.Certificate.UpgradeChain.UpgradeCount)
	require.Equal(t, "pro", up.Certificate.Tier)
}

func jsonMarshal(c *certs.Certificate) ([]byte, error) {
	return json.Marshal(c)
}
