package certs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nainovate/license-authority/internal/tiers"
)

func testKeyPair(t *testing.T) *KeyPair {
	t.Helper()
	kp, err := EnsureKeyPair(t.TempDir())
	require.NoError(t, err)
	return kp
}

func TestMint_SignatureAndHMACRoundTrip(t *testing.T) {
	kp := testKeyPair(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	cert, err := Mint(kp, MintParams{
		CustomerID:   "cust-1",
		CustomerName: "Acme",
		ProductKey:   "ACME-2026-ABCDEFGH-XYZ",
		Fingerprint:  "deadbeef",
		Hostname:     "acme-1",
		Tier:         tiers.Pro,
	}, now)
	require.NoError(t, err)

	result, err := Verify(kp.Public, cert)
	require.NoError(t, err)
	require.True(t, result.SignatureValid, "invariant 1: signature must verify over canonical(C \\ {signature, signature_timestamp})")
	require.True(t, result.HMACValid, "invariant 2: HMAC must verify over canonical(C \\ {security})")
}

func TestMint_TamperedFieldBreaksSignatureNotHMAC(t *testing.T) {
	kp := testKeyPair(t)
	now := time.Now()

	cert, err := Mint(kp, MintParams{
		CustomerID: "c1", CustomerName: "Acme", ProductKey: "K", Fingerprint: "fp1", Hostname: "h", Tier: tiers.Basic,
	}, now)
	require.NoError(t, err)

	cert.Machine.MachineFingerprint = "fp2" // bit-flip equivalent

	result, err := Verify(kp.Public, cert)
	require.NoError(t, err)
	require.False(t, result.SignatureValid, "tampering a signed field must break signature verification first")
}

func TestMint_DockerServicesByTier(t *testing.T) {
	kp := testKeyPair(t)
	cert, err := Mint(kp, MintParams{
		CustomerID: "c1", CustomerName: "Acme", ProductKey: "K", Fingerprint: "fp", Hostname: "h", Tier: tiers.Pro,
	}, time.Now())
	require.NoError(t, err)

	require.True(t, cert.Docker.Services["frontend"].Enabled)
	require.True(t, cert.Docker.Services["backend"].Enabled)
	require.True(t, cert.Docker.Services["analytics"].Enabled)
	require.False(t, cert.Docker.Services["monitoring"].Enabled)
	require.NotEmpty(t, cert.Docker.Services["monitoring"].ReasonDisabled)
}

func TestUpgrade_ChainMonotonicity(t *testing.T) {
	kp := testKeyPair(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	old, err := Mint(kp, MintParams{
		CustomerID: "c1", CustomerName: "Acme", ProductKey: "K", Fingerprint: "fp", Hostname: "h", Tier: tiers.Basic,
	}, now)
	require.NoError(t, err)

	next, err := Upgrade(kp, old, UpgradeParams{NewTier: tiers.Pro, AdditionalServices: []string{"analytics"}}, now.AddDate(0, 0, 1))
	require.NoError(t, err)

	require.Equal(t, old.CertificateID, next.UpgradeChain.ParentCertificateID)
	require.Equal(t, old.UpgradeChain.UpgradeCount+1, next.UpgradeChain.UpgradeCount)
	require.True(t, next.Docker.Services["analytics"].Enabled)
	require.True(t, next.Docker.Services["frontend"].Enabled)

	result, err := Verify(kp.Public, next)
	require.NoError(t, err)
	require.True(t, result.OK())
}

func TestEnsureKeyPair_PersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	kp1, err := EnsureKeyPair(dir)
	require.NoError(t, err)

	kp2, err := EnsureKeyPair(dir)
	require.NoError(t, err)

	require.Equal(t, kp1.Public.N, kp2.Public.N, "reloading must return the same key pair, not regenerate")
}
