package bundle

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nainovate/license-authority/internal/certs"
	"github.com/nainovate/license-authority/internal/tiers"
)

func testCertificate(t *testing.T, fp string) (*certs.Certificate, *certs.KeyPair) {
	t.Helper()
	kp, err := certs.EnsureKeyPair(t.TempDir())
	require.NoError(t, err)

	cert, err := certs.Mint(kp, certs.MintParams{
		CustomerID:   "cust-1",
		CustomerName: "Acme",
		ProductKey:   "ACME-2026-ABCD2345-XYZ",
		Fingerprint:  fp,
		Hostname:     "acme-1",
		Tier:         tiers.Pro,
	}, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return cert, kp
}

func TestSealOpenRoundTrip(t *testing.T) {
	plaintext := []byte(`{"hello":"world"}`)
	sealed, err := seal("fp-1", plaintext)
	require.NoError(t, err)

	opened, err := open("fp-1", sealed)
	require.NoError(t, err)
	require.Equal(t, plaintext, opened)

	_, err = open("wrong-fp", sealed)
	require.Error(t, err, "decryption under a different fingerprint-derived key must fail")
}

func TestWriteAndReadBundle(t *testing.T) {
	fp := "F1"
	cert, kp := testCertificate(t, fp)
	dir := t.TempDir()

	creds := DockerCredentials{Registry: "registry.nainovate.io", Username: "deploy", Token: "tok", GeneratedAt: time.Now().UTC()}
	require.NoError(t, Write(dir, cert, kp.Public, creds, fp, "acme-1"))

	loaded, err := ReadCertificate(dir, fp)
	require.NoError(t, err)
	require.Equal(t, cert.CertificateID, loaded.CertificateID)
	require.Equal(t, fp, loaded.Machine.MachineFingerprint)

	loadedCreds, err := ReadDockerCredentials(dir, fp)
	require.NoError(t, err)
	require.Equal(t, "tok", loadedCreds.Token)

	paths := ResolvePaths(dir)
	require.FileExists(t, paths.ComposeFile)
	require.FileExists(t, paths.PublicKeyFile)
	require.FileExists(t, filepath.Join(dir, licenseDirName, fingerprintFileName))
}

func TestReadCertificate_TamperedDatFailsCorruptionCheck(t *testing.T) {
	fp := "F1"
	cert, kp := testCertificate(t, fp)
	dir := t.TempDir()

	creds := DockerCredentials{Registry: "r", Username: "u", Token: "t", GeneratedAt: time.Now().UTC()}
	require.NoError(t, Write(dir, cert, kp.Public, creds, fp, "h"))

	paths := ResolvePaths(dir)
	require.NoError(t, atomicWrite(paths.CertificateDat, []byte("garbage"), 0600))

	_, err := ReadCertificate(dir, fp)
	require.Error(t, err)
}

func TestGenerateCompose_OnlyEnabledServices(t *testing.T) {
	cert, _ := testCertificate(t, "F1")
	out, err := GenerateCompose(cert, "/opt/acme")
	require.NoError(t, err)
	require.Contains(t, string(out), "frontend")
	require.Contains(t, string(out), "analytics")
	require.NotContains(t, string(out), "monitoring:", "pro tier must not enable monitoring")
}
