package bundle

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nainovate/license-authority/internal/canon"
	"github.com/nainovate/license-authority/internal/certs"
	"github.com/nainovate/license-authority/internal/fingerprint"
)

// DockerCredentials is the plaintext docker registry credential triple,
// plus its generation time, sealed into docker_credentials.dat.
type DockerCredentials struct {
	Registry    string    `json:"registry"`
	Username    string    `json:"username"`
	Token       string    `json:"token"`
	GeneratedAt time.Time `json:"generated_at"`
}

// layout names the fixed on-disk bundle files.
const (
	composeFileName       = "docker-compose.yml"
	licenseDirName        = "license"
	certificateJSONName   = "certificate.json"
	certificateDatName    = "certificate.dat"
	fingerprintFileName   = ".fingerprint"
	machineIDFileName     = "machine_id.json"
	publicKeyFileName     = "public_key.pem"
	dockerCredentialsName = "docker_credentials.dat"
)

// Paths resolves the fixed bundle file paths rooted at installDir.
type Paths struct {
	ComposeFile       string
	LicenseDir        string
	CertificateJSON   string
	CertificateDat    string
	FingerprintFile   string
	MachineIDFile     string
	PublicKeyFile     string
	DockerCredentials string
}

// ResolvePaths returns the fixed bundle layout rooted at installDir.
func ResolvePaths(installDir string) Paths {
	licenseDir := filepath.Join(installDir, licenseDirName)
	return Paths{
		ComposeFile:       filepath.Join(installDir, composeFileName),
		LicenseDir:        licenseDir,
		CertificateJSON:   filepath.Join(licenseDir, certificateJSONName),
		CertificateDat:    filepath.Join(licenseDir, certificateDatName),
		FingerprintFile:   filepath.Join(licenseDir, fingerprintFileName),
		MachineIDFile:     filepath.Join(licenseDir, machineIDFileName),
		PublicKeyFile:     filepath.Join(licenseDir, publicKeyFileName),
		DockerCredentials: filepath.Join(licenseDir, dockerCredentialsName),
	}
}

// Write persists the full activation bundle atomically, file by file, per
// ("writes by the Enforcer are atomic per file"). It never
// partially mutates an existing bundle: every file is written to a temp
// path and renamed into place independently, so a crash mid-write leaves
// either the old or the new version of each file, never a half-written one.
func Write(installDir string, cert *certs.Certificate, pub *rsa.PublicKey, creds DockerCredentials, fp string, hostname string) error {
	paths := ResolvePaths(installDir)
	if err := os.MkdirAll(paths.LicenseDir, 0700); err != nil {
		return fmt.Errorf("create license dir: %w", err)
	}

	canonicalCert, err := canonicalCertificateBytes(cert)
	if err != nil {
		return err
	}
	if err := atomicWrite(paths.CertificateJSON, canonicalCert, 0644); err != nil {
		return fmt.Errorf("write certificate.json: %w", err)
	}

	sealedCert, err := seal(fp, canonicalCert)
	if err != nil {
		return fmt.Errorf("seal certificate.dat: %w", err)
	}
	if err := atomicWrite(paths.CertificateDat, []byte(sealedCert), 0600); err != nil {
		return fmt.Errorf("write certificate.dat: %w", err)
	}

	if err := atomicWrite(paths.FingerprintFile, []byte(fp), 0644); err != nil {
		return fmt.Errorf("write .fingerprint: %w", err)
	}

	existingPin, err := fingerprint.LoadPin(paths.MachineIDFile)
	if err != nil {
		return fmt.Errorf("read machine_id.json: %w", err)
	}
	if existingPin == nil {
		if err := fingerprint.WritePin(paths.MachineIDFile, fingerprint.Pin{
			Fingerprint: fp,
			GeneratedAt: time.Now().UTC(),
			Hostname:    hostname,
		}); err != nil {
			return fmt.Errorf("write machine_id.json: %w", err)
		}
	}

	pubPEM, err := publicKeyPEM(pub)
	if err != nil {
		return fmt.Errorf("encode public key: %w", err)
	}
	if err := atomicWrite(paths.PublicKeyFile, pubPEM, 0644); err != nil {
		return fmt.Errorf("write public_key.pem: %w", err)
	}

	credsJSON, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("marshal docker credentials: %w", err)
	}
	sealedCreds, err := seal(fp, credsJSON)
	if err != nil {
		return fmt.Errorf("seal docker_credentials.dat: %w", err)
	}
	if err := atomicWrite(paths.DockerCredentials, []byte(sealedCreds), 0600); err != nil {
		return fmt.Errorf("write docker_credentials.dat: %w", err)
	}

	compose, err := GenerateCompose(cert, installDir)
	if err != nil {
		return fmt.Errorf("generate compose file: %w", err)
	}
	if err := atomicWrite(paths.ComposeFile, compose, 0644); err != nil {
		return fmt.Errorf("write docker-compose.yml: %w", err)
	}

	return nil
}

// ReadCertificate loads and decrypts certificate.dat, verifying it matches
// the plaintext certificate.json bytes — a cheap corruption check before
// the Enforcer trusts either copy.
func ReadCertificate(installDir string, fp string) (*certs.Certificate, error) {
	paths := ResolvePaths(installDir)

	plainBytes, err := os.ReadFile(paths.CertificateJSON)
	if err != nil {
		return nil, fmt.Errorf("read certificate.json: %w", err)
	}

	sealedBytes, err := os.ReadFile(paths.CertificateDat)
	if err != nil {
		return nil, fmt.Errorf("read certificate.dat: %w", err)
	}
	decrypted, err := open(fp, string(sealedBytes))
	if err != nil {
		return nil, fmt.Errorf("decrypt certificate.dat: %w", err)
	}
	if string(decrypted) != string(plainBytes) {
		return nil, fmt.Errorf("certificate.dat does not match certificate.json")
	}

	var cert certs.Certificate
	if err := json.Unmarshal(plainBytes, &cert); err != nil {
		return nil, fmt.Errorf("parse certificate.json: %w", err)
	}
	return &cert, nil
}

// ReadDockerCredentials loads and decrypts docker_credentials.dat.
func ReadDockerCredentials(installDir string, fp string) (*DockerCredentials, error) {
	paths := ResolvePaths(installDir)
	sealedBytes, err := os.ReadFile(paths.DockerCredentials)
	if err != nil {
		return nil, fmt.Errorf("read docker_credentials.dat: %w", err)
	}
	plain, err := open(fp, string(sealedBytes))
	if err != nil {
		return nil, fmt.Errorf("decrypt docker_credentials.dat: %w", err)
	}
	var creds DockerCredentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return nil, fmt.Errorf("parse docker credentials: %w", err)
	}
	return &creds, nil
}

func canonicalCertificateBytes(cert *certs.Certificate) ([]byte, error) {
	m, err := canon.ToMap(cert)
	if err != nil {
		return nil, fmt.Errorf("certificate to map: %w", err)
	}
	out, err := canon.Encode(m)
	if err != nil {
		return nil, fmt.Errorf("canonicalize certificate: %w", err)
	}
	return out, nil
}

func publicKeyPEM(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

func atomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	return os.Rename(tmpName, path)
}
