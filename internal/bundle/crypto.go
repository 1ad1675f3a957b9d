// Package bundle implements the Enforcer's on-disk activation bundle: the
// signed certificate in plaintext and AES-GCM-sealed form, the public key,
// the encrypted docker registry credentials, the compose descriptor, and
// the fingerprint pin. Grounded on the original Python's
// _encrypt_data/generate_docker_credentials/generate_compose_file for the
// encryption scheme and compose shape, and on this package's atomic-write
// discipline (internal/fingerprint/pin.go) for how every file in the
// shared bundle directory is persisted.
package bundle

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
)

func marshalCreds(creds DockerCredentials) ([]byte, error) {
	return json.Marshal(creds)
}

func unmarshalCreds(data []byte, creds *DockerCredentials) error {
	return json.Unmarshal(data, creds)
}

// seal encrypts plaintext with AES-256-GCM, key = SHA-256(fingerprint),
// a random 12-byte nonce, and returns base64(nonce || ciphertext||tag).
// Grounded directly on certificate.py's _encrypt_data
// (AESGCM(sha256(key)).encrypt(nonce, data, None), base64(nonce+ciphertext));
// this is the one concern in the module with no pack precedent at all — no
// example repo imports an AES/GCM library — so it is built on crypto/aes +
// crypto/cipher per the stdlib-justification requirement (see DESIGN.md).
func seal(fingerprint string, plaintext []byte) (string, error) {
	key := sha256.Sum256([]byte(fingerprint))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", fmt.Errorf("new aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("new gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(append(nonce, sealed...)), nil
}

// SealDockerCredentials encrypts creds under AES-256-GCM keyed by
// SHA-256(fingerprint), for embedding in the wire activation/upgrade
// response's docker_credentials.encrypted_credentials field.
// The Issuer calls this directly — it never ships plaintext registry
// credentials over the wire, only the same sealed form the bundle stores
// at rest.
func SealDockerCredentials(fingerprint string, creds DockerCredentials) (string, error) {
	plain, err := marshalCreds(creds)
	if err != nil {
		return "", err
	}
	return seal(fingerprint, plain)
}

// OpenDockerCredentials reverses SealDockerCredentials — the Enforcer uses
// it to recover the plaintext triple from the wire response before
// re-sealing it into its own bundle via Write.
func OpenDockerCredentials(fingerprint string, sealedB64 string) (DockerCredentials, error) {
	plain, err := open(fingerprint, sealedB64)
	if err != nil {
		return DockerCredentials{}, err
	}
	var creds DockerCredentials
	if err := unmarshalCreds(plain, &creds); err != nil {
		return DockerCredentials{}, err
	}
	return creds, nil
}

// open reverses seal: splits the nonce prefix from the ciphertext and
// decrypts with the same fingerprint-derived key.
func open(fingerprint string, encoded string) ([]byte, error) {
	key := sha256.Sum256([]byte(fingerprint))
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("new aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize {
		return nil, fmt.Errorf("sealed data shorter than nonce")
	}
	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
