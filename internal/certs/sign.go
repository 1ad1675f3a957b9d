package certs

import (
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/nainovate/license-authority/internal/canon"
)

// signCanonical signs the canonical JSON bytes of doc with PSS-MGF1-SHA512
// at maximum salt length.
func signCanonical(priv *rsa.PrivateKey, canonicalBytes []byte) ([]byte, error) {
	digest := sha512.Sum512(canonicalBytes)
	return rsa.SignPSS(rand.Reader, priv, crypto.SHA512, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
		Hash:       crypto.SHA512,
	})
}

// verifyCanonical verifies a PSS-SHA512 signature over canonical bytes.
func verifyCanonical(pub *rsa.PublicKey, canonicalBytes, sig []byte) error {
	digest := sha512.Sum512(canonicalBytes)
	return rsa.VerifyPSS(pub, crypto.SHA512, digest[:], sig, &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
		Hash:       crypto.SHA512,
	})
}

// hmacOverCanonical computes HMAC-SHA512 of canonical bytes keyed by key.
func hmacOverCanonical(key, canonicalBytes []byte) []byte {
	mac := hmac.New(sha512.New, key)
	mac.Write(canonicalBytes)
	return mac.Sum(nil)
}

// canonicalBytesExcluding marshals cert to a map, drops the named top-level
// keys, and returns the canonical encoding — the shared building block for
// both the HMAC preimage (security excluded) and the signature preimage
// (signature/signature_timestamp excluded).
func canonicalBytesExcluding(cert *Certificate, keys ...string) ([]byte, error) {
	m, err := canon.ToMap(cert)
	if err != nil {
		return nil, fmt.Errorf("certificate to map: %w", err)
	}
	m = canon.Without(m, keys...)
	return canon.Encode(m)
}

// sealCertificate computes the HMAC and the PSS signature over cert in a
// fixed order: HMAC first (over security-excluded canonical bytes, keyed
// by a freshly generated 64-byte key), embedded into the security block,
// then the signature over the full document (security included,
// signature fields excluded).
func sealCertificate(priv *rsa.PrivateKey, cert *Certificate, signedAt func() string) error {
	hmacKey := make([]byte, 64)
	if _, err := rand.Read(hmacKey); err != nil {
		return fmt.Errorf("generate hmac key: %w", err)
	}

	hmacPreimage, err := canonicalBytesExcluding(cert, "security", "signature", "signature_timestamp")
	if err != nil {
		return err
	}
	digest := hmacOverCanonical(hmacKey, hmacPreimage)

	cert.Security.HMAC = hex.EncodeToString(digest)
	cert.Security.HMACKey = base64.StdEncoding.EncodeToString(hmacKey)

	sigPreimage, err := canonicalBytesExcluding(cert, "signature", "signature_timestamp")
	if err != nil {
		return err
	}
	sig, err := signCanonical(priv, sigPreimage)
	if err != nil {
		return fmt.Errorf("sign certificate: %w", err)
	}

	cert.Signature = base64.StdEncoding.EncodeToString(sig)
	cert.SignatureTimestamp = signedAt()
	return nil
}

// VerifyResult is the outcome of Verify: which of the two independent
// checks (signature, HMAC) passed, kept distinguishable since signature
// failure is checked before, and reported separately from, HMAC failure.
type VerifyResult struct {
	SignatureValid bool
	HMACValid      bool
}

// OK reports whether both the signature and the HMAC checked out.
func (r VerifyResult) OK() bool { return r.SignatureValid && r.HMACValid }

// Verify reverses sealCertificate: checks the PSS signature first (over the
// document with signature fields excluded), then, only if that passes,
// recomputes the HMAC over the security-excluded canonical bytes using the
// embedded HMAC key and compares in constant time.
func Verify(pub *rsa.PublicKey, cert *Certificate) (VerifyResult, error) {
	var result VerifyResult

	sig, err := base64.StdEncoding.DecodeString(cert.Signature)
	if err != nil {
		return result, fmt.Errorf("decode signature: %w", err)
	}
	sigPreimage, err := canonicalBytesExcluding(cert, "signature", "signature_timestamp")
	if err != nil {
		return result, err
	}
	if err := verifyCanonical(pub, sigPreimage, sig); err != nil {
		return result, nil // signature invalid is a result, not an error
	}
	result.SignatureValid = true

	hmacKey, err := base64.StdEncoding.DecodeString(cert.Security.HMACKey)
	if err != nil {
		return result, fmt.Errorf("decode hmac key: %w", err)
	}
	wantHMAC, err := hex.DecodeString(cert.Security.HMAC)
	if err != nil {
		return result, fmt.Errorf("decode hmac: %w", err)
	}
	hmacPreimage, err := canonicalBytesExcluding(cert, "security", "signature", "signature_timestamp")
	if err != nil {
		return result, err
	}
	gotHMAC := hmacOverCanonical(hmacKey, hmacPreimage)
	result.HMACValid = subtle.ConstantTimeCompare(gotHMAC, wantHMAC) == 1

	return result, nil
}
