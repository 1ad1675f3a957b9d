package issuer

import (
	"crypto/rand"
	"strings"
	"time"
	"unicode"
)

// productKeyAlphabet excludes visually confusable characters (0, O, 1, I).
const productKeyAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// GenerateProductKey builds a product key of the form
// <4-char company prefix>-<4-digit year>-<8-char alphanumeric>-<3-char
// checksum>. The checksum is a deterministic function of the first three
// parts; it is not checked defensively anywhere else on the activation
// path, so correctness here only needs to be internally consistent.
func GenerateProductKey(displayName string, now time.Time) (string, error) {
	prefix := companyPrefix(displayName)
	year := now.UTC().Format("2006")

	block, err := randomAlphanumericBlock(8)
	if err != nil {
		return "", err
	}

	checksum := productKeyChecksum(prefix, year, block)
	return prefix + "-" + year + "-" + block + "-" + checksum, nil
}

// companyPrefix derives the 4-char uppercase alphabetic prefix from the
// display name's leading letters, padding with 'X' if the name is short or
// has too few letters.
func companyPrefix(displayName string) string {
	var letters []rune
	for _, r := range strings.ToUpper(displayName) {
		if unicode.IsLetter(r) {
			letters = append(letters, r)
		}
		if len(letters) == 4 {
			break
		}
	}
	for len(letters) < 4 {
		letters = append(letters, 'X')
	}
	return string(letters)
}

func randomAlphanumericBlock(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = productKeyAlphabet[int(b)%len(productKeyAlphabet)]
	}
	return string(out), nil
}

// productKeyChecksum computes a 3-character checksum over the first three
// parts concatenated without separators, deterministic given the same inputs: a simple
// weighted-sum digest mapped back into the confusable-free alphabet.
func productKeyChecksum(prefix, year, block string) string {
	input := prefix + year + block
	var sums [3]uint32
	for i, r := range input {
		sums[i%3] += uint32(r) * uint32(i+1)
	}
	out := make([]byte, 3)
	for i, s := range sums {
		out[i] = productKeyAlphabet[s%uint32(len(productKeyAlphabet))]
	}
	return string(out)
}

// VerifyProductKeyChecksum recomputes the checksum from the first three
// dash-separated parts and reports whether it matches the fourth. Optional
// defensive check — the authoritative gate is existence in the customer
// store, never this function.
func VerifyProductKeyChecksum(productKey string) bool {
	parts := strings.Split(productKey, "-")
	if len(parts) != 4 {
		return false
	}
	return productKeyChecksum(parts[0], parts[1], parts[2]) == parts[3]
}
