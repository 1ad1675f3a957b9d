package issuer

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateProductKey_Format(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	key, err := GenerateProductKey("Acme Industries", now)
	require.NoError(t, err)

	parts := strings.Split(key, "-")
	require.Len(t, parts, 4)
	require.Equal(t, "ACME", parts[0])
	require.Equal(t, "2026", parts[1])
	require.Len(t, parts[2], 8)
	require.Len(t, parts[3], 3)

	for _, c := range parts[2] + parts[3] {
		require.Contains(t, productKeyAlphabet, string(c), "alphabet must exclude confusable characters")
	}
}

func TestGenerateProductKey_ShortNamePadsPrefix(t *testing.T) {
	key, err := GenerateProductKey("ab", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, "ABXX", strings.Split(key, "-")[0])
}

func TestVerifyProductKeyChecksum(t *testing.T) {
	key, err := GenerateProductKey("Acme", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, VerifyProductKeyChecksum(key))

	parts := strings.Split(key, "-")
	tampered := parts[0] + "-" + parts[1] + "-" + parts[2] + "-XXX"
	if tampered != key {
		require.False(t, VerifyProductKeyChecksum(tampered))
	}
	require.False(t, VerifyProductKeyChecksum("not-a-key"))
}
