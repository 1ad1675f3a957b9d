package canon

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncode_KeyOrdering(t *testing.T) {
	m := map[string]any{
		"zeta":  1.0,
		"alpha": "x",
		"beta":  true,
	}
	out, err := Encode(m)
	require.NoError(t, err)
	require.Equal(t, `{"alpha":"x","beta":true,"zeta":1}`, string(out))
}

func TestEncode_NestedAndArrays(t *testing.T) {
	m := map[string]any{
		"b": []any{"x", "y"},
		"a": map[string]any{"q": 2.0, "p": 1.0},
	}
	out, err := Encode(m)
	require.NoError(t, err)
	require.Equal(t, `{"a":{"p":1,"q":2},"b":["x","y"]}`, string(out))
}

func TestEncode_StringEscaping(t *testing.T) {
	out, err := Encode(map[string]any{"k": "a\"b\\c\nd"})
	require.NoError(t, err)
	require.Equal(t, `{"k":"a\"b\\c\nd"}`, string(out))
}

// TestEncode_GoldenCertificateLike pins the byte output for a
// representative certificate-shaped document. Any future change to
// encodeValue/encodeFloat/encodeString that breaks this must be treated as
// a wire-breaking change, since Issuer and Enforcer must produce identical
// bytes for the same logical document.
func TestEncode_GoldenCertificateLike(t *testing.T) {
	doc := map[string]any{
		"certificate_id": "CERT-ABC123",
		"tier":           "pro",
		"limits": map[string]any{
			"max_machines":    10.0,
			"api_rate_limit":  5000.0,
			"current_machine": 1.0,
		},
		"services": []any{"frontend", "backend"},
	}
	out, err := Encode(doc)
	require.NoError(t, err)
	want := `{"certificate_id":"CERT-ABC123","limits":{"api_rate_limit":5000,"current_machine":1,"max_machines":10},"services":["frontend","backend"],"tier":"pro"}`
	require.Equal(t, want, string(out))
}

func TestWithout(t *testing.T) {
	m := map[string]any{"a": 1.0, "b": 2.0, "security": map[string]any{}}
	out := Without(m, "security")
	_, ok := out["security"]
	require.False(t, ok)
	require.Equal(t, 1.0, out["a"])
}

func TestToMap_RoundTrip(t *testing.T) {
	type inner struct {
		Name string `json:"name"`
	}
	v := struct {
		ID    string `json:"id"`
		Inner inner  `json:"inner"`
	}{ID: "x", Inner: inner{Name: "y"}}

	m, err := ToMap(v)
	require.NoError(t, err)
	require.Equal(t, "x", m["id"])
	require.Equal(t, "y", m["inner"].(map[string]any)["name"])
}
