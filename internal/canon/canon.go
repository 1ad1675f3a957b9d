// Package canon implements the canonical JSON encoder used as the preimage
// for every signature and HMAC in the licensing protocol. Go's encoding/json
// already sorts map keys when marshaling a map[string]any, but that guarantee
// is incidental to the standard library, not a documented cross-language
// contract, and it gives no control over number formatting or separator
// whitespace. This package is an explicit walker so the byte output is
// pinned independent of encoding/json's internals.
package canon

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Encode produces the canonical JSON byte form of v: object keys sorted
// byte-lexicographically, arrays in source order, minimal-precision numbers,
// standard JSON string escaping, and no extraneous whitespace.
//
// v must be built from the decode side of encoding/json (map[string]any,
// []any, string, float64/json.Number, bool, nil) or from the primitive types
// this function switches on directly. Passing a struct is a programming
// error; callers must marshal to map[string]any (via ToMap) first so the
// exact field set being signed is explicit and inspectable.
func Encode(v any) ([]byte, error) {
	var sb strings.Builder
	if err := encodeValue(&sb, v); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

func encodeValue(sb *strings.Builder, v any) error {
	switch t := v.(type) {
	case nil:
		sb.WriteString("null")
	case bool:
		if t {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case string:
		encodeString(sb, t)
	case float64:
		encodeFloat(sb, t)
	case int:
		sb.WriteString(strconv.Itoa(t))
	case int64:
		sb.WriteString(strconv.FormatInt(t, 10))
	case map[string]any:
		return encodeObject(sb, t)
	case []any:
		return encodeArray(sb, t)
	case []string:
		arr := make([]any, len(t))
		for i, s := range t {
			arr[i] = s
		}
		return encodeArray(sb, arr)
	default:
		return fmt.Errorf("canon: unsupported type %T", v)
	}
	return nil
}

func encodeObject(sb *strings.Builder, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		encodeString(sb, k)
		sb.WriteByte(':')
		if err := encodeValue(sb, m[k]); err != nil {
			return err
		}
	}
	sb.WriteByte('}')
	return nil
}

func encodeArray(sb *strings.Builder, arr []any) error {
	sb.WriteByte('[')
	for i, v := range arr {
		if i > 0 {
			sb.WriteByte(',')
		}
		if err := encodeValue(sb, v); err != nil {
			return err
		}
	}
	sb.WriteByte(']')
	return nil
}

// encodeFloat emits a float64 with minimal precision: integral values are
// emitted without a decimal point, matching the original Python json
// module's behavior for values that came from int fields decoded as float64.
func encodeFloat(sb *strings.Builder, f float64) {
	if math.Trunc(f) == f && !math.IsInf(f, 0) && math.Abs(f) < 1e15 {
		sb.WriteString(strconv.FormatInt(int64(f), 10))
		return
	}
	sb.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
}

// encodeString writes s as a JSON string literal using the standard escape
// set (quote, backslash, control characters), matching separators=(',',':').
func encodeString(sb *strings.Builder, s string) {
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			if r < 0x20 {
				sb.WriteString(fmt.Sprintf(`\u%04x`, r))
			} else {
				sb.WriteRune(r)
			}
		}
	}
	sb.WriteByte('"')
}
