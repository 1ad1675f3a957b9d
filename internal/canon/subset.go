package canon

import "encoding/json"

// ToMap round-trips v through encoding/json to obtain the generic
// map[string]any shape Encode requires. This is how struct-tagged
// certificate types are turned into the exact signed/HMACed document:
// the JSON struct tags define the field set, canon.Encode defines the
// byte-deterministic serialization of that field set.
func ToMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Without returns a shallow copy of m with the given top-level keys removed.
// Used to build the two signing preimages certificate minting requires: the
// document without {signature, signature_timestamp} for the PSS signature,
// and the document without {security} for the HMAC.
func Without(m map[string]any, keys ...string) map[string]any {
	drop := make(map[string]bool, len(keys))
	for _, k := range keys {
		drop[k] = true
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if drop[k] {
			continue
		}
		out[k] = v
	}
	return out
}
