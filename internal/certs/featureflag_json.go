package certs

import "encoding/json"

// MarshalJSON flattens Extra's sub-fields alongside "enabled", matching the
// original Python shape: {"enabled": true, "max_offline_days": 30, ...}
// rather than a nested sub-object.
func (f FeatureFlag) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(f.Extra)+1)
	for k, v := range f.Extra {
		out[k] = v
	}
	out["enabled"] = f.Enabled
	return json.Marshal(out)
}

// UnmarshalJSON reverses MarshalJSON: "enabled" is pulled out into the
// struct field, everything else becomes Extra.
func (f *FeatureFlag) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if en, ok := m["enabled"].(bool); ok {
		f.Enabled = en
	}
	delete(m, "enabled")
	f.Extra = m
	return nil
}
