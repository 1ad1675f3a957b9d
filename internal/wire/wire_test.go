package wire

import "testing"

func TestValidateActivateKeysAcceptsExactSet(t *testing.T) {
	raw := map[string]any{
		"product_key": "A", "machine_fingerprint": "B", "hostname": "C",
		"os_info": "D", "app_version": "E",
	}
	if got := ValidateActivateKeys(raw); got != "" {
		t.Fatalf("expected no unknown key, got %q", got)
	}
}

func TestValidateActivateKeysRejectsUnknown(t *testing.T) {
	raw := map[string]any{"product_key": "A", "extra_field": "nope"}
	if got := ValidateActivateKeys(raw); got != "extra_field" {
		t.Fatalf("expected extra_field flagged, got %q", got)
	}
}

func TestValidateUpgradeKeysRejectsUnknown(t *testing.T) {
	raw := map[string]any{"machine_fingerprint": "F", "legacy_flag": true}
	if got := ValidateUpgradeKeys(raw); got != "legacy_flag" {
		t.Fatalf("expected legacy_flag flagged, got %q", got)
	}
}

func TestValidateUpgradeKeysAcceptsExactSet(t *testing.T) {
	raw := map[string]any{
		"machine_fingerprint": "F", "new_tier": "pro", "additional_days": 30,
		"new_machine_limit": 5, "additional_services": []any{"backend"},
		"new_image_tags": map[string]any{"backend": "v2"},
	}
	if got := ValidateUpgradeKeys(raw); got != "" {
		t.Fatalf("expected no unknown key, got %q", got)
	}
}
