package fingerprint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Pin is the plaintext pinned-fingerprint record (the bundle's
// machine_id.json). It is written once at first activation and never
// changes thereafter, surviving certificate replacement and upgrades.
type Pin struct {
	Fingerprint string    `json:"fingerprint"`
	GeneratedAt time.Time `json:"generated_at"`
	Hostname    string    `json:"hostname"`
}

// LoadPin reads the pin file if present. Returns (nil, nil) if absent.
func LoadPin(path string) (*Pin, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read pin file: %w", err)
	}
	var p Pin
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse pin file: %w", err)
	}
	return &p, nil
}

// WritePin atomically writes the pin file (write-to-temp + rename, per
// atomic-write requirement for the shared bundle directory).
func WritePin(path string, p Pin) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pin: %w", err)
	}
	return atomicWrite(path, data, 0644)
}

func atomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

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
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// EnsurePinned implements the Enforcer's pin-or-check flow: if no pin file
// exists, derive a fresh fingerprint and write the pin; if one exists,
// recompute from current hardware and compare byte-for-byte against it.
// A mismatch is reported via ok=false, not an error — fingerprint_mismatch
// is a business-rule outcome, not an infra failure.
func EnsurePinned(pinPath string, probe Probe) (current string, ok bool, err error) {
	existing, err := LoadPin(pinPath)
	if err != nil {
		return "", false, err
	}

	current, err = Derive(probe, existing != nil)
	if err != nil {
		return "", false, err
	}

	if existing == nil {
		if err := WritePin(pinPath, Pin{
			Fingerprint: current,
			GeneratedAt: time.Now().UTC(),
			Hostname:    probe.Hostname,
		}); err != nil {
			return "", false, err
		}
		return current, true, nil
	}

	return current, current == existing.Fingerprint, nil
}
