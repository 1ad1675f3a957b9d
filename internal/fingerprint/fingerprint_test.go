package fingerprint

import (
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/sha3"
)

func TestDerive_Deterministic(t *testing.T) {
	p := Probe{Hostname: "host1", KernelName: "linux", Architecture: "amd64", LinuxMachineID: "abc123"}

	fp1, err := Derive(p, false)
	require.NoError(t, err)
	fp2, err := Derive(p, false)
	require.NoError(t, err)
	require.Equal(t, fp1, fp2, "invariant 6: fingerprint derivation must be deterministic for the same probe outputs")
	require.Len(t, fp1, 128, "SHA3-512 hex digest is 128 chars")
}

func TestDerive_SortedTokenOrderDoesNotAffectResult(t *testing.T) {
	p1 := Probe{Hostname: "z-host", KernelName: "linux", Architecture: "amd64"}
	p2 := Probe{Hostname: "z-host", KernelName: "linux", Architecture: "amd64"}

	fp1, err := Derive(p1, false)
	require.NoError(t, err)
	fp2, err := Derive(p2, false)
	require.NoError(t, err)
	require.Equal(t, fp1, fp2)

	// tokens() yields hostname, system, machine; the digest is over the
	// alphabetically sorted order instead.
	sorted := sha3.Sum512([]byte("hostname:z-host|machine:amd64|system:linux"))
	require.Equal(t, hex.EncodeToString(sorted[:]), fp1)
}

func TestDerive_InsufficientProbesWithoutPinFallsBackToRandom(t *testing.T) {
	p := Probe{Hostname: "h"} // only 1 token
	fp, err := Derive(p, false)
	require.NoError(t, err)
	require.NotEmpty(t, fp)
}

func TestDerive_InsufficientProbesWithPinAborts(t *testing.T) {
	p := Probe{Hostname: "h"} // only 1 token
	_, err := Derive(p, true)
	require.ErrorIs(t, err, ErrNoPinAndInsufficientProbes)
}

func TestEnsurePinned_FirstRunWritesPin(t *testing.T) {
	dir := t.TempDir()
	pinPath := filepath.Join(dir, ".fingerprint")
	probe := Probe{Hostname: "h1", KernelName: "linux", Architecture: "amd64", LinuxMachineID: "m1"}

	fp, ok, err := EnsurePinned(pinPath, probe)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, fp)

	pin, err := LoadPin(pinPath)
	require.NoError(t, err)
	require.Equal(t, fp, pin.Fingerprint)
}

func TestEnsurePinned_SubsequentRunMatchesPin(t *testing.T) {
	dir := t.TempDir()
	pinPath := filepath.Join(dir, ".fingerprint")
	probe := Probe{Hostname: "h1", KernelName: "linux", Architecture: "amd64", LinuxMachineID: "m1"}

	_, _, err := EnsurePinned(pinPath, probe)
	require.NoError(t, err)

	fp2, ok, err := EnsurePinned(pinPath, probe)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, fp2)
}

func TestEnsurePinned_HardwareSwapDetected(t *testing.T) {
	dir := t.TempDir()
	pinPath := filepath.Join(dir, ".fingerprint")
	probeH1 := Probe{Hostname: "h1", KernelName: "linux", Architecture: "amd64", LinuxMachineID: "m1"}
	probeH2 := Probe{Hostname: "h2", KernelName: "linux", Architecture: "amd64", LinuxMachineID: "m2"}

	_, _, err := EnsurePinned(pinPath, probeH1)
	require.NoError(t, err)

	_, ok, err := EnsurePinned(pinPath, probeH2)
	require.NoError(t, err)
	require.False(t, ok, "scenario 5: hardware swap must be detected as a pin mismatch")
}
