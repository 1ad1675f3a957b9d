// Package fingerprint derives a stable machine identity from sorted,
// prefixed hardware/OS tokens hashed with SHA3-512. This is the sorted,
// prefixed, no-disk-serial variant, not an ordered/unprefixed/with-disk-
// serial alternative — disk serial numbers change across virtualized and
// cloud hosts often enough that including one would cause spurious
// fingerprint drift on legitimate machines.
package fingerprint

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/crypto/sha3"
)

// ErrNoPinAndInsufficientProbes is returned when fewer than three hardware
// tokens were collected and a pinned fingerprint file already exists, so a
// random fallback could never reproduce the pinned value — Derive aborts
// in this case rather than silently falling back. Without a pin, Derive
// falls back to a random token instead.
var ErrNoPinAndInsufficientProbes = fmt.Errorf("fingerprint: insufficient hardware probes and a pin already exists; refusing random fallback")

// Probe collects the raw, unsorted set of hardware/OS tokens available on
// this host. Split out from Derive so tests can inject a fixed probe set
// instead of depending on actual host state.
type Probe struct {
	Hostname           string
	KernelName         string
	Architecture       string
	WindowsMachineGUID string
	WindowsCPUID       string
	LinuxMachineID     string
	LinuxProductUUID   string
}

// CollectProbe reads the live host's available tokens.
func CollectProbe() Probe {
	p := Probe{
		Hostname:     hostname(),
		KernelName:   runtime.GOOS,
		Architecture: runtime.GOARCH,
	}
	switch runtime.GOOS {
	case "linux":
		p.LinuxMachineID = readFirstLine("/etc/machine-id")
		p.LinuxProductUUID = readFirstLine("/sys/class/dmi/id/product_uuid")
	case "windows":
		p.WindowsMachineGUID = readWindowsMachineGUID()
		p.WindowsCPUID = readWindowsCPUID()
	}
	return p
}

// tokens builds the prefixed token list from a Probe, in priority order
// (the list is then sorted before hashing, so priority order here only
// affects which probes are considered optional or absent).
func (p Probe) tokens() []string {
	var toks []string
	add := func(prefix, val string) {
		if val != "" {
			toks = append(toks, prefix+":"+val)
		}
	}
	add("hostname", p.Hostname)
	add("system", p.KernelName)
	add("machine", p.Architecture)
	add("machine_guid", p.WindowsMachineGUID)
	add("cpu", p.WindowsCPUID)
	add("machine_id", p.LinuxMachineID)
	add("product_uuid", p.LinuxProductUUID)
	return toks
}

// Derive computes the machine fingerprint: sorted, prefixed tokens joined
// with "|", hashed with SHA3-512, hex-encoded. hasPin tells Derive whether
// a pinned fingerprint file already exists, governing whether the
// random fallback is permitted when fewer than 3 tokens were collected.
func Derive(p Probe, hasPin bool) (string, error) {
	toks := p.tokens()

	if len(toks) < 3 {
		if hasPin {
			return "", ErrNoPinAndInsufficientProbes
		}
		randTok, err := randomToken()
		if err != nil {
			return "", fmt.Errorf("generate fallback token: %w", err)
		}
		toks = append(toks, randTok)
	}

	sort.Strings(toks)
	joined := strings.Join(toks, "|")

	sum := sha3.Sum512([]byte(joined))
	return hex.EncodeToString(sum[:]), nil
}

func randomToken() (string, error) {
	buf := make([]byte, 16) // 128 bits
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "random:" + hex.EncodeToString(buf), nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}

func readFirstLine(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	line := strings.TrimSpace(string(data))
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	return line
}
