// Package config loads Issuer and Enforcer runtime settings from environment
// variables into a plain struct populated once by Load(), with the handful
// of fields a running process needs to tune without a restart guarded by a
// mutex and exposed through getter/setter pairs.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

// Config holds every environment-sourced setting for both the Issuer
// (cmd/issuerd) and the Enforcer (cmd/enforcerd). Each binary reads only
// the fields relevant to it; Validate checks both sets, since an operator
// may run issuerd and enforcerd from the same environment template.
type Config struct {
	// Issuer: storage and signing identity
	DBPath   string
	KeyDir   string // directory holding private_key.pem/public_key.pem
	BindAddr string // e.g. ":8443"

	// Issuer: operator-configured registry pull credentials, shared across
	// every customer and embedded in each certificate's docker.registry
	// block.
	RegistryURL      string
	RegistryUsername string
	RegistryToken    string

	// Issuer: HTTP surface
	TLSCert string
	TLSKey  string
	TLSAuto bool

	LogJSON        bool
	MetricsEnabled bool

	// MetricsTextfile, when non-empty, is a path the Issuer rewrites with
	// current license_ metrics after every sweep, for node_exporter's
	// textfile collector.
	MetricsTextfile string

	SweepInterval time.Duration // expired/revoked-machine sweep cadence

	// Enforcer
	InstallDir    string // root of the on-disk bundle layout
	ServiceName   string // "" = no service gate
	IssuerURL     string
	DockerSock    string
	ErrorPagePort string // port the static error page listens on from startup

	// mu protects the mutable runtime fields below.
	mu                 sync.RWMutex
	revalidateInterval time.Duration
	rateLimitPerHour   int
}

// NewTestConfig creates a Config with sensible defaults for testing.
func NewTestConfig() *Config {
	return &Config{
		revalidateInterval: time.Hour,
		rateLimitPerHour:   120,
		SweepInterval:      time.Hour,
	}
}

// Load reads all configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		DBPath:             envStr("LICENSE_DB_PATH", "/data/license-issuer.db"),
		KeyDir:             envStr("LICENSE_KEY_DIR", "/data/keys"),
		BindAddr:           envStr("LICENSE_BIND_ADDR", ":8443"),
		RegistryURL:        envStr("LICENSE_REGISTRY_URL", "registry.example.com"),
		RegistryUsername:   envStr("LICENSE_REGISTRY_USERNAME", "license-pull"),
		RegistryToken:      envStr("LICENSE_REGISTRY_TOKEN", ""),
		TLSCert:            envStr("LICENSE_TLS_CERT", ""),
		TLSKey:             envStr("LICENSE_TLS_KEY", ""),
		TLSAuto:            envBool("LICENSE_TLS_AUTO", true),
		LogJSON:            envBool("LICENSE_LOG_JSON", true),
		MetricsEnabled:     envBool("LICENSE_METRICS", true),
		MetricsTextfile:    envStr("LICENSE_METRICS_TEXTFILE", ""),
		SweepInterval:      envDuration("LICENSE_SWEEP_INTERVAL", time.Hour),
		InstallDir:         envStr("LICENSE_INSTALL_DIR", "/opt/license-agent"),
		ServiceName:        envStr("LICENSE_SERVICE_NAME", ""),
		IssuerURL:          envStr("LICENSE_ISSUER_URL", "https://license.example.com"),
		DockerSock:         envStr("LICENSE_DOCKER_SOCK", "/var/run/docker.sock"),
		ErrorPagePort:      envStr("LICENSE_ERROR_PAGE_PORT", "8090"),
		revalidateInterval: envDuration("LICENSE_REVALIDATE_INTERVAL", time.Hour),
		rateLimitPerHour:   envInt("LICENSE_RATE_LIMIT_PER_HOUR", 120),
	}
}

// Validate checks configuration for invalid values.
func (c *Config) Validate() error {
	c.mu.RLock()
	ri := c.revalidateInterval
	rl := c.rateLimitPerHour
	c.mu.RUnlock()

	var errs []error
	if ri <= 0 {
		errs = append(errs, fmt.Errorf("LICENSE_REVALIDATE_INTERVAL must be > 0, got %s", ri))
	}
	if rl < 0 {
		errs = append(errs, fmt.Errorf("LICENSE_RATE_LIMIT_PER_HOUR must be >= 0, got %d", rl))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("LICENSE_SWEEP_INTERVAL must be > 0, got %s", c.SweepInterval))
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		errs = append(errs, fmt.Errorf("LICENSE_TLS_CERT and LICENSE_TLS_KEY must both be set or both empty"))
	}
	return errors.Join(errs...)
}

// Values returns all configuration as a string map for display.
func (c *Config) Values() map[string]string {
	c.mu.RLock()
	ri := c.revalidateInterval
	rl := c.rateLimitPerHour
	c.mu.RUnlock()

	return map[string]string{
		"LICENSE_DB_PATH":             c.DBPath,
		"LICENSE_KEY_DIR":             c.KeyDir,
		"LICENSE_BIND_ADDR":           c.BindAddr,
		"LICENSE_REGISTRY_URL":        c.RegistryURL,
		"LICENSE_REGISTRY_USERNAME":   c.RegistryUsername,
		"LICENSE_REGISTRY_TOKEN":      redactSecret(c.RegistryToken),
		"LICENSE_TLS_CERT":            c.TLSCert,
		"LICENSE_TLS_KEY":             redactSecret(c.TLSKey),
		"LICENSE_TLS_AUTO":            fmt.Sprintf("%t", c.TLSAuto),
		"LICENSE_LOG_JSON":            fmt.Sprintf("%t", c.LogJSON),
		"LICENSE_METRICS":             fmt.Sprintf("%t", c.MetricsEnabled),
		"LICENSE_METRICS_TEXTFILE":    c.MetricsTextfile,
		"LICENSE_SWEEP_INTERVAL":      c.SweepInterval.String(),
		"LICENSE_INSTALL_DIR":         c.InstallDir,
		"LICENSE_SERVICE_NAME":        c.ServiceName,
		"LICENSE_ISSUER_URL":          c.IssuerURL,
		"LICENSE_DOCKER_SOCK":         c.DockerSock,
		"LICENSE_ERROR_PAGE_PORT":     c.ErrorPagePort,
		"LICENSE_REVALIDATE_INTERVAL": ri.String(),
		"LICENSE_RATE_LIMIT_PER_HOUR": fmt.Sprintf("%d", rl),
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// RevalidateInterval returns the current Enforcer revalidation interval
// (thread-safe) — the cadence Loop.Run checks against the Issuer.
func (c *Config) RevalidateInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.revalidateInterval
}

// SetRevalidateInterval updates the revalidation interval at runtime, e.g.
// after an upgrade response lowers the heartbeat cadence for a tier.
func (c *Config) SetRevalidateInterval(d time.Duration) {
	c.mu.Lock()
	c.revalidateInterval = d
	c.mu.Unlock()
}

// RateLimitPerHour returns the current per-IP rate limit (thread-safe).
func (c *Config) RateLimitPerHour() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rateLimitPerHour
}

// SetRateLimitPerHour updates the per-IP rate limit at runtime.
func (c *Config) SetRateLimitPerHour(n int) {
	c.mu.Lock()
	c.rateLimitPerHour = n
	c.mu.Unlock()
}

// redactSecret returns "(set)" if the value is non-empty, empty string otherwise.
func redactSecret(s string) string {
	if s != "" {
		return "(set)"
	}
	return ""
}

// TLSEnabled returns true when TLS is configured (cert+key or auto).
func (c *Config) TLSEnabled() bool {
	return (c.TLSCert != "" && c.TLSKey != "") || c.TLSAuto
}
