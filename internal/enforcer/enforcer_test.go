package enforcer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/moby/moby/api/types/container"
	"github.com/stretchr/testify/require"

	"github.com/nainovate/license-authority/internal/bundle"
	"github.com/nainovate/license-authority/internal/certs"
	"github.com/nainovate/license-authority/internal/clock"
	"github.com/nainovate/license-authority/internal/fingerprint"
	"github.com/nainovate/license-authority/internal/tiers"
)

// fakeDocker records stop/start calls so tests can assert that a
// transition to INVALID actually terminated the protected containers.
type fakeDocker struct {
	containers map[string][]container.Summary
	stopped    map[string]int
}

func newFakeDocker() *fakeDocker {
	return &fakeDocker{
		containers: map[string][]container.Summary{
			"frontend": {{ID: "c-frontend", State: "running"}},
			"backend":  {{ID: "c-backend", State: "running"}},
		},
		stopped: map[string]int{},
	}
}

func (f *fakeDocker) ListByService(_ context.Context, service string) ([]container.Summary, error) {
	return f.containers[service], nil
}

func (f *fakeDocker) Stop(_ context.Context, id string, _ int) error {
	f.stopped[id]++
	return nil
}

func (f *fakeDocker) Start(_ context.Context, id string) error { return nil }
func (f *fakeDocker) Close() error                             { return nil }

// hostFingerprint derives the fingerprint this test host would pin, so a
// bundle written by the test matches what Evaluate recomputes from live
// probes.
func hostFingerprint(t *testing.T) string {
	t.Helper()
	fp, err := fingerprint.Derive(fingerprint.CollectProbe(), false)
	require.NoError(t, err)
	return fp
}

// writeBundle mints a basic-tier certificate bound to fp, valid for
// validDays from mintedAt, and persists the full bundle under dir.
func writeBundle(t *testing.T, dir, fp string, mintedAt time.Time, validDays int) *certs.Certificate {
	t.Helper()
	kp, err := certs.EnsureKeyPair(t.TempDir())
	require.NoError(t, err)

	cert, err := certs.Mint(kp, certs.MintParams{
		CustomerID:   "cust-1",
		CustomerName: "Acme",
		ProductKey:   "ACME-2026-ABCD2345-XYZ",
		Fingerprint:  fp,
		Hostname:     "acme-1",
		Tier:         tiers.Basic,
		ValidDays:    validDays,
	}, mintedAt)
	require.NoError(t, err)

	creds := bundle.DockerCredentials{Registry: "r", Username: "u", Token: "t", GeneratedAt: mintedAt}
	require.NoError(t, bundle.Write(dir, cert, kp.Public, creds, fp, "acme-1"))
	return cert
}

// heartbeatServer serves a fixed heartbeat verdict regardless of input.
func heartbeatServer(t *testing.T, valid bool, reason string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"valid": valid, "reason": reason})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestEnforcer(dir, issuerURL, service string, clk clock.Clock, docker *fakeDocker) *Enforcer {
	return New(Config{
		InstallDir:  dir,
		ServiceName: service,
		IssuerURL:   issuerURL,
		Docker:      docker,
		Clock:       clk,
	})
}

func TestEvaluate_NoBundleIsUnactivated(t *testing.T) {
	e := newTestEnforcer(t.TempDir(), "http://127.0.0.1:1", "", clock.Real{}, nil)

	result, err := e.Evaluate(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateUnactivated, result.State)
	require.Equal(t, ReasonNotActivated, result.Reason)
}

func TestEvaluate_ValidBundleRuns(t *testing.T) {
	dir := t.TempDir()
	fp := hostFingerprint(t)
	now := time.Now().UTC()
	writeBundle(t, dir, fp, now, 30)

	srv := heartbeatServer(t, true, "ok")
	e := newTestEnforcer(dir, srv.URL, "frontend", clock.NewFake(now.AddDate(0, 0, 1)), newFakeDocker())

	result, err := e.Evaluate(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateRunning, result.State)
	require.Equal(t, ReasonOK, result.Reason)
}

func TestEvaluate_CopiedBundleDetectsHardwareSwap(t *testing.T) {
	dir := t.TempDir()
	// The bundle was produced on another host: its certificate and pin both
	// carry that host's fingerprint, not this one's.
	foreignFP := "f1f1f1f1" + hostFingerprint(t)[:8]
	now := time.Now().UTC()
	writeBundle(t, dir, foreignFP, now, 30)

	docker := newFakeDocker()
	e := newTestEnforcer(dir, "http://127.0.0.1:1", "frontend", clock.NewFake(now), docker)

	result, err := e.Evaluate(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateInvalid, result.State)
	require.Equal(t, ReasonFingerprintMismatch, result.Reason)
	require.Equal(t, 1, docker.stopped["c-frontend"], "INVALID must terminate protected services")
	require.Equal(t, 1, docker.stopped["c-backend"])

	state, _ := e.State()
	require.Equal(t, StateTerminated, state)
}

func TestEvaluate_GraceThenExpired(t *testing.T) {
	dir := t.TempDir()
	fp := hostFingerprint(t)
	mintedAt := time.Now().UTC().AddDate(0, 0, -12)
	writeBundle(t, dir, fp, mintedAt, 10) // valid_until 2 days ago, grace 7 days

	docker := newFakeDocker()
	clk := clock.NewFake(time.Now().UTC())
	srv := heartbeatServer(t, true, "ok")
	e := newTestEnforcer(dir, srv.URL, "", clk, docker)

	result, err := e.Evaluate(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateGrace, result.State)
	require.Equal(t, ReasonGracePeriod, result.Reason)
	require.Empty(t, docker.stopped, "grace period must not stop services")

	clk.Advance(10 * 24 * time.Hour) // now past valid_until + grace
	result, err = e.Evaluate(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateInvalid, result.State)
	require.Equal(t, ReasonExpired, result.Reason)
	require.Equal(t, 1, docker.stopped["c-frontend"])
}

func TestEvaluate_UnreachableIssuerKeepsRunning(t *testing.T) {
	dir := t.TempDir()
	fp := hostFingerprint(t)
	now := time.Now().UTC()
	writeBundle(t, dir, fp, now, 30)

	docker := newFakeDocker()
	e := newTestEnforcer(dir, "http://127.0.0.1:1", "", clock.NewFake(now), docker)

	result, err := e.Evaluate(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateRunning, result.State, "network failure alone must never demote RUNNING")
	require.Empty(t, docker.stopped)
}

func TestEvaluate_AffirmativeRevocationTerminates(t *testing.T) {
	dir := t.TempDir()
	fp := hostFingerprint(t)
	now := time.Now().UTC()
	writeBundle(t, dir, fp, now, 30)

	docker := newFakeDocker()
	srv := heartbeatServer(t, false, "machine_revoked")
	e := newTestEnforcer(dir, srv.URL, "", clock.NewFake(now), docker)

	result, err := e.Evaluate(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateInvalid, result.State)
	require.Equal(t, ReasonRevoked, result.Reason)
	require.Equal(t, 1, docker.stopped["c-frontend"])
}

func TestEvaluate_ServiceNotInTierIsInvalid(t *testing.T) {
	dir := t.TempDir()
	fp := hostFingerprint(t)
	now := time.Now().UTC()
	writeBundle(t, dir, fp, now, 30) // basic tier: frontend+backend only

	e := newTestEnforcer(dir, "http://127.0.0.1:1", "monitoring", clock.NewFake(now), newFakeDocker())

	result, err := e.Evaluate(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateInvalid, result.State)
	require.Equal(t, ReasonServiceNotAllowed, result.Reason)
}

func TestEvaluate_TamperedCertificateIsCorrupt(t *testing.T) {
	dir := t.TempDir()
	fp := hostFingerprint(t)
	now := time.Now().UTC()
	writeBundle(t, dir, fp, now, 30)

	// Flip a byte in the plaintext copy; it no longer matches the sealed
	// copy, so the corruption check trips before signature verification.
	paths := bundle.ResolvePaths(dir)
	raw, err := os.ReadFile(paths.CertificateJSON)
	require.NoError(t, err)
	raw[len(raw)/2] ^= 0x01
	require.NoError(t, os.WriteFile(paths.CertificateJSON, raw, 0644))

	e := newTestEnforcer(dir, "http://127.0.0.1:1", "", clock.NewFake(now), newFakeDocker())

	result, err := e.Evaluate(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateInvalid, result.State)
	require.Equal(t, ReasonCertificateCorrupt, result.Reason)
}

func TestTerminate_Idempotent(t *testing.T) {
	dir := t.TempDir()
	fp := hostFingerprint(t)
	mintedAt := time.Now().UTC().AddDate(0, 0, -30)
	writeBundle(t, dir, fp, mintedAt, 10) // long past grace

	docker := newFakeDocker()
	e := newTestEnforcer(dir, "http://127.0.0.1:1", "", clock.NewFake(time.Now().UTC()), docker)

	_, err := e.Evaluate(context.Background())
	require.NoError(t, err)
	_, err = e.Evaluate(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, docker.stopped["c-frontend"], "duplicate termination signals must be idempotent")
}

func TestLoop_CancelledContextStops(t *testing.T) {
	dir := t.TempDir()
	e := newTestEnforcer(dir, "http://127.0.0.1:1", "", clock.Real{}, nil)
	loop := NewLoop(e, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop on context cancellation")
	}
}
