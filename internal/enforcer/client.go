// Package enforcer implements the client-side state machine:
// UNACTIVATED -> VALIDATING -> RUNNING -> (GRACE | INVALID) -> TERMINATED.
// It is a client that talks to one authority over HTTP and keeps local
// state between calls, generalized from cluster-membership heartbeats to
// license validation.
package enforcer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nainovate/license-authority/internal/wire"
)

// Bounded call timeouts: every outbound call from the Enforcer to the
// Issuer has a bounded timeout (seconds, not minutes). Heartbeat gets the
// most aggressive timeout because offline operation is the expected
// degraded mode, not an error condition.
const (
	activateTimeout  = 15 * time.Second
	validateTimeout  = 10 * time.Second
	heartbeatTimeout = 3 * time.Second
	upgradeTimeout   = 15 * time.Second
)

// IssuerClient is the Enforcer's HTTP client for the wire.go contract.
// Every method is safe to call with the Issuer unreachable: network
// failures surface as Go errors, which the state machine treats as a
// skipped server check rather than a fatal license failure: it logs the
// error and keeps the state and reason of its local checks.
type IssuerClient struct {
	baseURL string
	http    *http.Client
}

// NewIssuerClient builds a client against baseURL (e.g.
// "https://license.example.com"). The underlying http.Client carries no
// default timeout; each call applies its own bounded context deadline
// instead, so a slow activate doesn't truncate a concurrent fast
// heartbeat sharing the same client.
func NewIssuerClient(baseURL string) *IssuerClient {
	return &IssuerClient{baseURL: baseURL, http: &http.Client{}}
}

func (c *IssuerClient) post(ctx context.Context, timeout time.Duration, path string, reqBody, respBody any) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, respBody); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// Activate calls POST /api/v1/activate.
func (c *IssuerClient) Activate(ctx context.Context, req wire.ActivateRequest) (*wire.ActivateResponse, int, error) {
	var resp wire.ActivateResponse
	status, err := c.post(ctx, activateTimeout, "/api/v1/activate", req, &resp)
	if err != nil {
		return nil, 0, err
	}
	return &resp, status, nil
}

// Validate calls POST /api/v1/validate.
func (c *IssuerClient) Validate(ctx context.Context, req wire.ValidateRequest) (*wire.ValidateResponse, error) {
	var resp wire.ValidateResponse
	if _, err := c.post(ctx, validateTimeout, "/api/v1/validate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Heartbeat calls POST /api/v1/heartbeat with an aggressive timeout —
// offline is the expected degraded mode, not a failure to retry hard for.
func (c *IssuerClient) Heartbeat(ctx context.Context, req wire.HeartbeatRequest) (*wire.HeartbeatResponse, error) {
	var resp wire.HeartbeatResponse
	if _, err := c.post(ctx, heartbeatTimeout, "/api/v1/heartbeat", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Upgrade calls POST /api/v1/upgrade.
func (c *IssuerClient) Upgrade(ctx context.Context, req wire.UpgradeRequest) (*wire.UpgradeResponse, int, error) {
	var resp wire.UpgradeResponse
	status, err := c.post(ctx, upgradeTimeout, "/api/v1/upgrade", req, &resp)
	if err != nil {
		return nil, 0, err
	}
	return &resp, status, nil
}

// PublicKey fetches the Issuer's current signing public key as PEM text.
func (c *IssuerClient) PublicKey(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/public-key", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch public key: %w", err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}
