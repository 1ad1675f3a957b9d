// Package dockerctl is the Enforcer's thin collaborator for the
// container-runtime invocations names as external ("compose
// up/down, login") — it does not implement a compose file interpreter;
// it drives the same moby daemon API the compose CLI itself uses,
// scoped to the containers labeled as belonging to a protected license
// service. Adapted from Docker-Sentinel's internal/docker/client.go dialing
// wrapper (unix-socket/TCP-TLS client construction) and containers.go
// (list/stop/start operations), trimmed to the subset the Enforcer's
// state machine needs: it never checks for image updates or manages
// Swarm services, concerns that belong to Docker-Sentinel, not a
// licensing agent.
package dockerctl

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/client"
)

// ServiceLabel is set on every container a license bundle's compose
// descriptor launches, naming which docker-service entry (
// DockerBlock.Services key) it implements. The Enforcer uses it to find
// and stop exactly the containers a certificate's docker map covers.
const ServiceLabel = "license.service"

// API is the subset of docker operations the Enforcer's state machine
// depends on, named here so the state machine can be tested against a
// fake without dialing a real daemon.
type API interface {
	ListByService(ctx context.Context, service string) ([]container.Summary, error)
	Stop(ctx context.Context, containerID string, timeoutSeconds int) error
	Start(ctx context.Context, containerID string) error
	Close() error
}

// Client wraps the moby API client.
type Client struct {
	api *client.Client
}

// TLSConfig holds paths to TLS certificates for connecting to a Docker
// socket proxy or remote daemon over mTLS, identical in shape to the
// teacher's docker.TLSConfig.
type TLSConfig struct {
	CACert     string
	ClientCert string
	ClientKey  string
}

func (t *TLSConfig) loadTLS() (*tls.Config, error) {
	caCert, err := os.ReadFile(t.CACert)
	if err != nil {
		return nil, fmt.Errorf("read CA cert %s: %w", t.CACert, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA cert %s", t.CACert)
	}
	cert, err := tls.LoadX509KeyPair(t.ClientCert, t.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load client cert/key: %w", err)
	}
	return &tls.Config{
		RootCAs:      pool,
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// NewClient dials the docker daemon at sock (a unix socket path or a
// tcp://host:port URL). If tlsCfg is fully populated, mTLS is configured
// for TCP connections — the same socket-proxy-over-TLS pattern the
// teacher's Sentinel agent uses to reach a host's daemon from a sandboxed
// container.
func NewClient(sock string, tlsCfg *TLSConfig) (*Client, error) {
	var opts []client.Opt

	switch {
	case strings.HasPrefix(sock, "unix://"), strings.HasPrefix(sock, "/"):
		path := strings.TrimPrefix(sock, "unix://")
		opts = append(opts, client.WithHost("unix://"+path))
	case strings.HasPrefix(sock, "tcp://"):
		opts = append(opts, client.WithHost(sock))
		if tlsCfg != nil && tlsCfg.CACert != "" && tlsCfg.ClientCert != "" && tlsCfg.ClientKey != "" {
			tlsConf, err := tlsCfg.loadTLS()
			if err != nil {
				return nil, fmt.Errorf("dockerctl tls: %w", err)
			}
			u, err := url.Parse(sock)
			if err != nil {
				return nil, fmt.Errorf("parse docker host %q: %w", sock, err)
			}
			tlsConf.ServerName = u.Hostname()
			httpClient := &http.Client{
				Transport: &http.Transport{
					TLSClientConfig: tlsConf,
					DialContext: (&net.Dialer{
						Timeout: 10 * time.Second,
					}).DialContext,
				},
			}
			opts = append(opts, client.WithHTTPClient(httpClient))
		}
	default:
		return nil, fmt.Errorf("unsupported docker socket scheme: %q", sock)
	}

	opts = append(opts, client.WithAPIVersionNegotiation())

	api, err := client.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("new docker client: %w", err)
	}
	return &Client{api: api}, nil
}

// ListByService lists every container (running or not) labeled as
// implementing the named license service.
func (c *Client) ListByService(ctx context.Context, service string) ([]container.Summary, error) {
	opts := client.ContainerListOptions{
		All:     true,
		Filters: make(client.Filters).Add("label", ServiceLabel+"="+service),
	}
	result, err := c.api.ContainerList(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list containers for service %s: %w", service, err)
	}
	return result.Items, nil
}

// Stop stops a container with the given grace timeout.
func (c *Client) Stop(ctx context.Context, containerID string, timeoutSeconds int) error {
	_, err := c.api.ContainerStop(ctx, containerID, client.ContainerStopOptions{Timeout: &timeoutSeconds})
	return err
}

// Start starts a stopped container.
func (c *Client) Start(ctx context.Context, containerID string) error {
	_, err := c.api.ContainerStart(ctx, containerID, client.ContainerStartOptions{})
	return err
}

// Close releases the underlying daemon connection.
func (c *Client) Close() error {
	return c.api.Close()
}

var _ API = (*Client)(nil)
