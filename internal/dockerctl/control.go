package dockerctl

import (
	"context"
	"fmt"

	"github.com/nainovate/license-authority/internal/certs"
)

// stopTimeoutSeconds is the grace period given to each protected container
// before a hard kill, matching this package's default container-stop timeout.
const stopTimeoutSeconds = 10

// StopServices terminates every enabled docker service's containers for
// cert, driving the INVALID -> TERMINATED transition by stopping protected
// services via the external container-runtime collaborator.
// A missing container for a service is not an error — the service may
// never have been started, or may already be stopped by a prior,
// idempotent termination signal.
func StopServices(ctx context.Context, api API, cert *certs.Certificate) error {
	for name, svc := range cert.Docker.Services {
		if !svc.Enabled {
			continue
		}
		containers, err := api.ListByService(ctx, name)
		if err != nil {
			return fmt.Errorf("list containers for service %s: %w", name, err)
		}
		for _, c := range containers {
			if c.State == "exited" || c.State == "dead" {
				continue
			}
			if err := api.Stop(ctx, c.ID, stopTimeoutSeconds); err != nil {
				return fmt.Errorf("stop %s container %s: %w", name, c.ID[:min(12, len(c.ID))], err)
			}
		}
	}
	return nil
}

// StartServices starts every enabled docker service's containers for cert
// that are not already running. The Enforcer's state machine only stops
// services and never calls this.
func StartServices(ctx context.Context, api API, cert *certs.Certificate) error {
	for name, svc := range cert.Docker.Services {
		if !svc.Enabled {
			continue
		}
		containers, err := api.ListByService(ctx, name)
		if err != nil {
			return fmt.Errorf("list containers for service %s: %w", name, err)
		}
		for _, c := range containers {
			if c.State == "running" {
				continue
			}
			if err := api.Start(ctx, c.ID); err != nil {
				return fmt.Errorf("start %s container %s: %w", name, c.ID[:min(12, len(c.ID))], err)
			}
		}
	}
	return nil
}
