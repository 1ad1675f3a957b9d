package dockerctl

import (
	"context"
	"testing"

	"github.com/moby/moby/api/types/container"
	"github.com/stretchr/testify/require"

	"github.com/nainovate/license-authority/internal/certs"
)

type fakeAPI struct {
	containers map[string][]container.Summary
	stopped    map[string]bool
	started    map[string]bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		containers: map[string][]container.Summary{},
		stopped:    map[string]bool{},
		started:    map[string]bool{},
	}
}

func (f *fakeAPI) ListByService(_ context.Context, service string) ([]container.Summary, error) {
	return f.containers[service], nil
}

func (f *fakeAPI) Stop(_ context.Context, id string, _ int) error {
	f.stopped[id] = true
	return nil
}

func (f *fakeAPI) Start(_ context.Context, id string) error {
	f.started[id] = true
	return nil
}

func (f *fakeAPI) Close() error { return nil }

func certWithServices(enabled ...string) *certs.Certificate {
	c := &certs.Certificate{Docker: certs.DockerBlock{Services: map[string]certs.DockerServiceEntry{}}}
	enabledSet := map[string]bool{}
	for _, s := range enabled {
		enabledSet[s] = true
	}
	for _, s := range []string{"frontend", "backend", "analytics", "monitoring"} {
		c.Docker.Services[s] = certs.DockerServiceEntry{Enabled: enabledSet[s]}
	}
	return c
}

func TestStopServicesOnlyStopsEnabledRunning(t *testing.T) {
	api := newFakeAPI()
	api.containers["frontend"] = []container.Summary{{ID: "c-frontend", State: "running"}}
	api.containers["backend"] = []container.Summary{{ID: "c-backend", State: "exited"}}
	api.containers["analytics"] = []container.Summary{{ID: "c-analytics", State: "running"}}

	cert := certWithServices("frontend", "backend")

	require.NoError(t, StopServices(context.Background(), api, cert))
	require.True(t, api.stopped["c-frontend"])
	require.False(t, api.stopped["c-backend"], "already-exited container should not be re-stopped")
	require.False(t, api.stopped["c-analytics"], "disabled service should not be touched")
}

func TestStopServicesIdempotent(t *testing.T) {
	api := newFakeAPI()
	api.containers["frontend"] = []container.Summary{{ID: "c-1", State: "running"}}
	cert := certWithServices("frontend")

	require.NoError(t, StopServices(context.Background(), api, cert))
	require.NoError(t, StopServices(context.Background(), api, cert))
	require.True(t, api.stopped["c-1"])
}

func TestStartServicesSkipsAlreadyRunning(t *testing.T) {
	api := newFakeAPI()
	api.containers["frontend"] = []container.Summary{{ID: "c-1", State: "exited"}, {ID: "c-2", State: "running"}}
	cert := certWithServices("frontend")

	require.NoError(t, StartServices(context.Background(), api, cert))
	require.True(t, api.started["c-1"])
	require.False(t, api.started["c-2"])
}
