package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsRegistered(t *testing.T) {
	// CounterVec metrics are not gathered until at least one label set exists.
	ActivationsTotal.WithLabelValues("ok")
	ValidationsTotal.WithLabelValues("ok")
	HeartbeatsTotal.WithLabelValues("ok")
	UpgradesTotal.WithLabelValues("ok")
	RevalidationsTotal.WithLabelValues("ok")

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	expected := map[string]bool{
		"license_activations_total":           false,
		"license_validations_total":           false,
		"license_heartbeats_total":            false,
		"license_upgrades_total":              false,
		"license_active_machines":             false,
		"license_active_customers":            false,
		"license_certificates_signed_total":   false,
		"license_rate_limit_rejections_total": false,
		"license_enforcer_state":              false,
		"license_revalidations_total":         false,
	}

	for _, mf := range mfs {
		if _, ok := expected[mf.GetName()]; ok {
			expected[mf.GetName()] = true
		}
	}

	for name, found := range expected {
		if !found {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestCounterIncrements(t *testing.T) {
	SigningOperations.Add(1)
	RateLimitRejections.Add(1)
	ActivationsTotal.WithLabelValues("ok").Inc()
	ActivationsTotal.WithLabelValues("machine_limit_exceeded").Inc()
}

func TestGaugeSets(t *testing.T) {
	ActiveMachines.Set(10)
	ActiveCustomers.Set(3)
	EnforcerState.Set(2)
}
