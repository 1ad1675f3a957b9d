package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActivationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "license_activations_total",
		Help: "Total activation requests by outcome reason.",
	}, []string{"reason"})
	ValidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "license_validations_total",
		Help: "Total validate calls by outcome reason.",
	}, []string{"reason"})
	HeartbeatsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "license_heartbeats_total",
		Help: "Total heartbeat calls by outcome reason.",
	}, []string{"reason"})
	UpgradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "license_upgrades_total",
		Help: "Total upgrade calls by outcome reason.",
	}, []string{"reason"})
	ActiveMachines = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "license_active_machines",
		Help: "Number of machines currently activated across all customers.",
	})
	ActiveCustomers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "license_active_customers",
		Help: "Number of non-revoked customers.",
	})
	SigningOperations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "license_certificates_signed_total",
		Help: "Total number of certificates signed by this Issuer.",
	})
	RateLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "license_rate_limit_rejections_total",
		Help: "Total requests rejected by the per-IP rate limiter.",
	})

	// Enforcer-side metrics, written by the enforcerd process rather than
	// the Issuer. enforcerd serves no /metrics endpoint of its own, so they
	// live only in that process's default registry.
	EnforcerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "license_enforcer_state",
		Help: "Current Enforcer state as an integer (see enforcer.State ordering).",
	})
	RevalidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "license_revalidations_total",
		Help: "Total local/server revalidation checks by outcome reason.",
	}, []string{"reason"})
)
