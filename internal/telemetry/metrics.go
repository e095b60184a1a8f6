// Package telemetry holds the service's Prometheus metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors of the elevation service.
type Metrics struct {
	// Activation metrics
	ActivationsTotal *prometheus.CounterVec
	ActivationRoles  prometheus.Histogram

	// Discovery metrics
	CatalogLatency *prometheus.HistogramVec
	CacheHits      *prometheus.CounterVec

	// Mutator metrics
	PolicyConflictRetries prometheus.Counter

	// Token metrics
	TokenVerifications *prometheus.CounterVec

	// Notification metrics
	NotificationsSent *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors with the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		ActivationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "elevate_activations_total",
				Help: "Activations by type and outcome",
			},
			[]string{"type", "outcome"}, // outcome: granted, error
		),

		ActivationRoles: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "elevate_activation_roles",
				Help:    "Roles per activation request",
				Buckets: []float64{1, 2, 3, 5, 8, 10},
			},
		),

		CatalogLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "elevate_catalog_latency_seconds",
				Help:    "Latency of catalog operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"}, // list_projects, list_entitlements, list_reviewers
		),

		CacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "elevate_entitlement_cache_total",
				Help: "Entitlement cache lookups",
			},
			[]string{"result"}, // hit, miss
		),

		PolicyConflictRetries: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "elevate_policy_conflict_retries_total",
				Help: "Etag conflicts retried while writing IAM policies",
			},
		),

		TokenVerifications: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "elevate_token_verifications_total",
				Help: "Approval token verifications",
			},
			[]string{"outcome"}, // ok, invalid
		),

		NotificationsSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "elevate_notifications_total",
				Help: "Notification events handed to sinks",
			},
			[]string{"type", "outcome"},
		),
	}
}
