package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "appguard"
)

var (
	syncDurationBuckets = []float64{1, 2, 5, 10, 30, 60, 120, 300, 600, 1200}

	// Sync metrics
	SyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sync_duration_seconds",
		Help:      "Time taken for a provider discovery sync to complete.",
		Buckets:   syncDurationBuckets,
	}, []string{"provider", "tenant"})

	SyncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_runs_total",
		Help:      "Count of sync executions.",
	}, []string{"provider", "tenant", "status"})

	SyncSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_skipped_total",
		Help:      "Count of sync triggers skipped because a run was already in flight.",
	}, []string{"provider", "tenant"})

	SyncLastSuccessTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sync_last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last successful sync.",
	}, []string{"provider", "tenant"})

	// Discovery metrics
	AppsDiscoveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "apps_discovered_total",
		Help:      "Number of applications seen during discovery syncs.",
	}, []string{"provider"})

	ShadowAppsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "shadow_apps_total",
		Help:      "Number of unapproved applications flagged by the detector.",
	}, []string{"provider", "recommended_action"})

	// Offboarding metrics
	OffboardingRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "offboarding_requests_total",
		Help:      "Count of finished offboarding requests by final status.",
	}, []string{"status"})

	OffboardingTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "offboarding_tasks_total",
		Help:      "Count of executed offboarding tasks.",
	}, []string{"task_type", "status"})

	OffboardingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "offboarding_duration_seconds",
		Help:      "Time taken to execute a full offboarding request.",
		Buckets:   prometheus.DefBuckets,
	})

	// Revocation metrics
	RevocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "revocations_total",
		Help:      "Count of remote revocation attempts.",
	}, []string{"provider", "kind", "status"})

	// Event sink metrics
	EventsEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_emitted_total",
		Help:      "Count of events handed to the event sink.",
	}, []string{"event"})
)
