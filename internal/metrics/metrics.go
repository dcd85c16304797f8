// SPDX-License-Identifier: MIT

// Package metrics provides Prometheus metrics for the unshackle daemon.
// No high-cardinality labels: job ids and session ids never appear here.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsSubmittedTotal counts accepted download submissions by service tag.
	JobsSubmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unshackle_jobs_submitted_total",
		Help: "Total number of accepted download jobs, by service.",
	}, []string{"service"})

	// JobsFinishedTotal counts jobs reaching a terminal state.
	JobsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unshackle_jobs_finished_total",
		Help: "Total number of jobs reaching a terminal state, by outcome.",
	}, []string{"outcome"})

	// ActiveDownloads tracks the number of occupied scheduler slots.
	ActiveDownloads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "unshackle_active_downloads",
		Help: "Current number of downloads being executed.",
	})

	// QueuedJobs tracks the number of jobs waiting for a slot.
	QueuedJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "unshackle_queued_jobs",
		Help: "Current number of jobs waiting in the queue.",
	})

	// WorkerSpawnTotal counts worker subprocess spawns by result.
	WorkerSpawnTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unshackle_worker_spawn_total",
		Help: "Total number of worker subprocess spawns, by result (ok/error).",
	}, []string{"result"})

	// WorkerExitTotal counts worker exits by exit code category.
	WorkerExitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unshackle_worker_exit_total",
		Help: "Total number of worker subprocess exits, by exit code.",
	}, []string{"code"})

	// JobsSweptTotal counts jobs removed by the retention sweeper.
	JobsSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unshackle_jobs_swept_total",
		Help: "Total number of terminal jobs removed by the retention sweeper.",
	})

	// LicenseRequestsTotal counts remote license endpoint calls by outcome.
	LicenseRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unshackle_license_requests_total",
		Help: "Total number of remote DRM endpoint calls, by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	// VaultLookupsTotal counts key vault lookups by result.
	VaultLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unshackle_vault_lookups_total",
		Help: "Total number of local key vault lookups, by result (hit/miss/error).",
	}, []string{"result"})

	// HTTPRequestDuration observes API request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "unshackle_http_request_duration_seconds",
		Help:    "HTTP request duration by route and status class.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "status"})
)

// RecordJobSubmitted increments the submission counter.
func RecordJobSubmitted(service string) {
	JobsSubmittedTotal.WithLabelValues(service).Inc()
}

// RecordJobFinished increments the terminal-state counter.
// outcome: "completed", "failed" or "cancelled".
func RecordJobFinished(outcome string) {
	JobsFinishedTotal.WithLabelValues(outcome).Inc()
}

// RecordWorkerSpawn increments the spawn counter.
func RecordWorkerSpawn(result string) {
	WorkerSpawnTotal.WithLabelValues(result).Inc()
}

// RecordWorkerExit increments the exit counter.
func RecordWorkerExit(code string) {
	WorkerExitTotal.WithLabelValues(code).Inc()
}

// RecordLicenseRequest increments the license call counter.
func RecordLicenseRequest(endpoint, outcome string) {
	LicenseRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
}

// RecordVaultLookup increments the vault lookup counter.
func RecordVaultLookup(result string) {
	VaultLookupsTotal.WithLabelValues(result).Inc()
}
