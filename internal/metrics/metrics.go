// Package metrics defines Prometheus metrics for tenantwatch.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tenantwatch_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantwatch_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantwatch_errors_total",
			Help: "Total errors by type",
		},
		[]string{"type"},
	)

	SyncRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantwatch_sync_runs_total",
			Help: "Finished sync runs by job type and final status",
		},
		[]string{"job_type", "status"},
	)

	SyncRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tenantwatch_sync_run_duration_seconds",
			Help:    "Sync run wall time in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"job_type"},
	)

	SyncRecordsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantwatch_sync_records_processed_total",
			Help: "Snapshot records upserted by job type",
		},
		[]string{"job_type"},
	)

	SyncRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tenantwatch_sync_running",
			Help: "Sync runs currently executing",
		},
		[]string{"job_type"},
	)

	SyncCoalescedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantwatch_sync_coalesced_total",
			Help: "Triggers coalesced into an in-flight run",
		},
		[]string{"job_type"},
	)

	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantwatch_upstream_requests_total",
			Help: "Upstream API page requests by service and outcome",
		},
		[]string{"service", "outcome"},
	)

	LimiterWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tenantwatch_rate_limiter_wait_seconds",
			Help:    "Time spent waiting for a rate limiter token",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"service"},
	)

	BreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantwatch_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions by service and target state",
		},
		[]string{"service", "state"},
	)

	BreakerRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantwatch_circuit_breaker_rejections_total",
			Help: "Calls rejected by an open circuit",
		},
		[]string{"service"},
	)

	CredentialResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantwatch_credential_resolutions_total",
			Help: "Credential resolutions by source (cache, secret_store, registration, delegated, none)",
		},
		[]string{"source"},
	)

	CacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantwatch_cache_requests_total",
			Help: "Aggregate cache lookups by domain and result",
		},
		[]string{"domain", "result"},
	)

	AnomaliesDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenantwatch_anomalies_detected_total",
			Help: "Cost anomalies recorded",
		},
	)

	AlertsRaisedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantwatch_alerts_raised_total",
			Help: "Alerts raised by source",
		},
		[]string{"source"},
	)

	ActiveTenants = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tenantwatch_active_tenants",
			Help: "Active tenants at the last stats read",
		},
	)

	OpenAnomalies = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tenantwatch_open_anomalies",
			Help: "Unacknowledged anomalies at the last stats read",
		},
	)

	OpenAlerts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tenantwatch_open_alerts",
			Help: "Unresolved alerts at the last stats read",
		},
	)

	AuditQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tenantwatch_audit_queue_depth",
			Help: "Current audit queue depth",
		},
	)

	EventStreamClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tenantwatch_event_stream_clients",
			Help: "Connected event stream clients",
		},
	)

	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantwatch_events_published_total",
			Help: "Events published to the stream by type",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestDuration, RequestsTotal, ErrorsTotal,
		SyncRunsTotal, SyncRunDuration, SyncRecordsProcessed, SyncRunning, SyncCoalescedTotal,
		UpstreamRequestsTotal, LimiterWaitSeconds,
		BreakerTransitionsTotal, BreakerRejectionsTotal,
		CredentialResolutionsTotal, CacheRequestsTotal,
		AnomaliesDetectedTotal, AlertsRaisedTotal,
		ActiveTenants, OpenAnomalies, OpenAlerts, AuditQueueDepth,
		EventStreamClients, EventsPublishedTotal,
	)
}
