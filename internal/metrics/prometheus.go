package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Message and job metrics
var (
	MessagesCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govnotify_messages_created_total",
			Help: "Total number of message creation attempts",
		},
		[]string{"result"}, // scheduled, rejected, failed
	)

	JobsClaimedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govnotify_jobs_claimed_total",
			Help: "Total number of job claim attempts",
		},
		[]string{"result"}, // claimed, not_found, in_progress, error
	)

	JobsFinalizedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govnotify_jobs_finalized_total",
			Help: "Total number of jobs reaching a terminal status",
		},
		[]string{"status"}, // delivered, failed
	)

	JobExecutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "govnotify_job_execution_duration_seconds",
			Help:    "Duration of job executions from claim to finalize",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Transport metrics
var (
	TransportSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govnotify_transport_sends_total",
			Help: "Total number of transport send attempts",
		},
		[]string{"type", "result"}, // result: sent, skipped, failed
	)

	TransportSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "govnotify_transport_send_duration_seconds",
			Help:    "Duration of transport send calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)
)

// Scheduler metrics
var (
	SchedulerCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govnotify_scheduler_calls_total",
			Help: "Total number of scheduler calls",
		},
		[]string{"backend", "result"},
	)

	RelayMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govnotify_relay_messages_total",
			Help: "Total number of scheduler relay messages handled",
		},
		[]string{"outcome"}, // delivered, deferred, rejected, retry
	)
)

// Event log metrics
var (
	EventBatchCommitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govnotify_event_batch_commits_total",
			Help: "Total number of event batch commits",
		},
		[]string{"result"}, // ok, error
	)

	EventsWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govnotify_events_written_total",
			Help: "Total number of events written by type",
		},
		[]string{"type"},
	)
)

// API metrics
var (
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govnotify_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "govnotify_api_request_duration_seconds",
			Help:    "Duration of API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Cache metrics
var (
	OrganisationCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govnotify_organisation_cache_total",
			Help: "Organisation cache lookups by result",
		},
		[]string{"result"}, // hit, miss, error
	)
)
