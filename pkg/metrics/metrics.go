package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zipcase_api_requests_total",
			Help: "Total number of Request API calls by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zipcase_api_request_duration_seconds",
			Help:    "Request API latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Pipeline coordinator metrics
	IngestActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zipcase_ingest_actions_total",
			Help: "Total number of cases classified by the pipeline coordinator, by action",
		},
		[]string{"action"},
	)

	// Queue metrics
	QueueMessagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zipcase_queue_messages_sent_total",
			Help: "Total number of messages enqueued, by queue",
		},
		[]string{"queue"},
	)

	QueueMessagesReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zipcase_queue_messages_received_total",
			Help: "Total number of messages received by a worker, by queue",
		},
		[]string{"queue"},
	)

	// Case fetch-status transition metrics
	CaseStatusTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zipcase_case_status_transitions_total",
			Help: "Total number of ZipCase.fetchStatus transitions, by resulting status",
		},
		[]string{"status"},
	)

	// Portal Session Manager metrics
	PortalAuthAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zipcase_portal_auth_attempts_total",
			Help: "Total number of WS-Federation handshake attempts, by outcome",
		},
		[]string{"outcome"},
	)

	PortalAuthDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zipcase_portal_auth_duration_seconds",
			Help:    "WS-Federation handshake duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	WAFChallengesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zipcase_waf_challenges_total",
			Help: "Total number of WAF interstitials encountered during the handshake, by outcome",
		},
		[]string{"outcome"},
	)

	// Worker metrics
	StageDurations = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zipcase_stage_duration_seconds",
			Help:    "Time spent processing one message, by stage",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	StageErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zipcase_stage_errors_total",
			Help: "Total number of worker-stage failures, by stage",
		},
		[]string{"stage"},
	)

	SummaryReprocessTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zipcase_summary_reprocess_total",
			Help: "Total number of corrupt-summary reprocessing dispatches (spec §4.5.1)",
		},
	)
)

func init() {
	prometheus.MustRegister(
		APIRequestsTotal,
		APIRequestDuration,
		IngestActionsTotal,
		QueueMessagesSentTotal,
		QueueMessagesReceivedTotal,
		CaseStatusTransitionsTotal,
		PortalAuthAttemptsTotal,
		PortalAuthDuration,
		WAFChallengesTotal,
		StageDurations,
		StageErrorsTotal,
		SummaryReprocessTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
