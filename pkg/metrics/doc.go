/*
Package metrics provides Prometheus metrics collection and exposition
for ZipCase's pipeline. The Request API and the two stage workers record
into the catalog below; the workers also record the queue send/receive
counters. The ingest-action, summary-reprocess, portal-auth and WAF
series are registered and exported, but nothing in this codebase
increments them. Metrics are exposed via an HTTP endpoint for scraping
by Prometheus servers.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  API: request count, duration               │          │
	│  │  Coordinator: ingest classification actions │          │
	│  │  Queue: messages sent / received            │          │
	│  │  Case: fetchStatus transitions               │          │
	│  │  Session: auth attempts, duration, WAF       │          │
	│  │  Workers: stage duration, stage errors       │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Metrics Catalog

API:

zipcase_api_requests_total{route, status}:
  - Type: Counter
  - Description: Total Request API calls by route and status class
  - Example: zipcase_api_requests_total{route="/search",status="2xx"} 100

zipcase_api_request_duration_seconds{route}:
  - Type: Histogram
  - Description: Request API latency in seconds, by route
  - Buckets: prometheus.DefBuckets

Pipeline Coordinator:

zipcase_ingest_actions_total{action}:
  - Type: Counter
  - Description: Cases classified by the Ingest path, by resulting
    action (e.g. "enqueueStage1", "enqueueStage2", "none")

Queue Adapter:

zipcase_queue_messages_sent_total{queue}:
  - Type: Counter
  - Description: Messages enqueued, by queue name ("search"/"data")

zipcase_queue_messages_received_total{queue}:
  - Type: Counter
  - Description: Messages received by a worker, by queue name

Case State Store:

zipcase_case_status_transitions_total{status}:
  - Type: Counter
  - Description: ZipCase.fetchStatus transitions, by resulting status

zipcase_summary_reprocess_total:
  - Type: Counter
  - Description: Corrupt-summary reprocessing dispatches (spec §4.5.1)

Portal Session Manager:

zipcase_portal_auth_attempts_total{outcome}:
  - Type: Counter
  - Description: WS-Federation handshake attempts, by outcome
    ("success"/"invalid_credentials"/"system_error")

zipcase_portal_auth_duration_seconds:
  - Type: Histogram
  - Description: WS-Federation handshake duration in seconds
  - Buckets: prometheus.DefBuckets

zipcase_waf_challenges_total{outcome}:
  - Type: Counter
  - Description: WAF interstitials encountered during the handshake,
    by outcome ("solved"/"failed")

Workers (search and data):

zipcase_stage_duration_seconds{stage}:
  - Type: Histogram
  - Description: Time spent processing one message, by stage
    ("search"/"data")
  - Buckets: prometheus.DefBuckets

zipcase_stage_errors_total{stage}:
  - Type: Counter
  - Description: Worker-stage failures, by stage

# Usage

	import "github.com/CodeWithAsheville/zipcase/pkg/metrics"

	metrics.CaseStatusTransitionsTotal.WithLabelValues("found").Inc()

	timer := metrics.NewTimer()
	// ... process a stage-1 message ...
	timer.ObserveDurationVec(metrics.StageDurations, "search")

	http.Handle("/metrics", metrics.Handler())

# Design Patterns

Package Init Registration:
  - All metrics registered in init() via prometheus.MustRegister
  - No runtime registration needed by callers

Label Discipline:
  - Labels are bounded enums (route, status class, queue name, stage,
    outcome) — never case numbers, user IDs, or other unbounded values

Timer Pattern:
  - NewTimer() at the start of an operation
  - ObserveDuration/ObserveDurationVec records elapsed time on success
    or failure alike, so error paths are represented in the histogram
*/
package metrics
