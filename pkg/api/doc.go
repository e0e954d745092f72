/*
Package api implements ZipCase's Request API: the plain HTTP+JSON
surface external clients use to submit searches, poll status, and
manage portal credentials (spec §6.1).

# Architecture

	┌──────────────── CLIENT ────────────────┐
	│  Authorization: Bearer <userId token>   │
	└──────────────────┬──────────────────────┘
	                   │ HTTP/JSON
	┌──────────────────▼─────────── SERVICE ───────────────────┐
	│  ┌────────────────────────────────────────────┐          │
	│  │          api.Server (net/http ServeMux)     │          │
	│  │  - withAuth: extracts bearer token as userId │         │
	│  │  - per-route Prometheus instrumentation      │         │
	│  └──────────────────┬───────────────────────────┘         │
	│                     │                                      │
	│  ┌──────────────────▼───────────────────────────┐         │
	│  │          pipeline.Coordinator                 │         │
	│  │  - classifies input, mutates/enqueues         │         │
	│  └────────────────────────────────────────────────┘        │
	└─────────────────────────────────────────────────────────────┘

Signature verification of the bearer token happens upstream of this
service (an API gateway or auth proxy, per spec §6.1); the Server
trusts a presented token as the already-authenticated userId.

# Routes

  - POST /search: submit free-form input (spec §4.6 Ingest)
  - POST /status: read-only batch status poll
  - GET /case/{caseNumber}: submit+poll a single case
  - POST /name-search: start a party-name search (spec §4.8)
  - GET /name-search/{searchId}: poll a name search and its discovered cases
  - POST /portal-credentials: verify and save a user's portal login
  - GET /health, /ready, /live, /metrics: operational endpoints from pkg/metrics

# Status Codes

GET /case/{caseNumber} maps a recorded authentication failure onto
403 (no credentials on file) or 401 (credentials present but invalid)
rather than surfacing the generic 202/200 a successful submission
would return, so a client can tell "still working" from "needs new
credentials" without inspecting the message body.

# Instrumentation

Every route is wrapped once, in Server.handle, rather than
instrumented ad hoc per handler: it records zipcase_api_requests_total
and zipcase_api_request_duration_seconds labeled by route and status
class, matching the rest of this module's metrics (pkg/metrics).
*/
package api
