package api

import (
	"context"
	"net/http"
	"time"

	"github.com/CodeWithAsheville/zipcase/pkg/casestore"
	"github.com/CodeWithAsheville/zipcase/pkg/metrics"
	"github.com/CodeWithAsheville/zipcase/pkg/pipeline"
	"github.com/CodeWithAsheville/zipcase/pkg/portal/session"
)

// Server is the ZipCase Request API (spec §6.1): a plain net/http
// server in front of the pipeline Coordinator, instrumented the way
// the rest of this module is instrumented, through pkg/metrics rather
// than a bespoke interceptor.
type Server struct {
	coordinator *pipeline.Coordinator
	store       *casestore.Store
	sessionMgr  *session.Manager
	mux         *http.ServeMux
	httpServer  *http.Server
}

// NewServer builds a Server and registers its routes.
func NewServer(coordinator *pipeline.Coordinator, store *casestore.Store, sessionMgr *session.Manager) *Server {
	s := &Server{
		coordinator: coordinator,
		store:       store,
		sessionMgr:  sessionMgr,
		mux:         http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.handle("POST /search", s.handleSearch)
	s.handle("POST /status", s.handleStatus)
	s.handle("GET /case/{caseNumber}", s.handleGetCase)
	s.handle("POST /name-search", s.handleNameSearch)
	s.handle("GET /name-search/{searchId}", s.handleGetNameSearch)
	s.handle("POST /portal-credentials", s.handlePortalCredentials)

	s.mux.HandleFunc("GET /health", metrics.HealthHandler())
	s.mux.HandleFunc("GET /ready", metrics.ReadyHandler())
	s.mux.HandleFunc("GET /live", metrics.LivenessHandler())
	s.mux.Handle("GET /metrics", metrics.Handler())
}

// handle wires an authenticated route and wraps it with the same
// per-route request-count/duration instrumentation every pipeline
// stage reports through, keyed by the route pattern rather than the
// raw path so cardinality stays bounded.
func (s *Server) handle(pattern string, fn http.HandlerFunc) {
	route := pattern
	if i := indexOfSpace(pattern); i >= 0 {
		route = pattern[i+1:]
	}
	instrumented := func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		withAuth(fn)(rec, r)
		metrics.APIRequestsTotal.WithLabelValues(route, statusClass(rec.status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(route).Observe(timer.Duration().Seconds())
	}
	s.mux.HandleFunc(pattern, instrumented)
}

func indexOfSpace(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' {
			return i
		}
	}
	return -1
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// statusRecorder captures the status code an inner handler wrote, so
// the instrumentation wrapper can report it without every handler
// threading a code back up manually.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start runs the server until ctx is canceled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 20 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
