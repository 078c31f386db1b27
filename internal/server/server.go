// Package server exposes the operator HTTP surface.
//
// Routes:
//
//	GET  /health                      → store reachability
//	GET  /scheduler/status            → scheduler snapshot
//	POST /scheduler/start             → schedule the periodic jobs
//	POST /scheduler/stop              → cancel future ticks
//	POST /scheduler/run-all           → synchronous batch over active sources
//	POST /scheduler/run-all/async     → detached batch (202, or 200 if one runs)
//	GET  /scheduler/run-all/status    → detached batch status
//	POST /sources/{id}/run            → execute one source
//	POST /sources/sync-links          → forced link sync
//	POST /offers/purge-expired        → expiry sweep
//	GET  /ai/status                   → AI backend probe
//	GET  /metrics                     → Prometheus exposition
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pauljones0/tender-watch/internal/ai"
	"github.com/pauljones0/tender-watch/internal/models"
	"github.com/pauljones0/tender-watch/internal/scheduler"
)

// Scheduler is the scheduler surface the handlers drive.
type Scheduler interface {
	Start(ctx context.Context) bool
	Stop() bool
	Running() bool
	Status(ctx context.Context) scheduler.StatusSnapshot
	RunAllNow(ctx context.Context) (models.BatchSummary, error)
	RunAllAsync(ctx context.Context) (models.JobStatus, bool)
	JobStatus() models.JobStatus
}

type SourceRunner interface {
	ExecuteSource(ctx context.Context, sourceID string) models.RunSummary
}

type LinkSyncer interface {
	Sync(ctx context.Context, force bool) (models.SyncResult, error)
}

type ExpiryPurger interface {
	Purge(ctx context.Context) (models.PurgeResult, error)
}

type AIReporter interface {
	Status(ctx context.Context) ai.StatusReport
}

// Pinger reports store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps bundles the components behind the routes. A nil Gatherer serves the
// default Prometheus registry.
type Deps struct {
	Scheduler Scheduler
	Runner    SourceRunner
	Links     LinkSyncer
	Purger    ExpiryPurger
	AI        AIReporter
	Store     Pinger
	Gatherer  prometheus.Gatherer
}

type Server struct {
	deps Deps
	// base outlives requests; the scheduler started over HTTP runs under it.
	base context.Context
}

func New(base context.Context, deps Deps) *Server {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{deps: deps, base: base}
}

// Handler returns the routed mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// RegisterRoutes mounts every operator route on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /scheduler/status", s.handleSchedulerStatus)
	mux.HandleFunc("POST /scheduler/start", s.handleSchedulerStart)
	mux.HandleFunc("POST /scheduler/stop", s.handleSchedulerStop)
	mux.HandleFunc("POST /scheduler/run-all", s.handleRunAll)
	mux.HandleFunc("POST /scheduler/run-all/async", s.handleRunAllAsync)
	mux.HandleFunc("GET /scheduler/run-all/status", s.handleRunAllStatus)
	mux.HandleFunc("POST /sources/sync-links", s.handleSyncLinks)
	mux.HandleFunc("POST /sources/{id}/run", s.handleRunSource)
	mux.HandleFunc("POST /offers/purge-expired", s.handlePurge)
	mux.HandleFunc("GET /ai/status", s.handleAIStatus)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
}

type healthResponse struct {
	Status           string `json:"status"`
	SchedulerRunning bool   `json:"schedulerRunning"`
	Error            string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", SchedulerRunning: s.deps.Scheduler.Running()}
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		slog.Warn("Health check failed", "error", err)
		resp.Status = "degraded"
		resp.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Scheduler.Status(r.Context()))
}

type toggleResponse struct {
	Changed bool `json:"changed"`
	Running bool `json:"running"`
}

func (s *Server) handleSchedulerStart(w http.ResponseWriter, _ *http.Request) {
	changed := s.deps.Scheduler.Start(s.base)
	writeJSON(w, http.StatusOK, toggleResponse{Changed: changed, Running: s.deps.Scheduler.Running()})
}

func (s *Server) handleSchedulerStop(w http.ResponseWriter, _ *http.Request) {
	changed := s.deps.Scheduler.Stop()
	writeJSON(w, http.StatusOK, toggleResponse{Changed: changed, Running: s.deps.Scheduler.Running()})
}

func (s *Server) handleRunAll(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.Scheduler.RunAllNow(r.Context())
	if err != nil {
		slog.Error("Manual batch failed", "error", err)
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type asyncResponse struct {
	Accepted bool             `json:"accepted"`
	Message  string           `json:"message"`
	Job      models.JobStatus `json:"job"`
}

func (s *Server) handleRunAllAsync(w http.ResponseWriter, r *http.Request) {
	st, accepted := s.deps.Scheduler.RunAllAsync(r.Context())
	if !accepted {
		writeJSON(w, http.StatusOK, asyncResponse{Message: "a batch is already running", Job: st})
		return
	}
	writeJSON(w, http.StatusAccepted, asyncResponse{Accepted: true, Message: "batch started", Job: st})
}

func (s *Server) handleRunAllStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Scheduler.JobStatus())
}

func (s *Server) handleRunSource(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	summary := s.deps.Runner.ExecuteSource(r.Context(), id)
	code := http.StatusOK
	if summary.Status == models.RunStatusNotFound {
		code = http.StatusNotFound
	}
	writeJSON(w, code, summary)
}

func (s *Server) handleSyncLinks(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Links.Sync(r.Context(), true)
	if err != nil {
		slog.Error("Manual link sync failed", "error", err)
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Purger.Purge(r.Context())
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAIStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.AI.Status(r.Context()))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
