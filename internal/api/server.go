package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/apiwatch/apiwatch/internal/modsync"
	"github.com/apiwatch/apiwatch/internal/runner"
	"github.com/apiwatch/apiwatch/internal/storage"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Store is the read/annotate surface the handlers use
type Store interface {
	AllTenants() ([]storage.Tenant, error)
	GetTenant(id int) (*storage.Tenant, error)
	AllEndpoints() ([]storage.Endpoint, error)
	GetEndpoint(id int) (*storage.Endpoint, error)
	AllEnvironments() ([]storage.Environment, error)
	RecentResults(tenantID *int, limit int) ([]storage.TestResult, error)
	GetTestResult(id int) (*storage.TestResult, error)
	AnnotateTestResult(id int, annotation string) error
	TenantNotes(tenantID, limit int) ([]storage.TenantNote, error)
	ModuleStatuses(tenantID int) ([]storage.ModuleStatus, error)
}

// Runner triggers test runs
type Runner interface {
	RunEndpoint(ep *storage.Endpoint, env *storage.Environment) (bool, error)
	RunTenant(t *storage.Tenant) error
	RunAllEndpoints()
}

// Scheduler exposes the periodic-run controls
type Scheduler interface {
	RunNow()
	GetStats() map[string]interface{}
}

// Syncer handles module-version reconciliation
type Syncer interface {
	SyncRepoModules(t *storage.Tenant) (*modsync.Summary, error)
	RefreshSHAs(t *storage.Tenant) error
	CheckInstalledModules(t *storage.Tenant) error
}

// Advisor explains failed results
type Advisor interface {
	Explain(result *storage.TestResult) (string, error)
}

// Seeder reloads definition files
type Seeder interface {
	Load() error
}

// Server handles HTTP requests
type Server struct {
	store     Store
	runner    Runner
	scheduler Scheduler
	syncer    Syncer
	advisor   Advisor
	seeder    Seeder
	port      int
}

// Config contains server configuration
type Config struct {
	Store     Store
	Runner    Runner
	Scheduler Scheduler
	Syncer    Syncer
	Advisor   Advisor
	Seeder    Seeder
	Port      int
}

// NewServer creates a new HTTP server
func NewServer(config Config) *Server {
	return &Server{
		store:     config.Store,
		runner:    config.Runner,
		scheduler: config.Scheduler,
		syncer:    config.Syncer,
		advisor:   config.Advisor,
		seeder:    config.Seeder,
		port:      config.Port,
	}
}

// Router builds the HTTP routes
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/environments", s.handleEnvironments)
		r.Get("/endpoints", s.handleEndpoints)
		r.Get("/results", s.handleResults)
		r.Get("/stats", s.handleStats)

		r.Post("/run", s.handleRunAllTenants)
		r.Post("/run/endpoints", s.handleRunAllEndpoints)
		r.Post("/seed/reload", s.handleSeedReload)

		r.Post("/endpoints/{id}/run", s.handleRunEndpoint)
		r.Post("/results/{id}/explain", s.handleExplainResult)

		r.Route("/tenants", func(r chi.Router) {
			r.Get("/", s.handleTenants)
			r.Get("/{id}", s.handleTenant)
			r.Post("/{id}/run", s.handleRunTenant)
			r.Get("/{id}/notes", s.handleTenantNotes)
			r.Get("/{id}/modules", s.handleTenantModules)
			r.Post("/{id}/modules/sync", s.handleModuleSync)
			r.Post("/{id}/modules/check", s.handleModuleCheck)
			r.Post("/{id}/sha", s.handleRefreshSHAs)
		})
	})

	return r
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	log.Printf("Starting HTTP server on %s", addr)
	return http.ListenAndServe(addr, s.Router())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleEnvironments(w http.ResponseWriter, r *http.Request) {
	environments, err := s.store.AllEnvironments()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, environments)
}

func (s *Server) handleTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := s.store.AllTenants()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, tenants)
}

func (s *Server) handleTenant(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tenantFromURL(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleEndpoints(w http.ResponseWriter, r *http.Request) {
	endpoints, err := s.store.AllEndpoints()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, endpoints)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	var tenantID *int
	if raw := r.URL.Query().Get("tenant_id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "Invalid tenant_id", http.StatusBadRequest)
			return
		}
		tenantID = &id
	}

	// Default 50, max 200
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if l, err := strconv.Atoi(raw); err == nil {
			limit = l
			if limit > 200 {
				limit = 200
			}
		}
	}

	results, err := s.store.RecentResults(tenantID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.scheduler.GetStats())
}

func (s *Server) handleRunAllTenants(w http.ResponseWriter, r *http.Request) {
	s.scheduler.RunNow()
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "ok",
		"run_id":  uuid.New().String(),
		"message": "Fleet test run triggered",
	})
}

func (s *Server) handleRunAllEndpoints(w http.ResponseWriter, r *http.Request) {
	go s.runner.RunAllEndpoints()
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "ok",
		"run_id":  uuid.New().String(),
		"message": "Endpoint sweep triggered",
	})
}

func (s *Server) handleRunTenant(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tenantFromURL(w, r)
	if !ok {
		return
	}

	go func() {
		if err := s.runner.RunTenant(t); err != nil {
			log.Printf("Manual run for tenant %q failed: %v", t.Name, err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "ok",
		"message": fmt.Sprintf("Test run triggered for tenant %q", t.Name),
	})
}

func (s *Server) handleRunEndpoint(w http.ResponseWriter, r *http.Request) {
	ep, ok := s.endpointFromURL(w, r)
	if !ok {
		return
	}

	success, err := s.runner.RunEndpoint(ep, nil)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, runner.ErrNoDefaultEnvironment) {
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"endpoint": ep.Name,
		"success":  success,
	})
}

func (s *Server) handleTenantNotes(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tenantFromURL(w, r)
	if !ok {
		return
	}

	notes, err := s.store.TenantNotes(t.ID, 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

func (s *Server) handleTenantModules(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tenantFromURL(w, r)
	if !ok {
		return
	}

	statuses, err := s.store.ModuleStatuses(t.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) handleModuleSync(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tenantFromURL(w, r)
	if !ok {
		return
	}

	summary, err := s.syncer.SyncRepoModules(t)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleModuleCheck(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tenantFromURL(w, r)
	if !ok {
		return
	}

	if err := s.syncer.CheckInstalledModules(t); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRefreshSHAs(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tenantFromURL(w, r)
	if !ok {
		return
	}

	if err := s.syncer.RefreshSHAs(t); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleExplainResult(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid result id", http.StatusBadRequest)
		return
	}

	result, err := s.store.GetTestResult(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if result == nil {
		http.NotFound(w, r)
		return
	}
	if result.Success {
		http.Error(w, "Only failed results can be explained", http.StatusBadRequest)
		return
	}

	explanation, err := s.advisor.Explain(result)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}

	if err := s.store.AnnotateTestResult(result.ID, explanation); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"annotation": explanation})
}

func (s *Server) handleSeedReload(w http.ResponseWriter, r *http.Request) {
	if err := s.seeder.Load(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "Definitions reloaded"})
}

func (s *Server) tenantFromURL(w http.ResponseWriter, r *http.Request) (*storage.Tenant, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid tenant id", http.StatusBadRequest)
		return nil, false
	}

	t, err := s.store.GetTenant(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return nil, false
	}
	if t == nil {
		http.NotFound(w, r)
		return nil, false
	}

	return t, true
}

func (s *Server) endpointFromURL(w http.ResponseWriter, r *http.Request) (*storage.Endpoint, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid endpoint id", http.StatusBadRequest)
		return nil, false
	}

	ep, err := s.store.GetEndpoint(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return nil, false
	}
	if ep == nil {
		http.NotFound(w, r)
		return nil, false
	}

	return ep, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	http.Error(w, err.Error(), status)
}
