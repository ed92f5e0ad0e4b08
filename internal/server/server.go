// Package server is the HTTP front end of the kernel: the mux shell, the
// project-scoped plugin dispatch path, the saves endpoints, and the admin
// API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/forgeline/gamekernel/internal/audit"
	"github.com/forgeline/gamekernel/internal/config"
	"github.com/forgeline/gamekernel/internal/httpx"
	"github.com/forgeline/gamekernel/internal/metrics"
	"github.com/forgeline/gamekernel/internal/middleware"
	"github.com/forgeline/gamekernel/internal/project"
)

// Server hosts the kernel's HTTP surface.
type Server struct {
	cfg      *config.Config
	projects *project.Manager
	audit    *audit.Logger
	log      zerolog.Logger
	limiter  *middleware.RateLimiter
	http     *http.Server
}

// New wires the full router.
func New(cfg *config.Config, projects *project.Manager, auditLog *audit.Logger, log zerolog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		projects: projects,
		audit:    auditLog,
		log:      log.With().Str("component", "server").Logger(),
		limiter:  middleware.NewRateLimiter(50, 100),
	}
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the HTTP handler tree. Exposed for tests.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	admin := r.PathPrefix("/admin/api").Subrouter()
	admin.Use(func(next http.Handler) http.Handler { return middleware.RequireAdmin(next) })
	admin.HandleFunc("/projects", s.handleListProjects).Methods(http.MethodGet)
	admin.HandleFunc("/projects", s.handleCreateProject).Methods(http.MethodPost)
	admin.HandleFunc("/projects/{id}", s.handleGetProject).Methods(http.MethodGet)
	admin.HandleFunc("/projects/{id}", s.handleDeleteProject).Methods(http.MethodDelete)
	admin.HandleFunc("/audit", s.handleAuditList).Methods(http.MethodGet)
	admin.HandleFunc("/plugins", s.handleListPlugins).Methods(http.MethodGet)
	admin.HandleFunc("/plugins/{name}/enable", s.handleEnablePlugin).Methods(http.MethodPost)
	admin.HandleFunc("/plugins/{name}/disable", s.handleDisablePlugin).Methods(http.MethodPost)
	admin.PathPrefix("/plugins/").HandlerFunc(s.handleAdminPluginRoute)

	scoped := r.PathPrefix("/api/project/{projectID}").Subrouter()
	scoped.HandleFunc("/save/{saveID}", s.handleSave).Methods(http.MethodPut, http.MethodGet, http.MethodDelete)
	scoped.PathPrefix("/").HandlerFunc(s.handleProjectRoute)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/save/{saveID}", s.handleSave).Methods(http.MethodPut, http.MethodGet, http.MethodDelete)
	api.PathPrefix("/").HandlerFunc(s.handleDefaultRoute)

	var h http.Handler = r
	h = s.limiter.Handler(h)
	h = middleware.Authenticate(s.cfg.Auth.JWTSecret)(h)
	h = middleware.Timeout(s.cfg.Server.RequestTimeout())(h)
	h = metrics.InstrumentHandler(h)
	h = middleware.Logging(s.log)(h)
	h = middleware.CORS(h)
	h = middleware.RequestID(h)
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"projectsLoaded": s.projects.LoadedCount(),
	})
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Server.Port).Msg("listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then closes every loaded project.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.projects.CloseAll(ctx)
	s.audit.Flush()
	return err
}
