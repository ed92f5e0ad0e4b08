package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/forgeline/gamekernel/internal/apperr"
	"github.com/forgeline/gamekernel/internal/httpx"
	"github.com/forgeline/gamekernel/internal/middleware"
	"github.com/forgeline/gamekernel/internal/plugin"
	"github.com/forgeline/gamekernel/internal/project"
)

// handleProjectRoute serves /api/project/{projectID}/plugins/... for the
// named project.
func (s *Server) handleProjectRoute(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["projectID"]
	rest := strings.TrimPrefix(r.URL.Path, "/api/project/"+projectID)
	s.dispatch(w, r, projectID, rest, false)
}

// handleDefaultRoute serves /api/plugins/... against the default project.
func (s *Server) handleDefaultRoute(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api")
	s.dispatch(w, r, s.cfg.Server.DefaultProject, rest, false)
}

// handleAdminPluginRoute serves /admin/api/plugins/... — the surface for
// routes marked admin-only. The target project comes from the "project"
// query parameter or X-Project-ID header, defaulting to the default project.
func (s *Server) handleAdminPluginRoute(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project")
	if projectID == "" {
		projectID = r.Header.Get("X-Project-ID")
	}
	if projectID == "" {
		projectID = s.cfg.Server.DefaultProject
	}
	rest := strings.TrimPrefix(r.URL.Path, "/admin/api")
	s.dispatch(w, r, projectID, rest, true)
}

// acquireProject loads (or re-loads) a project context and pins it for the
// request. A context caught mid-eviction is loaded again once.
func (s *Server) acquireProject(ctx context.Context, projectID string) (*project.Context, error) {
	for attempt := 0; attempt < 2; attempt++ {
		pc, err := s.projects.Load(ctx, projectID)
		if err != nil {
			return nil, err
		}
		pc.Touch()
		if pc.Acquire() {
			return pc, nil
		}
	}
	return nil, apperr.Internal("project %s is shutting down", projectID)
}

// dispatch resolves the project, matches the plugin route table, runs the
// declared middleware, and invokes the handler. adminSurface permits routes
// marked admin-only; the project surface hides them entirely.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, projectID, rest string, adminSurface bool) {
	pc, err := s.acquireProject(r.Context(), projectID)
	if err != nil {
		httpx.WriteError(w, classify(err))
		return
	}
	defer pc.Release()

	match, err := pc.Plugins.Match(r.Method, rest)
	if err != nil {
		httpx.WriteError(w, classify(err))
		return
	}
	if match.AdminOnly && !adminSurface {
		httpx.WriteError(w, apperr.NotFound("routeNotFound"))
		return
	}

	caller := middleware.CallerFrom(r.Context())
	for _, name := range match.Middleware {
		if name == "auth" && caller.Anonymous() {
			httpx.WriteError(w, apperr.Unauthenticated("authentication required"))
			return
		}
	}
	if match.AdminOnly && !caller.IsAdmin {
		httpx.WriteError(w, apperr.Forbidden("admin access required"))
		return
	}

	host, ok := pc.Plugins.Host(match.Plugin)
	if !ok {
		httpx.WriteError(w, apperr.InvalidState("plugin %s is not active", match.Plugin))
		return
	}

	rc := &plugin.RequestContext{Caller: caller, Params: match.Params, Host: host}
	if err := match.Handler(w, r, rc); err != nil {
		httpx.WriteError(w, classify(err))
	}
}

// classify maps context expiry to the timeout kind; typed errors pass
// through.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		var appErr *apperr.Error
		if !errors.As(err, &appErr) {
			return apperr.Timeout("request deadline exceeded").Wrap(err)
		}
	}
	return err
}
