package server

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/forgeline/gamekernel/internal/audit"
	"github.com/forgeline/gamekernel/internal/httpx"
	"github.com/forgeline/gamekernel/internal/middleware"
	"github.com/forgeline/gamekernel/internal/plugin"
	"github.com/forgeline/gamekernel/internal/project"
)

// record writes an audit entry into the project's store. Fire-and-forget.
func (s *Server) record(r *http.Request, pc *project.Context, pluginName, action string, details any, success bool) {
	if pc == nil {
		return
	}
	s.audit.Record(pc.DB, audit.Entry{
		Plugin:    pluginName,
		Action:    action,
		Details:   details,
		AdminUser: middleware.CallerFrom(r.Context()).UserID,
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
		Success:   success,
	})
}

type projectSummary struct {
	project.Declaration
	Loaded bool `json:"loaded"`
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	decls, err := s.projects.Declarations(r.Context())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	out := make([]projectSummary, 0, len(decls))
	for _, d := range decls {
		out = append(out, projectSummary{
			Declaration: d,
			Loaded:      s.projects.Get(d.ID) != nil,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"projects": out})
}

type createProjectReq struct {
	ID           string                    `json:"id"`
	Name         string                    `json:"name"`
	Description  string                    `json:"description"`
	PluginList   []string                  `json:"pluginList"`
	Settings     map[string]map[string]any `json:"pluginSettings"`
	AutoDiscover *bool                     `json:"autoDiscover"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectReq
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	decl := project.Declaration{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		PluginList:  req.PluginList,
		Settings:    req.Settings,
	}
	if req.AutoDiscover != nil {
		decl.AutoDiscover = *req.AutoDiscover
	}

	pc, err := s.projects.Create(r.Context(), decl)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	s.record(r, pc, "", "project.create", map[string]any{"projectId": pc.ID()}, true)
	httpx.WriteJSON(w, http.StatusCreated, projectSummary{Declaration: pc.Decl, Loaded: true})
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	pc, err := s.acquireProject(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, classify(err))
		return
	}
	defer pc.Release()

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"project":      projectSummary{Declaration: pc.Decl, Loaded: true},
		"plugins":      pc.Plugins.Statuses(),
		"lastAccessed": pc.LastAccessed(),
	})
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	pc := s.projects.Get(id)

	if err := s.projects.Deletable(r.Context(), id); err != nil {
		s.record(r, pc, "", "project.delete", map[string]any{"projectId": id}, false)
		httpx.WriteError(w, err)
		return
	}

	// The audit record goes to the doomed project's store before teardown so
	// the trail survives in the database file, which deletion leaves behind.
	if pc != nil {
		s.record(r, pc, "", "project.delete", map[string]any{"projectId": id}, true)
		s.audit.Flush()
	}

	if err := s.projects.Delete(r.Context(), id); err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project")
	if projectID == "" {
		projectID = s.cfg.Server.DefaultProject
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	pc, err := s.acquireProject(r.Context(), projectID)
	if err != nil {
		httpx.WriteError(w, classify(err))
		return
	}
	defer pc.Release()

	rows, err := audit.List(r.Context(), pc.DB, limit)
	if err != nil {
		httpx.WriteError(w, classify(err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"projectId": projectID,
		"entries":   rows,
	})
}

type pluginInfo struct {
	Name         string         `json:"name"`
	Version      string         `json:"version"`
	Dependencies []string       `json:"dependencies,omitempty"`
	State        plugin.State   `json:"state,omitempty"`
	Failure      string         `json:"failure,omitempty"`
	Routes       int            `json:"routes"`
	ConfigSchema map[string]any `json:"configSchema,omitempty"`
}

// handleListPlugins lists every compiled-in plugin. With ?project= the
// listing carries that project's lifecycle states.
func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	var states map[string]plugin.Status
	projectID := r.URL.Query().Get("project")
	if projectID != "" {
		pc, err := s.acquireProject(r.Context(), projectID)
		if err != nil {
			httpx.WriteError(w, classify(err))
			return
		}
		defer pc.Release()
		states = make(map[string]plugin.Status)
		for _, st := range pc.Plugins.Statuses() {
			states[st.Name] = st
		}
	}

	var out []pluginInfo
	for _, name := range plugin.Registered() {
		m, _ := plugin.ManifestOf(name)
		info := pluginInfo{
			Name:         m.Name,
			Version:      m.Version,
			Dependencies: m.Dependencies,
			Routes:       len(m.Routes),
		}
		if len(m.ConfigSchema) > 0 {
			info.ConfigSchema = make(map[string]any, len(m.ConfigSchema))
			for key, opt := range m.ConfigSchema {
				info.ConfigSchema[key] = map[string]any{
					"type":        opt.Type,
					"default":     opt.Default,
					"description": opt.Description,
				}
			}
		}
		if st, ok := states[name]; ok {
			info.State = st.State
			info.Failure = st.Failure
		}
		out = append(out, info)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"plugins": out})
}

// handleEnablePlugin activates a plugin on a loaded project.
func (s *Server) handleEnablePlugin(w http.ResponseWriter, r *http.Request) {
	s.togglePlugin(w, r, true)
}

// handleDisablePlugin deactivates a plugin on a loaded project. Dependent
// active plugins block the transition.
func (s *Server) handleDisablePlugin(w http.ResponseWriter, r *http.Request) {
	s.togglePlugin(w, r, false)
}

func (s *Server) togglePlugin(w http.ResponseWriter, r *http.Request, enable bool) {
	name := mux.Vars(r)["name"]
	projectID := r.URL.Query().Get("project")
	if projectID == "" {
		projectID = s.cfg.Server.DefaultProject
	}

	pc, err := s.acquireProject(r.Context(), projectID)
	if err != nil {
		httpx.WriteError(w, classify(err))
		return
	}
	defer pc.Release()

	action := "plugin.disable"
	if enable {
		action = "plugin.enable"
		state, _ := pc.Plugins.StateOf(name)
		if state == plugin.StateDisabled {
			err = pc.Plugins.Enable(name)
		}
		if err == nil {
			if state, _ = pc.Plugins.StateOf(name); state == plugin.StateRegistered {
				err = pc.Plugins.Load(r.Context(), name)
			}
		}
		if err == nil {
			err = pc.Plugins.Activate(r.Context(), name)
		}
	} else {
		err = pc.Plugins.Deactivate(r.Context(), name)
	}

	s.record(r, pc, name, action, map[string]any{"projectId": projectID}, err == nil)
	if err != nil {
		httpx.WriteError(w, classify(err))
		return
	}
	state, _ := pc.Plugins.StateOf(name)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"plugin":    name,
		"projectId": projectID,
		"state":     state,
	})
}
