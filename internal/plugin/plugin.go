// Package plugin defines the contract between the kernel and the trusted
// in-process plugins, and the per-project manager that drives their
// lifecycle. All plugins are compiled into the binary and register a factory
// via init(); each project gets its own plugin instances.
package plugin

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/forgeline/gamekernel/internal/storage"
)

// Caller identifies the authenticated principal of a request. The kernel
// does not interpret it beyond the admin flag; plugins enforce their own
// ownership rules.
type Caller struct {
	UserID      string
	IsAdmin     bool
	DisplayName string
}

// Anonymous reports whether no credentials were presented.
func (c Caller) Anonymous() bool { return c.UserID == "" }

// Host is the project-scoped view handed to a plugin: the project's store,
// the plugin's settings from project configuration, and a tagged logger.
type Host struct {
	ProjectID string
	Plugin    string
	DB        *storage.Adapter
	Log       zerolog.Logger

	settings     map[string]any
	settingsJSON []byte
}

// NewHost builds a host for one plugin within one project.
func NewHost(projectID, pluginName string, db *storage.Adapter, settings map[string]any, log zerolog.Logger) *Host {
	raw, err := json.Marshal(settings)
	if err != nil || settings == nil {
		raw = []byte("{}")
	}
	return &Host{
		ProjectID:    projectID,
		Plugin:       pluginName,
		DB:           db,
		Log:          log.With().Str("project", projectID).Str("plugin", pluginName).Logger(),
		settings:     settings,
		settingsJSON: raw,
	}
}

// Setting resolves a dotted path inside the plugin's settings blob.
func (h *Host) Setting(path string) gjson.Result {
	return gjson.GetBytes(h.settingsJSON, path)
}

// Settings returns the raw settings map.
func (h *Host) Settings() map[string]any { return h.settings }

// RequestContext carries the per-request state a route handler needs.
type RequestContext struct {
	Caller Caller
	Params map[string]string
	Host   *Host
}

// HandlerFunc is a plugin route handler. Returned errors are mapped to the
// wire envelope by the router; a nil return means the handler wrote the
// response itself.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, rc *RequestContext) error

// Route declares one HTTP endpoint contributed by a plugin.
type Route struct {
	Method     string
	Path       string // must be namespaced under /plugins/{pluginName}/
	Handler    HandlerFunc
	Middleware []string // ordered; resolved at activation and frozen
	AdminOnly  bool
}

// ConfigOption documents one recognized settings key.
type ConfigOption struct {
	Type        string
	Default     any
	Description string
}

// Manifest is the static declaration of a plugin.
type Manifest struct {
	Name         string
	Version      string
	Dependencies []string
	Routes       []Route
	Schemas      []storage.Schema
	ConfigSchema map[string]ConfigOption
}

// Plugin is the capability set every plugin implements. Hooks run in
// lifecycle order; any error or panic marks the plugin Failed for that
// project without aborting project open.
type Plugin interface {
	Manifest() Manifest
	OnLoad(ctx context.Context, host *Host) error
	OnActivate(ctx context.Context, host *Host) error
	OnDeactivate(ctx context.Context, host *Host) error
	OnUnload(ctx context.Context, host *Host) error
}

// Base provides no-op lifecycle hooks for plugins that only need a subset.
type Base struct{}

func (Base) OnLoad(context.Context, *Host) error       { return nil }
func (Base) OnActivate(context.Context, *Host) error   { return nil }
func (Base) OnDeactivate(context.Context, *Host) error { return nil }
func (Base) OnUnload(context.Context, *Host) error     { return nil }
