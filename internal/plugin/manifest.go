package plugin

import (
	"regexp"
	"strings"

	"github.com/forgeline/gamekernel/internal/apperr"
)

// ReservedPrefixes are URL prefixes plugins may not register under. Plugin
// routes live beneath /plugins/{name}/ and are mounted by the kernel.
var ReservedPrefixes = []string{"/auth", "/admin/api", "/api/project", "/healthz"}

var (
	namePattern    = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)
	allowedMethods = map[string]bool{
		"GET": true, "POST": true, "PUT": true, "DELETE": true, "PATCH": true,
	}
	knownMiddleware = map[string]bool{"auth": true}
)

// ValidateManifest checks a manifest's shape before registration.
func ValidateManifest(m Manifest) error {
	if !namePattern.MatchString(m.Name) {
		return apperr.BadRequest("plugin name %q is invalid", m.Name)
	}
	if strings.TrimSpace(m.Version) == "" {
		return apperr.BadRequest("plugin %s: version is required", m.Name)
	}
	for _, dep := range m.Dependencies {
		if dep == m.Name {
			return apperr.BadRequest("plugin %s depends on itself", m.Name)
		}
	}

	seen := make(map[string]bool, len(m.Routes))
	for _, route := range m.Routes {
		method := strings.ToUpper(route.Method)
		if !allowedMethods[method] {
			return apperr.BadRequest("plugin %s: unsupported method %q", m.Name, route.Method)
		}
		if route.Handler == nil {
			return apperr.BadRequest("plugin %s: route %s %s has no handler", m.Name, route.Method, route.Path)
		}
		for _, reserved := range ReservedPrefixes {
			if strings.HasPrefix(route.Path, reserved) {
				return apperr.BadRequest("plugin %s: route %s is under reserved prefix %s", m.Name, route.Path, reserved)
			}
		}
		if !strings.HasPrefix(route.Path, "/plugins/") {
			return apperr.BadRequest("plugin %s: route %s must be namespaced under /plugins/", m.Name, route.Path)
		}
		for _, mw := range route.Middleware {
			if !knownMiddleware[mw] {
				return apperr.BadRequest("plugin %s: unknown middleware %q on %s %s", m.Name, mw, route.Method, route.Path)
			}
		}
		key := method + " " + NormalizePath(route.Path)
		if seen[key] {
			return apperr.Conflict("plugin %s declares duplicate route %s", m.Name, key)
		}
		seen[key] = true
	}

	for _, s := range m.Schemas {
		if strings.TrimSpace(s.Table) == "" || strings.TrimSpace(s.Definition) == "" {
			return apperr.BadRequest("plugin %s: schema entries need table and definition", m.Name)
		}
		if !strings.HasPrefix(s.Table, "plugin_"+m.Name+"_") {
			return apperr.BadRequest("plugin %s: table %q must follow plugin_%s_* naming", m.Name, s.Table, m.Name)
		}
	}
	return nil
}
