package plugin

import (
	"strings"
	"sync/atomic"

	"github.com/forgeline/gamekernel/internal/apperr"
)

// routeEntry is one installed route with its match pattern pre-split.
type routeEntry struct {
	Plugin     string
	Method     string
	Pattern    string
	segments   []string
	Handler    HandlerFunc
	Middleware []string
	AdminOnly  bool
}

// Match is the result of a route table lookup.
type Match struct {
	Plugin     string
	Pattern    string
	Handler    HandlerFunc
	Middleware []string
	AdminOnly  bool
	Params     map[string]string
}

// routeSet is an immutable snapshot of the installed routes.
type routeSet struct {
	byMethod map[string][]routeEntry
}

// routeTable is the copy-on-write table of plugin routes for one project.
// Lookups read an atomic snapshot; installs and removals (rare) rebuild it.
type routeTable struct {
	snapshot atomic.Pointer[routeSet]
}

func newRouteTable() *routeTable {
	t := &routeTable{}
	t.snapshot.Store(&routeSet{byMethod: map[string][]routeEntry{}})
	return t
}

// NormalizePath lowercases nothing (paths are case-sensitive) but guarantees
// a single leading slash and no trailing slash except the root.
func NormalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	for len(path) > 1 && strings.HasSuffix(path, "/") {
		path = path[:len(path)-1]
	}
	return path
}

func splitSegments(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// install adds all routes atomically, rejecting the whole batch when any
// (method, path) collides with an installed route.
func (t *routeTable) install(pluginName string, routes []Route) error {
	current := t.snapshot.Load()

	next := &routeSet{byMethod: make(map[string][]routeEntry, len(current.byMethod))}
	for method, entries := range current.byMethod {
		next.byMethod[method] = append([]routeEntry(nil), entries...)
	}

	for _, route := range routes {
		method := strings.ToUpper(route.Method)
		pattern := NormalizePath(route.Path)
		for _, existing := range next.byMethod[method] {
			if existing.Pattern == pattern {
				return apperr.Conflict("route %s %s already registered by plugin %s", method, pattern, existing.Plugin).
					WithDetails("method", method).
					WithDetails("path", pattern)
			}
		}
		next.byMethod[method] = append(next.byMethod[method], routeEntry{
			Plugin:     pluginName,
			Method:     method,
			Pattern:    pattern,
			segments:   splitSegments(pattern),
			Handler:    route.Handler,
			Middleware: append([]string(nil), route.Middleware...),
			AdminOnly:  route.AdminOnly,
		})
	}

	t.snapshot.Store(next)
	return nil
}

// remove drops every route owned by the plugin.
func (t *routeTable) remove(pluginName string) {
	current := t.snapshot.Load()
	next := &routeSet{byMethod: make(map[string][]routeEntry, len(current.byMethod))}
	for method, entries := range current.byMethod {
		kept := make([]routeEntry, 0, len(entries))
		for _, e := range entries {
			if e.Plugin != pluginName {
				kept = append(kept, e)
			}
		}
		if len(kept) > 0 {
			next.byMethod[method] = kept
		}
	}
	t.snapshot.Store(next)
}

// match resolves a request path. Static segments beat :param segments at the
// first position where candidates differ. A path that exists under another
// method yields methodNotAllowed.
func (t *routeTable) match(method, path string) (*Match, error) {
	set := t.snapshot.Load()
	method = strings.ToUpper(method)
	segments := splitSegments(NormalizePath(path))

	if entry := bestMatch(set.byMethod[method], segments); entry != nil {
		return &Match{
			Plugin:     entry.Plugin,
			Pattern:    entry.Pattern,
			Handler:    entry.Handler,
			Middleware: entry.Middleware,
			AdminOnly:  entry.AdminOnly,
			Params:     bindParams(entry.segments, segments),
		}, nil
	}

	for other, entries := range set.byMethod {
		if other == method {
			continue
		}
		if bestMatch(entries, segments) != nil {
			return nil, apperr.MethodNotAllowed("method %s not allowed for %s", method, path)
		}
	}
	return nil, apperr.NotFound("routeNotFound").WithDetails("path", path)
}

func bestMatch(entries []routeEntry, segments []string) *routeEntry {
	var best *routeEntry
	for i := range entries {
		e := &entries[i]
		if !segmentsMatch(e.segments, segments) {
			continue
		}
		if best == nil || moreSpecific(e.segments, best.segments) {
			best = e
		}
	}
	return best
}

func segmentsMatch(pattern, segments []string) bool {
	if len(pattern) != len(segments) {
		return false
	}
	for i, p := range pattern {
		if strings.HasPrefix(p, ":") {
			continue
		}
		if p != segments[i] {
			return false
		}
	}
	return true
}

// moreSpecific reports whether a beats b: at the first differing position a
// static segment wins over a parameter.
func moreSpecific(a, b []string) bool {
	for i := range a {
		aParam := strings.HasPrefix(a[i], ":")
		bParam := strings.HasPrefix(b[i], ":")
		if aParam != bParam {
			return bParam
		}
	}
	return false
}

func bindParams(pattern, segments []string) map[string]string {
	params := make(map[string]string)
	for i, p := range pattern {
		if strings.HasPrefix(p, ":") {
			params[p[1:]] = segments[i]
		}
	}
	return params
}
