package plugin

import (
	"sort"

	"github.com/forgeline/gamekernel/internal/apperr"
)

// TopoOrder returns a deterministic activation order for the given manifests:
// a topological sort over declared dependencies, lexicographic among nodes
// whose dependencies are satisfied. Dependencies outside the given set and
// cycles are errors.
func TopoOrder(manifests []Manifest) ([]string, error) {
	inSet := make(map[string]bool, len(manifests))
	deps := make(map[string][]string, len(manifests))
	for _, m := range manifests {
		inSet[m.Name] = true
	}
	for _, m := range manifests {
		for _, dep := range m.Dependencies {
			if !inSet[dep] {
				return nil, apperr.BadRequest("plugin %s requires %s, which is not enabled", m.Name, dep)
			}
			deps[m.Name] = append(deps[m.Name], dep)
		}
	}

	order := make([]string, 0, len(manifests))
	done := make(map[string]bool, len(manifests))

	remaining := make([]string, 0, len(manifests))
	for name := range inSet {
		remaining = append(remaining, name)
	}
	sort.Strings(remaining)

	for len(remaining) > 0 {
		progressed := false
		next := remaining[:0]
		for _, name := range remaining {
			ready := true
			for _, dep := range deps[name] {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				order = append(order, name)
				done[name] = true
				progressed = true
			} else {
				next = append(next, name)
			}
		}
		remaining = next
		if !progressed {
			sort.Strings(remaining)
			return nil, apperr.Conflict("circular plugin dependency involving %v", remaining)
		}
	}
	return order, nil
}
