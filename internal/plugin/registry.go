package plugin

import (
	"fmt"
	"sort"
	"sync"
)

// Factory creates a fresh plugin instance for one project.
type Factory func() Plugin

var (
	registry = make(map[string]registryEntry)
	mu       sync.RWMutex
)

type registryEntry struct {
	factory  Factory
	manifest Manifest
}

// Register adds a plugin factory to the process-wide registry. Called from
// each plugin package's init(). The factory is invoked once here to validate
// the manifest; registration of an invalid or duplicate plugin panics, since
// it is a programming error caught at startup.
func Register(factory Factory) {
	m := factory().Manifest()
	if err := ValidateManifest(m); err != nil {
		panic(fmt.Sprintf("plugin: invalid manifest for %q: %v", m.Name, err))
	}

	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[m.Name]; exists {
		panic(fmt.Sprintf("plugin: %q already registered", m.Name))
	}
	registry[m.Name] = registryEntry{factory: factory, manifest: m}
}

// Lookup returns the factory for a registered plugin.
func Lookup(name string) (Factory, bool) {
	mu.RLock()
	defer mu.RUnlock()
	entry, ok := registry[name]
	if !ok {
		return nil, false
	}
	return entry.factory, true
}

// Registered returns all registered plugin names in sorted order.
func Registered() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ManifestOf returns the manifest of a registered plugin.
func ManifestOf(name string) (Manifest, bool) {
	mu.RLock()
	defer mu.RUnlock()
	entry, ok := registry[name]
	return entry.manifest, ok
}
