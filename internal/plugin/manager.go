package plugin

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/forgeline/gamekernel/internal/apperr"
	"github.com/forgeline/gamekernel/internal/metrics"
	"github.com/forgeline/gamekernel/internal/storage"
)

// State is a plugin's lifecycle state within one project.
type State string

const (
	StateRegistered State = "registered"
	StateLoaded     State = "loaded"
	StateActive     State = "active"
	StateFailed     State = "failed"
	StateDisabled   State = "disabled"
)

// Status describes one plugin's state for the admin surface.
type Status struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	State   State  `json:"state"`
	Failure string `json:"failure,omitempty"`
}

type managed struct {
	plugin   Plugin
	manifest Manifest
	host     *Host
	state    State
	failure  string
}

// Manager owns the plugin set of a single project: lifecycle transitions,
// schema application, and the project's route table.
type Manager struct {
	projectID string
	db        *storage.Adapter
	log       zerolog.Logger
	settings  map[string]map[string]any

	mu      sync.Mutex
	plugins map[string]*managed
	routes  *routeTable
}

// NewManager builds an empty manager for one project. settings maps plugin
// name to that plugin's configuration block.
func NewManager(projectID string, db *storage.Adapter, settings map[string]map[string]any, log zerolog.Logger) *Manager {
	return &Manager{
		projectID: projectID,
		db:        db,
		log:       log.With().Str("project", projectID).Logger(),
		settings:  settings,
		plugins:   make(map[string]*managed),
		routes:    newRouteTable(),
	}
}

// Register validates the manifest and records the plugin as Registered.
func (m *Manager) Register(p Plugin) error {
	manifest := p.Manifest()
	if err := ValidateManifest(manifest); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.plugins[manifest.Name]; exists {
		return apperr.Conflict("plugin %s already registered", manifest.Name)
	}
	m.plugins[manifest.Name] = &managed{
		plugin:   p,
		manifest: manifest,
		host:     NewHost(m.projectID, manifest.Name, m.db, m.settings[manifest.Name], m.log),
		state:    StateRegistered,
	}
	return nil
}

// Load applies the plugin's schemas and runs OnLoad. Registered -> Loaded.
func (m *Manager) Load(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, err := m.get(name)
	if err != nil {
		return err
	}
	if entry.state != StateRegistered {
		return apperr.InvalidState("plugin %s is %s, expected registered", name, entry.state)
	}

	if err := m.db.ApplySchemas(ctx, name, entry.manifest.Schemas); err != nil {
		m.fail(entry, err)
		return err
	}
	if err := runHook(ctx, entry.host, "onLoad", entry.plugin.OnLoad); err != nil {
		m.fail(entry, err)
		return err
	}
	entry.state = StateLoaded
	return nil
}

// Activate verifies dependencies, runs OnActivate, and installs routes.
// Loaded -> Active. A route conflict or hook failure marks the plugin Failed
// and leaves previously active plugins untouched.
func (m *Manager) Activate(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, err := m.get(name)
	if err != nil {
		return err
	}
	if entry.state != StateLoaded {
		return apperr.InvalidState("plugin %s is %s, expected loaded", name, entry.state)
	}
	for _, dep := range entry.manifest.Dependencies {
		depEntry, ok := m.plugins[dep]
		if !ok || depEntry.state != StateActive {
			err := apperr.InvalidState("plugin %s requires active dependency %s", name, dep)
			m.fail(entry, err)
			return err
		}
	}

	if err := runHook(ctx, entry.host, "onActivate", entry.plugin.OnActivate); err != nil {
		m.fail(entry, err)
		return err
	}
	if err := m.routes.install(name, entry.manifest.Routes); err != nil {
		m.fail(entry, err)
		return err
	}
	entry.state = StateActive
	m.log.Info().Str("plugin", name).Str("version", entry.manifest.Version).Msg("plugin activated")
	return nil
}

// Deactivate removes the plugin's routes and runs OnDeactivate.
// Active -> Loaded. Active dependents must be deactivated first.
func (m *Manager) Deactivate(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deactivateLocked(ctx, name)
}

func (m *Manager) deactivateLocked(ctx context.Context, name string) error {
	entry, err := m.get(name)
	if err != nil {
		return err
	}
	if entry.state != StateActive {
		return apperr.InvalidState("plugin %s is %s, expected active", name, entry.state)
	}
	for other, otherEntry := range m.plugins {
		if otherEntry.state != StateActive {
			continue
		}
		for _, dep := range otherEntry.manifest.Dependencies {
			if dep == name {
				return apperr.InvalidState("plugin %s is required by active plugin %s", name, other)
			}
		}
	}

	m.routes.remove(name)
	if err := runHook(ctx, entry.host, "onDeactivate", entry.plugin.OnDeactivate); err != nil {
		m.fail(entry, err)
		return err
	}
	entry.state = StateLoaded
	m.log.Info().Str("plugin", name).Msg("plugin deactivated")
	return nil
}

// Unload runs OnUnload. Loaded -> Registered.
func (m *Manager) Unload(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unloadLocked(ctx, name)
}

func (m *Manager) unloadLocked(ctx context.Context, name string) error {
	entry, err := m.get(name)
	if err != nil {
		return err
	}
	if entry.state != StateLoaded {
		return apperr.InvalidState("plugin %s is %s, expected loaded", name, entry.state)
	}
	if err := runHook(ctx, entry.host, "onUnload", entry.plugin.OnUnload); err != nil {
		m.fail(entry, err)
		return err
	}
	entry.state = StateRegistered
	return nil
}

// Disable marks a registered plugin as excluded by configuration.
func (m *Manager) Disable(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, err := m.get(name)
	if err != nil {
		return err
	}
	if entry.state != StateRegistered {
		return apperr.InvalidState("plugin %s is %s, expected registered", name, entry.state)
	}
	entry.state = StateDisabled
	return nil
}

// Enable returns a disabled plugin to the registered state so it can be
// loaded and activated again.
func (m *Manager) Enable(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, err := m.get(name)
	if err != nil {
		return err
	}
	if entry.state != StateDisabled {
		return apperr.InvalidState("plugin %s is %s, expected disabled", name, entry.state)
	}
	entry.state = StateRegistered
	return nil
}

// ActivateAll drives every registered plugin through load and activate in
// topological dependency order. Individual failures are contained: the
// plugin is marked Failed and the project still opens.
func (m *Manager) ActivateAll(ctx context.Context) error {
	m.mu.Lock()
	manifests := make([]Manifest, 0, len(m.plugins))
	for _, entry := range m.plugins {
		if entry.state == StateRegistered {
			manifests = append(manifests, entry.manifest)
		}
	}
	m.mu.Unlock()

	order, err := TopoOrder(manifests)
	if err != nil {
		return err
	}

	for _, name := range order {
		if err := m.Load(ctx, name); err != nil {
			m.log.Error().Err(err).Str("plugin", name).Msg("plugin load failed")
			continue
		}
		if err := m.Activate(ctx, name); err != nil {
			m.log.Error().Err(err).Str("plugin", name).Msg("plugin activation failed")
		}
	}
	return nil
}

// ShutdownAll deactivates and unloads every plugin in reverse activation
// order. Used on eviction and process shutdown; errors are logged, not
// propagated, so teardown always completes.
func (m *Manager) ShutdownAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	manifests := make([]Manifest, 0, len(m.plugins))
	for _, entry := range m.plugins {
		if entry.state == StateActive || entry.state == StateLoaded {
			manifests = append(manifests, entry.manifest)
		}
	}
	order, err := TopoOrder(manifests)
	if err != nil {
		// Fall back to arbitrary order; dependency metadata is already
		// inconsistent at this point.
		order = order[:0]
		for _, mf := range manifests {
			order = append(order, mf.Name)
		}
	}

	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		entry := m.plugins[name]
		if entry.state == StateActive {
			if err := m.deactivateLocked(ctx, name); err != nil {
				m.log.Warn().Err(err).Str("plugin", name).Msg("deactivate during shutdown")
				continue
			}
		}
		if entry.state == StateLoaded {
			if err := m.unloadLocked(ctx, name); err != nil {
				m.log.Warn().Err(err).Str("plugin", name).Msg("unload during shutdown")
			}
		}
	}
}

// Match resolves a request against the project's route table.
func (m *Manager) Match(method, path string) (*Match, error) {
	return m.routes.match(method, path)
}

// Host returns the host of an active plugin.
func (m *Manager) Host(name string) (*Host, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.plugins[name]
	if !ok || entry.state != StateActive {
		return nil, false
	}
	return entry.host, true
}

// StateOf returns the current state of a plugin.
func (m *Manager) StateOf(name string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.plugins[name]
	if !ok {
		return "", false
	}
	return entry.state, true
}

// Statuses lists every plugin's state, sorted by name.
func (m *Manager) Statuses() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Status, 0, len(m.plugins))
	for name, entry := range m.plugins {
		out = append(out, Status{
			Name:    name,
			Version: entry.manifest.Version,
			State:   entry.state,
			Failure: entry.failure,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *Manager) get(name string) (*managed, error) {
	entry, ok := m.plugins[name]
	if !ok {
		return nil, apperr.NotFound("plugin %s is not registered", name)
	}
	return entry, nil
}

func (m *Manager) fail(entry *managed, err error) {
	entry.state = StateFailed
	entry.failure = err.Error()
	m.routes.remove(entry.manifest.Name)
	metrics.PluginFailures.WithLabelValues(entry.manifest.Name).Inc()
}

// runHook invokes a lifecycle hook, converting panics into errors so a
// misbehaving plugin cannot take the project down.
func runHook(ctx context.Context, host *Host, name string, hook func(context.Context, *Host) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperr.Internal("%s panicked: %v", name, r)
		}
	}()
	if hookErr := hook(ctx, host); hookErr != nil {
		return fmt.Errorf("%s: %w", name, hookErr)
	}
	return nil
}

// EnabledSet resolves which registered plugins a project enables, honoring
// auto_discover and plugin_list semantics.
func EnabledSet(autoDiscover bool, pluginList []string) map[string]bool {
	enabled := make(map[string]bool)
	if autoDiscover {
		for _, name := range Registered() {
			enabled[name] = true
		}
	}
	for _, name := range pluginList {
		enabled[strings.TrimSpace(name)] = true
	}
	delete(enabled, "")
	return enabled
}
