package project

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/forgeline/gamekernel/internal/apperr"
	"github.com/forgeline/gamekernel/internal/config"
	"github.com/forgeline/gamekernel/internal/metrics"
	"github.com/forgeline/gamekernel/internal/plugin"
	"github.com/forgeline/gamekernel/internal/storage"
)

// Manager materializes projects on demand and bounds the number of open
// contexts with LRU eviction. Declarations come from two places: the
// configuration file (authoritative, immutable at runtime) and the
// persistent registry (projects created through the admin API).
type Manager struct {
	cfg *config.Config
	reg *Registry
	log zerolog.Logger

	mu            sync.Mutex
	contexts      map[string]*Context
	maxConcurrent int

	group singleflight.Group
}

// NewManager builds a manager over the given configuration and registry.
func NewManager(cfg *config.Config, reg *Registry, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:           cfg,
		reg:           reg,
		log:           log,
		contexts:      make(map[string]*Context),
		maxConcurrent: cfg.ProjectManager.MaxConcurrentProjects,
	}
}

// Initialize eagerly opens every project declared in the configuration file.
// Any failure aborts startup.
func (m *Manager) Initialize(ctx context.Context) error {
	for _, pc := range m.cfg.Projects {
		if _, err := m.Load(ctx, pc.ID); err != nil {
			return fmt.Errorf("initialize project %s: %w", pc.ID, err)
		}
	}
	return nil
}

// Get returns the loaded context for id, updating its access time, or nil.
func (m *Manager) Get(id string) *Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contexts[id]
	if !ok {
		return nil
	}
	c.Touch()
	return c
}

// Load returns the context for id, materializing it when absent. Concurrent
// loads of the same project coalesce into a single load.
func (m *Manager) Load(ctx context.Context, id string) (*Context, error) {
	if c := m.Get(id); c != nil {
		return c, nil
	}

	v, err, _ := m.group.Do(id, func() (any, error) {
		return m.load(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	c := v.(*Context)
	c.Touch()
	return c, nil
}

func (m *Manager) load(ctx context.Context, id string) (*Context, error) {
	m.mu.Lock()
	if c, ok := m.contexts[id]; ok {
		m.mu.Unlock()
		return c, nil
	}
	m.mu.Unlock()

	decl, err := m.lookupDeclaration(ctx, id)
	if err != nil {
		return nil, err
	}

	db, err := storage.Open(decl.DatabasePath, m.log)
	if err != nil {
		return nil, fmt.Errorf("open store for project %s: %w", id, err)
	}
	if err := db.ApplySchemas(ctx, "core", storage.CoreSchemas); err != nil {
		_ = db.Close()
		return nil, err
	}

	plugins := plugin.NewManager(id, db, decl.Settings, m.log)
	enabled := plugin.EnabledSet(decl.AutoDiscover, decl.PluginList)
	for _, name := range plugin.Registered() {
		factory, _ := plugin.Lookup(name)
		if err := plugins.Register(factory()); err != nil {
			_ = db.Close()
			return nil, err
		}
		if !enabled[name] {
			if err := plugins.Disable(name); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
	}
	if err := plugins.ActivateAll(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	c := newContext(decl, db, plugins, m.log)

	m.mu.Lock()
	var evicted *Context
	for len(m.contexts) >= m.maxConcurrent {
		victim := m.lruVictim()
		if victim == nil {
			break
		}
		delete(m.contexts, victim.Decl.ID)
		evicted = victim
		metrics.ProjectEvictions.Inc()
		m.log.Info().Str("project", victim.Decl.ID).Msg("evicting least recently used project")
	}
	m.contexts[id] = c
	metrics.ProjectsLoaded.Set(float64(len(m.contexts)))
	m.mu.Unlock()

	if evicted != nil {
		evicted.Close(ctx)
	}
	metrics.ProjectLoads.Inc()
	m.log.Info().Str("project", id).Msg("project context loaded")
	return c, nil
}

// lruVictim returns the loaded context with the oldest access time.
// Caller holds the lock.
func (m *Manager) lruVictim() *Context {
	var victim *Context
	for _, c := range m.contexts {
		if victim == nil || c.LastAccessed().Before(victim.LastAccessed()) {
			victim = c
		}
	}
	return victim
}

// Create validates and persists a new project declaration, then loads it.
func (m *Manager) Create(ctx context.Context, decl Declaration) (*Context, error) {
	if !config.ValidProjectID(decl.ID) {
		return nil, apperr.BadRequest("project id %q is not a valid slug", decl.ID)
	}
	if _, ok := m.cfg.Project(decl.ID); ok {
		return nil, apperr.Conflict("duplicateId: project %s is declared in configuration", decl.ID)
	}
	if _, err := m.reg.Get(ctx, decl.ID); err == nil {
		return nil, apperr.Conflict("duplicateId: project %s already exists", decl.ID)
	}

	if decl.Name == "" {
		decl.Name = decl.ID
	}
	if decl.DatabasePath == "" {
		decl.DatabasePath = filepath.Join(m.cfg.ProjectManager.DataDir, decl.ID+".db")
	}
	if decl.PluginList == nil {
		decl.AutoDiscover = true
	}
	decl.CreatedAt = time.Now().UTC()

	if err := m.reg.Put(ctx, decl); err != nil {
		return nil, fmt.Errorf("persist project %s: %w", decl.ID, err)
	}
	return m.Load(ctx, decl.ID)
}

// Deletable reports whether a project may be deleted at runtime. The default
// project and projects declared in the configuration file cannot be.
func (m *Manager) Deletable(ctx context.Context, id string) error {
	if id == config.DefaultProjectID || id == m.cfg.Server.DefaultProject {
		return apperr.Forbidden("the default project cannot be deleted")
	}
	if _, ok := m.cfg.Project(id); ok {
		return apperr.InvalidState("project %s is declared in configuration; remove it there", id)
	}
	_, err := m.reg.Get(ctx, id)
	return err
}

// Delete closes a loaded context and removes the persistent declaration.
// The underlying store file is left in place.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.Deletable(ctx, id); err != nil {
		return err
	}

	m.mu.Lock()
	c, loaded := m.contexts[id]
	if loaded {
		delete(m.contexts, id)
		metrics.ProjectsLoaded.Set(float64(len(m.contexts)))
	}
	m.mu.Unlock()
	if loaded {
		c.Close(ctx)
	}

	return m.reg.Delete(ctx, id)
}

// CloseAll tears down every loaded context. Idempotent; used at shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	contexts := make([]*Context, 0, len(m.contexts))
	for _, c := range m.contexts {
		contexts = append(contexts, c)
	}
	m.contexts = make(map[string]*Context)
	metrics.ProjectsLoaded.Set(0)
	m.mu.Unlock()

	for _, c := range contexts {
		c.Close(ctx)
	}
}

// Loaded returns the currently materialized contexts.
func (m *Manager) Loaded() []*Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Context, 0, len(m.contexts))
	for _, c := range m.contexts {
		out = append(out, c)
	}
	return out
}

// LoadedCount returns the number of materialized contexts.
func (m *Manager) LoadedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.contexts)
}

// ActiveHosts returns the plugin host of every loaded project where the
// named plugin is active. Used by schedulers that sweep across projects.
func (m *Manager) ActiveHosts(pluginName string) []*plugin.Host {
	var hosts []*plugin.Host
	for _, c := range m.Loaded() {
		if host, ok := c.Plugins.Host(pluginName); ok {
			hosts = append(hosts, host)
		}
	}
	return hosts
}

// Declarations lists every declared project: configured ones first, then
// registry entries, with the implicit default project synthesized when
// nothing declares it.
func (m *Manager) Declarations(ctx context.Context) ([]Declaration, error) {
	seen := make(map[string]bool)
	var decls []Declaration

	for _, pc := range m.cfg.Projects {
		decls = append(decls, declFromConfig(pc))
		seen[pc.ID] = true
	}

	stored, err := m.reg.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, decl := range stored {
		if !seen[decl.ID] {
			decls = append(decls, decl)
			seen[decl.ID] = true
		}
	}

	if def := m.cfg.Server.DefaultProject; !seen[def] {
		decls = append(decls, m.implicitDefault(def))
	}
	return decls, nil
}

func (m *Manager) lookupDeclaration(ctx context.Context, id string) (Declaration, error) {
	if pc, ok := m.cfg.Project(id); ok {
		return declFromConfig(pc), nil
	}
	if decl, err := m.reg.Get(ctx, id); err == nil {
		return decl, nil
	}
	if id == m.cfg.Server.DefaultProject {
		return m.implicitDefault(id), nil
	}
	return Declaration{}, apperr.NotFound("projectNotFound").WithDetails("project", id)
}

func (m *Manager) implicitDefault(id string) Declaration {
	return Declaration{
		ID:           id,
		Name:         id,
		DatabasePath: filepath.Join(m.cfg.ProjectManager.DataDir, id+".db"),
		AutoDiscover: true,
	}
}

func declFromConfig(pc config.ProjectConfig) Declaration {
	return Declaration{
		ID:           pc.ID,
		Name:         pc.Name,
		Description:  pc.Description,
		DatabasePath: pc.Database,
		AutoDiscover: pc.Plugins.Discover(),
		PluginList:   pc.Plugins.PluginList,
		Settings:     pc.Plugins.Settings,
	}
}
