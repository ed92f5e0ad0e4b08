// Package project owns project declarations, their runtime contexts, and the
// LRU-bounded manager that materializes them on demand.
package project

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/forgeline/gamekernel/internal/plugin"
	"github.com/forgeline/gamekernel/internal/storage"
)

// Declaration is the persistent record of a project. It survives context
// eviction and process restarts.
type Declaration struct {
	ID           string                    `json:"id" db:"id"`
	Name         string                    `json:"name" db:"name"`
	Description  string                    `json:"description" db:"description"`
	DatabasePath string                    `json:"databasePath" db:"database_path"`
	AutoDiscover bool                      `json:"autoDiscover" db:"auto_discover"`
	PluginList   []string                  `json:"pluginList"`
	Settings     map[string]map[string]any `json:"pluginSettings"`
	CreatedAt    time.Time                 `json:"createdAt" db:"created_at"`
}

// Context is the runtime materialization of one project: an open store, a
// plugin manager, and access bookkeeping. At most one Context exists per
// project id in the process.
type Context struct {
	Decl    Declaration
	DB      *storage.Adapter
	Plugins *plugin.Manager

	lastAccessed atomic.Int64

	mu      sync.Mutex
	refs    int
	closing bool
	closed  bool
	log     zerolog.Logger
}

func newContext(decl Declaration, db *storage.Adapter, plugins *plugin.Manager, log zerolog.Logger) *Context {
	c := &Context{Decl: decl, DB: db, Plugins: plugins, log: log}
	c.Touch()
	return c
}

// ID returns the project id.
func (c *Context) ID() string { return c.Decl.ID }

// Touch records an access for LRU ordering.
func (c *Context) Touch() {
	c.lastAccessed.Store(time.Now().UnixNano())
}

// LastAccessed returns the most recent access time.
func (c *Context) LastAccessed() time.Time {
	return time.Unix(0, c.lastAccessed.Load())
}

// Acquire pins the context for the duration of a request so eviction cannot
// close the store underneath a running handler. Returns false if the context
// is already shutting down.
func (c *Context) Acquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return false
	}
	c.refs++
	return true
}

// Release undoes Acquire and finishes a pending close once the last request
// drains.
func (c *Context) Release() {
	c.mu.Lock()
	finish := false
	if c.refs > 0 {
		c.refs--
	}
	if c.refs == 0 && c.closing && !c.closed {
		c.closed = true
		finish = true
	}
	c.mu.Unlock()
	if finish {
		c.teardown()
	}
}

// Close shuts the context down: plugins are deactivated and unloaded, then
// the store is released. When requests are still in flight the actual
// teardown is deferred until the last one releases. Idempotent.
func (c *Context) Close(ctx context.Context) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.closing = true
	finish := c.refs == 0 && !c.closed
	if finish {
		c.closed = true
	}
	c.mu.Unlock()
	if finish {
		c.teardown()
	}
}

func (c *Context) teardown() {
	c.Plugins.ShutdownAll(context.Background())
	if err := c.DB.Close(); err != nil {
		c.log.Warn().Err(err).Str("project", c.Decl.ID).Msg("close project store")
	}
	c.log.Info().Str("project", c.Decl.ID).Msg("project context closed")
}
