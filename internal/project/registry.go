package project

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/forgeline/gamekernel/internal/apperr"
	"github.com/forgeline/gamekernel/internal/storage"
)

// Registry persists project declarations created at runtime. Projects
// declared in the configuration file are merged in by the Manager and are
// not written here.
type Registry struct {
	db *storage.Adapter
}

var registrySchema = []storage.Schema{
	{
		Table: "project_registry",
		Definition: `CREATE TABLE IF NOT EXISTS project_registry (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			database_path TEXT NOT NULL,
			auto_discover INTEGER NOT NULL DEFAULT 1,
			plugin_list TEXT NOT NULL DEFAULT '[]',
			settings TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	},
}

// OpenRegistry opens (creating if needed) the kernel's project registry
// database inside dataDir.
func OpenRegistry(dataDir string, log zerolog.Logger) (*Registry, error) {
	db, err := storage.Open(filepath.Join(dataDir, "projects.db"), log)
	if err != nil {
		return nil, err
	}
	if err := db.ApplySchemas(context.Background(), "registry", registrySchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Registry{db: db}, nil
}

// Close releases the registry store.
func (r *Registry) Close() error { return r.db.Close() }

type registryRow struct {
	ID           string    `db:"id"`
	Name         string    `db:"name"`
	Description  string    `db:"description"`
	DatabasePath string    `db:"database_path"`
	AutoDiscover bool      `db:"auto_discover"`
	PluginList   string    `db:"plugin_list"`
	Settings     string    `db:"settings"`
	CreatedAt    time.Time `db:"created_at"`
}

func (row registryRow) decl() Declaration {
	decl := Declaration{
		ID:           row.ID,
		Name:         row.Name,
		Description:  row.Description,
		DatabasePath: row.DatabasePath,
		AutoDiscover: row.AutoDiscover,
		CreatedAt:    row.CreatedAt,
	}
	_ = json.Unmarshal([]byte(row.PluginList), &decl.PluginList)
	_ = json.Unmarshal([]byte(row.Settings), &decl.Settings)
	return decl
}

// Put stores a declaration, failing on duplicate id.
func (r *Registry) Put(ctx context.Context, decl Declaration) error {
	pluginList, err := json.Marshal(decl.PluginList)
	if err != nil {
		return err
	}
	settings, err := json.Marshal(decl.Settings)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO project_registry (id, name, description, database_path, auto_discover, plugin_list, settings, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, decl.ID, decl.Name, decl.Description, decl.DatabasePath, decl.AutoDiscover, string(pluginList), string(settings), decl.CreatedAt)
	return err
}

// Get returns a stored declaration.
func (r *Registry) Get(ctx context.Context, id string) (Declaration, error) {
	var row registryRow
	err := r.db.QueryOne(ctx, &row, `SELECT * FROM project_registry WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Declaration{}, apperr.NotFound("projectNotFound").WithDetails("project", id)
	}
	if err != nil {
		return Declaration{}, err
	}
	return row.decl(), nil
}

// List returns all stored declarations ordered by id.
func (r *Registry) List(ctx context.Context) ([]Declaration, error) {
	var rows []registryRow
	if err := r.db.Query(ctx, &rows, `SELECT * FROM project_registry ORDER BY id`); err != nil {
		return nil, err
	}
	decls := make([]Declaration, 0, len(rows))
	for _, row := range rows {
		decls = append(decls, row.decl())
	}
	return decls, nil
}

// Delete removes a stored declaration. Deleting an id that is not present is
// not an error; configured projects never live here.
func (r *Registry) Delete(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM project_registry WHERE id = ?`, id)
	return err
}
