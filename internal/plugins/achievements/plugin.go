package achievements

import (
	"github.com/forgeline/gamekernel/internal/plugin"
	"github.com/forgeline/gamekernel/internal/storage"
)

func init() {
	plugin.Register(func() plugin.Plugin { return &achievementsPlugin{} })
}

type achievementsPlugin struct {
	plugin.Base
}

func (p *achievementsPlugin) Manifest() plugin.Manifest {
	return plugin.Manifest{
		Name:    "achievements",
		Version: "1.0.0",
		Routes: []plugin.Route{
			{Method: "GET", Path: "/plugins/achievements/definitions", Handler: handleListDefinitions},
			{Method: "POST", Path: "/plugins/achievements/definitions", Handler: handleCreateDefinition, Middleware: []string{"auth"}, AdminOnly: true},
			{Method: "GET", Path: "/plugins/achievements/definitions/:code", Handler: handleGetDefinition},
			{Method: "PUT", Path: "/plugins/achievements/definitions/:code/active", Handler: handleSetDefinitionActive, Middleware: []string{"auth"}, AdminOnly: true},
			{Method: "DELETE", Path: "/plugins/achievements/definitions/:code", Handler: handleDeleteDefinition, Middleware: []string{"auth"}, AdminOnly: true},
			{Method: "POST", Path: "/plugins/achievements/progress", Handler: handleRecordProgress, Middleware: []string{"auth"}},
			{Method: "GET", Path: "/plugins/achievements/users/:userId", Handler: handleGetUserAchievements, Middleware: []string{"auth"}},
		},
		Schemas: []storage.Schema{
			{Table: "plugin_achievements_definitions", Definition: `
				CREATE TABLE IF NOT EXISTS plugin_achievements_definitions (
					code        TEXT PRIMARY KEY,
					name        TEXT NOT NULL DEFAULT '',
					description TEXT NOT NULL DEFAULT '',
					type        TEXT NOT NULL DEFAULT 'one-shot',
					metric_name TEXT NOT NULL,
					target      INTEGER NOT NULL,
					active      INTEGER NOT NULL DEFAULT 1,
					config      TEXT NOT NULL DEFAULT '{}',
					created_at  TIMESTAMP NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_achievements_metric
					ON plugin_achievements_definitions (metric_name)`},
			{Table: "plugin_achievements_progress", Definition: `
				CREATE TABLE IF NOT EXISTS plugin_achievements_progress (
					user_id     TEXT NOT NULL,
					code        TEXT NOT NULL,
					progress    INTEGER NOT NULL DEFAULT 0,
					unlocked_at TIMESTAMP,
					updated_at  TIMESTAMP NOT NULL,
					PRIMARY KEY (user_id, code)
				)`},
		},
		ConfigSchema: map[string]plugin.ConfigOption{
			"metricMode": {
				Type:        "string",
				Default:     ModeCounter,
				Description: "per-definition override: counter accumulates reported values, highwater keeps the maximum",
			},
		},
	}
}
