package leaderboards

import (
	"github.com/forgeline/gamekernel/internal/plugin"
	"github.com/forgeline/gamekernel/internal/storage"
)

func init() {
	plugin.Register(func() plugin.Plugin { return &leaderboardsPlugin{} })
}

type leaderboardsPlugin struct {
	plugin.Base
}

func (p *leaderboardsPlugin) Manifest() plugin.Manifest {
	return plugin.Manifest{
		Name:    "leaderboards",
		Version: "1.0.0",
		Routes: []plugin.Route{
			{Method: "GET", Path: "/plugins/leaderboards/boards", Handler: handleListBoards},
			{Method: "POST", Path: "/plugins/leaderboards/boards", Handler: handleCreateBoard, Middleware: []string{"auth"}, AdminOnly: true},
			{Method: "GET", Path: "/plugins/leaderboards/boards/:boardId", Handler: handleGetBoard},
			{Method: "PUT", Path: "/plugins/leaderboards/boards/:boardId/active", Handler: handleSetBoardActive, Middleware: []string{"auth"}, AdminOnly: true},
			{Method: "DELETE", Path: "/plugins/leaderboards/boards/:boardId", Handler: handleDeleteBoard, Middleware: []string{"auth"}, AdminOnly: true},
			{Method: "POST", Path: "/plugins/leaderboards/boards/:boardId/submit", Handler: handleSubmit, Middleware: []string{"auth"}},
			{Method: "GET", Path: "/plugins/leaderboards/boards/:boardId/rankings", Handler: handleRankings},
			{Method: "GET", Path: "/plugins/leaderboards/boards/:boardId/rank/:userId", Handler: handleUserRank},
			{Method: "GET", Path: "/plugins/leaderboards/boards/:boardId/surrounding/:userId", Handler: handleSurrounding},
			{Method: "DELETE", Path: "/plugins/leaderboards/boards/:boardId/entries/:userId", Handler: handleDeleteEntry, Middleware: []string{"auth"}, AdminOnly: true},
			{Method: "GET", Path: "/plugins/leaderboards/boards/:boardId/archive", Handler: handleArchive, Middleware: []string{"auth"}, AdminOnly: true},
		},
		Schemas: []storage.Schema{
			{Table: "plugin_leaderboards_boards", Definition: `
				CREATE TABLE IF NOT EXISTS plugin_leaderboards_boards (
					id            TEXT PRIMARY KEY,
					name          TEXT NOT NULL DEFAULT '',
					description   TEXT NOT NULL DEFAULT '',
					sort_order    TEXT NOT NULL DEFAULT 'DESC',
					reset_period  TEXT NOT NULL DEFAULT 'none',
					max_entries   INTEGER NOT NULL DEFAULT 0,
					game_mode     TEXT NOT NULL DEFAULT '',
					active        INTEGER NOT NULL DEFAULT 1,
					config        TEXT NOT NULL DEFAULT '{}',
					last_reset_at TIMESTAMP,
					created_at    TIMESTAMP NOT NULL
				)`},
			{Table: "plugin_leaderboards_entries", Definition: `
				CREATE TABLE IF NOT EXISTS plugin_leaderboards_entries (
					id           INTEGER PRIMARY KEY AUTOINCREMENT,
					board_id     TEXT NOT NULL,
					user_id      TEXT NOT NULL,
					score        INTEGER NOT NULL,
					metadata     TEXT NOT NULL DEFAULT '{}',
					submitted_at TIMESTAMP NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_leaderboards_entries_board
					ON plugin_leaderboards_entries (board_id, score);
				CREATE INDEX IF NOT EXISTS idx_leaderboards_entries_user
					ON plugin_leaderboards_entries (board_id, user_id)`},
			{Table: "plugin_leaderboards_archive", Definition: `
				CREATE TABLE IF NOT EXISTS plugin_leaderboards_archive (
					id           INTEGER PRIMARY KEY AUTOINCREMENT,
					board_id     TEXT NOT NULL,
					user_id      TEXT NOT NULL,
					score        INTEGER NOT NULL,
					metadata     TEXT NOT NULL DEFAULT '{}',
					submitted_at TIMESTAMP NOT NULL,
					period_key   TEXT NOT NULL,
					archived_at  TIMESTAMP NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_leaderboards_archive_period
					ON plugin_leaderboards_archive (board_id, period_key)`},
		},
		ConfigSchema: map[string]plugin.ConfigOption{
			"allowDuplicateScores": {
				Type:        "boolean",
				Default:     false,
				Description: "per-board override: keep every submission instead of one best entry per user",
			},
			"resetMode": {
				Type:        "string",
				Default:     ResetModeDelete,
				Description: "what happens to entries on a period reset: delete or archive",
			},
		},
	}
}
