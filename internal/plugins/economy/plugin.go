package economy

import (
	"github.com/forgeline/gamekernel/internal/plugin"
	"github.com/forgeline/gamekernel/internal/storage"
)

func init() {
	plugin.Register(func() plugin.Plugin { return &economyPlugin{} })
}

type economyPlugin struct {
	plugin.Base
}

func (p *economyPlugin) Manifest() plugin.Manifest {
	return plugin.Manifest{
		Name:    "economy",
		Version: "1.0.0",
		Routes: []plugin.Route{
			{Method: "GET", Path: "/plugins/economy/currencies", Handler: handleListCurrencies},
			{Method: "POST", Path: "/plugins/economy/currencies", Handler: handleCreateCurrency, Middleware: []string{"auth"}, AdminOnly: true},
			{Method: "GET", Path: "/plugins/economy/currencies/:currencyId", Handler: handleGetCurrency},
			{Method: "PUT", Path: "/plugins/economy/currencies/:currencyId", Handler: handleUpdateCurrency, Middleware: []string{"auth"}, AdminOnly: true},
			{Method: "DELETE", Path: "/plugins/economy/currencies/:currencyId", Handler: handleDeleteCurrency, Middleware: []string{"auth"}, AdminOnly: true},
			{Method: "GET", Path: "/plugins/economy/balances/:userId", Handler: handleGetBalances, Middleware: []string{"auth"}},
			{Method: "GET", Path: "/plugins/economy/balances/:userId/:currencyId", Handler: handleGetBalance, Middleware: []string{"auth"}},
			{Method: "POST", Path: "/plugins/economy/transactions", Handler: handleCreateTransaction, Middleware: []string{"auth"}},
			{Method: "GET", Path: "/plugins/economy/transactions/:userId", Handler: handleHistory, Middleware: []string{"auth"}},
			{Method: "GET", Path: "/plugins/economy/leaderboard/:currencyId", Handler: handleTopHolders},
			{Method: "POST", Path: "/plugins/economy/adjust", Handler: handleAdjust, Middleware: []string{"auth"}, AdminOnly: true},
			{Method: "POST", Path: "/plugins/economy/transactions/:transactionId/rollback", Handler: handleRollback, Middleware: []string{"auth"}, AdminOnly: true},
			{Method: "GET", Path: "/plugins/economy/export", Handler: handleExport, Middleware: []string{"auth"}, AdminOnly: true},
			{Method: "GET", Path: "/plugins/economy/analytics", Handler: handleAnalytics, Middleware: []string{"auth"}, AdminOnly: true},
		},
		Schemas: []storage.Schema{
			{Table: "plugin_economy_currencies", Definition: `
				CREATE TABLE IF NOT EXISTS plugin_economy_currencies (
					id             TEXT PRIMARY KEY,
					name           TEXT NOT NULL DEFAULT '',
					symbol         TEXT NOT NULL DEFAULT '',
					decimal_places INTEGER NOT NULL DEFAULT 0,
					max_balance    INTEGER NOT NULL DEFAULT -1,
					transferable   INTEGER NOT NULL DEFAULT 1,
					config         TEXT NOT NULL DEFAULT '{}',
					created_at     TIMESTAMP NOT NULL
				)`},
			{Table: "plugin_economy_balances", Definition: `
				CREATE TABLE IF NOT EXISTS plugin_economy_balances (
					user_id     TEXT NOT NULL,
					currency_id TEXT NOT NULL,
					amount      INTEGER NOT NULL DEFAULT 0,
					updated_at  TIMESTAMP NOT NULL,
					PRIMARY KEY (user_id, currency_id)
				)`},
			{Table: "plugin_economy_transactions", Definition: `
				CREATE TABLE IF NOT EXISTS plugin_economy_transactions (
					id             INTEGER PRIMARY KEY AUTOINCREMENT,
					user_id        TEXT NOT NULL,
					currency_id    TEXT NOT NULL,
					delta          INTEGER NOT NULL,
					type           TEXT NOT NULL,
					source         TEXT NOT NULL DEFAULT '',
					source_id      TEXT,
					balance_before INTEGER NOT NULL,
					balance_after  INTEGER NOT NULL,
					description    TEXT NOT NULL DEFAULT '',
					metadata       TEXT NOT NULL DEFAULT '{}',
					rolled_back_by INTEGER,
					rollback_of    INTEGER,
					created_at     TIMESTAMP NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_economy_tx_user
					ON plugin_economy_transactions (user_id, currency_id, id)`},
		},
		ConfigSchema: map[string]plugin.ConfigOption{
			"startingBalances": {
				Type:        "object",
				Default:     map[string]any{},
				Description: "initial balance per currency id, granted on first touch",
			},
			"maxTransactionHistory": {
				Type:        "number",
				Default:     0,
				Description: "history page size cap; 0 means the built-in default",
			},
		},
	}
}
