package storage

import (
	"context"

	"github.com/forgeline/gamekernel/internal/apperr"
)

// Schema is one declarative, idempotent table definition. Definition must be
// a complete CREATE TABLE IF NOT EXISTS statement (optionally followed by
// CREATE INDEX IF NOT EXISTS statements separated by semicolons).
type Schema struct {
	Table      string
	Definition string
}

// CoreSchemas are the kernel-owned tables present in every project store.
var CoreSchemas = []Schema{
	{
		Table: "users",
		Definition: `CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	},
	{
		Table: "projects_meta",
		Definition: `CREATE TABLE IF NOT EXISTS projects_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	},
	{
		Table: "saves",
		Definition: `CREATE TABLE IF NOT EXISTS saves (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	},
	{
		Table: "audit_log",
		Definition: `CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			plugin TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL,
			details TEXT NOT NULL DEFAULT '{}',
			admin_user TEXT NOT NULL DEFAULT '',
			ip_address TEXT NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT '',
			success INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_audit_log_created ON audit_log(created_at)`,
	},
}

// ApplySchemas applies one batch of schemas inside a single transaction.
// Any failure rolls the batch back and surfaces as a migration error.
func (a *Adapter) ApplySchemas(ctx context.Context, owner string, schemas []Schema) error {
	if len(schemas) == 0 {
		return nil
	}
	err := a.Transaction(ctx, func(ctx context.Context, tx *Tx) error {
		for _, s := range schemas {
			if _, err := tx.Exec(ctx, s.Definition); err != nil {
				return apperr.Migration("apply schema %s.%s", owner, s.Table).Wrap(err)
			}
		}
		return nil
	})
	if err != nil && apperr.KindOf(err) != apperr.KindMigration {
		return apperr.Migration("apply schemas for %s", owner).Wrap(err)
	}
	return err
}
