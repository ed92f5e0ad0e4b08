// Package audit records administrative mutations to a project's append-only
// audit_log table. Writes are fire-and-forget: a failed audit write is
// logged but never fails the originating operation.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/forgeline/gamekernel/internal/storage"
)

// Entry is one administrative action.
type Entry struct {
	Plugin    string
	Action    string
	Details   any
	AdminUser string
	IPAddress string
	UserAgent string
	Success   bool
}

// Row is a persisted audit entry as returned to the admin surface.
type Row struct {
	ID        string    `db:"id" json:"id"`
	Plugin    string    `db:"plugin" json:"plugin"`
	Action    string    `db:"action" json:"action"`
	Details   string    `db:"details" json:"details"`
	AdminUser string    `db:"admin_user" json:"adminUser"`
	IPAddress string    `db:"ip_address" json:"ipAddress"`
	UserAgent string    `db:"user_agent" json:"userAgent"`
	Success   bool      `db:"success" json:"success"`
	CreatedAt time.Time `db:"created_at" json:"timestamp"`
}

// Logger writes entries asynchronously. One Logger serves the whole process;
// the target store is chosen per call since audit entries belong to the
// project they concern.
type Logger struct {
	log zerolog.Logger
	wg  sync.WaitGroup
}

// NewLogger builds an audit logger.
func NewLogger(log zerolog.Logger) *Logger {
	return &Logger{log: log}
}

// Record queues an entry for insertion into the project store. Returns
// immediately.
func (l *Logger) Record(db *storage.Adapter, entry Entry) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		details, err := json.Marshal(entry.Details)
		if err != nil || entry.Details == nil {
			details = []byte("{}")
		}

		_, err = db.Exec(ctx, `
			INSERT INTO audit_log (id, plugin, action, details, admin_user, ip_address, user_agent, success, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, uuid.NewString(), entry.Plugin, entry.Action, string(details), entry.AdminUser,
			entry.IPAddress, entry.UserAgent, entry.Success, time.Now().UTC())
		if err != nil {
			l.log.Warn().Err(err).Str("action", entry.Action).Msg("audit write failed")
		}
	}()
}

// Flush waits for queued writes; used in tests and at shutdown.
func (l *Logger) Flush() {
	l.wg.Wait()
}

// List returns the most recent entries, newest first.
func List(ctx context.Context, db *storage.Adapter, limit int) ([]Row, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []Row
	err := db.Query(ctx, &rows, `
		SELECT id, plugin, action, details, admin_user, ip_address, user_agent, success, created_at
		FROM audit_log
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	return rows, err
}
