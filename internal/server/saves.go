package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/forgeline/gamekernel/internal/apperr"
	"github.com/forgeline/gamekernel/internal/httpx"
	"github.com/forgeline/gamekernel/internal/middleware"
	"github.com/forgeline/gamekernel/internal/project"
)

type saveRow struct {
	ID        string    `db:"id" json:"id"`
	OwnerID   string    `db:"owner_id" json:"ownerId"`
	Payload   string    `db:"payload" json:"-"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// handleSave serves the save-slot endpoints backed by each project's core
// saves table. A save belongs to the caller who wrote it; only the owner or
// an admin may read, overwrite, or delete it.
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	projectID := vars["projectID"]
	if projectID == "" {
		projectID = s.cfg.Server.DefaultProject
	}
	saveID := vars["saveID"]

	caller := middleware.CallerFrom(r.Context())
	if caller.Anonymous() {
		httpx.WriteError(w, apperr.Unauthenticated("authentication required"))
		return
	}

	pc, err := s.acquireProject(r.Context(), projectID)
	if err != nil {
		httpx.WriteError(w, classify(err))
		return
	}
	defer pc.Release()

	switch r.Method {
	case http.MethodPut:
		err = s.putSave(w, r, pc, saveID)
	case http.MethodGet:
		err = s.getSave(w, r, pc, saveID)
	case http.MethodDelete:
		err = s.deleteSave(w, r, pc, saveID)
	}
	if err != nil {
		httpx.WriteError(w, classify(err))
	}
}

func (s *Server) loadSave(r *http.Request, pc *project.Context, saveID string) (saveRow, error) {
	var row saveRow
	err := pc.DB.QueryOne(r.Context(), &row, `
		SELECT id, owner_id, payload, updated_at FROM saves WHERE id = ?
	`, saveID)
	if errors.Is(err, sql.ErrNoRows) {
		return saveRow{}, apperr.NotFound("save %s not found", saveID)
	}
	if err != nil {
		return saveRow{}, err
	}
	caller := middleware.CallerFrom(r.Context())
	if !caller.IsAdmin && row.OwnerID != caller.UserID {
		return saveRow{}, apperr.Forbidden("save %s belongs to another user", saveID)
	}
	return row, nil
}

func (s *Server) putSave(w http.ResponseWriter, r *http.Request, pc *project.Context, saveID string) error {
	var payload json.RawMessage
	if err := httpx.Decode(r, &payload); err != nil {
		return err
	}

	caller := middleware.CallerFrom(r.Context())
	existing, err := s.loadSave(r, pc, saveID)
	switch {
	case err == nil:
		// overwrite, keeping the original owner
	case apperr.KindOf(err) == apperr.KindNotFound:
		existing = saveRow{ID: saveID, OwnerID: caller.UserID}
	default:
		return err
	}

	now := time.Now().UTC()
	if _, err := pc.DB.Exec(r.Context(), `
		INSERT INTO saves (id, owner_id, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at
	`, saveID, existing.OwnerID, string(payload), now); err != nil {
		return err
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"id":        saveID,
		"projectId": pc.ID(),
		"updatedAt": now,
	})
	return nil
}

func (s *Server) getSave(w http.ResponseWriter, r *http.Request, pc *project.Context, saveID string) error {
	row, err := s.loadSave(r, pc, saveID)
	if err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"id":        row.ID,
		"projectId": pc.ID(),
		"ownerId":   row.OwnerID,
		"payload":   json.RawMessage(row.Payload),
		"updatedAt": row.UpdatedAt,
	})
	return nil
}

func (s *Server) deleteSave(w http.ResponseWriter, r *http.Request, pc *project.Context, saveID string) error {
	if _, err := s.loadSave(r, pc, saveID); err != nil {
		return err
	}
	if _, err := pc.DB.Exec(r.Context(), `DELETE FROM saves WHERE id = ?`, saveID); err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"deleted": saveID})
	return nil
}
