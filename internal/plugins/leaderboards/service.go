package leaderboards

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/forgeline/gamekernel/internal/apperr"
	"github.com/forgeline/gamekernel/internal/plugin"
	"github.com/forgeline/gamekernel/internal/storage"
)

// Service executes leaderboard operations against one project's store.
type Service struct {
	host *plugin.Host
}

func NewService(host *plugin.Host) *Service {
	return &Service{host: host}
}

// BoardDef is the creation payload.
type BoardDef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	SortOrder   string `json:"sortOrder"`
	ResetPeriod string `json:"resetPeriod"`
	MaxEntries  int    `json:"maxEntries"`
	GameMode    string `json:"gameMode"`
	Config      any    `json:"config"`
}

// CreateBoard registers a board. Admin only.
func (s *Service) CreateBoard(ctx context.Context, caller plugin.Caller, def BoardDef) (Board, error) {
	if !caller.IsAdmin {
		return Board{}, apperr.Forbidden("creating boards requires admin")
	}
	def.ID = strings.TrimSpace(def.ID)
	if def.ID == "" {
		return Board{}, apperr.BadRequest("board id is required")
	}
	if def.SortOrder == "" {
		def.SortOrder = SortDesc
	}
	if !validSortOrder(def.SortOrder) {
		return Board{}, apperr.BadRequest("sortOrder must be ASC or DESC")
	}
	if def.ResetPeriod == "" {
		def.ResetPeriod = PeriodNone
	}
	if !validResetPeriod(def.ResetPeriod) {
		return Board{}, apperr.BadRequest("unknown resetPeriod %q", def.ResetPeriod)
	}
	if def.MaxEntries < 0 {
		return Board{}, apperr.BadRequest("maxEntries must be >= 1, or 0 for unbounded")
	}
	if _, err := s.GetBoard(ctx, def.ID); err == nil {
		return Board{}, apperr.Conflict("board %s already exists", def.ID)
	} else if apperr.KindOf(err) != apperr.KindNotFound {
		return Board{}, err
	}

	config := "{}"
	if def.Config != nil {
		raw, err := json.Marshal(def.Config)
		if err != nil {
			return Board{}, apperr.BadRequest("config is not serializable").Wrap(err)
		}
		config = string(raw)
	}

	board := Board{
		ID:          def.ID,
		Name:        def.Name,
		Description: def.Description,
		SortOrder:   def.SortOrder,
		ResetPeriod: def.ResetPeriod,
		MaxEntries:  def.MaxEntries,
		GameMode:    def.GameMode,
		Active:      true,
		Config:      config,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.host.DB.Exec(ctx, `
		INSERT INTO plugin_leaderboards_boards
			(id, name, description, sort_order, reset_period, max_entries, game_mode, active, config, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, board.ID, board.Name, board.Description, board.SortOrder, board.ResetPeriod,
		board.MaxEntries, board.GameMode, board.Active, board.Config, board.CreatedAt)
	if err != nil {
		return Board{}, fmt.Errorf("create board: %w", err)
	}
	s.host.Log.Info().Str("board", board.ID).Msg("board created")
	return board, nil
}

// GetBoard looks up a board by id.
func (s *Service) GetBoard(ctx context.Context, id string) (Board, error) {
	var b Board
	err := s.host.DB.QueryOne(ctx, &b, `
		SELECT id, name, description, sort_order, reset_period, max_entries,
		       game_mode, active, config, last_reset_at, created_at
		FROM plugin_leaderboards_boards WHERE id = ?
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Board{}, apperr.NotFound("board %s not found", id)
	}
	if err != nil {
		return Board{}, err
	}
	return b, nil
}

// ListBoards returns every board ordered by id.
func (s *Service) ListBoards(ctx context.Context) ([]Board, error) {
	var out []Board
	err := s.host.DB.Query(ctx, &out, `
		SELECT id, name, description, sort_order, reset_period, max_entries,
		       game_mode, active, config, last_reset_at, created_at
		FROM plugin_leaderboards_boards ORDER BY id
	`)
	return out, err
}

// SetBoardActive toggles a board. Inactive boards reject submissions but keep
// their entries readable.
func (s *Service) SetBoardActive(ctx context.Context, caller plugin.Caller, id string, active bool) (Board, error) {
	if !caller.IsAdmin {
		return Board{}, apperr.Forbidden("updating boards requires admin")
	}
	b, err := s.GetBoard(ctx, id)
	if err != nil {
		return Board{}, err
	}
	b.Active = active
	_, err = s.host.DB.Exec(ctx, `
		UPDATE plugin_leaderboards_boards SET active = ? WHERE id = ?
	`, active, id)
	return b, err
}

// DeleteBoard removes a board with its entries and archived entries.
func (s *Service) DeleteBoard(ctx context.Context, caller plugin.Caller, id string) error {
	if !caller.IsAdmin {
		return apperr.Forbidden("deleting boards requires admin")
	}
	if _, err := s.GetBoard(ctx, id); err != nil {
		return err
	}
	return s.host.DB.Transaction(ctx, func(ctx context.Context, tx *storage.Tx) error {
		for _, table := range []string{
			"plugin_leaderboards_entries",
			"plugin_leaderboards_archive",
		} {
			if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE board_id = ?`, id); err != nil {
				return err
			}
		}
		_, err := tx.Exec(ctx, `DELETE FROM plugin_leaderboards_boards WHERE id = ?`, id)
		return err
	})
}

// allowDuplicates reads the board's duplicate-score policy.
func allowDuplicates(b Board) bool {
	return gjson.Get(b.Config, "allowDuplicateScores").Bool()
}

// resetMode reads the board's reset policy, defaulting to delete.
func resetMode(b Board) string {
	if gjson.Get(b.Config, "resetMode").String() == ResetModeArchive {
		return ResetModeArchive
	}
	return ResetModeDelete
}

// Submit records a score. Boards that disallow duplicate scores keep one
// entry per user, replaced only when the new score is better under the
// board's sort order.
func (s *Service) Submit(ctx context.Context, caller plugin.Caller, boardID, userID string, score int64, metadata any) (SubmitResult, error) {
	if !caller.IsAdmin && caller.UserID != userID {
		return SubmitResult{}, apperr.Forbidden("caller may only submit their own scores")
	}
	board, err := s.GetBoard(ctx, boardID)
	if err != nil {
		return SubmitResult{}, err
	}
	if !board.Active {
		return SubmitResult{}, apperr.InvalidState("board %s is inactive", boardID)
	}

	meta := "{}"
	if metadata != nil {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return SubmitResult{}, apperr.BadRequest("metadata is not serializable").Wrap(err)
		}
		meta = string(raw)
	}

	var result SubmitResult
	err = s.host.DB.Transaction(ctx, func(ctx context.Context, tx *storage.Tx) error {
		result, err = s.submitTx(ctx, tx, board, userID, score, meta)
		return err
	})
	if err != nil {
		return SubmitResult{}, err
	}

	if result.Accepted {
		if ranked, err := s.UserRank(ctx, boardID, userID); err == nil && ranked != nil {
			result.Rank = ranked.Rank
		}
	}
	return result, nil
}

func (s *Service) submitTx(ctx context.Context, tx *storage.Tx, board Board, userID string, score int64, meta string) (SubmitResult, error) {
	now := time.Now().UTC()

	if !allowDuplicates(board) {
		var existing Entry
		err := tx.QueryOne(ctx, &existing, `
			SELECT id, board_id, user_id, score, metadata, submitted_at
			FROM plugin_leaderboards_entries WHERE board_id = ? AND user_id = ?
		`, board.ID, userID)
		switch {
		case err == nil:
			if !better(board.SortOrder, score, existing.Score) {
				prev := existing.Score
				return SubmitResult{Accepted: false, Improved: false, Score: prev, PreviousScore: &prev}, nil
			}
			prev := existing.Score
			if _, err := tx.Exec(ctx, `
				UPDATE plugin_leaderboards_entries
				SET score = ?, metadata = ?, submitted_at = ?
				WHERE id = ?
			`, score, meta, now, existing.ID); err != nil {
				return SubmitResult{}, err
			}
			return SubmitResult{Accepted: true, Improved: true, Score: score, PreviousScore: &prev}, nil
		case errors.Is(err, sql.ErrNoRows):
			// fall through to insert
		default:
			return SubmitResult{}, err
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO plugin_leaderboards_entries (board_id, user_id, score, metadata, submitted_at)
		VALUES (?, ?, ?, ?, ?)
	`, board.ID, userID, score, meta, now); err != nil {
		return SubmitResult{}, err
	}

	if board.MaxEntries > UnboundedEntries {
		evictedSelf, err := s.enforceCap(ctx, tx, board)
		if err != nil {
			return SubmitResult{}, err
		}
		if evictedSelf(userID, score, now) {
			return SubmitResult{Accepted: false, Improved: false, Score: score}, nil
		}
	}
	return SubmitResult{Accepted: true, Improved: true, Score: score}, nil
}

// enforceCap deletes the worst entries beyond the board's cap and returns a
// predicate telling whether a just-inserted row was among the evicted.
func (s *Service) enforceCap(ctx context.Context, tx *storage.Tx, board Board) (func(userID string, score int64, at time.Time) bool, error) {
	// Best-first ordering with the rankings tie-break: the rows beyond
	// OFFSET maxEntries are the worst and get evicted.
	var evicted []Entry
	err := tx.Query(ctx, &evicted, fmt.Sprintf(`
		SELECT id, board_id, user_id, score, metadata, submitted_at
		FROM plugin_leaderboards_entries
		WHERE board_id = ?
		ORDER BY score %s, submitted_at ASC, user_id ASC
		LIMIT -1 OFFSET ?
	`, orderKeyword(board.SortOrder)), board.ID, board.MaxEntries)
	if err != nil {
		return nil, err
	}
	for _, e := range evicted {
		if _, err := tx.Exec(ctx, `DELETE FROM plugin_leaderboards_entries WHERE id = ?`, e.ID); err != nil {
			return nil, err
		}
	}
	return func(userID string, score int64, at time.Time) bool {
		for _, e := range evicted {
			if e.UserID == userID && e.Score == score && e.SubmittedAt.Equal(at) {
				return true
			}
		}
		return false
	}, nil
}

// orderKeyword maps a validated sort order constant to its SQL keyword. The
// indirection keeps raw request strings out of query text.
func orderKeyword(order string) string {
	if order == SortAsc {
		return "ASC"
	}
	return "DESC"
}

// Rankings returns the ordered entries of a board with 1-based dense ranks.
func (s *Service) Rankings(ctx context.Context, boardID string, limit, offset int) ([]RankedEntry, error) {
	board, err := s.GetBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	dir := orderKeyword(board.SortOrder)
	var rows []RankedEntry
	err = s.host.DB.Query(ctx, &rows, fmt.Sprintf(`
		SELECT DENSE_RANK() OVER (ORDER BY score %[1]s) AS rank,
		       user_id, score, metadata, submitted_at
		FROM plugin_leaderboards_entries
		WHERE board_id = ?
		ORDER BY score %[1]s, submitted_at ASC, user_id ASC
		LIMIT ? OFFSET ?
	`, dir), boardID, limit, offset)
	return rows, err
}

// UserRank returns the user's dense rank and best score, or nil when the
// user has no entry on the board.
func (s *Service) UserRank(ctx context.Context, boardID, userID string) (*RankedEntry, error) {
	board, err := s.GetBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}

	dir := orderKeyword(board.SortOrder)
	var row RankedEntry
	err = s.host.DB.QueryOne(ctx, &row, fmt.Sprintf(`
		WITH ranked AS (
			SELECT DENSE_RANK() OVER (ORDER BY score %[1]s) AS rank,
			       user_id, score, metadata, submitted_at
			FROM plugin_leaderboards_entries
			WHERE board_id = ?
		)
		SELECT rank, user_id, score, metadata, submitted_at
		FROM ranked WHERE user_id = ?
		ORDER BY rank ASC LIMIT 1
	`, dir), boardID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	row.IsCurrentUser = true
	return &row, nil
}

// Surrounding returns the window of entries around the user's best entry,
// marking the user's own row.
func (s *Service) Surrounding(ctx context.Context, boardID, userID string, window int) ([]RankedEntry, error) {
	board, err := s.GetBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if window <= 0 {
		window = 2
	}
	if window > 50 {
		window = 50
	}

	dir := orderKeyword(board.SortOrder)
	var rows []RankedEntry
	err = s.host.DB.Query(ctx, &rows, fmt.Sprintf(`
		WITH ranked AS (
			SELECT DENSE_RANK() OVER (ORDER BY score %[1]s) AS rank,
			       ROW_NUMBER() OVER (ORDER BY score %[1]s, submitted_at ASC, user_id ASC) AS pos,
			       user_id, score, metadata, submitted_at
			FROM plugin_leaderboards_entries
			WHERE board_id = ?
		),
		anchor AS (SELECT MIN(pos) AS pos FROM ranked WHERE user_id = ?)
		SELECT rank, user_id, score, metadata, submitted_at
		FROM ranked, anchor
		WHERE ranked.pos BETWEEN anchor.pos - ? AND anchor.pos + ?
		ORDER BY ranked.pos
	`, dir), boardID, userID, window, window)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperr.NotFound("user %s has no entry on board %s", userID, boardID)
	}

	marked := false
	for i := range rows {
		if !marked && rows[i].UserID == userID {
			rows[i].IsCurrentUser = true
			marked = true
		}
	}
	return rows, nil
}

// DeleteEntry removes a user's entries from a board. Admin only.
func (s *Service) DeleteEntry(ctx context.Context, caller plugin.Caller, boardID, userID string) error {
	if !caller.IsAdmin {
		return apperr.Forbidden("deleting entries requires admin")
	}
	if _, err := s.GetBoard(ctx, boardID); err != nil {
		return err
	}
	res, err := s.host.DB.Exec(ctx, `
		DELETE FROM plugin_leaderboards_entries WHERE board_id = ? AND user_id = ?
	`, boardID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("user %s has no entry on board %s", userID, boardID)
	}
	return nil
}

// periodStart returns the UTC boundary of the period containing now, or the
// zero time for boards that never reset.
func periodStart(period string, now time.Time) time.Time {
	now = now.UTC()
	switch period {
	case PeriodDaily:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	case PeriodWeekly:
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		daysSinceMonday := (int(now.Weekday()) + 6) % 7
		return midnight.AddDate(0, 0, -daysSinceMonday)
	case PeriodMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Time{}
}

// periodKey labels the period containing the boundary, used to stamp
// archived entries.
func periodKey(period string, boundary time.Time) string {
	switch period {
	case PeriodDaily:
		return boundary.Format("2006-01-02")
	case PeriodWeekly:
		year, week := boundary.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case PeriodMonthly:
		return boundary.Format("2006-01")
	}
	return ""
}

// ResetIfDue archives or deletes a board's entries when the current period
// boundary has passed since the last reset. Idempotent for a given boundary.
func (s *Service) ResetIfDue(ctx context.Context, boardID string, now time.Time) (bool, error) {
	board, err := s.GetBoard(ctx, boardID)
	if err != nil {
		return false, err
	}
	if board.ResetPeriod == PeriodNone {
		return false, nil
	}

	boundary := periodStart(board.ResetPeriod, now)
	baseline := board.CreatedAt
	if board.LastResetAt != nil {
		baseline = *board.LastResetAt
	}
	if !baseline.Before(boundary) {
		return false, nil
	}

	key := periodKey(board.ResetPeriod, boundary)
	err = s.host.DB.Transaction(ctx, func(ctx context.Context, tx *storage.Tx) error {
		if resetMode(board) == ResetModeArchive {
			if _, err := tx.Exec(ctx, `
				INSERT INTO plugin_leaderboards_archive
					(board_id, user_id, score, metadata, submitted_at, period_key, archived_at)
				SELECT board_id, user_id, score, metadata, submitted_at, ?, ?
				FROM plugin_leaderboards_entries WHERE board_id = ?
			`, key, now.UTC(), board.ID); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, `
			DELETE FROM plugin_leaderboards_entries WHERE board_id = ?
		`, board.ID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			UPDATE plugin_leaderboards_boards SET last_reset_at = ? WHERE id = ?
		`, boundary, board.ID)
		return err
	})
	if err != nil {
		return false, err
	}
	s.host.Log.Info().Str("board", board.ID).Str("period", key).Str("mode", resetMode(board)).Msg("board reset")
	return true, nil
}

// ResetDueBoards runs ResetIfDue over every active board with a reset
// period. Used by the periodic scheduler.
func (s *Service) ResetDueBoards(ctx context.Context, now time.Time) error {
	var ids []string
	if err := s.host.DB.Query(ctx, &ids, `
		SELECT id FROM plugin_leaderboards_boards
		WHERE active = 1 AND reset_period != ?
	`, PeriodNone); err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := s.ResetIfDue(ctx, id, now); err != nil {
			s.host.Log.Error().Err(err).Str("board", id).Msg("board reset failed")
		}
	}
	return nil
}

// ArchivedEntries lists archived rows for a board period, newest first.
func (s *Service) ArchivedEntries(ctx context.Context, boardID, period string) ([]Entry, error) {
	if _, err := s.GetBoard(ctx, boardID); err != nil {
		return nil, err
	}
	var rows []Entry
	err := s.host.DB.Query(ctx, &rows, `
		SELECT id, board_id, user_id, score, metadata, submitted_at
		FROM plugin_leaderboards_archive
		WHERE board_id = ? AND period_key = ?
		ORDER BY id
	`, boardID, period)
	return rows, err
}
