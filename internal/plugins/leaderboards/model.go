// Package leaderboards implements the ranked-score plugin: boards with
// configurable sort order, periodic resets, and dense-ranked listings.
package leaderboards

import (
	"time"
)

// Sort orders.
const (
	SortDesc = "DESC"
	SortAsc  = "ASC"
)

// Reset periods.
const (
	PeriodNone    = "none"
	PeriodDaily   = "daily"
	PeriodWeekly  = "weekly"
	PeriodMonthly = "monthly"
)

// Reset modes (board config "resetMode").
const (
	ResetModeDelete  = "delete"
	ResetModeArchive = "archive"
)

// UnboundedEntries marks a board with no entry cap.
const UnboundedEntries = 0

// Board defines one leaderboard.
type Board struct {
	ID          string     `db:"id" json:"id"`
	Name        string     `db:"name" json:"name"`
	Description string     `db:"description" json:"description,omitempty"`
	SortOrder   string     `db:"sort_order" json:"sortOrder"`
	ResetPeriod string     `db:"reset_period" json:"resetPeriod"`
	MaxEntries  int        `db:"max_entries" json:"maxEntries"`
	GameMode    string     `db:"game_mode" json:"gameMode,omitempty"`
	Active      bool       `db:"active" json:"active"`
	Config      string     `db:"config" json:"config,omitempty"`
	LastResetAt *time.Time `db:"last_reset_at" json:"lastResetAt,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
}

// Entry is one submitted score.
type Entry struct {
	ID          int64     `db:"id" json:"-"`
	BoardID     string    `db:"board_id" json:"boardId"`
	UserID      string    `db:"user_id" json:"userId"`
	Score       int64     `db:"score" json:"score"`
	Metadata    string    `db:"metadata" json:"metadata,omitempty"`
	SubmittedAt time.Time `db:"submitted_at" json:"submittedAt"`
}

// RankedEntry is an entry with its 1-based dense rank.
type RankedEntry struct {
	Rank          int       `db:"rank" json:"rank"`
	UserID        string    `db:"user_id" json:"userId"`
	Score         int64     `db:"score" json:"score"`
	Metadata      string    `db:"metadata" json:"metadata,omitempty"`
	SubmittedAt   time.Time `db:"submitted_at" json:"submittedAt"`
	IsCurrentUser bool      `json:"isCurrentUser,omitempty"`
}

// SubmitResult reports the outcome of one submission.
type SubmitResult struct {
	Accepted      bool   `json:"accepted"`
	Improved      bool   `json:"improved"`
	Score         int64  `json:"score"`
	PreviousScore *int64 `json:"previousScore,omitempty"`
	Rank          int    `json:"rank,omitempty"`
}

func validSortOrder(s string) bool { return s == SortAsc || s == SortDesc }

func validResetPeriod(p string) bool {
	switch p {
	case PeriodNone, PeriodDaily, PeriodWeekly, PeriodMonthly:
		return true
	}
	return false
}

// better reports whether a beats b under the given sort order.
func better(order string, a, b int64) bool {
	if order == SortAsc {
		return a < b
	}
	return a > b
}
