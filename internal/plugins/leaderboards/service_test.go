package leaderboards

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeline/gamekernel/internal/apperr"
	"github.com/forgeline/gamekernel/internal/logging"
	"github.com/forgeline/gamekernel/internal/plugin"
	"github.com/forgeline/gamekernel/internal/storage"
)

var (
	admin = plugin.Caller{UserID: "admin-1", IsAdmin: true}
	alice = plugin.Caller{UserID: "alice"}
	bob   = plugin.Caller{UserID: "bob"}
)

func newTestService(t *testing.T) (*Service, *storage.Adapter) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "leaderboards.db"), logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	manifest := (&leaderboardsPlugin{}).Manifest()
	require.NoError(t, db.ApplySchemas(context.Background(), "leaderboards", manifest.Schemas))

	host := plugin.NewHost("test-project", "leaderboards", db, nil, logging.Nop())
	return NewService(host), db
}

func mustBoard(t *testing.T, s *Service, def BoardDef) Board {
	t.Helper()
	b, err := s.CreateBoard(context.Background(), admin, def)
	require.NoError(t, err)
	return b
}

// seedEntry inserts an entry with a controlled timestamp, bypassing Submit.
func seedEntry(t *testing.T, db *storage.Adapter, boardID, userID string, score int64, at time.Time) {
	t.Helper()
	_, err := db.Exec(context.Background(), `
		INSERT INTO plugin_leaderboards_entries (board_id, user_id, score, metadata, submitted_at)
		VALUES (?, ?, ?, '{}', ?)
	`, boardID, userID, score, at)
	require.NoError(t, err)
}

func TestCreateBoardValidation(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	_, err := s.CreateBoard(ctx, alice, BoardDef{ID: "weekly"})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = s.CreateBoard(ctx, admin, BoardDef{ID: ""})
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	_, err = s.CreateBoard(ctx, admin, BoardDef{ID: "weekly", SortOrder: "sideways"})
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	_, err = s.CreateBoard(ctx, admin, BoardDef{ID: "weekly", ResetPeriod: "hourly"})
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	b := mustBoard(t, s, BoardDef{ID: "weekly"})
	assert.Equal(t, SortDesc, b.SortOrder)
	assert.Equal(t, PeriodNone, b.ResetPeriod)
	assert.True(t, b.Active)

	_, err = s.CreateBoard(ctx, admin, BoardDef{ID: "weekly"})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestSubmitKeepsBetterScoreDesc(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	mustBoard(t, s, BoardDef{ID: "high-scores"})

	first, err := s.Submit(ctx, alice, "high-scores", alice.UserID, 100, nil)
	require.NoError(t, err)
	assert.True(t, first.Accepted)
	assert.True(t, first.Improved)
	assert.Equal(t, 1, first.Rank)

	worse, err := s.Submit(ctx, alice, "high-scores", alice.UserID, 80, nil)
	require.NoError(t, err)
	assert.False(t, worse.Accepted)
	assert.False(t, worse.Improved)
	require.NotNil(t, worse.PreviousScore)
	assert.Equal(t, int64(100), *worse.PreviousScore)

	better, err := s.Submit(ctx, alice, "high-scores", alice.UserID, 150, nil)
	require.NoError(t, err)
	assert.True(t, better.Improved)
	require.NotNil(t, better.PreviousScore)
	assert.Equal(t, int64(100), *better.PreviousScore)

	entries, err := s.Rankings(ctx, "high-scores", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(150), entries[0].Score)
}

func TestSubmitKeepsBetterScoreAsc(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	mustBoard(t, s, BoardDef{ID: "speedrun", SortOrder: SortAsc})

	_, err := s.Submit(ctx, alice, "speedrun", alice.UserID, 300, nil)
	require.NoError(t, err)

	faster, err := s.Submit(ctx, alice, "speedrun", alice.UserID, 250, nil)
	require.NoError(t, err)
	assert.True(t, faster.Improved)

	slower, err := s.Submit(ctx, alice, "speedrun", alice.UserID, 400, nil)
	require.NoError(t, err)
	assert.False(t, slower.Improved)
}

func TestSubmitDuplicateScoresAppend(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	mustBoard(t, s, BoardDef{ID: "runs", Config: map[string]any{"allowDuplicateScores": true}})

	for _, score := range []int64{50, 30, 70} {
		res, err := s.Submit(ctx, alice, "runs", alice.UserID, score, nil)
		require.NoError(t, err)
		assert.True(t, res.Accepted)
	}

	entries, err := s.Rankings(ctx, "runs", 10, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	best, err := s.UserRank(ctx, "runs", alice.UserID)
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, int64(70), best.Score)
	assert.Equal(t, 1, best.Rank)
}

func TestSubmitPermissionsAndState(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	mustBoard(t, s, BoardDef{ID: "high-scores"})

	_, err := s.Submit(ctx, bob, "high-scores", alice.UserID, 10, nil)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = s.Submit(ctx, admin, "high-scores", alice.UserID, 10, nil)
	assert.NoError(t, err)

	_, err = s.SetBoardActive(ctx, admin, "high-scores", false)
	require.NoError(t, err)
	_, err = s.Submit(ctx, alice, "high-scores", alice.UserID, 20, nil)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))

	_, err = s.Submit(ctx, alice, "missing", alice.UserID, 10, nil)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestRankingsDenseRanksAndTieBreak(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()
	mustBoard(t, s, BoardDef{ID: "high-scores"})

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedEntry(t, db, "high-scores", "dave", 90, base)
	seedEntry(t, db, "high-scores", "bob", 100, base.Add(2*time.Minute))
	seedEntry(t, db, "high-scores", "alice", 100, base.Add(1*time.Minute))
	seedEntry(t, db, "high-scores", "carol", 100, base.Add(2*time.Minute))

	entries, err := s.Rankings(ctx, "high-scores", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	// 100,100,100,90: the tied scores share rank 1, next distinct rank is 2.
	assert.Equal(t, []int{1, 1, 1, 2}, []int{entries[0].Rank, entries[1].Rank, entries[2].Rank, entries[3].Rank})
	// Ties break by submittedAt ascending, then userId ascending.
	assert.Equal(t, "alice", entries[0].UserID)
	assert.Equal(t, "bob", entries[1].UserID)
	assert.Equal(t, "carol", entries[2].UserID)
	assert.Equal(t, "dave", entries[3].UserID)

	rank, err := s.UserRank(ctx, "high-scores", "dave")
	require.NoError(t, err)
	require.NotNil(t, rank)
	assert.Equal(t, 2, rank.Rank)
	assert.Equal(t, int64(90), rank.Score)

	missing, err := s.UserRank(ctx, "high-scores", "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSurroundingWindow(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()
	mustBoard(t, s, BoardDef{ID: "high-scores"})

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	users := []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7"}
	for i, u := range users {
		seedEntry(t, db, "high-scores", u, int64(700-i*100), base.Add(time.Duration(i)*time.Second))
	}

	window, err := s.Surrounding(ctx, "high-scores", "u4", 2)
	require.NoError(t, err)
	require.Len(t, window, 5)
	assert.Equal(t, "u2", window[0].UserID)
	assert.Equal(t, "u6", window[4].UserID)
	for _, e := range window {
		assert.Equal(t, e.UserID == "u4", e.IsCurrentUser)
	}

	// A window at the top edge is clipped, not wrapped.
	top, err := s.Surrounding(ctx, "high-scores", "u1", 2)
	require.NoError(t, err)
	assert.Len(t, top, 3)
	assert.Equal(t, "u1", top[0].UserID)

	_, err = s.Surrounding(ctx, "high-scores", "nobody", 2)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestMaxEntriesEviction(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	mustBoard(t, s, BoardDef{ID: "top3", MaxEntries: 3})

	for user, score := range map[string]int64{"alice": 100, "bob": 80, "carol": 60} {
		_, err := s.Submit(ctx, admin, "top3", user, score, nil)
		require.NoError(t, err)
	}

	// A better score evicts the worst entry (carol, 60).
	res, err := s.Submit(ctx, admin, "top3", "dave", 90, nil)
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	entries, err := s.Rankings(ctx, "top3", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.NotEqual(t, "carol", e.UserID)
	}

	// A score not better than the current worst is discarded.
	res, err = s.Submit(ctx, admin, "top3", "erin", 70, nil)
	require.NoError(t, err)
	assert.False(t, res.Accepted)

	entries, err = s.Rankings(ctx, "top3", 10, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	for _, e := range entries {
		assert.NotEqual(t, "erin", e.UserID)
	}
}

func TestMaxEntriesEvictionAscending(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	mustBoard(t, s, BoardDef{ID: "lap-times", SortOrder: SortAsc, MaxEntries: 2})

	for user, score := range map[string]int64{"alice": 100, "bob": 80} {
		_, err := s.Submit(ctx, admin, "lap-times", user, score, nil)
		require.NoError(t, err)
	}

	// On an ascending board a lower score evicts the highest entry.
	res, err := s.Submit(ctx, admin, "lap-times", "carol", 90, nil)
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	entries, err := s.Rankings(ctx, "lap-times", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "bob", entries[0].UserID)
	assert.Equal(t, "carol", entries[1].UserID)

	// A time slower than the retained worst is discarded.
	res, err = s.Submit(ctx, admin, "lap-times", "dave", 120, nil)
	require.NoError(t, err)
	assert.False(t, res.Accepted)

	entries, err = s.Rankings(ctx, "lap-times", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.NotEqual(t, "dave", e.UserID)
	}
}

func TestDeleteEntry(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	mustBoard(t, s, BoardDef{ID: "high-scores"})

	_, err := s.Submit(ctx, alice, "high-scores", alice.UserID, 100, nil)
	require.NoError(t, err)

	err = s.DeleteEntry(ctx, alice, "high-scores", alice.UserID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	require.NoError(t, s.DeleteEntry(ctx, admin, "high-scores", alice.UserID))

	err = s.DeleteEntry(ctx, admin, "high-scores", alice.UserID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestResetIfDueDelete(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()
	mustBoard(t, s, BoardDef{ID: "daily", ResetPeriod: PeriodDaily})

	// Entries and board creation sit in the previous day.
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	_, err := db.Exec(ctx, `UPDATE plugin_leaderboards_boards SET created_at = ? WHERE id = 'daily'`, created)
	require.NoError(t, err)
	seedEntry(t, db, "daily", "alice", 100, created)

	now := time.Date(2026, 3, 2, 0, 5, 0, 0, time.UTC)
	reset, err := s.ResetIfDue(ctx, "daily", now)
	require.NoError(t, err)
	assert.True(t, reset)

	entries, err := s.Rankings(ctx, "daily", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Same boundary: no second reset.
	reset, err = s.ResetIfDue(ctx, "daily", now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, reset)

	// Next day: due again.
	reset, err = s.ResetIfDue(ctx, "daily", now.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.True(t, reset)
}

func TestResetIfDueArchive(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()
	mustBoard(t, s, BoardDef{
		ID:          "weekly",
		ResetPeriod: PeriodWeekly,
		Config:      map[string]any{"resetMode": "archive"},
	})

	created := time.Date(2026, 2, 24, 10, 0, 0, 0, time.UTC) // Tuesday of the prior week
	_, err := db.Exec(ctx, `UPDATE plugin_leaderboards_boards SET created_at = ? WHERE id = 'weekly'`, created)
	require.NoError(t, err)
	seedEntry(t, db, "weekly", "alice", 100, created)
	seedEntry(t, db, "weekly", "bob", 90, created)

	// Monday 2026-03-02 starts a new ISO week.
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	reset, err := s.ResetIfDue(ctx, "weekly", now)
	require.NoError(t, err)
	assert.True(t, reset)

	entries, err := s.Rankings(ctx, "weekly", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)

	archived, err := s.ArchivedEntries(ctx, "weekly", "2026-W10")
	require.NoError(t, err)
	assert.Len(t, archived, 2)
}

func TestResetNotDueForNonePeriod(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	mustBoard(t, s, BoardDef{ID: "forever"})

	reset, err := s.ResetIfDue(ctx, "forever", time.Now().UTC().AddDate(1, 0, 0))
	require.NoError(t, err)
	assert.False(t, reset)
}

func TestPeriodBoundaries(t *testing.T) {
	// Wednesday 2026-03-04 15:30 UTC.
	now := time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC), periodStart(PeriodDaily, now))
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), periodStart(PeriodWeekly, now))
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), periodStart(PeriodMonthly, now))

	assert.Equal(t, "2026-03-04", periodKey(PeriodDaily, periodStart(PeriodDaily, now)))
	assert.Equal(t, "2026-W10", periodKey(PeriodWeekly, periodStart(PeriodWeekly, now)))
	assert.Equal(t, "2026-03", periodKey(PeriodMonthly, periodStart(PeriodMonthly, now)))
}

func TestDeleteBoardCascades(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	mustBoard(t, s, BoardDef{ID: "doomed"})

	_, err := s.Submit(ctx, alice, "doomed", alice.UserID, 10, nil)
	require.NoError(t, err)

	require.NoError(t, s.DeleteBoard(ctx, admin, "doomed"))
	_, err = s.GetBoard(ctx, "doomed")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
