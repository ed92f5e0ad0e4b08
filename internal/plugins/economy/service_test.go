package economy

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

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

func newTestService(t *testing.T, settings map[string]any) *Service {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "economy.db"), logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	manifest := (&economyPlugin{}).Manifest()
	require.NoError(t, db.ApplySchemas(context.Background(), "economy", manifest.Schemas))

	host := plugin.NewHost("test-project", "economy", db, settings, logging.Nop())
	return NewService(host)
}

func mustCurrency(t *testing.T, s *Service, id string, maxBalance int64) Currency {
	t.Helper()
	c, err := s.CreateCurrency(context.Background(), admin, CurrencyDef{
		ID: id, Name: id, MaxBalance: maxBalance,
	})
	require.NoError(t, err)
	return c
}

func TestCreateCurrencyIdempotent(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()

	first, err := s.CreateCurrency(ctx, admin, CurrencyDef{ID: "gold", Name: "Gold", MaxBalance: 1000})
	require.NoError(t, err)

	again, err := s.CreateCurrency(ctx, admin, CurrencyDef{ID: "gold", Name: "Different", MaxBalance: 5})
	require.NoError(t, err)
	assert.Equal(t, first.Name, again.Name)
	assert.Equal(t, first.MaxBalance, again.MaxBalance)

	all, err := s.ListCurrencies(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCreateCurrencyValidation(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()

	_, err := s.CreateCurrency(ctx, alice, CurrencyDef{ID: "gold"})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = s.CreateCurrency(ctx, admin, CurrencyDef{ID: ""})
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	_, err = s.CreateCurrency(ctx, admin, CurrencyDef{ID: "gold", DecimalPlaces: -1})
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	_, err = s.CreateCurrency(ctx, admin, CurrencyDef{ID: "gold", MaxBalance: -2})
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
}

func TestUpdateCurrencyDecimalPlacesFrozen(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	mustCurrency(t, s, "gold", UnboundedBalance)

	two := 2
	updated, err := s.UpdateCurrency(ctx, admin, "gold", CurrencyPatch{DecimalPlaces: &two})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.DecimalPlaces)

	_, err = s.GetBalance(ctx, alice, alice.UserID, "gold")
	require.NoError(t, err)

	four := 4
	_, err = s.UpdateCurrency(ctx, admin, "gold", CurrencyPatch{DecimalPlaces: &four})
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
}

func TestDeleteCurrencyInUse(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	mustCurrency(t, s, "gold", UnboundedBalance)
	mustCurrency(t, s, "gems", UnboundedBalance)

	_, err := s.GetBalance(ctx, alice, alice.UserID, "gold")
	require.NoError(t, err)

	err = s.DeleteCurrency(ctx, admin, "gold")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	require.NoError(t, s.DeleteCurrency(ctx, admin, "gems"))
	_, err = s.GetCurrency(ctx, "gems")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestStartingBalanceInitialization(t *testing.T) {
	s := newTestService(t, map[string]any{
		"startingBalances": map[string]any{"gold": 100},
	})
	ctx := context.Background()
	mustCurrency(t, s, "gold", UnboundedBalance)
	mustCurrency(t, s, "gems", UnboundedBalance)

	b, err := s.GetBalance(ctx, alice, alice.UserID, "gold")
	require.NoError(t, err)
	assert.Equal(t, int64(100), b.Amount)

	all, err := s.GetBalances(ctx, alice, alice.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), all["gold"])
	assert.Equal(t, int64(0), all["gems"])
}

func TestBalanceAuthorization(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	mustCurrency(t, s, "gold", UnboundedBalance)

	_, err := s.GetBalance(ctx, bob, alice.UserID, "gold")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = s.GetBalance(ctx, admin, alice.UserID, "gold")
	assert.NoError(t, err)
}

func TestCreateTransactionLedger(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	mustCurrency(t, s, "gold", 150)

	earn, err := s.CreateTransaction(ctx, alice, TransactionReq{
		UserID: alice.UserID, CurrencyID: "gold", Delta: 100, Type: TypeEarn, Source: "quest",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), earn.BalanceBefore)
	assert.Equal(t, int64(100), earn.BalanceAfter)

	spend, err := s.CreateTransaction(ctx, alice, TransactionReq{
		UserID: alice.UserID, CurrencyID: "gold", Delta: -30, Type: TypeSpend, Source: "shop",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), spend.BalanceBefore)
	assert.Equal(t, int64(70), spend.BalanceAfter)
	assert.Greater(t, spend.ID, earn.ID)

	b, err := s.GetBalance(ctx, alice, alice.UserID, "gold")
	require.NoError(t, err)
	assert.Equal(t, int64(70), b.Amount)
}

func TestCreateTransactionBounds(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	mustCurrency(t, s, "gold", 100)

	_, err := s.CreateTransaction(ctx, alice, TransactionReq{
		UserID: alice.UserID, CurrencyID: "gold", Delta: -1, Type: TypeSpend, Source: "shop",
	})
	assert.Equal(t, apperr.KindInsufficient, apperr.KindOf(err))

	_, err = s.CreateTransaction(ctx, alice, TransactionReq{
		UserID: alice.UserID, CurrencyID: "gold", Delta: 101, Type: TypeEarn, Source: "quest",
	})
	assert.Equal(t, apperr.KindOverflow, apperr.KindOf(err))

	// Failed mutations must leave no ledger trace.
	history, err := s.History(ctx, alice, alice.UserID, HistoryFilter{})
	require.NoError(t, err)
	assert.Empty(t, history)

	b, err := s.GetBalance(ctx, alice, alice.UserID, "gold")
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.Amount)
}

func TestCreateTransactionPermissions(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	mustCurrency(t, s, "gold", UnboundedBalance)

	_, err := s.CreateTransaction(ctx, alice, TransactionReq{
		UserID: alice.UserID, CurrencyID: "gold", Delta: 0, Type: TypeEarn, Source: "x",
	})
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))

	_, err = s.CreateTransaction(ctx, alice, TransactionReq{
		UserID: bob.UserID, CurrencyID: "gold", Delta: 10, Type: TypeEarn, Source: "x",
	})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = s.CreateTransaction(ctx, alice, TransactionReq{
		UserID: alice.UserID, CurrencyID: "gold", Delta: 10, Type: TypeAdmin, Source: "x",
	})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = s.CreateTransaction(ctx, admin, TransactionReq{
		UserID: alice.UserID, CurrencyID: "gold", Delta: 10, Type: TypeAdmin, Source: "x",
	})
	assert.NoError(t, err)
}

func TestRollbackRoundTrip(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	mustCurrency(t, s, "gold", UnboundedBalance)

	earn, err := s.CreateTransaction(ctx, alice, TransactionReq{
		UserID: alice.UserID, CurrencyID: "gold", Delta: 100, Type: TypeEarn, Source: "quest",
	})
	require.NoError(t, err)

	rb, err := s.Rollback(ctx, admin, earn.ID, "dup reward")
	require.NoError(t, err)
	assert.Equal(t, TypeRollback, rb.Type)
	assert.Equal(t, int64(-100), rb.Delta)
	require.NotNil(t, rb.RollbackOf)
	assert.Equal(t, earn.ID, *rb.RollbackOf)

	b, err := s.GetBalance(ctx, alice, alice.UserID, "gold")
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.Amount)

	_, err = s.Rollback(ctx, admin, earn.ID, "again")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	// Rolling back the rollback restores the original state.
	rb2, err := s.Rollback(ctx, admin, rb.ID, "rollback was wrong")
	require.NoError(t, err)
	assert.Equal(t, int64(100), rb2.Delta)

	b, err = s.GetBalance(ctx, alice, alice.UserID, "gold")
	require.NoError(t, err)
	assert.Equal(t, int64(100), b.Amount)
}

func TestRollbackRespectsBounds(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	mustCurrency(t, s, "gold", UnboundedBalance)

	earn, err := s.CreateTransaction(ctx, alice, TransactionReq{
		UserID: alice.UserID, CurrencyID: "gold", Delta: 100, Type: TypeEarn, Source: "quest",
	})
	require.NoError(t, err)

	_, err = s.CreateTransaction(ctx, alice, TransactionReq{
		UserID: alice.UserID, CurrencyID: "gold", Delta: -80, Type: TypeSpend, Source: "shop",
	})
	require.NoError(t, err)

	// Reversing the +100 would drive the balance to -80.
	_, err = s.Rollback(ctx, admin, earn.ID, "too late")
	assert.Equal(t, apperr.KindInsufficient, apperr.KindOf(err))

	// The failed rollback must not mark the original.
	history, err := s.History(ctx, alice, alice.UserID, HistoryFilter{})
	require.NoError(t, err)
	for _, tx := range history {
		assert.Nil(t, tx.RolledBackBy)
	}
}

func TestHistoryOrderingAndFilters(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	mustCurrency(t, s, "gold", UnboundedBalance)
	mustCurrency(t, s, "gems", UnboundedBalance)

	for i := 0; i < 3; i++ {
		_, err := s.CreateTransaction(ctx, alice, TransactionReq{
			UserID: alice.UserID, CurrencyID: "gold", Delta: 10, Type: TypeEarn, Source: "quest",
		})
		require.NoError(t, err)
	}
	_, err := s.CreateTransaction(ctx, alice, TransactionReq{
		UserID: alice.UserID, CurrencyID: "gems", Delta: 5, Type: TypeEarn, Source: "quest",
	})
	require.NoError(t, err)

	all, err := s.History(ctx, alice, alice.UserID, HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.Greater(t, all[i-1].ID, all[i].ID, "newest first")
	}

	gold, err := s.History(ctx, alice, alice.UserID, HistoryFilter{CurrencyID: "gold"})
	require.NoError(t, err)
	assert.Len(t, gold, 3)

	paged, err := s.History(ctx, alice, alice.UserID, HistoryFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, paged, 2)
	assert.Equal(t, all[1].ID, paged[0].ID)

	_, err = s.History(ctx, bob, alice.UserID, HistoryFilter{})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestTopHoldersTieBreak(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	mustCurrency(t, s, "gold", UnboundedBalance)

	grants := map[string]int64{"carol": 50, "alice": 100, "bob": 100, "dave": 10}
	for user, amount := range grants {
		_, err := s.Adjust(ctx, admin, user, "gold", amount, "seed", "")
		require.NoError(t, err)
	}

	holders, err := s.TopHolders(ctx, "gold", 3)
	require.NoError(t, err)
	require.Len(t, holders, 3)
	assert.Equal(t, "alice", holders[0].UserID)
	assert.Equal(t, "bob", holders[1].UserID)
	assert.Equal(t, "carol", holders[2].UserID)
	assert.Equal(t, []int{1, 2, 3}, []int{holders[0].Rank, holders[1].Rank, holders[2].Rank})
}

// Concurrent mutations of the same balance must serialize so that every
// ledger row chains exactly onto the previous one.
func TestConcurrentTransactionsChain(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	mustCurrency(t, s, "gold", UnboundedBalance)

	const workers = 8
	const perWorker = 5
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := s.CreateTransaction(ctx, alice, TransactionReq{
					UserID: alice.UserID, CurrencyID: "gold", Delta: 1,
					Type: TypeEarn, Source: fmt.Sprintf("worker-%d", w),
				})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	history, err := s.History(ctx, alice, alice.UserID, HistoryFilter{Limit: 200})
	require.NoError(t, err)
	require.Len(t, history, workers*perWorker)

	// History is newest first; walk oldest to newest.
	for i := len(history) - 1; i >= 0; i-- {
		tx := history[i]
		assert.Equal(t, tx.BalanceBefore+tx.Delta, tx.BalanceAfter)
		if i < len(history)-1 {
			assert.Equal(t, history[i+1].BalanceAfter, tx.BalanceBefore)
		}
	}

	b, err := s.GetBalance(ctx, alice, alice.UserID, "gold")
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker), b.Amount)
}

func TestExportBalancesCSV(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	mustCurrency(t, s, "gold", UnboundedBalance)

	_, err := s.Adjust(ctx, admin, "alice", "gold", 25, "seed", "")
	require.NoError(t, err)
	_, err = s.Adjust(ctx, admin, "bob", "gold", 75, "seed", "")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, s.ExportBalancesCSV(ctx, admin, nil, &buf))
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)
	assert.Equal(t, "user_id,currency_id,balance,updated_at", string(lines[0]))
	assert.Contains(t, string(lines[1]), "alice,gold,25")
	assert.Contains(t, string(lines[2]), "bob,gold,75")

	buf.Reset()
	require.NoError(t, s.ExportBalancesCSV(ctx, admin, []string{"bob"}, &buf))
	lines = bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	err = s.ExportBalancesCSV(ctx, alice, nil, &buf)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestAnalytics(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	mustCurrency(t, s, "gold", UnboundedBalance)

	_, err := s.Adjust(ctx, admin, "alice", "gold", 100, "seed", "")
	require.NoError(t, err)
	_, err = s.Adjust(ctx, admin, "bob", "gold", 50, "seed", "")
	require.NoError(t, err)
	_, err = s.CreateTransaction(ctx, alice, TransactionReq{
		UserID: "alice", CurrencyID: "gold", Delta: -20, Type: TypeSpend, Source: "shop",
	})
	require.NoError(t, err)

	stats, err := s.Analytics(ctx, admin)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "gold", stats[0].CurrencyID)
	assert.Equal(t, int64(130), stats[0].CirculatingSupply)
	assert.Equal(t, int64(2), stats[0].Holders)
	assert.Equal(t, int64(2), stats[0].TransactionCounts[TypeAdmin])
	assert.Equal(t, int64(1), stats[0].TransactionCounts[TypeSpend])

	_, err = s.Analytics(ctx, alice)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}
