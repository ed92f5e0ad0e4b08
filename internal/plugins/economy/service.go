package economy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/forgeline/gamekernel/internal/apperr"
	"github.com/forgeline/gamekernel/internal/plugin"
	"github.com/forgeline/gamekernel/internal/storage"
)

// Service executes economy operations against one project's store. It is a
// cheap per-request view over the plugin host.
type Service struct {
	host *plugin.Host
}

// NewService binds a service to a project host.
func NewService(host *plugin.Host) *Service {
	return &Service{host: host}
}

// CurrencyDef is the creation payload.
type CurrencyDef struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Symbol        string `json:"symbol"`
	DecimalPlaces int    `json:"decimalPlaces"`
	MaxBalance    int64  `json:"maxBalance"`
	Transferable  *bool  `json:"transferable"`
	Config        any    `json:"config"`
}

// CreateCurrency registers a currency. Admin only; idempotent on id: when
// the currency already exists it is returned unchanged.
func (s *Service) CreateCurrency(ctx context.Context, caller plugin.Caller, def CurrencyDef) (Currency, error) {
	if !caller.IsAdmin {
		return Currency{}, apperr.Forbidden("creating currencies requires admin")
	}
	def.ID = strings.TrimSpace(def.ID)
	if def.ID == "" {
		return Currency{}, apperr.BadRequest("currency id is required")
	}
	if def.DecimalPlaces < 0 {
		return Currency{}, apperr.BadRequest("decimalPlaces must be >= 0")
	}
	if def.MaxBalance < UnboundedBalance {
		return Currency{}, apperr.BadRequest("maxBalance must be >= -1")
	}

	if existing, err := s.GetCurrency(ctx, def.ID); err == nil {
		return existing, nil
	} else if apperr.KindOf(err) != apperr.KindNotFound {
		return Currency{}, err
	}

	transferable := true
	if def.Transferable != nil {
		transferable = *def.Transferable
	}
	currency := Currency{
		ID:            def.ID,
		Name:          def.Name,
		Symbol:        def.Symbol,
		DecimalPlaces: def.DecimalPlaces,
		MaxBalance:    def.MaxBalance,
		Transferable:  transferable,
		Config:        marshalOpaque(def.Config),
		CreatedAt:     time.Now().UTC(),
	}

	_, err := s.host.DB.Exec(ctx, `
		INSERT INTO plugin_economy_currencies (id, name, symbol, decimal_places, max_balance, transferable, config, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, currency.ID, currency.Name, currency.Symbol, currency.DecimalPlaces,
		currency.MaxBalance, currency.Transferable, currency.Config, currency.CreatedAt)
	if err != nil {
		return Currency{}, fmt.Errorf("create currency: %w", err)
	}
	s.host.Log.Info().Str("currency", currency.ID).Msg("currency created")
	return currency, nil
}

// GetCurrency looks up a currency by id.
func (s *Service) GetCurrency(ctx context.Context, id string) (Currency, error) {
	var c Currency
	err := s.host.DB.QueryOne(ctx, &c, `
		SELECT id, name, symbol, decimal_places, max_balance, transferable, config, created_at
		FROM plugin_economy_currencies WHERE id = ?
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Currency{}, apperr.NotFound("currency %s not found", id)
	}
	if err != nil {
		return Currency{}, err
	}
	return c, nil
}

// ListCurrencies returns every currency ordered by id.
func (s *Service) ListCurrencies(ctx context.Context) ([]Currency, error) {
	var out []Currency
	err := s.host.DB.Query(ctx, &out, `
		SELECT id, name, symbol, decimal_places, max_balance, transferable, config, created_at
		FROM plugin_economy_currencies ORDER BY id
	`)
	return out, err
}

// CurrencyPatch contains the mutable currency fields.
type CurrencyPatch struct {
	Name          *string `json:"name"`
	Symbol        *string `json:"symbol"`
	DecimalPlaces *int    `json:"decimalPlaces"`
	MaxBalance    *int64  `json:"maxBalance"`
	Transferable  *bool   `json:"transferable"`
	Config        any     `json:"config"`
}

// UpdateCurrency applies a patch. The id and, once any balance exists, the
// decimal places are immutable.
func (s *Service) UpdateCurrency(ctx context.Context, caller plugin.Caller, id string, patch CurrencyPatch) (Currency, error) {
	if !caller.IsAdmin {
		return Currency{}, apperr.Forbidden("updating currencies requires admin")
	}
	c, err := s.GetCurrency(ctx, id)
	if err != nil {
		return Currency{}, err
	}

	if patch.DecimalPlaces != nil && *patch.DecimalPlaces != c.DecimalPlaces {
		if *patch.DecimalPlaces < 0 {
			return Currency{}, apperr.BadRequest("decimalPlaces must be >= 0")
		}
		var held int
		if err := s.host.DB.QueryOne(ctx, &held, `
			SELECT COUNT(*) FROM plugin_economy_balances WHERE currency_id = ?
		`, id); err != nil {
			return Currency{}, err
		}
		if held > 0 {
			return Currency{}, apperr.InvalidState("decimalPlaces of %s cannot change once balances exist", id)
		}
		c.DecimalPlaces = *patch.DecimalPlaces
	}
	if patch.Name != nil {
		c.Name = *patch.Name
	}
	if patch.Symbol != nil {
		c.Symbol = *patch.Symbol
	}
	if patch.MaxBalance != nil {
		if *patch.MaxBalance < UnboundedBalance {
			return Currency{}, apperr.BadRequest("maxBalance must be >= -1")
		}
		c.MaxBalance = *patch.MaxBalance
	}
	if patch.Transferable != nil {
		c.Transferable = *patch.Transferable
	}
	if patch.Config != nil {
		c.Config = marshalOpaque(patch.Config)
	}

	_, err = s.host.DB.Exec(ctx, `
		UPDATE plugin_economy_currencies
		SET name = ?, symbol = ?, decimal_places = ?, max_balance = ?, transferable = ?, config = ?
		WHERE id = ?
	`, c.Name, c.Symbol, c.DecimalPlaces, c.MaxBalance, c.Transferable, c.Config, c.ID)
	if err != nil {
		return Currency{}, fmt.Errorf("update currency: %w", err)
	}
	return c, nil
}

// DeleteCurrency removes a currency that has no balances or transactions.
func (s *Service) DeleteCurrency(ctx context.Context, caller plugin.Caller, id string) error {
	if !caller.IsAdmin {
		return apperr.Forbidden("deleting currencies requires admin")
	}
	if _, err := s.GetCurrency(ctx, id); err != nil {
		return err
	}

	var refs int
	err := s.host.DB.QueryOne(ctx, &refs, `
		SELECT (SELECT COUNT(*) FROM plugin_economy_balances WHERE currency_id = ?)
		     + (SELECT COUNT(*) FROM plugin_economy_transactions WHERE currency_id = ?)
	`, id, id)
	if err != nil {
		return err
	}
	if refs > 0 {
		return apperr.Conflict("currencyInUse: %d rows reference currency %s", refs, id)
	}

	_, err = s.host.DB.Exec(ctx, `DELETE FROM plugin_economy_currencies WHERE id = ?`, id)
	return err
}

func (s *Service) authorizeUser(caller plugin.Caller, userID string) error {
	if caller.IsAdmin || caller.UserID == userID {
		return nil
	}
	return apperr.Forbidden("caller may only access their own balances")
}

// startingAmount reads the configured starting balance for a currency from
// the plugin settings.
func (s *Service) startingAmount(currencyID string) int64 {
	return s.host.Setting("startingBalances." + currencyID).Int()
}

// GetBalance returns the user's balance for one currency, initializing it to
// the configured starting amount on first touch.
func (s *Service) GetBalance(ctx context.Context, caller plugin.Caller, userID, currencyID string) (Balance, error) {
	if err := s.authorizeUser(caller, userID); err != nil {
		return Balance{}, err
	}
	if _, err := s.GetCurrency(ctx, currencyID); err != nil {
		return Balance{}, err
	}

	var b Balance
	err := s.host.DB.QueryOne(ctx, &b, `
		SELECT user_id, currency_id, amount, updated_at
		FROM plugin_economy_balances WHERE user_id = ? AND currency_id = ?
	`, userID, currencyID)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Balance{}, err
	}

	err = s.host.DB.Transaction(ctx, func(ctx context.Context, tx *storage.Tx) error {
		b, err = initBalance(ctx, tx, userID, currencyID, s.startingAmount(currencyID))
		return err
	})
	return b, err
}

// GetBalances returns the user's balance in every currency, initializing
// untouched ones.
func (s *Service) GetBalances(ctx context.Context, caller plugin.Caller, userID string) (map[string]int64, error) {
	if err := s.authorizeUser(caller, userID); err != nil {
		return nil, err
	}
	currencies, err := s.ListCurrencies(ctx)
	if err != nil {
		return nil, err
	}

	var balances []Balance
	if err := s.host.DB.Query(ctx, &balances, `
		SELECT user_id, currency_id, amount, updated_at
		FROM plugin_economy_balances WHERE user_id = ?
	`, userID); err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(currencies))
	have := make(map[string]bool, len(balances))
	for _, b := range balances {
		out[b.CurrencyID] = b.Amount
		have[b.CurrencyID] = true
	}

	for _, c := range currencies {
		if have[c.ID] {
			continue
		}
		amount := s.startingAmount(c.ID)
		err := s.host.DB.Transaction(ctx, func(ctx context.Context, tx *storage.Tx) error {
			b, err := initBalance(ctx, tx, userID, c.ID, amount)
			if err == nil {
				out[c.ID] = b.Amount
			}
			return err
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// initBalance inserts the first balance row for (user, currency). Racing
// inserts collapse onto the stored row.
func initBalance(ctx context.Context, tx *storage.Tx, userID, currencyID string, amount int64) (Balance, error) {
	now := time.Now().UTC()
	_, err := tx.Exec(ctx, `
		INSERT INTO plugin_economy_balances (user_id, currency_id, amount, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, currency_id) DO NOTHING
	`, userID, currencyID, amount, now)
	if err != nil {
		return Balance{}, err
	}
	var b Balance
	err = tx.QueryOne(ctx, &b, `
		SELECT user_id, currency_id, amount, updated_at
		FROM plugin_economy_balances WHERE user_id = ? AND currency_id = ?
	`, userID, currencyID)
	return b, err
}

// TransactionReq is the payload for CreateTransaction.
type TransactionReq struct {
	UserID      string  `json:"userId"`
	CurrencyID  string  `json:"currencyId"`
	Delta       int64   `json:"delta"`
	Type        string  `json:"type"`
	Source      string  `json:"source"`
	SourceID    *string `json:"sourceId"`
	Description string  `json:"description"`
	Metadata    any     `json:"metadata"`
}

// CreateTransaction applies a balance mutation and appends the ledger row,
// all inside one transaction. Non-admin callers may only move their own
// balance and only with earn, spend, or transfer types.
func (s *Service) CreateTransaction(ctx context.Context, caller plugin.Caller, req TransactionReq) (Transaction, error) {
	if req.Delta == 0 {
		return Transaction{}, apperr.BadRequest("delta must be non-zero")
	}
	if !validType(req.Type) {
		return Transaction{}, apperr.BadRequest("unknown transaction type %q", req.Type)
	}
	if !caller.IsAdmin {
		if caller.UserID != req.UserID {
			return Transaction{}, apperr.Forbidden("caller may only create transactions for themselves")
		}
		if !userTypes[req.Type] {
			return Transaction{}, apperr.Forbidden("transaction type %q requires admin", req.Type)
		}
	}

	currency, err := s.GetCurrency(ctx, req.CurrencyID)
	if err != nil {
		return Transaction{}, err
	}
	if req.Type == TypeTransfer && !currency.Transferable {
		return Transaction{}, apperr.Forbidden("currency %s is not transferable", currency.ID)
	}

	var created Transaction
	err = s.host.DB.Transaction(ctx, func(ctx context.Context, tx *storage.Tx) error {
		created, err = s.applyDelta(ctx, tx, currency, deltaOp{
			UserID:      req.UserID,
			Delta:       req.Delta,
			Type:        req.Type,
			Source:      req.Source,
			SourceID:    req.SourceID,
			Description: req.Description,
			Metadata:    marshalOpaque(req.Metadata),
		})
		return err
	})
	if err != nil {
		return Transaction{}, err
	}
	return created, nil
}

// Adjust is the admin balance mutation; it records a ledger row of type
// admin.
func (s *Service) Adjust(ctx context.Context, caller plugin.Caller, userID, currencyID string, delta int64, source, description string) (Transaction, error) {
	if !caller.IsAdmin {
		return Transaction{}, apperr.Forbidden("adjusting balances requires admin")
	}
	if delta == 0 {
		return Transaction{}, apperr.BadRequest("delta must be non-zero")
	}
	currency, err := s.GetCurrency(ctx, currencyID)
	if err != nil {
		return Transaction{}, err
	}

	var created Transaction
	err = s.host.DB.Transaction(ctx, func(ctx context.Context, tx *storage.Tx) error {
		created, err = s.applyDelta(ctx, tx, currency, deltaOp{
			UserID:      userID,
			Delta:       delta,
			Type:        TypeAdmin,
			Source:      source,
			Description: description,
		})
		return err
	})
	if err != nil {
		return Transaction{}, err
	}
	return created, nil
}

// Rollback reverses a committed transaction: the inverse delta is applied
// under the same bounds checks and a rollback row is linked to the
// original. A rollback row can itself be rolled back.
func (s *Service) Rollback(ctx context.Context, caller plugin.Caller, transactionID int64, reason string) (Transaction, error) {
	if !caller.IsAdmin {
		return Transaction{}, apperr.Forbidden("rollback requires admin")
	}

	var created Transaction
	err := s.host.DB.Transaction(ctx, func(ctx context.Context, tx *storage.Tx) error {
		var target Transaction
		err := tx.QueryOne(ctx, &target, `
			SELECT id, user_id, currency_id, delta, type, source, source_id,
			       balance_before, balance_after, description, metadata,
			       rolled_back_by, rollback_of, created_at
			FROM plugin_economy_transactions WHERE id = ?
		`, transactionID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("transaction %d not found", transactionID)
		}
		if err != nil {
			return err
		}
		if target.RolledBackBy != nil {
			return apperr.Conflict("alreadyRolledBack: transaction %d was rolled back by %d", target.ID, *target.RolledBackBy)
		}

		currency, err := currencyInTx(ctx, tx, target.CurrencyID)
		if err != nil {
			return err
		}

		created, err = s.applyDelta(ctx, tx, currency, deltaOp{
			UserID:      target.UserID,
			Delta:       -target.Delta,
			Type:        TypeRollback,
			Source:      "rollback",
			Description: reason,
			RollbackOf:  &target.ID,
		})
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE plugin_economy_transactions SET rolled_back_by = ? WHERE id = ?
		`, created.ID, target.ID)
		return err
	})
	if err != nil {
		return Transaction{}, err
	}
	s.host.Log.Info().Int64("transaction", transactionID).Int64("rollback", created.ID).Msg("transaction rolled back")
	return created, nil
}

func currencyInTx(ctx context.Context, tx *storage.Tx, id string) (Currency, error) {
	var c Currency
	err := tx.QueryOne(ctx, &c, `
		SELECT id, name, symbol, decimal_places, max_balance, transferable, config, created_at
		FROM plugin_economy_currencies WHERE id = ?
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Currency{}, apperr.NotFound("currency %s not found", id)
	}
	return c, err
}

// deltaOp is one balance mutation inside an open transaction.
type deltaOp struct {
	UserID      string
	Delta       int64
	Type        string
	Source      string
	SourceID    *string
	Description string
	Metadata    string
	RollbackOf  *int64
}

// applyDelta performs the read-validate-write-append sequence that keeps the
// ledger invariant (balanceAfter = balanceBefore + delta, matching the
// stored balance) intact. Must run inside an open transaction.
func (s *Service) applyDelta(ctx context.Context, tx *storage.Tx, currency Currency, op deltaOp) (Transaction, error) {
	before, err := initBalance(ctx, tx, op.UserID, currency.ID, s.startingAmount(currency.ID))
	if err != nil {
		return Transaction{}, err
	}

	after := before.Amount + op.Delta
	if after < 0 {
		return Transaction{}, apperr.Insufficient(
			"balance %d %s cannot cover %d", before.Amount, currency.ID, op.Delta)
	}
	if currency.Bounded() && after > currency.MaxBalance {
		return Transaction{}, apperr.Overflow(
			"balance %d %s would exceed maximum %d", after, currency.ID, currency.MaxBalance)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE plugin_economy_balances SET amount = ?, updated_at = ?
		WHERE user_id = ? AND currency_id = ?
	`, after, now, op.UserID, currency.ID); err != nil {
		return Transaction{}, err
	}

	metadata := op.Metadata
	if metadata == "" {
		metadata = "{}"
	}
	res, err := tx.Exec(ctx, `
		INSERT INTO plugin_economy_transactions
			(user_id, currency_id, delta, type, source, source_id, balance_before, balance_after, description, metadata, rollback_of, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, op.UserID, currency.ID, op.Delta, op.Type, op.Source, op.SourceID,
		before.Amount, after, op.Description, metadata, op.RollbackOf, now)
	if err != nil {
		return Transaction{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Transaction{}, err
	}

	return Transaction{
		ID:            id,
		UserID:        op.UserID,
		CurrencyID:    currency.ID,
		Delta:         op.Delta,
		Type:          op.Type,
		Source:        op.Source,
		SourceID:      op.SourceID,
		BalanceBefore: before.Amount,
		BalanceAfter:  after,
		Description:   op.Description,
		Metadata:      metadata,
		RollbackOf:    op.RollbackOf,
		CreatedAt:     now,
	}, nil
}

// HistoryFilter narrows and pages the transaction history.
type HistoryFilter struct {
	CurrencyID string
	Type       string
	Limit      int
	Offset     int
}

// History returns the user's transactions, newest first.
func (s *Service) History(ctx context.Context, caller plugin.Caller, userID string, filter HistoryFilter) ([]Transaction, error) {
	if err := s.authorizeUser(caller, userID); err != nil {
		return nil, err
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Type != "" && !validType(filter.Type) {
		return nil, apperr.BadRequest("unknown transaction type %q", filter.Type)
	}

	query := `
		SELECT id, user_id, currency_id, delta, type, source, source_id,
		       balance_before, balance_after, description, metadata,
		       rolled_back_by, rollback_of, created_at
		FROM plugin_economy_transactions
		WHERE user_id = ?`
	args := []any{userID}
	if filter.CurrencyID != "" {
		query += ` AND currency_id = ?`
		args = append(args, filter.CurrencyID)
	}
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, filter.Type)
	}
	query += ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	var out []Transaction
	err := s.host.DB.Query(ctx, &out, query, args...)
	return out, err
}

// TopHolders lists the largest balances of a currency, descending, stable by
// user id on ties.
func (s *Service) TopHolders(ctx context.Context, currencyID string, limit int) ([]HolderRank, error) {
	if _, err := s.GetCurrency(ctx, currencyID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 10
	}

	var rows []HolderRank
	err := s.host.DB.Query(ctx, &rows, `
		SELECT user_id, amount
		FROM plugin_economy_balances
		WHERE currency_id = ?
		ORDER BY amount DESC, user_id ASC
		LIMIT ?
	`, currencyID, limit)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows, nil
}

// Analytics aggregates per-currency totals for the admin surface.
func (s *Service) Analytics(ctx context.Context, caller plugin.Caller) ([]CurrencyStats, error) {
	if !caller.IsAdmin {
		return nil, apperr.Forbidden("analytics requires admin")
	}
	currencies, err := s.ListCurrencies(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]CurrencyStats, 0, len(currencies))
	for _, c := range currencies {
		stats := CurrencyStats{CurrencyID: c.ID, TransactionCounts: map[string]int64{}}

		var supply struct {
			Total   *int64 `db:"total"`
			Holders int64  `db:"holders"`
		}
		if err := s.host.DB.QueryOne(ctx, &supply, `
			SELECT SUM(amount) AS total, COUNT(*) AS holders
			FROM plugin_economy_balances WHERE currency_id = ?
		`, c.ID); err != nil {
			return nil, err
		}
		if supply.Total != nil {
			stats.CirculatingSupply = *supply.Total
		}
		stats.Holders = supply.Holders

		var counts []struct {
			Type  string `db:"type"`
			Count int64  `db:"count"`
		}
		if err := s.host.DB.Query(ctx, &counts, `
			SELECT type, COUNT(*) AS count
			FROM plugin_economy_transactions WHERE currency_id = ? GROUP BY type
		`, c.ID); err != nil {
			return nil, err
		}
		for _, row := range counts {
			stats.TransactionCounts[row.Type] = row.Count
		}
		out = append(out, stats)
	}
	return out, nil
}

func marshalOpaque(v any) string {
	if v == nil {
		return "{}"
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
