// Package economy implements the multi-currency economy plugin: currencies,
// per-user balances, and an append-only transaction ledger with rollback.
package economy

import (
	"time"
)

// Transaction types.
const (
	TypeEarn     = "earn"
	TypeSpend    = "spend"
	TypeAdmin    = "admin"
	TypeTransfer = "transfer"
	TypeRollback = "rollback"
)

// UnboundedBalance marks a currency without an upper bound.
const UnboundedBalance int64 = -1

// Currency defines one currency of a project. Amounts are integers in minor
// units; DecimalPlaces only affects presentation.
type Currency struct {
	ID            string    `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	Symbol        string    `db:"symbol" json:"symbol"`
	DecimalPlaces int       `db:"decimal_places" json:"decimalPlaces"`
	MaxBalance    int64     `db:"max_balance" json:"maxBalance"`
	Transferable  bool      `db:"transferable" json:"transferable"`
	Config        string    `db:"config" json:"config,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
}

// Bounded reports whether the currency has an upper balance bound.
func (c Currency) Bounded() bool { return c.MaxBalance >= 0 }

// Balance is one user's holding of one currency.
type Balance struct {
	UserID     string    `db:"user_id" json:"userId"`
	CurrencyID string    `db:"currency_id" json:"currencyId"`
	Amount     int64     `db:"amount" json:"amount"`
	UpdatedAt  time.Time `db:"updated_at" json:"updatedAt"`
}

// Transaction is one ledger row. The ledger is append-only; rollback links
// are the only mutable columns.
type Transaction struct {
	ID            int64     `db:"id" json:"id"`
	UserID        string    `db:"user_id" json:"userId"`
	CurrencyID    string    `db:"currency_id" json:"currencyId"`
	Delta         int64     `db:"delta" json:"delta"`
	Type          string    `db:"type" json:"type"`
	Source        string    `db:"source" json:"source"`
	SourceID      *string   `db:"source_id" json:"sourceId,omitempty"`
	BalanceBefore int64     `db:"balance_before" json:"balanceBefore"`
	BalanceAfter  int64     `db:"balance_after" json:"balanceAfter"`
	Description   string    `db:"description" json:"description,omitempty"`
	Metadata      string    `db:"metadata" json:"metadata,omitempty"`
	RolledBackBy  *int64    `db:"rolled_back_by" json:"rolledBackBy,omitempty"`
	RollbackOf    *int64    `db:"rollback_of" json:"rollbackOf,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
}

// HolderRank is one row of the top-holders listing.
type HolderRank struct {
	UserID string `db:"user_id" json:"userId"`
	Amount int64  `db:"amount" json:"amount"`
	Rank   int    `json:"rank"`
}

// CurrencyStats aggregates one currency for the analytics endpoint.
type CurrencyStats struct {
	CurrencyID        string           `json:"currencyId"`
	CirculatingSupply int64            `json:"circulatingSupply"`
	Holders           int64            `json:"holders"`
	TransactionCounts map[string]int64 `json:"transactionCounts"`
}

func validType(t string) bool {
	switch t {
	case TypeEarn, TypeSpend, TypeAdmin, TypeTransfer, TypeRollback:
		return true
	}
	return false
}

// userTypes are the transaction types a non-admin caller may create for
// their own account. admin and rollback rows only enter the ledger through
// admin operations.
var userTypes = map[string]bool{TypeEarn: true, TypeSpend: true, TypeTransfer: true}
