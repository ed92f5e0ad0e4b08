package economy

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/forgeline/gamekernel/internal/apperr"
	"github.com/forgeline/gamekernel/internal/plugin"
)

// ExportBalancesCSV streams every balance row (optionally filtered to a set
// of user ids) as RFC 4180 CSV. Admin only.
func (s *Service) ExportBalancesCSV(ctx context.Context, caller plugin.Caller, userIDs []string, w io.Writer) error {
	if !caller.IsAdmin {
		return apperr.Forbidden("balance export requires admin")
	}

	query := `
		SELECT user_id, currency_id, amount, updated_at
		FROM plugin_economy_balances`
	var args []any
	if len(userIDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(userIDs)), ",")
		query += ` WHERE user_id IN (` + placeholders + `)`
		for _, id := range userIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY user_id, currency_id`

	var rows []Balance
	if err := s.host.DB.Query(ctx, &rows, query, args...); err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"user_id", "currency_id", "balance", "updated_at"}); err != nil {
		return err
	}
	for _, b := range rows {
		record := []string{
			b.UserID,
			b.CurrencyID,
			strconv.FormatInt(b.Amount, 10),
			b.UpdatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
