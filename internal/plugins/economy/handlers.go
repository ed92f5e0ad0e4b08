package economy

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/forgeline/gamekernel/internal/apperr"
	"github.com/forgeline/gamekernel/internal/httpx"
	"github.com/forgeline/gamekernel/internal/plugin"
)

func handleListCurrencies(w http.ResponseWriter, r *http.Request, rc *plugin.RequestContext) error {
	currencies, err := NewService(rc.Host).ListCurrencies(r.Context())
	if err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"currencies": currencies})
	return nil
}

func handleCreateCurrency(w http.ResponseWriter, r *http.Request, rc *plugin.RequestContext) error {
	var def CurrencyDef
	if err := httpx.Decode(r, &def); err != nil {
		return err
	}
	currency, err := NewService(rc.Host).CreateCurrency(r.Context(), rc.Caller, def)
	if err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusCreated, currency)
	return nil
}

func handleGetCurrency(w http.ResponseWriter, r *http.Request, rc *plugin.RequestContext) error {
	currency, err := NewService(rc.Host).GetCurrency(r.Context(), rc.Params["currencyId"])
	if err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, currency)
	return nil
}

func handleUpdateCurrency(w http.ResponseWriter, r *http.Request, rc *plugin.RequestContext) error {
	var patch CurrencyPatch
	if err := httpx.Decode(r, &patch); err != nil {
		return err
	}
	currency, err := NewService(rc.Host).UpdateCurrency(r.Context(), rc.Caller, rc.Params["currencyId"], patch)
	if err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, currency)
	return nil
}

func handleDeleteCurrency(w http.ResponseWriter, r *http.Request, rc *plugin.RequestContext) error {
	if err := NewService(rc.Host).DeleteCurrency(r.Context(), rc.Caller, rc.Params["currencyId"]); err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"deleted": rc.Params["currencyId"]})
	return nil
}

func handleGetBalances(w http.ResponseWriter, r *http.Request, rc *plugin.RequestContext) error {
	balances, err := NewService(rc.Host).GetBalances(r.Context(), rc.Caller, rc.Params["userId"])
	if err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"userId":   rc.Params["userId"],
		"balances": balances,
	})
	return nil
}

func handleGetBalance(w http.ResponseWriter, r *http.Request, rc *plugin.RequestContext) error {
	balance, err := NewService(rc.Host).GetBalance(r.Context(), rc.Caller, rc.Params["userId"], rc.Params["currencyId"])
	if err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, balance)
	return nil
}

func handleCreateTransaction(w http.ResponseWriter, r *http.Request, rc *plugin.RequestContext) error {
	var req TransactionReq
	if err := httpx.Decode(r, &req); err != nil {
		return err
	}
	tx, err := NewService(rc.Host).CreateTransaction(r.Context(), rc.Caller, req)
	if err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusCreated, tx)
	return nil
}

func handleHistory(w http.ResponseWriter, r *http.Request, rc *plugin.RequestContext) error {
	q := r.URL.Query()
	filter := HistoryFilter{
		CurrencyID: q.Get("currencyId"),
		Type:       q.Get("type"),
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	history, err := NewService(rc.Host).History(r.Context(), rc.Caller, rc.Params["userId"], filter)
	if err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"transactions": history})
	return nil
}

func handleTopHolders(w http.ResponseWriter, r *http.Request, rc *plugin.RequestContext) error {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	holders, err := NewService(rc.Host).TopHolders(r.Context(), rc.Params["currencyId"], limit)
	if err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"currencyId": rc.Params["currencyId"],
		"holders":    holders,
	})
	return nil
}

type adjustReq struct {
	UserID      string `json:"userId"`
	CurrencyID  string `json:"currencyId"`
	Delta       int64  `json:"delta"`
	Source      string `json:"source"`
	Description string `json:"description"`
}

func handleAdjust(w http.ResponseWriter, r *http.Request, rc *plugin.RequestContext) error {
	var req adjustReq
	if err := httpx.Decode(r, &req); err != nil {
		return err
	}
	tx, err := NewService(rc.Host).Adjust(r.Context(), rc.Caller, req.UserID, req.CurrencyID, req.Delta, req.Source, req.Description)
	if err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusCreated, tx)
	return nil
}

type rollbackReq struct {
	Reason string `json:"reason"`
}

func handleRollback(w http.ResponseWriter, r *http.Request, rc *plugin.RequestContext) error {
	id, err := strconv.ParseInt(rc.Params["transactionId"], 10, 64)
	if err != nil {
		return apperr.BadRequest("transactionId must be an integer")
	}
	var req rollbackReq
	// The reason body is optional.
	if err := httpx.Decode(r, &req); err != nil && r.ContentLength > 0 {
		return err
	}
	tx, err := NewService(rc.Host).Rollback(r.Context(), rc.Caller, id, req.Reason)
	if err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, tx)
	return nil
}

func handleExport(w http.ResponseWriter, r *http.Request, rc *plugin.RequestContext) error {
	var userIDs []string
	if raw := strings.TrimSpace(r.URL.Query().Get("userIds")); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				userIDs = append(userIDs, id)
			}
		}
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="balances.csv"`)
	return NewService(rc.Host).ExportBalancesCSV(r.Context(), rc.Caller, userIDs, w)
}

func handleAnalytics(w http.ResponseWriter, r *http.Request, rc *plugin.RequestContext) error {
	stats, err := NewService(rc.Host).Analytics(r.Context(), rc.Caller)
	if err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"currencies": stats})
	return nil
}
