package leaderboards

import (
	"net/http"
	"strconv"

	"github.com/forgeline/gamekernel/internal/httpx"
	"github.com/forgeline/gamekernel/internal/plugin"
)

func handleCreateBoard(w http.ResponseWriter, r *http.Request, rc *plugin.RequestContext) error {
	var def BoardDef
	if err := httpx.Decode(r, &def); err != nil {
		return err
	}
	board, err := NewService(rc.Host).CreateBoard(r.Context(), rc.Caller, def)
	if err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusCreated, board)
	return nil
}

func handleListBoards(w http.ResponseWriter, r *http.Request, rc *plugin.RequestContext) error {
	boards, err := NewService(rc.Host).ListBoards(r.Context())
	if err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"boards": boards})
	return nil
}

func handleGetBoard(w http.ResponseWriter, r *http.Request, rc *plugin.RequestContext) error {
	board, err := NewService(rc.Host).GetBoard(r.Context(), rc.Params["boardId"])
	if err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, board)
	return nil
}

type boardActiveReq struct {
	Active bool `json:"active"`
}

func handleSetBoardActive(w http.ResponseWriter, r *http.Request, rc *plugin.RequestContext) error {
	var req boardActiveReq
	if err := httpx.Decode(r, &req); err != nil {
		return err
	}
	board, err := NewService(rc.Host).SetBoardActive(r.Context(), rc.Caller, rc.Params["boardId"], req.Active)
	if err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, board)
	return nil
}

func handleDeleteBoard(w http.ResponseWriter, r *http.Request, rc *plugin.RequestContext) error {
	if err := NewService(rc.Host).DeleteBoard(r.Context(), rc.Caller, rc.Params["boardId"]); err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"deleted": rc.Params["boardId"]})
	return nil
}

type submitReq struct {
	UserID   string `json:"userId"`
	Score    int64  `json:"score"`
	Metadata any    `json:"metadata"`
}

func handleSubmit(w http.ResponseWriter, r *http.Request, rc *plugin.RequestContext) error {
	var req submitReq
	if err := httpx.Decode(r, &req); err != nil {
		return err
	}
	if req.UserID == "" {
		req.UserID = rc.Caller.UserID
	}
	result, err := NewService(rc.Host).Submit(r.Context(), rc.Caller, rc.Params["boardId"], req.UserID, req.Score, req.Metadata)
	if err != nil {
		return err
	}
	status := http.StatusCreated
	if !result.Accepted {
		status = http.StatusOK
	}
	httpx.WriteJSON(w, status, result)
	return nil
}

func handleRankings(w http.ResponseWriter, r *http.Request, rc *plugin.RequestContext) error {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	entries, err := NewService(rc.Host).Rankings(r.Context(), rc.Params["boardId"], limit, offset)
	if err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"boardId": rc.Params["boardId"],
		"entries": entries,
	})
	return nil
}

func handleUserRank(w http.ResponseWriter, r *http.Request, rc *plugin.RequestContext) error {
	entry, err := NewService(rc.Host).UserRank(r.Context(), rc.Params["boardId"], rc.Params["userId"])
	if err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"boardId": rc.Params["boardId"],
		"userId":  rc.Params["userId"],
		"entry":   entry,
	})
	return nil
}

func handleSurrounding(w http.ResponseWriter, r *http.Request, rc *plugin.RequestContext) error {
	window, _ := strconv.Atoi(r.URL.Query().Get("range"))
	entries, err := NewService(rc.Host).Surrounding(r.Context(), rc.Params["boardId"], rc.Params["userId"], window)
	if err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"boardId": rc.Params["boardId"],
		"entries": entries,
	})
	return nil
}

func handleDeleteEntry(w http.ResponseWriter, r *http.Request, rc *plugin.RequestContext) error {
	err := NewService(rc.Host).DeleteEntry(r.Context(), rc.Caller, rc.Params["boardId"], rc.Params["userId"])
	if err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"deleted": rc.Params["userId"]})
	return nil
}

func handleArchive(w http.ResponseWriter, r *http.Request, rc *plugin.RequestContext) error {
	entries, err := NewService(rc.Host).ArchivedEntries(r.Context(), rc.Params["boardId"], r.URL.Query().Get("period"))
	if err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"boardId": rc.Params["boardId"],
		"entries": entries,
	})
	return nil
}
