package achievements

import (
	"net/http"

	"github.com/forgeline/gamekernel/internal/httpx"
	"github.com/forgeline/gamekernel/internal/plugin"
)

func handleCreateDefinition(w http.ResponseWriter, r *http.Request, rc *plugin.RequestContext) error {
	var def DefinitionDef
	if err := httpx.Decode(r, &def); err != nil {
		return err
	}
	d, err := NewService(rc.Host).CreateDefinition(r.Context(), rc.Caller, def)
	if err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusCreated, d)
	return nil
}

func handleListDefinitions(w http.ResponseWriter, r *http.Request, rc *plugin.RequestContext) error {
	definitions, err := NewService(rc.Host).ListDefinitions(r.Context())
	if err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"achievements": definitions})
	return nil
}

func handleGetDefinition(w http.ResponseWriter, r *http.Request, rc *plugin.RequestContext) error {
	d, err := NewService(rc.Host).GetDefinition(r.Context(), rc.Params["code"])
	if err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, d)
	return nil
}

type definitionActiveReq struct {
	Active bool `json:"active"`
}

func handleSetDefinitionActive(w http.ResponseWriter, r *http.Request, rc *plugin.RequestContext) error {
	var req definitionActiveReq
	if err := httpx.Decode(r, &req); err != nil {
		return err
	}
	d, err := NewService(rc.Host).SetDefinitionActive(r.Context(), rc.Caller, rc.Params["code"], req.Active)
	if err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, d)
	return nil
}

func handleDeleteDefinition(w http.ResponseWriter, r *http.Request, rc *plugin.RequestContext) error {
	if err := NewService(rc.Host).DeleteDefinition(r.Context(), rc.Caller, rc.Params["code"]); err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"deleted": rc.Params["code"]})
	return nil
}

type progressReq struct {
	UserID     string `json:"userId"`
	MetricName string `json:"metricName"`
	Value      int64  `json:"value"`
}

func handleRecordProgress(w http.ResponseWriter, r *http.Request, rc *plugin.RequestContext) error {
	var req progressReq
	if err := httpx.Decode(r, &req); err != nil {
		return err
	}
	if req.UserID == "" {
		req.UserID = rc.Caller.UserID
	}
	unlocked, err := NewService(rc.Host).RecordProgress(r.Context(), rc.Caller, req.UserID, req.MetricName, req.Value)
	if err != nil {
		return err
	}
	if unlocked == nil {
		unlocked = []string{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"unlocked": unlocked})
	return nil
}

func handleGetUserAchievements(w http.ResponseWriter, r *http.Request, rc *plugin.RequestContext) error {
	achievements, err := NewService(rc.Host).GetUserAchievements(r.Context(), rc.Caller, rc.Params["userId"])
	if err != nil {
		return err
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"userId":       rc.Params["userId"],
		"achievements": achievements,
	})
	return nil
}
