package achievements

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

// Service executes achievement operations against one project's store.
type Service struct {
	host *plugin.Host
}

func NewService(host *plugin.Host) *Service {
	return &Service{host: host}
}

// DefinitionDef is the creation payload.
type DefinitionDef struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
	MetricName  string `json:"metricName"`
	Target      int64  `json:"target"`
	Config      any    `json:"config"`
}

// CreateDefinition registers an achievement. Admin only.
func (s *Service) CreateDefinition(ctx context.Context, caller plugin.Caller, def DefinitionDef) (Definition, error) {
	if !caller.IsAdmin {
		return Definition{}, apperr.Forbidden("creating achievements requires admin")
	}
	def.Code = strings.TrimSpace(def.Code)
	if def.Code == "" {
		return Definition{}, apperr.BadRequest("achievement code is required")
	}
	if def.Type == "" {
		def.Type = TypeOneShot
	}
	if !validDefinitionType(def.Type) {
		return Definition{}, apperr.BadRequest("type must be one-shot or incremental")
	}
	if strings.TrimSpace(def.MetricName) == "" {
		return Definition{}, apperr.BadRequest("metricName is required")
	}
	if def.Target <= 0 {
		return Definition{}, apperr.BadRequest("target must be positive")
	}
	if _, err := s.GetDefinition(ctx, def.Code); err == nil {
		return Definition{}, apperr.Conflict("achievement %s already exists", def.Code)
	} else if apperr.KindOf(err) != apperr.KindNotFound {
		return Definition{}, err
	}

	config := "{}"
	if def.Config != nil {
		raw, err := json.Marshal(def.Config)
		if err != nil {
			return Definition{}, apperr.BadRequest("config is not serializable").Wrap(err)
		}
		config = string(raw)
	}

	d := Definition{
		Code:        def.Code,
		Name:        def.Name,
		Description: def.Description,
		Type:        def.Type,
		MetricName:  def.MetricName,
		Target:      def.Target,
		Active:      true,
		Config:      config,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.host.DB.Exec(ctx, `
		INSERT INTO plugin_achievements_definitions
			(code, name, description, type, metric_name, target, active, config, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.Code, d.Name, d.Description, d.Type, d.MetricName, d.Target, d.Active, d.Config, d.CreatedAt)
	if err != nil {
		return Definition{}, fmt.Errorf("create achievement: %w", err)
	}
	s.host.Log.Info().Str("achievement", d.Code).Msg("achievement created")
	return d, nil
}

// GetDefinition looks up one achievement by code.
func (s *Service) GetDefinition(ctx context.Context, code string) (Definition, error) {
	var d Definition
	err := s.host.DB.QueryOne(ctx, &d, `
		SELECT code, name, description, type, metric_name, target, active, config, created_at
		FROM plugin_achievements_definitions WHERE code = ?
	`, code)
	if errors.Is(err, sql.ErrNoRows) {
		return Definition{}, apperr.NotFound("achievement %s not found", code)
	}
	if err != nil {
		return Definition{}, err
	}
	return d, nil
}

// ListDefinitions returns every achievement ordered by code.
func (s *Service) ListDefinitions(ctx context.Context) ([]Definition, error) {
	var out []Definition
	err := s.host.DB.Query(ctx, &out, `
		SELECT code, name, description, type, metric_name, target, active, config, created_at
		FROM plugin_achievements_definitions ORDER BY code
	`)
	return out, err
}

// SetDefinitionActive toggles an achievement. Inactive definitions ignore
// recordProgress but keep earned unlocks visible.
func (s *Service) SetDefinitionActive(ctx context.Context, caller plugin.Caller, code string, active bool) (Definition, error) {
	if !caller.IsAdmin {
		return Definition{}, apperr.Forbidden("updating achievements requires admin")
	}
	d, err := s.GetDefinition(ctx, code)
	if err != nil {
		return Definition{}, err
	}
	d.Active = active
	_, err = s.host.DB.Exec(ctx, `
		UPDATE plugin_achievements_definitions SET active = ? WHERE code = ?
	`, active, code)
	return d, err
}

// DeleteDefinition removes an achievement and all progress toward it.
func (s *Service) DeleteDefinition(ctx context.Context, caller plugin.Caller, code string) error {
	if !caller.IsAdmin {
		return apperr.Forbidden("deleting achievements requires admin")
	}
	if _, err := s.GetDefinition(ctx, code); err != nil {
		return err
	}
	return s.host.DB.Transaction(ctx, func(ctx context.Context, tx *storage.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM plugin_achievements_progress WHERE code = ?`, code); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM plugin_achievements_definitions WHERE code = ?`, code)
		return err
	})
}

// metricMode reads an incremental definition's accumulation mode.
func metricMode(d Definition) string {
	if gjson.Get(d.Config, "metricMode").String() == ModeHighwater {
		return ModeHighwater
	}
	return ModeCounter
}

// RecordProgress advances the user's progress on every active definition
// watching the metric, unlocking those whose target is reached. Progress
// update and unlock commit atomically; the returned codes are only the
// newly unlocked ones.
func (s *Service) RecordProgress(ctx context.Context, caller plugin.Caller, userID, metricName string, value int64) ([]string, error) {
	if !caller.IsAdmin && caller.UserID != userID {
		return nil, apperr.Forbidden("caller may only record their own progress")
	}
	if value < 0 {
		return nil, apperr.BadRequest("value must be >= 0")
	}

	var definitions []Definition
	if err := s.host.DB.Query(ctx, &definitions, `
		SELECT code, name, description, type, metric_name, target, active, config, created_at
		FROM plugin_achievements_definitions
		WHERE metric_name = ? AND active = 1
		ORDER BY code
	`, metricName); err != nil {
		return nil, err
	}
	if len(definitions) == 0 {
		return nil, nil
	}

	var unlocked []string
	err := s.host.DB.Transaction(ctx, func(ctx context.Context, tx *storage.Tx) error {
		now := time.Now().UTC()
		for _, d := range definitions {
			newly, err := advance(ctx, tx, d, userID, value, now)
			if err != nil {
				return err
			}
			if newly {
				unlocked = append(unlocked, d.Code)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(unlocked) > 0 {
		s.host.Log.Info().Str("user", userID).Strs("unlocked", unlocked).Msg("achievements unlocked")
	}
	return unlocked, nil
}

// advance applies one reported value to one definition. Returns true only
// when this call transitions the row to unlocked.
func advance(ctx context.Context, tx *storage.Tx, d Definition, userID string, value int64, now time.Time) (bool, error) {
	var p Progress
	err := tx.QueryOne(ctx, &p, `
		SELECT user_id, code, progress, unlocked_at, updated_at
		FROM plugin_achievements_progress WHERE user_id = ? AND code = ?
	`, userID, d.Code)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		p = Progress{UserID: userID, Code: d.Code}
		if _, err := tx.Exec(ctx, `
			INSERT INTO plugin_achievements_progress (user_id, code, progress, updated_at)
			VALUES (?, ?, 0, ?)
			ON CONFLICT (user_id, code) DO NOTHING
		`, userID, d.Code, now); err != nil {
			return false, err
		}
	case err != nil:
		return false, err
	}

	if p.Unlocked() {
		return false, nil
	}

	next := p.Progress
	switch {
	case d.Type == TypeOneShot:
		if value > next {
			next = value
		}
	case metricMode(d) == ModeHighwater:
		if value > next {
			next = value
		}
	default: // counter
		next += value
	}

	var unlockedAt *time.Time
	if next >= d.Target {
		unlockedAt = &now
	}
	if _, err := tx.Exec(ctx, `
		UPDATE plugin_achievements_progress
		SET progress = ?, unlocked_at = COALESCE(unlocked_at, ?), updated_at = ?
		WHERE user_id = ? AND code = ?
	`, next, unlockedAt, now, userID, d.Code); err != nil {
		return false, err
	}
	return unlockedAt != nil, nil
}

// GetUserAchievements returns progress and unlock state for every
// definition, including those the user has never touched.
func (s *Service) GetUserAchievements(ctx context.Context, caller plugin.Caller, userID string) ([]UserAchievement, error) {
	if !caller.IsAdmin && caller.UserID != userID {
		return nil, apperr.Forbidden("caller may only view their own achievements")
	}

	definitions, err := s.ListDefinitions(ctx)
	if err != nil {
		return nil, err
	}

	var rows []Progress
	if err := s.host.DB.Query(ctx, &rows, `
		SELECT user_id, code, progress, unlocked_at, updated_at
		FROM plugin_achievements_progress WHERE user_id = ?
	`, userID); err != nil {
		return nil, err
	}
	byCode := make(map[string]Progress, len(rows))
	for _, p := range rows {
		byCode[p.Code] = p
	}

	out := make([]UserAchievement, 0, len(definitions))
	for _, d := range definitions {
		ua := UserAchievement{
			Code:        d.Code,
			Name:        d.Name,
			Description: d.Description,
			Type:        d.Type,
			MetricName:  d.MetricName,
			Target:      d.Target,
		}
		if p, ok := byCode[d.Code]; ok {
			ua.Progress = p.Progress
			ua.Unlocked = p.Unlocked()
			ua.UnlockedAt = p.UnlockedAt
		}
		out = append(out, ua)
	}
	return out, nil
}
