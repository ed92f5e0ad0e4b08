// Package achievements implements the achievements plugin: admin-defined
// targets over named metrics, per-user progress, and idempotent unlocks.
package achievements

import (
	"time"
)

// Definition types.
const (
	TypeOneShot     = "one-shot"
	TypeIncremental = "incremental"
)

// Metric modes for incremental definitions (config "metricMode").
const (
	ModeCounter   = "counter"
	ModeHighwater = "highwater"
)

// Definition declares one achievement.
type Definition struct {
	Code        string    `db:"code" json:"code"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description,omitempty"`
	Type        string    `db:"type" json:"type"`
	MetricName  string    `db:"metric_name" json:"metricName"`
	Target      int64     `db:"target" json:"target"`
	Active      bool      `db:"active" json:"active"`
	Config      string    `db:"config" json:"config,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// Progress is one user's state toward one definition.
type Progress struct {
	UserID     string     `db:"user_id" json:"userId"`
	Code       string     `db:"code" json:"code"`
	Progress   int64      `db:"progress" json:"progress"`
	UnlockedAt *time.Time `db:"unlocked_at" json:"unlockedAt,omitempty"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updatedAt"`
}

// Unlocked reports whether the achievement has been earned.
func (p Progress) Unlocked() bool { return p.UnlockedAt != nil }

// UserAchievement joins a definition with the user's progress for the
// listing endpoint.
type UserAchievement struct {
	Code        string     `json:"code"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Type        string     `json:"type"`
	MetricName  string     `json:"metricName"`
	Target      int64      `json:"target"`
	Progress    int64      `json:"progress"`
	Unlocked    bool       `json:"unlocked"`
	UnlockedAt  *time.Time `json:"unlockedAt,omitempty"`
}

func validDefinitionType(t string) bool { return t == TypeOneShot || t == TypeIncremental }
