package persistence

import (
	"context"
	"database/sql"
	"time"

	"pilot_server/core/domain"
	"pilot_server/core/port/out"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// SettingsAdapter implements out.SettingsRepository using PostgreSQL.
type SettingsAdapter struct {
	db *sqlx.DB
}

// NewSettingsAdapter creates a new SettingsAdapter.
func NewSettingsAdapter(db *sqlx.DB) *SettingsAdapter {
	return &SettingsAdapter{db: db}
}

// agentSettingsRow represents the database row for agent settings.
type agentSettingsRow struct {
	ID      int64     `db:"id"`
	AgentID uuid.UUID `db:"agent_id"`

	AutosendEnabled       bool    `db:"autosend_enabled"`
	ReplyMode             string  `db:"reply_mode"`
	AutoSendMinConfidence float64 `db:"auto_send_min_confidence"`

	FollowupsEnabled      bool `db:"followups_enabled"`
	FollowupsMaxCount     int  `db:"followups_max_count"`
	FollowupsIntervalDays int  `db:"followups_interval_days"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r *agentSettingsRow) toDomain() *domain.AgentSettings {
	return &domain.AgentSettings{
		ID:                    r.ID,
		AgentID:               r.AgentID,
		AutosendEnabled:       r.AutosendEnabled,
		ReplyMode:             domain.ReplyMode(r.ReplyMode),
		AutoSendMinConfidence: r.AutoSendMinConfidence,
		FollowupsEnabled:      r.FollowupsEnabled,
		FollowupsMaxCount:     r.FollowupsMaxCount,
		FollowupsIntervalDays: r.FollowupsIntervalDays,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}
}

// GetByAgentID retrieves the agent's settings. An agent with no stored row
// gets the approval-everything defaults.
func (a *SettingsAdapter) GetByAgentID(ctx context.Context, agentID uuid.UUID) (*domain.AgentSettings, error) {
	const query = `
		SELECT id, agent_id, autosend_enabled, reply_mode, auto_send_min_confidence,
		       followups_enabled, followups_max_count, followups_interval_days,
		       created_at, updated_at
		FROM agent_settings
		WHERE agent_id = $1
	`

	var row agentSettingsRow
	if err := a.db.GetContext(ctx, &row, query, agentID); err != nil {
		if err == sql.ErrNoRows {
			return domain.DefaultAgentSettings(agentID), nil
		}
		return nil, err
	}

	return row.toDomain(), nil
}

// Ensure SettingsAdapter implements out.SettingsRepository
var _ out.SettingsRepository = (*SettingsAdapter)(nil)
