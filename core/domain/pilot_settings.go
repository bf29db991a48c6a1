package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReplyMode controls how passing drafts leave the pipeline.
type ReplyMode string

const (
	ReplyModeApproval ReplyMode = "approval"
	ReplyModeAuto     ReplyMode = "auto"
)

// AgentSettings is per-operator policy, read-only input to the pipeline.
type AgentSettings struct {
	ID      int64     `json:"id"`
	AgentID uuid.UUID `json:"agent_id"`

	AutosendEnabled bool      `json:"autosend_enabled"`
	ReplyMode       ReplyMode `json:"reply_mode"`

	// AutoSendMinConfidence is stored and exposed but does not currently
	// gate the verdict transition; only AutosendEnabled does.
	AutoSendMinConfidence float64 `json:"auto_send_min_confidence"`

	FollowupsEnabled      bool `json:"followups_enabled"`
	FollowupsMaxCount     int  `json:"followups_max_count"`
	FollowupsIntervalDays int  `json:"followups_interval_days"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultAgentSettings returns the policy applied to operators with no
// stored settings row: everything through human approval.
func DefaultAgentSettings(agentID uuid.UUID) *AgentSettings {
	return &AgentSettings{
		AgentID:               agentID,
		AutosendEnabled:       false,
		ReplyMode:             ReplyModeApproval,
		AutoSendMinConfidence: 0.8,
		FollowupsEnabled:      false,
		FollowupsMaxCount:     2,
		FollowupsIntervalDays: 3,
	}
}
