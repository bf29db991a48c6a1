package out

import (
	"context"

	"github.com/google/uuid"

	"pilot_server/core/domain"
)

// SettingsRepository reads per-operator policy. Settings are mutated only
// through operator-facing endpoints elsewhere; the pipeline reads them.
type SettingsRepository interface {
	// GetByAgentID returns the agent's settings, or defaults when no row
	// exists.
	GetByAgentID(ctx context.Context, agentID uuid.UUID) (*domain.AgentSettings, error)
}
