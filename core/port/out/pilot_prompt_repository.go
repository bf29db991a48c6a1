package out

import (
	"context"

	"pilot_server/core/domain"
)

// PromptRepository reads the versioned prompt registry.
type PromptRepository interface {
	// GetActive returns the highest active version for key. A missing
	// active prompt is a configuration error and must surface loudly.
	GetActive(ctx context.Context, key string) (*domain.PromptTemplate, error)
}
