package out

import (
	"context"
	"time"

	"github.com/google/uuid"

	"pilot_server/core/domain"
)

// WatchUpdate records the result of a watch/subscription call.
type WatchUpdate struct {
	ConnectionID   int64
	SubscriptionID string
	ClientState    string
	ExpiresAt      time.Time
	WatchActive    bool
}

// ConnectionRepository persists (agent, provider) mailbox links.
type ConnectionRepository interface {
	// Upsert inserts a connection keyed on (agent_id, provider).
	Upsert(ctx context.Context, conn *domain.EmailConnection) (*domain.EmailConnection, error)

	GetByID(ctx context.Context, id int64) (*domain.EmailConnection, error)
	GetByAgentProvider(ctx context.Context, agentID uuid.UUID, provider domain.Provider) (*domain.EmailConnection, error)
	GetBySubscriptionID(ctx context.Context, subscriptionID string) (*domain.EmailConnection, error)
	GetByAccountEmail(ctx context.Context, accountEmail string) (*domain.EmailConnection, error)

	// ListConnected returns every connection eligible for a live watch.
	ListConnected(ctx context.Context) ([]*domain.EmailConnection, error)

	// ListExpiring returns connections whose watch expires before the given
	// time, or has no known expiration, errored connections first.
	ListExpiring(ctx context.Context, before time.Time) ([]*domain.EmailConnection, error)

	UpdateWatch(ctx context.Context, upd *WatchUpdate) error
	UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string, expiry *time.Time) error

	// SetNeedsBackfill flags the connection and clears last_error.
	SetNeedsBackfill(ctx context.Context, id int64) error

	SetWatchInactive(ctx context.Context, id int64) error
	SetLastError(ctx context.Context, id int64, marker string) error
}
