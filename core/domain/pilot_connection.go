package domain

import (
	"time"

	"github.com/google/uuid"
)

// ConnectionStatus is the lifecycle state of a mailbox link.
type ConnectionStatus string

const (
	ConnectionPending   ConnectionStatus = "pending"
	ConnectionConnected ConnectionStatus = "connected"
	ConnectionActive    ConnectionStatus = "active"
	ConnectionWatching  ConnectionStatus = "watching"
	ConnectionError     ConnectionStatus = "error"
)

// Markers stored in LastError by the webhook handler. A renewal job
// prioritizes connections carrying one of these.
const (
	ErrInvalidClientState  = "invalid_client_state"
	ErrReauthRequired      = "reauthorization_required"
	ErrSubscriptionRemoved = "subscription_removed"
)

// EmailConnection is one (agent, provider) mailbox link. Tokens are owned
// exclusively by this row and never shared across agents.
type EmailConnection struct {
	ID      int64     `json:"id"`
	AgentID uuid.UUID `json:"agent_id"`

	Provider     Provider `json:"provider"`
	AccountEmail string   `json:"account_email"`

	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	TokenExpiry  *time.Time `json:"token_expiry,omitempty"`

	Status ConnectionStatus `json:"status"`

	// Watch/subscription bookkeeping
	WatchActive    bool       `json:"watch_active"`
	SubscriptionID *string    `json:"subscription_id,omitempty"` // Outlook subscription / Gmail historyId
	ClientState    *string    `json:"-"`                         // anti-spoofing secret set at subscription creation
	WatchExpiresAt *time.Time `json:"watch_expires_at,omitempty"`

	LastError     *string `json:"last_error,omitempty"`
	NeedsBackfill bool    `json:"needs_backfill"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NeedsRenewal reports whether the watch must be renewed: less than
// threshold remaining, or expiration unknown.
func (c *EmailConnection) NeedsRenewal(threshold time.Duration) bool {
	if c.WatchExpiresAt == nil {
		return true
	}
	return time.Now().Add(threshold).After(*c.WatchExpiresAt)
}

// IsWatchExpired reports whether the subscription has already lapsed.
func (c *EmailConnection) IsWatchExpired() bool {
	return c.WatchExpiresAt != nil && time.Now().After(*c.WatchExpiresAt)
}
