package in

import (
	"context"
)

// OutlookChange is one entry from a Graph notification payload.
type OutlookChange struct {
	SubscriptionID string `json:"subscriptionId"`
	ClientState    string `json:"clientState"`
	ChangeType     string `json:"changeType"`
	LifecycleEvent string `json:"lifecycleEvent"`
	Resource       string `json:"resource"`
}

// WatchService keeps push subscriptions alive and turns provider
// notifications into backfill flags.
type WatchService interface {
	// SetupWatch creates or replaces the subscription for one connection.
	SetupWatch(ctx context.Context, connectionID int64) error

	// SetupAllConnections ensures every connected mailbox has a live
	// subscription. Called once on worker start.
	SetupAllConnections(ctx context.Context) error

	// RenewExpiring renews every subscription under the renewal threshold.
	RenewExpiring(ctx context.Context) error

	StopWatch(ctx context.Context, connectionID int64) error

	// HandleGmailNotification processes a decoded Pub/Sub push for the
	// given mailbox address.
	HandleGmailNotification(ctx context.Context, emailAddress string, historyID uint64) error

	// HandleOutlookChange processes one Graph notification entry,
	// distinguishing lifecycle sub-events.
	HandleOutlookChange(ctx context.Context, change *OutlookChange) error
}
