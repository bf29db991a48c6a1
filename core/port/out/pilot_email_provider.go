package out

import (
	"context"
	"time"

	"pilot_server/core/domain"
)

// WatchResult is the provider's answer to a watch/subscription call.
type WatchResult struct {
	SubscriptionID string
	ClientState    string
	ExpiresAt      time.Time
}

// SendResult is the provider's answer to a send call.
type SendResult struct {
	ProviderMessageID string
	ThreadID          string
}

// OutboundMessage is a fully-formed payload handed to the provider. MIME
// construction happens upstream.
type OutboundMessage struct {
	To       string
	Subject  string
	Body     string
	ThreadID string
	RawMIME  []byte
}

// EmailProvider is one mail provider's API surface: push subscription
// lifecycle plus send. Failures carry the provider HTTP status so callers
// can split rate limits from other upstream errors.
type EmailProvider interface {
	// Watch creates (or replaces) the push subscription for the mailbox.
	Watch(ctx context.Context, conn *domain.EmailConnection) (*WatchResult, error)

	// Renew extends an existing subscription. Callers fall back to Watch
	// when renewal fails.
	Renew(ctx context.Context, conn *domain.EmailConnection) (*WatchResult, error)

	StopWatch(ctx context.Context, conn *domain.EmailConnection) error

	Send(ctx context.Context, conn *domain.EmailConnection, msg *OutboundMessage) (*SendResult, error)
}
