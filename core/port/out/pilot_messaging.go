package out

import (
	"context"
	"time"
)

// BackfillJob asks the out-of-process fetcher to catch a mailbox up after
// a webhook notification.
type BackfillJob struct {
	ConnectionID int64     `json:"connection_id"`
	AgentID      string    `json:"agent_id"`
	Provider     string    `json:"provider"`
	Reason       string    `json:"reason"`
	NotifiedAt   time.Time `json:"notified_at"`
}

// MessageProducer publishes pipeline jobs. Publication is best-effort:
// callers log failures and never block an acknowledgment on it.
type MessageProducer interface {
	PublishBackfill(ctx context.Context, job *BackfillJob) error
}
