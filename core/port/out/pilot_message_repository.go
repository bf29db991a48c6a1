package out

import (
	"context"
	"time"

	"pilot_server/core/domain"
)

// InboundMessage is the payload persisted when a provider event arrives.
type InboundMessage struct {
	LeadID         int64
	AgentID        string
	Sender         domain.Sender
	Text           string
	Timestamp      time.Time
	GmailMessageID string
	GmailThreadID  string
}

// StatusUpdate is one guarded status mutation. The adapter applies it as a
// conditional write that skips rows whose send_status is already sending
// or sent.
type StatusUpdate struct {
	MessageID        int64
	FromStatus       domain.MessageStatus
	ToStatus         domain.MessageStatus
	ApprovalRequired bool
	Reason           string
}

// MessageRepository persists message rows and their lifecycle.
type MessageRepository interface {
	// UpsertInbound inserts a message row keyed on gmail_message_id;
	// re-delivery of the same provider event updates instead of duplicating.
	UpsertInbound(ctx context.Context, msg *InboundMessage) (*domain.Message, error)

	GetByID(ctx context.Context, id int64) (*domain.Message, error)

	// ListPendingQA returns drafts in qa_recheck_pending from assistant or
	// agent senders, oldest first, capped at limit.
	ListPendingQA(ctx context.Context, limit int) ([]*domain.Message, error)

	// ListThread returns the lead's messages newest-first, capped at limit.
	ListThread(ctx context.Context, leadID int64, limit int) ([]*domain.Message, error)

	GetDraftLink(ctx context.Context, draftMessageID int64) (*domain.DraftLink, error)

	UpdateClassification(ctx context.Context, messageID int64, result *domain.IntentResult) error

	// ApplyStatus performs the guarded conditional update. Returns false
	// when no row changed (already in flight or the from-status moved on).
	ApplyStatus(ctx context.Context, upd *StatusUpdate) (bool, error)

	// Send bookkeeping, all guarded the same way.
	MarkSending(ctx context.Context, messageID int64) (bool, error)
	MarkSent(ctx context.Context, messageID int64, providerMessageID, threadID string) error
	MarkSendFailed(ctx context.Context, messageID int64, reason string) error

	// MarkRejected finalizes a reject after cleanup: status=rejected,
	// visible_to_agent=true.
	MarkRejected(ctx context.Context, messageID int64) error
}
