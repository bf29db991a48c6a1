package in

import (
	"context"
	"time"

	"pilot_server/core/domain"

	"github.com/google/uuid"
)

// IngestRequest carries one inbound provider event into the pipeline.
type IngestRequest struct {
	LeadID         int64     `json:"lead_id"`
	AgentID        uuid.UUID `json:"agent_id"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
	GmailMessageID string    `json:"gmail_message_id"`
	GmailThreadID  string    `json:"gmail_thread_id"`
}

// QARunReport summarizes one QA recheck batch invocation.
type QARunReport struct {
	Scanned   int `json:"scanned"`
	Evaluated int `json:"evaluated"`
	Skipped   int `json:"skipped"`
	Routed    int `json:"routed"`
}

// PipelineService drives a message through its lifecycle states.
type PipelineService interface {
	// Ingest upserts the inbound event and runs intent classification.
	Ingest(ctx context.Context, req *IngestRequest) (*domain.Message, error)

	// RunQARecheck evaluates one bounded batch of pending drafts.
	RunQARecheck(ctx context.Context) (*QARunReport, error)

	// Approve moves a parked message to ready; Reject runs the ordered
	// cleanup and marks it rejected. Both verify agent ownership.
	Approve(ctx context.Context, agentID uuid.UUID, messageID int64) (*domain.Message, error)
	Reject(ctx context.Context, agentID uuid.UUID, messageID int64) (*domain.Message, error)

	// Send bookkeeping used by the external send adapter.
	MarkSending(ctx context.Context, messageID int64) error
	MarkSent(ctx context.Context, messageID int64, providerMessageID, threadID string) error
	MarkSendFailed(ctx context.Context, messageID int64, reason string) error
}
