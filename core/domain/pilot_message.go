package domain

import (
	"time"

	"github.com/google/uuid"
)

type Provider string

const (
	MailProviderGmail   Provider = "google" // DB enum: google, outlook
	MailProviderOutlook Provider = "outlook"
)

// Sender identifies who produced a message row.
type Sender string

const (
	SenderUser      Sender = "user"      // the lead writing in
	SenderAgent     Sender = "agent"     // the operator
	SenderAssistant Sender = "assistant" // AI-generated draft
	SenderSystem    Sender = "system"
)

// MessageStatus is the lifecycle state of a message in the pipeline.
type MessageStatus string

const (
	StatusNew              MessageStatus = "new"
	StatusClassified       MessageStatus = "classified"
	StatusDraftPending     MessageStatus = "draft_pending"
	StatusQARecheckPending MessageStatus = "qa_recheck_pending"
	StatusReadyToSend      MessageStatus = "ready_to_send"
	StatusNeedsApproval    MessageStatus = "needs_approval"
	StatusNeedsHuman       MessageStatus = "needs_human"
	StatusReady            MessageStatus = "ready" // operator approved
	StatusRejected         MessageStatus = "rejected"
	StatusSent             MessageStatus = "sent"
	StatusFailed           MessageStatus = "failed"
)

// SendStatus is the transmission sub-state, orthogonal to MessageStatus.
type SendStatus string

const (
	SendPending SendStatus = "pending"
	SendSending SendStatus = "sending"
	SendSent    SendStatus = "sent"
	SendFailed  SendStatus = "failed"
)

// InFlight reports whether a transmission attempt is underway or done.
// Status-mutating writes must skip rows where this holds.
func (s SendStatus) InFlight() bool {
	return s == SendSending || s == SendSent
}

// legalTransitions encodes the message lifecycle. A status absent from the
// map is terminal.
var legalTransitions = map[MessageStatus][]MessageStatus{
	StatusNew:              {StatusClassified, StatusNeedsHuman, StatusRejected},
	StatusClassified:       {StatusDraftPending, StatusNeedsHuman, StatusRejected},
	StatusDraftPending:     {StatusQARecheckPending, StatusNeedsHuman, StatusRejected},
	StatusQARecheckPending: {StatusReadyToSend, StatusNeedsApproval, StatusNeedsHuman, StatusRejected},
	StatusReadyToSend:      {StatusSent, StatusFailed, StatusRejected},
	StatusNeedsApproval:    {StatusReady, StatusRejected, StatusNeedsHuman},
	StatusNeedsHuman:       {StatusReady, StatusRejected},
	StatusReady:            {StatusSent, StatusFailed, StatusRejected},
	StatusFailed:           {StatusReady, StatusReadyToSend, StatusRejected},
}

// CanTransition reports whether moving from -> to is a legal lifecycle step.
func CanTransition(from, to MessageStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Message is one inbound or outbound email event.
type Message struct {
	ID      int64     `json:"id"`
	LeadID  int64     `json:"lead_id"`
	AgentID uuid.UUID `json:"agent_id"`

	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`

	Status           MessageStatus `json:"status"`
	SendStatus       SendStatus    `json:"send_status"`
	ApprovalRequired bool          `json:"approval_required"`
	VisibleToAgent   bool          `json:"visible_to_agent"`

	// Classification (set by the intent classifier)
	EmailType                *string  `json:"email_type,omitempty"`
	ClassificationReason     *string  `json:"classification_reason,omitempty"`
	ClassificationConfidence *float64 `json:"classification_confidence,omitempty"`

	// Provider correlation. GmailMessageID is unique per provider and is
	// the upsert key for webhook re-delivery.
	GmailMessageID *string `json:"gmail_message_id,omitempty"`
	GmailThreadID  *string `json:"gmail_thread_id,omitempty"`

	// Send result
	ProviderMessageID *string `json:"provider_message_id,omitempty"`
	SendError         *string `json:"send_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsDraft reports whether this row is a generated candidate reply.
func (m *Message) IsDraft() bool {
	return m.Sender == SenderAssistant || m.Sender == SenderAgent
}

// DraftLink maps a generated draft message to the inbound message it
// replies to. Its absence is a fail-closed condition for QA.
type DraftLink struct {
	DraftMessageID   int64     `json:"draft_message_id"`
	InboundMessageID int64     `json:"inbound_message_id"`
	CreatedAt        time.Time `json:"created_at"`
}

// MessageBody holds the full body of a message, stored out of Postgres.
type MessageBody struct {
	MessageID int64  `json:"message_id"`
	TextBody  string `json:"text_body"`
	HTMLBody  string `json:"html_body"`
}
