// Package persistence provides database adapters implementing outbound ports.
package persistence

import (
	"context"
	"database/sql"
	"time"

	"pilot_server/core/domain"
	"pilot_server/core/port/out"
	"pilot_server/pkg/snowflake"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// MessageAdapter implements out.MessageRepository using PostgreSQL.
type MessageAdapter struct {
	db *sqlx.DB
}

// NewMessageAdapter creates a new MessageAdapter.
func NewMessageAdapter(db *sqlx.DB) *MessageAdapter {
	return &MessageAdapter{db: db}
}

// messageRow represents the database row for messages.
type messageRow struct {
	ID      int64     `db:"id"`
	LeadID  int64     `db:"lead_id"`
	AgentID uuid.UUID `db:"agent_id"`

	Sender    string    `db:"sender"`
	Text      string    `db:"text"`
	Timestamp time.Time `db:"timestamp"`

	Status           string `db:"status"`
	SendStatus       string `db:"send_status"`
	ApprovalRequired bool   `db:"approval_required"`
	VisibleToAgent   bool   `db:"visible_to_agent"`

	EmailType                sql.NullString  `db:"email_type"`
	ClassificationReason     sql.NullString  `db:"classification_reason"`
	ClassificationConfidence sql.NullFloat64 `db:"classification_confidence"`

	GmailMessageID sql.NullString `db:"gmail_message_id"`
	GmailThreadID  sql.NullString `db:"gmail_thread_id"`

	ProviderMessageID sql.NullString `db:"provider_message_id"`
	SendError         sql.NullString `db:"send_error"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

const messageColumns = `
	id, lead_id, agent_id, sender, text, timestamp,
	status, send_status, approval_required, visible_to_agent,
	email_type, classification_reason, classification_confidence,
	gmail_message_id, gmail_thread_id, provider_message_id, send_error,
	created_at, updated_at
`

func (r *messageRow) toDomain() *domain.Message {
	msg := &domain.Message{
		ID:               r.ID,
		LeadID:           r.LeadID,
		AgentID:          r.AgentID,
		Sender:           domain.Sender(r.Sender),
		Text:             r.Text,
		Timestamp:        r.Timestamp,
		Status:           domain.MessageStatus(r.Status),
		SendStatus:       domain.SendStatus(r.SendStatus),
		ApprovalRequired: r.ApprovalRequired,
		VisibleToAgent:   r.VisibleToAgent,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}

	if r.EmailType.Valid {
		msg.EmailType = &r.EmailType.String
	}
	if r.ClassificationReason.Valid {
		msg.ClassificationReason = &r.ClassificationReason.String
	}
	if r.ClassificationConfidence.Valid {
		msg.ClassificationConfidence = &r.ClassificationConfidence.Float64
	}
	if r.GmailMessageID.Valid {
		msg.GmailMessageID = &r.GmailMessageID.String
	}
	if r.GmailThreadID.Valid {
		msg.GmailThreadID = &r.GmailThreadID.String
	}
	if r.ProviderMessageID.Valid {
		msg.ProviderMessageID = &r.ProviderMessageID.String
	}
	if r.SendError.Valid {
		msg.SendError = &r.SendError.String
	}

	return msg
}

// UpsertInbound inserts a message keyed on gmail_message_id. Webhook
// re-delivery hits the conflict arm, refreshes the text, and leaves the
// lifecycle columns untouched.
func (a *MessageAdapter) UpsertInbound(ctx context.Context, msg *out.InboundMessage) (*domain.Message, error) {
	const query = `
		INSERT INTO messages (
			id, lead_id, agent_id, sender, text, timestamp,
			status, send_status, approval_required, visible_to_agent,
			gmail_message_id, gmail_thread_id, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			'new', 'pending', false, true,
			$7, $8, NOW(), NOW()
		)
		ON CONFLICT (gmail_message_id) DO UPDATE SET
			text = EXCLUDED.text,
			updated_at = NOW()
		RETURNING ` + messageColumns

	agentID, err := uuid.Parse(msg.AgentID)
	if err != nil {
		return nil, err
	}

	var row messageRow
	err = a.db.GetContext(ctx, &row, query,
		snowflake.ID(),
		msg.LeadID,
		agentID,
		string(msg.Sender),
		msg.Text,
		msg.Timestamp,
		nullString(msg.GmailMessageID),
		nullString(msg.GmailThreadID),
	)
	if err != nil {
		return nil, err
	}

	return row.toDomain(), nil
}

// GetByID retrieves one message, or nil when it does not exist.
func (a *MessageAdapter) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	const query = `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

	var row messageRow
	if err := a.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return row.toDomain(), nil
}

// ListPendingQA returns generated drafts awaiting a QA verdict, oldest first.
func (a *MessageAdapter) ListPendingQA(ctx context.Context, limit int) ([]*domain.Message, error) {
	const query = `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE status = 'qa_recheck_pending'
		  AND sender IN ('assistant', 'agent')
		ORDER BY created_at ASC
		LIMIT $1
	`

	var rows []messageRow
	if err := a.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, err
	}

	messages := make([]*domain.Message, 0, len(rows))
	for i := range rows {
		messages = append(messages, rows[i].toDomain())
	}
	return messages, nil
}

// ListThread returns the lead's messages newest-first, capped at limit.
func (a *MessageAdapter) ListThread(ctx context.Context, leadID int64, limit int) ([]*domain.Message, error) {
	const query = `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE lead_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`

	var rows []messageRow
	if err := a.db.SelectContext(ctx, &rows, query, leadID, limit); err != nil {
		return nil, err
	}

	messages := make([]*domain.Message, 0, len(rows))
	for i := range rows {
		messages = append(messages, rows[i].toDomain())
	}
	return messages, nil
}

// GetDraftLink returns the inbound linkage for a draft, or nil.
func (a *MessageAdapter) GetDraftLink(ctx context.Context, draftMessageID int64) (*domain.DraftLink, error) {
	const query = `
		SELECT draft_message_id, inbound_message_id, created_at
		FROM draft_links
		WHERE draft_message_id = $1
	`

	var link domain.DraftLink
	err := a.db.QueryRowxContext(ctx, query, draftMessageID).
		Scan(&link.DraftMessageID, &link.InboundMessageID, &link.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return &link, nil
}

// UpdateClassification stores the intent result on the message row.
func (a *MessageAdapter) UpdateClassification(ctx context.Context, messageID int64, result *domain.IntentResult) error {
	const query = `
		UPDATE messages SET
			email_type = $1,
			classification_reason = $2,
			classification_confidence = $3,
			entities = $4,
			updated_at = NOW()
		WHERE id = $5
	`

	var entities []byte
	if len(result.Entities) > 0 {
		data, err := json.Marshal(result.Entities)
		if err != nil {
			return err
		}
		entities = data
	}

	_, err := a.db.ExecContext(ctx, query,
		string(result.Intent),
		nullString(result.Reason),
		result.Confidence,
		entities,
		messageID,
	)
	return err
}

// ApplyStatus performs the guarded conditional update: the row must still
// be in the expected from-status and must not have a transmission attempt
// underway or completed. Returns false when no row changed.
func (a *MessageAdapter) ApplyStatus(ctx context.Context, upd *out.StatusUpdate) (bool, error) {
	const query = `
		UPDATE messages SET
			status = $1,
			approval_required = $2,
			classification_reason = COALESCE($3, classification_reason),
			updated_at = NOW()
		WHERE id = $4
		  AND status = $5
		  AND send_status NOT IN ('sending', 'sent')
	`

	res, err := a.db.ExecContext(ctx, query,
		string(upd.ToStatus),
		upd.ApprovalRequired,
		nullString(upd.Reason),
		upd.MessageID,
		string(upd.FromStatus),
	)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// MarkSending claims the message for transmission. The claim succeeds only
// from a sendable status with no attempt already in flight.
func (a *MessageAdapter) MarkSending(ctx context.Context, messageID int64) (bool, error) {
	const query = `
		UPDATE messages SET
			send_status = 'sending',
			updated_at = NOW()
		WHERE id = $1
		  AND status IN ('ready_to_send', 'ready')
		  AND send_status NOT IN ('sending', 'sent')
	`

	res, err := a.db.ExecContext(ctx, query, messageID)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// MarkSent records a completed transmission.
func (a *MessageAdapter) MarkSent(ctx context.Context, messageID int64, providerMessageID, threadID string) error {
	const query = `
		UPDATE messages SET
			status = 'sent',
			send_status = 'sent',
			provider_message_id = $1,
			gmail_thread_id = COALESCE($2, gmail_thread_id),
			send_error = NULL,
			updated_at = NOW()
		WHERE id = $3
	`

	_, err := a.db.ExecContext(ctx, query, providerMessageID, nullString(threadID), messageID)
	return err
}

// MarkSendFailed records a failed transmission. The message becomes
// retryable: status failed, send_status failed.
func (a *MessageAdapter) MarkSendFailed(ctx context.Context, messageID int64, reason string) error {
	const query = `
		UPDATE messages SET
			status = 'failed',
			send_status = 'failed',
			send_error = $1,
			updated_at = NOW()
		WHERE id = $2
		  AND send_status <> 'sent'
	`

	_, err := a.db.ExecContext(ctx, query, reason, messageID)
	return err
}

// MarkRejected finalizes a reject after cleanup.
func (a *MessageAdapter) MarkRejected(ctx context.Context, messageID int64) error {
	const query = `
		UPDATE messages SET
			status = 'rejected',
			visible_to_agent = true,
			updated_at = NOW()
		WHERE id = $1
		  AND send_status NOT IN ('sending', 'sent')
	`

	_, err := a.db.ExecContext(ctx, query, messageID)
	return err
}

// nullString converts empty string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Ensure MessageAdapter implements out.MessageRepository
var _ out.MessageRepository = (*MessageAdapter)(nil)
