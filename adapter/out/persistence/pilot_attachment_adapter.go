package persistence

import (
	"context"
	"time"

	"pilot_server/core/domain"
	"pilot_server/core/port/out"

	"github.com/jmoiron/sqlx"
)

// AttachmentAdapter implements out.AttachmentRepository using PostgreSQL.
type AttachmentAdapter struct {
	db *sqlx.DB
}

// NewAttachmentAdapter creates a new AttachmentAdapter.
func NewAttachmentAdapter(db *sqlx.DB) *AttachmentAdapter {
	return &AttachmentAdapter{db: db}
}

// attachmentRow represents the database row for attachments.
type attachmentRow struct {
	ID          int64     `db:"id"`
	MessageID   int64     `db:"message_id"`
	Filename    string    `db:"filename"`
	MimeType    string    `db:"mime_type"`
	Size        int64     `db:"size"`
	StoragePath string    `db:"storage_path"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r *attachmentRow) toDomain() *domain.Attachment {
	return &domain.Attachment{
		ID:          r.ID,
		MessageID:   r.MessageID,
		Filename:    r.Filename,
		MimeType:    r.MimeType,
		Size:        r.Size,
		StoragePath: r.StoragePath,
		CreatedAt:   r.CreatedAt,
	}
}

// ListByMessageID returns all attachment rows for a message.
func (a *AttachmentAdapter) ListByMessageID(ctx context.Context, messageID int64) ([]*domain.Attachment, error) {
	const query = `
		SELECT id, message_id, filename, mime_type, size, storage_path, created_at
		FROM attachments
		WHERE message_id = $1
		ORDER BY id ASC
	`

	var rows []attachmentRow
	if err := a.db.SelectContext(ctx, &rows, query, messageID); err != nil {
		return nil, err
	}

	attachments := make([]*domain.Attachment, 0, len(rows))
	for i := range rows {
		attachments = append(attachments, rows[i].toDomain())
	}
	return attachments, nil
}

// DeleteByMessageID removes all attachment rows for a message.
func (a *AttachmentAdapter) DeleteByMessageID(ctx context.Context, messageID int64) error {
	const query = `DELETE FROM attachments WHERE message_id = $1`
	_, err := a.db.ExecContext(ctx, query, messageID)
	return err
}

// Ensure AttachmentAdapter implements out.AttachmentRepository
var _ out.AttachmentRepository = (*AttachmentAdapter)(nil)
