package out

import (
	"context"

	"pilot_server/core/domain"
)

// AttachmentRepository persists attachment metadata rows.
type AttachmentRepository interface {
	ListByMessageID(ctx context.Context, messageID int64) ([]*domain.Attachment, error)
	DeleteByMessageID(ctx context.Context, messageID int64) error
}
