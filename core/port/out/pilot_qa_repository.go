package out

import (
	"context"

	"pilot_server/core/domain"
)

// QARepository persists immutable QA audit rows.
type QARepository interface {
	// Exists reports whether a verdict row already exists for the
	// idempotency triple.
	Exists(ctx context.Context, draftMessageID int64, promptKey string, promptVersion int) (bool, error)

	// Insert writes a verdict row; a conflict on the idempotency triple is
	// a silent no-op.
	Insert(ctx context.Context, verdict *domain.QAVerdict) error

	ListByDraft(ctx context.Context, draftMessageID int64) ([]*domain.QAVerdict, error)
}
