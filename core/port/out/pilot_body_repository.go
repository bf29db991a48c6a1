package out

import (
	"context"

	"pilot_server/core/domain"
)

// BodyRepository stores full message bodies outside Postgres.
type BodyRepository interface {
	Get(ctx context.Context, messageID int64) (*domain.MessageBody, error)
	Save(ctx context.Context, body *domain.MessageBody) error
	Delete(ctx context.Context, messageID int64) error
}
