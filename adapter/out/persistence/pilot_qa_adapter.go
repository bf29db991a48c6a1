package persistence

import (
	"context"
	"database/sql"
	"time"

	"pilot_server/core/domain"
	"pilot_server/core/port/out"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// QAAdapter implements out.QARepository using PostgreSQL.
type QAAdapter struct {
	db *sqlx.DB
}

// NewQAAdapter creates a new QAAdapter.
func NewQAAdapter(db *sqlx.DB) *QAAdapter {
	return &QAAdapter{db: db}
}

// qaVerdictRow represents the database row for QA verdicts.
type qaVerdictRow struct {
	ID               int64     `db:"id"`
	AgentID          uuid.UUID `db:"agent_id"`
	LeadID           int64     `db:"lead_id"`
	InboundMessageID int64     `db:"inbound_message_id"`
	DraftMessageID   int64     `db:"draft_message_id"`

	PromptKey     string `db:"prompt_key"`
	PromptVersion int    `db:"prompt_version"`

	Verdict string         `db:"verdict"`
	Reason  sql.NullString `db:"reason"`

	Score       sql.NullFloat64 `db:"score"`
	Flags       pq.StringArray  `db:"flags"`
	Suggestions pq.StringArray  `db:"suggestions"`
	Meta        []byte          `db:"meta"`

	CreatedAt time.Time `db:"created_at"`
}

func (r *qaVerdictRow) toDomain() (*domain.QAVerdict, error) {
	v := &domain.QAVerdict{
		ID:               r.ID,
		AgentID:          r.AgentID,
		LeadID:           r.LeadID,
		InboundMessageID: r.InboundMessageID,
		DraftMessageID:   r.DraftMessageID,
		PromptKey:        r.PromptKey,
		PromptVersion:    r.PromptVersion,
		Verdict:          domain.Verdict(r.Verdict),
		Flags:            r.Flags,
		Suggestions:      r.Suggestions,
		CreatedAt:        r.CreatedAt,
	}

	if r.Reason.Valid {
		v.Reason = r.Reason.String
	}
	if r.Score.Valid {
		v.Score = &r.Score.Float64
	}
	if len(r.Meta) > 0 {
		if err := json.Unmarshal(r.Meta, &v.Meta); err != nil {
			return nil, err
		}
	}

	return v, nil
}

// Exists reports whether a verdict row exists for the idempotency triple.
func (a *QAAdapter) Exists(ctx context.Context, draftMessageID int64, promptKey string, promptVersion int) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM qa_verdicts
			WHERE draft_message_id = $1
			  AND prompt_key = $2
			  AND prompt_version = $3
		)
	`

	var exists bool
	if err := a.db.GetContext(ctx, &exists, query, draftMessageID, promptKey, promptVersion); err != nil {
		return false, err
	}
	return exists, nil
}

// Insert writes a verdict row. A concurrent evaluation of the same triple
// hits the unique constraint and is silently dropped.
func (a *QAAdapter) Insert(ctx context.Context, verdict *domain.QAVerdict) error {
	const query = `
		INSERT INTO qa_verdicts (
			id, agent_id, lead_id, inbound_message_id, draft_message_id,
			prompt_key, prompt_version, verdict, reason,
			score, flags, suggestions, meta, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
		ON CONFLICT (draft_message_id, prompt_key, prompt_version) DO NOTHING
	`

	var score sql.NullFloat64
	if verdict.Score != nil {
		score = sql.NullFloat64{Float64: *verdict.Score, Valid: true}
	}

	var meta []byte
	if len(verdict.Meta) > 0 {
		data, err := json.Marshal(verdict.Meta)
		if err != nil {
			return err
		}
		meta = data
	}

	createdAt := verdict.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := a.db.ExecContext(ctx, query,
		verdict.ID,
		verdict.AgentID,
		verdict.LeadID,
		verdict.InboundMessageID,
		verdict.DraftMessageID,
		verdict.PromptKey,
		verdict.PromptVersion,
		string(verdict.Verdict),
		nullString(verdict.Reason),
		score,
		pq.Array(verdict.Flags),
		pq.Array(verdict.Suggestions),
		meta,
		createdAt,
	)
	return err
}

// ListByDraft returns all verdict rows for one draft, newest first.
func (a *QAAdapter) ListByDraft(ctx context.Context, draftMessageID int64) ([]*domain.QAVerdict, error) {
	const query = `
		SELECT id, agent_id, lead_id, inbound_message_id, draft_message_id,
		       prompt_key, prompt_version, verdict, reason,
		       score, flags, suggestions, meta, created_at
		FROM qa_verdicts
		WHERE draft_message_id = $1
		ORDER BY created_at DESC
	`

	var rows []qaVerdictRow
	if err := a.db.SelectContext(ctx, &rows, query, draftMessageID); err != nil {
		return nil, err
	}

	verdicts := make([]*domain.QAVerdict, 0, len(rows))
	for i := range rows {
		v, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		verdicts = append(verdicts, v)
	}
	return verdicts, nil
}

// Ensure QAAdapter implements out.QARepository
var _ out.QARepository = (*QAAdapter)(nil)
