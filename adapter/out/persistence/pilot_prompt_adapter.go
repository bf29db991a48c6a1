package persistence

import (
	"context"
	"database/sql"

	"pilot_server/core/domain"
	"pilot_server/core/port/out"

	"github.com/jmoiron/sqlx"
)

// PromptAdapter implements out.PromptRepository using PostgreSQL.
type PromptAdapter struct {
	db *sqlx.DB
}

// NewPromptAdapter creates a new PromptAdapter.
func NewPromptAdapter(db *sqlx.DB) *PromptAdapter {
	return &PromptAdapter{db: db}
}

// promptRow represents the database row for prompt templates.
type promptRow struct {
	ID       int64  `db:"id"`
	Key      string `db:"key"`
	Version  int    `db:"version"`
	IsActive bool   `db:"is_active"`

	SystemPrompt string  `db:"system_prompt"`
	UserTemplate string  `db:"user_template"`
	Temperature  float64 `db:"temperature"`
	MaxTokens    int     `db:"max_tokens"`

	CreatedAt sql.NullTime `db:"created_at"`
}

func (r *promptRow) toDomain() *domain.PromptTemplate {
	p := &domain.PromptTemplate{
		ID:           r.ID,
		Key:          r.Key,
		Version:      r.Version,
		IsActive:     r.IsActive,
		SystemPrompt: r.SystemPrompt,
		UserTemplate: r.UserTemplate,
		Temperature:  r.Temperature,
		MaxTokens:    r.MaxTokens,
	}
	if r.CreatedAt.Valid {
		p.CreatedAt = r.CreatedAt.Time
	}
	return p
}

// GetActive returns the highest active version for key, or nil when no
// active prompt exists. Callers treat nil as a configuration error.
func (a *PromptAdapter) GetActive(ctx context.Context, key string) (*domain.PromptTemplate, error) {
	const query = `
		SELECT id, key, version, is_active,
		       system_prompt, user_template, temperature, max_tokens,
		       created_at
		FROM prompt_templates
		WHERE key = $1 AND is_active = true
		ORDER BY version DESC
		LIMIT 1
	`

	var row promptRow
	if err := a.db.GetContext(ctx, &row, query, key); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return row.toDomain(), nil
}

// Ensure PromptAdapter implements out.PromptRepository
var _ out.PromptRepository = (*PromptAdapter)(nil)
