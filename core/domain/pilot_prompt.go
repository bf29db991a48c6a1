package domain

import "time"

// PromptTemplate is one versioned evaluation recipe from the prompt
// registry. The active row with the highest version wins for a key.
type PromptTemplate struct {
	ID       int64  `json:"id"`
	Key      string `json:"key"`
	Version  int    `json:"version"`
	IsActive bool   `json:"is_active"`

	SystemPrompt string  `json:"system_prompt"`
	UserTemplate string  `json:"user_template"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens"`

	CreatedAt time.Time `json:"created_at"`
}
