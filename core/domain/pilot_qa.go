package domain

import (
	"time"

	"github.com/google/uuid"
)

// Verdict is the ternary QA outcome for a draft.
type Verdict string

const (
	VerdictPass Verdict = "pass"
	VerdictWarn Verdict = "warn"
	VerdictFail Verdict = "fail"
)

// ParseVerdict coerces a raw label into the verdict set, failing closed:
// anything that is not exactly pass or warn is fail.
func ParseVerdict(s string) Verdict {
	switch s {
	case string(VerdictPass):
		return VerdictPass
	case string(VerdictWarn):
		return VerdictWarn
	default:
		return VerdictFail
	}
}

// QAVerdict is an immutable audit record of one QA evaluation. One row
// exists per (DraftMessageID, PromptKey, PromptVersion); re-running QA for
// an already-evaluated triple is a no-op.
type QAVerdict struct {
	ID               int64     `json:"id"`
	AgentID          uuid.UUID `json:"agent_id"`
	LeadID           int64     `json:"lead_id"`
	InboundMessageID int64     `json:"inbound_message_id"`
	DraftMessageID   int64     `json:"draft_message_id"`

	PromptKey     string `json:"prompt_key"`
	PromptVersion int    `json:"prompt_version"`

	Verdict Verdict `json:"verdict"`
	Reason  string  `json:"reason,omitempty"`

	Score       *float64       `json:"score,omitempty"`
	Flags       []string       `json:"flags,omitempty"`
	Suggestions []string       `json:"suggestions,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
