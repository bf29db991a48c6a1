package out

import (
	"context"

	"pilot_server/core/domain"
)

// IntentOutcome is the normalized result of a model classification call.
// OK is false when the model was unreachable or its output unusable; the
// intent is then the fail-closed default.
type IntentOutcome struct {
	OK     bool
	Result domain.IntentResult
}

// VerdictOutcome is the normalized result of a model QA call. OK false
// means the verdict is the fail-closed default.
type VerdictOutcome struct {
	OK      bool
	Verdict domain.Verdict
	Reason  string
}

// ModelProvider wraps the remote classification/QA model. Implementations
// never return errors: any failure or ambiguous output collapses to the
// most conservative label so the pipeline always makes forward progress.
type ModelProvider interface {
	ClassifyIntent(ctx context.Context, systemPrompt, userPrompt string) IntentOutcome
	EvaluateDraft(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) VerdictOutcome
}
