package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/goccy/go-json"
	openai "github.com/sashabaranov/go-openai"

	"pilot_server/core/domain"
	"pilot_server/core/port/out"
	"pilot_server/pkg/logger"
	"pilot_server/pkg/resilience"
)

// CompletionClient is the slice of Client the adapter needs.
type CompletionClient interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string, temperature float32, maxTokens int) (string, error)
}

// ModelAdapter wraps the remote model with timeout, bounded retry, and
// fail-closed output normalization. It never returns an error: when the
// model is unreachable or its output is unusable, classification collapses
// to OTHER and QA to fail.
type ModelAdapter struct {
	client CompletionClient
	retry  *resilience.RetryPolicy
	log    *logger.Logger

	maxTokens int
}

func NewModelAdapter(client CompletionClient, retry *resilience.RetryPolicy, maxTokens int) *ModelAdapter {
	if retry == nil {
		retry = resilience.DefaultRetryPolicy()
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &ModelAdapter{
		client:    client,
		retry:     retry,
		log:       logger.WithField("component", "model_adapter"),
		maxTokens: maxTokens,
	}
}

// complete runs one completion under the retry policy. 4xx responses other
// than 429 are semantic failures and are not retried.
func (a *ModelAdapter) complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error) {
	var content string
	err := a.retry.Execute(ctx, func(attemptCtx context.Context) error {
		resp, err := a.client.CompleteJSON(attemptCtx, systemPrompt, userPrompt, float32(temperature), a.maxTokens)
		if err != nil {
			var apiErr *openai.APIError
			if errors.As(err, &apiErr) && !resilience.RetryableStatus(apiErr.HTTPStatusCode) {
				return resilience.Permanent(err)
			}
			return err
		}
		content = resp
		return nil
	})
	return content, err
}

// ClassifyIntent runs the classification prompt and normalizes the output
// into the intent taxonomy.
func (a *ModelAdapter) ClassifyIntent(ctx context.Context, systemPrompt, userPrompt string) out.IntentOutcome {
	content, err := a.complete(ctx, systemPrompt, userPrompt, 0)
	if err != nil {
		a.log.WithError(err).Warn("intent classification call failed, defaulting to OTHER")
		return out.IntentOutcome{
			OK: false,
			Result: domain.IntentResult{
				Intent:     domain.IntentOther,
				Confidence: 0,
				Reason:     "model_unavailable",
			},
		}
	}

	return out.IntentOutcome{OK: true, Result: normalizeIntent(content)}
}

// EvaluateDraft runs the QA prompt and extracts a ternary verdict.
func (a *ModelAdapter) EvaluateDraft(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) out.VerdictOutcome {
	content, err := a.complete(ctx, systemPrompt, userPrompt, temperature)
	if err != nil {
		a.log.WithError(err).Warn("QA evaluation call failed, defaulting to fail")
		return out.VerdictOutcome{
			OK:      false,
			Verdict: domain.VerdictFail,
			Reason:  "model_unavailable",
		}
	}

	verdict, reason := normalizeVerdict(content)
	return out.VerdictOutcome{OK: true, Verdict: verdict, Reason: reason}
}

// normalizeIntent parses model output into an IntentResult. Valid JSON with
// known keys wins; otherwise the raw text is scanned for an allowed label
// token; anything else is OTHER.
func normalizeIntent(content string) domain.IntentResult {
	content = cleanJSONResponse(content)

	var parsed struct {
		Intent     string         `json:"intent"`
		Confidence float64        `json:"confidence"`
		Reason     string         `json:"reason"`
		Entities   map[string]any `json:"entities"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err == nil && parsed.Intent != "" {
		result := domain.IntentResult{
			Intent:     domain.ParseIntent(parsed.Intent),
			Confidence: clampConfidence(parsed.Confidence),
			Reason:     parsed.Reason,
			Entities:   parsed.Entities,
		}
		if !domain.IsValidIntent(parsed.Intent) {
			result.Reason = "unknown_label"
			result.Confidence = 0
		}
		return result
	}

	if label, ok := scanIntentToken(content); ok {
		return domain.IntentResult{
			Intent:     label,
			Confidence: 0.5,
			Reason:     "token_scan",
		}
	}

	return domain.IntentResult{
		Intent:     domain.IntentOther,
		Confidence: 0,
		Reason:     "unparseable_output",
	}
}

// normalizeVerdict parses model output into a verdict, failing closed.
func normalizeVerdict(content string) (domain.Verdict, string) {
	content = cleanJSONResponse(content)

	var parsed struct {
		Verdict string `json:"verdict"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err == nil && parsed.Verdict != "" {
		return domain.ParseVerdict(strings.ToLower(strings.TrimSpace(parsed.Verdict))), parsed.Reason
	}

	// Most conservative label wins when scanning raw text.
	lower := strings.ToLower(content)
	for _, v := range []domain.Verdict{domain.VerdictFail, domain.VerdictWarn, domain.VerdictPass} {
		if containsWord(lower, string(v)) {
			return v, "token_scan"
		}
	}

	return domain.VerdictFail, "unparseable_output"
}

// scanIntentToken looks for an allowed intent label in raw model text.
func scanIntentToken(content string) (domain.Intent, bool) {
	upper := strings.ToUpper(content)
	for _, it := range domain.AllIntents {
		if strings.Contains(upper, string(it)) {
			return it, true
		}
	}
	return domain.IntentOther, false
}

func containsWord(s, word string) bool {
	idx := strings.Index(s, word)
	for idx >= 0 {
		before := idx == 0 || !isAlpha(s[idx-1])
		afterIdx := idx + len(word)
		after := afterIdx >= len(s) || !isAlpha(s[afterIdx])
		if before && after {
			return true
		}
		next := strings.Index(s[idx+1:], word)
		if next < 0 {
			return false
		}
		idx += 1 + next
	}
	return false
}

func isAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// cleanJSONResponse strips markdown code fences some models wrap around
// JSON output.
func cleanJSONResponse(resp string) string {
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	return strings.TrimSpace(resp)
}

// Ensure ModelAdapter implements out.ModelProvider
var _ out.ModelProvider = (*ModelAdapter)(nil)
