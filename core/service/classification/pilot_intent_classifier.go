package classification

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"pilot_server/core/domain"
	"pilot_server/core/port/out"
	"pilot_server/pkg/logger"
)

const intentSystemPrompt = `You classify inbound emails sent to a real-estate agent by prospective tenants and buyers.

Assign exactly one intent label:
- VIEWING_REQUEST: wants to see the property or arrange a viewing appointment
- APPLICATION_PROCESS: asks about or submits rental application documents
- STATUS_FOLLOWUP: asks about the state of an earlier inquiry or application
- PROPERTY_QUESTION: asks about details of a property (size, availability, amenities, pets)
- PRICE_NEGOTIATION: discusses rent, price, deposit, or tries to negotiate
- CANCELLATION: withdraws an inquiry, cancels an appointment, or declines
- SPAM_OR_IRRELEVANT: automated mail, marketing, or unrelated to real estate
- OTHER: none of the above fits

Also extract entities when present: move_in_date, household_size, pets, employment, wants_alternatives (boolean), refers_to_previous_property (boolean).

Respond with JSON only:
{"intent": "<LABEL>", "confidence": 0.0-1.0, "reason": "<short reason>", "entities": {}}`

// Config holds the classifier's confidence floors and context window.
type Config struct {
	MinConfidence     float64 // below this, non-OTHER intents are coerced to OTHER
	SpamMinConfidence float64 // model SPAM verdicts below this are coerced to OTHER
	ContextWindow     int     // prior thread messages included in the prompt
}

func DefaultConfig() Config {
	return Config{
		MinConfidence:     0.6,
		SpamMinConfidence: 0.98,
		ContextWindow:     5,
	}
}

// Classifier assigns an intent to inbound text: deterministic rules first,
// model fallback with confidence floors after.
type Classifier struct {
	model out.ModelProvider
	cfg   Config
	log   *logger.Logger
}

func NewClassifier(model out.ModelProvider, cfg Config) *Classifier {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.6
	}
	if cfg.SpamMinConfidence <= 0 {
		cfg.SpamMinConfidence = 0.98
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = 5
	}
	return &Classifier{
		model: model,
		cfg:   cfg,
		log:   logger.WithField("component", "intent_classifier"),
	}
}

// Classify runs the staged pipeline. threadContext is prior messages of
// the lead, newest first. The result is always a valid taxonomy label.
func (c *Classifier) Classify(ctx context.Context, text string, threadContext []string) domain.IntentResult {
	trimmed := strings.TrimSpace(text)

	// Stage 0: nothing to classify.
	if trimmed == "" {
		return domain.IntentResult{
			Intent:     domain.IntentOther,
			Confidence: 0,
			Reason:     "empty_text",
		}
	}

	// Stage 1: lexical spam/system detection.
	if isSpamOrSystem(trimmed) {
		return domain.IntentResult{
			Intent:     domain.IntentSpamOrIrrelevant,
			Confidence: spamRuleConfidence,
			Reason:     "lexical_spam_rule",
		}
	}

	// Stage 2: regex fast paths skip the model entirely.
	if intent, conf, ok := matchFastPath(trimmed, len(threadContext) > 0); ok {
		return domain.IntentResult{
			Intent:     intent,
			Confidence: conf,
			Reason:     "deterministic_rule",
		}
	}

	// Stage 3: model fallback.
	outcome := c.model.ClassifyIntent(ctx, intentSystemPrompt, c.buildUserPrompt(trimmed, threadContext))
	result := outcome.Result
	if !outcome.OK {
		return c.withEntityFlags(trimmed, result)
	}

	// SPAM is only accepted from the model when it is nearly certain.
	if result.Intent == domain.IntentSpamOrIrrelevant && result.Confidence < c.cfg.SpamMinConfidence {
		result.Intent = domain.IntentOther
		result.Reason = "spam_confidence_guard"
	}

	// Confidence floor for everything else.
	if result.Intent != domain.IntentOther && result.Confidence < c.cfg.MinConfidence {
		result.Intent = domain.IntentOther
		result.Reason = "low_confidence_guard"
	}

	return c.withEntityFlags(trimmed, result)
}

func (c *Classifier) buildUserPrompt(text string, threadContext []string) string {
	var sb strings.Builder
	if n := len(threadContext); n > 0 {
		if n > c.cfg.ContextWindow {
			threadContext = threadContext[:c.cfg.ContextWindow]
		}
		sb.WriteString("Prior thread messages, newest first:\n")
		for i, msg := range threadContext {
			fmt.Fprintf(&sb, "[%d] %s\n", i+1, truncate(msg, 500))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Inbound email:\n")
	sb.WriteString(truncate(text, 2000))
	return sb.String()
}

// withEntityFlags merges the deterministic boolean entities into a model
// result when the model did not supply them. Deterministic-rule results
// carry no entities: entity extraction is a model-stage concern.
func (c *Classifier) withEntityFlags(text string, result domain.IntentResult) domain.IntentResult {
	wantsAlt, refersPrev := detectEntityFlags(text)
	if !wantsAlt && !refersPrev {
		return result
	}

	if result.Entities == nil {
		result.Entities = make(map[string]any)
	}
	if _, ok := result.Entities[domain.EntityWantsAlternatives]; !ok && wantsAlt {
		result.Entities[domain.EntityWantsAlternatives] = true
	}
	if _, ok := result.Entities[domain.EntityRefersToPreviousProperty]; !ok && refersPrev {
		result.Entities[domain.EntityRefersToPreviousProperty] = true
	}
	return result
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
