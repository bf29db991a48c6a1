package qa

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"pilot_server/core/domain"
	"pilot_server/core/port/out"
	"pilot_server/pkg/logger"
	"pilot_server/pkg/snowflake"
)

// Template placeholders interpolated into the registry's user template.
const (
	PlaceholderInbound = "{{inbound_text}}"
	PlaceholderThread  = "{{thread_context}}"
	PlaceholderDraft   = "{{draft_text}}"
)

// Config bounds the context assembled for one evaluation.
type Config struct {
	InboundMaxChars  int
	DraftMaxChars    int
	ThreadContextLen int
}

func DefaultConfig() Config {
	return Config{
		InboundMaxChars:  2000,
		DraftMaxChars:    2400,
		ThreadContextLen: 10,
	}
}

// Outcome is the result of evaluating one draft.
type Outcome struct {
	Verdict domain.Verdict
	Reason  string

	// Skipped: a verdict row already exists for this draft and prompt
	// version; nothing to do.
	Skipped bool

	// DataError: the draft cannot be evaluated (empty text, missing
	// draft link). Routed to human review, no model call, no audit row.
	DataError bool
}

// Evaluator runs one rewritten draft against its inbound and thread
// context through a versioned prompt, extracting a ternary verdict.
type Evaluator struct {
	messages out.MessageRepository
	qas      out.QARepository
	model    out.ModelProvider
	cfg      Config
	log      *logger.Logger
}

func NewEvaluator(messages out.MessageRepository, qas out.QARepository, model out.ModelProvider, cfg Config) *Evaluator {
	if cfg.InboundMaxChars <= 0 {
		cfg.InboundMaxChars = 2000
	}
	if cfg.DraftMaxChars <= 0 {
		cfg.DraftMaxChars = 2400
	}
	if cfg.ThreadContextLen <= 0 {
		cfg.ThreadContextLen = 10
	}
	return &Evaluator{
		messages: messages,
		qas:      qas,
		model:    model,
		cfg:      cfg,
		log:      logger.WithField("component", "qa_evaluator"),
	}
}

// Evaluate runs one draft through QA. The prompt is fetched once per batch
// by the caller; a missing prompt never reaches this code.
func (e *Evaluator) Evaluate(ctx context.Context, draft *domain.Message, prompt *domain.PromptTemplate) (*Outcome, error) {
	// Idempotency: one verdict per (draft, prompt key, prompt version).
	exists, err := e.qas.Exists(ctx, draft.ID, prompt.Key, prompt.Version)
	if err != nil {
		return nil, err
	}
	if exists {
		return &Outcome{Skipped: true}, nil
	}

	if strings.TrimSpace(draft.Text) == "" {
		return &Outcome{
			Verdict:   domain.VerdictFail,
			Reason:    "empty_draft_text",
			DataError: true,
		}, nil
	}

	link, err := e.messages.GetDraftLink(ctx, draft.ID)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return &Outcome{
			Verdict:   domain.VerdictFail,
			Reason:    "missing_draft_link",
			DataError: true,
		}, nil
	}

	inbound, err := e.messages.GetByID(ctx, link.InboundMessageID)
	if err != nil {
		return nil, err
	}
	if inbound == nil {
		return &Outcome{
			Verdict:   domain.VerdictFail,
			Reason:    "missing_inbound_message",
			DataError: true,
		}, nil
	}

	userPrompt, err := e.assembleContext(ctx, draft, inbound, prompt)
	if err != nil {
		return nil, err
	}

	result := e.model.EvaluateDraft(ctx, prompt.SystemPrompt, userPrompt, prompt.Temperature, prompt.MaxTokens)

	verdict := &domain.QAVerdict{
		ID:               snowflake.ID(),
		AgentID:          draft.AgentID,
		LeadID:           draft.LeadID,
		InboundMessageID: inbound.ID,
		DraftMessageID:   draft.ID,
		PromptKey:        prompt.Key,
		PromptVersion:    prompt.Version,
		Verdict:          result.Verdict,
		Reason:           result.Reason,
		CreatedAt:        time.Now().UTC(),
	}

	// Audit trail is best-effort and never blocks the pipeline.
	if err := e.qas.Insert(ctx, verdict); err != nil {
		e.log.WithError(err).
			WithField("draft_message_id", draft.ID).
			Error("failed to persist QA verdict row")
	}

	return &Outcome{Verdict: result.Verdict, Reason: result.Reason}, nil
}

// assembleContext interpolates inbound text, thread history, and the draft
// into the prompt template. Thread messages are queried newest-first and
// reversed to chronological order.
func (e *Evaluator) assembleContext(ctx context.Context, draft, inbound *domain.Message, prompt *domain.PromptTemplate) (string, error) {
	thread, err := e.messages.ListThread(ctx, draft.LeadID, e.cfg.ThreadContextLen)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for i := len(thread) - 1; i >= 0; i-- {
		m := thread[i]
		if m.ID == draft.ID {
			continue
		}
		sb.WriteString(string(m.Sender))
		sb.WriteString(": ")
		sb.WriteString(truncate(m.Text, 500))
		sb.WriteString("\n")
	}

	out := prompt.UserTemplate
	out = strings.ReplaceAll(out, PlaceholderInbound, truncate(inbound.Text, e.cfg.InboundMaxChars))
	out = strings.ReplaceAll(out, PlaceholderThread, sb.String())
	out = strings.ReplaceAll(out, PlaceholderDraft, truncate(draft.Text, e.cfg.DraftMaxChars))
	return out, nil
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
