package qa

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"pilot_server/core/domain"
	"pilot_server/core/port/out"
	"pilot_server/pkg/snowflake"
)

func init() {
	snowflake.Init(1)
}

type fakeMessages struct {
	link    *domain.DraftLink
	inbound *domain.Message
	thread  []*domain.Message
}

func (f *fakeMessages) UpsertInbound(context.Context, *out.InboundMessage) (*domain.Message, error) {
	return nil, nil
}
func (f *fakeMessages) GetByID(_ context.Context, id int64) (*domain.Message, error) {
	if f.inbound != nil && f.inbound.ID == id {
		return f.inbound, nil
	}
	return nil, nil
}
func (f *fakeMessages) ListPendingQA(context.Context, int) ([]*domain.Message, error) {
	return nil, nil
}
func (f *fakeMessages) ListThread(context.Context, int64, int) ([]*domain.Message, error) {
	return f.thread, nil
}
func (f *fakeMessages) GetDraftLink(context.Context, int64) (*domain.DraftLink, error) {
	return f.link, nil
}
func (f *fakeMessages) UpdateClassification(context.Context, int64, *domain.IntentResult) error {
	return nil
}
func (f *fakeMessages) ApplyStatus(context.Context, *out.StatusUpdate) (bool, error) {
	return true, nil
}
func (f *fakeMessages) MarkSending(context.Context, int64) (bool, error) { return true, nil }
func (f *fakeMessages) MarkSent(context.Context, int64, string, string) error {
	return nil
}
func (f *fakeMessages) MarkSendFailed(context.Context, int64, string) error { return nil }
func (f *fakeMessages) MarkRejected(context.Context, int64) error           { return nil }

type fakeQAs struct {
	existing  bool
	inserted  []*domain.QAVerdict
	insertErr error
}

func (f *fakeQAs) Exists(context.Context, int64, string, int) (bool, error) {
	return f.existing, nil
}
func (f *fakeQAs) Insert(_ context.Context, v *domain.QAVerdict) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, v)
	return nil
}
func (f *fakeQAs) ListByDraft(context.Context, int64) ([]*domain.QAVerdict, error) {
	return nil, nil
}

type fakeModel struct {
	outcome    out.VerdictOutcome
	called     bool
	userPrompt string
}

func (f *fakeModel) ClassifyIntent(context.Context, string, string) out.IntentOutcome {
	return out.IntentOutcome{}
}
func (f *fakeModel) EvaluateDraft(_ context.Context, _, userPrompt string, _ float64, _ int) out.VerdictOutcome {
	f.called = true
	f.userPrompt = userPrompt
	return f.outcome
}

func testPrompt() *domain.PromptTemplate {
	return &domain.PromptTemplate{
		Key:          "qa_recheck",
		Version:      3,
		IsActive:     true,
		SystemPrompt: "You are a QA reviewer.",
		UserTemplate: "Inbound:\n{{inbound_text}}\n\nThread:\n{{thread_context}}\nDraft:\n{{draft_text}}",
		Temperature:  0,
		MaxTokens:    512,
	}
}

func testDraft() *domain.Message {
	return &domain.Message{
		ID:      100,
		LeadID:  7,
		AgentID: uuid.New(),
		Sender:  domain.SenderAssistant,
		Text:    "Dear Ms. Weber, the viewing is possible on Thursday at 17:00.",
		Status:  domain.StatusQARecheckPending,
	}
}

func TestEvaluate_IdempotencySkip(t *testing.T) {
	model := &fakeModel{}
	e := NewEvaluator(&fakeMessages{}, &fakeQAs{existing: true}, model, DefaultConfig())

	outcome, err := e.Evaluate(context.Background(), testDraft(), testPrompt())
	if err != nil {
		t.Fatal(err)
	}

	if !outcome.Skipped {
		t.Error("expected Skipped=true for an already-evaluated draft")
	}
	if model.called {
		t.Error("model must not be called for an already-evaluated draft")
	}
}

func TestEvaluate_EmptyDraftFailsClosed(t *testing.T) {
	model := &fakeModel{}
	qas := &fakeQAs{}
	e := NewEvaluator(&fakeMessages{}, qas, model, DefaultConfig())

	draft := testDraft()
	draft.Text = "   "

	outcome, err := e.Evaluate(context.Background(), draft, testPrompt())
	if err != nil {
		t.Fatal(err)
	}

	if !outcome.DataError {
		t.Error("expected DataError=true for empty draft text")
	}
	if outcome.Verdict != domain.VerdictFail {
		t.Errorf("verdict = %s, want fail", outcome.Verdict)
	}
	if model.called {
		t.Error("model must not be called for empty draft text")
	}
	if len(qas.inserted) != 0 {
		t.Error("no audit row expected for a data-integrity failure")
	}
}

func TestEvaluate_MissingLinkFailsClosed(t *testing.T) {
	model := &fakeModel{}
	e := NewEvaluator(&fakeMessages{link: nil}, &fakeQAs{}, model, DefaultConfig())

	outcome, err := e.Evaluate(context.Background(), testDraft(), testPrompt())
	if err != nil {
		t.Fatal(err)
	}

	if !outcome.DataError {
		t.Error("expected DataError=true for missing draft link")
	}
	if outcome.Reason != "missing_draft_link" {
		t.Errorf("reason = %s, want missing_draft_link", outcome.Reason)
	}
	if model.called {
		t.Error("model must not be called without a draft link")
	}
}

func TestEvaluate_HappyPath(t *testing.T) {
	draft := testDraft()
	inbound := &domain.Message{
		ID:        50,
		LeadID:    7,
		AgentID:   draft.AgentID,
		Sender:    domain.SenderUser,
		Text:      "Is a viewing possible this week?",
		Timestamp: time.Now(),
	}
	messages := &fakeMessages{
		link:    &domain.DraftLink{DraftMessageID: 100, InboundMessageID: 50},
		inbound: inbound,
		thread:  []*domain.Message{draft, inbound},
	}
	qas := &fakeQAs{}
	model := &fakeModel{outcome: out.VerdictOutcome{OK: true, Verdict: domain.VerdictPass, Reason: "accurate and polite"}}

	e := NewEvaluator(messages, qas, model, DefaultConfig())

	outcome, err := e.Evaluate(context.Background(), draft, testPrompt())
	if err != nil {
		t.Fatal(err)
	}

	if outcome.Verdict != domain.VerdictPass {
		t.Errorf("verdict = %s, want pass", outcome.Verdict)
	}
	if outcome.Skipped || outcome.DataError {
		t.Error("unexpected skip or data error")
	}

	if len(qas.inserted) != 1 {
		t.Fatalf("inserted rows = %d, want 1", len(qas.inserted))
	}
	row := qas.inserted[0]
	if row.DraftMessageID != 100 || row.PromptKey != "qa_recheck" || row.PromptVersion != 3 {
		t.Errorf("verdict row keyed wrong: draft=%d key=%s version=%d", row.DraftMessageID, row.PromptKey, row.PromptVersion)
	}
	if row.InboundMessageID != 50 {
		t.Errorf("inbound_message_id = %d, want 50", row.InboundMessageID)
	}

	if !strings.Contains(model.userPrompt, inbound.Text) {
		t.Error("assembled prompt missing inbound text")
	}
	if !strings.Contains(model.userPrompt, draft.Text) {
		t.Error("assembled prompt missing draft text")
	}
	if strings.Contains(model.userPrompt, PlaceholderInbound) {
		t.Error("template placeholder left uninterpolated")
	}
}

func TestEvaluate_AuditInsertFailureDoesNotBlock(t *testing.T) {
	draft := testDraft()
	inbound := &domain.Message{ID: 50, LeadID: 7, Sender: domain.SenderUser, Text: "hello"}
	messages := &fakeMessages{
		link:    &domain.DraftLink{DraftMessageID: 100, InboundMessageID: 50},
		inbound: inbound,
	}
	qas := &fakeQAs{insertErr: errors.New("connection reset")}
	model := &fakeModel{outcome: out.VerdictOutcome{OK: true, Verdict: domain.VerdictWarn, Reason: "tone"}}

	e := NewEvaluator(messages, qas, model, DefaultConfig())

	outcome, err := e.Evaluate(context.Background(), draft, testPrompt())
	if err != nil {
		t.Fatalf("audit insert failure must not surface: %v", err)
	}
	if outcome.Verdict != domain.VerdictWarn {
		t.Errorf("verdict = %s, want warn", outcome.Verdict)
	}
}

func TestTruncate_KeepsRunesIntact(t *testing.T) {
	text := strings.Repeat("Sehr geehrte Frau Müller, für die Besichtigung der größeren Wohnung ", 50)

	for max := 5; max < 30; max++ {
		got := truncate(text, max)
		if len(got) > max {
			t.Fatalf("truncate(.., %d) returned %d bytes", max, len(got))
		}
		if !utf8.ValidString(got) {
			t.Fatalf("truncate(.., %d) split a rune: %q", max, got)
		}
	}

	if got := truncate("ok", 100); got != "ok" {
		t.Errorf("truncate below limit = %q, want unchanged", got)
	}
}
