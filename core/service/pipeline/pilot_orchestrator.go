package pipeline

import (
	"context"

	"github.com/google/uuid"

	"pilot_server/core/domain"
	"pilot_server/core/port/in"
	"pilot_server/core/port/out"
	"pilot_server/core/service/classification"
	"pilot_server/core/service/qa"
	"pilot_server/pkg/apperr"
	"pilot_server/pkg/logger"
)

// Config holds pipeline knobs.
type Config struct {
	QABatchSize int
	QAPromptKey string
}

func DefaultConfig() Config {
	return Config{
		QABatchSize: 25,
		QAPromptKey: "qa_recheck",
	}
}

// Orchestrator is the pipeline state machine: it moves messages between
// lifecycle states, enforcing the verdict transition table and the
// guarded-write discipline.
type Orchestrator struct {
	messages    out.MessageRepository
	settings    out.SettingsRepository
	prompts     out.PromptRepository
	attachments out.AttachmentRepository
	bodies      out.BodyRepository
	blobs       out.BlobStore

	classifier *classification.Classifier
	evaluator  *qa.Evaluator

	cfg Config
	log *logger.Logger
}

func NewOrchestrator(
	messages out.MessageRepository,
	settings out.SettingsRepository,
	prompts out.PromptRepository,
	attachments out.AttachmentRepository,
	bodies out.BodyRepository,
	blobs out.BlobStore,
	classifier *classification.Classifier,
	evaluator *qa.Evaluator,
	cfg Config,
) *Orchestrator {
	if cfg.QABatchSize <= 0 {
		cfg.QABatchSize = 25
	}
	if cfg.QAPromptKey == "" {
		cfg.QAPromptKey = "qa_recheck"
	}
	return &Orchestrator{
		messages:    messages,
		settings:    settings,
		prompts:     prompts,
		attachments: attachments,
		bodies:      bodies,
		blobs:       blobs,
		classifier:  classifier,
		evaluator:   evaluator,
		cfg:         cfg,
		log:         logger.WithField("component", "pipeline"),
	}
}

// decideTransition is the verdict x autosend table. warn never reaches
// ready_to_send regardless of autosend: a rewrite pass already happened
// upstream and warn goes straight to human review instead of looping.
func decideTransition(verdict domain.Verdict, autosendEnabled bool) (domain.MessageStatus, bool) {
	switch verdict {
	case domain.VerdictPass:
		if autosendEnabled {
			return domain.StatusReadyToSend, false
		}
		return domain.StatusNeedsApproval, true
	case domain.VerdictWarn:
		return domain.StatusNeedsApproval, true
	default:
		return domain.StatusNeedsHuman, true
	}
}

// Ingest upserts the inbound event and classifies its intent. Re-delivery
// of the same provider message id lands on the existing row.
func (o *Orchestrator) Ingest(ctx context.Context, req *in.IngestRequest) (*domain.Message, error) {
	msg, err := o.messages.UpsertInbound(ctx, &out.InboundMessage{
		LeadID:         req.LeadID,
		AgentID:        req.AgentID.String(),
		Sender:         domain.SenderUser,
		Text:           req.Text,
		Timestamp:      req.Timestamp,
		GmailMessageID: req.GmailMessageID,
		GmailThreadID:  req.GmailThreadID,
	})
	if err != nil {
		return nil, err
	}

	// Already past intake on re-delivery.
	if msg.Status != domain.StatusNew {
		return msg, nil
	}

	threadContext := o.threadContext(ctx, msg)
	result := o.classifier.Classify(ctx, msg.Text, threadContext)

	if err := o.messages.UpdateClassification(ctx, msg.ID, &result); err != nil {
		return nil, err
	}

	applied, err := o.messages.ApplyStatus(ctx, &out.StatusUpdate{
		MessageID:  msg.ID,
		FromStatus: domain.StatusNew,
		ToStatus:   domain.StatusClassified,
		Reason:     string(result.Intent),
	})
	if err != nil {
		return nil, err
	}
	if applied {
		msg.Status = domain.StatusClassified
	}

	intent := string(result.Intent)
	msg.EmailType = &intent
	msg.ClassificationConfidence = &result.Confidence

	o.log.WithFields(map[string]any{
		"message_id": msg.ID,
		"intent":     result.Intent,
		"confidence": result.Confidence,
	}).Info("inbound message classified")

	return msg, nil
}

func (o *Orchestrator) threadContext(ctx context.Context, msg *domain.Message) []string {
	thread, err := o.messages.ListThread(ctx, msg.LeadID, 10)
	if err != nil {
		o.log.WithError(err).Warn("failed to load thread context, classifying without it")
		return nil
	}
	var texts []string
	for _, m := range thread {
		if m.ID == msg.ID {
			continue
		}
		texts = append(texts, m.Text)
	}
	return texts
}

// RunQARecheck evaluates one bounded batch of pending drafts and applies
// verdict outcomes. A missing active prompt aborts the whole run loudly:
// that is a deployment problem, not a per-draft one.
func (o *Orchestrator) RunQARecheck(ctx context.Context) (*in.QARunReport, error) {
	prompt, err := o.prompts.GetActive(ctx, o.cfg.QAPromptKey)
	if err != nil {
		return nil, err
	}
	if prompt == nil {
		return nil, apperr.ConfigError("no active QA prompt configured for key " + o.cfg.QAPromptKey)
	}

	drafts, err := o.messages.ListPendingQA(ctx, o.cfg.QABatchSize)
	if err != nil {
		return nil, err
	}

	report := &in.QARunReport{Scanned: len(drafts)}
	for _, draft := range drafts {
		outcome, err := o.evaluator.Evaluate(ctx, draft, prompt)
		if err != nil {
			o.log.WithError(err).WithField("message_id", draft.ID).Error("QA evaluation errored, leaving draft pending")
			continue
		}

		if outcome.Skipped {
			report.Skipped++
			continue
		}
		report.Evaluated++

		if o.applyOutcome(ctx, draft, outcome) {
			report.Routed++
		}
	}

	return report, nil
}

// applyOutcome routes one evaluated draft per the transition table. The
// underlying write is conditional: drafts already sending or sent are
// never touched.
func (o *Orchestrator) applyOutcome(ctx context.Context, draft *domain.Message, outcome *qa.Outcome) bool {
	var (
		toStatus         domain.MessageStatus
		approvalRequired bool
	)

	if outcome.DataError {
		toStatus, approvalRequired = domain.StatusNeedsHuman, true
	} else {
		settings := o.agentSettings(ctx, draft.AgentID)
		toStatus, approvalRequired = decideTransition(outcome.Verdict, settings.AutosendEnabled)
	}

	applied, err := o.messages.ApplyStatus(ctx, &out.StatusUpdate{
		MessageID:        draft.ID,
		FromStatus:       domain.StatusQARecheckPending,
		ToStatus:         toStatus,
		ApprovalRequired: approvalRequired,
		Reason:           outcome.Reason,
	})
	if err != nil {
		o.log.WithError(err).WithField("message_id", draft.ID).Error("failed to apply QA outcome")
		return false
	}
	if !applied {
		o.log.WithFields(map[string]any{
			"message_id": draft.ID,
			"to_status":  toStatus,
		}).Warn("QA outcome skipped: message already in flight or moved on")
		return false
	}

	o.log.WithFields(map[string]any{
		"message_id": draft.ID,
		"verdict":    outcome.Verdict,
		"to_status":  toStatus,
	}).Info("QA outcome applied")
	return true
}

// agentSettings reads the operator policy, defaulting to
// approval-everything when the read fails or no row exists.
func (o *Orchestrator) agentSettings(ctx context.Context, agentID uuid.UUID) *domain.AgentSettings {
	settings, err := o.settings.GetByAgentID(ctx, agentID)
	if err != nil {
		o.log.WithError(err).WithField("agent_id", agentID).Warn("failed to load agent settings, defaulting to approval")
		return domain.DefaultAgentSettings(agentID)
	}
	if settings == nil {
		return domain.DefaultAgentSettings(agentID)
	}
	return settings
}

// Approve moves a parked message to ready with approval cleared.
func (o *Orchestrator) Approve(ctx context.Context, agentID uuid.UUID, messageID int64) (*domain.Message, error) {
	msg, err := o.ownedMessage(ctx, agentID, messageID)
	if err != nil {
		return nil, err
	}

	if !domain.CanTransition(msg.Status, domain.StatusReady) {
		return nil, apperr.IllegalTransition(string(msg.Status), string(domain.StatusReady))
	}

	applied, err := o.messages.ApplyStatus(ctx, &out.StatusUpdate{
		MessageID:        msg.ID,
		FromStatus:       msg.Status,
		ToStatus:         domain.StatusReady,
		ApprovalRequired: false,
		Reason:           "approved",
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, apperr.Conflict("message state changed, re-read and retry")
	}

	msg.Status = domain.StatusReady
	msg.ApprovalRequired = false
	return msg, nil
}

// Reject performs the ordered irreversible cleanup: blob objects first
// (best-effort), then attachment rows, then the body document, then the
// status flip. Storage failures are logged and never abort the reject.
func (o *Orchestrator) Reject(ctx context.Context, agentID uuid.UUID, messageID int64) (*domain.Message, error) {
	msg, err := o.ownedMessage(ctx, agentID, messageID)
	if err != nil {
		return nil, err
	}

	if !domain.CanTransition(msg.Status, domain.StatusRejected) {
		return nil, apperr.IllegalTransition(string(msg.Status), string(domain.StatusRejected))
	}

	attachments, err := o.attachments.ListByMessageID(ctx, msg.ID)
	if err != nil {
		return nil, err
	}

	if len(attachments) > 0 {
		paths := make([]string, 0, len(attachments))
		for _, a := range attachments {
			paths = append(paths, a.StoragePath)
		}
		if err := o.blobs.Remove(ctx, paths); err != nil {
			o.log.WithError(err).WithField("message_id", msg.ID).Error("blob removal failed, continuing reject cleanup")
		}
	}

	if err := o.attachments.DeleteByMessageID(ctx, msg.ID); err != nil {
		return nil, err
	}
	if err := o.bodies.Delete(ctx, msg.ID); err != nil {
		return nil, err
	}
	if err := o.messages.MarkRejected(ctx, msg.ID); err != nil {
		return nil, err
	}

	msg.Status = domain.StatusRejected
	msg.VisibleToAgent = true

	o.log.WithFields(map[string]any{
		"message_id":  msg.ID,
		"attachments": len(attachments),
	}).Info("message rejected and cleaned up")

	return msg, nil
}

func (o *Orchestrator) ownedMessage(ctx context.Context, agentID uuid.UUID, messageID int64) (*domain.Message, error) {
	msg, err := o.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, apperr.NotFound("message")
	}
	if msg.AgentID != agentID {
		return nil, apperr.Forbidden("message belongs to another agent")
	}
	return msg, nil
}

// MarkSending claims the message for transmission.
func (o *Orchestrator) MarkSending(ctx context.Context, messageID int64) error {
	claimed, err := o.messages.MarkSending(ctx, messageID)
	if err != nil {
		return err
	}
	if !claimed {
		return apperr.Conflict("message is not sendable or already claimed")
	}
	return nil
}

// MarkSent records a completed transmission.
func (o *Orchestrator) MarkSent(ctx context.Context, messageID int64, providerMessageID, threadID string) error {
	return o.messages.MarkSent(ctx, messageID, providerMessageID, threadID)
}

// MarkSendFailed records a failed transmission.
func (o *Orchestrator) MarkSendFailed(ctx context.Context, messageID int64, reason string) error {
	return o.messages.MarkSendFailed(ctx, messageID, reason)
}

// Ensure Orchestrator implements in.PipelineService
var _ in.PipelineService = (*Orchestrator)(nil)
