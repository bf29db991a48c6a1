package http

import (
	"pilot_server/core/port/in"
	"pilot_server/pkg/apperr"
	"pilot_server/pkg/logger"
	"pilot_server/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// PipelineHandler exposes the message pipeline operations: internal ingest,
// the agent approval endpoints, and a manual QA run trigger.
type PipelineHandler struct {
	pipeline in.PipelineService
	log      *logger.Logger
}

// NewPipelineHandler creates a new pipeline handler.
func NewPipelineHandler(pipeline in.PipelineService) *PipelineHandler {
	return &PipelineHandler{
		pipeline: pipeline,
		log:      logger.WithField("component", "pipeline_handler"),
	}
}

// Register registers pipeline routes under the authenticated API group.
func (h *PipelineHandler) Register(api fiber.Router) {
	messages := api.Group("/messages")
	messages.Post("/ingest", h.Ingest)
	messages.Post("/:id/approve", h.Approve)
	messages.Post("/:id/reject", h.Reject)

	api.Post("/qa/run", h.RunQA)
}

// Ingest accepts one inbound provider event. Called by the fetcher process
// after it pulls new mail, not by end users.
func (h *PipelineHandler) Ingest(c *fiber.Ctx) error {
	var req in.IngestRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}

	if req.LeadID <= 0 {
		return apperr.MissingField("lead_id")
	}
	if req.AgentID == uuid.Nil {
		return apperr.MissingField("agent_id")
	}
	if req.GmailMessageID == "" {
		return apperr.MissingField("gmail_message_id")
	}

	msg, err := h.pipeline.Ingest(c.Context(), &req)
	if err != nil {
		return err
	}
	return response.Created(c, msg)
}

// Approve releases a parked draft for sending.
func (h *PipelineHandler) Approve(c *fiber.Ctx) error {
	agentID, err := GetAgentID(c)
	if err != nil {
		return err
	}

	messageID, err := parseID(c, "id")
	if err != nil {
		return err
	}

	msg, err := h.pipeline.Approve(c.Context(), agentID, messageID)
	if err != nil {
		return err
	}

	h.log.WithFields(map[string]any{
		"message_id": messageID,
		"agent_id":   agentID.String(),
	}).Info("draft approved")

	return response.OK(c, msg)
}

// Reject discards a parked draft and cleans up its stored content.
func (h *PipelineHandler) Reject(c *fiber.Ctx) error {
	agentID, err := GetAgentID(c)
	if err != nil {
		return err
	}

	messageID, err := parseID(c, "id")
	if err != nil {
		return err
	}

	msg, err := h.pipeline.Reject(c.Context(), agentID, messageID)
	if err != nil {
		return err
	}

	h.log.WithFields(map[string]any{
		"message_id": messageID,
		"agent_id":   agentID.String(),
	}).Info("draft rejected")

	return response.OK(c, msg)
}

// RunQA triggers one QA recheck batch outside the scheduler cadence.
func (h *PipelineHandler) RunQA(c *fiber.Ctx) error {
	report, err := h.pipeline.RunQARecheck(c.Context())
	if err != nil {
		return err
	}
	return response.OK(c, report)
}
