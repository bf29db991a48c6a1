package http

import (
	"strconv"

	"pilot_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// GetAgentID extracts the authenticated agent id set by the auth middleware.
func GetAgentID(c *fiber.Ctx) (uuid.UUID, error) {
	val := c.Locals("agent_id")
	if val == nil {
		return uuid.Nil, apperr.Unauthorized("")
	}
	agentID, ok := val.(uuid.UUID)
	if !ok {
		return uuid.Nil, apperr.Unauthorized("")
	}
	return agentID, nil
}

// parseID parses a numeric path parameter.
func parseID(c *fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.InvalidInput(name, "must be a positive integer")
	}
	return id, nil
}
