package handler

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/smartlms/submission-core/internal/models"
	"github.com/smartlms/submission-core/internal/service"
	"github.com/smartlms/submission-core/internal/utils"
)

// CheckHandler exposes the manual check retry endpoint.
type CheckHandler struct {
	orchestrator service.CheckOrchestrator
	logger       zerolog.Logger
}

// NewCheckHandler builds a check handler instance.
func NewCheckHandler(orchestrator service.CheckOrchestrator, logger zerolog.Logger) *CheckHandler {
	return &CheckHandler{
		orchestrator: orchestrator,
		logger:       logger.With().Str("component", "check_handler").Logger(),
	}
}

// Register attaches the check routes to the provided router group.
func (h *CheckHandler) Register(router fiber.Router) {
	router.Post("/:id/checks/:type/retry", h.retry)
}

func (h *CheckHandler) retry(c *fiber.Ctx) error {
	versionID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendErrorCode(c, fiber.StatusBadRequest, utils.CodeValidationFailed, "invalid version id")
	}

	checkType := strings.ToLower(strings.TrimSpace(c.Params("type")))
	if !models.ValidCheckType(checkType) {
		return utils.SendErrorCode(c, fiber.StatusBadRequest, utils.CodeValidationFailed, "unknown check type")
	}

	result, err := h.orchestrator.Retry(requestContext(c), versionID, checkType, actorFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "check retry dispatched", result)
}

func (h *CheckHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrVersionNotFound):
		return utils.SendErrorCode(c, fiber.StatusNotFound, utils.CodeVersionNotFound, "version not found")
	case errors.Is(err, service.ErrUnknownCheckType):
		return utils.SendErrorCode(c, fiber.StatusBadRequest, utils.CodeValidationFailed, "unknown check type")
	case errors.Is(err, service.ErrCheckNotRetryable):
		return utils.SendErrorCode(c, fiber.StatusConflict, utils.CodeCheckNotRetryable, "check is not in a retryable state")
	default:
		h.logger.Error().Err(err).Msg("internal server error")
		return utils.SendErrorCode(c, fiber.StatusInternalServerError, utils.CodeInternal, "internal server error")
	}
}
