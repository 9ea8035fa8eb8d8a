package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/smartlms/submission-core/internal/dto"
	"github.com/smartlms/submission-core/internal/service"
	"github.com/smartlms/submission-core/internal/utils"
)

// GradingHandler exposes grade finalization and history endpoints.
type GradingHandler struct {
	service service.GradingService
	logger  zerolog.Logger
}

// NewGradingHandler builds a grading handler instance.
func NewGradingHandler(service service.GradingService, logger zerolog.Logger) *GradingHandler {
	return &GradingHandler{
		service: service,
		logger:  logger.With().Str("component", "grading_handler").Logger(),
	}
}

// Register attaches the grading routes to the provided router group. Guards
// run before the handler on each route so they never shadow sibling routes
// sharing the group prefix.
func (h *GradingHandler) Register(router fiber.Router, guards ...fiber.Handler) {
	router.Post("/:id/grade", append(guards, h.finalize)...)
	router.Get("/:id/grades", append(guards, h.history)...)
}

func (h *GradingHandler) finalize(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendErrorCode(c, fiber.StatusBadRequest, utils.CodeValidationFailed, "invalid submission id")
	}

	var payload dto.FinalizeGradeRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendErrorCode(c, fiber.StatusBadRequest, utils.CodeValidationFailed, "invalid request body")
	}

	record, err := h.service.Finalize(requestContext(c), id, payload, actorFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "grade finalized", record)
}

func (h *GradingHandler) history(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendErrorCode(c, fiber.StatusBadRequest, utils.CodeValidationFailed, "invalid submission id")
	}

	records, err := h.service.History(requestContext(c), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "grade history retrieved", records)
}

func (h *GradingHandler) handleError(c *fiber.Ctx, err error) error {
	var validationErrors validator.ValidationErrors
	switch {
	case errors.Is(err, service.ErrSubmissionNotFound):
		return utils.SendErrorCode(c, fiber.StatusNotFound, utils.CodeSubmissionNotFound, "submission not found")
	case errors.Is(err, service.ErrChecksStillPending):
		return utils.SendErrorCode(c, fiber.StatusConflict, utils.CodeChecksStillPending, "checks still pending for the current version")
	case errors.Is(err, service.ErrInvalidTransition):
		return utils.SendErrorCode(c, fiber.StatusConflict, utils.CodeInvalidTransition, "submission is not gradable in its current state")
	case errors.Is(err, service.ErrRubricScoreExceedsMax):
		return utils.SendErrorCode(c, fiber.StatusBadRequest, utils.CodeValidationFailed, "rubric score exceeds criterion maximum")
	case errors.As(err, &validationErrors):
		return utils.SendErrorCode(c, fiber.StatusBadRequest, utils.CodeValidationFailed, validationErrors.Error())
	default:
		h.logger.Error().Err(err).Msg("internal server error")
		return utils.SendErrorCode(c, fiber.StatusInternalServerError, utils.CodeInternal, "internal server error")
	}
}
