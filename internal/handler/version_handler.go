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

// VersionHandler manages version creation and retrieval endpoints.
type VersionHandler struct {
	service service.VersionService
	logger  zerolog.Logger
}

// NewVersionHandler builds a version handler instance.
func NewVersionHandler(service service.VersionService, logger zerolog.Logger) *VersionHandler {
	return &VersionHandler{
		service: service,
		logger:  logger.With().Str("component", "version_handler").Logger(),
	}
}

// Register attaches the version routes to the provided router group.
func (h *VersionHandler) Register(router fiber.Router) {
	router.Post("", h.create)
}

// RegisterSubmissionRoutes attaches the per-submission version reads.
func (h *VersionHandler) RegisterSubmissionRoutes(router fiber.Router) {
	router.Get("/:id/versions", h.list)
	router.Get("/:id/versions/:number", h.get)
}

func (h *VersionHandler) create(c *fiber.Ctx) error {
	var payload dto.VersionCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendErrorCode(c, fiber.StatusBadRequest, utils.CodeValidationFailed, "invalid request body")
	}

	version, err := h.service.Create(requestContext(c), payload, actorFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "version created", version)
}

func (h *VersionHandler) list(c *fiber.Ctx) error {
	submissionID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendErrorCode(c, fiber.StatusBadRequest, utils.CodeValidationFailed, "invalid submission id")
	}

	versions, err := h.service.List(requestContext(c), submissionID)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "versions retrieved", versions)
}

func (h *VersionHandler) get(c *fiber.Ctx) error {
	submissionID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendErrorCode(c, fiber.StatusBadRequest, utils.CodeValidationFailed, "invalid submission id")
	}

	number, err := parseIntParam(c, "number")
	if err != nil || number < 1 {
		return utils.SendErrorCode(c, fiber.StatusBadRequest, utils.CodeValidationFailed, "invalid version number")
	}

	version, err := h.service.Get(requestContext(c), submissionID, number)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "version retrieved", version)
}

func (h *VersionHandler) handleError(c *fiber.Ctx, err error) error {
	var validationErrors validator.ValidationErrors
	switch {
	case errors.Is(err, service.ErrAssignmentNotFound):
		return utils.SendErrorCode(c, fiber.StatusNotFound, utils.CodeAssignmentNotFound, "assignment not found")
	case errors.Is(err, service.ErrSubmissionNotFound):
		return utils.SendErrorCode(c, fiber.StatusNotFound, utils.CodeSubmissionNotFound, "submission not found")
	case errors.Is(err, service.ErrVersionNotFound):
		return utils.SendErrorCode(c, fiber.StatusNotFound, utils.CodeVersionNotFound, "version not found")
	case errors.Is(err, service.ErrSubmissionClosedForEdits):
		return utils.SendErrorCode(c, fiber.StatusConflict, utils.CodeSubmissionClosedForEdits, "submission no longer accepts versions")
	case errors.As(err, &validationErrors):
		return utils.SendErrorCode(c, fiber.StatusBadRequest, utils.CodeValidationFailed, validationErrors.Error())
	default:
		h.logger.Error().Err(err).Msg("internal server error")
		return utils.SendErrorCode(c, fiber.StatusInternalServerError, utils.CodeInternal, "internal server error")
	}
}
