package utils

import "github.com/gofiber/fiber/v2"

// Stable machine-readable error codes surfaced in the response envelope.
const (
	CodeSubmissionNotFound       = "SUBMISSION_NOT_FOUND"
	CodeAssignmentNotFound       = "ASSIGNMENT_NOT_FOUND"
	CodeVersionNotFound          = "VERSION_NOT_FOUND"
	CodeSubmissionClosedForEdits = "SUBMISSION_CLOSED_FOR_EDITS"
	CodeInvalidTransition        = "INVALID_TRANSITION"
	CodeChecksStillPending       = "CHECKS_STILL_PENDING"
	CodeCheckNotRetryable        = "CHECK_NOT_RETRYABLE"
	CodeValidationFailed         = "VALIDATION_FAILED"
	CodeUnauthenticated          = "UNAUTHENTICATED"
	CodeForbidden                = "FORBIDDEN"
	CodeInternal                 = "INTERNAL"
)

// APIResponse describes the common structure for API responses.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message"`
}

// SendSuccess sends a successful JSON response with a message.
func SendSuccess(c *fiber.Ctx, message string, data interface{}) error {
	if message == "" {
		message = "success"
	}

	return SendSuccessWithStatus(c, fiber.StatusOK, message, data)
}

// SendSuccessWithStatus sends a success payload using the provided HTTP status code.
func SendSuccessWithStatus(c *fiber.Ctx, status int, message string, data interface{}) error {
	if message == "" {
		message = "success"
	}
	if status == 0 {
		status = fiber.StatusOK
	}

	return c.Status(status).JSON(APIResponse{
		Success: true,
		Data:    data,
		Message: message,
	})
}

// SendError sends an error JSON response with the given status code.
func SendError(c *fiber.Ctx, status int, message string) error {
	return SendErrorCode(c, status, "", message)
}

// SendErrorCode sends an error response carrying a stable machine-readable code.
func SendErrorCode(c *fiber.Ctx, status int, code, message string) error {
	if message == "" {
		message = "error"
	}

	return c.Status(status).JSON(APIResponse{
		Success: false,
		Code:    code,
		Message: message,
	})
}
