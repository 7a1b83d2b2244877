package dto

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mtlprog/swarmmarket/internal/domain"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error code and message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorResponse creates a new error response.
func NewErrorResponse(code, message string) ErrorResponse {
	return ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	}
}

// MapDomainError maps domain errors to HTTP status codes and error codes.
func MapDomainError(err error) (status int, code string, message string) {
	message = err.Error()

	switch {
	// Not found errors
	case errors.Is(err, domain.ErrTaskNotFound):
		return http.StatusNotFound, "TASK_NOT_FOUND", message
	case errors.Is(err, domain.ErrListingNotFound):
		return http.StatusNotFound, "LISTING_NOT_FOUND", message
	case errors.Is(err, domain.ErrConversationNotFound):
		return http.StatusNotFound, "CONVERSATION_NOT_FOUND", message
	case errors.Is(err, domain.ErrUserNotFound):
		return http.StatusNotFound, "USER_NOT_FOUND", message

	// Permission errors
	case errors.Is(err, domain.ErrPermissionDenied),
		errors.Is(err, domain.ErrNotTaskBuyer),
		errors.Is(err, domain.ErrNotListingOwner),
		errors.Is(err, domain.ErrNotParticipant):
		return http.StatusForbidden, "INSUFFICIENT_ACCESS", message

	// State errors
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION", message
	case errors.Is(err, domain.ErrTaskNotCompleted):
		return http.StatusConflict, "TASK_NOT_COMPLETED", message
	case errors.Is(err, domain.ErrResultAlreadyReviewed):
		return http.StatusConflict, "RESULT_ALREADY_REVIEWED", message
	case errors.Is(err, domain.ErrTaskStateChanged):
		return http.StatusConflict, "CONCURRENT_MODIFICATION", message
	case errors.Is(err, domain.ErrWebhookNotConfigured):
		return http.StatusConflict, "WEBHOOK_NOT_CONFIGURED", message

	// Validation errors
	case errors.Is(err, domain.ErrInvalidDeadline):
		return http.StatusUnprocessableEntity, "INVALID_DEADLINE", message
	case errors.Is(err, domain.ErrUnknownField):
		return http.StatusUnprocessableEntity, "UNKNOWN_FIELD", message
	case errors.Is(err, domain.ErrReadOnlyField):
		return http.StatusUnprocessableEntity, "READ_ONLY_FIELD", message
	case errors.Is(err, domain.ErrEmailTaken):
		return http.StatusUnprocessableEntity, "EMAIL_TAKEN", message
	case errors.Is(err, domain.ErrSelfConversation):
		return http.StatusUnprocessableEntity, "SELF_CONVERSATION", message
	case errors.Is(err, domain.ErrValidation):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", message

	// Authentication errors
	case errors.Is(err, domain.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", message
	case errors.Is(err, domain.ErrInvalidToken):
		return http.StatusUnauthorized, "INVALID_TOKEN", message
	case errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusUnauthorized, "INVALID_SIGNATURE", message

	// Default: internal server error
	default:
		slog.Error("unmapped domain error returned to client",
			"error", err,
			"error_type", fmt.Sprintf("%T", err),
		)
		return http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error"
	}
}
