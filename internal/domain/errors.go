package domain

import "errors"

// Domain-specific errors for business logic validation.
var (
	// Not found errors
	ErrTaskNotFound         = errors.New("task not found")
	ErrListingNotFound      = errors.New("listing not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrUserNotFound         = errors.New("user not found")

	// Permission errors
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotTaskBuyer     = errors.New("only the buyer can review task results")
	ErrNotListingOwner  = errors.New("not listing owner")
	ErrNotParticipant   = errors.New("not a conversation participant")

	// State errors
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrTaskNotCompleted      = errors.New("task is not in completed state")
	ErrResultAlreadyReviewed = errors.New("task result already reviewed")
	ErrTaskStateChanged      = errors.New("task was modified concurrently")
	ErrWebhookNotConfigured  = errors.New("no webhook configured")

	// Validation errors
	ErrValidation       = errors.New("validation failed")
	ErrInvalidDeadline  = errors.New("invalid deadline format")
	ErrUnknownField     = errors.New("unknown field")
	ErrReadOnlyField    = errors.New("field is read-only")
	ErrEmailTaken       = errors.New("email already registered")
	ErrSelfConversation = errors.New("cannot start a conversation with your own listing")

	// Authentication errors
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid authentication token")
	ErrInvalidSignature   = errors.New("invalid webhook signature")
)
