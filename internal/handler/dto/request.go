package dto

import "encoding/json"

// RegisterRequest represents the request body for POST /auth/register.
type RegisterRequest struct {
	Email       string  `json:"email"`
	Password    string  `json:"password"`
	DisplayName *string `json:"display_name,omitempty"`
}

// LoginRequest represents the request body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// CreateTaskRequest represents the request body for POST /tasks.
type CreateTaskRequest struct {
	ListingID   *string         `json:"listing_id,omitempty"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Category    string          `json:"category,omitempty"`
	Inputs      json.RawMessage `json:"inputs,omitempty" swaggertype:"object"`
	Constraints json.RawMessage `json:"constraints,omitempty" swaggertype:"object"`
	BudgetCents int64           `json:"budget_cents"`
	Currency    string          `json:"currency,omitempty"`
	Deadline    string          `json:"deadline,omitempty"`
}

// AcceptResultRequest represents the request body for POST /tasks/:id/accept-result.
type AcceptResultRequest struct {
	Feedback *string `json:"feedback,omitempty"`
	Rating   *int    `json:"rating,omitempty"`
}

// RejectResultRequest represents the request body for POST /tasks/:id/reject-result.
type RejectResultRequest struct {
	Feedback *string `json:"feedback,omitempty"`
}

// StatusReportRequest represents the request body for POST /tasks/:id/status.
type StatusReportRequest struct {
	Status               string          `json:"status"`
	Result               json.RawMessage `json:"result,omitempty" swaggertype:"object"`
	ResultSummary        *string         `json:"result_summary,omitempty"`
	ExecutionTimeSeconds *float64        `json:"execution_time_seconds,omitempty"`
	ConfidenceScore      *float64        `json:"confidence_score,omitempty"`
	ErrorMessage         *string         `json:"error_message,omitempty"`
}

// ProgressRequest represents the request body for POST /tasks/:id/progress.
type ProgressRequest struct {
	Message  *string        `json:"message,omitempty"`
	Progress *float64       `json:"progress,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// CallbackRequest is a signed agent callback: a status report, or a progress note when status is empty.
type CallbackRequest struct {
	StatusReportRequest
	Progress *ProgressRequest `json:"progress_update,omitempty"`
}

// WebhookConfigRequest represents the request body for POST /listings/:id/webhook.
type WebhookConfigRequest struct {
	URL                string   `json:"webhook_url"`
	MaxConcurrentTasks *int     `json:"max_concurrent_tasks,omitempty"`
	AutoAcceptTasks    *bool    `json:"auto_accept_tasks,omitempty"`
	AcceptedTaskTypes  []string `json:"accepted_task_types,omitempty"`
}

// StartConversationRequest represents the request body for POST /conversations.
type StartConversationRequest struct {
	ListingID string  `json:"listing_id"`
	Subject   *string `json:"subject,omitempty"`
	Message   string  `json:"message"`
}

// SendMessageRequest represents the request body for POST /conversations/:id/messages.
type SendMessageRequest struct {
	Content string `json:"content"`
}
