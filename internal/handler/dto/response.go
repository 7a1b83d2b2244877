package dto

import (
	"encoding/json"
	"time"

	"github.com/mtlprog/swarmmarket/internal/domain"
	"github.com/mtlprog/swarmmarket/internal/repository"
	"github.com/mtlprog/swarmmarket/internal/service"
)

// UserResponse represents an account without credentials.
type UserResponse struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName *string   `json:"display_name"`
	AvatarURL   *string   `json:"avatar_url"`
	CreatedAt   time.Time `json:"created_at"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	User        UserResponse `json:"user"`
}

// WebhookInfo is the webhook block of a listing. The secret is shown as a prefix.
type WebhookInfo struct {
	URL                *string    `json:"webhook_url"`
	SecretPrefix       *string    `json:"webhook_secret_prefix"`
	Status             string     `json:"webhook_status"`
	LastPing           *time.Time `json:"webhook_last_ping"`
	MaxConcurrentTasks int        `json:"max_concurrent_tasks"`
	AutoAcceptTasks    bool       `json:"auto_accept_tasks"`
	AcceptedTaskTypes  []string   `json:"accepted_task_types"`
}

// ListingResponse represents a listing with its aggregates.
type ListingResponse struct {
	ID                string          `json:"id"`
	OwnerID           string          `json:"owner_id"`
	OwnerDisplayName  *string         `json:"owner_display_name,omitempty"`
	Name              string          `json:"name"`
	Slug              string          `json:"slug"`
	Tagline           *string         `json:"tagline"`
	Description       string          `json:"description"`
	AvatarURL         *string         `json:"avatar_url"`
	Category          string          `json:"category"`
	Tags              []string        `json:"tags"`
	Capabilities      []string        `json:"capabilities"`
	PricingModel      *string         `json:"pricing_model"`
	PricingDetails    json.RawMessage `json:"pricing_details" swaggertype:"object"`
	DemoURL           *string         `json:"demo_url"`
	SourceURL         *string         `json:"source_url"`
	APIEndpoint       *string         `json:"api_endpoint"`
	Portfolio         json.RawMessage `json:"portfolio" swaggertype:"array,object"`
	TotalHires        int             `json:"total_hires"`
	TasksCompleted    int             `json:"tasks_completed"`
	TotalEarnedCents  int64           `json:"total_earned_cents"`
	AvgRating         *float64        `json:"avg_rating"`
	RatingCount       int             `json:"rating_count"`
	ResponseTimeHours *float64        `json:"response_time_hours"`
	ActiveTaskCount   int             `json:"active_task_count"`
	IsActive          bool            `json:"is_active"`
	IsFeatured        bool            `json:"is_featured"`
	DockDate          time.Time       `json:"dock_date"`
	Status            string          `json:"status"`
	Webhook           WebhookInfo     `json:"webhook"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// ListingsResponse represents a page of listings.
type ListingsResponse struct {
	Listings []ListingResponse `json:"listings"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	Limit    int               `json:"limit"`
}

// CategoryResponse is the number of docked listings in a category.
type CategoryResponse struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// WebhookSecretResponse is returned by configure and regenerate; the only reads of the full secret.
type WebhookSecretResponse struct {
	Listing ListingResponse `json:"listing"`
	Secret  *string         `json:"webhook_secret"`
}

// WebhookTestResponse is the outcome of a webhook ping.
type WebhookTestResponse struct {
	Success        bool   `json:"success"`
	ResponseTimeMS int64  `json:"response_time_ms"`
	StatusCode     int    `json:"status_code,omitempty"`
	Attempts       int    `json:"attempts"`
	Error          string `json:"error,omitempty"`
}

// TaskResponse represents a task with listing and buyer display fields.
type TaskResponse struct {
	ID                   string          `json:"id"`
	BuyerID              string          `json:"buyer_id"`
	BuyerDisplayName     *string         `json:"buyer_display_name,omitempty"`
	ListingID            *string         `json:"listing_id"`
	ListingName          *string         `json:"listing_name,omitempty"`
	ListingSlug          *string         `json:"listing_slug,omitempty"`
	Title                string          `json:"title"`
	Description          string          `json:"description"`
	Category             string          `json:"category"`
	Inputs               json.RawMessage `json:"inputs" swaggertype:"object"`
	Constraints          json.RawMessage `json:"constraints" swaggertype:"object"`
	BudgetCents          int64           `json:"budget_cents"`
	Currency             string          `json:"currency"`
	Deadline             *time.Time      `json:"deadline"`
	Status               string          `json:"status"`
	DispatchedAt         *time.Time      `json:"dispatched_at"`
	AcceptedAt           *time.Time      `json:"accepted_at"`
	CompletedAt          *time.Time      `json:"completed_at"`
	FailedAt             *time.Time      `json:"failed_at"`
	Result               json.RawMessage `json:"result" swaggertype:"object"`
	ResultSummary        *string         `json:"result_summary"`
	ExecutionTimeSeconds *float64        `json:"execution_time_seconds"`
	ConfidenceScore      *float64        `json:"confidence_score"`
	ErrorMessage         *string         `json:"error_message"`
	BuyerAccepted        *bool           `json:"buyer_accepted"`
	BuyerFeedback        *string         `json:"buyer_feedback"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// TasksResponse represents a list of tasks.
type TasksResponse struct {
	Tasks  []TaskResponse `json:"tasks"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// TaskEventResponse represents a single task event.
type TaskEventResponse struct {
	ID        string         `json:"id"`
	Seq       int64          `json:"seq"`
	TaskID    string         `json:"task_id"`
	ActorID   *string        `json:"actor_id"`
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
}

// TaskEventsResponse represents the audit trail of a task.
type TaskEventsResponse struct {
	Events []TaskEventResponse `json:"events"`
}

// ConversationResponse is the viewer-relative view of a conversation.
type ConversationResponse struct {
	ID                 string     `json:"id"`
	ListingID          string     `json:"listing_id"`
	ListingName        *string    `json:"listing_name"`
	ListingAvatarURL   *string    `json:"listing_avatar_url"`
	InitiatorID        string     `json:"initiator_id"`
	OwnerID            string     `json:"owner_id"`
	OtherPartyName     *string    `json:"other_party_name"`
	Subject            *string    `json:"subject"`
	LastMessageAt      *time.Time `json:"last_message_at"`
	LastMessagePreview *string    `json:"last_message_preview"`
	IsReadByOwner      bool       `json:"is_read_by_owner"`
	IsReadByInitiator  bool       `json:"is_read_by_initiator"`
	UnreadCount        int        `json:"unread_count"`
	CreatedAt          time.Time  `json:"created_at"`
}

// MessageResponse represents a single message.
type MessageResponse struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	IsRead         bool      `json:"is_read"`
	CreatedAt      time.Time `json:"created_at"`
}

// ConversationDetailResponse is a conversation with its messages, oldest first.
type ConversationDetailResponse struct {
	Conversation ConversationResponse `json:"conversation"`
	Messages     []MessageResponse    `json:"messages"`
}

// StartConversationResponse is returned when a conversation is opened.
type StartConversationResponse struct {
	ID      string          `json:"id"`
	Message MessageResponse `json:"message"`
}

// ListingEventResponse is a task event on one of the caller's listings.
type ListingEventResponse struct {
	TaskEventResponse
	TaskTitle   string `json:"task_title"`
	ListingID   string `json:"listing_id"`
	ListingName string `json:"listing_name"`
}

// DashboardResponse is the seller overview of the caller.
type DashboardResponse struct {
	ListingCount     int                    `json:"listing_count"`
	ActiveTaskCount  int                    `json:"active_task_count"`
	TotalEarnedCents int64                  `json:"total_earned_cents"`
	TotalHires       int                    `json:"total_hires"`
	TasksCompleted   int                    `json:"tasks_completed"`
	TasksByStatus    map[string]int         `json:"tasks_by_status"`
	UnreadMessages   int                    `json:"unread_messages"`
	Listings         []ListingResponse      `json:"listings"`
	RecentEvents     []ListingEventResponse `json:"recent_events"`
}

// rawJSON returns a stored JSON blob, or fallback when it is empty or malformed.
func rawJSON(blob []byte, fallback string) json.RawMessage {
	if len(blob) == 0 || !json.Valid(blob) {
		return json.RawMessage(fallback)
	}
	return json.RawMessage(blob)
}

// nullableJSON returns a stored JSON blob, or nil when absent.
func nullableJSON(blob []byte) json.RawMessage {
	if len(blob) == 0 || !json.Valid(blob) {
		return nil
	}
	return json.RawMessage(blob)
}

// ToUserResponse converts domain.User to UserResponse.
func ToUserResponse(user *domain.User) UserResponse {
	return UserResponse{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		AvatarURL:   user.AvatarURL,
		CreatedAt:   user.CreatedAt,
	}
}

// ToAuthResponse converts a user and access token to AuthResponse.
func ToAuthResponse(user *domain.User, token string) AuthResponse {
	return AuthResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        ToUserResponse(user),
	}
}

// ToListingResponse converts domain.Listing to ListingResponse.
func ToListingResponse(l *domain.Listing) ListingResponse {
	return ListingResponse{
		ID:                l.ID,
		OwnerID:           l.OwnerID,
		Name:              l.Name,
		Slug:              l.Slug,
		Tagline:           l.Tagline,
		Description:       l.Description,
		AvatarURL:         l.AvatarURL,
		Category:          l.Category,
		Tags:              nonNil(l.Tags),
		Capabilities:      nonNil(l.Capabilities),
		PricingModel:      l.PricingModel,
		PricingDetails:    rawJSON(l.PricingDetails, "{}"),
		DemoURL:           l.DemoURL,
		SourceURL:         l.SourceURL,
		APIEndpoint:       l.APIEndpoint,
		Portfolio:         rawJSON(l.Portfolio, "[]"),
		TotalHires:        l.TotalHires,
		TasksCompleted:    l.TasksCompleted,
		TotalEarnedCents:  l.TotalEarnedCents,
		AvgRating:         l.AvgRating,
		RatingCount:       l.RatingCount,
		ResponseTimeHours: l.ResponseTimeHours,
		IsActive:          l.IsDocked,
		IsFeatured:        l.IsFeatured,
		DockDate:          l.DockDate,
		Status:            l.Status,
		Webhook: WebhookInfo{
			URL:                l.Webhook.URL,
			SecretPrefix:       l.Webhook.SecretPrefix(),
			Status:             l.Webhook.Status,
			LastPing:           l.Webhook.LastPing,
			MaxConcurrentTasks: l.Webhook.MaxConcurrentTasks,
			AutoAcceptTasks:    l.Webhook.AutoAcceptTasks,
			AcceptedTaskTypes:  nonNil(l.Webhook.AcceptedTaskTypes),
		},
		CreatedAt: l.CreatedAt,
		UpdatedAt: l.UpdatedAt,
	}
}

// ToListingStatsResponse converts domain.ListingStats to ListingResponse.
func ToListingStatsResponse(stats *domain.ListingStats) ListingResponse {
	resp := ToListingResponse(stats.Listing)
	resp.ActiveTaskCount = stats.ActiveTaskCount
	resp.OwnerDisplayName = stats.OwnerDisplayName
	return resp
}

// ToListingResponses converts a slice of listings with stats.
func ToListingResponses(listings []*domain.ListingStats) []ListingResponse {
	resp := make([]ListingResponse, len(listings))
	for i, l := range listings {
		resp[i] = ToListingStatsResponse(l)
	}
	return resp
}

// ToWebhookSecretResponse exposes the full webhook secret of a listing.
func ToWebhookSecretResponse(l *domain.Listing) WebhookSecretResponse {
	return WebhookSecretResponse{
		Listing: ToListingResponse(l),
		Secret:  l.Webhook.Secret,
	}
}

// ToCategoryResponses converts category counts.
func ToCategoryResponses(counts []repository.CategoryCount) []CategoryResponse {
	resp := make([]CategoryResponse, len(counts))
	for i, c := range counts {
		resp[i] = CategoryResponse{Category: c.Category, Count: c.Count}
	}
	return resp
}

// ToWebhookTestResponse converts service.PingResult.
func ToWebhookTestResponse(result *service.PingResult) WebhookTestResponse {
	return WebhookTestResponse{
		Success:        result.Success,
		ResponseTimeMS: result.ResponseTimeMS,
		StatusCode:     result.StatusCode,
		Attempts:       result.Attempts,
		Error:          result.Error,
	}
}

// ToTaskResponse converts domain.Task to TaskResponse.
func ToTaskResponse(task *domain.Task) TaskResponse {
	return TaskResponse{
		ID:                   task.ID,
		BuyerID:              task.BuyerID,
		ListingID:            task.ListingID,
		Title:                task.Title,
		Description:          task.Description,
		Category:             task.Category,
		Inputs:               rawJSON(task.Inputs, "{}"),
		Constraints:          rawJSON(task.Constraints, "{}"),
		BudgetCents:          task.BudgetCents,
		Currency:             task.Currency,
		Deadline:             task.Deadline,
		Status:               string(task.Status),
		DispatchedAt:         task.DispatchedAt,
		AcceptedAt:           task.AcceptedAt,
		CompletedAt:          task.CompletedAt,
		FailedAt:             task.FailedAt,
		Result:               nullableJSON(task.Result),
		ResultSummary:        task.ResultSummary,
		ExecutionTimeSeconds: task.ExecutionTimeSeconds,
		ConfidenceScore:      task.ConfidenceScore,
		ErrorMessage:         task.ErrorMessage,
		BuyerAccepted:        task.BuyerAccepted,
		BuyerFeedback:        task.BuyerFeedback,
		CreatedAt:            task.CreatedAt,
		UpdatedAt:            task.UpdatedAt,
	}
}

// ToTaskViewResponse converts domain.TaskView to TaskResponse.
func ToTaskViewResponse(view *domain.TaskView) TaskResponse {
	resp := ToTaskResponse(view.Task)
	resp.ListingName = view.ListingName
	resp.ListingSlug = view.ListingSlug
	resp.BuyerDisplayName = view.BuyerDisplayName
	return resp
}

// ToTaskViewResponses converts a slice of task views.
func ToTaskViewResponses(views []*domain.TaskView) []TaskResponse {
	resp := make([]TaskResponse, len(views))
	for i, v := range views {
		resp[i] = ToTaskViewResponse(v)
	}
	return resp
}

// ToTaskEventResponse converts domain.TaskEvent to TaskEventResponse.
func ToTaskEventResponse(event *domain.TaskEvent) TaskEventResponse {
	data := event.Data
	if data == nil {
		data = map[string]any{}
	}
	return TaskEventResponse{
		ID:        event.ID,
		Seq:       event.Seq,
		TaskID:    event.TaskID,
		ActorID:   event.ActorID,
		EventType: string(event.Type),
		Data:      data,
		CreatedAt: event.CreatedAt,
	}
}

// ToTaskEventResponses converts a slice of task events.
func ToTaskEventResponses(events []*domain.TaskEvent) []TaskEventResponse {
	resp := make([]TaskEventResponse, len(events))
	for i, e := range events {
		resp[i] = ToTaskEventResponse(e)
	}
	return resp
}

// ToConversationResponse converts domain.Conversation to ConversationResponse.
func ToConversationResponse(c *domain.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:                c.ID,
		ListingID:         c.ListingID,
		InitiatorID:       c.InitiatorID,
		OwnerID:           c.OwnerID,
		Subject:           c.Subject,
		LastMessageAt:     c.LastMessageAt,
		IsReadByOwner:     c.IsReadByOwner,
		IsReadByInitiator: c.IsReadByInitiator,
		CreatedAt:         c.CreatedAt,
	}
}

// ToConversationSummaryResponse converts domain.ConversationSummary to ConversationResponse.
func ToConversationSummaryResponse(summary *domain.ConversationSummary) ConversationResponse {
	resp := ToConversationResponse(summary.Conversation)
	resp.ListingName = summary.ListingName
	resp.ListingAvatarURL = summary.ListingAvatarURL
	resp.OtherPartyName = summary.OtherPartyName
	resp.LastMessagePreview = summary.LastMessagePreview
	resp.UnreadCount = summary.UnreadCount
	return resp
}

// ToConversationSummaryResponses converts a slice of conversation summaries.
func ToConversationSummaryResponses(summaries []*domain.ConversationSummary) []ConversationResponse {
	resp := make([]ConversationResponse, len(summaries))
	for i, s := range summaries {
		resp[i] = ToConversationSummaryResponse(s)
	}
	return resp
}

// ToMessageResponse converts domain.Message to MessageResponse.
func ToMessageResponse(m *domain.Message) MessageResponse {
	return MessageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		IsRead:         m.IsRead,
		CreatedAt:      m.CreatedAt,
	}
}

// ToMessageResponses converts a slice of messages.
func ToMessageResponses(messages []*domain.Message) []MessageResponse {
	resp := make([]MessageResponse, len(messages))
	for i, m := range messages {
		resp[i] = ToMessageResponse(m)
	}
	return resp
}

// ToDashboardResponse converts service.Dashboard to DashboardResponse.
func ToDashboardResponse(d *service.Dashboard) DashboardResponse {
	events := make([]ListingEventResponse, len(d.RecentEvents))
	for i, e := range d.RecentEvents {
		events[i] = ListingEventResponse{
			TaskEventResponse: ToTaskEventResponse(e.Event),
			TaskTitle:         e.TaskTitle,
			ListingID:         e.ListingID,
			ListingName:       e.ListingName,
		}
	}

	return DashboardResponse{
		ListingCount:     d.Stats.ListingCount,
		ActiveTaskCount:  d.Stats.ActiveTaskCount,
		TotalEarnedCents: d.Stats.TotalEarnedCents,
		TotalHires:       d.Stats.TotalHires,
		TasksCompleted:   d.Stats.TasksCompleted,
		TasksByStatus:    d.Stats.TasksByStatus,
		UnreadMessages:   d.UnreadMessages,
		Listings:         ToListingResponses(d.Listings),
		RecentEvents:     events,
	}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
