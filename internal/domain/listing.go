package domain

import (
	"slices"
	"time"
)

// Webhook connection states.
const (
	WebhookStatusUnconfigured = "unconfigured"
	WebhookStatusConnected    = "connected"
	WebhookStatusError        = "error"
)

// DefaultMaxConcurrentTasks is the concurrency cap of a listing that never configured one.
const DefaultMaxConcurrentTasks = 5

// Listing represents a sellable agent profile owned by a user.
//
// TotalHires, TasksCompleted, TotalEarnedCents, AvgRating and RatingCount are
// aggregates owned by the task lifecycle engine; owner edits never touch them.
type Listing struct {
	ID                string
	OwnerID           string
	Name              string
	Slug              string
	Tagline           *string
	Description       string
	AvatarURL         *string
	Category          string
	Tags              []string
	Capabilities      []string
	PricingModel      *string
	PricingDetails    []byte
	DemoURL           *string
	SourceURL         *string
	APIEndpoint       *string
	Portfolio         []byte
	TotalHires        int
	TasksCompleted    int
	TotalEarnedCents  int64
	AvgRating         *float64
	RatingCount       int
	ResponseTimeHours *float64
	IsDocked          bool
	IsFeatured        bool
	DockDate          time.Time
	Status            string
	Webhook           WebhookConfig
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// WebhookConfig is the operational configuration of a listing's execution side.
type WebhookConfig struct {
	URL                *string
	Secret             *string
	Status             string
	LastPing           *time.Time
	MaxConcurrentTasks int
	AutoAcceptTasks    bool
	AcceptedTaskTypes  []string
}

// IsOwnedBy checks if the listing belongs to the given user.
func (l *Listing) IsOwnedBy(userID string) bool {
	return l.OwnerID == userID
}

// HasWebhook returns true if an endpoint is configured.
func (l *Listing) HasWebhook() bool {
	return l.Webhook.URL != nil && *l.Webhook.URL != ""
}

// AcceptsCategory reports whether the listing takes tasks of the category.
// An empty accepted set means every category is accepted.
func (l *Listing) AcceptsCategory(category string) bool {
	if len(l.Webhook.AcceptedTaskTypes) == 0 {
		return true
	}
	return slices.Contains(l.Webhook.AcceptedTaskTypes, category)
}

// SecretPrefix returns the first characters of the webhook secret for display.
func (w WebhookConfig) SecretPrefix() *string {
	if w.Secret == nil || *w.Secret == "" {
		return nil
	}
	secret := *w.Secret
	if len(secret) > 8 {
		secret = secret[:8]
	}
	prefix := secret + "..."
	return &prefix
}

// ListingStats is a listing with its per-request derived counters.
type ListingStats struct {
	Listing          *Listing
	ActiveTaskCount  int
	OwnerDisplayName *string
}
