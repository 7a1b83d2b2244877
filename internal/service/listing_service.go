package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/swarmmarket/internal/domain"
	"github.com/mtlprog/swarmmarket/internal/repository"
	"github.com/mtlprog/swarmmarket/internal/webhook"
)

const (
	featuredLimit   = 6
	maxBrowseLimit  = 100
	maxSlugAttempts = 1000
	fallbackSlug    = "agent"
)

var slugSeparator = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives a URL slug from a listing name.
func Slugify(name string) string {
	slug := slugSeparator.ReplaceAllString(strings.ToLower(name), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return fallbackSlug
	}
	return slug
}

// Pinger sends test deliveries to listing endpoints.
type Pinger interface {
	Ping(ctx context.Context, target webhook.Target) (*webhook.Result, error)
}

// WebhookInput holds a webhook configuration request. Nil fields keep their value.
type WebhookInput struct {
	URL                string
	MaxConcurrentTasks *int
	AutoAcceptTasks    *bool
	AcceptedTaskTypes  []string
}

// PingResult is the outcome of a webhook test.
type PingResult struct {
	Success        bool
	ResponseTimeMS int64
	StatusCode     int
	Attempts       int
	Error          string
}

// ListingService manages listings and their webhook configuration.
type ListingService struct {
	pool        *pgxpool.Pool
	listingRepo *repository.ListingRepository
	pinger      Pinger
	now         func() time.Time
}

// NewListingService creates a new ListingService.
func NewListingService(pool *pgxpool.Pool, listingRepo *repository.ListingRepository, pinger Pinger) *ListingService {
	return &ListingService{
		pool:        pool,
		listingRepo: listingRepo,
		pinger:      pinger,
		now:         time.Now,
	}
}

// Create creates a listing owned by ownerID from allow-listed fields. A name is required.
func (s *ListingService) Create(ctx context.Context, ownerID string, fields map[string]json.RawMessage) (*domain.Listing, error) {
	if _, ok := fields["name"]; !ok {
		return nil, fmt.Errorf("%w: name is required", domain.ErrValidation)
	}

	listing := &domain.Listing{
		OwnerID:        ownerID,
		Category:       defaultCategory,
		Tags:           []string{},
		Capabilities:   []string{},
		PricingDetails: []byte("{}"),
		Portfolio:      []byte("[]"),
		IsDocked:       true,
	}
	if _, err := applyListingFields(listing, fields); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	listing.Slug, err = s.uniqueSlug(ctx, tx, listing.Name, "")
	if err != nil {
		return nil, err
	}

	if _, err := s.listingRepo.Create(ctx, tx, listing); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	slog.Info("listing created",
		"listing_id", listing.ID,
		"owner_id", ownerID,
		"slug", listing.Slug,
	)

	return listing, nil
}

// Update applies allow-listed fields to a listing owned by userID.
func (s *ListingService) Update(
	ctx context.Context,
	listingID string,
	userID string,
	fields map[string]json.RawMessage,
) (*domain.Listing, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	listing, err := s.listingRepo.GetByIDForUpdate(ctx, tx, listingID)
	if err != nil {
		return nil, err
	}
	if !listing.IsOwnedBy(userID) {
		return nil, fmt.Errorf("%w: user %s does not own listing %s", domain.ErrNotListingOwner, userID, listingID)
	}

	renamed, err := applyListingFields(listing, fields)
	if err != nil {
		return nil, err
	}
	if renamed {
		listing.Slug, err = s.uniqueSlug(ctx, tx, listing.Name, listing.ID)
		if err != nil {
			return nil, err
		}
	}

	if err := s.listingRepo.Update(ctx, tx, listing); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	slog.Info("listing updated",
		"listing_id", listing.ID,
		"user_id", userID,
		"fields", len(fields),
	)

	return listing, nil
}

// Delete removes a listing owned by userID.
func (s *ListingService) Delete(ctx context.Context, listingID, userID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	listing, err := s.listingRepo.GetByIDForUpdate(ctx, tx, listingID)
	if err != nil {
		return err
	}
	if !listing.IsOwnedBy(userID) {
		return fmt.Errorf("%w: user %s does not own listing %s", domain.ErrNotListingOwner, userID, listingID)
	}

	if err := s.listingRepo.Delete(ctx, tx, listingID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	slog.Info("listing deleted", "listing_id", listingID, "user_id", userID)

	return nil
}

// Get returns a listing by ID or slug.
func (s *ListingService) Get(ctx context.Context, idOrSlug string) (*domain.ListingStats, error) {
	return s.listingRepo.GetStats(ctx, idOrSlug)
}

// Browse lists docked listings. Page numbers start at 1.
func (s *ListingService) Browse(
	ctx context.Context,
	filters repository.ListingFilters,
	page int,
) ([]*domain.ListingStats, int, error) {
	switch filters.Sort {
	case repository.ListingSortDefault, repository.ListingSortRating,
		repository.ListingSortHires, repository.ListingSortNewest:
	default:
		return nil, 0, fmt.Errorf("%w: unknown sort %q", domain.ErrValidation, filters.Sort)
	}
	if page < 1 {
		return nil, 0, fmt.Errorf("%w: page must be at least 1", domain.ErrValidation)
	}
	if filters.Limit < 1 || filters.Limit > maxBrowseLimit {
		return nil, 0, fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrValidation, maxBrowseLimit)
	}

	filters.Search = strings.TrimSpace(filters.Search)
	filters.Offset = (page - 1) * filters.Limit

	return s.listingRepo.Browse(ctx, filters)
}

// Featured returns the listings shown on the landing page.
func (s *ListingService) Featured(ctx context.Context) ([]*domain.ListingStats, error) {
	return s.listingRepo.Featured(ctx, featuredLimit)
}

// Categories returns docked listing counts per category.
func (s *ListingService) Categories(ctx context.Context) ([]repository.CategoryCount, error) {
	return s.listingRepo.Categories(ctx)
}

// Mine returns every listing owned by userID.
func (s *ListingService) Mine(ctx context.Context, userID string) ([]*domain.ListingStats, error) {
	return s.listingRepo.ListByOwner(ctx, userID)
}

// ConfigureWebhook sets the endpoint of a listing owned by userID.
// A secret is generated on first configuration and kept afterwards.
func (s *ListingService) ConfigureWebhook(
	ctx context.Context,
	listingID string,
	userID string,
	input WebhookInput,
) (*domain.Listing, error) {
	endpoint, err := validateEndpoint(input.URL)
	if err != nil {
		return nil, err
	}
	if input.MaxConcurrentTasks != nil && *input.MaxConcurrentTasks < 1 {
		return nil, fmt.Errorf("%w: max_concurrent_tasks must be at least 1", domain.ErrValidation)
	}

	return s.updateWebhook(ctx, listingID, userID, "webhook configured", func(cfg *domain.WebhookConfig) error {
		cfg.URL = &endpoint
		cfg.Status = domain.WebhookStatusConnected
		if cfg.Secret == nil || *cfg.Secret == "" {
			secret, err := webhook.GenerateSecret()
			if err != nil {
				return err
			}
			cfg.Secret = &secret
		}
		if input.MaxConcurrentTasks != nil {
			cfg.MaxConcurrentTasks = *input.MaxConcurrentTasks
		}
		if input.AutoAcceptTasks != nil {
			cfg.AutoAcceptTasks = *input.AutoAcceptTasks
		}
		if input.AcceptedTaskTypes != nil {
			cfg.AcceptedTaskTypes = cleanTaskTypes(input.AcceptedTaskTypes)
		}
		return nil
	})
}

// RegenerateSecret replaces the webhook secret of a listing owned by userID.
func (s *ListingService) RegenerateSecret(ctx context.Context, listingID, userID string) (*domain.Listing, error) {
	return s.updateWebhook(ctx, listingID, userID, "webhook secret regenerated", func(cfg *domain.WebhookConfig) error {
		secret, err := webhook.GenerateSecret()
		if err != nil {
			return err
		}
		cfg.Secret = &secret
		return nil
	})
}

// RemoveWebhook clears the webhook configuration of a listing owned by userID.
func (s *ListingService) RemoveWebhook(ctx context.Context, listingID, userID string) (*domain.Listing, error) {
	return s.updateWebhook(ctx, listingID, userID, "webhook removed", func(cfg *domain.WebhookConfig) error {
		cfg.URL = nil
		cfg.Secret = nil
		cfg.LastPing = nil
		cfg.Status = domain.WebhookStatusUnconfigured
		cfg.AutoAcceptTasks = false
		return nil
	})
}

// TestWebhook sends a signed ping to the endpoint of a listing owned by userID
// and records the outcome as the webhook status.
func (s *ListingService) TestWebhook(ctx context.Context, listingID, userID string) (*PingResult, error) {
	listing, err := s.listingRepo.GetByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if !listing.IsOwnedBy(userID) {
		return nil, fmt.Errorf("%w: user %s does not own listing %s", domain.ErrNotListingOwner, userID, listingID)
	}

	target, err := webhook.TargetFor(listing)
	if err != nil {
		return nil, err
	}

	result, pingErr := s.pinger.Ping(ctx, target)
	ping := &PingResult{Success: pingErr == nil}
	if result != nil {
		ping.ResponseTimeMS = result.Duration.Milliseconds()
		ping.StatusCode = result.StatusCode
		ping.Attempts = result.Attempts
	}

	status := domain.WebhookStatusConnected
	var lastPing *time.Time
	if pingErr != nil {
		status = domain.WebhookStatusError
		ping.Error = pingErr.Error()
	} else {
		now := s.now()
		lastPing = &now
	}

	if err := s.listingRepo.RecordWebhookHealth(ctx, listing.ID, status, lastPing); err != nil {
		return nil, err
	}

	slog.Info("webhook tested",
		"listing_id", listing.ID,
		"success", ping.Success,
		"attempts", ping.Attempts,
		"response_time_ms", ping.ResponseTimeMS,
	)

	return ping, nil
}

func (s *ListingService) updateWebhook(
	ctx context.Context,
	listingID string,
	userID string,
	message string,
	mutate func(cfg *domain.WebhookConfig) error,
) (*domain.Listing, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	listing, err := s.listingRepo.GetByIDForUpdate(ctx, tx, listingID)
	if err != nil {
		return nil, err
	}
	if !listing.IsOwnedBy(userID) {
		return nil, fmt.Errorf("%w: user %s does not own listing %s", domain.ErrNotListingOwner, userID, listingID)
	}

	if err := mutate(&listing.Webhook); err != nil {
		return nil, err
	}

	if err := s.listingRepo.UpdateWebhook(ctx, tx, listing.ID, listing.Webhook); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	slog.Info(message,
		"listing_id", listing.ID,
		"user_id", userID,
		"webhook_status", listing.Webhook.Status,
	)

	return listing, nil
}

// uniqueSlug finds the first free slug for name: base, base-1, base-2, ...
func (s *ListingService) uniqueSlug(ctx context.Context, tx pgx.Tx, name, excludeID string) (string, error) {
	base := Slugify(name)
	candidate := base
	for i := 1; i <= maxSlugAttempts; i++ {
		exists, err := s.listingRepo.SlugExists(ctx, tx, candidate, excludeID)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
	return "", fmt.Errorf("no free slug for %q after %d attempts", base, maxSlugAttempts)
}

func validateEndpoint(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", fmt.Errorf("%w: webhook_url must be an absolute http(s) URL", domain.ErrValidation)
	}
	return raw, nil
}

func cleanTaskTypes(types []string) []string {
	cleaned := make([]string, 0, len(types))
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" {
			cleaned = append(cleaned, t)
		}
	}
	return cleaned
}
