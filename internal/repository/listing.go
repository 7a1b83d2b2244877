package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mtlprog/swarmmarket/internal/domain"
)

// listingColumns is the shared list of columns for listing queries.
// Columns are qualified because search queries join users.
var listingColumns = []string{
	"l.id", "l.owner_id", "l.name", "l.slug", "l.tagline", "l.description", "l.avatar_url",
	"l.category", "l.tags", "l.capabilities", "l.pricing_model", "l.pricing_details",
	"l.demo_url", "l.source_url", "l.api_endpoint", "l.portfolio",
	"l.total_hires", "l.tasks_completed", "l.total_earned_cents", "l.avg_rating", "l.rating_count",
	"l.response_time_hours", "l.is_docked", "l.is_featured", "l.dock_date", "l.status",
	"l.webhook_url", "l.webhook_secret", "l.webhook_status", "l.webhook_last_ping",
	"l.max_concurrent_tasks", "l.auto_accept_tasks", "l.accepted_task_types",
	"l.created_at", "l.updated_at",
}

// activeTaskCountExpr counts the tasks a listing is currently working on.
const activeTaskCountExpr = `(SELECT COUNT(*) FROM tasks t
	WHERE t.listing_id = l.id AND t.status IN ('dispatched', 'accepted', 'in_progress')) AS active_task_count`

// ListingRepository handles database operations for listings.
type ListingRepository struct {
	pool *pgxpool.Pool
}

// NewListingRepository creates a new ListingRepository.
func NewListingRepository(pool *pgxpool.Pool) *ListingRepository {
	return &ListingRepository{pool: pool}
}

// listingDest returns scan destinations matching listingColumns.
func listingDest(l *domain.Listing, pricingDetails, portfolio *string) []any {
	return []any{
		&l.ID, &l.OwnerID, &l.Name, &l.Slug, &l.Tagline, &l.Description, &l.AvatarURL,
		&l.Category, &l.Tags, &l.Capabilities, &l.PricingModel, pricingDetails,
		&l.DemoURL, &l.SourceURL, &l.APIEndpoint, portfolio,
		&l.TotalHires, &l.TasksCompleted, &l.TotalEarnedCents, &l.AvgRating, &l.RatingCount,
		&l.ResponseTimeHours, &l.IsDocked, &l.IsFeatured, &l.DockDate, &l.Status,
		&l.Webhook.URL, &l.Webhook.Secret, &l.Webhook.Status, &l.Webhook.LastPing,
		&l.Webhook.MaxConcurrentTasks, &l.Webhook.AutoAcceptTasks, &l.Webhook.AcceptedTaskTypes,
		&l.CreatedAt, &l.UpdatedAt,
	}
}

// scanListing scans a single row into a Listing struct.
func scanListing(row pgx.Row) (*domain.Listing, error) {
	var (
		listing                   domain.Listing
		pricingDetails, portfolio string
	)
	if err := row.Scan(listingDest(&listing, &pricingDetails, &portfolio)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrListingNotFound
		}
		return nil, fmt.Errorf("scan listing: %w", err)
	}
	listing.PricingDetails = []byte(pricingDetails)
	listing.Portfolio = []byte(portfolio)
	return &listing, nil
}

// scanListingStats scans a listing row followed by owner name and active task count.
func scanListingStats(row pgx.Row) (*domain.ListingStats, error) {
	var (
		listing                   domain.Listing
		stats                     domain.ListingStats
		pricingDetails, portfolio string
	)
	dest := listingDest(&listing, &pricingDetails, &portfolio)
	dest = append(dest, &stats.OwnerDisplayName, &stats.ActiveTaskCount)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrListingNotFound
		}
		return nil, fmt.Errorf("scan listing stats: %w", err)
	}
	listing.PricingDetails = []byte(pricingDetails)
	listing.Portfolio = []byte(portfolio)
	stats.Listing = &listing
	return &stats, nil
}

// scanListingStatsRows scans multiple rows produced by statsQuery.
func scanListingStatsRows(rows pgx.Rows) ([]*domain.ListingStats, error) {
	defer rows.Close()

	results := []*domain.ListingStats{}
	for rows.Next() {
		stats, err := scanListingStats(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, stats)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return results, nil
}

// statsQuery selects listings with owner display name and active task count.
func statsQuery() sq.SelectBuilder {
	columns := append([]string{}, listingColumns...)
	columns = append(columns, "u.display_name", activeTaskCountExpr)
	return psql.Select(columns...).
		From("listings l").
		LeftJoin("users u ON u.id = l.owner_id")
}

// GetByID retrieves a listing by ID.
func (r *ListingRepository) GetByID(ctx context.Context, listingID string) (*domain.Listing, error) {
	if !isUUID(listingID) {
		return nil, domain.ErrListingNotFound
	}

	query, args, err := psql.
		Select(listingColumns...).
		From("listings l").
		Where(sq.Eq{"l.id": listingID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetByID query for listing: %w", err)
	}

	return scanListing(r.pool.QueryRow(ctx, query, args...))
}

// GetStats retrieves a listing by ID or slug together with its derived counters.
func (r *ListingRepository) GetStats(ctx context.Context, idOrSlug string) (*domain.ListingStats, error) {
	qb := statsQuery()
	if isUUID(idOrSlug) {
		qb = qb.Where(sq.Eq{"l.id": idOrSlug})
	} else {
		qb = qb.Where(sq.Eq{"l.slug": idOrSlug})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetStats query for listing: %w", err)
	}

	return scanListingStats(r.pool.QueryRow(ctx, query, args...))
}

// GetByIDForUpdate retrieves a listing by ID with FOR UPDATE lock (within transaction).
func (r *ListingRepository) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, listingID string) (*domain.Listing, error) {
	if !isUUID(listingID) {
		return nil, domain.ErrListingNotFound
	}

	query, args, err := psql.
		Select(listingColumns...).
		From("listings l").
		Where(sq.Eq{"l.id": listingID}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetByIDForUpdate query for listing %s: %w", listingID, err)
	}

	return scanListing(tx.QueryRow(ctx, query, args...))
}

// SlugExists reports whether a listing other than excludeID already uses slug.
func (r *ListingRepository) SlugExists(ctx context.Context, tx pgx.Tx, slug, excludeID string) (bool, error) {
	qb := psql.Select("COUNT(*)").From("listings").Where(sq.Eq{"slug": slug})
	if excludeID != "" {
		qb = qb.Where(sq.NotEq{"id": excludeID})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return false, fmt.Errorf("build SlugExists query: %w", err)
	}

	var count int
	if err := tx.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("check slug: %w", err)
	}
	return count > 0, nil
}

// Create inserts a new listing within a transaction.
// Returns the listing with ID and timestamps populated.
func (r *ListingRepository) Create(ctx context.Context, tx pgx.Tx, listing *domain.Listing) (*domain.Listing, error) {
	if listing.Webhook.Status == "" {
		listing.Webhook.Status = domain.WebhookStatusUnconfigured
	}
	if listing.Webhook.MaxConcurrentTasks <= 0 {
		listing.Webhook.MaxConcurrentTasks = domain.DefaultMaxConcurrentTasks
	}

	query, args, err := psql.
		Insert("listings").
		Columns(
			"owner_id", "name", "slug", "tagline", "description", "avatar_url", "category",
			"tags", "capabilities", "pricing_model", "pricing_details", "demo_url", "source_url",
			"api_endpoint", "portfolio", "is_docked", "status",
			"webhook_status", "max_concurrent_tasks", "accepted_task_types",
		).
		Values(
			listing.OwnerID,
			listing.Name,
			listing.Slug,
			listing.Tagline,
			listing.Description,
			listing.AvatarURL,
			listing.Category,
			emptyIfNil(listing.Tags),
			emptyIfNil(listing.Capabilities),
			listing.PricingModel,
			blobText(listing.PricingDetails, "{}"),
			listing.DemoURL,
			listing.SourceURL,
			listing.APIEndpoint,
			blobText(listing.Portfolio, "[]"),
			true,
			"active",
			listing.Webhook.Status,
			listing.Webhook.MaxConcurrentTasks,
			emptyIfNil(listing.Webhook.AcceptedTaskTypes),
		).
		Suffix("RETURNING id, is_docked, dock_date, status, created_at, updated_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build Create query for listing: %w", err)
	}

	err = tx.QueryRow(ctx, query, args...).Scan(
		&listing.ID, &listing.IsDocked, &listing.DockDate, &listing.Status,
		&listing.CreatedAt, &listing.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create listing: %w", err)
	}

	return listing, nil
}

// Update writes the owner-editable columns of a listing.
func (r *ListingRepository) Update(ctx context.Context, tx pgx.Tx, listing *domain.Listing) error {
	query, args, err := psql.
		Update("listings").
		Set("name", listing.Name).
		Set("slug", listing.Slug).
		Set("tagline", listing.Tagline).
		Set("description", listing.Description).
		Set("avatar_url", listing.AvatarURL).
		Set("category", listing.Category).
		Set("tags", emptyIfNil(listing.Tags)).
		Set("capabilities", emptyIfNil(listing.Capabilities)).
		Set("pricing_model", listing.PricingModel).
		Set("pricing_details", blobText(listing.PricingDetails, "{}")).
		Set("demo_url", listing.DemoURL).
		Set("source_url", listing.SourceURL).
		Set("api_endpoint", listing.APIEndpoint).
		Set("portfolio", blobText(listing.Portfolio, "[]")).
		Set("is_docked", listing.IsDocked).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": listing.ID}).
		Suffix("RETURNING updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build Update query for listing %s: %w", listing.ID, err)
	}

	if err := tx.QueryRow(ctx, query, args...).Scan(&listing.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrListingNotFound
		}
		return fmt.Errorf("update listing: %w", err)
	}
	return nil
}

// UpdateWebhook replaces the webhook configuration of a listing.
func (r *ListingRepository) UpdateWebhook(ctx context.Context, tx pgx.Tx, listingID string, cfg domain.WebhookConfig) error {
	query, args, err := psql.
		Update("listings").
		Set("webhook_url", cfg.URL).
		Set("webhook_secret", cfg.Secret).
		Set("webhook_status", cfg.Status).
		Set("webhook_last_ping", cfg.LastPing).
		Set("max_concurrent_tasks", cfg.MaxConcurrentTasks).
		Set("auto_accept_tasks", cfg.AutoAcceptTasks).
		Set("accepted_task_types", emptyIfNil(cfg.AcceptedTaskTypes)).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": listingID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build UpdateWebhook query for listing %s: %w", listingID, err)
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update listing webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrListingNotFound
	}
	return nil
}

// RecordWebhookHealth stores the outcome of the latest delivery attempt.
// lastPing is only written when non-nil.
func (r *ListingRepository) RecordWebhookHealth(ctx context.Context, listingID, status string, lastPing *time.Time) error {
	qb := psql.
		Update("listings").
		Set("webhook_status", status).
		Where(sq.Eq{"id": listingID}).
		Where(sq.NotEq{"webhook_url": nil})
	if lastPing != nil {
		qb = qb.Set("webhook_last_ping", *lastPing)
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return fmt.Errorf("build RecordWebhookHealth query for listing %s: %w", listingID, err)
	}

	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("record webhook health: %w", err)
	}
	return nil
}

// Delete removes a listing. Tasks keep their history with listing_id cleared.
func (r *ListingRepository) Delete(ctx context.Context, tx pgx.Tx, listingID string) error {
	query, args, err := psql.
		Delete("listings").
		Where(sq.Eq{"id": listingID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build Delete query for listing %s: %w", listingID, err)
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete listing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrListingNotFound
	}
	return nil
}

// IncrementHires adds one hire to the listing's counter.
func (r *ListingRepository) IncrementHires(ctx context.Context, tx pgx.Tx, listingID string) error {
	query, args, err := psql.
		Update("listings").
		Set("total_hires", sq.Expr("total_hires + 1")).
		Where(sq.Eq{"id": listingID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build IncrementHires query for listing %s: %w", listingID, err)
	}

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("increment listing hires: %w", err)
	}
	return nil
}

// CreditCompletion records an accepted result: one completion, the task budget
// as earnings, and an optional buyer rating folded into the running average.
func (r *ListingRepository) CreditCompletion(
	ctx context.Context,
	tx pgx.Tx,
	listingID string,
	amountCents int64,
	rating *int,
) error {
	qb := psql.
		Update("listings").
		Set("tasks_completed", sq.Expr("tasks_completed + 1")).
		Set("total_earned_cents", sq.Expr("total_earned_cents + ?", amountCents)).
		Where(sq.Eq{"id": listingID})
	if rating != nil {
		qb = qb.
			Set("avg_rating", sq.Expr(
				"(COALESCE(avg_rating, 0) * rating_count + ?) / (rating_count + 1)", float64(*rating),
			)).
			Set("rating_count", sq.Expr("rating_count + 1"))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return fmt.Errorf("build CreditCompletion query for listing %s: %w", listingID, err)
	}

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("credit listing completion: %w", err)
	}
	return nil
}

// CountActiveTasks counts the tasks the listing is currently working on.
func (r *ListingRepository) CountActiveTasks(ctx context.Context, tx pgx.Tx, listingID string) (int, error) {
	query, args, err := psql.
		Select("COUNT(*)").
		From("tasks").
		Where(sq.Eq{
			"listing_id": listingID,
			"status":     domain.ActiveTaskStatuses(),
		}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build CountActiveTasks query for listing %s: %w", listingID, err)
	}

	var count int
	if err := tx.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count active tasks: %w", err)
	}
	return count, nil
}
