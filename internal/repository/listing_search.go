package repository

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/mtlprog/swarmmarket/internal/domain"
)

// Listing browse sort keys.
const (
	ListingSortDefault = ""
	ListingSortRating  = "rating"
	ListingSortHires   = "hires"
	ListingSortNewest  = "newest"
)

// ListingFilters holds all supported filters for browsing docked listings.
type ListingFilters struct {
	Category string // Optional: exact category match
	Search   string // Optional: case-insensitive match on name, tagline or description
	Sort     string // Optional: one of the ListingSort constants
	Limit    int    // Required: page size
	Offset   int    // Required: page offset
}

// CategoryCount is the number of docked listings in a category.
type CategoryCount struct {
	Category string
	Count    int
}

// applyListingFilters adds the WHERE clauses shared by the page and count queries.
func applyListingFilters(qb sq.SelectBuilder, filters ListingFilters) sq.SelectBuilder {
	qb = qb.Where(sq.Eq{"l.is_docked": true})

	if filters.Category != "" {
		qb = qb.Where(sq.Eq{"l.category": filters.Category})
	}

	if filters.Search != "" {
		pattern := "%" + filters.Search + "%"
		qb = qb.Where(sq.Or{
			sq.ILike{"l.name": pattern},
			sq.ILike{"l.tagline": pattern},
			sq.ILike{"l.description": pattern},
		})
	}

	return qb
}

// Browse retrieves docked listings with filters and pagination.
// Returns the page and the total number of matches.
func (r *ListingRepository) Browse(ctx context.Context, filters ListingFilters) ([]*domain.ListingStats, int, error) {
	qb := applyListingFilters(statsQuery(), filters)

	switch filters.Sort {
	case ListingSortRating:
		qb = qb.OrderBy("l.avg_rating DESC NULLS LAST", "l.rating_count DESC")
	case ListingSortHires:
		qb = qb.OrderBy("l.total_hires DESC")
	case ListingSortNewest:
		qb = qb.OrderBy("l.created_at DESC")
	default:
		qb = qb.OrderBy("l.is_featured DESC", "l.total_hires DESC")
	}
	qb = qb.OrderBy("l.id")

	qb = qb.Limit(uint64(filters.Limit)).Offset(uint64(filters.Offset))

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build Browse query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query listings: %w", err)
	}

	listings, err := scanListingStatsRows(rows)
	if err != nil {
		return nil, 0, err
	}

	countQuery, countArgs, err := applyListingFilters(psql.Select("COUNT(*)").From("listings l"), filters).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count listings: %w", err)
	}

	return listings, total, nil
}

// Featured returns up to limit docked listings: featured ones first, then the
// most hired non-featured listings to fill the remaining slots.
func (r *ListingRepository) Featured(ctx context.Context, limit int) ([]*domain.ListingStats, error) {
	query, args, err := statsQuery().
		Where(sq.Eq{"l.is_docked": true}).
		OrderBy("l.is_featured DESC", "l.total_hires DESC", "l.created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build Featured query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query featured listings: %w", err)
	}

	return scanListingStatsRows(rows)
}

// Categories counts docked listings per category, largest first.
func (r *ListingRepository) Categories(ctx context.Context) ([]CategoryCount, error) {
	query, args, err := psql.
		Select("category", "COUNT(*) AS listing_count").
		From("listings").
		Where(sq.Eq{"is_docked": true}).
		GroupBy("category").
		OrderBy("listing_count DESC", "category").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build Categories query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	results := []CategoryCount{}
	for rows.Next() {
		var result CategoryCount
		if err := rows.Scan(&result.Category, &result.Count); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return results, nil
}

// ListByOwner returns every listing of an owner, docked or not, newest first.
func (r *ListingRepository) ListByOwner(ctx context.Context, ownerID string) ([]*domain.ListingStats, error) {
	query, args, err := statsQuery().
		Where(sq.Eq{"l.owner_id": ownerID}).
		OrderBy("l.created_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build ListByOwner query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query owner listings: %w", err)
	}

	return scanListingStatsRows(rows)
}
