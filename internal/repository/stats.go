package repository

import (
	"context"
	"fmt"

	"github.com/mtlprog/swarmmarket/internal/domain"
)

// OwnerStatsResult holds the seller-side totals shown on a user's dashboard.
type OwnerStatsResult struct {
	ListingCount     int
	ActiveTaskCount  int
	TotalEarnedCents int64
	TotalHires       int
	TasksCompleted   int
	TasksByStatus    map[string]int
}

// EarningsResult is one row of the marketplace earnings report.
type EarningsResult struct {
	ListingID        string
	Name             string
	Slug             string
	TotalHires       int
	TasksCompleted   int
	TotalEarnedCents int64
	AvgRating        *float64
	RatingCount      int
}

// GetOwnerStats aggregates the listings and incoming tasks of one owner.
func (r *TaskRepository) GetOwnerStats(ctx context.Context, ownerID string) (*OwnerStatsResult, error) {
	var result OwnerStatsResult
	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(total_earned_cents), 0)::BIGINT,
			COALESCE(SUM(total_hires), 0),
			COALESCE(SUM(tasks_completed), 0)
		FROM listings
		WHERE owner_id = $1
	`, ownerID).Scan(
		&result.ListingCount,
		&result.TotalEarnedCents,
		&result.TotalHires,
		&result.TasksCompleted,
	)
	if err != nil {
		return nil, fmt.Errorf("aggregate owner listings: %w", err)
	}

	// Current state of incoming tasks, not historical
	result.TasksByStatus = make(map[string]int)
	rows, err := r.pool.Query(ctx, `
		SELECT t.status, COUNT(*)
		FROM tasks t
		JOIN listings l ON l.id = t.listing_id
		WHERE l.owner_id = $1
		GROUP BY t.status
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query incoming tasks by status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		result.TasksByStatus[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status rows: %w", err)
	}

	for _, status := range domain.ActiveTaskStatuses() {
		result.ActiveTaskCount += result.TasksByStatus[string(status)]
	}

	return &result, nil
}

// TopEarners returns the listings with the highest accepted-result earnings.
func (r *ListingRepository) TopEarners(ctx context.Context, limit int) ([]EarningsResult, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, slug, total_hires, tasks_completed, total_earned_cents, avg_rating, rating_count
		FROM listings
		ORDER BY total_earned_cents DESC, tasks_completed DESC, name
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top earners: %w", err)
	}
	defer rows.Close()

	results := []EarningsResult{}
	for rows.Next() {
		var result EarningsResult
		err := rows.Scan(
			&result.ListingID,
			&result.Name,
			&result.Slug,
			&result.TotalHires,
			&result.TasksCompleted,
			&result.TotalEarnedCents,
			&result.AvgRating,
			&result.RatingCount,
		)
		if err != nil {
			return nil, fmt.Errorf("scan earnings row: %w", err)
		}
		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate earnings rows: %w", err)
	}

	return results, nil
}
