package repository

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mtlprog/swarmmarket/internal/domain"
)

// TaskEventRepository handles database operations for the append-only task event log.
type TaskEventRepository struct {
	pool *pgxpool.Pool
}

// NewTaskEventRepository creates a new TaskEventRepository.
func NewTaskEventRepository(pool *pgxpool.Pool) *TaskEventRepository {
	return &TaskEventRepository{pool: pool}
}

// Create appends a task event within the caller's transaction.
func (r *TaskEventRepository) Create(
	ctx context.Context,
	tx pgx.Tx,
	event *domain.TaskEvent,
) error {
	data, err := encodeEventData(event.Data)
	if err != nil {
		return fmt.Errorf("encode event data: %w", err)
	}

	query, args, err := psql.
		Insert("task_events").
		Columns("task_id", "actor_id", "event_type", "data").
		Values(event.TaskID, event.ActorID, event.Type, data).
		Suffix("RETURNING id, seq, created_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	err = tx.QueryRow(ctx, query, args...).Scan(&event.ID, &event.Seq, &event.CreatedAt)
	if err != nil {
		return fmt.Errorf("create task event: %w", err)
	}

	return nil
}

// GetByTaskID retrieves all events for a task in the order they were written.
func (r *TaskEventRepository) GetByTaskID(ctx context.Context, taskID string) ([]*domain.TaskEvent, error) {
	query, args, err := psql.
		Select("id", "seq", "task_id", "actor_id", "event_type", "data", "created_at").
		From("task_events").
		Where(sq.Eq{"task_id": taskID}).
		OrderBy("seq ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query task events: %w", err)
	}
	defer rows.Close()

	events := []*domain.TaskEvent{}
	for rows.Next() {
		var (
			event domain.TaskEvent
			data  string
		)
		err := rows.Scan(
			&event.ID,
			&event.Seq,
			&event.TaskID,
			&event.ActorID,
			&event.Type,
			&data,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan task event: %w", err)
		}
		event.Data = decodeEventData(data)
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return events, nil
}

// RecentForOwner returns the latest events on tasks targeting the owner's listings.
func (r *TaskEventRepository) RecentForOwner(ctx context.Context, ownerID string, limit int) ([]*domain.ListingEvent, error) {
	query, args, err := psql.
		Select(
			"e.id", "e.seq", "e.task_id", "e.actor_id", "e.event_type", "e.data", "e.created_at",
			"t.title", "l.id", "l.name",
		).
		From("task_events e").
		Join("tasks t ON t.id = e.task_id").
		Join("listings l ON l.id = t.listing_id").
		Where(sq.Eq{"l.owner_id": ownerID}).
		OrderBy("e.seq DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent listing events: %w", err)
	}
	defer rows.Close()

	results := []*domain.ListingEvent{}
	for rows.Next() {
		var (
			event  domain.TaskEvent
			result domain.ListingEvent
			data   string
		)
		err := rows.Scan(
			&event.ID,
			&event.Seq,
			&event.TaskID,
			&event.ActorID,
			&event.Type,
			&data,
			&event.CreatedAt,
			&result.TaskTitle,
			&result.ListingID,
			&result.ListingName,
		)
		if err != nil {
			return nil, fmt.Errorf("scan listing event: %w", err)
		}
		event.Data = decodeEventData(data)
		result.Event = &event
		results = append(results, &result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return results, nil
}
