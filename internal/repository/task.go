package repository

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mtlprog/swarmmarket/internal/domain"
)

// taskColumns is the shared list of columns for task queries.
var taskColumns = []string{
	"t.id", "t.buyer_id", "t.listing_id", "t.title", "t.description", "t.category",
	"t.inputs", "t.constraints", "t.budget_cents", "t.currency", "t.deadline", "t.status",
	"t.dispatched_at", "t.accepted_at", "t.completed_at", "t.failed_at",
	"t.result", "t.result_summary", "t.execution_time_seconds", "t.confidence_score",
	"t.error_message", "t.buyer_accepted", "t.buyer_feedback",
	"t.created_at", "t.updated_at",
}

// TaskRepository handles database operations for tasks.
type TaskRepository struct {
	pool *pgxpool.Pool
}

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(pool *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{pool: pool}
}

type taskBlobs struct {
	inputs, constraints string
	result              *string
}

func taskDest(t *domain.Task, b *taskBlobs) []any {
	return []any{
		&t.ID, &t.BuyerID, &t.ListingID, &t.Title, &t.Description, &t.Category,
		&b.inputs, &b.constraints, &t.BudgetCents, &t.Currency, &t.Deadline, &t.Status,
		&t.DispatchedAt, &t.AcceptedAt, &t.CompletedAt, &t.FailedAt,
		&b.result, &t.ResultSummary, &t.ExecutionTimeSeconds, &t.ConfidenceScore,
		&t.ErrorMessage, &t.BuyerAccepted, &t.BuyerFeedback,
		&t.CreatedAt, &t.UpdatedAt,
	}
}

func (b *taskBlobs) apply(t *domain.Task) {
	t.Inputs = []byte(b.inputs)
	t.Constraints = []byte(b.constraints)
	t.Result = blobBytes(b.result)
}

// scanTask scans a single row into a Task struct.
func scanTask(row pgx.Row) (*domain.Task, error) {
	var (
		task  domain.Task
		blobs taskBlobs
	)
	if err := row.Scan(taskDest(&task, &blobs)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	blobs.apply(&task)
	return &task, nil
}

// scanTaskView scans a task row followed by listing and buyer display fields.
func scanTaskView(row pgx.Row) (*domain.TaskView, error) {
	var (
		task  domain.Task
		blobs taskBlobs
		view  domain.TaskView
	)
	dest := taskDest(&task, &blobs)
	dest = append(dest, &view.ListingName, &view.ListingSlug, &view.ListingOwnerID, &view.BuyerDisplayName)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("scan task view: %w", err)
	}
	blobs.apply(&task)
	view.Task = &task
	return &view, nil
}

// scanTaskViews scans multiple rows produced by viewQuery.
func scanTaskViews(rows pgx.Rows) ([]*domain.TaskView, error) {
	defer rows.Close()

	views := []*domain.TaskView{}
	for rows.Next() {
		view, err := scanTaskView(rows)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return views, nil
}

// viewQuery selects tasks joined with their listing and buyer.
func viewQuery() sq.SelectBuilder {
	columns := append([]string{}, taskColumns...)
	columns = append(columns, "l.name", "l.slug", "l.owner_id", "u.display_name")
	return psql.Select(columns...).
		From("tasks t").
		LeftJoin("listings l ON l.id = t.listing_id").
		LeftJoin("users u ON u.id = t.buyer_id")
}

// GetByID retrieves a task by ID.
func (r *TaskRepository) GetByID(ctx context.Context, taskID string) (*domain.Task, error) {
	if !isUUID(taskID) {
		return nil, domain.ErrTaskNotFound
	}

	query, args, err := psql.
		Select(taskColumns...).
		From("tasks t").
		Where(sq.Eq{"t.id": taskID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetByID query for task: %w", err)
	}

	return scanTask(r.pool.QueryRow(ctx, query, args...))
}

// GetView retrieves a task with its listing and buyer display fields.
func (r *TaskRepository) GetView(ctx context.Context, taskID string) (*domain.TaskView, error) {
	if !isUUID(taskID) {
		return nil, domain.ErrTaskNotFound
	}

	query, args, err := viewQuery().
		Where(sq.Eq{"t.id": taskID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetView query for task: %w", err)
	}

	return scanTaskView(r.pool.QueryRow(ctx, query, args...))
}

// GetByIDForUpdate retrieves a task by ID with FOR UPDATE lock (within transaction).
func (r *TaskRepository) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, taskID string) (*domain.Task, error) {
	if !isUUID(taskID) {
		return nil, domain.ErrTaskNotFound
	}

	query, args, err := psql.
		Select(taskColumns...).
		From("tasks t").
		Where(sq.Eq{"t.id": taskID}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build GetByIDForUpdate query for task %s: %w", taskID, err)
	}

	return scanTask(tx.QueryRow(ctx, query, args...))
}

// Create creates a new task in the database within a transaction.
// Returns the created task with ID, CreatedAt, and UpdatedAt populated.
func (r *TaskRepository) Create(ctx context.Context, tx pgx.Tx, task *domain.Task) (*domain.Task, error) {
	query, args, err := psql.
		Insert("tasks").
		Columns(
			"buyer_id", "listing_id", "title", "description", "category", "inputs", "constraints",
			"budget_cents", "currency", "deadline", "status", "dispatched_at",
		).
		Values(
			task.BuyerID,
			task.ListingID,
			task.Title,
			task.Description,
			task.Category,
			blobText(task.Inputs, "{}"),
			blobText(task.Constraints, "{}"),
			task.BudgetCents,
			task.Currency,
			task.Deadline,
			task.Status,
			task.DispatchedAt,
		).
		Suffix("RETURNING id, created_at, updated_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build Create query for task: %w", err)
	}

	err = tx.QueryRow(ctx, query, args...).Scan(&task.ID, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	return task, nil
}

// Save writes the mutable lifecycle columns of a task with optimistic locking.
// Returns ErrTaskStateChanged if the stored status no longer equals oldStatus.
func (r *TaskRepository) Save(ctx context.Context, tx pgx.Tx, task *domain.Task, oldStatus domain.TaskStatus) error {
	query, args, err := psql.
		Update("tasks").
		Set("status", task.Status).
		Set("dispatched_at", task.DispatchedAt).
		Set("accepted_at", task.AcceptedAt).
		Set("completed_at", task.CompletedAt).
		Set("failed_at", task.FailedAt).
		Set("result", nullableBlobText(task.Result)).
		Set("result_summary", task.ResultSummary).
		Set("execution_time_seconds", task.ExecutionTimeSeconds).
		Set("confidence_score", task.ConfidenceScore).
		Set("error_message", task.ErrorMessage).
		Set("buyer_accepted", task.BuyerAccepted).
		Set("buyer_feedback", task.BuyerFeedback).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{
			"id":     task.ID,
			"status": oldStatus,
		}).
		Suffix("RETURNING updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build Save query for task %s: %w", task.ID, err)
	}

	if err := tx.QueryRow(ctx, query, args...).Scan(&task.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrTaskStateChanged
		}
		return fmt.Errorf("save task: %w", err)
	}

	return nil
}

// ListByBuyer returns the tasks a user posted, newest first.
func (r *TaskRepository) ListByBuyer(ctx context.Context, buyerID string, limit, offset int) ([]*domain.TaskView, error) {
	query, args, err := viewQuery().
		Where(sq.Eq{"t.buyer_id": buyerID}).
		OrderBy("t.created_at DESC", "t.id").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build ListByBuyer query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query buyer tasks: %w", err)
	}

	return scanTaskViews(rows)
}

// ListIncoming returns tasks targeting listings owned by the user, newest first.
// An empty statuses slice returns every status.
func (r *TaskRepository) ListIncoming(
	ctx context.Context,
	ownerID string,
	statuses []domain.TaskStatus,
	limit, offset int,
) ([]*domain.TaskView, error) {
	qb := viewQuery().Where(sq.Eq{"l.owner_id": ownerID})
	if len(statuses) > 0 {
		qb = qb.Where(sq.Eq{"t.status": statuses})
	}

	query, args, err := qb.
		OrderBy("t.created_at DESC", "t.id").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build ListIncoming query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query incoming tasks: %w", err)
	}

	return scanTaskViews(rows)
}
