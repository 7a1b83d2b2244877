package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/swarmmarket/internal/domain"
	"github.com/mtlprog/swarmmarket/internal/repository"
	"github.com/mtlprog/swarmmarket/internal/webhook"
)

const (
	maxTitleLength  = 200
	defaultCategory = "other"
	defaultCurrency = "usd"
)

// Dispatcher delivers dispatched tasks to listing endpoints.
type Dispatcher interface {
	DeliverTask(ctx context.Context, target webhook.Target, task *domain.Task) (*webhook.Result, error)
}

// CreateTaskInput holds the buyer-supplied fields of a new task.
type CreateTaskInput struct {
	BuyerID     string
	ListingID   *string
	Title       string
	Description string
	Category    string
	Inputs      []byte
	Constraints []byte
	BudgetCents int64
	Currency    string
	Deadline    string
}

// StatusReport is an out-of-band status update sent by a listing owner or its agent.
type StatusReport struct {
	Status               domain.TaskStatus
	Result               []byte
	ResultSummary        *string
	ExecutionTimeSeconds *float64
	ConfidenceScore      *float64
	ErrorMessage         *string
}

// TaskService coordinates task operations and state transitions.
type TaskService struct {
	pool        *pgxpool.Pool
	taskRepo    *repository.TaskRepository
	eventRepo   *repository.TaskEventRepository
	listingRepo *repository.ListingRepository
	validator   *Validator
	dispatcher  Dispatcher
	deliveries  sync.WaitGroup
	now         func() time.Time
}

// NewTaskService creates a new TaskService. A nil dispatcher disables deliveries.
func NewTaskService(
	pool *pgxpool.Pool,
	taskRepo *repository.TaskRepository,
	eventRepo *repository.TaskEventRepository,
	listingRepo *repository.ListingRepository,
	dispatcher Dispatcher,
) *TaskService {
	return &TaskService{
		pool:        pool,
		taskRepo:    taskRepo,
		eventRepo:   eventRepo,
		listingRepo: listingRepo,
		validator:   NewValidator(listingRepo),
		dispatcher:  dispatcher,
		now:         time.Now,
	}
}

// rollback is deferred after Begin; it is a no-op once the transaction committed.
func rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		slog.Error("failed to rollback transaction", "error", err)
	}
}

// createEventAndCommit persists a task event within the transaction, then commits.
func (s *TaskService) createEventAndCommit(ctx context.Context, tx pgx.Tx, event *domain.TaskEvent) error {
	if err := s.eventRepo.Create(ctx, tx, event); err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// normalize validates input and fills defaults. Returns the parsed deadline.
func (in *CreateTaskInput) normalize() (*time.Time, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return nil, fmt.Errorf("%w: title is required", domain.ErrValidation)
	}
	if utf8.RuneCountInString(in.Title) > maxTitleLength {
		return nil, fmt.Errorf("%w: title must be at most %d characters", domain.ErrValidation, maxTitleLength)
	}
	if err := checkText("title", in.Title); err != nil {
		return nil, err
	}
	if err := checkText("description", in.Description); err != nil {
		return nil, err
	}
	if in.BudgetCents < 0 {
		return nil, fmt.Errorf("%w: budget_cents must not be negative", domain.ErrValidation)
	}

	in.Currency = strings.ToLower(strings.TrimSpace(in.Currency))
	if in.Currency == "" {
		in.Currency = defaultCurrency
	}
	in.Category = strings.TrimSpace(in.Category)
	if err := checkText("category", in.Category); err != nil {
		return nil, err
	}

	if in.ListingID != nil && strings.TrimSpace(*in.ListingID) == "" {
		in.ListingID = nil
	}

	return ParseDeadline(in.Deadline)
}

// CreateTask records a new task, optionally against a listing.
// Against a listing it counts a hire and, when the listing auto-accepts the
// task, dispatches it in the same transaction and delivers it after commit.
// A listing auto-accepts only when it has a webhook with auto-accept on, its
// accepted task types include the task category (or are empty), and its
// active tasks are below max_concurrent_tasks. Otherwise the task stays
// assigned until the owner reports a status.
func (s *TaskService) CreateTask(ctx context.Context, input CreateTaskInput) (*domain.Task, error) {
	deadline, err := input.normalize()
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	task := &domain.Task{
		BuyerID:     input.BuyerID,
		ListingID:   input.ListingID,
		Title:       input.Title,
		Description: input.Description,
		Category:    input.Category,
		Inputs:      input.Inputs,
		Constraints: input.Constraints,
		BudgetCents: input.BudgetCents,
		Currency:    input.Currency,
		Deadline:    deadline,
		Status:      domain.TaskStatusPosted,
	}

	var listing *domain.Listing
	if task.HasListing() {
		listing, err = s.listingRepo.GetByIDForUpdate(ctx, tx, *task.ListingID)
		if err != nil {
			return nil, err
		}
		task.Status = domain.TaskStatusAssigned
		if task.Category == "" {
			task.Category = listing.Category
		}
	}
	if task.Category == "" {
		task.Category = defaultCategory
	}

	if _, err := s.taskRepo.Create(ctx, tx, task); err != nil {
		return nil, err
	}

	created := &domain.TaskEvent{
		TaskID:  task.ID,
		ActorID: &input.BuyerID,
		Type:    domain.EventTypeCreated,
		Data:    map[string]any{"buyer_id": input.BuyerID},
	}
	if err := s.eventRepo.Create(ctx, tx, created); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}

	dispatched := false
	if listing != nil {
		autoDispatch, err := s.validator.CanAutoDispatch(ctx, tx, listing, task.Category)
		if err != nil {
			return nil, err
		}

		if autoDispatch {
			task.Status = domain.TaskStatusDispatched
			task.Stamp(domain.TaskStatusDispatched, s.now())
			if err := s.taskRepo.Save(ctx, tx, task, domain.TaskStatusAssigned); err != nil {
				return nil, err
			}

			event := &domain.TaskEvent{
				TaskID: task.ID,
				Type:   domain.EventTypeDispatched,
				Data:   map[string]any{"agent_id": listing.ID},
			}
			if err := s.eventRepo.Create(ctx, tx, event); err != nil {
				return nil, fmt.Errorf("create event: %w", err)
			}
			dispatched = true
		}

		if err := s.listingRepo.IncrementHires(ctx, tx, listing.ID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	slog.Info("task created",
		"task_id", task.ID,
		"buyer_id", task.BuyerID,
		"listing_id", task.ListingID,
		"status", task.Status,
		"event_id", created.ID,
	)

	if dispatched {
		s.deliver(ctx, listing, task)
	}

	return task, nil
}

// AcceptResult records the buyer's approval of a completed task and credits the listing.
func (s *TaskService) AcceptResult(
	ctx context.Context,
	taskID string,
	buyerID string,
	feedback *string,
	rating *int,
) (*domain.Task, error) {
	if rating != nil && (*rating < 1 || *rating > 5) {
		return nil, fmt.Errorf("%w: rating must be between 1 and 5", domain.ErrValidation)
	}
	if feedback != nil {
		if err := checkText("feedback", *feedback); err != nil {
			return nil, err
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	task, err := s.taskRepo.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}

	if err := s.validator.CanReviewResult(task, buyerID); err != nil {
		return nil, err
	}

	accepted := true
	task.BuyerAccepted = &accepted
	task.BuyerFeedback = feedback
	if err := s.taskRepo.Save(ctx, tx, task, domain.TaskStatusCompleted); err != nil {
		return nil, err
	}

	if task.HasListing() {
		err := s.listingRepo.CreditCompletion(ctx, tx, *task.ListingID, task.BudgetCents, rating)
		if err != nil {
			return nil, err
		}
	}

	data := map[string]any{"feedback": feedback}
	if rating != nil {
		data["rating"] = *rating
	}
	event := &domain.TaskEvent{
		TaskID:  taskID,
		ActorID: &buyerID,
		Type:    domain.EventTypeResultAccepted,
		Data:    data,
	}

	if err := s.createEventAndCommit(ctx, tx, event); err != nil {
		return nil, err
	}

	slog.Info("task result accepted",
		"task_id", taskID,
		"buyer_id", buyerID,
		"listing_id", task.ListingID,
		"budget_cents", task.BudgetCents,
		"event_id", event.ID,
	)

	return task, nil
}

// RejectResult records the buyer's rejection of a completed task and fails it.
func (s *TaskService) RejectResult(
	ctx context.Context,
	taskID string,
	buyerID string,
	feedback *string,
) (*domain.Task, error) {
	if feedback != nil {
		if err := checkText("feedback", *feedback); err != nil {
			return nil, err
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	task, err := s.taskRepo.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}

	if err := s.validator.CanReviewResult(task, buyerID); err != nil {
		return nil, err
	}

	rejected := false
	task.BuyerAccepted = &rejected
	task.BuyerFeedback = feedback
	task.Status = domain.TaskStatusFailed
	task.Stamp(domain.TaskStatusFailed, s.now())
	if err := s.taskRepo.Save(ctx, tx, task, domain.TaskStatusCompleted); err != nil {
		return nil, err
	}

	event := &domain.TaskEvent{
		TaskID:  taskID,
		ActorID: &buyerID,
		Type:    domain.EventTypeResultRejected,
		Data:    map[string]any{"feedback": feedback},
	}

	if err := s.createEventAndCommit(ctx, tx, event); err != nil {
		return nil, err
	}

	slog.Info("task result rejected",
		"task_id", taskID,
		"buyer_id", buyerID,
		"event_id", event.ID,
	)

	return task, nil
}

// ReportStatus applies a status reported by the owner of the task's listing.
func (s *TaskService) ReportStatus(
	ctx context.Context,
	taskID string,
	userID string,
	report StatusReport,
) (*domain.Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	task, err := s.taskRepo.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}

	listing, err := s.listingFor(ctx, task)
	if err != nil {
		return nil, err
	}

	if err := s.validator.CanReportStatus(task, listing, userID, report.Status); err != nil {
		return nil, err
	}

	oldStatus := task.Status
	newStatus := report.Status
	task.Status = newStatus
	task.Stamp(newStatus, s.now())

	data := map[string]any{"from": oldStatus, "to": newStatus}
	switch newStatus {
	case domain.TaskStatusCompleted:
		task.Result = report.Result
		task.ResultSummary = report.ResultSummary
		task.ExecutionTimeSeconds = report.ExecutionTimeSeconds
		task.ConfidenceScore = report.ConfidenceScore
		if report.ResultSummary != nil {
			data["result_summary"] = *report.ResultSummary
		}
	case domain.TaskStatusFailed:
		task.ErrorMessage = report.ErrorMessage
		if report.ErrorMessage != nil {
			data["error_message"] = *report.ErrorMessage
		}
	}

	if err := s.taskRepo.Save(ctx, tx, task, oldStatus); err != nil {
		return nil, err
	}

	event := &domain.TaskEvent{
		TaskID:  taskID,
		ActorID: &userID,
		Type:    domain.EventTypeForStatus(newStatus),
		Data:    data,
	}

	if err := s.createEventAndCommit(ctx, tx, event); err != nil {
		return nil, err
	}

	slog.Info("task status changed",
		"task_id", taskID,
		"user_id", userID,
		"old_status", oldStatus,
		"new_status", newStatus,
		"event_id", event.ID,
	)

	if newStatus == domain.TaskStatusDispatched && listing.HasWebhook() {
		s.deliver(ctx, listing, task)
	}

	return task, nil
}

// RecordProgress appends a progress note to an active task without changing its status.
func (s *TaskService) RecordProgress(
	ctx context.Context,
	taskID string,
	userID string,
	data map[string]any,
) (*domain.TaskEvent, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	task, err := s.taskRepo.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}

	listing, err := s.listingFor(ctx, task)
	if err != nil {
		return nil, err
	}

	if err := s.validator.CanRecordProgress(task, listing, userID); err != nil {
		return nil, err
	}

	event := &domain.TaskEvent{
		TaskID:  taskID,
		ActorID: &userID,
		Type:    domain.EventTypeProgress,
		Data:    data,
	}

	if err := s.createEventAndCommit(ctx, tx, event); err != nil {
		return nil, err
	}

	slog.Info("task progress recorded",
		"task_id", taskID,
		"user_id", userID,
		"event_id", event.ID,
	)

	return event, nil
}

// MarkDispatchFailed moves a dispatched task to dispatch_failed after its delivery gave up.
func (s *TaskService) MarkDispatchFailed(ctx context.Context, taskID string, reason string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	task, err := s.taskRepo.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		return err
	}

	// The agent may have picked the task up through the callback meanwhile
	if task.Status != domain.TaskStatusDispatched {
		return fmt.Errorf("%w: task %s is %s", domain.ErrInvalidTransition, taskID, task.Status)
	}

	task.Status = domain.TaskStatusDispatchFailed
	task.Stamp(domain.TaskStatusDispatchFailed, s.now())
	task.ErrorMessage = &reason
	if err := s.taskRepo.Save(ctx, tx, task, domain.TaskStatusDispatched); err != nil {
		return err
	}

	event := &domain.TaskEvent{
		TaskID:  taskID,
		ActorID: nil, // system event
		Type:    domain.EventTypeDispatchFailed,
		Data:    map[string]any{"reason": reason, "agent_id": task.ListingID},
	}

	if err := s.createEventAndCommit(ctx, tx, event); err != nil {
		return err
	}

	slog.Warn("task dispatch failed",
		"task_id", taskID,
		"listing_id", task.ListingID,
		"reason", reason,
	)

	return nil
}

// GetTask returns a task visible to the user.
func (s *TaskService) GetTask(ctx context.Context, taskID, userID string) (*domain.TaskView, error) {
	view, err := s.taskRepo.GetView(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := s.validator.CanView(view, userID); err != nil {
		return nil, err
	}
	return view, nil
}

// ListEvents returns the audit trail of a task visible to the user, oldest first.
func (s *TaskService) ListEvents(ctx context.Context, taskID, userID string) ([]*domain.TaskEvent, error) {
	if _, err := s.GetTask(ctx, taskID, userID); err != nil {
		return nil, err
	}
	return s.eventRepo.GetByTaskID(ctx, taskID)
}

// ListByBuyer returns the tasks the user posted.
func (s *TaskService) ListByBuyer(ctx context.Context, userID string, limit, offset int) ([]*domain.TaskView, error) {
	return s.taskRepo.ListByBuyer(ctx, userID, limit, offset)
}

// ListIncoming returns the tasks targeting the user's listings.
func (s *TaskService) ListIncoming(
	ctx context.Context,
	userID string,
	statuses []domain.TaskStatus,
	limit, offset int,
) ([]*domain.TaskView, error) {
	for _, status := range statuses {
		if !status.IsValid() {
			return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, status)
		}
	}
	return s.taskRepo.ListIncoming(ctx, userID, statuses, limit, offset)
}

// ListingForTask returns the listing a task targets.
func (s *TaskService) ListingForTask(ctx context.Context, taskID string) (*domain.Listing, error) {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !task.HasListing() {
		return nil, domain.ErrListingNotFound
	}
	return s.listingRepo.GetByID(ctx, *task.ListingID)
}

// Wait blocks until every background delivery has finished.
func (s *TaskService) Wait() {
	s.deliveries.Wait()
}

// listingFor loads the listing of a task, or nil when the task has none.
func (s *TaskService) listingFor(ctx context.Context, task *domain.Task) (*domain.Listing, error) {
	if !task.HasListing() {
		return nil, nil
	}
	listing, err := s.listingRepo.GetByID(ctx, *task.ListingID)
	if errors.Is(err, domain.ErrListingNotFound) {
		return nil, nil
	}
	return listing, err
}

// deliver sends a dispatched task to the listing endpoint in the background.
// Exhausted deliveries fail the dispatch.
func (s *TaskService) deliver(ctx context.Context, listing *domain.Listing, task *domain.Task) {
	if s.dispatcher == nil {
		return
	}

	target, err := webhook.TargetFor(listing)
	if err != nil {
		slog.Warn("skipping task delivery", "task_id", task.ID, "listing_id", listing.ID, "error", err)
		return
	}

	ctx = context.WithoutCancel(ctx)
	snapshot := *task

	s.deliveries.Add(1)
	go func() {
		defer s.deliveries.Done()

		result, err := s.dispatcher.DeliverTask(ctx, target, &snapshot)
		if err == nil {
			now := s.now()
			if err := s.listingRepo.RecordWebhookHealth(ctx, listing.ID, domain.WebhookStatusConnected, &now); err != nil {
				slog.Error("failed to record webhook health", "listing_id", listing.ID, "error", err)
			}
			slog.Info("task delivered",
				"task_id", snapshot.ID,
				"listing_id", listing.ID,
				"delivery_id", result.DeliveryID,
				"attempts", result.Attempts,
			)
			return
		}

		if err := s.listingRepo.RecordWebhookHealth(ctx, listing.ID, domain.WebhookStatusError, nil); err != nil {
			slog.Error("failed to record webhook health", "listing_id", listing.ID, "error", err)
		}

		if err := s.MarkDispatchFailed(ctx, snapshot.ID, err.Error()); err != nil {
			slog.Warn("task dispatch failure not recorded", "task_id", snapshot.ID, "error", err)
		}
	}()
}
