package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/mtlprog/swarmmarket/internal/domain"
	"github.com/mtlprog/swarmmarket/internal/repository"
)

// reportableStatuses are the targets a listing owner may report.
var reportableStatuses = map[domain.TaskStatus]bool{
	domain.TaskStatusDispatched: true,
	domain.TaskStatusAccepted:   true,
	domain.TaskStatusInProgress: true,
	domain.TaskStatusCompleted:  true,
	domain.TaskStatusFailed:     true,
}

// Validator handles permission and state validation for task operations.
type Validator struct {
	listingRepo *repository.ListingRepository
}

// NewValidator creates a new Validator.
func NewValidator(listingRepo *repository.ListingRepository) *Validator {
	return &Validator{
		listingRepo: listingRepo,
	}
}

// CanReviewResult validates if a user can accept or reject a task result.
func (v *Validator) CanReviewResult(task *domain.Task, userID string) error {
	// Only the buyer gives a verdict
	if !task.IsBoughtBy(userID) {
		return fmt.Errorf("%w: user %s is not buyer of task %s", domain.ErrNotTaskBuyer, userID, task.ID)
	}

	// Must be in completed status
	if task.Status != domain.TaskStatusCompleted {
		return fmt.Errorf("%w: task %s is in %s status", domain.ErrTaskNotCompleted, task.ID, task.Status)
	}

	// Verdict is given once
	if task.IsReviewed() {
		return fmt.Errorf("%w: task %s", domain.ErrResultAlreadyReviewed, task.ID)
	}

	return nil
}

// CanReportStatus validates if a user can move a task to newStatus on behalf of its listing.
func (v *Validator) CanReportStatus(
	task *domain.Task,
	listing *domain.Listing,
	userID string,
	newStatus domain.TaskStatus,
) error {
	if err := v.isListingOwner(task, listing, userID); err != nil {
		return err
	}

	if !reportableStatuses[newStatus] {
		return fmt.Errorf("%w: status %q cannot be reported", domain.ErrValidation, newStatus)
	}

	if !task.Status.CanTransitionTo(newStatus) {
		return fmt.Errorf("%w: task %s cannot transition %s -> %s", domain.ErrInvalidTransition, task.ID, task.Status, newStatus)
	}

	// Rejection is the buyer's only path out of completed
	if task.Status == domain.TaskStatusCompleted {
		return fmt.Errorf("%w: task %s result awaits buyer review", domain.ErrInvalidTransition, task.ID)
	}

	return nil
}

// CanRecordProgress validates if a user can append a progress note to a task.
func (v *Validator) CanRecordProgress(task *domain.Task, listing *domain.Listing, userID string) error {
	if err := v.isListingOwner(task, listing, userID); err != nil {
		return err
	}

	if task.Status.IsTerminal() || task.Status == domain.TaskStatusCompleted {
		return fmt.Errorf("%w: task %s is %s", domain.ErrInvalidTransition, task.ID, task.Status)
	}

	return nil
}

// CanView validates if a user can read a task and its events.
func (v *Validator) CanView(view *domain.TaskView, userID string) error {
	if !view.IsVisibleTo(userID) {
		return fmt.Errorf("%w: user %s cannot view task %s", domain.ErrPermissionDenied, userID, view.Task.ID)
	}
	return nil
}

// CanAutoDispatch reports whether a new task in category goes straight to the listing's endpoint.
// The listing row must be locked by tx.
func (v *Validator) CanAutoDispatch(
	ctx context.Context,
	tx pgx.Tx,
	listing *domain.Listing,
	category string,
) (bool, error) {
	if !listing.HasWebhook() || !listing.Webhook.AutoAcceptTasks {
		return false, nil
	}

	if !listing.AcceptsCategory(category) {
		return false, nil
	}

	active, err := v.listingRepo.CountActiveTasks(ctx, tx, listing.ID)
	if err != nil {
		return false, fmt.Errorf("count active tasks: %w", err)
	}

	return active < listing.Webhook.MaxConcurrentTasks, nil
}

// checkText rejects values Postgres TEXT columns cannot store.
func checkText(field, value string) error {
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("%w: %s must not contain NUL characters", domain.ErrValidation, field)
	}
	return nil
}

func (v *Validator) isListingOwner(task *domain.Task, listing *domain.Listing, userID string) error {
	if listing == nil || !task.HasListing() || *task.ListingID != listing.ID {
		return fmt.Errorf("%w: task %s has no listing owned by user %s", domain.ErrNotListingOwner, task.ID, userID)
	}
	if !listing.IsOwnedBy(userID) {
		return fmt.Errorf("%w: user %s does not own listing %s", domain.ErrNotListingOwner, userID, listing.ID)
	}
	return nil
}
