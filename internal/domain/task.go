package domain

import "time"

// TaskStatus represents the status of a task in the lifecycle state machine.
type TaskStatus string

const (
	TaskStatusPosted         TaskStatus = "posted"
	TaskStatusAssigned       TaskStatus = "assigned"
	TaskStatusDispatched     TaskStatus = "dispatched"
	TaskStatusAccepted       TaskStatus = "accepted"
	TaskStatusInProgress     TaskStatus = "in_progress"
	TaskStatusCompleted      TaskStatus = "completed"
	TaskStatusFailed         TaskStatus = "failed"
	TaskStatusExpired        TaskStatus = "expired"
	TaskStatusDispatchFailed TaskStatus = "dispatch_failed"
)

// transitions lists the legal forward edges of the lifecycle.
// Statuses without an entry are terminal.
var transitions = map[TaskStatus][]TaskStatus{
	TaskStatusPosted:     {TaskStatusAssigned, TaskStatusExpired},
	TaskStatusAssigned:   {TaskStatusDispatched, TaskStatusDispatchFailed, TaskStatusFailed, TaskStatusExpired},
	TaskStatusDispatched: {TaskStatusAccepted, TaskStatusDispatchFailed, TaskStatusFailed, TaskStatusExpired},
	TaskStatusAccepted:   {TaskStatusInProgress, TaskStatusFailed, TaskStatusExpired},
	TaskStatusInProgress: {TaskStatusCompleted, TaskStatusFailed, TaskStatusExpired},
	// A completed task only moves on when the buyer rejects the result.
	TaskStatusCompleted: {TaskStatusFailed},
}

// IsValid checks if the status is one of the allowed values.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusPosted, TaskStatusAssigned, TaskStatusDispatched,
		TaskStatusAccepted, TaskStatusInProgress, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusExpired, TaskStatusDispatchFailed:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if no transition leaves the status.
func (s TaskStatus) IsTerminal() bool {
	_, ok := transitions[s]
	return !ok
}

// IsActive returns true while the listing side is working on the task.
// Active tasks count against a listing's concurrency cap.
func (s TaskStatus) IsActive() bool {
	return s == TaskStatusDispatched || s == TaskStatusAccepted || s == TaskStatusInProgress
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	for _, candidate := range transitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ActiveTaskStatuses returns the statuses counted by IsActive.
func ActiveTaskStatuses() []TaskStatus {
	return []TaskStatus{TaskStatusDispatched, TaskStatusAccepted, TaskStatusInProgress}
}

// Task represents a unit of work posted by a buyer, optionally against a listing.
//
// Inputs, Constraints and Result are schema-less JSON documents; they are
// validated at the API boundary and stored as opaque text.
type Task struct {
	ID                   string
	BuyerID              string
	ListingID            *string
	Title                string
	Description          string
	Category             string
	Inputs               []byte
	Constraints          []byte
	BudgetCents          int64
	Currency             string
	Deadline             *time.Time
	Status               TaskStatus
	DispatchedAt         *time.Time
	AcceptedAt           *time.Time
	CompletedAt          *time.Time
	FailedAt             *time.Time
	Result               []byte
	ResultSummary        *string
	ExecutionTimeSeconds *float64
	ConfidenceScore      *float64
	ErrorMessage         *string
	BuyerAccepted        *bool
	BuyerFeedback        *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// IsBoughtBy checks if the task was posted by the given user.
func (t *Task) IsBoughtBy(userID string) bool {
	return t.BuyerID == userID
}

// HasListing returns true if the task targets a listing.
func (t *Task) HasListing() bool {
	return t.ListingID != nil && *t.ListingID != ""
}

// IsReviewed returns true once the buyer has given a verdict on the result.
func (t *Task) IsReviewed() bool {
	return t.BuyerAccepted != nil
}

// Stamp records the transition timestamp that belongs to status.
func (t *Task) Stamp(status TaskStatus, at time.Time) {
	switch status {
	case TaskStatusDispatched:
		t.DispatchedAt = &at
	case TaskStatusAccepted:
		t.AcceptedAt = &at
	case TaskStatusCompleted:
		t.CompletedAt = &at
	case TaskStatusFailed, TaskStatusDispatchFailed:
		t.FailedAt = &at
	}
}

// TaskView is a task joined with the display fields of its listing and buyer.
type TaskView struct {
	Task             *Task
	ListingName      *string
	ListingSlug      *string
	ListingOwnerID   *string
	BuyerDisplayName *string
}

// IsVisibleTo reports whether the user is the buyer or owns the task's listing.
func (v *TaskView) IsVisibleTo(userID string) bool {
	if v.Task.IsBoughtBy(userID) {
		return true
	}
	return v.ListingOwnerID != nil && *v.ListingOwnerID == userID
}
