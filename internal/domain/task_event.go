package domain

import "time"

// EventType represents the type of task event.
type EventType string

const (
	EventTypeCreated        EventType = "created"
	EventTypeDispatched     EventType = "dispatched"
	EventTypeDispatchFailed EventType = "dispatch_failed"
	EventTypeAccepted       EventType = "accepted"
	EventTypeStarted        EventType = "started"
	EventTypeCompleted      EventType = "completed"
	EventTypeFailed         EventType = "failed"
	EventTypeProgress       EventType = "progress"
	EventTypeResultAccepted EventType = "result_accepted"
	EventTypeResultRejected EventType = "result_rejected"
)

// EventTypeForStatus returns the event recorded when a task enters status.
func EventTypeForStatus(status TaskStatus) EventType {
	switch status {
	case TaskStatusDispatched:
		return EventTypeDispatched
	case TaskStatusDispatchFailed:
		return EventTypeDispatchFailed
	case TaskStatusAccepted:
		return EventTypeAccepted
	case TaskStatusInProgress:
		return EventTypeStarted
	case TaskStatusCompleted:
		return EventTypeCompleted
	default:
		return EventTypeFailed
	}
}

// TaskEvent is an append-only audit log entry for a task.
// Events are never updated or deleted; Seq orders events of one task.
type TaskEvent struct {
	ID        string
	Seq       int64
	TaskID    string
	ActorID   *string // nil for system events
	Type      EventType
	Data      map[string]any
	CreatedAt time.Time
}

// IsSystemEvent returns true if the event was created by the system.
func (e *TaskEvent) IsSystemEvent() bool {
	return e.ActorID == nil
}

// ListingEvent is a task event enriched with the task and listing it belongs to.
// Used for dashboard activity feeds.
type ListingEvent struct {
	Event       *TaskEvent
	TaskTitle   string
	ListingID   string
	ListingName string
}
