package models

import "time"

type NotificationType string

const (
	NotificationTaskAssigned    NotificationType = "TASK_ASSIGNED"
	NotificationTaskUpdated     NotificationType = "TASK_UPDATED"
	NotificationTaskCompleted   NotificationType = "TASK_COMPLETED"
	NotificationWorkflowCreated NotificationType = "WORKFLOW_CREATED"
	NotificationWorkflowUpdated NotificationType = "WORKFLOW_UPDATED"
)

// Notification is the payload published for task and workflow events.
// A nil UserID means the event is a broadcast.
type Notification struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Type      NotificationType `json:"type"`
	EntityID  string           `json:"entity_id"`
	UserID    *string          `json:"user_id"`
	Timestamp time.Time        `json:"timestamp"`
	IsRead    bool             `json:"is_read"`
}
