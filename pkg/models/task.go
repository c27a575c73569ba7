package models

import (
	"fmt"
	"strings"
	"time"
)

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// IsValid reports whether p is a known priority.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// ParsePriority parses a priority name in any case.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToUpper(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("unknown priority %q", s)
	}
	return p, nil
}

type Task struct {
	ID             string     `json:"id"`
	WorkflowID     string     `json:"workflow_id"`
	StageID        *string    `json:"stage_id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Priority       Priority   `json:"priority"`
	AssigneeID     *string    `json:"assignee_id"`
	CreatorID      string     `json:"creator_id"`
	DueDate        time.Time  `json:"due_date"`
	CompletedAt    *time.Time `json:"completed_at"`
	EstimatedHours *int       `json:"estimated_hours"`
	ActualHours    *int       `json:"actual_hours"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`

	// Status is derived from the current stage on every read and never
	// written back.
	Status Category `json:"status"`

	// WorkflowName and Stage are helper fields for joined queries.
	WorkflowName string `json:"workflow_name,omitempty"`
	Stage        *Stage `json:"stage,omitempty"`
}

// MoveTo replaces the task's current stage and keeps CompletedAt consistent
// with it: entering a final stage stamps now once, anything else clears it.
// Moving onto the same final stage again keeps the original stamp.
func (t *Task) MoveTo(stage *Stage, now time.Time) {
	if stage != nil && stage.IsFinal {
		if t.CompletedAt == nil {
			ts := now
			t.CompletedAt = &ts
		}
	} else {
		t.CompletedAt = nil
	}

	t.Stage = stage
	if stage == nil {
		t.StageID = nil
		return
	}
	id := stage.ID
	t.StageID = &id
}

// Comment is a note attached to a task. Comments are deleted with their task.
type Comment struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}
