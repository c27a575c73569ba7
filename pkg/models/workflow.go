package models

import "time"

// WorkflowStatus is the lifecycle state of a workflow itself. It is unrelated
// to the derived status of the tasks the workflow owns.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "DRAFT"
	WorkflowStatusActive   WorkflowStatus = "ACTIVE"
	WorkflowStatusInactive WorkflowStatus = "INACTIVE"
	WorkflowStatusArchived WorkflowStatus = "ARCHIVED"
)

// IsValid reports whether s is a known workflow status.
func (s WorkflowStatus) IsValid() bool {
	switch s {
	case WorkflowStatusDraft, WorkflowStatusActive, WorkflowStatusInactive, WorkflowStatusArchived:
		return true
	}
	return false
}

type Workflow struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Status       WorkflowStatus `json:"status"`
	IsActive     bool           `json:"is_active"`
	DepartmentID *string        `json:"department_id"`
	CreatorID    string         `json:"creator_id"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`

	// Stages is populated only by calls that load the pipeline.
	Stages []*Stage `json:"stages,omitempty"`
}

// DefaultStageColor is used when a stage is created without a color.
const DefaultStageColor = "#007bff"

// Stage is one ordered step of a workflow's status pipeline.
type Stage struct {
	ID          string    `json:"id"`
	WorkflowID  string    `json:"workflow_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Order       int       `json:"order"`
	IsFinal     bool      `json:"is_final"`
	Color       string    `json:"color"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Category overrides the name heuristics when set. COMPLETED is reserved
	// for final stages and is rejected here.
	Category *Category `json:"category,omitempty"`
}
