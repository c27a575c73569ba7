package models

// StatusCounts maps every category to its task count. All categories are
// present, zero when no task resolves to them.
type StatusCounts map[Category]int

// Total sums the counts.
func (c StatusCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// WorkflowStats summarizes one workflow. Pending counts every task that is
// neither completed nor in progress.
type WorkflowStats struct {
	WorkflowID string `json:"workflow_id"`
	Total      int    `json:"total"`
	Completed  int    `json:"completed"`
	InProgress int    `json:"in_progress"`
	Pending    int    `json:"pending"`
}

// Overview is the dashboard summary across the whole system.
type Overview struct {
	Workflows       int              `json:"workflows"`
	ActiveWorkflows int              `json:"active_workflows"`
	Tasks           int              `json:"tasks"`
	Overdue         int              `json:"overdue"`
	Users           int              `json:"users"`
	Departments     int              `json:"departments"`
	Teams           int              `json:"teams"`
	ByStatus        StatusCounts     `json:"by_status"`
	ByPriority      map[Priority]int `json:"by_priority"`
}
