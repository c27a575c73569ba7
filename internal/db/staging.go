package db

import (
	"sync"

	"github.com/ldi/stageflow/pkg/models"
)

// StagedTeam is a team whose department is referenced by name.
type StagedTeam struct {
	models.Team
	DepartmentName string `json:"department_name"`
}

// StagedUser is a user whose team and roles are referenced by name.
type StagedUser struct {
	models.User
	TeamName  string   `json:"team_name"`
	RoleNames []string `json:"role_names"`
}

// StagedWorkflow is a workflow together with its pipeline.
type StagedWorkflow struct {
	models.Workflow
	DepartmentName string          `json:"department_name"`
	Stages         []*models.Stage `json:"stages"`
}

// StagedTask is a task whose workflow, stage and people are referenced by
// name. An empty StageName puts the task on the workflow's first stage.
type StagedTask struct {
	models.Task
	WorkflowName     string `json:"workflow_name"`
	StageName        string `json:"stage_name"`
	AssigneeUsername string `json:"assignee_username"`
	CreatorUsername  string `json:"creator_username"`
}

type StagedItems struct {
	Departments []*models.Department `json:"departments"`
	Teams       []*StagedTeam        `json:"teams"`
	Roles       []*models.Role       `json:"roles"`
	Users       []*StagedUser        `json:"users"`
	Workflows   []*StagedWorkflow    `json:"workflows"`
	Tasks       []*StagedTask        `json:"tasks"`
}

// Empty reports whether nothing is staged.
func (s *StagedItems) Empty() bool {
	return len(s.Departments)+len(s.Teams)+len(s.Roles)+len(s.Users)+len(s.Workflows)+len(s.Tasks) == 0
}

// StagingManager provides thread-safe in-memory storage for staged changes,
// keyed by session.
type StagingManager struct {
	mu     sync.RWMutex
	staged map[string]*StagedItems
}

func NewStagingManager() *StagingManager {
	return &StagingManager{
		staged: make(map[string]*StagedItems),
	}
}

func (sm *StagingManager) session(sessionID string) *StagedItems {
	if sm.staged[sessionID] == nil {
		sm.staged[sessionID] = &StagedItems{}
	}
	return sm.staged[sessionID]
}

func (sm *StagingManager) AddWorkflow(sessionID string, w *StagedWorkflow) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	items := sm.session(sessionID)
	items.Workflows = append(items.Workflows, w)
}

func (sm *StagingManager) AddTask(sessionID string, t *StagedTask) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	items := sm.session(sessionID)
	items.Tasks = append(items.Tasks, t)
}

func (sm *StagingManager) GetAndClear(sessionID string) *StagedItems {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	items, ok := sm.staged[sessionID]
	if !ok {
		return &StagedItems{}
	}

	delete(sm.staged, sessionID)
	return items
}

func (sm *StagingManager) Peek(sessionID string) *StagedItems {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	items, ok := sm.staged[sessionID]
	if !ok {
		return &StagedItems{}
	}

	return items
}
