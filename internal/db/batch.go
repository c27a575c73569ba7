package db

import (
	"context"
	"fmt"

	sferrors "github.com/ldi/stageflow/internal/errors"
	"github.com/ldi/stageflow/internal/pipeline"
	"github.com/ldi/stageflow/pkg/models"
)

// CommitBatch writes everything staged for the session in one transaction.
func (db *DB) CommitBatch(ctx context.Context, sessionID string) error {
	items := db.Staging.GetAndClear(sessionID)
	if items.Empty() {
		return nil
	}
	return db.CommitItems(ctx, items)
}

// CommitItems writes a staged set in dependency order, resolving every name
// reference either to a record from the same set or to an existing row.
// Nothing is written if any item fails.
func (db *DB) CommitItems(ctx context.Context, items *StagedItems) error {
	return db.InTx(ctx, func(r *Repo) error {
		return r.ApplyStaged(ctx, items)
	})
}

// ApplyStaged writes items through r. Callers own the transaction.
func (r *Repo) ApplyStaged(ctx context.Context, items *StagedItems) error {
	departmentIDs := make(map[string]string)
	teamIDs := make(map[string]string)
	roleIDs := make(map[string]string)
	userIDs := make(map[string]string)

	// 1. Departments
	for _, d := range items.Departments {
		if err := r.CreateDepartment(ctx, d); err != nil {
			return fmt.Errorf("failed to create staged department %s: %w", d.Name, err)
		}
		departmentIDs[d.Name] = d.ID
	}

	resolveDepartment := func(name string) (*string, error) {
		if name == "" {
			return nil, nil
		}
		if id, ok := departmentIDs[name]; ok {
			return &id, nil
		}
		d, err := r.GetDepartmentByName(ctx, name)
		if err != nil {
			return nil, err
		}
		departmentIDs[name] = d.ID
		return &d.ID, nil
	}

	// 2. Teams
	for _, t := range items.Teams {
		id, err := resolveDepartment(t.DepartmentName)
		if err != nil {
			return fmt.Errorf("failed to resolve department for team %s: %w", t.Name, err)
		}
		if id != nil {
			t.DepartmentID = id
		}
		if err := r.CreateTeam(ctx, &t.Team); err != nil {
			return fmt.Errorf("failed to create staged team %s: %w", t.Name, err)
		}
		teamIDs[t.Name] = t.ID
	}

	// 3. Roles
	for _, role := range items.Roles {
		if err := r.CreateRole(ctx, role); err != nil {
			return fmt.Errorf("failed to create staged role %s: %w", role.Name, err)
		}
		roleIDs[role.Name] = role.ID
	}

	// 4. Users and their roles
	for _, u := range items.Users {
		if u.TeamName != "" {
			id, ok := teamIDs[u.TeamName]
			if !ok {
				return sferrors.Newf(sferrors.ErrNotFound, "team %q for user %s", u.TeamName, u.Username)
			}
			u.TeamID = &id
		}
		if err := r.CreateUser(ctx, &u.User); err != nil {
			return fmt.Errorf("failed to create staged user %s: %w", u.Username, err)
		}
		userIDs[u.Username] = u.ID

		for _, roleName := range u.RoleNames {
			roleID, ok := roleIDs[roleName]
			if !ok {
				role, err := r.GetRoleByName(ctx, roleName)
				if err != nil {
					return fmt.Errorf("failed to resolve role %s for user %s: %w", roleName, u.Username, err)
				}
				roleID = role.ID
			}
			if err := r.AssignRole(ctx, u.ID, roleID, models.RoleScope{DepartmentID: nil, TeamID: u.TeamID}, nil); err != nil {
				return err
			}
		}
	}

	resolveUser := func(username, fallback string) (string, error) {
		if username == "" {
			return fallback, nil
		}
		if id, ok := userIDs[username]; ok {
			return id, nil
		}
		u, err := r.GetUserByUsername(ctx, username)
		if err != nil {
			return "", err
		}
		userIDs[username] = u.ID
		return u.ID, nil
	}

	// 5. Workflows and their pipelines
	for _, w := range items.Workflows {
		id, err := resolveDepartment(w.DepartmentName)
		if err != nil {
			return fmt.Errorf("failed to resolve department for workflow %s: %w", w.Name, err)
		}
		if id != nil {
			w.DepartmentID = id
		}
		if err := r.CreateWorkflow(ctx, &w.Workflow); err != nil {
			return fmt.Errorf("failed to create staged workflow %s: %w", w.Name, err)
		}
		for i, s := range w.Stages {
			s.WorkflowID = w.ID
			if s.Order == 0 {
				s.Order = i + 1
			}
			if s.Color == "" {
				s.Color = models.DefaultStageColor
			}
			if err := pipeline.ValidateStage(s); err != nil {
				return fmt.Errorf("invalid staged stage %s/%s: %w", w.Name, s.Name, err)
			}
			if err := r.CreateStage(ctx, s); err != nil {
				return fmt.Errorf("failed to create staged stage %s/%s: %w", w.Name, s.Name, err)
			}
		}
		w.Workflow.Stages = w.Stages
	}

	// 6. Tasks
	now := r.now()
	for _, t := range items.Tasks {
		if t.WorkflowName != "" {
			w, err := r.GetWorkflowByName(ctx, t.WorkflowName)
			if err != nil {
				return fmt.Errorf("failed to resolve workflow for task %s: %w", t.Title, err)
			}
			t.WorkflowID = w.ID
		}

		var (
			stage *models.Stage
			err   error
		)
		if t.StageName != "" {
			stage, err = r.GetStageByName(ctx, t.WorkflowID, t.StageName)
		} else {
			stage, err = r.FirstStage(ctx, t.WorkflowID)
		}
		if err != nil {
			return fmt.Errorf("failed to resolve stage for task %s: %w", t.Title, err)
		}
		t.MoveTo(stage, now)

		if t.CreatorID, err = resolveUser(t.CreatorUsername, t.CreatorID); err != nil {
			return fmt.Errorf("failed to resolve creator for task %s: %w", t.Title, err)
		}
		if t.AssigneeUsername != "" {
			id, err := resolveUser(t.AssigneeUsername, "")
			if err != nil {
				return fmt.Errorf("failed to resolve assignee for task %s: %w", t.Title, err)
			}
			t.AssigneeID = &id
		}

		exists, err := r.TaskTitleExists(ctx, t.WorkflowID, t.Title, "")
		if err != nil {
			return err
		}
		if exists {
			return sferrors.Newf(sferrors.ErrDuplicateName, "task %q", t.Title)
		}
		if err := r.CreateTask(ctx, &t.Task); err != nil {
			return fmt.Errorf("failed to create staged task %s: %w", t.Title, err)
		}
		t.Status = pipeline.Resolve(stage)
	}

	return nil
}
