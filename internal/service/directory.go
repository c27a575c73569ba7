package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ldi/stageflow/internal/db"
	"github.com/ldi/stageflow/pkg/models"
)

// CreateDepartment adds a department. Names are unique.
func (s *Service) CreateDepartment(ctx context.Context, d *models.Department) error {
	d.Name = strings.TrimSpace(d.Name)
	if err := requireText("department name", d.Name, MaxNameLength); err != nil {
		return err
	}
	return s.mutate(ctx, "create_department", func(r *db.Repo, fx *effects) error {
		if err := s.authorize(ctx, ActionDirectoryManage, Resource{Kind: "department"}); err != nil {
			return err
		}
		if err := r.CreateDepartment(ctx, d); err != nil {
			return err
		}
		fx.audit(models.ActionCreate, "department", d.ID, "Created department: "+d.Name, nil, ptr(d.Name))
		return nil
	})
}

// CreateTeam adds a team.
func (s *Service) CreateTeam(ctx context.Context, t *models.Team) error {
	t.Name = strings.TrimSpace(t.Name)
	if err := requireText("team name", t.Name, MaxNameLength); err != nil {
		return err
	}
	return s.mutate(ctx, "create_team", func(r *db.Repo, fx *effects) error {
		if err := s.authorize(ctx, ActionDirectoryManage, Resource{Kind: "team"}); err != nil {
			return err
		}
		if err := r.CreateTeam(ctx, t); err != nil {
			return err
		}
		fx.audit(models.ActionCreate, "team", t.ID, "Created team: "+t.Name, nil, ptr(t.Name))
		return nil
	})
}

// CreateUser adds a user. Usernames are unique.
func (s *Service) CreateUser(ctx context.Context, u *models.User) error {
	u.Username = strings.TrimSpace(u.Username)
	if err := requireText("username", u.Username, MaxNameLength); err != nil {
		return err
	}
	return s.mutate(ctx, "create_user", func(r *db.Repo, fx *effects) error {
		if err := s.authorize(ctx, ActionDirectoryManage, Resource{Kind: "user"}); err != nil {
			return err
		}
		if err := r.CreateUser(ctx, u); err != nil {
			return err
		}
		fx.audit(models.ActionCreate, "user", u.ID, "Created user: "+u.Username, nil, ptr(u.Username))
		return nil
	})
}

// CreateRole adds a role with its permissions.
func (s *Service) CreateRole(ctx context.Context, role *models.Role) error {
	role.Name = strings.TrimSpace(role.Name)
	if err := requireText("role name", role.Name, MaxNameLength); err != nil {
		return err
	}
	return s.mutate(ctx, "create_role", func(r *db.Repo, fx *effects) error {
		if err := s.authorize(ctx, ActionDirectoryManage, Resource{Kind: "role"}); err != nil {
			return err
		}
		if err := r.CreateRole(ctx, role); err != nil {
			return err
		}
		fx.audit(models.ActionCreate, "role", role.ID, "Created role: "+role.Name, nil, ptr(role.Name))
		return nil
	})
}

// AssignRole grants a role to a user within scope, attributed to the
// calling principal.
func (s *Service) AssignRole(ctx context.Context, userID, roleID string, scope models.RoleScope) error {
	return s.mutate(ctx, "assign_role", func(r *db.Repo, fx *effects) error {
		if err := s.authorize(ctx, ActionDirectoryManage, Resource{Kind: "user", ID: userID}); err != nil {
			return err
		}
		if err := r.AssignRole(ctx, userID, roleID, scope, fx.actor); err != nil {
			return err
		}
		fx.audit(models.ActionAssign, "user", userID, fmt.Sprintf("Assigned role %s to user %s", roleID, userID), nil, ptr(roleID))
		return nil
	})
}

// RemoveRole revokes a role assignment.
func (s *Service) RemoveRole(ctx context.Context, userID, roleID string, scope models.RoleScope) error {
	return s.mutate(ctx, "remove_role", func(r *db.Repo, fx *effects) error {
		if err := s.authorize(ctx, ActionDirectoryManage, Resource{Kind: "user", ID: userID}); err != nil {
			return err
		}
		if err := r.RemoveRole(ctx, userID, roleID, scope); err != nil {
			return err
		}
		fx.audit(models.ActionDelete, "user", userID, fmt.Sprintf("Removed role %s from user %s", roleID, userID), ptr(roleID), nil)
		return nil
	})
}

// UserRoles returns a user's active role assignments. It satisfies
// identity.RoleSource.
func (s *Service) UserRoles(ctx context.Context, userID string) ([]*models.UserRole, error) {
	start := time.Now()
	roles, err := s.db.UserRoles(ctx, userID)
	s.read("user_roles", start, err)
	return roles, err
}

// ListUsers returns every user.
func (s *Service) ListUsers(ctx context.Context) ([]*models.User, error) {
	return s.db.ListUsers(ctx)
}

// ListDepartments returns every department.
func (s *Service) ListDepartments(ctx context.Context) ([]*models.Department, error) {
	return s.db.ListDepartments(ctx)
}

// ListTeams returns teams, optionally within one department.
func (s *Service) ListTeams(ctx context.Context, departmentID *string) ([]*models.Team, error) {
	return s.db.ListTeams(ctx, departmentID)
}

// ListRoles returns every role.
func (s *Service) ListRoles(ctx context.Context) ([]*models.Role, error) {
	return s.db.ListRoles(ctx)
}

// GetUserByUsername looks a user up by login name.
func (s *Service) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	start := time.Now()
	u, err := s.db.GetUserByUsername(ctx, username)
	s.read("get_user", start, err)
	return u, err
}
