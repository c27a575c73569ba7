package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	sferrors "github.com/ldi/stageflow/internal/errors"
	"github.com/ldi/stageflow/pkg/models"
)

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (r *Repo) CreateDepartment(ctx context.Context, d *models.Department) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	d.CreatedAt = r.now()
	_, err := r.exec.ExecContext(ctx,
		`INSERT INTO departments (id, name, description, created_at) VALUES (?, ?, ?, ?)`,
		d.ID, d.Name, d.Description, d.CreatedAt,
	)
	if isUniqueViolation(err) {
		return sferrors.Newf(sferrors.ErrDuplicateName, "department %q", d.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to create department: %w", err)
	}
	r.triggerChange(ctx)
	return nil
}

func (r *Repo) GetDepartmentByName(ctx context.Context, name string) (*models.Department, error) {
	d := &models.Department{}
	err := r.exec.QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM departments WHERE name = ?`, name,
	).Scan(&d.ID, &d.Name, &d.Description, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, sferrors.Newf(sferrors.ErrNotFound, "department %q", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get department: %w", err)
	}
	return d, nil
}

func (r *Repo) ListDepartments(ctx context.Context) ([]*models.Department, error) {
	rows, err := r.exec.QueryContext(ctx, `SELECT id, name, description, created_at FROM departments ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list departments: %w", err)
	}
	defer rows.Close()

	var out []*models.Department
	for rows.Next() {
		d := &models.Department{}
		if err := rows.Scan(&d.ID, &d.Name, &d.Description, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan department: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *Repo) CreateTeam(ctx context.Context, t *models.Team) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.CreatedAt = r.now()
	_, err := r.exec.ExecContext(ctx, `
		INSERT INTO teams (id, name, description, department_id, lead_id, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Name, t.Description, t.DepartmentID, t.LeadID, t.Active, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create team: %w", err)
	}
	r.triggerChange(ctx)
	return nil
}

func (r *Repo) ListTeams(ctx context.Context, departmentID *string) ([]*models.Team, error) {
	query := `SELECT id, name, description, department_id, lead_id, active, created_at FROM teams WHERE 1=1`
	args := []any{}
	if departmentID != nil {
		query += " AND department_id = ?"
		args = append(args, *departmentID)
	}
	query += " ORDER BY name ASC"

	rows, err := r.exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	defer rows.Close()

	var out []*models.Team
	for rows.Next() {
		t := &models.Team{}
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.DepartmentID, &t.LeadID, &t.Active, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const userColumns = `id, username, email, first_name, last_name, enabled, team_id, created_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.Enabled, &u.TeamID, &u.CreatedAt)
	return u, err
}

func (r *Repo) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	u.CreatedAt = r.now()
	_, err := r.exec.ExecContext(ctx, `
		INSERT INTO users (id, username, email, first_name, last_name, enabled, team_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.Username, u.Email, u.FirstName, u.LastName, u.Enabled, u.TeamID, u.CreatedAt)
	if isUniqueViolation(err) {
		return sferrors.Newf(sferrors.ErrDuplicateName, "user %q", u.Username)
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	r.triggerChange(ctx)
	return nil
}

func (r *Repo) GetUser(ctx context.Context, id string) (*models.User, error) {
	u, err := scanUser(r.exec.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, sferrors.Newf(sferrors.ErrNotFound, "user %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (r *Repo) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	u, err := scanUser(r.exec.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username))
	if err == sql.ErrNoRows {
		return nil, sferrors.Newf(sferrors.ErrNotFound, "user %q", username)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by username: %w", err)
	}
	return u, nil
}

func (r *Repo) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := r.exec.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY username ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var out []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *Repo) CreateRole(ctx context.Context, role *models.Role) error {
	if role.ID == "" {
		role.ID = uuid.New().String()
	}
	if role.Permissions == nil {
		role.Permissions = []string{}
	}
	perms, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to encode permissions: %w", err)
	}

	role.CreatedAt = r.now()
	_, err = r.exec.ExecContext(ctx, `
		INSERT INTO roles (id, name, description, level, active, permissions, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, role.ID, role.Name, role.Description, role.Level, role.Active, string(perms), role.CreatedAt)
	if isUniqueViolation(err) {
		return sferrors.Newf(sferrors.ErrDuplicateName, "role %q", role.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}
	r.triggerChange(ctx)
	return nil
}

func scanRole(row interface{ Scan(...any) error }) (*models.Role, error) {
	role := &models.Role{}
	var perms string
	if err := row.Scan(&role.ID, &role.Name, &role.Description, &role.Level, &role.Active, &perms, &role.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(perms), &role.Permissions); err != nil {
		return nil, fmt.Errorf("failed to decode permissions of role %s: %w", role.Name, err)
	}
	return role, nil
}

func (r *Repo) GetRoleByName(ctx context.Context, name string) (*models.Role, error) {
	role, err := scanRole(r.exec.QueryRowContext(ctx,
		`SELECT id, name, description, level, active, permissions, created_at FROM roles WHERE name = ?`, name))
	if err == sql.ErrNoRows {
		return nil, sferrors.Newf(sferrors.ErrNotFound, "role %q", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

func (r *Repo) ListRoles(ctx context.Context) ([]*models.Role, error) {
	rows, err := r.exec.QueryContext(ctx,
		`SELECT id, name, description, level, active, permissions, created_at FROM roles ORDER BY level DESC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var out []*models.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

func scopeKeys(s models.RoleScope) (string, string) {
	var dept, team string
	if s.DepartmentID != nil {
		dept = *s.DepartmentID
	}
	if s.TeamID != nil {
		team = *s.TeamID
	}
	return dept, team
}

// AssignRole grants roleID to userID within scope. Assigning the same role
// and scope again reactivates it.
func (r *Repo) AssignRole(ctx context.Context, userID, roleID string, scope models.RoleScope, assignedBy *string) error {
	if _, err := r.GetUser(ctx, userID); err != nil {
		return err
	}
	var n int
	if err := r.exec.QueryRowContext(ctx, `SELECT COUNT(*) FROM roles WHERE id = ?`, roleID).Scan(&n); err != nil {
		return fmt.Errorf("failed to check role: %w", err)
	}
	if n == 0 {
		return sferrors.Newf(sferrors.ErrNotFound, "role %s", roleID)
	}

	dept, team := scopeKeys(scope)
	_, err := r.exec.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role_id, department_id, team_id, active, assigned_by, assigned_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT (user_id, role_id, department_id, team_id)
		DO UPDATE SET active = 1, assigned_by = excluded.assigned_by, assigned_at = excluded.assigned_at
	`, userID, roleID, dept, team, assignedBy, r.now())
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	r.triggerChange(ctx)
	return nil
}

// RemoveRole revokes a role assignment in the given scope.
func (r *Repo) RemoveRole(ctx context.Context, userID, roleID string, scope models.RoleScope) error {
	dept, team := scopeKeys(scope)
	res, err := r.exec.ExecContext(ctx,
		`DELETE FROM user_roles WHERE user_id = ? AND role_id = ? AND department_id = ? AND team_id = ?`,
		userID, roleID, dept, team,
	)
	if err != nil {
		return fmt.Errorf("failed to remove role: %w", err)
	}
	if err := expectOne(res, "role assignment", userID+"/"+roleID); err != nil {
		return err
	}
	r.triggerChange(ctx)
	return nil
}

// UserRoles returns the active role assignments of a user with the role's
// permissions attached.
func (r *Repo) UserRoles(ctx context.Context, userID string) ([]*models.UserRole, error) {
	rows, err := r.exec.QueryContext(ctx, `
		SELECT ur.user_id, ur.role_id, ro.name, ur.department_id, ur.team_id, ur.active, ur.assigned_by, ur.assigned_at, ro.permissions
		FROM user_roles ur
		JOIN roles ro ON ro.id = ur.role_id
		WHERE ur.user_id = ? AND ur.active = 1 AND ro.active = 1
		ORDER BY ro.level DESC, ro.name ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user roles: %w", err)
	}
	defer rows.Close()

	var out []*models.UserRole
	for rows.Next() {
		ur := &models.UserRole{}
		var dept, team, perms string
		if err := rows.Scan(&ur.UserID, &ur.RoleID, &ur.RoleName, &dept, &team, &ur.Active, &ur.AssignedBy, &ur.AssignedAt, &perms); err != nil {
			return nil, fmt.Errorf("failed to scan user role: %w", err)
		}
		if dept != "" {
			ur.Scope.DepartmentID = &dept
		}
		if team != "" {
			ur.Scope.TeamID = &team
		}
		if err := json.Unmarshal([]byte(perms), &ur.Permissions); err != nil {
			return nil, fmt.Errorf("failed to decode permissions: %w", err)
		}
		out = append(out, ur)
	}
	return out, rows.Err()
}
