package models

import "time"

type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Enabled   bool      `json:"enabled"`
	TeamID    *string   `json:"team_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Department struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

type Team struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	DepartmentID *string   `json:"department_id"`
	LeadID       *string   `json:"lead_id"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Level       int       `json:"level"`
	Active      bool      `json:"active"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
}

// RoleScope narrows a role assignment to a department or team. Both fields
// nil means the role applies everywhere.
type RoleScope struct {
	DepartmentID *string `json:"department_id,omitempty"`
	TeamID       *string `json:"team_id,omitempty"`
}

type UserRole struct {
	UserID     string    `json:"user_id"`
	RoleID     string    `json:"role_id"`
	RoleName   string    `json:"role_name"`
	Scope      RoleScope `json:"scope"`
	Active     bool      `json:"active"`
	AssignedBy *string   `json:"assigned_by"`
	AssignedAt time.Time `json:"assigned_at"`

	// Permissions is copied from the role when the assignment is loaded.
	Permissions []string `json:"permissions,omitempty"`
}
