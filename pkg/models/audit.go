package models

import "time"

type ActionType string

const (
	ActionCreate   ActionType = "CREATE"
	ActionUpdate   ActionType = "UPDATE"
	ActionDelete   ActionType = "DELETE"
	ActionAssign   ActionType = "ASSIGN"
	ActionComplete ActionType = "COMPLETE"
	ActionCancel   ActionType = "CANCEL"
	ActionLogin    ActionType = "LOGIN"
	ActionLogout   ActionType = "LOGOUT"
	ActionView     ActionType = "VIEW"
	ActionExport   ActionType = "EXPORT"
	ActionImport   ActionType = "IMPORT"
)

// AuditEntry is one immutable record of a mutation.
type AuditEntry struct {
	ID          string     `json:"id"`
	Action      ActionType `json:"action"`
	EntityType  string     `json:"entity_type"`
	EntityID    string     `json:"entity_id"`
	Description string     `json:"description"`
	ActorID     *string    `json:"actor_id"`
	OldValue    *string    `json:"old_value"`
	NewValue    *string    `json:"new_value"`
	CreatedAt   time.Time  `json:"created_at"`
}
