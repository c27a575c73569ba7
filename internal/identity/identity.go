// Package identity carries the calling user and their resolved roles on a
// request context.
package identity

import (
	"context"
	"slices"

	"github.com/ldi/stageflow/pkg/models"
)

// Principal is the caller of an operation with the roles resolved for this
// request.
type Principal struct {
	UserID string
	Roles  []*models.UserRole
}

// System is used for operations that do not originate from a user, such as
// seeding.
var System = &Principal{UserID: "system"}

// HasPermission reports whether any active role grants perm.
func (p *Principal) HasPermission(perm string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r.Active && slices.Contains(r.Permissions, perm) {
			return true
		}
	}
	return false
}

// HasRole reports whether the principal holds a role with the given name.
func (p *Principal) HasRole(name string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r.Active && r.RoleName == name {
			return true
		}
	}
	return false
}

// ActorID returns the user id for audit attribution, or nil for an
// anonymous caller.
func (p *Principal) ActorID() *string {
	if p == nil || p.UserID == "" {
		return nil
	}
	id := p.UserID
	return &id
}

type ctxKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the principal on ctx, or nil.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(ctxKey{}).(*Principal)
	return p
}

// RoleSource loads the active role assignments of a user.
type RoleSource interface {
	UserRoles(ctx context.Context, userID string) ([]*models.UserRole, error)
}

// Resolve builds the principal for userID once per request.
func Resolve(ctx context.Context, src RoleSource, userID string) (*Principal, error) {
	roles, err := src.UserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Principal{UserID: userID, Roles: roles}, nil
}
