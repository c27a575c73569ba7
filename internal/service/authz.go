package service

import (
	"context"

	sferrors "github.com/ldi/stageflow/internal/errors"
	"github.com/ldi/stageflow/internal/identity"
)

// Action names a guarded operation.
type Action string

const (
	ActionTaskCreate      Action = "task:create"
	ActionTaskUpdate      Action = "task:update"
	ActionTaskMove        Action = "task:move"
	ActionTaskAssign      Action = "task:assign"
	ActionTaskDelete      Action = "task:delete"
	ActionTaskComment     Action = "task:comment"
	ActionWorkflowManage  Action = "workflow:manage"
	ActionStageManage     Action = "stage:manage"
	ActionDirectoryManage Action = "directory:manage"
)

// PermissionDeleteAnyTask lets a principal delete tasks it did not create.
const PermissionDeleteAnyTask = "task:delete:any"

// Resource identifies what an action targets. OwnerID is the creator when
// the resource has one.
type Resource struct {
	Kind    string
	ID      string
	OwnerID string
}

// Authorizer decides whether p may perform action on res. It returns an
// error wrapping ErrPermissionDenied when it may not.
type Authorizer interface {
	Authorize(ctx context.Context, p *identity.Principal, action Action, res Resource) error
}

// DefaultPolicy allows everything except deleting a task the caller did not
// create, unless the caller holds PermissionDeleteAnyTask.
type DefaultPolicy struct{}

var _ Authorizer = DefaultPolicy{}

// Authorize implements Authorizer.
func (DefaultPolicy) Authorize(_ context.Context, p *identity.Principal, action Action, res Resource) error {
	if action != ActionTaskDelete {
		return nil
	}
	if p == identity.System {
		return nil
	}
	if p != nil && p.UserID != "" && p.UserID == res.OwnerID {
		return nil
	}
	if p.HasPermission(PermissionDeleteAnyTask) {
		return nil
	}
	return sferrors.Newf(sferrors.ErrPermissionDenied, "delete task %s", res.ID)
}

func (s *Service) authorize(ctx context.Context, action Action, res Resource) error {
	return s.authorizer.Authorize(ctx, identity.FromContext(ctx), action, res)
}
