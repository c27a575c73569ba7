package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldi/stageflow/pkg/models"
)

type fakeRoles map[string][]*models.UserRole

func (f fakeRoles) UserRoles(_ context.Context, userID string) ([]*models.UserRole, error) {
	if userID == "broken" {
		return nil, errors.New("db down")
	}
	return f[userID], nil
}

func TestResolveAndPermissions(t *testing.T) {
	src := fakeRoles{
		"u1": {
			{RoleName: "Manager", Active: true, Permissions: []string{"task:delete:any"}},
			{RoleName: "Old", Active: false, Permissions: []string{"workflow:delete"}},
		},
	}

	p, err := Resolve(context.Background(), src, "u1")
	require.NoError(t, err)
	assert.True(t, p.HasPermission("task:delete:any"))
	assert.False(t, p.HasPermission("workflow:delete"), "inactive roles grant nothing")
	assert.True(t, p.HasRole("Manager"))
	assert.False(t, p.HasRole("Old"))
	assert.Equal(t, "u1", *p.ActorID())

	_, err = Resolve(context.Background(), src, "broken")
	assert.Error(t, err)

	var nobody *Principal
	assert.False(t, nobody.HasPermission("x"))
	assert.Nil(t, nobody.ActorID())
}

func TestContext(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, FromContext(ctx))

	p := &Principal{UserID: "u2"}
	assert.Same(t, p, FromContext(WithPrincipal(ctx, p)))
}
