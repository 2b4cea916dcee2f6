package service

import (
	"testing"

	"github.com/stustapay/stustapay-sub000/internal/apierror"
	"github.com/stustapay/stustapay-sub000/internal/dto"
	"github.com/stustapay/stustapay-sub000/internal/model"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) users() UserService {
	return NewUserService(f.store, f.auth, f.audit)
}

// manager creates a user at the event holding a non-privileged role with
// user management rights.
func (f *fixture) manager() *Actor {
	f.t.Helper()
	role := &model.UserRole{NodeID: f.eventNode.ID, Name: "manager", Privileges: pq.StringArray{
		string(model.PrivUserManagement), string(model.PrivCreateUser),
	}}
	require.NoError(f.t, f.store.Users.CreateRole(f.ctx, nil, role))
	u := &model.User{NodeID: f.eventNode.ID, Login: "manager"}
	require.NoError(f.t, f.store.Users.CreateUser(f.ctx, nil, u))
	require.NoError(f.t, f.store.Users.AssignRole(f.ctx, nil, &model.UserToRole{UserID: u.ID, RoleID: role.ID, NodeID: f.eventNode.ID}))
	return &Actor{UserID: u.ID, Login: u.Login}
}

func TestUser_CreateWithTagAndPassword(t *testing.T) {
	f := newFixture(t)
	users := f.users()

	tag := &model.UserTag{NodeID: f.eventNode.ID, Pin: "STAFF-1"}
	require.NoError(t, f.store.UserTags.CreateUserTag(f.ctx, nil, tag))

	uid := int64(0x5AFF)
	resp, err := users.CreateUser(f.ctx, f.admin, f.eventNode.ID, dto.NewUserRequest{
		Login: "alex", DisplayName: "Alex", Password: ptr("long-enough"), UserTagPin: ptr("STAFF-1"), UserTagUID: &uid,
	})
	require.NoError(t, err)
	require.NotNil(t, resp.UserTagID)
	assert.Equal(t, tag.ID, *resp.UserTagID)

	bound, err := f.store.UserTags.GetUserTag(f.ctx, nil, tag.ID)
	require.NoError(t, err)
	require.NotNil(t, bound.UID, "first scan binds the uid")
	assert.Equal(t, uid, *bound.UID)

	_, err = users.CreateUser(f.ctx, f.admin, f.eventNode.ID, dto.NewUserRequest{Login: "alex"})
	assert.Equal(t, apierror.KindConflict, apierror.KindOf(err), "login is unique")

	_, err = users.CreateUser(f.ctx, f.admin, f.eventNode.ID, dto.NewUserRequest{Login: "nobody", UserTagPin: ptr("NO-SUCH")})
	assert.Equal(t, apierror.KindNotFound, apierror.KindOf(err))
}

func TestUser_PrivilegedRoleNeedsAdministration(t *testing.T) {
	f := newFixture(t)
	users := f.users()
	manager := f.manager()

	target, err := users.CreateUser(f.ctx, manager, f.eventNode.ID, dto.NewUserRequest{Login: "helper"})
	require.NoError(t, err)

	privileged, err := users.CreateRole(f.ctx, f.admin, f.eventNode.ID, dto.NewUserRoleRequest{
		Name: "event admin", IsPrivileged: true, Privileges: []string{string(model.PrivNodeAdministration)},
	})
	require.NoError(t, err)

	err = users.AssignRole(f.ctx, manager, f.eventNode.ID, dto.UserToRoleRequest{UserID: target.ID, RoleID: privileged.ID})
	assert.Equal(t, apierror.KindAccessDenied, apierror.KindOf(err))

	require.NoError(t, users.AssignRole(f.ctx, manager, f.eventNode.ID, dto.UserToRoleRequest{UserID: target.ID, RoleID: f.term.Role.ID}))
	require.NoError(t, users.AssignRole(f.ctx, f.admin, f.eventNode.ID, dto.UserToRoleRequest{UserID: target.ID, RoleID: privileged.ID}))

	listed, err := users.ListUsers(f.ctx, f.admin, f.eventNode.ID)
	require.NoError(t, err)
	var roles []int64
	for _, u := range listed {
		if u.ID == target.ID {
			roles = u.RoleIDs
		}
	}
	assert.ElementsMatch(t, []int64{f.term.Role.ID, privileged.ID}, roles)

	require.NoError(t, users.RemoveRole(f.ctx, f.admin, f.eventNode.ID, dto.UserToRoleRequest{UserID: target.ID, RoleID: privileged.ID}))
	held, err := f.auth.PrivilegesAt(f.ctx, nil, target.ID, f.eventNode.ID)
	require.NoError(t, err)
	assert.False(t, held[model.PrivNodeAdministration])
	assert.True(t, held[model.PrivCanBookOrders])
}

func TestUser_RoleValidation(t *testing.T) {
	f := newFixture(t)
	users := f.users()

	_, err := users.CreateRole(f.ctx, f.admin, f.eventNode.ID, dto.NewUserRoleRequest{Name: "wizard", Privileges: []string{"fly"}})
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err))

	_, err = users.CreateRole(f.ctx, f.admin, f.eventNode.ID, dto.NewUserRoleRequest{Name: "cashier"})
	assert.Equal(t, apierror.KindConflict, apierror.KindOf(err))

	roles, err := users.ListRoles(f.ctx, f.admin, f.eventNode.ID)
	require.NoError(t, err)
	byName := map[string]model.UserRole{}
	for _, r := range roles {
		byName[r.Name] = r
	}
	require.Contains(t, byName, "admin", "roles of ancestors are visible")
	assert.Contains(t, byName, "cashier")

	err = users.DeleteRole(f.ctx, f.admin, f.eventNode.ID, byName["admin"].ID)
	assert.Equal(t, apierror.KindNotFound, apierror.KindOf(err), "roles are deleted at their own node")
}

func TestUser_DeleteRefusedWhileHoldingRegister(t *testing.T) {
	f := newFixture(t)
	users := f.users()
	f.stockUp(nil)

	err := users.DeleteUser(f.ctx, f.admin, f.eventNode.ID, f.term.User.ID)
	assert.Equal(t, apierror.KindConflict, apierror.KindOf(err))

	plain, err := users.CreateUser(f.ctx, f.admin, f.eventNode.ID, dto.NewUserRequest{Login: "temp"})
	require.NoError(t, err)
	require.NoError(t, users.DeleteUser(f.ctx, f.admin, f.eventNode.ID, plain.ID))
	_, err = f.store.Users.GetUser(f.ctx, nil, plain.ID)
	assert.Error(t, err)
}

func TestUser_TagsAreUniquePerEvent(t *testing.T) {
	f := newFixture(t)
	users := f.users()

	restriction := string(model.RestrictionUnder18)
	tag, err := users.CreateUserTag(f.ctx, f.admin, f.eventNode.ID, dto.NewUserTagRequest{Pin: "T-1", Restriction: &restriction})
	require.NoError(t, err)
	require.NotNil(t, tag.Restriction)
	assert.Equal(t, model.RestrictionUnder18, *tag.Restriction)

	_, err = users.CreateUserTag(f.ctx, f.admin, f.eventNode.ID, dto.NewUserTagRequest{Pin: "T-1"})
	assert.Equal(t, apierror.KindConflict, apierror.KindOf(err))

	_, err = users.CreateUserTag(f.ctx, f.admin, f.root.ID, dto.NewUserTagRequest{Pin: "T-2"})
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err), "tags live inside an event")
}
