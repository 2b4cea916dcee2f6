package service

import (
	"context"

	"github.com/stustapay/stustapay-sub000/internal/apierror"
	"github.com/stustapay/stustapay-sub000/internal/model"
	"github.com/stustapay/stustapay-sub000/internal/repository"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// BootstrapAdmin creates the root node with a privileged "admin" role and
// an admin user holding it. If the login already exists only its password
// is reset, so the command can be rerun.
func BootstrapAdmin(ctx context.Context, store *repository.Store, login, password string) (*model.User, error) {
	if login == "" || len(password) < 8 {
		return nil, apierror.InvalidArgument("login and a password of at least 8 characters are required")
	}
	hash, err := hashPassword(password)
	if err != nil {
		return nil, apierror.Internal("hash password: %v", err)
	}

	var user *model.User
	err = runTx(ctx, store.DB(), func(tx *gorm.DB) error {
		existing, err := store.Users.FindUserByLogin(ctx, tx, login)
		if err == nil {
			existing.PasswordHash = hash
			user = existing
			return apierror.FromDB(store.Users.UpdateUser(ctx, tx, existing))
		}
		if !isNotFound(err) {
			return apierror.FromDB(err)
		}

		root := &model.Node{Name: "root", Description: "root node"}
		if err := store.Tree.CreateNode(ctx, tx, root); err != nil {
			return apierror.FromDB(err)
		}
		privs := make(pq.StringArray, 0, len(model.AllPrivileges()))
		for _, p := range model.AllPrivileges() {
			privs = append(privs, string(p))
		}
		role := &model.UserRole{NodeID: root.ID, Name: "admin", IsPrivileged: true, Privileges: privs}
		if err := store.Users.CreateRole(ctx, tx, role); err != nil {
			return apierror.FromDB(err)
		}
		user = &model.User{NodeID: root.ID, Login: login, DisplayName: login, PasswordHash: hash}
		if err := store.Users.CreateUser(ctx, tx, user); err != nil {
			return apierror.FromDB(err)
		}
		return apierror.FromDB(store.Users.AssignRole(ctx, tx, &model.UserToRole{UserID: user.ID, RoleID: role.ID, NodeID: root.ID}))
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}
