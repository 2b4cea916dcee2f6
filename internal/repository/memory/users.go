package memory

import (
	"context"

	"github.com/stustapay/stustapay-sub000/internal/model"

	"gorm.io/gorm"
)

func (d *DB) CreateUserTag(_ context.Context, _ *gorm.DB, t *model.UserTag) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, other := range d.tags {
		if t.UID != nil && other.UID != nil && *t.UID == *other.UID {
			return uniqueViolation("user_tag_uid_key")
		}
	}
	t.ID = d.nextID()
	d.tags[t.ID] = *t
	return nil
}

func (d *DB) GetUserTag(_ context.Context, _ *gorm.DB, id int64) (*model.UserTag, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tags[id]
	if !ok {
		return nil, errNotFound
	}
	return &t, nil
}

func (d *DB) UpdateUserTag(_ context.Context, _ *gorm.DB, t *model.UserTag) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, other := range d.tags {
		if other.ID != t.ID && t.UID != nil && other.UID != nil && *t.UID == *other.UID {
			return uniqueViolation("user_tag_uid_key")
		}
	}
	d.tags[t.ID] = *t
	return nil
}

func (d *DB) FindUserTagByPin(_ context.Context, _ *gorm.DB, rootNodeID int64, pin string) (*model.UserTag, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.tags {
		if t.Pin == pin && d.inSubtree(t.NodeID, rootNodeID) {
			return &t, nil
		}
	}
	return nil, errNotFound
}

func (d *DB) FindUserTagByUID(_ context.Context, _ *gorm.DB, rootNodeID int64, uid int64) (*model.UserTag, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.tags {
		if t.UID != nil && *t.UID == uid && d.inSubtree(t.NodeID, rootNodeID) {
			return &t, nil
		}
	}
	return nil, errNotFound
}

func (d *DB) ListUserTags(_ context.Context, _ *gorm.DB, rootNodeID int64) ([]model.UserTag, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedValues(d.tags, func(t model.UserTag) bool { return d.inSubtree(t.NodeID, rootNodeID) },
		func(a, b model.UserTag) bool { return a.ID < b.ID }), nil
}

func (d *DB) CreateUserTagSecret(_ context.Context, _ *gorm.DB, s *model.UserTagSecret) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s.ID = d.nextID()
	d.tagSecrets[s.ID] = *s
	return nil
}

func (d *DB) ListUserTagSecrets(_ context.Context, _ *gorm.DB, rootNodeID int64) ([]model.UserTagSecret, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedValues(d.tagSecrets, func(s model.UserTagSecret) bool { return d.inSubtree(s.NodeID, rootNodeID) },
		func(a, b model.UserTagSecret) bool { return a.ID < b.ID }), nil
}

func (d *DB) CreateUser(_ context.Context, _ *gorm.DB, u *model.User) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, other := range d.users {
		if other.Login == u.Login {
			return uniqueViolation("usr_login_key")
		}
		if u.UserTagID != nil && other.UserTagID != nil && *u.UserTagID == *other.UserTagID {
			return uniqueViolation("usr_user_tag_id_key")
		}
	}
	u.ID = d.nextID()
	d.users[u.ID] = *u
	return nil
}

func (d *DB) GetUser(_ context.Context, _ *gorm.DB, id int64) (*model.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return nil, errNotFound
	}
	return &u, nil
}

func (d *DB) LockUser(ctx context.Context, tx *gorm.DB, id int64) (*model.User, error) {
	return d.GetUser(ctx, tx, id)
}

func (d *DB) findUser(match func(model.User) bool) (*model.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range d.users {
		if match(u) {
			return &u, nil
		}
	}
	return nil, errNotFound
}

func (d *DB) FindUserByLogin(_ context.Context, _ *gorm.DB, login string) (*model.User, error) {
	return d.findUser(func(u model.User) bool { return u.Login == login })
}

func (d *DB) FindUserByTag(_ context.Context, _ *gorm.DB, tagID int64) (*model.User, error) {
	return d.findUser(func(u model.User) bool { return u.UserTagID != nil && *u.UserTagID == tagID })
}

func (d *DB) FindUserByCashRegister(_ context.Context, _ *gorm.DB, registerID int64) (*model.User, error) {
	return d.findUser(func(u model.User) bool { return u.CashRegisterID != nil && *u.CashRegisterID == registerID })
}

func (d *DB) UpdateUser(_ context.Context, _ *gorm.DB, u *model.User) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.users[u.ID]; !ok {
		return errNotFound
	}
	for _, other := range d.users {
		if other.ID == u.ID {
			continue
		}
		if u.CashRegisterID != nil && other.CashRegisterID != nil && *u.CashRegisterID == *other.CashRegisterID {
			return uniqueViolation("usr_cash_register_id_key")
		}
		if u.UserTagID != nil && other.UserTagID != nil && *u.UserTagID == *other.UserTagID {
			return uniqueViolation("usr_user_tag_id_key")
		}
	}
	d.users[u.ID] = *u
	return nil
}

func (d *DB) DeleteUser(_ context.Context, _ *gorm.DB, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.users, id)
	return nil
}

func (d *DB) ListUsers(_ context.Context, _ *gorm.DB, rootNodeID int64) ([]model.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedValues(d.users, func(u model.User) bool { return d.inSubtree(u.NodeID, rootNodeID) },
		func(a, b model.User) bool { return a.ID < b.ID }), nil
}

func (d *DB) CreateRole(_ context.Context, _ *gorm.DB, r *model.UserRole) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	r.ID = d.nextID()
	d.roles[r.ID] = *r
	return nil
}

func (d *DB) GetRole(_ context.Context, _ *gorm.DB, id int64) (*model.UserRole, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.roles[id]
	if !ok {
		return nil, errNotFound
	}
	return &r, nil
}

func (d *DB) FindRoleByName(_ context.Context, _ *gorm.DB, nodeID int64, name string) (*model.UserRole, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.roles {
		if r.NodeID == nodeID && r.Name == name {
			return &r, nil
		}
	}
	return nil, errNotFound
}

func (d *DB) UpdateRole(_ context.Context, _ *gorm.DB, r *model.UserRole) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roles[r.ID] = *r
	return nil
}

func (d *DB) DeleteRole(_ context.Context, _ *gorm.DB, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.roles, id)
	return nil
}

func (d *DB) ListRoles(_ context.Context, _ *gorm.DB, nodeIDs []int64) ([]model.UserRole, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedValues(d.roles, func(r model.UserRole) bool { return containsID(nodeIDs, r.NodeID) },
		func(a, b model.UserRole) bool { return a.ID < b.ID }), nil
}

func (d *DB) AssignRole(_ context.Context, _ *gorm.DB, a *model.UserToRole) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, x := range d.userToRoles {
		if x == *a {
			return uniqueViolation("user_to_role_pkey")
		}
	}
	d.userToRoles = append(d.userToRoles, *a)
	return nil
}

func (d *DB) RemoveRole(_ context.Context, _ *gorm.DB, a *model.UserToRole) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.userToRoles[:0]
	for _, x := range d.userToRoles {
		if x != *a {
			out = append(out, x)
		}
	}
	d.userToRoles = out
	return nil
}

func (d *DB) ListUserRoles(_ context.Context, _ *gorm.DB, userID int64) ([]model.UserToRole, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []model.UserToRole
	for _, x := range d.userToRoles {
		if x.UserID == userID {
			out = append(out, x)
		}
	}
	return out, nil
}

func (d *DB) CreateUserSession(_ context.Context, _ *gorm.DB, s *model.UserSession) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s.ID = d.nextID()
	d.userSessions[s.ID] = *s
	return nil
}

func (d *DB) UserSessionExists(_ context.Context, _ *gorm.DB, id, userID int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.userSessions[id]
	return ok && s.UserID == userID, nil
}

func (d *DB) DeleteUserSession(_ context.Context, _ *gorm.DB, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.userSessions, id)
	return nil
}

func (d *DB) CreateCustomerSession(_ context.Context, _ *gorm.DB, s *model.CustomerSession) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s.ID = d.nextID()
	d.custSessions[s.ID] = *s
	return nil
}

func (d *DB) CustomerSessionExists(_ context.Context, _ *gorm.DB, id, customerID int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.custSessions[id]
	return ok && s.CustomerID == customerID, nil
}

func (d *DB) DeleteCustomerSession(_ context.Context, _ *gorm.DB, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.custSessions, id)
	return nil
}
