package repository

import (
	"context"

	"github.com/stustapay/stustapay-sub000/internal/model"

	"gorm.io/gorm"
)

type UserRepository interface {
	CreateUser(ctx context.Context, tx *gorm.DB, u *model.User) error
	GetUser(ctx context.Context, tx *gorm.DB, id int64) (*model.User, error)
	LockUser(ctx context.Context, tx *gorm.DB, id int64) (*model.User, error)
	FindUserByLogin(ctx context.Context, tx *gorm.DB, login string) (*model.User, error)
	FindUserByTag(ctx context.Context, tx *gorm.DB, tagID int64) (*model.User, error)
	FindUserByCashRegister(ctx context.Context, tx *gorm.DB, registerID int64) (*model.User, error)
	UpdateUser(ctx context.Context, tx *gorm.DB, u *model.User) error
	DeleteUser(ctx context.Context, tx *gorm.DB, id int64) error
	ListUsers(ctx context.Context, tx *gorm.DB, rootNodeID int64) ([]model.User, error)

	CreateRole(ctx context.Context, tx *gorm.DB, r *model.UserRole) error
	GetRole(ctx context.Context, tx *gorm.DB, id int64) (*model.UserRole, error)
	FindRoleByName(ctx context.Context, tx *gorm.DB, nodeID int64, name string) (*model.UserRole, error)
	UpdateRole(ctx context.Context, tx *gorm.DB, r *model.UserRole) error
	DeleteRole(ctx context.Context, tx *gorm.DB, id int64) error
	ListRoles(ctx context.Context, tx *gorm.DB, nodeIDs []int64) ([]model.UserRole, error)

	AssignRole(ctx context.Context, tx *gorm.DB, a *model.UserToRole) error
	RemoveRole(ctx context.Context, tx *gorm.DB, a *model.UserToRole) error
	ListUserRoles(ctx context.Context, tx *gorm.DB, userID int64) ([]model.UserToRole, error)

	CreateUserSession(ctx context.Context, tx *gorm.DB, s *model.UserSession) error
	UserSessionExists(ctx context.Context, tx *gorm.DB, id, userID int64) (bool, error)
	DeleteUserSession(ctx context.Context, tx *gorm.DB, id int64) error
	CreateCustomerSession(ctx context.Context, tx *gorm.DB, s *model.CustomerSession) error
	CustomerSessionExists(ctx context.Context, tx *gorm.DB, id, customerID int64) (bool, error)
	DeleteCustomerSession(ctx context.Context, tx *gorm.DB, id int64) error
}

type userRepo struct{ db *gorm.DB }

func (r *userRepo) CreateUser(ctx context.Context, tx *gorm.DB, u *model.User) error {
	return conn(r.db, tx).WithContext(ctx).Create(u).Error
}

func (r *userRepo) GetUser(ctx context.Context, tx *gorm.DB, id int64) (*model.User, error) {
	var u model.User
	err := conn(r.db, tx).WithContext(ctx).First(&u, id).Error
	return &u, err
}

func (r *userRepo) LockUser(ctx context.Context, tx *gorm.DB, id int64) (*model.User, error) {
	var u model.User
	err := forUpdate(conn(r.db, tx).WithContext(ctx)).First(&u, id).Error
	return &u, err
}

func (r *userRepo) FindUserByLogin(ctx context.Context, tx *gorm.DB, login string) (*model.User, error) {
	var u model.User
	err := conn(r.db, tx).WithContext(ctx).Where("login = ?", login).First(&u).Error
	return &u, err
}

func (r *userRepo) FindUserByTag(ctx context.Context, tx *gorm.DB, tagID int64) (*model.User, error) {
	var u model.User
	err := conn(r.db, tx).WithContext(ctx).Where("user_tag_id = ?", tagID).First(&u).Error
	return &u, err
}

func (r *userRepo) FindUserByCashRegister(ctx context.Context, tx *gorm.DB, registerID int64) (*model.User, error) {
	var u model.User
	err := conn(r.db, tx).WithContext(ctx).Where("cash_register_id = ?", registerID).First(&u).Error
	return &u, err
}

func (r *userRepo) UpdateUser(ctx context.Context, tx *gorm.DB, u *model.User) error {
	return conn(r.db, tx).WithContext(ctx).Save(u).Error
}

func (r *userRepo) DeleteUser(ctx context.Context, tx *gorm.DB, id int64) error {
	return conn(r.db, tx).WithContext(ctx).Delete(&model.User{}, id).Error
}

func (r *userRepo) ListUsers(ctx context.Context, tx *gorm.DB, rootNodeID int64) ([]model.User, error) {
	var users []model.User
	err := conn(r.db, tx).WithContext(ctx).
		Where("node_id "+subtreeNodes, rootNodeID, rootNodeID).
		Order("id ASC").Find(&users).Error
	return users, err
}

func (r *userRepo) CreateRole(ctx context.Context, tx *gorm.DB, role *model.UserRole) error {
	return conn(r.db, tx).WithContext(ctx).Create(role).Error
}

func (r *userRepo) GetRole(ctx context.Context, tx *gorm.DB, id int64) (*model.UserRole, error) {
	var role model.UserRole
	err := conn(r.db, tx).WithContext(ctx).First(&role, id).Error
	return &role, err
}

func (r *userRepo) FindRoleByName(ctx context.Context, tx *gorm.DB, nodeID int64, name string) (*model.UserRole, error) {
	var role model.UserRole
	err := conn(r.db, tx).WithContext(ctx).Where("node_id = ? AND name = ?", nodeID, name).First(&role).Error
	return &role, err
}

func (r *userRepo) UpdateRole(ctx context.Context, tx *gorm.DB, role *model.UserRole) error {
	return conn(r.db, tx).WithContext(ctx).Save(role).Error
}

func (r *userRepo) DeleteRole(ctx context.Context, tx *gorm.DB, id int64) error {
	return conn(r.db, tx).WithContext(ctx).Delete(&model.UserRole{}, id).Error
}

func (r *userRepo) ListRoles(ctx context.Context, tx *gorm.DB, nodeIDs []int64) ([]model.UserRole, error) {
	var roles []model.UserRole
	err := conn(r.db, tx).WithContext(ctx).Where("node_id IN ?", nodeIDs).Order("id ASC").Find(&roles).Error
	return roles, err
}

func (r *userRepo) AssignRole(ctx context.Context, tx *gorm.DB, a *model.UserToRole) error {
	return conn(r.db, tx).WithContext(ctx).Create(a).Error
}

func (r *userRepo) RemoveRole(ctx context.Context, tx *gorm.DB, a *model.UserToRole) error {
	return conn(r.db, tx).WithContext(ctx).
		Where("user_id = ? AND role_id = ? AND node_id = ?", a.UserID, a.RoleID, a.NodeID).
		Delete(&model.UserToRole{}).Error
}

func (r *userRepo) ListUserRoles(ctx context.Context, tx *gorm.DB, userID int64) ([]model.UserToRole, error) {
	var assignments []model.UserToRole
	err := conn(r.db, tx).WithContext(ctx).Where("user_id = ?", userID).Find(&assignments).Error
	return assignments, err
}

func (r *userRepo) CreateUserSession(ctx context.Context, tx *gorm.DB, s *model.UserSession) error {
	return conn(r.db, tx).WithContext(ctx).Create(s).Error
}

func (r *userRepo) UserSessionExists(ctx context.Context, tx *gorm.DB, id, userID int64) (bool, error) {
	var n int64
	err := conn(r.db, tx).WithContext(ctx).Model(&model.UserSession{}).
		Where("id = ? AND user_id = ?", id, userID).Count(&n).Error
	return n > 0, err
}

func (r *userRepo) DeleteUserSession(ctx context.Context, tx *gorm.DB, id int64) error {
	return conn(r.db, tx).WithContext(ctx).Delete(&model.UserSession{}, id).Error
}

func (r *userRepo) CreateCustomerSession(ctx context.Context, tx *gorm.DB, s *model.CustomerSession) error {
	return conn(r.db, tx).WithContext(ctx).Create(s).Error
}

func (r *userRepo) CustomerSessionExists(ctx context.Context, tx *gorm.DB, id, customerID int64) (bool, error) {
	var n int64
	err := conn(r.db, tx).WithContext(ctx).Model(&model.CustomerSession{}).
		Where("id = ? AND customer_id = ?", id, customerID).Count(&n).Error
	return n > 0, err
}

func (r *userRepo) DeleteCustomerSession(ctx context.Context, tx *gorm.DB, id int64) error {
	return conn(r.db, tx).WithContext(ctx).Delete(&model.CustomerSession{}, id).Error
}
