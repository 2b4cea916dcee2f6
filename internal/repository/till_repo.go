package repository

import (
	"context"

	"github.com/stustapay/stustapay-sub000/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TillRepository interface {
	CreateTill(ctx context.Context, tx *gorm.DB, t *model.Till) error
	GetTill(ctx context.Context, tx *gorm.DB, id int64) (*model.Till, error)
	// LockTill loads the till FOR UPDATE; z-number changes happen under this lock.
	LockTill(ctx context.Context, tx *gorm.DB, id int64) (*model.Till, error)
	UpdateTill(ctx context.Context, tx *gorm.DB, t *model.Till) error
	DeleteTill(ctx context.Context, tx *gorm.DB, id int64) error
	ListTills(ctx context.Context, tx *gorm.DB, rootNodeID int64) ([]model.Till, error)
	FindTillByRegistrationUUID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Till, error)
	FindVirtualTill(ctx context.Context, tx *gorm.DB, nodeID int64) (*model.Till, error)
	FindTillsByActiveUser(ctx context.Context, tx *gorm.DB, userID int64) ([]model.Till, error)
	FindTillByCashRegister(ctx context.Context, tx *gorm.DB, registerID int64) (*model.Till, error)
	ProfileInUse(ctx context.Context, tx *gorm.DB, profileID int64) (bool, error)

	CreateTSE(ctx context.Context, tx *gorm.DB, t *model.TSE) error
	GetTSE(ctx context.Context, tx *gorm.DB, id int64) (*model.TSE, error)
	UpdateTSE(ctx context.Context, tx *gorm.DB, t *model.TSE) error
	ListTSEs(ctx context.Context, tx *gorm.DB, rootNodeID int64) ([]model.TSE, error)
}

type tillRepo struct{ db *gorm.DB }

func (r *tillRepo) CreateTill(ctx context.Context, tx *gorm.DB, t *model.Till) error {
	return conn(r.db, tx).WithContext(ctx).Create(t).Error
}

func (r *tillRepo) GetTill(ctx context.Context, tx *gorm.DB, id int64) (*model.Till, error) {
	var t model.Till
	err := conn(r.db, tx).WithContext(ctx).First(&t, id).Error
	return &t, err
}

func (r *tillRepo) LockTill(ctx context.Context, tx *gorm.DB, id int64) (*model.Till, error) {
	var t model.Till
	err := forUpdate(conn(r.db, tx).WithContext(ctx)).First(&t, id).Error
	return &t, err
}

func (r *tillRepo) UpdateTill(ctx context.Context, tx *gorm.DB, t *model.Till) error {
	return conn(r.db, tx).WithContext(ctx).Save(t).Error
}

func (r *tillRepo) DeleteTill(ctx context.Context, tx *gorm.DB, id int64) error {
	return conn(r.db, tx).WithContext(ctx).Delete(&model.Till{}, id).Error
}

func (r *tillRepo) ListTills(ctx context.Context, tx *gorm.DB, rootNodeID int64) ([]model.Till, error) {
	var tills []model.Till
	err := conn(r.db, tx).WithContext(ctx).
		Where("node_id "+subtreeNodes, rootNodeID, rootNodeID).
		Order("id ASC").Find(&tills).Error
	return tills, err
}

func (r *tillRepo) FindTillByRegistrationUUID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Till, error) {
	var t model.Till
	err := conn(r.db, tx).WithContext(ctx).Where("registration_uuid = ?", id).First(&t).Error
	return &t, err
}

func (r *tillRepo) FindVirtualTill(ctx context.Context, tx *gorm.DB, nodeID int64) (*model.Till, error) {
	var t model.Till
	err := conn(r.db, tx).WithContext(ctx).Where("node_id = ? AND is_virtual", nodeID).First(&t).Error
	return &t, err
}

func (r *tillRepo) FindTillsByActiveUser(ctx context.Context, tx *gorm.DB, userID int64) ([]model.Till, error) {
	var tills []model.Till
	err := conn(r.db, tx).WithContext(ctx).Where("active_user_id = ?", userID).Order("id ASC").Find(&tills).Error
	return tills, err
}

func (r *tillRepo) FindTillByCashRegister(ctx context.Context, tx *gorm.DB, registerID int64) (*model.Till, error) {
	var t model.Till
	err := conn(r.db, tx).WithContext(ctx).Where("active_cash_register_id = ?", registerID).First(&t).Error
	return &t, err
}

func (r *tillRepo) ProfileInUse(ctx context.Context, tx *gorm.DB, profileID int64) (bool, error) {
	var n int64
	err := conn(r.db, tx).WithContext(ctx).Model(&model.Till{}).Where("active_profile_id = ?", profileID).Count(&n).Error
	return n > 0, err
}

func (r *tillRepo) CreateTSE(ctx context.Context, tx *gorm.DB, t *model.TSE) error {
	return conn(r.db, tx).WithContext(ctx).Create(t).Error
}

func (r *tillRepo) GetTSE(ctx context.Context, tx *gorm.DB, id int64) (*model.TSE, error) {
	var t model.TSE
	err := conn(r.db, tx).WithContext(ctx).First(&t, id).Error
	return &t, err
}

func (r *tillRepo) UpdateTSE(ctx context.Context, tx *gorm.DB, t *model.TSE) error {
	return conn(r.db, tx).WithContext(ctx).Save(t).Error
}

func (r *tillRepo) ListTSEs(ctx context.Context, tx *gorm.DB, rootNodeID int64) ([]model.TSE, error) {
	var tses []model.TSE
	err := conn(r.db, tx).WithContext(ctx).
		Where("node_id "+subtreeNodes, rootNodeID, rootNodeID).
		Order("id ASC").Find(&tses).Error
	return tses, err
}
