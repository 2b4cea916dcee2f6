package repository

import (
	"context"

	"github.com/stustapay/stustapay-sub000/internal/model"

	"gorm.io/gorm"
)

type CashRegisterRepository interface {
	CreateRegister(ctx context.Context, tx *gorm.DB, c *model.CashRegister) error
	GetRegister(ctx context.Context, tx *gorm.DB, id int64) (*model.CashRegister, error)
	LockRegister(ctx context.Context, tx *gorm.DB, id int64) (*model.CashRegister, error)
	UpdateRegister(ctx context.Context, tx *gorm.DB, c *model.CashRegister) error
	DeleteRegister(ctx context.Context, tx *gorm.DB, id int64) error
	ListRegisters(ctx context.Context, tx *gorm.DB, rootNodeID int64) ([]model.CashRegister, error)

	CreateStocking(ctx context.Context, tx *gorm.DB, s *model.CashRegisterStocking) error
	GetStocking(ctx context.Context, tx *gorm.DB, id int64) (*model.CashRegisterStocking, error)
	UpdateStocking(ctx context.Context, tx *gorm.DB, s *model.CashRegisterStocking) error
	DeleteStocking(ctx context.Context, tx *gorm.DB, id int64) error
	ListStockings(ctx context.Context, tx *gorm.DB, nodeIDs []int64) ([]model.CashRegisterStocking, error)

	CreateShift(ctx context.Context, tx *gorm.DB, s *model.CashierShift) error
	ListShifts(ctx context.Context, tx *gorm.DB, cashierID int64) ([]model.CashierShift, error)
}

type cashRegisterRepo struct{ db *gorm.DB }

func (r *cashRegisterRepo) CreateRegister(ctx context.Context, tx *gorm.DB, c *model.CashRegister) error {
	return conn(r.db, tx).WithContext(ctx).Create(c).Error
}

func (r *cashRegisterRepo) GetRegister(ctx context.Context, tx *gorm.DB, id int64) (*model.CashRegister, error) {
	var c model.CashRegister
	err := conn(r.db, tx).WithContext(ctx).First(&c, id).Error
	return &c, err
}

func (r *cashRegisterRepo) LockRegister(ctx context.Context, tx *gorm.DB, id int64) (*model.CashRegister, error) {
	var c model.CashRegister
	err := forUpdate(conn(r.db, tx).WithContext(ctx)).First(&c, id).Error
	return &c, err
}

func (r *cashRegisterRepo) UpdateRegister(ctx context.Context, tx *gorm.DB, c *model.CashRegister) error {
	return conn(r.db, tx).WithContext(ctx).Save(c).Error
}

func (r *cashRegisterRepo) DeleteRegister(ctx context.Context, tx *gorm.DB, id int64) error {
	return conn(r.db, tx).WithContext(ctx).Delete(&model.CashRegister{}, id).Error
}

func (r *cashRegisterRepo) ListRegisters(ctx context.Context, tx *gorm.DB, rootNodeID int64) ([]model.CashRegister, error) {
	var regs []model.CashRegister
	err := conn(r.db, tx).WithContext(ctx).
		Where("node_id "+subtreeNodes, rootNodeID, rootNodeID).
		Order("id ASC").Find(&regs).Error
	return regs, err
}

func (r *cashRegisterRepo) CreateStocking(ctx context.Context, tx *gorm.DB, s *model.CashRegisterStocking) error {
	return conn(r.db, tx).WithContext(ctx).Create(s).Error
}

func (r *cashRegisterRepo) GetStocking(ctx context.Context, tx *gorm.DB, id int64) (*model.CashRegisterStocking, error) {
	var s model.CashRegisterStocking
	err := conn(r.db, tx).WithContext(ctx).First(&s, id).Error
	return &s, err
}

func (r *cashRegisterRepo) UpdateStocking(ctx context.Context, tx *gorm.DB, s *model.CashRegisterStocking) error {
	return conn(r.db, tx).WithContext(ctx).Save(s).Error
}

func (r *cashRegisterRepo) DeleteStocking(ctx context.Context, tx *gorm.DB, id int64) error {
	return conn(r.db, tx).WithContext(ctx).Delete(&model.CashRegisterStocking{}, id).Error
}

func (r *cashRegisterRepo) ListStockings(ctx context.Context, tx *gorm.DB, nodeIDs []int64) ([]model.CashRegisterStocking, error) {
	var stockings []model.CashRegisterStocking
	err := conn(r.db, tx).WithContext(ctx).Where("node_id IN ?", nodeIDs).Order("id ASC").Find(&stockings).Error
	return stockings, err
}

func (r *cashRegisterRepo) CreateShift(ctx context.Context, tx *gorm.DB, s *model.CashierShift) error {
	return conn(r.db, tx).WithContext(ctx).Create(s).Error
}

func (r *cashRegisterRepo) ListShifts(ctx context.Context, tx *gorm.DB, cashierID int64) ([]model.CashierShift, error) {
	var shifts []model.CashierShift
	err := conn(r.db, tx).WithContext(ctx).Where("cashier_id = ?", cashierID).Order("id ASC").Find(&shifts).Error
	return shifts, err
}
