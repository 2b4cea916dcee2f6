package repository

import (
	"context"

	"github.com/stustapay/stustapay-sub000/internal/dto"
	"github.com/stustapay/stustapay-sub000/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type OrderRepository interface {
	// CreateOrder inserts the order together with its line items.
	CreateOrder(ctx context.Context, tx *gorm.DB, o *model.Order) error
	GetOrder(ctx context.Context, tx *gorm.DB, id int64) (*model.Order, error)
	FindOrderByUUID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Order, error)
	FindCancellation(ctx context.Context, tx *gorm.DB, orderID int64) (*model.Order, error)
	ListOrders(ctx context.Context, tx *gorm.DB, filter dto.OrderFilter) ([]model.Order, int64, error)
	CountOrdersAtTill(ctx context.Context, tx *gorm.DB, tillID, zNr int64) (int64, error)
}

type orderRepo struct{ db *gorm.DB }

func (r *orderRepo) CreateOrder(ctx context.Context, tx *gorm.DB, o *model.Order) error {
	return conn(r.db, tx).WithContext(ctx).Create(o).Error
}

func (r *orderRepo) GetOrder(ctx context.Context, tx *gorm.DB, id int64) (*model.Order, error) {
	var o model.Order
	err := conn(r.db, tx).WithContext(ctx).
		Preload("LineItems", func(db *gorm.DB) *gorm.DB { return db.Order("item_id ASC") }).
		First(&o, id).Error
	return &o, err
}

func (r *orderRepo) FindOrderByUUID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Order, error) {
	var o model.Order
	err := conn(r.db, tx).WithContext(ctx).
		Preload("LineItems", func(db *gorm.DB) *gorm.DB { return db.Order("item_id ASC") }).
		Where("uuid = ?", id).First(&o).Error
	return &o, err
}

func (r *orderRepo) FindCancellation(ctx context.Context, tx *gorm.DB, orderID int64) (*model.Order, error) {
	var o model.Order
	err := conn(r.db, tx).WithContext(ctx).Where("cancels_order = ?", orderID).First(&o).Error
	return &o, err
}

func (r *orderRepo) ListOrders(ctx context.Context, tx *gorm.DB, filter dto.OrderFilter) ([]model.Order, int64, error) {
	var orders []model.Order
	var total int64

	q := conn(r.db, tx).WithContext(ctx).Model(&model.Order{})
	if filter.NodeID != 0 {
		q = q.Where("node_id "+subtreeNodes, filter.NodeID, filter.NodeID)
	}
	if filter.CustomerAccountID != nil {
		q = q.Where("customer_account_id = ?", *filter.CustomerAccountID)
	}
	if filter.TillID != nil {
		q = q.Where("till_id = ?", *filter.TillID)
	}
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (filter.Page - 1) * filter.Limit
	err := q.Preload("LineItems", func(db *gorm.DB) *gorm.DB { return db.Order("item_id ASC") }).
		Order("booked_at DESC, id DESC").
		Offset(offset).Limit(filter.Limit).
		Find(&orders).Error
	return orders, total, err
}

func (r *orderRepo) CountOrdersAtTill(ctx context.Context, tx *gorm.DB, tillID, zNr int64) (int64, error) {
	var n int64
	err := conn(r.db, tx).WithContext(ctx).Model(&model.Order{}).
		Where("till_id = ? AND z_nr = ?", tillID, zNr).Count(&n).Error
	return n, err
}
