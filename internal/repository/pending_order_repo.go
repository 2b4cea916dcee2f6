package repository

import (
	"context"
	"time"

	"github.com/stustapay/stustapay-sub000/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PendingOrderRepository interface {
	CreatePendingOrder(ctx context.Context, tx *gorm.DB, p *model.PendingOrder) error
	GetPendingOrder(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.PendingOrder, error)
	LockPendingOrder(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.PendingOrder, error)
	UpdatePendingOrder(ctx context.Context, tx *gorm.DB, p *model.PendingOrder) error
	// ListDuePendingOrders returns pending rows whose next poll is due at now.
	ListDuePendingOrders(ctx context.Context, tx *gorm.DB, now time.Time) ([]model.PendingOrder, error)
}

type pendingOrderRepo struct{ db *gorm.DB }

func (r *pendingOrderRepo) CreatePendingOrder(ctx context.Context, tx *gorm.DB, p *model.PendingOrder) error {
	return conn(r.db, tx).WithContext(ctx).Create(p).Error
}

func (r *pendingOrderRepo) GetPendingOrder(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.PendingOrder, error) {
	var p model.PendingOrder
	err := conn(r.db, tx).WithContext(ctx).Where("uuid = ?", id).First(&p).Error
	return &p, err
}

func (r *pendingOrderRepo) LockPendingOrder(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.PendingOrder, error) {
	var p model.PendingOrder
	err := forUpdate(conn(r.db, tx).WithContext(ctx)).Where("uuid = ?", id).First(&p).Error
	return &p, err
}

func (r *pendingOrderRepo) UpdatePendingOrder(ctx context.Context, tx *gorm.DB, p *model.PendingOrder) error {
	return conn(r.db, tx).WithContext(ctx).Save(p).Error
}

func (r *pendingOrderRepo) ListDuePendingOrders(ctx context.Context, tx *gorm.DB, now time.Time) ([]model.PendingOrder, error) {
	var rows []model.PendingOrder
	err := conn(r.db, tx).WithContext(ctx).
		Where("status = ?", model.PendingStatusPending).
		Where("(last_checked IS NULL AND created_at + make_interval(secs => ?) < ?) OR "+
			"(last_checked + make_interval(secs => check_interval) < ?)",
			model.PendingOrderFirstCheckDelay.Seconds(), now, now).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}
