package repository

import (
	"context"

	"github.com/stustapay/stustapay-sub000/internal/model"

	"gorm.io/gorm"
)

type UserTagRepository interface {
	CreateUserTag(ctx context.Context, tx *gorm.DB, t *model.UserTag) error
	GetUserTag(ctx context.Context, tx *gorm.DB, id int64) (*model.UserTag, error)
	UpdateUserTag(ctx context.Context, tx *gorm.DB, t *model.UserTag) error
	// FindUserTagByPin looks the pin up within the subtree of rootNodeID.
	FindUserTagByPin(ctx context.Context, tx *gorm.DB, rootNodeID int64, pin string) (*model.UserTag, error)
	FindUserTagByUID(ctx context.Context, tx *gorm.DB, rootNodeID int64, uid int64) (*model.UserTag, error)
	ListUserTags(ctx context.Context, tx *gorm.DB, rootNodeID int64) ([]model.UserTag, error)

	CreateUserTagSecret(ctx context.Context, tx *gorm.DB, s *model.UserTagSecret) error
	ListUserTagSecrets(ctx context.Context, tx *gorm.DB, rootNodeID int64) ([]model.UserTagSecret, error)
}

type userTagRepo struct{ db *gorm.DB }

func (r *userTagRepo) CreateUserTag(ctx context.Context, tx *gorm.DB, t *model.UserTag) error {
	return conn(r.db, tx).WithContext(ctx).Create(t).Error
}

func (r *userTagRepo) GetUserTag(ctx context.Context, tx *gorm.DB, id int64) (*model.UserTag, error) {
	var t model.UserTag
	err := conn(r.db, tx).WithContext(ctx).First(&t, id).Error
	return &t, err
}

func (r *userTagRepo) UpdateUserTag(ctx context.Context, tx *gorm.DB, t *model.UserTag) error {
	return conn(r.db, tx).WithContext(ctx).Save(t).Error
}

func (r *userTagRepo) FindUserTagByPin(ctx context.Context, tx *gorm.DB, rootNodeID int64, pin string) (*model.UserTag, error) {
	var t model.UserTag
	err := conn(r.db, tx).WithContext(ctx).
		Where("pin = ? AND node_id "+subtreeNodes, pin, rootNodeID, rootNodeID).
		First(&t).Error
	return &t, err
}

func (r *userTagRepo) FindUserTagByUID(ctx context.Context, tx *gorm.DB, rootNodeID int64, uid int64) (*model.UserTag, error) {
	var t model.UserTag
	err := conn(r.db, tx).WithContext(ctx).
		Where("uid = ? AND node_id "+subtreeNodes, uid, rootNodeID, rootNodeID).
		First(&t).Error
	return &t, err
}

func (r *userTagRepo) ListUserTags(ctx context.Context, tx *gorm.DB, rootNodeID int64) ([]model.UserTag, error) {
	var tags []model.UserTag
	err := conn(r.db, tx).WithContext(ctx).
		Where("node_id "+subtreeNodes, rootNodeID, rootNodeID).
		Order("id ASC").Find(&tags).Error
	return tags, err
}

func (r *userTagRepo) CreateUserTagSecret(ctx context.Context, tx *gorm.DB, s *model.UserTagSecret) error {
	return conn(r.db, tx).WithContext(ctx).Create(s).Error
}

func (r *userTagRepo) ListUserTagSecrets(ctx context.Context, tx *gorm.DB, rootNodeID int64) ([]model.UserTagSecret, error) {
	var secrets []model.UserTagSecret
	err := conn(r.db, tx).WithContext(ctx).
		Where("node_id "+subtreeNodes, rootNodeID, rootNodeID).
		Order("id ASC").Find(&secrets).Error
	return secrets, err
}
