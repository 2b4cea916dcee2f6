package repository

import (
	"context"

	"github.com/stustapay/stustapay-sub000/internal/model"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

type TreeRepository interface {
	// CreateNode inserts n below its parent and fills Path and ParentIDs.
	CreateNode(ctx context.Context, tx *gorm.DB, n *model.Node) error
	GetNode(ctx context.Context, tx *gorm.DB, id int64) (*model.Node, error)
	UpdateNode(ctx context.Context, tx *gorm.DB, n *model.Node) error
	// ListNodes returns the given nodes ordered by id.
	ListNodes(ctx context.Context, tx *gorm.DB, ids []int64) ([]model.Node, error)
	// ListSubtree returns root and all descendants ordered by path.
	ListSubtree(ctx context.Context, tx *gorm.DB, rootID int64) ([]model.Node, error)
	ListEventNodes(ctx context.Context, tx *gorm.DB) ([]model.Node, error)

	CreateEvent(ctx context.Context, tx *gorm.DB, e *model.Event) error
	GetEvent(ctx context.Context, tx *gorm.DB, id int64) (*model.Event, error)
	UpdateEvent(ctx context.Context, tx *gorm.DB, e *model.Event) error
}

type treeRepo struct{ db *gorm.DB }

func (r *treeRepo) CreateNode(ctx context.Context, tx *gorm.DB, n *model.Node) error {
	q := conn(r.db, tx).WithContext(ctx)
	n.ParentIDs = pq.Int64Array{}
	n.Path = ""
	var parent *model.Node
	if n.ParentID != nil {
		var p model.Node
		if err := q.First(&p, *n.ParentID).Error; err != nil {
			return err
		}
		parent = &p
		n.ParentIDs = append(append(pq.Int64Array{}, p.ParentIDs...), p.ID)
	}
	if err := q.Create(n).Error; err != nil {
		return err
	}
	if parent != nil {
		n.Path = parent.ChildPath(n.ID)
	} else {
		n.Path = model.RootPath(n.ID)
	}
	return q.Model(n).Update("path", n.Path).Error
}

func (r *treeRepo) GetNode(ctx context.Context, tx *gorm.DB, id int64) (*model.Node, error) {
	var n model.Node
	err := conn(r.db, tx).WithContext(ctx).First(&n, id).Error
	return &n, err
}

func (r *treeRepo) UpdateNode(ctx context.Context, tx *gorm.DB, n *model.Node) error {
	return conn(r.db, tx).WithContext(ctx).Save(n).Error
}

func (r *treeRepo) ListNodes(ctx context.Context, tx *gorm.DB, ids []int64) ([]model.Node, error) {
	var nodes []model.Node
	if len(ids) == 0 {
		return nodes, nil
	}
	err := conn(r.db, tx).WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&nodes).Error
	return nodes, err
}

func (r *treeRepo) ListSubtree(ctx context.Context, tx *gorm.DB, rootID int64) ([]model.Node, error) {
	var nodes []model.Node
	err := conn(r.db, tx).WithContext(ctx).
		Where("id "+subtreeNodes, rootID, rootID).
		Order("path ASC").Find(&nodes).Error
	return nodes, err
}

func (r *treeRepo) ListEventNodes(ctx context.Context, tx *gorm.DB) ([]model.Node, error) {
	var nodes []model.Node
	err := conn(r.db, tx).WithContext(ctx).Where("event_id IS NOT NULL").Order("id ASC").Find(&nodes).Error
	return nodes, err
}

func (r *treeRepo) CreateEvent(ctx context.Context, tx *gorm.DB, e *model.Event) error {
	return conn(r.db, tx).WithContext(ctx).Create(e).Error
}

func (r *treeRepo) GetEvent(ctx context.Context, tx *gorm.DB, id int64) (*model.Event, error) {
	var e model.Event
	err := conn(r.db, tx).WithContext(ctx).First(&e, id).Error
	return &e, err
}

func (r *treeRepo) UpdateEvent(ctx context.Context, tx *gorm.DB, e *model.Event) error {
	return conn(r.db, tx).WithContext(ctx).Save(e).Error
}
