package repository

import (
	"context"

	"github.com/stustapay/stustapay-sub000/internal/model"

	"gorm.io/gorm"
)

type CatalogRepository interface {
	CreateTaxRate(ctx context.Context, tx *gorm.DB, t *model.TaxRate) error
	GetTaxRate(ctx context.Context, tx *gorm.DB, id int64) (*model.TaxRate, error)
	FindTaxRateByName(ctx context.Context, tx *gorm.DB, nodeIDs []int64, name string) (*model.TaxRate, error)
	UpdateTaxRate(ctx context.Context, tx *gorm.DB, t *model.TaxRate) error
	DeleteTaxRate(ctx context.Context, tx *gorm.DB, id int64) error
	ListTaxRates(ctx context.Context, tx *gorm.DB, nodeIDs []int64) ([]model.TaxRate, error)
	// TaxRateInUse reports whether products or booked line items reference the rate.
	TaxRateInUse(ctx context.Context, tx *gorm.DB, id int64) (bool, error)

	CreateProduct(ctx context.Context, tx *gorm.DB, p *model.Product) error
	GetProduct(ctx context.Context, tx *gorm.DB, id int64) (*model.Product, error)
	GetProducts(ctx context.Context, tx *gorm.DB, ids []int64) ([]model.Product, error)
	UpdateProduct(ctx context.Context, tx *gorm.DB, p *model.Product) error
	DeleteProduct(ctx context.Context, tx *gorm.DB, id int64) error
	ListProducts(ctx context.Context, tx *gorm.DB, nodeIDs []int64, types []model.ProductType) ([]model.Product, error)
	FindSystemProduct(ctx context.Context, tx *gorm.DB, nodeID int64, t model.ProductType) (*model.Product, error)
	// ProductNameTaken checks the ancestor chain and the subtree of nodeID.
	ProductNameTaken(ctx context.Context, tx *gorm.DB, nodeID int64, name string, excludeID int64) (bool, error)
	ProductInUse(ctx context.Context, tx *gorm.DB, id int64) (bool, error)

	CreateButton(ctx context.Context, tx *gorm.DB, b *model.TillButton) error
	GetButton(ctx context.Context, tx *gorm.DB, id int64) (*model.TillButton, error)
	GetButtons(ctx context.Context, tx *gorm.DB, ids []int64) ([]model.TillButton, error)
	UpdateButton(ctx context.Context, tx *gorm.DB, b *model.TillButton) error
	DeleteButton(ctx context.Context, tx *gorm.DB, id int64) error
	ListButtons(ctx context.Context, tx *gorm.DB, nodeIDs []int64) ([]model.TillButton, error)
	RemoveProductFromButtons(ctx context.Context, tx *gorm.DB, productID int64) error

	CreateLayout(ctx context.Context, tx *gorm.DB, l *model.TillLayout) error
	GetLayout(ctx context.Context, tx *gorm.DB, id int64) (*model.TillLayout, error)
	UpdateLayout(ctx context.Context, tx *gorm.DB, l *model.TillLayout) error
	DeleteLayout(ctx context.Context, tx *gorm.DB, id int64) error
	ListLayouts(ctx context.Context, tx *gorm.DB, nodeIDs []int64) ([]model.TillLayout, error)
	RemoveButtonFromLayouts(ctx context.Context, tx *gorm.DB, buttonID int64) error
	RemoveTicketFromLayouts(ctx context.Context, tx *gorm.DB, ticketID int64) error

	CreateProfile(ctx context.Context, tx *gorm.DB, p *model.TillProfile) error
	GetProfile(ctx context.Context, tx *gorm.DB, id int64) (*model.TillProfile, error)
	UpdateProfile(ctx context.Context, tx *gorm.DB, p *model.TillProfile) error
	DeleteProfile(ctx context.Context, tx *gorm.DB, id int64) error
	ListProfiles(ctx context.Context, tx *gorm.DB, nodeIDs []int64) ([]model.TillProfile, error)
}

type catalogRepo struct{ db *gorm.DB }

func (r *catalogRepo) CreateTaxRate(ctx context.Context, tx *gorm.DB, t *model.TaxRate) error {
	return conn(r.db, tx).WithContext(ctx).Create(t).Error
}

func (r *catalogRepo) GetTaxRate(ctx context.Context, tx *gorm.DB, id int64) (*model.TaxRate, error) {
	var t model.TaxRate
	err := conn(r.db, tx).WithContext(ctx).First(&t, id).Error
	return &t, err
}

func (r *catalogRepo) FindTaxRateByName(ctx context.Context, tx *gorm.DB, nodeIDs []int64, name string) (*model.TaxRate, error) {
	var t model.TaxRate
	err := conn(r.db, tx).WithContext(ctx).Where("node_id IN ? AND name = ?", nodeIDs, name).First(&t).Error
	return &t, err
}

func (r *catalogRepo) UpdateTaxRate(ctx context.Context, tx *gorm.DB, t *model.TaxRate) error {
	return conn(r.db, tx).WithContext(ctx).Save(t).Error
}

func (r *catalogRepo) DeleteTaxRate(ctx context.Context, tx *gorm.DB, id int64) error {
	return conn(r.db, tx).WithContext(ctx).Delete(&model.TaxRate{}, id).Error
}

func (r *catalogRepo) ListTaxRates(ctx context.Context, tx *gorm.DB, nodeIDs []int64) ([]model.TaxRate, error) {
	var rates []model.TaxRate
	err := conn(r.db, tx).WithContext(ctx).Where("node_id IN ?", nodeIDs).Order("id ASC").Find(&rates).Error
	return rates, err
}

func (r *catalogRepo) TaxRateInUse(ctx context.Context, tx *gorm.DB, id int64) (bool, error) {
	var n int64
	q := conn(r.db, tx).WithContext(ctx)
	if err := q.Model(&model.Product{}).Where("tax_rate_id = ?", id).Count(&n).Error; err != nil || n > 0 {
		return n > 0, err
	}
	err := q.Model(&model.LineItem{}).Where("tax_rate_id = ?", id).Count(&n).Error
	return n > 0, err
}

func (r *catalogRepo) CreateProduct(ctx context.Context, tx *gorm.DB, p *model.Product) error {
	return conn(r.db, tx).WithContext(ctx).Create(p).Error
}

func (r *catalogRepo) GetProduct(ctx context.Context, tx *gorm.DB, id int64) (*model.Product, error) {
	var p model.Product
	err := conn(r.db, tx).WithContext(ctx).First(&p, id).Error
	return &p, err
}

func (r *catalogRepo) GetProducts(ctx context.Context, tx *gorm.DB, ids []int64) ([]model.Product, error) {
	var products []model.Product
	if len(ids) == 0 {
		return products, nil
	}
	err := conn(r.db, tx).WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&products).Error
	return products, err
}

func (r *catalogRepo) UpdateProduct(ctx context.Context, tx *gorm.DB, p *model.Product) error {
	return conn(r.db, tx).WithContext(ctx).Save(p).Error
}

func (r *catalogRepo) DeleteProduct(ctx context.Context, tx *gorm.DB, id int64) error {
	return conn(r.db, tx).WithContext(ctx).Delete(&model.Product{}, id).Error
}

func (r *catalogRepo) ListProducts(ctx context.Context, tx *gorm.DB, nodeIDs []int64, types []model.ProductType) ([]model.Product, error) {
	var products []model.Product
	q := conn(r.db, tx).WithContext(ctx).Where("node_id IN ?", nodeIDs)
	if len(types) > 0 {
		q = q.Where("type IN ?", types)
	}
	err := q.Order("id ASC").Find(&products).Error
	return products, err
}

func (r *catalogRepo) FindSystemProduct(ctx context.Context, tx *gorm.DB, nodeID int64, t model.ProductType) (*model.Product, error) {
	var p model.Product
	err := conn(r.db, tx).WithContext(ctx).Where("node_id = ? AND type = ?", nodeID, t).First(&p).Error
	return &p, err
}

func (r *catalogRepo) ProductNameTaken(ctx context.Context, tx *gorm.DB, nodeID int64, name string, excludeID int64) (bool, error) {
	var n int64
	err := conn(r.db, tx).WithContext(ctx).Model(&model.Product{}).
		Where("name = ? AND id <> ?", name, excludeID).
		Where("node_id "+ancestorNodes+" OR node_id "+subtreeNodes, nodeID, nodeID, nodeID).
		Count(&n).Error
	return n > 0, err
}

func (r *catalogRepo) ProductInUse(ctx context.Context, tx *gorm.DB, id int64) (bool, error) {
	var n int64
	err := conn(r.db, tx).WithContext(ctx).Model(&model.LineItem{}).Where("product_id = ?", id).Count(&n).Error
	return n > 0, err
}

func (r *catalogRepo) CreateButton(ctx context.Context, tx *gorm.DB, b *model.TillButton) error {
	return conn(r.db, tx).WithContext(ctx).Create(b).Error
}

func (r *catalogRepo) GetButton(ctx context.Context, tx *gorm.DB, id int64) (*model.TillButton, error) {
	var b model.TillButton
	err := conn(r.db, tx).WithContext(ctx).First(&b, id).Error
	return &b, err
}

func (r *catalogRepo) GetButtons(ctx context.Context, tx *gorm.DB, ids []int64) ([]model.TillButton, error) {
	var buttons []model.TillButton
	if len(ids) == 0 {
		return buttons, nil
	}
	err := conn(r.db, tx).WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&buttons).Error
	return buttons, err
}

func (r *catalogRepo) UpdateButton(ctx context.Context, tx *gorm.DB, b *model.TillButton) error {
	return conn(r.db, tx).WithContext(ctx).Save(b).Error
}

func (r *catalogRepo) DeleteButton(ctx context.Context, tx *gorm.DB, id int64) error {
	return conn(r.db, tx).WithContext(ctx).Delete(&model.TillButton{}, id).Error
}

func (r *catalogRepo) ListButtons(ctx context.Context, tx *gorm.DB, nodeIDs []int64) ([]model.TillButton, error) {
	var buttons []model.TillButton
	err := conn(r.db, tx).WithContext(ctx).Where("node_id IN ?", nodeIDs).Order("id ASC").Find(&buttons).Error
	return buttons, err
}

func (r *catalogRepo) RemoveProductFromButtons(ctx context.Context, tx *gorm.DB, productID int64) error {
	return conn(r.db, tx).WithContext(ctx).Model(&model.TillButton{}).
		Where("? = ANY(product_ids)", productID).
		Update("product_ids", gorm.Expr("array_remove(product_ids, ?::bigint)", productID)).Error
}

func (r *catalogRepo) CreateLayout(ctx context.Context, tx *gorm.DB, l *model.TillLayout) error {
	return conn(r.db, tx).WithContext(ctx).Create(l).Error
}

func (r *catalogRepo) GetLayout(ctx context.Context, tx *gorm.DB, id int64) (*model.TillLayout, error) {
	var l model.TillLayout
	err := conn(r.db, tx).WithContext(ctx).First(&l, id).Error
	return &l, err
}

func (r *catalogRepo) UpdateLayout(ctx context.Context, tx *gorm.DB, l *model.TillLayout) error {
	return conn(r.db, tx).WithContext(ctx).Save(l).Error
}

func (r *catalogRepo) DeleteLayout(ctx context.Context, tx *gorm.DB, id int64) error {
	return conn(r.db, tx).WithContext(ctx).Delete(&model.TillLayout{}, id).Error
}

func (r *catalogRepo) ListLayouts(ctx context.Context, tx *gorm.DB, nodeIDs []int64) ([]model.TillLayout, error) {
	var layouts []model.TillLayout
	err := conn(r.db, tx).WithContext(ctx).Where("node_id IN ?", nodeIDs).Order("id ASC").Find(&layouts).Error
	return layouts, err
}

func (r *catalogRepo) RemoveButtonFromLayouts(ctx context.Context, tx *gorm.DB, buttonID int64) error {
	return conn(r.db, tx).WithContext(ctx).Model(&model.TillLayout{}).
		Where("? = ANY(button_ids)", buttonID).
		Update("button_ids", gorm.Expr("array_remove(button_ids, ?::bigint)", buttonID)).Error
}

func (r *catalogRepo) RemoveTicketFromLayouts(ctx context.Context, tx *gorm.DB, ticketID int64) error {
	return conn(r.db, tx).WithContext(ctx).Model(&model.TillLayout{}).
		Where("? = ANY(ticket_ids)", ticketID).
		Update("ticket_ids", gorm.Expr("array_remove(ticket_ids, ?::bigint)", ticketID)).Error
}

func (r *catalogRepo) CreateProfile(ctx context.Context, tx *gorm.DB, p *model.TillProfile) error {
	return conn(r.db, tx).WithContext(ctx).Create(p).Error
}

func (r *catalogRepo) GetProfile(ctx context.Context, tx *gorm.DB, id int64) (*model.TillProfile, error) {
	var p model.TillProfile
	err := conn(r.db, tx).WithContext(ctx).First(&p, id).Error
	return &p, err
}

func (r *catalogRepo) UpdateProfile(ctx context.Context, tx *gorm.DB, p *model.TillProfile) error {
	return conn(r.db, tx).WithContext(ctx).Save(p).Error
}

func (r *catalogRepo) DeleteProfile(ctx context.Context, tx *gorm.DB, id int64) error {
	return conn(r.db, tx).WithContext(ctx).Delete(&model.TillProfile{}, id).Error
}

func (r *catalogRepo) ListProfiles(ctx context.Context, tx *gorm.DB, nodeIDs []int64) ([]model.TillProfile, error) {
	var profiles []model.TillProfile
	err := conn(r.db, tx).WithContext(ctx).Where("node_id IN ?", nodeIDs).Order("id ASC").Find(&profiles).Error
	return profiles, err
}
