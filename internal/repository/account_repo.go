package repository

import (
	"context"

	"github.com/stustapay/stustapay-sub000/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type AccountRepository interface {
	CreateAccount(ctx context.Context, tx *gorm.DB, a *model.Account) error
	GetAccount(ctx context.Context, tx *gorm.DB, id int64) (*model.Account, error)
	// LockAccounts loads the accounts FOR UPDATE, ordered by id.
	LockAccounts(ctx context.Context, tx *gorm.DB, ids []int64) ([]model.Account, error)
	FindSystemAccount(ctx context.Context, tx *gorm.DB, nodeID int64, t model.AccountType) (*model.Account, error)
	FindAccountByUserTag(ctx context.Context, tx *gorm.DB, tagID int64) (*model.Account, error)
	SetAccountUserTag(ctx context.Context, tx *gorm.DB, accountID int64, tagID *int64) error
	ListAccounts(ctx context.Context, tx *gorm.DB, nodeID int64, types []model.AccountType) ([]model.Account, error)

	InsertTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error
	// ApplyDelta adds amount and vouchers to the account balance.
	ApplyDelta(ctx context.Context, tx *gorm.DB, accountID int64, amount decimal.Decimal, vouchers int64) error
	ListTransactionsByOrder(ctx context.Context, tx *gorm.DB, orderID int64) ([]model.Transaction, error)
	ListTransactionsByAccount(ctx context.Context, tx *gorm.DB, accountID int64) ([]model.Transaction, error)

	GetCustomerInfo(ctx context.Context, tx *gorm.DB, accountID int64) (*model.CustomerInfo, error)
	SaveCustomerInfo(ctx context.Context, tx *gorm.DB, ci *model.CustomerInfo) error
}

type accountRepo struct{ db *gorm.DB }

func (r *accountRepo) CreateAccount(ctx context.Context, tx *gorm.DB, a *model.Account) error {
	return conn(r.db, tx).WithContext(ctx).Create(a).Error
}

func (r *accountRepo) GetAccount(ctx context.Context, tx *gorm.DB, id int64) (*model.Account, error) {
	var a model.Account
	err := conn(r.db, tx).WithContext(ctx).First(&a, id).Error
	return &a, err
}

func (r *accountRepo) LockAccounts(ctx context.Context, tx *gorm.DB, ids []int64) ([]model.Account, error) {
	var accs []model.Account
	err := forUpdate(conn(r.db, tx).WithContext(ctx)).Where("id IN ?", ids).Order("id ASC").Find(&accs).Error
	return accs, err
}

func (r *accountRepo) FindSystemAccount(ctx context.Context, tx *gorm.DB, nodeID int64, t model.AccountType) (*model.Account, error) {
	var a model.Account
	err := conn(r.db, tx).WithContext(ctx).Where("node_id = ? AND type = ?", nodeID, t).First(&a).Error
	return &a, err
}

func (r *accountRepo) FindAccountByUserTag(ctx context.Context, tx *gorm.DB, tagID int64) (*model.Account, error) {
	var a model.Account
	err := conn(r.db, tx).WithContext(ctx).Where("user_tag_id = ?", tagID).First(&a).Error
	return &a, err
}

func (r *accountRepo) SetAccountUserTag(ctx context.Context, tx *gorm.DB, accountID int64, tagID *int64) error {
	return conn(r.db, tx).WithContext(ctx).Model(&model.Account{}).
		Where("id = ?", accountID).Update("user_tag_id", tagID).Error
}

func (r *accountRepo) ListAccounts(ctx context.Context, tx *gorm.DB, nodeID int64, types []model.AccountType) ([]model.Account, error) {
	var accs []model.Account
	q := conn(r.db, tx).WithContext(ctx).Where("node_id = ?", nodeID)
	if len(types) > 0 {
		q = q.Where("type IN ?", types)
	}
	err := q.Order("id ASC").Find(&accs).Error
	return accs, err
}

func (r *accountRepo) InsertTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error {
	return conn(r.db, tx).WithContext(ctx).Create(t).Error
}

func (r *accountRepo) ApplyDelta(ctx context.Context, tx *gorm.DB, accountID int64, amount decimal.Decimal, vouchers int64) error {
	res := conn(r.db, tx).WithContext(ctx).Model(&model.Account{}).Where("id = ?", accountID).
		Updates(map[string]any{
			"balance":        gorm.Expr("balance + ?", amount),
			"voucher_amount": gorm.Expr("voucher_amount + ?", vouchers),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *accountRepo) ListTransactionsByOrder(ctx context.Context, tx *gorm.DB, orderID int64) ([]model.Transaction, error) {
	var txs []model.Transaction
	err := conn(r.db, tx).WithContext(ctx).Where("order_id = ?", orderID).Order("id ASC").Find(&txs).Error
	return txs, err
}

func (r *accountRepo) ListTransactionsByAccount(ctx context.Context, tx *gorm.DB, accountID int64) ([]model.Transaction, error) {
	var txs []model.Transaction
	err := conn(r.db, tx).WithContext(ctx).
		Where("source_account_id = ? OR target_account_id = ?", accountID, accountID).
		Order("id ASC").Find(&txs).Error
	return txs, err
}

func (r *accountRepo) GetCustomerInfo(ctx context.Context, tx *gorm.DB, accountID int64) (*model.CustomerInfo, error) {
	var ci model.CustomerInfo
	err := conn(r.db, tx).WithContext(ctx).First(&ci, "customer_account_id = ?", accountID).Error
	return &ci, err
}

func (r *accountRepo) SaveCustomerInfo(ctx context.Context, tx *gorm.DB, ci *model.CustomerInfo) error {
	return conn(r.db, tx).WithContext(ctx).Save(ci).Error
}
