package repository

import (
	"context"

	"github.com/stustapay/stustapay-sub000/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PayoutCandidate is a private account with complete bank data that is not
// yet part of a payout run.
type PayoutCandidate struct {
	CustomerAccountID int64
	Balance           decimal.Decimal
	IBAN              string
	AccountName       string
	Email             string
	Donation          decimal.Decimal
	DonateAll         bool
	UserTagUID        *int64
}

type PayoutRepository interface {
	CreatePayoutRun(ctx context.Context, tx *gorm.DB, r *model.PayoutRun) error
	GetPayoutRun(ctx context.Context, tx *gorm.DB, id int64) (*model.PayoutRun, error)
	LockPayoutRun(ctx context.Context, tx *gorm.DB, id int64) (*model.PayoutRun, error)
	UpdatePayoutRun(ctx context.Context, tx *gorm.DB, r *model.PayoutRun) error
	ListPayoutRuns(ctx context.Context, tx *gorm.DB, nodeID int64) ([]model.PayoutRun, error)

	CreatePayout(ctx context.Context, tx *gorm.DB, p *model.Payout) error
	ListPayouts(ctx context.Context, tx *gorm.DB, runID int64) ([]model.Payout, error)
	DeletePayouts(ctx context.Context, tx *gorm.DB, runID int64) error
	// ListPayoutCandidates returns eligible customers of the event node ordered by account id.
	ListPayoutCandidates(ctx context.Context, tx *gorm.DB, nodeID int64) ([]PayoutCandidate, error)
	SetPayoutRunOfCustomers(ctx context.Context, tx *gorm.DB, accountIDs []int64, runID *int64) error
	ClearPayoutRun(ctx context.Context, tx *gorm.DB, runID int64) error
}

type payoutRepo struct{ db *gorm.DB }

func (r *payoutRepo) CreatePayoutRun(ctx context.Context, tx *gorm.DB, run *model.PayoutRun) error {
	return conn(r.db, tx).WithContext(ctx).Create(run).Error
}

func (r *payoutRepo) GetPayoutRun(ctx context.Context, tx *gorm.DB, id int64) (*model.PayoutRun, error) {
	var run model.PayoutRun
	err := conn(r.db, tx).WithContext(ctx).First(&run, id).Error
	return &run, err
}

func (r *payoutRepo) LockPayoutRun(ctx context.Context, tx *gorm.DB, id int64) (*model.PayoutRun, error) {
	var run model.PayoutRun
	err := forUpdate(conn(r.db, tx).WithContext(ctx)).First(&run, id).Error
	return &run, err
}

func (r *payoutRepo) UpdatePayoutRun(ctx context.Context, tx *gorm.DB, run *model.PayoutRun) error {
	return conn(r.db, tx).WithContext(ctx).Save(run).Error
}

func (r *payoutRepo) ListPayoutRuns(ctx context.Context, tx *gorm.DB, nodeID int64) ([]model.PayoutRun, error) {
	var runs []model.PayoutRun
	err := conn(r.db, tx).WithContext(ctx).Where("node_id = ?", nodeID).Order("id ASC").Find(&runs).Error
	return runs, err
}

func (r *payoutRepo) CreatePayout(ctx context.Context, tx *gorm.DB, p *model.Payout) error {
	return conn(r.db, tx).WithContext(ctx).Create(p).Error
}

func (r *payoutRepo) ListPayouts(ctx context.Context, tx *gorm.DB, runID int64) ([]model.Payout, error) {
	var payouts []model.Payout
	err := conn(r.db, tx).WithContext(ctx).Where("payout_run_id = ?", runID).
		Order("customer_account_id ASC").Find(&payouts).Error
	return payouts, err
}

func (r *payoutRepo) DeletePayouts(ctx context.Context, tx *gorm.DB, runID int64) error {
	return conn(r.db, tx).WithContext(ctx).Where("payout_run_id = ?", runID).Delete(&model.Payout{}).Error
}

func (r *payoutRepo) ListPayoutCandidates(ctx context.Context, tx *gorm.DB, nodeID int64) ([]PayoutCandidate, error) {
	var rows []PayoutCandidate
	err := conn(r.db, tx).WithContext(ctx).
		Table("account a").
		Select(`a.id AS customer_account_id, a.balance, ci.iban, ci.account_name,
			COALESCE(ci.email, '') AS email, ci.donation, ci.donate_all, ut.uid AS user_tag_uid`).
		Joins("JOIN customer_info ci ON ci.customer_account_id = a.id").
		Joins("LEFT JOIN user_tag ut ON ut.id = a.user_tag_id").
		Where("a.node_id = ? AND a.type = ?", nodeID, model.AccountPrivate).
		Where("ci.payout_export AND ci.payout_error IS NULL AND ci.payout_run_id IS NULL").
		Where("ci.iban IS NOT NULL AND ci.account_name IS NOT NULL").
		Order("a.id ASC").
		Scan(&rows).Error
	return rows, err
}

func (r *payoutRepo) SetPayoutRunOfCustomers(ctx context.Context, tx *gorm.DB, accountIDs []int64, runID *int64) error {
	if len(accountIDs) == 0 {
		return nil
	}
	return conn(r.db, tx).WithContext(ctx).Model(&model.CustomerInfo{}).
		Where("customer_account_id IN ?", accountIDs).Update("payout_run_id", runID).Error
}

func (r *payoutRepo) ClearPayoutRun(ctx context.Context, tx *gorm.DB, runID int64) error {
	return conn(r.db, tx).WithContext(ctx).Model(&model.CustomerInfo{}).
		Where("payout_run_id = ?", runID).Update("payout_run_id", nil).Error
}
