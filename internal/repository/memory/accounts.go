package memory

import (
	"context"

	"github.com/stustapay/stustapay-sub000/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func (d *DB) CreateAccount(_ context.Context, _ *gorm.DB, a *model.Account) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if a.UserTagID != nil {
		for _, other := range d.accounts {
			if other.UserTagID != nil && *other.UserTagID == *a.UserTagID {
				return uniqueViolation("account_user_tag_id_key")
			}
		}
	}
	a.ID = d.nextID()
	d.accounts[a.ID] = *a
	return nil
}

func (d *DB) GetAccount(_ context.Context, _ *gorm.DB, id int64) (*model.Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.accounts[id]
	if !ok {
		return nil, errNotFound
	}
	return &a, nil
}

func (d *DB) LockAccounts(_ context.Context, _ *gorm.DB, ids []int64) ([]model.Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedValues(d.accounts, func(a model.Account) bool { return containsID(ids, a.ID) },
		func(a, b model.Account) bool { return a.ID < b.ID }), nil
}

func (d *DB) FindSystemAccount(_ context.Context, _ *gorm.DB, nodeID int64, t model.AccountType) (*model.Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, a := range d.accounts {
		if a.NodeID == nodeID && a.Type == t {
			return &a, nil
		}
	}
	return nil, errNotFound
}

func (d *DB) FindAccountByUserTag(_ context.Context, _ *gorm.DB, tagID int64) (*model.Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, a := range d.accounts {
		if a.UserTagID != nil && *a.UserTagID == tagID {
			return &a, nil
		}
	}
	return nil, errNotFound
}

func (d *DB) SetAccountUserTag(_ context.Context, _ *gorm.DB, accountID int64, tagID *int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.accounts[accountID]
	if !ok {
		return errNotFound
	}
	if tagID != nil {
		for _, other := range d.accounts {
			if other.ID != accountID && other.UserTagID != nil && *other.UserTagID == *tagID {
				return uniqueViolation("account_user_tag_id_key")
			}
		}
	}
	a.UserTagID = tagID
	d.accounts[accountID] = a
	return nil
}

func (d *DB) ListAccounts(_ context.Context, _ *gorm.DB, nodeID int64, types []model.AccountType) ([]model.Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	keep := func(a model.Account) bool {
		if a.NodeID != nodeID {
			return false
		}
		if len(types) == 0 {
			return true
		}
		for _, t := range types {
			if a.Type == t {
				return true
			}
		}
		return false
	}
	return sortedValues(d.accounts, keep, func(a, b model.Account) bool { return a.ID < b.ID }), nil
}

func (d *DB) InsertTransaction(_ context.Context, _ *gorm.DB, t *model.Transaction) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t.ID = d.nextID()
	d.transactions = append(d.transactions, *t)
	return nil
}

func (d *DB) ApplyDelta(_ context.Context, _ *gorm.DB, accountID int64, amount decimal.Decimal, vouchers int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.accounts[accountID]
	if !ok {
		return errNotFound
	}
	a.Balance = a.Balance.Add(amount)
	a.VoucherAmount += vouchers
	d.accounts[accountID] = a
	return nil
}

func (d *DB) ListTransactionsByOrder(_ context.Context, _ *gorm.DB, orderID int64) ([]model.Transaction, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []model.Transaction
	for _, t := range d.transactions {
		if t.OrderID != nil && *t.OrderID == orderID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (d *DB) ListTransactionsByAccount(_ context.Context, _ *gorm.DB, accountID int64) ([]model.Transaction, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []model.Transaction
	for _, t := range d.transactions {
		if t.SourceAccountID == accountID || t.TargetAccountID == accountID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (d *DB) GetCustomerInfo(_ context.Context, _ *gorm.DB, accountID int64) (*model.CustomerInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ci, ok := d.customerInfos[accountID]
	if !ok {
		return nil, errNotFound
	}
	return &ci, nil
}

func (d *DB) SaveCustomerInfo(_ context.Context, _ *gorm.DB, ci *model.CustomerInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.customerInfos[ci.CustomerAccountID] = *ci
	return nil
}

// Transactions returns a copy of all booked transactions.
func (d *DB) Transactions() []model.Transaction {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.Transaction(nil), d.transactions...)
}
