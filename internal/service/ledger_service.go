package service

import (
	"context"
	"sort"
	"time"

	"github.com/stustapay/stustapay-sub000/internal/apierror"
	"github.com/stustapay/stustapay-sub000/internal/model"
	"github.com/stustapay/stustapay-sub000/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Posting is one money (and/or voucher) movement of a booking.
type Posting struct {
	Source      int64
	Target      int64
	Amount      decimal.Decimal
	Vouchers    int64
	Description string
}

// Booking is a balanced set of postings applied atomically.
type Booking struct {
	OrderID          *int64
	BookedAt         time.Time
	ConductingUserID *int64
	Postings         []Posting
	// MaxBalance bounds private accounts receiving money. Nil skips the check.
	MaxBalance *decimal.Decimal
}

type LedgerService interface {
	BookTransaction(ctx context.Context, tx *gorm.DB, orderID *int64, p Posting, conductingUserID *int64) (*model.Transaction, error)
	Book(ctx context.Context, tx *gorm.DB, b Booking) ([]model.Transaction, error)
	SystemAccount(ctx context.Context, tx *gorm.DB, eventNodeID int64, t model.AccountType) (*model.Account, error)
	CreateSystemAccounts(ctx context.Context, tx *gorm.DB, nodeID int64) error
	GetAccount(ctx context.Context, tx *gorm.DB, id int64) (*model.Account, error)
	ListTransactions(ctx context.Context, tx *gorm.DB, orderID int64) ([]model.Transaction, error)
}

type ledgerService struct {
	repo repository.AccountRepository
	now  Clock
}

func NewLedgerService(repo repository.AccountRepository) LedgerService {
	return &ledgerService{repo: repo, now: time.Now}
}

func (s *ledgerService) BookTransaction(ctx context.Context, tx *gorm.DB, orderID *int64, p Posting, conductingUserID *int64) (*model.Transaction, error) {
	txs, err := s.Book(ctx, tx, Booking{OrderID: orderID, ConductingUserID: conductingUserID, Postings: []Posting{p}})
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, apierror.InvalidArgument("transaction moves neither money nor vouchers")
	}
	return &txs[0], nil
}

func (s *ledgerService) Book(ctx context.Context, tx *gorm.DB, b Booking) ([]model.Transaction, error) {
	postings := aggregatePostings(b.Postings)
	if len(postings) == 0 {
		return nil, nil
	}
	if b.BookedAt.IsZero() {
		b.BookedAt = s.now()
	}

	type delta struct {
		amount   decimal.Decimal
		vouchers int64
	}
	deltas := map[int64]*delta{}
	touch := func(id int64) *delta {
		d, ok := deltas[id]
		if !ok {
			d = &delta{}
			deltas[id] = d
		}
		return d
	}
	for _, p := range postings {
		if p.Source == p.Target {
			return nil, apierror.InvalidArgument("source and target account of a transaction must differ")
		}
		src, dst := touch(p.Source), touch(p.Target)
		src.amount = src.amount.Sub(p.Amount)
		dst.amount = dst.amount.Add(p.Amount)
		src.vouchers -= p.Vouchers
		dst.vouchers += p.Vouchers
	}

	ids := make([]int64, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	// Row locks in id order so concurrent bookings cannot deadlock.
	accounts, err := s.repo.LockAccounts(ctx, tx, ids)
	if err != nil {
		return nil, apierror.FromDB(err)
	}
	byID := make(map[int64]*model.Account, len(accounts))
	for i := range accounts {
		byID[accounts[i].ID] = &accounts[i]
	}

	for _, id := range ids {
		acc, ok := byID[id]
		if !ok {
			return nil, apierror.NotFound("account %d not found", id)
		}
		if !acc.IsCustomer() {
			continue
		}
		d := deltas[id]
		newBalance := acc.Balance.Add(d.amount)
		if d.amount.IsNegative() && newBalance.IsNegative() {
			return nil, apierror.NotEnoughFunds(d.amount.Neg(), acc.Balance)
		}
		if b.MaxBalance != nil && d.amount.IsPositive() && newBalance.GreaterThan(*b.MaxBalance) {
			return nil, apierror.InvalidArgument("balance of account %d would exceed the maximum of %s", id, b.MaxBalance.StringFixed(2))
		}
		if acc.VoucherAmount+d.vouchers < 0 {
			return nil, apierror.NotEnoughVouchers(-d.vouchers, acc.VoucherAmount)
		}
	}

	out := make([]model.Transaction, 0, len(postings))
	for _, p := range postings {
		t := model.Transaction{
			OrderID:          b.OrderID,
			SourceAccountID:  p.Source,
			TargetAccountID:  p.Target,
			Amount:           p.Amount,
			VoucherAmount:    p.Vouchers,
			BookedAt:         b.BookedAt,
			Description:      p.Description,
			ConductingUserID: b.ConductingUserID,
		}
		if err := s.repo.InsertTransaction(ctx, tx, &t); err != nil {
			return nil, apierror.FromDB(err)
		}
		out = append(out, t)
	}
	for _, id := range ids {
		d := deltas[id]
		if d.amount.IsZero() && d.vouchers == 0 {
			continue
		}
		if err := s.repo.ApplyDelta(ctx, tx, id, d.amount, d.vouchers); err != nil {
			return nil, apierror.FromDB(err)
		}
	}
	return out, nil
}

// aggregatePostings merges postings with the same (source, target) pair,
// keeping voucher movements in their own transaction. Empty postings vanish.
func aggregatePostings(in []Posting) []Posting {
	type key struct {
		source, target int64
		voucher        bool
	}
	index := map[key]int{}
	var out []Posting
	for _, p := range in {
		if p.Amount.IsZero() && p.Vouchers == 0 {
			continue
		}
		k := key{p.Source, p.Target, p.Vouchers != 0}
		if i, ok := index[k]; ok {
			out[i].Amount = out[i].Amount.Add(p.Amount)
			out[i].Vouchers += p.Vouchers
			continue
		}
		index[k] = len(out)
		out = append(out, p)
	}
	// merged postings can cancel out
	kept := out[:0]
	for _, p := range out {
		if !p.Amount.IsZero() || p.Vouchers != 0 {
			kept = append(kept, p)
		}
	}
	return kept
}

func (s *ledgerService) SystemAccount(ctx context.Context, tx *gorm.DB, eventNodeID int64, t model.AccountType) (*model.Account, error) {
	acc, err := s.repo.FindSystemAccount(ctx, tx, eventNodeID, t)
	if err != nil {
		if isNotFound(err) {
			return nil, apierror.Internal("event %d has no %s account", eventNodeID, t)
		}
		return nil, apierror.FromDB(err)
	}
	return acc, nil
}

func (s *ledgerService) CreateSystemAccounts(ctx context.Context, tx *gorm.DB, nodeID int64) error {
	for _, t := range model.SystemAccountTypes {
		acc := &model.Account{NodeID: nodeID, Type: t, Name: string(t)}
		if err := s.repo.CreateAccount(ctx, tx, acc); err != nil {
			return apierror.FromDB(err)
		}
	}
	return nil
}

func (s *ledgerService) GetAccount(ctx context.Context, tx *gorm.DB, id int64) (*model.Account, error) {
	acc, err := s.repo.GetAccount(ctx, tx, id)
	if err != nil {
		return nil, lookup(err, "account %d not found", id)
	}
	return acc, nil
}

func (s *ledgerService) ListTransactions(ctx context.Context, tx *gorm.DB, orderID int64) ([]model.Transaction, error) {
	txs, err := s.repo.ListTransactionsByOrder(ctx, tx, orderID)
	if err != nil {
		return nil, apierror.FromDB(err)
	}
	return txs, nil
}
