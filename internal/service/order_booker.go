package service

import (
	"context"
	"time"

	"github.com/stustapay/stustapay-sub000/internal/apierror"
	"github.com/stustapay/stustapay-sub000/internal/dto"
	"github.com/stustapay/stustapay-sub000/internal/model"
	"github.com/stustapay/stustapay-sub000/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// orderDraft is everything needed to persist one order and its postings.
type orderDraft struct {
	UUID              uuid.UUID
	NodeID            int64
	TillID            int64
	CashierID         *int64
	CustomerAccountID *int64
	CashRegisterID    *int64
	PaymentMethod     *model.PaymentMethod
	Type              model.OrderType
	BookedAt          time.Time
	CancelsOrder      *int64
	LineItems         []model.LineItem
	Postings          []Posting
	MaxBalance        *decimal.Decimal
}

// orderBooker writes orders. It is shared by every component that books
// into the ledger through an order row.
type orderBooker struct {
	store  *repository.Store
	ledger LedgerService
	signer FiscalSigner
	now    Clock
}

func newOrderBooker(store *repository.Store, ledger LedgerService, signer FiscalSigner) *orderBooker {
	if signer == nil {
		signer = NoopSigner{}
	}
	return &orderBooker{store: store, ledger: ledger, signer: signer, now: time.Now}
}

// book persists the order, applies its postings and hands it to the fiscal
// signer. The z-number is read from the locked till row.
func (b *orderBooker) book(ctx context.Context, tx *gorm.DB, d orderDraft) (*model.Order, error) {
	till, err := b.store.Tills.LockTill(ctx, tx, d.TillID)
	if err != nil {
		return nil, lookup(err, "till %d not found", d.TillID)
	}
	if d.BookedAt.IsZero() {
		d.BookedAt = b.now()
	}
	if d.UUID == uuid.Nil {
		d.UUID = uuid.New()
	}
	order := &model.Order{
		UUID:              d.UUID,
		NodeID:            d.NodeID,
		TillID:            d.TillID,
		CashierID:         d.CashierID,
		CustomerAccountID: d.CustomerAccountID,
		CashRegisterID:    d.CashRegisterID,
		PaymentMethod:     d.PaymentMethod,
		OrderType:         d.Type,
		ZNr:               till.ZNr,
		BookedAt:          d.BookedAt,
		CancelsOrder:      d.CancelsOrder,
		LineItems:         d.LineItems,
	}
	for i := range order.LineItems {
		order.LineItems[i].ItemID = i
	}
	order.ComputeTotals()
	if err := b.store.Orders.CreateOrder(ctx, tx, order); err != nil {
		return nil, apierror.FromDB(err)
	}
	if _, err := b.ledger.Book(ctx, tx, Booking{
		OrderID:          &order.ID,
		BookedAt:         d.BookedAt,
		ConductingUserID: d.CashierID,
		Postings:         d.Postings,
		MaxBalance:       d.MaxBalance,
	}); err != nil {
		return nil, err
	}
	if err := b.signer.SignOrder(ctx, tx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// systemAccounts resolves the event system accounts used by a pipeline.
func (b *orderBooker) systemAccounts(ctx context.Context, tx *gorm.DB, eventNodeID int64, types ...model.AccountType) (map[model.AccountType]int64, error) {
	out := make(map[model.AccountType]int64, len(types))
	for _, t := range types {
		acc, err := b.ledger.SystemAccount(ctx, tx, eventNodeID, t)
		if err != nil {
			return nil, err
		}
		out[t] = acc.ID
	}
	return out, nil
}

// systemLineItem builds a line for a system product of the event.
func (b *orderBooker) systemLineItem(ctx context.Context, tx *gorm.DB, eventNodeID int64, t model.ProductType, price decimal.Decimal, quantity int64) (*dto.PendingLineItem, error) {
	p, err := b.store.Catalog.FindSystemProduct(ctx, tx, eventNodeID, t)
	if err != nil {
		if isNotFound(err) {
			return nil, apierror.Internal("event node %d has no %s product", eventNodeID, t)
		}
		return nil, apierror.FromDB(err)
	}
	return b.lineItem(ctx, tx, p, price, quantity)
}

func (b *orderBooker) lineItem(ctx context.Context, tx *gorm.DB, p *model.Product, price decimal.Decimal, quantity int64) (*dto.PendingLineItem, error) {
	rate, err := b.store.Catalog.GetTaxRate(ctx, tx, p.TaxRateID)
	if err != nil {
		return nil, lookup(err, "tax rate %d not found", p.TaxRateID)
	}
	return &dto.PendingLineItem{
		ProductID:       p.ID,
		ProductName:     p.Name,
		ProductPrice:    price,
		Quantity:        quantity,
		TaxRateID:       rate.ID,
		TaxName:         rate.Name,
		TaxRate:         rate.Rate,
		TargetAccountID: p.TargetAccountID,
	}, nil
}

func toLineItems(in []dto.PendingLineItem) []model.LineItem {
	out := make([]model.LineItem, 0, len(in))
	for _, li := range in {
		out = append(out, model.LineItem{
			ProductID:    li.ProductID,
			ProductName:  li.ProductName,
			Quantity:     li.Quantity,
			ProductPrice: li.ProductPrice,
			TaxRateID:    li.TaxRateID,
			TaxName:      li.TaxName,
			TaxRate:      li.TaxRate,
		})
	}
	return out
}

func fromLineItems(in []model.LineItem) []dto.PendingLineItem {
	out := make([]dto.PendingLineItem, 0, len(in))
	for _, li := range in {
		out = append(out, dto.PendingLineItem{
			ProductID:    li.ProductID,
			ProductName:  li.ProductName,
			ProductPrice: li.ProductPrice,
			Quantity:     li.Quantity,
			TaxRateID:    li.TaxRateID,
			TaxName:      li.TaxName,
			TaxRate:      li.TaxRate,
		})
	}
	return out
}

func sumLineItems(items []dto.PendingLineItem) (total decimal.Decimal, count int64) {
	total = decimal.Zero
	for _, li := range items {
		total = total.Add(li.TotalPrice())
		count += li.Quantity
	}
	return total, count
}

func paymentMethod(m string) *model.PaymentMethod {
	pm := model.PaymentMethod(m)
	return &pm
}

func parseOrderUUID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, apierror.InvalidArgument("invalid order uuid %q", s)
	}
	return id, nil
}
