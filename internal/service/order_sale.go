package service

import (
	"context"

	"github.com/stustapay/stustapay-sub000/internal/apierror"
	"github.com/stustapay/stustapay-sub000/internal/dto"
	"github.com/stustapay/stustapay-sub000/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// saleQuote is a fully validated sale ready to be booked.
type saleQuote struct {
	id       uuid.UUID
	method   model.PaymentMethod
	sale     dto.PendingSale
	customer *model.Account
}

func (s *orderService) CheckSale(ctx context.Context, term *Terminal, req dto.NewSale) (*dto.PendingSale, error) {
	var out *dto.PendingSale
	err := runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		q, err := s.quoteSale(ctx, tx, term, req)
		if err != nil {
			return err
		}
		if err := s.checkFresh(ctx, tx, q.id); err != nil {
			return err
		}
		out = &q.sale
		return nil
	})
	return out, err
}

func (s *orderService) BookSale(ctx context.Context, term *Terminal, req dto.NewSale) (*dto.CompletedSale, error) {
	id, err := parseOrderUUID(req.UUID)
	if err != nil {
		return nil, err
	}
	release, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	var out *dto.CompletedSale
	err = runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		prev, err := s.previous(ctx, tx, id, model.OrderSale)
		if err != nil {
			return err
		}
		if prev != nil {
			out, err = s.replaySale(ctx, tx, prev, req)
			return err
		}
		q, err := s.quoteSale(ctx, tx, term, req)
		if err != nil {
			return err
		}
		bc := terminalContext(term)
		postings, err := s.salePostings(ctx, tx, bc, q)
		if err != nil {
			return err
		}
		var customerID *int64
		if q.customer != nil {
			customerID = &q.customer.ID
		}
		var register *int64
		if q.method == model.PaymentCash {
			register = bc.CashRegisterID
		}
		order, err := s.booker.book(ctx, tx, orderDraft{
			UUID:              id,
			NodeID:            bc.NodeID,
			TillID:            bc.TillID,
			CashierID:         bc.CashierID,
			CustomerAccountID: customerID,
			CashRegisterID:    register,
			PaymentMethod:     &q.method,
			Type:              model.OrderSale,
			LineItems:         toLineItems(q.sale.LineItems),
			Postings:          postings,
			MaxBalance:        bc.MaxBalance,
		})
		if err != nil {
			return err
		}
		out = &dto.CompletedSale{
			PendingSale:    q.sale,
			ID:             order.ID,
			BookedAt:       order.BookedAt,
			CashierID:      order.CashierID,
			TillID:         order.TillID,
			CashRegisterID: order.CashRegisterID,
		}
		return nil
	})
	return out, err
}

// quoteSale runs the sale pipeline up to, but excluding, the commit.
func (s *orderService) quoteSale(ctx context.Context, tx *gorm.DB, term *Terminal, req dto.NewSale) (*saleQuote, error) {
	if err := term.requireUser(model.PrivCanBookOrders); err != nil {
		return nil, err
	}
	id, err := parseOrderUUID(req.UUID)
	if err != nil {
		return nil, err
	}
	method := model.PaymentMethod(req.PaymentMethod)
	if err := allowPayment(&term.Profile, method); err != nil {
		return nil, err
	}
	if method == model.PaymentCash && term.Till.ActiveCashRegisterID == nil {
		return nil, apierror.InvalidArgument("no cash register is attached to this till")
	}
	if len(req.Buttons) == 0 {
		return nil, apierror.InvalidArgument("a sale needs at least one button")
	}

	lines, products, err := s.saleLines(ctx, tx, term, req.Buttons)
	if err != nil {
		return nil, err
	}

	var customer *model.Account
	var tag *model.UserTag
	if req.CustomerTagUID != nil {
		if customer, tag, err = customerByTagUID(ctx, s.store, tx, term.EventNode.ID, *req.CustomerTagUID); err != nil {
			return nil, err
		}
	}
	if method == model.PaymentTag && customer == nil {
		return nil, apierror.InvalidArgument("paying by tag needs a customer tag")
	}
	if customer == nil && req.UsedVouchers != nil && *req.UsedVouchers > 0 {
		return nil, apierror.InvalidArgument("vouchers need a customer tag")
	}
	if tag != nil && tag.Restriction != nil {
		var names []string
		for _, p := range products {
			if p.RestrictedFor(tag.Restriction) {
				names = append(names, p.Name)
			}
		}
		if len(names) > 0 {
			return nil, apierror.AgeRestriction(names)
		}
	}

	_, itemCount := sumLineItems(lines)
	var used int64
	if customer != nil {
		discounts, n, err := s.applyVouchers(ctx, tx, term.EventNode.ID, customer, lines, products, req.UsedVouchers)
		if err != nil {
			return nil, err
		}
		lines = append(lines, discounts...)
		used = n
	}
	total, _ := sumLineItems(lines)

	sale := dto.PendingSale{
		UUID:          id.String(),
		PaymentMethod: string(method),
		Buttons:       req.Buttons,
		LineItems:     lines,
		UsedVouchers:  used,
		TotalPrice:    total,
		ItemCount:     itemCount,
	}
	if customer != nil {
		sale.CustomerAccountID = &customer.ID
		sale.OldBalance = customer.Balance
		sale.NewBalance = customer.Balance
		sale.OldVoucherBalance = customer.VoucherAmount
		sale.NewVoucherBalance = customer.VoucherAmount - used
		if method == model.PaymentTag {
			sale.NewBalance = customer.Balance.Sub(total)
			if sale.NewBalance.IsNegative() {
				return nil, apierror.NotEnoughFunds(total, customer.Balance)
			}
			if sale.NewBalance.GreaterThan(term.Event.MaxAccountBalance) {
				return nil, apierror.InvalidArgument("new balance would exceed the maximum of %s", term.Event.MaxAccountBalance.StringFixed(2))
			}
		}
	}
	return &saleQuote{id: id, method: method, sale: sale, customer: customer}, nil
}

// saleLines resolves buttons to line items aggregated by product. The
// returned products are indexed like the lines.
func (s *orderService) saleLines(ctx context.Context, tx *gorm.DB, term *Terminal, buttons []dto.SaleButton) ([]dto.PendingLineItem, []model.Product, error) {
	onLayout := make(map[int64]bool, len(term.Layout.ButtonIDs))
	for _, id := range term.Layout.ButtonIDs {
		onLayout[id] = true
	}
	var lines []dto.PendingLineItem
	var products []model.Product
	index := map[int64]int{}

	for _, sb := range buttons {
		if !onLayout[sb.TillButtonID] {
			return nil, nil, apierror.InvalidArgument("button %d is not available at this till", sb.TillButtonID)
		}
		button, err := s.store.Catalog.GetButton(ctx, tx, sb.TillButtonID)
		if err != nil {
			return nil, nil, lookup(err, "button %d not found", sb.TillButtonID)
		}
		bp, err := s.store.Catalog.GetProducts(ctx, tx, button.ProductIDs)
		if err != nil {
			return nil, nil, apierror.FromDB(err)
		}
		for i := range bp {
			p := &bp[i]
			var price decimal.Decimal
			var qty int64
			if p.FixedPrice {
				if sb.Quantity == nil || *sb.Quantity == 0 {
					return nil, nil, apierror.InvalidArgument("button %q needs a non-zero quantity", button.Name)
				}
				qty = *sb.Quantity
				if qty < 0 && !p.IsReturnable {
					return nil, nil, apierror.InvalidArgument("product %q cannot be returned", p.Name)
				}
				price = *p.Price
			} else {
				if sb.Price == nil || sb.Price.IsZero() {
					return nil, nil, apierror.InvalidArgument("button %q needs a price", button.Name)
				}
				if sb.Price.IsNegative() && !p.IsReturnable {
					return nil, nil, apierror.InvalidArgument("product %q cannot be returned", p.Name)
				}
				price, qty = *sb.Price, 1
			}

			if i, ok := index[p.ID]; ok {
				if p.FixedPrice {
					lines[i].Quantity += qty
				} else {
					lines[i].ProductPrice = lines[i].ProductPrice.Add(price)
				}
				continue
			}
			li, err := s.booker.lineItem(ctx, tx, p, price, qty)
			if err != nil {
				return nil, nil, err
			}
			index[p.ID] = len(lines)
			lines = append(lines, *li)
			products = append(products, *p)
		}
	}

	keptLines := lines[:0]
	keptProducts := products[:0]
	for i, li := range lines {
		// free fixed price products stay on the order, netted out variable
		// price entries do not
		if li.Quantity == 0 || (!products[i].FixedPrice && li.ProductPrice.IsZero()) {
			continue
		}
		keptLines = append(keptLines, li)
		keptProducts = append(keptProducts, products[i])
	}
	if len(keptLines) == 0 {
		return nil, nil, apierror.InvalidArgument("the sale is empty")
	}
	return keptLines, keptProducts, nil
}

// applyVouchers computes the discount lines for the vouchers a customer
// spends and returns them with the number of vouchers used.
func (s *orderService) applyVouchers(ctx context.Context, tx *gorm.DB, eventNodeID int64, customer *model.Account, lines []dto.PendingLineItem, products []model.Product, requested *int64) ([]dto.PendingLineItem, int64, error) {
	max := customer.VoucherAmount
	if requested != nil {
		if *requested > customer.VoucherAmount {
			return nil, 0, apierror.NotEnoughVouchers(*requested, customer.VoucherAmount)
		}
		max = *requested
	}
	var candidates []voucherCandidate
	for i := range products {
		vp := products[i].VoucherPrice()
		if vp == nil || lines[i].Quantity <= 0 {
			continue
		}
		candidates = append(candidates, voucherCandidate{
			Line:            i,
			ProductID:       products[i].ID,
			PricePerVoucher: *vp,
			PriceInVouchers: *products[i].PriceInVouchers,
			Quantity:        lines[i].Quantity,
		})
	}
	uses := optimizeVouchers(candidates, max)

	var discounts []dto.PendingLineItem
	var used int64
	for _, u := range uses {
		d, err := s.booker.systemLineItem(ctx, tx, eventNodeID, model.ProductDiscount, u.PricePerVoucher.Neg(), u.Vouchers)
		if err != nil {
			return nil, 0, err
		}
		// the discount reduces revenue of the discounted line
		base := lines[u.Line]
		d.TaxRateID, d.TaxName, d.TaxRate = base.TaxRateID, base.TaxName, base.TaxRate
		d.TargetAccountID = base.TargetAccountID
		discounts = append(discounts, *d)
		used += u.Vouchers
	}
	return discounts, used, nil
}

// salePostings builds the ledger movements of a quoted sale.
func (s *orderService) salePostings(ctx context.Context, tx *gorm.DB, bc bookingContext, q *saleQuote) ([]Posting, error) {
	accs, err := s.booker.systemAccounts(ctx, tx, bc.EventNodeID,
		model.AccountSaleExit, model.AccountCashEntry, model.AccountCashTopupSource, model.AccountSumupEntry)
	if err != nil {
		return nil, err
	}
	var postings []Posting
	var source int64
	switch q.method {
	case model.PaymentTag:
		source = q.customer.ID
	case model.PaymentCash:
		register, err := s.registerAccount(ctx, tx, bc)
		if err != nil {
			return nil, err
		}
		postings = append(postings, Posting{Source: accs[model.AccountCashEntry], Target: register, Amount: q.sale.TotalPrice, Description: "cash sale"})
		source = accs[model.AccountCashTopupSource]
	case model.PaymentSumUp:
		source = accs[model.AccountSumupEntry]
	}
	for _, li := range q.sale.LineItems {
		target := accs[model.AccountSaleExit]
		if li.TargetAccountID != nil {
			target = *li.TargetAccountID
		}
		postings = append(postings, Posting{Source: source, Target: target, Amount: li.TotalPrice(), Description: "sale"})
	}
	if q.sale.UsedVouchers > 0 {
		postings = append(postings, Posting{Source: q.customer.ID, Target: accs[model.AccountSaleExit], Amount: decimal.Zero, Vouchers: q.sale.UsedVouchers, Description: "vouchers"})
	}
	return postings, nil
}

// replaySale answers a repeated book call from the stored order.
func (s *orderService) replaySale(ctx context.Context, tx *gorm.DB, order *model.Order, req dto.NewSale) (*dto.CompletedSale, error) {
	sale := dto.PendingSale{
		UUID:              order.UUID.String(),
		Buttons:           req.Buttons,
		LineItems:         fromLineItems(order.LineItems),
		CustomerAccountID: order.CustomerAccountID,
		TotalPrice:        order.TotalPrice,
	}
	if order.PaymentMethod != nil {
		sale.PaymentMethod = string(*order.PaymentMethod)
	}
	for _, li := range order.LineItems {
		// discount lines carry a negative price
		if !li.ProductPrice.IsNegative() {
			sale.ItemCount += li.Quantity
		}
	}
	txs, err := s.ledger.ListTransactions(ctx, tx, order.ID)
	if err != nil {
		return nil, err
	}
	customer, err := s.customerBalance(ctx, tx, order.CustomerAccountID)
	if err != nil {
		return nil, err
	}
	if customer != nil {
		for _, t := range txs {
			if t.SourceAccountID == customer.ID {
				sale.UsedVouchers += t.VoucherAmount
			}
		}
		sale.NewBalance = customer.Balance
		sale.OldBalance = customer.Balance
		if sale.PaymentMethod == string(model.PaymentTag) {
			sale.OldBalance = customer.Balance.Add(order.TotalPrice)
		}
		sale.NewVoucherBalance = customer.VoucherAmount
		sale.OldVoucherBalance = customer.VoucherAmount + sale.UsedVouchers
	}
	return &dto.CompletedSale{
		PendingSale:    sale,
		ID:             order.ID,
		BookedAt:       order.BookedAt,
		CashierID:      order.CashierID,
		TillID:         order.TillID,
		CashRegisterID: order.CashRegisterID,
	}, nil
}
