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

func (s *orderService) CheckTicketScan(ctx context.Context, term *Terminal, req dto.NewTicketScan) (*dto.TicketScanResult, error) {
	if err := term.requireUser(model.PrivCanBookOrders); err != nil {
		return nil, err
	}
	if !term.Profile.AllowTicketSale {
		return nil, apierror.TillPermission("ticket sales are not allowed at this till")
	}
	var out *dto.TicketScanResult
	err := runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		entries, _, err := s.scanTickets(ctx, tx, term, req.CustomerTags)
		if err != nil {
			return err
		}
		out = &dto.TicketScanResult{ScannedTickets: entries}
		return nil
	})
	return out, err
}

func (s *orderService) CheckTicketSale(ctx context.Context, term *Terminal, req dto.NewTicketSale) (*dto.PendingTicketSale, error) {
	var out *dto.PendingTicketSale
	err := runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		id, p, err := s.quoteTicketSale(ctx, tx, term, req)
		if err != nil {
			return err
		}
		if err := s.checkFresh(ctx, tx, id); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

func (s *orderService) BookTicketSale(ctx context.Context, term *Terminal, req dto.NewTicketSale) (*dto.CompletedTicketSale, error) {
	id, err := parseOrderUUID(req.UUID)
	if err != nil {
		return nil, err
	}
	release, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	var out *dto.CompletedTicketSale
	err = runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		prev, err := s.previous(ctx, tx, id, model.OrderTicket)
		if err != nil {
			return err
		}
		if prev != nil {
			out = replayTicketSale(prev)
			return nil
		}
		if _, err := s.store.PendingOrders.GetPendingOrder(ctx, tx, id); err == nil {
			return apierror.AlreadyProcessed("order %s is awaiting payment confirmation", id)
		} else if !isNotFound(err) {
			return apierror.FromDB(err)
		}
		_, p, err := s.quoteTicketSale(ctx, tx, term, req)
		if err != nil {
			return err
		}
		out, err = s.commitTicketSale(ctx, tx, terminalContext(term), id, p)
		return err
	})
	return out, err
}

func (s *orderService) CreatePendingTicketSale(ctx context.Context, term *Terminal, req dto.NewTicketSale) (*dto.PendingTicketSale, error) {
	if model.PaymentMethod(req.PaymentMethod) != model.PaymentSumUp {
		return nil, apierror.InvalidArgument("only card ticket sales can be deferred")
	}
	var out *dto.PendingTicketSale
	err := runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		id, p, err := s.quoteTicketSale(ctx, tx, term, req)
		if err != nil {
			return err
		}
		if !p.TotalPrice.IsPositive() {
			return apierror.InvalidArgument("nothing to pay by card")
		}
		if err := s.checkFresh(ctx, tx, id); err != nil {
			return err
		}
		if err := s.storePending(ctx, tx, term, id, model.PendingOrderTicket, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

// scanTickets picks a ticket for every scanned tag. The returned products
// are indexed by ticket id.
func (s *orderService) scanTickets(ctx context.Context, tx *gorm.DB, term *Terminal, scans []dto.UserTagScan) ([]dto.TicketScanResultEntry, map[int64]model.Product, error) {
	if len(scans) == 0 {
		return nil, nil, apierror.InvalidArgument("no tags were scanned")
	}
	tickets, err := s.store.Catalog.GetProducts(ctx, tx, term.Layout.TicketIDs)
	if err != nil {
		return nil, nil, apierror.FromDB(err)
	}
	byID := make(map[int64]model.Product, len(tickets))
	for _, t := range tickets {
		byID[t.ID] = t
	}

	seen := map[int64]bool{}
	entries := make([]dto.TicketScanResultEntry, 0, len(scans))
	for _, scan := range scans {
		tag, err := resolveTag(ctx, s.store.UserTags, tx, term.EventNode.ID, scan, false)
		if err != nil {
			return nil, nil, err
		}
		if seen[tag.ID] {
			return nil, nil, apierror.InvalidArgument("tag %s was scanned twice", tag.Pin)
		}
		seen[tag.ID] = true
		if _, err := s.store.Accounts.FindAccountByUserTag(ctx, tx, tag.ID); err == nil {
			return nil, nil, apierror.InvalidArgument("tag %s already belongs to a customer", tag.Pin)
		} else if !isNotFound(err) {
			return nil, nil, apierror.FromDB(err)
		}

		entry := dto.TicketScanResultEntry{
			CustomerTag: scan,
			TopUpAmount: decimal.Zero,
			TicketPrice: decimal.Zero,
		}
		if tag.Restriction != nil {
			r := string(*tag.Restriction)
			entry.Restriction = &r
		}
		if scan.TicketVoucherToken != nil {
			voucher, err := s.presaleVoucher(ctx, tx, term.EventNode.ID, *scan.TicketVoucherToken)
			if err != nil {
				return nil, nil, err
			}
			entry.IsPresale = true
			entry.PresaleAccount = &voucher.CustomerAccountID
			entry.TicketName = "presale"
			entries = append(entries, entry)
			continue
		}

		ticket := pickTicket(term.Layout.TicketIDs, byID, tag.Restriction)
		if ticket == nil {
			return nil, nil, apierror.InvalidArgument("no ticket at this till matches tag %s", tag.Pin)
		}
		entry.TicketID = ticket.ID
		entry.TicketName = ticket.Name
		entry.TicketPrice = *ticket.Price
		entry.TopUpAmount = ticket.InitialTopUpAmount
		entries = append(entries, entry)
	}
	return entries, byID, nil
}

// presaleVoucher loads a presale ticket whose account has not been claimed.
func (s *orderService) presaleVoucher(ctx context.Context, tx *gorm.DB, eventNodeID int64, token string) (*model.TicketVoucher, error) {
	voucher, err := s.store.Presale.FindTicketVoucherByToken(ctx, tx, token)
	if err != nil {
		return nil, lookup(err, "unknown presale ticket")
	}
	if voucher.NodeID != eventNodeID {
		return nil, apierror.NotFound("unknown presale ticket")
	}
	acc, err := s.ledger.GetAccount(ctx, tx, voucher.CustomerAccountID)
	if err != nil {
		return nil, err
	}
	if acc.UserTagID != nil {
		return nil, apierror.Conflict("presale ticket has already been redeemed")
	}
	return voucher, nil
}

// pickTicket returns the first ticket of the layout sold to customers with
// restriction r. Unrestricted tags get a ticket without restrictions.
func pickTicket(order []int64, tickets map[int64]model.Product, r *model.Restriction) *model.Product {
	for _, id := range order {
		t, ok := tickets[id]
		if !ok || t.Type != model.ProductTicket {
			continue
		}
		if r == nil {
			if len(t.Restrictions) == 0 {
				return &t
			}
			continue
		}
		if t.RestrictedFor(r) {
			return &t
		}
	}
	return nil
}

func (s *orderService) quoteTicketSale(ctx context.Context, tx *gorm.DB, term *Terminal, req dto.NewTicketSale) (uuid.UUID, *dto.PendingTicketSale, error) {
	if err := term.requireUser(model.PrivCanBookOrders); err != nil {
		return uuid.Nil, nil, err
	}
	id, err := parseOrderUUID(req.UUID)
	if err != nil {
		return uuid.Nil, nil, err
	}
	if !term.Profile.AllowTicketSale {
		return uuid.Nil, nil, apierror.TillPermission("ticket sales are not allowed at this till")
	}
	method := model.PaymentMethod(req.PaymentMethod)
	if method != model.PaymentCash && method != model.PaymentSumUp {
		return uuid.Nil, nil, apierror.InvalidArgument("tickets are paid by cash or card")
	}
	if err := allowPayment(&term.Profile, method); err != nil {
		return uuid.Nil, nil, err
	}
	if method == model.PaymentCash {
		if err := requireRegister(terminalContext(term)); err != nil {
			return uuid.Nil, nil, err
		}
	}
	entries, tickets, err := s.scanTickets(ctx, tx, term, req.CustomerTags)
	if err != nil {
		return uuid.Nil, nil, err
	}

	var lines []dto.PendingLineItem
	index := map[int64]int{}
	topUp := decimal.Zero
	for _, e := range entries {
		if e.IsPresale {
			continue
		}
		topUp = topUp.Add(e.TopUpAmount)
		if i, ok := index[e.TicketID]; ok {
			lines[i].Quantity++
			continue
		}
		t := tickets[e.TicketID]
		li, err := s.booker.lineItem(ctx, tx, &t, *t.Price, 1)
		if err != nil {
			return uuid.Nil, nil, err
		}
		index[e.TicketID] = len(lines)
		lines = append(lines, *li)
	}
	_, count := sumLineItems(lines)
	if topUp.IsPositive() {
		li, err := s.booker.systemLineItem(ctx, tx, term.EventNode.ID, model.ProductTopUp, topUp, 1)
		if err != nil {
			return uuid.Nil, nil, err
		}
		lines = append(lines, *li)
	}
	total, _ := sumLineItems(lines)
	if topUp.GreaterThan(term.Event.MaxAccountBalance) {
		return uuid.Nil, nil, apierror.InvalidArgument("initial top-up exceeds the maximum balance")
	}
	return id, &dto.PendingTicketSale{
		UUID:           id.String(),
		PaymentMethod:  string(method),
		ScannedTickets: entries,
		LineItems:      lines,
		TotalPrice:     total,
		TopUpTotal:     topUp,
		ItemCount:      count,
	}, nil
}

// commitTicketSale binds every scanned tag to an account and books the
// ticket revenue plus the initial top-ups.
func (s *orderService) commitTicketSale(ctx context.Context, tx *gorm.DB, bc bookingContext, id uuid.UUID, p *dto.PendingTicketSale) (*dto.CompletedTicketSale, error) {
	method := model.PaymentMethod(p.PaymentMethod)
	accs, err := s.booker.systemAccounts(ctx, tx, bc.EventNodeID,
		model.AccountSaleExit, model.AccountCashEntry, model.AccountCashTopupSource, model.AccountSumupEntry)
	if err != nil {
		return nil, err
	}
	topUpProduct, err := s.store.Catalog.FindSystemProduct(ctx, tx, bc.EventNodeID, model.ProductTopUp)
	if err != nil {
		return nil, lookup(err, "event node %d has no top-up product", bc.EventNodeID)
	}

	var postings []Posting
	var source int64
	var register *int64
	switch method {
	case model.PaymentCash:
		regAccount, err := s.registerAccount(ctx, tx, bc)
		if err != nil {
			return nil, err
		}
		register = bc.CashRegisterID
		source = accs[model.AccountCashTopupSource]
		postings = append(postings, Posting{Source: accs[model.AccountCashEntry], Target: regAccount, Amount: p.TotalPrice, Description: "cash ticket sale"})
	case model.PaymentSumUp:
		source = accs[model.AccountSumupEntry]
	default:
		return nil, apierror.InvalidArgument("tickets are paid by cash or card")
	}
	for _, li := range p.LineItems {
		if li.ProductID == topUpProduct.ID {
			continue
		}
		target := accs[model.AccountSaleExit]
		if li.TargetAccountID != nil {
			target = *li.TargetAccountID
		}
		postings = append(postings, Posting{Source: source, Target: target, Amount: li.TotalPrice(), Description: "ticket"})
	}

	var customer *int64
	best := -1
	for _, e := range p.ScannedTickets {
		accountID, restriction, err := s.bindTicketTag(ctx, tx, bc.EventNodeID, e)
		if err != nil {
			return nil, err
		}
		if e.TopUpAmount.IsPositive() {
			postings = append(postings, Posting{Source: source, Target: accountID, Amount: e.TopUpAmount, Description: "ticket top up"})
		}
		if rank := ageRank(restriction); best < 0 || rank < best {
			best = rank
			acc := accountID
			customer = &acc
		}
	}

	order, err := s.booker.book(ctx, tx, orderDraft{
		UUID:              id,
		NodeID:            bc.NodeID,
		TillID:            bc.TillID,
		CashierID:         bc.CashierID,
		CustomerAccountID: customer,
		CashRegisterID:    register,
		PaymentMethod:     &method,
		Type:              model.OrderTicket,
		BookedAt:          bc.BookedAt,
		LineItems:         toLineItems(p.LineItems),
		Postings:          postings,
		MaxBalance:        bc.MaxBalance,
	})
	if err != nil {
		return nil, err
	}
	out := &dto.CompletedTicketSale{
		PendingTicketSale: *p,
		ID:                order.ID,
		BookedAt:          order.BookedAt,
		CashierID:         order.CashierID,
		TillID:            order.TillID,
		CashRegisterID:    order.CashRegisterID,
	}
	if customer != nil {
		out.CustomerAccountID = *customer
	}
	return out, nil
}

// bindTicketTag attaches the scanned tag to a fresh customer account or to
// the account of a presale ticket.
func (s *orderService) bindTicketTag(ctx context.Context, tx *gorm.DB, eventNodeID int64, e dto.TicketScanResultEntry) (int64, *model.Restriction, error) {
	tag, err := resolveTag(ctx, s.store.UserTags, tx, eventNodeID, e.CustomerTag, true)
	if err != nil {
		return 0, nil, err
	}
	if _, err := s.store.Accounts.FindAccountByUserTag(ctx, tx, tag.ID); err == nil {
		return 0, nil, apierror.Conflict("tag %s already belongs to a customer", tag.Pin)
	} else if !isNotFound(err) {
		return 0, nil, apierror.FromDB(err)
	}
	if e.IsPresale {
		if e.CustomerTag.TicketVoucherToken == nil {
			return 0, nil, apierror.InvalidArgument("presale entry without a ticket token")
		}
		voucher, err := s.presaleVoucher(ctx, tx, eventNodeID, *e.CustomerTag.TicketVoucherToken)
		if err != nil {
			return 0, nil, err
		}
		if err := s.store.Accounts.SetAccountUserTag(ctx, tx, voucher.CustomerAccountID, &tag.ID); err != nil {
			return 0, nil, apierror.FromDB(err)
		}
		return voucher.CustomerAccountID, tag.Restriction, nil
	}
	acc := &model.Account{
		NodeID:    eventNodeID,
		Type:      model.AccountPrivate,
		Balance:   decimal.Zero,
		UserTagID: &tag.ID,
	}
	if err := s.store.Accounts.CreateAccount(ctx, tx, acc); err != nil {
		return 0, nil, apierror.FromDB(err)
	}
	if err := s.store.Accounts.SaveCustomerInfo(ctx, tx, &model.CustomerInfo{
		CustomerAccountID: acc.ID,
		Donation:          decimal.Zero,
		PayoutExport:      true,
	}); err != nil {
		return 0, nil, apierror.FromDB(err)
	}
	return acc.ID, tag.Restriction, nil
}

// ageRank orders restrictions from oldest to youngest customer.
func ageRank(r *model.Restriction) int {
	switch {
	case r == nil:
		return 0
	case *r == model.RestrictionUnder18:
		return 1
	default:
		return 2
	}
}

func replayTicketSale(order *model.Order) *dto.CompletedTicketSale {
	lines := fromLineItems(order.LineItems)
	p := dto.PendingTicketSale{
		UUID:       order.UUID.String(),
		LineItems:  lines,
		TotalPrice: order.TotalPrice,
		TopUpTotal: decimal.Zero,
	}
	if order.PaymentMethod != nil {
		p.PaymentMethod = string(*order.PaymentMethod)
	}
	_, p.ItemCount = sumLineItems(lines)
	out := &dto.CompletedTicketSale{
		PendingTicketSale: p,
		ID:                order.ID,
		BookedAt:          order.BookedAt,
		CashierID:         order.CashierID,
		TillID:            order.TillID,
		CashRegisterID:    order.CashRegisterID,
	}
	if order.CustomerAccountID != nil {
		out.CustomerAccountID = *order.CustomerAccountID
	}
	return out
}
