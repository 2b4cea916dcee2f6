package service

import (
	"context"
	"encoding/json"

	"github.com/stustapay/stustapay-sub000/internal/apierror"
	"github.com/stustapay/stustapay-sub000/internal/dto"
	"github.com/stustapay/stustapay-sub000/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ─── Top-up ──────────────────────────────────────────────────────────────────

func (s *orderService) CheckTopUp(ctx context.Context, term *Terminal, req dto.NewTopUp) (*dto.PendingTopUp, error) {
	var out *dto.PendingTopUp
	err := runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		id, p, err := s.quoteTopUp(ctx, tx, term, req)
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

func (s *orderService) BookTopUp(ctx context.Context, term *Terminal, req dto.NewTopUp) (*dto.CompletedTopUp, error) {
	id, err := parseOrderUUID(req.UUID)
	if err != nil {
		return nil, err
	}
	release, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	var out *dto.CompletedTopUp
	err = runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		prev, err := s.previous(ctx, tx, id, model.OrderTopUp)
		if err != nil {
			return err
		}
		if prev != nil {
			out, err = s.replayTopUp(ctx, tx, prev, req.CustomerTagUID)
			return err
		}
		if _, err := s.store.PendingOrders.GetPendingOrder(ctx, tx, id); err == nil {
			return apierror.AlreadyProcessed("order %s is awaiting payment confirmation", id)
		} else if !isNotFound(err) {
			return apierror.FromDB(err)
		}
		_, p, err := s.quoteTopUp(ctx, tx, term, req)
		if err != nil {
			return err
		}
		out, err = s.commitTopUp(ctx, tx, terminalContext(term), id, p)
		return err
	})
	return out, err
}

func (s *orderService) CreatePendingTopUp(ctx context.Context, term *Terminal, req dto.NewTopUp) (*dto.PendingTopUp, error) {
	if model.PaymentMethod(req.PaymentMethod) != model.PaymentSumUp {
		return nil, apierror.InvalidArgument("only card top-ups can be deferred")
	}
	var out *dto.PendingTopUp
	err := runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		id, p, err := s.quoteTopUp(ctx, tx, term, req)
		if err != nil {
			return err
		}
		if err := s.checkFresh(ctx, tx, id); err != nil {
			return err
		}
		if err := s.storePending(ctx, tx, term, id, model.PendingOrderTopUp, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

func (s *orderService) quoteTopUp(ctx context.Context, tx *gorm.DB, term *Terminal, req dto.NewTopUp) (uuid.UUID, *dto.PendingTopUp, error) {
	if err := term.requireUser(model.PrivCanBookOrders); err != nil {
		return uuid.Nil, nil, err
	}
	id, err := parseOrderUUID(req.UUID)
	if err != nil {
		return uuid.Nil, nil, err
	}
	if !term.Profile.AllowTopUp {
		return uuid.Nil, nil, apierror.TillPermission("top-ups are not allowed at this till")
	}
	method := model.PaymentMethod(req.PaymentMethod)
	if method == model.PaymentSumUpOnline || method == model.PaymentTag {
		return uuid.Nil, nil, apierror.InvalidArgument("payment method %q is not supported for top-ups at terminals", method)
	}
	if err := allowPayment(&term.Profile, method); err != nil {
		return uuid.Nil, nil, err
	}
	if method == model.PaymentCash {
		if err := requireRegister(terminalContext(term)); err != nil {
			return uuid.Nil, nil, err
		}
	}
	if err := checkTopUpAmount(req.Amount, method); err != nil {
		return uuid.Nil, nil, err
	}
	customer, _, err := customerByTagUID(ctx, s.store, tx, term.EventNode.ID, req.CustomerTagUID)
	if err != nil {
		return uuid.Nil, nil, err
	}
	p := &dto.PendingTopUp{
		UUID:              id.String(),
		Amount:            req.Amount,
		PaymentMethod:     string(method),
		CustomerTagUID:    req.CustomerTagUID,
		CustomerAccountID: customer.ID,
		OldBalance:        customer.Balance,
		NewBalance:        customer.Balance.Add(req.Amount),
	}
	if p.NewBalance.GreaterThan(term.Event.MaxAccountBalance) {
		return uuid.Nil, nil, apierror.InvalidArgument("new balance would exceed the maximum of %s", term.Event.MaxAccountBalance.StringFixed(2))
	}
	return id, p, nil
}

// checkTopUpAmount enforces the minimum top-up and whole amounts for card
// payments.
func checkTopUpAmount(amount decimal.Decimal, method model.PaymentMethod) error {
	if amount.LessThan(oneDecimal) {
		return apierror.InvalidArgument("top-up amount must be at least 1.00")
	}
	if method != model.PaymentCash && !amount.Equal(amount.Truncate(0)) {
		return apierror.InvalidArgument("card top-ups must be whole amounts")
	}
	return nil
}

// commitTopUp books a validated top-up. Deferred card payments reuse it with
// the context stored on the pending row.
func (s *orderService) commitTopUp(ctx context.Context, tx *gorm.DB, bc bookingContext, id uuid.UUID, p *dto.PendingTopUp) (*dto.CompletedTopUp, error) {
	method := model.PaymentMethod(p.PaymentMethod)
	accs, err := s.booker.systemAccounts(ctx, tx, bc.EventNodeID,
		model.AccountCashEntry, model.AccountCashTopupSource, model.AccountSumupEntry, model.AccountSumupOnlineEntry)
	if err != nil {
		return nil, err
	}
	var postings []Posting
	var register *int64
	switch method {
	case model.PaymentCash:
		regAccount, err := s.registerAccount(ctx, tx, bc)
		if err != nil {
			return nil, err
		}
		register = bc.CashRegisterID
		postings = append(postings,
			Posting{Source: accs[model.AccountCashEntry], Target: regAccount, Amount: p.Amount, Description: "cash top up"},
			Posting{Source: accs[model.AccountCashTopupSource], Target: p.CustomerAccountID, Amount: p.Amount, Description: "cash top up"},
		)
	case model.PaymentSumUp:
		postings = append(postings, Posting{Source: accs[model.AccountSumupEntry], Target: p.CustomerAccountID, Amount: p.Amount, Description: "card top up"})
	case model.PaymentSumUpOnline:
		postings = append(postings, Posting{Source: accs[model.AccountSumupOnlineEntry], Target: p.CustomerAccountID, Amount: p.Amount, Description: "online top up"})
	default:
		return nil, apierror.InvalidArgument("payment method %q is not supported for top-ups", method)
	}
	line, err := s.booker.systemLineItem(ctx, tx, bc.EventNodeID, model.ProductTopUp, p.Amount, 1)
	if err != nil {
		return nil, err
	}
	order, err := s.booker.book(ctx, tx, orderDraft{
		UUID:              id,
		NodeID:            bc.NodeID,
		TillID:            bc.TillID,
		CashierID:         bc.CashierID,
		CustomerAccountID: &p.CustomerAccountID,
		CashRegisterID:    register,
		PaymentMethod:     &method,
		Type:              model.OrderTopUp,
		BookedAt:          bc.BookedAt,
		LineItems:         toLineItems([]dto.PendingLineItem{*line}),
		Postings:          postings,
		MaxBalance:        bc.MaxBalance,
	})
	if err != nil {
		return nil, err
	}
	customer, err := s.ledger.GetAccount(ctx, tx, p.CustomerAccountID)
	if err != nil {
		return nil, err
	}
	done := *p
	done.NewBalance = customer.Balance
	done.OldBalance = customer.Balance.Sub(p.Amount)
	return &dto.CompletedTopUp{
		PendingTopUp:   done,
		ID:             order.ID,
		BookedAt:       order.BookedAt,
		CashierID:      order.CashierID,
		TillID:         order.TillID,
		CashRegisterID: order.CashRegisterID,
	}, nil
}

func (s *orderService) replayTopUp(ctx context.Context, tx *gorm.DB, order *model.Order, tagUID int64) (*dto.CompletedTopUp, error) {
	customer, err := s.customerBalance(ctx, tx, order.CustomerAccountID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, apierror.Internal("top-up %d has no customer", order.ID)
	}
	p := dto.PendingTopUp{
		UUID:              order.UUID.String(),
		Amount:            order.TotalPrice,
		CustomerTagUID:    tagUID,
		CustomerAccountID: customer.ID,
		OldBalance:        customer.Balance.Sub(order.TotalPrice),
		NewBalance:        customer.Balance,
	}
	if order.PaymentMethod != nil {
		p.PaymentMethod = string(*order.PaymentMethod)
	}
	return &dto.CompletedTopUp{
		PendingTopUp:   p,
		ID:             order.ID,
		BookedAt:       order.BookedAt,
		CashierID:      order.CashierID,
		TillID:         order.TillID,
		CashRegisterID: order.CashRegisterID,
	}, nil
}

// storePending persists a card payment that is booked once the provider
// reports it as paid.
func (s *orderService) storePending(ctx context.Context, tx *gorm.DB, term *Terminal, id uuid.UUID, t model.PendingOrderType, content any) error {
	raw, err := json.Marshal(content)
	if err != nil {
		return apierror.Internal("encode pending order: %v", err)
	}
	return apierror.FromDB(s.store.PendingOrders.CreatePendingOrder(ctx, tx, &model.PendingOrder{
		UUID:                id,
		NodeID:              term.Till.NodeID,
		TillID:              term.Till.ID,
		CashierID:           term.userID(),
		OrderType:           t,
		OrderContentVersion: 1,
		OrderContent:        string(raw),
		PaymentMethod:       model.PaymentSumUp,
		Status:              model.PendingStatusPending,
		CheckInterval:       1,
		CreatedAt:           s.now(),
	}))
}

// ─── Pay-out ─────────────────────────────────────────────────────────────────

func (s *orderService) CheckPayOut(ctx context.Context, term *Terminal, req dto.NewPayOut) (*dto.PendingPayOut, error) {
	var out *dto.PendingPayOut
	err := runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		id, p, err := s.quotePayOut(ctx, tx, term, req)
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

func (s *orderService) BookPayOut(ctx context.Context, term *Terminal, req dto.NewPayOut) (*dto.CompletedPayOut, error) {
	id, err := parseOrderUUID(req.UUID)
	if err != nil {
		return nil, err
	}
	release, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	var out *dto.CompletedPayOut
	err = runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		prev, err := s.previous(ctx, tx, id, model.OrderPayOut)
		if err != nil {
			return err
		}
		if prev != nil {
			out, err = s.replayPayOut(ctx, tx, prev, req.CustomerTagUID)
			return err
		}
		_, p, err := s.quotePayOut(ctx, tx, term, req)
		if err != nil {
			return err
		}
		bc := terminalContext(term)
		regAccount, err := s.registerAccount(ctx, tx, bc)
		if err != nil {
			return err
		}
		accs, err := s.booker.systemAccounts(ctx, tx, bc.EventNodeID, model.AccountCashTopupSource, model.AccountCashExit)
		if err != nil {
			return err
		}
		abs := p.Amount.Neg()
		line, err := s.booker.systemLineItem(ctx, tx, bc.EventNodeID, model.ProductPayOut, p.Amount, 1)
		if err != nil {
			return err
		}
		method := model.PaymentCash
		order, err := s.booker.book(ctx, tx, orderDraft{
			UUID:              id,
			NodeID:            bc.NodeID,
			TillID:            bc.TillID,
			CashierID:         bc.CashierID,
			CustomerAccountID: &p.CustomerAccountID,
			CashRegisterID:    bc.CashRegisterID,
			PaymentMethod:     &method,
			Type:              model.OrderPayOut,
			LineItems:         toLineItems([]dto.PendingLineItem{*line}),
			Postings: []Posting{
				{Source: p.CustomerAccountID, Target: accs[model.AccountCashTopupSource], Amount: abs, Description: "cash pay out"},
				{Source: regAccount, Target: accs[model.AccountCashExit], Amount: abs, Description: "cash pay out"},
			},
		})
		if err != nil {
			return err
		}
		out = &dto.CompletedPayOut{
			PendingPayOut:  *p,
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

func (s *orderService) quotePayOut(ctx context.Context, tx *gorm.DB, term *Terminal, req dto.NewPayOut) (uuid.UUID, *dto.PendingPayOut, error) {
	if err := term.requireUser(model.PrivCanBookOrders); err != nil {
		return uuid.Nil, nil, err
	}
	id, err := parseOrderUUID(req.UUID)
	if err != nil {
		return uuid.Nil, nil, err
	}
	if !term.Profile.AllowCashOut {
		return uuid.Nil, nil, apierror.TillPermission("pay-outs are not allowed at this till")
	}
	if err := requireRegister(terminalContext(term)); err != nil {
		return uuid.Nil, nil, err
	}
	customer, _, err := customerByTagUID(ctx, s.store, tx, term.EventNode.ID, req.CustomerTagUID)
	if err != nil {
		return uuid.Nil, nil, err
	}
	amount := customer.Balance.Neg()
	if req.Amount != nil {
		amount = *req.Amount
		if amount.IsPositive() {
			return uuid.Nil, nil, apierror.InvalidArgument("pay-out amount must not be positive")
		}
		if amount.Neg().GreaterThan(customer.Balance) {
			return uuid.Nil, nil, apierror.NotEnoughFunds(amount.Neg(), customer.Balance)
		}
	}
	if amount.IsZero() {
		return uuid.Nil, nil, apierror.InvalidArgument("nothing to pay out")
	}
	return id, &dto.PendingPayOut{
		UUID:              id.String(),
		Amount:            amount,
		CustomerTagUID:    req.CustomerTagUID,
		CustomerAccountID: customer.ID,
		OldBalance:        customer.Balance,
		NewBalance:        customer.Balance.Add(amount),
	}, nil
}

func (s *orderService) replayPayOut(ctx context.Context, tx *gorm.DB, order *model.Order, tagUID int64) (*dto.CompletedPayOut, error) {
	customer, err := s.customerBalance(ctx, tx, order.CustomerAccountID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, apierror.Internal("pay-out %d has no customer", order.ID)
	}
	return &dto.CompletedPayOut{
		PendingPayOut: dto.PendingPayOut{
			UUID:              order.UUID.String(),
			Amount:            order.TotalPrice,
			CustomerTagUID:    tagUID,
			CustomerAccountID: customer.ID,
			OldBalance:        customer.Balance.Sub(order.TotalPrice),
			NewBalance:        customer.Balance,
		},
		ID:             order.ID,
		BookedAt:       order.BookedAt,
		CashierID:      order.CashierID,
		TillID:         order.TillID,
		CashRegisterID: order.CashRegisterID,
	}, nil
}
