package service

import (
	"context"
	"time"

	"github.com/stustapay/stustapay-sub000/internal/apierror"
	"github.com/stustapay/stustapay-sub000/internal/dto"
	"github.com/stustapay/stustapay-sub000/internal/model"
	"github.com/stustapay/stustapay-sub000/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderService is the order engine. Every check/book pair takes the same
// payload; check has no side effects, book commits.
type OrderService interface {
	CheckSale(ctx context.Context, term *Terminal, req dto.NewSale) (*dto.PendingSale, error)
	BookSale(ctx context.Context, term *Terminal, req dto.NewSale) (*dto.CompletedSale, error)

	CheckTopUp(ctx context.Context, term *Terminal, req dto.NewTopUp) (*dto.PendingTopUp, error)
	BookTopUp(ctx context.Context, term *Terminal, req dto.NewTopUp) (*dto.CompletedTopUp, error)
	// CreatePendingTopUp stores a card top-up until the provider confirms it.
	CreatePendingTopUp(ctx context.Context, term *Terminal, req dto.NewTopUp) (*dto.PendingTopUp, error)

	CheckPayOut(ctx context.Context, term *Terminal, req dto.NewPayOut) (*dto.PendingPayOut, error)
	BookPayOut(ctx context.Context, term *Terminal, req dto.NewPayOut) (*dto.CompletedPayOut, error)

	CheckTicketScan(ctx context.Context, term *Terminal, req dto.NewTicketScan) (*dto.TicketScanResult, error)
	CheckTicketSale(ctx context.Context, term *Terminal, req dto.NewTicketSale) (*dto.PendingTicketSale, error)
	BookTicketSale(ctx context.Context, term *Terminal, req dto.NewTicketSale) (*dto.CompletedTicketSale, error)
	CreatePendingTicketSale(ctx context.Context, term *Terminal, req dto.NewTicketSale) (*dto.PendingTicketSale, error)

	CancelSale(ctx context.Context, term *Terminal, orderID int64) (*model.Order, error)
	// CancelSaleAdmin cancels from the tree, booking on the event's virtual till.
	CancelSaleAdmin(ctx context.Context, actor *Actor, nodeID, orderID int64) (*model.Order, error)

	ListTerminalOrders(ctx context.Context, term *Terminal) ([]model.Order, error)
	ListOrders(ctx context.Context, actor *Actor, nodeID int64, filter dto.OrderFilter) ([]model.Order, int64, error)
	GetOrder(ctx context.Context, actor *Actor, nodeID, orderID int64) (*model.Order, error)
	ListCustomerOrders(ctx context.Context, customerID int64, filter dto.OrderFilter) ([]model.Order, int64, error)
	Bon(ctx context.Context, actor *Actor, nodeID, orderID int64) ([]byte, error)
}

type orderService struct {
	store  *repository.Store
	ledger LedgerService
	booker *orderBooker
	auth   *Authorizer
	audit  AuditService
	locker Locker
	bons   BonRenderer
	now    Clock
}

func NewOrderService(store *repository.Store, ledger LedgerService, auth *Authorizer, audit AuditService, signer FiscalSigner, locker Locker, bons BonRenderer) OrderService {
	return &orderService{
		store:  store,
		ledger: ledger,
		booker: newOrderBooker(store, ledger, signer),
		auth:   auth,
		audit:  audit,
		locker: locker,
		bons:   bons,
		now:    time.Now,
	}
}

// bookingContext is where and by whom an order is booked. Terminal orders
// take it from the till, deferred orders from the stored pending row.
type bookingContext struct {
	NodeID         int64
	EventNodeID    int64
	TillID         int64
	CashierID      *int64
	CashRegisterID *int64
	// MaxBalance bounds credited customers; nil for deferred card payments.
	MaxBalance     *decimal.Decimal
	BookedAt       time.Time
}

func terminalContext(term *Terminal) bookingContext {
	return bookingContext{
		NodeID:         term.Till.NodeID,
		EventNodeID:    term.EventNode.ID,
		TillID:         term.Till.ID,
		CashierID:      term.userID(),
		CashRegisterID: term.Till.ActiveCashRegisterID,
		MaxBalance:     &term.Event.MaxAccountBalance,
	}
}

// lock serializes book calls of the same uuid. A failing lock backend only
// degrades to the database unique constraint.
func (s *orderService) lock(ctx context.Context, id uuid.UUID) (func(), error) {
	noop := func() {}
	if s.locker == nil {
		return noop, nil
	}
	release, err := s.locker.Lock(ctx, id.String())
	if err != nil {
		if apierror.KindOf(err) == apierror.KindConflict {
			return nil, err
		}
		log.Warn().Err(err).Str("order_uuid", id.String()).Msg("order lock unavailable")
		return noop, nil
	}
	return release, nil
}

// previous returns the order already booked under id, or nil.
func (s *orderService) previous(ctx context.Context, tx *gorm.DB, id uuid.UUID, t model.OrderType) (*model.Order, error) {
	order, err := s.store.Orders.FindOrderByUUID(ctx, tx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, apierror.FromDB(err)
	}
	if order.OrderType != t {
		return nil, apierror.Conflict("uuid %s belongs to an order of type %s", id, order.OrderType)
	}
	return order, nil
}

// checkFresh rejects uuids that were booked or deferred before.
func (s *orderService) checkFresh(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	if _, err := s.store.Orders.FindOrderByUUID(ctx, tx, id); err == nil {
		return apierror.AlreadyProcessed("order %s has already been booked", id)
	} else if !isNotFound(err) {
		return apierror.FromDB(err)
	}
	if _, err := s.store.PendingOrders.GetPendingOrder(ctx, tx, id); err == nil {
		return apierror.AlreadyProcessed("order %s is awaiting payment confirmation", id)
	} else if !isNotFound(err) {
		return apierror.FromDB(err)
	}
	return nil
}

func allowPayment(p *model.TillProfile, m model.PaymentMethod) error {
	switch m {
	case model.PaymentCash:
		if p.EnableCashPayment {
			return nil
		}
	case model.PaymentSumUp:
		if p.EnableCardPayment {
			return nil
		}
	case model.PaymentTag:
		if p.EnableSSPPayment {
			return nil
		}
	default:
		return apierror.InvalidArgument("payment method %q is not supported at terminals", m)
	}
	return apierror.TillPermission("payment method %s is not enabled at this till", m)
}

func requireRegister(bc bookingContext) error {
	if bc.CashRegisterID == nil {
		return apierror.InvalidArgument("no cash register is attached to this till")
	}
	return nil
}

// registerAccount returns the ledger account of the till's cash register.
func (s *orderService) registerAccount(ctx context.Context, tx *gorm.DB, bc bookingContext) (int64, error) {
	if err := requireRegister(bc); err != nil {
		return 0, err
	}
	reg, err := s.store.CashRegisters.GetRegister(ctx, tx, *bc.CashRegisterID)
	if err != nil {
		return 0, lookup(err, "cash register %d not found", *bc.CashRegisterID)
	}
	return reg.AccountID, nil
}

// customerBalance reads the current balance of a customer account.
func (s *orderService) customerBalance(ctx context.Context, tx *gorm.DB, id *int64) (*model.Account, error) {
	if id == nil {
		return nil, nil
	}
	return s.ledger.GetAccount(ctx, tx, *id)
}

// ─── Cancellation ────────────────────────────────────────────────────────────

func (s *orderService) CancelSale(ctx context.Context, term *Terminal, orderID int64) (*model.Order, error) {
	if err := term.requireUser(model.PrivCanBookOrders); err != nil {
		return nil, err
	}
	var cancel *model.Order
	err := runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		order, err := s.cancellable(ctx, tx, orderID, term.EventNode.ID)
		if err != nil {
			return err
		}
		if order.PaymentMethod != nil && *order.PaymentMethod == model.PaymentCash {
			return apierror.InvalidArgument("cash sales cannot be cancelled at a terminal")
		}
		cancel, err = s.cancel(ctx, tx, order, terminalContext(term))
		if err != nil {
			return err
		}
		s.audit.Log(ctx, tx, AuditEntry{NodeID: term.Till.NodeID, Type: model.AuditSaleCancelled, UserID: term.userID(), TerminalID: &term.Till.ID, Content: map[string]any{"order_id": orderID, "cancel_order_id": cancel.ID}})
		return nil
	})
	return cancel, err
}

func (s *orderService) CancelSaleAdmin(ctx context.Context, actor *Actor, nodeID, orderID int64) (*model.Order, error) {
	var cancel *model.Order
	err := runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		if err := s.auth.Require(ctx, tx, actor, nodeID, model.PrivCanBookOrders); err != nil {
			return err
		}
		eventNode, event, err := eventOf(ctx, s.store.Tree, tx, nodeID)
		if err != nil {
			return err
		}
		order, err := s.cancellable(ctx, tx, orderID, eventNode.ID)
		if err != nil {
			return err
		}
		if err := s.inSubtree(ctx, tx, order.NodeID, nodeID); err != nil {
			return err
		}
		virtual, err := s.store.Tills.FindVirtualTill(ctx, tx, eventNode.ID)
		if err != nil {
			return lookup(err, "event node %d has no virtual till", eventNode.ID)
		}
		bc := bookingContext{
			NodeID:         eventNode.ID,
			EventNodeID:    eventNode.ID,
			TillID:         virtual.ID,
			CashierID:      &actor.UserID,
			CashRegisterID: order.CashRegisterID,
			MaxBalance:     &event.MaxAccountBalance,
		}
		if cancel, err = s.cancel(ctx, tx, order, bc); err != nil {
			return err
		}
		s.audit.Log(ctx, tx, AuditEntry{NodeID: nodeID, Type: model.AuditSaleCancelled, UserID: &actor.UserID, Content: map[string]any{"order_id": orderID, "cancel_order_id": cancel.ID}})
		return nil
	})
	return cancel, err
}

// cancellable loads a sale of the event that has not been cancelled yet.
func (s *orderService) cancellable(ctx context.Context, tx *gorm.DB, orderID, eventNodeID int64) (*model.Order, error) {
	order, err := s.store.Orders.GetOrder(ctx, tx, orderID)
	if err != nil {
		return nil, lookup(err, "order %d not found", orderID)
	}
	if err := s.inSubtree(ctx, tx, order.NodeID, eventNodeID); err != nil {
		return nil, err
	}
	switch order.OrderType {
	case model.OrderSale:
	case model.OrderTicket:
		return nil, apierror.Conflict("ticket sales cannot be cancelled")
	default:
		return nil, apierror.InvalidArgument("order %d is not a sale", orderID)
	}
	if _, err := s.store.Orders.FindCancellation(ctx, tx, orderID); err == nil {
		return nil, apierror.Conflict("order %d has already been cancelled", orderID)
	} else if !isNotFound(err) {
		return nil, apierror.FromDB(err)
	}
	return order, nil
}

// inSubtree fails with NotFound unless nodeID lies at or below rootID.
func (s *orderService) inSubtree(ctx context.Context, tx *gorm.DB, nodeID, rootID int64) error {
	node, err := s.store.Tree.GetNode(ctx, tx, nodeID)
	if err != nil {
		return lookup(err, "node %d not found", nodeID)
	}
	for _, id := range nodeScope(node) {
		if id == rootID {
			return nil
		}
	}
	return apierror.NotFound("order not found at node %d", rootID)
}

// cancel books the mirror image of order: every transaction reversed and
// every line item negated.
func (s *orderService) cancel(ctx context.Context, tx *gorm.DB, order *model.Order, bc bookingContext) (*model.Order, error) {
	txs, err := s.ledger.ListTransactions(ctx, tx, order.ID)
	if err != nil {
		return nil, err
	}
	postings := make([]Posting, 0, len(txs))
	for _, t := range txs {
		postings = append(postings, Posting{
			Source:      t.TargetAccountID,
			Target:      t.SourceAccountID,
			Amount:      t.Amount,
			Vouchers:    t.VoucherAmount,
			Description: "cancel",
		})
	}
	items := make([]model.LineItem, 0, len(order.LineItems))
	for _, li := range order.LineItems {
		li.ID, li.OrderID = 0, 0
		li.Quantity = -li.Quantity
		items = append(items, li)
	}
	return s.booker.book(ctx, tx, orderDraft{
		NodeID:            bc.NodeID,
		TillID:            bc.TillID,
		CashierID:         bc.CashierID,
		CustomerAccountID: order.CustomerAccountID,
		CashRegisterID:    order.CashRegisterID,
		PaymentMethod:     order.PaymentMethod,
		Type:              model.OrderCancelSale,
		CancelsOrder:      &order.ID,
		LineItems:         items,
		Postings:          postings,
	})
}

// ─── Listing ─────────────────────────────────────────────────────────────────

func (s *orderService) ListTerminalOrders(ctx context.Context, term *Terminal) ([]model.Order, error) {
	if err := term.requireUser(model.PrivCanBookOrders); err != nil {
		return nil, err
	}
	orders, _, err := s.store.Orders.ListOrders(ctx, nil, dto.OrderFilter{TillID: &term.Till.ID, Page: 1, Limit: 100})
	return orders, apierror.FromDB(err)
}

func (s *orderService) ListOrders(ctx context.Context, actor *Actor, nodeID int64, filter dto.OrderFilter) ([]model.Order, int64, error) {
	if err := s.auth.Require(ctx, nil, actor, nodeID, model.PrivViewNodeStats); err != nil {
		return nil, 0, err
	}
	filter.NodeID = nodeID
	normalizePage(&filter)
	orders, total, err := s.store.Orders.ListOrders(ctx, nil, filter)
	return orders, total, apierror.FromDB(err)
}

func (s *orderService) GetOrder(ctx context.Context, actor *Actor, nodeID, orderID int64) (*model.Order, error) {
	if err := s.auth.Require(ctx, nil, actor, nodeID, model.PrivViewNodeStats); err != nil {
		return nil, err
	}
	order, err := s.store.Orders.GetOrder(ctx, nil, orderID)
	if err != nil {
		return nil, lookup(err, "order %d not found", orderID)
	}
	if err := s.inSubtree(ctx, nil, order.NodeID, nodeID); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *orderService) ListCustomerOrders(ctx context.Context, customerID int64, filter dto.OrderFilter) ([]model.Order, int64, error) {
	filter.NodeID = 0
	filter.TillID = nil
	filter.CustomerAccountID = &customerID
	normalizePage(&filter)
	orders, total, err := s.store.Orders.ListOrders(ctx, nil, filter)
	return orders, total, apierror.FromDB(err)
}

func (s *orderService) Bon(ctx context.Context, actor *Actor, nodeID, orderID int64) ([]byte, error) {
	order, err := s.GetOrder(ctx, actor, nodeID, orderID)
	if err != nil {
		return nil, err
	}
	if s.bons == nil {
		return nil, apierror.Internal("bon rendering is not configured")
	}
	eventNode, event, err := eventOf(ctx, s.store.Tree, nil, order.NodeID)
	if err != nil {
		return nil, err
	}
	pdf, err := s.bons.RenderBon(order, eventNode.Name, event.Currency)
	if err != nil {
		return nil, apierror.Internal("render bon: %v", err)
	}
	return pdf, nil
}

func normalizePage(f *dto.OrderFilter) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 || f.Limit > 200 {
		f.Limit = 50
	}
}
