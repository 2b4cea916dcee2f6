package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stustapay/stustapay-sub000/internal/apierror"
	"github.com/stustapay/stustapay-sub000/internal/dto"
	"github.com/stustapay/stustapay-sub000/internal/model"
	"github.com/stustapay/stustapay-sub000/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// PendingOrderService reconciles card payments that were confirmed by the
// provider after the terminal or the customer portal gave up waiting.
type PendingOrderService interface {
	CheckPendingTopUp(ctx context.Context, term *Terminal, req dto.CheckPendingRequest) (*dto.PendingOrderStatus, error)
	CheckPendingTicketSale(ctx context.Context, term *Terminal, req dto.CheckPendingRequest) (*dto.PendingOrderStatus, error)
	// CheckCheckout is the customer portal variant for online top-ups.
	CheckCheckout(ctx context.Context, customerID int64, req dto.CheckPendingRequest) (*dto.PendingOrderStatus, error)
	// ReconcileDue polls every due pending order once and returns how many
	// changed state.
	ReconcileDue(ctx context.Context) (int, error)
}

type pendingOrderService struct {
	store       *repository.Store
	orders      *orderService
	cards       CardPaymentProvider
	maxInterval int
	now         Clock
}

func NewPendingOrderService(store *repository.Store, ledger LedgerService, signer FiscalSigner, cards CardPaymentProvider, maxInterval int) PendingOrderService {
	return &pendingOrderService{
		store: store,
		orders: &orderService{
			store:  store,
			ledger: ledger,
			booker: newOrderBooker(store, ledger, signer),
			now:    time.Now,
		},
		cards:       cards,
		maxInterval: maxInterval,
		now:         time.Now,
	}
}

func (s *pendingOrderService) CheckPendingTopUp(ctx context.Context, term *Terminal, req dto.CheckPendingRequest) (*dto.PendingOrderStatus, error) {
	return s.checkAtTill(ctx, term, req, model.PendingOrderTopUp)
}

func (s *pendingOrderService) CheckPendingTicketSale(ctx context.Context, term *Terminal, req dto.CheckPendingRequest) (*dto.PendingOrderStatus, error) {
	return s.checkAtTill(ctx, term, req, model.PendingOrderTicket)
}

func (s *pendingOrderService) checkAtTill(ctx context.Context, term *Terminal, req dto.CheckPendingRequest, t model.PendingOrderType) (*dto.PendingOrderStatus, error) {
	id, err := parseOrderUUID(req.UUID)
	if err != nil {
		return nil, err
	}
	return s.reconcile(ctx, id, func(p *model.PendingOrder) error {
		if p.TillID != term.Till.ID || p.OrderType != t {
			return apierror.NotFound("pending %s order %s not found", t, id)
		}
		return nil
	})
}

func (s *pendingOrderService) CheckCheckout(ctx context.Context, customerID int64, req dto.CheckPendingRequest) (*dto.PendingOrderStatus, error) {
	id, err := parseOrderUUID(req.UUID)
	if err != nil {
		return nil, err
	}
	return s.reconcile(ctx, id, func(p *model.PendingOrder) error {
		if p.OrderType != model.PendingOrderTopUp || p.PaymentMethod != model.PaymentSumUpOnline {
			return apierror.NotFound("checkout %s not found", id)
		}
		var content dto.PendingTopUp
		if err := json.Unmarshal([]byte(p.OrderContent), &content); err != nil || content.CustomerAccountID != customerID {
			return apierror.NotFound("checkout %s not found", id)
		}
		return nil
	})
}

func (s *pendingOrderService) ReconcileDue(ctx context.Context) (int, error) {
	due, err := s.store.PendingOrders.ListDuePendingOrders(ctx, nil, s.now())
	if err != nil {
		return 0, apierror.FromDB(err)
	}
	changed := 0
	for _, p := range due {
		if ctx.Err() != nil {
			return changed, ctx.Err()
		}
		status, err := s.reconcile(ctx, p.UUID, nil)
		if err != nil {
			log.Error().Err(err).Str("uuid", p.UUID.String()).Msg("pending: reconciliation failed")
			continue
		}
		if status.Status != string(model.PendingStatusPending) {
			changed++
		}
	}
	return changed, nil
}

// reconcile polls the provider for one pending order inside a serializable
// transaction. A concurrent second call sees the final status and returns it.
func (s *pendingOrderService) reconcile(ctx context.Context, id uuid.UUID, check func(*model.PendingOrder) error) (*dto.PendingOrderStatus, error) {
	status := &dto.PendingOrderStatus{UUID: id.String()}
	polled := false
	err := runSerializable(ctx, s.store.DB(), func(tx *gorm.DB) error {
		p, err := s.store.PendingOrders.LockPendingOrder(ctx, tx, id)
		if err != nil {
			return lookup(err, "pending order %s not found", id)
		}
		if check != nil {
			if err := check(p); err != nil {
				return err
			}
		}
		status.Status = string(p.Status)
		if p.Status != model.PendingStatusPending {
			if p.Status == model.PendingStatusBooked {
				status.OrderID = s.bookedOrderID(ctx, tx, id)
			}
			return nil
		}

		eventNode, event, err := eventOf(ctx, s.store.Tree, tx, p.NodeID)
		if err != nil {
			return err
		}
		now := s.now()
		p.LastChecked = &now

		polled = true
		checkout, err := s.cards.GetCheckout(ctx, event, id.String())
		switch {
		case err != nil:
			return apierror.ExternalUnavailable("card payment provider: %v", err)
		case checkout == nil:
			p.CheckInterval = model.NextCheckInterval(p.CheckInterval, s.maxInterval)
		case checkout.Status == dto.CheckoutFailed:
			p.Status = model.PendingStatusCancelled
		case checkout.Status == dto.CheckoutPaid:
			orderID, err := s.commit(ctx, tx, eventNode.ID, p)
			if err != nil {
				return err
			}
			p.Status = model.PendingStatusBooked
			status.OrderID = &orderID
		default:
			p.CheckInterval = model.NextCheckInterval(p.CheckInterval, s.maxInterval)
		}
		if err := s.store.PendingOrders.UpdatePendingOrder(ctx, tx, p); err != nil {
			return apierror.FromDB(err)
		}
		status.Status = string(p.Status)
		return nil
	})
	if err != nil {
		if polled {
			s.backOff(ctx, id)
		}
		return nil, err
	}
	if status.Status != string(model.PendingStatusPending) {
		log.Info().Str("uuid", id.String()).Str("status", status.Status).Msg("pending: order reconciled")
	}
	return status, nil
}

// backOff records a failed poll after the reconciliation was rolled back, so
// an unreachable provider or a failing commit is retried at a growing interval.
func (s *pendingOrderService) backOff(ctx context.Context, id uuid.UUID) {
	err := runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		p, err := s.store.PendingOrders.LockPendingOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		if p.Status != model.PendingStatusPending {
			return nil
		}
		now := s.now()
		p.LastChecked = &now
		p.CheckInterval = model.NextCheckInterval(p.CheckInterval, s.maxInterval)
		return s.store.PendingOrders.UpdatePendingOrder(ctx, tx, p)
	})
	if err != nil {
		log.Warn().Err(err).Str("uuid", id.String()).Msg("pending: recording backoff failed")
	}
}

func (s *pendingOrderService) bookedOrderID(ctx context.Context, tx *gorm.DB, id uuid.UUID) *int64 {
	order, err := s.store.Orders.FindOrderByUUID(ctx, tx, id)
	if err != nil {
		return nil
	}
	return &order.ID
}

// commit books the stored order as of its creation time. Card payments are
// already settled, so the balance limit no longer applies.
func (s *pendingOrderService) commit(ctx context.Context, tx *gorm.DB, eventNodeID int64, p *model.PendingOrder) (int64, error) {
	if p.OrderContentVersion != 1 {
		return 0, apierror.Internal("pending order %s has unknown content version %d", p.UUID, p.OrderContentVersion)
	}
	bc := bookingContext{
		NodeID:      p.NodeID,
		EventNodeID: eventNodeID,
		TillID:      p.TillID,
		CashierID:   p.CashierID,
		BookedAt:    p.CreatedAt,
	}
	switch p.OrderType {
	case model.PendingOrderTopUp:
		var content dto.PendingTopUp
		if err := json.Unmarshal([]byte(p.OrderContent), &content); err != nil {
			return 0, apierror.Internal("decode pending top-up %s: %v", p.UUID, err)
		}
		done, err := s.orders.commitTopUp(ctx, tx, bc, p.UUID, &content)
		if err != nil {
			return 0, err
		}
		return done.ID, nil
	case model.PendingOrderTicket:
		var content dto.PendingTicketSale
		if err := json.Unmarshal([]byte(p.OrderContent), &content); err != nil {
			return 0, apierror.Internal("decode pending ticket sale %s: %v", p.UUID, err)
		}
		done, err := s.orders.commitTicketSale(ctx, tx, bc, p.UUID, &content)
		if err != nil {
			return 0, err
		}
		return done.ID, nil
	default:
		return 0, apierror.Internal("pending order %s has unknown type %s", p.UUID, p.OrderType)
	}
}
