package service

import (
	"context"
	"time"

	"github.com/stustapay/stustapay-sub000/internal/apierror"
	"github.com/stustapay/stustapay-sub000/internal/dto"
	"github.com/stustapay/stustapay-sub000/internal/model"
	"github.com/stustapay/stustapay-sub000/internal/repository"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// maxPresalePages bounds one synchronisation run per event.
const maxPresalePages = 1000

// PresaleService imports paid presale tickets as unbound customer accounts.
type PresaleService interface {
	// SyncAll imports new tickets of every event with presale enabled.
	SyncAll(ctx context.Context) (int, error)
	// SyncEvent is the webhook entry point for a single event node.
	SyncEvent(ctx context.Context, eventNodeID int64) (int, error)
	// RequestSync authorizes an admin-triggered sync of the event owning
	// nodeID and hands it to queue. Without a queue it syncs inline.
	RequestSync(ctx context.Context, actor *Actor, nodeID int64, queue SyncQueue) (int, error)
	ListTicketVouchers(ctx context.Context, actor *Actor, nodeID int64) ([]model.TicketVoucher, error)
}

// SyncQueue defers a presale sync to the background workers.
type SyncQueue interface {
	EnqueuePresaleSync(ctx context.Context, eventNodeID int64) error
}

type presaleService struct {
	store    *repository.Store
	auth     *Authorizer
	provider PresaleProvider
	now      Clock
}

func NewPresaleService(store *repository.Store, auth *Authorizer, provider PresaleProvider) PresaleService {
	return &presaleService{store: store, auth: auth, provider: provider, now: time.Now}
}

func (s *presaleService) SyncAll(ctx context.Context) (int, error) {
	nodes, err := s.store.Tree.ListEventNodes(ctx, nil)
	if err != nil {
		return 0, apierror.FromDB(err)
	}
	total := 0
	for _, n := range nodes {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		created, err := s.SyncEvent(ctx, n.ID)
		if err != nil {
			log.Error().Err(err).Int64("node_id", n.ID).Msg("presale: sync failed")
			continue
		}
		total += created
	}
	return total, nil
}

func (s *presaleService) SyncEvent(ctx context.Context, eventNodeID int64) (int, error) {
	node, event, err := eventOf(ctx, s.store.Tree, nil, eventNodeID)
	if err != nil {
		return 0, err
	}
	if node.ID != eventNodeID {
		return 0, apierror.InvalidArgument("node %d is not an event", eventNodeID)
	}
	if !event.PretixPresaleEnabled {
		return 0, nil
	}
	ticketIDs := map[int64]bool{}
	for _, id := range event.PretixTicketIDs {
		ticketIDs[id] = true
	}

	created := 0
	for page := 1; page <= maxPresalePages; page++ {
		result, err := s.provider.ListOrders(ctx, event, page)
		if err != nil {
			return created, apierror.ExternalUnavailable("presale provider: %v", err)
		}
		for _, order := range result.Results {
			n, err := s.importOrder(ctx, node.ID, event, ticketIDs, order)
			if err != nil {
				return created, err
			}
			created += n
		}
		if result.Next == nil {
			break
		}
	}
	if created > 0 {
		log.Info().Int64("node_id", node.ID).Int("created", created).Msg("presale: tickets imported")
	}
	return created, nil
}

// importOrder creates one voucher per unseen (order code, position secret)
// pair. The secret printed on the ticket is the voucher token.
func (s *presaleService) importOrder(ctx context.Context, eventNodeID int64, event *model.Event, ticketIDs map[int64]bool, order dto.PresaleOrder) (int, error) {
	created := 0
	err := runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		for _, pos := range order.Positions {
			if !ticketIDs[pos.Item] || pos.Secret == "" {
				continue
			}
			_, err := s.store.Presale.FindTicketVoucher(ctx, tx, order.Code, pos.Secret)
			if err == nil {
				continue
			}
			if !isNotFound(err) {
				return apierror.FromDB(err)
			}

			acc := &model.Account{NodeID: eventNodeID, Type: model.AccountPrivate, Name: "presale " + order.Code, Balance: decimal.Zero}
			if err := s.store.Accounts.CreateAccount(ctx, tx, acc); err != nil {
				return apierror.FromDB(err)
			}
			email := pos.AttendeeEmail
			if email == nil {
				email = order.Email
			}
			voucher := &model.TicketVoucher{
				NodeID:            eventNodeID,
				CustomerAccountID: acc.ID,
				Token:             pos.Secret,
				ExternalReference: order.Code,
				ExternalLink:      s.provider.OrderLink(event, order),
				Email:             email,
				CreatedAt:         s.now(),
			}
			if err := s.store.Presale.CreateTicketVoucher(ctx, tx, voucher); err != nil {
				return apierror.FromDB(err)
			}
			created++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

func (s *presaleService) RequestSync(ctx context.Context, actor *Actor, nodeID int64, queue SyncQueue) (int, error) {
	var eventNodeID int64
	err := runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		if err := s.auth.Require(ctx, tx, actor, nodeID, model.PrivNodeAdministration); err != nil {
			return err
		}
		eventNode, _, err := eventOf(ctx, s.store.Tree, tx, nodeID)
		if err != nil {
			return err
		}
		eventNodeID = eventNode.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	if queue == nil {
		return s.SyncEvent(ctx, eventNodeID)
	}
	if err := queue.EnqueuePresaleSync(ctx, eventNodeID); err != nil {
		return 0, apierror.Internal("enqueue presale sync: %v", err)
	}
	return 0, nil
}

func (s *presaleService) ListTicketVouchers(ctx context.Context, actor *Actor, nodeID int64) ([]model.TicketVoucher, error) {
	var out []model.TicketVoucher
	err := runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		if err := s.auth.Require(ctx, tx, actor, nodeID, model.PrivCustomerManagement); err != nil {
			return err
		}
		eventNode, _, err := eventOf(ctx, s.store.Tree, tx, nodeID)
		if err != nil {
			return err
		}
		out, err = s.store.Presale.ListTicketVouchers(ctx, tx, eventNode.ID)
		return apierror.FromDB(err)
	})
	return out, err
}
