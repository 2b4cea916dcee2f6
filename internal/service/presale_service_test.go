package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stustapay/stustapay-sub000/internal/apierror"
	"github.com/stustapay/stustapay-sub000/internal/dto"
	"github.com/stustapay/stustapay-sub000/internal/model"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePresale serves fixed pages of orders.
type fakePresale struct {
	pages []dto.PresalePage
	err   error
}

func (p *fakePresale) ListOrders(_ context.Context, _ *model.Event, page int) (*dto.PresalePage, error) {
	if p.err != nil {
		return nil, p.err
	}
	if page > len(p.pages) {
		return &dto.PresalePage{}, nil
	}
	return &p.pages[page-1], nil
}

func (p *fakePresale) OrderLink(_ *model.Event, order dto.PresaleOrder) string {
	return "https://tickets.example.org/orders/" + order.Code
}

func (f *fixture) enablePresale(ticketIDs ...int64) {
	f.event.PretixPresaleEnabled = true
	f.event.PretixTicketIDs = pq.Int64Array(ticketIDs)
	require.NoError(f.t, f.store.Tree.UpdateEvent(f.ctx, nil, f.event))
}

func presalePages() []dto.PresalePage {
	next := "page2"
	mail := "buyer@example.org"
	attendee := "guest@example.org"
	return []dto.PresalePage{
		{Next: &next, Results: []dto.PresaleOrder{{
			Code:  "ABC12",
			Email: &mail,
			Positions: []dto.PresalePosition{
				{ID: 1, Item: 7, Secret: "secret-one"},
				{ID: 2, Item: 7, Secret: "secret-two", AttendeeEmail: &attendee},
				{ID: 3, Item: 99, Secret: "merch"},
			},
		}}},
		{Results: []dto.PresaleOrder{{
			Code:      "XYZ34",
			Positions: []dto.PresalePosition{{ID: 4, Item: 7, Secret: "secret-three"}, {ID: 5, Item: 7}},
		}}},
	}
}

func TestPresale_SyncImportsTicketPositions(t *testing.T) {
	f := newFixture(t)
	f.enablePresale(7)
	svc := NewPresaleService(f.store, f.auth, &fakePresale{pages: presalePages()})

	created, err := svc.SyncEvent(f.ctx, f.eventNode.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, created)

	vouchers, err := svc.ListTicketVouchers(f.ctx, f.admin, f.eventNode.ID)
	require.NoError(t, err)
	require.Len(t, vouchers, 3)

	byToken := map[string]model.TicketVoucher{}
	for _, v := range vouchers {
		byToken[v.Token] = v
	}
	one := byToken["secret-one"]
	assert.Equal(t, "ABC12", one.ExternalReference)
	assert.Equal(t, "https://tickets.example.org/orders/ABC12", one.ExternalLink)
	require.NotNil(t, one.Email)
	assert.Equal(t, "buyer@example.org", *one.Email)
	require.NotNil(t, byToken["secret-two"].Email)
	assert.Equal(t, "guest@example.org", *byToken["secret-two"].Email)
	assert.Nil(t, byToken["secret-three"].Email)

	acc := f.account(one.CustomerAccountID)
	assert.Equal(t, model.AccountPrivate, acc.Type)
	assert.Nil(t, acc.UserTagID)
	assert.True(t, acc.Balance.IsZero())
}

func TestPresale_SyncIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.enablePresale(7)
	svc := NewPresaleService(f.store, f.auth, &fakePresale{pages: presalePages()})

	_, err := svc.SyncEvent(f.ctx, f.eventNode.ID)
	require.NoError(t, err)
	created, err := svc.SyncAll(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, created)
}

func TestPresale_KeyedByOrderCodeAndSecret(t *testing.T) {
	f := newFixture(t)
	f.enablePresale(7)
	pages := []dto.PresalePage{{Results: []dto.PresaleOrder{
		{Code: "AAA11", Positions: []dto.PresalePosition{{ID: 1, Item: 7, Secret: "shared"}}},
		{Code: "BBB22", Positions: []dto.PresalePosition{{ID: 2, Item: 7, Secret: "shared"}}},
	}}}
	svc := NewPresaleService(f.store, f.auth, &fakePresale{pages: pages})

	created, err := svc.SyncEvent(f.ctx, f.eventNode.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	created, err = svc.SyncEvent(f.ctx, f.eventNode.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, created)

	vouchers, err := svc.ListTicketVouchers(f.ctx, f.admin, f.eventNode.ID)
	require.NoError(t, err)
	require.Len(t, vouchers, 2)
	assert.Equal(t, "AAA11", vouchers[0].ExternalReference)
	assert.Equal(t, "BBB22", vouchers[1].ExternalReference)
	assert.NotEqual(t, vouchers[0].CustomerAccountID, vouchers[1].CustomerAccountID)
}

func TestPresale_DisabledEventIsSkipped(t *testing.T) {
	f := newFixture(t)
	svc := NewPresaleService(f.store, f.auth, &fakePresale{pages: presalePages()})

	created, err := svc.SyncEvent(f.ctx, f.eventNode.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, created)
}

func TestPresale_ProviderErrorIsExternal(t *testing.T) {
	f := newFixture(t)
	f.enablePresale(7)
	svc := NewPresaleService(f.store, f.auth, &fakePresale{err: errors.New("timeout")})

	_, err := svc.SyncEvent(f.ctx, f.eventNode.ID)
	assert.Equal(t, apierror.KindExternalUnavailable, apierror.KindOf(err))
}

func TestPresale_ListNeedsCustomerManagement(t *testing.T) {
	f := newFixture(t)
	cashier := &Actor{UserID: f.term.User.ID, Login: f.term.User.Login}

	_, err := NewPresaleService(f.store, f.auth, &fakePresale{}).ListTicketVouchers(f.ctx, cashier, f.eventNode.ID)
	assert.Equal(t, apierror.KindAccessDenied, apierror.KindOf(err))
}

type recordingQueue struct{ nodes []int64 }

func (q *recordingQueue) EnqueuePresaleSync(_ context.Context, eventNodeID int64) error {
	q.nodes = append(q.nodes, eventNodeID)
	return nil
}

func TestPresale_RequestSyncEnqueuesEventNode(t *testing.T) {
	f := newFixture(t)
	f.enablePresale(7)
	svc := NewPresaleService(f.store, f.auth, &fakePresale{pages: presalePages()})

	q := &recordingQueue{}
	created, err := svc.RequestSync(f.ctx, f.admin, f.eventNode.ID, q)
	require.NoError(t, err)
	assert.Equal(t, 0, created)
	assert.Equal(t, []int64{f.eventNode.ID}, q.nodes)

	created, err = svc.RequestSync(f.ctx, f.admin, f.eventNode.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, created)
}

func TestPresale_RequestSyncNeedsNodeAdministration(t *testing.T) {
	f := newFixture(t)
	cashier := &Actor{UserID: f.term.User.ID, Login: f.term.User.Login}

	_, err := NewPresaleService(f.store, f.auth, &fakePresale{}).RequestSync(f.ctx, cashier, f.eventNode.ID, &recordingQueue{})
	assert.Equal(t, apierror.KindAccessDenied, apierror.KindOf(err))
}
