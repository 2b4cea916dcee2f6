package service

import (
	"testing"

	"github.com/stustapay/stustapay-sub000/internal/apierror"
	"github.com/stustapay/stustapay-sub000/internal/dto"
	"github.com/stustapay/stustapay-sub000/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) tree() TreeService {
	return NewTreeService(f.store, f.ledger, f.auth, f.audit)
}

func TestTree_CreateEventSeedsSystemObjects(t *testing.T) {
	f := newFixture(t)

	for _, typ := range model.SystemProductTypes {
		p, err := f.store.Catalog.FindSystemProduct(f.ctx, nil, f.eventNode.ID, typ)
		require.NoError(t, err, typ)
		assert.True(t, p.IsLocked)
	}
	till, err := f.store.Tills.FindVirtualTill(f.ctx, nil, f.eventNode.ID)
	require.NoError(t, err)
	assert.True(t, till.IsVirtual)

	none, err := f.store.Catalog.FindTaxRateByName(f.ctx, nil, []int64{f.eventNode.ID}, "none")
	require.NoError(t, err)
	assert.True(t, none.Rate.IsZero())

	_, err = f.ledger.SystemAccount(f.ctx, nil, f.eventNode.ID, model.AccountSaleExit)
	assert.NoError(t, err)
}

func TestTree_EventsCannotBeNested(t *testing.T) {
	f := newFixture(t)

	_, err := f.tree().CreateEvent(f.ctx, f.admin, f.eventNode.ID, dto.NewEventRequest{
		NewNodeRequest: dto.NewNodeRequest{Name: "inner"},
		EventSettings:  dto.EventSettings{Currency: "EUR", MaxAccountBalance: dec("100")},
	})
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err))
}

func TestTree_EventSettingsValidation(t *testing.T) {
	f := newFixture(t)
	tree := f.tree()

	_, err := tree.CreateEvent(f.ctx, f.admin, f.root.ID, dto.NewEventRequest{
		NewNodeRequest: dto.NewNodeRequest{Name: "broke"},
		EventSettings:  dto.EventSettings{Currency: "EUR", MaxAccountBalance: dec("0")},
	})
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err), "max balance must be positive")

	_, err = tree.UpdateEvent(f.ctx, f.admin, f.eventNode.ID, dto.EventSettings{
		Currency:          "EUR",
		MaxAccountBalance: dec("150"),
		SepaEnabled:       true,
		SepaSenderIBAN:    "DE00 0000 0000",
	})
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err), "bad sender iban")

	event, err := tree.UpdateEvent(f.ctx, f.admin, f.eventNode.ID, dto.EventSettings{
		Currency:          "EUR",
		MaxAccountBalance: dec("200"),
	})
	require.NoError(t, err)
	assert.True(t, event.MaxAccountBalance.Equal(dec("200")))

	_, err = tree.UpdateEvent(f.ctx, f.admin, f.root.ID, dto.EventSettings{Currency: "EUR", MaxAccountBalance: dec("1")})
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err), "root is not an event")
}

func TestTree_ForbiddenObjectsAreInherited(t *testing.T) {
	f := newFixture(t)
	tree := f.tree()

	bar, err := tree.CreateNode(f.ctx, f.admin, f.eventNode.ID, dto.NewNodeRequest{
		Name:                      "bar",
		ForbiddenObjectsAtNode:    []string{string(model.ObjectTill)},
		ForbiddenObjectsInSubtree: []string{string(model.ObjectProduct)},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"product", "till"}, bar.ComputedForbiddenObjectsAtNode)
	assert.Equal(t, []string{"product"}, bar.ComputedForbiddenObjectsInSubtree)

	shift, err := tree.CreateNode(f.ctx, f.admin, bar.ID, dto.NewNodeRequest{Name: "night shift"})
	require.NoError(t, err)
	assert.Equal(t, []string{"product"}, shift.ComputedForbiddenObjectsAtNode, "at node bans stay at their node")
	assert.Equal(t, []int64{f.root.ID, f.eventNode.ID, bar.ID}, shift.ParentIDs)

	catalog := NewCatalogService(f.store, f.auth, f.audit)
	_, err = catalog.CreateProduct(f.ctx, f.admin, shift.ID, dto.NewProductRequest{
		Name: "Cocktail", Price: ptr(dec("8")), FixedPrice: true, TaxRateID: f.ust.ID,
	})
	assert.Equal(t, apierror.KindAccessDenied, apierror.KindOf(err))

	_, err = catalog.CreateTaxRate(f.ctx, f.admin, shift.ID, dto.NewTaxRateRequest{Name: "reduced", Rate: dec("0.07")})
	assert.NoError(t, err, "tax rates are not banned")

	_, err = catalog.ListProducts(f.ctx, f.admin, bar.ID)
	assert.Equal(t, apierror.KindAccessDenied, apierror.KindOf(err), "products are hidden in the subtree")
}

func TestTree_UnknownObjectTypeRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.tree().CreateNode(f.ctx, f.admin, f.eventNode.ID, dto.NewNodeRequest{
		Name:                   "odd",
		ForbiddenObjectsAtNode: []string{"spaceship"},
	})
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err))
}

func TestTree_RequiresNodeAdministration(t *testing.T) {
	f := newFixture(t)
	tree := f.tree()

	outsider := &model.User{NodeID: f.eventNode.ID, Login: "outsider"}
	require.NoError(t, f.store.Users.CreateUser(f.ctx, nil, outsider))
	actor := &Actor{UserID: outsider.ID, Login: outsider.Login}

	_, err := tree.CreateNode(f.ctx, actor, f.eventNode.ID, dto.NewNodeRequest{Name: "sneaky"})
	assert.Equal(t, apierror.KindAccessDenied, apierror.KindOf(err))

	_, err = tree.GetNode(f.ctx, actor, f.eventNode.ID)
	assert.Equal(t, apierror.KindAccessDenied, apierror.KindOf(err))

	_, err = tree.CreateNode(f.ctx, nil, f.eventNode.ID, dto.NewNodeRequest{Name: "anon"})
	assert.Equal(t, apierror.KindUnauthorized, apierror.KindOf(err))
}

func TestTree_GetTreeForUserStartsAtHomeNodes(t *testing.T) {
	f := newFixture(t)
	tree := f.tree()

	child, err := tree.CreateNode(f.ctx, f.admin, f.eventNode.ID, dto.NewNodeRequest{Name: "entrance"})
	require.NoError(t, err)

	roots, err := tree.GetTreeForUser(f.ctx, f.admin)
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, f.root.ID, roots[0].ID)
	require.Len(t, roots[0].Children, 1)
	event := roots[0].Children[0]
	assert.Equal(t, f.eventNode.ID, event.ID)
	require.Len(t, event.Children, 1)
	assert.Equal(t, child.ID, event.Children[0].ID)

	chain, err := tree.AncestorsToEvent(f.ctx, child.ID)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, f.eventNode.ID, chain[0].ID)

	_, err = tree.AncestorsToEvent(f.ctx, f.root.ID)
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err))
}

func TestTree_ReadOnlyNodesRejectChanges(t *testing.T) {
	f := newFixture(t)
	tree := f.tree()

	node, err := f.store.Tree.GetNode(f.ctx, nil, f.eventNode.ID)
	require.NoError(t, err)
	node.ReadOnly = true
	require.NoError(t, f.store.Tree.UpdateNode(f.ctx, nil, node))

	_, err = tree.UpdateNode(f.ctx, f.admin, f.eventNode.ID, dto.UpdateNodeRequest{Name: "renamed"})
	assert.Equal(t, apierror.KindAccessDenied, apierror.KindOf(err))
	_, err = tree.CreateNode(f.ctx, f.admin, f.eventNode.ID, dto.NewNodeRequest{Name: "child"})
	assert.Equal(t, apierror.KindAccessDenied, apierror.KindOf(err))
}
