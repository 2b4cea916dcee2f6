package service

import (
	"testing"

	"github.com/stustapay/stustapay-sub000/internal/apierror"
	"github.com/stustapay/stustapay-sub000/internal/dto"
	"github.com/stustapay/stustapay-sub000/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) catalog() CatalogService {
	return NewCatalogService(f.store, f.auth, f.audit)
}

func TestCatalog_TaxRateLifecycle(t *testing.T) {
	f := newFixture(t)
	catalog := f.catalog()

	_, err := catalog.CreateTaxRate(f.ctx, f.admin, f.eventNode.ID, dto.NewTaxRateRequest{Name: "ust", Rate: dec("0.19")})
	assert.Equal(t, apierror.KindConflict, apierror.KindOf(err), "names are unique in scope")

	_, err = catalog.CreateTaxRate(f.ctx, f.admin, f.eventNode.ID, dto.NewTaxRateRequest{Name: "weird", Rate: dec("1.01")})
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err))

	reduced, err := catalog.CreateTaxRate(f.ctx, f.admin, f.eventNode.ID, dto.NewTaxRateRequest{Name: "reduced", Rate: dec("0.07")})
	require.NoError(t, err)

	updated, err := catalog.UpdateTaxRate(f.ctx, f.admin, f.eventNode.ID, reduced.ID, dto.NewTaxRateRequest{Name: "reduced", Rate: dec("0.05")})
	require.NoError(t, err)
	assert.True(t, updated.Rate.Equal(dec("0.05")))

	err = catalog.DeleteTaxRate(f.ctx, f.admin, f.eventNode.ID, f.ust.ID)
	assert.Equal(t, apierror.KindConflict, apierror.KindOf(err), "ust is used by the beer")

	require.NoError(t, catalog.DeleteTaxRate(f.ctx, f.admin, f.eventNode.ID, reduced.ID))
	rates, err := catalog.ListTaxRates(f.ctx, f.admin, f.eventNode.ID)
	require.NoError(t, err)
	for _, r := range rates {
		assert.NotEqual(t, reduced.ID, r.ID)
	}
}

func TestCatalog_ProductPriceRules(t *testing.T) {
	f := newFixture(t)
	catalog := f.catalog()

	_, err := catalog.CreateProduct(f.ctx, f.admin, f.eventNode.ID, dto.NewProductRequest{
		Name: "Mystery", FixedPrice: true, TaxRateID: f.ust.ID,
	})
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err), "fixed price needs a price")

	_, err = catalog.CreateProduct(f.ctx, f.admin, f.eventNode.ID, dto.NewProductRequest{
		Name: "Donation", Price: ptr(dec("1")), FixedPrice: false, TaxRateID: f.ust.ID,
	})
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err), "variable price must not carry a price")

	_, err = catalog.CreateProduct(f.ctx, f.admin, f.eventNode.ID, dto.NewProductRequest{
		Name: "Beer 0.5l", Price: ptr(dec("3")), FixedPrice: true, TaxRateID: f.ust.ID,
	})
	assert.Equal(t, apierror.KindConflict, apierror.KindOf(err), "duplicate name")

	_, err = catalog.CreateProduct(f.ctx, f.admin, f.eventNode.ID, dto.NewProductRequest{
		Name: "Ghost", Price: ptr(dec("3")), FixedPrice: true, TaxRateID: 99999,
	})
	assert.Equal(t, apierror.KindNotFound, apierror.KindOf(err))
}

func TestCatalog_LockedProductOnlyRenames(t *testing.T) {
	f := newFixture(t)
	catalog := f.catalog()

	req := dto.NewProductRequest{
		Name: "Beer 0.3l", Price: ptr(dec("2.5")), FixedPrice: true, TaxRateID: f.ust.ID,
		PriceInVouchers: ptr(int64(1)), PricePerVoucher: ptr(dec("2.5")), Restrictions: []string{},
	}
	_, err := catalog.UpdateProduct(f.ctx, f.admin, f.eventNode.ID, f.beer.ID, req)
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err), "price change on a locked product")

	req.Price = ptr(dec("3"))
	renamed, err := catalog.UpdateProduct(f.ctx, f.admin, f.eventNode.ID, f.beer.ID, req)
	require.NoError(t, err)
	assert.Equal(t, "Beer 0.3l", renamed.Name)
	assert.True(t, renamed.IsLocked)
}

func TestCatalog_SoldProductCannotBeDeleted(t *testing.T) {
	f := newFixture(t)
	catalog := f.catalog()
	f.customer("P1", 0xABCD, dec("50"), 0, nil)

	_, err := f.orders().BookSale(f.ctx, f.term, sale(0xABCD, "tag", press(f.whiskyButton, 1)))
	require.NoError(t, err)

	err = catalog.DeleteProduct(f.ctx, f.admin, f.eventNode.ID, f.whisky.ID)
	assert.Equal(t, apierror.KindConflict, apierror.KindOf(err))

	topUp, err := f.store.Catalog.FindSystemProduct(f.ctx, nil, f.eventNode.ID, model.ProductTopUp)
	require.NoError(t, err)
	err = catalog.DeleteProduct(f.ctx, f.admin, f.eventNode.ID, topUp.ID)
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err), "system products stay")
}

func TestCatalog_DeletingProductDropsButtonReference(t *testing.T) {
	f := newFixture(t)
	catalog := f.catalog()

	snack := f.product(&model.Product{Name: "Pretzel", Price: ptr(dec("2"))})
	btn, err := catalog.CreateButton(f.ctx, f.admin, f.eventNode.ID, dto.NewTillButtonRequest{Name: "Pretzel", ProductIDs: []int64{snack.ID}})
	require.NoError(t, err)

	require.NoError(t, catalog.DeleteProduct(f.ctx, f.admin, f.eventNode.ID, snack.ID))
	got, err := f.store.Catalog.GetButton(f.ctx, nil, btn.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ProductIDs)
}

func TestCatalog_ButtonComposition(t *testing.T) {
	f := newFixture(t)
	catalog := f.catalog()

	_, err := catalog.CreateButton(f.ctx, f.admin, f.eventNode.ID, dto.NewTillButtonRequest{
		Name: "Double deposit", ProductIDs: []int64{f.beer.ID, f.deposit.ID, f.deposit.ID},
	})
	assert.NoError(t, err, "repeating a product is a quantity, not a second returnable")

	cup := f.product(&model.Product{Name: "Cup", Price: ptr(dec("1")), IsReturnable: true})
	_, err = catalog.CreateButton(f.ctx, f.admin, f.eventNode.ID, dto.NewTillButtonRequest{
		Name: "Two returnables", ProductIDs: []int64{f.deposit.ID, cup.ID},
	})
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err))

	ticket, err := catalog.CreateTicket(f.ctx, f.admin, f.eventNode.ID, dto.NewTicketRequest{
		Name: "Entry", Price: dec("12"), TaxRateID: f.ust.ID, InitialTopUpAmount: dec("8"),
	})
	require.NoError(t, err)
	_, err = catalog.CreateButton(f.ctx, f.admin, f.eventNode.ID, dto.NewTillButtonRequest{
		Name: "Entry", ProductIDs: []int64{ticket.ID},
	})
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err), "tickets go on layouts")

	_, err = catalog.CreateLayout(f.ctx, f.admin, f.eventNode.ID, dto.NewTillLayoutRequest{
		Name: "entrance", TicketIDs: []int64{ticket.ID},
	})
	assert.NoError(t, err)
	_, err = catalog.CreateLayout(f.ctx, f.admin, f.eventNode.ID, dto.NewTillLayoutRequest{
		Name: "broken", TicketIDs: []int64{f.beer.ID},
	})
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err))
}

func TestCatalog_LayoutInUseCannotBeDeleted(t *testing.T) {
	f := newFixture(t)

	err := f.catalog().DeleteLayout(f.ctx, f.admin, f.eventNode.ID, f.term.Layout.ID)
	assert.Equal(t, apierror.KindConflict, apierror.KindOf(err))
}

func TestCatalog_ObjectsOfSiblingsAreInvisible(t *testing.T) {
	f := newFixture(t)
	catalog := f.catalog()
	tree := f.tree()

	bar, err := tree.CreateNode(f.ctx, f.admin, f.eventNode.ID, dto.NewNodeRequest{Name: "bar"})
	require.NoError(t, err)
	kitchen, err := tree.CreateNode(f.ctx, f.admin, f.eventNode.ID, dto.NewNodeRequest{Name: "kitchen"})
	require.NoError(t, err)

	rate, err := catalog.CreateTaxRate(f.ctx, f.admin, bar.ID, dto.NewTaxRateRequest{Name: "bar rate", Rate: dec("0.19")})
	require.NoError(t, err)

	_, err = catalog.CreateProduct(f.ctx, f.admin, kitchen.ID, dto.NewProductRequest{
		Name: "Fries", Price: ptr(dec("4")), FixedPrice: true, TaxRateID: rate.ID,
	})
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err))

	fries, err := catalog.CreateProduct(f.ctx, f.admin, kitchen.ID, dto.NewProductRequest{
		Name: "Fries", Price: ptr(dec("4")), FixedPrice: true, TaxRateID: f.ust.ID,
	})
	require.NoError(t, err, "event level rates are visible below the event")

	products, err := catalog.ListProducts(f.ctx, f.admin, bar.ID)
	require.NoError(t, err)
	for _, p := range products {
		assert.NotEqual(t, fries.ID, p.ID)
	}
}
