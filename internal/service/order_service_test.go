package service

import (
	"testing"

	"github.com/stustapay/stustapay-sub000/internal/apierror"
	"github.com/stustapay/stustapay-sub000/internal/dto"
	"github.com/stustapay/stustapay-sub000/internal/model"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sale(uid int64, method string, buttons ...dto.SaleButton) dto.NewSale {
	return dto.NewSale{UUID: uuid.NewString(), CustomerTagUID: &uid, PaymentMethod: method, Buttons: buttons}
}

func press(b *model.TillButton, qty int64) dto.SaleButton {
	return dto.SaleButton{TillButtonID: b.ID, Quantity: &qty}
}

func TestOrder_TopUpThenSale(t *testing.T) {
	f := newFixture(t)
	reg := f.stockUp(nil)
	orders := f.orders()
	cust := f.customer("P1", 0xABCD, dec("100"), 0, nil)
	cashEntryBefore := f.systemAccount(model.AccountCashEntry).Balance

	topUp, err := orders.BookTopUp(f.ctx, f.term, dto.NewTopUp{
		UUID: uuid.NewString(), CustomerTagUID: 0xABCD, Amount: dec("20"), PaymentMethod: "cash",
	})
	require.NoError(t, err)
	assert.True(t, topUp.NewBalance.Equal(dec("120")))

	done, err := orders.BookSale(f.ctx, f.term, sale(0xABCD, "tag", press(f.beerButton, 1)))
	require.NoError(t, err)
	assert.True(t, done.TotalPrice.Equal(dec("5")), "got %s", done.TotalPrice)
	assert.Equal(t, int64(2), done.ItemCount)

	assert.True(t, f.account(cust.ID).Balance.Equal(dec("115")))
	assert.True(t, f.account(reg.AccountID).Balance.Equal(dec("20")))
	assert.True(t, f.systemAccount(model.AccountCashEntry).Balance.Equal(cashEntryBefore.Sub(dec("20"))))
	assert.True(t, f.systemAccount(model.AccountSaleExit).Balance.Equal(dec("5")))
}

func TestOrder_CustomerPostingsMatchTotal(t *testing.T) {
	f := newFixture(t)
	orders := f.orders()
	cust := f.customer("P1", 0xABCD, dec("50"), 0, nil)

	done, err := orders.BookSale(f.ctx, f.term, sale(0xABCD, "tag", press(f.beerButton, 2), press(f.whiskyButton, 1)))
	require.NoError(t, err)

	txs, err := f.ledger.ListTransactions(f.ctx, nil, done.ID)
	require.NoError(t, err)
	sum := dec("0")
	for _, tx := range txs {
		assert.NotEqual(t, tx.SourceAccountID, tx.TargetAccountID)
		if tx.SourceAccountID == cust.ID {
			sum = sum.Add(tx.Amount)
		}
	}
	assert.True(t, sum.Equal(done.TotalPrice), "customer paid %s for %s", sum, done.TotalPrice)
}

func TestOrder_VoucherSale(t *testing.T) {
	f := newFixture(t)
	orders := f.orders()
	cust := f.customer("P1", 0xABCD, dec("100"), 3, nil)

	req := sale(0xABCD, "tag", press(f.beerButton, 3))
	used := int64(3)
	req.UsedVouchers = &used
	done, err := orders.BookSale(f.ctx, f.term, req)
	require.NoError(t, err)

	assert.Equal(t, int64(3), done.UsedVouchers)
	assert.True(t, done.TotalPrice.Equal(dec("7.5")), "got %s", done.TotalPrice)
	acc := f.account(cust.ID)
	assert.True(t, acc.Balance.Equal(dec("92.5")))
	assert.Equal(t, int64(0), acc.VoucherAmount)
}

func TestOrder_NotEnoughVouchers(t *testing.T) {
	f := newFixture(t)
	f.customer("P1", 0xABCD, dec("100"), 1, nil)

	req := sale(0xABCD, "tag", press(f.beerButton, 3))
	used := int64(2)
	req.UsedVouchers = &used
	_, err := f.orders().CheckSale(f.ctx, f.term, req)
	assert.Equal(t, apierror.KindNotEnoughVouchers, apierror.KindOf(err))
}

func TestOrder_AgeRestriction(t *testing.T) {
	f := newFixture(t)
	under16 := model.RestrictionUnder16
	cust := f.customer("P1", 0xABCD, dec("100"), 0, &under16)
	before := f.transactionCount()

	_, err := f.orders().BookSale(f.ctx, f.term, sale(0xABCD, "tag", press(f.whiskyButton, 1)))
	require.Error(t, err)

	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierror.KindAgeRestriction, apiErr.Kind)
	assert.Equal(t, []string{"Whisky"}, apiErr.Fields["product_names"])
	assert.Equal(t, before, f.transactionCount())
	assert.True(t, f.account(cust.ID).Balance.Equal(dec("100")))
}

func TestOrder_NotEnoughFunds(t *testing.T) {
	f := newFixture(t)
	f.customer("P1", 0xABCD, dec("4"), 0, nil)

	_, err := f.orders().BookSale(f.ctx, f.term, sale(0xABCD, "tag", press(f.beerButton, 1)))
	assert.Equal(t, apierror.KindNotEnoughFunds, apierror.KindOf(err))
}

func TestOrder_DepositReturn(t *testing.T) {
	f := newFixture(t)
	cust := f.customer("P1", 0xABCD, dec("10"), 0, nil)

	done, err := f.orders().BookSale(f.ctx, f.term, sale(0xABCD, "tag", press(f.depositButton, -2)))
	require.NoError(t, err)
	assert.True(t, done.TotalPrice.Equal(dec("-4")))
	assert.True(t, f.account(cust.ID).Balance.Equal(dec("14")))
}

func TestOrder_NonReturnableNegativeQuantity(t *testing.T) {
	f := newFixture(t)
	f.customer("P1", 0xABCD, dec("10"), 0, nil)

	_, err := f.orders().CheckSale(f.ctx, f.term, sale(0xABCD, "tag", press(f.whiskyButton, -1)))
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err))
}

func TestOrder_DuplicateTopUp(t *testing.T) {
	f := newFixture(t)
	f.stockUp(nil)
	orders := f.orders()
	cust := f.customer("P1", 0xABCD, dec("100"), 0, nil)
	req := dto.NewTopUp{UUID: uuid.NewString(), CustomerTagUID: 0xABCD, Amount: dec("20"), PaymentMethod: "cash"}

	first, err := orders.BookTopUp(f.ctx, f.term, req)
	require.NoError(t, err)
	count := f.transactionCount()

	second, err := orders.BookTopUp(f.ctx, f.term, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, first.Amount.Equal(second.Amount))
	assert.Equal(t, count, f.transactionCount())
	assert.True(t, f.account(cust.ID).Balance.Equal(dec("120")))
}

func TestOrder_TopUpAboveMaxBalance(t *testing.T) {
	f := newFixture(t)
	f.stockUp(nil)
	f.customer("P1", 0xABCD, dec("140"), 0, nil)

	_, err := f.orders().BookTopUp(f.ctx, f.term, dto.NewTopUp{
		UUID: uuid.NewString(), CustomerTagUID: 0xABCD, Amount: dec("20"), PaymentMethod: "cash",
	})
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err))
}

func TestOrder_TopUpNeedsIntegralCardAmount(t *testing.T) {
	f := newFixture(t)
	f.customer("P1", 0xABCD, dec("10"), 0, nil)

	_, err := f.orders().CheckTopUp(f.ctx, f.term, dto.NewTopUp{
		UUID: uuid.NewString(), CustomerTagUID: 0xABCD, Amount: dec("5.50"), PaymentMethod: "sumup",
	})
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err))
}

func TestOrder_TopUpForbiddenByProfile(t *testing.T) {
	f := newFixture(t)
	f.customer("P1", 0xABCD, dec("10"), 0, nil)
	f.term.Profile.AllowTopUp = false

	_, err := f.orders().CheckTopUp(f.ctx, f.term, dto.NewTopUp{
		UUID: uuid.NewString(), CustomerTagUID: 0xABCD, Amount: dec("5"), PaymentMethod: "cash",
	})
	assert.Equal(t, apierror.KindTillPermission, apierror.KindOf(err))
}

func TestOrder_CancelRestoresBalance(t *testing.T) {
	f := newFixture(t)
	orders := f.orders()
	cust := f.customer("P1", 0xABCD, dec("100"), 2, nil)

	req := sale(0xABCD, "tag", press(f.beerButton, 2))
	used := int64(2)
	req.UsedVouchers = &used
	done, err := orders.BookSale(f.ctx, f.term, req)
	require.NoError(t, err)
	require.True(t, f.account(cust.ID).Balance.LessThan(dec("100")))

	cancel, err := orders.CancelSale(f.ctx, f.term, done.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCancelSale, cancel.OrderType)

	acc := f.account(cust.ID)
	assert.True(t, acc.Balance.Equal(dec("100")))
	assert.Equal(t, int64(2), acc.VoucherAmount)

	_, err = orders.CancelSale(f.ctx, f.term, done.ID)
	assert.Error(t, err)
}

func TestOrder_PayOutWholeBalance(t *testing.T) {
	f := newFixture(t)
	f.stockUp(nil)
	cust := f.customer("P1", 0xABCD, dec("12.5"), 0, nil)

	done, err := f.orders().BookPayOut(f.ctx, f.term, dto.NewPayOut{UUID: uuid.NewString(), CustomerTagUID: 0xABCD})
	require.NoError(t, err)
	assert.True(t, done.Amount.Equal(dec("-12.5")))
	assert.True(t, f.account(cust.ID).Balance.IsZero())
}

func TestOrder_PayOutAboveBalance(t *testing.T) {
	f := newFixture(t)
	f.stockUp(nil)
	f.customer("P1", 0xABCD, dec("5"), 0, nil)
	amount := dec("-10")

	_, err := f.orders().CheckPayOut(f.ctx, f.term, dto.NewPayOut{UUID: uuid.NewString(), CustomerTagUID: 0xABCD, Amount: &amount})
	assert.Equal(t, apierror.KindNotEnoughFunds, apierror.KindOf(err))
}

func TestOrder_NoUserLoggedIn(t *testing.T) {
	f := newFixture(t)
	f.customer("P1", 0xABCD, dec("10"), 0, nil)
	f.term.User, f.term.Role = nil, nil

	_, err := f.orders().CheckSale(f.ctx, f.term, sale(0xABCD, "tag", press(f.beerButton, 1)))
	assert.Equal(t, apierror.KindAccessDenied, apierror.KindOf(err))
}

func TestOrder_FreeProductStaysOnOrder(t *testing.T) {
	f := newFixture(t)
	water := f.product(&model.Product{Name: "Tap water", Price: ptr(dec("0"))})
	waterButton := f.button("Water", water)
	f.term.Layout.ButtonIDs = append(f.term.Layout.ButtonIDs, waterButton.ID)
	cust := f.customer("P1", 0xABCD, dec("10"), 0, nil)

	done, err := f.orders().BookSale(f.ctx, f.term, sale(0xABCD, "tag", press(f.beerButton, 1), press(waterButton, 2)))
	require.NoError(t, err)
	assert.True(t, done.TotalPrice.Equal(dec("3")))
	assert.Equal(t, int64(3), done.ItemCount)

	order, err := f.store.Orders.GetOrder(f.ctx, nil, done.ID)
	require.NoError(t, err)
	var free *model.LineItem
	for i := range order.LineItems {
		if order.LineItems[i].ProductID == water.ID {
			free = &order.LineItems[i]
		}
	}
	require.NotNil(t, free, "free product is booked as a line item")
	assert.Equal(t, int64(2), free.Quantity)
	assert.True(t, f.account(cust.ID).Balance.Equal(dec("7")))
}

func TestOrder_BookSaleIsIdempotent(t *testing.T) {
	f := newFixture(t)
	orders := f.orders()
	cust := f.customer("P1", 0xABCD, dec("20"), 0, nil)
	req := sale(0xABCD, "tag", press(f.beerButton, 2))

	first, err := orders.BookSale(f.ctx, f.term, req)
	require.NoError(t, err)
	count := f.transactionCount()

	second, err := orders.BookSale(f.ctx, f.term, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, first.TotalPrice.Equal(second.TotalPrice))
	assert.Equal(t, first.ItemCount, second.ItemCount)
	assert.True(t, second.NewBalance.Equal(dec("14")))
	assert.Equal(t, count, f.transactionCount())
	assert.True(t, f.account(cust.ID).Balance.Equal(dec("14")), "charged once")

	_, err = orders.CheckSale(f.ctx, f.term, req)
	assert.Equal(t, apierror.KindAlreadyProcessed, apierror.KindOf(err))

	topUp := dto.NewTopUp{UUID: req.UUID, CustomerTagUID: 0xABCD, Amount: dec("5"), PaymentMethod: "sumup"}
	_, err = orders.BookTopUp(f.ctx, f.term, topUp)
	assert.Equal(t, apierror.KindConflict, apierror.KindOf(err), "uuid of another order type")
}

func TestOrder_CancelSaleAdmin(t *testing.T) {
	f := newFixture(t)
	reg := f.stockUp(nil)
	orders := f.orders()
	cust := f.customer("P1", 0xABCD, dec("20"), 0, nil)

	tagSale, err := orders.BookSale(f.ctx, f.term, sale(0xABCD, "tag", press(f.beerButton, 1)))
	require.NoError(t, err)
	cashSale, err := orders.BookSale(f.ctx, f.term, dto.NewSale{UUID: uuid.NewString(), PaymentMethod: "cash", Buttons: []dto.SaleButton{press(f.beerButton, 1)}})
	require.NoError(t, err)
	require.True(t, f.account(reg.AccountID).Balance.Equal(dec("3")))

	_, err = orders.CancelSale(f.ctx, f.term, cashSale.ID)
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err), "cash sales are cancelled by an admin")

	virtual, err := f.store.Tills.FindVirtualTill(f.ctx, nil, f.eventNode.ID)
	require.NoError(t, err)
	cancel, err := orders.CancelSaleAdmin(f.ctx, f.admin, f.eventNode.ID, cashSale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCancelSale, cancel.OrderType)
	assert.Equal(t, virtual.ID, cancel.TillID)
	require.NotNil(t, cancel.CancelsOrder)
	assert.Equal(t, cashSale.ID, *cancel.CancelsOrder)
	assert.True(t, f.account(reg.AccountID).Balance.IsZero())

	_, err = orders.CancelSaleAdmin(f.ctx, f.admin, f.eventNode.ID, tagSale.ID)
	require.NoError(t, err)
	assert.True(t, f.account(cust.ID).Balance.Equal(dec("20")))

	_, err = orders.CancelSaleAdmin(f.ctx, f.admin, f.eventNode.ID, tagSale.ID)
	assert.Equal(t, apierror.KindConflict, apierror.KindOf(err), "already cancelled")
}

// ── Tickets ──────────────────────────────────────────────────────────────────

// ticket adds a ticket product to the till layout.
func (f *fixture) ticket(name, price, topUp string, restrictions ...string) *model.Product {
	p := &model.Product{
		NodeID:             f.eventNode.ID,
		Name:               name,
		Type:               model.ProductTicket,
		Price:              ptr(dec(price)),
		FixedPrice:         true,
		IsLocked:           true,
		TaxRateID:          f.ust.ID,
		Restrictions:       pq.StringArray(append([]string{}, restrictions...)),
		InitialTopUpAmount: dec(topUp),
	}
	require.NoError(f.t, f.store.Catalog.CreateProduct(f.ctx, nil, p))
	f.term.Layout.TicketIDs = append(f.term.Layout.TicketIDs, p.ID)
	return p
}

// freshTag is an unsold wristband.
func (f *fixture) freshTag(pin string, restriction *model.Restriction) *model.UserTag {
	tag := &model.UserTag{NodeID: f.eventNode.ID, Pin: pin, Restriction: restriction}
	require.NoError(f.t, f.store.UserTags.CreateUserTag(f.ctx, nil, tag))
	return tag
}

func (f *fixture) accountOfTag(tagID int64) *model.Account {
	acc, err := f.store.Accounts.FindAccountByUserTag(f.ctx, nil, tagID)
	require.NoError(f.t, err)
	return acc
}

func ticketSale(method string, tags ...dto.UserTagScan) dto.NewTicketSale {
	return dto.NewTicketSale{UUID: uuid.NewString(), CustomerTags: tags, PaymentMethod: method}
}

func TestTicket_ScanPicksTicketByRestriction(t *testing.T) {
	f := newFixture(t)
	adult := f.ticket("Ticket", "12", "8")
	u18 := f.ticket("Ticket U18", "10", "0", "under_18")
	u16 := f.ticket("Ticket U16", "8", "0", "under_16")
	under18, under16 := model.RestrictionUnder18, model.RestrictionUnder16
	f.freshTag("T1", nil)
	f.freshTag("T2", &under18)
	f.freshTag("T3", &under16)

	res, err := f.orders().CheckTicketScan(f.ctx, f.term, dto.NewTicketScan{CustomerTags: []dto.UserTagScan{{Pin: "T1"}, {Pin: "T2"}, {Pin: "T3"}}})
	require.NoError(t, err)
	require.Len(t, res.ScannedTickets, 3)
	assert.Equal(t, adult.ID, res.ScannedTickets[0].TicketID)
	assert.True(t, res.ScannedTickets[0].TopUpAmount.Equal(dec("8")))
	assert.Equal(t, u18.ID, res.ScannedTickets[1].TicketID)
	assert.Equal(t, u16.ID, res.ScannedTickets[2].TicketID)
	require.NotNil(t, res.ScannedTickets[2].Restriction)
	assert.Equal(t, "under_16", *res.ScannedTickets[2].Restriction)
}

func TestTicket_ScanRejectsSoldAndRepeatedTags(t *testing.T) {
	f := newFixture(t)
	f.ticket("Ticket", "12", "0")
	f.customer("C1", 0xC1, dec("0"), 0, nil)
	f.freshTag("T1", nil)
	orders := f.orders()

	_, err := orders.CheckTicketScan(f.ctx, f.term, dto.NewTicketScan{CustomerTags: []dto.UserTagScan{{Pin: "C1"}}})
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err), "tag already belongs to a customer")

	_, err = orders.CheckTicketScan(f.ctx, f.term, dto.NewTicketScan{CustomerTags: []dto.UserTagScan{{Pin: "T1"}, {Pin: "T1"}}})
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err))

	_, err = orders.CheckTicketScan(f.ctx, f.term, dto.NewTicketScan{CustomerTags: []dto.UserTagScan{{Pin: "nope"}}})
	assert.Equal(t, apierror.KindNotFound, apierror.KindOf(err))

	f.term.Profile.AllowTicketSale = false
	_, err = orders.CheckTicketScan(f.ctx, f.term, dto.NewTicketScan{CustomerTags: []dto.UserTagScan{{Pin: "T1"}}})
	assert.Equal(t, apierror.KindTillPermission, apierror.KindOf(err))
}

func TestTicket_BookCashSale(t *testing.T) {
	f := newFixture(t)
	reg := f.stockUp(nil)
	f.ticket("Ticket", "12", "8")
	f.ticket("Ticket U18", "10", "0", "under_18")
	under18 := model.RestrictionUnder18
	adultTag := f.freshTag("T1", nil)
	teenTag := f.freshTag("T2", &under18)
	uid := int64(0x7001)

	done, err := f.orders().BookTicketSale(f.ctx, f.term, ticketSale("cash", dto.UserTagScan{Pin: "T2"}, dto.UserTagScan{Pin: "T1", UID: &uid}))
	require.NoError(t, err)
	assert.True(t, done.TotalPrice.Equal(dec("30")), "got %s", done.TotalPrice)
	assert.True(t, done.TopUpTotal.Equal(dec("8")))
	assert.Equal(t, int64(2), done.ItemCount)

	adult := f.accountOfTag(adultTag.ID)
	teen := f.accountOfTag(teenTag.ID)
	assert.True(t, adult.Balance.Equal(dec("8")))
	assert.True(t, teen.Balance.IsZero())
	assert.Equal(t, adult.ID, done.CustomerAccountID, "order is recorded against the oldest customer")
	assert.True(t, f.account(reg.AccountID).Balance.Equal(dec("30")))
	assert.True(t, f.systemAccount(model.AccountSaleExit).Balance.Equal(dec("22")))

	tag, err := f.store.UserTags.GetUserTag(f.ctx, nil, adultTag.ID)
	require.NoError(t, err)
	require.NotNil(t, tag.UID)
	assert.Equal(t, uid, *tag.UID)

	again, err := f.orders().BookTicketSale(f.ctx, f.term, dto.NewTicketSale{UUID: done.UUID, CustomerTags: []dto.UserTagScan{{Pin: "T1"}}, PaymentMethod: "cash"})
	require.NoError(t, err)
	assert.Equal(t, done.ID, again.ID)
	assert.True(t, f.account(reg.AccountID).Balance.Equal(dec("30")))
}

func TestTicket_BookCardSalePicksOldestRestricted(t *testing.T) {
	f := newFixture(t)
	f.ticket("Ticket U18", "10", "5", "under_18")
	f.ticket("Ticket U16", "8", "5", "under_16")
	under18, under16 := model.RestrictionUnder18, model.RestrictionUnder16
	young := f.freshTag("T1", &under16)
	older := f.freshTag("T2", &under18)

	done, err := f.orders().BookTicketSale(f.ctx, f.term, ticketSale("sumup", dto.UserTagScan{Pin: "T1"}, dto.UserTagScan{Pin: "T2"}))
	require.NoError(t, err)
	assert.True(t, done.TotalPrice.Equal(dec("28")))

	assert.Equal(t, f.accountOfTag(older.ID).ID, done.CustomerAccountID)
	assert.True(t, f.accountOfTag(young.ID).Balance.Equal(dec("5")))
	assert.True(t, f.systemAccount(model.AccountSumupEntry).Balance.Equal(dec("-28")))
	assert.True(t, f.systemAccount(model.AccountSaleExit).Balance.Equal(dec("18")))
}

func TestTicket_CashSaleNeedsRegister(t *testing.T) {
	f := newFixture(t)
	f.ticket("Ticket", "12", "0")
	f.freshTag("T1", nil)

	_, err := f.orders().CheckTicketSale(f.ctx, f.term, ticketSale("cash", dto.UserTagScan{Pin: "T1"}))
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err))

	_, err = f.orders().CheckTicketSale(f.ctx, f.term, ticketSale("tag", dto.UserTagScan{Pin: "T1"}))
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err), "tickets are paid by cash or card")
}

func TestTicket_CreatePendingSale(t *testing.T) {
	f := newFixture(t)
	f.ticket("Ticket", "12", "8")
	tag := f.freshTag("T1", nil)
	orders := f.orders()
	before := f.transactionCount()

	_, err := orders.CreatePendingTicketSale(f.ctx, f.term, ticketSale("cash", dto.UserTagScan{Pin: "T1"}))
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err))

	req := ticketSale("sumup", dto.UserTagScan{Pin: "T1"})
	pending, err := orders.CreatePendingTicketSale(f.ctx, f.term, req)
	require.NoError(t, err)
	assert.True(t, pending.TotalPrice.Equal(dec("20")))

	p, err := f.store.PendingOrders.GetPendingOrder(f.ctx, nil, uuid.MustParse(req.UUID))
	require.NoError(t, err)
	assert.Equal(t, model.PendingOrderTicket, p.OrderType)
	assert.Equal(t, model.PendingStatusPending, p.Status)
	assert.Equal(t, before, f.transactionCount())
	_, err = f.store.Accounts.FindAccountByUserTag(f.ctx, nil, tag.ID)
	assert.Error(t, err, "the tag is bound once the payment is confirmed")

	_, err = orders.BookTicketSale(f.ctx, f.term, req)
	assert.Equal(t, apierror.KindAlreadyProcessed, apierror.KindOf(err))
}

func TestTicket_PresaleBindsPrecreatedAccount(t *testing.T) {
	f := newFixture(t)
	f.ticket("Ticket", "12", "0")
	acc := &model.Account{NodeID: f.eventNode.ID, Type: model.AccountPrivate, Name: "presale ABC12", Balance: dec("0")}
	require.NoError(t, f.store.Accounts.CreateAccount(f.ctx, nil, acc))
	require.NoError(t, f.store.Presale.CreateTicketVoucher(f.ctx, nil, &model.TicketVoucher{
		NodeID: f.eventNode.ID, CustomerAccountID: acc.ID, Token: "secret-one", ExternalReference: "ABC12",
	}))
	tag := f.freshTag("T1", nil)
	token := "secret-one"
	scan := dto.UserTagScan{Pin: "T1", TicketVoucherToken: &token}
	orders := f.orders()

	res, err := orders.CheckTicketScan(f.ctx, f.term, dto.NewTicketScan{CustomerTags: []dto.UserTagScan{scan}})
	require.NoError(t, err)
	require.Len(t, res.ScannedTickets, 1)
	assert.True(t, res.ScannedTickets[0].IsPresale)
	require.NotNil(t, res.ScannedTickets[0].PresaleAccount)
	assert.Equal(t, acc.ID, *res.ScannedTickets[0].PresaleAccount)

	done, err := orders.BookTicketSale(f.ctx, f.term, ticketSale("sumup", scan))
	require.NoError(t, err)
	assert.True(t, done.TotalPrice.IsZero(), "presale tickets are already paid")
	assert.Equal(t, acc.ID, done.CustomerAccountID)
	assert.Equal(t, acc.ID, f.accountOfTag(tag.ID).ID)

	f.freshTag("T2", nil)
	_, err = orders.CheckTicketScan(f.ctx, f.term, dto.NewTicketScan{CustomerTags: []dto.UserTagScan{{Pin: "T2", TicketVoucherToken: &token}}})
	assert.Equal(t, apierror.KindConflict, apierror.KindOf(err), "presale ticket has already been redeemed")
}

func TestTicket_CancellationIsConflict(t *testing.T) {
	f := newFixture(t)
	f.ticket("Ticket", "12", "0")
	f.freshTag("T1", nil)
	orders := f.orders()

	done, err := orders.BookTicketSale(f.ctx, f.term, ticketSale("sumup", dto.UserTagScan{Pin: "T1"}))
	require.NoError(t, err)

	_, err = orders.CancelSale(f.ctx, f.term, done.ID)
	assert.Equal(t, apierror.KindConflict, apierror.KindOf(err))
	_, err = orders.CancelSaleAdmin(f.ctx, f.admin, f.eventNode.ID, done.ID)
	assert.Equal(t, apierror.KindConflict, apierror.KindOf(err))
}
