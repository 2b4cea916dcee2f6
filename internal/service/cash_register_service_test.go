package service

import (
	"testing"

	"github.com/stustapay/stustapay-sub000/internal/apierror"
	"github.com/stustapay/stustapay-sub000/internal/dto"
	"github.com/stustapay/stustapay-sub000/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCashRegister_StockUpFromStocking(t *testing.T) {
	f := newFixture(t)
	st, err := f.cashRegisters().CreateStocking(f.ctx, f.admin, f.eventNode.ID, dto.NewStockingRequest{Name: "float", Euro20: 2})
	require.NoError(t, err)

	reg := f.stockUp(st)

	assert.True(t, f.account(reg.AccountID).Balance.Equal(dec("40")))
	assert.True(t, f.systemAccount(model.AccountCashVault).Balance.Equal(dec("-40")))
	assert.Equal(t, reg.ID, *f.term.Till.ActiveCashRegisterID)
	assert.Equal(t, reg.ID, *f.term.User.CashRegisterID)
}

func TestCashRegister_StockUpTwice(t *testing.T) {
	f := newFixture(t)
	f.stockUp(nil)
	regs := f.cashRegisters()
	other, err := regs.CreateRegister(f.ctx, f.admin, f.eventNode.ID, dto.NewCashRegisterRequest{Name: "second"})
	require.NoError(t, err)

	err = regs.StockUp(f.ctx, f.term, dto.StockUpRequest{CashierTag: dto.UserTagScan{Pin: f.cashierTag.Pin}, CashRegisterID: other.ID})
	assert.Equal(t, apierror.KindConflict, apierror.KindOf(err))
}

func TestCashRegister_CloseOutWithImbalance(t *testing.T) {
	f := newFixture(t)
	regs := f.cashRegisters()
	st, err := regs.CreateStocking(f.ctx, f.admin, f.eventNode.ID, dto.NewStockingRequest{Name: "float", Euro20: 2})
	require.NoError(t, err)
	reg := f.stockUp(st)

	_, err = f.orders().BookSale(f.ctx, f.term, dto.NewSale{
		UUID:          uuid.NewString(),
		PaymentMethod: "cash",
		Buttons:       []dto.SaleButton{press(f.beerButton, 1)},
	})
	require.NoError(t, err)
	require.True(t, f.account(reg.AccountID).Balance.Equal(dec("45")))

	res, err := regs.CloseOut(f.ctx, f.admin, f.eventNode.ID, dto.CloseOutRequest{
		CashierID:     f.term.User.ID,
		ActualBalance: dec("44.80"),
	})
	require.NoError(t, err)

	assert.True(t, res.ExpectedBalance.Equal(dec("45")))
	assert.True(t, res.Imbalance.Equal(dec("-0.20")), "got %s", res.Imbalance)
	assert.True(t, f.account(reg.AccountID).Balance.IsZero())
	assert.True(t, f.systemAccount(model.AccountCashImbalance).Balance.Equal(dec("0.20")))
	assert.True(t, f.systemAccount(model.AccountCashVault).Balance.Equal(dec("4.80")))

	f.refreshTerminal()
	assert.Nil(t, f.term.User.CashRegisterID)
	assert.Nil(t, f.term.Till.ActiveCashRegisterID)

	shifts, err := regs.ListShifts(f.ctx, f.admin, f.eventNode.ID, f.term.User.ID)
	require.NoError(t, err)
	require.Len(t, shifts, 1)
	assert.True(t, shifts[0].ActualBalance.Equal(dec("44.80")))
}

func TestCashRegister_CloseOutWithoutRegister(t *testing.T) {
	f := newFixture(t)

	_, err := f.cashRegisters().CloseOut(f.ctx, f.admin, f.eventNode.ID, dto.CloseOutRequest{CashierID: f.term.User.ID})
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err))
}

func TestCashRegister_CloseOutNegativeDrawer(t *testing.T) {
	f := newFixture(t)
	f.stockUp(nil)

	_, err := f.cashRegisters().CloseOut(f.ctx, f.admin, f.eventNode.ID, dto.CloseOutRequest{CashierID: f.term.User.ID, ActualBalance: dec("-1")})
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err))
}

func TestCashRegister_CashierCannotCloseOut(t *testing.T) {
	f := newFixture(t)
	f.stockUp(nil)
	cashier := &Actor{UserID: f.term.User.ID, Login: f.term.User.Login}

	_, err := f.cashRegisters().CloseOut(f.ctx, cashier, f.root.ID, dto.CloseOutRequest{CashierID: f.term.User.ID})
	assert.Equal(t, apierror.KindAccessDenied, apierror.KindOf(err))
}

// staff registers a second user with the cashier role wearing a tag.
func (f *fixture) staff(login, pin string) (*model.User, dto.UserTagScan) {
	tag := &model.UserTag{NodeID: f.eventNode.ID, Pin: pin}
	require.NoError(f.t, f.store.UserTags.CreateUserTag(f.ctx, nil, tag))
	u := &model.User{NodeID: f.eventNode.ID, Login: login, UserTagID: &tag.ID}
	require.NoError(f.t, f.store.Users.CreateUser(f.ctx, nil, u))
	require.NoError(f.t, f.store.Users.AssignRole(f.ctx, nil, &model.UserToRole{UserID: u.ID, RoleID: f.term.Role.ID, NodeID: f.eventNode.ID}))
	return u, dto.UserTagScan{Pin: pin}
}

// loginAt logs u in at a fresh till of the event holding register.
func (f *fixture) loginAt(u *model.User, register *int64) *model.Till {
	till := &model.Till{
		NodeID:               f.eventNode.ID,
		Name:                 "till of " + u.Login,
		ActiveProfileID:      f.term.Profile.ID,
		ActiveUserID:         &u.ID,
		ActiveUserRoleID:     &f.term.Role.ID,
		ActiveCashRegisterID: register,
	}
	require.NoError(f.t, f.store.Tills.CreateTill(f.ctx, nil, till))
	return till
}

func (f *fixture) user(id int64) *model.User {
	u, err := f.store.Users.GetUser(f.ctx, nil, id)
	require.NoError(f.t, err)
	return u
}

func (f *fixture) till(id int64) *model.Till {
	t, err := f.store.Tills.GetTill(f.ctx, nil, id)
	require.NoError(f.t, err)
	return t
}

func (f *fixture) ordersOfType(t model.OrderType) []model.Order {
	var out []model.Order
	for _, o := range f.mem.Orders() {
		if o.OrderType == t {
			out = append(out, o)
		}
	}
	return out
}

func TestCashRegister_TransferAtTerminal(t *testing.T) {
	f := newFixture(t)
	st, err := f.cashRegisters().CreateStocking(f.ctx, f.admin, f.eventNode.ID, dto.NewStockingRequest{Name: "float", Euro20: 1})
	require.NoError(t, err)
	reg := f.stockUp(st)
	b, bTag := f.staff("bob", "BOB")
	bTill := f.loginAt(b, nil)

	err = f.cashRegisters().TransferRegister(f.ctx, f.term, dto.TransferRegisterRequest{
		SourceCashierTag: dto.UserTagScan{Pin: f.cashierTag.Pin},
		TargetCashierTag: bTag,
	})
	require.NoError(t, err)

	f.refreshTerminal()
	assert.Nil(t, f.term.User.CashRegisterID)
	assert.Nil(t, f.term.Till.ActiveCashRegisterID)
	require.NotNil(t, f.user(b.ID).CashRegisterID)
	assert.Equal(t, reg.ID, *f.user(b.ID).CashRegisterID)
	require.NotNil(t, f.till(bTill.ID).ActiveCashRegisterID)
	assert.Equal(t, reg.ID, *f.till(bTill.ID).ActiveCashRegisterID)
	assert.True(t, f.account(reg.AccountID).Balance.Equal(dec("20")), "cash stays in the drawer")

	ends := f.ordersOfType(model.OrderCashierShiftEnd)
	require.Len(t, ends, 1)
	assert.Equal(t, f.term.User.ID, *ends[0].CashierID)
	starts := f.ordersOfType(model.OrderCashierShiftStart)
	require.Len(t, starts, 2)
	assert.Equal(t, b.ID, *starts[1].CashierID)
}

func TestCashRegister_TransferToTillWithRegister(t *testing.T) {
	f := newFixture(t)
	f.stockUp(nil)
	regs := f.cashRegisters()
	other, err := regs.CreateRegister(f.ctx, f.admin, f.eventNode.ID, dto.NewCashRegisterRequest{Name: "other"})
	require.NoError(t, err)
	b, bTag := f.staff("bob", "BOB")
	f.loginAt(b, &other.ID)
	before := len(f.mem.Orders())

	err = regs.TransferRegister(f.ctx, f.term, dto.TransferRegisterRequest{
		SourceCashierTag: dto.UserTagScan{Pin: f.cashierTag.Pin},
		TargetCashierTag: bTag,
	})
	assert.Equal(t, apierror.KindConflict, apierror.KindOf(err))
	assert.Len(t, f.mem.Orders(), before)
	f.refreshTerminal()
	assert.NotNil(t, f.term.User.CashRegisterID)
}

func TestCashRegister_TransferPreconditions(t *testing.T) {
	f := newFixture(t)
	regs := f.cashRegisters()
	_, bTag := f.staff("bob", "BOB")
	cashier := dto.UserTagScan{Pin: f.cashierTag.Pin}

	err := regs.TransferRegister(f.ctx, f.term, dto.TransferRegisterRequest{SourceCashierTag: cashier, TargetCashierTag: bTag})
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err), "source holds no register")

	f.stockUp(nil)
	err = regs.TransferRegister(f.ctx, f.term, dto.TransferRegisterRequest{SourceCashierTag: cashier, TargetCashierTag: cashier})
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err))

	require.NoError(t, regs.TransferRegister(f.ctx, f.term, dto.TransferRegisterRequest{SourceCashierTag: cashier, TargetCashierTag: bTag}))
	f.refreshTerminal()
	second, err := regs.CreateRegister(f.ctx, f.admin, f.eventNode.ID, dto.NewCashRegisterRequest{Name: "second"})
	require.NoError(t, err)
	require.NoError(t, regs.StockUp(f.ctx, f.term, dto.StockUpRequest{CashierTag: cashier, CashRegisterID: second.ID}))

	err = regs.TransferRegister(f.ctx, f.term, dto.TransferRegisterRequest{SourceCashierTag: cashier, TargetCashierTag: bTag})
	assert.Equal(t, apierror.KindConflict, apierror.KindOf(err), "target already holds a register")

	f.term.User, f.term.Role = nil, nil
	err = regs.TransferRegister(f.ctx, f.term, dto.TransferRegisterRequest{SourceCashierTag: cashier, TargetCashierTag: bTag})
	assert.Equal(t, apierror.KindAccessDenied, apierror.KindOf(err))
}

func TestCashRegister_TransferAdmin(t *testing.T) {
	f := newFixture(t)
	reg := f.stockUp(nil)
	b, _ := f.staff("bob", "BOB")

	err := f.cashRegisters().TransferRegisterAdmin(f.ctx, f.admin, f.eventNode.ID, dto.AdminTransferRegisterRequest{
		SourceCashierID: f.term.User.ID,
		TargetCashierID: b.ID,
	})
	require.NoError(t, err)

	f.refreshTerminal()
	assert.Nil(t, f.term.User.CashRegisterID)
	assert.Nil(t, f.term.Till.ActiveCashRegisterID)
	require.NotNil(t, f.user(b.ID).CashRegisterID)
	assert.Equal(t, reg.ID, *f.user(b.ID).CashRegisterID)

	virtual, err := f.store.Tills.FindVirtualTill(f.ctx, nil, f.eventNode.ID)
	require.NoError(t, err)
	ends := f.ordersOfType(model.OrderCashierShiftEnd)
	require.Len(t, ends, 1)
	assert.Equal(t, virtual.ID, ends[0].TillID)

	cashier := &Actor{UserID: f.term.User.ID, Login: f.term.User.Login}
	err = f.cashRegisters().TransferRegisterAdmin(f.ctx, cashier, f.root.ID, dto.AdminTransferRegisterRequest{SourceCashierID: b.ID, TargetCashierID: f.term.User.ID})
	assert.Equal(t, apierror.KindAccessDenied, apierror.KindOf(err))
}

func TestCashRegister_ModifyTransportBalance(t *testing.T) {
	f := newFixture(t)
	regs := f.cashRegisters()
	orga, orgaTag := f.staff("orga", "ORGA")

	require.NoError(t, regs.ModifyTransportBalance(f.ctx, f.term, dto.ModifyBalanceRequest{Tag: orgaTag, Amount: dec("100")}))
	orga = f.user(orga.ID)
	require.NotNil(t, orga.TransportAccountID)
	assert.True(t, f.account(*orga.TransportAccountID).Balance.Equal(dec("100")))
	assert.True(t, f.systemAccount(model.AccountCashVault).Balance.Equal(dec("-100")))

	err := regs.ModifyTransportBalance(f.ctx, f.term, dto.ModifyBalanceRequest{Tag: orgaTag, Amount: dec("-150")})
	assert.Equal(t, apierror.KindNotEnoughFunds, apierror.KindOf(err), "transport account cannot go below zero")

	require.NoError(t, regs.ModifyTransportBalance(f.ctx, f.term, dto.ModifyBalanceRequest{Tag: orgaTag, Amount: dec("-100")}))
	assert.True(t, f.account(*orga.TransportAccountID).Balance.IsZero())
	assert.True(t, f.systemAccount(model.AccountCashVault).Balance.IsZero())

	err = regs.ModifyTransportBalance(f.ctx, f.term, dto.ModifyBalanceRequest{Tag: orgaTag, Amount: dec("0")})
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err))
}

func TestCashRegister_ModifyCashierBalance(t *testing.T) {
	f := newFixture(t)
	regs := f.cashRegisters()
	reg := f.stockUp(nil)
	cashierTag := dto.UserTagScan{Pin: f.cashierTag.Pin}

	// the logged in user carries the cash from their transport account
	require.NoError(t, regs.ModifyTransportBalance(f.ctx, f.term, dto.ModifyBalanceRequest{Tag: cashierTag, Amount: dec("50")}))
	require.NoError(t, regs.ModifyCashierBalance(f.ctx, f.term, dto.ModifyBalanceRequest{Tag: cashierTag, Amount: dec("30")}))

	transport := *f.user(f.term.User.ID).TransportAccountID
	assert.True(t, f.account(reg.AccountID).Balance.Equal(dec("30")))
	assert.True(t, f.account(transport).Balance.Equal(dec("20")))

	err := regs.ModifyCashierBalance(f.ctx, f.term, dto.ModifyBalanceRequest{Tag: cashierTag, Amount: dec("25")})
	assert.Equal(t, apierror.KindNotEnoughFunds, apierror.KindOf(err), "transport account cannot go below zero")
	err = regs.ModifyCashierBalance(f.ctx, f.term, dto.ModifyBalanceRequest{Tag: cashierTag, Amount: dec("-31")})
	assert.Equal(t, apierror.KindNotEnoughFunds, apierror.KindOf(err), "register cannot go below zero")

	require.NoError(t, regs.ModifyCashierBalance(f.ctx, f.term, dto.ModifyBalanceRequest{Tag: cashierTag, Amount: dec("-30")}))
	assert.True(t, f.account(reg.AccountID).Balance.IsZero())
	assert.True(t, f.account(transport).Balance.Equal(dec("50")))
	assert.Len(t, f.ordersOfType(model.OrderMoneyTransfer), 3)

	_, bTag := f.staff("bob", "BOB")
	err = regs.ModifyCashierBalance(f.ctx, f.term, dto.ModifyBalanceRequest{Tag: bTag, Amount: dec("5")})
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err), "bob holds no register")
}
