package service

import (
	"context"
	"testing"

	"github.com/stustapay/stustapay-sub000/internal/dto"
	"github.com/stustapay/stustapay-sub000/internal/model"
	"github.com/stustapay/stustapay-sub000/internal/repository"
	"github.com/stustapay/stustapay-sub000/internal/repository/memory"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// ── Fixture ───────────────────────────────────────────────────────────────────

// fixture is one event with a small beverage catalog, a cashier logged in at
// a till and an admin holding every privilege at the root node.
type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *repository.Store
	mem   *memory.DB

	ledger LedgerService
	auth   *Authorizer
	audit  AuditService

	admin     *Actor
	root      *model.Node
	eventNode *model.Node
	event     *model.Event

	ust     *model.TaxRate
	beer    *model.Product
	deposit *model.Product
	whisky  *model.Product

	beerButton    *model.TillButton
	depositButton *model.TillButton
	whiskyButton  *model.TillButton

	cashierTag *model.UserTag
	term       *Terminal
}

var allPrivileges = pq.StringArray{
	string(model.PrivNodeAdministration),
	string(model.PrivCustomerManagement),
	string(model.PrivCreateUser),
	string(model.PrivUserManagement),
	string(model.PrivAllowPrivilegedRoleAssignment),
	string(model.PrivCashTransport),
	string(model.PrivTerminalLogin),
	string(model.PrivCanBookOrders),
	string(model.PrivGrantFreeTickets),
	string(model.PrivGrantVouchers),
	string(model.PrivViewNodeStats),
	string(model.PrivPayoutManagement),
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, mem := memory.NewStore()
	auth := NewAuthorizer(store.Tree, store.Users)
	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		store:  store,
		mem:    mem,
		ledger: NewLedgerService(store.Accounts),
		auth:   auth,
		audit:  NewAuditService(store.Audit, auth),
	}
	f.setupAdmin()
	f.setupEvent()
	f.setupCatalog()
	f.setupTill()
	return f
}

func (f *fixture) setupAdmin() {
	f.root = &model.Node{Name: "root"}
	require.NoError(f.t, f.store.Tree.CreateNode(f.ctx, nil, f.root))

	role := &model.UserRole{NodeID: f.root.ID, Name: "admin", IsPrivileged: true, Privileges: allPrivileges}
	require.NoError(f.t, f.store.Users.CreateRole(f.ctx, nil, role))
	user := &model.User{NodeID: f.root.ID, Login: "admin"}
	require.NoError(f.t, f.store.Users.CreateUser(f.ctx, nil, user))
	require.NoError(f.t, f.store.Users.AssignRole(f.ctx, nil, &model.UserToRole{UserID: user.ID, RoleID: role.ID, NodeID: f.root.ID}))
	f.admin = &Actor{UserID: user.ID, Login: user.Login}
}

func (f *fixture) setupEvent() {
	tree := NewTreeService(f.store, f.ledger, f.auth, f.audit)
	resp, err := tree.CreateEvent(f.ctx, f.admin, f.root.ID, dto.NewEventRequest{
		NewNodeRequest: dto.NewNodeRequest{Name: "festival"},
		EventSettings: dto.EventSettings{
			Currency:                "EUR",
			MaxAccountBalance:       dec("150"),
			SepaEnabled:             true,
			SepaSenderName:          "StuStaCulum",
			SepaSenderIBAN:          "DE89370400440532013000",
			SepaDescription:         "StuStaPay Payout {user_tag_uid}",
			SepaAllowedCountryCodes: []string{"DE"},
			SepaMaxNumPayoutsInRun:  100,
		},
	})
	require.NoError(f.t, err)
	f.eventNode, err = f.store.Tree.GetNode(f.ctx, nil, resp.ID)
	require.NoError(f.t, err)
	f.event, err = f.store.Tree.GetEvent(f.ctx, nil, *f.eventNode.EventID)
	require.NoError(f.t, err)
}

func (f *fixture) product(p *model.Product) *model.Product {
	p.NodeID = f.eventNode.ID
	p.Type = model.ProductUserDefined
	p.FixedPrice = true
	p.IsLocked = true
	p.TaxRateID = f.ust.ID
	if p.Restrictions == nil {
		p.Restrictions = pq.StringArray{}
	}
	require.NoError(f.t, f.store.Catalog.CreateProduct(f.ctx, nil, p))
	return p
}

func (f *fixture) button(name string, products ...*model.Product) *model.TillButton {
	b := &model.TillButton{NodeID: f.eventNode.ID, Name: name}
	for _, p := range products {
		b.ProductIDs = append(b.ProductIDs, p.ID)
	}
	require.NoError(f.t, f.store.Catalog.CreateButton(f.ctx, nil, b))
	return b
}

func (f *fixture) setupCatalog() {
	f.ust = &model.TaxRate{NodeID: f.eventNode.ID, Name: "ust", Rate: dec("0.19")}
	require.NoError(f.t, f.store.Catalog.CreateTaxRate(f.ctx, nil, f.ust))

	f.beer = f.product(&model.Product{Name: "Beer 0.5l", Price: ptr(dec("3")), PriceInVouchers: ptr(int64(1)), PricePerVoucher: ptr(dec("2.5"))})
	f.deposit = f.product(&model.Product{Name: "Deposit", Price: ptr(dec("2")), IsReturnable: true})
	f.whisky = f.product(&model.Product{Name: "Whisky", Price: ptr(dec("6")), Restrictions: pq.StringArray{"under_16", "under_18"}})

	f.beerButton = f.button("Beer", f.beer, f.deposit)
	f.depositButton = f.button("Deposit", f.deposit)
	f.whiskyButton = f.button("Whisky", f.whisky)
}

func (f *fixture) setupTill() {
	layout := &model.TillLayout{
		NodeID:    f.eventNode.ID,
		Name:      "bar",
		ButtonIDs: pq.Int64Array{f.beerButton.ID, f.depositButton.ID, f.whiskyButton.ID},
		TicketIDs: pq.Int64Array{},
	}
	require.NoError(f.t, f.store.Catalog.CreateLayout(f.ctx, nil, layout))

	role := &model.UserRole{NodeID: f.eventNode.ID, Name: "cashier", Privileges: pq.StringArray{
		string(model.PrivCanBookOrders), string(model.PrivCashTransport), string(model.PrivGrantVouchers), string(model.PrivTerminalLogin),
	}}
	require.NoError(f.t, f.store.Users.CreateRole(f.ctx, nil, role))

	profile := &model.TillProfile{
		NodeID:            f.eventNode.ID,
		Name:              "bar",
		LayoutID:          layout.ID,
		AllowTopUp:        true,
		AllowCashOut:      true,
		AllowTicketSale:   true,
		EnableCashPayment: true,
		EnableCardPayment: true,
		EnableSSPPayment:  true,
		AllowedRoleIDs:    pq.Int64Array{role.ID},
	}
	require.NoError(f.t, f.store.Catalog.CreateProfile(f.ctx, nil, profile))

	f.cashierTag = &model.UserTag{NodeID: f.eventNode.ID, Pin: "CASHIER", UID: ptr(int64(0xCA5))}
	require.NoError(f.t, f.store.UserTags.CreateUserTag(f.ctx, nil, f.cashierTag))
	cashier := &model.User{NodeID: f.eventNode.ID, Login: "cashier", UserTagID: &f.cashierTag.ID}
	require.NoError(f.t, f.store.Users.CreateUser(f.ctx, nil, cashier))
	require.NoError(f.t, f.store.Users.AssignRole(f.ctx, nil, &model.UserToRole{UserID: cashier.ID, RoleID: role.ID, NodeID: f.eventNode.ID}))

	reg := uuid.New()
	till := &model.Till{
		NodeID:           f.eventNode.ID,
		Name:             "bar till",
		ActiveProfileID:  profile.ID,
		RegistrationUUID: &reg,
		ActiveUserID:     &cashier.ID,
		ActiveUserRoleID: &role.ID,
		ZNr:              1,
	}
	require.NoError(f.t, f.store.Tills.CreateTill(f.ctx, nil, till))

	f.term = &Terminal{
		Till:      *till,
		Node:      *f.eventNode,
		EventNode: *f.eventNode,
		Event:     *f.event,
		Profile:   *profile,
		Layout:    *layout,
		User:      cashier,
		Role:      role,
	}
}

// refreshTerminal reloads the till and the logged in user.
func (f *fixture) refreshTerminal() {
	till, err := f.store.Tills.GetTill(f.ctx, nil, f.term.Till.ID)
	require.NoError(f.t, err)
	f.term.Till = *till
	user, err := f.store.Users.GetUser(f.ctx, nil, f.term.User.ID)
	require.NoError(f.t, err)
	f.term.User = user
}

func (f *fixture) cashRegisters() CashRegisterService {
	return NewCashRegisterService(f.store, f.ledger, f.auth, f.audit, NoopSigner{})
}

func (f *fixture) orders() OrderService {
	return NewOrderService(f.store, f.ledger, f.auth, f.audit, NoopSigner{}, nil, nil)
}

// stockUp hands a fresh register to the cashier, optionally filled from a
// stocking, and returns it.
func (f *fixture) stockUp(stocking *model.CashRegisterStocking) *model.CashRegister {
	regs := f.cashRegisters()
	reg, err := regs.CreateRegister(f.ctx, f.admin, f.eventNode.ID, dto.NewCashRegisterRequest{Name: "drawer"})
	require.NoError(f.t, err)
	req := dto.StockUpRequest{CashierTag: dto.UserTagScan{Pin: f.cashierTag.Pin}, CashRegisterID: reg.ID}
	if stocking != nil {
		req.StockingID = &stocking.ID
	}
	require.NoError(f.t, regs.StockUp(f.ctx, f.term, req))
	f.refreshTerminal()
	require.NotNil(f.t, f.term.Till.ActiveCashRegisterID)
	return reg
}

// customer creates a tag with a bound private account holding balance and
// vouchers.
func (f *fixture) customer(pin string, uid int64, balance decimal.Decimal, vouchers int64, restriction *model.Restriction) *model.Account {
	tag := &model.UserTag{NodeID: f.eventNode.ID, Pin: pin, UID: &uid, Restriction: restriction}
	require.NoError(f.t, f.store.UserTags.CreateUserTag(f.ctx, nil, tag))
	acc := &model.Account{NodeID: f.eventNode.ID, Type: model.AccountPrivate, Balance: decimal.Zero, UserTagID: &tag.ID}
	require.NoError(f.t, f.store.Accounts.CreateAccount(f.ctx, nil, acc))

	if balance.IsPositive() {
		src := f.systemAccount(model.AccountCashTopupSource)
		_, err := f.ledger.BookTransaction(f.ctx, nil, nil, Posting{Source: src.ID, Target: acc.ID, Amount: balance}, nil)
		require.NoError(f.t, err)
	}
	if vouchers > 0 {
		src := f.systemAccount(model.AccountVoucherCreate)
		_, err := f.ledger.BookTransaction(f.ctx, nil, nil, Posting{Source: src.ID, Target: acc.ID, Amount: decimal.Zero, Vouchers: vouchers}, nil)
		require.NoError(f.t, err)
	}
	return f.account(acc.ID)
}

func (f *fixture) account(id int64) *model.Account {
	acc, err := f.ledger.GetAccount(f.ctx, nil, id)
	require.NoError(f.t, err)
	return acc
}

func (f *fixture) systemAccount(t model.AccountType) *model.Account {
	acc, err := f.ledger.SystemAccount(f.ctx, nil, f.eventNode.ID, t)
	require.NoError(f.t, err)
	return acc
}

func (f *fixture) transactionCount() int {
	return len(f.mem.Transactions())
}
