package service

import (
	"testing"
	"time"

	"github.com/stustapay/stustapay-sub000/internal/apierror"
	"github.com/stustapay/stustapay-sub000/internal/dto"
	"github.com/stustapay/stustapay-sub000/internal/model"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) terminals() (TerminalService, TokenService) {
	tokens := NewTokenService(f.store, "terminal-secret", time.Hour)
	return NewTerminalService(f.store, tokens, f.audit), tokens
}

func TestTerminal_RegisterResolveLogout(t *testing.T) {
	f := newFixture(t)
	terminals, tokens := f.terminals()
	reg := f.term.Till.RegistrationUUID.String()

	_, err := terminals.Register(f.ctx, dto.RegisterTerminalRequest{RegistrationUUID: uuid.NewString()})
	assert.Equal(t, apierror.KindAccessDenied, apierror.KindOf(err))

	resp, err := terminals.Register(f.ctx, dto.RegisterTerminalRequest{RegistrationUUID: reg})
	require.NoError(t, err)
	assert.Equal(t, f.term.Till.ID, resp.TillID)

	_, err = terminals.Register(f.ctx, dto.RegisterTerminalRequest{RegistrationUUID: reg})
	assert.Equal(t, apierror.KindAccessDenied, apierror.KindOf(err), "the registration uuid is single use")

	p, err := tokens.Verify(f.ctx, resp.Token)
	require.NoError(t, err)
	term, err := terminals.Resolve(f.ctx, p)
	require.NoError(t, err)
	assert.Equal(t, f.eventNode.ID, term.EventNode.ID)
	require.NotNil(t, term.User)
	assert.Equal(t, "cashier", term.User.Login)

	require.NoError(t, terminals.Logout(f.ctx, term))
	_, err = tokens.Verify(f.ctx, resp.Token)
	assert.Equal(t, apierror.KindUnauthorized, apierror.KindOf(err))

	till, err := f.store.Tills.GetTill(f.ctx, nil, f.term.Till.ID)
	require.NoError(t, err)
	assert.Nil(t, till.ActiveUserID, "logging out the terminal ends the user session")
}

func TestTerminal_ResolveRejectsOtherTokenKinds(t *testing.T) {
	f := newFixture(t)
	terminals, _ := f.terminals()

	_, err := terminals.Resolve(f.ctx, &Principal{Kind: TokenUser, Actor: f.admin})
	assert.Equal(t, apierror.KindUnauthorized, apierror.KindOf(err))
}

func TestTerminal_UserLoginChecksRoleAndProfile(t *testing.T) {
	f := newFixture(t)
	terminals, _ := f.terminals()
	cashierRole := f.term.Role.ID

	require.NoError(t, terminals.LogoutUser(f.ctx, f.term))
	f.refreshTerminal()
	f.term.User, f.term.Role = nil, nil
	err := terminals.LogoutUser(f.ctx, f.term)
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err), "nobody is logged in")

	scan := dto.UserTagScan{Pin: f.cashierTag.Pin}
	_, err = terminals.LoginUser(f.ctx, f.term, dto.TerminalUserLoginRequest{UserTag: scan, RoleID: f.admin.UserID + 1000})
	assert.Equal(t, apierror.KindAccessDenied, apierror.KindOf(err), "role not held")

	// a role the cashier holds but the till profile does not allow
	runner := &model.UserRole{NodeID: f.eventNode.ID, Name: "runner", Privileges: pq.StringArray{string(model.PrivTerminalLogin)}}
	require.NoError(t, f.store.Users.CreateRole(f.ctx, nil, runner))
	cashier, err := f.store.Users.FindUserByTag(f.ctx, nil, f.cashierTag.ID)
	require.NoError(t, err)
	require.NoError(t, f.store.Users.AssignRole(f.ctx, nil, &model.UserToRole{UserID: cashier.ID, RoleID: runner.ID, NodeID: f.eventNode.ID}))
	_, err = terminals.LoginUser(f.ctx, f.term, dto.TerminalUserLoginRequest{UserTag: scan, RoleID: runner.ID})
	assert.Equal(t, apierror.KindAccessDenied, apierror.KindOf(err), "role not allowed at profile")

	current, err := terminals.LoginUser(f.ctx, f.term, dto.TerminalUserLoginRequest{UserTag: scan, RoleID: cashierRole})
	require.NoError(t, err)
	assert.Equal(t, cashier.ID, current.ID)
	assert.Equal(t, "cashier", current.RoleName)
	assert.Contains(t, current.Privileges, string(model.PrivCanBookOrders))
}

func TestTerminal_ZNrAdvancesOnlyAfterBookings(t *testing.T) {
	f := newFixture(t)
	terminals, _ := f.terminals()
	scan := dto.UserTagScan{Pin: f.cashierTag.Pin}
	roleID := f.term.Role.ID

	require.NoError(t, terminals.LogoutUser(f.ctx, f.term))
	f.refreshTerminal()
	assert.Equal(t, int64(1), f.term.Till.ZNr, "empty session keeps the z number")

	_, err := terminals.LoginUser(f.ctx, f.term, dto.TerminalUserLoginRequest{UserTag: scan, RoleID: roleID})
	require.NoError(t, err)
	f.refreshTerminal()
	f.customer("P1", 0xABCD, dec("20"), 0, nil)
	_, err = f.orders().BookSale(f.ctx, f.term, sale(0xABCD, "tag", press(f.beerButton, 1)))
	require.NoError(t, err)

	require.NoError(t, terminals.LogoutUser(f.ctx, f.term))
	f.refreshTerminal()
	assert.Equal(t, int64(2), f.term.Till.ZNr)
}

func TestTerminal_ConfigFoldsButtonPrices(t *testing.T) {
	f := newFixture(t)
	terminals, _ := f.terminals()

	cfg, err := terminals.Config(f.ctx, f.term)
	require.NoError(t, err)
	assert.Equal(t, "festival", cfg.EventName)
	require.NotNil(t, cfg.ActiveUser)
	require.Len(t, cfg.Buttons, 3)

	beer := cfg.Buttons[0]
	assert.Equal(t, f.beerButton.ID, beer.ID)
	assert.True(t, beer.FixedPrice)
	require.NotNil(t, beer.Price)
	assert.True(t, beer.Price.Equal(dec("5")), "beer plus deposit, got %s", beer.Price)
	assert.True(t, beer.IsReturnable)
	require.NotNil(t, beer.PricePerVoucher)
	assert.True(t, beer.PricePerVoucher.Equal(dec("2.5")))
	assert.Empty(t, cfg.Tickets)
}
