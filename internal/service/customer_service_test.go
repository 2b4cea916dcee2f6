package service

import (
	"testing"
	"time"

	"github.com/stustapay/stustapay-sub000/internal/apierror"
	"github.com/stustapay/stustapay-sub000/internal/dto"
	"github.com/stustapay/stustapay-sub000/internal/model"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) customers() CustomerService {
	return NewCustomerService(f.store, f.ledger, f.auth, f.audit, nil)
}

func bankRequest(iban string) dto.CustomerBankRequest {
	return dto.CustomerBankRequest{IBAN: iban, AccountName: "Max Mustermann", Email: "max@example.org", Donation: dec("0")}
}

func TestCustomer_GetIncludesTag(t *testing.T) {
	f := newFixture(t)
	restriction := model.RestrictionUnder18
	acc := f.customer("P1", 0xABCD, dec("20"), 2, &restriction)

	resp, err := f.customers().Get(f.ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, resp.Balance.Equal(dec("20")))
	assert.Equal(t, int64(2), resp.VoucherAmount)
	assert.Equal(t, "P1", resp.UserTagPin)
	require.NotNil(t, resp.Restriction)
	assert.Equal(t, string(model.RestrictionUnder18), *resp.Restriction)
	assert.True(t, resp.PayoutExport, "customers are exported unless they opt out")

	_, err = f.customers().Get(f.ctx, f.systemAccount(model.AccountSaleExit).ID)
	assert.Equal(t, apierror.KindNotFound, apierror.KindOf(err), "system accounts are not customers")
}

func TestCustomer_UpdateBankData(t *testing.T) {
	f := newFixture(t)
	customers := f.customers()
	acc := f.customer("P1", 0xABCD, dec("20"), 0, nil)

	_, err := customers.UpdateBankData(f.ctx, acc.ID, bankRequest("DE89370400440532013001"))
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err), "checksum mismatch")

	_, err = customers.UpdateBankData(f.ctx, acc.ID, bankRequest("GB82WEST12345698765432"))
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err), "country not allowed")

	req := bankRequest("DE89370400440532013000")
	req.Email = "not an address"
	_, err = customers.UpdateBankData(f.ctx, acc.ID, req)
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err))

	req = bankRequest("DE89370400440532013000")
	req.Donation = dec("25")
	_, err = customers.UpdateBankData(f.ctx, acc.ID, req)
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err), "donation above balance")

	req = bankRequest("de89 3704 0044 0532 0130 00")
	req.Donation = dec("5")
	resp, err := customers.UpdateBankData(f.ctx, acc.ID, req)
	require.NoError(t, err)
	require.NotNil(t, resp.IBAN)
	assert.Equal(t, "DE89370400440532013000", *resp.IBAN, "iban is stored normalized")
	assert.True(t, resp.Donation.Equal(dec("5")))

	info, err := customers.PayoutInfo(f.ctx, acc.ID)
	require.NoError(t, err)
	assert.False(t, info.InPayoutRun)
	assert.True(t, info.PayoutAmount.Equal(dec("15")))
}

func TestCustomer_DonateAll(t *testing.T) {
	f := newFixture(t)
	customers := f.customers()
	acc := f.customer("P1", 0xABCD, dec("12.5"), 0, nil)

	resp, err := customers.DonateAll(f.ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, resp.DonateAll)
	assert.True(t, resp.Donation.Equal(dec("12.5")))

	info, err := customers.PayoutInfo(f.ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, info.PayoutAmount.IsZero())

	_, err = customers.UpdateBankData(f.ctx, acc.ID, bankRequest("DE89370400440532013000"))
	require.NoError(t, err)
	ci, err := f.store.Accounts.GetCustomerInfo(f.ctx, nil, acc.ID)
	require.NoError(t, err)
	assert.False(t, ci.DonateAll, "entering bank data revokes donate all")
}

func TestCustomer_LockedWhileInPayoutRun(t *testing.T) {
	f := newFixture(t)
	customers := f.customers()
	acc := f.customer("P1", 0xABCD, dec("30"), 0, nil)
	_, err := customers.UpdateBankData(f.ctx, acc.ID, bankRequest("DE89370400440532013000"))
	require.NoError(t, err)

	date := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	run := &model.PayoutRun{NodeID: f.eventNode.ID, CreatedBy: "admin", CreatedAt: date, ExecutionDate: &date}
	require.NoError(t, f.store.Payouts.CreatePayoutRun(f.ctx, nil, run))
	require.NoError(t, f.store.Payouts.SetPayoutRunOfCustomers(f.ctx, nil, []int64{acc.ID}, &run.ID))

	info, err := customers.PayoutInfo(f.ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, info.InPayoutRun)
	require.NotNil(t, info.PayoutDate)
	assert.True(t, info.PayoutDate.Equal(date))
	assert.True(t, info.PayoutAmount.Equal(dec("30")))

	_, err = customers.UpdateBankData(f.ctx, acc.ID, bankRequest("DE89370400440532013000"))
	assert.Equal(t, apierror.KindConflict, apierror.KindOf(err))
	_, err = customers.DonateAll(f.ctx, acc.ID)
	assert.Equal(t, apierror.KindConflict, apierror.KindOf(err))
}

func TestCustomer_CheckoutNeedsProvider(t *testing.T) {
	f := newFixture(t)
	acc := f.customer("P1", 0xABCD, dec("10"), 0, nil)

	_, err := f.customers().CreateCheckout(f.ctx, acc.ID, dto.CreateCheckoutRequest{Amount: dec("20")})
	assert.Equal(t, apierror.KindExternalUnavailable, apierror.KindOf(err))
}

func TestCustomer_FindCustomerScopedToNode(t *testing.T) {
	f := newFixture(t)
	customers := f.customers()
	acc := f.customer("P1", 0xABCD, dec("10"), 0, nil)

	found, err := customers.FindCustomer(f.ctx, f.admin, f.eventNode.ID, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, acc.ID, found.ID)

	bar, err := f.tree().CreateNode(f.ctx, f.admin, f.eventNode.ID, dto.NewNodeRequest{Name: "bar"})
	require.NoError(t, err)
	_, err = customers.FindCustomer(f.ctx, f.admin, bar.ID, acc.ID)
	assert.Equal(t, apierror.KindNotFound, apierror.KindOf(err))

	_, err = customers.FindCustomer(f.ctx, f.manager(), f.eventNode.ID, acc.ID)
	assert.Equal(t, apierror.KindAccessDenied, apierror.KindOf(err))
}

func TestCustomer_GrantVouchers(t *testing.T) {
	f := newFixture(t)
	customers := f.customers()
	acc := f.customer("P1", 0xABCD, dec("10"), 1, nil)

	resp, err := customers.GrantVouchers(f.ctx, f.term, dto.GrantVouchersRequest{CustomerTagUID: 0xABCD, Vouchers: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(4), resp.VoucherAmount)
	assert.True(t, f.account(acc.ID).Balance.Equal(dec("10")), "vouchers carry no money")

	_, err = customers.GrantVouchers(f.ctx, f.term, dto.GrantVouchersRequest{CustomerTagUID: 0xABCD, Vouchers: 0})
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err))

	_, err = customers.GrantVouchers(f.ctx, f.term, dto.GrantVouchersRequest{CustomerTagUID: 0xDEAD, Vouchers: 1})
	assert.Equal(t, apierror.KindNotFound, apierror.KindOf(err))

	f.term.Role = &model.UserRole{Name: "runner", Privileges: pq.StringArray{string(model.PrivTerminalLogin)}}
	_, err = customers.GrantVouchers(f.ctx, f.term, dto.GrantVouchersRequest{CustomerTagUID: 0xABCD, Vouchers: 1})
	assert.Equal(t, apierror.KindAccessDenied, apierror.KindOf(err))
}
