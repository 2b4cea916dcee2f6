package service

import (
	"encoding/csv"
	"encoding/xml"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stustapay/stustapay-sub000/internal/apierror"
	"github.com/stustapay/stustapay-sub000/internal/dto"
	"github.com/stustapay/stustapay-sub000/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMailer struct {
	sent []model.Mail
	err  error
}

func (m *recordingMailer) Send(_ *model.Event, mail *model.Mail) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, *mail)
	return nil
}

// payoutCustomer registers bank data for a funded customer.
func (f *fixture) payoutCustomer(pin string, uid int64, balance, donation decimal.Decimal, iban, email string) *model.Account {
	acc := f.customer(pin, uid, balance, 0, nil)
	name := "Customer " + pin
	ci := &model.CustomerInfo{
		CustomerAccountID: acc.ID,
		IBAN:              &iban,
		AccountName:       &name,
		Donation:          donation,
		PayoutExport:      true,
		HasEnteredInfo:    true,
	}
	if email != "" {
		ci.Email = &email
	}
	require.NoError(f.t, f.store.Accounts.SaveCustomerInfo(f.ctx, nil, ci))
	return acc
}

func (f *fixture) payouts(mailer Mailer) PayoutService {
	return NewPayoutService(f.store, f.ledger, f.auth, f.audit, NewMailService(f.store, mailer))
}

func (f *fixture) threePayoutCustomers() (a, b, c *model.Account) {
	a = f.payoutCustomer("A", 0xA1, dec("50"), dec("10"), "DE02120300000000202051", "a@example.org")
	b = f.payoutCustomer("B", 0xB2, dec("30"), dec("0"), "DE02500105170137075030", "")
	c = f.payoutCustomer("C", 0xC3, dec("20"), dec("20"), "DE89370400440532013000", "")
	return a, b, c
}

func TestPayout_RunSelectsEligibleCustomers(t *testing.T) {
	f := newFixture(t)
	a, b, _ := f.threePayoutCustomers()
	svc := f.payouts(&recordingMailer{})

	run, err := svc.CreatePayoutRun(f.ctx, f.admin, f.eventNode.ID, dto.CreatePayoutRunRequest{MaxPayoutSum: dec("100"), MaxNumPayouts: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, run.NumPayouts)
	assert.True(t, run.TotalAmount.Equal(dec("70")))
	assert.True(t, run.TotalDonation.Equal(dec("10")))

	payouts, err := svc.ListPayouts(f.ctx, f.admin, f.eventNode.ID, run.ID)
	require.NoError(t, err)
	require.Len(t, payouts, 2)
	assert.Equal(t, a.ID, payouts[0].CustomerAccountID)
	assert.True(t, payouts[0].Amount.Equal(dec("40")))
	assert.Equal(t, b.ID, payouts[1].CustomerAccountID)
	assert.True(t, payouts[1].Amount.Equal(dec("30")))

	_, err = svc.CreatePayoutRun(f.ctx, f.admin, f.eventNode.ID, dto.CreatePayoutRunRequest{MaxPayoutSum: dec("100"), MaxNumPayouts: 10})
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err), "customers in a run are not selected again")
}

func TestPayout_RunRespectsLimits(t *testing.T) {
	f := newFixture(t)
	f.threePayoutCustomers()
	svc := f.payouts(&recordingMailer{})

	run, err := svc.CreatePayoutRun(f.ctx, f.admin, f.eventNode.ID, dto.CreatePayoutRunRequest{MaxPayoutSum: dec("60"), MaxNumPayouts: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, run.NumPayouts)

	_, err = svc.CreatePayoutRun(f.ctx, f.admin, f.eventNode.ID, dto.CreatePayoutRunRequest{MaxPayoutSum: dec("60"), MaxNumPayouts: 1000})
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err))
}

func TestPayout_SepaXML(t *testing.T) {
	f := newFixture(t)
	f.threePayoutCustomers()
	svc := f.payouts(&recordingMailer{})
	run, err := svc.CreatePayoutRun(f.ctx, f.admin, f.eventNode.ID, dto.CreatePayoutRunRequest{MaxPayoutSum: dec("100"), MaxNumPayouts: 10})
	require.NoError(t, err)

	today := time.Now().Format("2006-01-02")
	body, err := svc.SepaXML(f.ctx, f.admin, f.eventNode.ID, run.ID, dto.SepaXMLRequest{ExecutionDate: today})
	require.NoError(t, err)

	var doc sepaDocument
	require.NoError(t, xml.Unmarshal(body, &doc))
	pmt := doc.Initiate.Payment
	require.Len(t, pmt.Transactions, 2)
	assert.Equal(t, "40.00", pmt.Transactions[0].Amount.Value)
	assert.Equal(t, "30.00", pmt.Transactions[1].Amount.Value)
	assert.Equal(t, "EUR", pmt.Transactions[0].Amount.Currency)
	assert.Equal(t, "StuStaPay Payout A1", pmt.Transactions[0].Unstructured)
	assert.Equal(t, "70.00", pmt.ControlSum)
	assert.Equal(t, today, pmt.ExecutionDate)
	assert.Equal(t, "DE89370400440532013000", pmt.DebtorAccount.IBAN)

	yesterday := time.Now().AddDate(0, 0, -1).Format("2006-01-02")
	_, err = svc.SepaXML(f.ctx, f.admin, f.eventNode.ID, run.ID, dto.SepaXMLRequest{ExecutionDate: yesterday})
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err))
}

func TestPayout_CSV(t *testing.T) {
	f := newFixture(t)
	a, _, _ := f.threePayoutCustomers()
	svc := f.payouts(&recordingMailer{})
	run, err := svc.CreatePayoutRun(f.ctx, f.admin, f.eventNode.ID, dto.CreatePayoutRunRequest{MaxPayoutSum: dec("100"), MaxNumPayouts: 10})
	require.NoError(t, err)

	body, err := svc.CSV(f.ctx, f.admin, f.eventNode.ID, run.ID)
	require.NoError(t, err)
	rows, err := csv.NewReader(strings.NewReader(string(body))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, payoutCSVHeader, rows[0])
	assert.Equal(t, strconv.FormatInt(a.ID, 10), rows[1][0])
	assert.Equal(t, "Customer A", rows[1][1])
	assert.Equal(t, "40.00", rows[1][3])
	assert.Equal(t, "10.00", rows[1][4])
	assert.Equal(t, "A1", rows[1][7])
	assert.Equal(t, "a@example.org", rows[1][8])
}

func TestPayout_SetDoneBooksRefundsAndDonations(t *testing.T) {
	f := newFixture(t)
	f.event.EmailEnabled = true
	f.event.EmailDefaultSender = "payout@example.org"
	f.event.PayoutDoneMessage = "We sent {amount} {currency} to {iban}."
	require.NoError(t, f.store.Tree.UpdateEvent(f.ctx, nil, f.event))

	a, b, c := f.threePayoutCustomers()
	mailer := &recordingMailer{}
	svc := f.payouts(mailer)
	run, err := svc.CreatePayoutRun(f.ctx, f.admin, f.eventNode.ID, dto.CreatePayoutRunRequest{MaxPayoutSum: dec("100"), MaxNumPayouts: 10})
	require.NoError(t, err)

	done, err := svc.SetDone(f.ctx, f.admin, f.eventNode.ID, run.ID)
	require.NoError(t, err)
	assert.True(t, done.Done)
	require.NotNil(t, done.SetDoneBy)
	assert.Equal(t, "admin", *done.SetDoneBy)

	assert.True(t, f.account(a.ID).Balance.IsZero())
	assert.True(t, f.account(b.ID).Balance.IsZero())
	assert.True(t, f.account(c.ID).Balance.Equal(dec("20")))
	assert.True(t, f.systemAccount(model.AccountSepaExit).Balance.Equal(dec("70")))
	assert.True(t, f.systemAccount(model.AccountDonationExit).Balance.Equal(dec("10")))

	_, err = svc.SetDone(f.ctx, f.admin, f.eventNode.ID, run.ID)
	assert.Equal(t, apierror.KindConflict, apierror.KindOf(err))
	_, err = svc.Revoke(f.ctx, f.admin, f.eventNode.ID, run.ID)
	assert.Equal(t, apierror.KindConflict, apierror.KindOf(err))

	dead, err := NewMailService(f.store, mailer).SendDue(f.ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, dead)
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, []string{"a@example.org"}, []string(mailer.sent[0].ToAddrs))
	assert.Equal(t, "We sent 40.00 EUR to DE02120300000000202051.", mailer.sent[0].Message)
}

func TestPayout_SetDoneSurvivesUndeliverableAddress(t *testing.T) {
	f := newFixture(t)
	f.event.EmailEnabled = true
	f.event.EmailDefaultSender = "payout@example.org"
	require.NoError(t, f.store.Tree.UpdateEvent(f.ctx, nil, f.event))

	bad := f.payoutCustomer("X", 0xE1, dec("50"), dec("0"), "DE02120300000000202051", "a@example")
	good := f.payoutCustomer("Y", 0xE2, dec("25"), dec("5"), "DE02500105170137075030", "y@example.org")
	svc := f.payouts(&recordingMailer{})
	run, err := svc.CreatePayoutRun(f.ctx, f.admin, f.eventNode.ID, dto.CreatePayoutRunRequest{MaxPayoutSum: dec("100"), MaxNumPayouts: 10})
	require.NoError(t, err)
	require.Equal(t, 2, run.NumPayouts)

	done, err := svc.SetDone(f.ctx, f.admin, f.eventNode.ID, run.ID)
	require.NoError(t, err)
	assert.True(t, done.Done)

	assert.True(t, f.account(bad.ID).Balance.IsZero())
	assert.True(t, f.account(good.ID).Balance.IsZero())
	assert.True(t, f.systemAccount(model.AccountSepaExit).Balance.Equal(dec("70")))
	assert.True(t, f.systemAccount(model.AccountDonationExit).Balance.Equal(dec("5")))

	mails := f.mem.Mails()
	require.Len(t, mails, 1)
	assert.Equal(t, []string{"y@example.org"}, []string(mails[0].ToAddrs))
}

func TestPayout_RevokeReleasesCustomers(t *testing.T) {
	f := newFixture(t)
	f.threePayoutCustomers()
	svc := f.payouts(&recordingMailer{})
	req := dto.CreatePayoutRunRequest{MaxPayoutSum: dec("100"), MaxNumPayouts: 10}
	run, err := svc.CreatePayoutRun(f.ctx, f.admin, f.eventNode.ID, req)
	require.NoError(t, err)

	revoked, err := svc.Revoke(f.ctx, f.admin, f.eventNode.ID, run.ID)
	require.NoError(t, err)
	assert.True(t, revoked.Revoked)
	assert.Equal(t, 0, revoked.NumPayouts)

	_, err = svc.SepaXML(f.ctx, f.admin, f.eventNode.ID, run.ID, dto.SepaXMLRequest{ExecutionDate: time.Now().Format("2006-01-02")})
	assert.Equal(t, apierror.KindConflict, apierror.KindOf(err))

	again, err := svc.CreatePayoutRun(f.ctx, f.admin, f.eventNode.ID, req)
	require.NoError(t, err)
	assert.Equal(t, 2, again.NumPayouts)
}

func TestPayout_RequiresPrivilege(t *testing.T) {
	f := newFixture(t)
	f.threePayoutCustomers()
	cashier := &Actor{UserID: f.term.User.ID, Login: f.term.User.Login}

	_, err := f.payouts(&recordingMailer{}).CreatePayoutRun(f.ctx, cashier, f.eventNode.ID, dto.CreatePayoutRunRequest{MaxPayoutSum: dec("100"), MaxNumPayouts: 10})
	assert.Equal(t, apierror.KindAccessDenied, apierror.KindOf(err))
}

func TestMail_FailedDeliveryIsRetried(t *testing.T) {
	f := newFixture(t)
	f.event.EmailEnabled = true
	require.NoError(t, f.store.Tree.UpdateEvent(f.ctx, nil, f.event))
	mailer := &recordingMailer{err: errors.New("connection refused")}
	svc := NewMailService(f.store, mailer)

	require.NoError(t, svc.Enqueue(f.ctx, nil, &model.Mail{NodeID: f.eventNode.ID, ToAddrs: []string{"x@example.org"}, Subject: "hi"}))

	dead, err := svc.SendDue(f.ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, dead)

	mails := f.mem.Mails()
	require.Len(t, mails, 1)
	assert.Equal(t, 1, mails[0].NumRetries)
	assert.Nil(t, mails[0].SendDate)
	assert.True(t, mails[0].ScheduledSendDate.After(time.Now()))
}

func TestMail_LastAttemptIsDead(t *testing.T) {
	f := newFixture(t)
	f.event.EmailEnabled = true
	require.NoError(t, f.store.Tree.UpdateEvent(f.ctx, nil, f.event))
	svc := NewMailService(f.store, &recordingMailer{err: errors.New("550 mailbox unavailable")})

	m := &model.Mail{NodeID: f.eventNode.ID, ToAddrs: []string{"x@example.org"}, NumRetries: model.MaxMailRetries - 1}
	require.NoError(t, svc.Enqueue(f.ctx, nil, m))

	dead, err := svc.SendDue(f.ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, m.ID, dead[0].ID)
	assert.Equal(t, model.MaxMailRetries, dead[0].NumRetries)
}

func TestMail_EnqueueRejectsBadRecipient(t *testing.T) {
	f := newFixture(t)
	err := NewMailService(f.store, &recordingMailer{}).Enqueue(f.ctx, nil, &model.Mail{NodeID: f.eventNode.ID, ToAddrs: []string{"not an address"}})
	assert.Equal(t, apierror.KindInvalidArgument, apierror.KindOf(err))
}

func TestMail_RetryDelayGrows(t *testing.T) {
	assert.Less(t, model.MailRetryDelay(1), model.MailRetryDelay(2))
	assert.Less(t, model.MailRetryDelay(2), model.MailRetryDelay(5))
}
