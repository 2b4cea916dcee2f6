package service

import (
	"context"
	"encoding/json"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/stustapay/stustapay-sub000/internal/apierror"
	"github.com/stustapay/stustapay-sub000/internal/dto"
	"github.com/stustapay/stustapay-sub000/internal/model"
	"github.com/stustapay/stustapay-sub000/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	emailPattern           = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	sepaDescriptionPattern = regexp.MustCompile(`^[A-Za-z0-9 \-.,:()/?'+]*$`)
	ibanPattern            = regexp.MustCompile(`^[A-Z]{2}[0-9]{2}[A-Z0-9]{11,30}$`)
)

func normalizeIBAN(iban string) string {
	return strings.ToUpper(strings.ReplaceAll(iban, " ", ""))
}

// validIBAN checks structure and the mod-97 checksum.
func validIBAN(iban string) bool {
	iban = normalizeIBAN(iban)
	if !ibanPattern.MatchString(iban) {
		return false
	}
	rearranged := iban[4:] + iban[:4]
	var digits strings.Builder
	for _, c := range rearranged {
		if c >= 'A' && c <= 'Z' {
			digits.WriteString(big.NewInt(int64(c-'A') + 10).String())
		} else {
			digits.WriteRune(c)
		}
	}
	n, ok := new(big.Int).SetString(digits.String(), 10)
	if !ok {
		return false
	}
	return new(big.Int).Mod(n, big.NewInt(97)).Int64() == 1
}

// CustomerService is the customer portal: balance, bank data for the
// refund and online top-ups. Terminals use it to grant vouchers.
type CustomerService interface {
	Get(ctx context.Context, customerID int64) (*dto.CustomerResponse, error)
	UpdateBankData(ctx context.Context, customerID int64, req dto.CustomerBankRequest) (*dto.CustomerResponse, error)
	DonateAll(ctx context.Context, customerID int64) (*dto.CustomerResponse, error)
	PayoutInfo(ctx context.Context, customerID int64) (*dto.PayoutInfo, error)
	CreateCheckout(ctx context.Context, customerID int64, req dto.CreateCheckoutRequest) (*dto.SumUpCheckoutResponse, error)

	FindCustomer(ctx context.Context, actor *Actor, nodeID, accountID int64) (*dto.CustomerResponse, error)
	GrantVouchers(ctx context.Context, term *Terminal, req dto.GrantVouchersRequest) (*dto.CustomerResponse, error)
}

type customerService struct {
	store  *repository.Store
	ledger LedgerService
	auth   *Authorizer
	audit  AuditService
	cards  CardPaymentProvider
	now    Clock
}

func NewCustomerService(store *repository.Store, ledger LedgerService, auth *Authorizer, audit AuditService, cards CardPaymentProvider) CustomerService {
	return &customerService{store: store, ledger: ledger, auth: auth, audit: audit, cards: cards, now: time.Now}
}

// customerInfo returns the stored bank data or an empty record.
func (s *customerService) customerInfo(ctx context.Context, tx *gorm.DB, accountID int64) (*model.CustomerInfo, error) {
	ci, err := s.store.Accounts.GetCustomerInfo(ctx, tx, accountID)
	if err == nil {
		return ci, nil
	}
	if !isNotFound(err) {
		return nil, apierror.FromDB(err)
	}
	return &model.CustomerInfo{CustomerAccountID: accountID, Donation: decimal.Zero, PayoutExport: true}, nil
}

func (s *customerService) customer(ctx context.Context, tx *gorm.DB, id int64) (*model.Account, error) {
	acc, err := s.ledger.GetAccount(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if !acc.IsCustomer() {
		return nil, apierror.NotFound("customer %d not found", id)
	}
	return acc, nil
}

func (s *customerService) response(ctx context.Context, tx *gorm.DB, acc *model.Account) (*dto.CustomerResponse, error) {
	ci, err := s.customerInfo(ctx, tx, acc.ID)
	if err != nil {
		return nil, err
	}
	resp := &dto.CustomerResponse{
		ID:            acc.ID,
		NodeID:        acc.NodeID,
		Balance:       acc.Balance,
		VoucherAmount: acc.VoucherAmount,
		IBAN:          ci.IBAN,
		AccountName:   ci.AccountName,
		Email:         ci.Email,
		Donation:      ci.Donation,
		DonateAll:     ci.DonateAll,
		PayoutRunID:   ci.PayoutRunID,
		PayoutError:   ci.PayoutError,
		PayoutExport:  ci.PayoutExport,
	}
	if acc.UserTagID != nil {
		tag, err := s.store.UserTags.GetUserTag(ctx, tx, *acc.UserTagID)
		if err != nil {
			return nil, lookup(err, "user tag %d not found", *acc.UserTagID)
		}
		resp.UserTagPin = tag.Pin
		resp.UserTagUID = tag.UID
		if tag.Restriction != nil {
			r := string(*tag.Restriction)
			resp.Restriction = &r
		}
	}
	return resp, nil
}

func (s *customerService) Get(ctx context.Context, customerID int64) (*dto.CustomerResponse, error) {
	acc, err := s.customer(ctx, nil, customerID)
	if err != nil {
		return nil, err
	}
	return s.response(ctx, nil, acc)
}

func (s *customerService) UpdateBankData(ctx context.Context, customerID int64, req dto.CustomerBankRequest) (*dto.CustomerResponse, error) {
	var resp *dto.CustomerResponse
	err := runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		acc, err := s.customer(ctx, tx, customerID)
		if err != nil {
			return err
		}
		_, event, err := eventOf(ctx, s.store.Tree, tx, acc.NodeID)
		if err != nil {
			return err
		}
		iban := normalizeIBAN(req.IBAN)
		if !validIBAN(iban) {
			return apierror.InvalidArgument("invalid iban")
		}
		if !countryAllowed(event.SepaAllowedCountryCodes, iban[:2]) {
			return apierror.InvalidArgument("payouts to %s are not supported", iban[:2])
		}
		if !emailPattern.MatchString(req.Email) {
			return apierror.InvalidArgument("invalid email address")
		}
		if req.Donation.IsNegative() || req.Donation.GreaterThan(acc.Balance) {
			return apierror.InvalidArgument("donation must be between 0 and the account balance")
		}
		ci, err := s.customerInfo(ctx, tx, acc.ID)
		if err != nil {
			return err
		}
		if ci.PayoutRunID != nil {
			return apierror.Conflict("the payout is already being processed")
		}
		name, email := req.AccountName, req.Email
		ci.IBAN, ci.AccountName, ci.Email = &iban, &name, &email
		ci.Donation, ci.DonateAll = req.Donation, false
		ci.HasEnteredInfo = true
		ci.PayoutError = nil
		if err := s.store.Accounts.SaveCustomerInfo(ctx, tx, ci); err != nil {
			return apierror.FromDB(err)
		}
		s.audit.Log(ctx, tx, AuditEntry{NodeID: acc.NodeID, Type: model.AuditCustomerInfoUpdated, Content: map[string]any{"customer_account_id": acc.ID}})
		resp, err = s.response(ctx, tx, acc)
		return err
	})
	return resp, err
}

func countryAllowed(allowed []string, country string) bool {
	for _, c := range allowed {
		if strings.EqualFold(c, country) {
			return true
		}
	}
	return false
}

// DonateAll gives up the refund: the whole balance becomes a donation.
func (s *customerService) DonateAll(ctx context.Context, customerID int64) (*dto.CustomerResponse, error) {
	var resp *dto.CustomerResponse
	err := runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		acc, err := s.customer(ctx, tx, customerID)
		if err != nil {
			return err
		}
		ci, err := s.customerInfo(ctx, tx, acc.ID)
		if err != nil {
			return err
		}
		if ci.PayoutRunID != nil {
			return apierror.Conflict("the payout is already being processed")
		}
		ci.DonateAll = true
		ci.Donation = acc.Balance
		ci.HasEnteredInfo = true
		if err := s.store.Accounts.SaveCustomerInfo(ctx, tx, ci); err != nil {
			return apierror.FromDB(err)
		}
		s.audit.Log(ctx, tx, AuditEntry{NodeID: acc.NodeID, Type: model.AuditCustomerInfoUpdated, Content: map[string]any{"customer_account_id": acc.ID, "donate_all": true}})
		resp, err = s.response(ctx, tx, acc)
		return err
	})
	return resp, err
}

func (s *customerService) PayoutInfo(ctx context.Context, customerID int64) (*dto.PayoutInfo, error) {
	acc, err := s.customer(ctx, nil, customerID)
	if err != nil {
		return nil, err
	}
	ci, err := s.customerInfo(ctx, nil, acc.ID)
	if err != nil {
		return nil, err
	}
	info := &dto.PayoutInfo{PayoutAmount: payoutAmount(acc.Balance, ci)}
	if ci.PayoutRunID == nil {
		return info, nil
	}
	info.InPayoutRun = true
	run, err := s.store.Payouts.GetPayoutRun(ctx, nil, *ci.PayoutRunID)
	if err != nil {
		return nil, lookup(err, "payout run %d not found", *ci.PayoutRunID)
	}
	info.PayoutDate = run.ExecutionDate
	return info, nil
}

// payoutAmount is what is refunded after the donation.
func payoutAmount(balance decimal.Decimal, ci *model.CustomerInfo) decimal.Decimal {
	if ci.DonateAll {
		return decimal.Zero
	}
	amount := balance.Sub(ci.Donation)
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount
}

// CreateCheckout starts an online top-up. The pending row is booked by the
// payment coordinator once the provider reports the checkout as paid.
func (s *customerService) CreateCheckout(ctx context.Context, customerID int64, req dto.CreateCheckoutRequest) (*dto.SumUpCheckoutResponse, error) {
	if s.cards == nil {
		return nil, apierror.ExternalUnavailable("online top-ups are not configured")
	}
	if err := checkTopUpAmount(req.Amount, model.PaymentSumUpOnline); err != nil {
		return nil, err
	}
	var resp *dto.SumUpCheckoutResponse
	err := runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		acc, err := s.customer(ctx, tx, customerID)
		if err != nil {
			return err
		}
		eventNode, event, err := eventOf(ctx, s.store.Tree, tx, acc.NodeID)
		if err != nil {
			return err
		}
		if !event.SumupTopupEnabled {
			return apierror.InvalidArgument("online top-ups are disabled for this event")
		}
		if event.EndDate != nil && s.now().After(*event.EndDate) {
			return apierror.InvalidArgument("online top-ups are closed, the event has ended")
		}
		if acc.Balance.Add(req.Amount).GreaterThan(event.MaxAccountBalance) {
			return apierror.InvalidArgument("new balance would exceed the maximum of %s", event.MaxAccountBalance.StringFixed(2))
		}
		virtual, err := s.store.Tills.FindVirtualTill(ctx, tx, eventNode.ID)
		if err != nil {
			return lookup(err, "event node %d has no virtual till", eventNode.ID)
		}
		id := uuid.New()
		content, err := json.Marshal(dto.PendingTopUp{
			UUID:              id.String(),
			Amount:            req.Amount,
			PaymentMethod:     string(model.PaymentSumUpOnline),
			CustomerAccountID: acc.ID,
			OldBalance:        acc.Balance,
			NewBalance:        acc.Balance.Add(req.Amount),
		})
		if err != nil {
			return apierror.Internal("encode pending order: %v", err)
		}
		if err := s.store.PendingOrders.CreatePendingOrder(ctx, tx, &model.PendingOrder{
			UUID:                id,
			NodeID:              eventNode.ID,
			TillID:              virtual.ID,
			OrderType:           model.PendingOrderTopUp,
			OrderContentVersion: 1,
			OrderContent:        string(content),
			PaymentMethod:       model.PaymentSumUpOnline,
			Status:              model.PendingStatusPending,
			CheckInterval:       1,
			CreatedAt:           s.now(),
		}); err != nil {
			return apierror.FromDB(err)
		}
		checkout, err := s.cards.CreateCheckout(ctx, event, dto.CreateCheckout{
			CheckoutReference: id.String(),
			Amount:            req.Amount,
			Currency:          event.Currency,
			MerchantCode:      event.SumupMerchantCode,
			Description:       eventNode.Name + " online top-up",
		})
		if err != nil {
			return apierror.ExternalUnavailable("card provider: %v", err)
		}
		resp = &dto.SumUpCheckoutResponse{CheckoutID: checkout.ID, OrderUUID: id.String(), Amount: req.Amount}
		return nil
	})
	return resp, err
}

func (s *customerService) FindCustomer(ctx context.Context, actor *Actor, nodeID, accountID int64) (*dto.CustomerResponse, error) {
	if err := s.auth.Require(ctx, nil, actor, nodeID, model.PrivCustomerManagement); err != nil {
		return nil, err
	}
	acc, err := s.customer(ctx, nil, accountID)
	if err != nil {
		return nil, err
	}
	node, err := s.store.Tree.GetNode(ctx, nil, acc.NodeID)
	if err != nil {
		return nil, lookup(err, "node %d not found", acc.NodeID)
	}
	if !visibleAt(node, nodeID) {
		return nil, apierror.NotFound("customer %d not found", accountID)
	}
	return s.response(ctx, nil, acc)
}

// GrantVouchers books free vouchers from the event's voucher source.
func (s *customerService) GrantVouchers(ctx context.Context, term *Terminal, req dto.GrantVouchersRequest) (*dto.CustomerResponse, error) {
	if err := term.requireUser(model.PrivGrantVouchers); err != nil {
		return nil, err
	}
	if req.Vouchers <= 0 {
		return nil, apierror.InvalidArgument("number of vouchers must be positive")
	}
	var resp *dto.CustomerResponse
	err := runTx(ctx, s.store.DB(), func(tx *gorm.DB) error {
		acc, _, err := customerByTagUID(ctx, s.store, tx, term.EventNode.ID, req.CustomerTagUID)
		if err != nil {
			return err
		}
		source, err := s.ledger.SystemAccount(ctx, tx, term.EventNode.ID, model.AccountVoucherCreate)
		if err != nil {
			return err
		}
		if _, err := s.ledger.BookTransaction(ctx, tx, nil, Posting{
			Source:      source.ID,
			Target:      acc.ID,
			Amount:      decimal.Zero,
			Vouchers:    req.Vouchers,
			Description: "vouchers granted",
		}, term.userID()); err != nil {
			return err
		}
		if acc, err = s.customer(ctx, tx, acc.ID); err != nil {
			return err
		}
		resp, err = s.response(ctx, tx, acc)
		return err
	})
	return resp, err
}
