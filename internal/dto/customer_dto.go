package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

type CustomerBankRequest struct {
	IBAN        string          `json:"iban" validate:"required"`
	AccountName string          `json:"account_name" validate:"required,min=1"`
	Email       string          `json:"email" validate:"required"`
	Donation    decimal.Decimal `json:"donation" validate:"min=0"`
}

type CustomerResponse struct {
	ID            int64           `json:"id"`
	NodeID        int64           `json:"node_id"`
	Balance       decimal.Decimal `json:"balance"`
	VoucherAmount int64           `json:"vouchers"`
	UserTagPin    string          `json:"user_tag_pin"`
	UserTagUID    *int64          `json:"user_tag_uid"`
	Restriction   *string         `json:"restriction"`
	IBAN          *string         `json:"iban"`
	AccountName   *string         `json:"account_name"`
	Email         *string         `json:"email"`
	Donation      decimal.Decimal `json:"donation"`
	DonateAll     bool            `json:"donate_all"`
	PayoutRunID   *int64          `json:"payout_run_id"`
	PayoutError   *string         `json:"payout_error"`
	PayoutExport  bool            `json:"payout_export"`
}

// PayoutInfo tells the customer whether and when the refund happens.
type PayoutInfo struct {
	InPayoutRun  bool            `json:"in_payout_run"`
	PayoutDate   *time.Time      `json:"payout_date"`
	PayoutAmount decimal.Decimal `json:"payout_amount"`
}

type CreatePayoutRunRequest struct {
	MaxPayoutSum  decimal.Decimal `json:"max_payout_sum" validate:"required"`
	MaxNumPayouts int             `json:"max_num_payouts" validate:"required,min=1"`
}

type SepaXMLRequest struct {
	ExecutionDate string `json:"execution_date" validate:"required,datetime=2006-01-02"`
}

type PayoutRunResponse struct {
	ID            int64           `json:"id"`
	NodeID        int64           `json:"node_id"`
	CreatedBy     string          `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
	Done          bool            `json:"done"`
	Revoked       bool            `json:"revoked"`
	SetDoneAt     *time.Time      `json:"set_done_at"`
	SetDoneBy     *string         `json:"set_done_by"`
	TotalAmount   decimal.Decimal `json:"total_payout_amount"`
	TotalDonation decimal.Decimal `json:"total_donation_amount"`
	NumPayouts    int             `json:"n_payouts"`
}

// SumUpCheckoutResponse is returned to the customer portal to start an online top-up.
type SumUpCheckoutResponse struct {
	CheckoutID string          `json:"checkout_id"`
	OrderUUID  string          `json:"order_uuid"`
	Amount     decimal.Decimal `json:"amount"`
}

type CreateCheckoutRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"required"`
}

// GrantVouchersRequest is sent by a terminal to hand out free vouchers.
type GrantVouchersRequest struct {
	CustomerTagUID int64 `json:"user_tag_uid" validate:"required"`
	Vouchers       int64 `json:"vouchers" validate:"required,min=1"`
}
