package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// UserTagScan identifies a wristband by pin and, once scanned, its NFC uid.
type UserTagScan struct {
	Pin                string  `json:"tag_pin" validate:"required"`
	UID                *int64  `json:"tag_uid"`
	TicketVoucherToken *string `json:"ticket_voucher_token"`
}

// ─── Sale ────────────────────────────────────────────────────────────────────

type SaleButton struct {
	TillButtonID int64            `json:"till_button_id" validate:"required,min=1"`
	Quantity     *int64           `json:"quantity"`
	Price        *decimal.Decimal `json:"price"`
}

type NewSale struct {
	UUID           string       `json:"uuid" validate:"required,uuid"`
	CustomerTagUID *int64       `json:"customer_tag_uid"`
	PaymentMethod  string       `json:"payment_method" validate:"required,oneof=cash sumup tag"`
	Buttons        []SaleButton `json:"buttons" validate:"required,min=1,dive"`
	UsedVouchers   *int64       `json:"used_vouchers" validate:"omitempty,min=0"`
}

type PendingLineItem struct {
	ProductID    int64           `json:"product_id"`
	ProductName  string          `json:"product_name"`
	ProductPrice decimal.Decimal `json:"product_price"`
	Quantity     int64           `json:"quantity"`
	TaxRateID    int64           `json:"tax_rate_id"`
	TaxName      string          `json:"tax_name"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	// Target of the booked revenue; nil means the sale exit account.
	TargetAccountID *int64 `json:"target_account_id,omitempty"`
}

func (li PendingLineItem) TotalPrice() decimal.Decimal {
	return li.ProductPrice.Mul(decimal.NewFromInt(li.Quantity))
}

type PendingSale struct {
	UUID              string            `json:"uuid"`
	PaymentMethod     string            `json:"payment_method"`
	Buttons           []SaleButton      `json:"buttons"`
	LineItems         []PendingLineItem `json:"line_items"`
	CustomerAccountID *int64            `json:"customer_account_id"`
	OldBalance        decimal.Decimal   `json:"old_balance"`
	NewBalance        decimal.Decimal   `json:"new_balance"`
	OldVoucherBalance int64             `json:"old_voucher_balance"`
	NewVoucherBalance int64             `json:"new_voucher_balance"`
	UsedVouchers      int64             `json:"used_vouchers"`
	TotalPrice        decimal.Decimal   `json:"total_price"`
	ItemCount         int64             `json:"item_count"`
}

type CompletedSale struct {
	PendingSale
	ID             int64     `json:"id"`
	BookedAt       time.Time `json:"booked_at"`
	CashierID      *int64    `json:"cashier_id"`
	TillID         int64     `json:"till_id"`
	CashRegisterID *int64    `json:"cash_register_id"`
}

// ─── Top-up ──────────────────────────────────────────────────────────────────

type NewTopUp struct {
	UUID           string          `json:"uuid" validate:"required,uuid"`
	CustomerTagUID int64           `json:"customer_tag_uid" validate:"required"`
	Amount         decimal.Decimal `json:"amount" validate:"required"`
	PaymentMethod  string          `json:"payment_method" validate:"required,oneof=cash sumup sumup_online"`
	// Pending defers booking until the card payment is confirmed.
	Pending bool `json:"pending"`
}

type PendingTopUp struct {
	UUID              string          `json:"uuid"`
	Amount            decimal.Decimal `json:"amount"`
	PaymentMethod     string          `json:"payment_method"`
	CustomerTagUID    int64           `json:"customer_tag_uid"`
	CustomerAccountID int64           `json:"customer_account_id"`
	OldBalance        decimal.Decimal `json:"old_balance"`
	NewBalance        decimal.Decimal `json:"new_balance"`
}

type CompletedTopUp struct {
	PendingTopUp
	ID             int64     `json:"id"`
	BookedAt       time.Time `json:"booked_at"`
	CashierID      *int64    `json:"cashier_id"`
	TillID         int64     `json:"till_id"`
	CashRegisterID *int64    `json:"cash_register_id"`
}

// ─── Pay-out ─────────────────────────────────────────────────────────────────

type NewPayOut struct {
	UUID           string           `json:"uuid" validate:"required,uuid"`
	CustomerTagUID int64            `json:"customer_tag_uid" validate:"required"`
	// Amount is zero or negative; nil pays out the whole balance.
	Amount *decimal.Decimal `json:"amount"`
}

type PendingPayOut struct {
	UUID              string          `json:"uuid"`
	Amount            decimal.Decimal `json:"amount"`
	CustomerTagUID    int64           `json:"customer_tag_uid"`
	CustomerAccountID int64           `json:"customer_account_id"`
	OldBalance        decimal.Decimal `json:"old_balance"`
	NewBalance        decimal.Decimal `json:"new_balance"`
}

type CompletedPayOut struct {
	PendingPayOut
	ID             int64     `json:"id"`
	BookedAt       time.Time `json:"booked_at"`
	CashierID      *int64    `json:"cashier_id"`
	TillID         int64     `json:"till_id"`
	CashRegisterID *int64    `json:"cash_register_id"`
}

// ─── Tickets ─────────────────────────────────────────────────────────────────

type NewTicketScan struct {
	CustomerTags []UserTagScan `json:"customer_tags" validate:"required,min=1,dive"`
}

type TicketScanResultEntry struct {
	CustomerTag    UserTagScan     `json:"customer_tag"`
	TicketID       int64           `json:"ticket_id"`
	TicketName     string          `json:"ticket_name"`
	TicketPrice    decimal.Decimal `json:"ticket_price"`
	TopUpAmount    decimal.Decimal `json:"top_up_amount"`
	Restriction    *string         `json:"restriction"`
	IsPresale      bool            `json:"is_presale"`
	PresaleAccount *int64          `json:"presale_account_id,omitempty"`
}

type TicketScanResult struct {
	ScannedTickets []TicketScanResultEntry `json:"scanned_tickets"`
}

type NewTicketSale struct {
	UUID          string        `json:"uuid" validate:"required,uuid"`
	CustomerTags  []UserTagScan `json:"customer_tags" validate:"required,min=1,dive"`
	PaymentMethod string        `json:"payment_method" validate:"required,oneof=cash sumup"`
	Pending       bool          `json:"pending"`
}

type PendingTicketSale struct {
	UUID           string                  `json:"uuid"`
	PaymentMethod  string                  `json:"payment_method"`
	ScannedTickets []TicketScanResultEntry `json:"scanned_tickets"`
	LineItems      []PendingLineItem       `json:"line_items"`
	TotalPrice     decimal.Decimal         `json:"total_price"`
	TopUpTotal     decimal.Decimal         `json:"top_up_total"`
	ItemCount      int64                   `json:"item_count"`
}

type CompletedTicketSale struct {
	PendingTicketSale
	ID                int64     `json:"id"`
	BookedAt          time.Time `json:"booked_at"`
	CustomerAccountID int64     `json:"customer_account_id"`
	CashierID         *int64    `json:"cashier_id"`
	TillID            int64     `json:"till_id"`
	CashRegisterID    *int64    `json:"cash_register_id"`
}

// ─── Pending card payments ───────────────────────────────────────────────────

type CheckPendingRequest struct {
	UUID string `json:"order_uuid" validate:"required,uuid"`
}

// PendingOrderStatus answers check-pending-* calls.
type PendingOrderStatus struct {
	UUID   string `json:"uuid"`
	Status string `json:"status"`
	// OrderID is set once the order has been booked.
	OrderID *int64 `json:"order_id,omitempty"`
}

// ─── Cancellation / listing ──────────────────────────────────────────────────

type CancelSaleRequest struct {
	OrderID int64 `json:"order_id" validate:"required,min=1"`
}

type OrderFilter struct {
	NodeID            int64  `form:"node_id"`
	CustomerAccountID *int64 `form:"customer_account_id"`
	TillID            *int64 `form:"till_id"`
	Page              int    `form:"page,default=1" validate:"min=1"`
	Limit             int    `form:"limit,default=50" validate:"min=1,max=200"`
}
