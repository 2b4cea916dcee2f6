package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// ─── Card payments ──────────────────────────────────────────────────────────

type CheckoutStatus string

const (
	CheckoutPending CheckoutStatus = "PENDING"
	CheckoutFailed  CheckoutStatus = "FAILED"
	CheckoutPaid    CheckoutStatus = "PAID"
)

// Checkout is the provider view of a card payment, referenced by order uuid.
type Checkout struct {
	ID                string          `json:"id"`
	CheckoutReference string          `json:"checkout_reference"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	MerchantCode      string          `json:"merchant_code"`
	Description       string          `json:"description"`
	Status            CheckoutStatus  `json:"status"`
	Date              *time.Time      `json:"date,omitempty"`
}

type CreateCheckout struct {
	CheckoutReference string          `json:"checkout_reference"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	MerchantCode      string          `json:"merchant_code"`
	Description       string          `json:"description"`
}

// ─── Presale ────────────────────────────────────────────────────────────────

type PresalePosition struct {
	ID            int64   `json:"id"`
	Item          int64   `json:"item"`
	Secret        string  `json:"secret"`
	AttendeeEmail *string `json:"attendee_email"`
}

type PresaleOrder struct {
	Code      string            `json:"code"`
	Status    string            `json:"status"`
	Secret    string            `json:"secret"`
	Email     *string           `json:"email"`
	Positions []PresalePosition `json:"positions"`
}

type PresalePage struct {
	Count   int            `json:"count"`
	Next    *string        `json:"next"`
	Results []PresaleOrder `json:"results"`
}
