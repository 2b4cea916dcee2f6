package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentCash        PaymentMethod = "cash"
	PaymentSumUp       PaymentMethod = "sumup"
	PaymentSumUpOnline PaymentMethod = "sumup_online"
	PaymentTag         PaymentMethod = "tag"
)

type OrderType string

const (
	OrderSale                   OrderType = "sale"
	OrderCancelSale             OrderType = "cancel_sale"
	OrderTopUp                  OrderType = "top_up"
	OrderPayOut                 OrderType = "pay_out"
	OrderTicket                 OrderType = "ticket"
	OrderMoneyTransfer          OrderType = "money_transfer"
	OrderMoneyTransferImbalance OrderType = "money_transfer_imbalance"
	OrderCashierShiftStart      OrderType = "cashier_shift_start"
	OrderCashierShiftEnd        OrderType = "cashier_shift_end"
)

// Order is immutable once booked. A cancellation is a new order pointing at
// the original through CancelsOrder.
type Order struct {
	ID                int64           `gorm:"primaryKey" json:"id"`
	UUID              uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex" json:"uuid"`
	NodeID            int64           `gorm:"not null;index" json:"node_id"`
	TillID            int64           `gorm:"not null;index" json:"till_id"`
	CashierID         *int64          `json:"cashier_id"`
	CustomerAccountID *int64          `gorm:"index" json:"customer_account_id"`
	CashRegisterID    *int64          `json:"cash_register_id"`
	PaymentMethod     *PaymentMethod  `gorm:"type:varchar(16)" json:"payment_method"`
	OrderType         OrderType       `gorm:"type:varchar(32);not null" json:"order_type"`
	ZNr               int64           `gorm:"column:z_nr;not null" json:"z_nr"`
	TotalPrice        decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"total_price"`
	TotalTax          decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"total_tax"`
	TotalNoTax        decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"total_no_tax"`
	BookedAt          time.Time       `gorm:"not null" json:"booked_at"`
	CancelsOrder      *int64          `gorm:"uniqueIndex" json:"cancels_order"`
	LineItems         []LineItem      `gorm:"foreignKey:OrderID" json:"line_items"`
}

func (Order) TableName() string { return "ordr" }

// ComputeTotals sums the line items into the order totals.
func (o *Order) ComputeTotals() {
	o.TotalPrice, o.TotalTax, o.TotalNoTax = decimal.Zero, decimal.Zero, decimal.Zero
	for i := range o.LineItems {
		li := &o.LineItems[i]
		o.TotalPrice = o.TotalPrice.Add(li.TotalPrice())
		o.TotalTax = o.TotalTax.Add(li.TotalTax())
	}
	o.TotalNoTax = o.TotalPrice.Sub(o.TotalTax)
}

// LineItem snapshots product price and tax at booking time.
type LineItem struct {
	ID           int64           `gorm:"primaryKey" json:"-"`
	OrderID      int64           `gorm:"not null;index" json:"order_id"`
	ItemID       int             `gorm:"not null" json:"item_id"`
	ProductID    int64           `gorm:"not null;index" json:"product_id"`
	ProductName  string          `json:"product_name"`
	Quantity     int64           `gorm:"not null" json:"quantity"`
	ProductPrice decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"product_price"`
	TaxRateID    int64           `gorm:"not null" json:"tax_rate_id"`
	TaxName      string          `json:"tax_name"`
	TaxRate      decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"tax_rate"`
}

func (LineItem) TableName() string { return "line_item" }

func (li *LineItem) TotalPrice() decimal.Decimal {
	return li.ProductPrice.Mul(decimal.NewFromInt(li.Quantity))
}

// TotalTax is the tax included in the gross total.
func (li *LineItem) TotalTax() decimal.Decimal {
	total := li.TotalPrice()
	return total.Sub(total.Div(decimal.NewFromInt(1).Add(li.TaxRate))).Round(4)
}
