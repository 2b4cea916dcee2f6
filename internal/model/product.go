package model

import (
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type ProductType string

const (
	ProductUserDefined   ProductType = "user_defined"
	ProductTopUp         ProductType = "topup"
	ProductPayOut        ProductType = "payout"
	ProductMoneyTransfer ProductType = "money_transfer"
	ProductImbalance     ProductType = "imbalance"
	ProductDiscount      ProductType = "discount"
	ProductTicket        ProductType = "ticket"
)

// SystemProductTypes exist exactly once per event.
var SystemProductTypes = []ProductType{
	ProductTopUp,
	ProductPayOut,
	ProductMoneyTransfer,
	ProductImbalance,
	ProductDiscount,
}

// TaxRate is a named VAT rate, e.g. ust=0.19.
type TaxRate struct {
	ID          int64           `gorm:"primaryKey" json:"id"`
	NodeID      int64           `gorm:"not null;index" json:"node_id"`
	Name        string          `gorm:"not null" json:"name"`
	Rate        decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"rate"`
	Description string          `json:"description"`
}

func (TaxRate) TableName() string { return "tax_rate" }

// Product is anything a till can book. Tickets are products of type ticket.
type Product struct {
	ID                 int64            `gorm:"primaryKey" json:"id"`
	NodeID             int64            `gorm:"not null;index" json:"node_id"`
	Name               string           `gorm:"not null" json:"name"`
	Type               ProductType      `gorm:"type:varchar(32);not null" json:"type"`
	Price              *decimal.Decimal `gorm:"type:numeric(20,4)" json:"price"`
	FixedPrice         bool             `gorm:"not null" json:"fixed_price"`
	PriceInVouchers    *int64           `json:"price_in_vouchers"`
	PricePerVoucher    *decimal.Decimal `gorm:"type:numeric(20,4)" json:"price_per_voucher"`
	TaxRateID          int64            `gorm:"not null" json:"tax_rate_id"`
	TargetAccountID    *int64           `json:"target_account_id"`
	IsLocked           bool             `gorm:"not null;default:false" json:"is_locked"`
	IsReturnable       bool             `gorm:"not null;default:false" json:"is_returnable"`
	Restrictions       pq.StringArray   `gorm:"type:text[];not null;default:'{}'" json:"restrictions"`
	InitialTopUpAmount decimal.Decimal  `gorm:"type:numeric(20,4);not null;default:0" json:"initial_top_up_amount"`
}

func (Product) TableName() string { return "product" }

// VoucherPrice is the discount granted per voucher spent on one unit, or
// nil when the product cannot be paid with vouchers.
func (p *Product) VoucherPrice() *decimal.Decimal {
	if p.PriceInVouchers == nil || *p.PriceInVouchers <= 0 {
		return nil
	}
	if p.PricePerVoucher != nil {
		v := *p.PricePerVoucher
		return &v
	}
	if p.Price == nil {
		return nil
	}
	v := p.Price.Div(decimal.NewFromInt(*p.PriceInVouchers))
	return &v
}

// RestrictedFor reports whether a customer with restriction r may not buy p.
func (p *Product) RestrictedFor(r *Restriction) bool {
	if r == nil {
		return false
	}
	for _, x := range p.Restrictions {
		if Restriction(x) == *r {
			return true
		}
	}
	return false
}

// Validate checks the price fields of a product definition.
func (p *Product) Validate() error {
	if p.FixedPrice && p.Price == nil {
		return fmt.Errorf("fixed price product %q needs a price", p.Name)
	}
	if !p.FixedPrice && p.Price != nil {
		return fmt.Errorf("variable price product %q must not have a price", p.Name)
	}
	if p.PriceInVouchers != nil && *p.PriceInVouchers < 0 {
		return fmt.Errorf("price in vouchers must not be negative")
	}
	if p.Type == ProductTicket {
		if !p.FixedPrice {
			return fmt.Errorf("tickets must have a fixed price")
		}
		if p.InitialTopUpAmount.IsNegative() {
			return fmt.Errorf("initial top up amount must not be negative")
		}
	}
	for _, r := range p.Restrictions {
		if Restriction(r) != RestrictionUnder16 && Restriction(r) != RestrictionUnder18 {
			return fmt.Errorf("unknown restriction %q", r)
		}
	}
	return nil
}

// LockedFieldsChanged reports whether an update touches anything other than
// the name of a locked product.
func (p *Product) LockedFieldsChanged(upd *Product) bool {
	if !decimalPtrEqual(p.Price, upd.Price) || p.TaxRateID != upd.TaxRateID ||
		p.IsReturnable != upd.IsReturnable || p.FixedPrice != upd.FixedPrice {
		return true
	}
	if len(p.Restrictions) != len(upd.Restrictions) {
		return true
	}
	for i := range p.Restrictions {
		if p.Restrictions[i] != upd.Restrictions[i] {
			return true
		}
	}
	return !decimalPtrEqual(p.PricePerVoucher, upd.PricePerVoucher) ||
		!int64PtrEqual(p.PriceInVouchers, upd.PriceInVouchers)
}

func decimalPtrEqual(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func int64PtrEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
