package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// TillButton groups products booked together by a single tap.
type TillButton struct {
	ID         int64         `gorm:"primaryKey" json:"id"`
	NodeID     int64         `gorm:"not null;index" json:"node_id"`
	Name       string        `gorm:"not null" json:"name"`
	ProductIDs pq.Int64Array `gorm:"type:bigint[];not null;default:'{}'" json:"product_ids"`
}

func (TillButton) TableName() string { return "till_button" }

// ValidateButtonProducts enforces the composition rules of a button.
func ValidateButtonProducts(products []Product) error {
	var variable, voucher, returnable int
	for _, p := range products {
		if !p.IsLocked {
			return fmt.Errorf("product %q must be locked to be placed on a button", p.Name)
		}
		if !p.FixedPrice {
			variable++
		}
		if p.VoucherPrice() != nil {
			voucher++
		}
		if p.IsReturnable {
			returnable++
		}
	}
	switch {
	case variable > 1:
		return errors.New("a button can have at most one variable price product")
	case voucher > 1:
		return errors.New("a button can have at most one product with a voucher price")
	case returnable > 1:
		return errors.New("a button can have at most one returnable product")
	}
	return nil
}

type TillLayout struct {
	ID          int64         `gorm:"primaryKey" json:"id"`
	NodeID      int64         `gorm:"not null;index" json:"node_id"`
	Name        string        `gorm:"not null" json:"name"`
	Description string        `json:"description"`
	ButtonIDs   pq.Int64Array `gorm:"type:bigint[];not null;default:'{}'" json:"button_ids"`
	TicketIDs   pq.Int64Array `gorm:"type:bigint[];not null;default:'{}'" json:"ticket_ids"`
}

func (TillLayout) TableName() string { return "till_layout" }

// TillProfile is the capability bundle applied to a till.
type TillProfile struct {
	ID                int64         `gorm:"primaryKey" json:"id"`
	NodeID            int64         `gorm:"not null;index" json:"node_id"`
	Name              string        `gorm:"not null" json:"name"`
	Description       string        `json:"description"`
	LayoutID          int64         `gorm:"not null" json:"layout_id"`
	AllowTopUp        bool          `gorm:"not null;default:false" json:"allow_top_up"`
	AllowCashOut      bool          `gorm:"not null;default:false" json:"allow_cash_out"`
	AllowTicketSale   bool          `gorm:"not null;default:false" json:"allow_ticket_sale"`
	EnableCashPayment bool          `gorm:"not null;default:false" json:"enable_cash_payment"`
	EnableCardPayment bool          `gorm:"not null;default:false" json:"enable_card_payment"`
	EnableSSPPayment  bool          `gorm:"column:enable_ssp_payment;not null" json:"enable_ssp_payment"`
	AllowedRoleIDs    pq.Int64Array `gorm:"type:bigint[];not null;default:'{}'" json:"allowed_role_ids"`
}

func (TillProfile) TableName() string { return "till_profile" }

// AllowsRole reports whether a user acting with roleID may log in.
func (p *TillProfile) AllowsRole(roleID int64) bool {
	for _, id := range p.AllowedRoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

// Till is a sales endpoint. A terminal binds to it by registration UUID.
type Till struct {
	ID                   int64      `gorm:"primaryKey" json:"id"`
	NodeID               int64      `gorm:"not null;index" json:"node_id"`
	Name                 string     `gorm:"not null" json:"name"`
	Description          string     `json:"description"`
	ActiveProfileID      int64      `gorm:"not null" json:"active_profile_id"`
	RegistrationUUID     *uuid.UUID `gorm:"type:uuid;uniqueIndex" json:"registration_uuid"`
	SessionUUID          *uuid.UUID `gorm:"type:uuid;uniqueIndex" json:"-"`
	ActiveUserID         *int64     `json:"active_user_id"`
	ActiveUserRoleID     *int64     `json:"active_user_role_id"`
	ActiveCashRegisterID *int64     `gorm:"uniqueIndex" json:"active_cash_register_id"`
	TseID                *int64     `json:"tse_id"`
	ZNr                  int64      `gorm:"column:z_nr;not null;default:1" json:"z_nr"`
	IsVirtual            bool       `gorm:"not null;default:false" json:"is_virtual"`
}

func (Till) TableName() string { return "till" }

// IsRegistered reports whether a terminal currently holds a session.
func (t *Till) IsRegistered() bool { return t.SessionUUID != nil }

// TSE describes a fiscal signing appliance assigned to tills.
type TSE struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	NodeID       int64     `gorm:"not null;index" json:"node_id"`
	Name         string    `gorm:"not null" json:"name"`
	Type         string    `gorm:"not null;default:'diebold_nixdorf'" json:"type"`
	SerialNumber string    `json:"serial"`
	WsURL        string    `gorm:"column:ws_url" json:"ws_url"`
	WsTimeout    float64   `gorm:"not null;default:5" json:"ws_timeout"`
	Password     string    `json:"-"`
	Status       string    `gorm:"not null;default:'new'" json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

func (TSE) TableName() string { return "tse" }
