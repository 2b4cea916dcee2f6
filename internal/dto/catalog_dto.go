package dto

import "github.com/shopspring/decimal"

type NewTaxRateRequest struct {
	Name        string          `json:"name" validate:"required,min=1"`
	Rate        decimal.Decimal `json:"rate" validate:"min=0,max=1"`
	Description string          `json:"description"`
}

type NewProductRequest struct {
	Name            string           `json:"name" validate:"required,min=1"`
	Price           *decimal.Decimal `json:"price"`
	FixedPrice      bool             `json:"fixed_price"`
	PriceInVouchers *int64           `json:"price_in_vouchers" validate:"omitempty,min=0"`
	PricePerVoucher *decimal.Decimal `json:"price_per_voucher"`
	TaxRateID       int64            `json:"tax_rate_id" validate:"required,min=1"`
	TargetAccountID *int64           `json:"target_account_id"`
	IsLocked        bool             `json:"is_locked"`
	IsReturnable    bool             `json:"is_returnable"`
	Restrictions    []string         `json:"restrictions" validate:"dive,oneof=under_16 under_18"`
}

type NewTicketRequest struct {
	Name               string          `json:"name" validate:"required,min=1"`
	Price              decimal.Decimal `json:"price" validate:"min=0"`
	TaxRateID          int64           `json:"tax_rate_id" validate:"required,min=1"`
	IsLocked           bool            `json:"is_locked"`
	Restrictions       []string        `json:"restrictions" validate:"dive,oneof=under_16 under_18"`
	InitialTopUpAmount decimal.Decimal `json:"initial_top_up_amount" validate:"min=0"`
}

type NewTillButtonRequest struct {
	Name       string  `json:"name" validate:"required,min=1"`
	ProductIDs []int64 `json:"product_ids" validate:"required,min=1"`
}

type NewTillLayoutRequest struct {
	Name        string  `json:"name" validate:"required,min=1"`
	Description string  `json:"description"`
	ButtonIDs   []int64 `json:"button_ids"`
	TicketIDs   []int64 `json:"ticket_ids"`
}

type NewTillProfileRequest struct {
	Name              string  `json:"name" validate:"required,min=1"`
	Description       string  `json:"description"`
	LayoutID          int64   `json:"layout_id" validate:"required,min=1"`
	AllowTopUp        bool    `json:"allow_top_up"`
	AllowCashOut      bool    `json:"allow_cash_out"`
	AllowTicketSale   bool    `json:"allow_ticket_sale"`
	EnableCashPayment bool    `json:"enable_cash_payment"`
	EnableCardPayment bool    `json:"enable_card_payment"`
	EnableSSPPayment  bool    `json:"enable_ssp_payment"`
	AllowedRoleIDs    []int64 `json:"allowed_role_ids"`
}

type NewTillRequest struct {
	Name            string `json:"name" validate:"required,min=1"`
	Description     string `json:"description"`
	ActiveProfileID int64  `json:"active_profile_id" validate:"required,min=1"`
	TseID           *int64 `json:"tse_id"`
}

type NewTSERequest struct {
	Name         string  `json:"name" validate:"required,min=1"`
	SerialNumber string  `json:"serial"`
	WsURL        string  `json:"ws_url" validate:"omitempty,url"`
	WsTimeout    float64 `json:"ws_timeout" validate:"omitempty,gt=0"`
	Password     string  `json:"password"`
}

// ─── Terminal configuration ──────────────────────────────────────────────────

type TerminalButton struct {
	ID              int64            `json:"id"`
	Name            string           `json:"name"`
	ProductIDs      []int64          `json:"product_ids"`
	Price           *decimal.Decimal `json:"price"`
	PriceInVouchers *int64           `json:"price_in_vouchers"`
	PricePerVoucher *decimal.Decimal `json:"price_per_voucher"`
	FixedPrice      bool             `json:"fixed_price"`
	IsReturnable    bool             `json:"is_returnable"`
}

type TerminalTicket struct {
	ID                 int64           `json:"id"`
	Name               string          `json:"name"`
	Price              decimal.Decimal `json:"price"`
	Restrictions       []string        `json:"restrictions"`
	InitialTopUpAmount decimal.Decimal `json:"initial_top_up_amount"`
}

type TerminalConfig struct {
	TillID             int64                `json:"id"`
	Name               string               `json:"name"`
	EventName          string               `json:"event_name"`
	ProfileName        string               `json:"profile_name"`
	AllowTopUp         bool                 `json:"allow_top_up"`
	AllowCashOut       bool                 `json:"allow_cash_out"`
	AllowTicketSale    bool                 `json:"allow_ticket_sale"`
	EnableCashPayment  bool                 `json:"enable_cash_payment"`
	EnableCardPayment  bool                 `json:"enable_card_payment"`
	EnableSSPPayment   bool                 `json:"enable_ssp_payment"`
	Buttons            []TerminalButton     `json:"buttons"`
	Tickets            []TerminalTicket     `json:"tickets"`
	ActiveUser         *CurrentTerminalUser `json:"active_user"`
	ActiveCashRegister *int64               `json:"active_cash_register_id"`
	ZNr                int64                `json:"z_nr"`
}
