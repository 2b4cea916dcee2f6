package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

type NewNodeRequest struct {
	Name                      string   `json:"name" validate:"required,min=1,max=200"`
	Description               string   `json:"description"`
	ForbiddenObjectsAtNode    []string `json:"forbidden_objects_at_node"`
	ForbiddenObjectsInSubtree []string `json:"forbidden_objects_in_subtree"`
}

type UpdateNodeRequest = NewNodeRequest

// EventSettings is the configurable part of an event.
type EventSettings struct {
	Currency          string          `json:"currency_identifier" validate:"required,len=3"`
	MaxAccountBalance decimal.Decimal `json:"max_account_balance" validate:"required"`
	DailyEndTime      string          `json:"daily_end_time" validate:"omitempty,len=5"`
	StartDate         *time.Time      `json:"start_date"`
	EndDate           *time.Time      `json:"end_date"`
	CustomerPortalURL string          `json:"customer_portal_url"`

	SepaEnabled             bool     `json:"sepa_enabled"`
	SepaSenderName          string   `json:"sepa_sender_name"`
	SepaSenderIBAN          string   `json:"sepa_sender_iban"`
	SepaDescription         string   `json:"sepa_description"`
	SepaAllowedCountryCodes []string `json:"sepa_allowed_country_codes"`
	SepaMaxNumPayoutsInRun  int      `json:"sepa_max_num_payouts_in_run" validate:"omitempty,min=1"`

	SumupTopupEnabled   bool   `json:"sumup_topup_enabled"`
	SumupPaymentEnabled bool   `json:"sumup_payment_enabled"`
	SumupAPIKey         string `json:"sumup_api_key"`
	SumupMerchantCode   string `json:"sumup_merchant_code"`
	SumupAffiliateKey   string `json:"sumup_affiliate_key"`

	PretixPresaleEnabled bool    `json:"pretix_presale_enabled"`
	PretixShopURL        string  `json:"pretix_shop_url"`
	PretixAPIKey         string  `json:"pretix_api_key"`
	PretixOrganizer      string  `json:"pretix_organizer"`
	PretixEvent          string  `json:"pretix_event"`
	PretixTicketIDs      []int64 `json:"pretix_ticket_ids"`

	EmailEnabled       bool   `json:"email_enabled"`
	EmailDefaultSender string `json:"email_default_sender"`
	EmailSMTPHost      string `json:"email_smtp_host"`
	EmailSMTPPort      int    `json:"email_smtp_port"`
	EmailSMTPUsername  string `json:"email_smtp_username"`
	EmailSMTPPassword  string `json:"email_smtp_password"`

	PayoutDoneSubject string `json:"payout_done_subject"`
	PayoutDoneMessage string `json:"payout_done_message"`
}

type NewEventRequest struct {
	NewNodeRequest
	EventSettings
}

// NodeResponse is a node with its computed object bans.
type NodeResponse struct {
	ID                                int64          `json:"id"`
	ParentID                          *int64         `json:"parent"`
	Name                              string         `json:"name"`
	Description                       string         `json:"description"`
	Path                              string         `json:"path"`
	ParentIDs                         []int64        `json:"parent_ids"`
	EventID                           *int64         `json:"event_node_id"`
	ForbiddenObjectsAtNode            []string       `json:"forbidden_objects_at_node"`
	ForbiddenObjectsInSubtree         []string       `json:"forbidden_objects_in_subtree"`
	ComputedForbiddenObjectsAtNode    []string       `json:"computed_forbidden_objects_at_node"`
	ComputedForbiddenObjectsInSubtree []string       `json:"computed_forbidden_objects_in_subtree"`
	Children                          []NodeResponse `json:"children,omitempty"`
}

// ─── Users and roles ─────────────────────────────────────────────────────────

type NewUserRequest struct {
	Login       string  `json:"login" validate:"required,min=1,max=150"`
	DisplayName string  `json:"display_name" validate:"max=200"`
	Description string  `json:"description"`
	Password    *string `json:"password" validate:"omitempty,min=8"`
	UserTagPin  *string `json:"user_tag_pin"`
	UserTagUID  *int64  `json:"user_tag_uid"`
}

type UpdateUserRequest struct {
	DisplayName string  `json:"display_name" validate:"max=200"`
	Description string  `json:"description"`
	UserTagPin  *string `json:"user_tag_pin"`
	UserTagUID  *int64  `json:"user_tag_uid"`
}

type NewUserRoleRequest struct {
	Name         string   `json:"name" validate:"required,min=1"`
	IsPrivileged bool     `json:"is_privileged"`
	Privileges   []string `json:"privileges"`
}

type UserToRoleRequest struct {
	UserID int64 `json:"user_id" validate:"required,min=1"`
	RoleID int64 `json:"role_id" validate:"required,min=1"`
}

// ─── User tags ───────────────────────────────────────────────────────────────

type NewUserTagRequest struct {
	Pin         string  `json:"pin" validate:"required,min=1"`
	UID         *int64  `json:"uid"`
	SecretID    *int64  `json:"secret_id"`
	Restriction *string `json:"restriction" validate:"omitempty,oneof=under_16 under_18"`
	Comment     string  `json:"comment"`
}

type NewUserTagSecretRequest struct {
	Description string `json:"description"`
	Key0        string `json:"key0" validate:"required,hexadecimal,len=32"`
	Key1        string `json:"key1" validate:"required,hexadecimal,len=32"`
}

// ─── Audit ───────────────────────────────────────────────────────────────────

type AuditFilter struct {
	Page  int `form:"page,default=1" validate:"min=1"`
	Limit int `form:"limit,default=100" validate:"min=1,max=500"`
}
