package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// ObjectType names the kinds of objects whose creation can be banned per node.
type ObjectType string

const (
	ObjectUser         ObjectType = "user"
	ObjectUserRole     ObjectType = "user_role"
	ObjectTaxRate      ObjectType = "tax_rate"
	ObjectProduct      ObjectType = "product"
	ObjectTicket       ObjectType = "ticket"
	ObjectTill         ObjectType = "till"
	ObjectUserTag      ObjectType = "user_tag"
	ObjectTSE          ObjectType = "tse"
	ObjectCashRegister ObjectType = "cash_register"
	ObjectAccount      ObjectType = "account"
	ObjectPayout       ObjectType = "payout"
)

// Node is one scope of the administrative forest. ParentIDs holds all
// ancestors ordered from the root down to the direct parent.
type Node struct {
	ID                        int64          `gorm:"primaryKey" json:"id"`
	ParentID                  *int64         `gorm:"index" json:"parent"`
	Name                      string         `gorm:"not null" json:"name"`
	Description               string         `json:"description"`
	EventID                   *int64         `gorm:"uniqueIndex" json:"event_id"`
	Path                      string         `gorm:"not null;index" json:"path"`
	ParentIDs                 pq.Int64Array  `gorm:"type:bigint[];not null;default:'{}'" json:"parent_ids"`
	ForbiddenObjectsAtNode    pq.StringArray `gorm:"type:text[];not null;default:'{}'" json:"forbidden_objects_at_node"`
	ForbiddenObjectsInSubtree pq.StringArray `gorm:"type:text[];not null;default:'{}'" json:"forbidden_objects_in_subtree"`
	ReadOnly                  bool           `gorm:"not null;default:false" json:"read_only"`
	CreatedAt                 time.Time      `json:"created_at"`
}

func (Node) TableName() string { return "node" }

// IsEvent reports whether the node carries an event.
func (n *Node) IsEvent() bool { return n.EventID != nil }

// RootPath is the path of a root node.
func RootPath(id int64) string { return fmt.Sprintf("/%d", id) }

// ChildPath returns the path a direct child with the given id will have.
func (n *Node) ChildPath(childID int64) string {
	return fmt.Sprintf("%s/%d", strings.TrimSuffix(n.Path, "/"), childID)
}

// ComputedForbidden is the per-node result of inheriting object bans from
// all ancestors.
type ComputedForbidden struct {
	AtNode    map[ObjectType]bool
	InSubtree map[ObjectType]bool
}

// ComputeForbidden folds the explicit sets of ancestors (root first) and the
// node itself. A subtree ban on an ancestor also bans creation at every
// descendant.
func ComputeForbidden(ancestors []Node, node *Node) ComputedForbidden {
	res := ComputedForbidden{AtNode: map[ObjectType]bool{}, InSubtree: map[ObjectType]bool{}}
	for _, a := range ancestors {
		for _, o := range a.ForbiddenObjectsInSubtree {
			res.InSubtree[ObjectType(o)] = true
			res.AtNode[ObjectType(o)] = true
		}
	}
	for _, o := range node.ForbiddenObjectsInSubtree {
		res.InSubtree[ObjectType(o)] = true
		res.AtNode[ObjectType(o)] = true
	}
	for _, o := range node.ForbiddenObjectsAtNode {
		res.AtNode[ObjectType(o)] = true
	}
	return res
}

// Event carries the per-event configuration attached to exactly one node.
type Event struct {
	ID                int64           `gorm:"primaryKey" json:"id"`
	Currency          string          `gorm:"not null;default:'EUR'" json:"currency_identifier"`
	MaxAccountBalance decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"max_account_balance"`
	DailyEndTime      string          `gorm:"not null;default:'04:00'" json:"daily_end_time"` // HH:MM, day bucketing
	StartDate         *time.Time      `json:"start_date"`
	EndDate           *time.Time      `json:"end_date"`
	CustomerPortalURL string          `json:"customer_portal_url"`

	// SEPA
	SepaEnabled             bool           `gorm:"not null;default:false" json:"sepa_enabled"`
	SepaSenderName          string         `json:"sepa_sender_name"`
	SepaSenderIBAN          string         `gorm:"column:sepa_sender_iban" json:"sepa_sender_iban"`
	SepaDescription         string         `json:"sepa_description"`
	SepaAllowedCountryCodes pq.StringArray `gorm:"type:text[];not null;default:'{}'" json:"sepa_allowed_country_codes"`
	SepaMaxNumPayoutsInRun  int            `gorm:"not null;default:1000" json:"sepa_max_num_payouts_in_run"`

	// SumUp
	SumupTopupEnabled   bool   `gorm:"not null;default:false" json:"sumup_topup_enabled"`
	SumupPaymentEnabled bool   `gorm:"not null;default:false" json:"sumup_payment_enabled"`
	SumupAPIKey         string `json:"-"`
	SumupMerchantCode   string `json:"sumup_merchant_code"`
	SumupAffiliateKey   string `json:"sumup_affiliate_key"`

	// Pretix presale
	PretixPresaleEnabled bool          `gorm:"not null;default:false" json:"pretix_presale_enabled"`
	PretixShopURL        string        `json:"pretix_shop_url"`
	PretixAPIKey         string        `json:"-"`
	PretixOrganizer      string        `json:"pretix_organizer"`
	PretixEvent          string        `json:"pretix_event"`
	PretixTicketIDs      pq.Int64Array `gorm:"type:bigint[];not null;default:'{}'" json:"pretix_ticket_ids"`

	// Mail
	EmailEnabled       bool   `gorm:"not null;default:false" json:"email_enabled"`
	EmailDefaultSender string `json:"email_default_sender"`
	EmailSMTPHost      string `gorm:"column:email_smtp_host" json:"email_smtp_host"`
	EmailSMTPPort      int    `gorm:"column:email_smtp_port" json:"email_smtp_port"`
	EmailSMTPUsername  string `gorm:"column:email_smtp_username" json:"email_smtp_username"`
	EmailSMTPPassword  string `gorm:"column:email_smtp_password" json:"-"`

	PayoutDoneSubject string `json:"payout_done_subject"`
	PayoutDoneMessage string `json:"payout_done_message"`
}

func (Event) TableName() string { return "event" }
