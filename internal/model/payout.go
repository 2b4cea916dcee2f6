package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PayoutRun is a batch of customer refunds. Done and Revoked are exclusive.
type PayoutRun struct {
	ID            int64      `gorm:"primaryKey" json:"id"`
	NodeID        int64      `gorm:"not null;index" json:"node_id"`
	CreatedBy     string     `gorm:"not null" json:"created_by"`
	CreatedAt     time.Time  `json:"created_at"`
	ExecutionDate *time.Time `json:"execution_date"`
	Done          bool       `gorm:"not null;default:false;check:chk_payout_run_state,NOT (done AND revoked)" json:"done"`
	Revoked       bool       `gorm:"not null;default:false" json:"revoked"`
	SepaXML       *string    `gorm:"column:sepa_xml" json:"-"`
	CSV           *string    `gorm:"column:csv" json:"-"`
	SetDoneAt     *time.Time `json:"set_done_at"`
	SetDoneBy     *string    `json:"set_done_by"`
}

func (PayoutRun) TableName() string { return "payout_run" }

// Payout is one customer refund inside a run.
type Payout struct {
	ID                int64           `gorm:"primaryKey" json:"id"`
	PayoutRunID       int64           `gorm:"not null;index" json:"payout_run_id"`
	CustomerAccountID int64           `gorm:"not null;uniqueIndex" json:"customer_account_id"`
	IBAN              string          `gorm:"column:iban;not null" json:"iban"`
	AccountName       string          `gorm:"not null" json:"account_name"`
	Email             string          `json:"email"`
	UserTagUID        *int64          `gorm:"column:user_tag_uid" json:"user_tag_uid"`
	Amount            decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"amount"`
	Donation          decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"donation"`
}

func (Payout) TableName() string { return "payout" }
