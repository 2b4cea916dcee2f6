package model

import "time"

// TicketVoucher is a presale ticket imported from the external shop. Its
// account is bound to a tag when the ticket is redeemed at the door. An
// import is keyed by order code and position secret; the door scans the
// secret alone.
type TicketVoucher struct {
	ID                int64     `gorm:"primaryKey" json:"id"`
	NodeID            int64     `gorm:"not null;index" json:"node_id"`
	CustomerAccountID int64     `gorm:"not null;uniqueIndex" json:"customer_account_id"`
	Token             string    `gorm:"not null;index;uniqueIndex:idx_ticket_voucher_key,priority:2" json:"token"`
	ExternalReference string    `gorm:"not null;uniqueIndex:idx_ticket_voucher_key,priority:1" json:"external_reference"`
	ExternalLink      string    `json:"external_link"`
	Email             *string   `json:"email"`
	CreatedAt         time.Time `json:"created_at"`
}

func (TicketVoucher) TableName() string { return "ticket_voucher" }
