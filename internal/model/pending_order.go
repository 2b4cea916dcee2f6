package model

import (
	"time"

	"github.com/google/uuid"
)

type PendingOrderType string

const (
	PendingOrderTopUp  PendingOrderType = "topup"
	PendingOrderTicket PendingOrderType = "ticket"
)

type PendingOrderStatus string

const (
	PendingStatusPending   PendingOrderStatus = "pending"
	PendingStatusBooked    PendingOrderStatus = "booked"
	PendingStatusCancelled PendingOrderStatus = "cancelled"
)

// PendingOrder waits for an external card payment confirmation. Content is the
// JSON encoded completed order to book once the payment succeeds.
type PendingOrder struct {
	UUID                uuid.UUID          `gorm:"type:uuid;primaryKey" json:"uuid"`
	NodeID              int64              `gorm:"not null;index" json:"node_id"`
	TillID              int64              `gorm:"not null" json:"till_id"`
	CashierID           *int64             `json:"cashier_id"`
	OrderType           PendingOrderType   `gorm:"type:varchar(16);not null" json:"order_type"`
	OrderContentVersion int                `gorm:"not null;default:1" json:"order_content_version"`
	OrderContent        string             `gorm:"type:jsonb;not null" json:"-"`
	PaymentMethod       PaymentMethod      `gorm:"type:varchar(16);not null" json:"payment_method"`
	Status              PendingOrderStatus `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	LastChecked         *time.Time         `json:"last_checked"`
	CheckInterval       int                `gorm:"not null;default:1" json:"check_interval"`
	CreatedAt           time.Time          `json:"created_at"`
}

func (PendingOrder) TableName() string { return "pending_sumup_order" }

// PendingOrderFirstCheckDelay is the grace period before a fresh pending
// order is polled for the first time.
const PendingOrderFirstCheckDelay = 20 * time.Second

// IsDue reports whether the order should be polled at now.
func (p *PendingOrder) IsDue(now time.Time) bool {
	if p.Status != PendingStatusPending {
		return false
	}
	if p.LastChecked == nil {
		return now.After(p.CreatedAt.Add(PendingOrderFirstCheckDelay))
	}
	return now.After(p.LastChecked.Add(time.Duration(p.CheckInterval) * time.Second))
}

// NextCheckInterval grows the polling interval by 2.5x, capped at max seconds.
func NextCheckInterval(current, max int) int {
	next := (current*5 + 1) / 2
	if next <= current {
		next = current + 1
	}
	if next > max {
		return max
	}
	return next
}
