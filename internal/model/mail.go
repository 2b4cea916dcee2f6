package model

import (
	"math"
	"time"

	"github.com/lib/pq"
)

// MaxMailRetries is the number of failed attempts after which a mail is
// no longer picked up by the outbox worker.
const MaxMailRetries = 10

type Mail struct {
	ID                int64            `gorm:"primaryKey" json:"id"`
	NodeID            int64            `gorm:"not null;index" json:"node_id"`
	FromAddr          string           `json:"from_addr"`
	ToAddrs           pq.StringArray   `gorm:"type:text[];not null" json:"to_addrs"`
	Subject           string           `json:"subject"`
	Message           string           `json:"message"`
	HTMLMessage       bool             `gorm:"column:html_message;not null;default:false" json:"html_message"`
	ScheduledSendDate time.Time        `gorm:"not null;index" json:"scheduled_send_date"`
	SendDate          *time.Time       `json:"send_date"`
	NumRetries        int              `gorm:"not null;default:0" json:"num_retries"`
	Attachments       []MailAttachment `gorm:"foreignKey:MailID" json:"attachments"`
}

func (Mail) TableName() string { return "mails" }

type MailAttachment struct {
	ID       int64  `gorm:"primaryKey" json:"id"`
	MailID   int64  `gorm:"not null;index" json:"mail_id"`
	FileName string `gorm:"not null" json:"file_name"`
	MimeType string `gorm:"not null" json:"mime_type"`
	Content  []byte `gorm:"type:bytea" json:"-"`
}

func (MailAttachment) TableName() string { return "mail_attachments" }

// MailRetryDelay is the backoff after the n-th failed attempt:
// ((e/2 - 0.1)^n - 1) hours.
func MailRetryDelay(n int) time.Duration {
	hours := math.Pow(math.E/2-0.1, float64(n)) - 1
	return time.Duration(hours * float64(time.Hour))
}
