package model

import "time"

// Restriction is an age restriction carried by a tag or a product.
type Restriction string

const (
	RestrictionUnder16 Restriction = "under_16"
	RestrictionUnder18 Restriction = "under_18"
)

// UserTag is an NFC wristband. UID stays nil until the tag is first scanned.
type UserTag struct {
	ID          int64        `gorm:"primaryKey" json:"id"`
	NodeID      int64        `gorm:"not null;index" json:"node_id"`
	Pin         string       `gorm:"not null;index" json:"pin"`
	UID         *int64       `gorm:"column:uid;uniqueIndex" json:"uid"`
	SecretID    *int64       `json:"secret_id"`
	Restriction *Restriction `gorm:"type:varchar(16)" json:"restriction"`
	Comment     string       `json:"comment"`
	CreatedAt   time.Time    `json:"created_at"`
}

func (UserTag) TableName() string { return "user_tag" }

// UserTagSecret is the per-event key pair written to tags.
type UserTagSecret struct {
	ID          int64  `gorm:"primaryKey" json:"id"`
	NodeID      int64  `gorm:"not null;index" json:"node_id"`
	Description string `json:"description"`
	Key0        string `gorm:"not null" json:"-"`
	Key1        string `gorm:"not null" json:"-"`
}

func (UserTagSecret) TableName() string { return "user_tag_secret" }
