package models

import (
	"time"
)

// User is a referral program participant. ID is the upstream (Telegram) identity.
type User struct {
	ID            int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	DisplayName   *string   `gorm:"size:255" json:"display_name,omitempty"`
	Handle        *string   `gorm:"size:255" json:"handle,omitempty"`
	ReferrerID    *int64    `gorm:"index" json:"referrer_id,omitempty"`
	ReferralCount int64     `gorm:"not null;default:0" json:"referral_count"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (User) TableName() string { return "users" }
