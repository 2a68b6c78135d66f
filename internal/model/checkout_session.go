package model

import (
	"time"
)

const (
	SessionStatusPending   = "pending"
	SessionStatusCompleted = "completed"
	SessionStatusCanceled  = "canceled"
)

// CheckoutSession mirrors a payment processor session. It never grants anything by itself.
type CheckoutSession struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID   string     `gorm:"type:varchar(128);uniqueIndex;not null" json:"session_id"`
	OrderNo     string     `gorm:"type:varchar(64);index;not null" json:"order_no"`
	Amount      int64      `gorm:"not null" json:"amount"`
	Status      string     `gorm:"type:varchar(20);not null" json:"status"`
	RedirectURL string     `gorm:"type:varchar(1024)" json:"redirect_url"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CheckoutSession) TableName() string {
	return "checkout_sessions"
}
