package model

import (
	"time"
)

// PointBalance is a user's points wallet. It is only ever changed together with a PointTransaction row.
type PointBalance struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         int64     `gorm:"uniqueIndex;not null" json:"user_id"`
	Balance        int64     `gorm:"not null;default:0" json:"balance"`
	TotalPurchased int64     `gorm:"not null;default:0" json:"total_purchased"` // points bought with money, never decreases
	TotalSpent     int64     `gorm:"not null;default:0" json:"total_spent"`     // points spent on content and tips, never decreases
	Version        int       `gorm:"not null;default:0" json:"version"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PointBalance) TableName() string {
	return "point_balances"
}
