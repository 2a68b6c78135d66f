package model

import (
	"time"
)

// PurchaseRecord is the entitlement. Its existence is the only answer to "already purchased".
type PurchaseRecord struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PurchaseNo    string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"purchase_no"`
	UserID        int64     `gorm:"uniqueIndex:ux_purchases_user_target,priority:1;not null" json:"user_id"`
	TargetKey     string    `gorm:"type:varchar(96);uniqueIndex:ux_purchases_user_target,priority:2;not null" json:"target_key"`
	ContentID     int64     `gorm:"index;not null" json:"content_id"`
	OrderNo       string    `gorm:"type:varchar(64);index;not null" json:"order_no"`
	Amount        int64     `gorm:"not null" json:"amount"`
	PointsPortion int64     `gorm:"not null;default:0" json:"points_portion"`
	CardPortion   int64     `gorm:"not null;default:0" json:"card_portion"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (PurchaseRecord) TableName() string {
	return "purchases"
}
