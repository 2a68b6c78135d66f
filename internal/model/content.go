package model

import (
	"fmt"
	"time"
)

const (
	ContentKindPost       = "post"
	ContentKindMembership = "membership"
)

// Content is a paid post or a membership plan. This service only reads it.
type Content struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerID     int64     `gorm:"index;not null" json:"owner_id"`
	Title       string    `gorm:"type:varchar(256);not null" json:"title"`
	Kind        string    `gorm:"type:varchar(20);not null;default:post" json:"kind"`
	Price       int64     `gorm:"not null;default:0" json:"price"`
	IsAdult     bool      `gorm:"not null;default:false" json:"is_adult"`
	IsPublished bool      `gorm:"not null;default:true" json:"is_published"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Content) TableName() string {
	return "contents"
}

// TargetKey is the entitlement key for buying c at time at. Posts are bought once;
// membership plans once per billing month.
func (c *Content) TargetKey(at time.Time) string {
	if c.Kind == ContentKindMembership {
		return fmt.Sprintf("plan:%d:%s", c.ID, BillingPeriod(at))
	}
	return fmt.Sprintf("post:%d", c.ID)
}

// BillingPeriod formats the membership billing month, e.g. "2026-10".
func BillingPeriod(at time.Time) string {
	return at.UTC().Format("2006-01")
}
