package model

import (
	"time"
)

const (
	DiscrepancyCompensationFailed = "COMPENSATION_FAILED" // points reservation could not be refunded
	DiscrepancyPaidAfterCancel    = "PAID_AFTER_CANCEL"   // card captured for an order already canceled
	DiscrepancyDuplicatePayment   = "DUPLICATE_PAYMENT"   // card captured for content the user already owns
)

// LedgerDiscrepancy is an operator work item for manual reconciliation.
type LedgerDiscrepancy struct {
	ID         int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNo    string     `gorm:"type:varchar(64);index;not null" json:"order_no"`
	UserID     int64      `gorm:"index;not null" json:"user_id"`
	Kind       string     `gorm:"type:varchar(32);index;not null" json:"kind"`
	Amount     int64      `gorm:"not null" json:"amount"`
	Detail     string     `gorm:"type:text" json:"detail"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}

func (LedgerDiscrepancy) TableName() string {
	return "ledger_discrepancies"
}
