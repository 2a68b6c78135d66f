package model

import (
	"time"
)

const (
	TransactionTypePurchase     = "purchase"      // points bought with card money
	TransactionTypeRefund       = "refund"        // reversal of an earlier debit
	TransactionTypePostPurchase = "post_purchase" // paid post or membership bought with points
	TransactionTypeSubscription = "subscription"
	TransactionTypeTip          = "tip"
	TransactionTypeAdminGrant   = "admin_grant"
)

var validTransactionTypes = map[string]bool{
	TransactionTypePurchase:     true,
	TransactionTypeRefund:       true,
	TransactionTypePostPurchase: true,
	TransactionTypeSubscription: true,
	TransactionTypeTip:          true,
	TransactionTypeAdminGrant:   true,
}

func IsValidTransactionType(t string) bool {
	return validTransactionTypes[t]
}

// IsSpendType reports whether debits of this type count towards PointBalance.TotalSpent.
func IsSpendType(t string) bool {
	return t == TransactionTypePostPurchase || t == TransactionTypeSubscription || t == TransactionTypeTip
}

// PointTransaction is one ledger row. Rows are appended and never updated or deleted;
// BalanceAfter is the running sum of Amount for the user up to and including this row.
type PointTransaction struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	UserID        int64     `gorm:"index:idx_point_txn_user_created,priority:1;not null" json:"user_id"`
	OrderNo       *string   `gorm:"type:varchar(64);index" json:"order_no,omitempty"`
	Amount        int64     `gorm:"not null" json:"amount"`
	Type          string    `gorm:"type:varchar(20);not null" json:"type"`
	BalanceBefore int64     `gorm:"not null" json:"balance_before"`
	BalanceAfter  int64     `gorm:"not null" json:"balance_after"`
	Description   string    `gorm:"type:varchar(256)" json:"description"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index:idx_point_txn_user_created,priority:2" json:"created_at"`
}

func (PointTransaction) TableName() string {
	return "point_transactions"
}
