package model

import (
	"time"
)

const (
	OrderStatusInitiated           = "INITIATED"
	OrderStatusPointsSettling      = "POINTS_SETTLING"
	OrderStatusProcessorRedirected = "PROCESSOR_REDIRECTED"
	OrderStatusCompleted           = "COMPLETED"
	OrderStatusFailed              = "FAILED"
	OrderStatusCanceled            = "CANCELED"
	OrderStatusCompensationFailed  = "COMPENSATION_FAILED"
)

var ValidStatusTransitions = map[string][]string{
	OrderStatusInitiated:           {OrderStatusPointsSettling, OrderStatusProcessorRedirected, OrderStatusFailed, OrderStatusCompensationFailed},
	OrderStatusPointsSettling:      {OrderStatusCompleted, OrderStatusFailed},
	OrderStatusProcessorRedirected: {OrderStatusCompleted, OrderStatusCanceled, OrderStatusCompensationFailed},
	OrderStatusCompensationFailed:  {OrderStatusCanceled, OrderStatusFailed},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible from status.
func IsTerminal(status string) bool {
	_, exists := ValidStatusTransitions[status]
	return !exists
}

const (
	OrderPurposeContent       = "content"
	OrderPurposePointsPackage = "points_package"
	OrderPurposeTip           = "tip"
)

const (
	PaymentMethodPoints = "points"
	PaymentMethodCard   = "card"
	PaymentMethodHybrid = "hybrid"
)

// CheckoutOrder is one checkout attempt driven by the orchestrator.
type CheckoutOrder struct {
	ID                 int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNo            string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_no"`
	RequestID          string     `gorm:"type:varchar(128);uniqueIndex:ux_checkout_orders_user_request,priority:2;not null" json:"request_id"`
	UserID             int64      `gorm:"uniqueIndex:ux_checkout_orders_user_request,priority:1;index;not null" json:"user_id"`
	Purpose            string     `gorm:"type:varchar(20);not null" json:"purpose"`
	ContentID          *int64     `gorm:"index" json:"content_id,omitempty"`
	TargetKey          string     `gorm:"type:varchar(96)" json:"target_key,omitempty"`
	PackageID          string     `gorm:"type:varchar(32)" json:"package_id,omitempty"`
	Method             string     `gorm:"type:varchar(10);not null" json:"method"`
	Price              int64      `gorm:"not null" json:"price"`
	PointsAmount       int64      `gorm:"not null;default:0" json:"points_amount"`
	CardAmount         int64      `gorm:"not null;default:0" json:"card_amount"`
	CreditPoints       int64      `gorm:"not null;default:0" json:"credit_points,omitempty"` // points credited on completion of a package order
	Status             string     `gorm:"type:varchar(24);index:idx_checkout_orders_status_updated,priority:1;not null" json:"status"`
	ProcessorSessionID *string    `gorm:"type:varchar(128);uniqueIndex" json:"processor_session_id,omitempty"`
	RedirectURL        string     `gorm:"type:varchar(1024)" json:"redirect_url,omitempty"`
	FailureReason      string     `gorm:"type:varchar(256)" json:"failure_reason,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	CreatedAt          time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime;index:idx_checkout_orders_status_updated,priority:2" json:"updated_at"`
}

func (CheckoutOrder) TableName() string {
	return "checkout_orders"
}
