package repository

import (
	"context"
	"errors"
	"time"

	"fandry/internal/model"

	"gorm.io/gorm"
)

var (
	ErrOrderNotFound      = errors.New("checkout order not found")
	ErrOrderStatusInvalid = errors.New("checkout order status invalid")
	ErrDuplicateRequest   = errors.New("duplicate checkout request")
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, tx *gorm.DB, order *model.CheckoutOrder) error {
	if tx == nil {
		tx = r.db
	}
	err := tx.WithContext(ctx).Create(order).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateRequest
	}
	return err
}

func (r *OrderRepository) GetByOrderNo(ctx context.Context, tx *gorm.DB, orderNo string) (*model.CheckoutOrder, error) {
	if tx == nil {
		tx = r.db
	}
	var order model.CheckoutOrder
	err := tx.WithContext(ctx).Where("order_no = ?", orderNo).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// GetByRequestID returns (nil, nil) when the user never used requestID.
func (r *OrderRepository) GetByRequestID(ctx context.Context, tx *gorm.DB, userID int64, requestID string) (*model.CheckoutOrder, error) {
	if tx == nil {
		tx = r.db
	}
	var order model.CheckoutOrder
	err := tx.WithContext(ctx).
		Where("user_id = ? AND request_id = ?", userID, requestID).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepository) GetBySessionID(ctx context.Context, tx *gorm.DB, sessionID string) (*model.CheckoutOrder, error) {
	if tx == nil {
		tx = r.db
	}
	var order model.CheckoutOrder
	err := tx.WithContext(ctx).Where("processor_session_id = ?", sessionID).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// UpdateStatus moves the order from fromStatus to toStatus. The WHERE on the current status makes
// a replayed or raced transition affect zero rows, which is reported as ErrOrderStatusInvalid.
func (r *OrderRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, orderNo string, fromStatus, toStatus string, extra map[string]interface{}) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrOrderStatusInvalid
	}

	if tx == nil {
		tx = r.db
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	for k, v := range extra {
		updates[k] = v
	}
	if toStatus == model.OrderStatusCompleted {
		now := time.Now().UTC()
		updates["completed_at"] = &now
	}

	result := tx.WithContext(ctx).
		Model(&model.CheckoutOrder{}).
		Where("order_no = ? AND status = ?", orderNo, fromStatus).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrOrderStatusInvalid
	}
	return nil
}

// AttachSession links sessionID to an order that has none yet. It returns false when the order
// already carries a session.
func (r *OrderRepository) AttachSession(ctx context.Context, tx *gorm.DB, orderNo, sessionID string) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.CheckoutOrder{}).
		Where("order_no = ? AND processor_session_id IS NULL", orderNo).
		Update("processor_session_id", sessionID)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// GetOpenByTarget returns the newest order of userID for targetKey that has not settled yet,
// or nil when there is none.
func (r *OrderRepository) GetOpenByTarget(ctx context.Context, tx *gorm.DB, userID int64, targetKey string) (*model.CheckoutOrder, error) {
	if tx == nil {
		tx = r.db
	}
	var order model.CheckoutOrder
	err := tx.WithContext(ctx).
		Where("user_id = ? AND target_key = ? AND status IN ?", userID, targetKey,
			[]string{model.OrderStatusInitiated, model.OrderStatusProcessorRedirected}).
		Order("id DESC").
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// GetStaleOrders returns orders sitting in status since before the given time, oldest first.
func (r *OrderRepository) GetStaleOrders(ctx context.Context, status string, before time.Time, limit int) ([]*model.CheckoutOrder, error) {
	var orders []*model.CheckoutOrder
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", status, before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

func (r *OrderRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.CheckoutOrder, int64, error) {
	var orders []*model.CheckoutOrder
	var total int64

	query := r.db.WithContext(ctx).Model(&model.CheckoutOrder{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&orders).Error

	return orders, total, err
}
