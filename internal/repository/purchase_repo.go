package repository

import (
	"context"
	"errors"

	"fandry/internal/model"

	"gorm.io/gorm"
)

var ErrAlreadyPurchased = errors.New("target already purchased")

type PurchaseRepository struct {
	db *gorm.DB
}

func NewPurchaseRepository(db *gorm.DB) *PurchaseRepository {
	return &PurchaseRepository{db: db}
}

// Create inserts the entitlement. The (user_id, target_key) unique index turns a racing second
// grant into ErrAlreadyPurchased.
func (r *PurchaseRepository) Create(ctx context.Context, tx *gorm.DB, record *model.PurchaseRecord) error {
	if tx == nil {
		tx = r.db
	}
	err := tx.WithContext(ctx).Create(record).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrAlreadyPurchased
	}
	return err
}

func (r *PurchaseRepository) ExistsByTarget(ctx context.Context, tx *gorm.DB, userID int64, targetKey string) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	var count int64
	err := tx.WithContext(ctx).
		Model(&model.PurchaseRecord{}).
		Where("user_id = ? AND target_key = ?", userID, targetKey).
		Count(&count).Error
	return count > 0, err
}

// GetByOrderNo returns (nil, nil) when the order granted nothing.
func (r *PurchaseRepository) GetByOrderNo(ctx context.Context, tx *gorm.DB, orderNo string) (*model.PurchaseRecord, error) {
	if tx == nil {
		tx = r.db
	}
	var record model.PurchaseRecord
	err := tx.WithContext(ctx).Where("order_no = ?", orderNo).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *PurchaseRepository) ListByUserID(ctx context.Context, userID int64, limit int) ([]*model.PurchaseRecord, error) {
	var records []*model.PurchaseRecord
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}
