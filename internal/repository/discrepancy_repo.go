package repository

import (
	"context"
	"time"

	"fandry/internal/model"

	"gorm.io/gorm"
)

type DiscrepancyRepository struct {
	db *gorm.DB
}

func NewDiscrepancyRepository(db *gorm.DB) *DiscrepancyRepository {
	return &DiscrepancyRepository{db: db}
}

func (r *DiscrepancyRepository) Create(ctx context.Context, tx *gorm.DB, d *model.LedgerDiscrepancy) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(d).Error
}

func (r *DiscrepancyRepository) ListOpen(ctx context.Context, limit int) ([]*model.LedgerDiscrepancy, error) {
	var items []*model.LedgerDiscrepancy
	err := r.db.WithContext(ctx).
		Where("resolved_at IS NULL").
		Order("id ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

func (r *DiscrepancyRepository) ListByOrderNo(ctx context.Context, orderNo string) ([]*model.LedgerDiscrepancy, error) {
	var items []*model.LedgerDiscrepancy
	err := r.db.WithContext(ctx).
		Where("order_no = ?", orderNo).
		Order("id ASC").
		Find(&items).Error
	return items, err
}

// Resolve closes every open discrepancy of kind for the order.
func (r *DiscrepancyRepository) Resolve(ctx context.Context, tx *gorm.DB, orderNo, kind string) error {
	if tx == nil {
		tx = r.db
	}
	now := time.Now().UTC()
	return tx.WithContext(ctx).
		Model(&model.LedgerDiscrepancy{}).
		Where("order_no = ? AND kind = ? AND resolved_at IS NULL", orderNo, kind).
		Update("resolved_at", &now).Error
}
