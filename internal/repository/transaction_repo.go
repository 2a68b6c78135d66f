package repository

import (
	"context"

	"fandry/internal/model"

	"gorm.io/gorm"
)

// TransactionRepository reads and appends ledger rows. It has no update or delete.
type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.PointTransaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trans).Error
}

// ListByUserID returns the newest rows first.
func (r *TransactionRepository) ListByUserID(ctx context.Context, userID int64, limit int) ([]*model.PointTransaction, error) {
	var transactions []*model.PointTransaction
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&transactions).Error
	return transactions, err
}

// ListAllByUserID returns every row of the user in append order.
func (r *TransactionRepository) ListAllByUserID(ctx context.Context, userID int64) ([]*model.PointTransaction, error) {
	var transactions []*model.PointTransaction
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&transactions).Error
	return transactions, err
}

func (r *TransactionRepository) ListByOrderNo(ctx context.Context, tx *gorm.DB, orderNo string) ([]*model.PointTransaction, error) {
	if tx == nil {
		tx = r.db
	}
	var transactions []*model.PointTransaction
	err := tx.WithContext(ctx).
		Where("order_no = ?", orderNo).
		Order("id ASC").
		Find(&transactions).Error
	return transactions, err
}

// NetAmountByOrderNo sums the signed amounts booked against an order. A reserved and fully
// refunded order nets to zero.
func (r *TransactionRepository) NetAmountByOrderNo(ctx context.Context, tx *gorm.DB, orderNo string) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	var sum int64
	err := tx.WithContext(ctx).
		Model(&model.PointTransaction{}).
		Where("order_no = ?", orderNo).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error
	return sum, err
}
