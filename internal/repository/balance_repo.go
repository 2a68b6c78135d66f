package repository

import (
	"context"
	"errors"

	"fandry/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrBalanceNotFound  = errors.New("point balance not found")
	ErrBalanceNotEnough = errors.New("point balance not enough")
	ErrOptimisticLock   = errors.New("point balance changed concurrently")
)

type BalanceRepository struct {
	db *gorm.DB
}

func NewBalanceRepository(db *gorm.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

func (r *BalanceRepository) GetByUserID(ctx context.Context, tx *gorm.DB, userID int64) (*model.PointBalance, error) {
	if tx == nil {
		tx = r.db
	}
	var balance model.PointBalance
	err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBalanceNotFound
		}
		return nil, err
	}
	return &balance, nil
}

// GetByUserIDForUpdate locks the row until tx ends.
func (r *BalanceRepository) GetByUserIDForUpdate(ctx context.Context, tx *gorm.DB, userID int64) (*model.PointBalance, error) {
	var balance model.PointBalance
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBalanceNotFound
		}
		return nil, err
	}
	return &balance, nil
}

// GetOrCreate returns the user's balance, inserting a zero row the first time the user is seen.
func (r *BalanceRepository) GetOrCreate(ctx context.Context, tx *gorm.DB, userID int64) (*model.PointBalance, error) {
	if tx == nil {
		tx = r.db
	}
	balance, err := r.GetByUserID(ctx, tx, userID)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, ErrBalanceNotFound) {
		return nil, err
	}

	err = tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&model.PointBalance{UserID: userID}).Error
	if err != nil {
		return nil, err
	}

	return r.GetByUserID(ctx, tx, userID)
}

// Deduct subtracts amount if the balance still covers it and nobody bumped the version since it was read.
func (r *BalanceRepository) Deduct(ctx context.Context, tx *gorm.DB, userID, amount int64, version int, countSpent bool) error {
	updates := map[string]interface{}{
		"balance": gorm.Expr("balance - ?", amount),
		"version": gorm.Expr("version + 1"),
	}
	if countSpent {
		updates["total_spent"] = gorm.Expr("total_spent + ?", amount)
	}

	result := tx.WithContext(ctx).
		Model(&model.PointBalance{}).
		Where("user_id = ? AND balance >= ? AND version = ?", userID, amount, version).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		current, err := r.GetByUserID(ctx, tx, userID)
		if err != nil {
			return err
		}
		if current.Balance < amount {
			return ErrBalanceNotEnough
		}
		return ErrOptimisticLock
	}
	return nil
}

func (r *BalanceRepository) Increase(ctx context.Context, tx *gorm.DB, userID, amount int64, version int, countPurchased bool) error {
	updates := map[string]interface{}{
		"balance": gorm.Expr("balance + ?", amount),
		"version": gorm.Expr("version + 1"),
	}
	if countPurchased {
		updates["total_purchased"] = gorm.Expr("total_purchased + ?", amount)
	}

	result := tx.WithContext(ctx).
		Model(&model.PointBalance{}).
		Where("user_id = ? AND version = ?", userID, version).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		if _, err := r.GetByUserID(ctx, tx, userID); err != nil {
			return err
		}
		return ErrOptimisticLock
	}
	return nil
}
