package repository

import (
	"context"
	"errors"

	"fandry/internal/model"

	"gorm.io/gorm"
)

var ErrContentNotFound = errors.New("content not found")

type ContentRepository struct {
	db *gorm.DB
}

func NewContentRepository(db *gorm.DB) *ContentRepository {
	return &ContentRepository{db: db}
}

func (r *ContentRepository) Create(ctx context.Context, content *model.Content) error {
	return r.db.WithContext(ctx).Create(content).Error
}

func (r *ContentRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Content, error) {
	if tx == nil {
		tx = r.db
	}
	var content model.Content
	err := tx.WithContext(ctx).Where("id = ?", id).First(&content).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrContentNotFound
		}
		return nil, err
	}
	return &content, nil
}
