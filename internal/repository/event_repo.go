package repository

import (
	"context"
	"errors"
	"time"

	"fandry/internal/model"

	"gorm.io/gorm"
)

type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Record stores a webhook delivery. For a redelivery it returns the stored row and created=false.
func (r *EventRepository) Record(ctx context.Context, event *model.ProcessorEvent) (*model.ProcessorEvent, bool, error) {
	err := r.db.WithContext(ctx).Create(event).Error
	if err == nil {
		return event, true, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, false, err
	}

	var existing model.ProcessorEvent
	err = r.db.WithContext(ctx).
		Where("provider = ? AND event_id = ?", event.Provider, event.EventID).
		First(&existing).Error
	if err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

// MarkProcessed stamps processed_at; a non-empty processingErr is kept for the operator instead.
func (r *EventRepository) MarkProcessed(ctx context.Context, id int64, processingErr string) error {
	updates := map[string]interface{}{
		"processing_error": processingErr,
	}
	if processingErr == "" {
		now := time.Now().UTC()
		updates["processed_at"] = &now
	}
	return r.db.WithContext(ctx).
		Model(&model.ProcessorEvent{}).
		Where("id = ?", id).
		Updates(updates).Error
}
