package repository

import (
	"context"
	"errors"

	"fandry/internal/model"

	"gorm.io/gorm"
)

var ErrSessionNotFound = errors.New("checkout session not found")

type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, tx *gorm.DB, session *model.CheckoutSession) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(session).Error
}

func (r *SessionRepository) GetBySessionID(ctx context.Context, tx *gorm.DB, sessionID string) (*model.CheckoutSession, error) {
	if tx == nil {
		tx = r.db
	}
	var session model.CheckoutSession
	err := tx.WithContext(ctx).Where("session_id = ?", sessionID).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

// Close moves a pending session to status. Closing an already closed session is a no-op.
func (r *SessionRepository) Close(ctx context.Context, tx *gorm.DB, sessionID, status string) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.CheckoutSession{}).
		Where("session_id = ? AND status = ?", sessionID, model.SessionStatusPending).
		Update("status", status).Error
}
