package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fandry/internal/config"
	"fandry/internal/model"
	"fandry/internal/repository"
	"fandry/pkg/idgen"

	"gorm.io/gorm"
)

const (
	EventPurchaseCompleted = "purchase.completed"
	EventTipReceived       = "tip.received"
)

// EntitlementService records what a user owns and tells content owners about it.
type EntitlementService struct {
	cfg          *config.Config
	purchaseRepo *repository.PurchaseRepository
	outboxRepo   *repository.OutboxRepository
}

// NewEntitlementService writes purchase records and owner notifications.
func NewEntitlementService(db *gorm.DB, cfg *config.Config) *EntitlementService {
	return &EntitlementService{
		cfg:          cfg,
		purchaseRepo: repository.NewPurchaseRepository(db),
		outboxRepo:   repository.NewOutboxRepository(db),
	}
}

type GrantDetails struct {
	OrderNo       string
	TargetKey     string
	Amount        int64
	PointsPortion int64
	CardPortion   int64
	Method        string
}

type OwnerNotification struct {
	Event     string    `json:"event"`
	OwnerID   int64     `json:"owner_id"`
	BuyerID   int64     `json:"buyer_id"`
	ContentID int64     `json:"content_id"`
	OrderNo   string    `json:"order_no"`
	Amount    int64     `json:"amount"`
	Method    string    `json:"method,omitempty"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}

// Grant creates the PurchaseRecord inside tx. The outbox row commits or rolls back with it;
// publishing happens later and can never undo the purchase.
func (s *EntitlementService) Grant(ctx context.Context, tx *gorm.DB, userID int64, content *model.Content, d GrantDetails) (*model.PurchaseRecord, error) {
	owned, err := s.purchaseRepo.ExistsByTarget(ctx, tx, userID, d.TargetKey)
	if err != nil {
		return nil, err
	}
	if owned {
		return nil, ErrAlreadyPurchased
	}

	record := &model.PurchaseRecord{
		PurchaseNo:    idgen.GeneratePurchaseNo(),
		UserID:        userID,
		TargetKey:     d.TargetKey,
		ContentID:     content.ID,
		OrderNo:       d.OrderNo,
		Amount:        d.Amount,
		PointsPortion: d.PointsPortion,
		CardPortion:   d.CardPortion,
	}
	if err := s.purchaseRepo.Create(ctx, tx, record); err != nil {
		if errors.Is(err, repository.ErrAlreadyPurchased) {
			return nil, ErrAlreadyPurchased
		}
		return nil, fmt.Errorf("create purchase record: %w", err)
	}

	err = s.Notify(ctx, tx, OwnerNotification{
		Event:     EventPurchaseCompleted,
		OwnerID:   content.OwnerID,
		BuyerID:   userID,
		ContentID: content.ID,
		OrderNo:   d.OrderNo,
		Amount:    d.Amount,
		Method:    d.Method,
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Notify queues an owner notification in the outbox inside tx.
func (s *EntitlementService) Notify(ctx context.Context, tx *gorm.DB, n OwnerNotification) error {
	if n.At.IsZero() {
		n.At = time.Now().UTC()
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	msg := &model.OutboxMessage{
		MessageKey: n.OrderNo,
		Topic:      s.cfg.Kafka.Topic.Notification,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
	if err := s.outboxRepo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("queue owner notification: %w", err)
	}
	return nil
}

// HasPurchased reports whether userID already owns targetKey. Checkout uses it to refuse a
// second purchase before any money moves; Grant repeats the check inside the transaction.
func (s *EntitlementService) HasPurchased(ctx context.Context, userID int64, targetKey string) (bool, error) {
	return s.purchaseRepo.ExistsByTarget(ctx, nil, userID, targetKey)
}

// ListPurchases returns the user's purchases, newest first.
func (s *EntitlementService) ListPurchases(ctx context.Context, userID int64, limit int) ([]*model.PurchaseRecord, error) {
	if limit < 1 || limit > s.cfg.Business.MaxTransactionsLimit {
		limit = s.cfg.Business.MaxTransactionsLimit
	}
	return s.purchaseRepo.ListByUserID(ctx, userID, limit)
}
