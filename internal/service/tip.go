package service

import (
	"context"
	"errors"
	"fmt"

	"fandry/internal/infrastructure/lock"
	"fandry/internal/model"
	"fandry/internal/repository"
	"fandry/pkg/idgen"
	"fandry/pkg/logger"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TipRequest struct {
	UserID         int64
	ContentID      int64
	Amount         int64
	Message        string
	IdempotencyKey string
}

// TipWithPoints pays a creator directly from the tipper's points. The order completes in the same
// transaction as the debit; the owner hears about it through the outbox.
func (s *CheckoutService) TipWithPoints(ctx context.Context, req TipRequest) (*CheckoutResult, error) {
	if req.UserID == 0 {
		return nil, ErrUnauthenticated
	}
	if req.Amount <= 0 || (s.cfg.Business.MaxTipAmount > 0 && req.Amount > s.cfg.Business.MaxTipAmount) {
		return nil, ErrInvalidAmount
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}

	if existing, err := s.orderRepo.GetByRequestID(ctx, nil, req.UserID, req.IdempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		return s.replayTip(existing, req)
	}

	content, err := s.contentRepo.GetByID(ctx, nil, req.ContentID)
	if err != nil {
		if errors.Is(err, repository.ErrContentNotFound) {
			return nil, ErrContentNotFound
		}
		return nil, err
	}
	if !content.IsPublished {
		return nil, ErrContentNotFound
	}

	contentID := content.ID
	order := &model.CheckoutOrder{
		OrderNo:      idgen.GenerateOrderNo(),
		RequestID:    req.IdempotencyKey,
		UserID:       req.UserID,
		Purpose:      model.OrderPurposeTip,
		ContentID:    &contentID,
		Method:       model.PaymentMethodPoints,
		Price:        req.Amount,
		PointsAmount: req.Amount,
		Status:       model.OrderStatusInitiated,
	}

	var replayed *model.CheckoutOrder
	err = s.withUserLock(ctx, req.UserID, func() error {
		again, err := s.orderRepo.GetByRequestID(ctx, nil, req.UserID, req.IdempotencyKey)
		if err != nil {
			return err
		}
		if again != nil {
			replayed = again
			return nil
		}

		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.orderRepo.Create(ctx, tx, order); err != nil {
				return err
			}
			if err := s.orderRepo.UpdateStatus(ctx, tx, order.OrderNo, model.OrderStatusInitiated, model.OrderStatusPointsSettling, nil); err != nil {
				return err
			}
			_, err := s.ledger.DebitTx(ctx, tx, Mutation{
				UserID:      req.UserID,
				Amount:      req.Amount,
				Type:        model.TransactionTypeTip,
				Description: fmt.Sprintf("tip for %s", content.Title),
				OrderNo:     order.OrderNo,
			})
			if err != nil {
				return err
			}
			err = s.entitlements.Notify(ctx, tx, OwnerNotification{
				Event:     EventTipReceived,
				OwnerID:   content.OwnerID,
				BuyerID:   req.UserID,
				ContentID: content.ID,
				OrderNo:   order.OrderNo,
				Amount:    req.Amount,
				Method:    model.PaymentMethodPoints,
				Message:   req.Message,
			})
			if err != nil {
				return err
			}
			return s.orderRepo.UpdateStatus(ctx, tx, order.OrderNo, model.OrderStatusPointsSettling, model.OrderStatusCompleted, nil)
		})
	})
	if err != nil {
		if errors.Is(err, lock.ErrLockFailed) {
			return nil, ErrCheckoutBusy
		}
		return nil, err
	}
	if replayed != nil {
		return s.replayTip(replayed, req)
	}

	s.ledger.InvalidateCache(ctx, req.UserID)
	order.Status = model.OrderStatusCompleted
	logger.Info("tip completed", "order_no", order.OrderNo, "user_id", req.UserID, "owner_id", content.OwnerID, "amount", req.Amount)
	return resultFromOrder(order, nil), nil
}

func (s *CheckoutService) replayTip(order *model.CheckoutOrder, req TipRequest) (*CheckoutResult, error) {
	if order.Purpose != model.OrderPurposeTip || order.ContentID == nil || *order.ContentID != req.ContentID || order.Price != req.Amount {
		return nil, ErrIdempotencyConflict
	}
	return resultFromOrder(order, nil), nil
}
