package service

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"fandry/internal/metrics"
	"fandry/internal/model"
	"fandry/internal/processor"
	"fandry/internal/repository"
	"fandry/pkg/logger"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// HandleWebhook verifies a processor delivery, stores it once and applies it. Redeliveries of an
// event that was already applied are acknowledged without side effects.
func (s *CheckoutService) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) error {
	event, err := s.processor.ParseEvent(payload, signatureHeader)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("unknown", "invalid_signature").Inc()
		if errors.Is(err, processor.ErrInvalidSignature) {
			return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return err
	}

	record, created, err := s.eventRepo.Record(ctx, &model.ProcessorEvent{
		Provider:  s.processor.Name(),
		EventID:   event.ID,
		EventType: event.RawType,
		SessionID: event.SessionID,
		Payload:   datatypes.JSON(event.Payload),
	})
	if err != nil {
		return fmt.Errorf("record processor event: %w", err)
	}
	if !created && record.ProcessedAt != nil {
		metrics.WebhookEvents.WithLabelValues(event.RawType, "duplicate").Inc()
		logger.Info("webhook redelivery ignored", "event_id", event.ID, "type", event.RawType)
		return nil
	}

	var applyErr error
	switch event.Type {
	case processor.EventSessionCompleted:
		_, applyErr = s.ConfirmSession(ctx, event.SessionID)
	case processor.EventSessionCanceled:
		_, applyErr = s.CancelSession(ctx, event.SessionID, "processor: "+event.RawType)
	}
	if errors.Is(applyErr, ErrOrderNotFound) && event.OrderNo != "" {
		applyErr = s.settleUnattachedSession(ctx, event)
	}

	// A compensation failure is already recorded for the operator and retried by the sweep.
	if applyErr != nil && !errors.Is(applyErr, ErrCompensationFailed) {
		metrics.WebhookEvents.WithLabelValues(event.RawType, "error").Inc()
		if err := s.eventRepo.MarkProcessed(ctx, record.ID, applyErr.Error()); err != nil {
			logger.Error("mark webhook event failed", "event_id", event.ID, "error", err)
		}
		return applyErr
	}

	if err := s.eventRepo.MarkProcessed(ctx, record.ID, ""); err != nil {
		return fmt.Errorf("mark processor event: %w", err)
	}
	result := "applied"
	if event.Type == processor.EventIgnored {
		result = "ignored"
	}
	metrics.WebhookEvents.WithLabelValues(event.RawType, result).Inc()
	return nil
}

// ConfirmSession applies a processor confirmation. Only now is the entitlement granted (or the
// package credited). Confirming twice is a no-op.
func (s *CheckoutService) ConfirmSession(ctx context.Context, sessionID string) (*CheckoutResult, error) {
	order, err := s.orderBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch order.Status {
	case model.OrderStatusCompleted:
		return s.GetOrder(ctx, order.UserID, order.OrderNo)
	case model.OrderStatusProcessorRedirected:
		return s.completeRedirected(ctx, order)
	case model.OrderStatusCanceled, model.OrderStatusFailed, model.OrderStatusCompensationFailed:
		// The sweep gave up on this session but the customer paid anyway.
		if err := s.recordLatePayment(ctx, order, sessionID, model.DiscrepancyPaidAfterCancel); err != nil {
			return nil, err
		}
		return resultFromOrder(order, nil), nil
	}
	return nil, fmt.Errorf("confirm session %s: order %s is %s: %w", sessionID, order.OrderNo, order.Status, repository.ErrOrderStatusInvalid)
}

func (s *CheckoutService) completeRedirected(ctx context.Context, order *model.CheckoutOrder) (*CheckoutResult, error) {
	var purchase *model.PurchaseRecord
	duplicate := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.sessionRepo.Close(ctx, tx, *order.ProcessorSessionID, model.SessionStatusCompleted); err != nil {
			return err
		}

		switch order.Purpose {
		case model.OrderPurposePointsPackage:
			_, err := s.ledger.CreditTx(ctx, tx, Mutation{
				UserID:      order.UserID,
				Amount:      order.CreditPoints,
				Type:        model.TransactionTypePurchase,
				Description: fmt.Sprintf("points package %s", order.PackageID),
				OrderNo:     order.OrderNo,
			})
			if err != nil {
				return err
			}

		case model.OrderPurposeContent:
			owned, err := s.purchaseRepo.ExistsByTarget(ctx, tx, order.UserID, order.TargetKey)
			if err != nil {
				return err
			}
			if owned {
				// a parallel checkout of the same target won
				duplicate = true
				return s.cancelDuplicateTx(ctx, tx, order)
			}

			content, err := s.contentRepo.GetByID(ctx, tx, *order.ContentID)
			if err != nil {
				return err
			}
			purchase, err = s.entitlements.Grant(ctx, tx, order.UserID, content, GrantDetails{
				OrderNo:       order.OrderNo,
				TargetKey:     order.TargetKey,
				Amount:        order.Price,
				PointsPortion: order.PointsAmount,
				CardPortion:   order.CardAmount,
				Method:        order.Method,
			})
			if err != nil {
				return err
			}
		}

		return s.orderRepo.UpdateStatus(ctx, tx, order.OrderNo, model.OrderStatusProcessorRedirected, model.OrderStatusCompleted, nil)
	})
	if err != nil {
		if errors.Is(err, repository.ErrOrderStatusInvalid) {
			// lost a race with another confirmation or the sweep; report what won
			return s.GetOrder(ctx, order.UserID, order.OrderNo)
		}
		return nil, fmt.Errorf("complete order %s: %w", order.OrderNo, err)
	}
	s.ledger.InvalidateCache(ctx, order.UserID)

	if duplicate {
		metrics.Discrepancies.WithLabelValues(model.DiscrepancyDuplicatePayment).Inc()
		logger.Error("card payment for an owned target, refund by hand",
			"order_no", order.OrderNo, "user_id", order.UserID, "target", order.TargetKey, "card_amount", order.CardAmount)
		return s.GetOrder(ctx, order.UserID, order.OrderNo)
	}

	logger.Info("checkout completed", "order_no", order.OrderNo, "user_id", order.UserID, "purpose", order.Purpose,
		"method", order.Method, "points", order.PointsAmount, "card", order.CardAmount)
	order.Status = model.OrderStatusCompleted
	return resultFromOrder(order, purchase), nil
}

// cancelDuplicateTx closes an order whose target was bought meanwhile: the points share goes
// back automatically, the card share becomes a discrepancy.
func (s *CheckoutService) cancelDuplicateTx(ctx context.Context, tx *gorm.DB, order *model.CheckoutOrder) error {
	if err := s.refundReservationTx(ctx, tx, order); err != nil {
		return err
	}
	err := s.discrepancyRepo.Create(ctx, tx, &model.LedgerDiscrepancy{
		OrderNo: order.OrderNo,
		UserID:  order.UserID,
		Kind:    model.DiscrepancyDuplicatePayment,
		Amount:  order.CardAmount,
		Detail:  fmt.Sprintf("card payment captured for already owned %s", order.TargetKey),
	})
	if err != nil {
		return err
	}
	return s.orderRepo.UpdateStatus(ctx, tx, order.OrderNo, model.OrderStatusProcessorRedirected, model.OrderStatusCanceled,
		map[string]interface{}{"failure_reason": "duplicate payment"})
}

// recordLatePayment files one discrepancy per order and kind and marks sessionID paid.
func (s *CheckoutService) recordLatePayment(ctx context.Context, order *model.CheckoutOrder, sessionID, kind string) error {
	existing, err := s.discrepancyRepo.ListByOrderNo(ctx, order.OrderNo)
	if err != nil {
		return err
	}
	for _, d := range existing {
		if d.Kind == kind {
			return nil
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.sessionRepo.Close(ctx, tx, sessionID, model.SessionStatusCompleted); err != nil {
			return err
		}
		return s.discrepancyRepo.Create(ctx, tx, &model.LedgerDiscrepancy{
			OrderNo: order.OrderNo,
			UserID:  order.UserID,
			Kind:    kind,
			Amount:  order.CardAmount,
			Detail:  fmt.Sprintf("card payment on session %s captured after order became %s", sessionID, order.Status),
		})
	})
	if err != nil {
		return err
	}
	metrics.Discrepancies.WithLabelValues(kind).Inc()
	logger.Error("card payment for a closed order, refund by hand",
		"order_no", order.OrderNo, "user_id", order.UserID, "status", order.Status, "session_id", sessionID, "card_amount", order.CardAmount)
	return nil
}

// settleUnattachedSession handles an event for a session that was opened but never stored on its
// order, because the process stopped between CreateSession and the attach. The order is found by
// the reference the session carries. Once the sweep has closed that order, a payment can only be
// refunded by hand, so it is filed as a discrepancy. An order that is still open is left for a
// redelivery.
func (s *CheckoutService) settleUnattachedSession(ctx context.Context, event *processor.Event) error {
	order, err := s.orderRepo.GetByOrderNo(ctx, nil, event.OrderNo)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return fmt.Errorf("%w: session %s, order %s", ErrOrderNotFound, event.SessionID, event.OrderNo)
		}
		return err
	}
	if !model.IsTerminal(order.Status) && order.Status != model.OrderStatusCompensationFailed {
		return fmt.Errorf("session %s for order %s in %s: %w", event.SessionID, order.OrderNo, order.Status, repository.ErrOrderStatusInvalid)
	}
	if event.Type != processor.EventSessionCompleted {
		return nil
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.sessionRepo.GetBySessionID(ctx, tx, event.SessionID); err == nil {
			return nil
		} else if !errors.Is(err, repository.ErrSessionNotFound) {
			return err
		}
		err := s.sessionRepo.Create(ctx, tx, &model.CheckoutSession{
			SessionID: event.SessionID,
			OrderNo:   order.OrderNo,
			Amount:    order.CardAmount,
			Status:    model.SessionStatusPending,
		})
		if err != nil {
			return err
		}
		_, err = s.orderRepo.AttachSession(ctx, tx, order.OrderNo, event.SessionID)
		return err
	})
	if err != nil {
		return fmt.Errorf("attach session %s to order %s: %w", event.SessionID, order.OrderNo, err)
	}

	kind := model.DiscrepancyPaidAfterCancel
	if order.Status == model.OrderStatusCompleted {
		kind = model.DiscrepancyDuplicatePayment
	}
	logger.Warn("payment on an unattached session", "order_no", order.OrderNo, "session_id", event.SessionID, "status", order.Status)
	return s.recordLatePayment(ctx, order, event.SessionID, kind)
}

// CancelSession applies a processor cancellation or expiry: the points share is refunded and the
// order canceled in one transaction. Canceling twice is a no-op.
func (s *CheckoutService) CancelSession(ctx context.Context, sessionID, reason string) (*CheckoutResult, error) {
	order, err := s.orderBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch order.Status {
	case model.OrderStatusProcessorRedirected:
		if err := s.compensate(ctx, order, model.OrderStatusCanceled, reason); err != nil {
			if errors.Is(err, repository.ErrOrderStatusInvalid) {
				return s.GetOrder(ctx, order.UserID, order.OrderNo)
			}
			return nil, err
		}
		logger.Info("checkout canceled", "order_no", order.OrderNo, "user_id", order.UserID, "refunded", order.PointsAmount, "reason", reason)
		return s.GetOrder(ctx, order.UserID, order.OrderNo)
	case model.OrderStatusCompensationFailed:
		if err := s.RetryCompensation(ctx, order); err != nil {
			return nil, err
		}
		return s.GetOrder(ctx, order.UserID, order.OrderNo)
	}
	return resultFromOrder(order, nil), nil
}

func (s *CheckoutService) orderBySession(ctx context.Context, sessionID string) (*model.CheckoutOrder, error) {
	order, err := s.orderRepo.GetBySessionID(ctx, nil, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, fmt.Errorf("%w: session %s", ErrOrderNotFound, sessionID)
		}
		return nil, err
	}
	return order, nil
}

// refundReservationTx credits back whatever the order still holds. The net of the order's ledger
// rows decides the amount, so a repeated refund credits nothing.
func (s *CheckoutService) refundReservationTx(ctx context.Context, tx *gorm.DB, order *model.CheckoutOrder) error {
	net, err := s.transactionRepo.NetAmountByOrderNo(ctx, tx, order.OrderNo)
	if err != nil {
		return err
	}
	if net >= 0 {
		return nil
	}
	_, err = s.ledger.CreditTx(ctx, tx, Mutation{
		UserID:      order.UserID,
		Amount:      -net,
		Type:        model.TransactionTypeRefund,
		Description: fmt.Sprintf("refund of order %s", order.OrderNo),
		OrderNo:     order.OrderNo,
	})
	return err
}

// compensate reverses the points reservation and moves the order to toStatus atomically. If that
// fails the order is parked in COMPENSATION_FAILED with a discrepancy and the alert counter.
func (s *CheckoutService) compensate(ctx context.Context, order *model.CheckoutOrder, toStatus, reason string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.refundReservationTx(ctx, tx, order); err != nil {
			return err
		}
		if order.ProcessorSessionID != nil {
			if err := s.sessionRepo.Close(ctx, tx, *order.ProcessorSessionID, model.SessionStatusCanceled); err != nil {
				return err
			}
		}
		return s.orderRepo.UpdateStatus(ctx, tx, order.OrderNo, order.Status, toStatus,
			map[string]interface{}{"failure_reason": truncate(reason, 256)})
	})
	if err == nil {
		if order.PointsAmount > 0 {
			s.ledger.InvalidateCache(ctx, order.UserID)
		}
		return nil
	}
	if errors.Is(err, repository.ErrOrderStatusInvalid) {
		return err
	}

	s.recordCompensationFailure(ctx, order, err)
	return fmt.Errorf("%w: order %s", ErrCompensationFailed, order.OrderNo)
}

func (s *CheckoutService) recordCompensationFailure(ctx context.Context, order *model.CheckoutOrder, cause error) {
	metrics.CompensationFailures.Inc()
	logger.Error("points compensation failed",
		"order_no", order.OrderNo, "user_id", order.UserID, "points", order.PointsAmount, "status", order.Status, "error", cause)

	if order.Status == model.OrderStatusCompensationFailed {
		return
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := s.orderRepo.UpdateStatus(ctx, tx, order.OrderNo, order.Status, model.OrderStatusCompensationFailed,
			map[string]interface{}{"failure_reason": truncate(cause.Error(), 256)})
		if err != nil {
			return err
		}
		return s.discrepancyRepo.Create(ctx, tx, &model.LedgerDiscrepancy{
			OrderNo: order.OrderNo,
			UserID:  order.UserID,
			Kind:    model.DiscrepancyCompensationFailed,
			Amount:  order.PointsAmount,
			Detail:  cause.Error(),
		})
	})
	if err != nil {
		// nothing durable is left; the log line above is the operator's only record
		logger.Error("record compensation failure failed", "order_no", order.OrderNo, "error", err)
		return
	}
	metrics.Discrepancies.WithLabelValues(model.DiscrepancyCompensationFailed).Inc()
}

// RetryCompensation refunds a COMPENSATION_FAILED order again. Orders that reached the processor
// end CANCELED, the others FAILED; the discrepancy is resolved in the same transaction.
func (s *CheckoutService) RetryCompensation(ctx context.Context, order *model.CheckoutOrder) error {
	toStatus := model.OrderStatusFailed
	if order.ProcessorSessionID != nil {
		toStatus = model.OrderStatusCanceled
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.refundReservationTx(ctx, tx, order); err != nil {
			return err
		}
		if err := s.discrepancyRepo.Resolve(ctx, tx, order.OrderNo, model.DiscrepancyCompensationFailed); err != nil {
			return err
		}
		return s.orderRepo.UpdateStatus(ctx, tx, order.OrderNo, model.OrderStatusCompensationFailed, toStatus, nil)
	})
	if err != nil {
		if errors.Is(err, repository.ErrOrderStatusInvalid) {
			return nil
		}
		s.recordCompensationFailure(ctx, order, err)
		return fmt.Errorf("%w: order %s", ErrCompensationFailed, order.OrderNo)
	}

	s.ledger.InvalidateCache(ctx, order.UserID)
	logger.Info("compensation retried", "order_no", order.OrderNo, "user_id", order.UserID, "status", toStatus)
	return nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
