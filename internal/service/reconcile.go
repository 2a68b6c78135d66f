package service

import (
	"context"
	"errors"
	"time"

	"fandry/internal/metrics"
	"fandry/internal/model"
	"fandry/internal/processor"
	"fandry/pkg/logger"
)

// ReconcileStats counts what one sweep did.
type ReconcileStats struct {
	Confirmed int `json:"confirmed"`
	Canceled  int `json:"canceled"`
	Failed    int `json:"failed"`
	Recovered int `json:"recovered"`
	Errors    int `json:"errors"`
}

// Reconcile settles orders whose processor outcome never arrived:
//   - PROCESSOR_REDIRECTED older than the session TTL: expire at the processor, then confirm or cancel
//   - INITIATED older than the initiated timeout: refund any reservation and fail
//   - COMPENSATION_FAILED: retry the refund
func (s *CheckoutService) Reconcile(ctx context.Context, batchSize int) (*ReconcileStats, error) {
	stats := &ReconcileStats{}
	now := s.now().UTC()

	ttl := time.Duration(s.cfg.Business.CheckoutSessionTTLHours) * time.Hour
	redirected, err := s.orderRepo.GetStaleOrders(ctx, model.OrderStatusProcessorRedirected, now.Add(-ttl), batchSize)
	if err != nil {
		return stats, err
	}
	for _, order := range redirected {
		action, err := s.expireSession(ctx, order, "checkout session expired")
		if err != nil {
			stats.Errors++
			logger.Error("reconcile redirected order failed", "order_no", order.OrderNo, "error", err)
			continue
		}
		s.count(stats, action)
	}

	timeout := time.Duration(s.cfg.Business.InitiatedTimeoutMinutes) * time.Minute
	initiated, err := s.orderRepo.GetStaleOrders(ctx, model.OrderStatusInitiated, now.Add(-timeout), batchSize)
	if err != nil {
		return stats, err
	}
	for _, order := range initiated {
		err := s.compensate(ctx, order, model.OrderStatusFailed, "abandoned before processor redirect")
		if err != nil {
			stats.Errors++
			logger.Error("reconcile initiated order failed", "order_no", order.OrderNo, "error", err)
			continue
		}
		logger.Info("stale checkout failed", "order_no", order.OrderNo, "user_id", order.UserID, "refunded", order.PointsAmount)
		s.count(stats, "failed")
	}

	stuck, err := s.orderRepo.GetStaleOrders(ctx, model.OrderStatusCompensationFailed, now, batchSize)
	if err != nil {
		return stats, err
	}
	for _, order := range stuck {
		if err := s.RetryCompensation(ctx, order); err != nil {
			stats.Errors++
			continue
		}
		s.count(stats, "recovered")
	}

	return stats, nil
}

// expireSession closes the order's session at the processor and settles the order by what the
// processor reports: a paid session is confirmed, anything else canceled with reason.
func (s *CheckoutService) expireSession(ctx context.Context, order *model.CheckoutOrder, reason string) (string, error) {
	sessionID := *order.ProcessorSessionID

	session, err := s.processor.ExpireSession(ctx, sessionID)
	if err != nil && !errors.Is(err, processor.ErrSessionNotFound) {
		return "", err
	}

	if err == nil && session.Status == processor.SessionCompleted {
		if _, err := s.ConfirmSession(ctx, sessionID); err != nil {
			return "", err
		}
		return "confirmed", nil
	}

	if _, err := s.CancelSession(ctx, sessionID, reason); err != nil {
		return "", err
	}
	return "canceled", nil
}

func (s *CheckoutService) count(stats *ReconcileStats, action string) {
	switch action {
	case "confirmed":
		stats.Confirmed++
	case "canceled":
		stats.Canceled++
	case "failed":
		stats.Failed++
	case "recovered":
		stats.Recovered++
	}
	metrics.ReconcileActions.WithLabelValues(action).Inc()
}
