package job

import (
	"context"
	"time"

	"fandry/internal/config"
	"fandry/internal/service"
	"fandry/pkg/logger"
)

// CheckoutReconcileJob periodically settles checkouts whose processor outcome never arrived.
type CheckoutReconcileJob struct {
	checkout  *service.CheckoutService
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewCheckoutReconcileJob(checkout *service.CheckoutService, cfg *config.Config) *CheckoutReconcileJob {
	interval := time.Duration(cfg.Business.ReconcileIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	return &CheckoutReconcileJob{
		checkout:  checkout,
		stopCh:    make(chan struct{}),
		interval:  interval,
		batchSize: 100,
	}
}

func (j *CheckoutReconcileJob) Start(ctx context.Context) {
	logger.Info("checkout reconcile job started", "interval", j.interval.String())

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("checkout reconcile job stopped by context")
			return
		case <-j.stopCh:
			logger.Info("checkout reconcile job stopped")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

func (j *CheckoutReconcileJob) Stop() {
	close(j.stopCh)
}

func (j *CheckoutReconcileJob) RunOnce(ctx context.Context) *service.ReconcileStats {
	stats, err := j.checkout.Reconcile(ctx, j.batchSize)
	if err != nil {
		logger.Error("checkout reconcile failed", "error", err)
	}
	if stats != nil && (stats.Confirmed+stats.Canceled+stats.Failed+stats.Recovered+stats.Errors) > 0 {
		logger.Info("checkout reconcile finished",
			"confirmed", stats.Confirmed,
			"canceled", stats.Canceled,
			"failed", stats.Failed,
			"recovered", stats.Recovered,
			"errors", stats.Errors)
	}
	return stats
}
