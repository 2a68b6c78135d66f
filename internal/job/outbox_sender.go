package job

import (
	"context"
	"time"

	"fandry/internal/config"
	"fandry/internal/infrastructure/mq"
	"fandry/internal/metrics"
	"fandry/internal/model"
	"fandry/internal/repository"
	"fandry/pkg/logger"

	"gorm.io/gorm"
)

// OutboxSender publishes outbox rows written by settlement transactions.
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  mq.Publisher
	cfg        *config.Config
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewOutboxSender(db *gorm.DB, publisher mq.Publisher, cfg *config.Config) *OutboxSender {
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		cfg:        cfg,
		stopCh:     make(chan struct{}),
		interval:   500 * time.Millisecond,
		batchSize:  100,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	logger.Info("outbox sender started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("outbox sender stopped by context")
			return
		case <-s.stopCh:
			logger.Info("outbox sender stopped")
			return
		case <-ticker.C:
			s.ProcessPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// ProcessPendingMessages sends one batch and returns how many messages were delivered.
func (s *OutboxSender) ProcessPendingMessages(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		logger.Error("load pending outbox messages failed", "error", err)
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	err := s.publisher.Publish(ctx, msg.Topic, msg.MessageKey, []byte(msg.Payload))
	if err == nil {
		metrics.OutboxMessages.WithLabelValues("sent").Inc()
		if updateErr := s.outboxRepo.MarkAsSent(ctx, msg.ID); updateErr != nil {
			logger.Error("mark outbox message sent failed", "id", msg.ID, "error", updateErr)
		}
		return true
	}

	metrics.OutboxMessages.WithLabelValues("retry").Inc()
	logger.Warn("outbox publish failed", "id", msg.ID, "topic", msg.Topic, "retry_count", msg.RetryCount, "error", err)

	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
		logger.Error("increment outbox retry count failed", "id", msg.ID, "error", err)
	}

	if msg.RetryCount+1 >= s.cfg.Business.MaxRetryCount {
		metrics.OutboxMessages.WithLabelValues("failed").Inc()
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			logger.Error("mark outbox message failed failed", "id", msg.ID, "error", err)
		} else {
			logger.Error("outbox message gave up after max retries", "id", msg.ID, "key", msg.MessageKey)
		}
	}
	return false
}
