package job

import (
	"context"
	"errors"
	"sync"
	"testing"

	"fandry/internal/config"
	"fandry/internal/infrastructure/database/databasetest"
	"fandry/internal/infrastructure/mq"
	"fandry/internal/model"
	"fandry/internal/processor/processortest"
	"fandry/internal/service"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu   sync.Mutex
	err  error
	sent []string
}

func (p *recordingPublisher) Publish(_ context.Context, topic, key string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, topic+"/"+key)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func TestOutboxSender_Sends(t *testing.T) {
	db := databasetest.New(t)
	cfg := config.Default()
	require.NoError(t, db.Create(&model.OutboxMessage{MessageKey: "ORD-1", Topic: "fandry.notification", Payload: `{}`, Status: model.OutboxStatusPending}).Error)

	producer := mocks.NewSyncProducer(t, mq.NewProducerConfig())
	producer.ExpectSendMessageAndSucceed()
	sender := NewOutboxSender(db, mq.NewKafkaPublisher(producer), cfg)

	assert.Equal(t, 1, sender.ProcessPendingMessages(context.Background()))

	var msg model.OutboxMessage
	require.NoError(t, db.First(&msg).Error)
	assert.Equal(t, model.OutboxStatusSent, msg.Status)
	assert.Equal(t, 0, sender.ProcessPendingMessages(context.Background()))
	require.NoError(t, producer.Close())
}

func TestOutboxSender_GivesUpAfterMaxRetries(t *testing.T) {
	db := databasetest.New(t)
	cfg := config.Default()
	cfg.Business.MaxRetryCount = 2
	require.NoError(t, db.Create(&model.OutboxMessage{MessageKey: "ORD-1", Topic: "fandry.notification", Payload: `{}`, Status: model.OutboxStatusPending}).Error)

	pub := &recordingPublisher{err: sarama.ErrOutOfBrokers}
	sender := NewOutboxSender(db, pub, cfg)
	ctx := context.Background()

	assert.Equal(t, 0, sender.ProcessPendingMessages(ctx))
	var msg model.OutboxMessage
	require.NoError(t, db.First(&msg).Error)
	assert.Equal(t, model.OutboxStatusPending, msg.Status)
	assert.Equal(t, 1, msg.RetryCount)

	assert.Equal(t, 0, sender.ProcessPendingMessages(ctx))
	require.NoError(t, db.First(&msg).Error)
	assert.Equal(t, model.OutboxStatusFailed, msg.Status)

	pub.err = nil
	assert.Equal(t, 0, sender.ProcessPendingMessages(ctx))
	assert.Empty(t, pub.sent)
}

func TestCheckoutReconcileJob_RunOnce(t *testing.T) {
	db := databasetest.New(t)
	cfg := config.Default()
	balances := service.NewBalanceService(db, nil, cfg)
	checkout := service.NewCheckoutService(db, nil, cfg, processortest.New(), balances,
		service.NewPricingService(db, balances), service.NewEntitlementService(db, cfg))

	job := NewCheckoutReconcileJob(checkout, cfg)
	stats := job.RunOnce(context.Background())
	require.NotNil(t, stats)
	assert.Equal(t, service.ReconcileStats{}, *stats)
}

func TestJobsStop(t *testing.T) {
	db := databasetest.New(t)
	cfg := config.Default()
	sender := NewOutboxSender(db, &recordingPublisher{}, cfg)

	done := make(chan struct{})
	go func() {
		sender.Start(context.Background())
		close(done)
	}()
	sender.Stop()
	<-done

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sender2 := NewOutboxSender(db, &recordingPublisher{err: errors.New("unused")}, cfg)
	sender2.Start(ctx)
}
