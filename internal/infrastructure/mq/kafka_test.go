package mq

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKafkaPublisher_Publish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, NewProducerConfig())
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"order_no":"ORD1"}` {
			return errors.New("unexpected payload " + string(val))
		}
		return nil
	})

	publisher := NewKafkaPublisher(producer)
	err := publisher.Publish(context.Background(), "fandry.notification", "ORD1", []byte(`{"order_no":"ORD1"}`))
	require.NoError(t, err)
	require.NoError(t, publisher.Close())
}

func TestKafkaPublisher_PublishError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, NewProducerConfig())
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewKafkaPublisher(producer)
	err := publisher.Publish(context.Background(), "t", "k", []byte("v"))
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, publisher.Close())
}

func TestKafkaPublisher_CanceledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, NewProducerConfig())
	publisher := NewKafkaPublisher(producer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := publisher.Publish(ctx, "t", "k", []byte("v"))
	assert.ErrorIs(t, err, context.Canceled)
	require.NoError(t, publisher.Close())
}
