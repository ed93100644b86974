package queue

import (
	"context"
	"errors"
	"time"

	"paylink-be/internal/logger"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// Handler processes one message body with its current retry count. A nil
// return acks the message; ErrNonRetryable dead-letters it; any other error
// requeues it with the counter bumped.
type Handler func(ctx context.Context, payload []byte, retryCount int) error

type Consumer struct {
	consumer   sarama.Consumer
	producer   Publisher
	maxRetries int
	dlqTopic   string
}

// NewConsumer connects to Kafka, retrying while the broker comes up.
func NewConsumer(brokers []string, producer Publisher, maxRetries int, dlqTopic string) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Return.Errors = true

	var client sarama.Consumer
	var err error

	for i := 1; i <= 10; i++ {
		client, err = sarama.NewConsumer(brokers, config)
		if err == nil {
			logger.L().Info("kafka consumer initialized")
			return &Consumer{
				consumer:   client,
				producer:   producer,
				maxRetries: maxRetries,
				dlqTopic:   dlqTopic,
			}, nil
		}

		logger.L().Warn("waiting for kafka",
			zap.Int("attempt", i),
			zap.Error(err),
		)
		time.Sleep(5 * time.Second)
	}

	return nil, err
}

// Consume reads a topic until ctx is cancelled, applying the retry policy
// around handler.
func (c *Consumer) Consume(ctx context.Context, topic string, handler Handler) error {
	pc, err := c.consumer.ConsumePartition(topic, 0, sarama.OffsetNewest)
	if err != nil {
		return err
	}
	defer pc.Close()

	log := logger.L().With(zap.String("topic", topic))
	log.Info("consuming topic")

	for {
		select {
		case <-ctx.Done():
			log.Info("consumer draining, stopping")
			return nil

		case err := <-pc.Errors():
			log.Error("kafka consumer error", zap.Error(err))

		case msg := <-pc.Messages():
			if msg == nil {
				continue
			}
			c.dispatch(ctx, topic, msg, handler)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, topic string, msg *sarama.ConsumerMessage, handler Handler) {
	retryCount := RetryCount(msg)
	log := logger.L().With(
		zap.String("topic", topic),
		zap.Int64("offset", msg.Offset),
		zap.Int("retry_count", retryCount),
	)

	err := handler(ctx, msg.Value, retryCount)
	if err == nil {
		return
	}

	if errors.Is(err, ErrNonRetryable) {
		log.Error("unprocessable message, dead-lettering", zap.Error(err))
		c.deadLetter(msg, retryCount)
		return
	}

	// Requeue with the counter bumped; after the cap the message is acked
	// and the dead-letter topic keeps it for inspection.
	if retryCount+1 >= c.maxRetries {
		log.Error("message retries exhausted, dead-lettering",
			zap.String("alert", "queue_retries_exhausted"),
			zap.Error(err),
		)
		c.deadLetter(msg, retryCount)
		return
	}

	log.Warn("message processing failed, requeueing", zap.Error(err))
	if pubErr := c.producer.Publish(topic, string(msg.Key), msg.Value, retryCount+1); pubErr != nil {
		log.Error("failed to requeue message", zap.Error(pubErr))
	}
}

func (c *Consumer) deadLetter(msg *sarama.ConsumerMessage, retryCount int) {
	if err := c.producer.Publish(c.dlqTopic, string(msg.Key), msg.Value, retryCount); err != nil {
		logger.L().Error("failed to publish to dead-letter topic",
			zap.String("dlq_topic", c.dlqTopic),
			zap.Error(err),
		)
	}
}

func (c *Consumer) Close() error {
	return c.consumer.Close()
}
