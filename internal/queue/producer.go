package queue

import (
	"time"

	"paylink-be/internal/logger"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// Publisher is the producing side the processor depends on.
type Publisher interface {
	Publish(topic, key string, payload []byte, retryCount int) error
}

type Producer struct {
	producer sarama.SyncProducer
}

// NewProducer connects to Kafka, retrying while the broker comes up.
func NewProducer(brokers []string) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll

	var producer sarama.SyncProducer
	var err error

	for i := 1; i <= 10; i++ {
		producer, err = sarama.NewSyncProducer(brokers, config)
		if err == nil {
			logger.L().Info("kafka producer initialized")
			return &Producer{producer: producer}, nil
		}

		logger.L().Warn("waiting for kafka",
			zap.Int("attempt", i),
			zap.Error(err),
		)
		time.Sleep(5 * time.Second)
	}

	return nil, err
}

func (p *Producer) Publish(topic, key string, payload []byte, retryCount int) error {
	msg := &sarama.ProducerMessage{
		Topic:   topic,
		Key:     sarama.StringEncoder(key),
		Value:   sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{retryHeader(retryCount)},
	}

	_, _, err := p.producer.SendMessage(msg)
	if err != nil {
		logger.L().Error("failed to publish message",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Error(err),
		)
		return err
	}

	return nil
}

func (p *Producer) Close() error {
	return p.producer.Close()
}
