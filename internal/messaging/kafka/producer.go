package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// Producer публикует события магазина в Kafka.
type Producer struct {
	client   sarama.Client
	producer sarama.SyncProducer
	logger   *log.Entry
}

// NewProducerConfig — настройки idempotent-продюсера: acks=all, ретраи, один in-flight запрос.
func NewProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = "storefront"
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	return config
}

// NewProducer подключается к брокерам.
func NewProducer(brokers []string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}

	client, err := sarama.NewClient(brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return &Producer{
		client:   client,
		producer: producer,
		logger:   log.WithField("component", "kafka-producer"),
	}, nil
}

// PublishEvent сериализует event в JSON и синхронно отправляет его в topic.
func (p *Producer) PublishEvent(ctx context.Context, topic, key string, event any, headers map[string]string) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka producer is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	eventData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(eventData),
		Timestamp: time.Now().UTC(),
	}
	for name, value := range headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(name), Value: []byte(value)})
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"topic": topic,
			"key":   key,
		}).Error("failed to send message to kafka")
		return fmt.Errorf("failed to send message: %w", err)
	}

	p.logger.WithFields(log.Fields{
		"topic":     topic,
		"key":       key,
		"partition": partition,
		"offset":    offset,
	}).Debug("message sent to kafka")

	return nil
}

// Ping обновляет метаданные кластера; используется readiness-проверкой.
func (p *Producer) Ping(context.Context) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("kafka client is not initialized")
	}
	if err := p.client.RefreshMetadata(); err != nil {
		return fmt.Errorf("refresh kafka metadata: %w", err)
	}
	return nil
}

// Close закрывает producer и клиент.
func (p *Producer) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	if p.client != nil && !p.client.Closed() {
		if err := p.client.Close(); err != nil {
			return fmt.Errorf("failed to close kafka client: %w", err)
		}
	}
	return nil
}
