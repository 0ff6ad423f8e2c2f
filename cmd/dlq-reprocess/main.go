package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second

	envKafkaBrokers  = "STOREFRONT_KAFKA_BROKERS"
	envKafkaTopic    = "STOREFRONT_KAFKA_TOPIC"
	envKafkaDLQTopic = "STOREFRONT_KAFKA_DLQ_TOPIC"
)

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	eventType   string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

type replayMessage struct {
	topic   string
	key     string
	value   []byte
	headers map[string]string
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

type replayProducer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

type saramaConsumerAdapter struct {
	consumer sarama.Consumer
}

func (a saramaConsumerAdapter) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	pc, err := a.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (a saramaConsumerAdapter) Close() error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Close()
}

var newReplayDependencies = func(cfg config) (offsetClient, partitionConsumerSource, replayProducer, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.ClientID = "storefront-dlq-reprocess"
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}

	rawConsumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	consumer := saramaConsumerAdapter{consumer: rawConsumer}

	if !cfg.execute {
		return client, consumer, nil, nil
	}

	producer, err := sarama.NewSyncProducer(cfg.brokers, kafka.NewProducerConfig())
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return client, consumer, producer, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fail("load .env: %v", err)
	}

	cfg, err := readConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}

	if err := run(context.Background(), cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func readConfig(args []string, lookup func(string) string) (config, error) {
	var (
		brokersRaw string
		cfg        config
	)

	flags := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flags.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: "+envKafkaBrokers+")")
	flags.StringVar(&cfg.sourceTopic, "source-topic", envOr(lookup, envKafkaDLQTopic, kafka.TopicDeadLetterQueue), "DLQ source topic")
	flags.StringVar(&cfg.targetTopic, "target-topic", envOr(lookup, envKafkaTopic, kafka.TopicOrderEvents), "target topic for replay")
	flags.StringVar(&cfg.eventType, "event-type", "", "replay only events of this type (e.g. OrderPaid)")
	flags.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of messages to scan/replay")
	flags.BoolVar(&cfg.execute, "execute", false, "execute replay; default is dry-run")
	flags.BoolVar(&cfg.fromNewest, "from-newest", false, "scan latest messages first (bounded by limit)")
	flags.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	if err := flags.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = lookup(envKafkaBrokers)
	}

	cfg.brokers = parseBrokers(brokersRaw)
	cfg.eventType = strings.TrimSpace(cfg.eventType)
	if len(cfg.brokers) == 0 {
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or %s)", envKafkaBrokers)
	}
	if strings.TrimSpace(cfg.sourceTopic) == "" {
		return config{}, fmt.Errorf("source-topic is required")
	}
	if strings.TrimSpace(cfg.targetTopic) == "" {
		return config{}, fmt.Errorf("target-topic is required")
	}
	if cfg.sourceTopic == cfg.targetTopic {
		return config{}, fmt.Errorf("source-topic and target-topic must differ")
	}
	if cfg.limit <= 0 {
		return config{}, fmt.Errorf("limit must be > 0")
	}
	if cfg.idleTimeout <= 0 {
		return config{}, fmt.Errorf("idle-timeout must be > 0")
	}

	return cfg, nil
}

func envOr(lookup func(string) string, key, fallback string) string {
	if v := strings.TrimSpace(lookup(key)); v != "" {
		return v
	}
	return fallback
}

func parseBrokers(raw string) []string {
	chunks := strings.Split(raw, ",")
	brokers := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		broker := strings.TrimSpace(chunk)
		if broker == "" {
			continue
		}
		brokers = append(brokers, broker)
	}
	return brokers
}

func run(ctx context.Context, cfg config) error {
	log.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"target_topic": cfg.targetTopic,
		"event_type":   cfg.eventType,
		"limit":        cfg.limit,
		"execute":      cfg.execute,
		"from_newest":  cfg.fromNewest,
	}).Info("starting dlq replay")

	client, consumer, producer, err := newReplayDependencies(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if producer != nil {
			_ = producer.Close()
		}
		if consumer != nil {
			_ = consumer.Close()
		}
		if client != nil {
			_ = client.Close()
		}
	}()

	return runReplay(ctx, cfg, client, consumer, producer)
}

func runReplay(ctx context.Context, cfg config, client offsetClient, consumer partitionConsumerSource, producer replayProducer) error {
	if client == nil || consumer == nil {
		return fmt.Errorf("kafka client and consumer are required")
	}
	if cfg.execute && producer == nil {
		return fmt.Errorf("producer is required in execute mode")
	}

	partitions, err := client.Partitions(cfg.sourceTopic)
	if err != nil {
		return fmt.Errorf("get partitions for topic %s: %w", cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		log.WithField("topic", cfg.sourceTopic).Warn("source topic has no partitions")
		return nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	var total partitionStats
	for _, partition := range partitions {
		if total.processed >= cfg.limit {
			break
		}

		stats, err := processPartition(ctx, consumer, client, producer, cfg, partition, cfg.limit-total.processed)
		if err != nil {
			return err
		}
		total.processed += stats.processed
		total.replayed += stats.replayed
		total.skipped += stats.skipped
	}

	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}

	log.WithFields(log.Fields{
		"mode":      mode,
		"processed": total.processed,
		"replayed":  total.replayed,
		"skipped":   total.skipped,
	}).Info("dlq replay finished")

	return nil
}

type partitionStats struct {
	processed int
	replayed  int
	skipped   int
}

func processPartition(
	ctx context.Context,
	consumer partitionConsumerSource,
	client offsetClient,
	producer replayProducer,
	cfg config,
	partition int32,
	limit int,
) (partitionStats, error) {
	var stats partitionStats
	if limit <= 0 {
		return stats, nil
	}

	oldest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	startOffset := oldest
	if cfg.fromNewest {
		startOffset = max(newest-int64(limit), oldest)
	}

	pc, err := consumer.ConsumePartition(cfg.sourceTopic, partition, startOffset)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idleTimer := time.NewTimer(cfg.idleTimeout)
	defer idleTimer.Stop()

	for stats.processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case err := <-pc.Errors():
			if err != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, err)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil {
				return stats, nil
			}
			idleTimer.Reset(cfg.idleTimeout)

			if msg.Offset >= newest {
				return stats, nil
			}
			stats.processed++

			entry := log.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})
			replay, ok, err := extractReplayMessage(msg, cfg.targetTopic, time.Now().UTC())
			switch {
			case err != nil:
				stats.skipped++
				entry.WithError(err).Warn("skip unsupported dlq message")
			case !ok:
				stats.skipped++
			case cfg.eventType != "" && replay.headers[kafka.HeaderEventType] != cfg.eventType:
				stats.skipped++
			case cfg.execute:
				if err := publishReplay(producer, replay); err != nil {
					return stats, fmt.Errorf("publish replay message: %w", err)
				}
				stats.replayed++
			default:
				entry.WithFields(log.Fields{
					"target_topic": replay.topic,
					"key":          replay.key,
					"event_type":   replay.headers[kafka.HeaderEventType],
				}).Info("dlq replay candidate")
				stats.replayed++
			}

			if msg.Offset+1 >= newest {
				return stats, nil
			}
		case <-idleTimer.C:
			return stats, nil
		}
	}

	return stats, nil
}

func publishReplay(producer replayProducer, msg replayMessage) error {
	if producer == nil {
		return fmt.Errorf("producer is nil")
	}

	producerMessage := &sarama.ProducerMessage{
		Topic:     msg.topic,
		Key:       sarama.StringEncoder(msg.key),
		Value:     sarama.ByteEncoder(msg.value),
		Timestamp: time.Now().UTC(),
	}
	for name, value := range msg.headers {
		producerMessage.Headers = append(producerMessage.Headers, sarama.RecordHeader{Key: []byte(name), Value: []byte(value)})
	}

	_, _, err := producer.SendMessage(producerMessage)
	return err
}

// extractReplayMessage восстанавливает исходный конверт события из DLQ-записи outbox worker.
// ok=false — сообщение не похоже на DLQ-запись и пропускается.
func extractReplayMessage(msg *sarama.ConsumerMessage, targetTopic string, now time.Time) (replayMessage, bool, error) {
	env, err := kafka.ParseEnvelope(msg.Value)
	if err != nil {
		return replayMessage{}, false, nil
	}
	dl, ok, err := env.DeadLetter()
	if err != nil || !ok {
		return replayMessage{}, false, err
	}

	replay := kafka.NewEnvelope(domain.OutboxMessage{
		ID:            firstNonEmpty(dl.OutboxID, env.ID),
		AggregateType: firstNonEmpty(dl.AggregateType, env.AggregateType),
		AggregateID:   firstNonEmpty(dl.AggregateID, env.AggregateID),
		EventType:     firstNonEmpty(dl.EventType, env.EventType),
		Payload:       dl.Payload,
	}, now)
	encoded, err := json.Marshal(replay)
	if err != nil {
		return replayMessage{}, false, fmt.Errorf("encode replay envelope: %w", err)
	}

	return replayMessage{
		topic: targetTopic,
		key:   replay.Key(),
		value: encoded,
		headers: map[string]string{
			kafka.HeaderEventType: replay.EventType,
			kafka.HeaderOutboxID:  replay.ID,
			kafka.HeaderReplayed:  "true",
		},
	}, true, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
