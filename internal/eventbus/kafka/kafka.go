// Package kafka is the eventbus.Bus backend for production: a
// watermill-kafka publisher and consumer group pair, grounded on the
// teacher's internal/kafka producer.go/consumer.go sarama wiring.
package kafka

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/Shopify/sarama"
	watermillkafka "github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/flexprice/flexcore/internal/config"
	"github.com/flexprice/flexcore/internal/eventbus"
)

// Bus implements eventbus.Bus against a real Kafka cluster.
type Bus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
}

func saramaConfig(cfg config.KafkaConfig, debug bool) *sarama.Config {
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_1_0_0
	sc.ClientID = cfg.ClientID
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	sc.Consumer.Offsets.AutoCommit.Enable = true
	sc.Consumer.Offsets.AutoCommit.Interval = 5 * time.Second
	sc.Consumer.Offsets.Retry.Max = 3
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true

	if cfg.TLS {
		sc.Net.TLS.Enable = true
		sc.Net.TLS.Config = &tls.Config{InsecureSkipVerify: false}
	}
	if cfg.UseSASL {
		sc.Net.SASL.Enable = true
		sc.Net.TLS.Enable = true
		sc.Net.SASL.Mechanism = cfg.SASLMechanism
		sc.Net.SASL.User = cfg.SASLUser
		sc.Net.SASL.Password = cfg.SASLPassword
	}
	return sc
}

// New constructs a kafka-backed bus using one consumer group for the
// whole process — every topic this core cares about (usage,
// verification) is consumed under cfg.ConsumerGroup.
func New(cfg config.KafkaConfig, debugLogs bool) (*Bus, error) {
	logger := watermill.NewStdLogger(debugLogs, debugLogs)

	publisher, err := watermillkafka.NewPublisher(
		watermillkafka.PublisherConfig{
			Brokers:               cfg.Brokers,
			Marshaler:             watermillkafka.DefaultMarshaler{},
			OverwriteSaramaConfig: saramaConfig(cfg, debugLogs),
		},
		logger,
	)
	if err != nil {
		return nil, err
	}

	subscriber, err := watermillkafka.NewSubscriber(
		watermillkafka.SubscriberConfig{
			Brokers:               cfg.Brokers,
			ConsumerGroup:         cfg.ConsumerGroup,
			Unmarshaler:           watermillkafka.DefaultMarshaler{},
			OverwriteSaramaConfig: saramaConfig(cfg, debugLogs),
			ReconnectRetrySleep:   time.Second,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return nil, err
	}

	return &Bus{publisher: publisher, subscriber: subscriber}, nil
}

func (b *Bus) Publish(ctx context.Context, topic string, msg *message.Message) error {
	return b.publisher.Publish(topic, msg)
}

func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.subscriber.Subscribe(ctx, topic)
}

func (b *Bus) Close() error {
	if err := b.publisher.Close(); err != nil {
		return err
	}
	return b.subscriber.Close()
}

var _ eventbus.Bus = (*Bus)(nil)
