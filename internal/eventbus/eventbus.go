// Package eventbus decouples EntitlementStorage.Flush's buffered
// usage/verification records from the Analytics writer behind a
// watermill Publisher/Subscriber pair, grounded on the teacher's
// internal/pubsub interface and internal/kafka producer/consumer.
package eventbus

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Bus is the transport between the hot buffer flush path and the
// Analytics ingest consumer.
type Bus interface {
	Publish(ctx context.Context, topic string, msg *message.Message) error
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
	Close() error
}

const (
	TopicUsageEvents        = "flexcore.usage_events"
	TopicVerificationEvents = "flexcore.verification_events"
)
