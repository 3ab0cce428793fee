// Package memory is the eventbus.Bus backend for local development and
// tests: an in-process watermill gochannel, grounded on the teacher's
// internal/pubsub/memory.PubSub.
package memory

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/flexprice/flexcore/internal/eventbus"
)

// Bus implements eventbus.Bus with no external dependency.
type Bus struct {
	channel *gochannel.GoChannel
}

func New() *Bus {
	return &Bus{
		channel: gochannel.NewGoChannel(
			gochannel.Config{
				Persistent:                     true,
				BlockPublishUntilSubscriberAck: false,
				OutputChannelBuffer:             100,
			},
			watermill.NewStdLogger(false, false),
		),
	}
}

func (b *Bus) Publish(ctx context.Context, topic string, msg *message.Message) error {
	return b.channel.Publish(topic, msg)
}

func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.channel.Subscribe(ctx, topic)
}

func (b *Bus) Close() error {
	return b.channel.Close()
}

var _ eventbus.Bus = (*Bus)(nil)
