// Package stream provides the at-least-once delivery channel between the
// ingestion path and its downstream consumers (fanout, notifications,
// analytics), built on Watermill.
//
// The in-process gochannel Pub/Sub is used here; every subscriber of a topic
// receives every message published after it subscribed, which gives the
// three consumer loops independent at-least-once streams. Swapping in a
// brokered transport (NATS, Kafka) is a deployment concern: everything in
// this package speaks message.Publisher/Subscriber.
package stream

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/tbourn/go-feed-backend/internal/domain"
)

// TopicEventsCommitted carries every event that has been durably appended.
// Nothing is published for an event that failed to commit (write-ahead).
const TopicEventsCommitted = "feed.events.committed"

// Bus is the process-local delivery channel.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// NewBus constructs a Bus whose subscriber channels buffer up to buffer
// messages.
func NewBus(buffer int64, logger watermill.LoggerAdapter) *Bus {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: buffer,
		}, logger),
	}
}

// PublishEvent encodes ev and publishes it to topic. The message UUID is the
// event ID so brokered transports can deduplicate on redelivery.
func (b *Bus) PublishEvent(topic string, ev *domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.ID, err)
	}
	msg := message.NewMessage(ev.ID, payload)
	if err := b.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish event %s: %w", ev.ID, err)
	}
	return nil
}

// Subscribe returns a channel of messages for the given topic. The channel
// is closed when ctx is canceled or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, topic)
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// DecodeEvent unpacks an event from a bus message.
func DecodeEvent(msg *message.Message) (*domain.Event, error) {
	var ev domain.Event
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return nil, fmt.Errorf("decode event message %s: %w", msg.UUID, err)
	}
	return &ev, nil
}

// Consume drains messages, decoding each and handing it to handle. Handler
// errors nack the message so the channel can redeliver (at-least-once);
// undecodable messages are acked and skipped since redelivery cannot fix
// them. Consume returns when the subscription channel closes.
func Consume(ctx context.Context, msgs <-chan *message.Message, handle func(context.Context, *domain.Event) error) {
	for msg := range msgs {
		ev, err := DecodeEvent(msg)
		if err != nil {
			msg.Ack()
			continue
		}
		if err := handle(ctx, ev); err != nil {
			msg.Nack()
			continue
		}
		msg.Ack()
	}
}
