package crdtpubsub

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"textsync/common"
	"textsync/crdtop"
)

// MemoryPubSub implements the PubSub interface using in-memory channels.
type MemoryPubSub struct {
	// options contains the configuration options.
	options *Options
	// logger is used for delivery errors.
	logger *zap.Logger
	// subscriptions is a map of topic to subscriptions.
	subscriptions map[string][]*memorySubscription
	// mutex protects the subscriptions map.
	mutex sync.RWMutex
	// closed indicates whether the PubSub has been closed.
	closed bool
}

// memorySubscription represents a subscription to an in-memory topic.
type memorySubscription struct {
	// topic is the topic being subscribed to.
	topic string
	// subscriberID is the unique identifier for the subscriber.
	subscriberID string
	// handler is the message handler.
	handler MessageHandler
	// ctx is the context for the subscription.
	ctx context.Context
	// cancel is the cancel function for the context.
	cancel context.CancelFunc
}

// NewMemoryPubSub creates a new MemoryPubSub with the specified options.
func NewMemoryPubSub(options *Options) (*MemoryPubSub, error) {
	if options == nil {
		options = NewOptions()
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &MemoryPubSub{
		options:       options,
		logger:        logger,
		subscriptions: make(map[string][]*memorySubscription),
	}, nil
}

// Publish publishes an update to the specified topic.
func (ps *MemoryPubSub) Publish(ctx context.Context, topic string, update *crdtop.Update, format EncodingFormat) error {
	if ps.closed {
		return common.ErrClosed{Component: "pubsub"}
	}

	if format == "" {
		format = ps.options.DefaultFormat
	}

	encoder, err := GetEncoderDecoder(format)
	if err != nil {
		return err
	}

	data, err := encoder.Encode(update)
	if err != nil {
		return fmt.Errorf("failed to encode update: %w", err)
	}

	return ps.PublishRaw(ctx, topic, data, format)
}

// PublishRaw publishes raw data to the specified topic.
func (ps *MemoryPubSub) PublishRaw(ctx context.Context, topic string, data []byte, format EncodingFormat) error {
	if ps.closed {
		return common.ErrClosed{Component: "pubsub"}
	}

	if format == "" {
		format = ps.options.DefaultFormat
	}

	msg := UpdateMessage{
		Topic:   topic,
		Payload: data,
		Format:  format,
		Metadata: map[string]string{
			"format": string(format),
		},
	}

	return ps.deliverMessage(ctx, msg)
}

// deliverMessage delivers a message to all subscribers of the specified topic.
func (ps *MemoryPubSub) deliverMessage(ctx context.Context, msg UpdateMessage) error {
	ps.mutex.RLock()
	defer ps.mutex.RUnlock()

	if ps.closed {
		return common.ErrClosed{Component: "pubsub"}
	}

	subscribers, ok := ps.subscriptions[msg.Topic]
	if !ok || len(subscribers) == 0 {
		// No subscribers, message is dropped.
		return nil
	}

	for _, sub := range subscribers {
		select {
		case <-sub.ctx.Done():
			continue
		default:
			// Call the handler in a goroutine to avoid blocking the
			// publisher.
			go func(s *memorySubscription, m UpdateMessage) {
				select {
				case <-s.ctx.Done():
					return
				default:
					if err := s.handler(m); err != nil {
						ps.logger.Warn("failed to handle message",
							zap.String("topic", m.Topic),
							zap.String("subscriber", s.subscriberID),
							zap.Error(err))
					}
				}
			}(sub, msg)
		}
	}

	return nil
}

// Subscribe subscribes to the specified topic and calls the handler for
// each received message.
func (ps *MemoryPubSub) Subscribe(ctx context.Context, topic string, subscriberID string, handler SubscriberFunc) error {
	if ps.closed {
		return common.ErrClosed{Component: "pubsub"}
	}

	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	subCtx, cancel := context.WithCancel(ctx)
	subscription := &memorySubscription{
		topic:        topic,
		subscriberID: subscriberID,
		handler: func(msg UpdateMessage) error {
			return handler(subCtx, msg.Topic, msg.Payload, msg.Format)
		},
		ctx:    subCtx,
		cancel: cancel,
	}

	ps.subscriptions[topic] = append(ps.subscriptions[topic], subscription)

	return nil
}

// SubscribeWithHandler subscribes to the specified topic with a
// MessageHandler. This is a convenience method that wraps Subscribe.
func (ps *MemoryPubSub) SubscribeWithHandler(ctx context.Context, topic string, handler MessageHandler) error {
	if ps.closed {
		return common.ErrClosed{Component: "pubsub"}
	}

	subscriberID := fmt.Sprintf("handler-%p", handler)

	subscriberFunc := func(ctx context.Context, topic string, data []byte, format EncodingFormat) error {
		msg := UpdateMessage{
			Topic:   topic,
			Payload: data,
			Format:  format,
			Metadata: map[string]string{
				"format": string(format),
			},
		}
		return handler(msg)
	}

	return ps.Subscribe(ctx, topic, subscriberID, subscriberFunc)
}

// Unsubscribe unsubscribes from the specified topic.
func (ps *MemoryPubSub) Unsubscribe(ctx context.Context, topic string, subscriberID string) error {
	if ps.closed {
		return common.ErrClosed{Component: "pubsub"}
	}

	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	subscribers, ok := ps.subscriptions[topic]
	if !ok || len(subscribers) == 0 {
		return fmt.Errorf("not subscribed to topic: %s", topic)
	}

	var remaining []*memorySubscription
	found := false
	for _, sub := range subscribers {
		if sub.subscriberID == subscriberID {
			sub.cancel()
			found = true
		} else {
			remaining = append(remaining, sub)
		}
	}

	if !found {
		return fmt.Errorf("subscriber not found for topic: %s", topic)
	}

	if len(remaining) == 0 {
		delete(ps.subscriptions, topic)
	} else {
		ps.subscriptions[topic] = remaining
	}

	return nil
}

// UnsubscribeAll unsubscribes all subscribers from the specified topic.
func (ps *MemoryPubSub) UnsubscribeAll(ctx context.Context, topic string) error {
	if ps.closed {
		return common.ErrClosed{Component: "pubsub"}
	}

	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	subscribers, ok := ps.subscriptions[topic]
	if !ok || len(subscribers) == 0 {
		return fmt.Errorf("not subscribed to topic: %s", topic)
	}

	for _, sub := range subscribers {
		sub.cancel()
	}
	delete(ps.subscriptions, topic)

	return nil
}

// Close closes the PubSub.
func (ps *MemoryPubSub) Close() error {
	if ps.closed {
		return nil
	}

	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	ps.closed = true

	for _, subscribers := range ps.subscriptions {
		for _, sub := range subscribers {
			sub.cancel()
		}
	}
	ps.subscriptions = make(map[string][]*memorySubscription)

	return nil
}
