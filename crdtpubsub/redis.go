package crdtpubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"textsync/common"
	"textsync/crdtop"
)

// RedisPubSub implements the PubSub interface using Redis.
type RedisPubSub struct {
	// client is the Redis client.
	client *redis.Client
	// pubsub is the Redis pubsub client.
	pubsub *redis.PubSub
	// options contains the configuration options.
	options *Options
	// logger is used for delivery errors.
	logger *zap.Logger
	// subscriptions is a map of topic to subscription.
	subscriptions map[string]*redisSubscription
	// mutex protects the subscriptions map.
	mutex sync.RWMutex
	// closed indicates whether the PubSub has been closed.
	closed bool
}

// redisSubscription represents a subscription to a Redis topic.
type redisSubscription struct {
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
	// done is a channel that is closed when the subscription is done.
	done chan struct{}
}

// NewRedisPubSub creates a new RedisPubSub with the specified Redis
// client and options.
func NewRedisPubSub(client *redis.Client, options *Options) (*RedisPubSub, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}

	if options == nil {
		options = NewOptions()
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisPubSub{
		client:        client,
		options:       options,
		logger:        logger,
		subscriptions: make(map[string]*redisSubscription),
	}, nil
}

// Publish publishes an update to the specified topic.
func (ps *RedisPubSub) Publish(ctx context.Context, topic string, update *crdtop.Update, format EncodingFormat) error {
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
func (ps *RedisPubSub) PublishRaw(ctx context.Context, topic string, data []byte, format EncodingFormat) error {
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

	msgData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	return ps.client.Publish(ctx, topic, msgData).Err()
}

// Subscribe subscribes to the specified topic and calls the handler for
// each received message.
func (ps *RedisPubSub) Subscribe(ctx context.Context, topic string, subscriberID string, handler SubscriberFunc) error {
	if ps.closed {
		return common.ErrClosed{Component: "pubsub"}
	}

	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	if sub, ok := ps.subscriptions[topic]; ok && sub.subscriberID == subscriberID {
		return fmt.Errorf("already subscribed to topic: %s with subscriberID: %s", topic, subscriberID)
	}

	if ps.pubsub == nil {
		ps.pubsub = ps.client.Subscribe(ctx)
	}

	if err := ps.pubsub.Subscribe(ctx, topic); err != nil {
		return fmt.Errorf("failed to subscribe to topic: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	subscription := &redisSubscription{
		topic:        topic,
		subscriberID: subscriberID,
		handler: func(msg UpdateMessage) error {
			return handler(subCtx, msg.Topic, msg.Payload, msg.Format)
		},
		ctx:    subCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	ps.subscriptions[topic] = subscription

	go ps.handleMessages(subscription)

	return nil
}

// SubscribeWithHandler subscribes to the specified topic with a
// MessageHandler. This is a convenience method that wraps Subscribe.
func (ps *RedisPubSub) SubscribeWithHandler(ctx context.Context, topic string, handler MessageHandler) error {
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

// handleMessages handles messages for a subscription.
func (ps *RedisPubSub) handleMessages(subscription *redisSubscription) {
	defer close(subscription.done)

	ch := ps.pubsub.Channel()
	for {
		select {
		case <-subscription.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if msg.Channel != subscription.topic {
				continue
			}

			var updateMsg UpdateMessage
			if err := json.Unmarshal([]byte(msg.Payload), &updateMsg); err != nil {
				ps.logger.Warn("failed to decode message",
					zap.String("topic", msg.Channel),
					zap.Error(err))
				continue
			}

			if err := subscription.handler(updateMsg); err != nil {
				ps.logger.Warn("failed to handle message",
					zap.String("topic", msg.Channel),
					zap.Error(err))
				continue
			}
		}
	}
}

// Unsubscribe unsubscribes from the specified topic.
func (ps *RedisPubSub) Unsubscribe(ctx context.Context, topic string, subscriberID string) error {
	if ps.closed {
		return common.ErrClosed{Component: "pubsub"}
	}

	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	subscription, ok := ps.subscriptions[topic]
	if !ok || subscription.subscriberID != subscriberID {
		return fmt.Errorf("not subscribed to topic: %s with subscriberID: %s", topic, subscriberID)
	}

	if err := ps.pubsub.Unsubscribe(ctx, topic); err != nil {
		return fmt.Errorf("failed to unsubscribe from topic: %w", err)
	}

	subscription.cancel()
	<-subscription.done

	delete(ps.subscriptions, topic)

	return nil
}

// Close closes the PubSub.
func (ps *RedisPubSub) Close() error {
	if ps.closed {
		return nil
	}

	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	ps.closed = true

	for _, subscription := range ps.subscriptions {
		subscription.cancel()
	}
	for _, subscription := range ps.subscriptions {
		<-subscription.done
	}

	if ps.pubsub != nil {
		if err := ps.pubsub.Close(); err != nil {
			return fmt.Errorf("failed to close pubsub client: %w", err)
		}
	}

	if err := ps.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	return nil
}
