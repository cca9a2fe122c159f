package crdtsync

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"textsync/common"
	"textsync/crdtop"
	"textsync/crdtpubsub"
)

// RedisStreamsBroadcaster is a Broadcaster implementation on top of a
// Redis stream. Unlike plain pub/sub the stream is durable, so nodes
// that were offline still receive the updates once they reconnect.
type RedisStreamsBroadcaster struct {
	// client is the Redis client.
	client *redis.Client

	// streamKey is the stream updates are broadcast on.
	streamKey string

	// consumerGroup is the consumer group name.
	consumerGroup string

	// consumerName is this node's consumer name.
	consumerName string

	// localReplica is the local replica ID.
	localReplica common.ReplicaID

	// maxLen is the maximum stream length before old entries are
	// trimmed.
	maxLen int64

	// format is the update encoding format.
	format crdtpubsub.EncodingFormat
}

// NewRedisStreamsBroadcaster creates a new Redis stream broadcaster.
func NewRedisStreamsBroadcaster(
	client *redis.Client,
	streamKey string,
	format crdtpubsub.EncodingFormat,
	replica common.ReplicaID,
) (*RedisStreamsBroadcaster, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}

	broadcaster := &RedisStreamsBroadcaster{
		client:        client,
		streamKey:     streamKey,
		consumerGroup: fmt.Sprintf("%s-group", streamKey),
		consumerName:  streamConsumerName(replica),
		localReplica:  replica,
		maxLen:        1000,
		format:        format,
	}

	if err := broadcaster.initialize(context.Background()); err != nil {
		return nil, err
	}

	return broadcaster, nil
}

// streamConsumerName derives the consumer group member name from the
// full replica ID. UUID v7 prefixes are millisecond timestamps, so
// replicas created close together share them; only the full ID is
// unique.
func streamConsumerName(replica common.ReplicaID) string {
	return fmt.Sprintf("consumer-%s", replica.String())
}

// initialize creates the stream and the consumer group if needed.
func (b *RedisStreamsBroadcaster) initialize(ctx context.Context) error {
	exists, err := b.client.Exists(ctx, b.streamKey).Result()
	if err != nil {
		return fmt.Errorf("failed to check if stream exists: %w", err)
	}

	if exists == 0 {
		_, err = b.client.XAdd(ctx, &redis.XAddArgs{
			Stream: b.streamKey,
			ID:     "*",
			Values: map[string]interface{}{
				"init": "true",
			},
		}).Result()
		if err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
	}

	err = b.client.XGroupCreate(ctx, b.streamKey, b.consumerGroup, "0").Err()
	if err != nil {
		if err.Error() != "BUSYGROUP Consumer Group name already exists" {
			return fmt.Errorf("failed to create consumer group: %w", err)
		}
	}

	return nil
}

// Broadcast sends an update to all other nodes.
func (b *RedisStreamsBroadcaster) Broadcast(ctx context.Context, update *crdtop.Update) error {
	encoder, err := crdtpubsub.GetEncoderDecoder(b.format)
	if err != nil {
		return fmt.Errorf("failed to get encoder: %w", err)
	}

	data, err := encoder.Encode(update)
	if err != nil {
		return fmt.Errorf("failed to encode update: %w", err)
	}

	values := map[string]interface{}{
		"data":      data,
		"format":    string(b.format),
		"rid":       b.localReplica.String(),
		"timestamp": time.Now().UnixNano(),
	}

	_, err = b.client.XAdd(ctx, &redis.XAddArgs{
		Stream:       b.streamKey,
		MaxLenApprox: b.maxLen,
		ID:           "*",
		Values:       values,
	}).Result()

	if err != nil {
		return fmt.Errorf("failed to add message to stream: %w", err)
	}

	return nil
}

// Next receives the next broadcast update from another node.
func (b *RedisStreamsBroadcaster) Next(ctx context.Context) (*crdtop.Update, error) {
	for {
		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.consumerGroup,
			Consumer: b.consumerName,
			Streams:  []string{b.streamKey, ">"},
			Count:    1,
			Block:    time.Second,
		}).Result()

		if err != nil {
			if err == context.Canceled || err == context.DeadlineExceeded {
				return nil, err
			}
			if err == redis.Nil {
				continue
			}
			return nil, fmt.Errorf("failed to read from stream: %w", err)
		}

		if len(streams) == 0 || len(streams[0].Messages) == 0 {
			continue
		}

		message := streams[0].Messages[0]
		b.client.XAck(ctx, b.streamKey, b.consumerGroup, message.ID)

		data, ok := message.Values["data"].(string)
		if !ok {
			continue
		}

		formatStr, ok := message.Values["format"].(string)
		if !ok {
			continue
		}

		ridStr, ok := message.Values["rid"].(string)
		if !ok {
			continue
		}

		// Skip updates this node broadcast itself.
		if ridStr == b.localReplica.String() {
			continue
		}

		decoder, err := crdtpubsub.GetEncoderDecoder(crdtpubsub.EncodingFormat(formatStr))
		if err != nil {
			continue
		}

		update, err := decoder.Decode([]byte(data))
		if err != nil {
			continue
		}

		return update, nil
	}
}

// Close shuts down the broadcaster. The Redis client is managed by the
// caller and stays open.
func (b *RedisStreamsBroadcaster) Close() error {
	return nil
}

// SetMaxLen sets the maximum stream length.
func (b *RedisStreamsBroadcaster) SetMaxLen(maxLen int64) {
	b.maxLen = maxLen
}
