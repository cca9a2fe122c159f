package crdtsync

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"textsync/common"
	"textsync/crdtop"
	"textsync/crdtpubsub"
)

// RedisStreamsUpdateStore is an UpdateStore backed by a Redis stream.
// The stream gives the update log durability across restarts; entries
// past maxLen are trimmed.
type RedisStreamsUpdateStore struct {
	// client is the Redis client.
	client *redis.Client

	// streamKey is the stream the updates are stored in.
	streamKey string

	// format is the update encoding format.
	format crdtpubsub.EncodingFormat

	// maxLen is the maximum stream length before old entries are
	// trimmed.
	maxLen int64

	// mutex protects the cache.
	mutex sync.RWMutex

	// cache holds recently accessed updates by ID string.
	cache map[string]*crdtop.Update
}

// NewRedisStreamsUpdateStore creates a new Redis stream update store.
func NewRedisStreamsUpdateStore(
	client *redis.Client,
	streamKey string,
	format crdtpubsub.EncodingFormat,
) (*RedisStreamsUpdateStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}

	store := &RedisStreamsUpdateStore{
		client:    client,
		streamKey: streamKey,
		format:    format,
		maxLen:    10000,
		cache:     make(map[string]*crdtop.Update),
	}

	if err := store.initialize(context.Background()); err != nil {
		return nil, err
	}

	return store, nil
}

// initialize creates the stream if it does not exist yet.
func (s *RedisStreamsUpdateStore) initialize(ctx context.Context) error {
	exists, err := s.client.Exists(ctx, s.streamKey).Result()
	if err != nil {
		return fmt.Errorf("failed to check if stream exists: %w", err)
	}

	if exists == 0 {
		_, err = s.client.XAdd(ctx, &redis.XAddArgs{
			Stream: s.streamKey,
			ID:     "*",
			Values: map[string]interface{}{
				"init": "true",
			},
		}).Result()
		if err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
	}

	return nil
}

// StoreUpdate stores an update.
func (s *RedisStreamsUpdateStore) StoreUpdate(update *crdtop.Update) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	encoder, err := crdtpubsub.GetEncoderDecoder(s.format)
	if err != nil {
		return fmt.Errorf("failed to get encoder: %w", err)
	}

	data, err := encoder.Encode(update)
	if err != nil {
		return fmt.Errorf("failed to encode update: %w", err)
	}

	updateID := update.ID().String()

	values := map[string]interface{}{
		"id":        updateID,
		"data":      data,
		"format":    string(s.format),
		"timestamp": time.Now().UnixNano(),
		"rid":       update.ID().Replica.String(),
		"last_seq":  strconv.FormatUint(update.LastID().Seq, 10),
	}

	ctx := context.Background()
	_, err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream:       s.streamKey,
		MaxLenApprox: s.maxLen,
		ID:           "*",
		Values:       values,
	}).Result()

	if err != nil {
		return fmt.Errorf("failed to add update to stream: %w", err)
	}

	s.cache[updateID] = update.Clone()

	return nil
}

// MissingUpdates returns the stored updates not covered by the given
// state vector.
func (s *RedisStreamsUpdateStore) MissingUpdates(stateVector map[string]uint64) ([]*crdtop.Update, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	ctx := context.Background()
	messages, err := s.client.XRange(ctx, s.streamKey, "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read updates from stream: %w", err)
	}

	var updates []*crdtop.Update
	for _, message := range messages {
		if _, ok := message.Values["init"]; ok {
			continue
		}

		rid, ok := message.Values["rid"].(string)
		if !ok {
			continue
		}

		lastSeqStr, ok := message.Values["last_seq"].(string)
		if !ok {
			continue
		}
		lastSeq, err := strconv.ParseUint(lastSeqStr, 10, 64)
		if err != nil {
			continue
		}

		if lastSeq <= stateVector[rid] {
			// Already covered by the peer.
			continue
		}

		update, err := s.decodeMessage(message)
		if err != nil {
			continue
		}
		updates = append(updates, update)
	}

	return updates, nil
}

// GetUpdate returns the update with the given ID.
func (s *RedisStreamsUpdateStore) GetUpdate(id common.ItemID) (*crdtop.Update, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	updateID := id.String()

	if update, ok := s.cache[updateID]; ok {
		return update.Clone(), nil
	}

	ctx := context.Background()
	messages, err := s.client.XRange(ctx, s.streamKey, "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read updates from stream: %w", err)
	}

	for _, message := range messages {
		if _, ok := message.Values["init"]; ok {
			continue
		}

		msgID, ok := message.Values["id"].(string)
		if !ok || msgID != updateID {
			continue
		}

		update, err := s.decodeMessage(message)
		if err != nil {
			continue
		}

		s.cache[updateID] = update
		return update.Clone(), nil
	}

	return nil, common.ErrNotFound{Message: "update " + updateID}
}

// decodeMessage decodes a stream entry back into an update.
func (s *RedisStreamsUpdateStore) decodeMessage(message redis.XMessage) (*crdtop.Update, error) {
	data, ok := message.Values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("message %s has no data field", message.ID)
	}

	formatStr, ok := message.Values["format"].(string)
	if !ok {
		return nil, fmt.Errorf("message %s has no format field", message.ID)
	}

	decoder, err := crdtpubsub.GetEncoderDecoder(crdtpubsub.EncodingFormat(formatStr))
	if err != nil {
		return nil, err
	}

	return decoder.Decode([]byte(data))
}

// Close shuts down the store. The Redis client is managed by the
// caller and stays open.
func (s *RedisStreamsUpdateStore) Close() error {
	return nil
}

// SetMaxLen sets the maximum stream length.
func (s *RedisStreamsUpdateStore) SetMaxLen(maxLen int64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.maxLen = maxLen
}

// ClearCache drops the in-memory update cache.
func (s *RedisStreamsUpdateStore) ClearCache() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.cache = make(map[string]*crdtop.Update)
}
