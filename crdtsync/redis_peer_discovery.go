package crdtsync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisPeerDiscovery is a PeerDiscovery implementation using Redis.
// Peers register themselves under a TTL key and refresh it with a
// heartbeat, so crashed peers drop out of discovery on their own.
type RedisPeerDiscovery struct {
	// client is the Redis client.
	client *redis.Client

	// keyPrefix is the Redis key prefix.
	keyPrefix string

	// peerID is this node's peer ID.
	peerID string

	// ttl is the registration TTL.
	ttl time.Duration

	// heartbeatInterval is the registration refresh interval.
	heartbeatInterval time.Duration

	// logger is used for heartbeat errors.
	logger *zap.Logger

	// ctx is the discovery context.
	ctx context.Context

	// cancel is the context cancel function.
	cancel context.CancelFunc

	// running indicates whether discovery has been started.
	running bool
}

// NewRedisPeerDiscovery creates a new Redis peer discovery.
func NewRedisPeerDiscovery(client *redis.Client, keyPrefix string, peerID string, logger *zap.Logger) *RedisPeerDiscovery {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPeerDiscovery{
		client:            client,
		keyPrefix:         keyPrefix,
		peerID:            peerID,
		ttl:               time.Minute * 5,
		heartbeatInterval: time.Minute,
		logger:            logger,
	}
}

// Start registers this node and begins the heartbeat.
func (pd *RedisPeerDiscovery) Start(ctx context.Context) error {
	if pd.running {
		return fmt.Errorf("peer discovery is already running")
	}

	pd.ctx, pd.cancel = context.WithCancel(ctx)

	if err := pd.RegisterPeer(pd.ctx, pd.peerID); err != nil {
		return fmt.Errorf("failed to register self: %w", err)
	}

	go pd.heartbeat()

	pd.running = true
	return nil
}

// peerKey returns the registration key for a peer.
func (pd *RedisPeerDiscovery) peerKey(peerID string) string {
	return fmt.Sprintf("%s:peers:%s", pd.keyPrefix, peerID)
}

// DiscoverPeers returns the IDs of the available peers, excluding this
// node.
func (pd *RedisPeerDiscovery) DiscoverPeers(ctx context.Context) ([]string, error) {
	pattern := fmt.Sprintf("%s:peers:*", pd.keyPrefix)
	keys, err := pd.client.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get peer keys: %w", err)
	}

	prefix := fmt.Sprintf("%s:peers:", pd.keyPrefix)
	peers := make([]string, 0, len(keys))
	for _, key := range keys {
		peerID := strings.TrimPrefix(key, prefix)
		if peerID != pd.peerID {
			peers = append(peers, peerID)
		}
	}

	return peers, nil
}

// RegisterPeer registers a peer.
func (pd *RedisPeerDiscovery) RegisterPeer(ctx context.Context, peerID string) error {
	now := time.Now().Unix()
	if err := pd.client.Set(ctx, pd.peerKey(peerID), now, pd.ttl).Err(); err != nil {
		return fmt.Errorf("failed to register peer: %w", err)
	}
	return nil
}

// UnregisterPeer removes a peer registration.
func (pd *RedisPeerDiscovery) UnregisterPeer(ctx context.Context, peerID string) error {
	if err := pd.client.Del(ctx, pd.peerKey(peerID)).Err(); err != nil {
		return fmt.Errorf("failed to unregister peer: %w", err)
	}
	return nil
}

// Close stops the heartbeat and removes this node's registration.
func (pd *RedisPeerDiscovery) Close() error {
	if !pd.running {
		return nil
	}

	if pd.cancel != nil {
		pd.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	if err := pd.UnregisterPeer(ctx, pd.peerID); err != nil {
		return fmt.Errorf("failed to unregister self: %w", err)
	}

	pd.running = false
	return nil
}

// heartbeat periodically refreshes this node's registration.
func (pd *RedisPeerDiscovery) heartbeat() {
	ticker := time.NewTicker(pd.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pd.ctx.Done():
			return
		case <-ticker.C:
			if err := pd.RegisterPeer(pd.ctx, pd.peerID); err != nil {
				pd.logger.Warn("failed to refresh peer registration",
					zap.String("peer", pd.peerID),
					zap.Error(err))
			}
		}
	}
}
