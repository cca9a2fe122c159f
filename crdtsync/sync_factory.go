package crdtsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"textsync/collab"
	"textsync/crdtpubsub"
)

// SyncType selects the transport backing a sync manager.
type SyncType string

const (
	// SyncTypeMemory uses in-memory pub/sub, for tests and single
	// process setups.
	SyncTypeMemory SyncType = "memory"

	// SyncTypeRedisPubSub uses Redis pub/sub channels.
	SyncTypeRedisPubSub SyncType = "redis_pubsub"

	// SyncTypeRedisStreams uses Redis streams, which keep updates for
	// nodes that reconnect later.
	SyncTypeRedisStreams SyncType = "redis_streams"

	// SyncTypeCustom uses caller-supplied components.
	SyncTypeCustom SyncType = "custom"
)

// SyncOptions configures CreateSyncManager.
type SyncOptions struct {
	// SyncType is the transport type.
	SyncType SyncType

	// RedisAddr is the Redis server address.
	RedisAddr string

	// RedisPassword is the Redis server password.
	RedisPassword string

	// RedisDB is the Redis database number.
	RedisDB int

	// EncodingFormat is the update encoding format.
	EncodingFormat crdtpubsub.EncodingFormat

	// SyncInterval is the periodic sync interval.
	SyncInterval time.Duration

	// MaxStreamLength is the maximum Redis stream length.
	MaxStreamLength int64

	// Logger is the sync manager logger.
	Logger *zap.Logger

	// MemoryPubSub is the pub/sub instance to use for the memory sync
	// type. Nodes that should see each other must share one.
	MemoryPubSub crdtpubsub.PubSub

	// MemoryPeers is the peer discovery to use for the memory sync
	// type. Nodes that should see each other must share one.
	MemoryPeers *StaticPeerDiscovery

	// CustomBroadcaster is the broadcaster for the custom sync type.
	CustomBroadcaster Broadcaster

	// CustomUpdateStore is the update store for the custom sync type.
	CustomUpdateStore UpdateStore

	// CustomPeerDiscovery is the peer discovery for the custom sync
	// type.
	CustomPeerDiscovery PeerDiscovery
}

// DefaultSyncOptions returns the default sync options.
func DefaultSyncOptions() *SyncOptions {
	return &SyncOptions{
		SyncType:        SyncTypeMemory,
		RedisAddr:       "localhost:6379",
		RedisPassword:   "",
		RedisDB:         0,
		EncodingFormat:  crdtpubsub.EncodingFormatJSON,
		SyncInterval:    time.Minute,
		MaxStreamLength: 10000,
		Logger:          zap.NewNop(),
	}
}

// CreateSyncManager builds a sync manager for the engine according to
// the options.
func CreateSyncManager(
	ctx context.Context,
	engine *collab.Engine,
	documentID string,
	options *SyncOptions,
) (SyncManager, error) {
	if options == nil {
		options = DefaultSyncOptions()
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	peerID := engine.Replica().String()

	var (
		broadcaster   Broadcaster
		store         UpdateStore
		peerDiscovery PeerDiscovery
		syncPubSub    crdtpubsub.PubSub
		err           error
	)

	switch options.SyncType {
	case SyncTypeMemory:
		pubsub := options.MemoryPubSub
		if pubsub == nil {
			pubsub, err = crdtpubsub.NewMemoryPubSub(nil)
			if err != nil {
				return nil, fmt.Errorf("failed to create memory PubSub: %w", err)
			}
		}

		broadcaster, err = NewPubSubBroadcaster(
			pubsub,
			fmt.Sprintf("%s-updates", documentID),
			options.EncodingFormat,
			engine.Replica(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create broadcaster: %w", err)
		}

		store = NewMemoryUpdateStore()

		if options.MemoryPeers != nil {
			peerDiscovery = options.MemoryPeers
		} else {
			peerDiscovery = NewStaticPeerDiscovery()
		}
		if err := peerDiscovery.RegisterPeer(ctx, peerID); err != nil {
			return nil, fmt.Errorf("failed to register peer: %w", err)
		}

		syncPubSub = pubsub

	case SyncTypeRedisPubSub:
		redisClient := redis.NewClient(&redis.Options{
			Addr:     options.RedisAddr,
			Password: options.RedisPassword,
			DB:       options.RedisDB,
		})

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}

		pubsubOptions := crdtpubsub.NewOptions()
		pubsubOptions.DefaultFormat = options.EncodingFormat
		pubsubOptions.Logger = logger
		pubsub, err := crdtpubsub.NewRedisPubSub(redisClient, pubsubOptions)
		if err != nil {
			redisClient.Close()
			return nil, fmt.Errorf("failed to create Redis PubSub: %w", err)
		}

		broadcaster, err = NewPubSubBroadcaster(
			pubsub,
			fmt.Sprintf("%s-updates", documentID),
			options.EncodingFormat,
			engine.Replica(),
		)
		if err != nil {
			pubsub.Close()
			return nil, fmt.Errorf("failed to create broadcaster: %w", err)
		}

		store = NewMemoryUpdateStore()

		discovery := NewRedisPeerDiscovery(redisClient, documentID, peerID, logger)
		if err := discovery.Start(ctx); err != nil {
			pubsub.Close()
			return nil, fmt.Errorf("failed to start peer discovery: %w", err)
		}
		peerDiscovery = discovery

		syncPubSub = pubsub

	case SyncTypeRedisStreams:
		redisClient := redis.NewClient(&redis.Options{
			Addr:     options.RedisAddr,
			Password: options.RedisPassword,
			DB:       options.RedisDB,
		})

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}

		broadcaster, err = NewRedisStreamsBroadcaster(
			redisClient,
			fmt.Sprintf("%s-updates-stream", documentID),
			options.EncodingFormat,
			engine.Replica(),
		)
		if err != nil {
			redisClient.Close()
			return nil, fmt.Errorf("failed to create Redis Streams broadcaster: %w", err)
		}

		streamStore, err := NewRedisStreamsUpdateStore(
			redisClient,
			fmt.Sprintf("%s-updates-store", documentID),
			options.EncodingFormat,
		)
		if err != nil {
			broadcaster.Close()
			redisClient.Close()
			return nil, fmt.Errorf("failed to create Redis Streams update store: %w", err)
		}
		if options.MaxStreamLength > 0 {
			streamStore.SetMaxLen(options.MaxStreamLength)
		}
		store = streamStore

		discovery := NewRedisPeerDiscovery(redisClient, documentID, peerID, logger)
		if err := discovery.Start(ctx); err != nil {
			broadcaster.Close()
			store.Close()
			redisClient.Close()
			return nil, fmt.Errorf("failed to start peer discovery: %w", err)
		}
		peerDiscovery = discovery

		pubsubOptions := crdtpubsub.NewOptions()
		pubsubOptions.DefaultFormat = options.EncodingFormat
		pubsubOptions.Logger = logger
		syncPubSub, err = crdtpubsub.NewRedisPubSub(redisClient, pubsubOptions)
		if err != nil {
			broadcaster.Close()
			store.Close()
			redisClient.Close()
			return nil, fmt.Errorf("failed to create Redis PubSub for sync: %w", err)
		}

	case SyncTypeCustom:
		if options.CustomBroadcaster == nil {
			return nil, fmt.Errorf("custom broadcaster is required for custom sync type")
		}
		if options.CustomUpdateStore == nil {
			return nil, fmt.Errorf("custom update store is required for custom sync type")
		}
		if options.CustomPeerDiscovery == nil {
			return nil, fmt.Errorf("custom peer discovery is required for custom sync type")
		}

		broadcaster = options.CustomBroadcaster
		store = options.CustomUpdateStore
		peerDiscovery = options.CustomPeerDiscovery

	default:
		return nil, fmt.Errorf("unsupported sync type: %s", options.SyncType)
	}

	sm := newSyncManager(engine, broadcaster, nil, peerDiscovery, store,
		WithSyncInterval(options.SyncInterval),
		WithLogger(logger))

	if syncPubSub != nil {
		sm.syncer = NewPubSubSyncer(
			syncPubSub,
			fmt.Sprintf("%s-sync", documentID),
			peerID,
			sm.stateVector.Get,
			store,
			sm.applyRemoteUpdate,
			options.EncodingFormat,
			logger,
		)
	}

	return sm, nil
}

// StaticPeerDiscovery is an in-memory PeerDiscovery. Nodes sharing an
// instance discover each other; there is no liveness tracking.
type StaticPeerDiscovery struct {
	mutex sync.RWMutex
	peers map[string]struct{}
}

// NewStaticPeerDiscovery creates an empty static peer discovery.
func NewStaticPeerDiscovery(peerIDs ...string) *StaticPeerDiscovery {
	peers := make(map[string]struct{}, len(peerIDs))
	for _, id := range peerIDs {
		peers[id] = struct{}{}
	}
	return &StaticPeerDiscovery{peers: peers}
}

// DiscoverPeers returns all registered peers.
func (d *StaticPeerDiscovery) DiscoverPeers(ctx context.Context) ([]string, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	peers := make([]string, 0, len(d.peers))
	for id := range d.peers {
		peers = append(peers, id)
	}
	return peers, nil
}

// RegisterPeer registers a peer.
func (d *StaticPeerDiscovery) RegisterPeer(ctx context.Context, peerID string) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.peers[peerID] = struct{}{}
	return nil
}

// UnregisterPeer removes a peer registration.
func (d *StaticPeerDiscovery) UnregisterPeer(ctx context.Context, peerID string) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	delete(d.peers, peerID)
	return nil
}

// Close shuts down the discovery service.
func (d *StaticPeerDiscovery) Close() error {
	return nil
}
