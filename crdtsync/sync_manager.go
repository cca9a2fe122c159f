package crdtsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"textsync/collab"
	"textsync/crdtop"
)

// syncManagerImpl is the SyncManager implementation.
type syncManagerImpl struct {
	// engine is the engine being synchronized.
	engine *collab.Engine

	// broadcaster delivers updates to and from other nodes.
	broadcaster Broadcaster

	// syncer performs state vector exchange.
	syncer Syncer

	// peerDiscovery finds other nodes.
	peerDiscovery PeerDiscovery

	// store is the update log.
	store UpdateStore

	// stateVector tracks the observed updates.
	stateVector *StateVector

	// logger is the sync manager logger.
	logger *zap.Logger

	// syncInterval is the periodic sync interval.
	syncInterval time.Duration

	// ctx is the sync manager context.
	ctx context.Context

	// cancel is the context cancel function.
	cancel context.CancelFunc

	// mutex protects the running state.
	mutex sync.RWMutex

	// running indicates whether the sync manager has been started.
	running bool
}

// ManagerOption configures a sync manager.
type ManagerOption func(*syncManagerImpl)

// WithSyncInterval sets the periodic sync interval.
func WithSyncInterval(interval time.Duration) ManagerOption {
	return func(sm *syncManagerImpl) {
		sm.syncInterval = interval
	}
}

// WithLogger sets the sync manager logger.
func WithLogger(logger *zap.Logger) ManagerOption {
	return func(sm *syncManagerImpl) {
		sm.logger = logger
	}
}

// NewSyncManager creates a new sync manager.
func NewSyncManager(
	engine *collab.Engine,
	broadcaster Broadcaster,
	syncer Syncer,
	peerDiscovery PeerDiscovery,
	store UpdateStore,
	opts ...ManagerOption,
) SyncManager {
	return newSyncManager(engine, broadcaster, syncer, peerDiscovery, store, opts...)
}

func newSyncManager(
	engine *collab.Engine,
	broadcaster Broadcaster,
	syncer Syncer,
	peerDiscovery PeerDiscovery,
	store UpdateStore,
	opts ...ManagerOption,
) *syncManagerImpl {
	sm := &syncManagerImpl{
		engine:        engine,
		broadcaster:   broadcaster,
		syncer:        syncer,
		peerDiscovery: peerDiscovery,
		store:         store,
		stateVector:   NewStateVectorFromMap(engine.Vector()),
		logger:        zap.NewNop(),
		syncInterval:  time.Minute,
	}
	for _, opt := range opts {
		opt(sm)
	}
	return sm
}

// Start begins listening for broadcasts and periodically syncing with
// discovered peers.
func (sm *syncManagerImpl) Start(ctx context.Context) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if sm.running {
		return fmt.Errorf("sync manager is already running")
	}

	sm.ctx, sm.cancel = context.WithCancel(ctx)

	if sm.syncer != nil {
		if err := sm.syncer.Start(sm.ctx); err != nil {
			sm.cancel()
			return fmt.Errorf("failed to start syncer: %w", err)
		}
	}

	go sm.listenForBroadcasts()
	go sm.periodicSync()

	sm.running = true
	sm.logger.Info("sync manager started",
		zap.String("replica", sm.engine.Replica().String()))
	return nil
}

// Stop halts the sync manager.
func (sm *syncManagerImpl) Stop() error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if !sm.running {
		return nil
	}

	if sm.cancel != nil {
		sm.cancel()
	}

	sm.running = false
	sm.logger.Info("sync manager stopped")
	return nil
}

// Insert applies a local insert and broadcasts it.
func (sm *syncManagerImpl) Insert(ctx context.Context, offset int, text string) error {
	op, err := sm.engine.LocalInsert(offset, text)
	if err != nil {
		return err
	}
	return sm.publish(ctx, op)
}

// Delete applies a local delete and broadcasts it.
func (sm *syncManagerImpl) Delete(ctx context.Context, start, end int) error {
	op, err := sm.engine.LocalDelete(start, end)
	if err != nil {
		return err
	}
	return sm.publish(ctx, op)
}

// publish records a locally applied operation and broadcasts it.
func (sm *syncManagerImpl) publish(ctx context.Context, op crdtop.Operation) error {
	sm.stateVector.Update(op.GetID(), op.Span())

	update := crdtop.NewUpdate(op.GetID())
	update.AddOperation(op)

	if err := sm.store.StoreUpdate(update); err != nil {
		return fmt.Errorf("failed to store update: %w", err)
	}

	if err := sm.broadcaster.Broadcast(ctx, update); err != nil {
		return fmt.Errorf("failed to broadcast update: %w", err)
	}

	return nil
}

// applyRemoteUpdate applies an update received from another node.
func (sm *syncManagerImpl) applyRemoteUpdate(ctx context.Context, update *crdtop.Update) error {
	if err := sm.engine.ReceiveUpdate(update); err != nil {
		return fmt.Errorf("failed to apply update: %w", err)
	}

	for _, op := range update.Operations() {
		sm.stateVector.Update(op.GetID(), op.Span())
	}

	if err := sm.store.StoreUpdate(update); err != nil {
		return fmt.Errorf("failed to store update: %w", err)
	}

	return nil
}

// SyncWithPeer exchanges state with a specific peer.
func (sm *syncManagerImpl) SyncWithPeer(ctx context.Context, peerID string) error {
	if sm.syncer == nil {
		return fmt.Errorf("syncer is not available")
	}
	return sm.syncer.Sync(ctx, peerID)
}

// SyncWithAllPeers exchanges state with every discovered peer.
func (sm *syncManagerImpl) SyncWithAllPeers(ctx context.Context) error {
	if sm.peerDiscovery == nil {
		return fmt.Errorf("peer discovery is not available")
	}

	peers, err := sm.peerDiscovery.DiscoverPeers(ctx)
	if err != nil {
		return fmt.Errorf("failed to discover peers: %w", err)
	}

	if len(peers) == 0 {
		return nil
	}

	failed := 0
	for _, peerID := range peers {
		if err := sm.SyncWithPeer(ctx, peerID); err != nil {
			failed++
			sm.logger.Warn("failed to sync with peer",
				zap.String("peer", peerID),
				zap.Error(err))
		}
	}

	if failed > 0 {
		return fmt.Errorf("failed to sync with %d of %d peers", failed, len(peers))
	}

	return nil
}

// Engine returns the engine being synchronized.
func (sm *syncManagerImpl) Engine() *collab.Engine {
	return sm.engine
}

// StateVector returns the current state vector.
func (sm *syncManagerImpl) StateVector() map[string]uint64 {
	return sm.stateVector.Get()
}

// PeerDiscovery returns the peer discovery service.
func (sm *syncManagerImpl) PeerDiscovery() PeerDiscovery {
	return sm.peerDiscovery
}

// listenForBroadcasts receives broadcast updates and applies them.
func (sm *syncManagerImpl) listenForBroadcasts() {
	for {
		select {
		case <-sm.ctx.Done():
			return
		default:
			update, err := sm.broadcaster.Next(sm.ctx)
			if err != nil {
				if sm.ctx.Err() != nil {
					return
				}
				sm.logger.Warn("failed to receive broadcast", zap.Error(err))
				continue
			}

			if err := sm.applyRemoteUpdate(sm.ctx, update); err != nil {
				sm.logger.Warn("failed to apply broadcast update",
					zap.String("update", update.ID().String()),
					zap.Error(err))
			}
		}
	}
}

// periodicSync syncs with discovered peers on a fixed interval.
func (sm *syncManagerImpl) periodicSync() {
	if sm.peerDiscovery == nil || sm.syncer == nil {
		return
	}

	ticker := time.NewTicker(sm.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sm.ctx.Done():
			return
		case <-ticker.C:
			if err := sm.SyncWithAllPeers(sm.ctx); err != nil {
				sm.logger.Warn("periodic sync failed", zap.Error(err))
			}
		}
	}
}
