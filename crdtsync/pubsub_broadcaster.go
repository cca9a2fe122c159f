package crdtsync

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"textsync/common"
	"textsync/crdtop"
	"textsync/crdtpubsub"
)

// PubSubBroadcaster is a Broadcaster implementation on top of a
// PubSub. Updates from the local replica are skipped on receive.
type PubSubBroadcaster struct {
	// pubsub is the underlying PubSub instance.
	pubsub crdtpubsub.PubSub

	// topic is the topic updates are broadcast on.
	topic string

	// format is the update encoding format.
	format crdtpubsub.EncodingFormat

	// localReplica is the local replica ID.
	localReplica common.ReplicaID

	// updates buffers received updates for Next.
	updates chan *crdtop.Update

	// cancel tears down the subscription.
	cancel context.CancelFunc
}

// NewPubSubBroadcaster creates a broadcaster and subscribes it to the
// topic. Received updates are buffered until Next drains them.
func NewPubSubBroadcaster(pubsub crdtpubsub.PubSub, topic string, format crdtpubsub.EncodingFormat, replica common.ReplicaID) (*PubSubBroadcaster, error) {
	ctx, cancel := context.WithCancel(context.Background())
	b := &PubSubBroadcaster{
		pubsub:       pubsub,
		topic:        topic,
		format:       format,
		localReplica: replica,
		updates:      make(chan *crdtop.Update, 64),
		cancel:       cancel,
	}

	subscriberID := fmt.Sprintf("broadcaster-%s", replica.String())
	err := pubsub.Subscribe(ctx, topic, subscriberID, func(ctx context.Context, topic string, data []byte, format crdtpubsub.EncodingFormat) error {
		decoder, err := crdtpubsub.GetEncoderDecoder(format)
		if err != nil {
			return fmt.Errorf("failed to get decoder: %w", err)
		}

		update, err := decoder.Decode(data)
		if err != nil {
			return fmt.Errorf("failed to decode update: %w", err)
		}

		// Skip updates this node broadcast itself.
		if update.ID().Replica.Compare(b.localReplica) == 0 {
			return nil
		}

		select {
		case b.updates <- update:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	return b, nil
}

// Broadcast sends an update to all other nodes.
func (b *PubSubBroadcaster) Broadcast(ctx context.Context, update *crdtop.Update) error {
	return b.pubsub.Publish(ctx, b.topic, update, b.format)
}

// Next receives the next broadcast update from another node.
func (b *PubSubBroadcaster) Next(ctx context.Context) (*crdtop.Update, error) {
	select {
	case update := <-b.updates:
		return update, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts down the broadcaster.
func (b *PubSubBroadcaster) Close() error {
	b.cancel()
	return nil
}

// Sync message types exchanged between peers.
const (
	syncMessageStateVector = "state_vector"
	syncMessageUpdates     = "updates"
)

// SyncMessage is the envelope for peer-to-peer sync traffic.
type SyncMessage struct {
	// Type is the message type.
	Type string `json:"type"`

	// PeerID is the ID of the peer that sent the message.
	PeerID string `json:"peer_id"`

	// StateVector is the sender's state vector.
	StateVector map[string]uint64 `json:"state_vector,omitempty"`

	// Updates carries the updates the receiver is missing.
	Updates []*crdtop.Update `json:"updates,omitempty"`
}

// ApplyFunc applies a remote update to the local document.
type ApplyFunc func(ctx context.Context, update *crdtop.Update) error

// PubSubSyncer is a Syncer implementation on top of a PubSub. Each
// peer listens on its own sync topic; Sync publishes the local state
// vector there and the peer answers with the missing updates. The
// answer carries the peer's state vector too, so one Sync call brings
// both sides up to date.
type PubSubSyncer struct {
	// pubsub is the underlying PubSub instance.
	pubsub crdtpubsub.PubSub

	// syncTopic is the topic prefix for sync traffic.
	syncTopic string

	// peerID is this node's peer ID.
	peerID string

	// vector returns the local state vector.
	vector func() map[string]uint64

	// store is the update log answering peer requests.
	store UpdateStore

	// apply applies updates received from peers.
	apply ApplyFunc

	// format is the message encoding format.
	format crdtpubsub.EncodingFormat

	// logger is used for sync errors.
	logger *zap.Logger
}

// NewPubSubSyncer creates a new PubSub syncer.
func NewPubSubSyncer(
	pubsub crdtpubsub.PubSub,
	syncTopic string,
	peerID string,
	vector func() map[string]uint64,
	store UpdateStore,
	apply ApplyFunc,
	format crdtpubsub.EncodingFormat,
	logger *zap.Logger,
) *PubSubSyncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PubSubSyncer{
		pubsub:    pubsub,
		syncTopic: syncTopic,
		peerID:    peerID,
		vector:    vector,
		store:     store,
		apply:     apply,
		format:    format,
		logger:    logger,
	}
}

// inboxTopic returns the sync topic a peer listens on.
func (s *PubSubSyncer) inboxTopic(peerID string) string {
	return fmt.Sprintf("%s.%s", s.syncTopic, peerID)
}

// Start begins listening for sync requests from peers.
func (s *PubSubSyncer) Start(ctx context.Context) error {
	subscriberID := fmt.Sprintf("syncer-%s", s.peerID)
	return s.pubsub.Subscribe(ctx, s.inboxTopic(s.peerID), subscriberID, s.handleMessage)
}

// Sync publishes the local state vector to the given peer.
func (s *PubSubSyncer) Sync(ctx context.Context, peerID string) error {
	msg := SyncMessage{
		Type:        syncMessageStateVector,
		PeerID:      s.peerID,
		StateVector: s.vector(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal state vector message: %w", err)
	}

	if err := s.pubsub.PublishRaw(ctx, s.inboxTopic(peerID), data, s.format); err != nil {
		return fmt.Errorf("failed to publish state vector message: %w", err)
	}

	return nil
}

// handleMessage dispatches one inbound sync message.
func (s *PubSubSyncer) handleMessage(ctx context.Context, topic string, data []byte, format crdtpubsub.EncodingFormat) error {
	var msg SyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("failed to unmarshal sync message: %w", err)
	}

	if msg.PeerID == s.peerID {
		return nil
	}

	switch msg.Type {
	case syncMessageStateVector:
		return s.handleStateVector(ctx, msg)
	case syncMessageUpdates:
		return s.handleUpdates(ctx, msg)
	default:
		s.logger.Warn("unknown sync message type",
			zap.String("type", msg.Type),
			zap.String("peer", msg.PeerID))
		return nil
	}
}

// handleStateVector answers a peer's state vector with the updates it
// is missing. The reply includes the local state vector so the peer
// can send back whatever this node is missing.
func (s *PubSubSyncer) handleStateVector(ctx context.Context, msg SyncMessage) error {
	missing, err := s.store.MissingUpdates(msg.StateVector)
	if err != nil {
		return fmt.Errorf("failed to collect missing updates: %w", err)
	}

	reply := SyncMessage{
		Type:        syncMessageUpdates,
		PeerID:      s.peerID,
		StateVector: s.vector(),
		Updates:     missing,
	}

	data, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to marshal updates message: %w", err)
	}

	return s.pubsub.PublishRaw(ctx, s.inboxTopic(msg.PeerID), data, s.format)
}

// handleUpdates applies the updates a peer sent and, if the message
// carries the peer's state vector, sends back what the peer is still
// missing. That final message has no vector, which bounds the
// exchange.
func (s *PubSubSyncer) handleUpdates(ctx context.Context, msg SyncMessage) error {
	for _, update := range msg.Updates {
		if err := s.apply(ctx, update); err != nil {
			s.logger.Warn("failed to apply synced update",
				zap.String("update", update.ID().String()),
				zap.String("peer", msg.PeerID),
				zap.Error(err))
		}
	}

	if msg.StateVector == nil {
		return nil
	}

	missing, err := s.store.MissingUpdates(msg.StateVector)
	if err != nil {
		return fmt.Errorf("failed to collect missing updates: %w", err)
	}
	if len(missing) == 0 {
		return nil
	}

	reply := SyncMessage{
		Type:    syncMessageUpdates,
		PeerID:  s.peerID,
		Updates: missing,
	}

	data, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to marshal updates message: %w", err)
	}

	return s.pubsub.PublishRaw(ctx, s.inboxTopic(msg.PeerID), data, s.format)
}

// Close shuts down the syncer.
func (s *PubSubSyncer) Close() error {
	return nil
}
