// Package crdtsync connects collab engines to each other: updates are
// broadcast as they happen and state vectors are exchanged to catch up
// peers that missed broadcasts. In-memory and Redis backends are
// provided for every part.
package crdtsync

import (
	"context"

	"textsync/collab"
	"textsync/common"
	"textsync/crdtop"
)

// Broadcaster delivers updates between nodes.
type Broadcaster interface {
	// Broadcast sends an update to all other nodes.
	Broadcast(ctx context.Context, update *crdtop.Update) error

	// Next receives the next broadcast update from another node.
	Next(ctx context.Context) (*crdtop.Update, error)

	// Close shuts down the broadcaster.
	Close() error
}

// Syncer performs state vector exchange with specific peers.
type Syncer interface {
	// Start begins listening for sync requests from peers.
	Start(ctx context.Context) error

	// Sync exchanges state with the given peer: the peer receives our
	// state vector and answers with the updates we are missing.
	Sync(ctx context.Context, peerID string) error

	// Close shuts down the syncer.
	Close() error
}

// PeerDiscovery finds the other nodes participating in a document.
type PeerDiscovery interface {
	// DiscoverPeers returns the IDs of the available peers.
	DiscoverPeers(ctx context.Context) ([]string, error)

	// RegisterPeer registers a peer.
	RegisterPeer(ctx context.Context, peerID string) error

	// UnregisterPeer removes a peer registration.
	UnregisterPeer(ctx context.Context, peerID string) error

	// Close shuts down the discovery service.
	Close() error
}

// UpdateStore is a durable log of updates, queryable by state vector.
type UpdateStore interface {
	// StoreUpdate stores an update. Storing the same update twice is a
	// no-op.
	StoreUpdate(update *crdtop.Update) error

	// MissingUpdates returns the stored updates not covered by the
	// given state vector, per replica in seq order.
	MissingUpdates(stateVector map[string]uint64) ([]*crdtop.Update, error)

	// GetUpdate returns the update with the given ID.
	GetUpdate(id common.ItemID) (*crdtop.Update, error)

	// Close shuts down the store.
	Close() error
}

// SyncManager keeps one engine in sync with its peers.
type SyncManager interface {
	// Start begins listening for broadcasts and periodically syncing
	// with discovered peers.
	Start(ctx context.Context) error

	// Stop halts the sync manager.
	Stop() error

	// Insert applies a local insert and broadcasts it.
	Insert(ctx context.Context, offset int, text string) error

	// Delete applies a local delete and broadcasts it.
	Delete(ctx context.Context, start, end int) error

	// SyncWithPeer exchanges state with a specific peer.
	SyncWithPeer(ctx context.Context, peerID string) error

	// SyncWithAllPeers exchanges state with every discovered peer.
	SyncWithAllPeers(ctx context.Context) error

	// Engine returns the engine being synchronized.
	Engine() *collab.Engine

	// StateVector returns the current state vector.
	StateVector() map[string]uint64

	// PeerDiscovery returns the peer discovery service.
	PeerDiscovery() PeerDiscovery
}
