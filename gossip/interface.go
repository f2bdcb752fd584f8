package gossip

import (
	"context"

	"github.com/arqmesh/arqmesh/arq"
	"github.com/arqmesh/arqmesh/p2p"
)

//go:generate mockgen -package=gossip -destination=./mocks_test.go -source=./interface.go

// TimedHashes is one time window's worth of op hashes within a scope.
type TimedHashes struct {
	Window TimeWindow
	Hashes []KeyBytes
	// NoData marks a window for which the arc is held but no hash data
	// is available locally, so the remote should send everything.
	NoData bool
}

// HashBatch is a size-limited result of an op hash query. A non-nil
// Cursor means the batch is partial and the next query should resume
// from that timestamp, which may itself be zero.
type HashBatch struct {
	Slices []TimedHashes
	Cursor *uint64
}

// OpStore is the query interface to the storage engine backing op
// lookups. The store itself, and the validation of what it holds, are
// external to this layer.
type OpStore interface {
	// QueryOpHashes returns the hashes of ops authored within the
	// window whose locations fall inside the scope, grouped by time
	// window, with at most limit hashes in total.
	QueryOpHashes(ctx context.Context, scope arq.ArqSet, window TimeWindow, limit int) (HashBatch, error)
	// QueryRegionSet returns the precomputed region digest summary
	// covering the scope.
	QueryRegionSet(ctx context.Context, scope arq.ArqSet) (RegionSet, error)
}

// RemoteNode is a gossip candidate returned by the peer directory.
type RemoteNode struct {
	Cert   p2p.Peer
	URL    string
	Agents []AgentInfo
}

// PeerDirectory is the query interface to the agent/peer store.
type PeerDirectory interface {
	// SelectPeer picks a remote node whose advertised coverage overlaps
	// the scope. A nil node without error is the normal "no candidate"
	// outcome.
	SelectPeer(ctx context.Context, scope arq.ArqSet) (*RemoteNode, error)
	// QueryAgents returns the known agent records whose arcs fall
	// within the scope.
	QueryAgents(ctx context.Context, scope arq.ArqSet) ([]AgentInfo, error)
	// UpsertAgents ingests agent records learned from the peer.
	UpsertAgents(ctx context.Context, from p2p.Peer, agents []AgentInfo) error
}
