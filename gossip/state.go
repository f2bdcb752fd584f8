package gossip

import (
	"time"

	"github.com/arqmesh/arqmesh/arq"
	"github.com/arqmesh/arqmesh/p2p"
)

// Target records an outgoing initiate that has not yet become a round.
// At most one target exists at a time.
type Target struct {
	Cert p2p.Peer
	URL  string
	// TieBreak is the random id sent with the initiate, used to resolve
	// simultaneous-initiate races against the same peer.
	TieBreak uint32
	// WhenInitiated is the send time of the initiate. It is zeroed once
	// the remote accepts, so only unanswered initiates time out.
	WhenInitiated time.Time
	RemoteAgents  []AgentInfo
}

// RoundState is the per-peer state of one active gossip round.
type RoundState struct {
	// CommonArqSet is the intersection of both peers' coverage, at the
	// common quantization power. All blooms and regions of the round are
	// scoped to it.
	CommonArqSet arq.ArqSet
	// RegionSet is our own region summary for a historical round, kept
	// to diff against the remote's.
	RegionSet    *RegionSet
	RemoteAgents []AgentInfo
	// BloomBatchCursor resumes a size-capped op hash query. Nil means no
	// batch is pending; the pointed-to timestamp may legitimately be the
	// epoch.
	BloomBatchCursor *uint64
	// ExpectedOpBlooms counts our sent op blooms still awaiting a
	// MissingOpHashes answer.
	ExpectedOpBlooms uint32
	// RegionsQueued is set once our side has produced everything it will
	// send: immediately for recent rounds, and on queueing the region
	// diff for historical rounds.
	RegionsQueued bool
	// ReceivedAllIncomingOpBlooms is set by the remote's final op bloom.
	// Historical rounds exchange no op blooms and start with it set.
	ReceivedAllIncomingOpBlooms bool
	// PendingHistoricalData holds a historical round open until the
	// region data transfer is handed off.
	PendingHistoricalData bool
	CreatedAt             time.Time
	LastTouch             time.Time
}

// Finished reports whether the round has nothing left to exchange.
func (s *RoundState) Finished() bool {
	return s.RegionsQueued &&
		s.ExpectedOpBlooms == 0 &&
		s.BloomBatchCursor == nil &&
		s.ReceivedAllIncomingOpBlooms &&
		!s.PendingHistoricalData
}
