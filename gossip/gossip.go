package gossip

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/arqmesh/arqmesh/p2p"
	"github.com/arqmesh/arqmesh/spacetime"
)

// ShardedGossip runs the round protocol for one gossip type. It is
// message driven: the transport feeds inbound messages to Process and
// sends back whatever messages it returns, while a periodic TryInitiate
// opens new rounds. All exported methods are safe for concurrent use.
type ShardedGossip struct {
	logger    *zap.Logger
	clock     clockwork.Clock
	cfg       Config
	typ       Type
	topo      spacetime.Topology
	store     OpStore
	directory PeerDirectory
	tieBreak  func() uint32

	onComplete   func(p2p.Peer)
	onMissingOps func(p2p.Peer, []KeyBytes)
	onRegionDiff func(p2p.Peer, []Region)

	mu          sync.Mutex
	target      *Target
	rounds      map[p2p.Peer]*RoundState
	localAgents map[AgentID]AgentInfo
	// tombstones remembers recently closed rounds so that late messages
	// from them are dropped silently instead of being treated as
	// protocol errors. Eviction means the drop degrades to an error,
	// which the remote handles by closing its round.
	tombstones *lru.Cache[p2p.Peer, time.Time]
}

// Opt configures a ShardedGossip instance.
type Opt func(*ShardedGossip)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(g *ShardedGossip) {
		g.logger = logger
	}
}

// WithClock sets the clock used for timeouts and time windows.
func WithClock(clock clockwork.Clock) Opt {
	return func(g *ShardedGossip) {
		g.clock = clock
	}
}

// WithCompletionHandler registers a callback invoked after a round has
// run to completion, outside of any internal lock.
func WithCompletionHandler(f func(p2p.Peer)) Opt {
	return func(g *ShardedGossip) {
		g.onComplete = f
	}
}

// WithMissingOpsHandler registers a callback receiving the op hashes a
// remote reported us missing, for the fetch layer to retrieve.
func WithMissingOpsHandler(f func(p2p.Peer, []KeyBytes)) Opt {
	return func(g *ShardedGossip) {
		g.onMissingOps = f
	}
}

// WithRegionDiffHandler registers a callback receiving the regions
// whose data differs from a remote's, for the fetch layer to retrieve.
func WithRegionDiffHandler(f func(p2p.Peer, []Region)) Opt {
	return func(g *ShardedGossip) {
		g.onRegionDiff = f
	}
}

// withTieBreakSource overrides the tie-break id source in tests.
func withTieBreakSource(f func() uint32) Opt {
	return func(g *ShardedGossip) {
		g.tieBreak = f
	}
}

// New creates a sharded gossip instance of the given type.
func New(
	typ Type,
	topo spacetime.Topology,
	cfg Config,
	store OpStore,
	directory PeerDirectory,
	opts ...Opt,
) *ShardedGossip {
	g := &ShardedGossip{
		logger:      zap.NewNop(),
		clock:       clockwork.NewRealClock(),
		cfg:         cfg,
		typ:         typ,
		topo:        topo,
		store:       store,
		directory:   directory,
		tieBreak:    rand.Uint32,
		rounds:      make(map[p2p.Peer]*RoundState),
		localAgents: make(map[AgentID]AgentInfo),
	}
	for _, opt := range opts {
		opt(g)
	}
	size := cfg.TombstoneSize
	if size < 1 {
		size = DefaultConfig().TombstoneSize
	}
	// lru.New errors only on a non-positive size.
	g.tombstones, _ = lru.New[p2p.Peer, time.Time](size)
	return g
}

// AddLocalAgent registers a local agent whose coverage the instance
// gossips on behalf of.
func (g *ShardedGossip) AddLocalAgent(info AgentInfo) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.localAgents[info.Agent] = info
}

// RemoveLocalAgent unregisters a local agent.
func (g *ShardedGossip) RemoveLocalAgent(id AgentID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.localAgents, id)
}

// LocalAgents returns the registered local agents in stable order.
func (g *ShardedGossip) LocalAgents() []AgentInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.localAgentList()
}

func (g *ShardedGossip) localAgentList() []AgentInfo {
	agents := make([]AgentInfo, 0, len(g.localAgents))
	for _, info := range g.localAgents {
		agents = append(agents, info)
	}
	sort.Slice(agents, func(i, j int) bool {
		return string(agents[i].Agent[:]) < string(agents[j].Agent[:])
	})
	return agents
}

// RoundFor returns a snapshot presence check for an active round with
// the peer.
func (g *ShardedGossip) RoundFor(peer p2p.Peer) (RoundState, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.rounds[peer]
	if !ok {
		return RoundState{}, false
	}
	return *state, true
}

// ActiveRounds returns the peers with currently active rounds.
func (g *ShardedGossip) ActiveRounds() []p2p.Peer {
	g.mu.Lock()
	defer g.mu.Unlock()
	peers := make([]p2p.Peer, 0, len(g.rounds))
	for peer := range g.rounds {
		peers = append(peers, peer)
	}
	return peers
}

// Process handles one inbound message from a peer and returns the
// messages to send back on the same stream.
func (g *ShardedGossip) Process(ctx context.Context, from p2p.Peer, msg Message) ([]Message, error) {
	switch m := msg.(type) {
	case *Initiate:
		return g.incomingInitiate(ctx, from, m)
	case *Accept:
		return g.incomingAccept(ctx, from, m)
	case *AgentBloom:
		return g.incomingAgentBloom(ctx, from, m)
	case *MissingAgents:
		return g.incomingMissingAgents(ctx, from, m)
	case *OpBloom:
		return g.incomingOpBloom(ctx, from, m)
	case *MissingOpHashes:
		return g.incomingMissingOpHashes(ctx, from, m)
	case *OpRegions:
		return g.incomingOpRegions(ctx, from, m)
	case *AlreadyInProgress:
		g.clearTarget(from)
		return nil, nil
	case *NoAgents:
		g.logger.Debug("remote has no agents", zap.Stringer("peer", from))
		g.clearTarget(from)
		return nil, nil
	case *ProtocolError:
		g.logger.Warn("remote closed round",
			zap.Stringer("peer", from), zap.String("reason", m.Message))
		g.closeRound(from)
		roundErrors.WithLabelValues(g.typ.String()).Inc()
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected message %T", msg)
	}
}

// FinishPendingOpData marks the historical region transfer with the
// peer as handed off, allowing the round to complete.
func (g *ShardedGossip) FinishPendingOpData(peer p2p.Peer) {
	g.mu.Lock()
	state, ok := g.rounds[peer]
	if ok {
		state.PendingHistoricalData = false
	}
	completed := ok && g.completeIfFinishedLocked(peer, state)
	g.mu.Unlock()
	if completed {
		g.notifyComplete(peer)
	}
}

// clearTarget drops the outgoing initiate target if it points at peer.
func (g *ShardedGossip) clearTarget(peer p2p.Peer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.target != nil && g.target.Cert == peer {
		g.target = nil
	}
}

// closeRound tears down the round with the peer, if any, without
// counting it as completed.
func (g *ShardedGossip) closeRound(peer p2p.Peer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.target != nil && g.target.Cert == peer {
		g.target = nil
	}
	if _, ok := g.rounds[peer]; ok {
		delete(g.rounds, peer)
		g.tombstones.Add(peer, g.clock.Now())
		activeRounds.WithLabelValues(g.typ.String()).Set(float64(len(g.rounds)))
	}
}

// touchRound returns the round for the peer, refreshing its activity
// timestamp. The second result reports whether the peer is tombstoned,
// so callers can drop late messages silently.
func (g *ShardedGossip) touchRound(peer p2p.Peer) (*RoundState, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.rounds[peer]
	if !ok {
		_, tombstoned := g.tombstones.Get(peer)
		return nil, tombstoned
	}
	state.LastTouch = g.clock.Now()
	return state, false
}

// completeIfFinishedLocked removes and tombstones the round if it has
// nothing left to exchange. Callers must hold g.mu and invoke
// notifyComplete outside the lock when it returns true.
func (g *ShardedGossip) completeIfFinishedLocked(peer p2p.Peer, state *RoundState) bool {
	if !state.Finished() {
		return false
	}
	delete(g.rounds, peer)
	g.tombstones.Add(peer, g.clock.Now())
	roundsCompleted.WithLabelValues(g.typ.String()).Inc()
	activeRounds.WithLabelValues(g.typ.String()).Set(float64(len(g.rounds)))
	return true
}

func (g *ShardedGossip) notifyComplete(peer p2p.Peer) {
	g.logger.Debug("round completed",
		zap.Stringer("type", g.typ), zap.Stringer("peer", peer))
	if g.onComplete != nil {
		g.onComplete(peer)
	}
}

// expireStale drops the unanswered initiate target and idle rounds that
// have outlived the round timeout.
func (g *ShardedGossip) expireStale() {
	now := g.clock.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.target != nil && !g.target.WhenInitiated.IsZero() &&
		now.Sub(g.target.WhenInitiated) > g.cfg.RoundTimeout {
		g.logger.Debug("initiate timed out", zap.Stringer("peer", g.target.Cert))
		g.target = nil
		roundsTimedOut.WithLabelValues(g.typ.String()).Inc()
	}
	for peer, state := range g.rounds {
		if now.Sub(state.LastTouch) > g.cfg.RoundTimeout {
			g.logger.Debug("round timed out", zap.Stringer("peer", peer))
			delete(g.rounds, peer)
			g.tombstones.Add(peer, now)
			roundsTimedOut.WithLabelValues(g.typ.String()).Inc()
		}
	}
	activeRounds.WithLabelValues(g.typ.String()).Set(float64(len(g.rounds)))
}
