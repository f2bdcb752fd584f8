package gossip

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arqmesh/arqmesh/arq"
	"github.com/arqmesh/arqmesh/p2p"
)

// Outgoing is a batch of messages TryInitiate wants sent to a peer.
type Outgoing struct {
	To   p2p.Peer
	URL  string
	Msgs []Message
}

// TryInitiate attempts to open a new gossip round. It first expires the
// stale target and idle rounds, then, if no initiate is already in
// flight, picks a peer whose coverage overlaps ours and returns the
// Initiate to send. A nil result without error means there is nothing
// to do right now.
func (g *ShardedGossip) TryInitiate(ctx context.Context) (*Outgoing, error) {
	g.expireStale()

	g.mu.Lock()
	hasTarget := g.target != nil
	agents := g.localAgentList()
	g.mu.Unlock()
	if hasTarget || len(agents) == 0 {
		return nil, nil
	}

	bounds, scope := g.localScopeFrom(agents)
	node, err := g.directory.SelectPeer(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("select peer: %w", err)
	}
	if node == nil {
		return nil, nil
	}

	id := g.tieBreak()
	g.mu.Lock()
	if g.target != nil || g.rounds[node.Cert] != nil {
		// Lost a race with a concurrent initiate or an incoming round.
		g.mu.Unlock()
		return nil, nil
	}
	g.target = &Target{
		Cert:          node.Cert,
		URL:           node.URL,
		TieBreak:      id,
		WhenInitiated: g.clock.Now(),
		RemoteAgents:  node.Agents,
	}
	g.mu.Unlock()

	roundsInitiated.WithLabelValues(g.typ.String()).Inc()
	g.logger.Debug("initiating round",
		zap.Stringer("type", g.typ), zap.Stringer("peer", node.Cert))
	return &Outgoing{
		To:  node.Cert,
		URL: node.URL,
		Msgs: []Message{&Initiate{
			ArqBounds: bounds,
			TieBreak:  id,
			Agents:    agents,
		}},
	}, nil
}

func (g *ShardedGossip) localScopeFrom(agents []AgentInfo) ([]arq.ArqBounds, arq.ArqSet) {
	bounds := make([]arq.ArqBounds, 0, len(agents))
	for _, info := range agents {
		bounds = append(bounds, info.Arq)
	}
	return bounds, arq.NewArqSet(g.topo, bounds...)
}

// incomingInitiate handles a remote's attempt to open a round with us.
func (g *ShardedGossip) incomingInitiate(ctx context.Context, from p2p.Peer, m *Initiate) ([]Message, error) {
	g.mu.Lock()
	_, inProgress := g.rounds[from]
	var ourTieBreak *uint32
	if g.target != nil && g.target.Cert == from {
		ourTieBreak = &g.target.TieBreak
	}
	agents := g.localAgentList()
	g.mu.Unlock()

	if inProgress {
		// Keep the existing round untouched; the remote's initiate is
		// stale or raced a round we already accepted.
		return []Message{&AlreadyInProgress{}}, nil
	}
	if ourTieBreak != nil {
		// Both sides initiated to each other. The side with the higher
		// tie-break id yields its attempt; on an exact tie both yield
		// and a later attempt breaks the symmetry.
		if *ourTieBreak >= m.TieBreak {
			g.logger.Debug("yielding simultaneous initiate", zap.Stringer("peer", from))
			return nil, nil
		}
		g.clearTarget(from)
	}
	if len(agents) == 0 {
		return []Message{&NoAgents{}}, nil
	}

	bounds, _ := g.localScopeFrom(agents)
	msgs := []Message{&Accept{ArqBounds: bounds, Agents: agents}}
	state, err := g.newRoundPlan(ctx, m.ArqBounds, bounds, m.Agents, &msgs)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	accepted := g.target == nil || g.target.Cert != from
	g.rounds[from] = state
	if g.target != nil && g.target.Cert == from {
		// Our own initiate to this peer crossed theirs on the wire and
		// this round now serves both; stop the initiate timeout.
		g.target.WhenInitiated = time.Time{}
		g.target.RemoteAgents = m.Agents
	}
	g.tombstones.Remove(from)
	activeRounds.WithLabelValues(g.typ.String()).Set(float64(len(g.rounds)))
	g.mu.Unlock()

	if accepted {
		roundsAccepted.WithLabelValues(g.typ.String()).Inc()
	}
	g.logger.Debug("accepted round",
		zap.Stringer("type", g.typ), zap.Stringer("peer", from))
	g.ingestAgents(ctx, from, m.Agents)
	return msgs, nil
}

// incomingAccept handles the remote's answer to our initiate.
func (g *ShardedGossip) incomingAccept(ctx context.Context, from p2p.Peer, m *Accept) ([]Message, error) {
	g.mu.Lock()
	valid := g.target != nil && g.target.Cert == from && g.rounds[from] == nil
	agents := g.localAgentList()
	g.mu.Unlock()
	if !valid {
		g.logger.Debug("dropping accept without matching initiate", zap.Stringer("peer", from))
		return nil, nil
	}
	if len(agents) == 0 {
		return nil, nil
	}

	bounds, _ := g.localScopeFrom(agents)
	var msgs []Message
	state, err := g.newRoundPlan(ctx, m.ArqBounds, bounds, m.Agents, &msgs)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	if g.target == nil || g.target.Cert != from || g.rounds[from] != nil {
		g.mu.Unlock()
		return nil, nil
	}
	g.target.WhenInitiated = time.Time{}
	g.target.RemoteAgents = m.Agents
	g.rounds[from] = state
	g.tombstones.Remove(from)
	activeRounds.WithLabelValues(g.typ.String()).Set(float64(len(g.rounds)))
	g.mu.Unlock()

	g.ingestAgents(ctx, from, m.Agents)
	return msgs, nil
}

// newRoundPlan intersects both coverages and produces the round's
// opening messages: the agent bloom and first op bloom batch for recent
// gossip, or the region summary for historical gossip.
func (g *ShardedGossip) newRoundPlan(
	ctx context.Context,
	remoteBounds, localBounds []arq.ArqBounds,
	remoteAgents []AgentInfo,
	msgs *[]Message,
) (*RoundState, error) {
	local := arq.NewArqSet(g.topo, localBounds...)
	remote := arq.NewArqSet(g.topo, remoteBounds...)
	now := g.clock.Now()
	state := &RoundState{
		CommonArqSet: local.Intersection(g.topo, remote),
		RemoteAgents: remoteAgents,
		CreatedAt:    now,
		LastTouch:    now,
	}

	if g.typ == Historical {
		regions, err := g.store.QueryRegionSet(ctx, state.CommonArqSet)
		if err != nil {
			return nil, fmt.Errorf("query region set: %w", err)
		}
		state.RegionSet = &regions
		// ReceivedAllIncomingOpBlooms holds vacuously: historical
		// rounds exchange region summaries instead of op blooms.
		state.ReceivedAllIncomingOpBlooms = true
		state.PendingHistoricalData = true
		*msgs = append(*msgs, &OpRegions{Regions: regions})
		return state, nil
	}

	if err := g.appendAgentBloom(ctx, state, msgs); err != nil {
		return nil, err
	}
	state.RegionsQueued = true
	state.ReceivedAllIncomingOpBlooms = false
	batch, err := g.buildBloomBatch(ctx, state.CommonArqSet, nil)
	if err != nil {
		return nil, err
	}
	state.BloomBatchCursor = batch.cursor
	state.ExpectedOpBlooms = batch.expected
	*msgs = append(*msgs, batch.msgs...)
	return state, nil
}

func (g *ShardedGossip) appendAgentBloom(ctx context.Context, state *RoundState, msgs *[]Message) error {
	known, err := g.directory.QueryAgents(ctx, state.CommonArqSet)
	if err != nil {
		return fmt.Errorf("query agents: %w", err)
	}
	if len(known) == 0 {
		return nil
	}
	bloom := NewBloom(len(known), g.cfg.BloomFalsePositiveRate)
	for i := range known {
		bloom.Add(known[i].BloomKey())
	}
	filter, err := EncodeBloom(bloom)
	if err != nil {
		return err
	}
	*msgs = append(*msgs, &AgentBloom{Filter: filter})
	return nil
}

// opBloomBatch is one generated run of op blooms, the store cursor left
// after the query, and the number of answers the round should expect.
type opBloomBatch struct {
	cursor   *uint64
	expected uint32
	msgs     []Message
}

// buildBloomBatch queries one batch of op hashes in the recent window,
// or resumes from the given cursor, and produces one OpBloom per time
// slice. The last bloom of the run is marked final only when no cursor
// remains. The batch touches no round state: callers apply it
// themselves, under the instance lock once the round is visible to
// other handlers.
func (g *ShardedGossip) buildBloomBatch(ctx context.Context, scope arq.ArqSet, cursor *uint64) (opBloomBatch, error) {
	window := g.recentWindow()
	if cursor != nil {
		window.Start = *cursor
	}
	batch, err := g.store.QueryOpHashes(ctx, scope, window, g.cfg.BatchLimit)
	if err != nil {
		return opBloomBatch{}, fmt.Errorf("query op hashes: %w", err)
	}
	out := opBloomBatch{cursor: batch.Cursor}

	var blooms []TimedBloom
	for _, slice := range batch.Slices {
		switch {
		case slice.NoData:
			blooms = append(blooms, TimedBloom{Window: slice.Window})
		case len(slice.Hashes) == 0:
		default:
			bloom := NewBloom(len(slice.Hashes), g.cfg.BloomFalsePositiveRate)
			for _, h := range slice.Hashes {
				bloom.Add(h)
			}
			blooms = append(blooms, TimedBloom{Window: slice.Window, Bloom: bloom})
		}
	}

	if len(blooms) == 0 {
		out.msgs = append(out.msgs, &OpBloom{
			Filter: EncodedTimedBloomFilter{Kind: BloomNoOverlap},
			Final:  true,
		})
		return out, nil
	}
	for i := range blooms {
		enc, err := blooms[i].Encode()
		if err != nil {
			return opBloomBatch{}, err
		}
		out.expected++
		final := i == len(blooms)-1 && out.cursor == nil
		out.msgs = append(out.msgs, &OpBloom{Filter: enc, Final: final})
		bloomsSent.WithLabelValues(g.typ.String()).Inc()
	}
	return out, nil
}

func (g *ShardedGossip) recentWindow() TimeWindow {
	now := g.clock.Now()
	end := uint64(now.UnixMilli())
	start := uint64(now.Add(-g.cfg.RecentWindow).UnixMilli())
	return TimeWindow{Start: start, End: end}
}

func (g *ShardedGossip) ingestAgents(ctx context.Context, from p2p.Peer, agents []AgentInfo) {
	if len(agents) == 0 {
		return
	}
	if err := g.directory.UpsertAgents(ctx, from, agents); err != nil {
		g.logger.Warn("failed to ingest remote agents",
			zap.Stringer("peer", from), zap.Error(err))
	}
}
