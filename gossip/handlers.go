package gossip

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/arqmesh/arqmesh/arq"
	"github.com/arqmesh/arqmesh/p2p"
)

// incomingAgentBloom answers with the agent records within the round's
// common coverage that the remote's filter did not contain.
func (g *ShardedGossip) incomingAgentBloom(ctx context.Context, from p2p.Peer, m *AgentBloom) ([]Message, error) {
	state, tombstoned := g.touchRound(from)
	if state == nil {
		return g.noRound(from, tombstoned, "agent bloom")
	}
	filter, err := DecodeBloom(m.Filter)
	if err != nil {
		return g.abortRound(from, fmt.Sprintf("bad agent bloom: %v", err))
	}
	known, err := g.directory.QueryAgents(ctx, state.CommonArqSet)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	var missing []AgentInfo
	for i := range known {
		if !filter.Has(known[i].BloomKey()) {
			missing = append(missing, known[i])
			if len(missing) == maxWireAgents {
				break
			}
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}
	return []Message{&MissingAgents{Agents: missing}}, nil
}

// incomingMissingAgents ingests the agent records we were missing.
func (g *ShardedGossip) incomingMissingAgents(ctx context.Context, from p2p.Peer, m *MissingAgents) ([]Message, error) {
	if state, _ := g.touchRound(from); state == nil {
		// Agent records are useful regardless of round state.
		g.logger.Debug("missing agents outside round", zap.Stringer("peer", from))
	}
	g.ingestAgents(ctx, from, m.Agents)
	return nil, nil
}

// incomingOpBloom diffs the remote's filter against our own hashes in
// its window and answers with what the remote is missing.
func (g *ShardedGossip) incomingOpBloom(ctx context.Context, from p2p.Peer, m *OpBloom) ([]Message, error) {
	state, tombstoned := g.touchRound(from)
	if state == nil {
		return g.noRound(from, tombstoned, "op bloom")
	}

	var (
		missing []KeyBytes
		err     error
	)
	switch m.Filter.Kind {
	case BloomNoOverlap:
		// The remote found nothing at all; there is no window to diff.
	case BloomMissingAllHashes:
		missing, err = g.hashesInWindow(ctx, state, m.Filter.Window, nil)
	case BloomHaveHashes:
		var filter *Bloom
		filter, err = DecodeBloom(m.Filter.Filter)
		if err != nil {
			return g.abortRound(from, fmt.Sprintf("bad op bloom: %v", err))
		}
		missing, err = g.hashesInWindow(ctx, state, m.Filter.Window, filter)
	default:
		return g.abortRound(from, fmt.Sprintf("bad bloom kind %d", m.Filter.Kind))
	}
	if err != nil {
		return nil, err
	}

	var completed bool
	if m.Final {
		g.mu.Lock()
		if cur, ok := g.rounds[from]; ok {
			cur.ReceivedAllIncomingOpBlooms = true
			completed = g.completeIfFinishedLocked(from, cur)
		}
		g.mu.Unlock()
	}
	if completed {
		g.notifyComplete(from)
	}
	return []Message{&MissingOpHashes{Hashes: missing, Finished: m.Final}}, nil
}

// hashesInWindow returns our op hashes in the window that the filter
// does not contain. A nil filter matches nothing, so everything is
// returned.
func (g *ShardedGossip) hashesInWindow(
	ctx context.Context,
	state *RoundState,
	window TimeWindow,
	filter *Bloom,
) ([]KeyBytes, error) {
	batch, err := g.store.QueryOpHashes(ctx, state.CommonArqSet, window, g.cfg.BatchLimit)
	if err != nil {
		return nil, fmt.Errorf("query op hashes: %w", err)
	}
	var missing []KeyBytes
	for _, slice := range batch.Slices {
		for _, h := range slice.Hashes {
			if filter != nil && filter.Has(h) {
				continue
			}
			missing = append(missing, h)
			if len(missing) == maxWireHashes {
				return missing, nil
			}
		}
	}
	return missing, nil
}

// incomingMissingOpHashes settles one of our outstanding op blooms and
// hands the hashes off for fetching. When the settled batch was capped
// by a cursor, the next batch is generated and returned.
func (g *ShardedGossip) incomingMissingOpHashes(ctx context.Context, from p2p.Peer, m *MissingOpHashes) ([]Message, error) {
	state, tombstoned := g.touchRound(from)
	if state == nil {
		return g.noRound(from, tombstoned, "missing op hashes")
	}
	if len(m.Hashes) > 0 && g.onMissingOps != nil {
		g.onMissingOps(from, m.Hashes)
	}

	var (
		completed bool
		resume    *RoundState
		scope     arq.ArqSet
		cursor    *uint64
	)
	g.mu.Lock()
	if cur, ok := g.rounds[from]; ok {
		if cur.ExpectedOpBlooms > 0 {
			cur.ExpectedOpBlooms--
		}
		if cur.ExpectedOpBlooms == 0 && cur.BloomBatchCursor != nil {
			resume, scope, cursor = cur, cur.CommonArqSet, cur.BloomBatchCursor
		} else {
			completed = g.completeIfFinishedLocked(from, cur)
		}
	}
	g.mu.Unlock()

	var msgs []Message
	if resume != nil {
		// The store query runs outside the lock on a snapshot of the
		// round's scope and cursor. On failure the cursor is untouched,
		// so a later answer resumes cleanly.
		batch, err := g.buildBloomBatch(ctx, scope, cursor)
		if err != nil {
			return nil, err
		}
		g.mu.Lock()
		if cur, ok := g.rounds[from]; ok && cur == resume {
			cur.BloomBatchCursor = batch.cursor
			cur.ExpectedOpBlooms += batch.expected
			msgs = batch.msgs
			completed = g.completeIfFinishedLocked(from, cur)
		}
		g.mu.Unlock()
	}
	if completed {
		g.notifyComplete(from)
	}
	return msgs, nil
}

// incomingOpRegions diffs the remote's region summary against our own
// and queues the differing regions for data transfer.
func (g *ShardedGossip) incomingOpRegions(ctx context.Context, from p2p.Peer, m *OpRegions) ([]Message, error) {
	state, tombstoned := g.touchRound(from)
	if state == nil {
		return g.noRound(from, tombstoned, "op regions")
	}
	if g.typ != Historical || state.RegionSet == nil {
		return g.abortRound(from, "unexpected region summary")
	}
	// The remote's cells we lack or disagree on are the ones whose op
	// data needs to be pulled.
	diff := m.Regions.Diff(state.RegionSet)
	if len(diff) > 0 && g.onRegionDiff != nil {
		g.onRegionDiff(from, diff)
	}

	var completed bool
	g.mu.Lock()
	if cur, ok := g.rounds[from]; ok {
		cur.RegionsQueued = true
		if len(diff) == 0 {
			// Identical summaries leave nothing to transfer.
			cur.PendingHistoricalData = false
		}
		completed = g.completeIfFinishedLocked(from, cur)
	}
	g.mu.Unlock()
	if completed {
		g.notifyComplete(from)
	}
	return nil, nil
}

// noRound handles a round-scoped message with no matching round: late
// messages from a tombstoned round are dropped silently, anything else
// tells the remote to close its round.
func (g *ShardedGossip) noRound(from p2p.Peer, tombstoned bool, what string) ([]Message, error) {
	if tombstoned {
		g.logger.Debug("dropping late message",
			zap.Stringer("peer", from), zap.String("message", what))
		return nil, nil
	}
	g.logger.Debug("message without active round",
		zap.Stringer("peer", from), zap.String("message", what))
	return []Message{&ProtocolError{Message: "no active round"}}, nil
}

// abortRound tears down the round over a malformed message and tells
// the remote why.
func (g *ShardedGossip) abortRound(from p2p.Peer, reason string) ([]Message, error) {
	g.logger.Warn("closing round",
		zap.Stringer("peer", from), zap.String("reason", reason))
	g.closeRound(from)
	roundErrors.WithLabelValues(g.typ.String()).Inc()
	return []Message{&ProtocolError{Message: reason}}, nil
}
