// Package peers tracks the known remote peers together with their
// advertised ring coverage, scoring them by responsiveness so that
// gossip can pick a good partner whose arcs overlap the local ones.
package peers

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap/zapcore"

	"github.com/arqmesh/arqmesh/arq"
	"github.com/arqmesh/arqmesh/gossip"
	"github.com/arqmesh/arqmesh/p2p"
	"github.com/arqmesh/arqmesh/spacetime"
)

type data struct {
	id                peer.ID
	url               string
	coverage          arq.ArqSet
	agents            map[gossip.AgentID]gossip.AgentInfo
	success, failures int
	failRate          float64
	averageLatency    float64
}

func (d *data) agentList() []gossip.AgentInfo {
	infos := make([]gossip.AgentInfo, 0, len(d.agents))
	for _, info := range d.agents {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return string(infos[i].Agent[:]) < string(infos[j].Agent[:])
	})
	return infos
}

func (d *data) latency(global float64) float64 {
	if d.success+d.failures == 0 {
		return 0.9 * global // to prioritize trying out new peer
	} else if d.success == 0 {
		return 1.1 * global
	}
	return d.averageLatency + d.failRate*global
}

func (d *data) less(other *data, global float64) bool {
	peerLatency := d.latency(global)
	otherLatency := other.latency(global)
	if peerLatency < otherLatency {
		return true
	} else if peerLatency > otherLatency {
		return false
	}
	return strings.Compare(string(d.id), string(other.id)) == -1
}

// New creates an empty peer tracker for the given ring topology.
func New(topo spacetime.Topology) *Peers {
	return &Peers{
		topo:  topo,
		peers: map[peer.ID]*data{},
	}
}

// Peers is a thread-safe scoreboard of remote peers.
type Peers struct {
	topo  spacetime.Topology
	mu    sync.Mutex
	peers map[peer.ID]*data

	// globalLatency is the average latency of all successful responses
	// from peers. It is used as a reference value for new peers and to
	// adjust average peer latency based on failure rate.
	globalLatency float64
}

// Add registers a peer with the coverage it advertises. Returns false if
// the peer was already known, in which case only its coverage is
// refreshed.
func (p *Peers) Add(id peer.ID, coverage arq.ArqSet) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d, exist := p.peers[id]; exist {
		d.coverage = coverage
		return false
	}
	p.peers[id] = &data{id: id, coverage: coverage}
	return true
}

// Delete forgets a peer.
func (p *Peers) Delete(id peer.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.peers, id)
}

// OnFailure records a failed exchange with the peer.
func (p *Peers) OnFailure(id peer.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, exist := p.peers[id]
	if !exist {
		return
	}
	d.failures++
	d.failRate = float64(d.failures) / float64(d.success+d.failures)
}

// OnLatency updates average peer and global latency.
func (p *Peers) OnLatency(id peer.ID, size int, latency time.Duration) {
	if size == 0 {
		return
	}
	// Latency is normalized to a duration per 1kiB transmitted, treating
	// smaller messages as if they were 1kiB to account for the fixed
	// overhead of small exchanges.
	latency = latency / time.Duration(max(size/1024, 1))
	p.mu.Lock()
	defer p.mu.Unlock()
	d, exist := p.peers[id]
	if !exist {
		return
	}
	d.success++
	d.failRate = float64(d.failures) / float64(d.success+d.failures)
	if d.averageLatency != 0 {
		delta := (float64(latency) - float64(d.averageLatency)) / 10 // 86% of the value is the last 19
		d.averageLatency += delta
	} else {
		d.averageLatency = float64(latency)
	}
	if p.globalLatency != 0 {
		delta := (float64(latency) - float64(p.globalLatency)) / 25 // 86% of the value is the last 49
		p.globalLatency += delta
	} else {
		p.globalLatency = float64(latency)
	}
}

// SelectBestFrom returns the most responsive peer among the candidates.
func (p *Peers) SelectBestFrom(peers []peer.ID) peer.ID {
	p.mu.Lock()
	defer p.mu.Unlock()
	var best *data
	for _, id := range peers {
		pdata, exist := p.peers[id]
		if !exist {
			continue
		}
		if best == nil || pdata.less(best, p.globalLatency) {
			best = pdata
		}
	}
	if best != nil {
		return best.id
	}
	return p2p.NoPeer
}

// SelectBest selects at most n peers sorted by responsiveness and latency.
func (p *Peers) SelectBest(n int) []peer.ID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selectBest(n, func(*data) bool { return true })
}

// SelectCovering selects at most n responsive peers whose advertised
// coverage overlaps the given scope. An empty result is a normal
// outcome: it just means no known peer holds anything we hold.
func (p *Peers) SelectCovering(scope arq.ArqSet, n int) []peer.ID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selectBest(n, func(d *data) bool {
		return !d.coverage.Intersection(p.topo, scope).IsEmpty()
	})
}

// Coverage returns the advertised coverage of a known peer.
func (p *Peers) Coverage(id peer.ID) (arq.ArqSet, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, exist := p.peers[id]
	if !exist {
		return arq.ArqSet{}, false
	}
	return d.coverage, true
}

// The tracker doubles as the agent/peer store behind gossip rounds and
// as the sink for exchange outcomes reported by the transport.
var (
	_ gossip.PeerDirectory = (*Peers)(nil)
	_ gossip.PeerScorer    = (*Peers)(nil)
)

// directoryCandidates bounds how many covering peers are scored when
// picking a gossip partner.
const directoryCandidates = 8

// SelectPeer picks the most responsive known peer whose advertised
// coverage overlaps the scope, together with its agent records. A nil
// node means no known peer covers anything we hold.
func (p *Peers) SelectPeer(_ context.Context, scope arq.ArqSet) (*gossip.RemoteNode, error) {
	best := p.SelectBestFrom(p.SelectCovering(scope, directoryCandidates))
	if p2p.IsNoPeer(best) {
		return nil, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	d, exist := p.peers[best]
	if !exist {
		return nil, nil
	}
	return &gossip.RemoteNode{Cert: best, URL: d.url, Agents: d.agentList()}, nil
}

// QueryAgents returns every known agent record whose advertised arc
// overlaps the scope, in stable order.
func (p *Peers) QueryAgents(_ context.Context, scope arq.ArqSet) ([]gossip.AgentInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var infos []gossip.AgentInfo
	for _, d := range p.peers {
		for _, info := range d.agents {
			if !arq.NewArqSet(p.topo, info.Arq).Intersection(p.topo, scope).IsEmpty() {
				infos = append(infos, info)
			}
		}
	}
	sort.Slice(infos, func(i, j int) bool {
		return string(infos[i].Agent[:]) < string(infos[j].Agent[:])
	})
	return infos, nil
}

// UpsertAgents ingests agent records learned from the peer, keeping the
// newest record per agent. The peer's advertised coverage becomes the
// union of its agents' arcs.
func (p *Peers) UpsertAgents(_ context.Context, from peer.ID, agents []gossip.AgentInfo) error {
	if len(agents) == 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	d, exist := p.peers[from]
	if !exist {
		d = &data{id: from}
		p.peers[from] = d
	}
	if d.agents == nil {
		d.agents = map[gossip.AgentID]gossip.AgentInfo{}
	}
	for _, info := range agents {
		if have, ok := d.agents[info.Agent]; ok && have.SignedAt >= info.SignedAt {
			continue
		}
		d.agents[info.Agent] = info
		if info.URL != "" {
			d.url = info.URL
		}
	}
	bounds := make([]arq.ArqBounds, 0, len(d.agents))
	for _, info := range d.agents {
		bounds = append(bounds, info.Arq)
	}
	d.coverage = arq.NewArqSet(p.topo, bounds...)
	return nil
}

func (p *Peers) selectBest(n int, include func(*data) bool) []peer.ID {
	lth := min(len(p.peers), n)
	if lth == 0 {
		return nil
	}
	best := make([]*data, 0, lth)
	for _, d := range p.peers {
		if !include(d) {
			continue
		}
		worst := d
		for i := range best {
			if worst.less(best[i], p.globalLatency) {
				best[i], worst = worst, best[i]
			}
		}
		if len(best) < cap(best) {
			best = append(best, worst)
		}
	}
	rst := make([]peer.ID, len(best))
	for i := range rst {
		rst[i] = best[i].id
	}
	return rst
}

// Total is the number of known peers.
func (p *Peers) Total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.peers)
}

// Stats summarizes the tracker for logging.
func (p *Peers) Stats() Stats {
	best := p.SelectBest(5)
	p.mu.Lock()
	defer p.mu.Unlock()
	stats := Stats{
		Total:                len(p.peers),
		GlobalAverageLatency: p.globalLatency,
	}
	for _, id := range best {
		peerData, exist := p.peers[id]
		if !exist {
			continue
		}
		stats.BestPeers = append(stats.BestPeers, PeerStats{
			ID:       peerData.id,
			Success:  peerData.success,
			Failures: peerData.failures,
			Latency:  peerData.averageLatency,
		})
	}
	return stats
}

type Stats struct {
	Total                int
	GlobalAverageLatency float64
	BestPeers            []PeerStats
}

func (s *Stats) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("total", s.Total)
	enc.AddFloat64("global average latency", s.GlobalAverageLatency)
	enc.AddArray("best peers", zapcore.ArrayMarshalerFunc(func(arrEnc zapcore.ArrayEncoder) error {
		for _, peer := range s.BestPeers {
			arrEnc.AppendObject(&peer)
		}
		return nil
	}))
	return nil
}

type PeerStats struct {
	ID       peer.ID
	Success  int
	Failures int
	Latency  float64
}

func (p *PeerStats) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("id", p.ID.String())
	enc.AddInt("success", p.Success)
	enc.AddInt("failures", p.Failures)
	enc.AddFloat64("latency per 1024 bytes", p.Latency)
	return nil
}
