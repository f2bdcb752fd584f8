package arq

import (
	"sort"

	"github.com/arqmesh/arqmesh/spacetime"
)

// ArqSet is a collection of position-forgetting arcs, one per
// participating agent, held at a single shared power so that set
// operations work per-chunk on a common grid.
type ArqSet struct {
	power uint8
	arqs  []ArqBounds
}

// NewArqSet builds a set from the given arcs, requantizing every member
// down to the minimum power among them. Moving to a finer grid is always
// exact, which keeps construction total.
func NewArqSet(topo spacetime.Topology, arqs ...ArqBounds) ArqSet {
	power := topo.MaxPower(1)
	for _, a := range arqs {
		if a.Power < power {
			power = a.Power
		}
	}
	requantized := make([]ArqBounds, 0, len(arqs))
	for _, a := range arqs {
		r, _ := a.Requantize(power)
		requantized = append(requantized, r)
	}
	return ArqSet{power: power, arqs: requantized}
}

// Power is the shared power of the set's members.
func (s ArqSet) Power() uint8 {
	return s.power
}

// Arqs returns the set's members.
func (s ArqSet) Arqs() []ArqBounds {
	return s.arqs
}

// IsEmpty reports whether the set covers nothing.
func (s ArqSet) IsEmpty() bool {
	for _, a := range s.arqs {
		if a.Count != 0 {
			return false
		}
	}
	return true
}

// Covers reports whether any member covers the location.
func (s ArqSet) Covers(topo spacetime.Topology, l spacetime.Loc) bool {
	for _, a := range s.arqs {
		if a.ToArcRange(topo).Contains(l) {
			return true
		}
	}
	return false
}

// ArcRanges projects every member onto absolute coordinates.
func (s ArqSet) ArcRanges(topo spacetime.Topology) []spacetime.ArcRange {
	ranges := make([]spacetime.ArcRange, len(s.arqs))
	for i, a := range s.arqs {
		ranges[i] = a.ToArcRange(topo)
	}
	return ranges
}

// TotalCoverage is the fraction of the ring covered by the union of all
// members, in 0..1.
func (s ArqSet) TotalCoverage(topo spacetime.Topology) float64 {
	var total uint64
	for _, sp := range s.spans(topo) {
		total += sp.hi - sp.lo
	}
	return float64(total) / float64(spacetime.RingLen)
}

// Union combines the coverage of both sets at their common power.
func (s ArqSet) Union(topo spacetime.Topology, other ArqSet) ArqSet {
	combined := make([]ArqBounds, 0, len(s.arqs)+len(other.arqs))
	combined = append(combined, s.arqs...)
	combined = append(combined, other.arqs...)
	set := NewArqSet(topo, combined...)
	return spansToSet(topo, set.power, set.spans(topo))
}

// Intersection keeps only the coverage common to both sets, the shared
// reconciliation scope of a gossip round. Inputs are requantized to the
// finer of the two powers, which is always lossless.
func (s ArqSet) Intersection(topo spacetime.Topology, other ArqSet) ArqSet {
	power := s.power
	if other.power < power {
		power = other.power
	}
	a := spansAt(topo, power, s.arqs)
	b := spansAt(topo, power, other.arqs)
	var out []span
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		lo := max64(a[i].lo, b[j].lo)
		hi := min64(a[i].hi, b[j].hi)
		if lo < hi {
			out = append(out, span{lo: lo, hi: hi})
		}
		if a[i].hi < b[j].hi {
			i++
		} else {
			j++
		}
	}
	return spansToSet(topo, power, out)
}

// span is a half-open absolute interval [lo, hi) with hi <= RingLen.
// Wrapping arcs are split into two spans before normalization.
type span struct {
	lo, hi uint64
}

func (s ArqSet) spans(topo spacetime.Topology) []span {
	return spansAt(topo, s.power, s.arqs)
}

func spansAt(topo spacetime.Topology, power uint8, arqs []ArqBounds) []span {
	var spans []span
	for _, a := range arqs {
		r, _ := a.Requantize(power)
		spans = appendSpans(spans, r.ToArcRange(topo))
	}
	return normalizeSpans(spans)
}

func appendSpans(spans []span, r spacetime.ArcRange) []span {
	switch {
	case r.IsEmpty():
		return spans
	case r.IsFull():
		return append(spans, span{lo: 0, hi: spacetime.RingLen})
	default:
		lo, hi, _ := r.Bounds()
		l, h := uint64(lo.AsUint32()), uint64(hi.AsUint32())
		if l <= h {
			return append(spans, span{lo: l, hi: h + 1})
		}
		// Wraparound: split at the top of the ring.
		return append(spans, span{lo: l, hi: spacetime.RingLen}, span{lo: 0, hi: h + 1})
	}
}

func normalizeSpans(spans []span) []span {
	if len(spans) == 0 {
		return nil
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].lo < spans[j].lo })
	out := spans[:1]
	for _, sp := range spans[1:] {
		last := &out[len(out)-1]
		if sp.lo <= last.hi {
			if sp.hi > last.hi {
				last.hi = sp.hi
			}
		} else {
			out = append(out, sp)
		}
	}
	return out
}

// spansToSet converts normalized spans back into arcs at the given
// power, rejoining a split wraparound interval at the top of the ring.
func spansToSet(topo spacetime.Topology, power uint8, spans []span) ArqSet {
	if len(spans) == 0 {
		return ArqSet{power: power}
	}
	if len(spans) == 1 && spans[0].lo == 0 && spans[0].hi == spacetime.RingLen {
		return ArqSet{power: power, arqs: []ArqBounds{fromRange(topo, power, spacetime.FullArcRange())}}
	}
	ranges := make([]spacetime.ArcRange, 0, len(spans))
	first, last := spans[0], spans[len(spans)-1]
	wrapped := len(spans) > 1 && first.lo == 0 && last.hi == spacetime.RingLen
	if wrapped {
		ranges = append(ranges, spacetime.BoundedArcRange(
			spacetime.Loc(uint32(last.lo)),
			spacetime.Loc(uint32(first.hi-1)),
		))
		spans = spans[1 : len(spans)-1]
	}
	for _, sp := range spans {
		ranges = append(ranges, spacetime.BoundedArcRange(
			spacetime.Loc(uint32(sp.lo)),
			spacetime.Loc(uint32(sp.hi-1)),
		))
	}
	arqs := make([]ArqBounds, 0, len(ranges))
	for _, r := range ranges {
		arqs = append(arqs, fromRange(topo, power, r))
	}
	return ArqSet{power: power, arqs: arqs}
}

func fromRange(topo spacetime.Topology, power uint8, r spacetime.ArcRange) ArqBounds {
	// Span endpoints lie on the chunk grid of the common power, so the
	// exact conversion holds; rounding is a fallback for clamped widths.
	if a, ok := FromInterval(topo, power, r); ok {
		return a
	}
	a, _ := FromIntervalRounded(topo, power, r)
	return a
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
