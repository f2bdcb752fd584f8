// Package arq implements the quantized coverage arc algebra.
//
// An Arq denotes a contiguous, possibly wrapping interval on the 32-bit
// ring, expressed as a whole number of chunks of width
// quantum * 2^power. Arc boundaries therefore only ever fall on a
// quantized grid determined by the power, which is what lets two peers
// compare and combine coverage without exchanging raw intervals.
package arq

import (
	"math/bits"

	"github.com/spacemeshos/go-scale"

	"github.com/arqmesh/arqmesh/spacetime"
)

// Start is the left-edge representation of an Arq. There are exactly two
// implementations: spacetime.Loc for an arc pinned to an absolute ring
// position (an agent's own arc), and spacetime.Offset for an arc that has
// forgotten its absolute position (the result of set operations). The
// distinction is compile-time only.
type Start[S any] interface {
	~uint32
	ToLoc(topo spacetime.Topology, power uint8) spacetime.Loc
	ToOffset(topo spacetime.Topology, power uint8) spacetime.Offset
	RequantizeUp(factor uint32) (S, bool)
	RequantizeDown(factor uint32) S
}

// Arq is a quantized arc. Total coverage is ChunkWidth(Power) * Count
// locations, capped at the full ring.
//
// Power must stay below 32; a power of 32 would overflow the 32-bit
// width computation. Count is typically between the strategy's min and
// max chunks but is not restricted structurally.
type Arq[S Start[S]] struct {
	Start S
	Power uint8
	Count uint32
}

// Located is an arc pinned to an absolute ring position.
type Located = Arq[spacetime.Loc]

// ArqBounds is the position-forgetting form used for set operations and
// on the wire.
type ArqBounds = Arq[spacetime.Offset]

// NewArq builds an arc from its parts.
func NewArq[S Start[S]](power uint8, start S, count uint32) Arq[S] {
	return Arq[S]{Start: start, Power: power, Count: count}
}

// NewFull builds an arc covering the whole ring at the given power.
func NewFull[S Start[S]](topo spacetime.Topology, start S, power uint8) Arq[S] {
	return Arq[S]{Start: start, Power: power, Count: topo.FullCount(power)}
}

// NewEmpty builds a zero-coverage arc at the minimum power.
func NewEmpty(topo spacetime.Topology, start spacetime.Loc) Located {
	return Located{Start: start, Power: topo.MinPower(), Count: 0}
}

// AbsoluteChunkWidth is the width of one chunk in ring locations,
// clamped against overflow for hostile power values.
func (a Arq[S]) AbsoluteChunkWidth(topo spacetime.Topology) uint32 {
	return topo.ChunkWidth(a.Power)
}

// AbsoluteLength is the total ring coverage, capped at the full ring.
func (a Arq[S]) AbsoluteLength(topo spacetime.Topology) uint64 {
	l := uint64(a.AbsoluteChunkWidth(topo)) * uint64(a.Count)
	if l > spacetime.RingLen {
		l = spacetime.RingLen
	}
	return l
}

// Coverage is the fraction of the ring covered, in 0..1.
func (a Arq[S]) Coverage(topo spacetime.Topology) float64 {
	return float64(a.AbsoluteLength(topo)) / float64(spacetime.RingLen)
}

// ToEdgeLocs projects the arc onto absolute coordinates, returning the
// inclusive left and right edges. A right edge numerically below the
// left edge means the arc wraps.
func (a Arq[S]) ToEdgeLocs(topo spacetime.Topology) (left, right spacetime.Loc) {
	start := a.Start.ToOffset(topo, a.Power)
	left = start.ToLoc(topo, a.Power)
	right = spacetime.Offset(uint32(start) + a.Count).ToLoc(topo, a.Power).Sub(1)
	return left, right
}

// ToArcRange is the canonical absolute-interval projection.
func (a Arq[S]) ToArcRange(topo spacetime.Topology) spacetime.ArcRange {
	switch {
	case IsFull(topo, a.Power, a.Count):
		return spacetime.FullArcRange()
	case a.Count == 0:
		return spacetime.EmptyArcRange()
	default:
		l, r := a.ToEdgeLocs(topo)
		return spacetime.BoundedArcRange(l, r)
	}
}

// IsFull reports whole-ring coverage.
func (a Arq[S]) IsFull(topo spacetime.Topology) bool {
	return IsFull(topo, a.Power, a.Count)
}

// IsEmpty reports zero coverage.
func (a Arq[S]) IsEmpty() bool {
	return a.Count == 0
}

// Requantize re-expresses the arc at a different power. Coarsening (a
// higher power) succeeds only when both the count and the start divide
// evenly onto the coarser grid; coverage is never silently discarded.
// Refining (a lower power) always succeeds.
func (a Arq[S]) Requantize(newPower uint8) (Arq[S], bool) {
	if a.Power < newPower {
		factor := spacetime.Pow2(newPower - a.Power)
		start, ok := a.Start.RequantizeUp(factor)
		if !ok {
			return Arq[S]{}, false
		}
		count := a.Count / factor
		if a.Count != count*factor {
			return Arq[S]{}, false
		}
		return Arq[S]{Start: start, Power: newPower, Count: count}, true
	}
	factor := spacetime.Pow2(a.Power - newPower)
	count := uint64(a.Count) * uint64(factor)
	if count > uint64(^uint32(0)) {
		count = uint64(^uint32(0))
	}
	return Arq[S]{Start: a.Start.RequantizeDown(factor), Power: newPower, Count: uint32(count)}, true
}

// Downshift refines the arc by one power level. Always exact.
func (a Arq[S]) Downshift() Arq[S] {
	r, _ := a.Requantize(a.Power - 1)
	return r
}

// Upshift coarsens a located arc by one power level. An odd count means
// the arc does not land on the coarser grid; with force set the count is
// rounded up first, otherwise the second return is false.
func Upshift(a Located, force bool) (Located, bool) {
	count := a.Count
	if force && count%2 == 1 {
		count++
	}
	if count%2 != 0 {
		return Located{}, false
	}
	return Located{Start: a.Start, Power: a.Power + 1, Count: count / 2}, true
}

// ToBounds forgets the absolute position of the arc, truncating the
// start down to its chunk offset.
func (a Arq[S]) ToBounds(topo spacetime.Topology) ArqBounds {
	return ArqBounds{
		Start: spacetime.Offset(a.Start.ToLoc(topo, a.Power).AsUint32() / a.AbsoluteChunkWidth(topo)),
		Power: a.Power,
		Count: a.Count,
	}
}

// LocatedEquivalent reports whether two located arcs denote the same
// absolute interval despite potentially different terms.
func LocatedEquivalent(topo spacetime.Topology, a, b Located) bool {
	qa := a.AbsoluteChunkWidth(topo)
	qb := b.AbsoluteChunkWidth(topo)
	return a.Start == b.Start && a.Count*qa == b.Count*qb
}

// BoundsEquivalent reports whether two position-forgetting arcs denote
// the same interval. All empty arcs are equivalent regardless of start
// and power.
func BoundsEquivalent(topo spacetime.Topology, a, b ArqBounds) bool {
	qa := a.AbsoluteChunkWidth(topo)
	qb := b.AbsoluteChunkWidth(topo)
	if a.Count == 0 && b.Count == 0 {
		return true
	}
	return uint32(a.Start)*qa == uint32(b.Start)*qb && a.Count*qa == b.Count*qb
}

// EncodeScale implements scale.Encodable.
func (a *Arq[S]) EncodeScale(e *scale.Encoder) (int, error) {
	total := 0
	n, err := scale.EncodeCompact32(e, uint32(a.Start))
	if err != nil {
		return total, err
	}
	total += n
	n, err = scale.EncodeCompact8(e, a.Power)
	if err != nil {
		return total, err
	}
	total += n
	n, err = scale.EncodeCompact32(e, a.Count)
	if err != nil {
		return total, err
	}
	total += n
	return total, nil
}

// DecodeScale implements scale.Decodable.
func (a *Arq[S]) DecodeScale(d *scale.Decoder) (int, error) {
	total := 0
	start, n, err := scale.DecodeCompact32(d)
	if err != nil {
		return total, err
	}
	total += n
	a.Start = S(start)
	power, n, err := scale.DecodeCompact8(d)
	if err != nil {
		return total, err
	}
	total += n
	a.Power = power
	count, n, err := scale.DecodeCompact32(d)
	if err != nil {
		return total, err
	}
	total += n
	a.Count = count
	return total, nil
}

// ArqSize is an arc without a start: the intermediate result of the
// fitting algorithms, completed by supplying a start location.
type ArqSize struct {
	Power uint8
	Count uint32
}

// EmptyArqSize is the size of a zero-coverage arc.
func EmptyArqSize() ArqSize {
	return ArqSize{}
}

// ToArq pins the size to a start location.
func (s ArqSize) ToArq(start spacetime.Loc) Located {
	return Located{Start: start, Power: s.Power, Count: s.Count}
}

// IsFull reports whether the power/count combination covers the whole
// ring. Power 0 is never full by construction; power 32 and above is
// always full, since even a single chunk would exceed the ring.
func IsFull(topo spacetime.Topology, power uint8, count uint32) bool {
	switch {
	case power == 0:
		return false
	case power >= 32:
		return true
	default:
		return count >= topo.FullCount(power)
	}
}

// PowerAndCountFromLength finds the power/count pair closest to the
// given length with count at most maxChunks. The fit is approximate:
// rounding loss is expected and acceptable.
func PowerAndCountFromLength(topo spacetime.Topology, length uint64, maxChunks uint32) ArqSize {
	var power uint8
	count := float64(length / uint64(topo.Quantum))
	max := float64(maxChunks)
	for roundf(count) > max {
		power++
		count /= 2
	}
	return ArqSize{Power: power, Count: uint32(roundf(count))}
}

// PowerAndCountFromLengthExact finds the highest power and lowest count
// representing the length exactly, then refines until count reaches
// minChunks. Fails when the length is not a multiple of the quantum,
// i.e. not representable even at power 0.
func PowerAndCountFromLengthExact(topo spacetime.Topology, length uint64, minChunks uint32) (ArqSize, bool) {
	if length == 0 {
		return ArqSize{}, true
	}
	z := uint8(bits.TrailingZeros64(length))
	if z < topo.QuantumPower {
		return ArqSize{}, false
	}
	power := z - topo.QuantumPower
	count := length >> z
	for uint32(count) < minChunks && power > 0 {
		count *= 2
		power--
	}
	return ArqSize{Power: power, Count: uint32(count)}, true
}

// ApproximateArq fits a quantized arc to an absolute start and length
// under the given sizing strategy. A zero length yields an empty arc at
// the minimum power. This fit always succeeds; use
// PowerAndCountFromLengthExact where lossy approximation is not
// acceptable.
func ApproximateArq(topo spacetime.Topology, strat ArqStrat, start spacetime.Loc, length uint64) Located {
	if length == 0 {
		return NewEmpty(topo, start)
	}
	size := PowerAndCountFromLength(topo, length, strat.MaxChunks())
	return size.ToArq(start)
}

// FromInterval converts an absolute range back into an ArqBounds at the
// given power, failing when the conversion would be lossy: the range
// must begin on a chunk boundary and its length must be within one
// location of an exact chunk multiple.
func FromInterval(topo spacetime.Topology, power uint8, r spacetime.ArcRange) (ArqBounds, bool) {
	a, _, ok := fromInterval(topo, power, r, false)
	return a, ok
}

// FromIntervalRounded converts an absolute range into the closest
// ArqBounds at the given power, additionally reporting whether rounding
// lost information.
func FromIntervalRounded(topo spacetime.Topology, power uint8, r spacetime.ArcRange) (ArqBounds, bool) {
	a, lossy, _ := fromInterval(topo, power, r, true)
	return a, lossy
}

func fromInterval(
	topo spacetime.Topology,
	power uint8,
	r spacetime.ArcRange,
	alwaysRound bool,
) (ArqBounds, bool, bool) {
	switch {
	case r.IsEmpty():
		return ArqBounds{Power: power, Count: 0}, false, true
	case r.IsFull():
		// A full range needs a nonzero power: power 0 cannot express
		// fullness and its count would not fit in 32 bits.
		if power == 0 {
			power = 1
		}
		return ArqBounds{Power: power, Count: topo.FullCount(power)}, false, true
	default:
		lo, _, _ := r.Bounds()
		w := uint64(topo.ChunkWidth(power))
		offset := uint64(lo.AsUint32()) / w
		length := r.Length()
		count := length / w
		// Accept a right bound that bleeds over the grid by one unit.
		rem := length % w
		diff := rem
		if w-rem < diff {
			diff = w - rem
		}
		lossless := uint64(lo.AsUint32()) == offset*w && diff <= 1
		if !alwaysRound && !lossless {
			return ArqBounds{}, true, false
		}
		return ArqBounds{
			Start: spacetime.Offset(offset),
			Power: power,
			Count: uint32(count),
		}, !lossless, true
	}
}

func roundf(f float64) float64 {
	if f < 0 {
		return 0
	}
	return float64(uint64(f + 0.5))
}
