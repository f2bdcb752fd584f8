package spacetime

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocWrapping(t *testing.T) {
	require.Equal(t, Loc(0), Loc(math.MaxUint32).Add(1))
	require.Equal(t, Loc(math.MaxUint32), Loc(0).Sub(1))
	require.Equal(t, uint32(10), Loc(math.MaxUint32-4).Distance(Loc(5)))
	require.Equal(t, uint32(0), Loc(42).Distance(Loc(42)))
}

func TestOffsetRequantize(t *testing.T) {
	o, ok := Offset(12).RequantizeUp(4)
	require.True(t, ok)
	require.Equal(t, Offset(3), o)

	_, ok = Offset(13).RequantizeUp(4)
	require.False(t, ok)

	require.Equal(t, Offset(12), Offset(3).RequantizeDown(4))

	// Absolute locations do not move when the grid changes.
	l, ok := Loc(13).RequantizeUp(4)
	require.True(t, ok)
	require.Equal(t, Loc(13), l)
	require.Equal(t, Loc(13), Loc(13).RequantizeDown(4))
}

func TestOffsetFromAbsoluteRounded(t *testing.T) {
	topo := UnitTopology()
	// Chunk width at power 4 is 16: 7 rounds down, 8 rounds up.
	require.Equal(t, Offset(0), OffsetFromAbsoluteRounded(7, topo, 4))
	require.Equal(t, Offset(1), OffsetFromAbsoluteRounded(8, topo, 4))
	require.Equal(t, Offset(2), OffsetFromAbsoluteRounded(32, topo, 4))
	// The top of the ring rounds forward onto offset 0.
	require.Equal(t, Offset(0), OffsetFromAbsoluteRounded(Loc(math.MaxUint32-3), topo, 4))
}

func TestTopology(t *testing.T) {
	std := StandardTopology()
	require.Equal(t, uint32(1<<12), std.Quantum)
	require.Equal(t, uint8(12), std.QuantumPower)
	require.Equal(t, std, NewTopology(1<<12))

	require.Equal(t, uint32(1<<12), std.ChunkWidth(0))
	require.Equal(t, uint32(1<<16), std.ChunkWidth(4))
	// Hostile powers clamp instead of overflowing.
	require.Equal(t, uint32(math.MaxUint32/2), std.ChunkWidth(40))

	// At full count, width * count spans the whole ring.
	require.Equal(t, uint32(1<<20), std.FullCount(0))
	require.Equal(t, uint32(1), std.FullCount(20))
	require.Equal(t, uint32(1), std.FullCount(200))

	// 16-chunk arcs at the max power can still address sub-ring spans.
	require.Equal(t, uint8(16), std.MaxPower(16))
	require.Equal(t, uint8(28), UnitTopology().MaxPower(16))
}

func TestArcRange(t *testing.T) {
	require.True(t, EmptyArcRange().IsEmpty())
	require.EqualValues(t, 0, EmptyArcRange().Length())
	require.False(t, EmptyArcRange().Contains(0))

	require.True(t, FullArcRange().IsFull())
	require.Equal(t, RingLen, FullArcRange().Length())
	require.True(t, FullArcRange().Contains(Loc(math.MaxUint32)))

	r := BoundedArcRange(10, 19)
	lo, hi, ok := r.Bounds()
	require.True(t, ok)
	require.Equal(t, Loc(10), lo)
	require.Equal(t, Loc(19), hi)
	require.EqualValues(t, 10, r.Length())
	require.True(t, r.Contains(10))
	require.True(t, r.Contains(19))
	require.False(t, r.Contains(20))

	// A right edge below the left edge wraps through zero.
	w := BoundedArcRange(Loc(math.MaxUint32-9), 9)
	require.EqualValues(t, 20, w.Length())
	require.True(t, w.Contains(0))
	require.True(t, w.Contains(Loc(math.MaxUint32)))
	require.False(t, w.Contains(10))
}
