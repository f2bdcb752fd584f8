package arq

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arqmesh/arqmesh/spacetime"
)

func TestNewArqSet(t *testing.T) {
	topo := spacetime.UnitTopology()
	set := NewArqSet(topo,
		ArqBounds{Start: 0, Power: 4, Count: 1},
		ArqBounds{Start: 0, Power: 2, Count: 1},
	)
	// Every member is requantized down to the minimum power, which is
	// always exact.
	require.Equal(t, uint8(2), set.Power())
	require.Equal(t, []ArqBounds{
		{Start: 0, Power: 2, Count: 4},
		{Start: 0, Power: 2, Count: 1},
	}, set.Arqs())

	require.True(t, NewArqSet(topo).IsEmpty())
	require.True(t, NewArqSet(topo, ArqBounds{Power: 3}).IsEmpty())
	require.False(t, set.IsEmpty())
}

func TestArqSetCovers(t *testing.T) {
	topo := spacetime.UnitTopology()
	set := NewArqSet(topo, ArqBounds{Start: 2, Power: 4, Count: 2}) // [32, 64)
	require.True(t, set.Covers(topo, 32))
	require.True(t, set.Covers(topo, 63))
	require.False(t, set.Covers(topo, 64))
	require.False(t, set.Covers(topo, 0))
}

func TestIntersection(t *testing.T) {
	topo := spacetime.UnitTopology()

	t.Run("overlapping", func(t *testing.T) {
		a := NewArqSet(topo, ArqBounds{Start: 0, Power: 4, Count: 4}) // [0, 64)
		b := NewArqSet(topo, ArqBounds{Start: 2, Power: 4, Count: 4}) // [32, 96)
		got := a.Intersection(topo, b)
		require.Equal(t, uint8(4), got.Power())
		require.Equal(t, []ArqBounds{{Start: 2, Power: 4, Count: 2}}, got.Arqs())
	})

	t.Run("disjoint", func(t *testing.T) {
		a := NewArqSet(topo, ArqBounds{Start: 0, Power: 4, Count: 2})
		b := NewArqSet(topo, ArqBounds{Start: 8, Power: 4, Count: 2})
		require.True(t, a.Intersection(topo, b).IsEmpty())
	})

	t.Run("differing powers meet at the finer grid", func(t *testing.T) {
		a := NewArqSet(topo, ArqBounds{Start: 0, Power: 4, Count: 4}) // [0, 64)
		b := NewArqSet(topo, ArqBounds{Start: 3, Power: 3, Count: 4}) // [24, 56)
		got := a.Intersection(topo, b)
		require.Equal(t, uint8(3), got.Power())
		require.Equal(t, []ArqBounds{{Start: 3, Power: 3, Count: 4}}, got.Arqs())
	})

	t.Run("full set is the identity", func(t *testing.T) {
		full := NewArqSet(topo, ArqBounds{Start: 0, Power: 4, Count: topo.FullCount(4)})
		b := NewArqSet(topo, ArqBounds{Start: 2, Power: 4, Count: 4})
		got := full.Intersection(topo, b)
		require.Equal(t, b.Arqs(), got.Arqs())
	})

	t.Run("wraparound overlap", func(t *testing.T) {
		// a covers the top 32 locations and the bottom 32; b covers the
		// bottom 64. They overlap exactly on [0, 32).
		a := NewArqSet(topo, ArqBounds{Start: 268435454, Power: 4, Count: 4}) // [2^32-32, 32)
		b := NewArqSet(topo, ArqBounds{Start: 0, Power: 4, Count: 4})         // [0, 64)
		got := a.Intersection(topo, b)
		require.Equal(t, []ArqBounds{{Start: 0, Power: 4, Count: 2}}, got.Arqs())
	})
}

func TestUnion(t *testing.T) {
	topo := spacetime.UnitTopology()

	t.Run("adjacent arcs merge", func(t *testing.T) {
		a := NewArqSet(topo, ArqBounds{Start: 0, Power: 4, Count: 2}) // [0, 32)
		b := NewArqSet(topo, ArqBounds{Start: 2, Power: 4, Count: 2}) // [32, 64)
		got := a.Union(topo, b)
		require.Equal(t, []ArqBounds{{Start: 0, Power: 4, Count: 4}}, got.Arqs())
	})

	t.Run("disjoint arcs stay separate", func(t *testing.T) {
		a := NewArqSet(topo, ArqBounds{Start: 0, Power: 4, Count: 2})
		b := NewArqSet(topo, ArqBounds{Start: 8, Power: 4, Count: 2})
		got := a.Union(topo, b)
		require.Len(t, got.Arqs(), 2)
		require.True(t, got.Covers(topo, 0))
		require.True(t, got.Covers(topo, 128))
		require.False(t, got.Covers(topo, 64))
	})

	t.Run("wraparound halves rejoin", func(t *testing.T) {
		a := NewArqSet(topo, ArqBounds{Start: 268435454, Power: 4, Count: 2}) // [2^32-32, 2^32)
		b := NewArqSet(topo, ArqBounds{Start: 0, Power: 4, Count: 2})         // [0, 32)
		got := a.Union(topo, b)
		require.Len(t, got.Arqs(), 1)
		require.True(t, BoundsEquivalent(topo,
			ArqBounds{Start: 268435454, Power: 4, Count: 4}, got.Arqs()[0]))
		require.True(t, got.Covers(topo, 0))
		require.True(t, got.Covers(topo, 4294967295))
		require.False(t, got.Covers(topo, 32))
	})

	t.Run("covering the whole ring yields a full arc", func(t *testing.T) {
		half := topo.FullCount(4) / 2
		a := NewArqSet(topo, ArqBounds{Start: 0, Power: 4, Count: half})
		b := NewArqSet(topo, ArqBounds{Start: spacetime.Offset(half), Power: 4, Count: half})
		got := a.Union(topo, b)
		require.Len(t, got.Arqs(), 1)
		require.True(t, got.Arqs()[0].IsFull(topo))
		require.InDelta(t, 1.0, got.TotalCoverage(topo), 1e-9)
	})
}

func TestTotalCoverage(t *testing.T) {
	topo := spacetime.UnitTopology()
	set := NewArqSet(topo,
		ArqBounds{Start: 0, Power: 4, Count: 4},
		ArqBounds{Start: 2, Power: 4, Count: 4},
	)
	// Overlap counts once: the union is [0, 96).
	require.InDelta(t, 96.0/float64(spacetime.RingLen), set.TotalCoverage(topo), 1e-12)
}
