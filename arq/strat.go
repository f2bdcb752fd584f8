package arq

import "github.com/arqmesh/arqmesh/spacetime"

// ArqStrat is the arc sizing policy. Fitted arcs aim to keep their chunk
// count between MinChunks and MaxChunks: few enough chunks to keep set
// operations cheap, enough to resize coverage without immediately
// changing power.
//
// Invariant: MinChunks and MaxChunks are powers of two with
// MinChunks = MaxChunks / 2.
type ArqStrat struct {
	MinChunksLog2 uint8 `mapstructure:"min-chunks-log2"`
	MaxChunksLog2 uint8 `mapstructure:"max-chunks-log2"`
}

// DefaultArqStrat returns the standard sizing policy of 8..16 chunks.
func DefaultArqStrat() ArqStrat {
	return ArqStrat{MinChunksLog2: 3, MaxChunksLog2: 4}
}

// MinChunks is the minimum chunk count for a fitted, non-degenerate arc.
func (s ArqStrat) MinChunks() uint32 {
	return spacetime.Pow2(s.MinChunksLog2)
}

// MaxChunks is the maximum chunk count for a fitted arc.
func (s ArqStrat) MaxChunks() uint32 {
	return spacetime.Pow2(s.MaxChunksLog2)
}

// MaxPower is the highest power a fitted arc may use under this policy
// for the given topology.
func (s ArqStrat) MaxPower(topo spacetime.Topology) uint8 {
	return topo.MaxPower(s.MaxChunks())
}
