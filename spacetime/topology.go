package spacetime

import "math/bits"

// Pow2 returns 2^p as a uint32, clamping the exponent to 31 to avoid
// overflow. Powers of 32 and above have no meaning on a 32-bit ring.
func Pow2(p uint8) uint32 {
	if p > 31 {
		p = 31
	}
	return uint32(1) << p
}

// Pow2f returns 2^p as a float64.
func Pow2f(p uint8) float64 {
	return float64(uint64(1) << uint64(p))
}

// Topology defines the quantization of the address space: the smallest
// addressable bucket is Quantum locations wide. It is pure configuration,
// fixed per address space and passed by value everywhere.
//
// Invariant: QuantumPower = log2(Quantum).
type Topology struct {
	Quantum      uint32
	QuantumPower uint8
}

// StandardTopology returns the production topology with 2^12-wide quanta.
func StandardTopology() Topology {
	return Topology{Quantum: 1 << 12, QuantumPower: 12}
}

// UnitTopology returns the degenerate topology where one quantum is one
// location. Mostly useful in tests where exact arithmetic is easier to
// reason about.
func UnitTopology() Topology {
	return Topology{Quantum: 1, QuantumPower: 0}
}

// NewTopology builds a topology from a quantum size, which must be a
// power of two.
func NewTopology(quantum uint32) Topology {
	return Topology{Quantum: quantum, QuantumPower: uint8(bits.TrailingZeros32(quantum))}
}

// ChunkWidth is the absolute width of one chunk at the given power:
// quantum * 2^power, clamped so the multiply cannot overflow.
func (t Topology) ChunkWidth(power uint8) uint32 {
	w := uint64(Pow2(power)) * uint64(t.Quantum)
	if w > uint64(^uint32(0)/2) {
		w = uint64(^uint32(0) / 2)
	}
	return uint32(w)
}

// MinPower is the lowest usable quantization power.
func (t Topology) MinPower() uint8 {
	return 0
}

// MaxPower is the highest power at which an arc of maxChunks chunks can
// still address distinct portions of the ring.
func (t Topology) MaxPower(maxChunks uint32) uint8 {
	chunksLog2 := uint8(bits.Len32(maxChunks) - 1)
	max := int(32) - int(t.QuantumPower) - int(chunksLog2)
	if max < 1 {
		return 1
	}
	return uint8(max)
}

// FullCount is the chunk count at which an arc of the given power covers
// the entire ring. The subtraction saturates since power may exceed
// 32 - QuantumPower for untrusted inputs.
func (t Topology) FullCount(power uint8) uint32 {
	max := saturatingSub(32, t.QuantumPower)
	return Pow2(saturatingSub(max, power))
}

func saturatingSub(a, b uint8) uint8 {
	if a < b {
		return 0
	}
	return a - b
}
