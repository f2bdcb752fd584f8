package spacetime

import "fmt"

// RingLen is the number of addressable locations on the ring, 2^32.
const RingLen = uint64(1) << 32

// Loc is an absolute position on the 32-bit circular address space.
// All arithmetic on locations wraps explicitly.
type Loc uint32

// Add returns l shifted right (clockwise) by d, wrapping around the ring.
func (l Loc) Add(d uint32) Loc {
	return Loc(uint32(l) + d)
}

// Sub returns l shifted left (counterclockwise) by d, wrapping around the ring.
func (l Loc) Sub(d uint32) Loc {
	return Loc(uint32(l) - d)
}

// Distance returns the clockwise distance from l to other.
func (l Loc) Distance(other Loc) uint32 {
	return uint32(other) - uint32(l)
}

// AsUint32 returns the raw ring coordinate.
func (l Loc) AsUint32() uint32 {
	return uint32(l)
}

func (l Loc) String() string {
	return fmt.Sprintf("0x%08x", uint32(l))
}

// ToLoc implements arq.Start. A location is already absolute.
func (l Loc) ToLoc(topo Topology, power uint8) Loc {
	return l
}

// ToOffset rounds the location to the nearest chunk boundary at the given
// power, yielding the chunk offset.
func (l Loc) ToOffset(topo Topology, power uint8) Offset {
	return OffsetFromAbsoluteRounded(l, topo, power)
}

// RequantizeUp is a no-op for absolute locations: the location does not
// move when the grid coarsens.
func (l Loc) RequantizeUp(factor uint32) (Loc, bool) {
	return l, true
}

// RequantizeDown is a no-op for absolute locations.
func (l Loc) RequantizeDown(factor uint32) Loc {
	return l
}

// Offset is a quantized chunk offset: a position expressed in whole chunks
// rather than absolute ring coordinates. Unlike Loc it forgets where on
// the ring the value originally sat, which is what makes two quantized
// arcs structurally comparable.
type Offset uint32

// OffsetFromAbsoluteRounded converts an absolute location to the nearest
// chunk offset at the given power.
func OffsetFromAbsoluteRounded(l Loc, topo Topology, power uint8) Offset {
	w := uint64(topo.ChunkWidth(power))
	chunks := RingLen / w
	o := (uint64(l.AsUint32()) + w/2) / w
	return Offset(o % chunks)
}

// ToLoc projects the chunk offset back to an absolute ring location.
func (o Offset) ToLoc(topo Topology, power uint8) Loc {
	return Loc(uint32(o) * topo.ChunkWidth(power))
}

// ToOffset implements arq.Start. An offset is already quantized.
func (o Offset) ToOffset(topo Topology, power uint8) Offset {
	return o
}

// RequantizeUp divides the offset by the given factor. The conversion is
// only valid when the offset lands exactly on the coarser grid; otherwise
// the second return is false.
func (o Offset) RequantizeUp(factor uint32) (Offset, bool) {
	if uint32(o)%factor != 0 {
		return 0, false
	}
	return Offset(uint32(o) / factor), true
}

// RequantizeDown multiplies the offset by the given factor. Refining the
// grid never loses information.
func (o Offset) RequantizeDown(factor uint32) Offset {
	return Offset(uint32(o) * factor)
}

func (o Offset) String() string {
	return fmt.Sprintf("+%d", uint32(o))
}
