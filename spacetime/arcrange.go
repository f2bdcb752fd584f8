package spacetime

import "fmt"

type arcKind uint8

const (
	arcEmpty arcKind = iota
	arcFull
	arcBounded
)

// ArcRange is a contiguous interval on the ring in absolute coordinates.
// A bounded range is inclusive of both edges; a right edge numerically
// smaller than the left edge denotes wraparound coverage, not emptiness.
type ArcRange struct {
	kind   arcKind
	lo, hi Loc
}

// EmptyArcRange covers nothing.
func EmptyArcRange() ArcRange {
	return ArcRange{kind: arcEmpty}
}

// FullArcRange covers the entire ring.
func FullArcRange() ArcRange {
	return ArcRange{kind: arcFull}
}

// BoundedArcRange covers [lo, hi] inclusive, wrapping when lo > hi.
func BoundedArcRange(lo, hi Loc) ArcRange {
	return ArcRange{kind: arcBounded, lo: lo, hi: hi}
}

// IsEmpty reports zero coverage.
func (r ArcRange) IsEmpty() bool { return r.kind == arcEmpty }

// IsFull reports whole-ring coverage.
func (r ArcRange) IsFull() bool { return r.kind == arcFull }

// Bounds returns the inclusive edges of a bounded range. The second
// return is false for empty and full ranges, which have no edges.
func (r ArcRange) Bounds() (lo, hi Loc, ok bool) {
	if r.kind != arcBounded {
		return 0, 0, false
	}
	return r.lo, r.hi, true
}

// Length is the number of locations covered.
func (r ArcRange) Length() uint64 {
	switch r.kind {
	case arcEmpty:
		return 0
	case arcFull:
		return RingLen
	default:
		return uint64(r.lo.Distance(r.hi)) + 1
	}
}

// Contains reports whether the location falls inside the range.
func (r ArcRange) Contains(l Loc) bool {
	switch r.kind {
	case arcEmpty:
		return false
	case arcFull:
		return true
	default:
		if r.lo <= r.hi {
			return l >= r.lo && l <= r.hi
		}
		return l >= r.lo || l <= r.hi
	}
}

func (r ArcRange) String() string {
	switch r.kind {
	case arcEmpty:
		return "(empty)"
	case arcFull:
		return "(full)"
	default:
		return fmt.Sprintf("[%s, %s]", r.lo, r.hi)
	}
}
