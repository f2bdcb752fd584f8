package gossip

import (
	"github.com/spacemeshos/go-scale"

	"github.com/arqmesh/arqmesh/arq"
)

const maxWireRegions = 4096

// RegionHash is the combined digest of all op hashes in a region.
type RegionHash [16]byte

// Region is a precomputed summary of one space-time cell of coverage:
// how many ops it holds, their total size, and their combined hash.
// Two peers whose region hashes match hold identical data for that cell
// and skip it entirely.
type Region struct {
	Arq    arq.ArqBounds
	Window TimeWindow
	Count  uint32
	Size   uint32
	Hash   RegionHash
}

// EncodeScale implements scale.Encodable.
func (r *Region) EncodeScale(e *scale.Encoder) (int, error) {
	total := 0
	n, err := r.Arq.EncodeScale(e)
	if err != nil {
		return total, err
	}
	total += n
	n, err = r.Window.EncodeScale(e)
	if err != nil {
		return total, err
	}
	total += n
	n, err = scale.EncodeCompact32(e, r.Count)
	if err != nil {
		return total, err
	}
	total += n
	n, err = scale.EncodeCompact32(e, r.Size)
	if err != nil {
		return total, err
	}
	total += n
	n, err = scale.EncodeByteArray(e, r.Hash[:])
	if err != nil {
		return total, err
	}
	total += n
	return total, nil
}

// DecodeScale implements scale.Decodable.
func (r *Region) DecodeScale(d *scale.Decoder) (int, error) {
	total := 0
	n, err := r.Arq.DecodeScale(d)
	if err != nil {
		return total, err
	}
	total += n
	n, err = r.Window.DecodeScale(d)
	if err != nil {
		return total, err
	}
	total += n
	count, n, err := scale.DecodeCompact32(d)
	if err != nil {
		return total, err
	}
	total += n
	r.Count = count
	size, n, err := scale.DecodeCompact32(d)
	if err != nil {
		return total, err
	}
	total += n
	r.Size = size
	n, err = scale.DecodeByteArray(d, r.Hash[:])
	if err != nil {
		return total, err
	}
	total += n
	return total, nil
}

// RegionSet is the digest summary exchanged in a Historical round.
type RegionSet struct {
	Regions []Region
}

// Len is the number of regions in the set.
func (s *RegionSet) Len() int {
	return len(s.Regions)
}

// TotalCount sums the op counts of all regions.
func (s *RegionSet) TotalCount() uint64 {
	var total uint64
	for _, r := range s.Regions {
		total += uint64(r.Count)
	}
	return total
}

// Diff returns the regions of s whose hashes differ from the
// corresponding region in other, i.e. the cells whose op data still
// needs to be transferred. Regions absent from other are included.
func (s *RegionSet) Diff(other *RegionSet) []Region {
	type cell struct {
		a      arq.ArqBounds
		window TimeWindow
	}
	theirs := make(map[cell]RegionHash, len(other.Regions))
	for _, r := range other.Regions {
		theirs[cell{a: r.Arq, window: r.Window}] = r.Hash
	}
	var diff []Region
	for _, r := range s.Regions {
		if h, ok := theirs[cell{a: r.Arq, window: r.Window}]; !ok || h != r.Hash {
			diff = append(diff, r)
		}
	}
	return diff
}

// EncodeScale implements scale.Encodable.
func (s *RegionSet) EncodeScale(e *scale.Encoder) (int, error) {
	return scale.EncodeStructSliceWithLimit(e, s.Regions, maxWireRegions)
}

// DecodeScale implements scale.Decodable.
func (s *RegionSet) DecodeScale(d *scale.Decoder) (int, error) {
	regions, n, err := scale.DecodeStructSliceWithLimit[Region](d, maxWireRegions)
	if err != nil {
		return n, err
	}
	s.Regions = regions
	return n, nil
}
