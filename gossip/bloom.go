package gossip

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/bits-and-blooms/bitset"
	"github.com/cespare/xxhash/v2"
)

// Bloom is a bloom filter over content hashes, sized for an expected
// item count and target false positive rate. False positives only cost
// a missed transfer that a later round repairs; false negatives never
// happen.
type Bloom struct {
	bits *bitset.BitSet
	k    uint64
}

// NewBloom sizes a filter for the expected number of items at the given
// false positive rate.
func NewBloom(expected int, fpRate float64) *Bloom {
	if expected < 1 {
		expected = 1
	}
	ln2 := math.Ln2
	m := uint(math.Ceil(-float64(expected) * math.Log(fpRate) / (ln2 * ln2)))
	if m < 64 {
		m = 64
	}
	k := uint64(math.Round(float64(m) / float64(expected) * ln2))
	if k < 1 {
		k = 1
	}
	return &Bloom{bits: bitset.New(m), k: k}
}

func (b *Bloom) hashes(key KeyBytes) (uint64, uint64) {
	h1 := xxhash.Sum64(key)
	d := xxhash.New()
	d.Write([]byte{0x9e})
	d.Write(key)
	return h1, d.Sum64()
}

// Add enters a key into the filter.
func (b *Bloom) Add(key KeyBytes) {
	m := uint64(b.bits.Len())
	h1, h2 := b.hashes(key)
	for i := uint64(0); i < b.k; i++ {
		b.bits.Set(uint((h1 + i*h2) % m))
	}
}

// Has reports whether the key is probably in the filter.
func (b *Bloom) Has(key KeyBytes) bool {
	m := uint64(b.bits.Len())
	h1, h2 := b.hashes(key)
	for i := uint64(0); i < b.k; i++ {
		if !b.bits.Test(uint((h1 + i*h2) % m)) {
			return false
		}
	}
	return true
}

// EncodeBloom serializes the filter for the wire.
func EncodeBloom(b *Bloom) ([]byte, error) {
	bits, err := b.bits.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal bloom bits: %w", err)
	}
	buf := make([]byte, 8, 8+len(bits))
	binary.LittleEndian.PutUint64(buf, b.k)
	return append(buf, bits...), nil
}

// DecodeBloom deserializes a filter received from a remote peer.
func DecodeBloom(data []byte) (*Bloom, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("bloom filter too short: %d bytes", len(data))
	}
	k := binary.LittleEndian.Uint64(data[:8])
	if k == 0 || k > 64 {
		return nil, fmt.Errorf("invalid bloom hash count %d", k)
	}
	var bits bitset.BitSet
	if err := bits.UnmarshalBinary(data[8:]); err != nil {
		return nil, fmt.Errorf("unmarshal bloom bits: %w", err)
	}
	if bits.Len() == 0 {
		return nil, fmt.Errorf("empty bloom filter")
	}
	return &Bloom{bits: &bits, k: k}, nil
}

// TimedBloom is a bloom filter over the op hashes authored within one
// time window. A nil Bloom means the sender holds the arc but has no
// hash data for the window.
type TimedBloom struct {
	Window TimeWindow
	Bloom  *Bloom
}

// Encode reduces the timed bloom to its wire form.
func (t *TimedBloom) Encode() (EncodedTimedBloomFilter, error) {
	if t.Bloom == nil {
		return EncodedTimedBloomFilter{Kind: BloomMissingAllHashes, Window: t.Window}, nil
	}
	filter, err := EncodeBloom(t.Bloom)
	if err != nil {
		return EncodedTimedBloomFilter{}, err
	}
	return EncodedTimedBloomFilter{Kind: BloomHaveHashes, Filter: filter, Window: t.Window}, nil
}
