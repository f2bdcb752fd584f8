// Package gossip implements sharded gossip: the round-based protocol by
// which two peers agree on the portion of the ring they hold in common
// and exchange bloom filters or region digests covering it.
package gossip

import (
	"encoding/hex"
	"time"

	"github.com/spacemeshos/go-scale"
	"github.com/zeebo/blake3"

	"github.com/arqmesh/arqmesh/arq"
)

// Type selects the reconciliation flavor of a gossip instance.
type Type uint8

const (
	// Recent gossip reconciles newly authored data with time-windowed
	// bloom filters.
	Recent Type = iota
	// Historical gossip reconciles older data with precomputed region
	// digests.
	Historical
)

func (t Type) String() string {
	if t == Historical {
		return "historical"
	}
	return "recent"
}

// KeyBytes is an opaque content hash (an op hash or agent digest key).
type KeyBytes []byte

func (k KeyBytes) String() string {
	return hex.EncodeToString(k)
}

// AgentID identifies an agent within the address space.
type AgentID [32]byte

func (a AgentID) String() string {
	return hex.EncodeToString(a[:4])
}

// AgentInfo is a peer-advertised record of one agent: who it is, the
// coverage it claims, where to reach it, and when the claim was made.
type AgentInfo struct {
	Agent    AgentID
	Arq      arq.ArqBounds
	URL      string
	SignedAt uint64 // unix millis
}

// BloomKey is the digest under which the agent record is entered into
// agent bloom filters: it changes whenever the record is re-signed, so
// stale records show up as missing.
func (a *AgentInfo) BloomKey() KeyBytes {
	var buf [40]byte
	copy(buf[:32], a.Agent[:])
	putUint64(buf[32:], a.SignedAt)
	sum := blake3.Sum256(buf[:])
	return sum[:]
}

// EncodeScale implements scale.Encodable.
func (a *AgentInfo) EncodeScale(e *scale.Encoder) (int, error) {
	total := 0
	n, err := scale.EncodeByteArray(e, a.Agent[:])
	if err != nil {
		return total, err
	}
	total += n
	n, err = a.Arq.EncodeScale(e)
	if err != nil {
		return total, err
	}
	total += n
	n, err = scale.EncodeStringWithLimit(e, a.URL, 2048)
	if err != nil {
		return total, err
	}
	total += n
	n, err = scale.EncodeCompact64(e, a.SignedAt)
	if err != nil {
		return total, err
	}
	total += n
	return total, nil
}

// DecodeScale implements scale.Decodable.
func (a *AgentInfo) DecodeScale(d *scale.Decoder) (int, error) {
	total := 0
	n, err := scale.DecodeByteArray(d, a.Agent[:])
	if err != nil {
		return total, err
	}
	total += n
	n, err = a.Arq.DecodeScale(d)
	if err != nil {
		return total, err
	}
	total += n
	url, n, err := scale.DecodeStringWithLimit(d, 2048)
	if err != nil {
		return total, err
	}
	total += n
	a.URL = url
	signedAt, n, err := scale.DecodeCompact64(d)
	if err != nil {
		return total, err
	}
	total += n
	a.SignedAt = signedAt
	return total, nil
}

// TimeWindow is a half-open interval of op authoring time,
// [Start, End) in unix millis.
type TimeWindow struct {
	Start uint64
	End   uint64
}

// Contains reports whether the timestamp falls inside the window.
func (w TimeWindow) Contains(ts uint64) bool {
	return ts >= w.Start && ts < w.End
}

// Duration is the window's extent.
func (w TimeWindow) Duration() time.Duration {
	if w.End < w.Start {
		return 0
	}
	return time.Duration(w.End-w.Start) * time.Millisecond
}

// EncodeScale implements scale.Encodable.
func (w *TimeWindow) EncodeScale(e *scale.Encoder) (int, error) {
	total := 0
	n, err := scale.EncodeCompact64(e, w.Start)
	if err != nil {
		return total, err
	}
	total += n
	n, err = scale.EncodeCompact64(e, w.End)
	if err != nil {
		return total, err
	}
	total += n
	return total, nil
}

// DecodeScale implements scale.Decodable.
func (w *TimeWindow) DecodeScale(d *scale.Decoder) (int, error) {
	total := 0
	start, n, err := scale.DecodeCompact64(d)
	if err != nil {
		return total, err
	}
	total += n
	w.Start = start
	end, n, err := scale.DecodeCompact64(d)
	if err != nil {
		return total, err
	}
	total += n
	w.End = end
	return total, nil
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
