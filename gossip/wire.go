package gossip

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/multiformats/go-varint"
	"github.com/spacemeshos/go-scale"

	"github.com/arqmesh/arqmesh/arq"
	"github.com/arqmesh/arqmesh/codec"
)

// MessageType tags each frame on the wire.
type MessageType uint8

const (
	MessageTypeInitiate MessageType = iota
	MessageTypeAccept
	MessageTypeAgentBloom
	MessageTypeMissingAgents
	MessageTypeOpBloom
	MessageTypeMissingOpHashes
	MessageTypeOpRegions
	MessageTypeAlreadyInProgress
	MessageTypeNoAgents
	MessageTypeError
)

const (
	maxFrameSize  = 4 << 20
	maxWireArqs   = 1024
	maxWireAgents = 1024
	maxWireHashes = 16384
	maxFilterSize = 1 << 20
)

// Message is a single sharded gossip protocol message.
type Message interface {
	scale.Encodable
	Type() MessageType
}

// marker provides the empty scale encoding for payload-less messages.
type marker struct{}

func (*marker) EncodeScale(*scale.Encoder) (int, error) { return 0, nil }
func (*marker) DecodeScale(*scale.Decoder) (int, error) { return 0, nil }

// Initiate opens a gossip round: the sender's coverage, a random
// tie-break id for simultaneous-initiate races, and its agent records.
type Initiate struct {
	ArqBounds []arq.ArqBounds
	TieBreak  uint32
	Agents    []AgentInfo
}

func (*Initiate) Type() MessageType { return MessageTypeInitiate }

// EncodeScale implements scale.Encodable.
func (m *Initiate) EncodeScale(e *scale.Encoder) (int, error) {
	total := 0
	n, err := scale.EncodeStructSliceWithLimit(e, m.ArqBounds, maxWireArqs)
	if err != nil {
		return total, err
	}
	total += n
	n, err = scale.EncodeCompact32(e, m.TieBreak)
	if err != nil {
		return total, err
	}
	total += n
	n, err = scale.EncodeStructSliceWithLimit(e, m.Agents, maxWireAgents)
	if err != nil {
		return total, err
	}
	total += n
	return total, nil
}

// DecodeScale implements scale.Decodable.
func (m *Initiate) DecodeScale(d *scale.Decoder) (int, error) {
	total := 0
	arqs, n, err := scale.DecodeStructSliceWithLimit[arq.ArqBounds](d, maxWireArqs)
	if err != nil {
		return total, err
	}
	total += n
	m.ArqBounds = arqs
	id, n, err := scale.DecodeCompact32(d)
	if err != nil {
		return total, err
	}
	total += n
	m.TieBreak = id
	agents, n, err := scale.DecodeStructSliceWithLimit[AgentInfo](d, maxWireAgents)
	if err != nil {
		return total, err
	}
	total += n
	m.Agents = agents
	return total, nil
}

// Accept answers an Initiate with the accepter's own coverage and
// agents. Bloom or region messages follow in the same batch.
type Accept struct {
	ArqBounds []arq.ArqBounds
	Agents    []AgentInfo
}

func (*Accept) Type() MessageType { return MessageTypeAccept }

// EncodeScale implements scale.Encodable.
func (m *Accept) EncodeScale(e *scale.Encoder) (int, error) {
	total := 0
	n, err := scale.EncodeStructSliceWithLimit(e, m.ArqBounds, maxWireArqs)
	if err != nil {
		return total, err
	}
	total += n
	n, err = scale.EncodeStructSliceWithLimit(e, m.Agents, maxWireAgents)
	if err != nil {
		return total, err
	}
	total += n
	return total, nil
}

// DecodeScale implements scale.Decodable.
func (m *Accept) DecodeScale(d *scale.Decoder) (int, error) {
	total := 0
	arqs, n, err := scale.DecodeStructSliceWithLimit[arq.ArqBounds](d, maxWireArqs)
	if err != nil {
		return total, err
	}
	total += n
	m.ArqBounds = arqs
	agents, n, err := scale.DecodeStructSliceWithLimit[AgentInfo](d, maxWireAgents)
	if err != nil {
		return total, err
	}
	total += n
	m.Agents = agents
	return total, nil
}

// AgentBloom carries a bloom filter over the sender's known agent
// records within the round's common coverage.
type AgentBloom struct {
	Filter []byte
}

func (*AgentBloom) Type() MessageType { return MessageTypeAgentBloom }

// EncodeScale implements scale.Encodable.
func (m *AgentBloom) EncodeScale(e *scale.Encoder) (int, error) {
	return scale.EncodeByteSliceWithLimit(e, m.Filter, maxFilterSize)
}

// DecodeScale implements scale.Decodable.
func (m *AgentBloom) DecodeScale(d *scale.Decoder) (int, error) {
	filter, n, err := scale.DecodeByteSliceWithLimit(d, maxFilterSize)
	if err != nil {
		return n, err
	}
	m.Filter = filter
	return n, nil
}

// MissingAgents answers an AgentBloom with the agent records the
// filter did not contain.
type MissingAgents struct {
	Agents []AgentInfo
}

func (*MissingAgents) Type() MessageType { return MessageTypeMissingAgents }

// EncodeScale implements scale.Encodable.
func (m *MissingAgents) EncodeScale(e *scale.Encoder) (int, error) {
	return scale.EncodeStructSliceWithLimit(e, m.Agents, maxWireAgents)
}

// DecodeScale implements scale.Decodable.
func (m *MissingAgents) DecodeScale(d *scale.Decoder) (int, error) {
	agents, n, err := scale.DecodeStructSliceWithLimit[AgentInfo](d, maxWireAgents)
	if err != nil {
		return n, err
	}
	m.Agents = agents
	return n, nil
}

// BloomKind distinguishes the three reductions of a timed op bloom.
type BloomKind uint8

const (
	// BloomNoOverlap means nothing at all was found across the window.
	BloomNoOverlap BloomKind = iota
	// BloomHaveHashes carries an encoded filter for the window.
	BloomHaveHashes
	// BloomMissingAllHashes means the sender holds the arc but has no
	// hash data for it: the receiver should send everything.
	BloomMissingAllHashes
)

// EncodedTimedBloomFilter is an op-hash bloom filter reduced for the
// wire, tagged with the time window it covers.
type EncodedTimedBloomFilter struct {
	Kind   BloomKind
	Filter []byte
	Window TimeWindow
}

// EncodeScale implements scale.Encodable.
func (f *EncodedTimedBloomFilter) EncodeScale(e *scale.Encoder) (int, error) {
	total := 0
	n, err := scale.EncodeCompact8(e, uint8(f.Kind))
	if err != nil {
		return total, err
	}
	total += n
	switch f.Kind {
	case BloomNoOverlap:
	case BloomHaveHashes:
		n, err = scale.EncodeByteSliceWithLimit(e, f.Filter, maxFilterSize)
		if err != nil {
			return total, err
		}
		total += n
		n, err = f.Window.EncodeScale(e)
		if err != nil {
			return total, err
		}
		total += n
	case BloomMissingAllHashes:
		n, err = f.Window.EncodeScale(e)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// DecodeScale implements scale.Decodable.
func (f *EncodedTimedBloomFilter) DecodeScale(d *scale.Decoder) (int, error) {
	total := 0
	kind, n, err := scale.DecodeCompact8(d)
	if err != nil {
		return total, err
	}
	total += n
	f.Kind = BloomKind(kind)
	switch f.Kind {
	case BloomNoOverlap:
	case BloomHaveHashes:
		filter, n, err := scale.DecodeByteSliceWithLimit(d, maxFilterSize)
		if err != nil {
			return total, err
		}
		total += n
		f.Filter = filter
		n, err = f.Window.DecodeScale(d)
		if err != nil {
			return total, err
		}
		total += n
	case BloomMissingAllHashes:
		n, err = f.Window.DecodeScale(d)
		if err != nil {
			return total, err
		}
		total += n
	default:
		return total, fmt.Errorf("invalid bloom kind %d", kind)
	}
	return total, nil
}

// OpBloom carries one timed op bloom. Final marks the last bloom of the
// last window in the current batch.
type OpBloom struct {
	Filter EncodedTimedBloomFilter
	Final  bool
}

func (*OpBloom) Type() MessageType { return MessageTypeOpBloom }

// EncodeScale implements scale.Encodable.
func (m *OpBloom) EncodeScale(e *scale.Encoder) (int, error) {
	total := 0
	n, err := m.Filter.EncodeScale(e)
	if err != nil {
		return total, err
	}
	total += n
	n, err = scale.EncodeBool(e, m.Final)
	if err != nil {
		return total, err
	}
	total += n
	return total, nil
}

// DecodeScale implements scale.Decodable.
func (m *OpBloom) DecodeScale(d *scale.Decoder) (int, error) {
	total := 0
	n, err := m.Filter.DecodeScale(d)
	if err != nil {
		return total, err
	}
	total += n
	final, n, err := scale.DecodeBool(d)
	if err != nil {
		return total, err
	}
	total += n
	m.Final = final
	return total, nil
}

// MissingOpHashes answers an OpBloom with the hashes the filter did not
// contain. Finished mirrors the bloom's Final flag back so the sender
// knows all its blooms have been answered.
type MissingOpHashes struct {
	Hashes   []KeyBytes
	Finished bool
}

func (*MissingOpHashes) Type() MessageType { return MessageTypeMissingOpHashes }

// EncodeScale implements scale.Encodable.
func (m *MissingOpHashes) EncodeScale(e *scale.Encoder) (int, error) {
	total := 0
	n, err := scale.EncodeCompact32(e, uint32(len(m.Hashes)))
	if err != nil {
		return total, err
	}
	total += n
	for _, h := range m.Hashes {
		n, err = scale.EncodeByteSliceWithLimit(e, h, 64)
		if err != nil {
			return total, err
		}
		total += n
	}
	n, err = scale.EncodeBool(e, m.Finished)
	if err != nil {
		return total, err
	}
	total += n
	return total, nil
}

// DecodeScale implements scale.Decodable.
func (m *MissingOpHashes) DecodeScale(d *scale.Decoder) (int, error) {
	total := 0
	count, n, err := scale.DecodeCompact32(d)
	if err != nil {
		return total, err
	}
	total += n
	if count > maxWireHashes {
		return total, fmt.Errorf("hash count %d exceeds limit", count)
	}
	var hashes []KeyBytes
	for i := uint32(0); i < count; i++ {
		h, n, err := scale.DecodeByteSliceWithLimit(d, 64)
		if err != nil {
			return total, err
		}
		total += n
		hashes = append(hashes, KeyBytes(h))
	}
	m.Hashes = hashes
	finished, n, err := scale.DecodeBool(d)
	if err != nil {
		return total, err
	}
	total += n
	m.Finished = finished
	return total, nil
}

// OpRegions carries the region digest summary for a Historical round.
type OpRegions struct {
	Regions RegionSet
}

func (*OpRegions) Type() MessageType { return MessageTypeOpRegions }

// EncodeScale implements scale.Encodable.
func (m *OpRegions) EncodeScale(e *scale.Encoder) (int, error) {
	return m.Regions.EncodeScale(e)
}

// DecodeScale implements scale.Decodable.
func (m *OpRegions) DecodeScale(d *scale.Decoder) (int, error) {
	return m.Regions.DecodeScale(d)
}

// AlreadyInProgress rejects a stale initiate: a round for this peer is
// already running.
type AlreadyInProgress struct{ marker }

func (*AlreadyInProgress) Type() MessageType { return MessageTypeAlreadyInProgress }

// NoAgents rejects an initiate because the receiver has no local agents
// to gossip on behalf of.
type NoAgents struct{ marker }

func (*NoAgents) Type() MessageType { return MessageTypeNoAgents }

// ProtocolError closes the remote's round without tearing down the
// subsystem.
type ProtocolError struct {
	Message string
}

func (*ProtocolError) Type() MessageType { return MessageTypeError }

// EncodeScale implements scale.Encodable.
func (m *ProtocolError) EncodeScale(e *scale.Encoder) (int, error) {
	return scale.EncodeStringWithLimit(e, m.Message, 1024)
}

// DecodeScale implements scale.Decodable.
func (m *ProtocolError) DecodeScale(d *scale.Decoder) (int, error) {
	msg, n, err := scale.DecodeStringWithLimit(d, 1024)
	if err != nil {
		return n, err
	}
	m.Message = msg
	return n, nil
}

// WriteMessage frames and writes a single message: uvarint frame length,
// one type byte, then the scale-encoded payload.
func WriteMessage(w io.Writer, m Message) error {
	payload, err := codec.Encode(m)
	if err != nil {
		return fmt.Errorf("encode %T: %w", m, err)
	}
	sz := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(sz, uint64(len(payload))+1)
	if _, err := w.Write(sz[:n]); err != nil {
		return err
	}
	if _, err := w.Write([]byte{byte(m.Type())}); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return nil
}

// ReadMessage reads and decodes a single framed message. It returns
// io.EOF when the stream ends cleanly between frames.
func ReadMessage(r *bufio.Reader) (Message, error) {
	size, err := varint.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if size == 0 || size > maxFrameSize {
		return nil, fmt.Errorf("invalid frame size %d", size)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	m, err := newMessage(MessageType(buf[0]))
	if err != nil {
		return nil, err
	}
	if len(buf) > 1 {
		if err := codec.Decode(buf[1:], m); err != nil {
			return nil, fmt.Errorf("decode %T: %w", m, err)
		}
	}
	return m, nil
}

func newMessage(t MessageType) (Message, error) {
	switch t {
	case MessageTypeInitiate:
		return &Initiate{}, nil
	case MessageTypeAccept:
		return &Accept{}, nil
	case MessageTypeAgentBloom:
		return &AgentBloom{}, nil
	case MessageTypeMissingAgents:
		return &MissingAgents{}, nil
	case MessageTypeOpBloom:
		return &OpBloom{}, nil
	case MessageTypeMissingOpHashes:
		return &MissingOpHashes{}, nil
	case MessageTypeOpRegions:
		return &OpRegions{}, nil
	case MessageTypeAlreadyInProgress:
		return &AlreadyInProgress{}, nil
	case MessageTypeNoAgents:
		return &NoAgents{}, nil
	case MessageTypeError:
		return &ProtocolError{}, nil
	default:
		return nil, fmt.Errorf("invalid message code %02x", byte(t))
	}
}
