package gossip

import (
	"bufio"
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arqmesh/arqmesh/arq"
)

func testAgent(b byte) AgentInfo {
	var id AgentID
	id[0] = b
	return AgentInfo{
		Agent:    id,
		Arq:      arq.ArqBounds{Start: 3, Power: 12, Count: 8},
		URL:      "quic://127.0.0.1:5778",
		SignedAt: 1700000000000,
	}
}

func TestMessageRoundTrip(t *testing.T) {
	msgs := []Message{
		&Initiate{
			ArqBounds: []arq.ArqBounds{{Start: 1, Power: 14, Count: 16}},
			TieBreak:  0xdeadbeef,
			Agents:    []AgentInfo{testAgent(1), testAgent(2)},
		},
		&Accept{
			ArqBounds: []arq.ArqBounds{{Start: 0, Power: 12, Count: 4}, {Start: 9, Power: 12, Count: 2}},
			Agents:    []AgentInfo{testAgent(3)},
		},
		&AgentBloom{Filter: []byte{1, 2, 3, 4}},
		&MissingAgents{Agents: []AgentInfo{testAgent(4)}},
		&OpBloom{
			Filter: EncodedTimedBloomFilter{
				Kind:   BloomHaveHashes,
				Filter: []byte{9, 8, 7},
				Window: TimeWindow{Start: 100, End: 200},
			},
			Final: true,
		},
		&OpBloom{Filter: EncodedTimedBloomFilter{Kind: BloomNoOverlap}, Final: true},
		&OpBloom{
			Filter: EncodedTimedBloomFilter{
				Kind:   BloomMissingAllHashes,
				Window: TimeWindow{Start: 5, End: 6},
			},
		},
		&MissingOpHashes{
			Hashes:   []KeyBytes{KeyBytes("hash-one"), KeyBytes("hash-two")},
			Finished: true,
		},
		&MissingOpHashes{},
		&OpRegions{Regions: RegionSet{Regions: []Region{{
			Arq:    arq.ArqBounds{Start: 2, Power: 16, Count: 1},
			Window: TimeWindow{Start: 0, End: 1000},
			Count:  42,
			Size:   4096,
			Hash:   RegionHash{0xaa, 0xbb},
		}}}},
		&AlreadyInProgress{},
		&NoAgents{},
		&ProtocolError{Message: "no active round"},
	}

	var buf bytes.Buffer
	for _, m := range msgs {
		require.NoError(t, WriteMessage(&buf, m))
	}

	rd := bufio.NewReader(&buf)
	for i, want := range msgs {
		got, err := ReadMessage(rd)
		require.NoError(t, err, "message %d", i)
		require.Equal(t, want.Type(), got.Type(), "message %d", i)
		require.Equal(t, want, got, "message %d", i)
	}
	_, err := ReadMessage(rd)
	require.ErrorIs(t, err, io.EOF)
}

func TestReadMessageRejectsUnknownType(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{1, 0xff})
	_, err := ReadMessage(bufio.NewReader(&buf))
	require.Error(t, err)
}

func TestReadMessageRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	// A uvarint length far beyond the frame limit.
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0x7f})
	_, err := ReadMessage(bufio.NewReader(&buf))
	require.Error(t, err)
}
