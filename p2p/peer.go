// Package p2p holds peer identity types shared across the node.
package p2p

import "github.com/libp2p/go-libp2p/core/peer"

// Peer is an alias to libp2p's peer.ID. It doubles as the peer
// certificate that keys gossip rounds: one active round per Peer.
type Peer = peer.ID

// NoPeer is used when a peer doesn't matter.
const NoPeer Peer = ""

// IsNoPeer checks for the absent peer.
func IsNoPeer(p Peer) bool {
	return p == NoPeer
}
