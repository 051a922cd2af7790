// Copyright 2024 The Vertex Authors
// This file is part of the Vertex library.
//
// The Vertex library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The Vertex library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the Vertex library. If not, see <http://www.gnu.org/licenses/>.

// Package topology is the per-connection handler and behaviour layer
// (spec.md §4.9): one Handler per connection multiplexes the handshake,
// hive, and pingpong sub-protocols behind a command queue, and the
// Behaviour maintains the overlay -> connections map, driving handshakes on
// outbound connections and translating transport lifecycle events into the
// HandshakeCompleted/PeerConnectionClosed events pkg/node consumes.
//
// Grounded on the teacher's bzzeth.Run loop (one handler per connection,
// handshake-then-message-loop, peer pool keyed by identity), generalized
// from bzzeth's single sub-protocol to three, and from its peer-pool map to
// an overlay -> []connection_id multimap per spec.md §4.9.
package topology

import (
	"time"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/nxm-rs/vertex/pkg/handshake"
	"github.com/nxm-rs/vertex/pkg/p2p"
	"github.com/nxm-rs/vertex/pkg/swarm"
)

// CommandKind discriminates Command.
type CommandKind int

const (
	// CmdStartHandshake transitions the handshake sub-machine to Start,
	// opening an outbound handshake substream on next poll.
	CmdStartHandshake CommandKind = iota
	// CmdBroadcastPeers enqueues a hive send on a new hive substream.
	CmdBroadcastPeers
	// CmdPing opens a pingpong substream with the given greeting.
	CmdPing
)

// Command is a directive queued to one connection's Handler. Commands on a
// given connection execute in submission order (spec.md §4.9).
type Command struct {
	Kind         CommandKind
	ResolvedAddr ma.Multiaddr // CmdStartHandshake: the remote's address as dialed
	Peers        []*swarm.Peer
	Greeting     string
}

// EventKind discriminates Event.
type EventKind int

const (
	// HandshakeCompleted carries the authenticated remote peer.
	HandshakeCompleted EventKind = iota
	// HandshakeFailed carries the failure reason; the connection is closed.
	HandshakeFailed
	// HivePeersReceived carries one validated batch from the peer.
	HivePeersReceived
	// HiveBroadcastComplete confirms an outbound batch was sent.
	HiveBroadcastComplete
	// HiveError carries a send/receive/queue-overflow failure.
	HiveError
	// PingpongPong carries the measured round-trip time.
	PingpongPong
	// PingpongPingReceived fires when this node answered an inbound ping.
	PingpongPingReceived
	// PingpongError carries a round-trip failure.
	PingpongError
	// PeerConnectionClosed fires once a peer's last connection closes
	// (emitted by the Behaviour, not a Handler).
	PeerConnectionClosed
)

// Event is emitted by a Handler (Connection set) or the Behaviour (Overlay
// set, Connection zero) upstream to pkg/node's event loop.
type Event struct {
	Kind           EventKind
	Connection     p2p.ConnectionID
	Overlay        swarm.Address
	HandshakeInfo  *handshake.Info
	Peers          []*swarm.Peer
	RTT            time.Duration
	Greeting       string
	Err            error
}
