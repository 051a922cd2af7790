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

// Package peer is the bidirectional overlay<->transport-identity registry and
// per-peer lifecycle state machine, grounded on the teacher's bzzeth peer
// pool (a map-under-lock keyed by remote identity) and swap.Swap's
// map[enode.ID]* bookkeeping pattern, generalized from enode.ID to a libp2p
// peer.ID and from a single map to the bidirectional registry the routing
// table and the accounting layer both need.
package peer

import (
	"time"

	libp2pPeer "github.com/libp2p/go-libp2p/core/peer"

	"github.com/nxm-rs/vertex/pkg/swarm"
)

// ID is the transport-level identity of a remote node.
type ID = libp2pPeer.ID

// State is a PeerInfo lifecycle state.
type State int

const (
	// Known means the overlay was learned via gossip but never dialed.
	Known State = iota
	// Connecting means an outbound dial attempt is in flight.
	Connecting
	// Connected means the handshake completed successfully.
	Connected
	// Disconnected means a previously connected peer's connection closed.
	Disconnected
	// Banned is terminal until an explicit unban.
	Banned
)

func (s State) String() string {
	switch s {
	case Known:
		return "known"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Banned:
		return "banned"
	default:
		return "unknown"
	}
}

// Info is the lifecycle record for one overlay.
type Info struct {
	Overlay         swarm.Address
	ID              ID
	State           State
	LastStateChange time.Time
	BanReason       string
}

func newInfo(overlay swarm.Address, id ID, now time.Time) *Info {
	return &Info{
		Overlay:         overlay,
		ID:              id,
		State:           Known,
		LastStateChange: now,
	}
}

func (i *Info) transition(s State, now time.Time) {
	i.State = s
	i.LastStateChange = now
}
