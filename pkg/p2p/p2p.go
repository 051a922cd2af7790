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

// Package p2p defines the transport binding spec.md §6 leaves abstract ("an
// already-multiplexed bidirectional byte stream"): a Service interface for
// dialing, listening, and observing connection lifecycle, plus the stream
// abstraction pkg/topology drives its sub-protocol handlers over.
// pkg/p2p/libp2pv2 is the concrete libp2p-backed implementation; this
// package exists so pkg/topology and pkg/node depend on a narrow interface
// rather than the full libp2p API surface, the same separation the teacher
// draws between swarm/network's Overlay interface and its devp2p binding.
package p2p

import (
	"context"
	"io"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/nxm-rs/vertex/pkg/swarm"
)

// Stream is a single bidirectional substream of one sub-protocol, carried
// over one underlying connection.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
	// Protocol names the sub-protocol ID this stream was opened for.
	Protocol() string
}

// ConnectionID identifies one underlying transport connection, stable for
// its lifetime. Concrete form is implementation-defined (libp2pv2 uses a
// uuid.UUID string).
type ConnectionID string

// EventKind discriminates Event.
type EventKind int

const (
	// ConnectionEstablished fires when a new underlying connection to a
	// remote multiaddr is up, before any sub-protocol has run.
	ConnectionEstablished EventKind = iota
	// ConnectionClosed fires when an underlying connection tears down, for
	// any reason (remote close, dial failure cleanup, local Disconnect).
	ConnectionClosed
	// InboundStream fires when the remote peer opens a new substream for
	// one of the registered protocol IDs.
	InboundStream
)

// Event is the single transport-level notification type pkg/topology's
// behaviour layer consumes to maintain its peer_id -> []connection_id map.
type Event struct {
	Kind       EventKind
	Connection ConnectionID
	Remote     ma.Multiaddr // nil for ConnectionClosed when the remote addr is unknown
	Protocol   string       // set only for InboundStream
	Stream     Stream       // set only for InboundStream
	Err        error        // set only for ConnectionClosed on abnormal teardown
}

// Service is the transport surface pkg/node and pkg/topology depend on.
// Implementations dial and accept libp2p-style multiplexed connections and
// open/accept protocol substreams over them.
type Service interface {
	// Dial opens a new underlying connection to addr and returns its ID.
	// It does not open any substream.
	Dial(ctx context.Context, addr ma.Multiaddr) (ConnectionID, error)
	// NewStream opens a substream for protocolID over an existing connection.
	NewStream(ctx context.Context, conn ConnectionID, protocolID string) (Stream, error)
	// Disconnect tears down the underlying connection.
	Disconnect(conn ConnectionID) error
	// Addresses returns this node's listen multiaddrs (the underlay).
	Addresses() []ma.Multiaddr
	// Overlay returns this node's own overlay address, for loopback checks.
	Overlay() swarm.Address
	// Events returns the channel of connection-lifecycle notifications.
	// It is closed when the Service shuts down.
	Events() <-chan Event
	// Close shuts down the transport, closing all connections.
	Close() error
}
