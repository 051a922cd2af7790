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

// Package libp2pv2 binds pkg/p2p.Service to a real github.com/libp2p/go-libp2p
// host.Host: TCP transport, Noise security, one SetStreamHandler per
// registered protocol ID, and a network.Notifiee translating libp2p's
// connection events into pkg/p2p.Event. Grounded on the host-construction
// and stream-handler-registration pattern shown across the corpus's libp2p
// users (go-libp2p.New(Transport(tcp...), Security(noise...), Identity(...)),
// host.SetStreamHandler, host.Network().Notify).
package libp2pv2

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"sync"

	"github.com/google/uuid"
	libp2p "github.com/libp2p/go-libp2p"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	libp2ppeer "github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	noise "github.com/libp2p/go-libp2p/p2p/security/noise"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/nxm-rs/vertex/pkg/p2p"
	"github.com/nxm-rs/vertex/pkg/swarm"
	"github.com/nxm-rs/vertex/pkg/swarmlog"
)

var logger = swarmlog.New("p2p/libp2pv2")

// Host implements p2p.Service over a libp2p host.Host.
type Host struct {
	host    host.Host
	overlay swarm.Address

	mu      sync.Mutex
	conns   map[p2p.ConnectionID]libp2ppeer.ID
	byPeer  map[libp2ppeer.ID]p2p.ConnectionID
	events  chan p2p.Event
	closing bool
}

// New constructs a Host listening on listenAddrs, identified by the secp256k1
// key underlying identityKey (the same signing key pkg/crypto.Identity wraps
// — libp2p needs its own PrivKey wrapper for transport-layer Noise auth,
// distinct from the overlay's EIP-191 signatures), and registers one stream
// handler per entry in protocolIDs.
func New(identityKey *ecdsa.PrivateKey, overlay swarm.Address, listenAddrs []ma.Multiaddr, protocolIDs []string) (*Host, error) {
	priv, err := libp2pcrypto.UnmarshalSecp256k1PrivateKey(ecdsaPrivateKeyBytes(identityKey))
	if err != nil {
		return nil, fmt.Errorf("libp2pv2: wrapping identity key: %w", err)
	}

	h := &Host{
		overlay: overlay,
		conns:   make(map[p2p.ConnectionID]libp2ppeer.ID),
		byPeer:  make(map[libp2ppeer.ID]p2p.ConnectionID),
		events:  make(chan p2p.Event, 64),
	}

	lh, err := libp2p.New(
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.Security(noise.ID, noise.New),
		libp2p.ListenAddrs(listenAddrs...),
		libp2p.Identity(priv),
	)
	if err != nil {
		return nil, fmt.Errorf("libp2pv2: constructing host: %w", err)
	}
	h.host = lh

	for _, id := range protocolIDs {
		pid := protocol.ID(id)
		lh.SetStreamHandler(pid, h.handleInboundStream)
	}
	lh.Network().Notify(h)

	return h, nil
}

// ecdsaPrivateKeyBytes returns the raw 32-byte secp256k1 scalar, the format
// libp2pcrypto.UnmarshalSecp256k1PrivateKey expects.
func ecdsaPrivateKeyBytes(key *ecdsa.PrivateKey) []byte {
	b := key.D.Bytes()
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

func (h *Host) handleInboundStream(s network.Stream) {
	h.mu.Lock()
	connID, ok := h.byPeer[s.Conn().RemotePeer()]
	h.mu.Unlock()
	if !ok {
		// A substream arrived before our own Connected notifiee callback
		// registered the connection; synthesize an entry so the stream is
		// still attributable.
		connID = p2p.ConnectionID(uuid.NewString())
		h.mu.Lock()
		h.conns[connID] = s.Conn().RemotePeer()
		h.byPeer[s.Conn().RemotePeer()] = connID
		h.mu.Unlock()
	}

	h.emit(p2p.Event{
		Kind:       p2p.InboundStream,
		Connection: connID,
		Protocol:   string(s.Protocol()),
		Stream:     &stream{Stream: s},
	})
}

func (h *Host) emit(ev p2p.Event) {
	select {
	case h.events <- ev:
	default:
		logger.Warn("p2p event channel full, dropping event", "kind", ev.Kind)
	}
}

// network.Notifiee implementation.

func (h *Host) Listen(network.Network, ma.Multiaddr)      {}
func (h *Host) ListenClose(network.Network, ma.Multiaddr) {}

func (h *Host) Connected(_ network.Network, conn network.Conn) {
	connID := p2p.ConnectionID(uuid.NewString())
	h.mu.Lock()
	h.conns[connID] = conn.RemotePeer()
	h.byPeer[conn.RemotePeer()] = connID
	h.mu.Unlock()

	h.emit(p2p.Event{Kind: p2p.ConnectionEstablished, Connection: connID, Remote: conn.RemoteMultiaddr()})
}

func (h *Host) Disconnected(_ network.Network, conn network.Conn) {
	h.mu.Lock()
	connID, ok := h.byPeer[conn.RemotePeer()]
	if ok {
		delete(h.byPeer, conn.RemotePeer())
		delete(h.conns, connID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	h.emit(p2p.Event{Kind: p2p.ConnectionClosed, Connection: connID, Remote: conn.RemoteMultiaddr()})
}

// Dial opens a new underlying connection to addr.
func (h *Host) Dial(ctx context.Context, addr ma.Multiaddr) (p2p.ConnectionID, error) {
	info, err := libp2ppeer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return "", fmt.Errorf("libp2pv2: parsing dial address: %w", err)
	}
	if err := h.host.Connect(ctx, *info); err != nil {
		return "", fmt.Errorf("libp2pv2: dialing %s: %w", addr, err)
	}

	h.mu.Lock()
	connID, ok := h.byPeer[info.ID]
	h.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("libp2pv2: connection to %s established but not tracked", info.ID)
	}
	return connID, nil
}

// NewStream opens a substream for protocolID over an existing connection.
func (h *Host) NewStream(ctx context.Context, conn p2p.ConnectionID, protocolID string) (p2p.Stream, error) {
	h.mu.Lock()
	peerID, ok := h.conns[conn]
	h.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("libp2pv2: unknown connection %s", conn)
	}

	s, err := h.host.NewStream(ctx, peerID, protocol.ID(protocolID))
	if err != nil {
		return nil, fmt.Errorf("libp2pv2: opening %s stream to %s: %w", protocolID, peerID, err)
	}
	return &stream{Stream: s}, nil
}

// Disconnect tears down the underlying connection.
func (h *Host) Disconnect(conn p2p.ConnectionID) error {
	h.mu.Lock()
	peerID, ok := h.conns[conn]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("libp2pv2: unknown connection %s", conn)
	}
	return h.host.Network().ClosePeer(peerID)
}

// Addresses returns this node's listen multiaddrs.
func (h *Host) Addresses() []ma.Multiaddr { return h.host.Addrs() }

// Overlay returns this node's own overlay address.
func (h *Host) Overlay() swarm.Address { return h.overlay }

// Events returns the connection-lifecycle event channel.
func (h *Host) Events() <-chan p2p.Event { return h.events }

// Close shuts down the libp2p host and the event channel.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		return nil
	}
	h.closing = true
	h.mu.Unlock()

	err := h.host.Close()
	close(h.events)
	return err
}

// stream adapts network.Stream to p2p.Stream.
type stream struct {
	network.Stream
}

func (s *stream) Protocol() string { return string(s.Stream.Protocol()) }
