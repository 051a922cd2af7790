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

package topology

import (
	"context"
	"sync"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/nxm-rs/vertex/pkg/handshake"
	"github.com/nxm-rs/vertex/pkg/hive"
	"github.com/nxm-rs/vertex/pkg/p2p"
	"github.com/nxm-rs/vertex/pkg/pingpong"
	"github.com/nxm-rs/vertex/pkg/swarm"
)

// behaviourEventQueueSize bounds the fan-in of per-handler events into the
// Behaviour's own processing loop.
const behaviourEventQueueSize = 256

// Behaviour wraps every connection's Handler, maintains the
// overlay -> []connection_id map, and drives outbound handshakes as soon as
// a dialed connection comes up. It is the sole producer of Events consumed
// by pkg/node's event loop.
type Behaviour struct {
	transport    p2p.Service
	handshakeSvc *handshake.Service
	hiveSvc      *hive.Service
	pingpongSvc  *pingpong.Service

	protoHandshake, protoHive, protoPingpong string

	mu              sync.Mutex
	handlers        map[p2p.ConnectionID]*Handler
	pendingOutbound map[p2p.ConnectionID]ma.Multiaddr
	connOverlay     map[p2p.ConnectionID]swarm.Address
	byOverlay       map[string][]p2p.ConnectionID

	handlerEvents chan Event
	upstream      chan Event
}

// NewBehaviour constructs a Behaviour bound to transport and the three
// sub-protocol services, registered under the given protocol IDs.
func NewBehaviour(
	transport p2p.Service,
	handshakeSvc *handshake.Service,
	hiveSvc *hive.Service,
	pingpongSvc *pingpong.Service,
	protoHandshake, protoHive, protoPingpong string,
) *Behaviour {
	return &Behaviour{
		transport:       transport,
		handshakeSvc:    handshakeSvc,
		hiveSvc:         hiveSvc,
		pingpongSvc:     pingpongSvc,
		protoHandshake:  protoHandshake,
		protoHive:       protoHive,
		protoPingpong:   protoPingpong,
		handlers:        make(map[p2p.ConnectionID]*Handler),
		pendingOutbound: make(map[p2p.ConnectionID]ma.Multiaddr),
		connOverlay:     make(map[p2p.ConnectionID]swarm.Address),
		byOverlay:       make(map[string][]p2p.ConnectionID),
		handlerEvents:   make(chan Event, behaviourEventQueueSize),
		upstream:        make(chan Event, behaviourEventQueueSize),
	}
}

// Events returns the upstream event channel pkg/node's event loop consumes.
func (b *Behaviour) Events() <-chan Event { return b.upstream }

// Dial opens a new connection to addr and arranges for StartHandshake to
// fire against it once ConnectionEstablished arrives.
func (b *Behaviour) Dial(ctx context.Context, addr ma.Multiaddr) (p2p.ConnectionID, error) {
	connID, err := b.transport.Dial(ctx, addr)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	b.pendingOutbound[connID] = addr
	b.mu.Unlock()
	return connID, nil
}

// BroadcastPeers enqueues CmdBroadcastPeers on every live connection to overlay.
func (b *Behaviour) BroadcastPeers(overlay swarm.Address, peers []*swarm.Peer) {
	b.mu.Lock()
	conns := append([]p2p.ConnectionID(nil), b.byOverlay[overlay.String()]...)
	b.mu.Unlock()
	for _, c := range conns {
		b.mu.Lock()
		h := b.handlers[c]
		b.mu.Unlock()
		if h != nil {
			h.Enqueue(Command{Kind: CmdBroadcastPeers, Peers: peers})
			return // first alive substream only, per spec.md §4.9
		}
	}
}

// Ping opens a pingpong substream to the first live connection to overlay.
func (b *Behaviour) Ping(overlay swarm.Address, greeting string) {
	b.mu.Lock()
	conns := append([]p2p.ConnectionID(nil), b.byOverlay[overlay.String()]...)
	b.mu.Unlock()
	for _, c := range conns {
		b.mu.Lock()
		h := b.handlers[c]
		b.mu.Unlock()
		if h != nil {
			h.Enqueue(Command{Kind: CmdPing, Greeting: greeting})
			return
		}
	}
}

// Disconnect closes every connection currently open to overlay.
func (b *Behaviour) Disconnect(overlay swarm.Address) {
	b.mu.Lock()
	conns := append([]p2p.ConnectionID(nil), b.byOverlay[overlay.String()]...)
	b.mu.Unlock()
	for _, c := range conns {
		b.transport.Disconnect(c)
	}
}

// Run drains the transport's event stream and each handler's emitted
// events, translating both into upstream Events, until ctx is done.
func (b *Behaviour) Run(ctx context.Context) {
	for {
		select {
		case tev, ok := <-b.transport.Events():
			if !ok {
				return
			}
			b.handleTransportEvent(ctx, tev)
		case hev := <-b.handlerEvents:
			b.handleHandlerEvent(ctx, hev)
		case <-ctx.Done():
			return
		}
	}
}

func (b *Behaviour) handleTransportEvent(ctx context.Context, tev p2p.Event) {
	switch tev.Kind {
	case p2p.ConnectionEstablished:
		b.mu.Lock()
		addr, outbound := b.pendingOutbound[tev.Connection]
		delete(b.pendingOutbound, tev.Connection)
		h := newHandler(b.transport, tev.Connection, outbound, tev.Remote,
			b.handshakeSvc, b.hiveSvc, b.pingpongSvc,
			b.protoHandshake, b.protoHive, b.protoPingpong,
			b.emitFromHandler)
		b.handlers[tev.Connection] = h
		b.mu.Unlock()

		h.Start(ctx)
		if outbound {
			h.Enqueue(Command{Kind: CmdStartHandshake, ResolvedAddr: addr})
		}

	case p2p.ConnectionClosed:
		b.mu.Lock()
		h := b.handlers[tev.Connection]
		delete(b.handlers, tev.Connection)
		delete(b.pendingOutbound, tev.Connection)
		overlay, hadOverlay := b.connOverlay[tev.Connection]
		delete(b.connOverlay, tev.Connection)
		remaining := -1
		if hadOverlay {
			key := overlay.String()
			var kept []p2p.ConnectionID
			for _, c := range b.byOverlay[key] {
				if c != tev.Connection {
					kept = append(kept, c)
				}
			}
			if len(kept) == 0 {
				delete(b.byOverlay, key)
			} else {
				b.byOverlay[key] = kept
			}
			remaining = len(kept)
		}
		b.mu.Unlock()

		if h != nil {
			h.Close()
		}
		if hadOverlay && remaining == 0 {
			b.forwardUpstream(ctx, Event{Kind: PeerConnectionClosed, Overlay: overlay})
		}

	case p2p.InboundStream:
		b.mu.Lock()
		h := b.handlers[tev.Connection]
		b.mu.Unlock()
		if h != nil {
			h.HandleInboundStream(tev.Protocol, tev.Stream)
		} else {
			tev.Stream.Close()
		}
	}
}

func (b *Behaviour) emitFromHandler(ev Event) {
	select {
	case b.handlerEvents <- ev:
	default:
		// Handler event queue saturated; the connection's own command queue
		// back-pressure is the primary safety valve, so this is a last-resort
		// drop rather than a blocking send that could wedge every handler.
	}
}

func (b *Behaviour) handleHandlerEvent(ctx context.Context, ev Event) {
	switch ev.Kind {
	case HandshakeCompleted:
		overlay := ev.HandshakeInfo.RemotePeer.Overlay
		b.mu.Lock()
		b.connOverlay[ev.Connection] = overlay
		key := overlay.String()
		b.byOverlay[key] = append(b.byOverlay[key], ev.Connection)
		h := b.handlers[ev.Connection]
		b.mu.Unlock()
		if h != nil {
			h.SetOverlay(overlay)
		}
		ev.Overlay = overlay
		b.forwardUpstream(ctx, ev)

	case HandshakeFailed:
		b.transport.Disconnect(ev.Connection)
		b.forwardUpstream(ctx, ev)

	default:
		b.forwardUpstream(ctx, ev)
	}
}

func (b *Behaviour) forwardUpstream(ctx context.Context, ev Event) {
	select {
	case b.upstream <- ev:
	case <-ctx.Done():
	}
}
