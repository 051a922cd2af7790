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

package node

import (
	"context"
	"fmt"
	"net"
	"sync"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/nxm-rs/vertex/pkg/p2p"
	"github.com/nxm-rs/vertex/pkg/swarm"
)

// fakeTransport is the same in-process p2p.Service double pkg/topology uses
// for its own Behaviour tests, duplicated here (package-private, test-only)
// since pkg/topology's is unexported and this package needs its own
// registry instance per test to avoid cross-test address collisions.
type fakeTransport struct {
	overlay swarm.Address
	addr    ma.Multiaddr

	mu    sync.Mutex
	conns map[p2p.ConnectionID]*fakeConn

	registry *fakeRegistry
	events   chan p2p.Event
	seq      int
}

type fakeConn struct {
	peer       *fakeTransport
	peerConnID p2p.ConnectionID
}

type fakeRegistry struct {
	mu sync.Mutex
	m  map[string]*fakeTransport
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{m: make(map[string]*fakeTransport)}
}

func (reg *fakeRegistry) newTransport(overlay swarm.Address, addrStr string) *fakeTransport {
	addr, err := ma.NewMultiaddr(addrStr)
	if err != nil {
		panic(err)
	}
	t := &fakeTransport{
		overlay:  overlay,
		addr:     addr,
		conns:    make(map[p2p.ConnectionID]*fakeConn),
		registry: reg,
		events:   make(chan p2p.Event, 64),
	}
	reg.mu.Lock()
	reg.m[addrStr] = t
	reg.mu.Unlock()
	return t
}

func (t *fakeTransport) nextConnID() p2p.ConnectionID {
	t.seq++
	return p2p.ConnectionID(fmt.Sprintf("%s-conn-%d", t.overlay.String()[:8], t.seq))
}

func (t *fakeTransport) Dial(ctx context.Context, addr ma.Multiaddr) (p2p.ConnectionID, error) {
	t.registry.mu.Lock()
	remote, ok := t.registry.m[addr.String()]
	t.registry.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("fakeTransport: no peer registered at %s", addr)
	}

	localID := t.nextConnID()
	remoteID := remote.nextConnID()

	t.mu.Lock()
	t.conns[localID] = &fakeConn{peer: remote, peerConnID: remoteID}
	t.mu.Unlock()
	remote.mu.Lock()
	remote.conns[remoteID] = &fakeConn{peer: t, peerConnID: localID}
	remote.mu.Unlock()

	t.emit(p2p.Event{Kind: p2p.ConnectionEstablished, Connection: localID, Remote: remote.addr})
	remote.emit(p2p.Event{Kind: p2p.ConnectionEstablished, Connection: remoteID, Remote: t.addr})

	return localID, nil
}

func (t *fakeTransport) NewStream(ctx context.Context, conn p2p.ConnectionID, protocolID string) (p2p.Stream, error) {
	t.mu.Lock()
	c, ok := t.conns[conn]
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("fakeTransport: unknown connection %s", conn)
	}

	local, remote := net.Pipe()
	c.peer.emit(p2p.Event{
		Kind:       p2p.InboundStream,
		Connection: c.peerConnID,
		Protocol:   protocolID,
		Stream:     &fakeStream{Conn: remote, proto: protocolID},
	})
	return &fakeStream{Conn: local, proto: protocolID}, nil
}

func (t *fakeTransport) Disconnect(conn p2p.ConnectionID) error {
	t.mu.Lock()
	c, ok := t.conns[conn]
	delete(t.conns, conn)
	t.mu.Unlock()
	if !ok {
		return nil
	}
	t.emit(p2p.Event{Kind: p2p.ConnectionClosed, Connection: conn})

	c.peer.mu.Lock()
	delete(c.peer.conns, c.peerConnID)
	c.peer.mu.Unlock()
	c.peer.emit(p2p.Event{Kind: p2p.ConnectionClosed, Connection: c.peerConnID})
	return nil
}

func (t *fakeTransport) Addresses() []ma.Multiaddr { return []ma.Multiaddr{t.addr} }
func (t *fakeTransport) Overlay() swarm.Address    { return t.overlay }
func (t *fakeTransport) Events() <-chan p2p.Event  { return t.events }
func (t *fakeTransport) Close() error              { close(t.events); return nil }

func (t *fakeTransport) emit(ev p2p.Event) {
	select {
	case t.events <- ev:
	default:
	}
}

type fakeStream struct {
	net.Conn
	proto string
}

func (s *fakeStream) Protocol() string { return s.proto }
