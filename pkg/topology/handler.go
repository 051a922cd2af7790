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
	"github.com/nxm-rs/vertex/pkg/swarmerr"
	"github.com/nxm-rs/vertex/pkg/swarmlog"
)

var logger = swarmlog.New("topology")

// commandQueueSize bounds each Handler's command queue (spec.md §5's
// back-pressure policy: bounded outbound queues, drop-and-log on overflow).
const commandQueueSize = 16

// Handler owns one connection's three sub-protocol state machines and its
// command queue. One Handler per connection, never shared.
type Handler struct {
	transport  p2p.Service
	conn       p2p.ConnectionID
	outbound   bool
	remoteAddr ma.Multiaddr

	handshakeSvc *handshake.Service
	hiveSvc      *hive.Service
	pingpongSvc  *pingpong.Service

	protoHandshake, protoHive, protoPingpong string

	cmdCh chan Command
	emit  func(Event)
	done  chan struct{}

	mu      sync.RWMutex
	overlay swarm.Address // the remote's overlay, set once its handshake completes
}

func newHandler(
	transport p2p.Service,
	conn p2p.ConnectionID,
	outbound bool,
	remoteAddr ma.Multiaddr,
	handshakeSvc *handshake.Service,
	hiveSvc *hive.Service,
	pingpongSvc *pingpong.Service,
	protoHandshake, protoHive, protoPingpong string,
	emit func(Event),
) *Handler {
	return &Handler{
		transport:      transport,
		conn:           conn,
		outbound:       outbound,
		remoteAddr:     remoteAddr,
		handshakeSvc:   handshakeSvc,
		hiveSvc:        hiveSvc,
		pingpongSvc:    pingpongSvc,
		protoHandshake: protoHandshake,
		protoHive:      protoHive,
		protoPingpong:  protoPingpong,
		cmdCh:          make(chan Command, commandQueueSize),
		emit:           emit,
		done:           make(chan struct{}),
	}
}

// Start runs the handler's command loop until ctx is done or Close is called.
func (h *Handler) Start(ctx context.Context) {
	go h.run(ctx)
}

// Close stops the handler's command loop; in-flight sub-protocol I/O aborts
// when its underlying stream errors on the now-closed connection.
func (h *Handler) Close() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

// SetOverlay records the remote's overlay once its handshake has completed,
// used as the hive rate-limit key for inbound batches on this connection.
func (h *Handler) SetOverlay(overlay swarm.Address) {
	h.mu.Lock()
	h.overlay = overlay
	h.mu.Unlock()
}

func (h *Handler) getOverlay() swarm.Address {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.overlay
}

// Enqueue submits a command, executed in order relative to every other
// command submitted to this Handler. Overflow drops the command and emits
// HiveError, per spec.md §5.
func (h *Handler) Enqueue(cmd Command) {
	select {
	case h.cmdCh <- cmd:
	default:
		logger.Warn("topology: command queue full, dropping command", "conn", h.conn, "kind", cmd.Kind)
		h.emit(Event{Kind: HiveError, Connection: h.conn, Err: swarmerr.New(swarmerr.Protocol, "topology: command queue overflow for connection %s", h.conn)})
	}
}

func (h *Handler) run(ctx context.Context) {
	for {
		select {
		case cmd := <-h.cmdCh:
			h.execute(ctx, cmd)
		case <-ctx.Done():
			return
		case <-h.done:
			return
		}
	}
}

func (h *Handler) execute(ctx context.Context, cmd Command) {
	switch cmd.Kind {
	case CmdStartHandshake:
		h.runHandshake(ctx, cmd.ResolvedAddr)
	case CmdBroadcastPeers:
		h.runBroadcastPeers(ctx, cmd.Peers)
	case CmdPing:
		h.runPing(ctx, cmd.Greeting)
	}
}

func (h *Handler) runHandshake(ctx context.Context, resolvedAddr ma.Multiaddr) {
	stream, err := h.transport.NewStream(ctx, h.conn, h.protoHandshake)
	if err != nil {
		h.emit(Event{Kind: HandshakeFailed, Connection: h.conn, Err: err})
		return
	}
	defer stream.Close()

	info, err := h.handshakeSvc.Initiate(ctx, stream, resolvedAddr)
	if err != nil {
		h.emit(Event{Kind: HandshakeFailed, Connection: h.conn, Err: err})
		return
	}
	h.emit(Event{Kind: HandshakeCompleted, Connection: h.conn, HandshakeInfo: info})
}

func (h *Handler) runBroadcastPeers(ctx context.Context, peers []*swarm.Peer) {
	stream, err := h.transport.NewStream(ctx, h.conn, h.protoHive)
	if err != nil {
		h.emit(Event{Kind: HiveError, Connection: h.conn, Err: err})
		return
	}
	defer stream.Close()

	if err := h.hiveSvc.BroadcastPeers(stream, peers); err != nil {
		h.emit(Event{Kind: HiveError, Connection: h.conn, Err: err})
		return
	}
	h.emit(Event{Kind: HiveBroadcastComplete, Connection: h.conn})
}

func (h *Handler) runPing(ctx context.Context, greeting string) {
	stream, err := h.transport.NewStream(ctx, h.conn, h.protoPingpong)
	if err != nil {
		h.emit(Event{Kind: PingpongError, Connection: h.conn, Err: err})
		return
	}
	defer stream.Close()

	rtt, _, err := h.pingpongSvc.Ping(ctx, stream, greeting)
	if err != nil {
		h.emit(Event{Kind: PingpongError, Connection: h.conn, Err: err})
		return
	}
	h.emit(Event{Kind: PingpongPong, Connection: h.conn, RTT: rtt})
}

// HandleInboundStream dispatches a freshly opened remote substream to the
// matching sub-protocol responder, each run in its own goroutine since
// independent inbound streams may be open concurrently.
func (h *Handler) HandleInboundStream(protocolID string, stream p2p.Stream) {
	switch protocolID {
	case h.protoHandshake:
		go h.handleInboundHandshake(stream)
	case h.protoHive:
		go h.handleInboundHive(stream)
	case h.protoPingpong:
		go h.handleInboundPingpong(stream)
	default:
		stream.Close()
	}
}

func (h *Handler) handleInboundHandshake(stream p2p.Stream) {
	defer stream.Close()
	info, err := h.handshakeSvc.Handle(context.Background(), stream, h.remoteAddr)
	if err != nil {
		h.emit(Event{Kind: HandshakeFailed, Connection: h.conn, Err: err})
		return
	}
	h.emit(Event{Kind: HandshakeCompleted, Connection: h.conn, HandshakeInfo: info})
}

func (h *Handler) handleInboundHive(stream p2p.Stream) {
	defer stream.Close()
	peers, err := h.hiveSvc.ReceivePeers(stream, h.getOverlay())
	if err != nil {
		h.emit(Event{Kind: HiveError, Connection: h.conn, Err: err})
		return
	}
	h.emit(Event{Kind: HivePeersReceived, Connection: h.conn, Peers: peers})
}

func (h *Handler) handleInboundPingpong(stream p2p.Stream) {
	defer stream.Close()
	if err := h.pingpongSvc.HandlePing(stream); err != nil {
		h.emit(Event{Kind: PingpongError, Connection: h.conn, Err: err})
		return
	}
	h.emit(Event{Kind: PingpongPingReceived, Connection: h.conn})
}
