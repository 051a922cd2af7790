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
	"testing"
	"time"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/nxm-rs/vertex/pkg/config"
	"github.com/nxm-rs/vertex/pkg/crypto"
	"github.com/nxm-rs/vertex/pkg/handshake"
	"github.com/nxm-rs/vertex/pkg/hive"
	"github.com/nxm-rs/vertex/pkg/pingpong"
)

type node struct {
	transport *fakeTransport
	behaviour *Behaviour
}

func newNode(t *testing.T, cfg config.Config, addrStr string) *node {
	t.Helper()
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	var nonce [32]byte
	nonce[0] = 3
	id, err := crypto.NewIdentity(key, nonce, cfg.NetworkID, true, "")
	require.NoError(t, err)

	tr := newFakeTransport(id.Overlay(), addrStr)

	hsSvc := handshake.New(id, cfg.NetworkID, cfg.HandshakeTimeout, cfg.MaxFrameSize)
	hsSvc.SetUnderlay(tr.Addresses())
	hiveSvc := hive.New(cfg.NetworkID, cfg.HiveBatchSize, cfg.MaxFrameSize, cfg.HiveRateLimit)
	ppSvc := pingpong.New(cfg.PingpongTimeout, cfg.MaxFrameSize)

	b := NewBehaviour(tr, hsSvc, hiveSvc, ppSvc, cfg.HandshakeProto, cfg.HiveProto, cfg.PingpongProto)
	return &node{transport: tr, behaviour: b}
}

func TestDialDrivesHandshakeToCompletionOnBothSides(t *testing.T) {
	cfg := config.Default()
	cfg.HandshakeTimeout = 2 * time.Second

	a := newNode(t, cfg, "/ip4/127.0.0.1/tcp/4001")
	b := newNode(t, cfg, "/ip4/127.0.0.1/tcp/4002")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.behaviour.Run(ctx)
	go b.behaviour.Run(ctx)

	_, err := a.behaviour.Dial(context.Background(), b.transport.addr)
	require.NoError(t, err)

	requireEventKind(t, a.behaviour.Events(), HandshakeCompleted)
	requireEventKind(t, b.behaviour.Events(), HandshakeCompleted)
}

func TestDisconnectEmitsPeerConnectionClosed(t *testing.T) {
	cfg := config.Default()
	cfg.HandshakeTimeout = 2 * time.Second

	a := newNode(t, cfg, "/ip4/127.0.0.1/tcp/4003")
	b := newNode(t, cfg, "/ip4/127.0.0.1/tcp/4004")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.behaviour.Run(ctx)
	go b.behaviour.Run(ctx)

	connID, err := a.behaviour.Dial(context.Background(), b.transport.addr)
	require.NoError(t, err)

	evA := requireEventKind(t, a.behaviour.Events(), HandshakeCompleted)
	require.False(t, evA.Overlay.Equal(a.transport.Overlay()))

	require.NoError(t, a.transport.Disconnect(connID))

	closed := requireEventKind(t, a.behaviour.Events(), PeerConnectionClosed)
	require.True(t, closed.Overlay.Equal(evA.Overlay))
}

func requireEventKind(t *testing.T, events <-chan Event, kind EventKind) Event {
	t.Helper()
	for i := 0; i < 10; i++ {
		select {
		case ev := <-events:
			if ev.Kind == kind {
				return ev
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for event kind %d", kind)
		}
	}
	t.Fatalf("did not observe event kind %d within 10 events", kind)
	return Event{}
}
