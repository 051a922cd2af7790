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

package handshake

import (
	"context"
	"net"
	"testing"
	"time"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"

	"github.com/nxm-rs/vertex/pkg/crypto"
	"github.com/nxm-rs/vertex/pkg/swarmerr"
)

// pipeStream adapts a net.Conn (from net.Pipe) to the Stream interface.
type pipeStream struct{ net.Conn }

func newIdentity(t *testing.T, networkID uint64, fullNode bool, welcome string) *crypto.Identity {
	t.Helper()
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	var nonce [32]byte
	_, err = randRead(nonce[:])
	require.NoError(t, err)
	id, err := crypto.NewIdentity(key, nonce, networkID, fullNode, welcome)
	require.NoError(t, err)
	return id
}

func randRead(b []byte) (int, error) {
	for i := range b {
		b[i] = byte(i*7 + 1)
	}
	return len(b), nil
}

func TestCleanHandshake(t *testing.T) {
	idA := newIdentity(t, 10, true, "hi")
	idB := newIdentity(t, 10, false, "")

	svcA := New(idA, 10, 15*time.Second, 1024)
	svcB := New(idB, 10, 15*time.Second, 1024)

	addrA, err := ma.NewMultiaddr("/ip4/127.0.0.1/tcp/1001")
	require.NoError(t, err)
	addrB, err := ma.NewMultiaddr("/ip4/127.0.0.1/tcp/1002")
	require.NoError(t, err)
	svcA.SetUnderlay([]ma.Multiaddr{addrA})
	svcB.SetUnderlay([]ma.Multiaddr{addrB})

	connA, connB := net.Pipe()

	type result struct {
		info *Info
		err  error
	}
	resA := make(chan result, 1)
	resB := make(chan result, 1)

	go func() {
		info, err := svcA.Initiate(context.Background(), pipeStream{connA}, addrB)
		resA <- result{info, err}
	}()
	go func() {
		info, err := svcB.Handle(context.Background(), pipeStream{connB}, addrB)
		resB <- result{info, err}
	}()

	ra := <-resA
	rb := <-resB
	require.NoError(t, ra.err)
	require.NoError(t, rb.err)

	require.True(t, ra.info.RemotePeer.Overlay.Equal(idB.Overlay()))
	require.False(t, ra.info.IsFullNode)
	require.True(t, rb.info.RemotePeer.Overlay.Equal(idA.Overlay()))
	require.True(t, rb.info.IsFullNode)
	require.Equal(t, "hi", rb.info.Welcome)
}

func TestHandshakeNetworkMismatch(t *testing.T) {
	idA := newIdentity(t, 10, true, "")
	idB := newIdentity(t, 1, false, "")

	svcA := New(idA, 10, 15*time.Second, 1024)
	svcB := New(idB, 1, 15*time.Second, 1024)

	addrB, err := ma.NewMultiaddr("/ip4/127.0.0.1/tcp/1002")
	require.NoError(t, err)

	connA, connB := net.Pipe()

	type result struct {
		info *Info
		err  error
	}
	resA := make(chan result, 1)
	resB := make(chan result, 1)

	go func() {
		info, err := svcA.Initiate(context.Background(), pipeStream{connA}, addrB)
		resA <- result{info, err}
	}()
	go func() {
		info, err := svcB.Handle(context.Background(), pipeStream{connB}, addrB)
		resB <- result{info, err}
	}()

	ra := <-resA
	rb := <-resB

	require.Error(t, ra.err)
	require.True(t, swarmerr.Is(ra.err, swarmerr.NetworkIDMismatch))
	require.Error(t, rb.err)
}
