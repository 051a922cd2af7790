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

package peer

import (
	"crypto/rand"
	"testing"

	libp2pCrypto "github.com/libp2p/go-libp2p/core/crypto"
	libp2pPeer "github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"

	"github.com/nxm-rs/vertex/pkg/statestore"
	"github.com/nxm-rs/vertex/pkg/swarm"
)

func randomOverlay(t *testing.T) swarm.Address {
	t.Helper()
	var b [swarm.AddressLength]byte
	_, err := rand.Read(b[:])
	require.NoError(t, err)
	addr, err := swarm.NewAddress(b[:])
	require.NoError(t, err)
	return addr
}

func randomPeerID(t *testing.T) ID {
	t.Helper()
	_, pub, err := libp2pCrypto.GenerateEd25519Key(rand.Reader)
	require.NoError(t, err)
	id, err := libp2pPeer.IDFromPublicKey(pub)
	require.NoError(t, err)
	return id
}

func TestRegisterNewSamePeerReplaced(t *testing.T) {
	r := New(nil)

	overlay := randomOverlay(t)
	id1 := randomPeerID(t)
	id2 := randomPeerID(t)

	require.Equal(t, New, r.Register(overlay, id1))
	require.Equal(t, SamePeer, r.Register(overlay, id1))
	require.Equal(t, Replaced, r.Register(overlay, id2))

	got, ok := r.PeerID(overlay)
	require.True(t, ok)
	require.Equal(t, id2, got)
}

func TestRegisterRemovesStaleReverseBinding(t *testing.T) {
	r := New(nil)

	overlayA := randomOverlay(t)
	overlayB := randomOverlay(t)
	id := randomPeerID(t)

	require.Equal(t, New, r.Register(overlayA, id))
	require.Equal(t, New, r.Register(overlayB, id))

	_, ok := r.PeerID(overlayA)
	require.False(t, ok, "overlayA binding should have been evicted when id rebound to overlayB")

	gotOverlay, ok := r.Overlay(id)
	require.True(t, ok)
	require.True(t, gotOverlay.Equal(overlayB))

	require.NoError(t, r.VerifyBijection())
}

func TestRegisterSameBindingNoOp(t *testing.T) {
	r := New(nil)
	overlay := randomOverlay(t)
	id := randomPeerID(t)

	require.Equal(t, New, r.Register(overlay, id))
	before, ok := r.Info(overlay)
	require.True(t, ok)

	require.Equal(t, SamePeer, r.Register(overlay, id))
	after, ok := r.Info(overlay)
	require.True(t, ok)
	require.Equal(t, before.LastStateChange, after.LastStateChange, "SamePeer must not mutate state")
}

func TestStartConnectingOnlyFromKnownOrDisconnected(t *testing.T) {
	r := New(nil)
	overlay := randomOverlay(t)
	id := randomPeerID(t)

	require.Error(t, r.StartConnecting(overlay), "unknown overlay")

	r.Learn(overlay)
	require.NoError(t, r.StartConnecting(overlay))

	info, ok := r.Info(overlay)
	require.True(t, ok)
	require.Equal(t, Connecting, info.State)

	require.Error(t, r.StartConnecting(overlay), "already connecting")

	r.Register(overlay, id)
	info, _ = r.Info(overlay)
	require.Equal(t, Connected, info.State)
	require.Error(t, r.StartConnecting(overlay), "already connected")

	r.TransitionTo(overlay, Disconnected)
	require.NoError(t, r.StartConnecting(overlay))
}

func TestBanIsTerminalUntilUnban(t *testing.T) {
	r := New(nil)
	overlay := randomOverlay(t)
	r.Learn(overlay)

	r.Ban(overlay, "misbehaving")
	info, ok := r.Info(overlay)
	require.True(t, ok)
	require.Equal(t, Banned, info.State)
	require.Equal(t, "misbehaving", info.BanReason)

	require.Error(t, r.StartConnecting(overlay))

	r.Unban(overlay)
	info, _ = r.Info(overlay)
	require.Equal(t, Disconnected, info.State)
	require.Empty(t, info.BanReason)
}

func TestRemoveIsSymmetric(t *testing.T) {
	r := New(nil)
	overlay := randomOverlay(t)
	id := randomPeerID(t)
	r.Register(overlay, id)

	r.Remove(overlay)

	_, ok := r.PeerID(overlay)
	require.False(t, ok)
	_, ok = r.Overlay(id)
	require.False(t, ok)
}

func TestDialableCandidates(t *testing.T) {
	r := New(nil)
	known := randomOverlay(t)
	connected := randomOverlay(t)
	r.Learn(known)
	r.Register(connected, randomPeerID(t))

	candidates := r.Dialable()
	_, knownOk := candidates[known.String()]
	_, connectedOk := candidates[connected.String()]
	require.True(t, knownOk)
	require.False(t, connectedOk)
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := statestore.NewMemory()
	r := New(store)

	overlay := randomOverlay(t)
	id := randomPeerID(t)
	r.Register(overlay, id)

	r2 := New(store)
	require.NoError(t, r2.LoadSnapshot())

	got, ok := r2.PeerID(overlay)
	require.True(t, ok)
	require.Equal(t, id, got)
}
