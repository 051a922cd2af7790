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
	"testing"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"
)

func mustAddr(t *testing.T, s string) ma.Multiaddr {
	t.Helper()
	addr, err := ma.NewMultiaddr(s)
	require.NoError(t, err)
	return addr
}

func TestIPFamiliesLearnsFromOwnListenAddrs(t *testing.T) {
	families := ipFamilies([]ma.Multiaddr{mustAddr(t, "/ip4/10.0.0.1/tcp/1634")})
	_, hasV4 := families["ip4"]
	_, hasV6 := families["ip6"]
	require.True(t, hasV4)
	require.False(t, hasV6)
}

func TestIPFamiliesFallsBackToBothWhenUnknown(t *testing.T) {
	families := ipFamilies(nil)
	require.Contains(t, families, "ip4")
	require.Contains(t, families, "ip6")
}

func TestPickDialAddrSkipsIncompatibleFamilyAndMissingP2PComponent(t *testing.T) {
	peerID := "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"
	candidates := []ma.Multiaddr{
		mustAddr(t, "/ip6/::1/tcp/1634/p2p/"+peerID),
		mustAddr(t, "/ip4/10.0.0.2/tcp/1634"), // no /p2p component
		mustAddr(t, "/ip4/10.0.0.3/tcp/1634/p2p/"+peerID),
	}
	ownFamilies := map[string]struct{}{"ip4": {}}

	addr, ok := pickDialAddr(candidates, ownFamilies)
	require.True(t, ok)
	require.Equal(t, "/ip4/10.0.0.3/tcp/1634/p2p/"+peerID, addr.String())
}

func TestPickDialAddrFailsWhenNoCandidateMatches(t *testing.T) {
	peerID := "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"
	candidates := []ma.Multiaddr{mustAddr(t, "/ip6/::1/tcp/1634/p2p/"+peerID)}
	ownFamilies := map[string]struct{}{"ip4": {}}

	_, ok := pickDialAddr(candidates, ownFamilies)
	require.False(t, ok)
}
