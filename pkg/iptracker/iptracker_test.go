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

package iptracker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nxm-rs/vertex/pkg/swarm"
)

func overlayWithByte(t *testing.T, b byte) swarm.Address {
	t.Helper()
	var buf [swarm.AddressLength]byte
	buf[0] = b
	addr, err := swarm.NewAddress(buf[:])
	require.NoError(t, err)
	return addr
}

func TestAllowedByDefault(t *testing.T) {
	tr := New(8, 3)
	require.True(t, tr.Allowed("1.2.3.4"))
}

func TestBanIPRefusesFurtherConnections(t *testing.T) {
	tr := New(8, 3)
	tr.BanIP("1.2.3.4")
	require.False(t, tr.Allowed("1.2.3.4"))
	require.True(t, tr.Allowed("1.2.3.5"))
}

func TestOverlayChurnBansIPAtThreshold(t *testing.T) {
	tr := New(8, 3)
	ip := "10.0.0.1"

	tr.RecordBan(ip, overlayWithByte(t, 1))
	require.True(t, tr.Allowed(ip))
	tr.RecordBan(ip, overlayWithByte(t, 2))
	require.True(t, tr.Allowed(ip))
	tr.RecordBan(ip, overlayWithByte(t, 3))
	require.False(t, tr.Allowed(ip))
}

func TestOverlayCountTracksObservations(t *testing.T) {
	tr := New(8, 3)
	ip := "10.0.0.2"
	tr.Observe(ip, overlayWithByte(t, 1))
	tr.Observe(ip, overlayWithByte(t, 2))
	tr.Observe(ip, overlayWithByte(t, 1))

	require.Equal(t, 2, tr.OverlayCount(ip))
}

func TestOverlayCountCapsAtMax(t *testing.T) {
	tr := New(2, 100)
	ip := "10.0.0.3"
	for i := byte(0); i < 5; i++ {
		tr.Observe(ip, overlayWithByte(t, i))
	}
	require.Equal(t, 2, tr.OverlayCount(ip))
}
