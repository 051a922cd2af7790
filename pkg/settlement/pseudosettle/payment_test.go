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

package pseudosettle

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nxm-rs/vertex/pkg/accounting"
	"github.com/nxm-rs/vertex/pkg/statestore"
	"github.com/nxm-rs/vertex/pkg/swarm"
)

func TestPayHandlePaymentRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	svc := NewPaymentService(time.Second, 1024, 10*time.Second)

	errCh := make(chan error, 1)
	go func() { errCh <- svc.HandlePayment(server, func(requested int64) int64 { return requested }) }()

	accepted, err := svc.Pay(context.Background(), client, 1000)
	require.NoError(t, err)
	require.EqualValues(t, 1000, accepted)
	require.NoError(t, <-errCh)
}

func TestPayHonorsPartialAcceptance(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	svc := NewPaymentService(time.Second, 1024, 10*time.Second)

	errCh := make(chan error, 1)
	go func() { errCh <- svc.HandlePayment(server, func(requested int64) int64 { return requested / 2 }) }()

	accepted, err := svc.Pay(context.Background(), client, 1000)
	require.NoError(t, err)
	require.EqualValues(t, 500, accepted)
	require.NoError(t, <-errCh)
}

func TestPayRejectsExcessiveTimestampDrift(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	svc := NewPaymentService(time.Second, 1024, time.Second)
	svc.nowFunc = func() time.Time { return time.Unix(1_000_000, 0) }

	serverSvc := NewPaymentService(time.Second, 1024, time.Second)
	serverSvc.nowFunc = func() time.Time { return time.Unix(1, 0) } // wildly different clock

	errCh := make(chan error, 1)
	go func() { errCh <- serverSvc.HandlePayment(server, func(requested int64) int64 { return requested }) }()

	_, err := svc.Pay(context.Background(), client, 1000)
	require.Error(t, err)
	require.NoError(t, <-errCh)
}

type fakeDialer struct {
	stream PaymentStream
}

func (f *fakeDialer) DialPayment(ctx context.Context, peer swarm.Address) (PaymentStream, error) {
	return f.stream, nil
}

func TestSettleDelegatesToNetworkPaymentWhenEquipped(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	p := New(statestore.NewMemory(), 1000)
	payment := NewPaymentService(time.Second, 1024, 10*time.Second)
	p.WithNetworkPayment(&fakeDialer{stream: client}, payment)

	errCh := make(chan error, 1)
	go func() {
		errCh <- payment.HandlePayment(server, func(requested int64) int64 { return requested })
	}()

	peer := randomPeer(t)
	delta, err := p.Settle(peer, &accounting.PeerState{Balance: -750})
	require.NoError(t, err)
	require.EqualValues(t, 750, delta)
	require.NoError(t, <-errCh)
}

func TestSettleStillNoOpWithoutNetworkPayment(t *testing.T) {
	p := New(statestore.NewMemory(), 1000)
	peer := randomPeer(t)
	delta, err := p.Settle(peer, &accounting.PeerState{Balance: -750})
	require.NoError(t, err)
	require.Zero(t, delta)
}
