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

// Package pseudosettle is the time-based forgiveness settlement provider:
// no on-chain or cheque involvement, just a refresh rate applied to elapsed
// wall time. The teacher has no time-based provider (only SWAP), so the
// credit formula is new; it is built in the same state.Store-backed,
// per-peer persistence idiom the teacher's swap.Swap applies to balances
// (one key per peer). PreAllow holds the peer's lock only while reading the
// balance; the last_refresh read and write happen outside it.
package pseudosettle

import (
	"context"
	"time"

	"github.com/nxm-rs/vertex/pkg/accounting"
	"github.com/nxm-rs/vertex/pkg/statestore"
	"github.com/nxm-rs/vertex/pkg/swarm"
	"github.com/nxm-rs/vertex/pkg/swarmerr"
)

const refreshKeyPrefix = "pseudosettle_refresh_"

// refreshRecord is the on-disk last-refresh timestamp for one peer.
type refreshRecord struct {
	LastRefresh int64 `json:"last_refresh"` // unix nanoseconds; 0 means uninitialized
}

// PaymentDialer opens a substream to peer for the network-backed payment
// exchange. Implemented at the node-wiring layer over pkg/p2p, kept as an
// interface here to avoid a transport-package import cycle.
type PaymentDialer interface {
	DialPayment(ctx context.Context, peer swarm.Address) (PaymentStream, error)
}

// Provider implements accounting.Provider with time-based credit, optionally
// backed by the Payment/PaymentAck network exchange spec.md §4.7 describes
// as Settle's optional delegate.
type Provider struct {
	store       statestore.Store
	refreshRate int64 // AU per second
	nowFunc     func() time.Time

	dialer  PaymentDialer
	payment *PaymentService
}

// New constructs a pseudosettle Provider. refreshRate is in AU/second; pass
// the light-client-adjusted rate (refresh_rate / light_factor) for light
// nodes. Settle grants credit only through PreAllow until WithNetworkPayment
// equips the Provider with a dialer and PaymentService.
func New(store statestore.Store, refreshRate int64) *Provider {
	return &Provider{store: store, refreshRate: refreshRate, nowFunc: time.Now}
}

// WithNetworkPayment equips the Provider with the network-backed settlement
// exchange: Settle will open a payment stream to the debtor peer via dialer
// and run payment over it instead of remaining a no-op.
func (p *Provider) WithNetworkPayment(dialer PaymentDialer, payment *PaymentService) *Provider {
	p.dialer = dialer
	p.payment = payment
	return p
}

func (p *Provider) Name() string { return "pseudosettle" }

// SupportedMode reports pseudosettle as always-on.
func (p *Provider) SupportedMode() accounting.Mode { return accounting.ModePseudosettle }

func (p *Provider) key(peer swarm.Address) string {
	return refreshKeyPrefix + peer.String()
}

func (p *Provider) loadRefresh(peer swarm.Address) int64 {
	var rec refreshRecord
	if err := p.store.Get(p.key(peer), &rec); err != nil {
		return 0
	}
	return rec.LastRefresh
}

func (p *Provider) saveRefresh(peer swarm.Address, ts int64) {
	_ = p.store.Put(p.key(peer), refreshRecord{LastRefresh: ts})
}

// PreAllow initializes last_refresh with zero credit on first contact,
// otherwise grants min(elapsed * refresh_rate, max(0, -balance)).
func (p *Provider) PreAllow(peer swarm.Address, state *accounting.PeerState) int64 {
	now := p.nowFunc().UnixNano()
	last := p.loadRefresh(peer)
	if last == 0 {
		p.saveRefresh(peer, now)
		return 0
	}

	credit := (now - last) * p.refreshRate / int64(time.Second)

	state.Lock()
	owed := -state.Balance
	state.Unlock()
	if owed < 0 {
		owed = 0
	}
	if credit > owed {
		credit = owed
	}
	if credit < 0 {
		credit = 0
	}

	p.saveRefresh(peer, now)
	return credit
}

// Settle delegates to the network-backed Payment/PaymentAck exchange when
// WithNetworkPayment has equipped the Provider; otherwise it is a no-op and
// pseudosettle credit is granted entirely through PreAllow.
func (p *Provider) Settle(peer swarm.Address, state *accounting.PeerState) (int64, error) {
	if p.dialer == nil || p.payment == nil {
		return 0, nil
	}

	state.Lock()
	owed := -state.Balance
	state.Unlock()
	if owed <= 0 {
		return 0, nil
	}

	ctx := context.Background()
	stream, err := p.dialer.DialPayment(ctx, peer)
	if err != nil {
		return 0, swarmerr.Wrap(swarmerr.Transport, err, "pseudosettle: opening payment stream to peer %s", peer)
	}
	if closer, ok := stream.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	accepted, err := p.payment.Pay(ctx, stream, owed)
	if err != nil {
		return 0, swarmerr.Wrap(swarmerr.SettlementRejected, err, "pseudosettle: network payment to peer %s", peer)
	}
	return accepted, nil
}
