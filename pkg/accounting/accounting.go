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

// Package accounting is the bandwidth ledger every traffic path records
// against: one signed balance per peer plus reserved/shadow-reserved debt,
// generalized from the teacher's SWAP-only bookkeeping (swap.Swap.balances,
// a map[enode.ID]int64 under one RWMutex, threshold-triggered cheque send)
// into the provider-agnostic contract spec.md describes. Settlement itself
// is factored out into pkg/settlement/* providers; this package only knows
// how to sum their pre_allow deltas and invoke settle() in order.
package accounting

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nxm-rs/vertex/pkg/swarm"
	"github.com/nxm-rs/vertex/pkg/swarmerr"
	"github.com/nxm-rs/vertex/pkg/swarmlog"
)

// Direction of a recorded transfer.
type Direction int

const (
	// Upload is data we sent; the peer owes us, so balance moves positive.
	Upload Direction = iota
	// Download is data we received; we owe the peer, so balance moves negative.
	Download
)

// PeerState is the mutable per-peer record settlement providers read and
// write via pre_allow/settle. balance is the signed AU balance (positive
// means the peer owes us); reserved guards outbound debt not yet
// acknowledged; shadowReserved guards inbound request storms.
type PeerState struct {
	mu             sync.Mutex
	Balance        int64
	Reserved       int64
	ShadowReserved int64
}

// Lock and Unlock let providers in other packages safely read/write the
// exported fields of a shared PeerState; callers must hold the lock for the
// duration of any access.
func (s *PeerState) Lock()   { s.mu.Lock() }
func (s *PeerState) Unlock() { s.mu.Unlock() }

// Provider is a settlement strategy composed into an ordered list. Allow
// sums every provider's PreAllow delta; Settle invokes providers in order
// until debt falls below the early-payment threshold or the list is
// exhausted.
type Provider interface {
	Name() string
	SupportedMode() Mode
	PreAllow(peer swarm.Address, state *PeerState) int64
	Settle(peer swarm.Address, state *PeerState) (int64, error)
}

// Mode mirrors config.SettlementMode so providers can opt out when the node
// runs pseudosettle-only.
type Mode int

const (
	// ModePseudosettle is always active.
	ModePseudosettle Mode = iota
	// ModeFull additionally runs chequebook settlement.
	ModeFull
)

var logger = swarmlog.New("accounting")

var (
	metricThresholdExceeded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vertex",
		Subsystem: "accounting",
		Name:      "threshold_exceeded_total",
		Help:      "Number of allow() calls refused for exceeding the disconnect threshold.",
	})
	metricSettlementFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vertex",
		Subsystem: "accounting",
		Name:      "settlement_failures_total",
		Help:      "Number of settle() calls that returned an unrecoverable error.",
	})
)

func init() {
	prometheus.MustRegister(metricThresholdExceeded, metricSettlementFailures)
}

// Accounting is the per-node ledger: one PeerState per connected overlay,
// plus the ordered provider list and the disconnect threshold derived from
// config.
type Accounting struct {
	mu                  sync.RWMutex
	states              map[string]*PeerState
	providers           []Provider
	disconnectThreshold int64
	mode                Mode
}

// New constructs an Accounting ledger. providers run in the given order on
// Settle.
func New(disconnectThreshold int64, mode Mode, providers []Provider) *Accounting {
	return &Accounting{
		states:              make(map[string]*PeerState),
		providers:           providers,
		disconnectThreshold: disconnectThreshold,
		mode:                mode,
	}
}

func (a *Accounting) state(peer swarm.Address) *PeerState {
	key := peer.String()

	a.mu.RLock()
	s, ok := a.states[key]
	a.mu.RUnlock()
	if ok {
		return s
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok = a.states[key]; ok {
		return s
	}
	s = &PeerState{}
	a.states[key] = s
	return s
}

// Drop removes peer's ledger entry, called on disconnect.
func (a *Accounting) Drop(peer swarm.Address) {
	a.mu.Lock()
	delete(a.states, peer.String())
	a.mu.Unlock()
}

// Init creates peer's zero-balance ledger entry if it does not already
// exist, called on admission (spec.md §4.10's "initialize bandwidth state
// in C8") so the first Record/Allow call never races the entry's creation.
func (a *Accounting) Init(peer swarm.Address) {
	a.state(peer)
}

// Record adjusts peer's balance: Upload adds bytes (the peer owes us more),
// Download subtracts bytes.
func (a *Accounting) Record(peer swarm.Address, bytes int64, direction Direction) {
	s := a.state(peer)
	s.mu.Lock()
	defer s.mu.Unlock()
	if direction == Upload {
		s.Balance += bytes
	} else {
		s.Balance -= bytes
	}
}

// Balance returns peer's current signed balance.
func (a *Accounting) Balance(peer swarm.Address) int64 {
	s := a.state(peer)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Balance
}

// Allow permits a prospective download of bytes: after summing every
// provider's pre_allow delta, it checks balance - bytes - reserved >=
// -disconnect_threshold.
func (a *Accounting) Allow(peer swarm.Address, bytes int64) (bool, error) {
	s := a.state(peer)

	var credit int64
	for _, p := range a.providers {
		if !a.providerActive(p) {
			continue
		}
		credit += p.PreAllow(peer, s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.Balance += credit
	projected := s.Balance - bytes - s.Reserved
	if projected < -a.disconnectThreshold {
		metricThresholdExceeded.Inc()
		return false, swarmerr.New(swarmerr.ThresholdExceeded, "accounting: projected balance %d below disconnect threshold %d", projected, -a.disconnectThreshold)
	}
	return true, nil
}

// Settle runs every active provider's Settle in order, stopping once the
// debt falls below the early-payment threshold or the provider list is
// exhausted. It surfaces the first unrecoverable error.
func (a *Accounting) Settle(peer swarm.Address, earlyPaymentThreshold int64) error {
	s := a.state(peer)

	for _, p := range a.providers {
		if !a.providerActive(p) {
			continue
		}
		delta, err := p.Settle(peer, s)
		if err != nil {
			metricSettlementFailures.Inc()
			logger.Error("settlement provider failed", "provider", p.Name(), "peer", peer, "err", err)
			return err
		}

		s.mu.Lock()
		s.Balance += delta
		balance := s.Balance
		s.mu.Unlock()

		if balance > -earlyPaymentThreshold {
			return nil
		}
	}
	return nil
}

// Reserve adds amount to peer's reserved debt, guarding outbound traffic
// whose response has not yet been acknowledged.
func (a *Accounting) Reserve(peer swarm.Address, amount int64) {
	s := a.state(peer)
	s.mu.Lock()
	s.Reserved += amount
	s.mu.Unlock()
}

// Release subtracts amount from peer's reserved debt once the response is
// acknowledged.
func (a *Accounting) Release(peer swarm.Address, amount int64) {
	s := a.state(peer)
	s.mu.Lock()
	s.Reserved -= amount
	s.mu.Unlock()
}

// ShadowReserve adds amount to peer's shadow-reserved debt, guarding against
// inbound request storms.
func (a *Accounting) ShadowReserve(peer swarm.Address, amount int64) {
	s := a.state(peer)
	s.mu.Lock()
	s.ShadowReserved += amount
	s.mu.Unlock()
}

// ShadowRelease subtracts amount from peer's shadow-reserved debt.
func (a *Accounting) ShadowRelease(peer swarm.Address, amount int64) {
	s := a.state(peer)
	s.mu.Lock()
	s.ShadowReserved -= amount
	s.mu.Unlock()
}

func (a *Accounting) providerActive(p Provider) bool {
	if a.mode == ModeFull {
		return true
	}
	return p.SupportedMode() == ModePseudosettle
}

// Price is the per-chunk price for a delivery at the given proximity order,
// per spec.md §4.6: (MAX_PO - proximity + 1) * base_price.
func Price(proximity uint8, basePrice int64) int64 {
	return int64(swarm.MaxPO-int(proximity)+1) * basePrice
}
