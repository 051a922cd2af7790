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

// Package score is the per-peer reputation state, a cheaply cloneable Handle
// wrapping an atomically-mutated State. No direct teacher file
// implements a reputation table; the atomic-field, never-block-on-update
// shape follows the concurrency idiom the teacher applies elsewhere
// (swap.Swap's single lock protecting a shared map, generalized here to a
// per-peer set of lock-free counters so a slow score consumer never stalls
// the protocol handler that reports the event).
package score

import (
	"time"

	"go.uber.org/atomic"
)

// EventKind names a scoring event. The weight table maps these to signed
// deltas.
type EventKind int

const (
	// FastDelivery is a chunk delivered under the fast-delivery threshold.
	FastDelivery EventKind = iota
	// SlowDelivery is a chunk delivered at or above the fast-delivery threshold.
	SlowDelivery
	// DeliveryFailure is a request that errored or timed out.
	DeliveryFailure
	// ProtocolViolation is a malformed or out-of-spec message.
	ProtocolViolation
	// SuccessfulSettlement is a completed settlement cycle.
	SuccessfulSettlement
)

// FastDeliveryThreshold is the round-trip boundary between FastDelivery and
// SlowDelivery, per spec.
const FastDeliveryThreshold = 100 * time.Millisecond

// Weights is a reference-counted immutable event->delta table. The zero
// value is DefaultWeights.
type Weights map[EventKind]int64

// DefaultWeights is the table new State values are constructed with.
var DefaultWeights = Weights{
	FastDelivery:         1,
	SlowDelivery:         -1,
	DeliveryFailure:      -5,
	ProtocolViolation:    -25,
	SuccessfulSettlement: 2,
}

// State is the shared, atomically-mutated reputation record for one peer.
// It is never copied; Handles hold a pointer to it.
type State struct {
	weights Weights

	value          atomic.Int64
	fastDeliveries atomic.Int64
	slowDeliveries atomic.Int64
	failures       atomic.Int64
	violations     atomic.Int64
}

// NewState constructs a State using weights, or DefaultWeights if nil.
func NewState(weights Weights) *State {
	if weights == nil {
		weights = DefaultWeights
	}
	return &State{weights: weights}
}

// Handle is a cheap, cloneable reference to a peer's shared State. Handlers
// record events on it without ever blocking: every mutation is a single
// atomic add-and-fetch.
type Handle struct {
	state *State
}

// NewHandle wraps state in a Handle.
func NewHandle(state *State) Handle {
	return Handle{state: state}
}

// Record applies the weight for kind to the score, fire-and-forget.
func (h Handle) Record(kind EventKind) {
	delta, ok := h.state.weights[kind]
	if !ok {
		return
	}
	h.state.value.Add(delta)
	switch kind {
	case FastDelivery:
		h.state.fastDeliveries.Add(1)
	case SlowDelivery:
		h.state.slowDeliveries.Add(1)
	case DeliveryFailure:
		h.state.failures.Add(1)
	case ProtocolViolation:
		h.state.violations.Add(1)
	}
}

// RecordDelivery records FastDelivery or SlowDelivery depending on how rtt
// compares to FastDeliveryThreshold.
func (h Handle) RecordDelivery(rtt time.Duration) {
	if rtt < FastDeliveryThreshold {
		h.Record(FastDelivery)
	} else {
		h.Record(SlowDelivery)
	}
}

// Score returns the current signed score.
func (h Handle) Score() int64 {
	return h.state.value.Load()
}

// Counters is a point-in-time snapshot of event counts, used for metrics
// and diagnostics.
type Counters struct {
	FastDeliveries int64
	SlowDeliveries int64
	Failures       int64
	Violations     int64
}

// Counters returns a snapshot of the event counters.
func (h Handle) Counters() Counters {
	return Counters{
		FastDeliveries: h.state.fastDeliveries.Load(),
		SlowDeliveries: h.state.slowDeliveries.Load(),
		Failures:       h.state.failures.Load(),
		Violations:     h.state.violations.Load(),
	}
}

// ShouldBan is advisory only: score <= threshold. The score state itself
// never bans; the peer manager consults this and decides.
func (h Handle) ShouldBan(threshold int64) bool {
	return h.Score() <= threshold
}
