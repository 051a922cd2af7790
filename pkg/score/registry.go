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

package score

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nxm-rs/vertex/pkg/swarm"
)

var metricTrackedPeers = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "vertex",
	Subsystem: "score",
	Name:      "tracked_peers",
	Help:      "Number of overlays with a live score State.",
})

func init() {
	prometheus.MustRegister(metricTrackedPeers)
}

// Registry owns one State per connected overlay, created when C12 admits a
// peer and dropped on disconnect.
type Registry struct {
	mu      sync.RWMutex
	states  map[string]*State
	weights Weights
}

// NewRegistry constructs a Registry whose States all use weights (or
// DefaultWeights if nil).
func NewRegistry(weights Weights) *Registry {
	return &Registry{
		states:  make(map[string]*State),
		weights: weights,
	}
}

// Handle returns the Handle for overlay, creating its State on first use.
func (r *Registry) Handle(overlay swarm.Address) Handle {
	key := overlay.String()

	r.mu.RLock()
	state, ok := r.states[key]
	r.mu.RUnlock()
	if ok {
		return NewHandle(state)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if state, ok = r.states[key]; ok {
		return NewHandle(state)
	}
	state = NewState(r.weights)
	r.states[key] = state
	metricTrackedPeers.Set(float64(len(r.states)))
	return NewHandle(state)
}

// Drop removes overlay's State, called when the peer disconnects.
func (r *Registry) Drop(overlay swarm.Address) {
	r.mu.Lock()
	delete(r.states, overlay.String())
	metricTrackedPeers.Set(float64(len(r.states)))
	r.mu.Unlock()
}
