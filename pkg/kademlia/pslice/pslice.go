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

// Package pslice is a proximity-order-indexed slice of overlay addresses:
// NUM_BINS buckets, one per possible PO, each holding the overlays that fall
// into it relative to a fixed base address. Kademlia keeps two PSlices (known
// and connected) and shares this bucketing and iteration logic between them.
package pslice

import (
	"sync"

	"github.com/nxm-rs/vertex/pkg/swarm"
)

// PSlice buckets overlay addresses by proximity order to a base address.
type PSlice struct {
	mu      sync.RWMutex
	numBins int
	bins    [][]swarm.Address
	index   map[string]int // overlay string -> bin index, for O(1) Exists/Remove
}

// New constructs an empty PSlice with numBins buckets (0..numBins-1).
func New(numBins int) *PSlice {
	return &PSlice{
		numBins: numBins,
		bins:    make([][]swarm.Address, numBins),
		index:   make(map[string]int),
	}
}

// Add inserts addr into bin po. It is a no-op if addr is already present.
func (p *PSlice) Add(addr swarm.Address, po uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := addr.String()
	if _, ok := p.index[key]; ok {
		return
	}
	bin := p.clampBin(po)
	p.bins[bin] = append(p.bins[bin], addr)
	p.index[key] = bin
}

// Remove deletes addr from bin po, if present. po is accepted for interface
// symmetry with Add but the index is authoritative.
func (p *PSlice) Remove(addr swarm.Address, po uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := addr.String()
	bin, ok := p.index[key]
	if !ok {
		return
	}
	peers := p.bins[bin]
	for i, a := range peers {
		if a.Equal(addr) {
			p.bins[bin] = append(peers[:i], peers[i+1:]...)
			break
		}
	}
	delete(p.index, key)
}

// Exists reports whether addr is present in any bin.
func (p *PSlice) Exists(addr swarm.Address) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.index[addr.String()]
	return ok
}

// Length returns the total number of addresses across all bins.
func (p *PSlice) Length() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.index)
}

// BinSize returns the number of addresses in bin po.
func (p *PSlice) BinSize(po uint8) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.bins[p.clampBin(po)])
}

// EachBin iterates bins from 0 (shallowest) to numBins-1 (deepest), calling
// fn for every address. fn returns (stop, skipRestOfBin, err); if err is
// non-nil iteration aborts and EachBin returns it.
func (p *PSlice) EachBin(fn func(addr swarm.Address, po uint8) (stop, skipBin bool, err error)) error {
	return p.iterate(fn, false)
}

// EachBinRev iterates bins from numBins-1 (deepest) down to 0 (shallowest).
func (p *PSlice) EachBinRev(fn func(addr swarm.Address, po uint8) (stop, skipBin bool, err error)) error {
	return p.iterate(fn, true)
}

func (p *PSlice) iterate(fn func(addr swarm.Address, po uint8) (bool, bool, error), reverse bool) error {
	p.mu.RLock()
	snapshot := make([][]swarm.Address, p.numBins)
	for i, bin := range p.bins {
		snapshot[i] = append([]swarm.Address(nil), bin...)
	}
	p.mu.RUnlock()

	order := make([]int, p.numBins)
	for i := range order {
		if reverse {
			order[i] = p.numBins - 1 - i
		} else {
			order[i] = i
		}
	}

	for _, bin := range order {
		skipBin := false
		for _, addr := range snapshot[bin] {
			if skipBin {
				break
			}
			stop, skip, err := fn(addr, uint8(bin))
			if err != nil {
				return err
			}
			if skip {
				skipBin = true
			}
			if stop {
				return nil
			}
		}
	}
	return nil
}

// ShallowestEmpty returns the shallowest bin index with zero addresses, and
// whether every bin is non-empty (in which case the index is meaningless).
func (p *PSlice) ShallowestEmpty() (bin uint8, noneEmpty bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for i, b := range p.bins {
		if len(b) == 0 {
			return uint8(i), false
		}
	}
	return 0, true
}

func (p *PSlice) clampBin(po uint8) int {
	if int(po) >= p.numBins {
		return p.numBins - 1
	}
	return int(po)
}
