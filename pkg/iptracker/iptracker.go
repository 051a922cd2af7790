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

// Package iptracker records, per remote IP, the overlays seen and the number
// of overlay bans, and reports through Allowed whether an IP is banned
// outright or has accumulated too many overlay bans. C12 feeds it through
// Observe once a handshake has completed; nothing calls Allowed before a
// handshake, so inbound connections from a banned IP are not refused by
// this package. Capped per-IP overlay sets are kept in an LRU so a single
// hostile IP cannot grow state without bound.
package iptracker

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nxm-rs/vertex/pkg/swarm"
)

// defaultMaxOverlaysPerIP bounds the per-IP overlay-churn set tracked before the
// oldest entries are evicted.
const defaultMaxOverlaysPerIP = 64

// Tracker tracks, per remote IP, the set of overlays seen and a ban count.
type Tracker struct {
	mu sync.Mutex

	overlaysPerIP map[string]*lru.Cache[string, struct{}]
	banCount      map[string]int
	bannedIPs     map[string]struct{}

	maxOverlaysPerIP   int
	overlayBanWarnRate int
}

// New constructs a Tracker. overlayBanWarnRate is the number of banned
// overlays on one IP that triggers refusal of further connections from it.
func New(maxOverlaysPerIP, overlayBanWarnRate int) *Tracker {
	if maxOverlaysPerIP <= 0 {
		maxOverlaysPerIP = defaultMaxOverlaysPerIP
	}
	return &Tracker{
		overlaysPerIP:      make(map[string]*lru.Cache[string, struct{}]),
		banCount:           make(map[string]int),
		bannedIPs:          make(map[string]struct{}),
		maxOverlaysPerIP:   maxOverlaysPerIP,
		overlayBanWarnRate: overlayBanWarnRate,
	}
}

// Observe records that overlay was seen connecting from ip.
func (t *Tracker) Observe(ip string, overlay swarm.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cache, ok := t.overlaysPerIP[ip]
	if !ok {
		cache, _ = lru.New[string, struct{}](t.maxOverlaysPerIP)
		t.overlaysPerIP[ip] = cache
	}
	cache.Add(overlay.String(), struct{}{})
}

// RecordBan counts one more banned overlay against ip and, if ip has now
// accumulated at least overlayBanWarnRate bans, bans the IP itself. The
// overlay argument is not stored.
func (t *Tracker) RecordBan(ip string, overlay swarm.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.banCount[ip]++
	if t.banCount[ip] >= t.overlayBanWarnRate {
		t.bannedIPs[ip] = struct{}{}
	}
}

// BanIP bans ip outright, independent of overlay churn.
func (t *Tracker) BanIP(ip string) {
	t.mu.Lock()
	t.bannedIPs[ip] = struct{}{}
	t.mu.Unlock()
}

// Allowed reports whether a new inbound connection from ip should be
// accepted to proceed to handshake.
func (t *Tracker) Allowed(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, banned := t.bannedIPs[ip]
	return !banned
}

// OverlayCount returns how many distinct overlays have connected from ip.
func (t *Tracker) OverlayCount(ip string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cache, ok := t.overlaysPerIP[ip]
	if !ok {
		return 0
	}
	return cache.Len()
}
