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
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	libp2pPeer "github.com/libp2p/go-libp2p/core/peer"
	"resenje.org/singleflight"

	"github.com/nxm-rs/vertex/pkg/statestore"
	"github.com/nxm-rs/vertex/pkg/swarm"
	"github.com/nxm-rs/vertex/pkg/swarmerr"
	"github.com/nxm-rs/vertex/pkg/swarmlog"
)

const snapshotKeyPrefix = "peer_snapshot_"

var logger = swarmlog.New("peer")

// Outcome is the result of a register call.
type Outcome int

const (
	// New means neither the overlay nor the peer ID were previously known.
	New Outcome = iota
	// SamePeer means the binding was already exactly this, no effect.
	SamePeer
	// Replaced means the overlay was bound to a different peer ID; the
	// caller is responsible for closing the superseded connection.
	Replaced
)

// record is the on-disk representation of a binding, used for the
// persistent snapshot.
type record struct {
	Overlay swarm.Address `json:"overlay"`
	PeerID  string        `json:"peer_id"`
}

// Registry is the bidirectional overlay<->PeerID map plus per-overlay
// lifecycle state, mirroring the teacher's map-under-lock peer pools but
// generalized to track both directions and the Known/Connecting/Connected/
// Disconnected/Banned state machine.
type Registry struct {
	mu          sync.RWMutex
	overlayToID map[string]ID
	idToOverlay map[ID]string
	infos       map[string]*Info

	store   statestore.Store
	flush   singleflight.Group[struct{}]
	nowFunc func() time.Time
}

// New constructs a Registry backed by store for persistent snapshots. store
// may be nil, in which case snapshotting is a no-op (used in tests).
func New(store statestore.Store) *Registry {
	return &Registry{
		overlayToID: make(map[string]ID),
		idToOverlay: make(map[ID]string),
		infos:       make(map[string]*Info),
		store:       store,
		nowFunc:     time.Now,
	}
}

// Register binds overlay to id, returning New, SamePeer, or Replaced. Any
// stale mapping for id under a different overlay (the peer rotated its
// nonce) is removed first, per spec.
func (r *Registry) Register(overlay swarm.Address, id ID) Outcome {
	now := r.nowFunc()
	r.mu.Lock()

	overlayKey := overlay.String()

	if staleOverlay, ok := r.idToOverlay[id]; ok && staleOverlay != overlayKey {
		delete(r.overlayToID, staleOverlay)
		delete(r.infos, staleOverlay)
	}

	existingID, known := r.overlayToID[overlayKey]
	var outcome Outcome
	switch {
	case known && existingID == id:
		outcome = SamePeer
	case known:
		delete(r.idToOverlay, existingID)
		r.overlayToID[overlayKey] = id
		r.idToOverlay[id] = overlayKey
		r.infos[overlayKey] = newInfo(overlay, id, now)
		r.infos[overlayKey].transition(Connected, now)
		outcome = Replaced
	default:
		r.overlayToID[overlayKey] = id
		r.idToOverlay[id] = overlayKey
		info := newInfo(overlay, id, now)
		info.transition(Connected, now)
		r.infos[overlayKey] = info
		outcome = New
	}
	r.mu.Unlock()

	r.triggerFlush()
	return outcome
}

// PeerID returns the transport identity currently bound to overlay, if any.
func (r *Registry) PeerID(overlay swarm.Address) (ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.overlayToID[overlay.String()]
	return id, ok
}

// Overlay returns the overlay bound to id, if any.
func (r *Registry) Overlay(id ID) (swarm.Address, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	overlayKey, ok := r.idToOverlay[id]
	if !ok {
		return swarm.Address{}, false
	}
	info := r.infos[overlayKey]
	return info.Overlay, true
}

// Info returns a copy of the lifecycle record for overlay.
func (r *Registry) Info(overlay swarm.Address) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.infos[overlay.String()]
	if !ok {
		return Info{}, false
	}
	return *info, true
}

// Remove deletes both directions of the binding for overlay. It is a no-op
// if overlay is unknown.
func (r *Registry) Remove(overlay swarm.Address) {
	r.mu.Lock()
	overlayKey := overlay.String()
	if id, ok := r.overlayToID[overlayKey]; ok {
		delete(r.idToOverlay, id)
	}
	delete(r.overlayToID, overlayKey)
	delete(r.infos, overlayKey)
	r.mu.Unlock()

	r.triggerFlush()
}

// Learn registers overlay as Known without a live connection, used when a
// peer is seen only via hive gossip.
func (r *Registry) Learn(overlay swarm.Address) {
	now := r.nowFunc()
	r.mu.Lock()
	overlayKey := overlay.String()
	if _, ok := r.infos[overlayKey]; !ok {
		r.infos[overlayKey] = &Info{Overlay: overlay, State: Known, LastStateChange: now}
	}
	r.mu.Unlock()
}

// StartConnecting transitions overlay to Connecting. It only succeeds from
// Known or Disconnected, enforcing a single outbound attempt per overlay at
// a time.
func (r *Registry) StartConnecting(overlay swarm.Address) error {
	now := r.nowFunc()
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.infos[overlay.String()]
	if !ok {
		return swarmerr.New(swarmerr.Protocol, "peer: unknown overlay %s", overlay)
	}
	if info.State != Known && info.State != Disconnected {
		return swarmerr.New(swarmerr.Protocol, "peer: cannot start connecting from state %s", info.State)
	}
	info.transition(Connecting, now)
	return nil
}

// TransitionTo moves overlay's lifecycle state unconditionally (used for
// Connected / Disconnected transitions driven by transport events). It is a
// no-op if overlay is unknown.
func (r *Registry) TransitionTo(overlay swarm.Address, state State) {
	now := r.nowFunc()
	r.mu.Lock()
	if info, ok := r.infos[overlay.String()]; ok {
		info.transition(state, now)
	}
	r.mu.Unlock()
}

// Ban transitions overlay to Banned from any state, recording reason. Ban is
// terminal until an explicit Unban.
func (r *Registry) Ban(overlay swarm.Address, reason string) {
	now := r.nowFunc()
	r.mu.Lock()
	info, ok := r.infos[overlay.String()]
	if !ok {
		info = &Info{Overlay: overlay}
		r.infos[overlay.String()] = info
	}
	info.BanReason = reason
	info.transition(Banned, now)
	r.mu.Unlock()
}

// Unban transitions a Banned overlay back to Disconnected, clearing the ban
// reason. It is a no-op if overlay is not currently Banned.
func (r *Registry) Unban(overlay swarm.Address) {
	now := r.nowFunc()
	r.mu.Lock()
	if info, ok := r.infos[overlay.String()]; ok && info.State == Banned {
		info.BanReason = ""
		info.transition(Disconnected, now)
	}
	r.mu.Unlock()
}

// Dialable reports overlays currently in Known or Disconnected state, the
// candidate set peers_to_connect() intersects against.
func (r *Registry) Dialable() map[string]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]struct{})
	for k, info := range r.infos {
		if info.State == Known || info.State == Disconnected {
			out[k] = struct{}{}
		}
	}
	return out
}

// VerifyBijection walks both maps and returns an error describing the first
// inconsistency found. It exists for tests and diagnostics, not the hot
// path.
func (r *Registry) VerifyBijection() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for overlay, id := range r.overlayToID {
		back, ok := r.idToOverlay[id]
		if !ok || back != overlay {
			return fmt.Errorf("peer: bijection broken for overlay %s", overlay)
		}
	}
	for id, overlay := range r.idToOverlay {
		back, ok := r.overlayToID[overlay]
		if !ok || back != id {
			return fmt.Errorf("peer: bijection broken for peer id %s", id)
		}
	}
	return nil
}

// triggerFlush collapses concurrent flush requests into a single write via
// singleflight, mirroring the batching the bee forks apply to peer-store
// persistence.
func (r *Registry) triggerFlush() {
	if r.store == nil {
		return
	}
	_, _, _ = r.flush.Do(context.Background(), "flush", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.snapshot()
	})
}

// snapshot writes the current bindings to the store under one key per
// overlay, each with a single statestore Put (atomic per key in goleveldb).
// No temp file or rename is involved, and the set of keys is not written
// as one atomic unit.
func (r *Registry) snapshot() error {
	r.mu.RLock()
	records := make([]record, 0, len(r.overlayToID))
	for overlayKey, id := range r.overlayToID {
		records = append(records, record{Overlay: r.infos[overlayKey].Overlay, PeerID: id.String()})
	}
	r.mu.RUnlock()

	for _, rec := range records {
		key := snapshotKeyPrefix + rec.Overlay.String()
		if err := r.store.Put(key, rec); err != nil {
			logger.Error("peer snapshot write failed", "overlay", rec.Overlay, "err", err)
			return err
		}
	}
	return nil
}

// LoadSnapshot restores overlay->PeerID bindings previously written by
// snapshot, used on startup to repopulate the registry as Known peers before
// any connections are made.
func (r *Registry) LoadSnapshot() error {
	if r.store == nil {
		return nil
	}
	return r.store.Iterate(snapshotKeyPrefix, func(key string, value []byte) (bool, error) {
		var rec record
		if err := json.Unmarshal(value, &rec); err != nil {
			return false, err
		}
		id, err := libp2pPeer.Decode(rec.PeerID)
		if err != nil {
			return false, err
		}
		r.Learn(rec.Overlay)
		r.Register(rec.Overlay, id)
		r.TransitionTo(rec.Overlay, Known)
		return false, nil
	})
}
