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

// Package node is the top-level event loop (spec.md §4.10): a single select
// over the topology Behaviour's event stream and the Kademlia table's
// dial-notify signal, wiring every other component together exactly the way
// the data-flow sketch in spec.md §4 describes it. It owns no protocol logic
// of its own; every branch below is a short dispatch to C5/C6/C7/C8.
//
// Grounded on the teacher's node.Service lifecycle shape (bzzeth.BzzEth
// satisfies node.Service: New, Start, Stop, APIs, Protocols), generalized
// from a single registered sub-protocol module to the orchestrator that owns
// every sub-component this repo builds.
package node

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ma "github.com/multiformats/go-multiaddr"
	"golang.org/x/sync/errgroup"

	"github.com/nxm-rs/vertex/pkg/accounting"
	"github.com/nxm-rs/vertex/pkg/config"
	"github.com/nxm-rs/vertex/pkg/iptracker"
	"github.com/nxm-rs/vertex/pkg/kademlia"
	"github.com/nxm-rs/vertex/pkg/peer"
	"github.com/nxm-rs/vertex/pkg/score"
	"github.com/nxm-rs/vertex/pkg/statestore"
	"github.com/nxm-rs/vertex/pkg/swarm"
	"github.com/nxm-rs/vertex/pkg/swarmlog"
	"github.com/nxm-rs/vertex/pkg/topology"
)

var logger = swarmlog.New("node")

// persistQueueSize bounds the HivePeersReceived -> peer-store fan-in queue
// (spec.md §5's "Persistent peer store" suspension point).
const persistQueueSize = 256

// peerRecordKeyPrefix namespaces persisted Peer records in the statestore,
// distinct from C5's own overlay<->PeerID snapshot keys.
const peerRecordKeyPrefix = "known_peer_"

// Service is the node orchestrator: one per running process.
type Service struct {
	cfg config.Config

	behaviour *topology.Behaviour
	table     *kademlia.Table
	peers     *peer.Registry
	scores    *score.Registry
	acct      *accounting.Accounting
	ipTrack   *iptracker.Tracker
	store     *peerStore

	ownFamilies map[string]struct{}

	persistCh chan *swarm.Peer

	cancel context.CancelFunc
}

// New wires a Service around its already-constructed collaborators. ownAddrs
// is this node's own listen multiaddrs, used to learn which IP families
// (ip4/ip6) outbound dials should be filtered to.
func New(
	cfg config.Config,
	behaviour *topology.Behaviour,
	table *kademlia.Table,
	peers *peer.Registry,
	scores *score.Registry,
	acct *accounting.Accounting,
	ipTrack *iptracker.Tracker,
	store statestore.Store,
	ownAddrs []ma.Multiaddr,
) *Service {
	return &Service{
		cfg:         cfg,
		behaviour:   behaviour,
		table:       table,
		peers:       peers,
		scores:      scores,
		acct:        acct,
		ipTrack:     ipTrack,
		store:       newPeerStore(store),
		ownFamilies: ipFamilies(ownAddrs),
		persistCh:   make(chan *swarm.Peer, persistQueueSize),
	}
}

// Run starts the behaviour's own transport pump alongside the node's event
// loop and persistence worker, blocking until ctx is cancelled or any task
// returns an error. It restores any previously persisted peer records first.
func (s *Service) Run(ctx context.Context) error {
	if err := s.store.LoadSnapshot(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		s.behaviour.Run(gctx)
		return nil
	})
	group.Go(func() error {
		return s.persistLoop(gctx)
	})
	group.Go(func() error {
		return s.eventLoop(gctx)
	})

	return group.Wait()
}

// Shutdown cancels the event loop; Run returns once every background task
// has flushed its state and exited (spec.md §4.10's shutdown() contract).
func (s *Service) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Service) eventLoop(ctx context.Context) error {
	for {
		select {
		case ev, ok := <-s.behaviour.Events():
			if !ok {
				return nil
			}
			s.handleEvent(ctx, ev)
		case <-s.table.Notify():
			s.dialCandidates(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Service) handleEvent(ctx context.Context, ev topology.Event) {
	switch ev.Kind {
	case topology.HandshakeCompleted:
		s.onHandshakeCompleted(ev)
	case topology.PeerConnectionClosed:
		s.onPeerConnectionClosed(ev)
	case topology.HivePeersReceived:
		s.onHivePeersReceived(ctx, ev)
	}
}

// onHandshakeCompleted admits a freshly authenticated peer into every
// component that tracks connected peers. The remote's network ID was
// already validated inside the handshake exchange itself (handshake.Service
// rejects a mismatched Ack.NetworkID and the Behaviour turns that into
// HandshakeFailed, never reaching here), so there is nothing left to check
// here beyond registering the binding.
func (s *Service) onHandshakeCompleted(ev topology.Event) {
	info := ev.HandshakeInfo
	if info == nil || info.RemotePeer == nil {
		return
	}
	remote := info.RemotePeer
	overlay := ev.Overlay

	// peer.Registry's ID type is a libp2p peer.ID, but pkg/p2p deliberately
	// exposes only an opaque, connection-scoped p2p.ConnectionID (keeping
	// the transport binding swappable) and not a stable libp2p identity.
	// The overlay itself is this system's stable remote identity, so it
	// doubles as the registry's transport-identity key here; peer.Registry
	// is constructed with a nil statestore by the caller for this reason,
	// since its own snapshot codec expects a real libp2p peer.ID string.
	outcome := s.peers.Register(overlay, peer.ID(overlay.String()))
	if outcome == peer.Replaced {
		logger.Info("peer overlay rebound to a new connection, disconnecting stale one", "overlay", overlay)
		s.behaviour.Disconnect(overlay)
	}

	if err := s.store.Put(remote); err != nil {
		logger.Warn("failed to persist peer record", "overlay", overlay, "err", err)
	}

	if len(remote.Multiaddrs) > 0 {
		if ip, ok := addrIP(remote.Multiaddrs[0]); ok {
			s.ipTrack.Observe(ip, overlay)
		}
	}

	if err := s.table.Add(overlay); err != nil {
		logger.Debug("kademlia add skipped", "overlay", overlay, "err", err)
	}
	s.table.Connected(overlay)
	s.table.EvaluateConnections()

	s.scores.Handle(overlay)
	s.acct.Init(overlay)
}

func (s *Service) onPeerConnectionClosed(ev topology.Event) {
	overlay := ev.Overlay
	s.peers.TransitionTo(overlay, peer.Disconnected)
	s.table.Remove(overlay)
	s.scores.Drop(overlay)
	s.acct.Drop(overlay)
}

func (s *Service) onHivePeersReceived(ctx context.Context, ev topology.Event) {
	for _, p := range ev.Peers {
		select {
		case s.persistCh <- p:
		case <-ctx.Done():
			return
		default:
			logger.Warn("persistence queue full, dropping hive peer record", "overlay", p.Overlay)
		}

		if !p.Dialable() {
			continue
		}
		s.peers.Learn(p.Overlay)
		if err := s.table.Add(p.Overlay); err != nil {
			logger.Debug("kademlia add skipped for hive peer", "overlay", p.Overlay, "err", err)
		}
	}
	s.table.EvaluateConnections()
}

func (s *Service) persistLoop(ctx context.Context) error {
	for {
		select {
		case p := <-s.persistCh:
			if err := s.store.Put(p); err != nil {
				logger.Warn("failed to persist hive peer record", "overlay", p.Overlay, "err", err)
			}
		case <-ctx.Done():
			for {
				select {
				case p := <-s.persistCh:
					if err := s.store.Put(p); err != nil {
						logger.Warn("failed to persist hive peer record", "overlay", p.Overlay, "err", err)
					}
				default:
					return nil
				}
			}
		}
	}
}

// dialCandidates drains the routing table's dial candidates, intersects
// them with C5's dialable set, and initiates one outbound dial per
// candidate whose multiaddrs include one compatible with an IP family this
// node itself listens on.
func (s *Service) dialCandidates(ctx context.Context) {
	dialableOverlays := s.peers.Dialable()

	for _, overlay := range s.table.PeersToConnect() {
		if _, ok := dialableOverlays[overlay.String()]; !ok {
			continue
		}

		p, ok := s.store.Get(overlay)
		if !ok {
			continue
		}
		addr, ok := pickDialAddr(p.Multiaddrs, s.ownFamilies)
		if !ok {
			continue
		}

		if err := s.peers.StartConnecting(overlay); err != nil {
			continue
		}

		if _, err := s.behaviour.Dial(ctx, addr); err != nil {
			logger.Debug("outbound dial failed", "overlay", overlay, "addr", addr, "err", err)
			s.peers.TransitionTo(overlay, peer.Disconnected)
		}
	}
}

// pickDialAddr selects the first multiaddr that carries a /p2p component and
// whose IP family is one this node itself advertises a listener on,
// mirroring the filter spec.md §4.10 names. Addresses with no IP component
// at all (e.g. /dns4 names not yet resolved) are skipped, matching the
// teacher-adjacent example this is grounded on, which filters candidate
// addresses by ValueForProtocol(P_IP4)/ValueForProtocol(P_IP6) before
// dialing.
func pickDialAddr(addrs []ma.Multiaddr, ownFamilies map[string]struct{}) (ma.Multiaddr, bool) {
	for _, addr := range addrs {
		if _, err := addr.ValueForProtocol(ma.P_P2P); err != nil {
			continue
		}
		family, ok := addrIPFamily(addr)
		if !ok {
			continue
		}
		if _, allowed := ownFamilies[family]; allowed {
			return addr, true
		}
	}
	return nil, false
}

func addrIPFamily(addr ma.Multiaddr) (string, bool) {
	if _, err := addr.ValueForProtocol(ma.P_IP4); err == nil {
		return "ip4", true
	}
	if _, err := addr.ValueForProtocol(ma.P_IP6); err == nil {
		return "ip6", true
	}
	return "", false
}

// addrIP extracts the literal IP value (not just its family) carried by
// addr, for use as the iptracker's per-IP key.
func addrIP(addr ma.Multiaddr) (string, bool) {
	if v, err := addr.ValueForProtocol(ma.P_IP4); err == nil {
		return v, true
	}
	if v, err := addr.ValueForProtocol(ma.P_IP6); err == nil {
		return v, true
	}
	return "", false
}

func ipFamilies(addrs []ma.Multiaddr) map[string]struct{} {
	out := make(map[string]struct{})
	for _, addr := range addrs {
		if family, ok := addrIPFamily(addr); ok {
			out[family] = struct{}{}
		}
	}
	if len(out) == 0 {
		// No observed listener yet (e.g. a light node behind NAT with no
		// advertised address): fall back to allowing both families rather
		// than wedging every dial candidate.
		out["ip4"] = struct{}{}
		out["ip6"] = struct{}{}
	}
	return out
}

// peerRecord is the on-disk form of a swarm.Peer, persisted separately from
// C5's overlay<->PeerID snapshot since it carries the full signed record
// (multiaddrs, signature, nonce) C12 needs to redial a known overlay after a
// restart.
type peerRecord struct {
	Multiaddrs      []byte   `json:"multiaddrs"`
	Signature       [65]byte `json:"signature"`
	Overlay         []byte   `json:"overlay"`
	Nonce           [32]byte `json:"nonce"`
	EthereumAddress []byte   `json:"ethereum_address"`
}

// peerStore is the in-memory cache (plus optional durable backing) of every
// known Peer record, the "persistent peer store" spec.md §4.10/§5 assign to
// C12: an in-memory cache under RW lock, written through to the statestore
// on every Put.
type peerStore struct {
	mu        sync.RWMutex
	byOverlay map[string]*swarm.Peer
	backing   statestore.Store
}

func newPeerStore(backing statestore.Store) *peerStore {
	return &peerStore{
		byOverlay: make(map[string]*swarm.Peer),
		backing:   backing,
	}
}

func (s *peerStore) Put(p *swarm.Peer) error {
	key := p.Overlay.String()
	s.mu.Lock()
	s.byOverlay[key] = p
	s.mu.Unlock()

	if s.backing == nil {
		return nil
	}
	rec := peerRecord{
		Multiaddrs:      swarm.SerializeMultiaddrs(p.Multiaddrs),
		Signature:       p.Signature,
		Overlay:         p.Overlay.Bytes(),
		Nonce:           p.Nonce,
		EthereumAddress: p.EthereumAddress.Bytes(),
	}
	return s.backing.Put(peerRecordKeyPrefix+key, rec)
}

func (s *peerStore) Get(overlay swarm.Address) (*swarm.Peer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byOverlay[overlay.String()]
	return p, ok
}

// LoadSnapshot restores every previously persisted Peer record, called once
// before the event loop starts so dial candidates learned before a restart
// remain dialable afterward.
func (s *peerStore) LoadSnapshot() error {
	if s.backing == nil {
		return nil
	}
	return s.backing.Iterate(peerRecordKeyPrefix, func(key string, value []byte) (bool, error) {
		var rec peerRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return false, err
		}
		addrs, err := swarm.DeserializeMultiaddrs(rec.Multiaddrs)
		if err != nil {
			return false, err
		}
		overlay, err := swarm.NewAddress(rec.Overlay)
		if err != nil {
			return false, err
		}
		p := swarm.FromValidated(addrs, rec.Signature, overlay, rec.Nonce, common.BytesToAddress(rec.EthereumAddress))
		s.mu.Lock()
		s.byOverlay[overlay.String()] = p
		s.mu.Unlock()
		return false, nil
	})
}
