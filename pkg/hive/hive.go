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

// Package hive is the peer-gossip sub-protocol (spec.md §4.8): a
// per-connection batched exchange of signed peer records. It is grounded
// directly on the teacher's swarm/network/hive.go (peersMsg/subPeersMsg
// batching over a fixed broadcast set), generalized from that package's
// kademlia-internal message bodies to the BzzAddress record spec.md
// defines, and validated the way pkg/handshake validates an Ack: recover
// the signer, recompute the overlay, check the network ID.
package hive

import (
	"io"
	"sync"
	"time"

	"github.com/nxm-rs/vertex/pkg/crypto"
	"github.com/nxm-rs/vertex/pkg/protobuf"
	"github.com/nxm-rs/vertex/pkg/swarm"
	"github.com/nxm-rs/vertex/pkg/swarmerr"
	"github.com/nxm-rs/vertex/pkg/swarmlog"
)

var logger = swarmlog.New("hive")

// Service implements the Hive gossip sub-protocol over a stream-like
// io.ReadWriter, batching outbound peers and rate-limiting inbound batches
// per sender, per spec.md §5's back-pressure policy.
type Service struct {
	networkID    uint64
	batchSize    int
	maxFrameSize int
	rateLimit    time.Duration

	mu   sync.Mutex
	last map[string]time.Time // overlay string -> last accepted batch time
}

// New constructs a Hive Service. batchSize caps peers per wire message
// (spec.md §4.8's MAX_BATCH_SIZE, config.Default().HiveBatchSize == 30);
// rateLimit is the minimum spacing between accepted batches from one peer.
func New(networkID uint64, batchSize, maxFrameSize int, rateLimit time.Duration) *Service {
	return &Service{
		networkID:    networkID,
		batchSize:    batchSize,
		maxFrameSize: maxFrameSize,
		rateLimit:    rateLimit,
		last:         make(map[string]time.Time),
	}
}

// BroadcastPeers chunks peers into batches of at most s.batchSize and writes
// each as one length-delimited protobuf.Peers frame.
func (s *Service) BroadcastPeers(w io.Writer, peers []*swarm.Peer) error {
	for start := 0; start < len(peers); start += s.batchSize {
		end := start + s.batchSize
		if end > len(peers) {
			end = len(peers)
		}
		batch := &protobuf.Peers{Peers: make([]*protobuf.BzzAddress, 0, end-start)}
		for _, p := range peers[start:end] {
			batch.Peers = append(batch.Peers, &protobuf.BzzAddress{
				Underlay:  swarm.SerializeMultiaddrs(p.Multiaddrs),
				Signature: p.Signature[:],
				Overlay:   p.Overlay.Bytes(),
				Nonce:     p.Nonce[:],
			})
		}
		if err := protobuf.WriteMessage(w, batch, s.maxFrameSize); err != nil {
			return swarmerr.Wrap(swarmerr.Transport, err, "hive: writing batch of %d peers", len(batch.Peers))
		}
	}
	return nil
}

// allow reports whether a new batch from peer may be accepted under the
// per-peer-per-second rate limit, recording acceptance as a side effect.
func (s *Service) allow(peer swarm.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := peer.String()
	now := time.Now()
	if last, ok := s.last[key]; ok && now.Sub(last) < s.rateLimit {
		return false
	}
	s.last[key] = now
	return true
}

// ReceivePeers reads one protobuf.Peers frame from r and validates each
// entry: signature recovery, overlay recomputation, and a network-ID check.
// Invalid entries are logged and skipped rather than failing the whole
// batch, matching spec.md §4.8's per-peer (not per-batch) validation.
// Non-dialable entries (no multiaddrs) are returned alongside dialable ones;
// callers exclude them from Kademlia admission while still persisting them.
func (s *Service) ReceivePeers(r io.Reader, from swarm.Address) ([]*swarm.Peer, error) {
	if !s.allow(from) {
		return nil, swarmerr.New(swarmerr.ThresholdExceeded, "hive: batch rate exceeded for peer %s", from)
	}

	var msg protobuf.Peers
	if err := protobuf.ReadMessage(r, &msg, s.maxFrameSize); err != nil {
		return nil, swarmerr.Wrap(swarmerr.Transport, err, "hive: reading batch from peer %s", from)
	}

	out := make([]*swarm.Peer, 0, len(msg.Peers))
	for _, wire := range msg.Peers {
		peer, err := s.validate(wire)
		if err != nil {
			logger.Debug("hive: dropping invalid peer record", "from", from, "err", err)
			continue
		}
		out = append(out, peer)
	}
	return out, nil
}

func (s *Service) validate(wire *protobuf.BzzAddress) (*swarm.Peer, error) {
	if len(wire.Signature) != 65 {
		return nil, swarmerr.New(swarmerr.InvalidSignature, "hive: signature must be 65 bytes, got %d", len(wire.Signature))
	}
	if len(wire.Nonce) != swarm.AddressLength {
		return nil, swarmerr.New(swarmerr.InvalidMessage, "hive: nonce must be %d bytes, got %d", swarm.AddressLength, len(wire.Nonce))
	}

	overlay, err := swarm.NewAddress(wire.Overlay)
	if err != nil {
		return nil, swarmerr.Wrap(swarmerr.InvalidOverlay, err, "hive: decoding advertised overlay")
	}
	multiaddrs, err := swarm.DeserializeMultiaddrs(wire.Underlay)
	if err != nil {
		return nil, swarmerr.Wrap(swarmerr.InvalidMessage, err, "hive: decoding underlay")
	}

	var sig [65]byte
	copy(sig[:], wire.Signature)
	var nonce [32]byte
	copy(nonce[:], wire.Nonce)

	peer, err := swarm.FromSigned(multiaddrs, sig, overlay, nonce, s.networkID, true, crypto.RecoverEIP191, crypto.DeriveOverlay)
	if err != nil {
		return nil, swarmerr.Wrap(swarmerr.InvalidOverlay, err, "hive: validating peer record")
	}
	return peer, nil
}
